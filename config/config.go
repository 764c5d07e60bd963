package config

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// =============================================================================
// 🎯 核心配置结构
// =============================================================================

// Config 是 aichatter 的完整运行设置
type Config struct {
	// Session 会话策略
	Session SessionConfig `yaml:"session" env:"SESSION"`

	// LLM 调用参数
	LLM LLMConfig `yaml:"llm" env:"LLM"`

	// Output 记录输出
	Output OutputConfig `yaml:"output" env:"OUTPUT"`

	// Log 日志配置
	Log LogConfig `yaml:"log" env:"LOG"`

	// Metrics Prometheus 指标
	Metrics MetricsConfig `yaml:"metrics" env:"METRICS"`

	// Telemetry 遥测配置
	Telemetry TelemetryConfig `yaml:"telemetry" env:"TELEMETRY"`

	// Feed Redis 实时推送
	Feed FeedConfig `yaml:"feed" env:"FEED"`

	// Archive 会话归档数据库
	Archive ArchiveConfig `yaml:"archive" env:"ARCHIVE"`
}

// 发言人选择策略
const (
	PolicyDirected   = "directed"
	PolicyRoundRobin = "round_robin"
)

// 连接失败处理策略
const (
	OnErrorSkip  = "skip"
	OnErrorAbort = "abort"
)

// SessionConfig 会话策略配置
type SessionConfig struct {
	// 发言人选择: directed, round_robin
	Policy string `yaml:"policy" env:"POLICY"`
	// 时间预算，正在进行的一轮不会被打断
	MaxDuration time.Duration `yaml:"max_duration" env:"MAX_DURATION"`
	// 最大发言轮数，0 表示不限
	MaxTurns int `yaml:"max_turns" env:"MAX_TURNS"`
	// 两轮之间的最小间隔
	TurnInterval time.Duration `yaml:"turn_interval" env:"TURN_INTERVAL"`
	// 随机种子，0 表示由主题与角色派生
	Seed int64 `yaml:"seed" env:"SEED"`
	// 少于该字符数的回复视为沉默，0 取默认值 2
	MinReplyRunes int `yaml:"min_reply_runes" env:"MIN_REPLY_RUNES"`
	// 连接失败: skip, abort
	OnConnectorError string `yaml:"on_connector_error" env:"ON_CONNECTOR_ERROR"`
	// 结束信号，为空时使用语言默认值
	ClosingSignals []string `yaml:"closing_signals" env:"CLOSING_SIGNALS"`
	// 会话记录的 token 预算，0 表示发送完整记录
	MaxHistoryTokens int `yaml:"max_history_tokens" env:"MAX_HISTORY_TOKENS"`
	// 提示语言: ja, en
	Locale string `yaml:"locale" env:"LOCALE"`
}

// LLMConfig LLM 调用配置
type LLMConfig struct {
	// 单轮请求超时（含重试）
	Timeout time.Duration `yaml:"timeout" env:"TIMEOUT"`
	// 建立连接超时
	DialTimeout time.Duration `yaml:"dial_timeout" env:"DIAL_TIMEOUT"`
	// 最大重试次数
	MaxRetries int `yaml:"max_retries" env:"MAX_RETRIES"`
	// 首次重试等待
	RetryDelay time.Duration `yaml:"retry_delay" env:"RETRY_DELAY"`
	// 是否流式请求
	Stream bool `yaml:"stream" env:"STREAM"`
	// Ollama keep_alive
	KeepAlive string `yaml:"keep_alive" env:"KEEP_ALIVE"`
	// OpenAI 兼容服务的 API Key（可选）
	APIKey string `yaml:"api_key" env:"API_KEY"`
	// 分词器: estimator, tiktoken
	Tokenizer string `yaml:"tokenizer" env:"TOKENIZER"`
	// 回复最大 token 数，0 表示由服务端决定
	MaxTokens int `yaml:"max_tokens" env:"MAX_TOKENS"`
	// 同一端点连续失败多少轮后熔断，0 表示不熔断
	BreakerThreshold int `yaml:"breaker_threshold" env:"BREAKER_THRESHOLD"`
	// 熔断冷却时间
	BreakerCooldown time.Duration `yaml:"breaker_cooldown" env:"BREAKER_COOLDOWN"`
}

// OutputConfig 输出配置
type OutputConfig struct {
	// 输出目录
	Dir string `yaml:"dir" env:"DIR"`
	// 是否同时写 JSON
	JSON bool `yaml:"json" env:"JSON"`
}

// LogConfig 日志配置
type LogConfig struct {
	// 日志级别: debug, info, warn, error
	Level string `yaml:"level" env:"LEVEL"`
	// 输出格式: json, console
	Format string `yaml:"format" env:"FORMAT"`
	// 输出路径
	OutputPaths []string `yaml:"output_paths" env:"OUTPUT_PATHS"`
	// 是否启用调用者信息
	EnableCaller bool `yaml:"enable_caller" env:"ENABLE_CALLER"`
	// 是否启用堆栈跟踪
	EnableStacktrace bool `yaml:"enable_stacktrace" env:"ENABLE_STACKTRACE"`
}

// MetricsConfig 指标配置
type MetricsConfig struct {
	// 监听地址，如 ":9091"；为空则不暴露
	Addr string `yaml:"addr" env:"ADDR"`
	// 指标命名空间
	Namespace string `yaml:"namespace" env:"NAMESPACE"`
}

// TelemetryConfig 遥测配置
type TelemetryConfig struct {
	// 是否启用
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// OTLP gRPC 端点
	OTLPEndpoint string `yaml:"otlp_endpoint" env:"OTLP_ENDPOINT"`
	// 服务名称
	ServiceName string `yaml:"service_name" env:"SERVICE_NAME"`
	// 采样率
	SampleRate float64 `yaml:"sample_rate" env:"SAMPLE_RATE"`
	// 是否使用明文连接
	Insecure bool `yaml:"insecure" env:"INSECURE"`
}

// FeedConfig Redis Stream 推送配置
type FeedConfig struct {
	Enabled  bool   `yaml:"enabled" env:"ENABLED"`
	Addr     string `yaml:"addr" env:"ADDR"`
	Password string `yaml:"password" env:"PASSWORD"`
	DB       int    `yaml:"db" env:"DB"`
	// Stream key 前缀，完整 key 为 <prefix>:<session id>
	StreamPrefix string `yaml:"stream_prefix" env:"STREAM_PREFIX"`
	// Stream 近似最大长度
	MaxLen int64 `yaml:"max_len" env:"MAX_LEN"`
	// 单次写入超时
	WriteTimeout time.Duration `yaml:"write_timeout" env:"WRITE_TIMEOUT"`
}

// ArchiveConfig 归档数据库配置
type ArchiveConfig struct {
	Enabled bool `yaml:"enabled" env:"ENABLED"`
	// 驱动类型: sqlite, postgres, mysql
	Driver string `yaml:"driver" env:"DRIVER"`
	// 主机
	Host string `yaml:"host" env:"HOST"`
	// 端口
	Port int `yaml:"port" env:"PORT"`
	// 用户名
	User string `yaml:"user" env:"USER"`
	// 密码
	Password string `yaml:"password" env:"PASSWORD"`
	// 数据库名；sqlite 时为文件路径
	Name string `yaml:"name" env:"NAME"`
	// SSL 模式
	SSLMode string `yaml:"ssl_mode" env:"SSL_MODE"`
	// 最大连接数
	MaxOpenConns int `yaml:"max_open_conns" env:"MAX_OPEN_CONNS"`
	// 最大空闲连接
	MaxIdleConns int `yaml:"max_idle_conns" env:"MAX_IDLE_CONNS"`
	// 连接最大生命周期
	ConnMaxLifetime time.Duration `yaml:"conn_max_lifetime" env:"CONN_MAX_LIFETIME"`
}

// DSN 返回数据库连接字符串
func (d *ArchiveConfig) DSN() string {
	switch d.Driver {
	case "postgres":
		return fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			d.Host, d.Port, d.User, d.Password, d.Name, d.SSLMode,
		)
	case "mysql":
		return fmt.Sprintf(
			"%s:%s@tcp(%s:%d)/%s?parseTime=true&charset=utf8mb4",
			d.User, d.Password, d.Host, d.Port, d.Name,
		)
	case "sqlite":
		return d.Name
	default:
		return ""
	}
}

// =============================================================================
// ✅ 校验
// =============================================================================

// ErrInvalidSettings 是所有设置校验错误的哨兵
var ErrInvalidSettings = errors.New("invalid settings")

// Validate 校验配置，一次报告全部问题
func (c *Config) Validate() error {
	var errs []string

	switch c.Session.Policy {
	case PolicyDirected, PolicyRoundRobin:
	default:
		errs = append(errs, fmt.Sprintf("session.policy %q must be %s or %s", c.Session.Policy, PolicyDirected, PolicyRoundRobin))
	}
	if c.Session.MaxDuration <= 0 {
		errs = append(errs, "session.max_duration must be positive")
	}
	if c.Session.MaxTurns < 0 {
		errs = append(errs, "session.max_turns must not be negative")
	}
	if c.Session.TurnInterval < 0 {
		errs = append(errs, "session.turn_interval must not be negative")
	}
	if c.Session.MinReplyRunes < 0 {
		errs = append(errs, "session.min_reply_runes must not be negative")
	}
	switch c.Session.OnConnectorError {
	case OnErrorSkip, OnErrorAbort:
	default:
		errs = append(errs, fmt.Sprintf("session.on_connector_error %q must be %s or %s", c.Session.OnConnectorError, OnErrorSkip, OnErrorAbort))
	}
	if c.Session.MaxHistoryTokens < 0 {
		errs = append(errs, "session.max_history_tokens must not be negative")
	}

	if c.LLM.Timeout <= 0 {
		errs = append(errs, "llm.timeout must be positive")
	}
	if c.LLM.BreakerThreshold < 0 {
		errs = append(errs, "llm.breaker_threshold must not be negative")
	}
	if c.LLM.MaxRetries < 0 {
		errs = append(errs, "llm.max_retries must not be negative")
	}
	switch c.LLM.Tokenizer {
	case "", "estimator", "tiktoken":
	default:
		errs = append(errs, fmt.Sprintf("llm.tokenizer %q must be estimator or tiktoken", c.LLM.Tokenizer))
	}

	if strings.TrimSpace(c.Output.Dir) == "" {
		errs = append(errs, "output.dir is empty")
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Sprintf("log.level %q is invalid", c.Log.Level))
	}
	switch c.Log.Format {
	case "json", "console":
	default:
		errs = append(errs, fmt.Sprintf("log.format %q must be json or console", c.Log.Format))
	}

	if c.Telemetry.Enabled {
		if c.Telemetry.OTLPEndpoint == "" {
			errs = append(errs, "telemetry.otlp_endpoint is required when telemetry is enabled")
		}
		if c.Telemetry.SampleRate < 0 || c.Telemetry.SampleRate > 1 {
			errs = append(errs, "telemetry.sample_rate must be between 0 and 1")
		}
	}

	if c.Feed.Enabled && c.Feed.Addr == "" {
		errs = append(errs, "feed.addr is required when feed is enabled")
	}

	if c.Archive.Enabled {
		switch c.Archive.Driver {
		case "sqlite", "postgres", "mysql":
		default:
			errs = append(errs, fmt.Sprintf("archive.driver %q must be sqlite, postgres or mysql", c.Archive.Driver))
		}
		if c.Archive.Name == "" {
			errs = append(errs, "archive.name is required when archive is enabled")
		}
	}

	if len(errs) > 0 {
		return fmt.Errorf("%w: %s", ErrInvalidSettings, strings.Join(errs, "; "))
	}
	return nil
}
