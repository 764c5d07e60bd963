package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Session:   DefaultSessionConfig(),
		LLM:       DefaultLLMConfig(),
		Output:    DefaultOutputConfig(),
		Log:       DefaultLogConfig(),
		Metrics:   DefaultMetricsConfig(),
		Telemetry: DefaultTelemetryConfig(),
		Feed:      DefaultFeedConfig(),
		Archive:   DefaultArchiveConfig(),
	}
}

// DefaultSessionConfig 返回默认会话配置
func DefaultSessionConfig() SessionConfig {
	return SessionConfig{
		Policy:           PolicyDirected,
		MaxDuration:      180 * time.Second,
		MaxTurns:         0,
		TurnInterval:     0,
		Seed:             0,
		MinReplyRunes:    2,
		OnConnectorError: OnErrorSkip,
		MaxHistoryTokens: 0,
		Locale:           "ja",
	}
}

// DefaultLLMConfig 返回默认 LLM 配置
func DefaultLLMConfig() LLMConfig {
	return LLMConfig{
		Timeout:     2 * time.Minute,
		DialTimeout: 10 * time.Second,
		MaxRetries:  2,
		RetryDelay:  500 * time.Millisecond,
		Stream:      true,
		Tokenizer:   "estimator",

		BreakerThreshold: 3,
		BreakerCooldown:  30 * time.Second,
	}
}

// DefaultOutputConfig 返回默认输出配置
func DefaultOutputConfig() OutputConfig {
	return OutputConfig{Dir: "outputs"}
}

// DefaultLogConfig 返回默认日志配置。
// 会话内容输出到 stdout，日志默认写 stderr，避免两者交错。
func DefaultLogConfig() LogConfig {
	return LogConfig{
		Level:       "warn",
		Format:      "console",
		OutputPaths: []string{"stderr"},
	}
}

// DefaultMetricsConfig 返回默认指标配置
func DefaultMetricsConfig() MetricsConfig {
	return MetricsConfig{Namespace: "aichatter"}
}

// DefaultTelemetryConfig 返回默认遥测配置
func DefaultTelemetryConfig() TelemetryConfig {
	return TelemetryConfig{
		Enabled:      false,
		OTLPEndpoint: "localhost:4317",
		ServiceName:  "aichatter",
		SampleRate:   1.0,
		Insecure:     true,
	}
}

// DefaultFeedConfig 返回默认推送配置
func DefaultFeedConfig() FeedConfig {
	return FeedConfig{
		Enabled:      false,
		Addr:         "localhost:6379",
		StreamPrefix: "aichatter",
		MaxLen:       1000,
		WriteTimeout: 2 * time.Second,
	}
}

// DefaultArchiveConfig 返回默认归档配置
func DefaultArchiveConfig() ArchiveConfig {
	return ArchiveConfig{
		Enabled:         false,
		Driver:          "sqlite",
		Name:            "outputs/aichatter.db",
		SSLMode:         "disable",
		MaxOpenConns:    4,
		MaxIdleConns:    2,
		ConnMaxLifetime: 5 * time.Minute,
	}
}
