package connector

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/internal/ctxkeys"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/BaSui01/aichatter/llm"
	"github.com/BaSui01/aichatter/llm/circuitbreaker"
	"github.com/BaSui01/aichatter/llm/factory"
	"github.com/BaSui01/aichatter/llm/providers"
	"github.com/BaSui01/aichatter/llm/retry"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

// Request 描述一次发言请求
type Request struct {
	// Speaker 是发言角色的 handle，只用于日志与追踪
	Speaker string

	Provider    string
	Host        string
	Model       string
	Temperature float64
	MaxTokens   int

	System string
	User   string

	// OnDelta 在流式模式下接收每段增量文本，可为空
	OnDelta func(delta string)
}

// Connector 是会话依赖的最小生成接口
type Connector interface {
	// Generate 返回去掉首尾空白的回复文本
	Generate(ctx context.Context, req Request) (string, error)
}

// Func 让普通函数满足 Connector
type Func func(ctx context.Context, req Request) (string, error)

// Generate 实现 Connector
func (f Func) Generate(ctx context.Context, req Request) (string, error) { return f(ctx, req) }

// ProviderFactory 按名称创建 Provider，默认为 factory.NewProviderFromConfig
type ProviderFactory func(name string, cfg factory.ProviderConfig, logger *zap.Logger) (llm.Provider, error)

// Config 是 LLMConnector 的调用参数
type Config struct {
	// Timeout 限制单轮调用（含重试），0 表示不限制
	Timeout     time.Duration
	DialTimeout time.Duration
	Stream      bool
	KeepAlive   string
	APIKey      string
	MaxTokens   int
	Retry       *retry.RetryPolicy
	// Breaker 按端点熔断，Threshold 为 0 时不熔断
	Breaker circuitbreaker.Config
}

// ConfigFromSettings 从设置文件的 llm 段构建 Config
func ConfigFromSettings(s config.LLMConfig) Config {
	policy := retry.DefaultRetryPolicy()
	policy.MaxRetries = s.MaxRetries
	if s.RetryDelay > 0 {
		policy.InitialDelay = s.RetryDelay
	}
	return Config{
		Timeout:     s.Timeout,
		DialTimeout: s.DialTimeout,
		Stream:      s.Stream,
		KeepAlive:   s.KeepAlive,
		APIKey:      s.APIKey,
		MaxTokens:   s.MaxTokens,
		Retry:       policy,
		Breaker: circuitbreaker.Config{
			Threshold: s.BreakerThreshold,
			Cooldown:  s.BreakerCooldown,
		},
	}
}

// Option 配置 LLMConnector
type Option func(*LLMConnector)

// WithLogger 设置日志
func WithLogger(logger *zap.Logger) Option {
	return func(c *LLMConnector) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics 设置指标收集器
func WithMetrics(m *metrics.Collector) Option {
	return func(c *LLMConnector) { c.metrics = m }
}

// WithTracer 设置 tracer
func WithTracer(t trace.Tracer) Option {
	return func(c *LLMConnector) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithProviderFactory 替换 Provider 构造函数，测试中使用
func WithProviderFactory(f ProviderFactory) Option {
	return func(c *LLMConnector) {
		if f != nil {
			c.newProvider = f
		}
	}
}

type providerKey struct {
	kind string
	host string
}

// LLMConnector 基于 llm.Provider 实现 Connector。
// Provider 按 (kind, host) 缓存，同一端点的多个角色共享连接池。
type LLMConnector struct {
	cfg         Config
	logger      *zap.Logger
	metrics     *metrics.Collector
	tracer      trace.Tracer
	newProvider ProviderFactory

	mu        sync.Mutex
	providers map[providerKey]llm.Provider
	breakers  map[providerKey]*circuitbreaker.Breaker
}

var _ Connector = (*LLMConnector)(nil)

// New 创建 LLMConnector
func New(cfg Config, opts ...Option) *LLMConnector {
	if cfg.Retry == nil {
		cfg.Retry = retry.DefaultRetryPolicy()
	}
	c := &LLMConnector{
		cfg:         cfg,
		logger:      zap.NewNop(),
		tracer:      otel.Tracer(telemetry.InstrumentationName),
		newProvider: factory.NewProviderFromConfig,
		providers:   make(map[providerKey]llm.Provider),
		breakers:    make(map[providerKey]*circuitbreaker.Breaker),
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = c.logger.With(zap.String("component", "connector"))
	return c
}

func normalizeKind(kind string) string {
	kind = strings.ToLower(strings.TrimSpace(kind))
	if kind == "" {
		return factory.KindOllama
	}
	return kind
}

// provider 返回 (kind, host) 对应的 Provider，首次使用时创建
func (c *LLMConnector) provider(kind, host string) (llm.Provider, error) {
	p, _, err := c.endpoint(kind, host)
	return p, err
}

// endpoint 返回 Provider 及该端点的熔断器
func (c *LLMConnector) endpoint(kind, host string) (llm.Provider, *circuitbreaker.Breaker, error) {
	key := providerKey{kind: normalizeKind(kind), host: providers.NormalizeBaseURL(host)}

	c.mu.Lock()
	defer c.mu.Unlock()

	if p, ok := c.providers[key]; ok {
		return p, c.breakers[key], nil
	}
	p, err := c.newProvider(key.kind, factory.ProviderConfig{
		BaseURL:     key.host,
		APIKey:      c.cfg.APIKey,
		DialTimeout: c.cfg.DialTimeout,
		KeepAlive:   c.cfg.KeepAlive,
	}, c.logger)
	if err != nil {
		return nil, nil, err
	}
	c.providers[key] = p
	c.breakers[key] = circuitbreaker.New(key.kind+" "+key.host, c.cfg.Breaker, c.logger)
	return p, c.breakers[key], nil
}

// BreakerState 返回端点熔断状态，端点未使用过时为 closed
func (c *LLMConnector) BreakerState(kind, host string) circuitbreaker.State {
	key := providerKey{kind: normalizeKind(kind), host: providers.NormalizeBaseURL(host)}
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.breakers[key].State()
}

type reply struct {
	text  string
	usage llm.ChatUsage
}

// Generate 实现 Connector
func (c *LLMConnector) Generate(ctx context.Context, req Request) (string, error) {
	p, breaker, err := c.endpoint(req.Provider, req.Host)
	if err != nil {
		return "", err
	}
	if err := breaker.Allow(); err != nil {
		c.metrics.RecordLLMRequest(p.Name(), req.Model, "circuit_open", 0, 0, 0)
		return "", fmt.Errorf("generate for @%s: %w", req.Speaker, &llm.Error{
			Code:     llm.ErrProviderUnavailable,
			Message:  fmt.Sprintf("%v for %s, skipping until cooldown ends", err, providers.NormalizeBaseURL(req.Host)),
			Provider: p.Name(),
		})
	}
	parent := ctx

	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}

	attrs := []attribute.KeyValue{
		attribute.String("aichatter.speaker", req.Speaker),
		attribute.String("llm.provider", p.Name()),
		attribute.String("llm.model", req.Model),
		attribute.Float64("llm.temperature", req.Temperature),
		attribute.Bool("llm.stream", c.cfg.Stream),
	}
	logger := c.logger
	if id, ok := ctxkeys.SessionID(ctx); ok {
		attrs = append(attrs, attribute.String("aichatter.session_id", id))
		logger = logger.With(zap.String("session_id", id))
	}
	if n, ok := ctxkeys.Turn(ctx); ok {
		attrs = append(attrs, attribute.Int("aichatter.turn", n))
		logger = logger.With(zap.Int("turn", n))
	}

	ctx, span := c.tracer.Start(ctx, "connector.generate",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = c.cfg.MaxTokens
	}
	chatReq := &llm.ChatRequest{
		Model: req.Model,
		Messages: []llm.Message{
			{Role: llm.RoleSystem, Content: req.System},
			{Role: llm.RoleUser, Content: req.User},
		},
		MaxTokens:   maxTokens,
		Temperature: float32(req.Temperature),
		Metadata:    map[string]string{"speaker": req.Speaker},
	}
	if sc := span.SpanContext(); sc.HasTraceID() {
		chatReq.TraceID = sc.TraceID().String()
	}

	policy := *c.cfg.Retry
	policy.OnRetry = func(attempt int, err error, delay time.Duration) {
		c.metrics.RecordLLMRetry(p.Name(), req.Model)
		span.AddEvent("retry", trace.WithAttributes(
			attribute.Int("attempt", attempt),
			attribute.String("error", err.Error()),
		))
	}
	retryer := retry.NewBackoffRetryer(&policy, logger)

	start := time.Now()
	out, err := retry.DoWithResult(ctx, retryer, func(attempt int) (reply, error) {
		if c.cfg.Stream {
			return c.stream(ctx, p, chatReq, req.OnDelta)
		}
		return c.complete(ctx, p, chatReq)
	})
	elapsed := time.Since(start)
	// 调用方取消不算端点故障
	breaker.Record(err != nil && parent.Err() == nil && countsAgainstEndpoint(err))

	if err != nil {
		status := statusOf(err)
		c.metrics.RecordLLMRequest(p.Name(), req.Model, status, elapsed, 0, 0)
		span.RecordError(err)
		span.SetStatus(codes.Error, status)
		logger.Warn("generation failed",
			zap.String("speaker", req.Speaker),
			zap.String("provider", p.Name()),
			zap.String("model", req.Model),
			zap.Duration("elapsed", elapsed),
			zap.Error(err),
		)
		return "", fmt.Errorf("generate for @%s: %w", req.Speaker, err)
	}

	c.metrics.RecordLLMRequest(p.Name(), req.Model, "ok", elapsed, out.usage.PromptTokens, out.usage.CompletionTokens)
	span.SetAttributes(
		attribute.Int("llm.usage.prompt_tokens", out.usage.PromptTokens),
		attribute.Int("llm.usage.completion_tokens", out.usage.CompletionTokens),
	)
	logger.Debug("generation finished",
		zap.String("speaker", req.Speaker),
		zap.String("model", req.Model),
		zap.Duration("elapsed", elapsed),
		zap.Int("chars", len(out.text)),
	)
	return strings.TrimSpace(out.text), nil
}

func (c *LLMConnector) complete(ctx context.Context, p llm.Provider, req *llm.ChatRequest) (reply, error) {
	resp, err := p.Completion(ctx, req)
	if err != nil {
		return reply{}, err
	}
	text, err := resp.FirstContent()
	if err != nil {
		return reply{}, err
	}
	return reply{text: text, usage: resp.Usage}, nil
}

// stream 收集流式增量。已输出文本后的错误标记为不可重试。
func (c *LLMConnector) stream(ctx context.Context, p llm.Provider, req *llm.ChatRequest, onDelta func(string)) (reply, error) {
	ch, err := p.Stream(ctx, req)
	if err != nil {
		return reply{}, err
	}

	var (
		b       strings.Builder
		out     reply
		emitted bool
	)
	fail := func(err error) (reply, error) {
		if emitted {
			return reply{}, retry.Permanent(err)
		}
		return reply{}, err
	}

	for chunk := range ch {
		if chunk.Err != nil {
			return fail(chunk.Err)
		}
		if chunk.Usage != nil {
			out.usage = *chunk.Usage
		}
		delta := chunk.Delta.Content
		if delta == "" {
			continue
		}
		b.WriteString(delta)
		emitted = true
		if onDelta != nil {
			onDelta(delta)
		}
	}

	// provider 在 ctx 取消后直接关闭通道
	if err := ctx.Err(); err != nil {
		return fail(providers.MapTransportError(err, p.Name()))
	}
	out.text = b.String()
	return out, nil
}

// countsAgainstEndpoint 判断失败是否说明端点不可用；请求本身的问题不计入熔断
func countsAgainstEndpoint(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	switch llm.CodeOf(err) {
	case llm.ErrUpstreamTimeout, llm.ErrUpstreamError, llm.ErrProviderUnavailable, llm.ErrModelOverloaded:
		return true
	case "":
		return true
	default:
		return false
	}
}

// statusOf 返回指标中使用的状态标签
func statusOf(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return string(llm.ErrUpstreamTimeout)
	}
	if code := llm.CodeOf(err); code != "" {
		return string(code)
	}
	return "error"
}
