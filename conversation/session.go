package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/connector"
	"github.com/BaSui01/aichatter/internal/ctxkeys"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/BaSui01/aichatter/prompt"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// ErrEmptyTheme 表示未提供主题
var ErrEmptyTheme = errors.New("theme is empty")

// ErrConnector 在 on_connector_error=abort 时包装导致结束的错误
var ErrConnector = errors.New("connector failed")

// 每轮结果，用于指标标签
const (
	outcomeUtterance = "utterance"
	outcomeShort     = "short"
	outcomeError     = "error"
)

// Clock 提供当前时间，测试中替换为假时钟
type Clock interface {
	Now() time.Time
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// Options 是创建 Session 的依赖
type Options struct {
	Cast      *cast.Cast
	Connector connector.Connector
	Builder   *prompt.Builder
	Settings  config.SessionConfig

	// MaxTokens 透传给 connector，0 表示由服务端决定
	MaxTokens int

	// Sink 接收每条记录与最终 flush，可为空
	Sink      transcript.Sink
	Observers []Observer

	Logger  *zap.Logger
	Metrics *metrics.Collector
	Tracer  trace.Tracer
	// Meter 为空时使用全局 MeterProvider
	Meter metric.Meter
	Clock Clock

	// ID 为空时生成 UUID
	ID string
}

// Session 是一次会话
type Session struct {
	id        string
	cast      *cast.Cast
	conn      connector.Connector
	builder   *prompt.Builder
	settings  config.SessionConfig
	signals   []string
	maxTokens int
	sink      transcript.Sink
	observers observers
	logger    *zap.Logger
	metrics   *metrics.Collector
	otelm     *telemetry.Instruments
	tracer    trace.Tracer
	clock     Clock
}

// New 校验依赖并创建 Session
func New(opts Options) (*Session, error) {
	if opts.Cast == nil || len(opts.Cast.Characters) == 0 {
		return nil, errors.New("conversation: cast has no characters")
	}
	if opts.Connector == nil {
		return nil, errors.New("conversation: connector is nil")
	}
	if opts.Builder == nil {
		b, err := prompt.NewBuilder(nil, nil)
		if err != nil {
			return nil, err
		}
		opts.Builder = b
	}
	switch opts.Settings.Policy {
	case "", config.PolicyDirected, config.PolicyRoundRobin:
	default:
		return nil, fmt.Errorf("conversation: unknown speaker policy %q", opts.Settings.Policy)
	}
	if opts.Settings.MaxDuration <= 0 {
		opts.Settings.MaxDuration = config.DefaultSessionConfig().MaxDuration
	}
	if opts.Settings.MinReplyRunes <= 0 {
		opts.Settings.MinReplyRunes = config.DefaultSessionConfig().MinReplyRunes
	}
	if opts.Settings.OnConnectorError == "" {
		opts.Settings.OnConnectorError = config.OnErrorSkip
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Tracer == nil {
		opts.Tracer = otel.Tracer(telemetry.InstrumentationName)
	}
	if opts.Meter == nil {
		opts.Meter = otel.Meter(telemetry.InstrumentationName)
	}
	instruments, err := telemetry.NewInstruments(opts.Meter)
	if err != nil {
		return nil, fmt.Errorf("conversation: %w", err)
	}
	if opts.Clock == nil {
		opts.Clock = realClock{}
	}
	if opts.ID == "" {
		opts.ID = uuid.NewString()
	}

	signals := opts.Settings.ClosingSignals
	if len(signals) == 0 {
		signals = opts.Builder.Locale().ClosingSignals
	}

	return &Session{
		id:        opts.ID,
		cast:      opts.Cast,
		conn:      opts.Connector,
		builder:   opts.Builder,
		settings:  opts.Settings,
		signals:   signals,
		maxTokens: opts.MaxTokens,
		sink:      opts.Sink,
		observers: opts.Observers,
		logger:    opts.Logger.With(zap.String("component", "conversation"), zap.String("session_id", opts.ID)),
		metrics:   opts.Metrics,
		otelm:     instruments,
		tracer:    opts.Tracer,
		clock:     opts.Clock,
	}, nil
}

// ID 返回会话 ID
func (s *Session) ID() string { return s.id }

// seed 返回选择器种子
func (s *Session) seed(theme string) uint64 {
	if s.settings.Seed != 0 {
		return uint64(s.settings.Seed)
	}
	return DeriveSeed(theme, s.cast.Handles())
}

// Run 执行会话直到预算耗尽、自然收尾、连接失败中止或 ctx 取消。
// 无论如何结束，返回的记录都已 Finish 并 flush 到 Sink。
// 只有 on_connector_error=abort 导致的结束会返回错误。
func (s *Session) Run(ctx context.Context, theme string) (*transcript.Transcript, error) {
	theme = strings.TrimSpace(theme)
	if theme == "" {
		return nil, ErrEmptyTheme
	}

	selector, err := NewSelector(s.settings.Policy, s.cast, s.seed(theme))
	if err != nil {
		return nil, err
	}

	start := s.clock.Now()
	tr := transcript.New(s.id, theme, s.cast.Environment, start)

	ctx = ctxkeys.WithSessionID(ctx, s.id)
	ctx, span := s.tracer.Start(ctx, "conversation.session", trace.WithAttributes(
		attribute.String("aichatter.session_id", s.id),
		attribute.String("aichatter.policy", selector.Policy()),
		attribute.Int("aichatter.characters", len(s.cast.Characters)),
	))
	defer span.End()

	s.logger.Info("session started",
		zap.String("theme", theme),
		zap.String("policy", selector.Policy()),
		zap.Duration("max_duration", s.settings.MaxDuration),
		zap.Int("max_turns", s.settings.MaxTurns),
	)

	chair := s.cast.Chair()
	s.record(ctx, tr, transcript.KindOpening, chair, s.builder.Locale().Opening(theme))

	limiter := rate.NewLimiter(rate.Inf, 1)
	if s.settings.TurnInterval > 0 {
		limiter = rate.NewLimiter(rate.Every(s.settings.TurnInterval), 1)
	}

	var (
		reason transcript.EndReason
		runErr error
		turns  int
	)
	for reason == "" {
		if ctx.Err() != nil {
			reason = transcript.EndInterrupted
			break
		}
		if err := limiter.Wait(ctx); err != nil {
			reason = transcript.EndInterrupted
			break
		}
		if s.clock.Now().Sub(start) >= s.settings.MaxDuration {
			reason = transcript.EndTimeBudget
			break
		}
		if s.settings.MaxTurns > 0 && turns >= s.settings.MaxTurns {
			reason = transcript.EndMaxTurns
			break
		}

		turns++
		speaker := selector.Next()
		reason, runErr = s.turn(ctxkeys.WithTurn(ctx, turns), tr, selector, chair, speaker, theme)
	}

	end := s.clock.Now()
	tr.Finish(reason, end)
	s.flush(ctx, tr)
	s.metrics.RecordSession(string(reason), end.Sub(start))
	s.otelm.RecordSession(context.WithoutCancel(ctx), string(reason), end.Sub(start))

	span.SetAttributes(
		attribute.String("aichatter.end_reason", string(reason)),
		attribute.Int("aichatter.turns", len(tr.Turns())),
	)
	if runErr != nil {
		span.RecordError(runErr)
		span.SetStatus(codes.Error, string(reason))
	}
	s.logger.Info("session finished",
		zap.String("end_reason", string(reason)),
		zap.Int("attempts", turns),
		zap.Int("turns", len(tr.Turns())),
		zap.Duration("elapsed", end.Sub(start)),
	)
	return tr, runErr
}

// turn 执行一轮；返回非空 reason 表示会话应结束
func (s *Session) turn(ctx context.Context, tr *transcript.Transcript, sel Selector, chair, speaker *cast.Character, theme string) (transcript.EndReason, error) {
	ctx, span := s.tracer.Start(ctx, "conversation.turn", trace.WithAttributes(
		attribute.String("aichatter.speaker", speaker.Handle),
	))
	defer span.End()

	system, err := s.builder.System(speaker, s.cast, theme)
	if err != nil {
		// 模板在启动时已解析，渲染失败属于程序错误
		span.RecordError(err)
		return transcript.EndConnectorError, err
	}

	s.observers.started(speaker.Name, speaker.Handle)
	began := s.clock.Now()
	reply, err := s.conn.Generate(ctx, connector.Request{
		Speaker:     speaker.Handle,
		Provider:    speaker.Provider,
		Host:        speaker.Host,
		Model:       speaker.Model,
		Temperature: speaker.Temperature,
		MaxTokens:   s.maxTokens,
		System:      system,
		User:        s.builder.User(tr.Entries()),
		OnDelta: func(delta string) {
			s.observers.delta(speaker.Handle, delta)
		},
	})
	s.observers.finished(speaker.Handle, err)

	if err != nil {
		if ctx.Err() != nil {
			return transcript.EndInterrupted, nil
		}
		span.RecordError(err)
		span.SetStatus(codes.Error, "generate failed")
		s.metrics.RecordTurn(speaker.Handle, outcomeError)
		s.otelm.RecordTurn(ctx, speaker.Handle, outcomeError, s.clock.Now().Sub(began))
		s.logger.Warn("turn failed", zap.String("speaker", speaker.Handle), zap.Error(err))

		s.record(ctx, tr, transcript.KindNotice, chair, s.builder.Locale().Notice(speaker.Name))
		sel.Spoke(chair.Handle)
		if s.settings.OnConnectorError == config.OnErrorAbort {
			return transcript.EndConnectorError, fmt.Errorf("%w: %w", ErrConnector, err)
		}
		return "", nil
	}

	if utf8.RuneCountInString(reply) < s.settings.MinReplyRunes {
		s.metrics.RecordTurn(speaker.Handle, outcomeShort)
		s.otelm.RecordTurn(ctx, speaker.Handle, outcomeShort, s.clock.Now().Sub(began))
		span.SetAttributes(attribute.String("aichatter.outcome", outcomeShort))
		if d, ok := sel.(*DirectedSelector); ok {
			if target := d.NudgeTarget(); target != nil {
				s.record(ctx, tr, transcript.KindNudge, chair, s.builder.Locale().Nudge(target.Handle))
				sel.Spoke(chair.Handle)
				sel.Force(target.Handle)
			}
		}
		s.logger.Debug("reply too short", zap.String("speaker", speaker.Handle), zap.String("reply", reply))
		return "", nil
	}

	s.record(ctx, tr, transcript.KindUtterance, speaker, reply)
	sel.Spoke(speaker.Handle)
	s.metrics.RecordTurn(speaker.Handle, outcomeUtterance)
	s.otelm.RecordTurn(ctx, speaker.Handle, outcomeUtterance, s.clock.Now().Sub(began))
	span.SetAttributes(attribute.String("aichatter.outcome", outcomeUtterance))

	if sel.Policy() == config.PolicyDirected {
		if next := FirstMention(reply, s.cast, speaker.Handle); next != "" {
			sel.Force(next)
		}
	}

	if ShouldClose(tr.Entries(), s.signals) {
		return transcript.EndClosing, nil
	}
	return "", nil
}

// record 追加条目并推送给 Sink。Sink 失败只记录日志。
func (s *Session) record(ctx context.Context, tr *transcript.Transcript, kind transcript.Kind, who *cast.Character, text string) {
	e := tr.Append(kind, who.Name, who.Handle, text, s.clock.Now())
	if s.sink == nil {
		return
	}
	if err := s.sink.Record(context.WithoutCancel(ctx), tr, e); err != nil {
		s.sinkFailed(err)
		s.logger.Warn("sink record failed", zap.String("sink", s.sink.Name()), zap.Int("seq", e.Seq), zap.Error(err))
	}
}

// flush 在 ctx 取消后仍然执行，中断的会话也要落盘
func (s *Session) flush(ctx context.Context, tr *transcript.Transcript) {
	if s.sink == nil {
		return
	}
	if err := s.sink.Flush(context.WithoutCancel(ctx), tr); err != nil {
		s.sinkFailed(err)
		s.logger.Error("sink flush failed", zap.String("sink", s.sink.Name()), zap.Error(err))
	}
}

func (s *Session) sinkFailed(err error) {
	for _, name := range transcript.FailedSinks(err, s.sink.Name()) {
		s.metrics.RecordSinkError(name)
	}
}
