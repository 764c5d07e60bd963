package telemetry

import (
	"context"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// OTel 指标名
const (
	MetricTurnDuration    = "aichatter.turn.duration"
	MetricTurns           = "aichatter.turns"
	MetricSessions        = "aichatter.sessions"
	MetricSessionDuration = "aichatter.session.duration"
)

// Instruments 是会话通过 OTLP 导出的指标。
// nil *Instruments 的所有方法都是空操作。
type Instruments struct {
	turnDuration    metric.Float64Histogram
	turns           metric.Int64Counter
	sessions        metric.Int64Counter
	sessionDuration metric.Float64Histogram
}

// NewInstruments 在 meter 上创建会话指标
func NewInstruments(meter metric.Meter) (*Instruments, error) {
	turnDuration, err := meter.Float64Histogram(MetricTurnDuration,
		metric.WithDescription("Wall time of one turn including the LLM call"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricTurnDuration, err)
	}
	turns, err := meter.Int64Counter(MetricTurns,
		metric.WithDescription("Turns by outcome"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricTurns, err)
	}
	sessions, err := meter.Int64Counter(MetricSessions,
		metric.WithDescription("Finished sessions by end reason"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricSessions, err)
	}
	sessionDuration, err := meter.Float64Histogram(MetricSessionDuration,
		metric.WithDescription("Wall time of a whole session"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, fmt.Errorf("create %s: %w", MetricSessionDuration, err)
	}
	return &Instruments{
		turnDuration:    turnDuration,
		turns:           turns,
		sessions:        sessions,
		sessionDuration: sessionDuration,
	}, nil
}

// RecordTurn 记录一轮的结果与耗时
func (i *Instruments) RecordTurn(ctx context.Context, speaker, outcome string, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(
		attribute.String("speaker", speaker),
		attribute.String("outcome", outcome),
	)
	i.turns.Add(ctx, 1, attrs)
	i.turnDuration.Record(ctx, d.Seconds(), attrs)
}

// RecordSession 记录会话结束
func (i *Instruments) RecordSession(ctx context.Context, endReason string, d time.Duration) {
	if i == nil {
		return
	}
	attrs := metric.WithAttributes(attribute.String("end_reason", endReason))
	i.sessions.Add(ctx, 1, attrs)
	i.sessionDuration.Record(ctx, d.Seconds(), attrs)
}
