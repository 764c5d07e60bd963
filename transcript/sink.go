package transcript

import (
	"context"
	"errors"
)

// Sink 消费记录。Record 在每条记录追加后调用，Flush 在会话结束时调用一次。
type Sink interface {
	Name() string
	Record(ctx context.Context, t *Transcript, e Entry) error
	Flush(ctx context.Context, t *Transcript) error
}

// SinkError 标明失败的 Sink
type SinkError struct {
	Sink string
	Err  error
}

func (e *SinkError) Error() string { return e.Sink + ": " + e.Err.Error() }
func (e *SinkError) Unwrap() error { return e.Err }

// FailedSinks 返回 err 中所有 SinkError 的名称；
// 不含 SinkError 的非空错误归到 fallback 名下。
func FailedSinks(err error, fallback string) []string {
	if err == nil {
		return nil
	}
	var names []string
	var walk func(error)
	walk = func(e error) {
		var se *SinkError
		if errors.As(e, &se) {
			names = append(names, se.Sink)
			return
		}
		if joined, ok := e.(interface{ Unwrap() []error }); ok {
			for _, inner := range joined.Unwrap() {
				walk(inner)
			}
		}
	}
	if joined, ok := err.(interface{ Unwrap() []error }); ok {
		for _, inner := range joined.Unwrap() {
			walk(inner)
		}
	} else {
		walk(err)
	}
	if len(names) == 0 {
		names = append(names, fallback)
	}
	return names
}

// MultiSink 按顺序扇出到多个 Sink，单个失败不影响其余。
type MultiSink []Sink

func (m MultiSink) Name() string { return "multi" }

func (m MultiSink) Record(ctx context.Context, t *Transcript, e Entry) error {
	var errs []error
	for _, s := range m {
		if err := s.Record(ctx, t, e); err != nil {
			errs = append(errs, &SinkError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}

func (m MultiSink) Flush(ctx context.Context, t *Transcript) error {
	var errs []error
	for _, s := range m {
		if err := s.Flush(ctx, t); err != nil {
			errs = append(errs, &SinkError{Sink: s.Name(), Err: err})
		}
	}
	return errors.Join(errs...)
}
