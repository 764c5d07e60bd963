// Package connectortest 提供按脚本回复的 connector.Connector，供会话测试使用。
package connectortest

import (
	"context"
	"strings"
	"sync"

	"github.com/BaSui01/aichatter/connector"
)

// Step 是脚本中的一次回复
type Step struct {
	Text string
	Err  error
	// Before 在返回前调用，可用于推进假时钟
	Before func()
}

// ScriptedConnector 按 handle 依次返回脚本中的回复，用完后返回 Fallback。
// 流式模式下按空白切分文本并逐段回调 OnDelta。
type ScriptedConnector struct {
	mu       sync.Mutex
	scripts  map[string][]Step
	fallback func(req connector.Request) (string, error)
	requests []connector.Request
	stream   bool
	each     func(req connector.Request)
}

// NewScriptedConnector 创建空脚本，默认回复 "<handle> speaking"
func NewScriptedConnector() *ScriptedConnector {
	return &ScriptedConnector{
		scripts: make(map[string][]Step),
		fallback: func(req connector.Request) (string, error) {
			return req.Speaker + " speaking", nil
		},
	}
}

// Reply 为 handle 追加若干文本回复
func (s *ScriptedConnector) Reply(handle string, texts ...string) *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, t := range texts {
		s.scripts[handle] = append(s.scripts[handle], Step{Text: t})
	}
	return s
}

// Fail 为 handle 追加一次失败
func (s *ScriptedConnector) Fail(handle string, err error) *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[handle] = append(s.scripts[handle], Step{Err: err})
	return s
}

// Then 为 handle 追加任意步骤
func (s *ScriptedConnector) Then(handle string, step Step) *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.scripts[handle] = append(s.scripts[handle], step)
	return s
}

// WithFallback 设置脚本用完后的回复函数
func (s *ScriptedConnector) WithFallback(fn func(req connector.Request) (string, error)) *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fallback = fn
	return s
}

// WithStreaming 开启 OnDelta 回调
func (s *ScriptedConnector) WithStreaming() *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.stream = true
	return s
}

// OnEach 设置每次调用时的钩子
func (s *ScriptedConnector) OnEach(fn func(req connector.Request)) *ScriptedConnector {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.each = fn
	return s
}

// Requests 返回收到的请求
func (s *ScriptedConnector) Requests() []connector.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]connector.Request(nil), s.requests...)
}

// Speakers 返回依次被调用的 handle
func (s *ScriptedConnector) Speakers() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.requests))
	for i, r := range s.requests {
		out[i] = r.Speaker
	}
	return out
}

// Generate 实现 connector.Connector
func (s *ScriptedConnector) Generate(ctx context.Context, req connector.Request) (string, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	each := s.each
	stream := s.stream
	var (
		step Step
		ok   bool
	)
	if queue := s.scripts[req.Speaker]; len(queue) > 0 {
		step, ok = queue[0], true
		s.scripts[req.Speaker] = queue[1:]
	}
	fallback := s.fallback
	s.mu.Unlock()

	if each != nil {
		each(req)
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	if !ok {
		text, err := fallback(req)
		if err != nil {
			return "", err
		}
		step = Step{Text: text}
	}
	if step.Before != nil {
		step.Before()
	}
	if step.Err != nil {
		return "", step.Err
	}
	if stream && req.OnDelta != nil {
		for _, part := range strings.SplitAfter(step.Text, " ") {
			if part != "" {
				req.OnDelta(part)
			}
		}
	}
	return strings.TrimSpace(step.Text), nil
}

var _ connector.Connector = (*ScriptedConnector)(nil)
