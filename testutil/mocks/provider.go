// MockProvider 是 llm.Provider 的测试模拟实现。
//
// 支持固定响应、流式输出、按调用次数注入错误与健康检查失败。
package mocks

import (
	"context"
	"sync"
	"time"

	"github.com/BaSui01/aichatter/llm"
)

// --- MockProvider 结构 ---

// MockProvider 是 LLM Provider 的模拟实现
type MockProvider struct {
	mu sync.Mutex

	name string

	// 响应配置
	response     string
	streamChunks []llm.StreamChunk
	errs         []error // 依次返回，用完后成功
	healthErr    error

	// Token 使用统计
	promptTokens     int
	completionTokens int

	// 行为控制
	delay time.Duration

	// 调用记录
	calls  []*llm.ChatRequest
	health int
}

// NewMockProvider 创建新的 MockProvider
func NewMockProvider() *MockProvider {
	return &MockProvider{
		name:             "mock",
		response:         "Mock response",
		promptTokens:     10,
		completionTokens: 20,
	}
}

// WithName 设置 Provider 名称
func (m *MockProvider) WithName(name string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.name = name
	return m
}

// WithResponse 设置固定响应内容
func (m *MockProvider) WithResponse(response string) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.response = response
	return m
}

// WithStreamChunks 设置流式响应块；为空时流式输出完整响应
func (m *MockProvider) WithStreamChunks(chunks []llm.StreamChunk) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.streamChunks = chunks
	return m
}

// WithErrors 设置前 len(errs) 次调用返回的错误
func (m *MockProvider) WithErrors(errs ...error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errs = errs
	return m
}

// WithHealthError 设置健康检查错误
func (m *MockProvider) WithHealthError(err error) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.healthErr = err
	return m
}

// WithTokenUsage 设置 Token 使用量
func (m *MockProvider) WithTokenUsage(prompt, completion int) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.promptTokens = prompt
	m.completionTokens = completion
	return m
}

// WithDelay 设置响应延迟
func (m *MockProvider) WithDelay(d time.Duration) *MockProvider {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delay = d
	return m
}

// --- 调用记录 ---

// Calls 返回收到的请求
func (m *MockProvider) Calls() []*llm.ChatRequest {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]*llm.ChatRequest(nil), m.calls...)
}

// CallCount 返回 Completion 与 Stream 的调用总数
func (m *MockProvider) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.calls)
}

// HealthChecks 返回健康检查次数
func (m *MockProvider) HealthChecks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.health
}

// begin 记录调用并取出本次应返回的错误
func (m *MockProvider) begin(req *llm.ChatRequest) (time.Duration, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, req)
	if len(m.errs) > 0 {
		err := m.errs[0]
		m.errs = m.errs[1:]
		if err != nil {
			return m.delay, err
		}
	}
	return m.delay, nil
}

func wait(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// --- Provider 接口实现 ---

// Name 返回 Provider 名称
func (m *MockProvider) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

// HealthCheck 执行健康检查
func (m *MockProvider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	m.mu.Lock()
	m.health++
	err := m.healthErr
	m.mu.Unlock()

	if err != nil {
		return &llm.HealthStatus{Healthy: false}, err
	}
	return &llm.HealthStatus{Healthy: true, Latency: 5 * time.Millisecond}, ctx.Err()
}

// Completion 生成响应
func (m *MockProvider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	delay, err := m.begin(req)
	if err != nil {
		return nil, err
	}
	if err := wait(ctx, delay); err != nil {
		return nil, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return &llm.ChatResponse{
		ID:       "mock-response-id",
		Provider: m.name,
		Model:    req.Model,
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: m.response},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     m.promptTokens,
			CompletionTokens: m.completionTokens,
			TotalTokens:      m.promptTokens + m.completionTokens,
		},
		CreatedAt: time.Now(),
	}, nil
}

// Stream 流式生成响应
func (m *MockProvider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	delay, err := m.begin(req)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	chunks := append([]llm.StreamChunk(nil), m.streamChunks...)
	if len(chunks) == 0 {
		chunks = []llm.StreamChunk{{
			Provider:     m.name,
			Model:        req.Model,
			Delta:        llm.Message{Role: llm.RoleAssistant, Content: m.response},
			FinishReason: "stop",
			Usage:        &llm.ChatUsage{PromptTokens: m.promptTokens, CompletionTokens: m.completionTokens},
		}}
	}
	m.mu.Unlock()

	ch := make(chan llm.StreamChunk)
	go func() {
		defer close(ch)
		for _, chunk := range chunks {
			if wait(ctx, delay) != nil {
				return
			}
			select {
			case <-ctx.Done():
				return
			case ch <- chunk:
			}
		}
	}()
	return ch, nil
}

var _ llm.Provider = (*MockProvider)(nil)
