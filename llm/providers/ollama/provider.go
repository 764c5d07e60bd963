package ollama

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/BaSui01/aichatter/llm"
	"github.com/BaSui01/aichatter/llm/providers"
	"go.uber.org/zap"
)

const (
	// DefaultBaseURL 是 Ollama 的默认监听地址
	DefaultBaseURL = "http://localhost:11434"

	chatPath = "/api/chat"
	tagsPath = "/api/tags"
)

// Config 配置单个 Ollama 实例。
type Config struct {
	BaseURL      string
	DefaultModel string
	DialTimeout  time.Duration
	// KeepAlive 透传给 Ollama，控制模型在显存中的驻留时间，如 "5m"
	KeepAlive string
}

// Provider 通过原生 /api/chat 调用 Ollama。
type Provider struct {
	cfg    Config
	client *http.Client
	logger *zap.Logger
}

// New 创建 Ollama Provider。
func New(cfg Config, logger *zap.Logger) *Provider {
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultBaseURL
	}
	cfg.BaseURL = providers.NormalizeBaseURL(cfg.BaseURL)
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Provider{
		cfg:    cfg,
		client: providers.NewHTTPClient(cfg.DialTimeout),
		logger: logger.With(zap.String("provider", "ollama"), zap.String("base_url", cfg.BaseURL)),
	}
}

func (p *Provider) Name() string { return "ollama" }

// BaseURL 返回规范化后的地址。
func (p *Provider) BaseURL() string { return p.cfg.BaseURL }

// ============================================================
// Wire types
// ============================================================

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatOptions struct {
	Temperature float32  `json:"temperature"`
	TopP        float32  `json:"top_p,omitempty"`
	NumPredict  int      `json:"num_predict,omitempty"`
	Stop        []string `json:"stop,omitempty"`
}

type chatRequest struct {
	Model     string        `json:"model"`
	Messages  []chatMessage `json:"messages"`
	Stream    bool          `json:"stream"`
	Options   chatOptions   `json:"options"`
	KeepAlive string        `json:"keep_alive,omitempty"`
}

type chatResponse struct {
	Model           string      `json:"model"`
	CreatedAt       time.Time   `json:"created_at"`
	Message         chatMessage `json:"message"`
	Done            bool        `json:"done"`
	DoneReason      string      `json:"done_reason,omitempty"`
	PromptEvalCount int         `json:"prompt_eval_count,omitempty"`
	EvalCount       int         `json:"eval_count,omitempty"`
	Error           string      `json:"error,omitempty"`
}

func (r chatResponse) usage() *llm.ChatUsage {
	if r.PromptEvalCount == 0 && r.EvalCount == 0 {
		return nil
	}
	return &llm.ChatUsage{
		PromptTokens:     r.PromptEvalCount,
		CompletionTokens: r.EvalCount,
		TotalTokens:      r.PromptEvalCount + r.EvalCount,
	}
}

func (p *Provider) buildRequest(req *llm.ChatRequest, stream bool) chatRequest {
	msgs := make([]chatMessage, 0, len(req.Messages))
	for _, m := range req.Messages {
		msgs = append(msgs, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	return chatRequest{
		Model:    providers.ChooseModel(req, p.cfg.DefaultModel, ""),
		Messages: msgs,
		Stream:   stream,
		Options: chatOptions{
			Temperature: req.Temperature,
			TopP:        req.TopP,
			NumPredict:  req.MaxTokens,
			Stop:        req.Stop,
		},
		KeepAlive: p.cfg.KeepAlive,
	}
}

func (p *Provider) post(ctx context.Context, body chatRequest) (*http.Response, error) {
	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, p.cfg.BaseURL+chatPath, bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return nil, providers.MapTransportError(err, p.Name())
	}
	if resp.StatusCode >= 400 {
		defer resp.Body.Close()
		msg := providers.ReadErrorMessage(resp.Body)
		return nil, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	return resp, nil
}

// ============================================================
// llm.Provider
// ============================================================

// Completion 发起非流式请求（stream=false）。
func (p *Provider) Completion(ctx context.Context, req *llm.ChatRequest) (*llm.ChatResponse, error) {
	resp, err := p.post(ctx, p.buildRequest(req, false))
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out chatResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &llm.Error{
			Code: llm.ErrUpstreamError, Message: err.Error(),
			HTTPStatus: http.StatusBadGateway, Retryable: true, Provider: p.Name(),
		}
	}
	if out.Error != "" {
		return nil, &llm.Error{Code: llm.ErrUpstreamError, Message: out.Error, HTTPStatus: http.StatusBadGateway, Provider: p.Name()}
	}

	result := &llm.ChatResponse{
		Provider:  p.Name(),
		Model:     out.Model,
		CreatedAt: out.CreatedAt,
		Choices: []llm.ChatChoice{{
			FinishReason: out.DoneReason,
			Message:      llm.Message{Role: llm.RoleAssistant, Content: out.Message.Content},
		}},
	}
	if u := out.usage(); u != nil {
		result.Usage = *u
	}
	return result, nil
}

// Stream 发起流式请求，逐行解析 NDJSON。
func (p *Provider) Stream(ctx context.Context, req *llm.ChatRequest) (<-chan llm.StreamChunk, error) {
	resp, err := p.post(ctx, p.buildRequest(req, true))
	if err != nil {
		return nil, err
	}
	return streamNDJSON(ctx, resp.Body, p.Name()), nil
}

func streamNDJSON(ctx context.Context, body io.ReadCloser, providerName string) <-chan llm.StreamChunk {
	ch := make(chan llm.StreamChunk)
	go func() {
		defer body.Close()
		defer close(ch)

		send := func(chunk llm.StreamChunk) bool {
			select {
			case <-ctx.Done():
				return false
			case ch <- chunk:
				return true
			}
		}

		reader := bufio.NewReader(body)
		for {
			line, err := reader.ReadBytes('\n')
			if len(bytes.TrimSpace(line)) > 0 {
				var part chatResponse
				if jsonErr := json.Unmarshal(line, &part); jsonErr != nil {
					send(llm.StreamChunk{Err: &llm.Error{
						Code: llm.ErrUpstreamError, Message: jsonErr.Error(),
						HTTPStatus: http.StatusBadGateway, Provider: providerName,
					}})
					return
				}
				if part.Error != "" {
					send(llm.StreamChunk{Err: &llm.Error{
						Code: llm.ErrUpstreamError, Message: part.Error,
						HTTPStatus: http.StatusBadGateway, Provider: providerName,
					}})
					return
				}
				chunk := llm.StreamChunk{
					Provider: providerName,
					Model:    part.Model,
					Delta:    llm.Message{Role: llm.RoleAssistant, Content: part.Message.Content},
				}
				if part.Done {
					chunk.FinishReason = part.DoneReason
					if chunk.FinishReason == "" {
						chunk.FinishReason = "stop"
					}
					chunk.Usage = part.usage()
				}
				if !send(chunk) || part.Done {
					return
				}
			}
			if err != nil {
				if err != io.EOF {
					send(llm.StreamChunk{Err: providers.MapTransportError(err, providerName)})
				}
				return
			}
		}
	}()
	return ch
}

// HealthCheck 请求 /api/tags，确认服务在线。
func (p *Provider) HealthCheck(ctx context.Context) (*llm.HealthStatus, error) {
	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, p.cfg.BaseURL+tagsPath, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := p.client.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapTransportError(err, p.Name())
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		msg := providers.ReadErrorMessage(resp.Body)
		return &llm.HealthStatus{Healthy: false, Latency: latency}, providers.MapHTTPError(resp.StatusCode, msg, p.Name())
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return &llm.HealthStatus{Healthy: true, Latency: latency}, nil
}
