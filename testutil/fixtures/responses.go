// =============================================================================
// 📦 测试数据工厂 - LLM 响应
// =============================================================================
package fixtures

import (
	"time"

	"github.com/BaSui01/aichatter/llm"
)

// SimpleResponse 返回简单的文本响应
func SimpleResponse(content string) *llm.ChatResponse {
	return ResponseWithUsage(content, 0, 0)
}

// ResponseWithUsage 返回带 token 用量的响应
func ResponseWithUsage(content string, promptTokens, completionTokens int) *llm.ChatResponse {
	return &llm.ChatResponse{
		ID:       "fixture-response",
		Provider: "mock",
		Model:    "mock-model",
		Choices: []llm.ChatChoice{{
			Index:        0,
			FinishReason: "stop",
			Message:      llm.Message{Role: llm.RoleAssistant, Content: content},
		}},
		Usage: llm.ChatUsage{
			PromptTokens:     promptTokens,
			CompletionTokens: completionTokens,
			TotalTokens:      promptTokens + completionTokens,
		},
		CreatedAt: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

// EmptyResponse 返回没有候选的响应
func EmptyResponse() *llm.ChatResponse {
	return &llm.ChatResponse{ID: "fixture-empty", Provider: "mock", Model: "mock-model"}
}

// TextChunk 返回文本增量块
func TextChunk(content, finishReason string) llm.StreamChunk {
	return llm.StreamChunk{
		ID:           "fixture-chunk",
		Provider:     "mock",
		Model:        "mock-model",
		Delta:        llm.Message{Role: llm.RoleAssistant, Content: content},
		FinishReason: finishReason,
	}
}

// ErrorChunk 返回错误块
func ErrorChunk(err *llm.Error) llm.StreamChunk {
	return llm.StreamChunk{ID: "fixture-chunk", Provider: "mock", Err: err}
}

// StreamChunks 把各段文本转为增量块，最后一块带 stop 与 usage
func StreamChunks(parts ...string) []llm.StreamChunk {
	chunks := make([]llm.StreamChunk, 0, len(parts))
	for i, p := range parts {
		finish := ""
		if i == len(parts)-1 {
			finish = "stop"
		}
		chunks = append(chunks, TextChunk(p, finish))
	}
	if n := len(chunks); n > 0 {
		chunks[n-1].Usage = &llm.ChatUsage{PromptTokens: 12, CompletionTokens: n, TotalTokens: 12 + n}
	}
	return chunks
}

// UpstreamError 返回可重试的上游错误
func UpstreamError() *llm.Error {
	return &llm.Error{Code: llm.ErrUpstreamError, Message: "model is loading", HTTPStatus: 503, Retryable: true, Provider: "mock"}
}

// ModelNotFound 返回不可重试的模型缺失错误
func ModelNotFound(model string) *llm.Error {
	return &llm.Error{Code: llm.ErrModelNotFound, Message: "model " + model + " not found", HTTPStatus: 404, Provider: "mock"}
}
