// Package openaicompat implements llm.Provider for servers that speak the
// OpenAI Chat Completions dialect: LM Studio, llama.cpp server, vLLM and
// Ollama's /v1 compatibility layer.
//
// Usage:
//
//	p := openaicompat.New(openaicompat.Config{
//	    ProviderName: "llamacpp",
//	    BaseURL:      "http://localhost:8080",
//	    DefaultModel: "qwen2.5-7b-instruct",
//	}, logger)
package openaicompat
