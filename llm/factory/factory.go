package factory

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/BaSui01/aichatter/llm"
	"github.com/BaSui01/aichatter/llm/providers/ollama"
	"github.com/BaSui01/aichatter/llm/providers/openaicompat"
	"go.uber.org/zap"
)

// 支持的 provider 名称
const (
	KindOllama   = "ollama"
	KindOpenAI   = "openai"
	KindLlamaCPP = "llamacpp"
)

// ProviderConfig 是工厂接受的通用配置。
type ProviderConfig struct {
	BaseURL     string        `json:"base_url" yaml:"base_url"`
	Model       string        `json:"model,omitempty" yaml:"model,omitempty"`
	APIKey      string        `json:"api_key,omitempty" yaml:"api_key,omitempty"`
	DialTimeout time.Duration `json:"dial_timeout,omitempty" yaml:"dial_timeout,omitempty"`
	KeepAlive   string        `json:"keep_alive,omitempty" yaml:"keep_alive,omitempty"`
}

type constructor func(cfg ProviderConfig, logger *zap.Logger) llm.Provider

var constructors = map[string]constructor{
	KindOllama: func(cfg ProviderConfig, logger *zap.Logger) llm.Provider {
		return ollama.New(ollama.Config{
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			DialTimeout:  cfg.DialTimeout,
			KeepAlive:    cfg.KeepAlive,
		}, logger)
	},
	KindOpenAI: func(cfg ProviderConfig, logger *zap.Logger) llm.Provider {
		return openaicompat.New(openaicompat.Config{
			ProviderName: KindOpenAI,
			APIKey:       cfg.APIKey,
			BaseURL:      cfg.BaseURL,
			DefaultModel: cfg.Model,
			DialTimeout:  cfg.DialTimeout,
		}, logger)
	},
	// llama.cpp server 暴露 OpenAI 兼容接口，健康检查走 /health
	KindLlamaCPP: func(cfg ProviderConfig, logger *zap.Logger) llm.Provider {
		return openaicompat.New(openaicompat.Config{
			ProviderName:   KindLlamaCPP,
			APIKey:         cfg.APIKey,
			BaseURL:        cfg.BaseURL,
			DefaultModel:   cfg.Model,
			DialTimeout:    cfg.DialTimeout,
			ModelsEndpoint: "/health",
		}, logger)
	},
}

// NewProviderFromConfig 根据名称创建 Provider。名称不区分大小写，空名称视为 ollama。
func NewProviderFromConfig(name string, cfg ProviderConfig, logger *zap.Logger) (llm.Provider, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	kind := strings.ToLower(strings.TrimSpace(name))
	if kind == "" {
		kind = KindOllama
	}
	ctor, ok := constructors[kind]
	if !ok {
		return nil, fmt.Errorf("unknown provider %q (supported: %s)", name, strings.Join(SupportedProviders(), ", "))
	}
	return ctor(cfg, logger), nil
}

// SupportedProviders 返回排序后的 provider 名称。
func SupportedProviders() []string {
	names := make([]string, 0, len(constructors))
	for name := range constructors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
