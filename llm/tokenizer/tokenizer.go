package tokenizer

import (
	"fmt"
	"strings"
)

// Tokenizer 是统一的 token 计数接口。
type Tokenizer interface {
	// CountTokens 返回给定文本的 token 数
	CountTokens(text string) (int, error)

	// CountMessages 返回消息列表的总 token 数，包含每条消息的角色与分隔符开销
	CountMessages(messages []Message) (int, error)

	// Name 返回分词器名称
	Name() string
}

// Message 是 tokenizer 使用的轻量消息结构，避免依赖 llm 包。
type Message struct {
	Role    string
	Content string
}

// 支持的分词器类型
const (
	KindEstimator = "estimator"
	KindTiktoken  = "tiktoken"
)

// New 按类型创建分词器。tiktoken 初始化失败（如离线无法获取词表）时自动回退到估算器。
func New(kind, model string) (Tokenizer, error) {
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", KindEstimator:
		return NewEstimatorTokenizer(), nil
	case KindTiktoken:
		return &fallbackTokenizer{primary: NewTiktokenTokenizer(model), fallback: NewEstimatorTokenizer()}, nil
	default:
		return nil, fmt.Errorf("unknown tokenizer %q", kind)
	}
}

// fallbackTokenizer 在 primary 出错后永久切换到 fallback。
type fallbackTokenizer struct {
	primary  Tokenizer
	fallback Tokenizer
	failed   bool
}

func (f *fallbackTokenizer) active() Tokenizer {
	if f.failed {
		return f.fallback
	}
	return f.primary
}

func (f *fallbackTokenizer) CountTokens(text string) (int, error) {
	n, err := f.active().CountTokens(text)
	if err != nil && !f.failed {
		f.failed = true
		return f.fallback.CountTokens(text)
	}
	return n, err
}

func (f *fallbackTokenizer) CountMessages(messages []Message) (int, error) {
	n, err := f.active().CountMessages(messages)
	if err != nil && !f.failed {
		f.failed = true
		return f.fallback.CountMessages(messages)
	}
	return n, err
}

func (f *fallbackTokenizer) Name() string { return f.active().Name() }
