package tokenizer

import (
	"fmt"
	"strings"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TiktokenTokenizer 使用 tiktoken 计数。本地模型没有对应词表，
// 这里按模型名挑一个最接近的编码：新一代模型用 o200k_base，其余用 cl100k_base。
type TiktokenTokenizer struct {
	encoding string
	enc      *tiktoken.Tiktoken
	once     sync.Once
	initErr  error
}

// o200kPrefixes 列出按 o200k_base 计数的模型名前缀
var o200kPrefixes = []string{"gpt-4o", "gpt-4.1", "gpt-5", "o1", "o3", "o4", "qwen3", "gemma3"}

// EncodingFor 返回模型对应的 tiktoken 编码名。
func EncodingFor(model string) string {
	m := strings.ToLower(model)
	for _, prefix := range o200kPrefixes {
		if strings.HasPrefix(m, prefix) {
			return "o200k_base"
		}
	}
	return "cl100k_base"
}

// NewTiktokenTokenizer 创建 tiktoken 分词器，词表在首次使用时加载。
func NewTiktokenTokenizer(model string) *TiktokenTokenizer {
	return &TiktokenTokenizer{encoding: EncodingFor(model)}
}

func (t *TiktokenTokenizer) init() error {
	t.once.Do(func() {
		enc, err := tiktoken.GetEncoding(t.encoding)
		if err != nil {
			t.initErr = fmt.Errorf("init tiktoken encoding %s: %w", t.encoding, err)
			return
		}
		t.enc = enc
	})
	return t.initErr
}

func (t *TiktokenTokenizer) CountTokens(text string) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	return len(t.enc.Encode(text, nil, nil)), nil
}

func (t *TiktokenTokenizer) CountMessages(messages []Message) (int, error) {
	if err := t.init(); err != nil {
		return 0, err
	}
	total := 0
	for _, msg := range messages {
		// <|start|>role\n content<|end|>\n
		total += 4 + len(t.enc.Encode(msg.Role, nil, nil)) + len(t.enc.Encode(msg.Content, nil, nil))
	}
	return total + 3, nil
}

func (t *TiktokenTokenizer) Name() string {
	return fmt.Sprintf("tiktoken[%s]", t.encoding)
}
