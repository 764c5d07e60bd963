package conversation

import (
	"regexp"
	"strings"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/transcript"
)

var mentionRE = regexp.MustCompile(`@([\p{L}\p{N}_\-]+)`)

// closingWindow 是检查结束信号的最近条目数
const closingWindow = 3

// minEntriesForClosing 是允许因结束信号收尾的最少条目数（含开场白）
const minEntriesForClosing = 4

// FirstMention 返回 text 中第一个有效的 @handle。
// 日文常把敬称直接接在 handle 后（@renさん），因此 handle 之后允许紧跟非 ASCII 字符；
// 紧跟 [A-Za-z0-9_-] 时视为另一个名字（@renovate）。@ 前是 ASCII 单词字符时视为邮箱地址。
// 不存在的 handle 与自我点名被忽略。
func FirstMention(text string, c *cast.Cast, self string) string {
	for _, loc := range mentionRE.FindAllStringSubmatchIndex(text, -1) {
		if loc[0] > 0 && isHandleASCII(text[loc[0]-1]) {
			continue
		}
		handle := mentionedHandle(text[loc[2]:loc[3]], c)
		if handle == "" || handle == self {
			continue
		}
		return handle
	}
	return ""
}

// mentionedHandle 返回与 token 完整匹配的 handle，或后面不再接 ASCII 名字字符的最长前缀 handle
func mentionedHandle(token string, c *cast.Cast) string {
	best := ""
	for _, ch := range c.Characters {
		h := ch.Handle
		if h == "" || len(h) <= len(best) || !strings.HasPrefix(token, h) {
			continue
		}
		if len(token) > len(h) && isHandleASCII(token[len(h)]) {
			continue
		}
		best = h
	}
	return best
}

func isHandleASCII(b byte) bool {
	switch {
	case 'a' <= b && b <= 'z', 'A' <= b && b <= 'Z', '0' <= b && b <= '9':
		return true
	case b == '_', b == '-', b == '.':
		return true
	}
	return false
}

// ShouldClose 判断会话是否自然收尾：至少 4 条记录，
// 最近 3 条中出现结束信号且没有任何 @。
func ShouldClose(entries []transcript.Entry, signals []string) bool {
	if len(entries) < minEntriesForClosing || len(signals) == 0 {
		return false
	}
	tail := entries[len(entries)-closingWindow:]
	texts := make([]string, len(tail))
	for i, e := range tail {
		texts[i] = e.Text
	}
	joined := strings.Join(texts, "\n")
	if strings.Contains(joined, "@") {
		return false
	}
	for _, sig := range signals {
		if sig != "" && strings.Contains(joined, sig) {
			return true
		}
	}
	return false
}
