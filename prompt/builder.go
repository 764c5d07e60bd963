package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/llm/tokenizer"
	"github.com/BaSui01/aichatter/transcript"
)

// SystemData 是系统提示模板的数据。
type SystemData struct {
	Name        string
	Handle      string
	Personality string
	Environment string
	Theme       string
	Handles     []string
}

// Builder 根据角色与会话记录生成提示。
type Builder struct {
	locale *Locale
	tmpl   *template.Template
	window *Window
}

// NewBuilder 解析语言模板。window 为 nil 时发送完整记录。
func NewBuilder(locale *Locale, window *Window) (*Builder, error) {
	if locale == nil {
		locale = locales[DefaultLocale]
	}
	tmpl, err := template.New("system_" + locale.Code).
		Funcs(template.FuncMap{"mentions": formatMentions}).
		Option("missingkey=error").
		Parse(locale.SystemTemplate)
	if err != nil {
		return nil, fmt.Errorf("parse system template for %s: %w", locale.Code, err)
	}
	return &Builder{locale: locale, tmpl: tmpl, window: window}, nil
}

// Locale 返回使用的语言。
func (b *Builder) Locale() *Locale { return b.locale }

// System 生成角色的系统提示。
func (b *Builder) System(ch *cast.Character, c *cast.Cast, theme string) (string, error) {
	data := SystemData{
		Name:        ch.Name,
		Handle:      ch.Handle,
		Personality: ch.Personality.Render(b.locale.PersonalityLabels),
		Environment: c.Environment,
		Theme:       theme,
		Handles:     c.Handles(),
	}
	var buf bytes.Buffer
	if err := b.tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("render system prompt for @%s: %w", ch.Handle, err)
	}
	return buf.String(), nil
}

// User 生成携带会话记录的用户消息。
func (b *Builder) User(history []transcript.Entry) string {
	if b.window != nil {
		history = b.window.Fit(history)
	}
	return b.locale.HistoryIntro + "\n" + FormatHistory(history)
}

// FormatLine 返回一条记录在提示中的形式：Name(@handle): text
func FormatLine(e transcript.Entry) string {
	return fmt.Sprintf("%s(@%s): %s", e.Speaker, e.Handle, e.Text)
}

// FormatHistory 逐行拼接记录。
func FormatHistory(history []transcript.Entry) string {
	lines := make([]string, len(history))
	for i, e := range history {
		lines[i] = FormatLine(e)
	}
	return strings.Join(lines, "\n")
}

func formatMentions(handles []string) string {
	out := make([]string, len(handles))
	for i, h := range handles {
		out[i] = "@" + h
	}
	return strings.Join(out, ", ")
}

// Window 按 token 预算裁剪会话记录：保留开场白，从最旧的记录开始丢弃，
// 最新一条始终保留。
type Window struct {
	tok       tokenizer.Tokenizer
	maxTokens int
}

// NewWindow 创建窗口；maxTokens <= 0 时返回 nil，表示不裁剪。
func NewWindow(tok tokenizer.Tokenizer, maxTokens int) *Window {
	if maxTokens <= 0 {
		return nil
	}
	if tok == nil {
		tok = tokenizer.NewEstimatorTokenizer()
	}
	return &Window{tok: tok, maxTokens: maxTokens}
}

// Fit 返回裁剪后的记录，不修改入参。
func (w *Window) Fit(history []transcript.Entry) []transcript.Entry {
	if w == nil || len(history) == 0 {
		return history
	}

	costs := make([]int, len(history))
	total := 0
	for i, e := range history {
		n, err := w.tok.CountTokens(FormatLine(e))
		if err != nil {
			n = len(FormatLine(e))
		}
		costs[i] = n + 1 // 换行
		total += costs[i]
	}
	if total <= w.maxTokens {
		return history
	}

	pinned := 0
	if history[0].Kind == transcript.KindOpening {
		pinned = 1
	}
	drop := pinned
	for total > w.maxTokens && drop < len(history)-1 {
		total -= costs[drop]
		drop++
	}

	out := make([]transcript.Entry, 0, len(history)-drop+pinned)
	out = append(out, history[:pinned]...)
	out = append(out, history[drop:]...)
	return out
}
