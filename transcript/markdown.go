package transcript

import (
	"fmt"
	"strings"
)

// Headings 是 Markdown 输出的三个标题。
type Headings struct {
	Theme        string
	Environment  string
	Conversation string
}

// DefaultHeadings 为日语标题。
var DefaultHeadings = Headings{Theme: "テーマ", Environment: "環境", Conversation: "会話"}

// RenderMarkdown 渲染记录：主题、环境、会话三节，每条记录一行
// `- **Name** (@handle): text`，整体去除首尾空白后以换行结尾。
func RenderMarkdown(t *Transcript, h Headings) string {
	parts := []string{
		fmt.Sprintf("# %s\n\n%s\n", h.Theme, t.Theme),
		fmt.Sprintf("# %s\n\n%s\n", h.Environment, t.Environment),
		fmt.Sprintf("# %s\n", h.Conversation),
	}
	for _, e := range t.Entries() {
		parts = append(parts, FormatBullet(e))
	}
	return strings.TrimSpace(strings.Join(parts, "\n")) + "\n"
}

// FormatBullet 返回单条记录的 Markdown 列表项。
func FormatBullet(e Entry) string {
	return fmt.Sprintf("- **%s** (@%s): %s", e.Speaker, e.Handle, e.Text)
}
