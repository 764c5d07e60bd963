package transcript

import (
	"context"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/charmbracelet/lipgloss"
)

// 角色名配色，按首次出现顺序轮换
var speakerPalette = []lipgloss.Color{
	lipgloss.Color("39"),  // 蓝
	lipgloss.Color("205"), // 粉
	lipgloss.Color("42"),  // 绿
	lipgloss.Color("214"), // 橙
	lipgloss.Color("141"), // 紫
	lipgloss.Color("81"),  // 青
}

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Underline(true)
	chairStyle  = lipgloss.NewStyle().Italic(true).Foreground(lipgloss.Color("245"))
	mutedStyle  = lipgloss.NewStyle().Foreground(lipgloss.Color("241"))
)

// Console 把会话渲染到终端。作为 Sink 输出每条记录；
// 启用流式时同时接收增量文本，发言在生成过程中逐字出现。
type Console struct {
	w      io.Writer
	stream bool

	mu             sync.Mutex
	styles         map[string]lipgloss.Style
	headerShown    bool
	streaming      string // 正在流式输出的 handle
	pendingSpeaker string
	prefixShown    bool
}

// NewConsole 创建终端渲染器。
func NewConsole(w io.Writer, stream bool) *Console {
	return &Console{
		w:      w,
		stream: stream,
		styles: make(map[string]lipgloss.Style),
	}
}

func (c *Console) Name() string { return "console" }

func (c *Console) styleFor(handle string) lipgloss.Style {
	s, ok := c.styles[handle]
	if !ok {
		color := speakerPalette[len(c.styles)%len(speakerPalette)]
		s = lipgloss.NewStyle().Bold(true).Foreground(color)
		c.styles[handle] = s
	}
	return s
}

func (c *Console) showHeader(t *Transcript) {
	if c.headerShown || t == nil {
		return
	}
	c.headerShown = true
	fmt.Fprintln(c.w, headerStyle.Render(t.Theme))
	fmt.Fprintln(c.w, mutedStyle.Render("session "+t.ID))
	fmt.Fprintln(c.w)
}

func (c *Console) prefix(speaker, handle string) string {
	return fmt.Sprintf("%s (@%s): ", c.styleFor(handle).Render(speaker), handle)
}

// TurnStarted 在一轮开始时调用。前缀延迟到第一个增量到达时才打印。
func (c *Console) TurnStarted(speaker, handle string) {
	if !c.stream {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLine()
	c.streaming = handle
	c.prefixShown = false
	c.pendingSpeaker = speaker
}

// TurnDelta 输出增量文本。
func (c *Console) TurnDelta(handle, delta string) {
	if !c.stream || delta == "" {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming != handle {
		return
	}
	if !c.prefixShown {
		// 流式输出的开头空白不打印
		delta = strings.TrimLeft(delta, " \t\r\n")
		if delta == "" {
			return
		}
		fmt.Fprint(c.w, c.prefix(c.pendingSpeaker, handle))
		c.prefixShown = true
	}
	fmt.Fprint(c.w, delta)
}

// TurnFinished 在一轮结束时调用。生成失败时收起已输出的半行，
// 成功时等待 Record 补换行。
func (c *Console) TurnFinished(handle string, err error) {
	if !c.stream || err == nil {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.streaming == handle {
		c.abandonLine()
	}
}

// abandonLine 结束一行未被记录的流式输出（失败或过短的回复），以 … 标记。
func (c *Console) abandonLine() {
	if c.prefixShown {
		fmt.Fprint(c.w, mutedStyle.Render(" …"))
	}
	c.endLine()
}

// endLine 结束未换行的流式输出。
func (c *Console) endLine() {
	if c.prefixShown {
		fmt.Fprintln(c.w)
	}
	c.prefixShown = false
	c.streaming = ""
}

// Record 输出一条记录。已流式输出的发言只补一个换行。
func (c *Console) Record(_ context.Context, t *Transcript, e Entry) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.prefixShown && e.Kind == KindUtterance && e.Handle == c.streaming {
		c.endLine()
		return nil
	}
	c.abandonLine()
	c.showHeader(t)

	text := e.Text
	if e.Kind != KindUtterance {
		text = chairStyle.Render(text)
	}
	fmt.Fprintln(c.w, c.prefix(e.Speaker, e.Handle)+text)
	return nil
}

// Flush 输出结束原因。
func (c *Console) Flush(_ context.Context, t *Transcript) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.abandonLine()
	c.showHeader(t)
	fmt.Fprintln(c.w)
	fmt.Fprintln(c.w, mutedStyle.Render(fmt.Sprintf("[end] %s (%d turns)", t.EndReason(), len(t.Turns()))))
	return nil
}
