package prompt

import (
	"fmt"
	"sort"
	"strings"

	"github.com/BaSui01/aichatter/transcript"
)

// Locale 是一套语言相关的文案。
type Locale struct {
	Code string

	// SystemTemplate 是 text/template 模板，数据为 SystemData
	SystemTemplate string
	// HistoryIntro 位于会话记录之前，单独一行
	HistoryIntro string
	// PersonalityLabels 覆盖结构化性格字段的标签
	PersonalityLabels map[string]string

	// 议长的固定台词，均为 fmt 格式串
	OpeningFormat string // 参数：主题
	NudgeFormat   string // 参数：@handle
	NoticeFormat  string // 参数：角色名

	ClosingSignals []string
	Headings       transcript.Headings
}

// Opening 返回议长的开场白。
func (l *Locale) Opening(theme string) string { return fmt.Sprintf(l.OpeningFormat, theme) }

// Nudge 返回议长点名的台词。
func (l *Locale) Nudge(handle string) string { return fmt.Sprintf(l.NudgeFormat, "@"+handle) }

// Notice 返回连接失败时议长的台词。
func (l *Locale) Notice(name string) string { return fmt.Sprintf(l.NoticeFormat, name) }

const jaSystemTemplate = `あなたは会話に参加するAIキャラクターです。
名前: {{.Name}}
ハンドル: @{{.Handle}}
性格: {{.Personality}}
環境: {{.Environment}}
会話ルール:
- 感情の温度を保ち、必要以上に冷静にならない。
- 会話の流れに沿い、自然な口調で話す。
- 他のキャラクターに呼びかける時は @handle を使う。
- テーマ: {{.Theme}}
- 使えるメンション: {{mentions .Handles}}
出力はセリフのみ。話者名や記号は付けない。`

const enSystemTemplate = `You are an AI character taking part in a conversation.
Name: {{.Name}}
Handle: @{{.Handle}}
Personality: {{.Personality}}
Environment: {{.Environment}}
Conversation rules:
- Keep your emotional temperature; do not become colder than needed.
- Follow the flow of the conversation and speak naturally.
- Use @handle when addressing another character.
- Theme: {{.Theme}}
- Available mentions: {{mentions .Handles}}
Output only your line of dialogue, without a speaker name or markup.`

var locales = map[string]*Locale{
	"ja": {
		Code:           "ja",
		SystemTemplate: jaSystemTemplate,
		HistoryIntro:   "以下がこれまでの会話ログです。流れに沿って発言してください。",
		OpeningFormat:  "本日のテーマは「%s」です。",
		NudgeFormat:    "%s どう思う？",
		NoticeFormat:   "今の発言取得で問題があったよ。%sはあとで話してね。",
		ClosingSignals: []string{"結論", "まとめ", "以上", "終わり", "もう言うことはない", "締める"},
		Headings:       transcript.DefaultHeadings,
	},
	"en": {
		Code:           "en",
		SystemTemplate: enSystemTemplate,
		HistoryIntro:   "Below is the conversation so far. Continue it with your next line.",
		PersonalityLabels: map[string]string{
			"summary":        "Summary",
			"backstory":      "Backstory",
			"traits":         "Traits",
			"values":         "Values",
			"speaking_style": "Speaking style",
			"likes":          "Likes",
			"dislikes":       "Dislikes",
			"quirks":         "Quirks",
			"taboos":         "Topics to avoid",
			"goals":          "Goals",
			"relationships":  "Relationships",
		},
		OpeningFormat:  "Today's theme is \"%s\".",
		NudgeFormat:    "%s, what do you think?",
		NoticeFormat:   "Something went wrong fetching that line. %s, please speak later.",
		ClosingSignals: []string{"in conclusion", "to sum up", "that's all", "let's wrap up", "nothing more to say"},
		Headings:       transcript.Headings{Theme: "Theme", Environment: "Environment", Conversation: "Conversation"},
	},
}

// DefaultLocale 是默认语言代码。
const DefaultLocale = "ja"

// LookupLocale 按代码查找语言，空代码返回默认语言。
func LookupLocale(code string) (*Locale, error) {
	code = strings.ToLower(strings.TrimSpace(code))
	if code == "" {
		code = DefaultLocale
	}
	l, ok := locales[code]
	if !ok {
		return nil, fmt.Errorf("unknown locale %q (supported: %s)", code, strings.Join(Locales(), ", "))
	}
	return l, nil
}

// Locales 返回排序后的可用语言代码。
func Locales() []string {
	out := make([]string, 0, len(locales))
	for code := range locales {
		out = append(out, code)
	}
	sort.Strings(out)
	return out
}
