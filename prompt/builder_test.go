package prompt

import (
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/llm/tokenizer"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testCast() *cast.Cast {
	return &cast.Cast{
		Environment: "深夜のファミレス",
		Characters: []*cast.Character{
			{Name: "議長", Handle: "chair", Role: "chair", Personality: cast.Personality{Text: "進行役"}},
			{Name: "Alice", Handle: "alice", Personality: cast.Personality{
				Text:   "好奇心旺盛",
				Traits: cast.TextList{"明るい", "早口"},
			}},
		},
	}
}

func TestBuilder_SystemJapanese(t *testing.T) {
	b, err := NewBuilder(nil, nil)
	require.NoError(t, err)

	c := testCast()
	got, err := b.System(c.Characters[1], c, "猫と犬")
	require.NoError(t, err)

	want := "あなたは会話に参加するAIキャラクターです。\n" +
		"名前: Alice\n" +
		"ハンドル: @alice\n" +
		"性格: 好奇心旺盛\n性格特性: 明るい / 早口\n" +
		"環境: 深夜のファミレス\n" +
		"会話ルール:\n" +
		"- 感情の温度を保ち、必要以上に冷静にならない。\n" +
		"- 会話の流れに沿い、自然な口調で話す。\n" +
		"- 他のキャラクターに呼びかける時は @handle を使う。\n" +
		"- テーマ: 猫と犬\n" +
		"- 使えるメンション: @chair, @alice\n" +
		"出力はセリフのみ。話者名や記号は付けない。"
	assert.Equal(t, want, got)
}

func TestBuilder_SystemEnglishLabels(t *testing.T) {
	en, err := LookupLocale("EN")
	require.NoError(t, err)
	b, err := NewBuilder(en, nil)
	require.NoError(t, err)

	c := testCast()
	got, err := b.System(c.Characters[1], c, "cats")
	require.NoError(t, err)
	assert.Contains(t, got, "Traits: 明るい / 早口")
	assert.Contains(t, got, "Available mentions: @chair, @alice")
	assert.True(t, strings.HasPrefix(got, "You are an AI character"))
}

func TestNewBuilder_BadTemplate(t *testing.T) {
	_, err := NewBuilder(&Locale{Code: "xx", SystemTemplate: "{{.Name"}, nil)
	assert.Error(t, err)
}

func TestBuilder_User(t *testing.T) {
	b, err := NewBuilder(nil, nil)
	require.NoError(t, err)

	history := []transcript.Entry{
		{Kind: transcript.KindOpening, Speaker: "議長", Handle: "chair", Text: "本日のテーマは「猫と犬」です。"},
		{Kind: transcript.KindUtterance, Speaker: "Alice", Handle: "alice", Text: "猫派！"},
	}
	want := "以下がこれまでの会話ログです。流れに沿って発言してください。\n" +
		"議長(@chair): 本日のテーマは「猫と犬」です。\n" +
		"Alice(@alice): 猫派！"
	assert.Equal(t, want, b.User(history))
}

func TestLocale_ChairLines(t *testing.T) {
	ja, err := LookupLocale("")
	require.NoError(t, err)
	assert.Equal(t, "本日のテーマは「猫と犬」です。", ja.Opening("猫と犬"))
	assert.Equal(t, "@bob どう思う？", ja.Nudge("bob"))
	assert.Equal(t, "今の発言取得で問題があったよ。Bobはあとで話してね。", ja.Notice("Bob"))

	_, err = LookupLocale("fr")
	assert.Error(t, err)
	assert.Equal(t, []string{"en", "ja"}, Locales())
}

func entries(n int) []transcript.Entry {
	out := []transcript.Entry{{Seq: 1, Kind: transcript.KindOpening, Speaker: "議長", Handle: "chair", Text: "opening"}}
	for i := 2; i <= n; i++ {
		out = append(out, transcript.Entry{Seq: i, Kind: transcript.KindUtterance, Speaker: "A", Handle: "a", Text: strings.Repeat("x", 40), At: time.Time{}})
	}
	return out
}

func TestWindow_Fit(t *testing.T) {
	assert.Nil(t, NewWindow(nil, 0))

	w := NewWindow(tokenizer.NewEstimatorTokenizer(), 40)
	history := entries(10)
	got := w.Fit(history)

	require.NotEmpty(t, got)
	assert.Equal(t, transcript.KindOpening, got[0].Kind)
	assert.Equal(t, 10, got[len(got)-1].Seq)
	assert.Less(t, len(got), len(history))
	assert.Len(t, history, 10)

	// 预算充足时原样返回
	big := NewWindow(nil, 1_000_000)
	assert.Equal(t, history, big.Fit(history))
}

// 裁剪结果：保留开场白与最新一条，其余为原记录的连续后缀，且在可能时不超过预算
func TestProperty_WindowKeepsOpeningAndSuffix(t *testing.T) {
	tok := tokenizer.NewEstimatorTokenizer()
	rapid.Check(t, func(rt *rapid.T) {
		n := rapid.IntRange(1, 30).Draw(rt, "n")
		budget := rapid.IntRange(1, 200).Draw(rt, "budget")
		history := entries(n)
		got := NewWindow(tok, budget).Fit(history)

		require.NotEmpty(rt, got)
		assert.Equal(rt, history[0], got[0])
		assert.Equal(rt, history[n-1], got[len(got)-1])
		for i := 2; i < len(got); i++ {
			assert.Equal(rt, got[i-1].Seq+1, got[i].Seq)
		}
		if len(got) > 2 {
			total := 0
			for _, e := range got {
				c, _ := tok.CountTokens(FormatLine(e))
				total += c + 1
			}
			assert.LessOrEqual(rt, total, budget)
		}
	})
}
