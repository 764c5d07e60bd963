package conversation

import (
	"testing"
	"time"

	"github.com/BaSui01/aichatter/prompt"
	"github.com/BaSui01/aichatter/testutil/fixtures"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFirstMention(t *testing.T) {
	cs := fixtures.SampleCast()

	tests := []struct {
		name string
		text string
		self string
		want string
	}{
		{"none", "こんにちは", "aoi", ""},
		{"single", "@ren どう思う？", "aoi", "ren"},
		{"first valid wins", "@ghost と @mio と @ren", "aoi", "mio"},
		{"self ignored", "@aoi です。@ren は？", "aoi", "ren"},
		{"only self", "@aoi です", "aoi", ""},
		{"punctuation ends handle", "ねえ@ren、聞いて", "aoi", "ren"},
		{"chair", "@chair まとめて", "aoi", "chair"},
		{"case sensitive", "@Ren", "aoi", ""},
		{"honorific suffix", "@renさん、どう？", "aoi", "ren"},
		{"longer ascii name", "@renovate の話", "aoi", ""},
		{"underscore continues name", "@ren_bot に聞いて", "aoi", ""},
		{"hyphen continues name", "@ren-chan", "aoi", ""},
		{"email address", "mail: info@renraku.jp", "aoi", ""},
		{"email with exact handle", "mail: info@ren.jp", "aoi", ""},
		{"longer name then valid", "@renovate より @mio", "aoi", "mio"},
		{"handle at end of sentence", "次は@ren.", "aoi", "ren"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, FirstMention(tt.text, cs, tt.self))
		})
	}
}

func entries(texts ...string) []transcript.Entry {
	tr := transcript.New("id", "theme", "env", time.Unix(0, 0))
	for _, text := range texts {
		tr.Append(transcript.KindUtterance, "A", "a", text, time.Unix(0, 0))
	}
	return tr.Entries()
}

func TestShouldClose(t *testing.T) {
	locale, err := prompt.LookupLocale("ja")
	require.NoError(t, err)
	signals := locale.ClosingSignals

	tests := []struct {
		name  string
		texts []string
		want  bool
	}{
		{"too few entries", []string{"開始", "結論です", "以上"}, false},
		{"signal in tail", []string{"開始", "a", "b", "では結論です"}, true},
		{"signal outside tail", []string{"開始", "まとめ", "a", "b", "c"}, false},
		{"mention blocks closing", []string{"開始", "a", "以上です", "@ren は？"}, false},
		{"mention without signal", []string{"開始", "a", "b", "@ren"}, false},
		{"no signal", []string{"開始", "a", "b", "c"}, false},
		{"long phrase", []string{"開始", "a", "b", "もう言うことはない"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldClose(entries(tt.texts...), signals))
		})
	}

	assert.False(t, ShouldClose(entries("a", "b", "c", "以上"), nil))
	assert.False(t, ShouldClose(entries("a", "b", "c", "d"), []string{""}))
}
