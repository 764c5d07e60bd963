package main

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/internal/archive"
	"github.com/BaSui01/aichatter/llm"
	"github.com/BaSui01/aichatter/llm/factory"
	"github.com/BaSui01/aichatter/testutil/fixtures"
	"github.com/BaSui01/aichatter/testutil/mocks"
	"github.com/BaSui01/aichatter/transcript"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

const castMarkdown = `# Environment
静かな研究室。

# Characters

## 議長
- handle: chair
- role: chair
- host: http://localhost:11434
- model: gemma3:4b
- personality: 穏やかな司会者

## Aoi
- host: http://localhost:11434
- model: gemma3:4b
- personality: 猫が好き

## Ren
- host: http://localhost:11434
- model: gemma3:4b
- personality: 犬が好き
`

type harness struct {
	app    *app
	stdout *bytes.Buffer
	stderr *bytes.Buffer
	dir    string
	env    map[string]string
	mock   *mocks.MockProvider
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "characters.md"), []byte(castMarkdown), 0o644))

	h := &harness{
		stdout: &bytes.Buffer{},
		stderr: &bytes.Buffer{},
		dir:    dir,
		env: map[string]string{
			"AICHATTER_OUTPUT_DIR": filepath.Join(dir, "outputs"),
			"AICHATTER_LOG_LEVEL":  "error",
		},
		mock: mocks.NewMockProvider().WithResponse("なるほど、面白いね"),
	}
	h.app = newApp(h.stdout, h.stderr)
	h.app.envLookup = func(k string) (string, bool) {
		v, ok := h.env[k]
		return v, ok
	}
	h.app.providerFactory = func(name string, _ factory.ProviderConfig, _ *zap.Logger) (llm.Provider, error) {
		return h.mock.WithName(name), nil
	}
	return h
}

func (h *harness) exec(t *testing.T, args ...string) error {
	t.Helper()
	root := newRootCmd(h.app)
	root.SetArgs(args)
	root.SetContext(context.Background())
	return root.Execute()
}

func (h *harness) castFlag() string {
	return "--config=" + filepath.Join(h.dir, "characters.md")
}

func TestRun_WritesTranscriptAndPrintsPath(t *testing.T) {
	h := newHarness(t)

	err := h.exec(t, "--theme", "猫と犬", h.castFlag(), "--max-turns", "3", "--no-stream")
	require.NoError(t, err)

	out := h.stdout.String()
	assert.Contains(t, out, "本日のテーマは「猫と犬」です。")
	assert.Contains(t, out, "なるほど、面白いね")
	assert.Contains(t, out, "[output] ")
	assert.Equal(t, 3, h.mock.CallCount())

	files, err := filepath.Glob(filepath.Join(h.dir, "outputs", "*.md"))
	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Contains(t, out, files[0])

	md, err := os.ReadFile(files[0])
	require.NoError(t, err)
	assert.Contains(t, string(md), "猫と犬")
}

func TestRun_SubcommandAlias(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, "run", "--theme", "t", h.castFlag(), "--max-turns", "1"))
	assert.Equal(t, 1, h.mock.CallCount())
}

func TestRun_ArchiveSink(t *testing.T) {
	h := newHarness(t)
	dbPath := filepath.Join(h.dir, "archive.db")
	h.env["AICHATTER_ARCHIVE_ENABLED"] = "true"
	h.env["AICHATTER_ARCHIVE_NAME"] = dbPath

	require.NoError(t, h.exec(t, "--theme", "猫と犬", h.castFlag(), "--max-turns", "2", "--no-stream"))

	cfg := config.DefaultArchiveConfig()
	cfg.Name = dbPath
	store, err := archive.Open(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer store.Close()

	sessions, err := store.List(context.Background(), 0)
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	assert.Equal(t, "猫と犬", sessions[0].Theme)
	assert.Equal(t, 2, sessions[0].Turns)
	assert.Equal(t, string(transcript.EndMaxTurns), sessions[0].EndReason)

	h.stdout.Reset()
	require.NoError(t, h.exec(t, "history"))
	assert.Contains(t, h.stdout.String(), sessions[0].ID)

	h.stdout.Reset()
	require.NoError(t, h.exec(t, "history", sessions[0].ID))
	assert.Contains(t, h.stdout.String(), "なるほど、面白いね")

	assert.Error(t, h.exec(t, "history", "missing"))
}

func TestRun_FeedUnavailableIsNotFatal(t *testing.T) {
	h := newHarness(t)
	h.env["AICHATTER_FEED_ENABLED"] = "true"
	h.env["AICHATTER_FEED_ADDR"] = "127.0.0.1:1"
	h.env["AICHATTER_FEED_WRITE_TIMEOUT"] = "0.2"

	require.NoError(t, h.exec(t, "--theme", "t", h.castFlag(), "--max-turns", "1"))
	assert.Contains(t, h.stderr.String(), "live feed disabled")
}

func TestRun_ConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		args func(h *harness) []string
		env  map[string]string
		want string
	}{
		{
			name: "missing theme",
			args: func(h *harness) []string { return []string{h.castFlag()} },
			want: "--theme is required",
		},
		{
			name: "missing cast file",
			args: func(h *harness) []string {
				return []string{"--theme", "t", "--config", filepath.Join(h.dir, "nope.md")}
			},
			want: "config not found",
		},
		{
			name: "bad policy",
			args: func(h *harness) []string { return []string{"--theme", "t", h.castFlag(), "--policy", "chaos"} },
			want: "policy",
		},
		{
			name: "bad env override",
			args: func(h *harness) []string { return []string{"--theme", "t", h.castFlag()} },
			env:  map[string]string{"AICHATTER_SESSION_MAX_TURNS": "many"},
			want: "MAX_TURNS",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := newHarness(t)
			for k, v := range tt.env {
				h.env[k] = v
			}
			err := h.exec(t, tt.args(h)...)
			require.Error(t, err)

			var buf bytes.Buffer
			reportError(&buf, err)
			assert.True(t, strings.HasPrefix(buf.String(), "config error: "), buf.String())
			assert.Contains(t, buf.String(), tt.want)
			assert.Equal(t, 0, h.mock.CallCount(), "no connector call on config error")
		})
	}
}

func TestValidateCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, "validate", h.castFlag()))

	out := h.stdout.String()
	assert.Contains(t, out, "@chair")
	assert.Contains(t, out, "@aoi")
	assert.Contains(t, out, "ok: 3 characters")
	assert.Equal(t, 0, h.mock.CallCount())
}

func TestCheckCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, "check", h.castFlag()))
	assert.Contains(t, h.stdout.String(), "ok ")

	h = newHarness(t)
	h.mock = h.mock.WithHealthError(fixtures.UpstreamError())
	err := h.exec(t, "check", h.castFlag(), "--timeout", "2s")
	require.Error(t, err)
	assert.Contains(t, h.stdout.String(), "FAIL")
}

func TestVersionCommand(t *testing.T) {
	h := newHarness(t)
	require.NoError(t, h.exec(t, "version"))
	assert.Contains(t, h.stdout.String(), "aichatter dev")
}

func TestApplyFlags_OnlyChanged(t *testing.T) {
	opts := &runOptions{}
	fs := pflag.NewFlagSet("t", pflag.ContinueOnError)
	registerRunFlags(fs, opts)
	require.NoError(t, fs.Parse([]string{"--max-turns", "7", "--policy", "round_robin", "--no-stream"}))

	cfg := config.DefaultConfig()
	cfg.Session.MaxDuration = 42 * time.Second
	applyFlags(fs, cfg, opts)

	assert.Equal(t, 7, cfg.Session.MaxTurns)
	assert.Equal(t, config.PolicyRoundRobin, cfg.Session.Policy)
	assert.False(t, cfg.LLM.Stream)
	assert.Equal(t, 42*time.Second, cfg.Session.MaxDuration, "unchanged flag keeps settings value")

	require.NoError(t, fs.Parse([]string{"--max-seconds", "5"}))
	applyFlags(fs, cfg, opts)
	assert.Equal(t, 5*time.Second, cfg.Session.MaxDuration)
}

func TestExecute_ExitCodes(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 0, execute([]string{"version"}, &stdout, &stderr))
	assert.Equal(t, 1, execute([]string{"--config", "/nonexistent/x.md", "--theme", "t"}, &stdout, &stderr))
	assert.Contains(t, stderr.String(), "config error:")
}
