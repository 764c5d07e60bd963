package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

// =============================================================================
// 🧪 Collector 测试
// =============================================================================

func TestNewCollector_IndependentRegistries(t *testing.T) {
	// 同一 namespace 创建两次不会因重复注册而 panic
	a := NewCollector("aichatter", zap.NewNop())
	b := NewCollector("aichatter", nil)
	assert.NotSame(t, a.Registry(), b.Registry())
}

func TestCollector_RecordLLMRequest(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordLLMRequest("ollama", "llama3", "ok", 500*time.Millisecond, 100, 50)
	c.RecordLLMRequest("ollama", "llama3", "ok", 200*time.Millisecond, 0, 0)
	c.RecordLLMRequest("ollama", "llama3", "LLM_UPSTREAM_TIMEOUT", time.Second, 0, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("ollama", "llama3", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRequestsTotal.WithLabelValues("ollama", "llama3", "LLM_UPSTREAM_TIMEOUT")))
	assert.Equal(t, 100.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("ollama", "llama3", "prompt")))
	assert.Equal(t, 50.0, testutil.ToFloat64(c.llmTokensUsed.WithLabelValues("ollama", "llama3", "completion")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.llmRequestDuration))
}

func TestCollector_SessionMetrics(t *testing.T) {
	c := NewCollector("test", zap.NewNop())

	c.RecordTurn("alice", "utterance")
	c.RecordTurn("alice", "utterance")
	c.RecordTurn("bob", "short")
	c.RecordLLMRetry("ollama", "llama3")
	c.RecordSession("closing", 42*time.Second)
	c.RecordSinkError("feed")

	assert.Equal(t, 2.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("alice", "utterance")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.turnsTotal.WithLabelValues("bob", "short")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.llmRetries.WithLabelValues("ollama", "llama3")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sessionsTotal.WithLabelValues("closing")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkErrors.WithLabelValues("feed")))
}

func TestCollector_NilSafe(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.RecordLLMRequest("p", "m", "ok", time.Second, 1, 1)
		c.RecordLLMRetry("p", "m")
		c.RecordTurn("a", "utterance")
		c.RecordSession("closing", time.Second)
		c.RecordSinkError("file")
	})
}

func TestCollector_Handler(t *testing.T) {
	c := NewCollector("aichatter", zap.NewNop())
	c.RecordSession("max_turns", time.Minute)

	srv := httptest.NewServer(c.Handler())
	t.Cleanup(srv.Close)

	resp, err := http.Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	assert.True(t, strings.Contains(text, `aichatter_sessions_total{end_reason="max_turns"} 1`))
	assert.Contains(t, text, "go_goroutines")
}
