package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/BaSui01/aichatter/cast"
	"github.com/BaSui01/aichatter/config"
	"github.com/BaSui01/aichatter/connector"
	"github.com/BaSui01/aichatter/connector/connectortest"
	"github.com/BaSui01/aichatter/internal/metrics"
	"github.com/BaSui01/aichatter/internal/telemetry"
	"github.com/BaSui01/aichatter/prompt"
	"github.com/BaSui01/aichatter/testutil"
	"github.com/BaSui01/aichatter/testutil/fixtures"
	"github.com/BaSui01/aichatter/transcript"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
	"go.opentelemetry.io/otel/sdk/metric/metricdata"
	"go.uber.org/zap/zaptest"
	"pgregory.net/rapid"
)

var epoch = time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)

// --- helpers ---

type recordingSink struct {
	mu       sync.Mutex
	entries  []transcript.Entry
	flushed  *transcript.Transcript
	failWith error
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Record(_ context.Context, _ *transcript.Transcript, e transcript.Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.entries = append(s.entries, e)
	return s.failWith
}

func (s *recordingSink) Flush(_ context.Context, t *transcript.Transcript) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.flushed = t
	return s.failWith
}

type recordingObserver struct {
	mu     sync.Mutex
	events []string
}

func (o *recordingObserver) TurnStarted(_, handle string) { o.add("start " + handle) }
func (o *recordingObserver) TurnDelta(handle, delta string) {
	o.add("delta " + handle + " " + strings.TrimSpace(delta))
}
func (o *recordingObserver) TurnFinished(handle string, err error) {
	o.add(fmt.Sprintf("end %s %v", handle, err != nil))
}
func (o *recordingObserver) add(s string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.events = append(o.events, s)
}

func settings(policy string) config.SessionConfig {
	s := config.DefaultSessionConfig()
	s.Policy = policy
	s.MaxTurns = 6
	s.Seed = 42
	return s
}

func newSession(t *testing.T, cs *cast.Cast, conn connector.Connector, s config.SessionConfig, extra ...func(*Options)) *Session {
	t.Helper()
	opts := Options{
		Cast:      cs,
		Connector: conn,
		Settings:  s,
		Logger:    zaptest.NewLogger(t),
		Clock:     testutil.NewFakeClock(epoch),
		ID:        "session-test",
	}
	for _, fn := range extra {
		fn(&opts)
	}
	sess, err := New(opts)
	require.NoError(t, err)
	return sess
}

func kinds(tr *transcript.Transcript) []transcript.Kind {
	var out []transcript.Kind
	for _, e := range tr.Entries() {
		out = append(out, e.Kind)
	}
	return out
}

// --- construction ---

func TestNew_Validation(t *testing.T) {
	conn := connectortest.NewScriptedConnector()

	_, err := New(Options{Connector: conn})
	assert.Error(t, err)

	_, err = New(Options{Cast: fixtures.SampleCast()})
	assert.Error(t, err)

	_, err = New(Options{Cast: fixtures.SampleCast(), Connector: conn, Settings: config.SessionConfig{Policy: "x"}})
	assert.Error(t, err)

	sess, err := New(Options{Cast: fixtures.SampleCast(), Connector: conn})
	require.NoError(t, err)
	assert.NotEmpty(t, sess.ID())
}

func TestRun_EmptyTheme(t *testing.T) {
	sess := newSession(t, fixtures.SampleCast(), connectortest.NewScriptedConnector(), settings(config.PolicyDirected))
	_, err := sess.Run(testutil.TestContext(t), "   ")
	assert.ErrorIs(t, err, ErrEmptyTheme)
}

func TestNew_ZeroMinReplyRunesUsesDefault(t *testing.T) {
	conn := connectortest.NewScriptedConnector().Reply("aoi", "")
	sess, err := New(Options{
		Cast:      fixtures.SampleCast(),
		Connector: conn,
		Settings:  config.SessionConfig{Policy: config.PolicyRoundRobin, MaxTurns: 2},
		Clock:     testutil.NewFakeClock(epoch),
	})
	require.NoError(t, err)

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Equal(t, []transcript.Kind{transcript.KindOpening, transcript.KindUtterance}, kinds(tr))
	assert.Equal(t, "ren", tr.Turns()[0].Handle)
}

// --- flow ---

func TestRun_OpeningAndMaxTurns(t *testing.T) {
	conn := connectortest.NewScriptedConnector()
	sink := &recordingSink{}
	sess := newSession(t, fixtures.SampleCast(), conn, settings(config.PolicyRoundRobin),
		func(o *Options) { o.Sink = sink })

	tr, err := sess.Run(testutil.TestContext(t), "猫と犬")
	require.NoError(t, err)

	entries := tr.Entries()
	require.Len(t, entries, 7)
	assert.Equal(t, transcript.KindOpening, entries[0].Kind)
	assert.Equal(t, "chair", entries[0].Handle)
	assert.Equal(t, "本日のテーマは「猫と犬」です。", entries[0].Text)

	assert.Equal(t, transcript.EndMaxTurns, tr.EndReason())
	assert.Equal(t, []string{"aoi", "ren", "mio", "chair", "aoi", "ren"}, conn.Speakers())
	assert.Len(t, tr.Turns(), 6)

	assert.Len(t, sink.entries, 7)
	assert.Same(t, tr, sink.flushed)
}

func TestRun_PromptsCarryCharacterAndHistory(t *testing.T) {
	conn := connectortest.NewScriptedConnector()
	cs := fixtures.SampleCast()
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 2
	sess := newSession(t, cs, conn, s, func(o *Options) { o.MaxTokens = 128 })

	_, err := sess.Run(testutil.TestContext(t), "旅行")
	require.NoError(t, err)

	reqs := conn.Requests()
	require.Len(t, reqs, 2)
	first := reqs[0]
	assert.Equal(t, "aoi", first.Speaker)
	assert.Equal(t, cs.Characters[1].Model, first.Model)
	assert.Equal(t, cs.Characters[1].Host, first.Host)
	assert.InDelta(t, 0.7, first.Temperature, 1e-9)
	assert.Equal(t, 128, first.MaxTokens)
	assert.Contains(t, first.System, "@aoi")
	assert.Contains(t, first.System, "旅行")
	assert.Contains(t, first.User, "議長(@chair): 本日のテーマは「旅行」です。")

	assert.Contains(t, reqs[1].User, "Aoi(@aoi): aoi speaking")
}

func TestRun_MentionForcesNextSpeaker(t *testing.T) {
	conn := connectortest.NewScriptedConnector().WithFallback(func(req connector.Request) (string, error) {
		if req.Speaker == "mio" {
			return "呼ばれました", nil
		}
		return "@mio はどう思う？", nil
	})
	s := settings(config.PolicyDirected)
	s.MaxTurns = 6
	sess := newSession(t, fixtures.SampleCast(), conn, s)

	_, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)

	speakers := conn.Speakers()
	for i := 0; i+1 < len(speakers); i++ {
		if speakers[i] != "mio" {
			assert.Equal(t, "mio", speakers[i+1], "after %s at %d", speakers[i], i)
		}
	}
}

func TestRun_ShortReplyNudges(t *testing.T) {
	conn := connectortest.NewScriptedConnector()
	cs := fixtures.SampleCast()
	for _, h := range cs.Handles() {
		conn.Reply(h, "…")
	}
	s := settings(config.PolicyDirected)
	s.MaxTurns = 2
	sess := newSession(t, cs, conn, s)

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)

	entries := tr.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, transcript.KindNudge, entries[1].Kind)
	assert.Equal(t, "chair", entries[1].Handle)
	assert.True(t, strings.HasSuffix(entries[1].Text, " どう思う？"))

	target := strings.TrimPrefix(strings.Fields(entries[1].Text)[0], "@")
	assert.NotEqual(t, "chair", target)
	require.Len(t, conn.Speakers(), 2)
	assert.Equal(t, target, conn.Speakers()[1])
}

func TestRun_ShortReplySkippedInRoundRobin(t *testing.T) {
	conn := connectortest.NewScriptedConnector().Reply("aoi", "")
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 2
	sess := newSession(t, fixtures.SampleCast(), conn, s)

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Equal(t, []transcript.Kind{transcript.KindOpening, transcript.KindUtterance}, kinds(tr))
	assert.Equal(t, "ren", tr.Turns()[0].Handle)
}

func TestRun_ConnectorErrorSkip(t *testing.T) {
	conn := connectortest.NewScriptedConnector().Fail("aoi", errors.New("connection refused"))
	m := metrics.NewCollector("test", nil)
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 2
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Metrics = m })

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)

	entries := tr.Entries()
	require.Len(t, entries, 3)
	assert.Equal(t, transcript.KindNotice, entries[1].Kind)
	assert.Equal(t, "今の発言取得で問題があったよ。Aoiはあとで話してね。", entries[1].Text)
	assert.Equal(t, transcript.KindUtterance, entries[2].Kind)
	assert.Equal(t, transcript.EndMaxTurns, tr.EndReason())
	// aoi/error 与 ren/utterance 两个序列
	assert.Equal(t, 2, promtest.CollectAndCount(m.Registry(), "test_turns_total"))
}

func TestRun_ConnectorErrorAbort(t *testing.T) {
	boom := errors.New("connection refused")
	conn := connectortest.NewScriptedConnector().Fail("aoi", boom)
	sink := &recordingSink{}
	s := settings(config.PolicyRoundRobin)
	s.OnConnectorError = config.OnErrorAbort
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Sink = sink })

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrConnector)
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, transcript.EndConnectorError, tr.EndReason())
	assert.Equal(t, []transcript.Kind{transcript.KindOpening, transcript.KindNotice}, kinds(tr))
	assert.NotNil(t, sink.flushed)
}

func TestRun_ClosingSignalEnds(t *testing.T) {
	conn := connectortest.NewScriptedConnector().
		Reply("aoi", "いい話でした").
		Reply("ren", "そろそろ").
		Reply("mio", "では結論です")
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 10
	sess := newSession(t, fixtures.SampleCast(), conn, s)

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Equal(t, transcript.EndClosing, tr.EndReason())
	assert.Len(t, tr.Turns(), 3)
}

func TestRun_CustomClosingSignals(t *testing.T) {
	conn := connectortest.NewScriptedConnector().Reply("aoi", "ok", "ok").Reply("ren", "that's a wrap")
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 10
	s.ClosingSignals = []string{"wrap"}
	builder, err := prompt.NewBuilder(mustLocale(t, "en"), nil)
	require.NoError(t, err)
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Builder = builder })

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Equal(t, transcript.EndClosing, tr.EndReason())
}

func mustLocale(t *testing.T, code string) *prompt.Locale {
	t.Helper()
	l, err := prompt.LookupLocale(code)
	require.NoError(t, err)
	return l
}

func TestRun_TimeBudgetAllowsInFlightTurn(t *testing.T) {
	clock := testutil.NewFakeClock(epoch)
	conn := connectortest.NewScriptedConnector().OnEach(func(connector.Request) {
		clock.Advance(40 * time.Second)
	})
	s := settings(config.PolicyDirected)
	s.MaxTurns = 0
	s.MaxDuration = 100 * time.Second
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Clock = clock })

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)

	assert.Equal(t, transcript.EndTimeBudget, tr.EndReason())
	assert.Len(t, conn.Requests(), 3)
	elapsed := tr.EndedAt().Sub(tr.StartedAt)
	assert.LessOrEqual(t, elapsed, s.MaxDuration+40*time.Second)
	assert.GreaterOrEqual(t, elapsed, s.MaxDuration)
}

func TestRun_InterruptedStillFlushes(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	calls := 0
	conn := connectortest.NewScriptedConnector().OnEach(func(connector.Request) {
		calls++
		if calls == 3 {
			cancel()
		}
	})
	sink := &recordingSink{}
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 0
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Sink = sink })

	tr, err := sess.Run(ctx, "theme")
	require.NoError(t, err)
	assert.Equal(t, transcript.EndInterrupted, tr.EndReason())
	assert.Len(t, tr.Turns(), 2)
	assert.Same(t, tr, sink.flushed)
	for _, k := range kinds(tr) {
		assert.NotEqual(t, transcript.KindNotice, k)
	}
}

func TestRun_SinkFailureIsNotFatal(t *testing.T) {
	m := metrics.NewCollector("test", nil)
	sink := transcript.MultiSink{&recordingSink{failWith: errors.New("disk full")}}
	sess := newSession(t, fixtures.SampleCast(), connectortest.NewScriptedConnector(), settings(config.PolicyRoundRobin),
		func(o *Options) {
			o.Sink = sink
			o.Metrics = m
		})

	tr, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Len(t, tr.Turns(), 6)
	assert.Equal(t, 1, promtest.CollectAndCount(m.Registry(), "test_sink_errors_total"))
}

func TestRun_ObserversSeeStreaming(t *testing.T) {
	obs := &recordingObserver{}
	conn := connectortest.NewScriptedConnector().WithStreaming().
		Reply("aoi", "hello there").
		Fail("ren", errors.New("boom"))
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 2
	sess := newSession(t, fixtures.SampleCast(), conn, s, func(o *Options) { o.Observers = []Observer{obs} })

	_, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)
	assert.Equal(t, []string{
		"start aoi", "delta aoi hello", "delta aoi there", "end aoi false",
		"start ren", "end ren true",
	}, obs.events)
}

func TestRun_SameInputsSameSpeakers(t *testing.T) {
	for _, policy := range []string{config.PolicyDirected, config.PolicyRoundRobin} {
		t.Run(policy, func(t *testing.T) {
			run := func(seed int64) []string {
				conn := connectortest.NewScriptedConnector()
				s := settings(policy)
				s.Seed = seed
				s.MaxTurns = 25
				sess := newSession(t, fixtures.SampleCast(), conn, s)
				_, err := sess.Run(testutil.TestContext(t), "同じテーマ")
				require.NoError(t, err)
				return conn.Speakers()
			}
			assert.Equal(t, run(0), run(0))
			assert.Equal(t, run(99), run(99))
		})
	}
}

func TestProperty_TurnsMatchSuccessfulGenerations(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		outcomes := rapid.SliceOfN(rapid.SampledFrom([]string{"ok", "short", "error"}), 1, 30).Draw(rt, "outcomes")
		policy := rapid.SampledFrom([]string{config.PolicyDirected, config.PolicyRoundRobin}).Draw(rt, "policy")

		var (
			mu       sync.Mutex
			i        int
			expected []string
		)
		conn := connectortest.NewScriptedConnector().WithFallback(func(req connector.Request) (string, error) {
			mu.Lock()
			defer mu.Unlock()
			o := outcomes[i]
			i++
			switch o {
			case "short":
				return "x", nil
			case "error":
				return "", errors.New("unavailable")
			}
			text := fmt.Sprintf("reply %d", i)
			expected = append(expected, text)
			return text, nil
		})

		s := settings(policy)
		s.MaxTurns = len(outcomes)
		s.ClosingSignals = []string{"never-said"}
		sess, err := New(Options{
			Cast:      fixtures.SampleCast(),
			Connector: conn,
			Settings:  s,
			Clock:     testutil.NewFakeClock(epoch),
		})
		if err != nil {
			rt.Fatal(err)
		}

		tr, err := sess.Run(context.Background(), "theme")
		if err != nil {
			rt.Fatal(err)
		}
		turns := tr.Turns()
		if len(turns) != len(expected) {
			rt.Fatalf("got %d turns, want %d", len(turns), len(expected))
		}
		for j, e := range turns {
			if e.Text != expected[j] {
				rt.Fatalf("turn %d = %q, want %q", j, e.Text, expected[j])
			}
			if j > 0 && e.Seq <= turns[j-1].Seq {
				rt.Fatalf("turn order broken at %d", j)
			}
		}
	})
}

func TestRun_RecordsOTelInstruments(t *testing.T) {
	reader := sdkmetric.NewManualReader()
	mp := sdkmetric.NewMeterProvider(sdkmetric.WithReader(reader))
	t.Cleanup(func() { _ = mp.Shutdown(context.Background()) })

	conn := connectortest.NewScriptedConnector().Fail("ren", errors.New("down"))
	s := settings(config.PolicyRoundRobin)
	s.MaxTurns = 3
	sess := newSession(t, fixtures.SampleCast(), conn, s,
		func(o *Options) { o.Meter = mp.Meter(telemetry.InstrumentationName) })

	_, err := sess.Run(testutil.TestContext(t), "theme")
	require.NoError(t, err)

	var rm metricdata.ResourceMetrics
	require.NoError(t, reader.Collect(context.Background(), &rm))

	outcomes := map[string]int64{}
	var sessions []string
	for _, sm := range rm.ScopeMetrics {
		for _, m := range sm.Metrics {
			sum, ok := m.Data.(metricdata.Sum[int64])
			if !ok {
				continue
			}
			for _, dp := range sum.DataPoints {
				switch m.Name {
				case telemetry.MetricTurns:
					outcome, _ := dp.Attributes.Value("outcome")
					outcomes[outcome.AsString()] += dp.Value
				case telemetry.MetricSessions:
					reason, _ := dp.Attributes.Value("end_reason")
					sessions = append(sessions, reason.AsString())
				}
			}
		}
	}
	assert.Equal(t, map[string]int64{"utterance": 2, "error": 1}, outcomes)
	assert.Equal(t, []string{string(transcript.EndMaxTurns)}, sessions)
}
