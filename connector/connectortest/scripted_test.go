package connectortest

import (
	"errors"
	"strings"
	"testing"

	"github.com/BaSui01/aichatter/connector"
	"github.com/BaSui01/aichatter/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestScriptedConnector_ScriptThenFallback(t *testing.T) {
	ctx := testutil.TestContext(t)
	boom := errors.New("boom")
	conn := NewScriptedConnector().
		Reply("aoi", "  こんにちは  ").
		Fail("aoi", boom)

	text, err := conn.Generate(ctx, connector.Request{Speaker: "aoi"})
	require.NoError(t, err)
	assert.Equal(t, "こんにちは", text)

	_, err = conn.Generate(ctx, connector.Request{Speaker: "aoi"})
	assert.ErrorIs(t, err, boom)

	text, err = conn.Generate(ctx, connector.Request{Speaker: "aoi"})
	require.NoError(t, err)
	assert.Equal(t, "aoi speaking", text)

	assert.Equal(t, []string{"aoi", "aoi", "aoi"}, conn.Speakers())
}

func TestScriptedConnector_Streaming(t *testing.T) {
	conn := NewScriptedConnector().WithStreaming().Reply("ren", "one two three")

	var parts []string
	text, err := conn.Generate(testutil.TestContext(t), connector.Request{
		Speaker: "ren",
		OnDelta: func(d string) { parts = append(parts, d) },
	})
	require.NoError(t, err)
	assert.Equal(t, "one two three", text)
	assert.Equal(t, []string{"one ", "two ", "three"}, parts)
	assert.Equal(t, text, strings.Join(parts, ""))
}

func TestScriptedConnector_CancelledContext(t *testing.T) {
	conn := NewScriptedConnector()
	_, err := conn.Generate(testutil.CancelledContext(), connector.Request{Speaker: "aoi"})
	require.Error(t, err)
	assert.Len(t, conn.Requests(), 1)
}
