package logging

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLevel(t *testing.T) {
	assert.Equal(t, zerolog.DebugLevel, ParseLevel("debug"))
	assert.Equal(t, zerolog.WarnLevel, ParseLevel("WARNING"))
	assert.Equal(t, zerolog.ErrorLevel, ParseLevel(" error "))
	assert.Equal(t, zerolog.InfoLevel, ParseLevel("nonsense"))
}

func TestTradeContextFields(t *testing.T) {
	var buf bytes.Buffer
	base := zerolog.New(&buf)

	tl := TradeContext(base, "BTCUSDT", "BUY", 0.12, 100)
	tl.Info().Msg("placed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "BTCUSDT", entry["symbol"])
	assert.Equal(t, "BUY", entry["side"])
	assert.Equal(t, 0.12, entry["quantity"])
	assert.Equal(t, "placed", entry["message"])
}

func TestWithTraceContextRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	ctx, _ := WithTraceContext(context.Background(), zerolog.New(&buf))
	l := FromContext(ctx, zerolog.Nop())
	l.Info().Msg("hello")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.NotEmpty(t, entry["trace_id"])

	if got := FromContext(context.Background(), zerolog.Nop()); got.GetLevel() != zerolog.Disabled {
		t.Errorf("Expected fallback logger, got level %v", got.GetLevel())
	}
}
