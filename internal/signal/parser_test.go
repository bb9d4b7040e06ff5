package signal

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const btcLong = "#BTCUSDT 🟢 LONG\nENTRY $67250.00\nTP'S 5% ($70612.50)\nSTOP LOSS: 2.5% ($65568.75)\nLeverage 10X"

func TestParseFullLongSignal(t *testing.T) {
	sig := Parse(btcLong)

	assert.Equal(t, DirectionLong, sig.Direction)
	assert.Equal(t, []float64{67250.00}, sig.EntryPrices)
	assert.Equal(t, []TakeProfit{{Level: 1, Price: 70612.50}}, sig.TakeProfits)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 65568.75, *sig.StopLoss)
	require.NotNil(t, sig.Leverage)
	assert.Equal(t, 10, *sig.Leverage)
	assert.Equal(t, SubtypeNone, sig.Subtype)
}

func TestParseIsIdempotent(t *testing.T) {
	inputs := []string{
		btcLong,
		"ALERTAS EMA CROSS (m15) EMA 20/50 #ETHUSDT",
		"#SOLUSDT FIBONACCI SHORT\nENTRADA $150 $148\nTP1 $140 TP2 $130\nApalancamiento 20x",
		"",
	}
	for _, in := range inputs {
		assert.Equal(t, Parse(in), Parse(in), "input %q", in)
	}
}

func TestParseDirection(t *testing.T) {
	tests := []struct {
		text string
		want Direction
	}{
		{"BTC LONG", DirectionLong},
		{"BTC 🟢", DirectionLong},
		{"BTC short now", DirectionShort},
		{"ETH 🔴", DirectionShort},
		{"LONG then SHORT", DirectionShort},
		{"SHORT squeeze into LONG", DirectionShort},
		{"#SOLUSDT going along nicely", DirectionUnknown},
		{"this one will belong to the bulls", DirectionUnknown},
		{"update shortly", DirectionUnknown},
		{"#ETHUSDT LONG, update shortly", DirectionLong},
		{"#BTCUSDT 🟢LONG", DirectionLong},
		{"no direction here", DirectionUnknown},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, parseDirection(tt.text), tt.text)
	}
}

func TestParseMultipleEntriesAndTargets(t *testing.T) {
	text := "#SOLUSDT SHORT\nENTRADA: $150.5 - $152\n🚀\nTP1 $140\nTP2 $130\nTP3 $1,120.5\nSTOP LOSS $160\nApalancamiento 20x"
	sig := Parse(text)

	assert.Equal(t, DirectionShort, sig.Direction)
	assert.Equal(t, []float64{150.5, 152}, sig.EntryPrices)
	assert.Equal(t, []TakeProfit{
		{Level: 1, Price: 140},
		{Level: 2, Price: 130},
		{Level: 3, Price: 1120.5},
	}, sig.TakeProfits)
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 160.0, *sig.StopLoss)
	require.NotNil(t, sig.Leverage)
	assert.Equal(t, 20, *sig.Leverage)
}

func TestParseTakeProfitFallbackSkipsStopLoss(t *testing.T) {
	text := "#XRPUSDT LONG\nTargets: 3% ($0.55) 6% ($0.58)\nSTOP LOSS: 2.5% ($0.50)"
	sig := Parse(text)

	require.Len(t, sig.TakeProfits, 2)
	assert.Equal(t, TakeProfit{Level: 1, Price: 0.55, Percent: 3}, sig.TakeProfits[0])
	assert.Equal(t, TakeProfit{Level: 2, Price: 0.58, Percent: 6}, sig.TakeProfits[1])
	require.NotNil(t, sig.StopLoss)
	assert.Equal(t, 0.50, *sig.StopLoss)
}

func TestParseMissingFieldsStayEmpty(t *testing.T) {
	sig := Parse("just chatting about the market")

	assert.Equal(t, DirectionUnknown, sig.Direction)
	assert.Empty(t, sig.EntryPrices)
	assert.Empty(t, sig.TakeProfits)
	assert.Nil(t, sig.StopLoss)
	assert.Nil(t, sig.Leverage)
	assert.Equal(t, SubtypeNone, sig.Subtype)
}

func TestParseRetracementForcesDirection(t *testing.T) {
	sig := Parse("🔴 #ADAUSDT FIBO LONG setup")
	assert.Equal(t, SubtypeRetracement, sig.Subtype)
	assert.Equal(t, RetracementTimeframe, sig.Timeframe)
	assert.Equal(t, DirectionLong, sig.Direction)

	sig = Parse("#ADAUSDT SHORT FIBONACCI")
	assert.Equal(t, DirectionShort, sig.Direction)
}

func TestParseMACross(t *testing.T) {
	sig := Parse("ALERTAS EMA CROSS (m15)\nEMA 20/50 #ETHUSDT")
	assert.Equal(t, SubtypeMACross, sig.Subtype)
	assert.Equal(t, "15m", sig.Timeframe)
	assert.Equal(t, 20, sig.FastPeriod)
	assert.Equal(t, 50, sig.SlowPeriod)

	sig = Parse("EMA CROSS on #ETHUSDT")
	assert.Equal(t, MACrossTimeframe, sig.Timeframe)
	assert.Equal(t, DefaultFastPeriod, sig.FastPeriod)
	assert.Equal(t, DefaultSlowPeriod, sig.SlowPeriod)
}

func TestDedupKey(t *testing.T) {
	assert.Equal(t, "BTCUSDT_#BTCUSDT_LONG_now", DedupKey("BTCUSDT", "#BTCUSDT  LONG\nnow", 50))
	assert.Equal(t, "BTCUSDT_abc", DedupKey("BTCUSDT", "abcdef", 3))
}

func TestEntryMean(t *testing.T) {
	sig := Signal{EntryPrices: []float64{99, 101}}
	mean, ok := sig.EntryMean()
	assert.True(t, ok)
	assert.Equal(t, 100.0, mean)

	_, ok = (&Signal{}).EntryMean()
	assert.False(t, ok)
}
