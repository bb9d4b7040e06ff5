package analysis

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

type fakeKlines struct {
	byInterval map[string][]market.Kline
	err        error
	requests   []string
}

func (f *fakeKlines) Klines(_ context.Context, _ string, interval string, _ int) ([]market.Kline, error) {
	f.requests = append(f.requests, interval)
	if f.err != nil {
		return nil, f.err
	}
	return f.byInterval[interval], nil
}

func barsFromCloses(closes []float64) []market.Kline {
	out := make([]market.Kline, len(closes))
	for i, c := range closes {
		out[i] = market.Kline{Open: c, High: c + 0.5, Low: c - 0.5, Close: c}
	}
	return out
}

// swingBars builds 60 bars ranging 100-110 over the last 20, closing mostly at 103
func swingBars(bounceAt []int, last float64) []market.Kline {
	closes := make([]float64, 60)
	for i := range closes {
		closes[i] = 103
	}
	for _, i := range bounceAt {
		closes[i] = 106.2
	}
	closes[len(closes)-1] = last
	bars := barsFromCloses(closes)
	bars[45].High = 110
	bars[50].Low = 100
	return bars
}

func TestRetracementLongLevels(t *testing.T) {
	res := Retracement(swingBars([]int{42, 48, 54}, 106.1), signal.DirectionLong)

	assert.Equal(t, 110.0, res.SwingHigh)
	assert.Equal(t, 100.0, res.SwingLow)
	require.Len(t, res.Levels, len(FibonacciRatios))
	assert.Equal(t, 100.0, res.Levels[0].Price)
	assert.Equal(t, 110.0, res.Levels[len(res.Levels)-1].Price)

	assert.Equal(t, 0.618, res.MostEffective.Ratio)
	assert.Equal(t, 3, res.MostEffective.Bounces)
	assert.InDelta(t, 106.18, res.MostEffective.Price, 1e-9)
	assert.True(t, res.AtOptimalLevel)
}

func TestRetracementShortMeasuresFromHigh(t *testing.T) {
	res := Retracement(swingBars(nil, 103), signal.DirectionShort)

	assert.Equal(t, 110.0, res.Levels[0].Price)
	assert.Equal(t, 100.0, res.Levels[len(res.Levels)-1].Price)
	assert.InDelta(t, 103.82, res.MostEffective.Price, 1e-9)
}

func TestRetracementDefaultsToGoldenRatio(t *testing.T) {
	res := Retracement(swingBars(nil, 109), signal.DirectionLong)

	assert.Equal(t, 0.618, res.MostEffective.Ratio)
	assert.Zero(t, res.MostEffective.Bounces)
	assert.False(t, res.AtOptimalLevel)
	assert.Contains(t, res.Recommendation(), "place limit order")
}

func TestRetracementWithoutBars(t *testing.T) {
	assert.Nil(t, Retracement(nil, signal.DirectionLong))
	assert.Nil(t, Retracement([]market.Kline{}, signal.DirectionShort))

	res := Retracement(swingBars(nil, 103)[:1], signal.DirectionLong)
	require.NotNil(t, res)
	if len(res.Levels) != len(FibonacciRatios) {
		t.Errorf("Expected %d levels, got %d", len(FibonacciRatios), len(res.Levels))
	}
}

func TestFibonacciAnalyzerFallsBackToHourly(t *testing.T) {
	src := &fakeKlines{byInterval: map[string][]market.Kline{
		"4h": swingBars(nil, 103)[:30],
		"1h": swingBars(nil, 103),
	}}
	res, err := NewFibonacciAnalyzer(src).Analyze(context.Background(), "ADAUSDT", signal.DirectionLong)

	require.NoError(t, err)
	assert.Equal(t, "1h", res.Interval)
	assert.Equal(t, []string{"4h", "1h"}, src.requests)
}

func TestFibonacciAnalyzerInsufficientHistory(t *testing.T) {
	src := &fakeKlines{byInterval: map[string][]market.Kline{"4h": swingBars(nil, 103)[:10]}}
	_, err := NewFibonacciAnalyzer(src).Analyze(context.Background(), "ADAUSDT", signal.DirectionLong)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)

	boom := errors.New("timeout")
	_, err = NewFibonacciAnalyzer(&fakeKlines{err: boom}).Analyze(context.Background(), "ADAUSDT", signal.DirectionLong)
	assert.ErrorIs(t, err, boom)
}

func TestCrossGolden(t *testing.T) {
	res, err := Cross([]float64{10, 10, 10, 10, 10, 9, 9, 9, 13}, 2, 3)
	require.NoError(t, err)

	assert.Equal(t, CrossGolden, res.Type)
	assert.Equal(t, signal.DirectionLong, res.Direction)
	assert.True(t, res.Fresh())
	// fresh cross and wide separation; the trend only just turned
	assert.Equal(t, 90, res.Confidence)
}

func TestCrossDeath(t *testing.T) {
	res, err := Cross([]float64{10, 10, 10, 10, 10, 11, 11, 11, 7}, 2, 3)
	require.NoError(t, err)

	assert.Equal(t, CrossDeath, res.Type)
	assert.Equal(t, signal.DirectionShort, res.Direction)
	assert.Equal(t, 90, res.Confidence)
}

func TestCrossSteadyUptrend(t *testing.T) {
	closes := make([]float64, 250)
	for i := range closes {
		closes[i] = 100 + float64(i)
	}
	res, err := Cross(closes, 50, 200)
	require.NoError(t, err)

	assert.Equal(t, CrossAbove, res.Type)
	assert.Equal(t, signal.DirectionLong, res.Direction)
	assert.Greater(t, res.FastEMA, res.SlowEMA)
	assert.Equal(t, 75, res.Confidence)
}

func TestCrossNeedsHistory(t *testing.T) {
	_, err := Cross([]float64{1, 2, 3}, 2, 3)
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
}

func TestEMACrossAnalyzerFallsBack(t *testing.T) {
	closes := make([]float64, 20)
	for i := range closes {
		closes[i] = 50 - float64(i)
	}
	src := &fakeKlines{byInterval: map[string][]market.Kline{
		"5m":  barsFromCloses(closes[:5]),
		"15m": barsFromCloses(closes),
	}}
	res, err := NewEMACrossAnalyzer(src).Analyze(context.Background(), "ETHUSDT", "5m", 3, 8)

	require.NoError(t, err)
	assert.Equal(t, "15m", res.Interval)
	assert.Equal(t, CrossBelow, res.Type)
	assert.Equal(t, signal.DirectionShort, res.Direction)
}
