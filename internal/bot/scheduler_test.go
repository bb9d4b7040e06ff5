package bot

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

type fakePaperBook struct {
	fireAt map[string]float64
}

func (b *fakePaperBook) Evaluate(symbol string, mark float64) (*orders.OpenOrder, bool) {
	if level, ok := b.fireAt[symbol]; ok && mark >= level {
		return &orders.OpenOrder{Symbol: symbol, Kind: orders.KindTakeProfitMarket}, true
	}
	return nil, false
}

type fakePrices map[string]float64

func (p fakePrices) LastPrice(_ context.Context, symbol string) (float64, error) {
	price, ok := p[symbol]
	if !ok {
		return 0, errors.New("no price")
	}
	return price, nil
}

func TestUntilMidnight(t *testing.T) {
	now := time.Date(2024, 3, 1, 23, 30, 0, 0, time.UTC)
	if got := untilMidnight(now); got != 30*time.Minute {
		t.Errorf("Expected 30m, got %v", got)
	}
	assert.Equal(t, 24*time.Hour, untilMidnight(time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)))
}

func TestCheckPaperPositionsClosesFiredPositions(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	for _, sym := range []string{"SOLUSDT", "ETHUSDT", "XRPUSDT"} {
		require.NoError(t, h.session.Reserve(sym, "k-"+sym))
		h.session.Commit("k-"+sym, risk.PositionRecord{Symbol: sym, Direction: signal.DirectionLong, EntryPrice: 100})
	}

	book := &fakePaperBook{fireAt: map[string]float64{"SOLUSDT": 108, "ETHUSDT": 108}}
	prices := fakePrices{"SOLUSDT": 110, "ETHUSDT": 101}
	s := NewScheduler(SchedulerConfig{}, h.pipeline, book, prices, zerolog.Nop())

	s.checkPaperPositions(context.Background())

	var open []string
	for _, p := range h.session.Positions() {
		open = append(open, p.Symbol)
	}
	assert.Equal(t, []string{"ETHUSDT", "XRPUSDT"}, open, "only the fired position closes, a missing price is skipped")
}

func TestSchedulerRunsJobsUntilStopped(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	h.session.MarkProcessed("k")

	s := NewScheduler(SchedulerConfig{DedupInterval: 5 * time.Millisecond}, h.pipeline, nil, nil, zerolog.Nop())
	s.Start(context.Background())

	assert.Eventually(t, func() bool { return h.session.Stats().DedupEntries == 0 }, time.Second, 5*time.Millisecond)
	s.Stop()
}
