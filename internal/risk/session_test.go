package risk

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type memStore struct {
	enabled *bool
	saveErr error
}

func (m *memStore) LoadTradingEnabled(context.Context) (bool, bool, error) {
	if m.enabled == nil {
		return false, false, nil
	}
	return *m.enabled, true, nil
}

func (m *memStore) SaveTradingEnabled(_ context.Context, enabled bool) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.enabled = &enabled
	return nil
}

func newTestSession(daily, open int) *Session {
	return NewSession(Limits{MaxDailyTrades: daily, MaxOpenPositions: open}, true, &memStore{}, zerolog.Nop())
}

func TestReserveEnforcesCaps(t *testing.T) {
	s := newTestSession(10, 2)

	require.NoError(t, s.Reserve("BTCUSDT", "k1"))
	err := s.Reserve("BTCUSDT", "k2")
	assert.ErrorIs(t, err, ErrSafetyLimit, "symbol already in flight")

	require.NoError(t, s.Reserve("ETHUSDT", "k3"))
	err = s.Reserve("SOLUSDT", "k4")
	assert.ErrorIs(t, err, ErrSafetyLimit)
	assert.Contains(t, err.Error(), "max positions")

	s.Release("ETHUSDT", "k3")
	assert.NoError(t, s.Reserve("SOLUSDT", "k4"))
}

func TestCommitMovesReservationToPosition(t *testing.T) {
	s := newTestSession(10, 3)
	require.NoError(t, s.Reserve("BTCUSDT", "k1"))

	s.Commit("k1", PositionRecord{Symbol: "BTCUSDT", Quantity: 0.001, EntryPrice: 67250})

	st := s.Stats()
	assert.Equal(t, 1, st.DailyTrades)
	assert.Equal(t, 1, st.OpenPositions)
	assert.Equal(t, 0, st.Reserved)
	pos, ok := s.Position("BTCUSDT")
	require.True(t, ok)
	assert.False(t, pos.OpenedAt.IsZero())

	err := s.Reserve("BTCUSDT", "k2")
	assert.ErrorIs(t, err, ErrSafetyLimit, "no pyramiding")
}

func TestReleaseIgnoresForeignKey(t *testing.T) {
	s := newTestSession(10, 3)
	require.NoError(t, s.Reserve("BTCUSDT", "k1"))
	s.Release("BTCUSDT", "other")
	assert.Equal(t, 1, s.Stats().Reserved)
}

func TestDailyCapAndRollover(t *testing.T) {
	s := newTestSession(2, 10)
	for i := 0; i < 2; i++ {
		sym := fmt.Sprintf("S%dUSDT", i)
		key := fmt.Sprintf("k%d", i)
		require.NoError(t, s.Reserve(sym, key))
		s.Commit(key, PositionRecord{Symbol: sym})
	}

	err := s.Reserve("NEWUSDT", "k9")
	require.ErrorIs(t, err, ErrSafetyLimit)
	assert.Contains(t, err.Error(), "daily trade limit")

	s.RolloverDay()
	assert.NoError(t, s.Reserve("NEWUSDT", "k9"))
}

func TestDailyCounterResetsOnNewDay(t *testing.T) {
	s := newTestSession(1, 10)
	now := time.Date(2026, 3, 1, 23, 59, 0, 0, time.UTC)
	s.now = func() time.Time { return now }
	s.day = startOfDay(now)

	require.NoError(t, s.Reserve("AUSDT", "a"))
	s.Commit("a", PositionRecord{Symbol: "AUSDT"})
	assert.Error(t, s.Reserve("BUSDT", "b"))

	now = now.Add(2 * time.Minute)
	assert.NoError(t, s.Reserve("BUSDT", "b"))
	assert.Equal(t, "2026-03-02", s.Stats().Day)
}

func TestTradingDisabledRejects(t *testing.T) {
	store := &memStore{}
	s := NewSession(Limits{MaxDailyTrades: 5, MaxOpenPositions: 5}, true, store, zerolog.Nop())

	require.NoError(t, s.SetTradingEnabled(context.Background(), false))
	err := s.Reserve("BTCUSDT", "k")
	assert.ErrorIs(t, err, ErrSafetyLimit)
	require.NotNil(t, store.enabled)
	assert.False(t, *store.enabled)

	ok, reason := s.CanOpenPosition("BTCUSDT")
	assert.False(t, ok)
	assert.Equal(t, "trading disabled", reason)
}

func TestRestoreTradingFlag(t *testing.T) {
	off := false
	s := NewSession(Limits{MaxDailyTrades: 5, MaxOpenPositions: 5}, true, &memStore{enabled: &off}, zerolog.Nop())
	require.NoError(t, s.Restore(context.Background()))
	assert.False(t, s.TradingEnabled())

	s = NewSession(Limits{MaxDailyTrades: 5, MaxOpenPositions: 5}, true, &memStore{}, zerolog.Nop())
	require.NoError(t, s.Restore(context.Background()))
	assert.True(t, s.TradingEnabled(), "nothing persisted keeps the configured value")
}

func TestSetTradingEnabledPersistFailure(t *testing.T) {
	boom := errors.New("redis down")
	s := NewSession(Limits{MaxDailyTrades: 5, MaxOpenPositions: 5}, false, &memStore{saveErr: boom}, zerolog.Nop())

	err := s.SetTradingEnabled(context.Background(), true)
	assert.ErrorIs(t, err, boom)
	assert.True(t, s.TradingEnabled())
}

func TestDedupCache(t *testing.T) {
	s := newTestSession(5, 5)
	assert.False(t, s.IsDuplicate("BTCUSDT_x"))
	s.MarkProcessed("BTCUSDT_x")
	s.MarkProcessed("ETHUSDT_y")
	assert.True(t, s.IsDuplicate("BTCUSDT_x"))

	assert.Equal(t, 2, s.ClearDedupCache())
	assert.False(t, s.IsDuplicate("BTCUSDT_x"))
	assert.Equal(t, 0, s.Stats().DedupEntries)
}

func TestPrunePositions(t *testing.T) {
	s := newTestSession(10, 10)
	for _, sym := range []string{"AUSDT", "BUSDT", "CUSDT"} {
		require.NoError(t, s.Reserve(sym, sym))
		s.Commit(sym, PositionRecord{Symbol: sym})
	}

	pruned := s.PrunePositions(map[string]bool{"BUSDT": true}, time.Time{})
	assert.Equal(t, []string{"AUSDT", "CUSDT"}, pruned)
	require.Len(t, s.Positions(), 1)
	assert.Equal(t, "BUSDT", s.Positions()[0].Symbol)
}

func TestPruneKeepsPositionsOpenedAfterCutoff(t *testing.T) {
	s := newTestSession(10, 10)
	cutoff := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	s.Commit("old", PositionRecord{Symbol: "AUSDT", OpenedAt: cutoff.Add(-time.Minute)})
	s.Commit("new", PositionRecord{Symbol: "BUSDT", OpenedAt: cutoff.Add(time.Second)})

	pruned := s.PrunePositions(map[string]bool{}, cutoff)
	assert.Equal(t, []string{"AUSDT"}, pruned)
	_, open := s.Position("BUSDT")
	if !open {
		t.Errorf("Expected BUSDT to stay tracked, got pruned")
	}
}

func TestConcurrentReserveSameSymbol(t *testing.T) {
	s := newTestSession(100, 100)
	var wg sync.WaitGroup
	var mu sync.Mutex
	wins := 0
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if s.Reserve("BTCUSDT", fmt.Sprint(i)) == nil {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	assert.Equal(t, 1, wins)
}
