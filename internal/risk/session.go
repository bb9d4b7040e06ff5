package risk

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/signal"
)

// ErrSafetyLimit is returned when a trade would break a session limit
var ErrSafetyLimit = errors.New("safety limit")

// StateStore persists operator toggles across restarts
type StateStore interface {
	LoadTradingEnabled(ctx context.Context) (enabled bool, found bool, err error)
	SaveTradingEnabled(ctx context.Context, enabled bool) error
}

// Limits are the session caps
type Limits struct {
	MaxDailyTrades   int
	MaxOpenPositions int
}

// PositionRecord is an open position the bot placed
type PositionRecord struct {
	Symbol          string           `json:"symbol"`
	Direction       signal.Direction `json:"direction"`
	OrderID         int64            `json:"order_id"`
	ClientOrderID   string           `json:"client_order_id"`
	Quantity        float64          `json:"quantity"`
	EntryPrice      float64          `json:"entry_price"`
	StopLossPrice   float64          `json:"stop_loss_price"`
	TakeProfitPrice float64          `json:"take_profit_price"`
	Leverage        int              `json:"leverage"`
	OpenedAt        time.Time        `json:"opened_at"`
}

// Stats is a read-only view of the session
type Stats struct {
	TradingEnabled   bool             `json:"trading_enabled"`
	DailyTrades      int              `json:"daily_trades"`
	MaxDailyTrades   int              `json:"max_daily_trades"`
	OpenPositions    int              `json:"open_positions"`
	MaxOpenPositions int              `json:"max_open_positions"`
	Reserved         int              `json:"reserved"`
	DedupEntries     int              `json:"dedup_entries"`
	Day              string           `json:"day"`
	Positions        []PositionRecord `json:"positions"`
}

// Session owns the mutable trading state: the enable flag, counters, open positions,
// in-flight reservations and the dedup set. All methods are safe for concurrent use.
type Session struct {
	mu             sync.Mutex
	limits         Limits
	tradingEnabled bool
	dailyTrades    int
	day            time.Time
	positions      map[string]PositionRecord
	reservations   map[string]string // symbol -> attempt key
	processed      map[string]time.Time

	store  StateStore
	logger zerolog.Logger
	now    func() time.Time
}

// NewSession creates a session. Trading starts in the given state until Restore reads
// a persisted value.
func NewSession(limits Limits, enabled bool, store StateStore, logger zerolog.Logger) *Session {
	s := &Session{
		limits:         limits,
		tradingEnabled: enabled,
		positions:      make(map[string]PositionRecord),
		reservations:   make(map[string]string),
		processed:      make(map[string]time.Time),
		store:          store,
		logger:         logger.With().Str("component", "session").Logger(),
		now:            time.Now,
	}
	s.day = startOfDay(s.now())
	return s
}

// Restore loads the persisted trading flag, keeping the current one when nothing was saved
func (s *Session) Restore(ctx context.Context) error {
	if s.store == nil {
		return nil
	}
	enabled, found, err := s.store.LoadTradingEnabled(ctx)
	if err != nil {
		return fmt.Errorf("load trading flag: %w", err)
	}
	if found {
		s.mu.Lock()
		s.tradingEnabled = enabled
		s.mu.Unlock()
		s.logger.Info().Bool("trading_enabled", enabled).Msg("Restored trading flag")
	}
	return nil
}

// TradingEnabled reports the operator toggle
func (s *Session) TradingEnabled() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.tradingEnabled
}

// SetTradingEnabled flips the toggle and persists it. The in-memory value changes even
// when persisting fails.
func (s *Session) SetTradingEnabled(ctx context.Context, enabled bool) error {
	s.mu.Lock()
	s.tradingEnabled = enabled
	s.mu.Unlock()

	s.logger.Info().Bool("trading_enabled", enabled).Msg("Trading toggled")
	if s.store == nil {
		return nil
	}
	if err := s.store.SaveTradingEnabled(ctx, enabled); err != nil {
		return fmt.Errorf("persist trading flag: %w", err)
	}
	return nil
}

// CanOpenPosition checks the caps without reserving anything
func (s *Session) CanOpenPosition(symbol string) (bool, string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkDailyReset()
	return s.canOpenLocked(symbol)
}

func (s *Session) canOpenLocked(symbol string) (bool, string) {
	if !s.tradingEnabled {
		return false, "trading disabled"
	}
	if s.dailyTrades >= s.limits.MaxDailyTrades {
		return false, fmt.Sprintf("daily trade limit reached (%d/%d)", s.dailyTrades, s.limits.MaxDailyTrades)
	}
	if busy := len(s.positions) + len(s.reservations); busy >= s.limits.MaxOpenPositions {
		return false, fmt.Sprintf("max positions reached (%d/%d)", busy, s.limits.MaxOpenPositions)
	}
	if _, ok := s.positions[symbol]; ok {
		return false, fmt.Sprintf("position already open for %s", symbol)
	}
	if _, ok := s.reservations[symbol]; ok {
		return false, fmt.Sprintf("trade already in flight for %s", symbol)
	}
	return true, ""
}

// Reserve checks the caps and claims the symbol slot for one attempt in a single step
func (s *Session) Reserve(symbol, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkDailyReset()

	if ok, reason := s.canOpenLocked(symbol); !ok {
		return fmt.Errorf("%w: %s", ErrSafetyLimit, reason)
	}
	s.reservations[symbol] = key
	return nil
}

// Release frees a reservation that never reached a fill
func (s *Session) Release(symbol, key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.reservations[symbol] == key {
		delete(s.reservations, symbol)
	}
}

// Commit turns the reservation into an open position and counts the trade
func (s *Session) Commit(key string, rec PositionRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkDailyReset()

	if s.reservations[rec.Symbol] == key {
		delete(s.reservations, rec.Symbol)
	}
	if rec.OpenedAt.IsZero() {
		rec.OpenedAt = s.now()
	}
	s.positions[rec.Symbol] = rec
	s.dailyTrades++
}

// Position returns the open position for a symbol
func (s *Session) Position(symbol string) (PositionRecord, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.positions[symbol]
	return rec, ok
}

// Positions returns the open positions sorted by symbol
func (s *Session) Positions() []PositionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.positionsLocked()
}

func (s *Session) positionsLocked() []PositionRecord {
	out := make([]PositionRecord, 0, len(s.positions))
	for _, p := range s.positions {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// ClosePosition forgets a position
func (s *Session) ClosePosition(symbol string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.positions[symbol]
	delete(s.positions, symbol)
	return ok
}

// PrunePositions drops positions whose symbol is not in open and returns the dropped symbols.
// Positions opened after openedBefore are kept; a zero openedBefore prunes regardless of age.
func (s *Session) PrunePositions(open map[string]bool, openedBefore time.Time) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pruned []string
	for sym, rec := range s.positions {
		if !openedBefore.IsZero() && rec.OpenedAt.After(openedBefore) {
			continue
		}
		if !open[sym] {
			delete(s.positions, sym)
			pruned = append(pruned, sym)
		}
	}
	sort.Strings(pruned)
	return pruned
}

// IsDuplicate reports whether the dedup key was already processed
func (s *Session) IsDuplicate(key string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.processed[key]
	return ok
}

// MarkProcessed records a dedup key
func (s *Session) MarkProcessed(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.processed[key] = s.now()
}

// ClearDedupCache empties the dedup set wholesale and returns how many keys it held
func (s *Session) ClearDedupCache() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := len(s.processed)
	s.processed = make(map[string]time.Time)
	return n
}

// RolloverDay resets the daily trade counter
func (s *Session) RolloverDay() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger.Info().Int("daily_trades", s.dailyTrades).Msg("Daily counter reset")
	s.dailyTrades = 0
	s.day = startOfDay(s.now())
}

// checkDailyReset rolls the counter over when the calendar day changed
func (s *Session) checkDailyReset() {
	today := startOfDay(s.now())
	if today.After(s.day) {
		s.dailyTrades = 0
		s.day = today
	}
}

// Stats snapshots the session
func (s *Session) Stats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.checkDailyReset()
	return Stats{
		TradingEnabled:   s.tradingEnabled,
		DailyTrades:      s.dailyTrades,
		MaxDailyTrades:   s.limits.MaxDailyTrades,
		OpenPositions:    len(s.positions),
		MaxOpenPositions: s.limits.MaxOpenPositions,
		Reserved:         len(s.reservations),
		DedupEntries:     len(s.processed),
		Day:              s.day.Format("2006-01-02"),
		Positions:        s.positionsLocked(),
	}
}

func startOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}
