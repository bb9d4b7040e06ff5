package risk

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

// FilterSource provides the exchange metadata the sizer needs
type FilterSource interface {
	Filters(ctx context.Context, symbol string) (*market.Filters, error)
	MaxLeverage(ctx context.Context, symbol string) (int, error)
}

// SizerConfig holds the sizing policy
type SizerConfig struct {
	TargetUSD        float64 // margin committed per trade
	MaxLeverage      int
	DefaultLeverage  int
	StopLossUSD      float64 // loss at the stop, in quote currency
	TakeProfitUSD    float64 // gain at the target, in quote currency
	FallbackQuantity float64
}

// PositionPlan is a sized trade ready for execution
type PositionPlan struct {
	Symbol          string           `json:"symbol"`
	Direction       signal.Direction `json:"direction"`
	Quantity        float64          `json:"quantity"`
	Leverage        int              `json:"leverage"`
	EntryPrice      float64          `json:"entry_price"`
	StopLossPrice   float64          `json:"stop_loss_price"`
	TakeProfitPrice float64          `json:"take_profit_price"`
	NotionalUSD     float64          `json:"notional_usd"`
	TargetUSD       float64          `json:"target_usd"`
	Fallback        bool             `json:"fallback"`

	StepSize    float64 `json:"step_size,omitempty"`
	TickSize    float64 `json:"tick_size,omitempty"`
	stopLossUSD float64
	takeProfUSD float64
}

// ErrUnprotectable marks a plan whose stop or target cannot be placed as a trigger
var ErrUnprotectable = errors.New("no valid protective price")

// Validate requires both protective prices to be positive and on the correct side of entry
func (p PositionPlan) Validate() error {
	if p.StopLossPrice <= 0 || p.TakeProfitPrice <= 0 {
		return fmt.Errorf("%w: stop %v target %v", ErrUnprotectable, p.StopLossPrice, p.TakeProfitPrice)
	}
	if p.EntryPrice <= 0 {
		return nil
	}
	ok := p.StopLossPrice < p.EntryPrice && p.EntryPrice < p.TakeProfitPrice
	if p.Direction == signal.DirectionShort {
		ok = p.TakeProfitPrice < p.EntryPrice && p.EntryPrice < p.StopLossPrice
	}
	if !ok {
		return fmt.Errorf("%w: stop %v target %v around entry %v", ErrUnprotectable, p.StopLossPrice, p.TakeProfitPrice, p.EntryPrice)
	}
	return nil
}

// Reprice recomputes the protective prices around the actual fill
func (p PositionPlan) Reprice(fill float64) PositionPlan {
	if fill <= 0 {
		return p
	}
	p.EntryPrice = fill
	p.NotionalUSD = fill * p.Quantity
	p.StopLossPrice, p.TakeProfitPrice = protectivePrices(p.Direction, fill, p.Quantity, p.stopLossUSD, p.takeProfUSD, p.TickSize)
	return p
}

// FormatQuantity renders the quantity at the step size's precision
func (p PositionPlan) FormatQuantity() string {
	return decimal.NewFromFloat(p.Quantity).StringFixed(precision(p.StepSize, 3))
}

// FormatPrice renders a price at the tick size's precision
func (p PositionPlan) FormatPrice(price float64) string {
	return decimal.NewFromFloat(price).StringFixed(precision(p.TickSize, 8))
}

// Sizer turns a price into an exchange-valid quantity and protective prices
type Sizer struct {
	cfg     SizerConfig
	filters FilterSource
	logger  zerolog.Logger
}

// NewSizer creates a sizer
func NewSizer(cfg SizerConfig, filters FilterSource, logger zerolog.Logger) *Sizer {
	if cfg.DefaultLeverage <= 0 {
		cfg.DefaultLeverage = cfg.MaxLeverage
	}
	return &Sizer{
		cfg:     cfg,
		filters: filters,
		logger:  logger.With().Str("component", "position_sizer").Logger(),
	}
}

// Size uses the symbol's leverage bracket clamped to the policy maximum
func (s *Sizer) Size(ctx context.Context, symbol string, dir signal.Direction, price float64) PositionPlan {
	return s.size(ctx, symbol, dir, price, 0)
}

// SizeSignal sizes a parsed signal, honouring the leverage it requests
func (s *Sizer) SizeSignal(ctx context.Context, sig signal.Signal, price float64) PositionPlan {
	requested := 0
	if sig.Leverage != nil {
		requested = *sig.Leverage
	}
	return s.size(ctx, sig.Symbol, sig.Direction, price, requested)
}

func (s *Sizer) size(ctx context.Context, symbol string, dir signal.Direction, price float64, requested int) PositionPlan {
	if price <= 0 {
		s.logger.Warn().Str("symbol", symbol).Float64("price", price).Msg("Invalid price, using fallback plan")
		return s.fallback(symbol, dir, price)
	}

	f, err := s.filters.Filters(ctx, symbol)
	if err != nil || f == nil {
		ev := s.logger.Warn().Err(err).Str("symbol", symbol)
		if errors.Is(err, market.ErrSymbolNotFound) {
			ev = ev.Bool("not_found", true)
		}
		ev.Msg("Filter lookup failed, using fallback plan")
		return s.fallback(symbol, dir, price)
	}

	leverage := s.leverage(ctx, symbol, requested)
	notional := decimal.NewFromFloat(s.cfg.TargetUSD).Mul(decimal.NewFromInt(int64(leverage)))
	qty := notional.Div(decimal.NewFromFloat(price))

	if f.StepSize > 0 {
		step := decimal.NewFromFloat(f.StepSize)
		qty = qty.Div(step).Floor().Mul(step)
	}
	if minQty := decimal.NewFromFloat(f.MinQty); qty.LessThan(minQty) {
		qty = minQty
	}

	plan := PositionPlan{
		Symbol:      symbol,
		Direction:   dir,
		Quantity:    qty.InexactFloat64(),
		Leverage:    leverage,
		EntryPrice:  price,
		TargetUSD:   s.cfg.TargetUSD,
		StepSize:    f.StepSize,
		TickSize:    f.TickSize,
		stopLossUSD: s.cfg.StopLossUSD,
		takeProfUSD: s.cfg.TakeProfitUSD,
	}
	plan.NotionalUSD = qty.Mul(decimal.NewFromFloat(price)).InexactFloat64()
	plan.StopLossPrice, plan.TakeProfitPrice = protectivePrices(dir, price, plan.Quantity, s.cfg.StopLossUSD, s.cfg.TakeProfitUSD, f.TickSize)

	if err := plan.Validate(); err != nil {
		s.logger.Warn().Err(err).Str("symbol", symbol).Float64("quantity", plan.Quantity).Msg("Sized plan has no usable protection")
	}
	s.logger.Debug().
		Str("symbol", symbol).
		Float64("quantity", plan.Quantity).
		Int("leverage", leverage).
		Float64("notional", plan.NotionalUSD).
		Msg("Position sized")
	return plan
}

// Protect computes protective prices for a position that is already open
func (s *Sizer) Protect(ctx context.Context, symbol string, dir signal.Direction, entry, qty float64) PositionPlan {
	plan := PositionPlan{
		Symbol:      symbol,
		Direction:   dir,
		Quantity:    qty,
		Leverage:    s.cfg.DefaultLeverage,
		EntryPrice:  entry,
		NotionalUSD: entry * qty,
		TargetUSD:   s.cfg.TargetUSD,
		stopLossUSD: s.cfg.StopLossUSD,
		takeProfUSD: s.cfg.TakeProfitUSD,
	}
	if f, err := s.filters.Filters(ctx, symbol); err == nil && f != nil {
		plan.StepSize, plan.TickSize = f.StepSize, f.TickSize
	} else {
		plan.Fallback = true
	}
	plan.StopLossPrice, plan.TakeProfitPrice = protectivePrices(dir, entry, qty, s.cfg.StopLossUSD, s.cfg.TakeProfitUSD, plan.TickSize)
	return plan
}

// leverage clamps the request, or the bracket maximum when there is none, to the
// symbol's bracket and then to the policy ceiling
func (s *Sizer) leverage(ctx context.Context, symbol string, requested int) int {
	bracket, err := s.filters.MaxLeverage(ctx, symbol)
	if err != nil || bracket <= 0 {
		s.logger.Debug().Err(err).Str("symbol", symbol).Msg("Leverage bracket unavailable")
		bracket = 0
	}

	lev := requested
	switch {
	case lev <= 0 && bracket <= 0:
		return s.cfg.MaxLeverage
	case lev <= 0:
		lev = bracket
	case bracket > 0 && lev > bracket:
		s.logger.Info().Str("symbol", symbol).Int("requested", requested).Int("bracket", bracket).Msg("Requested leverage above bracket")
		lev = bracket
	}
	if lev > s.cfg.MaxLeverage {
		lev = s.cfg.MaxLeverage
	}
	return lev
}

func (s *Sizer) fallback(symbol string, dir signal.Direction, price float64) PositionPlan {
	plan := PositionPlan{
		Symbol:      symbol,
		Direction:   dir,
		Quantity:    s.cfg.FallbackQuantity,
		Leverage:    s.cfg.DefaultLeverage,
		EntryPrice:  price,
		TargetUSD:   s.cfg.TargetUSD,
		Fallback:    true,
		stopLossUSD: s.cfg.StopLossUSD,
		takeProfUSD: s.cfg.TakeProfitUSD,
	}
	if price > 0 {
		plan.NotionalUSD = price * plan.Quantity
		plan.StopLossPrice, plan.TakeProfitPrice = protectivePrices(dir, price, plan.Quantity, s.cfg.StopLossUSD, s.cfg.TakeProfitUSD, 0)
		if err := plan.Validate(); err != nil {
			s.logger.Warn().Err(err).Str("symbol", symbol).Msg("Fallback plan has no usable protection")
		}
	}
	return plan
}

// protectivePrices puts the stop lossUSD and the target gainUSD away from entry for the whole quantity.
// A price that would land at or below zero is returned as 0.
func protectivePrices(dir signal.Direction, entry, qty, lossUSD, gainUSD, tick float64) (stop, target float64) {
	if qty <= 0 || entry <= 0 {
		return 0, 0
	}
	e := decimal.NewFromFloat(entry)
	q := decimal.NewFromFloat(qty)
	lossMove := decimal.NewFromFloat(lossUSD).Div(q)
	gainMove := decimal.NewFromFloat(gainUSD).Div(q)

	sl, tp := e.Sub(lossMove), e.Add(gainMove)
	if dir == signal.DirectionShort {
		sl, tp = e.Add(lossMove), e.Sub(gainMove)
	}
	stop, target = roundToTick(sl, tick), roundToTick(tp, tick)
	return math.Max(stop, 0), math.Max(target, 0)
}

func roundToTick(price decimal.Decimal, tick float64) float64 {
	if tick <= 0 {
		return price.InexactFloat64()
	}
	t := decimal.NewFromFloat(tick)
	return price.Div(t).Round(0).Mul(t).InexactFloat64()
}

// precision is the number of decimals in a step such as 0.001
func precision(step float64, def int32) int32 {
	if step <= 0 {
		return def
	}
	exp := decimal.NewFromFloat(step).Exponent()
	if exp >= 0 {
		return 0
	}
	return -exp
}
