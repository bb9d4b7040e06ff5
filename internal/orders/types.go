// Package orders places leveraged futures trades with reduce-only protection and
// repairs positions whose protection went missing.
package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

var (
	// ErrSafetyLimit is returned before anything is sent when a session limit would be broken
	ErrSafetyLimit = risk.ErrSafetyLimit
	// ErrOrderPlacement wraps every exchange-side failure during execution
	ErrOrderPlacement = errors.New("order placement failed")
)

// Side is the exchange order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// EntrySide returns the side that opens a position in dir
func EntrySide(dir signal.Direction) Side {
	if dir == signal.DirectionShort {
		return SideSell
	}
	return SideBuy
}

// ExitSide returns the side that closes a position in dir
func ExitSide(dir signal.Direction) Side {
	if EntrySide(dir) == SideBuy {
		return SideSell
	}
	return SideBuy
}

// OrderKind is the exchange order type of a resting order
type OrderKind string

const (
	KindMarket           OrderKind = "MARKET"
	KindStopMarket       OrderKind = "STOP_MARKET"
	KindTakeProfitMarket OrderKind = "TAKE_PROFIT_MARKET"
)

// StatusFilled is the only market order status treated as a fill
const StatusFilled = "FILLED"

// MarketOrder opens a position
type MarketOrder struct {
	Symbol        string
	Side          Side
	Quantity      string
	ClientOrderID string
}

// ProtectiveOrder is a reduce-only, good-till-cancelled trigger order
type ProtectiveOrder struct {
	Symbol        string
	Side          Side
	Quantity      string
	StopPrice     string
	ClientOrderID string
}

// OrderResult is the exchange acknowledgement
type OrderResult struct {
	OrderID       int64
	ClientOrderID string
	Status        string
	AvgPrice      float64
	ExecutedQty   float64
}

// ExchangePosition is a live position. Amount is signed: negative for shorts.
type ExchangePosition struct {
	Symbol     string
	Amount     float64
	EntryPrice float64
	Leverage   int
}

// OpenOrder is a resting order on the exchange
type OpenOrder struct {
	OrderID       int64
	ClientOrderID string
	Symbol        string
	Kind          OrderKind
	Side          Side
	ReduceOnly    bool
	ClosePosition bool
	StopPrice     float64
}

// Gateway is the signed exchange trading API
type Gateway interface {
	SetLeverage(ctx context.Context, symbol string, leverage int) error
	PlaceMarketOrder(ctx context.Context, order MarketOrder) (*OrderResult, error)
	PlaceReduceOnlyStop(ctx context.Context, order ProtectiveOrder) (*OrderResult, error)
	PlaceReduceOnlyTakeProfit(ctx context.Context, order ProtectiveOrder) (*OrderResult, error)
	OpenPositions(ctx context.Context) ([]ExchangePosition, error)
	OpenOrders(ctx context.Context, symbol string) ([]OpenOrder, error)
}

// Protector recomputes protective prices for an existing position
type Protector interface {
	Protect(ctx context.Context, symbol string, dir signal.Direction, entry, qty float64) risk.PositionPlan
}

// Step names a state of the execution state machine
type Step string

const (
	StepCheckLimits     Step = "CHECK_LIMITS"
	StepReserve         Step = "RESERVE"
	StepSetLeverage     Step = "SET_LEVERAGE"
	StepMarketOrder     Step = "PLACE_MARKET_ORDER"
	StepStopOrder       Step = "PLACE_REDUCE_ONLY_STOP"
	StepTakeProfitOrder Step = "PLACE_REDUCE_ONLY_TAKE_PROFIT"
	StepDone            Step = "DONE"
)

// Request is one trade attempt. An empty Key gets a fresh one; reusing a Key that
// already filled returns the earlier execution.
type Request struct {
	Key       string
	Symbol    string
	Direction signal.Direction
	Plan      risk.PositionPlan
}

// Execution is the record of a trade that reached a fill
type Execution struct {
	Key               string           `json:"key"`
	Symbol            string           `json:"symbol"`
	Direction         signal.Direction `json:"direction"`
	EntryOrderID      int64            `json:"entry_order_id"`
	EntryPrice        float64          `json:"entry_price"`
	Quantity          float64          `json:"quantity"`
	Leverage          int              `json:"leverage"`
	StopLossPrice     float64          `json:"stop_loss_price"`
	TakeProfitPrice   float64          `json:"take_profit_price"`
	StopOrderID       int64            `json:"stop_order_id,omitempty"`
	TakeProfitOrderID int64            `json:"take_profit_order_id,omitempty"`
	Step              Step             `json:"step"`
	Fallback          bool             `json:"fallback"`
	Partial           bool             `json:"partial,omitempty"` // exchange executed less than requested
	ExecutedAt        time.Time        `json:"executed_at"`
}

// Protected reports whether both protective orders are resting
func (e *Execution) Protected() bool {
	return e.StopOrderID != 0 && e.TakeProfitOrderID != 0
}

// ExecutionError is an exchange failure at a given step. Unprotected is set when the
// market order filled but a protective order could not be placed.
type ExecutionError struct {
	Step        Step
	Symbol      string
	Unprotected bool
	Err         error
}

func (e *ExecutionError) Error() string {
	msg := fmt.Sprintf("%s %s: %v", e.Symbol, e.Step, e.Err)
	if e.Unprotected {
		msg += " (position unprotected)"
	}
	return msg
}

// Unwrap exposes both the placement sentinel and the cause
func (e *ExecutionError) Unwrap() []error {
	return []error{ErrOrderPlacement, e.Err}
}
