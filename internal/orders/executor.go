package orders

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/circuit"
	"signal-trading-bot/internal/logging"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

// Executor runs the trade state machine against the exchange gateway
type Executor struct {
	gw        Gateway
	session   *risk.Session
	breaker   *circuit.CircuitBreaker
	protector Protector
	logger    zerolog.Logger
	now       func() time.Time

	run sync.Mutex // serializes Execute and Reconcile

	mu     sync.Mutex
	filled map[string]*Execution // attempt key -> execution that reached a fill
}

// NewExecutor creates an executor. breaker may be nil.
func NewExecutor(gw Gateway, session *risk.Session, breaker *circuit.CircuitBreaker, protector Protector, logger zerolog.Logger) *Executor {
	return &Executor{
		gw:        gw,
		session:   session,
		breaker:   breaker,
		protector: protector,
		logger:    logger.With().Str("component", "executor").Logger(),
		now:       time.Now,
		filled:    make(map[string]*Execution),
	}
}

// Execute walks CHECK_LIMITS, RESERVE, SET_LEVERAGE, PLACE_MARKET_ORDER and the two
// reduce-only protective orders. A failure before the fill releases the symbol slot and
// returns an error. A failure after the fill returns the execution together with an
// *ExecutionError marked Unprotected; the market order is never rolled back.
// A market order that comes back partially filled is tracked and protected for the
// executed quantity.
func (e *Executor) Execute(ctx context.Context, req Request) (*Execution, error) {
	e.run.Lock()
	defer e.run.Unlock()

	if req.Key == "" {
		req.Key = NewChainID(e.now())
	}
	if prev, ok := e.previous(req.Key); ok {
		e.logger.Info().Str("key", req.Key).Str("symbol", prev.Symbol).Msg("Attempt already filled, not placing again")
		return prev, nil
	}

	log := logging.TradeContext(e.logger, req.Symbol, string(EntrySide(req.Direction)), req.Plan.Quantity, req.Plan.EntryPrice).
		With().Str("key", req.Key).Logger()

	// CHECK_LIMITS
	if !req.Direction.Known() {
		return nil, fmt.Errorf("%w: direction unknown", ErrSafetyLimit)
	}
	if req.Plan.Quantity <= 0 {
		return nil, fmt.Errorf("%w: quantity %v", ErrSafetyLimit, req.Plan.Quantity)
	}
	if err := req.Plan.Validate(); err != nil {
		log.Warn().Err(err).Msg("Plan cannot be protected, not trading")
		return nil, fmt.Errorf("%w: %w", ErrSafetyLimit, err)
	}
	if e.breaker != nil {
		if ok, reason := e.breaker.CanTrade(); !ok {
			return nil, fmt.Errorf("%w: %s", ErrSafetyLimit, reason)
		}
	}
	entryID, err := ClientOrderID(req.Key, RoleEntry)
	if err != nil {
		return nil, err
	}

	// RESERVE
	if err := e.session.Reserve(req.Symbol, req.Key); err != nil {
		log.Info().Err(err).Msg("Trade rejected by session limits")
		return nil, err
	}
	reserved := true
	defer func() {
		if reserved {
			e.session.Release(req.Symbol, req.Key)
		}
	}()

	// SET_LEVERAGE
	if err := e.gw.SetLeverage(ctx, req.Symbol, req.Plan.Leverage); err != nil {
		return nil, e.fail(log, StepSetLeverage, req.Symbol, false, err)
	}

	// PLACE_MARKET_ORDER
	res, err := e.gw.PlaceMarketOrder(ctx, MarketOrder{
		Symbol:        req.Symbol,
		Side:          EntrySide(req.Direction),
		Quantity:      req.Plan.FormatQuantity(),
		ClientOrderID: entryID,
	})
	if err != nil {
		return nil, e.fail(log, StepMarketOrder, req.Symbol, false, err)
	}
	partial := res.Status != StatusFilled
	if partial && res.ExecutedQty <= 0 {
		return nil, e.fail(log, StepMarketOrder, req.Symbol, false,
			fmt.Errorf("order %d status %s", res.OrderID, res.Status))
	}

	fill := res.AvgPrice
	if fill <= 0 {
		fill = req.Plan.EntryPrice
	}
	plan := req.Plan
	if res.ExecutedQty > 0 {
		plan.Quantity = res.ExecutedQty
	}
	if repriced := plan.Reprice(fill); repriced.Validate() == nil {
		plan = repriced
	} else {
		log.Warn().Err(repriced.Validate()).Float64("fill", fill).Msg("Repriced protection unusable, keeping planned triggers")
		plan.EntryPrice = fill
	}
	qty := plan.Quantity

	exec := &Execution{
		Key:             req.Key,
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		EntryOrderID:    res.OrderID,
		EntryPrice:      fill,
		Quantity:        qty,
		Leverage:        plan.Leverage,
		StopLossPrice:   plan.StopLossPrice,
		TakeProfitPrice: plan.TakeProfitPrice,
		Step:            StepMarketOrder,
		Fallback:        plan.Fallback,
		Partial:         partial,
		ExecutedAt:      e.now(),
	}

	reserved = false
	e.session.Commit(req.Key, risk.PositionRecord{
		Symbol:          req.Symbol,
		Direction:       req.Direction,
		OrderID:         res.OrderID,
		ClientOrderID:   entryID,
		Quantity:        qty,
		EntryPrice:      fill,
		StopLossPrice:   plan.StopLossPrice,
		TakeProfitPrice: plan.TakeProfitPrice,
		Leverage:        plan.Leverage,
		OpenedAt:        exec.ExecutedAt,
	})
	e.remember(exec)
	if partial {
		log.Warn().
			Int64("order_id", res.OrderID).
			Str("status", res.Status).
			Float64("executed", qty).
			Float64("requested", req.Plan.Quantity).
			Msg("Market order partially filled")
	} else {
		if e.breaker != nil {
			e.breaker.RecordSuccess()
		}
		log.Info().Int64("order_id", res.OrderID).Float64("fill", fill).Msg("Market order filled")
	}

	if err := plan.Validate(); err != nil {
		return exec, e.fail(log, StepStopOrder, req.Symbol, true, err)
	}

	// PLACE_REDUCE_ONLY_STOP
	stopID, err := e.placeProtection(ctx, req.Key, RoleStopLoss, req.Symbol, req.Direction, plan, plan.StopLossPrice)
	if err != nil {
		return exec, e.fail(log, StepStopOrder, req.Symbol, true, err)
	}
	exec.StopOrderID = stopID
	exec.Step = StepStopOrder

	// PLACE_REDUCE_ONLY_TAKE_PROFIT
	tpID, err := e.placeProtection(ctx, req.Key, RoleTakeProfit, req.Symbol, req.Direction, plan, plan.TakeProfitPrice)
	if err != nil {
		return exec, e.fail(log, StepTakeProfitOrder, req.Symbol, true, err)
	}
	exec.TakeProfitOrderID = tpID
	exec.Step = StepDone

	log.Info().
		Float64("stop_loss", plan.StopLossPrice).
		Float64("take_profit", plan.TakeProfitPrice).
		Msg("Position protected")
	return exec, nil
}

func (e *Executor) placeProtection(ctx context.Context, chainID string, role OrderRole, symbol string, dir signal.Direction, plan risk.PositionPlan, price float64) (int64, error) {
	id, err := ClientOrderID(chainID, role)
	if err != nil {
		return 0, err
	}
	order := ProtectiveOrder{
		Symbol:        symbol,
		Side:          ExitSide(dir),
		Quantity:      plan.FormatQuantity(),
		StopPrice:     plan.FormatPrice(price),
		ClientOrderID: id,
	}

	var res *OrderResult
	if role == RoleStopLoss {
		res, err = e.gw.PlaceReduceOnlyStop(ctx, order)
	} else {
		res, err = e.gw.PlaceReduceOnlyTakeProfit(ctx, order)
	}
	if err != nil {
		return 0, err
	}
	olog := logging.OrderContext(e.logger, res.OrderID, symbol, string(order.Side), string(role))
	olog.Info().Str("trigger", order.StopPrice).Msg("Protective order placed")
	return res.OrderID, nil
}

func (e *Executor) fail(log zerolog.Logger, step Step, symbol string, unprotected bool, err error) error {
	if e.breaker != nil {
		e.breaker.RecordFailure(fmt.Sprintf("%s %s: %v", symbol, step, err))
	}
	ev := log.Error()
	if unprotected {
		ev = ev.Bool("unprotected", true)
	}
	ev.Err(err).Str("step", string(step)).Msg("Execution step failed")
	return &ExecutionError{Step: step, Symbol: symbol, Unprotected: unprotected, Err: err}
}

func (e *Executor) previous(key string) (*Execution, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	exec, ok := e.filled[key]
	return exec, ok
}

func (e *Executor) remember(exec *Execution) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.filled[exec.Key] = exec
}
