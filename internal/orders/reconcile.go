package orders

import (
	"context"
	"fmt"
	"math"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

// Repair is one protective order re-placed by a sweep
type Repair struct {
	Symbol  string    `json:"symbol"`
	Kind    OrderKind `json:"kind"`
	Price   float64   `json:"price"`
	OrderID int64     `json:"order_id,omitempty"`
	Error   string    `json:"error,omitempty"`
}

// ReconcileReport summarizes a sweep
type ReconcileReport struct {
	Checked   int      `json:"checked"`
	Protected int      `json:"protected"`
	Repairs   []Repair `json:"repairs"`
	Pruned    []string `json:"pruned"`
	Untracked []string `json:"untracked"` // open on the exchange but not placed by this session
}

// Failed counts repairs that could not be placed
func (r *ReconcileReport) Failed() int {
	n := 0
	for _, rep := range r.Repairs {
		if rep.Error != "" {
			n++
		}
	}
	return n
}

// Reconcile re-places missing reduce-only protection on every open exchange position
// and prunes session positions that are no longer open. It never runs while an Execute
// is in flight; positions opened after the sweep started are not pruned.
func (e *Executor) Reconcile(ctx context.Context) (*ReconcileReport, error) {
	e.run.Lock()
	defer e.run.Unlock()

	started := e.now()
	positions, err := e.gw.OpenPositions(ctx)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w: %w", market.ErrDataUnavailable, err)
	}

	report := &ReconcileReport{}
	open := make(map[string]bool, len(positions))

	for _, pos := range positions {
		if pos.Amount == 0 {
			continue
		}
		open[pos.Symbol] = true
		report.Checked++
		if _, tracked := e.session.Position(pos.Symbol); !tracked {
			report.Untracked = append(report.Untracked, pos.Symbol)
		}

		orders, err := e.gw.OpenOrders(ctx, pos.Symbol)
		if err != nil {
			report.Repairs = append(report.Repairs, Repair{Symbol: pos.Symbol, Error: err.Error()})
			continue
		}

		dir := signal.DirectionLong
		if pos.Amount < 0 {
			dir = signal.DirectionShort
		}
		hasStop, hasTP := protection(orders, ExitSide(dir))
		if hasStop && hasTP {
			report.Protected++
			continue
		}

		plan := e.protector.Protect(ctx, pos.Symbol, dir, pos.EntryPrice, math.Abs(pos.Amount))
		chainID := NewChainID(e.now())
		if !hasStop {
			report.Repairs = append(report.Repairs, e.repair(ctx, chainID, RoleStopLoss, KindStopMarket, pos.Symbol, dir, plan, plan.StopLossPrice))
		}
		if !hasTP {
			report.Repairs = append(report.Repairs, e.repair(ctx, chainID, RoleTakeProfit, KindTakeProfitMarket, pos.Symbol, dir, plan, plan.TakeProfitPrice))
		}
	}

	report.Pruned = e.session.PrunePositions(open, started)

	e.logger.Info().
		Int("checked", report.Checked).
		Int("protected", report.Protected).
		Int("repairs", len(report.Repairs)).
		Int("failed", report.Failed()).
		Strs("pruned", report.Pruned).
		Msg("Reconcile sweep finished")
	return report, nil
}

func (e *Executor) repair(ctx context.Context, chainID string, role OrderRole, kind OrderKind, symbol string, dir signal.Direction, plan risk.PositionPlan, price float64) Repair {
	rep := Repair{Symbol: symbol, Kind: kind, Price: price}
	if price <= 0 {
		rep.Error = "no valid trigger price"
		return rep
	}
	id, err := e.placeProtection(ctx, chainID, role, symbol, dir, plan, price)
	if err != nil {
		rep.Error = err.Error()
		e.logger.Error().Err(err).Str("symbol", symbol).Str("kind", string(kind)).Msg("Protective order repair failed")
		return rep
	}
	rep.OrderID = id
	return rep
}

// protection reports whether a closing stop and a closing take-profit are resting
func protection(orders []OpenOrder, exit Side) (hasStop, hasTP bool) {
	for _, o := range orders {
		if o.Side != exit || !(o.ReduceOnly || o.ClosePosition) {
			continue
		}
		switch o.Kind {
		case KindStopMarket:
			hasStop = true
		case KindTakeProfitMarket:
			hasTP = true
		}
	}
	return hasStop, hasTP
}
