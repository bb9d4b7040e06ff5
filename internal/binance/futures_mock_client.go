package binance

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strconv"
	"sync"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/signal"
)

// PriceProvider returns the current price used to fill paper orders
type PriceProvider func(ctx context.Context, symbol string) (float64, error)

// PaperGateway implements orders.Gateway in memory for dry-run mode. Market orders fill
// at the provider's price; protective orders rest until Evaluate sees them trigger.
type PaperGateway struct {
	mu            sync.Mutex
	positions     map[string]*orders.ExchangePosition
	openOrders    map[int64]orders.OpenOrder
	leverage      map[string]int
	nextOrderID   int64
	priceProvider PriceProvider
	logger        zerolog.Logger
}

// NewPaperGateway creates a new dry-run gateway
func NewPaperGateway(priceProvider PriceProvider, logger zerolog.Logger) *PaperGateway {
	return &PaperGateway{
		positions:     make(map[string]*orders.ExchangePosition),
		openOrders:    make(map[int64]orders.OpenOrder),
		leverage:      make(map[string]int),
		nextOrderID:   1000,
		priceProvider: priceProvider,
		logger:        logger.With().Str("component", "paper_gateway").Logger(),
	}
}

func (g *PaperGateway) SetLeverage(_ context.Context, symbol string, leverage int) error {
	if leverage < 1 || leverage > 125 {
		return fmt.Errorf("leverage %d out of range", leverage)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.leverage[symbol] = leverage
	return nil
}

func (g *PaperGateway) PlaceMarketOrder(ctx context.Context, o orders.MarketOrder) (*orders.OrderResult, error) {
	qty, err := strconv.ParseFloat(o.Quantity, 64)
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("invalid quantity %q", o.Quantity)
	}
	price, err := g.priceProvider(ctx, o.Symbol)
	if err != nil {
		return nil, fmt.Errorf("failed to get current price: %w", err)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	signed := qty
	if o.Side == orders.SideSell {
		signed = -qty
	}
	pos, exists := g.positions[o.Symbol]
	if !exists {
		pos = &orders.ExchangePosition{Symbol: o.Symbol, Leverage: g.leverage[o.Symbol]}
		g.positions[o.Symbol] = pos
	}
	newAmt := pos.Amount + signed
	switch {
	case pos.Amount == 0 || sameSign(pos.Amount, signed):
		// opening or adding: weighted average entry
		pos.EntryPrice = (math.Abs(pos.Amount)*pos.EntryPrice + qty*price) / math.Abs(newAmt)
	case newAmt != 0 && !sameSign(pos.Amount, newAmt):
		// flipped through zero
		pos.EntryPrice = price
	}
	pos.Amount = roundQty(newAmt)
	if pos.Amount == 0 {
		g.closeLocked(o.Symbol)
	}

	id := g.nextOrderID
	g.nextOrderID++
	g.logger.Info().
		Str("symbol", o.Symbol).
		Str("side", string(o.Side)).
		Float64("qty", qty).
		Float64("price", price).
		Msg("Paper market order filled")
	return &orders.OrderResult{
		OrderID:       id,
		ClientOrderID: o.ClientOrderID,
		Status:        orders.StatusFilled,
		AvgPrice:      price,
		ExecutedQty:   qty,
	}, nil
}

func (g *PaperGateway) PlaceReduceOnlyStop(_ context.Context, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	return g.rest(orders.KindStopMarket, o)
}

func (g *PaperGateway) PlaceReduceOnlyTakeProfit(_ context.Context, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	return g.rest(orders.KindTakeProfitMarket, o)
}

func (g *PaperGateway) rest(kind orders.OrderKind, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	stop, err := strconv.ParseFloat(o.StopPrice, 64)
	if err != nil || stop <= 0 {
		return nil, fmt.Errorf("invalid stop price %q", o.StopPrice)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	// reduce-only orders are rejected when there is nothing to reduce
	pos, ok := g.positions[o.Symbol]
	if !ok || pos.Amount == 0 || orders.ExitSide(directionOf(pos.Amount)) != o.Side {
		return nil, fmt.Errorf("ReduceOnly Order is rejected: no %s position to reduce", o.Symbol)
	}

	id := g.nextOrderID
	g.nextOrderID++
	g.openOrders[id] = orders.OpenOrder{
		OrderID:       id,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Kind:          kind,
		Side:          o.Side,
		ReduceOnly:    true,
		StopPrice:     stop,
	}
	return &orders.OrderResult{OrderID: id, ClientOrderID: o.ClientOrderID, Status: "NEW"}, nil
}

func (g *PaperGateway) OpenPositions(context.Context) ([]orders.ExchangePosition, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	out := make([]orders.ExchangePosition, 0, len(g.positions))
	for _, pos := range g.positions {
		if pos.Amount != 0 {
			out = append(out, *pos)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out, nil
}

func (g *PaperGateway) OpenOrders(_ context.Context, symbol string) ([]orders.OpenOrder, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	var out []orders.OpenOrder
	for _, o := range g.openOrders {
		if o.Symbol == symbol {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].OrderID < out[j].OrderID })
	return out, nil
}

// Evaluate fires the first protective order a mark price crosses and closes the
// position. It returns the triggered order, if any.
func (g *PaperGateway) Evaluate(symbol string, mark float64) (*orders.OpenOrder, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	pos, ok := g.positions[symbol]
	if !ok || pos.Amount == 0 {
		return nil, false
	}
	long := pos.Amount > 0

	ids := make([]int64, 0, len(g.openOrders))
	for id, o := range g.openOrders {
		if o.Symbol == symbol {
			ids = append(ids, id)
		}
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })

	for _, id := range ids {
		o := g.openOrders[id]
		if !triggered(o, long, mark) {
			continue
		}
		g.logger.Info().
			Str("symbol", symbol).
			Str("kind", string(o.Kind)).
			Float64("trigger", o.StopPrice).
			Float64("mark", mark).
			Msg("Paper protective order triggered")
		pos.Amount = 0
		g.closeLocked(symbol)
		return &o, true
	}
	return nil, false
}

func triggered(o orders.OpenOrder, long bool, mark float64) bool {
	switch {
	case o.Kind == orders.KindStopMarket && long:
		return mark <= o.StopPrice
	case o.Kind == orders.KindStopMarket:
		return mark >= o.StopPrice
	case o.Kind == orders.KindTakeProfitMarket && long:
		return mark >= o.StopPrice
	case o.Kind == orders.KindTakeProfitMarket:
		return mark <= o.StopPrice
	}
	return false
}

// closeLocked drops the position and cancels the symbol's resting orders
func (g *PaperGateway) closeLocked(symbol string) {
	delete(g.positions, symbol)
	for id, o := range g.openOrders {
		if o.Symbol == symbol {
			delete(g.openOrders, id)
		}
	}
}

func directionOf(amount float64) signal.Direction {
	if amount < 0 {
		return signal.DirectionShort
	}
	return signal.DirectionLong
}

func sameSign(a, b float64) bool {
	return (a > 0) == (b > 0)
}

func roundQty(v float64) float64 {
	return math.Round(v*1e8) / 1e8
}

var _ orders.Gateway = (*PaperGateway)(nil)
