package binance

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/orders"
)

// Binance error codes the client branches on
const (
	codeTooManyRequests = -1003
	codeInvalidSymbol   = -1121
)

// isSymbolNotFound reports whether err is the exchange saying the symbol does not exist
func isSymbolNotFound(err error) bool {
	var apiErr *common.APIError
	return errors.As(err, &apiErr) && apiErr.Code == codeInvalidSymbol
}

func isRateLimited(err error) (string, bool) {
	var apiErr *common.APIError
	if errors.As(err, &apiErr) && apiErr.Code == codeTooManyRequests {
		return apiErr.Message, true
	}
	return "", false
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func toSnapshot(symbol string, stats *futures.PriceChangeStats, depth *futures.DepthResponse, now time.Time) (*market.Snapshot, error) {
	if stats == nil {
		return nil, fmt.Errorf("%w: %s: empty ticker", market.ErrDataUnavailable, symbol)
	}
	snap := &market.Snapshot{
		Symbol:             symbol,
		Price:              parseFloat(stats.LastPrice),
		PriceChangePercent: parseFloat(stats.PriceChangePercent),
		Volume:             parseFloat(stats.QuoteVolume),
		FetchedAt:          now,
	}
	if depth != nil {
		if len(depth.Bids) > 0 {
			snap.BidPrice = parseFloat(depth.Bids[0].Price)
		}
		if len(depth.Asks) > 0 {
			snap.AskPrice = parseFloat(depth.Asks[0].Price)
		}
	}
	snap.Spread = market.SpreadPercent(snap.BidPrice, snap.AskPrice)
	if err := snap.Validate(); err != nil {
		return nil, fmt.Errorf("%s: price %q: %w", symbol, stats.LastPrice, err)
	}
	return snap, nil
}

func toKlines(raw []*futures.Kline) []market.Kline {
	out := make([]market.Kline, 0, len(raw))
	for _, k := range raw {
		if k == nil {
			continue
		}
		out = append(out, market.Kline{
			OpenTime:  time.UnixMilli(k.OpenTime),
			Open:      parseFloat(k.Open),
			High:      parseFloat(k.High),
			Low:       parseFloat(k.Low),
			Close:     parseFloat(k.Close),
			Volume:    parseFloat(k.Volume),
			CloseTime: time.UnixMilli(k.CloseTime),
		})
	}
	return out
}

// toFilters reads LOT_SIZE and PRICE_FILTER from an exchange-info symbol
func toFilters(sym *futures.Symbol) *market.Filters {
	f := &market.Filters{Symbol: sym.Symbol}
	if lot := sym.LotSizeFilter(); lot != nil {
		f.MinQty = parseFloat(lot.MinQuantity)
		f.StepSize = parseFloat(lot.StepSize)
	}
	if pf := sym.PriceFilter(); pf != nil {
		f.TickSize = parseFloat(pf.TickSize)
	}
	return f
}

// maxBracketLeverage is the initial leverage of the lowest notional bracket
func maxBracketLeverage(brackets []*futures.LeverageBracket, symbol string) int {
	best := 0
	for _, lb := range brackets {
		if lb == nil || lb.Symbol != symbol {
			continue
		}
		for _, b := range lb.Brackets {
			best = max(best, b.InitialLeverage)
		}
	}
	return best
}

func toOrderResult(res *futures.CreateOrderResponse) *orders.OrderResult {
	return &orders.OrderResult{
		OrderID:       res.OrderID,
		ClientOrderID: res.ClientOrderID,
		Status:        string(res.Status),
		AvgPrice:      parseFloat(res.AvgPrice),
		ExecutedQty:   parseFloat(res.ExecutedQuantity),
	}
}

func toPosition(p *futures.PositionRisk) orders.ExchangePosition {
	lev, _ := strconv.Atoi(p.Leverage)
	return orders.ExchangePosition{
		Symbol:     p.Symbol,
		Amount:     parseFloat(p.PositionAmt),
		EntryPrice: parseFloat(p.EntryPrice),
		Leverage:   lev,
	}
}

func toOpenOrder(o *futures.Order) orders.OpenOrder {
	return orders.OpenOrder{
		OrderID:       o.OrderID,
		ClientOrderID: o.ClientOrderID,
		Symbol:        o.Symbol,
		Kind:          orders.OrderKind(o.Type),
		Side:          orders.Side(o.Side),
		ReduceOnly:    o.ReduceOnly,
		ClosePosition: o.ClosePosition,
		StopPrice:     parseFloat(o.StopPrice),
	}
}
