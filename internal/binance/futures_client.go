// Package binance adapts the Binance USDT-M futures API to the market data, symbol
// validation and order gateway interfaces used by the pipeline.
package binance

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/adshao/go-binance/v2/futures"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/signal"
)

const depthLimit = 5

// FuturesClient wraps the go-binance futures client with call timeouts, request-weight
// limiting and metadata caching.
type FuturesClient struct {
	client      *futures.Client
	callTimeout time.Duration
	limiter     *RateLimiter
	cache       *MarketDataCache
	group       singleflight.Group
	logger      zerolog.Logger
	now         func() time.Time
}

// NewFuturesClient creates a new FuturesClient instance
func NewFuturesClient(apiKey, secretKey string, testnet bool, callTimeout time.Duration, logger zerolog.Logger) *FuturesClient {
	// UseTestnet is read by futures.NewClient to pick the base URL
	futures.UseTestnet = testnet
	if callTimeout <= 0 {
		callTimeout = 10 * time.Second
	}
	return &FuturesClient{
		client:      futures.NewClient(strings.TrimSpace(apiKey), strings.TrimSpace(secretKey)),
		callTimeout: callTimeout,
		limiter:     NewRateLimiter(),
		cache:       NewMarketDataCache(time.Now),
		logger:      logger.With().Str("component", "binance").Bool("testnet", testnet).Logger(),
		now:         time.Now,
	}
}

// Cache exposes the metadata cache for stats and invalidation
func (c *FuturesClient) Cache() *MarketDataCache {
	return c.cache
}

// call runs fn under the weight limiter and the per-call timeout
func call[T any](ctx context.Context, c *FuturesClient, endpoint string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := c.limiter.Wait(ctx, endpoint); err != nil {
		return zero, err
	}
	cctx, cancel := context.WithTimeout(ctx, c.callTimeout)
	defer cancel()

	res, err := fn(cctx)
	if err != nil {
		if msg, limited := isRateLimited(err); limited {
			until := c.limiter.RecordRateLimitError(ParseBanUntilFromError(msg, c.now()))
			c.logger.Warn().Str("endpoint", endpoint).Time("ban_until", until).Msg("Request weight exceeded")
		}
		return zero, err
	}
	c.limiter.RecordSuccess()
	return res, nil
}

// ==================== MARKET DATA ====================

// Snapshot fetches the 24h ticker and the top of the book concurrently
func (c *FuturesClient) Snapshot(ctx context.Context, symbol string) (*market.Snapshot, error) {
	var (
		stats *futures.PriceChangeStats
		depth *futures.DepthResponse
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		res, err := call(gctx, c, "/fapi/v1/ticker/24hr", func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
			return c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
		})
		if err != nil {
			return fmt.Errorf("24h ticker: %w", err)
		}
		if len(res) > 0 {
			stats = res[0]
		}
		return nil
	})
	g.Go(func() error {
		res, err := call(gctx, c, "/fapi/v1/depth", func(ctx context.Context) (*futures.DepthResponse, error) {
			return c.client.NewDepthService().Symbol(symbol).Limit(depthLimit).Do(ctx)
		})
		if err != nil {
			return fmt.Errorf("depth: %w", err)
		}
		depth = res
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, fmt.Errorf("snapshot %s: %w: %w", symbol, market.ErrDataUnavailable, err)
	}
	return toSnapshot(symbol, stats, depth, c.now())
}

// Klines returns the most recent bars, oldest first
func (c *FuturesClient) Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error) {
	if cached, ok := c.cache.GetKlines(symbol, interval, limit); ok {
		return cached, nil
	}
	raw, err := call(ctx, c, "/fapi/v1/klines", func(ctx context.Context) ([]*futures.Kline, error) {
		return c.client.NewKlinesService().Symbol(symbol).Interval(interval).Limit(limit).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("klines %s %s: %w: %w", symbol, interval, market.ErrDataUnavailable, err)
	}
	klines := toKlines(raw)
	c.cache.UpdateKlines(symbol, interval, klines)
	return klines, nil
}

// Filters returns LOT_SIZE and PRICE_FILTER values, refreshing exchange info at most once per TTL
func (c *FuturesClient) Filters(ctx context.Context, symbol string) (*market.Filters, error) {
	if f, ok := c.cache.filters.get(symbol); ok {
		return f, nil
	}
	if err := c.refreshExchangeInfo(ctx); err != nil {
		return nil, err
	}
	if f, ok := c.cache.filters.get(symbol); ok {
		return f, nil
	}
	return nil, fmt.Errorf("%s: %w", symbol, market.ErrSymbolNotFound)
}

func (c *FuturesClient) refreshExchangeInfo(ctx context.Context) error {
	_, err, _ := c.group.Do("exchangeInfo", func() (any, error) {
		info, err := call(ctx, c, "/fapi/v1/exchangeInfo", func(ctx context.Context) (*futures.ExchangeInfo, error) {
			return c.client.NewExchangeInfoService().Do(ctx)
		})
		if err != nil {
			return nil, fmt.Errorf("exchange info: %w: %w", market.ErrDataUnavailable, err)
		}
		for i := range info.Symbols {
			sym := &info.Symbols[i]
			c.cache.filters.put(sym.Symbol, toFilters(sym))
		}
		c.logger.Debug().Int("symbols", len(info.Symbols)).Msg("Exchange info refreshed")
		return nil, nil
	})
	return err
}

// MaxLeverage returns the highest initial leverage of the symbol's brackets
func (c *FuturesClient) MaxLeverage(ctx context.Context, symbol string) (int, error) {
	if lev, ok := c.cache.brackets.get(symbol); ok {
		return lev, nil
	}
	brackets, err := call(ctx, c, "/fapi/v1/leverageBracket", func(ctx context.Context) ([]*futures.LeverageBracket, error) {
		return c.client.NewGetLeverageBracketService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("leverage bracket %s: %w: %w", symbol, market.ErrDataUnavailable, err)
	}
	lev := maxBracketLeverage(brackets, symbol)
	if lev <= 0 {
		return 0, fmt.Errorf("leverage bracket %s: %w", symbol, market.ErrSymbolNotFound)
	}
	c.cache.brackets.put(symbol, lev)
	return lev, nil
}

// Exists validates a symbol against the 24h ticker endpoint. -1121 means not listed;
// every other failure is returned so callers can tell it apart from invalidity.
func (c *FuturesClient) Exists(ctx context.Context, symbol string) (bool, error) {
	if ok, hit := c.cache.symbols.get(symbol); hit {
		return ok, nil
	}
	_, err := call(ctx, c, "/fapi/v1/ticker/24hr", func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
		return c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	switch {
	case err == nil:
		c.cache.symbols.put(symbol, true)
		return true, nil
	case isSymbolNotFound(err):
		c.cache.symbols.put(symbol, false)
		return false, nil
	default:
		return false, err
	}
}

// LastPrice returns the 24h ticker's last price
func (c *FuturesClient) LastPrice(ctx context.Context, symbol string) (float64, error) {
	res, err := call(ctx, c, "/fapi/v1/ticker/24hr", func(ctx context.Context) ([]*futures.PriceChangeStats, error) {
		return c.client.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return 0, fmt.Errorf("price %s: %w: %w", symbol, market.ErrDataUnavailable, err)
	}
	if len(res) == 0 || parseFloat(res[0].LastPrice) <= 0 {
		return 0, fmt.Errorf("price %s: %w", symbol, market.ErrDataUnavailable)
	}
	return parseFloat(res[0].LastPrice), nil
}

// ==================== TRADING ====================

// SetLeverage sets the leverage for a symbol
func (c *FuturesClient) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	_, err := call(ctx, c, "/fapi/v1/leverage", func(ctx context.Context) (*futures.SymbolLeverage, error) {
		return c.client.NewChangeLeverageService().Symbol(symbol).Leverage(leverage).Do(ctx)
	})
	if err != nil {
		return fmt.Errorf("set leverage %s %dx: %w", symbol, leverage, err)
	}
	return nil
}

// PlaceMarketOrder sends a market order and waits for the RESULT response so the fill is known
func (c *FuturesClient) PlaceMarketOrder(ctx context.Context, o orders.MarketOrder) (*orders.OrderResult, error) {
	res, err := call(ctx, c, "/fapi/v1/order", func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return c.client.NewCreateOrderService().
			Symbol(o.Symbol).
			Side(futures.SideType(o.Side)).
			Type(futures.OrderTypeMarket).
			Quantity(o.Quantity).
			NewClientOrderID(o.ClientOrderID).
			NewOrderResponseType(futures.NewOrderRespTypeRESULT).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("market %s %s %s: %w", o.Side, o.Quantity, o.Symbol, err)
	}
	return toOrderResult(res), nil
}

// PlaceReduceOnlyStop places a STOP_MARKET that can only reduce the position
func (c *FuturesClient) PlaceReduceOnlyStop(ctx context.Context, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	return c.placeTrigger(ctx, futures.OrderTypeStopMarket, o)
}

// PlaceReduceOnlyTakeProfit places a TAKE_PROFIT_MARKET that can only reduce the position
func (c *FuturesClient) PlaceReduceOnlyTakeProfit(ctx context.Context, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	return c.placeTrigger(ctx, futures.OrderTypeTakeProfitMarket, o)
}

func (c *FuturesClient) placeTrigger(ctx context.Context, kind futures.OrderType, o orders.ProtectiveOrder) (*orders.OrderResult, error) {
	res, err := call(ctx, c, "/fapi/v1/order", func(ctx context.Context) (*futures.CreateOrderResponse, error) {
		return c.client.NewCreateOrderService().
			Symbol(o.Symbol).
			Side(futures.SideType(o.Side)).
			Type(kind).
			Quantity(o.Quantity).
			StopPrice(o.StopPrice).
			ReduceOnly(true).
			TimeInForce(futures.TimeInForceTypeGTC).
			WorkingType(futures.WorkingTypeMarkPrice).
			NewClientOrderID(o.ClientOrderID).
			Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("%s %s @ %s: %w", kind, o.Symbol, o.StopPrice, err)
	}
	return toOrderResult(res), nil
}

// OpenPositions returns positions with a non-zero amount
func (c *FuturesClient) OpenPositions(ctx context.Context) ([]orders.ExchangePosition, error) {
	risks, err := call(ctx, c, "/fapi/v2/positionRisk", func(ctx context.Context) ([]*futures.PositionRisk, error) {
		return c.client.NewGetPositionRiskService().Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("position risk: %w", err)
	}
	var out []orders.ExchangePosition
	for _, r := range risks {
		if r == nil {
			continue
		}
		if pos := toPosition(r); pos.Amount != 0 {
			out = append(out, pos)
		}
	}
	return out, nil
}

// OpenOrders lists resting orders for a symbol
func (c *FuturesClient) OpenOrders(ctx context.Context, symbol string) ([]orders.OpenOrder, error) {
	list, err := call(ctx, c, "/fapi/v1/openOrders", func(ctx context.Context) ([]*futures.Order, error) {
		return c.client.NewListOpenOrdersService().Symbol(symbol).Do(ctx)
	})
	if err != nil {
		return nil, fmt.Errorf("open orders %s: %w", symbol, err)
	}
	out := make([]orders.OpenOrder, 0, len(list))
	for _, o := range list {
		if o != nil {
			out = append(out, toOpenOrder(o))
		}
	}
	return out, nil
}

var (
	_ market.DataProvider    = (*FuturesClient)(nil)
	_ signal.SymbolValidator = (*FuturesClient)(nil)
	_ orders.Gateway         = (*FuturesClient)(nil)
)
