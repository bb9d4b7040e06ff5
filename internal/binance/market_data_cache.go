package binance

import (
	"sync"
	"sync/atomic"
	"time"

	"signal-trading-bot/internal/market"
)

// Cache lifetimes per data kind
const (
	exchangeInfoTTL = time.Hour
	symbolTTL       = time.Hour
	bracketTTL      = time.Hour
	klineTTL        = 60 * time.Second
)

type cachedValue[V any] struct {
	Data      V
	UpdatedAt time.Time
}

// ttlCache is a thread-safe map whose entries expire after ttl
type ttlCache[V any] struct {
	ttl     time.Duration
	entries sync.Map // key -> *cachedValue[V]
	now     func() time.Time

	hitCount  atomic.Int64
	missCount atomic.Int64
}

func newTTLCache[V any](ttl time.Duration, now func() time.Time) *ttlCache[V] {
	return &ttlCache[V]{ttl: ttl, now: now}
}

func (c *ttlCache[V]) get(key string) (V, bool) {
	if val, ok := c.entries.Load(key); ok {
		cached := val.(*cachedValue[V])
		if c.now().Sub(cached.UpdatedAt) < c.ttl {
			c.hitCount.Add(1)
			return cached.Data, true
		}
	}
	c.missCount.Add(1)
	var zero V
	return zero, false
}

func (c *ttlCache[V]) put(key string, v V) {
	c.entries.Store(key, &cachedValue[V]{Data: v, UpdatedAt: c.now()})
}

func (c *ttlCache[V]) clear() {
	c.entries.Range(func(k, _ any) bool {
		c.entries.Delete(k)
		return true
	})
}

// MarketDataCache holds the exchange metadata and recent klines the client reuses between calls
type MarketDataCache struct {
	filters  *ttlCache[*market.Filters]
	symbols  *ttlCache[bool]
	brackets *ttlCache[int]
	klines   *ttlCache[[]market.Kline]
}

// CacheStats reports hit and miss counters
type CacheStats struct {
	Hits    int64   `json:"hits"`
	Misses  int64   `json:"misses"`
	HitRate float64 `json:"hit_rate"`
}

// NewMarketDataCache creates a new market data cache
func NewMarketDataCache(now func() time.Time) *MarketDataCache {
	if now == nil {
		now = time.Now
	}
	return &MarketDataCache{
		filters:  newTTLCache[*market.Filters](exchangeInfoTTL, now),
		symbols:  newTTLCache[bool](symbolTTL, now),
		brackets: newTTLCache[int](bracketTTL, now),
		klines:   newTTLCache[[]market.Kline](klineTTL, now),
	}
}

// GetKlines returns cached klines trimmed to limit
func (c *MarketDataCache) GetKlines(symbol, interval string, limit int) ([]market.Kline, bool) {
	data, ok := c.klines.get(symbol + ":" + interval)
	if !ok || len(data) < limit {
		return nil, false
	}
	return data[len(data)-limit:], true
}

// UpdateKlines replaces the cached series for a symbol and interval
func (c *MarketDataCache) UpdateKlines(symbol, interval string, klines []market.Kline) {
	c.klines.put(symbol+":"+interval, klines)
}

// Invalidate drops every cached entry
func (c *MarketDataCache) Invalidate() {
	c.filters.clear()
	c.symbols.clear()
	c.brackets.clear()
	c.klines.clear()
}

// Stats sums hit and miss counters across all kinds
func (c *MarketDataCache) Stats() CacheStats {
	var st CacheStats
	for _, pair := range [][2]int64{
		{c.filters.hitCount.Load(), c.filters.missCount.Load()},
		{c.symbols.hitCount.Load(), c.symbols.missCount.Load()},
		{c.brackets.hitCount.Load(), c.brackets.missCount.Load()},
		{c.klines.hitCount.Load(), c.klines.missCount.Load()},
	} {
		st.Hits += pair[0]
		st.Misses += pair[1]
	}
	if total := st.Hits + st.Misses; total > 0 {
		st.HitRate = float64(st.Hits) / float64(total) * 100
	}
	return st
}
