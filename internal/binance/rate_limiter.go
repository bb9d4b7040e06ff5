package binance

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// ErrIPBanned is returned while Binance has banned this IP for exceeding weight limits
var ErrIPBanned = errors.New("binance ip ban in effect")

// Binance futures allows 2400 request weight per minute; stay under 80% of it.
const (
	maxWeightPerMinute = 2400
	weightBudget       = 0.8
	weightBurst        = 50
)

// Endpoint weights for the Binance futures calls this client makes
var endpointWeights = map[string]int{
	"/fapi/v2/positionRisk":    5,
	"/fapi/v1/order":           1,
	"/fapi/v1/openOrders":      1, // with symbol
	"/fapi/v1/leverage":        1,
	"/fapi/v1/leverageBracket": 1,
	"/fapi/v1/ticker/24hr":     1, // with symbol
	"/fapi/v1/klines":          5,
	"/fapi/v1/depth":           2, // limit 5
	"/fapi/v1/exchangeInfo":    1,
}

// RateLimiter spends request weight from a token bucket and refuses calls during an IP ban
type RateLimiter struct {
	limiter *rate.Limiter
	now     func() time.Time

	mu                sync.RWMutex
	banUntil          time.Time
	consecutiveErrors int
}

// NewRateLimiter creates a new rate limiter
func NewRateLimiter() *RateLimiter {
	perSecond := rate.Limit(float64(maxWeightPerMinute) * weightBudget / 60)
	return &RateLimiter{
		limiter: rate.NewLimiter(perSecond, weightBurst),
		now:     time.Now,
	}
}

// Wait blocks until the endpoint's weight is available
func (r *RateLimiter) Wait(ctx context.Context, endpoint string) error {
	if until, banned := r.bannedUntil(); banned {
		return fmt.Errorf("%w until %s", ErrIPBanned, until.Format("15:04:05"))
	}
	return r.limiter.WaitN(ctx, getEndpointWeight(endpoint))
}

// RecordSuccess resets the ban backoff
func (r *RateLimiter) RecordSuccess() {
	r.mu.Lock()
	r.consecutiveErrors = 0
	r.mu.Unlock()
}

// RecordRateLimitError opens the ban window, using the exchange's timestamp when one is given
func (r *RateLimiter) RecordRateLimitError(banUntilMs int64) time.Time {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.consecutiveErrors++
	now := r.now()
	if banUntilMs > 0 {
		r.banUntil = time.UnixMilli(banUntilMs)
		return r.banUntil
	}
	backoff := time.Duration(1<<uint(min(r.consecutiveErrors, 5))) * time.Minute
	if backoff > 30*time.Minute {
		backoff = 30 * time.Minute
	}
	r.banUntil = now.Add(backoff)
	return r.banUntil
}

func (r *RateLimiter) bannedUntil() (time.Time, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.banUntil, r.now().Before(r.banUntil)
}

func getEndpointWeight(endpoint string) int {
	if weight, ok := endpointWeights[endpoint]; ok {
		return weight
	}
	return 1
}

var banUntilPattern = regexp.MustCompile(`banned until (\d{13})`)

// ParseBanUntilFromError extracts the millisecond ban timestamp from a -1003 message
func ParseBanUntilFromError(errMsg string, now time.Time) int64 {
	m := banUntilPattern.FindStringSubmatch(errMsg)
	if m == nil {
		return 0
	}
	banUntil, err := strconv.ParseInt(m[1], 10, 64)
	if err != nil {
		return 0
	}
	if banUntil <= now.UnixMilli() || banUntil > now.Add(24*time.Hour).UnixMilli() {
		return 0
	}
	return banUntil
}
