package analysis

import (
	"context"
	"fmt"
	"math"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

// KlineSource is the slice of market.DataProvider the chart analyzers need
type KlineSource interface {
	Klines(ctx context.Context, symbol, interval string, limit int) ([]market.Kline, error)
}

// FibonacciRatios are the retracement levels checked, in ascending order
var FibonacciRatios = []float64{0, 0.236, 0.382, 0.5, 0.618, 0.786, 1}

const (
	swingLookback     = 20
	minRetracementBar = 50
	bounceTolerance   = 0.005
	optimalTolerance  = 0.5 // percent
	defaultOptimal    = 0.618
)

// FibLevel is one retracement price and how often closes turned there
type FibLevel struct {
	Ratio   float64 `json:"ratio"`
	Price   float64 `json:"price"`
	Bounces int     `json:"bounces"`
}

// RetracementResult is the outcome of a Fibonacci analysis
type RetracementResult struct {
	Interval        string     `json:"interval"`
	SwingHigh       float64    `json:"swing_high"`
	SwingLow        float64    `json:"swing_low"`
	CurrentPrice    float64    `json:"current_price"`
	Levels          []FibLevel `json:"levels"`
	MostEffective   FibLevel   `json:"most_effective"`
	DistancePercent float64    `json:"distance_percent"`
	AtOptimalLevel  bool       `json:"at_optimal_level"`
}

// Recommendation describes where to rest a limit order when price is away from the level
func (r *RetracementResult) Recommendation() string {
	if r.AtOptimalLevel {
		return fmt.Sprintf("price at optimal level %.3f ($%.6f)", r.MostEffective.Ratio, r.MostEffective.Price)
	}
	return fmt.Sprintf("price $%.6f, level %.3f at $%.6f: place limit order",
		r.CurrentPrice, r.MostEffective.Ratio, r.MostEffective.Price)
}

// FibonacciAnalyzer locates the retracement level price has respected most often
type FibonacciAnalyzer struct {
	source KlineSource
}

// NewFibonacciAnalyzer creates an analyzer reading bars from source
func NewFibonacciAnalyzer(source KlineSource) *FibonacciAnalyzer {
	return &FibonacciAnalyzer{source: source}
}

// Analyze loads 4h bars, falling back to 1h when history is short
func (f *FibonacciAnalyzer) Analyze(ctx context.Context, symbol string, dir signal.Direction) (*RetracementResult, error) {
	interval := signal.RetracementTimeframe
	klines, err := f.source.Klines(ctx, symbol, interval, 100)
	if err != nil {
		return nil, err
	}
	if len(klines) < minRetracementBar {
		interval = "1h"
		klines, err = f.source.Klines(ctx, symbol, interval, 200)
		if err != nil {
			return nil, err
		}
	}
	if len(klines) < minRetracementBar {
		return nil, fmt.Errorf("%w: %d bars for %s", market.ErrDataUnavailable, len(klines), symbol)
	}

	res := Retracement(klines, dir)
	res.Interval = interval
	return res, nil
}

// Retracement computes levels from the swing of the last bars. A LONG measures up from
// the swing low, anything else measures down from the swing high. It returns nil without bars.
func Retracement(klines []market.Kline, dir signal.Direction) *RetracementResult {
	if len(klines) == 0 {
		return nil
	}
	recent := klines
	if len(recent) > swingLookback {
		recent = recent[len(recent)-swingLookback:]
	}
	high, low := recent[0].High, recent[0].Low
	for _, k := range recent[1:] {
		high = math.Max(high, k.High)
		low = math.Min(low, k.Low)
	}
	span := high - low

	closes := market.Closes(klines)
	res := &RetracementResult{
		SwingHigh:    high,
		SwingLow:     low,
		CurrentPrice: closes[len(closes)-1],
		Levels:       make([]FibLevel, 0, len(FibonacciRatios)),
	}

	for _, r := range FibonacciRatios {
		price := high - span*r
		if dir == signal.DirectionLong {
			price = low + span*r
		}
		res.Levels = append(res.Levels, FibLevel{Ratio: r, Price: price, Bounces: countBounces(closes, price)})
	}

	best := -1
	for i, lvl := range res.Levels {
		if lvl.Bounces > 0 && (best < 0 || lvl.Bounces > res.Levels[best].Bounces) {
			best = i
		}
	}
	if best < 0 {
		for i, lvl := range res.Levels {
			if lvl.Ratio == defaultOptimal {
				best = i
			}
		}
	}
	res.MostEffective = res.Levels[best]

	if res.CurrentPrice > 0 {
		res.DistancePercent = math.Abs(res.CurrentPrice-res.MostEffective.Price) / res.CurrentPrice * 100
	}
	res.AtOptimalLevel = res.DistancePercent < optimalTolerance
	return res
}

// countBounces counts closes that touched level while both neighbours sat on the same side
func countBounces(closes []float64, level float64) int {
	n := 0
	tol := level * bounceTolerance
	for i := 1; i < len(closes)-1; i++ {
		if math.Abs(closes[i]-level) > tol {
			continue
		}
		prev, next := closes[i-1], closes[i+1]
		if (prev > level && next > level) || (prev < level && next < level) {
			n++
		}
	}
	return n
}
