package analysis

import (
	"context"
	"fmt"
	"math"

	"github.com/markcheno/go-talib"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

// CrossType describes the relationship between the fast and slow averages
type CrossType string

const (
	CrossGolden CrossType = "GOLDEN_CROSS"
	CrossDeath  CrossType = "DEATH_CROSS"
	CrossAbove  CrossType = "ABOVE"
	CrossBelow  CrossType = "BELOW"
)

const (
	crossFallbackInterval = "15m"
	crossBaseConfidence   = 50
	crossFreshBonus       = 25
	crossSeparationBonus  = 15
	crossTrendBonus       = 10
	crossSeparationPct    = 0.5
	crossTrendBars        = 5
	// CrossStrongConfidence is the confidence from which a cross is treated as decisive
	CrossStrongConfidence = 70
)

// CrossResult is the outcome of a moving-average cross analysis
type CrossResult struct {
	Interval      string           `json:"interval"`
	Type          CrossType        `json:"type"`
	FastPeriod    int              `json:"fast_period"`
	SlowPeriod    int              `json:"slow_period"`
	FastEMA       float64          `json:"fast_ema"`
	SlowEMA       float64          `json:"slow_ema"`
	SeparationPct float64          `json:"separation_pct"`
	Confidence    int              `json:"confidence"`
	Direction     signal.Direction `json:"direction"`
}

// Fresh reports whether the cross happened on the latest bar
func (c *CrossResult) Fresh() bool {
	return c.Type == CrossGolden || c.Type == CrossDeath
}

// EMACrossAnalyzer derives a direction from two exponential moving averages
type EMACrossAnalyzer struct {
	source KlineSource
}

// NewEMACrossAnalyzer creates an analyzer reading bars from source
func NewEMACrossAnalyzer(source KlineSource) *EMACrossAnalyzer {
	return &EMACrossAnalyzer{source: source}
}

// Analyze loads bars at the signal's timeframe and falls back to 15m when history is
// shorter than the slow period.
func (a *EMACrossAnalyzer) Analyze(ctx context.Context, symbol, interval string, fast, slow int) (*CrossResult, error) {
	if fast <= 0 || slow <= 0 {
		fast, slow = signal.DefaultFastPeriod, signal.DefaultSlowPeriod
	}
	if interval == "" {
		interval = signal.MACrossTimeframe
	}

	klines, err := a.source.Klines(ctx, symbol, interval, slow+50)
	if err != nil {
		return nil, err
	}
	if len(klines) <= slow {
		interval = crossFallbackInterval
		klines, err = a.source.Klines(ctx, symbol, interval, slow+100)
		if err != nil {
			return nil, err
		}
	}
	if len(klines) <= slow {
		return nil, fmt.Errorf("%w: %d bars for %s, need %d", market.ErrDataUnavailable, len(klines), symbol, slow)
	}

	res, err := Cross(market.Closes(klines), fast, slow)
	if err != nil {
		return nil, err
	}
	res.Interval = interval
	return res, nil
}

// Cross classifies the last two bars of the fast and slow EMAs and scores the reading
func Cross(closes []float64, fast, slow int) (*CrossResult, error) {
	if len(closes) <= slow || len(closes) <= fast || len(closes) < crossTrendBars {
		return nil, fmt.Errorf("%w: %d closes, need %d", market.ErrDataUnavailable, len(closes), slow)
	}

	fastEMA := talib.Ema(closes, fast)
	slowEMA := talib.Ema(closes, slow)
	n := len(closes)
	curF, curS := fastEMA[n-1], slowEMA[n-1]
	prevF, prevS := fastEMA[n-2], slowEMA[n-2]

	res := &CrossResult{
		FastPeriod: fast,
		SlowPeriod: slow,
		FastEMA:    curF,
		SlowEMA:    curS,
		Confidence: crossBaseConfidence,
	}

	switch {
	case prevF <= prevS && curF > curS:
		res.Type, res.Direction = CrossGolden, signal.DirectionLong
	case prevF >= prevS && curF < curS:
		res.Type, res.Direction = CrossDeath, signal.DirectionShort
	case curF > curS:
		res.Type, res.Direction = CrossAbove, signal.DirectionLong
	default:
		res.Type, res.Direction = CrossBelow, signal.DirectionShort
	}

	if res.Fresh() {
		res.Confidence += crossFreshBonus
	}

	price := closes[n-1]
	if price > 0 {
		res.SeparationPct = math.Abs(curF-curS) / price * 100
	}
	if res.SeparationPct > crossSeparationPct {
		res.Confidence += crossSeparationBonus
	}

	consistent := true
	for i := n - crossTrendBars + 1; i < n; i++ {
		if res.Direction == signal.DirectionLong && fastEMA[i] <= slowEMA[i] {
			consistent = false
			break
		}
		if res.Direction == signal.DirectionShort && fastEMA[i] >= slowEMA[i] {
			consistent = false
			break
		}
	}
	if consistent {
		res.Confidence += crossTrendBonus
	}

	return res, nil
}
