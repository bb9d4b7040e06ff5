package analysis

import (
	"math"

	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

// RiskLevel classifies how far price is from the signal's entry zone
type RiskLevel string

const (
	RiskLow    RiskLevel = "LOW"
	RiskMedium RiskLevel = "MEDIUM"
	RiskHigh   RiskLevel = "HIGH"
)

// MomentumDirection is the sign of a strong 24h move
type MomentumDirection string

const (
	MomentumBullish MomentumDirection = "BULLISH"
	MomentumBearish MomentumDirection = "BEARISH"
	MomentumNeutral MomentumDirection = "NEUTRAL"
)

// Significance grades how much weight the volume reading carries
type Significance string

const (
	SignificanceLow    Significance = "LOW"
	SignificanceMedium Significance = "MEDIUM"
	SignificanceHigh   Significance = "HIGH"
)

const (
	VolumeVeryHigh = "VERY_HIGH"
	VolumeHigh     = "HIGH"
	VolumeMedium   = "MEDIUM"
	VolumeNormal   = "NORMAL"

	accumulationSuffix = "_ACCUMULATION"
	maxScore           = 5
)

// roundAnchors are psychological price levels, scanned in ascending order
var roundAnchors = []float64{0.001, 0.01, 0.1, 1, 10, 100, 1000}

// Thresholds are the policy values the heuristics compare against
type Thresholds struct {
	HighVolume      float64
	VeryHighVolume  float64
	ExtremeVolume   float64
	MinLiquidity    float64
	StableChangePct float64
	LargeMovePct    float64
	MomentumMovePct float64
	RoundNumberPct  float64
}

// DefaultThresholds returns the stock policy values
func DefaultThresholds() Thresholds {
	return Thresholds{
		HighVolume:      1_000_000,
		VeryHighVolume:  5_000_000,
		ExtremeVolume:   10_000_000,
		MinLiquidity:    500_000,
		StableChangePct: 2,
		LargeMovePct:    3,
		MomentumMovePct: 5,
		RoundNumberPct:  5,
	}
}

// SupportResistance describes price relative to the signal's levels. Zero levels are absent.
type SupportResistance struct {
	NearSupport     bool      `json:"near_support"`
	NearResistance  bool      `json:"near_resistance"`
	RiskLevel       RiskLevel `json:"risk_level"`
	SupportLevel    float64   `json:"support_level,omitempty"`
	ResistanceLevel float64   `json:"resistance_level,omitempty"`
}

// HasLevels reports whether both levels were derived
func (sr SupportResistance) HasLevels() bool {
	return sr.SupportLevel > 0 && sr.ResistanceLevel > 0
}

// Momentum summarizes the 24h move
type Momentum struct {
	Direction MomentumDirection `json:"direction"`
	Strength  float64           `json:"strength"` // always within [0,1]
	Reliable  bool              `json:"reliable"`
}

// VolumeAnalysis classifies 24h quote volume
type VolumeAnalysis struct {
	Level        string       `json:"level"`
	Significance Significance `json:"significance"`
	Volume       float64      `json:"volume"`
}

// Result is everything the decision engine needs to know about the market
type Result struct {
	Symbol             string            `json:"symbol"`
	CurrentPrice       float64           `json:"current_price"`
	PriceChangePercent float64           `json:"price_change_percent"`
	SmartMoneyScore    int               `json:"smart_money_score"`
	SupportResistance  SupportResistance `json:"support_resistance"`
	Momentum           Momentum          `json:"momentum"`
	Volume             VolumeAnalysis    `json:"volume"`

	Retracement *RetracementResult `json:"retracement,omitempty"`
	Cross       *CrossResult       `json:"cross,omitempty"`
}

// Engine scores a market snapshot against a parsed signal. It holds no state.
type Engine struct {
	th Thresholds
}

// NewEngine creates an engine with the given thresholds
func NewEngine(th Thresholds) *Engine {
	return &Engine{th: th}
}

// Analyze combines score, level proximity, momentum and volume into one Result
func (e *Engine) Analyze(symbol string, snap *market.Snapshot, sig signal.Signal) Result {
	return Result{
		Symbol:             symbol,
		CurrentPrice:       snap.Price,
		PriceChangePercent: snap.PriceChangePercent,
		SmartMoneyScore:    e.SmartMoneyScore(snap),
		SupportResistance:  e.SupportResistance(snap.Price, sig),
		Momentum:           e.Momentum(snap),
		Volume:             e.ClassifyVolume(snap.Volume, snap.PriceChangePercent),
	}
}

// SmartMoneyScore is an additive 0-5 proxy for large-participant activity
func (e *Engine) SmartMoneyScore(snap *market.Snapshot) int {
	score := 0
	change := math.Abs(snap.PriceChangePercent)

	// accumulation: heavy volume, flat price
	if snap.Volume > e.th.HighVolume && change < e.th.StableChangePct {
		score += 2
	}
	// markup or distribution: very heavy volume, large move
	if snap.Volume > e.th.VeryHighVolume && change > e.th.LargeMovePct {
		score += 3
	}
	for _, anchor := range roundAnchors {
		if math.Abs(snap.Price-anchor)/anchor < e.th.RoundNumberPct/100 {
			score++
			break
		}
	}

	if score > maxScore {
		score = maxScore
	}
	return score
}

// SupportResistance grades distance from the entry mean and derives levels from the signal
func (e *Engine) SupportResistance(price float64, sig signal.Signal) SupportResistance {
	sr := SupportResistance{RiskLevel: RiskMedium}

	mean, ok := sig.EntryMean()
	if !ok || mean <= 0 {
		return sr
	}

	distance := math.Abs(price-mean) / mean
	switch {
	case distance < 0.01:
		sr.RiskLevel = RiskLow
		sr.NearSupport = sig.Direction == signal.DirectionLong
		sr.NearResistance = sig.Direction == signal.DirectionShort
	case distance > 0.05:
		sr.RiskLevel = RiskHigh
	}

	tp1, hasTP := sig.FirstTakeProfit()
	if sig.Direction == signal.DirectionLong {
		sr.SupportLevel = mean * 0.95
		if sig.StopLoss != nil && *sig.StopLoss > 0 {
			sr.SupportLevel = *sig.StopLoss
		}
		sr.ResistanceLevel = mean * 1.10
		if hasTP {
			sr.ResistanceLevel = tp1
		}
		return sr
	}

	sr.ResistanceLevel = mean * 1.05
	if sig.StopLoss != nil && *sig.StopLoss > 0 {
		sr.ResistanceLevel = *sig.StopLoss
	}
	sr.SupportLevel = mean * 0.90
	if hasTP {
		sr.SupportLevel = tp1
	}
	return sr
}

// Momentum is NEUTRAL unless the 24h move exceeds the momentum band. Strength is
// scaled up on heavy volume and then clamped back into [0,1].
func (e *Engine) Momentum(snap *market.Snapshot) Momentum {
	m := Momentum{
		Direction: MomentumNeutral,
		Reliable:  snap.Volume > e.th.MinLiquidity,
	}
	change := snap.PriceChangePercent
	if math.Abs(change) > e.th.MomentumMovePct {
		m.Direction = MomentumBullish
		if change < 0 {
			m.Direction = MomentumBearish
		}
		m.Strength = math.Min(math.Abs(change)/10, 1)
	}
	if snap.Volume > e.th.HighVolume {
		m.Strength *= 1.5
	}
	m.Strength = math.Min(m.Strength, 1)
	return m
}

// ClassifyVolume buckets 24h volume into four bands
func (e *Engine) ClassifyVolume(volume, changePct float64) VolumeAnalysis {
	va := VolumeAnalysis{Level: VolumeNormal, Significance: SignificanceLow, Volume: volume}
	switch {
	case volume > e.th.ExtremeVolume:
		va.Level, va.Significance = VolumeVeryHigh, SignificanceHigh
	case volume > e.th.VeryHighVolume:
		va.Level, va.Significance = VolumeHigh, SignificanceMedium
	case volume > e.th.HighVolume:
		va.Level, va.Significance = VolumeMedium, SignificanceMedium
	}
	if volume > e.th.VeryHighVolume && math.Abs(changePct) < e.th.StableChangePct {
		va.Level += accumulationSuffix
	}
	return va
}
