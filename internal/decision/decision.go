// Package decision turns an analysis result into an entry or wait call with a
// confidence figure and the reasons behind it.
package decision

import (
	"fmt"
	"math"
	"strings"

	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/signal"
)

// Action is what the bot should do with a signal
type Action string

const (
	ActionEnterLong  Action = "ENTER_LONG"
	ActionEnterShort Action = "ENTER_SHORT"
	ActionWait       Action = "WAIT"
)

// IsEntry reports whether the action opens a position
func (a Action) IsEntry() bool {
	return a == ActionEnterLong || a == ActionEnterShort
}

// Direction returns the trade direction of an entry action
func (a Action) Direction() signal.Direction {
	switch a {
	case ActionEnterLong:
		return signal.DirectionLong
	case ActionEnterShort:
		return signal.DirectionShort
	}
	return signal.DirectionUnknown
}

const (
	baseConfidence    = 50
	maxConfidence     = 95
	projectedIncrease = 15
	moderateFloor     = 60

	genericWait = "wait for better market conditions"
)

// Decision is the outcome for one signal
type Decision struct {
	Action             Action   `json:"action"`
	Confidence         int      `json:"confidence"`
	Reasons            []string `json:"reasons"`
	WaitRecommendation string   `json:"wait_recommendation,omitempty"`
}

// Policy holds the thresholds the decision compares against
type Policy struct {
	EntryThreshold int
	NearMissFloor  int
	FibonacciBonus int
}

// DefaultPolicy returns the stock thresholds
func DefaultPolicy() Policy {
	return Policy{EntryThreshold: 80, NearMissFloor: 70, FibonacciBonus: 10}
}

// Engine scores analysis results. It holds no state.
type Engine struct {
	policy Policy
}

// NewEngine creates a decision engine
func NewEngine(policy Policy) *Engine {
	return &Engine{policy: policy}
}

// Decide applies the adjustments in a fixed order, clamps and maps to an action
func (e *Engine) Decide(res analysis.Result, sig signal.Signal) Decision {
	confidence := baseConfidence
	var reasons []string

	switch {
	case res.SmartMoneyScore >= 4:
		confidence += 20
		reasons = append(reasons, "smart money very active")
	case res.SmartMoneyScore >= 2:
		confidence += 10
		reasons = append(reasons, "smart money moderate")
	}

	switch res.SupportResistance.RiskLevel {
	case analysis.RiskLow:
		confidence += 15
		reasons = append(reasons, "near key level")
	case analysis.RiskHigh:
		confidence -= 15
		reasons = append(reasons, "far from key levels")
	}

	if res.Momentum.Reliable && res.Momentum.Strength > 0.7 {
		confidence += 15
		reasons = append(reasons, fmt.Sprintf("strong %s momentum", strings.ToLower(string(res.Momentum.Direction))))
		if momentumAgrees(res.Momentum.Direction, sig.Direction) {
			confidence += 10
			reasons = append(reasons, "momentum aligned with signal")
		} else {
			confidence -= 20
			reasons = append(reasons, "momentum against signal")
		}
	}

	if res.Volume.Significance == analysis.SignificanceHigh {
		confidence += 10
		reasons = append(reasons, "very high volume")
	}

	if r := res.Retracement; r != nil && r.AtOptimalLevel && e.policy.FibonacciBonus > 0 {
		confidence += e.policy.FibonacciBonus
		reasons = append(reasons, fmt.Sprintf("price at fibonacci %.3f level", r.MostEffective.Ratio))
	}
	if c := res.Cross; c != nil && c.Confidence >= analysis.CrossStrongConfidence {
		reasons = append(reasons, fmt.Sprintf("EMA %d/%d %s (%d%%)", c.FastPeriod, c.SlowPeriod, strings.ToLower(string(c.Type)), c.Confidence))
	}

	d := Decision{Action: ActionWait}
	if confidence >= e.policy.EntryThreshold && sig.Direction.Known() {
		d.Action = ActionEnterLong
		if sig.Direction == signal.DirectionShort {
			d.Action = ActionEnterShort
		}
	} else {
		switch {
		case !sig.Direction.Known():
			reasons = append(reasons, "direction unknown")
		case confidence >= moderateFloor:
			reasons = append(reasons, "moderate confidence, wait for a better opportunity")
		default:
			reasons = append(reasons, "insufficient confidence")
		}
		d.WaitRecommendation = e.WaitRecommendation(res, sig, clamp(confidence))
	}

	d.Confidence = clamp(confidence)
	d.Reasons = reasons
	return d
}

// WaitRecommendation names the single conditions that would lift a near-miss to an entry.
// Outside the near-miss band it returns the generic advice.
func (e *Engine) WaitRecommendation(res analysis.Result, sig signal.Signal, confidence int) string {
	if !sig.Direction.Known() || confidence < e.policy.NearMissFloor || confidence >= e.policy.EntryThreshold {
		return genericWait
	}

	projected := min(confidence+projectedIncrease, maxConfidence)
	enter := fmt.Sprintf("enter %s (projected confidence %d%%)", sig.Direction, projected)
	price := res.CurrentPrice
	sr := res.SupportResistance
	var out []string

	if sr.HasLevels() {
		switch sig.Direction {
		case signal.DirectionLong:
			if price > sr.SupportLevel*1.02 {
				out = append(out, fmt.Sprintf("price reaches support $%.4f and rebounds → %s", sr.SupportLevel, enter))
			} else {
				out = append(out, fmt.Sprintf("price breaks resistance $%.4f with volume → %s", sr.ResistanceLevel, enter))
			}
		case signal.DirectionShort:
			if price < sr.ResistanceLevel*0.98 {
				out = append(out, fmt.Sprintf("price reaches resistance $%.4f and rejects → %s", sr.ResistanceLevel, enter))
			} else {
				out = append(out, fmt.Sprintf("price breaks support $%.4f with volume → %s", sr.SupportLevel, enter))
			}
		}
	}

	current := int(res.Momentum.Strength * 100)
	if res.Momentum.Direction == analysis.MomentumNeutral {
		out = append(out, fmt.Sprintf("momentum above 70%% (now %d%%) → %s", current, enter))
	} else if res.Momentum.Strength < 0.5 {
		out = append(out, fmt.Sprintf("momentum strengthens to 75%% (now %d%%) → %s", current, enter))
	}

	if res.Volume.Significance == analysis.SignificanceLow {
		out = append(out, fmt.Sprintf("volume exceeds 5M USDT (now %.1fM) with a directional move → %s", res.Volume.Volume/1_000_000, enter))
	}

	if res.SmartMoneyScore < 2 {
		out = append(out, fmt.Sprintf("smart money score reaches 3/5 (now %d/5) → %s", res.SmartMoneyScore, enter))
	}

	if len(sig.EntryPrices) > 0 && sig.EntryPrices[0] > 0 {
		entry := sig.EntryPrices[0]
		dist := math.Abs(price-entry) / entry * 100
		if dist > 3 {
			out = append(out, fmt.Sprintf("price returns to entry zone $%.4f (%.1f%% away) → %s", entry, dist, enter))
		}
	}

	if len(out) == 0 {
		target := price
		if len(sig.EntryPrices) > 0 && sig.EntryPrices[0] > 0 {
			target = sig.EntryPrices[0]
		}
		if sig.Direction == signal.DirectionLong {
			target *= 0.98
		} else {
			target *= 1.02
		}
		out = append(out, fmt.Sprintf("price reaches $%.4f → %s", target, enter))
	}

	return strings.Join(out, " or ")
}

func momentumAgrees(m analysis.MomentumDirection, d signal.Direction) bool {
	return (d == signal.DirectionLong && m == analysis.MomentumBullish) ||
		(d == signal.DirectionShort && m == analysis.MomentumBearish)
}

func clamp(c int) int {
	return max(0, min(c, maxConfidence))
}
