// Package ai asks a language model for a second opinion on entry decisions and falls
// back to a confidence heuristic when the model is unavailable.
package ai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/ai/llm"
	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

// Verdict is the validator's call on a signal
type Verdict string

const (
	VerdictBuy     Verdict = "BUY"
	VerdictSell    Verdict = "SELL"
	VerdictNoTrade Verdict = "NO_TRADE"
)

// Validation sources
const (
	SourceModel     = "model"
	SourceHeuristic = "heuristic"
)

// Validation is the second opinion for one decision
type Validation struct {
	Decision       Verdict `json:"decision"`
	Confidence     int     `json:"confidence"`
	Reasoning      string  `json:"reasoning"`
	RiskAssessment string  `json:"risk_assessment,omitempty"`
	ExpectedMove   string  `json:"expected_move,omitempty"`
	TimeHorizon    string  `json:"time_horizon,omitempty"`
	Source         string  `json:"source"`
}

// Approves reports whether the validation backs an entry in dir
func (v Validation) Approves(dir signal.Direction, minConfidence int) bool {
	if v.Confidence < minConfidence {
		return false
	}
	switch dir {
	case signal.DirectionLong:
		return v.Decision == VerdictBuy
	case signal.DirectionShort:
		return v.Decision == VerdictSell
	}
	return false
}

// Completer is the chat completion call the validator needs
type Completer interface {
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
	IsConfigured() bool
}

// Config holds validator policy
type Config struct {
	Enabled        bool
	MinConfidence  int
	MaxPerHour     int
	EntryThreshold int // a vetoed entry is capped below this decision confidence
	MaxLeverage    int
	TargetUSD      float64
}

// Request carries everything the prompt describes
type Request struct {
	Signal   signal.Signal
	Snapshot *market.Snapshot
	Analysis analysis.Result
	Decision decision.Decision
}

// Stats reports validator usage
type Stats struct {
	Enabled             bool `json:"enabled"`
	ValidationsThisHour int  `json:"validations_this_hour"`
	MaxPerHour          int  `json:"max_per_hour"`
	MinConfidence       int  `json:"min_confidence"`
	Fallbacks           int  `json:"fallbacks"`
}

// Validator rate-limits model calls per clock hour
type Validator struct {
	cfg    Config
	client Completer
	logger zerolog.Logger
	now    func() time.Time

	mu        sync.Mutex
	hour      time.Time
	count     int
	fallbacks int
}

// NewValidator creates a validator. client may be nil, in which case every call uses the heuristic.
func NewValidator(cfg Config, client Completer, logger zerolog.Logger) *Validator {
	if cfg.MinConfidence <= 0 {
		cfg.MinConfidence = 70
	}
	if cfg.EntryThreshold <= 0 {
		cfg.EntryThreshold = 80
	}
	return &Validator{
		cfg:    cfg,
		client: client,
		logger: logger.With().Str("component", "ai_validator").Logger(),
		now:    time.Now,
	}
}

// MinConfidence returns the approval threshold
func (v *Validator) MinConfidence() int {
	return v.cfg.MinConfidence
}

// Validate asks the model about the decision. It never fails: a disabled validator, an
// exhausted hourly budget, a transport error or an unreadable answer all fall back to
// the heuristic.
func (v *Validator) Validate(ctx context.Context, req Request) Validation {
	if !v.cfg.Enabled || v.client == nil || !v.client.IsConfigured() {
		return v.Heuristic(req.Decision, req.Signal.Direction)
	}
	if !v.take() {
		v.logger.Warn().Int("max_per_hour", v.cfg.MaxPerHour).Msg("Hourly validation limit reached")
		return v.fallback(req, "hourly validation limit reached")
	}

	log := v.logger.With().Str("symbol", req.Signal.Symbol).Str("action", string(req.Decision.Action)).Logger()
	content, err := v.client.Complete(ctx, llm.SystemPromptJSONOnly, v.prompt(req))
	if err != nil {
		reason := "validator unavailable"
		if errors.Is(err, llm.ErrRateLimited) {
			reason = "validator rate limited"
		}
		log.Warn().Err(err).Msg("Validation request failed, using heuristic")
		return v.fallback(req, reason)
	}

	val, err := parseValidation(content)
	if err != nil {
		log.Warn().Err(err).Str("response", content).Msg("Unreadable validation, using heuristic")
		return v.fallback(req, "unreadable validator response")
	}
	log.Info().
		Str("decision", string(val.Decision)).
		Int("confidence", val.Confidence).
		Msg("Signal validated")
	return val
}

// Heuristic approves when the decision confidence clears MinConfidence and the direction is known
func (v *Validator) Heuristic(d decision.Decision, dir signal.Direction) Validation {
	val := Validation{
		Decision:   VerdictNoTrade,
		Confidence: d.Confidence,
		Source:     SourceHeuristic,
	}
	switch {
	case !dir.Known():
		val.Reasoning = "direction unknown"
	case d.Confidence < v.cfg.MinConfidence:
		val.Reasoning = fmt.Sprintf("confidence %d%% below %d%%", d.Confidence, v.cfg.MinConfidence)
	case dir == signal.DirectionLong:
		val.Decision = VerdictBuy
		val.Reasoning = "heuristic confidence sufficient"
	default:
		val.Decision = VerdictSell
		val.Reasoning = "heuristic confidence sufficient"
	}
	return val
}

// Apply downgrades an entry the validation does not back to WAIT
func (v *Validator) Apply(d decision.Decision, val Validation) decision.Decision {
	if !d.Action.IsEntry() || val.Approves(d.Action.Direction(), v.cfg.MinConfidence) {
		return d
	}
	out := d
	out.Reasons = append(append([]string(nil), d.Reasons...),
		fmt.Sprintf("%s validation rejected entry (%s %d%%): %s", val.Source, val.Decision, val.Confidence, val.Reasoning))
	out.Action = decision.ActionWait
	out.Confidence = min(out.Confidence, v.cfg.EntryThreshold-1)
	out.WaitRecommendation = "wait for validator confirmation"
	return out
}

// Stats returns usage for the current hour
func (v *Validator) Stats() Stats {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollHourLocked()
	return Stats{
		Enabled:             v.cfg.Enabled,
		ValidationsThisHour: v.count,
		MaxPerHour:          v.cfg.MaxPerHour,
		MinConfidence:       v.cfg.MinConfidence,
		Fallbacks:           v.fallbacks,
	}
}

func (v *Validator) fallback(req Request, why string) Validation {
	v.mu.Lock()
	v.fallbacks++
	v.mu.Unlock()

	val := v.Heuristic(req.Decision, req.Signal.Direction)
	val.Reasoning = why + "; " + val.Reasoning
	return val
}

// take spends one call from the hourly budget
func (v *Validator) take() bool {
	v.mu.Lock()
	defer v.mu.Unlock()
	v.rollHourLocked()
	if v.cfg.MaxPerHour > 0 && v.count >= v.cfg.MaxPerHour {
		return false
	}
	v.count++
	return true
}

func (v *Validator) rollHourLocked() {
	hour := v.now().Truncate(time.Hour)
	if !hour.Equal(v.hour) {
		v.hour = hour
		v.count = 0
	}
}

func (v *Validator) prompt(req Request) string {
	var b strings.Builder
	b.WriteString(llm.SystemPromptSignalValidation)
	b.WriteString("\n\nSIGNAL TO VALIDATE:\n")
	fmt.Fprintf(&b, "Symbol: %s\n", req.Signal.Symbol)
	fmt.Fprintf(&b, "Heuristic action: %s\n", req.Decision.Action)
	fmt.Fprintf(&b, "Heuristic confidence: %d%%\n", req.Decision.Confidence)
	if req.Snapshot != nil {
		fmt.Fprintf(&b, "Current price: $%g\n", req.Snapshot.Price)
		fmt.Fprintf(&b, "24h quote volume: %.0f\n", req.Snapshot.Volume)
		fmt.Fprintf(&b, "24h change: %.2f%%\n", req.Snapshot.PriceChangePercent)
		fmt.Fprintf(&b, "Spread: %.4f%%\n", req.Snapshot.Spread)
	}
	if len(req.Decision.Reasons) > 0 {
		fmt.Fprintf(&b, "Reasons: %s\n", strings.Join(req.Decision.Reasons, "; "))
	}

	technical, _ := json.MarshalIndent(struct {
		Signal   signal.Signal   `json:"signal"`
		Analysis analysis.Result `json:"analysis"`
	}{req.Signal, req.Analysis}, "", "  ")
	b.WriteString("\nTECHNICAL DATA:\n")
	b.Write(technical)

	b.WriteString("\n\nCONTEXT:\n")
	fmt.Fprintf(&b, "- Timestamp: %s\n", v.now().UTC().Format(time.RFC3339))
	b.WriteString("- Market: Binance USDT-M futures\n")
	fmt.Fprintf(&b, "- Available leverage: %dx\n", v.cfg.MaxLeverage)
	fmt.Fprintf(&b, "- Margin per trade: $%.2f\n", v.cfg.TargetUSD)
	b.WriteString("\nAnalyze this signal and decide whether it is a valid trading opportunity.")
	return b.String()
}

var codeBlock = regexp.MustCompile("(?s)^```(?:json)?\\s*\\n?(.*?)\\n?```$")

// stripMarkdownCodeBlock removes ```json fences some models wrap around their answer
func stripMarkdownCodeBlock(response string) string {
	response = strings.TrimSpace(response)
	if m := codeBlock.FindStringSubmatch(response); len(m) > 1 {
		return strings.TrimSpace(m[1])
	}
	return response
}

func parseValidation(content string) (Validation, error) {
	var raw struct {
		Decision       string  `json:"decision"`
		Confidence     float64 `json:"confidence"`
		Reasoning      string  `json:"reasoning"`
		RiskAssessment string  `json:"risk_assessment"`
		ExpectedMove   string  `json:"expected_move"`
		TimeHorizon    string  `json:"time_horizon"`
	}
	if err := json.Unmarshal([]byte(stripMarkdownCodeBlock(content)), &raw); err != nil {
		return Validation{}, fmt.Errorf("decode validation: %w", err)
	}
	val := Validation{
		Decision:       Verdict(strings.ToUpper(strings.TrimSpace(raw.Decision))),
		Confidence:     min(max(int(math.Round(raw.Confidence)), 0), 100),
		Reasoning:      raw.Reasoning,
		RiskAssessment: raw.RiskAssessment,
		ExpectedMove:   raw.ExpectedMove,
		TimeHorizon:    raw.TimeHorizon,
		Source:         SourceModel,
	}
	switch val.Decision {
	case VerdictBuy, VerdictSell, VerdictNoTrade:
	default:
		return Validation{}, fmt.Errorf("unknown decision %q", raw.Decision)
	}
	return val, nil
}
