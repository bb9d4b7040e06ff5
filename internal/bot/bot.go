// Package bot wires extraction, analysis, decision, validation, notification and
// execution into the per-message signal pipeline.
package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"golang.org/x/time/rate"

	"signal-trading-bot/internal/ai"
	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/circuit"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/events"
	"signal-trading-bot/internal/logging"
	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

// Messages the pipeline deliberately skips. None of them is a failure.
var (
	ErrOwnMessage = errors.New("message posted by this bot")
	ErrDuplicate  = errors.New("duplicate message")
	ErrThrottled  = errors.New("message arrived inside the rate window")
)

// Ignored reports whether err is a skip rather than a failure
func Ignored(err error) bool {
	return errors.Is(err, ErrOwnMessage) || errors.Is(err, ErrDuplicate) ||
		errors.Is(err, ErrThrottled) || errors.Is(err, signal.ErrNoSymbol)
}

// Config holds pipeline policy
type Config struct {
	SelfMarker        string
	NotifyThreshold   int
	DedupPrefixLength int
	RateWindow        time.Duration
	CallTimeout       time.Duration
	QuoteAsset        string
}

// SymbolExtractor finds the exchange symbol in a message
type SymbolExtractor interface {
	Extract(ctx context.Context, text string) (string, error)
}

// Validator is the optional second opinion on entries
type Validator interface {
	Validate(ctx context.Context, req ai.Request) ai.Validation
	Apply(d decision.Decision, val ai.Validation) decision.Decision
}

// Notifier posts decisions and execution outcomes
type Notifier interface {
	SendDecision(sig signal.Signal, res analysis.Result, d decision.Decision) error
	SendTradeOpen(exec *orders.Execution) error
	SendFailure(symbol string, err error) error
	SendReconcile(report *orders.ReconcileReport) error
}

// Sizer turns a signal into a position plan
type Sizer interface {
	SizeSignal(ctx context.Context, sig signal.Signal, price float64) risk.PositionPlan
}

// Trader places trades and repairs their protection
type Trader interface {
	Execute(ctx context.Context, req orders.Request) (*orders.Execution, error)
	Reconcile(ctx context.Context) (*orders.ReconcileReport, error)
}

// Deps are the pipeline collaborators. Validator, Bus and Breaker may be nil.
type Deps struct {
	Extractor SymbolExtractor
	Market    market.DataProvider
	Analyzer  *analysis.Engine
	Decider   *decision.Engine
	Validator Validator
	Notifier  Notifier
	Sizer     Sizer
	Trader    Trader
	Session   *risk.Session
	Bus       *events.EventBus
	Breaker   *circuit.CircuitBreaker
}

// Analysis is one analysis cycle for a symbol
type Analysis struct {
	Signal     signal.Signal     `json:"signal"`
	Snapshot   *market.Snapshot  `json:"snapshot"`
	Result     analysis.Result   `json:"result"`
	Decision   decision.Decision `json:"decision"`
	Validation *ai.Validation    `json:"validation,omitempty"`
}

// Outcome is everything HandleMessage did for one message
type Outcome struct {
	Analysis
	Notified  bool              `json:"notified"`
	Execution *orders.Execution `json:"execution,omitempty"`
	Skipped   string            `json:"skipped,omitempty"`
}

// Pipeline processes inbound messages one at a time
type Pipeline struct {
	cfg    Config
	deps   Deps
	fib    *analysis.FibonacciAnalyzer
	cross  *analysis.EMACrossAnalyzer
	gate   *rate.Limiter
	logger zerolog.Logger
}

// NewPipeline creates a pipeline
func NewPipeline(cfg Config, deps Deps, logger zerolog.Logger) *Pipeline {
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = 10 * time.Second
	}
	if cfg.CallTimeout <= 0 {
		cfg.CallTimeout = 10 * time.Second
	}
	if cfg.DedupPrefixLength <= 0 {
		cfg.DedupPrefixLength = 50
	}
	if cfg.QuoteAsset == "" {
		cfg.QuoteAsset = "USDT"
	}
	return &Pipeline{
		cfg:    cfg,
		deps:   deps,
		fib:    analysis.NewFibonacciAnalyzer(deps.Market),
		cross:  analysis.NewEMACrossAnalyzer(deps.Market),
		gate:   newGate(cfg.RateWindow),
		logger: logger.With().Str("component", "pipeline").Logger(),
	}
}

// Run consumes messages until ctx is done or in is closed
func (p *Pipeline) Run(ctx context.Context, in <-chan signal.Message) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			p.handle(ctx, msg)
		}
	}
}

func (p *Pipeline) handle(ctx context.Context, msg signal.Message) {
	out, err := p.HandleMessage(ctx, msg)
	log := p.logger.With().Str("message_id", msg.ID).Logger()
	switch {
	case err == nil:
		log.Info().
			Str("symbol", out.Signal.Symbol).
			Str("action", string(out.Decision.Action)).
			Int("confidence", out.Decision.Confidence).
			Msg("Message processed")
	case Ignored(err):
		log.Debug().Err(err).Msg("Message skipped")
	default:
		log.Error().Err(err).Msg("Message failed")
	}
}

// HandleMessage runs the full pipeline for one message. Skips return an error for
// which Ignored is true. An execution failure returns the outcome together with the error.
func (p *Pipeline) HandleMessage(ctx context.Context, msg signal.Message) (*Outcome, error) {
	text := msg.FullText()
	if p.cfg.SelfMarker != "" && strings.Contains(text, p.cfg.SelfMarker) {
		return nil, ErrOwnMessage
	}

	symbol, err := p.extract(ctx, text)
	if err != nil {
		return nil, err
	}

	session := p.deps.Session
	key := signal.DedupKey(symbol, text, p.cfg.DedupPrefixLength)
	if session.IsDuplicate(key) {
		return nil, ErrDuplicate
	}
	if !p.gate.Allow() {
		return nil, ErrThrottled
	}
	session.MarkProcessed(key)

	ctx, log := logging.WithTraceContext(ctx, logging.SignalContext(p.logger, msg.ID, symbol))
	sig := signal.Parse(text).WithSymbol(symbol)
	p.deps.Bus.PublishSignalReceived(msg.ID, symbol, string(sig.Direction))
	log.Info().Str("direction", string(sig.Direction)).Str("subtype", string(sig.Subtype)).Msg("Signal received")

	a, err := p.analyze(ctx, sig)
	if err != nil {
		return nil, err
	}
	out := &Outcome{Analysis: *a}

	if out.Decision.Confidence >= p.cfg.NotifyThreshold {
		if err := p.deps.Notifier.SendDecision(out.Signal, out.Result, out.Decision); err != nil {
			log.Warn().Err(err).Msg("Decision notification failed")
		} else {
			out.Notified = true
		}
	}

	if !out.Decision.Action.IsEntry() {
		return out, nil
	}
	if !session.TradingEnabled() {
		out.Skipped = "trading disabled"
		return out, nil
	}
	return out, p.execute(ctx, log, out)
}

// AnalyzeSymbol runs snapshot, analysis and decision for a bare symbol
func (p *Pipeline) AnalyzeSymbol(ctx context.Context, symbol string) (*Analysis, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if symbol == "" {
		return nil, signal.ErrNoSymbol
	}
	if !strings.HasSuffix(symbol, p.cfg.QuoteAsset) {
		symbol += p.cfg.QuoteAsset
	}
	sym, err := p.extract(ctx, "#"+symbol)
	if err != nil {
		return nil, err
	}
	return p.analyze(ctx, signal.Signal{Symbol: sym, Direction: signal.DirectionUnknown, Subtype: signal.SubtypeNone})
}

// newGate admits one message per window and drops the rest
func newGate(window time.Duration) *rate.Limiter {
	return rate.NewLimiter(rate.Every(window), 1)
}

func (p *Pipeline) extract(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	return p.deps.Extractor.Extract(ctx, text)
}

func (p *Pipeline) analyze(ctx context.Context, sig signal.Signal) (*Analysis, error) {
	log := p.logger.With().Str("symbol", sig.Symbol).Logger()

	var retracement *analysis.RetracementResult
	var cross *analysis.CrossResult
	switch sig.Subtype {
	case signal.SubtypeMACross:
		cross = p.enrichCross(ctx, log, sig)
		if cross != nil && !sig.Direction.Known() && cross.Direction.Known() {
			sig = sig.WithDirection(cross.Direction)
			log.Info().Str("direction", string(sig.Direction)).Msg("Direction taken from EMA cross")
		}
	case signal.SubtypeRetracement:
		retracement = p.enrichRetracement(ctx, log, sig)
		if retracement != nil {
			sig.SwingHigh, sig.SwingLow = retracement.SwingHigh, retracement.SwingLow
		}
	}

	snapCtx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	snap, err := p.deps.Market.Snapshot(snapCtx, sig.Symbol)
	cancel()
	if err != nil {
		return nil, fmt.Errorf("snapshot %s: %w", sig.Symbol, err)
	}

	res := p.deps.Analyzer.Analyze(sig.Symbol, snap, sig)
	res.Retracement = retracement
	res.Cross = cross
	d := p.deps.Decider.Decide(res, sig)

	a := &Analysis{Signal: sig, Snapshot: snap, Result: res, Decision: d}
	if d.Action.IsEntry() && p.deps.Validator != nil {
		val := p.deps.Validator.Validate(ctx, ai.Request{Signal: sig, Snapshot: snap, Analysis: res, Decision: d})
		a.Validation = &val
		a.Decision = p.deps.Validator.Apply(d, val)
	}

	p.deps.Bus.PublishDecision(sig.Symbol, string(a.Decision.Action), a.Decision.Confidence, res.CurrentPrice,
		a.Decision.Reasons, a.Decision.WaitRecommendation)
	return a, nil
}

func (p *Pipeline) enrichCross(ctx context.Context, log zerolog.Logger, sig signal.Signal) *analysis.CrossResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	res, err := p.cross.Analyze(ctx, sig.Symbol, sig.Timeframe, sig.FastPeriod, sig.SlowPeriod)
	if err != nil {
		log.Warn().Err(err).Msg("EMA cross enrichment failed")
		return nil
	}
	return res
}

func (p *Pipeline) enrichRetracement(ctx context.Context, log zerolog.Logger, sig signal.Signal) *analysis.RetracementResult {
	ctx, cancel := context.WithTimeout(ctx, p.cfg.CallTimeout)
	defer cancel()
	res, err := p.fib.Analyze(ctx, sig.Symbol, sig.Direction)
	if err != nil {
		log.Warn().Err(err).Msg("Retracement enrichment failed")
		return nil
	}
	return res
}

func (p *Pipeline) execute(ctx context.Context, log zerolog.Logger, out *Outcome) error {
	sig := out.Signal
	dir := out.Decision.Action.Direction()
	sig = sig.WithDirection(dir)

	plan := p.deps.Sizer.SizeSignal(ctx, sig, out.Result.CurrentPrice)
	exec, err := p.deps.Trader.Execute(ctx, orders.Request{Symbol: sig.Symbol, Direction: dir, Plan: plan})
	out.Execution = exec

	if err != nil && errors.Is(err, orders.ErrSafetyLimit) {
		out.Skipped = err.Error()
		log.Info().Err(err).Msg("Execution skipped")
		return nil
	}
	if exec != nil {
		p.deps.Bus.PublishTradeOpened(exec.Key, exec.Symbol, string(exec.Direction), exec.EntryPrice,
			exec.Quantity, exec.StopLossPrice, exec.TakeProfitPrice, exec.Protected())
		if nerr := p.deps.Notifier.SendTradeOpen(exec); nerr != nil {
			log.Warn().Err(nerr).Msg("Trade notification failed")
		}
	}
	if err == nil {
		return nil
	}

	step, unprotected := "", false
	var execErr *orders.ExecutionError
	if errors.As(err, &execErr) {
		step, unprotected = string(execErr.Step), execErr.Unprotected
	}
	p.deps.Bus.PublishTradeFailed(sig.Symbol, step, unprotected, err)
	if nerr := p.deps.Notifier.SendFailure(sig.Symbol, err); nerr != nil {
		log.Warn().Err(nerr).Msg("Failure notification failed")
	}
	return fmt.Errorf("execute %s: %w", sig.Symbol, err)
}
