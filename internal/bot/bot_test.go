package bot

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/ai"
	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/events"
	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/risk"
	"signal-trading-bot/internal/signal"
)

// fakeExtractor returns the first #SYMBOL token, uppercased
type fakeExtractor struct{}

func (fakeExtractor) Extract(_ context.Context, text string) (string, error) {
	for _, f := range strings.Fields(text) {
		if strings.HasPrefix(f, "#") && len(f) > 1 {
			return strings.ToUpper(strings.TrimPrefix(f, "#")), nil
		}
	}
	return "", signal.ErrNoSymbol
}

type fakeMarket struct {
	snap   *market.Snapshot
	klines []market.Kline
	err    error
}

func (m *fakeMarket) Snapshot(_ context.Context, symbol string) (*market.Snapshot, error) {
	if m.err != nil {
		return nil, m.err
	}
	s := *m.snap
	s.Symbol = symbol
	return &s, nil
}

func (m *fakeMarket) Filters(_ context.Context, symbol string) (*market.Filters, error) {
	return &market.Filters{Symbol: symbol, MinQty: 0.001, StepSize: 0.001, TickSize: 0.01}, nil
}

func (m *fakeMarket) Klines(context.Context, string, string, int) ([]market.Kline, error) {
	return m.klines, nil
}

func (m *fakeMarket) MaxLeverage(context.Context, string) (int, error) { return 20, nil }

type fakeNotifier struct {
	mu        sync.Mutex
	decisions []decision.Decision
	opens     []*orders.Execution
	failures  []error
	reconcile []*orders.ReconcileReport
}

func (n *fakeNotifier) SendDecision(_ signal.Signal, _ analysis.Result, d decision.Decision) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.decisions = append(n.decisions, d)
	return nil
}

func (n *fakeNotifier) SendTradeOpen(exec *orders.Execution) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.opens = append(n.opens, exec)
	return nil
}

func (n *fakeNotifier) SendFailure(_ string, err error) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.failures = append(n.failures, err)
	return nil
}

func (n *fakeNotifier) SendReconcile(report *orders.ReconcileReport) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.reconcile = append(n.reconcile, report)
	return nil
}

type fakeSizer struct{}

func (fakeSizer) SizeSignal(_ context.Context, sig signal.Signal, price float64) risk.PositionPlan {
	return risk.PositionPlan{}
}

type fakeTrader struct {
	requests []orders.Request
	exec     *orders.Execution
	err      error
	report   *orders.ReconcileReport
}

func (f *fakeTrader) Execute(_ context.Context, req orders.Request) (*orders.Execution, error) {
	f.requests = append(f.requests, req)
	return f.exec, f.err
}

func (f *fakeTrader) Reconcile(context.Context) (*orders.ReconcileReport, error) {
	if f.report == nil {
		return nil, errors.New("exchange unavailable")
	}
	return f.report, nil
}

// rejectingValidator vetoes every entry
type rejectingValidator struct{ calls int }

func (v *rejectingValidator) Validate(context.Context, ai.Request) ai.Validation {
	v.calls++
	return ai.Validation{Decision: ai.VerdictNoTrade, Confidence: 90, Reasoning: "overextended", Source: ai.SourceModel}
}

func (v *rejectingValidator) Apply(d decision.Decision, val ai.Validation) decision.Decision {
	d.Action = decision.ActionWait
	d.Reasons = append(d.Reasons, "rejected: "+val.Reasoning)
	return d
}

// hotSnapshot scores an entry: heavy volume, an 8% move and a round price
func hotSnapshot() *market.Snapshot {
	return &market.Snapshot{Price: 100, PriceChangePercent: 8, Volume: 20_000_000, BidPrice: 99.99, AskPrice: 100.01, Spread: 0.02}
}

// quietSnapshot stays at the base confidence
func quietSnapshot() *market.Snapshot {
	return &market.Snapshot{Price: 37.3, PriceChangePercent: 0.5, Volume: 100_000}
}

type harness struct {
	pipeline *Pipeline
	market   *fakeMarket
	notifier *fakeNotifier
	trader   *fakeTrader
	session  *risk.Session
	bus      *events.EventBus
}

func newHarness(t *testing.T, snap *market.Snapshot) *harness {
	t.Helper()
	h := &harness{
		market:   &fakeMarket{snap: snap},
		notifier: &fakeNotifier{},
		trader: &fakeTrader{exec: &orders.Execution{
			Key: "SB-01MAR-0A1B2C3D4E", Symbol: "SOLUSDT", Direction: signal.DirectionLong,
			EntryPrice: 100, Quantity: 0.12, StopOrderID: 2, TakeProfitOrderID: 3, Step: orders.StepDone,
		}},
		session: risk.NewSession(risk.Limits{MaxDailyTrades: 10, MaxOpenPositions: 5}, true, nil, zerolog.Nop()),
		bus:     events.NewEventBus(),
	}
	h.pipeline = NewPipeline(Config{
		SelfMarker:      "SIGNAL BOT - ANALYSIS",
		NotifyThreshold: 70,
		RateWindow:      time.Nanosecond,
		CallTimeout:     time.Second,
	}, Deps{
		Extractor: fakeExtractor{},
		Market:    h.market,
		Analyzer:  analysis.NewEngine(analysis.DefaultThresholds()),
		Decider:   decision.NewEngine(decision.DefaultPolicy()),
		Notifier:  h.notifier,
		Sizer:     fakeSizer{},
		Trader:    h.trader,
		Session:   h.session,
		Bus:       h.bus,
	}, zerolog.Nop())
	return h
}

func msg(id, text string) signal.Message {
	return signal.Message{ID: id, ChatID: -100, Text: text}
}

func TestHandleMessageEntryExecutesAndNotifies(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	opened := make(chan events.Event, 1)
	h.bus.Subscribe(events.EventTradeOpened, func(e events.Event) { opened <- e })

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG 🟢"))
	require.NoError(t, err)

	assert.Equal(t, decision.ActionEnterLong, out.Decision.Action)
	assert.True(t, out.Notified)
	require.NotNil(t, out.Execution)
	require.Len(t, h.trader.requests, 1)
	assert.Equal(t, "SOLUSDT", h.trader.requests[0].Symbol)
	assert.Equal(t, signal.DirectionLong, h.trader.requests[0].Direction)
	assert.Len(t, h.notifier.decisions, 1)
	assert.Len(t, h.notifier.opens, 1)

	select {
	case ev := <-opened:
		assert.Equal(t, "SOLUSDT", ev.Data["symbol"])
	case <-time.After(time.Second):
		t.Fatal("no TRADE_OPENED event")
	}
}

func TestHandleMessageQuietMarketWaitsSilently(t *testing.T) {
	h := newHarness(t, quietSnapshot())

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	require.NoError(t, err)

	if out.Decision.Action != decision.ActionWait {
		t.Errorf("Expected WAIT, got %s", out.Decision.Action)
	}
	assert.False(t, out.Notified)
	assert.Empty(t, h.notifier.decisions)
	assert.Empty(t, h.trader.requests)
	assert.NotEmpty(t, out.Decision.WaitRecommendation)
}

func TestHandleMessageSkips(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	ctx := context.Background()

	_, err := h.pipeline.HandleMessage(ctx, msg("1", "🤖 SIGNAL BOT - ANALYSIS #SOLUSDT"))
	assert.ErrorIs(t, err, ErrOwnMessage)

	_, err = h.pipeline.HandleMessage(ctx, msg("2", "good morning everyone"))
	assert.ErrorIs(t, err, signal.ErrNoSymbol)
	assert.True(t, Ignored(err))

	_, err = h.pipeline.HandleMessage(ctx, msg("3", "#ETHUSDT SHORT"))
	require.NoError(t, err)
	_, err = h.pipeline.HandleMessage(ctx, msg("4", "#ETHUSDT SHORT"))
	assert.ErrorIs(t, err, ErrDuplicate)

	h.pipeline.ClearDedup()
	_, err = h.pipeline.HandleMessage(ctx, msg("5", "#ETHUSDT SHORT"))
	assert.NoError(t, err, "cleared dedup set accepts the text again")
}

func TestHandleMessageThrottles(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	h.pipeline.cfg.RateWindow = time.Hour
	h.pipeline.gate = newGate(time.Hour)
	ctx := context.Background()

	_, err := h.pipeline.HandleMessage(ctx, msg("1", "#SOLUSDT LONG"))
	require.NoError(t, err)

	_, err = h.pipeline.HandleMessage(ctx, msg("2", "#ETHUSDT LONG"))
	assert.ErrorIs(t, err, ErrThrottled)

	// a throttled message is not remembered, so it is not a duplicate later
	assert.False(t, h.session.IsDuplicate(signal.DedupKey("ETHUSDT", "#ETHUSDT LONG", 50)))
}

func TestHandleMessageTradingDisabled(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	require.NoError(t, h.pipeline.SetTradingEnabled(context.Background(), false, "test"))

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	require.NoError(t, err)
	assert.Equal(t, decision.ActionEnterLong, out.Decision.Action)
	assert.Equal(t, "trading disabled", out.Skipped)
	assert.Empty(t, h.trader.requests)
	assert.True(t, out.Notified)
}

func TestHandleMessageSafetyLimitSkips(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	h.trader.exec = nil
	h.trader.err = fmt.Errorf("%w: max open positions reached", orders.ErrSafetyLimit)

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	require.NoError(t, err)
	assert.Contains(t, out.Skipped, "max open positions")
	assert.Empty(t, h.notifier.failures)
	assert.Empty(t, h.notifier.opens)
}

func TestHandleMessageUnprotectedFill(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	h.trader.exec.TakeProfitOrderID = 0
	h.trader.err = &orders.ExecutionError{
		Step: orders.StepTakeProfitOrder, Symbol: "SOLUSDT", Unprotected: true, Err: errors.New("-2021 order would immediately trigger"),
	}
	failed := make(chan events.Event, 1)
	h.bus.Subscribe(events.EventTradeFailed, func(e events.Event) { failed <- e })

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	require.Error(t, err)
	assert.False(t, Ignored(err))
	assert.ErrorIs(t, err, orders.ErrOrderPlacement)

	require.NotNil(t, out)
	assert.Len(t, h.notifier.opens, 1, "the fill is still reported")
	assert.Len(t, h.notifier.failures, 1)

	select {
	case ev := <-failed:
		assert.Equal(t, true, ev.Data["unprotected"])
	case <-time.After(time.Second):
		t.Fatal("no TRADE_FAILED event")
	}
}

func TestHandleMessageValidatorVeto(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	v := &rejectingValidator{}
	h.pipeline.deps.Validator = v

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	require.NoError(t, err)
	assert.Equal(t, 1, v.calls)
	require.NotNil(t, out.Validation)
	assert.Equal(t, decision.ActionWait, out.Decision.Action)
	assert.Empty(t, h.trader.requests)
}

func TestHandleMessageSnapshotFailure(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	h.market.err = market.ErrDataUnavailable

	_, err := h.pipeline.HandleMessage(context.Background(), msg("1", "#SOLUSDT LONG"))
	assert.ErrorIs(t, err, market.ErrDataUnavailable)
	assert.False(t, Ignored(err))
}

func TestCrossSignalTakesDirectionFromEMAs(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	bars := make([]market.Kline, 120)
	for i := range bars {
		c := 200 - float64(i)*0.5
		bars[i] = market.Kline{Open: c, High: c + 1, Low: c - 1, Close: c}
	}
	h.market.klines = bars

	out, err := h.pipeline.HandleMessage(context.Background(), msg("1", "EMA CROSS #SOLUSDT (15m) EMA 9/21"))
	require.NoError(t, err)
	require.NotNil(t, out.Result.Cross)
	assert.Equal(t, signal.DirectionShort, out.Signal.Direction)
}

func TestAnalyzeSymbolAppendsQuote(t *testing.T) {
	h := newHarness(t, hotSnapshot())

	a, err := h.pipeline.AnalyzeSymbol(context.Background(), " sol ")
	require.NoError(t, err)
	assert.Equal(t, "SOLUSDT", a.Signal.Symbol)
	assert.Equal(t, decision.ActionWait, a.Decision.Action, "no direction means no entry")
	assert.Empty(t, h.trader.requests)

	_, err = h.pipeline.AnalyzeSymbol(context.Background(), "  ")
	assert.ErrorIs(t, err, signal.ErrNoSymbol)
}

func TestRunConsumesUntilClosed(t *testing.T) {
	h := newHarness(t, hotSnapshot())
	in := make(chan signal.Message, 2)
	in <- msg("1", "#SOLUSDT LONG")
	in <- msg("2", "#SOLUSDT LONG")
	close(in)

	h.pipeline.Run(context.Background(), in)
	assert.Len(t, h.trader.requests, 1)
}

func TestOperatorToggleAndStats(t *testing.T) {
	h := newHarness(t, quietSnapshot())
	toggled := make(chan events.Event, 1)
	h.bus.Subscribe(events.EventTradingToggled, func(e events.Event) { toggled <- e })

	require.NoError(t, h.pipeline.SetTradingEnabled(context.Background(), false, "telegram"))
	st := h.pipeline.Stats()
	assert.False(t, st.Session.TradingEnabled)
	assert.Nil(t, st.Validator)
	assert.Nil(t, st.Breaker)

	select {
	case ev := <-toggled:
		assert.Equal(t, "telegram", ev.Data["source"])
	case <-time.After(time.Second):
		t.Fatal("no TRADING_TOGGLED event")
	}
}

func TestOperatorReconcile(t *testing.T) {
	h := newHarness(t, quietSnapshot())

	_, err := h.pipeline.Reconcile(context.Background())
	assert.Error(t, err)

	h.trader.report = &orders.ReconcileReport{Checked: 1, Protected: 1}
	_, err = h.pipeline.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Empty(t, h.notifier.reconcile, "nothing changed")

	h.trader.report = &orders.ReconcileReport{Checked: 1, Pruned: []string{"ETHUSDT"}}
	_, err = h.pipeline.Reconcile(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.notifier.reconcile, 1)
}
