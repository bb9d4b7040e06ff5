package ai

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/ai/llm"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/market"
	"signal-trading-bot/internal/signal"
)

type fakeCompleter struct {
	answer string
	err    error
	calls  int
	prompt string
}

func (f *fakeCompleter) Complete(_ context.Context, _, userPrompt string) (string, error) {
	f.calls++
	f.prompt = userPrompt
	return f.answer, f.err
}

func (f *fakeCompleter) IsConfigured() bool { return true }

func longRequest(confidence int) Request {
	return Request{
		Signal:   signal.Signal{Symbol: "SOLUSDT", Direction: signal.DirectionLong, EntryPrices: []float64{100}},
		Snapshot: &market.Snapshot{Symbol: "SOLUSDT", Price: 101, Volume: 2_000_000},
		Decision: decision.Decision{
			Action:     decision.ActionEnterLong,
			Confidence: confidence,
			Reasons:    []string{"momentum agrees"},
		},
	}
}

func newTestValidator(client Completer, maxPerHour int) *Validator {
	return NewValidator(Config{Enabled: true, MaxPerHour: maxPerHour, MaxLeverage: 15, TargetUSD: 0.8}, client, zerolog.Nop())
}

func TestValidateModelAnswer(t *testing.T) {
	fc := &fakeCompleter{answer: "```json\n{\"decision\":\"buy\",\"confidence\":82.6,\"reasoning\":\"trend intact\",\"time_horizon\":\"4h\"}\n```"}
	v := newTestValidator(fc, 50)

	val := v.Validate(context.Background(), longRequest(75))

	assert.Equal(t, VerdictBuy, val.Decision)
	assert.Equal(t, 83, val.Confidence)
	assert.Equal(t, SourceModel, val.Source)
	assert.Equal(t, "4h", val.TimeHorizon)
	assert.True(t, val.Approves(signal.DirectionLong, v.MinConfidence()))
	assert.False(t, val.Approves(signal.DirectionShort, v.MinConfidence()))

	assert.Contains(t, fc.prompt, "Symbol: SOLUSDT")
	assert.Contains(t, fc.prompt, "Available leverage: 15x")
	assert.Equal(t, 1, v.Stats().ValidationsThisHour)
}

func TestValidateFallsBackOnErrors(t *testing.T) {
	tests := []struct {
		name   string
		answer string
		err    error
		reason string
	}{
		{"rate limited", "", fmt.Errorf("wrapped: %w", llm.ErrRateLimited), "validator rate limited"},
		{"transport", "", errors.New("connection refused"), "validator unavailable"},
		{"not json", "I think you should buy", nil, "unreadable validator response"},
		{"bad verdict", `{"decision":"HOLD","confidence":90}`, nil, "unreadable validator response"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newTestValidator(&fakeCompleter{answer: tt.answer, err: tt.err}, 50)
			val := v.Validate(context.Background(), longRequest(75))

			assert.Equal(t, SourceHeuristic, val.Source)
			assert.Equal(t, VerdictBuy, val.Decision)
			assert.Contains(t, val.Reasoning, tt.reason)
			assert.Equal(t, 1, v.Stats().Fallbacks)
		})
	}
}

func TestValidateHourlyCap(t *testing.T) {
	fc := &fakeCompleter{answer: `{"decision":"BUY","confidence":90,"reasoning":"ok"}`}
	v := newTestValidator(fc, 2)
	now := time.Date(2024, 3, 1, 12, 10, 0, 0, time.UTC)
	v.now = func() time.Time { return now }

	for i := 0; i < 3; i++ {
		v.Validate(context.Background(), longRequest(75))
	}
	if fc.calls != 2 {
		t.Errorf("Expected 2 model calls, got %d", fc.calls)
	}
	st := v.Stats()
	assert.Equal(t, 2, st.ValidationsThisHour)
	assert.Equal(t, 1, st.Fallbacks)

	now = now.Add(time.Hour)
	v.Validate(context.Background(), longRequest(75))
	assert.Equal(t, 3, fc.calls)
	assert.Equal(t, 1, v.Stats().ValidationsThisHour)
}

func TestValidateDisabledUsesHeuristic(t *testing.T) {
	fc := &fakeCompleter{}
	v := NewValidator(Config{Enabled: false}, fc, zerolog.Nop())

	val := v.Validate(context.Background(), longRequest(60))
	assert.Equal(t, 0, fc.calls)
	assert.Equal(t, VerdictNoTrade, val.Decision)
	assert.Equal(t, "confidence 60% below 70%", val.Reasoning)

	nilClient := newTestValidator(nil, 50)
	assert.Equal(t, VerdictBuy, nilClient.Validate(context.Background(), longRequest(70)).Decision)
}

func TestHeuristic(t *testing.T) {
	v := newTestValidator(nil, 0)
	d := decision.Decision{Action: decision.ActionEnterShort, Confidence: 85}

	assert.Equal(t, VerdictSell, v.Heuristic(d, signal.DirectionShort).Decision)
	assert.Equal(t, VerdictNoTrade, v.Heuristic(d, signal.DirectionUnknown).Decision)
}

func TestApply(t *testing.T) {
	v := newTestValidator(nil, 0)
	d := longRequest(85).Decision

	approved := v.Apply(d, Validation{Decision: VerdictBuy, Confidence: 80, Source: SourceModel})
	assert.Equal(t, decision.ActionEnterLong, approved.Action)

	rejected := v.Apply(d, Validation{Decision: VerdictNoTrade, Confidence: 90, Reasoning: "overextended", Source: SourceModel})
	assert.Equal(t, decision.ActionWait, rejected.Action)
	if rejected.Confidence != 79 {
		t.Errorf("Expected vetoed confidence capped at 79, got %d", rejected.Confidence)
	}
	assert.Equal(t, 85, d.Confidence)
	assert.Equal(t, "wait for validator confirmation", rejected.WaitRecommendation)
	require.Len(t, rejected.Reasons, 2)
	assert.Contains(t, rejected.Reasons[1], "overextended")
	assert.Len(t, d.Reasons, 1, "input decision is not modified")

	weak := v.Apply(d, Validation{Decision: VerdictBuy, Confidence: 55, Source: SourceModel})
	assert.Equal(t, decision.ActionWait, weak.Action)
	assert.Less(t, weak.Confidence, 80)

	wait := decision.Decision{Action: decision.ActionWait, Confidence: 40}
	assert.Equal(t, wait.Action, v.Apply(wait, Validation{Decision: VerdictNoTrade}).Action)
}

func TestApplyVetoUsesConfiguredThreshold(t *testing.T) {
	v := NewValidator(Config{Enabled: true, EntryThreshold: 90}, nil, zerolog.Nop())
	d := longRequest(92).Decision

	vetoed := v.Apply(d, Validation{Decision: VerdictNoTrade, Confidence: 90, Source: SourceModel})
	assert.Equal(t, decision.ActionWait, vetoed.Action)
	assert.Equal(t, 89, vetoed.Confidence)

	low := decision.Decision{Action: decision.ActionEnterShort, Confidence: 60}
	assert.Equal(t, 60, v.Apply(low, Validation{Decision: VerdictNoTrade, Source: SourceModel}).Confidence)
}

func TestStripMarkdownCodeBlock(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"```json\n{\"a\":1}\n```", `{"a":1}`},
		{"```\n{\"a\":1}```", `{"a":1}`},
		{`  {"a":1}  `, `{"a":1}`},
	}
	for _, tt := range tests {
		if got := stripMarkdownCodeBlock(tt.in); got != tt.want {
			t.Errorf("stripMarkdownCodeBlock(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}
