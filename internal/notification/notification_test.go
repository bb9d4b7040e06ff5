package notification

import (
	"errors"
	"fmt"
	"testing"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/signal"
)

type fakeSender struct {
	sent []tgbotapi.MessageConfig
	err  error
}

func (f *fakeSender) Send(c tgbotapi.Chattable) (tgbotapi.Message, error) {
	if msg, ok := c.(tgbotapi.MessageConfig); ok {
		f.sent = append(f.sent, msg)
	}
	return tgbotapi.Message{}, f.err
}

func newTestManager() (*Manager, *fakeSender) {
	sender := &fakeSender{}
	m := NewManager("SIGNAL BOT - ANALYSIS")
	m.AddNotifier(NewTelegramNotifier(sender, TelegramConfig{ChatID: -100123, Enabled: true}))
	return m, sender
}

func TestSendDecisionWait(t *testing.T) {
	m, sender := newTestManager()
	sl := 95.0
	sig := signal.Signal{Symbol: "SOLUSDT", Direction: signal.DirectionLong, EntryPrices: []float64{100}, StopLoss: &sl}
	res := analysis.Result{Symbol: "SOLUSDT", CurrentPrice: 101.5, SmartMoneyScore: 3}
	d := decision.Decision{
		Action:             decision.ActionWait,
		Confidence:         72,
		Reasons:            []string{"price < support"},
		WaitRecommendation: "wait for a pullback to $99.50",
	}

	require.NoError(t, m.SendDecision(sig, res, d))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, int64(-100123), msg.ChatID)
	assert.Equal(t, tgbotapi.ModeHTML, msg.ParseMode)
	assert.Contains(t, msg.Text, "SIGNAL BOT - ANALYSIS")
	assert.Contains(t, msg.Text, "⚪ WAIT")
	assert.Contains(t, msg.Text, "Confidence: 72% 🔥🔥")
	assert.Contains(t, msg.Text, "wait for a pullback to $99.50")
	assert.Contains(t, msg.Text, "$101.5")
	assert.Contains(t, msg.Text, "price &lt; support")
}

func TestSendDecisionEntryOmitsWait(t *testing.T) {
	m, sender := newTestManager()
	d := decision.Decision{Action: decision.ActionEnterShort, Confidence: 88, WaitRecommendation: "ignored"}

	require.NoError(t, m.SendDecision(signal.Signal{Symbol: "ETHUSDT", Direction: signal.DirectionShort}, analysis.Result{CurrentPrice: 3000}, d))
	assert.Contains(t, sender.sent[0].Text, "🔴 ENTER SHORT")
	assert.NotContains(t, sender.sent[0].Text, "ignored")
}

func TestSendFailureTagged(t *testing.T) {
	m, sender := newTestManager()
	err := &orders.ExecutionError{Step: orders.StepStopOrder, Symbol: "SOLUSDT", Unprotected: true, Err: errors.New("code=-2021")}

	require.NoError(t, m.SendFailure("SOLUSDT", fmt.Errorf("execute: %w", err)))
	text := sender.sent[0].Text
	assert.Contains(t, text, FailedTag)
	assert.Contains(t, text, "PLACE_REDUCE_ONLY_STOP")
	assert.Contains(t, text, "/fix_sltp")
}

func TestSendTradeOpen(t *testing.T) {
	m, sender := newTestManager()
	exec := &orders.Execution{
		Key: "SB-01MAR-0A1B2C3D4E", Symbol: "SOLUSDT", Direction: signal.DirectionLong,
		EntryPrice: 101, Quantity: 0.12, Leverage: 15, StopLossPrice: 96.83, TakeProfitPrice: 109.33,
		StopOrderID: 2, TakeProfitOrderID: 3,
	}
	require.NoError(t, m.SendTradeOpen(exec))
	assert.Contains(t, sender.sent[0].Text, "Trade Opened: SOLUSDT")
	assert.Contains(t, sender.sent[0].Text, "Stop Loss: $96.83")
	assert.Contains(t, sender.sent[0].Text, "SL/TP placed")
}

func TestManagerJoinsErrors(t *testing.T) {
	sender := &fakeSender{err: errors.New("Bad Request: chat not found")}
	m := NewManager("SIGNAL BOT")
	m.AddNotifier(NewTelegramNotifier(sender, TelegramConfig{ChatID: 1, Enabled: true}))
	m.AddNotifier(NewTelegramNotifier(&fakeSender{}, TelegramConfig{ChatID: 0, Enabled: true}))

	err := m.SendInfo("hello", "world")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "telegram: failed to send telegram message")
}

func TestFormatPrice(t *testing.T) {
	tests := []struct {
		in   float64
		want string
	}{
		{67250, "67250"},
		{0.00001234, "0.00001234"},
		{96.83, "96.83"},
		{0, "N/A"},
	}
	for _, tt := range tests {
		if got := formatPrice(tt.in); got != tt.want {
			t.Errorf("formatPrice(%v): expected %s, got %s", tt.in, tt.want, got)
		}
	}
}
