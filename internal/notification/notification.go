package notification

import (
	"errors"
	"fmt"
	"html"
	"strings"
	"time"

	"signal-trading-bot/internal/analysis"
	"signal-trading-bot/internal/decision"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/signal"
)

// NotificationType represents the type of notification
type NotificationType string

const (
	NotifyDecision  NotificationType = "decision"
	NotifyTradeOpen NotificationType = "trade_open"
	NotifyFailure   NotificationType = "failure"
	NotifyReconcile NotificationType = "reconcile"
	NotifyInfo      NotificationType = "info"
)

// FailedTag prefixes every execution failure title
const FailedTag = "[FAILED]"

// Notification represents a notification message. Title and Message are HTML-safe.
type Notification struct {
	Type       NotificationType
	Title      string
	Message    string
	Symbol     string
	Price      float64
	Confidence int
	Timestamp  time.Time
	Extra      map[string]interface{}
}

// Notifier interface for different notification providers
type Notifier interface {
	Send(notification *Notification) error
	Name() string
	IsEnabled() bool
}

// Manager fans notifications out to every enabled provider
type Manager struct {
	notifiers []Notifier
	header    string
	now       func() time.Time
}

// NewManager creates a manager. header is the marker line every message starts with,
// which the inbound pipeline uses to ignore the bot's own posts.
func NewManager(header string) *Manager {
	return &Manager{
		header: header,
		now:    time.Now,
	}
}

// AddNotifier adds a notification provider
func (m *Manager) AddNotifier(n Notifier) {
	m.notifiers = append(m.notifiers, n)
}

// Send sends a notification to all enabled providers and joins their errors
func (m *Manager) Send(notification *Notification) error {
	if notification.Timestamp.IsZero() {
		notification.Timestamp = m.now()
	}
	var errs []error
	for _, n := range m.notifiers {
		if !n.IsEnabled() {
			continue
		}
		if err := n.Send(notification); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name(), err))
		}
	}
	return errors.Join(errs...)
}

// SendDecision posts the analysis verdict for one signal
func (m *Manager) SendDecision(sig signal.Signal, res analysis.Result, d decision.Decision) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>%s</b>\n\n", directionEmoji(d.Action, sig.Direction), esc(sig.Symbol))
	fmt.Fprintf(&b, "🎯 <b>RECOMMENDATION: %s</b>\n", recommendation(d.Action))
	fmt.Fprintf(&b, "📊 Confidence: %d%% %s\n", d.Confidence, confidenceEmoji(d.Confidence))
	if d.Action == decision.ActionWait && d.WaitRecommendation != "" {
		fmt.Fprintf(&b, "⏳ <b>WAIT FOR:</b> %s\n", esc(d.WaitRecommendation))
	}

	fmt.Fprintf(&b, "\n📋 <b>Signal:</b> %s\n", sig.Direction)
	fmt.Fprintf(&b, "💰 <b>Price:</b> $%s\n", formatPrice(res.CurrentPrice))
	if len(sig.EntryPrices) > 0 {
		fmt.Fprintf(&b, "🎯 <b>Entry:</b> $%s\n", formatPrice(sig.EntryPrices[0]))
	}
	if sig.StopLoss != nil {
		fmt.Fprintf(&b, "🛑 <b>Stop Loss:</b> $%s\n", formatPrice(*sig.StopLoss))
	}

	b.WriteString("\n📊 <b>ANALYSIS:</b>\n")
	fmt.Fprintf(&b, "• Smart Money: %d/5\n", res.SmartMoneyScore)
	fmt.Fprintf(&b, "• Momentum: %s\n", res.Momentum.Direction)
	fmt.Fprintf(&b, "• Volume: %s\n", res.Volume.Level)
	if res.Retracement != nil && res.Retracement.AtOptimalLevel {
		fmt.Fprintf(&b, "• Fibonacci: at %.3f level\n", res.Retracement.MostEffective.Ratio)
	}
	if res.Cross != nil {
		fmt.Fprintf(&b, "• EMA cross: %s\n", res.Cross.Type)
	}

	if len(d.Reasons) > 0 {
		b.WriteString("\n💡 <b>REASONS:</b>\n")
		for _, r := range d.Reasons {
			fmt.Fprintf(&b, "• %s\n", esc(r))
		}
	}

	return m.Send(&Notification{
		Type:       NotifyDecision,
		Title:      esc(m.header),
		Message:    strings.TrimRight(b.String(), "\n"),
		Symbol:     sig.Symbol,
		Price:      res.CurrentPrice,
		Confidence: d.Confidence,
		Extra: map[string]interface{}{
			"action": string(d.Action),
		},
	})
}

// SendTradeOpen posts a filled entry and its protection
func (m *Manager) SendTradeOpen(exec *orders.Execution) error {
	protection := "✅ SL/TP placed"
	if !exec.Protected() {
		protection = "⚠️ protection incomplete"
	}
	return m.Send(&Notification{
		Type:  NotifyTradeOpen,
		Title: fmt.Sprintf("%s\n📈 Trade Opened: %s", esc(m.header), esc(exec.Symbol)),
		Message: fmt.Sprintf("%s %s x%d\nEntry: $%s\nQuantity: %s\nStop Loss: $%s\nTake Profit: $%s\n%s",
			exec.Direction, esc(exec.Symbol), exec.Leverage,
			formatPrice(exec.EntryPrice), formatPrice(exec.Quantity),
			formatPrice(exec.StopLossPrice), formatPrice(exec.TakeProfitPrice), protection),
		Symbol:    exec.Symbol,
		Price:     exec.EntryPrice,
		Extra:     map[string]interface{}{"key": exec.Key},
		Timestamp: exec.ExecutedAt,
	})
}

// SendFailure posts an execution failure with the failed tag
func (m *Manager) SendFailure(symbol string, err error) error {
	msg := esc(err.Error())
	var execErr *orders.ExecutionError
	if errors.As(err, &execErr) {
		msg = fmt.Sprintf("Step: %s\nError: %s", execErr.Step, esc(execErr.Err.Error()))
		if execErr.Unprotected {
			msg += "\n⚠️ Position is open WITHOUT full protection, run /fix_sltp"
		}
	}
	return m.Send(&Notification{
		Type:    NotifyFailure,
		Title:   fmt.Sprintf("%s\n%s ❌ %s", esc(m.header), FailedTag, esc(symbol)),
		Message: msg,
		Symbol:  symbol,
	})
}

// SendReconcile posts a reconcile sweep summary
func (m *Manager) SendReconcile(report *orders.ReconcileReport) error {
	var b strings.Builder
	fmt.Fprintf(&b, "Checked: %d\nProtected: %d\nRepairs: %d (failed %d)", report.Checked, report.Protected, len(report.Repairs), report.Failed())
	for _, r := range report.Repairs {
		if r.Error != "" {
			fmt.Fprintf(&b, "\n• %s %s: %s", esc(r.Symbol), r.Kind, esc(r.Error))
			continue
		}
		fmt.Fprintf(&b, "\n• %s %s @ $%s", esc(r.Symbol), r.Kind, formatPrice(r.Price))
	}
	if len(report.Pruned) > 0 {
		fmt.Fprintf(&b, "\nClosed: %s", esc(strings.Join(report.Pruned, ", ")))
	}
	if len(report.Untracked) > 0 {
		fmt.Fprintf(&b, "\nUntracked: %s", esc(strings.Join(report.Untracked, ", ")))
	}
	return m.Send(&Notification{
		Type:    NotifyReconcile,
		Title:   fmt.Sprintf("%s\n🛡️ SL/TP check", esc(m.header)),
		Message: b.String(),
	})
}

// SendInfo posts a plain operator message
func (m *Manager) SendInfo(title, message string) error {
	return m.Send(&Notification{
		Type:    NotifyInfo,
		Title:   esc(title),
		Message: esc(message),
	})
}

func recommendation(a decision.Action) string {
	switch a {
	case decision.ActionEnterLong:
		return "🟢 ENTER LONG"
	case decision.ActionEnterShort:
		return "🔴 ENTER SHORT"
	}
	return "⚪ WAIT"
}

func directionEmoji(a decision.Action, dir signal.Direction) string {
	switch {
	case a == decision.ActionEnterLong, dir == signal.DirectionLong:
		return "🟢"
	case a == decision.ActionEnterShort, dir == signal.DirectionShort:
		return "🔴"
	}
	return "⚪"
}

func confidenceEmoji(c int) string {
	switch {
	case c >= 80:
		return "🔥🔥🔥"
	case c >= 70:
		return "🔥🔥"
	case c >= 60:
		return "🔥"
	}
	return "⚡"
}

func formatPrice(p float64) string {
	if p == 0 {
		return "N/A"
	}
	return strings.TrimRight(strings.TrimRight(fmt.Sprintf("%.8f", p), "0"), ".")
}

func esc(s string) string {
	return html.EscapeString(s)
}
