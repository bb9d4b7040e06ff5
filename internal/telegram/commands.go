package telegram

import (
	"context"
	"fmt"
	"html"
	"strings"

	"github.com/rs/zerolog"

	"signal-trading-bot/internal/bot"
	"signal-trading-bot/internal/orders"
)

// Operator is the control surface the commands drive
type Operator interface {
	SetTradingEnabled(ctx context.Context, enabled bool, source string) error
	Stats() bot.Stats
	AnalyzeSymbol(ctx context.Context, symbol string) (*bot.Analysis, error)
	Reconcile(ctx context.Context) (*orders.ReconcileReport, error)
	ClearDedup() int
}

// Commands answers operator commands with an HTML reply
type Commands struct {
	op     Operator
	logger zerolog.Logger
}

// NewCommands creates the command handler
func NewCommands(op Operator, logger zerolog.Logger) *Commands {
	return &Commands{op: op, logger: logger.With().Str("component", "telegram_commands").Logger()}
}

const helpText = "<b>Commands</b>\n" +
	"/enable - turn auto-trading on\n" +
	"/disable - turn auto-trading off\n" +
	"/stats - session statistics\n" +
	"/analyze SYMBOL - run an analysis\n" +
	"/fix_sltp - repair missing SL/TP orders\n" +
	"/clear - clear the duplicate filter"

// Handle runs one command and returns the reply
func (c *Commands) Handle(ctx context.Context, command, args string, userID int64) string {
	c.logger.Info().Str("command", command).Int64("user_id", userID).Msg("Operator command")

	switch command {
	case "enable", "disable":
		enabled := command == "enable"
		if err := c.op.SetTradingEnabled(ctx, enabled, "telegram"); err != nil {
			c.logger.Warn().Err(err).Msg("Trading flag not persisted")
			return fmt.Sprintf("⚠️ Trading %s, but the setting was not saved: %s", onOff(enabled), html.EscapeString(err.Error()))
		}
		return fmt.Sprintf("✅ Trading %s", onOff(enabled))
	case "stats":
		return formatStats(c.op.Stats())
	case "analyze":
		symbol := strings.TrimSpace(args)
		if symbol == "" {
			return "Usage: /analyze SYMBOL"
		}
		a, err := c.op.AnalyzeSymbol(ctx, symbol)
		if err != nil {
			return fmt.Sprintf("❌ Analysis of %s failed: %s", html.EscapeString(symbol), html.EscapeString(err.Error()))
		}
		return formatAnalysis(a)
	case "fix_sltp":
		report, err := c.op.Reconcile(ctx)
		if err != nil {
			return "❌ " + html.EscapeString(err.Error())
		}
		return formatReconcile(report)
	case "clear":
		return fmt.Sprintf("🧹 Cleared %d dedup entries", c.op.ClearDedup())
	case "start", "help":
		return helpText
	}
	return "Unknown command.\n\n" + helpText
}

func onOff(enabled bool) string {
	if enabled {
		return "ENABLED"
	}
	return "DISABLED"
}

func formatStats(st bot.Stats) string {
	s := st.Session
	var b strings.Builder
	b.WriteString("📊 <b>Session</b>\n")
	fmt.Fprintf(&b, "Trading: %s\n", onOff(s.TradingEnabled))
	fmt.Fprintf(&b, "Trades today: %d/%d\n", s.DailyTrades, s.MaxDailyTrades)
	fmt.Fprintf(&b, "Open positions: %d/%d\n", s.OpenPositions, s.MaxOpenPositions)
	for _, p := range s.Positions {
		fmt.Fprintf(&b, "  • %s %s @ %g\n", p.Symbol, p.Direction, p.EntryPrice)
	}
	fmt.Fprintf(&b, "Dedup entries: %d\n", s.DedupEntries)
	if v := st.Validator; v != nil {
		fmt.Fprintf(&b, "AI validations this hour: %d/%d (fallbacks %d)\n", v.ValidationsThisHour, v.MaxPerHour, v.Fallbacks)
	}
	if cb := st.Breaker; cb != nil {
		fmt.Fprintf(&b, "Circuit breaker: %s\n", cb.State)
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatAnalysis(a *bot.Analysis) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🔎 <b>%s</b>\n", html.EscapeString(a.Signal.Symbol))
	fmt.Fprintf(&b, "Price: %g (%+.2f%%)\n", a.Result.CurrentPrice, a.Result.PriceChangePercent)
	fmt.Fprintf(&b, "Action: <b>%s</b> (%d%%)\n", a.Decision.Action, a.Decision.Confidence)
	fmt.Fprintf(&b, "Smart money: %d/5, volume %s, momentum %s\n",
		a.Result.SmartMoneyScore, a.Result.Volume.Level, a.Result.Momentum.Direction)
	for _, r := range a.Decision.Reasons {
		fmt.Fprintf(&b, "• %s\n", html.EscapeString(r))
	}
	if a.Decision.WaitRecommendation != "" {
		fmt.Fprintf(&b, "⏳ %s\n", html.EscapeString(a.Decision.WaitRecommendation))
	}
	return strings.TrimRight(b.String(), "\n")
}

func formatReconcile(r *orders.ReconcileReport) string {
	var b strings.Builder
	fmt.Fprintf(&b, "🛡 Checked %d positions, %d already protected\n", r.Checked, r.Protected)
	for _, rep := range r.Repairs {
		status := "✅"
		if rep.Error != "" {
			status = "❌"
		}
		fmt.Fprintf(&b, "%s %s %s\n", status, rep.Symbol, rep.Kind)
	}
	if len(r.Pruned) > 0 {
		fmt.Fprintf(&b, "Pruned: %s\n", strings.Join(r.Pruned, ", "))
	}
	if len(r.Untracked) > 0 {
		fmt.Fprintf(&b, "Untracked: %s\n", strings.Join(r.Untracked, ", "))
	}
	return strings.TrimRight(b.String(), "\n")
}
