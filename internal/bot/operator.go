package bot

import (
	"context"
	"fmt"

	"signal-trading-bot/internal/ai"
	"signal-trading-bot/internal/circuit"
	"signal-trading-bot/internal/orders"
	"signal-trading-bot/internal/risk"
)

// Stats is the operator view of the bot
type Stats struct {
	Session   risk.Stats     `json:"session"`
	Validator *ai.Stats      `json:"validator,omitempty"`
	Breaker   *circuit.Stats `json:"circuit_breaker,omitempty"`
}

// SetTradingEnabled toggles auto-execution. source names the surface the operator used.
func (p *Pipeline) SetTradingEnabled(ctx context.Context, enabled bool, source string) error {
	err := p.deps.Session.SetTradingEnabled(ctx, enabled)
	p.deps.Bus.PublishTradingToggled(enabled, source)
	return err
}

// Stats snapshots the session, validator and breaker
func (p *Pipeline) Stats() Stats {
	st := Stats{Session: p.deps.Session.Stats()}
	if v, ok := p.deps.Validator.(interface{ Stats() ai.Stats }); ok {
		vs := v.Stats()
		st.Validator = &vs
	}
	if p.deps.Breaker != nil {
		bs := p.deps.Breaker.GetStats()
		st.Breaker = &bs
	}
	return st
}

// ClearDedup empties the dedup set and returns how many keys it held
func (p *Pipeline) ClearDedup() int {
	n := p.deps.Session.ClearDedupCache()
	p.logger.Info().Int("cleared", n).Msg("Dedup cache cleared")
	return n
}

// Reconcile runs the protection sweep, publishes its summary and notifies when it
// changed anything
func (p *Pipeline) Reconcile(ctx context.Context) (*orders.ReconcileReport, error) {
	report, err := p.deps.Trader.Reconcile(ctx)
	if err != nil {
		p.deps.Bus.PublishError("reconcile", "reconcile sweep failed", err)
		return nil, fmt.Errorf("reconcile: %w", err)
	}

	p.deps.Bus.PublishReconcile(report.Checked, report.Protected, len(report.Repairs), report.Failed(), report.Pruned)
	p.logger.Info().
		Int("checked", report.Checked).
		Int("repairs", len(report.Repairs)).
		Int("failed", report.Failed()).
		Strs("pruned", report.Pruned).
		Msg("Reconcile completed")

	if len(report.Repairs) > 0 || len(report.Pruned) > 0 {
		if nerr := p.deps.Notifier.SendReconcile(report); nerr != nil {
			p.logger.Warn().Err(nerr).Msg("Reconcile notification failed")
		}
	}
	return report, nil
}
