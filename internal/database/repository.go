package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"

	"signal-trading-bot/internal/events"
)

// querier is the subset of pgxpool.Pool the repository uses
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Repository is the signal/decision/trade journal
type Repository struct {
	db           querier
	logger       zerolog.Logger
	writeTimeout time.Duration
}

// NewRepository creates a new repository
func NewRepository(db *DB, logger zerolog.Logger) *Repository {
	return newRepository(db.Pool, logger)
}

func newRepository(q querier, logger zerolog.Logger) *Repository {
	return &Repository{
		db:           q,
		logger:       logger.With().Str("component", "journal").Logger(),
		writeTimeout: 5 * time.Second,
	}
}

// RecordEvent appends a bus event to the journal
func (r *Repository) RecordEvent(ctx context.Context, ev events.Event) error {
	payload, err := json.Marshal(ev.Data)
	if err != nil {
		return fmt.Errorf("failed to marshal event payload: %w", err)
	}
	symbol, _ := ev.Data["symbol"].(string)

	query := `
		INSERT INTO journal_events (event_type, symbol, payload, created_at)
		VALUES ($1, NULLIF($2, ''), $3, $4)
	`
	_, err = r.db.Exec(ctx, query, string(ev.Type), symbol, payload, ev.Timestamp)
	return err
}

// CreateTrade inserts a filled entry. A repeated attempt key is ignored.
func (r *Repository) CreateTrade(ctx context.Context, trade *Trade) error {
	query := `
		INSERT INTO trades (attempt_key, symbol, direction, entry_price, quantity, stop_loss, take_profit, protected, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (attempt_key) DO NOTHING
		RETURNING id
	`
	err := r.db.QueryRow(
		ctx, query,
		trade.Key, trade.Symbol, trade.Direction, trade.EntryPrice, trade.Quantity,
		trade.StopLoss, trade.TakeProfit, trade.Protected, trade.CreatedAt,
	).Scan(&trade.ID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil
	}
	return err
}

// RecentEvents returns the newest journal entries, optionally filtered by type
func (r *Repository) RecentEvents(ctx context.Context, eventType string, limit int) ([]JournalEntry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	query := `
		SELECT id, event_type, COALESCE(symbol, ''), payload, created_at
		FROM journal_events
		WHERE ($1 = '' OR event_type = $1)
		ORDER BY created_at DESC
		LIMIT $2
	`
	rows, err := r.db.Query(ctx, query, eventType, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []JournalEntry
	for rows.Next() {
		var e JournalEntry
		if err := rows.Scan(&e.ID, &e.Type, &e.Symbol, &e.Payload, &e.CreatedAt); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Attach records every bus event, and every opened trade, in the journal
func (r *Repository) Attach(bus *events.EventBus) {
	bus.SubscribeAll(func(ev events.Event) {
		ctx, cancel := context.WithTimeout(context.Background(), r.writeTimeout)
		defer cancel()

		if err := r.RecordEvent(ctx, ev); err != nil {
			r.logger.Error().Err(err).Str("event", string(ev.Type)).Msg("Failed to journal event")
		}
		if ev.Type != events.EventTradeOpened {
			return
		}
		trade := tradeFromEvent(ev)
		if err := r.CreateTrade(ctx, trade); err != nil {
			r.logger.Error().Err(err).Str("symbol", trade.Symbol).Msg("Failed to journal trade")
		}
	})
}

func tradeFromEvent(ev events.Event) *Trade {
	t := &Trade{CreatedAt: ev.Timestamp}
	t.Key, _ = ev.Data["key"].(string)
	t.Symbol, _ = ev.Data["symbol"].(string)
	t.Direction, _ = ev.Data["direction"].(string)
	t.EntryPrice, _ = ev.Data["entry_price"].(float64)
	t.Quantity, _ = ev.Data["quantity"].(float64)
	t.Protected, _ = ev.Data["protected"].(bool)
	if sl, ok := ev.Data["stop_loss"].(float64); ok && sl > 0 {
		t.StopLoss = &sl
	}
	if tp, ok := ev.Data["take_profit"].(float64); ok && tp > 0 {
		t.TakeProfit = &tp
	}
	return t
}
