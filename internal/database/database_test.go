package database

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"signal-trading-bot/internal/events"
)

type execCall struct {
	sql  string
	args []any
}

type fakeRow struct {
	id  int64
	err error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*int64)) = r.id
	return nil
}

type fakeQuerier struct {
	execs   []execCall
	rows    []execCall
	row     fakeRow
	execErr error
}

func (f *fakeQuerier) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execs = append(f.execs, execCall{sql, args})
	return pgconn.NewCommandTag("INSERT 0 1"), f.execErr
}

func (f *fakeQuerier) Query(context.Context, string, ...any) (pgx.Rows, error) {
	return nil, errors.New("not implemented")
}

func (f *fakeQuerier) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.rows = append(f.rows, execCall{sql, args})
	return f.row
}

func TestRecordEvent(t *testing.T) {
	q := &fakeQuerier{}
	repo := newRepository(q, zerolog.Nop())
	ts := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

	err := repo.RecordEvent(context.Background(), events.Event{
		Type:      events.EventDecisionMade,
		Timestamp: ts,
		Data:      map[string]interface{}{"symbol": "SOLUSDT", "confidence": 85},
	})
	require.NoError(t, err)
	require.Len(t, q.execs, 1)

	args := q.execs[0].args
	assert.Equal(t, "DECISION_MADE", args[0])
	assert.Equal(t, "SOLUSDT", args[1])
	assert.JSONEq(t, `{"symbol":"SOLUSDT","confidence":85}`, string(args[2].([]byte)))
	assert.Equal(t, ts, args[3])
}

func TestCreateTradeDuplicateKeyIsIgnored(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	repo := newRepository(q, zerolog.Nop())

	trade := &Trade{Key: "SB-01MAR-0A1B2C3D4E", Symbol: "SOLUSDT", Direction: "LONG", EntryPrice: 101, Quantity: 0.12}
	assert.NoError(t, repo.CreateTrade(context.Background(), trade))
	assert.Zero(t, trade.ID)

	q.row = fakeRow{id: 7}
	require.NoError(t, repo.CreateTrade(context.Background(), trade))
	assert.Equal(t, int64(7), trade.ID)
}

func TestTradeFromEvent(t *testing.T) {
	bus := events.NewEventBus()
	done := make(chan events.Event, 1)
	bus.Subscribe(events.EventTradeOpened, func(e events.Event) { done <- e })
	bus.PublishTradeOpened("SB-KEY", "ETHUSDT", "SHORT", 3000, 0.004, 3125, 0, false)

	var ev events.Event
	select {
	case ev = <-done:
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}

	trade := tradeFromEvent(ev)
	assert.Equal(t, "SB-KEY", trade.Key)
	assert.Equal(t, "SHORT", trade.Direction)
	require.NotNil(t, trade.StopLoss)
	assert.Equal(t, 3125.0, *trade.StopLoss)
	assert.Nil(t, trade.TakeProfit)
	assert.False(t, trade.Protected)
}

func TestSessionStateMemoryFallback(t *testing.T) {
	ctx := context.Background()
	store := NewRedisSessionStateRepository(ctx, nil, "signalbot:", zerolog.Nop())
	assert.False(t, store.Available())

	_, found, err := store.LoadTradingEnabled(ctx)
	require.NoError(t, err)
	assert.False(t, found)

	require.NoError(t, store.SaveTradingEnabled(ctx, true))
	enabled, found, err := store.LoadTradingEnabled(ctx)
	require.NoError(t, err)
	assert.True(t, found)
	assert.True(t, enabled)

	require.NoError(t, store.SaveTradingEnabled(ctx, false))
	enabled, _, _ = store.LoadTradingEnabled(ctx)
	assert.False(t, enabled)
}

func TestConfigDSN(t *testing.T) {
	cfg := Config{Host: "db", Port: 5432, User: "bot", Password: "pw", Database: "signals", SSLMode: "disable"}
	want := "host=db port=5432 user=bot password=pw dbname=signals sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("Expected %q, got %q", want, got)
	}
}
