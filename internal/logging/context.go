package logging

import (
	"context"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// FromContext retrieves the logger stored in ctx, or fallback when there is none
func FromContext(ctx context.Context, fallback zerolog.Logger) zerolog.Logger {
	if l := zerolog.Ctx(ctx); l != nil && l.GetLevel() != zerolog.Disabled {
		return *l
	}
	return fallback
}

// WithTraceContext derives a logger with a fresh trace id from base and stores it in ctx
func WithTraceContext(ctx context.Context, base zerolog.Logger) (context.Context, zerolog.Logger) {
	l := base.With().Str("trace_id", uuid.NewString()).Logger()
	return l.WithContext(ctx), l
}

// TradeContext creates a logger for a trade attempt
func TradeContext(l zerolog.Logger, symbol, side string, quantity, price float64) zerolog.Logger {
	return l.With().
		Str("symbol", symbol).
		Str("side", side).
		Float64("quantity", quantity).
		Float64("price", price).
		Logger()
}

// OrderContext creates a logger for a single exchange order
func OrderContext(l zerolog.Logger, orderID int64, symbol, side, orderType string) zerolog.Logger {
	return l.With().
		Int64("order_id", orderID).
		Str("symbol", symbol).
		Str("side", side).
		Str("order_type", orderType).
		Logger()
}

// SignalContext creates a logger for one inbound message
func SignalContext(l zerolog.Logger, messageID, symbol string) zerolog.Logger {
	return l.With().
		Str("message_id", messageID).
		Str("symbol", symbol).
		Logger()
}
