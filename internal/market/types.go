// Package market holds the exchange data shapes shared by the analysis, sizing and
// execution stages, together with the collaborator interface that produces them.
package market

import (
	"context"
	"errors"
	"time"
)

// ErrDataUnavailable marks market data that could not be fetched: timeouts, transport
// errors or malformed responses. The pipeline aborts the current message on it.
var ErrDataUnavailable = errors.New("market data unavailable")

// ErrSymbolNotFound is returned when the exchange has no instrument for a symbol
var ErrSymbolNotFound = errors.New("symbol not found")

// Snapshot is a point-in-time view of one symbol
type Snapshot struct {
	Symbol             string    `json:"symbol"`
	Price              float64   `json:"price"`
	PriceChangePercent float64   `json:"price_change_percent"`
	Volume             float64   `json:"volume"` // 24h quote volume
	BidPrice           float64   `json:"bid_price"`
	AskPrice           float64   `json:"ask_price"`
	Spread             float64   `json:"spread"` // percent of ask
	FetchedAt          time.Time `json:"fetched_at"`
}

// Validate enforces the snapshot invariant
func (s *Snapshot) Validate() error {
	if s == nil || s.Price <= 0 {
		return ErrDataUnavailable
	}
	return nil
}

// SpreadPercent computes (ask-bid)/ask*100, zero when the book is empty
func SpreadPercent(bid, ask float64) float64 {
	if ask <= 0 || bid <= 0 {
		return 0
	}
	return (ask - bid) / ask * 100
}

// Filters are the exchange quantity and price constraints for a symbol
type Filters struct {
	Symbol   string  `json:"symbol"`
	MinQty   float64 `json:"min_qty"`
	StepSize float64 `json:"step_size"`
	TickSize float64 `json:"tick_size"`
}

// Kline is one OHLCV bar
type Kline struct {
	OpenTime  time.Time `json:"open_time"`
	Open      float64   `json:"open"`
	High      float64   `json:"high"`
	Low       float64   `json:"low"`
	Close     float64   `json:"close"`
	Volume    float64   `json:"volume"`
	CloseTime time.Time `json:"close_time"`
}

// Closes extracts close prices in order
func Closes(klines []Kline) []float64 {
	out := make([]float64, len(klines))
	for i, k := range klines {
		out[i] = k.Close
	}
	return out
}

// DataProvider supplies market data for analysis and sizing
type DataProvider interface {
	Snapshot(ctx context.Context, symbol string) (*Snapshot, error)
	Filters(ctx context.Context, symbol string) (*Filters, error)
	Klines(ctx context.Context, symbol, interval string, limit int) ([]Kline, error)
	MaxLeverage(ctx context.Context, symbol string) (int, error)
}
