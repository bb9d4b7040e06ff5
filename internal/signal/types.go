package signal

import (
	"regexp"
	"strings"
)

// Direction is the side a signal asks for
type Direction string

const (
	DirectionLong    Direction = "LONG"
	DirectionShort   Direction = "SHORT"
	DirectionUnknown Direction = "UNKNOWN"
)

// Opposite returns the closing direction, UNKNOWN stays UNKNOWN
func (d Direction) Opposite() Direction {
	switch d {
	case DirectionLong:
		return DirectionShort
	case DirectionShort:
		return DirectionLong
	}
	return DirectionUnknown
}

// Known reports whether the direction is tradeable
func (d Direction) Known() bool {
	return d == DirectionLong || d == DirectionShort
}

// Subtype marks signals that need extra market enrichment
type Subtype string

const (
	SubtypeNone        Subtype = "NONE"
	SubtypeRetracement Subtype = "RETRACEMENT"
	SubtypeMACross     Subtype = "MA_CROSS"
)

const (
	RetracementTimeframe = "4h"
	MACrossTimeframe     = "5m"
	DefaultFastPeriod    = 50
	DefaultSlowPeriod    = 200
)

// TakeProfit is one numbered target
type TakeProfit struct {
	Level   int     `json:"level"`
	Price   float64 `json:"price"`
	Percent float64 `json:"percent,omitempty"`
}

// Signal is the structured content of one inbound message
type Signal struct {
	Symbol      string       `json:"symbol,omitempty"`
	Direction   Direction    `json:"direction"`
	EntryPrices []float64    `json:"entry_prices"`
	TakeProfits []TakeProfit `json:"take_profits"`
	StopLoss    *float64     `json:"stop_loss,omitempty"`
	Leverage    *int         `json:"leverage,omitempty"`

	Subtype    Subtype `json:"subtype"`
	Timeframe  string  `json:"timeframe,omitempty"`
	FastPeriod int     `json:"fast_period,omitempty"`
	SlowPeriod int     `json:"slow_period,omitempty"`
	SwingHigh  float64 `json:"swing_high,omitempty"`
	SwingLow   float64 `json:"swing_low,omitempty"`
}

// EntryMean returns the average entry price and false when there are none
func (s *Signal) EntryMean() (float64, bool) {
	if len(s.EntryPrices) == 0 {
		return 0, false
	}
	var sum float64
	for _, p := range s.EntryPrices {
		sum += p
	}
	return sum / float64(len(s.EntryPrices)), true
}

// FirstTakeProfit returns TP1 and false when there is none
func (s *Signal) FirstTakeProfit() (float64, bool) {
	if len(s.TakeProfits) == 0 {
		return 0, false
	}
	return s.TakeProfits[0].Price, true
}

// WithSymbol returns a copy bound to a validated symbol
func (s Signal) WithSymbol(symbol string) Signal {
	s.Symbol = symbol
	return s
}

// WithDirection returns a copy with the direction replaced
func (s Signal) WithDirection(d Direction) Signal {
	s.Direction = d
	return s
}

// Message is an inbound chat message as delivered by a source adapter
type Message struct {
	ID             string `json:"id"`
	ChatID         int64  `json:"chat_id"`
	Text           string `json:"text"`
	AttachmentText string `json:"attachment_text,omitempty"`
}

// FullText joins message text and any text recovered from an attachment
func (m Message) FullText() string {
	if m.AttachmentText == "" {
		return m.Text
	}
	if m.Text == "" {
		return m.AttachmentText
	}
	return m.Text + "\n" + m.AttachmentText
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// DedupKey builds the symbol plus text-prefix key used to suppress repeats
func DedupKey(symbol, text string, prefixLen int) string {
	runes := []rune(text)
	if prefixLen > 0 && len(runes) > prefixLen {
		runes = runes[:prefixLen]
	}
	return symbol + "_" + whitespaceRun.ReplaceAllString(string(runes), "_")
}

// normalizeTimeframe turns chat codes like "m5" or "H1" into exchange intervals like "5m"
func normalizeTimeframe(code string) string {
	code = strings.ToLower(strings.TrimSpace(code))
	if len(code) < 2 {
		return ""
	}
	unit := code[0]
	if unit == 'm' || unit == 'h' || unit == 'd' {
		return code[1:] + string(unit)
	}
	return code
}
