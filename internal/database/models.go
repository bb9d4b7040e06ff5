package database

import (
	"encoding/json"
	"time"
)

// JournalEntry is one recorded bot event
type JournalEntry struct {
	ID        int64           `json:"id"`
	Type      string          `json:"type"`
	Symbol    string          `json:"symbol,omitempty"`
	Payload   json.RawMessage `json:"payload"`
	CreatedAt time.Time       `json:"created_at"`
}

// Trade is a filled entry as journaled
type Trade struct {
	ID         int64     `json:"id"`
	Key        string    `json:"key"`
	Symbol     string    `json:"symbol"`
	Direction  string    `json:"direction"`
	EntryPrice float64   `json:"entry_price"`
	Quantity   float64   `json:"quantity"`
	StopLoss   *float64  `json:"stop_loss,omitempty"`
	TakeProfit *float64  `json:"take_profit,omitempty"`
	Protected  bool      `json:"protected"`
	CreatedAt  time.Time `json:"created_at"`
}
