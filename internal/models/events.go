package models

import "time"

// Event types
const (
	EventTypePriceChanged = "PRICE_CHANGED"
)

// BaseEvent contains common fields for all events
type BaseEvent struct {
	EventID   string    `json:"event_id"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
}

// PriceChangedEvent is published after the demper applies a new price.
// Delivery is fire-and-forget; engine correctness never depends on it.
type PriceChangedEvent struct {
	BaseEvent
	ProductID       int64  `json:"product_id"`
	SKU             string `json:"sku"`
	OldPrice        int64  `json:"old_price"`
	NewPrice        int64  `json:"new_price"`
	CompetitorPrice int64  `json:"competitor_price"`
	Reason          string `json:"reason"`
}
