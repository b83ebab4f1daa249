package models

import "time"

// TrackedProduct is a product the demper watches and reprices
type TrackedProduct struct {
	ID                   int64      `db:"id" json:"id"`
	SKU                  string     `db:"sku" json:"sku"`
	ExternalID           string     `db:"external_id" json:"external_id"`
	Name                 string     `db:"name" json:"name"`
	CurrentPrice         int64      `db:"current_price" json:"current_price"`
	Cost                 int64      `db:"cost" json:"cost"`
	MinMargin            int64      `db:"min_margin" json:"min_margin"`
	MaxPrice             *int64     `db:"max_price" json:"max_price,omitempty"`
	PriceStep            int64      `db:"price_step" json:"price_step"`
	CheckIntervalSeconds int        `db:"check_interval_seconds" json:"check_interval_seconds"`
	IsActive             bool       `db:"is_active" json:"is_active"`
	LastRecordedAt       *time.Time `db:"last_recorded_at" json:"last_recorded_at,omitempty"`
	CreatedAt            time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time  `db:"updated_at" json:"updated_at"`
}

// MinPrice is the margin floor: the lowest price the policy will ever set
func (p *TrackedProduct) MinPrice() int64 {
	return p.Cost + p.MinMargin
}

// CheckInterval returns the configured re-evaluation interval
func (p *TrackedProduct) CheckInterval() time.Duration {
	return time.Duration(p.CheckIntervalSeconds) * time.Second
}

// IsStale reports whether the product has gone too long without a
// successfully recorded cycle (3x its check interval)
func (p *TrackedProduct) IsStale(now time.Time) bool {
	if !p.IsActive || p.LastRecordedAt == nil {
		return false
	}
	return now.Sub(*p.LastRecordedAt) > 3*p.CheckInterval()
}

// PriceHistoryEntry is one immutable row of the price ledger
type PriceHistoryEntry struct {
	ID             int64     `db:"id" json:"id"`
	ProductID      int64     `db:"product_id" json:"product_id"`
	Price          int64     `db:"price" json:"price"`
	PriceDecrease  int64     `db:"price_decrease" json:"price_decrease"`
	CumulativeLoss int64     `db:"cumulative_loss" json:"cumulative_loss"`
	ChangeReason   string    `db:"change_reason" json:"change_reason"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
}

// Change reasons
const (
	ReasonCompetitorMatch = "competitor_match"
	ReasonMarginFloorHit  = "margin_floor_hit"
	ReasonManualOverride  = "manual_override"
	ReasonNoChange        = "no_change"
)

// LossSummary aggregates demping losses over a period
type LossSummary struct {
	TotalLoss         int64 `json:"total_loss"`
	PriceDecreases    int64 `json:"price_decreases"`
	AverageDecrease   int64 `json:"average_decrease"`
	MaxSingleDecrease int64 `json:"max_single_decrease"`
	ProductsAffected  int64 `json:"products_affected"`
}

// Bounds for check_interval_seconds
const (
	MinCheckIntervalSeconds = 300
	MaxCheckIntervalSeconds = 3600
)

// ClampCheckInterval forces an interval into the allowed range
func ClampCheckInterval(seconds int) int {
	if seconds < MinCheckIntervalSeconds {
		return MinCheckIntervalSeconds
	}
	if seconds > MaxCheckIntervalSeconds {
		return MaxCheckIntervalSeconds
	}
	return seconds
}
