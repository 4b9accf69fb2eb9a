package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// SourceSnapshot is the per-source contribution inside an aggregated price.
type SourceSnapshot struct {
	Source    string           `json:"source"`
	Price     decimal.Decimal  `json:"price"`
	Conf      *decimal.Decimal `json:"conf,omitempty"`
	Status    PriceStatus      `json:"status,omitempty"`
	Timestamp time.Time        `json:"timestamp"`
}

// AggregatedPrice is the blended view of a symbol across upstream sources.
// When only one source has fresh data it carries that source unweighted.
// Source is always SourceAggregated so consumers can tell combined payloads
// from raw ticks.
type AggregatedPrice struct {
	FeedID         string           `json:"feed_id"`
	Symbol         string           `json:"symbol"`
	Price          decimal.Decimal  `json:"price"`
	Conf           *decimal.Decimal `json:"conf,omitempty"`
	Timestamp      time.Time        `json:"timestamp"`
	Source         string           `json:"source"`
	DominantSource string           `json:"dominant_source"`
	Hermes         *SourceSnapshot  `json:"hermes,omitempty"`
	Stream         *SourceSnapshot  `json:"stream,omitempty"`
}
