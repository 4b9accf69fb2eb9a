package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Price tick sources
const (
	SourceHermes     = "hermes"
	SourceStream     = "stream"
	SourceAggregated = "aggregated"
)

// PriceStatus is the trading status reported by an upstream feed.
type PriceStatus string

const (
	StatusTrading PriceStatus = "trading"
	StatusHalted  PriceStatus = "halted"
	StatusAuction PriceStatus = "auction"
	StatusUnknown PriceStatus = "unknown"
)

// ParseStatus maps an upstream status string to a known PriceStatus.
func ParseStatus(s string) PriceStatus {
	switch PriceStatus(s) {
	case StatusTrading, StatusHalted, StatusAuction:
		return PriceStatus(s)
	default:
		return StatusUnknown
	}
}

// PriceTick is a normalized price observation from one upstream source.
// Prices are fixed-point: the numeric value is Price * 10^Expo, which keeps
// the upstream precision intact across the pipeline.
type PriceTick struct {
	FeedID      string      `json:"feed_id"`
	Symbol      string      `json:"symbol,omitempty"`
	Price       int64       `json:"price"`
	Conf        int64       `json:"conf"`
	Expo        int32       `json:"expo"`
	Status      PriceStatus `json:"status"`
	PublishTime time.Time   `json:"publish_time"`
	ReceivedAt  time.Time   `json:"received_at"`
	Source      string      `json:"source"`
}

// DecimalPrice returns the tick price as an exact decimal.
func (t PriceTick) DecimalPrice() decimal.Decimal {
	return decimal.New(t.Price, t.Expo)
}

// DecimalConf returns the confidence interval as an exact decimal,
// or false when the source did not report one.
func (t PriceTick) DecimalConf() (decimal.Decimal, bool) {
	if t.Conf == 0 {
		return decimal.Decimal{}, false
	}
	return decimal.New(t.Conf, t.Expo), true
}
