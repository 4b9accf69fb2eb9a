package models

import (
	"time"

	"github.com/shopspring/decimal"
)

// Bar is an OHLC bar for one (feed, interval) bucket. The open price is
// fixed by the first tick in the bucket; high/low/close move with later
// ticks until the bar is confirmed.
type Bar struct {
	FeedID      string          `json:"feed_id"`
	Symbol      string          `json:"symbol"`
	Interval    Interval        `json:"interval"`
	BucketStart time.Time       `json:"bucket_start"`
	BucketEnd   time.Time       `json:"bucket_end"`
	Open        decimal.Decimal `json:"open"`
	High        decimal.Decimal `json:"high"`
	Low         decimal.Decimal `json:"low"`
	Close       decimal.Decimal `json:"close"`
	TickCount   int             `json:"tick_count"`
	Confirmed   bool            `json:"confirmed"`
}

// NewBar opens a bar with every field seeded from the first tick price.
func NewBar(feedID, symbol string, interval Interval, bucketStart time.Time, price decimal.Decimal) *Bar {
	return &Bar{
		FeedID:      feedID,
		Symbol:      symbol,
		Interval:    interval,
		BucketStart: bucketStart,
		BucketEnd:   interval.NextBucket(bucketStart),
		Open:        price,
		High:        price,
		Low:         price,
		Close:       price,
		TickCount:   1,
	}
}

// ApplyPrice folds a tick price into an open bar and reports whether any
// OHLC field changed. The open price never moves.
func (b *Bar) ApplyPrice(price decimal.Decimal) bool {
	b.TickCount++
	changed := false
	if price.GreaterThan(b.High) {
		b.High = price
		changed = true
	}
	if price.LessThan(b.Low) {
		b.Low = price
		changed = true
	}
	if !price.Equal(b.Close) {
		b.Close = price
		changed = true
	}
	return changed
}

// BarResponse is the wire format for a bar: millisecond timestamps and
// string prices so clients never lose precision to float parsing.
type BarResponse struct {
	FeedID      string `json:"feed_id"`
	Symbol      string `json:"symbol"`
	Interval    string `json:"interval"`
	BucketStart int64  `json:"bucket_start"` // Milliseconds
	BucketEnd   int64  `json:"bucket_end"`   // Milliseconds
	Open        string `json:"open"`
	High        string `json:"high"`
	Low         string `json:"low"`
	Close       string `json:"close"`
	TickCount   int    `json:"tick_count"`
	Confirmed   bool   `json:"confirmed"`
}

// ToResponse converts a Bar to its wire format.
func (b *Bar) ToResponse() *BarResponse {
	return &BarResponse{
		FeedID:      b.FeedID,
		Symbol:      b.Symbol,
		Interval:    string(b.Interval),
		BucketStart: b.BucketStart.UnixMilli(),
		BucketEnd:   b.BucketEnd.UnixMilli(),
		Open:        b.Open.String(),
		High:        b.High.String(),
		Low:         b.Low.String(),
		Close:       b.Close.String(),
		TickCount:   b.TickCount,
		Confirmed:   b.Confirmed,
	}
}
