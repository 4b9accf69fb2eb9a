package models

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func TestBarApplyPrice(t *testing.T) {
	start := time.Date(2024, 3, 13, 14, 37, 0, 0, time.UTC)
	bar := NewBar("feed-1", "BTC/USD", Interval1m, start, d("100"))

	if !bar.Open.Equal(d("100")) || !bar.High.Equal(d("100")) || !bar.Low.Equal(d("100")) || !bar.Close.Equal(d("100")) {
		t.Fatalf("fresh bar not seeded from first price: %+v", bar)
	}

	t.Run("NewHigh", func(t *testing.T) {
		if !bar.ApplyPrice(d("105")) {
			t.Error("new high reported no change")
		}
		if !bar.High.Equal(d("105")) || !bar.Close.Equal(d("105")) {
			t.Errorf("high/close not updated: %+v", bar)
		}
		if !bar.Open.Equal(d("100")) {
			t.Error("open moved")
		}
	})

	t.Run("NewLow", func(t *testing.T) {
		if !bar.ApplyPrice(d("95")) {
			t.Error("new low reported no change")
		}
		if !bar.Low.Equal(d("95")) || !bar.Close.Equal(d("95")) {
			t.Errorf("low/close not updated: %+v", bar)
		}
	})

	t.Run("InsideBar", func(t *testing.T) {
		if !bar.ApplyPrice(d("101")) {
			t.Error("close move reported no change")
		}
		if !bar.High.Equal(d("105")) || !bar.Low.Equal(d("95")) {
			t.Errorf("high/low moved on inside price: %+v", bar)
		}
	})

	t.Run("SamePrice", func(t *testing.T) {
		if bar.ApplyPrice(d("101")) {
			t.Error("identical price reported a change")
		}
	})

	if bar.TickCount != 5 {
		t.Errorf("tick count = %d, want 5", bar.TickCount)
	}
}

func TestBarToResponse(t *testing.T) {
	start := time.Date(2024, 3, 13, 14, 0, 0, 0, time.UTC)
	bar := NewBar("feed-1", "ETH/USD", Interval1h, start, d("3500.25"))
	bar.Confirmed = true

	resp := bar.ToResponse()
	if resp.BucketStart != start.UnixMilli() {
		t.Errorf("bucket_start = %d, want %d", resp.BucketStart, start.UnixMilli())
	}
	if resp.BucketEnd != start.Add(time.Hour).UnixMilli() {
		t.Errorf("bucket_end = %d", resp.BucketEnd)
	}
	if resp.Open != "3500.25" {
		t.Errorf("open = %q", resp.Open)
	}
	if !resp.Confirmed {
		t.Error("confirmed flag dropped")
	}
	if resp.Interval != "1h" {
		t.Errorf("interval = %q", resp.Interval)
	}
}

func TestPriceTickDecimal(t *testing.T) {
	tick := PriceTick{Price: 6234512345678, Expo: -8, Conf: 123456789}

	if got := tick.DecimalPrice().String(); got != "62345.12345678" {
		t.Errorf("DecimalPrice = %q", got)
	}
	conf, ok := tick.DecimalConf()
	if !ok || conf.String() != "1.23456789" {
		t.Errorf("DecimalConf = %q, %v", conf, ok)
	}

	t.Run("NoConf", func(t *testing.T) {
		if _, ok := (PriceTick{Price: 1, Expo: 0}).DecimalConf(); ok {
			t.Error("zero conf reported as present")
		}
	})
}
