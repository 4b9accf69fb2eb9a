package combiner

import (
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/models"
)

func testLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return logger
}

func testCombiner() *Combiner {
	return New(config.CombinerConfig{
		HermesWeight: 0.6,
		StreamWeight: 0.4,
		MaxAge:       300 * time.Second,
	}, testLogger())
}

func hermesTick(price int64, ts time.Time) models.PriceTick {
	return models.PriceTick{
		FeedID:      "feed-1",
		Price:       price,
		Conf:        5,
		Expo:        0,
		Status:      models.StatusTrading,
		PublishTime: ts,
		Source:      models.SourceHermes,
	}
}

func streamTick(price int64, ts time.Time) models.PriceTick {
	return models.PriceTick{
		FeedID:      "X:BTC-USD",
		Price:       price,
		Expo:        0,
		Status:      models.StatusTrading,
		PublishTime: ts,
		Source:      models.SourceStream,
	}
}

func TestSingleSource(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	agg, ok := c.Update("BTC/USD", hermesTick(100, now))
	if !ok {
		t.Fatal("fresh hermes tick produced no price")
	}
	if agg.Price.String() != "100" {
		t.Errorf("price = %s, want unweighted 100", agg.Price)
	}
	if agg.DominantSource != models.SourceHermes {
		t.Errorf("dominant = %s", agg.DominantSource)
	}
	if agg.Hermes == nil || agg.Stream != nil {
		t.Errorf("snapshots wrong: hermes=%v stream=%v", agg.Hermes, agg.Stream)
	}
	if agg.Conf == nil || agg.Conf.String() != "5" {
		t.Errorf("conf = %v", agg.Conf)
	}
	if agg.Source != models.SourceAggregated {
		t.Errorf("source = %s, want aggregated", agg.Source)
	}
}

func TestWeightedBlend(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now))
	agg, ok := c.Update("BTC/USD", streamTick(90, now.Add(time.Second)))
	if !ok {
		t.Fatal("blend produced no price")
	}

	// 0.6*100 + 0.4*90 = 96
	if agg.Price.String() != "96" {
		t.Errorf("blended price = %s, want 96", agg.Price)
	}
	if agg.DominantSource != models.SourceHermes {
		t.Errorf("dominant = %s, want hermes (larger weight)", agg.DominantSource)
	}
	if !agg.Timestamp.Equal(now.Add(time.Second)) {
		t.Errorf("timestamp = %v, want the newer publish time", agg.Timestamp)
	}
	if agg.Hermes == nil || agg.Stream == nil {
		t.Error("blend missing a source snapshot")
	}
	if agg.Conf == nil || agg.Conf.String() != "5" {
		t.Errorf("conf = %v, want carried from primary source", agg.Conf)
	}
	if agg.Source != models.SourceAggregated {
		t.Errorf("source = %s, want aggregated", agg.Source)
	}
}

func TestWeightNormalization(t *testing.T) {
	c := New(config.CombinerConfig{
		HermesWeight: 3,
		StreamWeight: 1,
		MaxAge:       300 * time.Second,
	}, testLogger())
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now))
	agg, _ := c.Update("BTC/USD", streamTick(80, now))

	// 0.75*100 + 0.25*80 = 95
	if agg.Price.String() != "95" {
		t.Errorf("price = %s, want 95 from normalized 3:1 weights", agg.Price)
	}
}

func TestStreamDominantWhenHeavier(t *testing.T) {
	c := New(config.CombinerConfig{
		HermesWeight: 0.3,
		StreamWeight: 0.7,
		MaxAge:       300 * time.Second,
	}, testLogger())
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now))
	agg, _ := c.Update("BTC/USD", streamTick(100, now))
	if agg.DominantSource != models.SourceStream {
		t.Errorf("dominant = %s, want stream", agg.DominantSource)
	}
}

func TestEqualWeightsTieFavorsPrimary(t *testing.T) {
	c := New(config.CombinerConfig{
		HermesWeight: 0.5,
		StreamWeight: 0.5,
		MaxAge:       300 * time.Second,
	}, testLogger())
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now))
	agg, _ := c.Update("BTC/USD", streamTick(100, now))
	if agg.DominantSource != models.SourceHermes {
		t.Errorf("dominant = %s, want hermes on tie", agg.DominantSource)
	}
}

func TestStaleSourceExcluded(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now.Add(-10*time.Minute)))
	agg, ok := c.Update("BTC/USD", streamTick(90, now))
	if !ok {
		t.Fatal("fresh stream tick produced no price")
	}
	if agg.Price.String() != "90" {
		t.Errorf("price = %s, want stream-only 90 with hermes stale", agg.Price)
	}
	if agg.DominantSource != models.SourceStream {
		t.Errorf("dominant = %s", agg.DominantSource)
	}
	if agg.Hermes != nil {
		t.Error("stale hermes snapshot included")
	}
}

func TestAllStale(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	if _, ok := c.Update("BTC/USD", hermesTick(100, now.Add(-10*time.Minute))); ok {
		t.Error("stale-on-arrival tick produced a price")
	}
	if _, ok := c.Combine("BTC/USD", now); ok {
		t.Error("Combine produced a price with no fresh data")
	}
}

func TestUnknownSymbol(t *testing.T) {
	c := testCombiner()
	if _, ok := c.Combine("missing", time.Now()); ok {
		t.Error("Combine produced a price for an unknown symbol")
	}
}

func TestHasHermes(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	if c.HasHermes("BTC/USD", now) {
		t.Error("HasHermes true before any tick")
	}
	c.Update("BTC/USD", hermesTick(100, now))
	if !c.HasHermes("BTC/USD", now) {
		t.Error("HasHermes false after fresh tick")
	}
	if c.HasHermes("BTC/USD", now.Add(time.Hour)) {
		t.Error("HasHermes true for stale tick")
	}
}

func TestSymbolsIsolated(t *testing.T) {
	c := testCombiner()
	now := time.Now()

	c.Update("BTC/USD", hermesTick(100, now))
	c.Update("ETH/USD", hermesTick(50, now))
	c.Update("BTC/USD", streamTick(90, now))

	agg, _ := c.Combine("ETH/USD", now)
	if agg.Price.String() != "50" {
		t.Errorf("ETH price = %s, polluted by BTC stream data", agg.Price)
	}
}
