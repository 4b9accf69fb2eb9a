package feed

import (
	"context"
	"testing"
	"time"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/models"
)

func testStreamSource() *CryptoStreamSource {
	return NewCryptoStreamSource(config.StreamConfig{
		URL:            "wss://localhost/crypto",
		APIKey:         "test-key",
		ReconnectDelay: time.Second,
		SubscribeRate:  100,
		SubscribeBurst: 100,
		TickBuffer:     16,
	}, testLogger())
}

func TestStreamHandleAggregateFrame(t *testing.T) {
	s := testStreamSource()
	tr := (*streamTransport)(s)

	raw := `[{"ev":"XA","pair":"BTC-USD","o":62000.5,"h":62100,"l":61950.25,"c":62050.75,"v":12.5,"s":1710340660000,"e":1710340665000}]`
	tr.handleFrames([]byte(raw))

	tick := recvTick(t, s.ticks)
	if tick.FeedID != "X:BTC-USD" {
		t.Errorf("ticker = %q, want X:BTC-USD", tick.FeedID)
	}
	if tick.Source != models.SourceStream {
		t.Errorf("source = %q", tick.Source)
	}
	if tick.DecimalPrice().String() != "62050.75" {
		t.Errorf("price = %s, want window close", tick.DecimalPrice())
	}
	if !tick.PublishTime.Equal(time.UnixMilli(1710340665000)) {
		t.Errorf("publish time = %v", tick.PublishTime)
	}
	if _, ok := tick.DecimalConf(); ok {
		t.Error("stream tick reported a confidence interval")
	}
}

func TestStreamSkipsNonAggregateFrames(t *testing.T) {
	s := testStreamSource()
	tr := (*streamTransport)(s)

	raw := `[{"ev":"XT","pair":"BTC-USD","c":1},{"ev":"XL2","pair":"BTC-USD"},{"ev":"status","status":"success","message":"subscribed"},{"ev":"??"}]`
	tr.handleFrames([]byte(raw))

	select {
	case tick := <-s.ticks:
		t.Errorf("non-aggregate frame produced tick: %+v", tick)
	default:
	}
}

func TestStreamSkipsMalformedMessages(t *testing.T) {
	s := testStreamSource()
	tr := (*streamTransport)(s)

	tr.handleFrames([]byte(`not json at all`))
	tr.handleFrames([]byte(`[{"ev":"XA","pair":"","c":100,"e":1}]`)) // no pair
	tr.handleFrames([]byte(`[{"ev":"XA","pair":"BTC-USD","c":0,"e":1}]`)) // no close

	select {
	case tick := <-s.ticks:
		t.Errorf("malformed frame produced tick: %+v", tick)
	default:
	}
}

func TestStreamMixedBatch(t *testing.T) {
	s := testStreamSource()
	tr := (*streamTransport)(s)

	raw := `[{"ev":"status","status":"success"},{"ev":"XA","pair":"ETH-USD","c":3500.5,"e":1710340665000},{"ev":"XAS","pair":"SOL-USD","c":145.25,"e":1710340665000}]`
	tr.handleFrames([]byte(raw))

	first := recvTick(t, s.ticks)
	second := recvTick(t, s.ticks)
	if first.FeedID != "X:ETH-USD" || second.FeedID != "X:SOL-USD" {
		t.Errorf("tickers = %q, %q", first.FeedID, second.FeedID)
	}
	if second.DecimalPrice().String() != "145.25" {
		t.Errorf("XAS price = %s", second.DecimalPrice())
	}
}

func TestStreamSubscribeTracksWantSet(t *testing.T) {
	s := testStreamSource()

	if err := s.Subscribe("X:BTC-USD"); err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if err := s.Subscribe("X:BTC-USD"); err != nil {
		t.Fatalf("duplicate Subscribe: %v", err)
	}
	if !s.sup.Wants("X:BTC-USD") {
		t.Error("want-set missing subscribed ticker")
	}

	feeds, err := s.ListAvailable(context.Background())
	if err != nil || len(feeds) != 1 || feeds[0].ID != "X:BTC-USD" {
		t.Errorf("ListAvailable = %v, %v", feeds, err)
	}

	if err := s.Unsubscribe("X:BTC-USD"); err != nil {
		t.Fatalf("Unsubscribe: %v", err)
	}
	if s.sup.Wants("X:BTC-USD") {
		t.Error("want-set kept unsubscribed ticker")
	}
}
