package combiner

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"
)

// Combiner blends the latest tick from each upstream source into a single
// price per symbol. Source weights are normalized so partial configuration
// still sums to one; ticks older than MaxAge are excluded from the blend.
type Combiner struct {
	logger       *logrus.Logger
	maxAge       time.Duration
	hermesWeight decimal.Decimal
	streamWeight decimal.Decimal

	mu     sync.Mutex
	hermes map[string]models.PriceTick // symbol -> latest hermes tick
	stream map[string]models.PriceTick // symbol -> latest stream tick
}

func New(cfg config.CombinerConfig, logger *logrus.Logger) *Combiner {
	wh := decimal.NewFromFloat(cfg.HermesWeight)
	ws := decimal.NewFromFloat(cfg.StreamWeight)
	if wh.IsNegative() {
		wh = decimal.Zero
	}
	if ws.IsNegative() {
		ws = decimal.Zero
	}
	total := wh.Add(ws)
	if total.IsZero() {
		wh = decimal.NewFromFloat(0.6)
		ws = decimal.NewFromFloat(0.4)
		total = wh.Add(ws)
	}

	logger.WithFields(logrus.Fields{
		"hermes_weight": wh.Div(total).String(),
		"stream_weight": ws.Div(total).String(),
	}).Info("Price combiner weights")

	return &Combiner{
		logger:       logger,
		maxAge:       cfg.MaxAge,
		hermesWeight: wh.Div(total),
		streamWeight: ws.Div(total),
		hermes:       make(map[string]models.PriceTick),
		stream:       make(map[string]models.PriceTick),
	}
}

// Update records a tick and returns the freshly blended price for the
// symbol. ok is false when no source has fresh data, which only happens for
// ticks that are already older than MaxAge on arrival.
func (c *Combiner) Update(symbol string, tick models.PriceTick) (models.AggregatedPrice, bool) {
	c.mu.Lock()
	switch tick.Source {
	case models.SourceHermes:
		c.hermes[symbol] = tick
	case models.SourceStream:
		c.stream[symbol] = tick
	default:
		c.mu.Unlock()
		return models.AggregatedPrice{}, false
	}
	c.mu.Unlock()

	return c.Combine(symbol, time.Now())
}

// HasHermes reports whether a fresh primary-source tick exists for symbol.
func (c *Combiner) HasHermes(symbol string, now time.Time) bool {
	c.mu.Lock()
	tick, ok := c.hermes[symbol]
	c.mu.Unlock()
	return ok && c.fresh(tick, now)
}

// Combine builds the blended price for a symbol from whatever fresh source
// data exists at time now.
func (c *Combiner) Combine(symbol string, now time.Time) (models.AggregatedPrice, bool) {
	c.mu.Lock()
	hermesTick, hasHermes := c.hermes[symbol]
	streamTick, hasStream := c.stream[symbol]
	c.mu.Unlock()

	hasHermes = hasHermes && c.fresh(hermesTick, now)
	hasStream = hasStream && c.fresh(streamTick, now)

	switch {
	case hasHermes && hasStream:
		return c.blend(symbol, hermesTick, streamTick), true
	case hasHermes:
		return c.single(symbol, hermesTick), true
	case hasStream:
		return c.single(symbol, streamTick), true
	default:
		return models.AggregatedPrice{}, false
	}
}

func (c *Combiner) fresh(tick models.PriceTick, now time.Time) bool {
	return now.Sub(tick.PublishTime) <= c.maxAge
}

func (c *Combiner) blend(symbol string, hermesTick, streamTick models.PriceTick) models.AggregatedPrice {
	hermesPrice := hermesTick.DecimalPrice()
	streamPrice := streamTick.DecimalPrice()
	price := hermesPrice.Mul(c.hermesWeight).Add(streamPrice.Mul(c.streamWeight))

	// The newer publish time wins, whichever source it came from.
	ts := hermesTick.PublishTime
	if streamTick.PublishTime.After(ts) {
		ts = streamTick.PublishTime
	}

	// Ties favor the primary source.
	dominant := models.SourceHermes
	if c.streamWeight.GreaterThan(c.hermesWeight) {
		dominant = models.SourceStream
	}
	metrics.CombinedPrices.WithLabelValues(dominant).Inc()

	agg := models.AggregatedPrice{
		FeedID:         hermesTick.FeedID,
		Symbol:         symbol,
		Price:          price,
		Timestamp:      ts,
		Source:         models.SourceAggregated,
		DominantSource: dominant,
		Hermes:         snapshot(hermesTick),
		Stream:         snapshot(streamTick),
	}
	// Only the primary source reports confidence; the blend carries it
	// through unweighted.
	if conf, ok := hermesTick.DecimalConf(); ok {
		agg.Conf = &conf
	}
	return agg
}

func (c *Combiner) single(symbol string, tick models.PriceTick) models.AggregatedPrice {
	metrics.CombinedPrices.WithLabelValues(tick.Source).Inc()

	agg := models.AggregatedPrice{
		FeedID:         tick.FeedID,
		Symbol:         symbol,
		Price:          tick.DecimalPrice(),
		Timestamp:      tick.PublishTime,
		Source:         models.SourceAggregated,
		DominantSource: tick.Source,
	}
	if conf, ok := tick.DecimalConf(); ok {
		agg.Conf = &conf
	}
	snap := snapshot(tick)
	switch tick.Source {
	case models.SourceHermes:
		agg.Hermes = snap
	case models.SourceStream:
		agg.Stream = snap
	}
	return agg
}

func snapshot(tick models.PriceTick) *models.SourceSnapshot {
	snap := &models.SourceSnapshot{
		Source:    tick.Source,
		Price:     tick.DecimalPrice(),
		Status:    tick.Status,
		Timestamp: tick.PublishTime,
	}
	if conf, ok := tick.DecimalConf(); ok {
		snap.Conf = &conf
	}
	return snap
}
