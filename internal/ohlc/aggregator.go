package ohlc

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"
)

// EventKind distinguishes bar lifecycle events.
type EventKind string

const (
	EventNewBar    EventKind = "new_bar"
	EventBarUpdate EventKind = "bar_update"
)

// Event is one bar change plus the clients interested in it at emit time.
type Event struct {
	Bar     models.Bar
	Kind    EventKind
	Clients []string
}

// Listener receives bar events. Called outside the aggregator lock.
type Listener func(ev Event)

// Aggregator maintains OHLC bars for every (feed, interval) pair it has seen
// ticks for. Bars are kept in per-pair history slices, newest last; only the
// newest bar of a pair is ever open. A background sweep confirms bars whose
// bucket has elapsed without a following tick.
type Aggregator struct {
	cfg    config.BarsConfig
	logger *logrus.Logger

	mu       sync.Mutex
	bars     map[string]map[models.Interval][]*models.Bar
	interest map[string]map[string]map[models.Interval]struct{} // feed -> client -> intervals

	listenerMu sync.Mutex
	listeners  []Listener

	stop     chan struct{}
	done     chan struct{}
	stopOnce sync.Once
}

func NewAggregator(cfg config.BarsConfig, logger *logrus.Logger) *Aggregator {
	return &Aggregator{
		cfg:      cfg,
		logger:   logger,
		bars:     make(map[string]map[models.Interval][]*models.Bar),
		interest: make(map[string]map[string]map[models.Interval]struct{}),
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the expiry sweep.
func (a *Aggregator) Start() {
	go a.sweepLoop()
	a.logger.Info("🚀 Bar aggregator started")
}

// Stop halts the expiry sweep.
func (a *Aggregator) Stop() {
	a.stopOnce.Do(func() { close(a.stop) })
	<-a.done
	a.logger.Info("✅ Bar aggregator stopped")
}

// RegisterListener adds a bar event listener.
func (a *Aggregator) RegisterListener(fn Listener) {
	a.listenerMu.Lock()
	defer a.listenerMu.Unlock()
	a.listeners = append(a.listeners, fn)
}

// ProcessTick folds one tick into the bars of every interval for its feed.
func (a *Aggregator) ProcessTick(tick models.PriceTick, symbol string) {
	start := time.Now()
	price := tick.DecimalPrice()

	a.mu.Lock()
	var events []Event
	for _, interval := range models.ValidIntervals() {
		events = append(events, a.updateBar(tick.FeedID, symbol, interval, price, tick.PublishTime)...)
	}
	a.mu.Unlock()

	a.emit(events)
	metrics.TrackLatency(metrics.BarProcessLatency, start)
}

// updateBar advances one (feed, interval) pair for a tick. Caller holds a.mu.
func (a *Aggregator) updateBar(feedID, symbol string, interval models.Interval, price decimal.Decimal, ts time.Time) []Event {
	bucket := interval.Normalize(ts)

	byInterval, ok := a.bars[feedID]
	if !ok {
		byInterval = make(map[models.Interval][]*models.Bar)
		a.bars[feedID] = byInterval
	}
	hist := byInterval[interval]

	var events []Event
	if len(hist) > 0 {
		current := hist[len(hist)-1]
		switch {
		case current.BucketStart.Equal(bucket):
			if current.Confirmed {
				// The sweep already closed this bucket; a confirmed
				// bar never mutates.
				return nil
			}
			if current.ApplyPrice(price) {
				events = append(events, a.event(current, EventBarUpdate, feedID, interval))
			}
			return events
		case bucket.Before(current.BucketStart):
			// Out-of-order tick from before the open bar; bars never
			// move backwards.
			return nil
		default:
			if !current.Confirmed {
				current.Confirmed = true
				events = append(events, a.event(current, EventBarUpdate, feedID, interval))
			}
		}
	}

	bar := models.NewBar(feedID, symbol, interval, bucket, price)
	hist = append(hist, bar)
	if len(hist) > a.cfg.MaxHistory {
		hist = hist[len(hist)-a.cfg.MaxHistory:]
	}
	byInterval[interval] = hist
	events = append(events, a.event(bar, EventNewBar, feedID, interval))
	return events
}

// sweepLoop periodically confirms bars whose bucket has fully elapsed, so a
// quiet feed still gets its last bar closed.
func (a *Aggregator) sweepLoop() {
	defer close(a.done)
	ticker := time.NewTicker(a.cfg.SweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-a.stop:
			return
		case now := <-ticker.C:
			a.emit(a.sweepExpired(now))
		}
	}
}

// sweepExpired confirms every open bar whose bucket ended at or before now.
func (a *Aggregator) sweepExpired(now time.Time) []Event {
	a.mu.Lock()
	defer a.mu.Unlock()

	var events []Event
	for feedID, byInterval := range a.bars {
		for interval, hist := range byInterval {
			if len(hist) == 0 {
				continue
			}
			current := hist[len(hist)-1]
			if current.Confirmed || now.Before(current.BucketEnd) {
				continue
			}
			current.Confirmed = true
			events = append(events, a.event(current, EventBarUpdate, feedID, interval))
		}
	}
	return events
}

// event snapshots a bar and the clients interested in it. Caller holds a.mu.
func (a *Aggregator) event(bar *models.Bar, kind EventKind, feedID string, interval models.Interval) Event {
	var clients []string
	for clientID, intervals := range a.interest[feedID] {
		if _, ok := intervals[interval]; ok {
			clients = append(clients, clientID)
		}
	}
	return Event{Bar: *bar, Kind: kind, Clients: clients}
}

func (a *Aggregator) emit(events []Event) {
	if len(events) == 0 {
		return
	}
	a.listenerMu.Lock()
	listeners := make([]Listener, len(a.listeners))
	copy(listeners, a.listeners)
	a.listenerMu.Unlock()

	for _, ev := range events {
		metrics.BarEvents.WithLabelValues(string(ev.Kind)).Inc()
		for _, fn := range listeners {
			fn(ev)
		}
	}
}

// Subscribe records a client's interest in bar events for a feed.
func (a *Aggregator) Subscribe(clientID, feedID string, intervals []models.Interval) {
	a.mu.Lock()
	defer a.mu.Unlock()

	byClient, ok := a.interest[feedID]
	if !ok {
		byClient = make(map[string]map[models.Interval]struct{})
		a.interest[feedID] = byClient
	}
	set, ok := byClient[clientID]
	if !ok {
		set = make(map[models.Interval]struct{})
		byClient[clientID] = set
	}
	for _, iv := range intervals {
		set[iv] = struct{}{}
	}
}

// Unsubscribe removes a client's interest. A nil interval slice removes the
// whole feed; an empty feedID removes the client everywhere.
func (a *Aggregator) Unsubscribe(clientID, feedID string, intervals []models.Interval) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if feedID == "" {
		for feed, byClient := range a.interest {
			delete(byClient, clientID)
			if len(byClient) == 0 {
				delete(a.interest, feed)
			}
		}
		return
	}

	byClient, ok := a.interest[feedID]
	if !ok {
		return
	}
	if intervals == nil {
		delete(byClient, clientID)
	} else if set, ok := byClient[clientID]; ok {
		for _, iv := range intervals {
			delete(set, iv)
		}
		if len(set) == 0 {
			delete(byClient, clientID)
		}
	}
	if len(byClient) == 0 {
		delete(a.interest, feedID)
	}
}

// LatestBars returns up to limit bars for a pair, newest first.
func (a *Aggregator) LatestBars(feedID string, interval models.Interval, limit int) []models.Bar {
	a.mu.Lock()
	defer a.mu.Unlock()

	hist := a.bars[feedID][interval]
	if limit <= 0 || limit > len(hist) {
		limit = len(hist)
	}
	out := make([]models.Bar, 0, limit)
	for i := len(hist) - 1; i >= len(hist)-limit; i-- {
		out = append(out, *hist[i])
	}
	return out
}
