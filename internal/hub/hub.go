package hub

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/combiner"
	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/feed"
	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"
	"pricefeed-aggregator/internal/ohlc"
	"pricefeed-aggregator/internal/pubsub"
	"pricefeed-aggregator/internal/symbols"
)

// Subscription is one client's interest in one feed.
type Subscription struct {
	FeedID    string
	Ticker    string
	OHLC      bool
	Intervals map[models.Interval]struct{}
}

// Hub fans prices and bars out to websocket clients and owns the
// reference-counted bridge to the upstream sources: the first subscriber of
// a feed triggers the upstream subscribe, the last one leaving triggers the
// unsubscribe. All refcount state shares one mutex; upstream calls happen
// outside it.
type Hub struct {
	cfg         config.HubConfig
	replayLimit int
	logger      *logrus.Logger

	hermes feed.Source
	stream feed.Source // nil when the socket source is not configured
	bars   *ohlc.Aggregator
	comb   *combiner.Combiner
	table  *symbols.Table
	pub    *pubsub.Publisher // nil when the Redis mirror is disabled

	upgrader websocket.Upgrader

	mu              sync.Mutex
	clients         map[string]*Client
	subs            map[string]map[string]*Subscription // clientID -> feedID -> sub
	feedSubscribers map[string]map[string]struct{}      // feedID -> clientIDs
	feedRefs        map[string]int
	tickerRefs      map[string]int
	tickerFeeds     map[string]map[string]struct{} // ticker -> bound feedIDs
}

func New(cfg *config.Config, hermes, stream feed.Source, bars *ohlc.Aggregator, comb *combiner.Combiner, table *symbols.Table, pub *pubsub.Publisher, logger *logrus.Logger) *Hub {
	return &Hub{
		cfg:         cfg.Hub,
		replayLimit: cfg.Bars.ReplayLimit,
		logger:      logger,
		hermes:      hermes,
		stream:      stream,
		bars:        bars,
		comb:        comb,
		table:       table,
		pub:         pub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		clients:         make(map[string]*Client),
		subs:            make(map[string]map[string]*Subscription),
		feedSubscribers: make(map[string]map[string]struct{}),
		feedRefs:        make(map[string]int),
		tickerRefs:      make(map[string]int),
		tickerFeeds:     make(map[string]map[string]struct{}),
	}
}

// Start wires the hub into the tick and bar pipelines.
func (h *Hub) Start() {
	h.hermes.RegisterTickListener(h.onTick)
	if h.stream != nil {
		h.stream.RegisterTickListener(h.onTick)
	}
	h.bars.RegisterListener(h.onBarEvent)
}

// ServeWS upgrades an HTTP request into a hub client connection.
func (h *Hub) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.WithError(err).Warn("Websocket upgrade failed")
		return
	}

	c := newClient(uuid.NewString(), h, conn, h.cfg.ClientSendBuffer)
	h.mu.Lock()
	h.clients[c.id] = c
	total := len(h.clients)
	h.mu.Unlock()
	metrics.ConnectedClients.Set(float64(total))
	h.logger.WithFields(logrus.Fields{
		"client_id": c.id,
		"clients":   total,
	}).Info("Client connected")

	go c.writePump()
	go c.readPump()

	c.enqueueJSON(connectionEstablishedMsg{
		Type:     msgConnectionEstablished,
		ClientID: c.id,
		Message:  "Connected to price feed aggregator",
	})
}

// Disconnect removes a client and releases every upstream reference it held.
// Safe to call more than once.
func (h *Hub) Disconnect(clientID string) {
	h.mu.Lock()
	c, ok := h.clients[clientID]
	if !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, clientID)
	total := len(h.clients)

	var releaseFeeds, releaseTickers []string
	for feedID, sub := range h.subs[clientID] {
		releaseFeeds, releaseTickers = h.releaseLocked(clientID, feedID, sub, releaseFeeds, releaseTickers)
	}
	delete(h.subs, clientID)
	h.mu.Unlock()

	c.close()
	metrics.ConnectedClients.Set(float64(total))
	h.bars.Unsubscribe(clientID, "", nil)
	for _, feedID := range releaseFeeds {
		h.hermes.Unsubscribe(feedID)
	}
	if h.stream != nil {
		for _, ticker := range releaseTickers {
			h.stream.Unsubscribe(ticker)
		}
	}
	h.logger.WithFields(logrus.Fields{
		"client_id": clientID,
		"clients":   total,
	}).Info("Client disconnected")
}

// releaseLocked drops one subscription's refcounts and appends any feed or
// ticker whose count hit zero. Caller holds h.mu.
func (h *Hub) releaseLocked(clientID, feedID string, sub *Subscription, feeds, tickers []string) ([]string, []string) {
	if set, ok := h.feedSubscribers[feedID]; ok {
		delete(set, clientID)
		if len(set) == 0 {
			delete(h.feedSubscribers, feedID)
		}
	}
	metrics.ActiveSubscriptions.WithLabelValues("price").Dec()
	if sub.OHLC {
		metrics.ActiveSubscriptions.WithLabelValues("ohlc").Dec()
	}

	h.feedRefs[feedID]--
	if h.feedRefs[feedID] <= 0 {
		delete(h.feedRefs, feedID)
		feeds = append(feeds, feedID)
	}

	if sub.Ticker != "" {
		h.tickerRefs[sub.Ticker]--
		if h.tickerRefs[sub.Ticker] <= 0 {
			delete(h.tickerRefs, sub.Ticker)
			tickers = append(tickers, sub.Ticker)
		}
		if h.feedRefs[feedID] <= 0 {
			if set, ok := h.tickerFeeds[sub.Ticker]; ok {
				delete(set, feedID)
				if len(set) == 0 {
					delete(h.tickerFeeds, sub.Ticker)
				}
			}
		}
	}
	return feeds, tickers
}

// handleMessage dispatches one inbound control message.
func (h *Hub) handleMessage(c *Client, raw []byte) {
	var req ClientRequest
	if err := json.Unmarshal(raw, &req); err != nil {
		h.sendError(c, "invalid JSON message")
		return
	}
	metrics.ClientMessages.WithLabelValues(req.Type).Inc()

	switch req.Type {
	case msgSubscribe:
		h.handleSubscribe(c, req)
	case msgUnsubscribe:
		h.handleUnsubscribe(c, req)
	case msgSubscribeMultiple:
		for _, item := range req.Subscriptions {
			h.handleSubscribe(c, item)
		}
	case msgGetAvailableFeeds:
		h.handleAvailableFeeds(c)
	default:
		h.sendError(c, "unknown message type: "+req.Type)
	}
}

func (h *Hub) handleSubscribe(c *Client, req ClientRequest) {
	if req.FeedID == "" {
		h.sendError(c, "feed_id is required")
		return
	}

	// Validate intervals before touching any state.
	intervals := make([]models.Interval, 0, len(req.Intervals))
	for _, raw := range req.Intervals {
		iv, ok := models.ParseInterval(raw)
		if !ok {
			h.sendError(c, "invalid interval: "+raw)
			return
		}
		intervals = append(intervals, iv)
	}
	if req.OHLC && len(intervals) == 0 {
		intervals = append(intervals, models.Interval1m)
	}

	ticker := req.Ticker
	if ticker == "" {
		if entry, ok := h.table.Lookup(req.FeedID); ok {
			ticker = entry.Ticker
		}
	}
	if h.stream == nil {
		ticker = ""
	}

	h.mu.Lock()
	if _, stillHere := h.clients[c.id]; !stillHere {
		h.mu.Unlock()
		return
	}

	byFeed, ok := h.subs[c.id]
	if !ok {
		byFeed = make(map[string]*Subscription)
		h.subs[c.id] = byFeed
	}

	sub, existing := byFeed[req.FeedID]
	subscribeFeed := false
	if !existing {
		sub = &Subscription{FeedID: req.FeedID, Intervals: make(map[models.Interval]struct{})}
		byFeed[req.FeedID] = sub

		set, ok := h.feedSubscribers[req.FeedID]
		if !ok {
			set = make(map[string]struct{})
			h.feedSubscribers[req.FeedID] = set
		}
		set[c.id] = struct{}{}

		subscribeFeed = h.feedRefs[req.FeedID] == 0
		h.feedRefs[req.FeedID]++
		metrics.ActiveSubscriptions.WithLabelValues("price").Inc()
	}

	subscribeTicker := ""
	if ticker != "" && sub.Ticker == "" {
		sub.Ticker = ticker
		if h.tickerRefs[ticker] == 0 {
			subscribeTicker = ticker
		}
		h.tickerRefs[ticker]++
		set, ok := h.tickerFeeds[ticker]
		if !ok {
			set = make(map[string]struct{})
			h.tickerFeeds[ticker] = set
		}
		set[req.FeedID] = struct{}{}
	}

	if req.OHLC {
		if !sub.OHLC {
			sub.OHLC = true
			metrics.ActiveSubscriptions.WithLabelValues("ohlc").Inc()
		}
		for _, iv := range intervals {
			sub.Intervals[iv] = struct{}{}
		}
		// Registered while holding h.mu: a concurrent Disconnect can only
		// run its bar cleanup after this, never before.
		h.bars.Subscribe(c.id, req.FeedID, intervals)
	}
	boundTicker := sub.Ticker
	h.mu.Unlock()

	if subscribeFeed {
		h.hermes.Subscribe(req.FeedID)
	}
	if subscribeTicker != "" {
		h.stream.Subscribe(subscribeTicker)
	}

	confirm := subscriptionConfirmedMsg{
		Type:   msgSubscriptionConfirmed,
		FeedID: req.FeedID,
		Ticker: boundTicker,
		OHLC:   req.OHLC,
	}
	if req.OHLC {
		confirm.HistoricalData = make(map[string][]*models.BarResponse, len(intervals))
		for _, iv := range intervals {
			confirm.Intervals = append(confirm.Intervals, string(iv))
			bars := h.bars.LatestBars(req.FeedID, iv, h.replayLimit)
			replay := make([]*models.BarResponse, 0, len(bars))
			for i := range bars {
				replay = append(replay, bars[i].ToResponse())
			}
			confirm.HistoricalData[string(iv)] = replay
		}
	}
	c.enqueueJSON(confirm)

	h.logger.WithFields(logrus.Fields{
		"client_id": c.id,
		"feed_id":   req.FeedID,
		"ohlc":      req.OHLC,
	}).Debug("Subscription added")
}

func (h *Hub) handleUnsubscribe(c *Client, req ClientRequest) {
	if req.FeedID == "" {
		h.sendError(c, "feed_id is required")
		return
	}

	intervals := make([]models.Interval, 0, len(req.Intervals))
	for _, raw := range req.Intervals {
		iv, ok := models.ParseInterval(raw)
		if !ok {
			h.sendError(c, "invalid interval: "+raw)
			return
		}
		intervals = append(intervals, iv)
	}

	h.mu.Lock()
	sub, ok := h.subs[c.id][req.FeedID]
	if !ok {
		h.mu.Unlock()
		h.sendError(c, "not subscribed to feed: "+req.FeedID)
		return
	}

	// Interval-scoped unsubscribe narrows OHLC interest and keeps the
	// subscription alive unless nothing remains.
	if len(intervals) > 0 {
		for _, iv := range intervals {
			delete(sub.Intervals, iv)
		}
		if len(sub.Intervals) > 0 {
			h.mu.Unlock()
			h.bars.Unsubscribe(c.id, req.FeedID, intervals)
			c.enqueueJSON(unsubscriptionConfirmedMsg{
				Type:      msgUnsubscriptionConfirmed,
				FeedID:    req.FeedID,
				Intervals: req.Intervals,
			})
			return
		}
	}

	delete(h.subs[c.id], req.FeedID)
	var releaseFeeds, releaseTickers []string
	releaseFeeds, releaseTickers = h.releaseLocked(c.id, req.FeedID, sub, releaseFeeds, releaseTickers)
	h.mu.Unlock()

	h.bars.Unsubscribe(c.id, req.FeedID, nil)
	for _, feedID := range releaseFeeds {
		h.hermes.Unsubscribe(feedID)
	}
	if h.stream != nil {
		for _, ticker := range releaseTickers {
			h.stream.Unsubscribe(ticker)
		}
	}

	c.enqueueJSON(unsubscriptionConfirmedMsg{
		Type:   msgUnsubscriptionConfirmed,
		FeedID: req.FeedID,
	})
	h.logger.WithFields(logrus.Fields{
		"client_id": c.id,
		"feed_id":   req.FeedID,
	}).Debug("Subscription removed")
}

func (h *Hub) handleAvailableFeeds(c *Client) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	feeds, err := h.hermes.ListAvailable(ctx)
	if err != nil {
		h.logger.WithError(err).Warn("Failed to fetch available feeds, serving configured table")
		msg := availableFeedsMsg{Type: msgAvailableFeeds}
		for _, e := range h.table.Entries() {
			msg.Feeds = append(msg.Feeds, FeedDescriptor{
				ID:            e.FeedID,
				Symbol:        e.Symbol,
				Ticker:        e.Ticker,
				HasStreamData: e.Ticker != "" && h.stream != nil,
			})
		}
		c.enqueueJSON(msg)
		return
	}

	msg := availableFeedsMsg{Type: msgAvailableFeeds, Feeds: make([]FeedDescriptor, 0, len(feeds))}
	for _, f := range feeds {
		desc := FeedDescriptor{ID: f.ID, Symbol: f.Symbol}
		if entry, ok := h.table.Lookup(f.ID); ok {
			if desc.Symbol == "" {
				desc.Symbol = entry.Symbol
			}
			desc.Ticker = entry.Ticker
			desc.HasStreamData = entry.Ticker != "" && h.stream != nil
		}
		msg.Feeds = append(msg.Feeds, desc)
	}
	c.enqueueJSON(msg)
}

// onTick is the single entry point from both upstream sources.
func (h *Hub) onTick(tick models.PriceTick) {
	switch tick.Source {
	case models.SourceHermes:
		h.onHermesTick(tick)
	case models.SourceStream:
		h.onStreamTick(tick)
	}
}

func (h *Hub) onHermesTick(tick models.PriceTick) {
	symbol := h.table.Symbol(tick.FeedID)
	tick.Symbol = symbol

	agg, ok := h.comb.Update(symbol, tick)
	h.bars.ProcessTick(tick, symbol)
	if !ok {
		return
	}
	agg.FeedID = tick.FeedID
	h.dispatchPrice(tick.FeedID, agg)
	h.publishPrice(agg)
}

// onStreamTick routes a socket-stream tick to every feed bound to its
// ticker. Stream data only reaches clients once the primary source has
// fresh data for the symbol; until then it just warms the combiner.
func (h *Hub) onStreamTick(tick models.PriceTick) {
	h.mu.Lock()
	bound := make([]string, 0, 1)
	for feedID := range h.tickerFeeds[tick.FeedID] {
		bound = append(bound, feedID)
	}
	h.mu.Unlock()

	now := time.Now()
	for _, feedID := range bound {
		symbol := h.table.Symbol(feedID)
		tick.Symbol = symbol
		agg, ok := h.comb.Update(symbol, tick)
		if !ok || !h.comb.HasHermes(symbol, now) {
			continue
		}
		agg.FeedID = feedID
		h.dispatchPrice(feedID, agg)
		h.publishPrice(agg)
	}
}

func (h *Hub) dispatchPrice(feedID string, agg models.AggregatedPrice) {
	h.mu.Lock()
	targets := make([]*Client, 0, len(h.feedSubscribers[feedID]))
	for clientID := range h.feedSubscribers[feedID] {
		if c, ok := h.clients[clientID]; ok {
			targets = append(targets, c)
		}
	}
	h.mu.Unlock()

	if len(targets) == 0 {
		return
	}
	msg := priceUpdateMsg{Type: msgPriceUpdate, Data: agg}
	for _, c := range targets {
		c.enqueueJSON(msg)
	}
}

func (h *Hub) onBarEvent(ev ohlc.Event) {
	if len(ev.Clients) > 0 {
		msg := barMsg{Type: string(ev.Kind), Data: ev.Bar.ToResponse()}
		h.mu.Lock()
		targets := make([]*Client, 0, len(ev.Clients))
		for _, clientID := range ev.Clients {
			if c, ok := h.clients[clientID]; ok {
				targets = append(targets, c)
			}
		}
		h.mu.Unlock()
		for _, c := range targets {
			c.enqueueJSON(msg)
		}
	}

	if h.pub != nil && ev.Bar.Confirmed {
		if err := h.pub.PublishBar(context.Background(), &ev.Bar); err != nil {
			h.logger.WithError(err).Debug("Failed to publish bar")
		}
	}
}

func (h *Hub) publishPrice(agg models.AggregatedPrice) {
	if h.pub == nil {
		return
	}
	if err := h.pub.PublishPrice(context.Background(), agg); err != nil {
		h.logger.WithError(err).Debug("Failed to publish price")
	}
}

func (h *Hub) sendError(c *Client, message string) {
	c.enqueueJSON(errorMsg{Type: msgError, Message: message})
}
