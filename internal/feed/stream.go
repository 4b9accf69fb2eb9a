package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"
)

const (
	streamHandshakeTimeout = 15 * time.Second
	streamAuthTimeout      = 10 * time.Second
	streamPingInterval     = 30 * time.Second
	streamWriteTimeout     = 10 * time.Second

	// Event types on the crypto stream.
	streamEventAggregate       = "XA"  // per-second aggregate
	streamEventAggregateMinute = "XAS" // per-minute aggregate
	streamEventTrade           = "XT"
	streamEventBook            = "XL2"
	streamEventStatus          = "status"
)

// CryptoStreamSource consumes the websocket crypto aggregate stream. The
// upstream speaks an in-band control protocol: authenticate once after
// connect, then subscribe and unsubscribe by sending action messages on the
// live connection. Subscription changes never force a reconnect.
type CryptoStreamSource struct {
	cfg     config.StreamConfig
	logger  *logrus.Logger
	sup     *Supervisor
	limiter *rate.Limiter

	mu        sync.Mutex
	conn      *websocket.Conn
	writeMu   sync.Mutex
	listeners []TickListener

	ticks chan models.PriceTick
	quit  chan struct{}
	wg    sync.WaitGroup
}

func NewCryptoStreamSource(cfg config.StreamConfig, logger *logrus.Logger) *CryptoStreamSource {
	s := &CryptoStreamSource{
		cfg:     cfg,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Limit(cfg.SubscribeRate), cfg.SubscribeBurst),
		ticks:   make(chan models.PriceTick, cfg.TickBuffer),
		quit:    make(chan struct{}),
	}
	s.sup = NewSupervisor(models.SourceStream, (*streamTransport)(s), cfg.ReconnectDelay, false, logger)
	return s
}

func (s *CryptoStreamSource) Name() string { return models.SourceStream }

func (s *CryptoStreamSource) Start() {
	s.wg.Add(1)
	go s.dispatchLoop()
	s.sup.Start()
	s.logger.Info("🚀 Crypto stream source started")
}

func (s *CryptoStreamSource) Stop() {
	s.sup.Shutdown()
	close(s.quit)
	s.wg.Wait()
	s.logger.Info("✅ Crypto stream source stopped")
}

// Subscribe adds a ticker to the want-set. On a live connection the
// subscribe message goes out in-band; otherwise Dial sends it on the next
// connect.
func (s *CryptoStreamSource) Subscribe(ticker string) error {
	if !s.sup.Subscribe(ticker) {
		return nil
	}
	s.logger.WithField("ticker", ticker).Debug("Stream ticker subscribed")

	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.sendAction(conn, "subscribe", []string{ticker})
}

// Unsubscribe removes a ticker from the want-set, telling the upstream
// in-band when connected. Removing the last ticker closes the connection.
func (s *CryptoStreamSource) Unsubscribe(ticker string) error {
	if !s.sup.Unsubscribe(ticker) {
		return nil
	}
	s.logger.WithField("ticker", ticker).Debug("Stream ticker unsubscribed")

	if s.sup.wantCount() == 0 {
		// Supervisor tears the connection down; nothing to send.
		return nil
	}
	s.mu.Lock()
	conn := s.conn
	s.mu.Unlock()
	if conn == nil {
		return nil
	}
	return s.sendAction(conn, "unsubscribe", []string{ticker})
}

func (s *CryptoStreamSource) RegisterTickListener(fn TickListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ListAvailable returns the tickers currently in the want-set; the stream
// upstream has no metadata endpoint worth proxying.
func (s *CryptoStreamSource) ListAvailable(ctx context.Context) ([]FeedInfo, error) {
	wanted := s.sup.WantSet()
	feeds := make([]FeedInfo, 0, len(wanted))
	for _, ticker := range wanted {
		feeds = append(feeds, FeedInfo{ID: ticker})
	}
	return feeds, nil
}

// sendAction writes a control message, rate limited so subscription churn
// cannot flood the upstream.
func (s *CryptoStreamSource) sendAction(conn *websocket.Conn, action string, tickers []string) error {
	params := make([]string, 0, len(tickers))
	for _, t := range tickers {
		params = append(params, streamEventAggregate+"."+t)
	}

	ctx, cancel := context.WithTimeout(context.Background(), streamWriteTimeout)
	defer cancel()
	if err := s.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait for %s: %w", action, err)
	}

	msg := map[string]string{
		"action": action,
		"params": strings.Join(params, ","),
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(msg); err != nil {
		metrics.UpstreamErrors.WithLabelValues(models.SourceStream, "write").Inc()
		return fmt.Errorf("failed to send %s: %w", action, err)
	}
	return nil
}

func (s *CryptoStreamSource) dispatchLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.quit:
			return
		case tick := <-s.ticks:
			s.mu.Lock()
			listeners := make([]TickListener, len(s.listeners))
			copy(listeners, s.listeners)
			s.mu.Unlock()
			for _, fn := range listeners {
				fn(tick)
			}
		}
	}
}

func (s *CryptoStreamSource) enqueue(tick models.PriceTick) {
	select {
	case s.ticks <- tick:
	default:
		metrics.UpstreamTicksDropped.WithLabelValues(models.SourceStream).Inc()
		s.logger.WithField("ticker", tick.FeedID).Warn("Stream tick buffer full, dropping tick")
	}
}

// streamTransport is the Supervisor-facing connection half of
// CryptoStreamSource.
type streamTransport CryptoStreamSource

type streamFrame struct {
	Event   string  `json:"ev"`
	Status  string  `json:"status"`
	Message string  `json:"message"`
	Pair    string  `json:"pair"`
	Open    float64 `json:"o"`
	High    float64 `json:"h"`
	Low     float64 `json:"l"`
	Close   float64 `json:"c"`
	Volume  float64 `json:"v"`
	Start   int64   `json:"s"` // window start, ms
	End     int64   `json:"e"` // window end, ms
}

func (t *streamTransport) Dial(ctx context.Context, wanted []string) error {
	dialer := websocket.Dialer{HandshakeTimeout: streamHandshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, t.cfg.URL, nil)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(models.SourceStream, "dial").Inc()
		return fmt.Errorf("failed to dial stream: %w", err)
	}

	if err := t.authenticate(conn); err != nil {
		conn.Close()
		metrics.UpstreamErrors.WithLabelValues(models.SourceStream, "auth").Inc()
		return err
	}

	t.mu.Lock()
	t.conn = conn
	t.mu.Unlock()

	// Re-establish the whole want-set in one control message.
	if len(wanted) > 0 {
		if err := (*CryptoStreamSource)(t).sendAction(conn, "subscribe", wanted); err != nil {
			return err
		}
	}
	return nil
}

// authenticate performs the auth handshake: send the API key, then require
// a "connected" status frame before anything else goes out.
func (t *streamTransport) authenticate(conn *websocket.Conn) error {
	conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout))
	if err := conn.WriteJSON(map[string]string{"action": "auth", "params": t.cfg.APIKey}); err != nil {
		return fmt.Errorf("failed to send auth: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(streamAuthTimeout))
	defer conn.SetReadDeadline(time.Time{})

	var frames []streamFrame
	if err := conn.ReadJSON(&frames); err != nil {
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	if len(frames) == 0 || frames[0].Status != "connected" {
		return fmt.Errorf("unexpected auth response: %+v", frames)
	}
	return nil
}

func (t *streamTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	conn := t.conn
	t.mu.Unlock()
	if conn == nil {
		return fmt.Errorf("stream not connected")
	}

	// Unblock the read loop when the supervisor cancels us.
	go func() {
		<-ctx.Done()
		conn.Close()
	}()

	pingDone := make(chan struct{})
	defer close(pingDone)
	go t.pingLoop(conn, pingDone)

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return fmt.Errorf("stream read failed: %w", err)
		}
		t.handleFrames(raw)
	}
}

func (t *streamTransport) pingLoop(conn *websocket.Conn, done chan struct{}) {
	ticker := time.NewTicker(streamPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			t.writeMu.Lock()
			err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(streamWriteTimeout))
			t.writeMu.Unlock()
			if err != nil {
				return
			}
		}
	}
}

func (t *streamTransport) Close() {
	t.mu.Lock()
	conn := t.conn
	t.conn = nil
	t.mu.Unlock()
	if conn != nil {
		conn.Close()
	}
}

// handleFrames processes one websocket message, which carries a JSON array
// of event frames. Aggregate frames become ticks; trade and book frames are
// skipped; status frames are logged.
func (t *streamTransport) handleFrames(raw []byte) {
	var frames []streamFrame
	if err := json.Unmarshal(raw, &frames); err != nil {
		metrics.UpstreamErrors.WithLabelValues(models.SourceStream, "parse").Inc()
		t.logger.WithError(err).Debug("Skipping unparsable stream message")
		return
	}

	now := time.Now()
	for _, frame := range frames {
		switch frame.Event {
		case streamEventAggregate, streamEventAggregateMinute:
			t.handleAggregate(frame, now)
		case streamEventTrade, streamEventBook:
			// High-volume events we never subscribe to; ignore quietly.
		case streamEventStatus:
			t.logger.WithFields(logrus.Fields{
				"status":  frame.Status,
				"message": frame.Message,
			}).Debug("Stream status")
		default:
			t.logger.WithField("event", frame.Event).Debug("Ignoring unknown stream event")
		}
	}
}

func (t *streamTransport) handleAggregate(frame streamFrame, now time.Time) {
	if frame.Pair == "" || frame.Close == 0 {
		return
	}

	ticker := "X:" + frame.Pair
	price := decimal.NewFromFloat(frame.Close)

	metrics.UpstreamTicks.WithLabelValues(models.SourceStream).Inc()
	(*CryptoStreamSource)(t).enqueue(models.PriceTick{
		FeedID:      ticker,
		Price:       price.CoefficientInt64(),
		Expo:        price.Exponent(),
		Status:      models.StatusTrading,
		PublishTime: time.UnixMilli(frame.End),
		ReceivedAt:  now,
		Source:      models.SourceStream,
	})
}
