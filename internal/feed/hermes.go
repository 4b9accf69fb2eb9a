package feed

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"pricefeed-aggregator/internal/config"
	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"
)

// HermesSource streams price updates from the Hermes SSE endpoint. The
// endpoint has no in-band subscription protocol: the subscribed ids ride in
// the connection URL, so every want-set change reconnects with a fresh URL.
type HermesSource struct {
	cfg        config.HermesConfig
	logger     *logrus.Logger
	httpClient *http.Client
	sup        *Supervisor

	mu        sync.Mutex
	listeners []TickListener
	resp      *http.Response

	ticks chan models.PriceTick
	quit  chan struct{}
	wg    sync.WaitGroup
}

func NewHermesSource(cfg config.HermesConfig, logger *logrus.Logger) *HermesSource {
	s := &HermesSource{
		cfg:    cfg,
		logger: logger,
		httpClient: &http.Client{
			// No overall timeout: the SSE response body is read forever.
			Timeout: 0,
		},
		ticks: make(chan models.PriceTick, cfg.TickBuffer),
		quit:  make(chan struct{}),
	}
	s.sup = NewSupervisor(models.SourceHermes, (*hermesTransport)(s), cfg.ReconnectDelay, true, logger)
	return s
}

func (s *HermesSource) Name() string { return models.SourceHermes }

func (s *HermesSource) Start() {
	s.wg.Add(1)
	go s.dispatchLoop()
	s.sup.Start()
	s.logger.Info("🚀 Hermes source started")
}

func (s *HermesSource) Stop() {
	s.sup.Shutdown()
	close(s.quit)
	s.wg.Wait()
	s.logger.Info("✅ Hermes source stopped")
}

func (s *HermesSource) Subscribe(id string) error {
	if s.sup.Subscribe(id) {
		s.logger.WithField("feed_id", id).Debug("Hermes feed subscribed")
	}
	return nil
}

func (s *HermesSource) Unsubscribe(id string) error {
	if s.sup.Unsubscribe(id) {
		s.logger.WithField("feed_id", id).Debug("Hermes feed unsubscribed")
	}
	return nil
}

func (s *HermesSource) RegisterTickListener(fn TickListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, fn)
}

// ListAvailable fetches feed metadata from the Hermes REST API.
func (s *HermesSource) ListAvailable(ctx context.Context) ([]FeedInfo, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.cfg.APIURL+"/price_feeds", nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch feed list: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("feed list request returned status %d", resp.StatusCode)
	}

	var raw []struct {
		ID         string            `json:"id"`
		Attributes map[string]string `json:"attributes"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&raw); err != nil {
		return nil, fmt.Errorf("failed to decode feed list: %w", err)
	}

	feeds := make([]FeedInfo, 0, len(raw))
	for _, f := range raw {
		feeds = append(feeds, FeedInfo{
			ID:     f.ID,
			Symbol: f.Attributes["display_symbol"],
		})
	}
	return feeds, nil
}

func (s *HermesSource) dispatchLoop() {
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

func (s *HermesSource) enqueue(tick models.PriceTick) {
	select {
	case s.ticks <- tick:
	default:
		metrics.UpstreamTicksDropped.WithLabelValues(models.SourceHermes).Inc()
		s.logger.WithField("feed_id", tick.FeedID).Warn("Hermes tick buffer full, dropping tick")
	}
}

// hermesTransport is the Supervisor-facing connection half of HermesSource.
type hermesTransport HermesSource

func (t *hermesTransport) streamURL(wanted []string) string {
	q := url.Values{}
	for _, id := range wanted {
		q.Add("ids[]", id)
	}
	q.Set("parsed", "true")
	return t.cfg.StreamURL + "?" + q.Encode()
}

func (t *hermesTransport) Dial(ctx context.Context, wanted []string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, t.streamURL(wanted), nil)
	if err != nil {
		return err
	}
	req.Header.Set("Accept", "text/event-stream")

	resp, err := t.httpClient.Do(req)
	if err != nil {
		metrics.UpstreamErrors.WithLabelValues(models.SourceHermes, "dial").Inc()
		return fmt.Errorf("failed to open price stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		metrics.UpstreamErrors.WithLabelValues(models.SourceHermes, "status").Inc()
		return fmt.Errorf("price stream returned status %d", resp.StatusCode)
	}

	t.mu.Lock()
	t.resp = resp
	t.mu.Unlock()
	return nil
}

func (t *hermesTransport) Run(ctx context.Context) error {
	t.mu.Lock()
	resp := t.resp
	t.mu.Unlock()
	if resp == nil {
		return fmt.Errorf("stream not connected")
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), 1024*1024)

	for scanner.Scan() {
		line := scanner.Text()
		if !strings.HasPrefix(line, "data:") {
			continue
		}
		payload := strings.TrimSpace(strings.TrimPrefix(line, "data:"))
		if payload == "" {
			continue
		}
		t.handleEvent([]byte(payload))
	}

	if err := ctx.Err(); err != nil {
		return err
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("price stream read failed: %w", err)
	}
	return fmt.Errorf("price stream closed by server")
}

func (t *hermesTransport) Close() {
	t.mu.Lock()
	resp := t.resp
	t.resp = nil
	t.mu.Unlock()
	if resp != nil {
		resp.Body.Close()
	}
}

type hermesPriceUpdate struct {
	ID    string `json:"id"`
	Price struct {
		Price       string `json:"price"`
		Conf        string `json:"conf"`
		Expo        int32  `json:"expo"`
		PublishTime int64  `json:"publish_time"`
	} `json:"price"`
	Metadata struct {
		Status string `json:"status"`
	} `json:"metadata"`
}

// handleEvent parses one SSE data payload. Unparsable events and events
// missing required fields are logged and skipped; the stream keeps going.
func (t *hermesTransport) handleEvent(payload []byte) {
	var event struct {
		Parsed []hermesPriceUpdate `json:"parsed"`
	}
	if err := json.Unmarshal(payload, &event); err != nil {
		metrics.UpstreamErrors.WithLabelValues(models.SourceHermes, "parse").Inc()
		t.logger.WithError(err).Debug("Skipping unparsable stream event")
		return
	}

	now := time.Now()
	for _, update := range event.Parsed {
		// Updates for ids removed from the want-set can still arrive
		// until the reconnect lands.
		if !t.sup.Wants(update.ID) {
			continue
		}
		price, err := strconv.ParseInt(update.Price.Price, 10, 64)
		if err != nil {
			metrics.UpstreamErrors.WithLabelValues(models.SourceHermes, "parse").Inc()
			t.logger.WithField("feed_id", update.ID).Debug("Skipping update with bad price field")
			continue
		}
		conf, _ := strconv.ParseInt(update.Price.Conf, 10, 64)

		metrics.UpstreamTicks.WithLabelValues(models.SourceHermes).Inc()
		(*HermesSource)(t).enqueue(models.PriceTick{
			FeedID:      update.ID,
			Price:       price,
			Conf:        conf,
			Expo:        update.Price.Expo,
			Status:      models.ParseStatus(update.Metadata.Status),
			PublishTime: time.Unix(update.Price.PublishTime, 0),
			ReceivedAt:  now,
			Source:      models.SourceHermes,
		})
	}
}
