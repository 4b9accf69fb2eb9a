package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream source metrics
	UpstreamTicks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_upstream_ticks_total",
			Help: "Total price ticks received by upstream source",
		},
		[]string{"source"},
	)

	UpstreamTicksDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_upstream_ticks_dropped_total",
			Help: "Total ticks dropped because the hand-off buffer was full",
		},
		[]string{"source"},
	)

	UpstreamConnections = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricefeed_upstream_connections",
			Help: "Whether the upstream connection is up (0 or 1)",
		},
		[]string{"source"},
	)

	UpstreamReconnects = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_upstream_reconnects_total",
			Help: "Total upstream reconnect attempts",
		},
		[]string{"source"},
	)

	UpstreamErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_upstream_errors_total",
			Help: "Total upstream errors by type",
		},
		[]string{"source", "error_type"},
	)

	// Bar aggregation metrics
	BarEvents = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_bar_events_total",
			Help: "Total bar events emitted by kind",
		},
		[]string{"kind"}, // new_bar, bar_update
	)

	BarProcessLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "pricefeed_bar_process_latency_ms",
			Help:    "Tick-to-bar processing latency in milliseconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 50, 100},
		},
	)

	// Combiner metrics
	CombinedPrices = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_combined_prices_total",
			Help: "Total aggregated prices produced by dominant source",
		},
		[]string{"dominant_source"},
	)

	// Client / hub metrics
	ConnectedClients = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "pricefeed_connected_clients",
			Help: "Number of connected websocket clients",
		},
	)

	ActiveSubscriptions = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "pricefeed_active_subscriptions",
			Help: "Number of active client subscriptions",
		},
		[]string{"type"}, // price, ohlc
	)

	ClientMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_client_messages_total",
			Help: "Total client control messages received by type",
		},
		[]string{"type"},
	)

	ClientSendFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "pricefeed_client_send_failures_total",
			Help: "Total messages dropped because a client send buffer was full",
		},
	)

	// Publishing metrics
	PublishSuccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_publish_success_total",
			Help: "Total successful Redis publishes",
		},
		[]string{"channel_type"}, // price, bar
	)

	PublishFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "pricefeed_publish_failures_total",
			Help: "Total failed Redis publishes",
		},
		[]string{"channel_type"},
	)
)

// TrackLatency observes elapsed time since start in milliseconds.
func TrackLatency(h prometheus.Histogram, start time.Time) {
	h.Observe(float64(time.Since(start).Microseconds()) / 1000.0)
}
