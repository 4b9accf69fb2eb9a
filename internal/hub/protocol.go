package hub

import (
	"pricefeed-aggregator/internal/models"
)

// Client message types
const (
	msgSubscribe         = "subscribe"
	msgUnsubscribe       = "unsubscribe"
	msgSubscribeMultiple = "subscribe_multiple"
	msgGetAvailableFeeds = "get_available_feeds"
)

// Server message types
const (
	msgConnectionEstablished   = "connection_established"
	msgSubscriptionConfirmed   = "subscription_confirmed"
	msgUnsubscriptionConfirmed = "unsubscription_confirmed"
	msgAvailableFeeds          = "available_feeds"
	msgPriceUpdate             = "price_update"
	msgError                   = "error"
)

// ClientRequest is one inbound control message. subscribe_multiple carries
// nested subscribe items in Subscriptions.
type ClientRequest struct {
	Type          string          `json:"type"`
	FeedID        string          `json:"feed_id,omitempty"`
	Ticker        string          `json:"ticker,omitempty"`
	OHLC          bool            `json:"ohlc,omitempty"`
	Intervals     []string        `json:"intervals,omitempty"`
	Subscriptions []ClientRequest `json:"subscriptions,omitempty"`
}

type connectionEstablishedMsg struct {
	Type     string `json:"type"`
	ClientID string `json:"client_id"`
	Message  string `json:"message"`
}

type subscriptionConfirmedMsg struct {
	Type           string                           `json:"type"`
	FeedID         string                           `json:"feed_id"`
	Ticker         string                           `json:"ticker,omitempty"`
	OHLC           bool                             `json:"ohlc"`
	Intervals      []string                         `json:"intervals,omitempty"`
	HistoricalData map[string][]*models.BarResponse `json:"historical_data,omitempty"`
}

type unsubscriptionConfirmedMsg struct {
	Type      string   `json:"type"`
	FeedID    string   `json:"feed_id"`
	Intervals []string `json:"intervals,omitempty"`
}

type priceUpdateMsg struct {
	Type string                 `json:"type"`
	Data models.AggregatedPrice `json:"data"`
}

type barMsg struct {
	Type string              `json:"type"` // new_bar or bar_update
	Data *models.BarResponse `json:"data"`
}

type errorMsg struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

// FeedDescriptor describes one feed in an available_feeds response.
type FeedDescriptor struct {
	ID            string `json:"id"`
	Symbol        string `json:"symbol,omitempty"`
	Ticker        string `json:"ticker,omitempty"`
	HasStreamData bool   `json:"has_stream_data"`
}

type availableFeedsMsg struct {
	Type  string           `json:"type"`
	Feeds []FeedDescriptor `json:"feeds"`
}
