package feed

import (
	"context"

	"pricefeed-aggregator/internal/models"
)

// TickListener receives normalized ticks from a source. Listeners must not
// block; slow consumers should buffer on their own side.
type TickListener func(tick models.PriceTick)

// FeedInfo describes one feed a source can serve.
type FeedInfo struct {
	ID     string `json:"id"`
	Symbol string `json:"symbol,omitempty"`
}

// Source is an upstream price feed. Subscribe and Unsubscribe manage the
// source's want-set; the source keeps its connection alive only while the
// want-set is non-empty.
type Source interface {
	Name() string
	Start()
	Stop()
	Subscribe(id string) error
	Unsubscribe(id string) error
	RegisterTickListener(fn TickListener)
	ListAvailable(ctx context.Context) ([]FeedInfo, error)
}
