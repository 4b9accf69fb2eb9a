package pubsub

import (
	"context"
	"encoding/json"
	"fmt"

	"pricefeed-aggregator/internal/metrics"
	"pricefeed-aggregator/internal/models"

	"github.com/go-redis/redis/v8"
	"github.com/sirupsen/logrus"
)

// Publisher mirrors aggregated prices and confirmed bars onto Redis pub/sub
// channels for sidecar consumers. It is fire-and-forget: publish failures
// are counted, never retried.
type Publisher struct {
	client *redis.Client
	logger *logrus.Logger
}

func NewPublisher(client *redis.Client, logger *logrus.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishPrice publishes an aggregated price update.
func (p *Publisher) PublishPrice(ctx context.Context, price models.AggregatedPrice) error {
	data, err := json.Marshal(price)
	if err != nil {
		return err
	}

	channel := "pricefeed:price:" + price.FeedID
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues("price").Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues("price").Inc()
	return nil
}

// PublishBar publishes a confirmed bar.
func (p *Publisher) PublishBar(ctx context.Context, bar *models.Bar) error {
	data, err := json.Marshal(bar.ToResponse())
	if err != nil {
		return err
	}

	channel := fmt.Sprintf("pricefeed:bar:%s:%s", bar.FeedID, bar.Interval)
	if err := p.client.Publish(ctx, channel, data).Err(); err != nil {
		metrics.PublishFailures.WithLabelValues("bar").Inc()
		return err
	}
	metrics.PublishSuccess.WithLabelValues("bar").Inc()
	return nil
}
