package infra

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/cooptaylor1-rgb/Golf-Ryder-Cup-App-sub001/internal/domain"
)

// FeedTopic is the Kafka topic trip change events fan out on, keyed by trip
// id so one trip's events stay ordered within a partition.
const FeedTopic = "rydercup.trip.changed"

// FeedSource is the slice of the repository the publisher reads.
type FeedSource interface {
	UnpublishedFeed(ctx context.Context, limit int) ([]domain.ChangeEvent, error)
	MarkFeedPublished(ctx context.Context, seqs []int64) error
}

// FeedPublisher polls the durable change feed and publishes rows not yet
// fanned out to Kafka. Websocket subscribers never depend on this; it exists
// for downstream consumers (leaderboards, notifications).
type FeedPublisher struct {
	source    FeedSource
	producer  *KafkaProducer
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
}

// NewFeedPublisher creates a publisher polling every interval in batches of
// batchSize.
func NewFeedPublisher(source FeedSource, producer *KafkaProducer, interval time.Duration, batchSize int, logger *slog.Logger) *FeedPublisher {
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	if batchSize <= 0 {
		batchSize = 100
	}
	return &FeedPublisher{
		source:    source,
		producer:  producer,
		logger:    logger,
		interval:  interval,
		batchSize: batchSize,
	}
}

// Run polls until ctx is cancelled.
func (p *FeedPublisher) Run(ctx context.Context) {
	p.logger.Info("feed publisher started", "interval", p.interval, "batch_size", p.batchSize, "topic", FeedTopic)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("feed publisher stopped")
			return
		case <-ticker.C:
			if err := p.Poll(ctx); err != nil {
				p.logger.Error("feed poll error", "error", err)
			}
		}
	}
}

// Poll publishes one batch of unpublished feed rows. Rows that fail to
// publish stay unpublished and retry next tick; Kafka consumers must
// tolerate the resulting at-least-once delivery.
func (p *FeedPublisher) Poll(ctx context.Context) error {
	events, err := p.source.UnpublishedFeed(ctx, p.batchSize)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		return nil
	}

	published := make([]int64, 0, len(events))
	for _, ev := range events {
		msg, err := json.Marshal(ev)
		if err != nil {
			p.logger.Error("encode change event", "seq", ev.Seq, "error", err)
			continue
		}
		if err := p.producer.Publish(ctx, FeedTopic, []byte(ev.TripID.String()), msg); err != nil {
			p.logger.Error("kafka publish failed", "seq", ev.Seq, "error", err)
			break
		}
		published = append(published, ev.Seq)
	}
	if len(published) == 0 {
		return nil
	}
	if err := p.source.MarkFeedPublished(ctx, published); err != nil {
		return err
	}
	p.logger.Debug("feed batch published", "count", len(published))
	return nil
}
