package outbox

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/quickbite/delivery-microservices/common/metrics"
)

// PublishFunc delivers one event body to the broker under a routing key.
type PublishFunc func(ctx context.Context, routingKey string, body []byte) error

// PublisherConfig tunes the drain and cleanup cadences.
type PublisherConfig struct {
	DrainInterval   time.Duration
	BatchSize       int
	CleanupInterval time.Duration
	ProcessedTTL    time.Duration
	CleanupBatch    int
}

// DefaultPublisherConfig matches the design defaults: 5s drain of batches of
// 50, hourly cleanup of processed rows older than 24h in batches of 1000.
func DefaultPublisherConfig() PublisherConfig {
	return PublisherConfig{
		DrainInterval:   5 * time.Second,
		BatchSize:       50,
		CleanupInterval: time.Hour,
		ProcessedTTL:    24 * time.Hour,
		CleanupBatch:    1000,
	}
}

// Publisher periodically drains the outbox to the broker and cleans up
// processed rows. Broker failures never propagate anywhere: the row stays
// unprocessed and the next tick retries it.
type Publisher struct {
	store   *Store
	publish PublishFunc
	cfg     PublisherConfig
	logger  *zap.Logger
	metrics *metrics.EventMetrics
}

func NewPublisher(store *Store, publish PublishFunc, cfg PublisherConfig, logger *zap.Logger, m *metrics.EventMetrics) *Publisher {
	return &Publisher{
		store:   store,
		publish: publish,
		cfg:     cfg,
		logger:  logger,
		metrics: m,
	}
}

// Run blocks until ctx is cancelled, draining and cleaning on their tickers.
func (p *Publisher) Run(ctx context.Context) {
	drain := time.NewTicker(p.cfg.DrainInterval)
	defer drain.Stop()
	cleanup := time.NewTicker(p.cfg.CleanupInterval)
	defer cleanup.Stop()

	p.logger.Info("outbox publisher started",
		zap.Duration("drain_interval", p.cfg.DrainInterval),
		zap.Int("batch_size", p.cfg.BatchSize),
	)

	for {
		select {
		case <-ctx.Done():
			p.logger.Info("outbox publisher stopped")
			return
		case <-drain.C:
			p.Drain(ctx)
		case <-cleanup.C:
			p.Cleanup(ctx)
		}
	}
}

// Drain publishes one pending batch. A failure on one row does not block the
// remaining rows in the batch.
func (p *Publisher) Drain(ctx context.Context) {
	batch, err := p.store.FetchPendingBatch(ctx, p.cfg.BatchSize)
	if err != nil {
		p.logger.Error("failed to fetch pending outbox batch", zap.Error(err))
		return
	}
	if pending, err := p.store.CountPending(ctx); err == nil {
		p.metrics.SetOutboxPending(pending)
	}
	if len(batch) == 0 {
		return
	}

	for _, ev := range batch {
		if err := p.publish(ctx, ev.Type, ev.Payload); err != nil {
			// Leave the row untouched; the next tick retries it.
			p.logger.Error("failed to publish outbox event",
				zap.String("event_id", ev.ID.String()),
				zap.String("routing_key", ev.Type),
				zap.Error(err),
			)
			p.metrics.RecordPublished(ev.Type, "error")
			continue
		}
		if err := p.store.MarkProcessed(ctx, ev.ID); err != nil {
			// The event will be re-published next tick; consumers absorb the
			// duplicate through their idempotency keys.
			p.logger.Error("failed to mark outbox event processed",
				zap.String("event_id", ev.ID.String()),
				zap.Error(err),
			)
			continue
		}
		p.metrics.RecordPublished(ev.Type, "ok")
	}
}

// Cleanup deletes processed rows older than the TTL in one bounded batch.
func (p *Publisher) Cleanup(ctx context.Context) {
	cutoff := time.Now().UTC().Add(-p.cfg.ProcessedTTL)
	deleted, err := p.store.DeleteProcessedOlderThan(ctx, cutoff, p.cfg.CleanupBatch)
	if err != nil {
		p.logger.Error("outbox cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		p.logger.Info("outbox cleanup", zap.Int64("deleted", deleted))
	}
}
