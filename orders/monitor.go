package main

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// sagaMonitor periodically flags orders that have been waiting for a stock
// reservation reply for too long. It only warns: a stuck saga is resolved by
// the broker's retry/DLQ machinery or by an operator, never by a timer that
// could race a late reply.
type sagaMonitor struct {
	store     *PostgresStore
	logger    *zap.Logger
	threshold time.Duration
	interval  time.Duration
}

func newSagaMonitor(store *PostgresStore, logger *zap.Logger, threshold time.Duration) *sagaMonitor {
	return &sagaMonitor{
		store:     store,
		logger:    logger,
		threshold: threshold,
		interval:  30 * time.Second,
	}
}

func (m *sagaMonitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().Add(-m.threshold)
			ids, err := m.store.StuckReserving(ctx, cutoff)
			if err != nil {
				m.logger.Error("failed to check for stuck reservations", zap.Error(err))
				continue
			}
			for _, id := range ids {
				m.logger.Warn("order waiting on stock reservation reply",
					zap.String("order_id", id),
					zap.Duration("threshold", m.threshold),
				)
			}
		}
	}
}
