package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// CachedSnapshotStore wraps the postgres snapshot store with a Redis
// cache-aside layer. The cache is best-effort: any Redis failure falls back
// to the database.
type CachedSnapshotStore struct {
	store  SnapshotStore
	client *redis.Client
	ttl    time.Duration
	logger *zap.Logger
}

func NewCachedSnapshotStore(store SnapshotStore, addr string, ttl time.Duration, logger *zap.Logger) (*CachedSnapshotStore, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to redis: %w", err)
	}

	return &CachedSnapshotStore{
		store:  store,
		client: client,
		ttl:    ttl,
		logger: logger,
	}, nil
}

func (s *CachedSnapshotStore) Close() error {
	return s.client.Close()
}

// Upsert writes through to the database and refreshes the cache entry.
func (s *CachedSnapshotStore) Upsert(ctx context.Context, snap *ProductSnapshot) error {
	if err := s.store.Upsert(ctx, snap); err != nil {
		return err
	}
	if err := s.set(ctx, snap); err != nil {
		s.logger.Warn("failed to refresh snapshot cache", zap.String("product_id", snap.ProductID), zap.Error(err))
	}
	return nil
}

// Delete removes the row and invalidates the cache entry.
func (s *CachedSnapshotStore) Delete(ctx context.Context, productID string) error {
	if err := s.store.Delete(ctx, productID); err != nil {
		return err
	}
	if err := s.client.Del(ctx, snapshotKey(productID)).Err(); err != nil {
		s.logger.Warn("failed to invalidate snapshot cache", zap.String("product_id", productID), zap.Error(err))
	}
	return nil
}

// FindAll reads through the cache with a batch MGET, querying the database
// only for misses and populating the cache on the way back.
func (s *CachedSnapshotStore) FindAll(ctx context.Context, ids []string) (map[string]*ProductSnapshot, error) {
	if len(ids) == 0 {
		return map[string]*ProductSnapshot{}, nil
	}

	out := make(map[string]*ProductSnapshot, len(ids))
	missed := ids

	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = snapshotKey(id)
	}
	results, err := s.client.MGet(ctx, keys...).Result()
	if err != nil {
		s.logger.Warn("snapshot cache read failed, querying database", zap.Error(err))
	} else {
		missed = make([]string, 0, len(ids))
		for i, result := range results {
			data, ok := result.(string)
			if !ok {
				missed = append(missed, ids[i])
				continue
			}
			var snap ProductSnapshot
			if err := json.Unmarshal([]byte(data), &snap); err != nil {
				missed = append(missed, ids[i])
				continue
			}
			out[ids[i]] = &snap
		}
	}

	if len(missed) == 0 {
		return out, nil
	}

	fromDB, err := s.store.FindAll(ctx, missed)
	if err != nil {
		return nil, err
	}
	for id, snap := range fromDB {
		out[id] = snap
		if err := s.set(ctx, snap); err != nil {
			s.logger.Warn("failed to populate snapshot cache", zap.String("product_id", id), zap.Error(err))
		}
	}
	return out, nil
}

func (s *CachedSnapshotStore) set(ctx context.Context, snap *ProductSnapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, snapshotKey(snap.ProductID), data, s.ttl).Err()
}

func snapshotKey(productID string) string {
	return "snapshot:" + productID
}
