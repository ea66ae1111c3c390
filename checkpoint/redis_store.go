package checkpoint

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/BaSui01/caseflow/config"
)

// RedisStore is a Redis-based implementation of Store.
// Suitable for distributed deployments where multiple orchestrator
// processes may resume the same run. Snapshot blobs live under string
// keys; a per-run sorted set indexes versions.
type RedisStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisStore creates a Redis-backed checkpoint store and verifies
// connectivity.
func NewRedisStore(cfg config.RedisConfig) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
		PoolSize: cfg.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	keyPrefix := cfg.KeyPrefix
	if keyPrefix == "" {
		keyPrefix = "caseflow:"
	}

	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
	}, nil
}

// NewRedisStoreWithClient wraps an existing client, used by tests.
func NewRedisStoreWithClient(client *redis.Client, keyPrefix string) *RedisStore {
	if keyPrefix == "" {
		keyPrefix = "caseflow:"
	}
	return &RedisStore{
		client:    client,
		keyPrefix: keyPrefix + "checkpoint:",
	}
}

// Close closes the store
func (s *RedisStore) Close() error {
	return s.client.Close()
}

// Ping checks if the store is healthy
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// snapshotKey returns the Redis key for a snapshot blob
func (s *RedisStore) snapshotKey(snapshotID string) string {
	return s.keyPrefix + "data:" + snapshotID
}

// runKey returns the Redis key for a run's version index
func (s *RedisStore) runKey(runID string) string {
	return s.keyPrefix + "run:" + runID
}

// Save persists a snapshot and indexes it under its run
func (s *RedisStore) Save(ctx context.Context, snapshot *Snapshot) error {
	data, err := json.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	pipe := s.client.Pipeline()
	pipe.Set(ctx, s.snapshotKey(snapshot.ID), data, 0)
	pipe.ZAdd(ctx, s.runKey(snapshot.RunID), redis.Z{
		Score:  float64(snapshot.Version),
		Member: snapshot.ID,
	})
	_, err = pipe.Exec(ctx)
	return err
}

// Load retrieves a snapshot by ID
func (s *RedisStore) Load(ctx context.Context, snapshotID string) (*Snapshot, error) {
	data, err := s.client.Get(ctx, s.snapshotKey(snapshotID)).Bytes()
	if err == redis.Nil {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}

	var snapshot Snapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// LoadLatest retrieves the highest-version snapshot for a run
func (s *RedisStore) LoadLatest(ctx context.Context, runID string) (*Snapshot, error) {
	ids, err := s.client.ZRevRange(ctx, s.runKey(runID), 0, 0).Result()
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, ErrNotFound
	}
	return s.Load(ctx, ids[0])
}

// List retrieves all snapshots for a run in version order
func (s *RedisStore) List(ctx context.Context, runID string) ([]*Snapshot, error) {
	ids, err := s.client.ZRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return nil, err
	}

	result := make([]*Snapshot, 0, len(ids))
	for _, id := range ids {
		snapshot, err := s.Load(ctx, id)
		if err != nil {
			continue
		}
		result = append(result, snapshot)
	}
	return result, nil
}

// Delete removes a single snapshot and its index entry
func (s *RedisStore) Delete(ctx context.Context, snapshotID string) error {
	snapshot, err := s.Load(ctx, snapshotID)
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	pipe.Del(ctx, s.snapshotKey(snapshotID))
	pipe.ZRem(ctx, s.runKey(snapshot.RunID), snapshotID)
	_, err = pipe.Exec(ctx)
	return err
}

// DeleteRun removes all snapshots for a run
func (s *RedisStore) DeleteRun(ctx context.Context, runID string) error {
	ids, err := s.client.ZRange(ctx, s.runKey(runID), 0, -1).Result()
	if err != nil {
		return err
	}

	pipe := s.client.Pipeline()
	for _, id := range ids {
		pipe.Del(ctx, s.snapshotKey(id))
	}
	pipe.Del(ctx, s.runKey(runID))
	_, err = pipe.Exec(ctx)
	return err
}

// Ensure RedisStore implements Store
var _ Store = (*RedisStore)(nil)
