package progress

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const snapshotKeyPrefix = "lca:progress:"

// DefaultSnapshotTTL keeps finished filings visible for a day.
const DefaultSnapshotTTL = 24 * time.Hour

// RedisSnapshots persists the latest State per filing so progress survives a
// restart of the process that owns the tracker.
type RedisSnapshots struct {
	redis *redis.Client
	ttl   time.Duration
}

func NewRedisSnapshots(client *redis.Client, ttl time.Duration) *RedisSnapshots {
	if client == nil {
		panic("progress: redis client cannot be nil")
	}
	if ttl <= 0 {
		ttl = DefaultSnapshotTTL
	}
	return &RedisSnapshots{redis: client, ttl: ttl}
}

func (s *RedisSnapshots) OnStatusUpdate(ctx context.Context, ev Event) error {
	data, err := json.Marshal(ev.State)
	if err != nil {
		return fmt.Errorf("progress: marshal snapshot: %w", err)
	}
	if err := s.redis.Set(ctx, snapshotKey(ev.FilingID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("progress: store snapshot: %w", err)
	}
	return nil
}

// Load returns the last stored state for filingID.
func (s *RedisSnapshots) Load(ctx context.Context, filingID string) (State, bool, error) {
	raw, err := s.redis.Get(ctx, snapshotKey(filingID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return State{}, false, nil
	}
	if err != nil {
		return State{}, false, fmt.Errorf("progress: load snapshot: %w", err)
	}
	var st State
	if err := json.Unmarshal(raw, &st); err != nil {
		return State{}, false, fmt.Errorf("progress: decode snapshot: %w", err)
	}
	return st, true, nil
}

func snapshotKey(filingID string) string {
	return snapshotKeyPrefix + filingID
}
