package interaction

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

// HistoryStore is the append-only audit trail of resolved interactions.
type HistoryStore interface {
	Append(ctx context.Context, filingID string, rec Record) error
	List(ctx context.Context, filingID string) ([]Record, error)
}

// MemoryHistory keeps records in process.
type MemoryHistory struct {
	mu      sync.RWMutex
	records map[string][]Record
}

func NewMemoryHistory() *MemoryHistory {
	return &MemoryHistory{records: make(map[string][]Record)}
}

func (m *MemoryHistory) Append(_ context.Context, filingID string, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records[filingID] = append(m.records[filingID], rec)
	return nil
}

func (m *MemoryHistory) List(_ context.Context, filingID string) ([]Record, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return append([]Record{}, m.records[filingID]...), nil
}

const historyKeyPrefix = "lca:interaction_history:"

// RedisHistory stores one Redis list per filing. Records are never trimmed.
type RedisHistory struct {
	redis  *redis.Client
	tracer trace.Tracer
}

func NewRedisHistory(client *redis.Client) *RedisHistory {
	if client == nil {
		panic("interaction: redis client cannot be nil")
	}
	return &RedisHistory{
		redis:  client,
		tracer: otel.Tracer("lca.internal.interaction.history"),
	}
}

func (s *RedisHistory) Append(ctx context.Context, filingID string, rec Record) error {
	if filingID == "" {
		return errors.New("interaction: history filingID required")
	}
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("interaction: marshal history record: %w", err)
	}

	ctx, span := s.tracer.Start(ctx, "interaction.history.append")
	defer span.End()

	if err := s.redis.RPush(ctx, historyKey(filingID), data).Err(); err != nil {
		span.RecordError(err)
		return fmt.Errorf("interaction: append history: %w", err)
	}
	return nil
}

func (s *RedisHistory) List(ctx context.Context, filingID string) ([]Record, error) {
	if filingID == "" {
		return nil, errors.New("interaction: history filingID required")
	}

	ctx, span := s.tracer.Start(ctx, "interaction.history.list")
	defer span.End()

	raw, err := s.redis.LRange(ctx, historyKey(filingID), 0, -1).Result()
	if err != nil {
		span.RecordError(err)
		if errors.Is(err, redis.Nil) {
			return []Record{}, nil
		}
		return nil, fmt.Errorf("interaction: list history: %w", err)
	}

	out := make([]Record, 0, len(raw))
	for _, item := range raw {
		var rec Record
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			span.RecordError(err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

func historyKey(filingID string) string {
	return historyKeyPrefix + filingID
}
