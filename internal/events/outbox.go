package events

import (
	"context"
	"encoding/json"
	"fmt"
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wolfman30/lca-filing-automation/pkg/logging"
)

// OutboxEntry is a filing status event waiting for delivery.
type OutboxEntry struct {
	ID        uuid.UUID
	FilingID  string
	Type      string
	Payload   json.RawMessage
	CreatedAt time.Time
	Attempts  int
}

// DeliveryHandler emits events to downstream transports.
type DeliveryHandler interface {
	Handle(ctx context.Context, entry OutboxEntry) error
}

// HandlerFunc adapts a function to DeliveryHandler.
type HandlerFunc func(ctx context.Context, entry OutboxEntry) error

func (f HandlerFunc) Handle(ctx context.Context, entry OutboxEntry) error { return f(ctx, entry) }

type outboxExec interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

// OutboxStore keeps filing status events in Postgres until a Deliverer has
// handed them on. Several API replicas may deliver from one table: entries
// are claimed under a lease so each is handled by one replica at a time.
type OutboxStore struct {
	pool outboxExec
}

func NewOutboxStore(pool *pgxpool.Pool) *OutboxStore {
	if pool == nil {
		panic("events: pgx pool required")
	}
	return &OutboxStore{pool: pool}
}

func newOutboxStoreWithExec(exec outboxExec) *OutboxStore {
	if exec == nil {
		panic("events: exec required")
	}
	return &OutboxStore{pool: exec}
}

func (s *OutboxStore) Insert(ctx context.Context, filingID string, eventType string, payload any) (uuid.UUID, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return uuid.Nil, fmt.Errorf("events: marshal payload: %w", err)
	}
	id := uuid.New()
	const query = `INSERT INTO outbox (id, filing_id, type, payload) VALUES ($1, $2, $3, $4)`
	if _, err := s.pool.Exec(ctx, query, id, filingID, eventType, data); err != nil {
		return uuid.Nil, fmt.Errorf("events: insert outbox: %w", err)
	}
	return id, nil
}

// Claim leases up to limit undelivered entries for lease. Entries that have
// failed maxAttempts times are left parked for inspection.
func (s *OutboxStore) Claim(ctx context.Context, limit int32, lease time.Duration, maxAttempts int) ([]OutboxEntry, error) {
	const query = `
		UPDATE outbox SET claimed_until = now() + make_interval(secs => $2)
		WHERE id IN (
			SELECT id FROM outbox
			WHERE delivered_at IS NULL
			  AND attempts < $3
			  AND (claimed_until IS NULL OR claimed_until < now())
			ORDER BY created_at
			LIMIT $1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, filing_id, type, payload, created_at, attempts
	`
	rows, err := s.pool.Query(ctx, query, limit, lease.Seconds(), maxAttempts)
	if err != nil {
		return nil, fmt.Errorf("events: claim outbox: %w", err)
	}
	defer rows.Close()

	var entries []OutboxEntry
	for rows.Next() {
		var (
			entry   OutboxEntry
			payload []byte
		)
		if err := rows.Scan(&entry.ID, &entry.FilingID, &entry.Type, &payload, &entry.CreatedAt, &entry.Attempts); err != nil {
			return nil, fmt.Errorf("events: scan outbox: %w", err)
		}
		entry.Payload = append([]byte(nil), payload...)
		entries = append(entries, entry)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("events: claim outbox: %w", err)
	}
	// RETURNING order is unspecified.
	slices.SortStableFunc(entries, func(a, b OutboxEntry) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return entries, nil
}

func (s *OutboxStore) MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error) {
	const query = `UPDATE outbox SET delivered_at = now(), claimed_until = NULL WHERE id = $1 AND delivered_at IS NULL`
	ct, err := s.pool.Exec(ctx, query, id)
	if err != nil {
		return false, fmt.Errorf("events: mark delivered: %w", err)
	}
	return ct.RowsAffected() == 1, nil
}

// MarkFailed records a failed delivery and releases the lease so the entry
// is retried on a later pass.
func (s *OutboxStore) MarkFailed(ctx context.Context, id uuid.UUID, cause error) error {
	const query = `UPDATE outbox SET attempts = attempts + 1, last_error = $2, claimed_until = NULL WHERE id = $1 AND delivered_at IS NULL`
	msg := ""
	if cause != nil {
		msg = cause.Error()
	}
	if _, err := s.pool.Exec(ctx, query, id, msg); err != nil {
		return fmt.Errorf("events: mark failed: %w", err)
	}
	return nil
}

type claimStore interface {
	Claim(ctx context.Context, limit int32, lease time.Duration, maxAttempts int) ([]OutboxEntry, error)
	MarkDelivered(ctx context.Context, id uuid.UUID) (bool, error)
	MarkFailed(ctx context.Context, id uuid.UUID, cause error) error
}

const (
	defaultOutboxBatch       = 25
	defaultOutboxInterval    = 2 * time.Second
	defaultOutboxLease       = time.Minute
	defaultOutboxMaxAttempts = 5
)

// Deliverer polls the outbox and hands each claimed entry to the handler.
type Deliverer struct {
	store       claimStore
	handler     DeliveryHandler
	logger      *logging.Logger
	batchSize   int32
	interval    time.Duration
	lease       time.Duration
	maxAttempts int
}

func NewDeliverer(store *OutboxStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	d := newDeliverer(nil, handler, logger)
	if store != nil {
		d.store = store
	}
	return d
}

func newDeliverer(store claimStore, handler DeliveryHandler, logger *logging.Logger) *Deliverer {
	if logger == nil {
		logger = logging.Default()
	}
	return &Deliverer{
		store:       store,
		handler:     handler,
		logger:      logger,
		batchSize:   defaultOutboxBatch,
		interval:    defaultOutboxInterval,
		lease:       defaultOutboxLease,
		maxAttempts: defaultOutboxMaxAttempts,
	}
}

func (d *Deliverer) WithBatchSize(size int32) *Deliverer {
	if size > 0 {
		d.batchSize = size
	}
	return d
}

func (d *Deliverer) WithInterval(interval time.Duration) *Deliverer {
	if interval > 0 {
		d.interval = interval
	}
	return d
}

// WithMaxAttempts sets how many failed deliveries park an entry.
func (d *Deliverer) WithMaxAttempts(n int) *Deliverer {
	if n > 0 {
		d.maxAttempts = n
	}
	return d
}

// Start drains the outbox every interval until ctx is done.
func (d *Deliverer) Start(ctx context.Context) {
	if d.store == nil || d.handler == nil {
		return
	}
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			d.drain(ctx)
		}
	}
}

func (d *Deliverer) drain(ctx context.Context) int {
	entries, err := d.store.Claim(ctx, d.batchSize, d.lease, d.maxAttempts)
	if err != nil {
		d.logger.Error("outbox claim failed", "error", err)
		return 0
	}
	delivered := 0
	for _, entry := range entries {
		logger := d.logger.With("event_id", entry.ID, "type", entry.Type, "filing_id", entry.FilingID)
		if err := d.handler.Handle(ctx, entry); err != nil {
			if entry.Attempts+1 >= d.maxAttempts {
				logger.Error("outbox delivery failed, parking entry", "error", err, "attempts", entry.Attempts+1)
			} else {
				logger.Warn("outbox delivery failed", "error", err, "attempts", entry.Attempts+1)
			}
			if err := d.store.MarkFailed(ctx, entry.ID, err); err != nil {
				logger.Error("failed to record outbox failure", "error", err)
			}
			continue
		}
		ok, err := d.store.MarkDelivered(ctx, entry.ID)
		if err != nil {
			logger.Error("failed to mark outbox delivered", "error", err)
			continue
		}
		if ok {
			delivered++
		}
	}
	return delivered
}
