package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq"

	"github.com/wolfman30/lca-filing-automation/internal/lca"
)

// SQLResultStore keeps results in the filing_results Postgres table.
type SQLResultStore struct {
	db *sql.DB
}

func NewSQLResultStore(db *sql.DB) *SQLResultStore {
	if db == nil {
		panic("store: sql db cannot be nil")
	}
	return &SQLResultStore{db: db}
}

const upsertResult = `
	INSERT INTO filing_results (
		filing_id, application_id, status, steps_completed, confirmation_number,
		error_message, processing_time_ms, requires_human_review, review_reasons,
		started_at, completed_at
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	ON CONFLICT (filing_id) DO UPDATE SET
		status = EXCLUDED.status,
		steps_completed = EXCLUDED.steps_completed,
		confirmation_number = EXCLUDED.confirmation_number,
		error_message = EXCLUDED.error_message,
		processing_time_ms = EXCLUDED.processing_time_ms,
		requires_human_review = EXCLUDED.requires_human_review,
		review_reasons = EXCLUDED.review_reasons,
		completed_at = EXCLUDED.completed_at`

const selectResult = `
	SELECT filing_id, application_id, status, steps_completed, confirmation_number,
	       error_message, processing_time_ms, requires_human_review, review_reasons,
	       started_at, completed_at
	FROM filing_results`

func (s *SQLResultStore) Save(ctx context.Context, res lca.FilingResult) error {
	if res.FilingID == "" {
		return errors.New("store: filing id required")
	}
	var completed sql.NullTime
	if !res.CompletedAt.IsZero() {
		completed = sql.NullTime{Time: res.CompletedAt, Valid: true}
	}
	_, err := s.db.ExecContext(ctx, upsertResult,
		res.FilingID,
		res.ApplicationID,
		string(res.Status),
		pq.Array(nonNil(res.StepsCompleted)),
		res.ConfirmationNumber,
		res.Error,
		res.ProcessingTime.Milliseconds(),
		res.RequiresHumanReview,
		pq.Array(nonNil(res.ReviewReasons)),
		res.StartedAt,
		completed,
	)
	if err != nil {
		return fmt.Errorf("store: save filing result: %w", err)
	}
	return nil
}

func (s *SQLResultStore) Get(ctx context.Context, filingID string) (lca.FilingResult, error) {
	row := s.db.QueryRowContext(ctx, selectResult+` WHERE filing_id = $1`, filingID)
	res, err := scanResult(row)
	if errors.Is(err, sql.ErrNoRows) {
		return lca.FilingResult{}, ErrNotFound
	}
	if err != nil {
		return lca.FilingResult{}, fmt.Errorf("store: get filing result: %w", err)
	}
	return res, nil
}

func (s *SQLResultStore) List(ctx context.Context, limit int) ([]lca.FilingResult, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, selectResult+` ORDER BY started_at DESC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("store: list filing results: %w", err)
	}
	defer rows.Close()

	out := []lca.FilingResult{}
	for rows.Next() {
		res, err := scanResult(rows)
		if err != nil {
			return nil, fmt.Errorf("store: scan filing result: %w", err)
		}
		out = append(out, res)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanResult(row scanner) (lca.FilingResult, error) {
	var (
		res       lca.FilingResult
		status    string
		elapsedMS int64
		completed sql.NullTime
	)
	err := row.Scan(
		&res.FilingID,
		&res.ApplicationID,
		&status,
		pq.Array(&res.StepsCompleted),
		&res.ConfirmationNumber,
		&res.Error,
		&elapsedMS,
		&res.RequiresHumanReview,
		pq.Array(&res.ReviewReasons),
		&res.StartedAt,
		&completed,
	)
	if err != nil {
		return lca.FilingResult{}, err
	}
	res.Status = lca.FilingStatus(status)
	res.ProcessingTime = time.Duration(elapsedMS) * time.Millisecond
	if completed.Valid {
		res.CompletedAt = completed.Time
	}
	if res.StepsCompleted == nil {
		res.StepsCompleted = []string{}
	}
	return res, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
