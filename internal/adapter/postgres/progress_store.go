package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/harnessforge/harnessforge/internal/port/progress"
)

// recordsLimit caps Records; the status views only show recent sessions.
const recordsLimit = 500

// ProgressStore implements progress.Store using PostgreSQL.
type ProgressStore struct {
	pool *pgxpool.Pool
}

var _ progress.Store = (*ProgressStore)(nil)

// NewProgressStore creates a store backed by the given connection pool.
// The store owns the pool and closes it on Close.
func NewProgressStore(pool *pgxpool.Pool) *ProgressStore {
	return &ProgressStore{pool: pool}
}

func (s *ProgressStore) LastIteration(ctx context.Context, project, key string) (int, error) {
	var last *int
	err := s.pool.QueryRow(ctx,
		`SELECT MAX(iteration) FROM session_records WHERE project = $1 AND sig_key = $2`,
		project, key).Scan(&last)
	if err != nil {
		return -1, fmt.Errorf("last iteration %s/%s: %w", project, key, err)
	}
	if last == nil {
		return -1, nil
	}
	return *last, nil
}

func (s *ProgressStore) Solved(ctx context.Context, key string) (bool, error) {
	var one int
	err := s.pool.QueryRow(ctx, `SELECT 1 FROM solved_signatures WHERE sig_key = $1`, key).Scan(&one)
	if errors.Is(err, pgx.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("solved %s: %w", key, err)
	}
	return true, nil
}

func (s *ProgressStore) Complete(ctx context.Context, rec progress.Record) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	_, err = tx.Exec(ctx,
		`INSERT INTO session_records
		   (session_id, project, function, signature, sig_key, iteration, status, reason, fix_count, harness, finished_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		 ON CONFLICT (session_id) DO NOTHING`,
		rec.SessionID, rec.Project, rec.Function, rec.Signature, rec.Key, rec.Iteration,
		rec.Status, rec.Reason, rec.FixCount, rec.Harness, rec.FinishedAt)
	if err != nil {
		return fmt.Errorf("insert session record %s: %w", rec.SessionID, err)
	}

	if rec.Status == "success" {
		_, err = tx.Exec(ctx,
			`INSERT INTO solved_signatures (sig_key, session_id, solved_at)
			 VALUES ($1, $2, $3) ON CONFLICT (sig_key) DO NOTHING`,
			rec.Key, rec.SessionID, rec.FinishedAt)
		if err != nil {
			return fmt.Errorf("insert solved signature %s: %w", rec.Key, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *ProgressStore) Records(ctx context.Context) ([]progress.Record, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT session_id, project, function, signature, sig_key, iteration, status, reason, fix_count, harness, finished_at
		 FROM session_records ORDER BY finished_at DESC LIMIT $1`, recordsLimit)
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []progress.Record
	for rows.Next() {
		var r progress.Record
		if err := rows.Scan(&r.SessionID, &r.Project, &r.Function, &r.Signature, &r.Key, &r.Iteration,
			&r.Status, &r.Reason, &r.FixCount, &r.Harness, &r.FinishedAt); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Close closes the connection pool.
func (s *ProgressStore) Close() error {
	s.pool.Close()
	return nil
}
