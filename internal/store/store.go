package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
)

// Store persists run audit rows and the orphan chunk ledger. Everything in
// here is best-effort bookkeeping; the QA path works without a database.
type Store struct {
	DB *sql.DB
}

// RunRecord is one audit row per QA request.
type RunRecord struct {
	ID            string
	DocumentURL   string
	QuestionCount int
	ErrorCount    int
	Duration      time.Duration
	CreatedAt     time.Time
}

// OrphanRecord tracks vector ids whose cleanup delete failed and which the
// janitor should retry.
type OrphanRecord struct {
	RunID    string
	ChunkIDs []string
}

// NewWithDSN opens and pings a Postgres connection.
func NewWithDSN(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Store{DB: db}, nil
}

// SaveRun inserts one audit row and returns its id.
func (s *Store) SaveRun(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.New().String()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO qa_runs (id, document_url, question_count, error_count, duration_ms)
VALUES ($1, $2, $3, $4, $5)`,
		rec.ID, rec.DocumentURL, rec.QuestionCount, rec.ErrorCount, rec.Duration.Milliseconds())
	if err != nil {
		return "", fmt.Errorf("insert run: %w", err)
	}
	return rec.ID, nil
}

// RecordOrphans stores chunk ids whose deletion failed so the janitor can
// retry them later.
func (s *Store) RecordOrphans(ctx context.Context, rec OrphanRecord) error {
	if len(rec.ChunkIDs) == 0 {
		return nil
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO orphan_chunks (run_id, chunk_ids)
VALUES ($1, $2)`,
		rec.RunID, pq.Array(rec.ChunkIDs))
	if err != nil {
		return fmt.Errorf("insert orphans: %w", err)
	}
	return nil
}

// ListOrphans returns up to limit orphan batches, oldest first.
func (s *Store) ListOrphans(ctx context.Context, limit int) ([]OrphanRecord, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.DB.QueryContext(ctx, `
SELECT run_id, chunk_ids FROM orphan_chunks ORDER BY created_at ASC LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("list orphans: %w", err)
	}
	defer rows.Close()

	var out []OrphanRecord
	for rows.Next() {
		var rec OrphanRecord
		var ids pq.StringArray
		if err := rows.Scan(&rec.RunID, &ids); err != nil {
			return nil, fmt.Errorf("scan orphans: %w", err)
		}
		rec.ChunkIDs = ids
		out = append(out, rec)
	}
	return out, rows.Err()
}

// DeleteOrphans removes a run's ledger rows once its vectors are gone.
func (s *Store) DeleteOrphans(ctx context.Context, runID string) error {
	_, err := s.DB.ExecContext(ctx, `DELETE FROM orphan_chunks WHERE run_id = $1`, runID)
	if err != nil {
		return fmt.Errorf("delete orphans: %w", err)
	}
	return nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() error {
	return s.DB.Close()
}
