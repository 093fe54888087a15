package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
)

// Querier reads rows; *pgxpool.Pool satisfies it
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// JobRecord is one row of the job ledger
type JobRecord struct {
	WorkerID     string      `json:"worker_id"`
	JobID        string      `json:"job_id"`
	Action       string      `json:"action"`
	Status       string      `json:"status"`
	Error        pgtype.Text `json:"error"`
	ElapsedMs    pgtype.Int8 `json:"elapsed_ms"`
	DispatchedAt time.Time   `json:"dispatched_at"`
	SettledAt    *time.Time  `json:"settled_at"`
}

type ListJobsParams struct {
	Status string
	Action string
	Limit  int32
	Offset int32
}

const listJobsSQL = `SELECT worker_id, job_id, action, status, error, elapsed_ms, dispatched_at, settled_at
	FROM ocr_jobs
	WHERE ($1 = '' OR status = $1) AND ($2 = '' OR action = $2)
	ORDER BY dispatched_at DESC
	LIMIT $3 OFFSET $4`

const countJobsSQL = `SELECT COUNT(*) FROM ocr_jobs
	WHERE ($1 = '' OR status = $1) AND ($2 = '' OR action = $2)`

// JobStore reads the job ledger
type JobStore struct {
	q Querier
}

func NewJobStore(q Querier) *JobStore {
	return &JobStore{q: q}
}

func (s *JobStore) ListJobs(ctx context.Context, params ListJobsParams) ([]JobRecord, error) {
	rows, err := s.q.Query(ctx, listJobsSQL, params.Status, params.Action, params.Limit, params.Offset)
	if err != nil {
		return nil, fmt.Errorf("listing jobs: %w", err)
	}
	records, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (JobRecord, error) {
		var r JobRecord
		err := row.Scan(&r.WorkerID, &r.JobID, &r.Action, &r.Status, &r.Error, &r.ElapsedMs, &r.DispatchedAt, &r.SettledAt)
		return r, err
	})
	if err != nil {
		return nil, fmt.Errorf("scanning jobs: %w", err)
	}
	return records, nil
}

func (s *JobStore) CountJobs(ctx context.Context, params ListJobsParams) (int64, error) {
	var total int64
	if err := s.q.QueryRow(ctx, countJobsSQL, params.Status, params.Action).Scan(&total); err != nil {
		return 0, fmt.Errorf("counting jobs: %w", err)
	}
	return total, nil
}
