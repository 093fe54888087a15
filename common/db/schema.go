package db

import (
	"context"
)

const (
	jobTable = "ocr_jobs"
	logTable = "ocr_worker_logs"
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ocr_jobs (
		worker_id     TEXT NOT NULL,
		job_id        TEXT NOT NULL,
		action        TEXT NOT NULL,
		status        TEXT NOT NULL DEFAULT 'dispatched',
		error         TEXT,
		elapsed_ms    BIGINT,
		dispatched_at TIMESTAMPTZ NOT NULL,
		settled_at    TIMESTAMPTZ,
		PRIMARY KEY (worker_id, job_id)
	)`,
	`CREATE INDEX IF NOT EXISTS ocr_jobs_dispatched_at_idx ON ocr_jobs (dispatched_at)`,
	`CREATE TABLE IF NOT EXISTS ocr_worker_logs (
		id         TEXT PRIMARY KEY,
		worker_id  TEXT,
		level      TEXT NOT NULL,
		message    TEXT,
		details    JSONB NOT NULL DEFAULT '{}',
		created_at TIMESTAMPTZ NOT NULL
	)`,
}

// EnsureSchema creates the ledger and log tables when missing
func EnsureSchema(ctx context.Context, exec Execer) error {
	for _, stmt := range schema {
		if _, err := exec.Exec(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
