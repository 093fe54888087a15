package db

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

const (
	insertJobSQL = `INSERT INTO ocr_jobs (worker_id, job_id, action, status, dispatched_at)
		VALUES ($1, $2, $3, 'dispatched', $4)
		ON CONFLICT (worker_id, job_id) DO NOTHING`
	settleJobSQL = `UPDATE ocr_jobs SET status = $3, error = $4, elapsed_ms = $5, settled_at = $6
		WHERE worker_id = $1 AND job_id = $2`
)

type ledgerWrite struct {
	sql  string
	args []any
}

// JobLedger is a worker.Observer that records every job in the ocr_jobs
// table. Rows are written in order by a single goroutine; when the queue is
// full further events are dropped.
type JobLedger struct {
	exec    Execer
	timeout time.Duration
	writes  chan ledgerWrite
	done    chan struct{}

	mu     sync.RWMutex
	closed bool
}

var _ worker.Observer = (*JobLedger)(nil)

// NewJobLedger starts a ledger writing through exec
func NewJobLedger(exec Execer, queueSize int) *JobLedger {
	if queueSize <= 0 {
		queueSize = 1024
	}
	l := &JobLedger{
		exec:    exec,
		timeout: 5 * time.Second,
		writes:  make(chan ledgerWrite, queueSize),
		done:    make(chan struct{}),
	}
	go l.loop()
	return l
}

func (l *JobLedger) loop() {
	defer close(l.done)
	for w := range l.writes {
		ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
		if _, err := l.exec.Exec(ctx, w.sql, w.args...); err != nil {
			log.Error().Err(err).Msg("Failed to write job ledger")
		}
		cancel()
	}
}

func (l *JobLedger) enqueue(w ledgerWrite) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.closed {
		return
	}
	select {
	case l.writes <- w:
	default:
		log.Warn().Msg("Job ledger queue full, dropping event")
	}
}

func (l *JobLedger) Dispatched(workerID string, job worker.Job) {
	l.enqueue(ledgerWrite{
		sql:  insertJobSQL,
		args: []any{workerID, string(job.ID), string(job.Action), time.Now().UTC()},
	})
}

func (l *JobLedger) Settled(workerID string, job worker.Job, status worker.Status, elapsed time.Duration, err error) {
	reason := pgtype.Text{}
	if err != nil {
		reason = pgtype.Text{String: err.Error(), Valid: true}
	}
	l.enqueue(ledgerWrite{
		sql:  settleJobSQL,
		args: []any{workerID, string(job.ID), string(status), reason, elapsed.Milliseconds(), time.Now().UTC()},
	})
}

// Unmatched responses have no row to update
func (l *JobLedger) Unmatched(workerID string, msg worker.Message) {}

func (l *JobLedger) TransportFailed(workerID string, err error) {
	entry := LogEntry{
		WorkerID: workerID,
		Level:    "error",
		Message:  "worker transport failed",
		Details:  map[string]any{"error": err.Error()},
	}
	sql, args := entry.insert()
	l.enqueue(ledgerWrite{sql: sql, args: args})
}

// Close stops accepting events and waits until the queued ones are written
func (l *JobLedger) Close() {
	l.mu.Lock()
	if !l.closed {
		l.closed = true
		close(l.writes)
	}
	l.mu.Unlock()
	<-l.done
}
