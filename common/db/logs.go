package db

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/rs/zerolog/log"
)

const insertLogSQL = `INSERT INTO ocr_worker_logs (id, worker_id, level, message, details, created_at)
	VALUES ($1, $2, $3, $4, $5, $6)`

// LogEntry is one row of the ocr_worker_logs table
type LogEntry struct {
	WorkerID string
	Level    string
	Message  string
	Details  interface{}
}

func (e LogEntry) insert() (string, []any) {
	var detailsJSON json.RawMessage
	if e.Details != nil {
		var err error
		detailsJSON, err = json.Marshal(e.Details)
		if err != nil {
			log.Error().Err(err).Msg("Failed to marshal log details")
			detailsJSON = json.RawMessage("{}")
		}
	} else {
		detailsJSON = json.RawMessage("{}")
	}

	workerID := pgtype.Text{
		String: e.WorkerID,
		Valid:  e.WorkerID != "",
	}
	message := pgtype.Text{
		String: e.Message,
		Valid:  e.Message != "",
	}

	return insertLogSQL, []any{uuid.New().String(), workerID, e.Level, message, detailsJSON, time.Now().UTC()}
}

// InsertLog stores a log entry
func InsertLog(ctx context.Context, exec Execer, e LogEntry) error {
	sql, args := e.insert()
	_, err := exec.Exec(ctx, sql, args...)
	return err
}
