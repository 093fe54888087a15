package logger

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LexiconIndonesia/ocr-worker-service/common/config"
	"github.com/LexiconIndonesia/ocr-worker-service/common/db"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Setup configures the global logger from cfg.Log
func Setup(cfg config.Config) error {
	level, err := zerolog.ParseLevel(strings.ToLower(cfg.Log.Level))
	if err != nil {
		return fmt.Errorf("invalid log level %q: %w", cfg.Log.Level, err)
	}
	if level == zerolog.NoLevel {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.Log.Pretty {
		log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})
	} else {
		log.Logger = zerolog.New(os.Stderr).With().Timestamp().Logger()
	}
	return nil
}

// ProgressLogger returns a worker logger writing progress at debug level
func ProgressLogger() func(worker.Progress) {
	return func(p worker.Progress) {
		log.Debug().
			Str("workerId", p.WorkerID).
			Str("jobId", string(p.UserJobID)).
			Str("status", p.Status).
			Float64("progress", p.Progress).
			Msg("Worker progress")
	}
}

// DBHook implements zerolog.Hook and stores warnings and errors in the
// ocr_worker_logs table
type DBHook struct {
	exec    db.Execer
	timeout time.Duration
}

// NewDBHook creates a new log hook
func NewDBHook(exec db.Execer) *DBHook {
	return &DBHook{
		exec:    exec,
		timeout: 5 * time.Second,
	}
}

// Run implements zerolog.Hook.Run
func (h *DBHook) Run(e *zerolog.Event, level zerolog.Level, msg string) {
	if level < zerolog.WarnLevel {
		return
	}

	entry := db.LogEntry{
		WorkerID: extractField(msg, "workerId"),
		Level:    level.String(),
		Message:  msg,
	}
	if details := extractJSONDetails(msg); details != nil {
		entry.Details = details
	}

	// zerolog.Event fields are not readable, so only the message is stored.
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.timeout)
		defer cancel()
		if err := db.InsertLog(ctx, h.exec, entry); err != nil {
			// written without the hook to avoid recursion
			fmt.Fprintf(os.Stderr, "failed to store log entry: %v\n", err)
		}
	}()
}

// InitializeLogging adds the database hook to the global logger
func InitializeLogging(exec db.Execer) {
	log.Logger = log.Logger.Hook(NewDBHook(exec))
}

func extractField(msg, fieldName string) string {
	searchStr := fieldName + "="
	idx := strings.Index(msg, searchStr)
	if idx < 0 {
		return ""
	}
	start := idx + len(searchStr)
	end := strings.IndexAny(msg[start:], " ,\n\t")
	if end < 0 {
		return msg[start:]
	}
	return msg[start : start+end]
}

func extractJSONDetails(msg string) interface{} {
	start := strings.Index(msg, "{")
	end := strings.LastIndex(msg, "}")
	if start < 0 || end <= start {
		return nil
	}
	var result interface{}
	if err := json.Unmarshal([]byte(msg[start:end+1]), &result); err != nil {
		return nil
	}
	return result
}
