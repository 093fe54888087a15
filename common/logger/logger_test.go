package logger

import (
	"bytes"
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/LexiconIndonesia/ocr-worker-service/common/config"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

type chanExecer struct {
	calls chan []any
}

func (c *chanExecer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	c.calls <- args
	return pgconn.CommandTag{}, nil
}

func TestSetup(t *testing.T) {
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	tests := []struct {
		level       string
		expected    zerolog.Level
		expectError bool
	}{
		{"debug", zerolog.DebugLevel, false},
		{"WARN", zerolog.WarnLevel, false},
		{"", zerolog.InfoLevel, false},
		{"loud", zerolog.InfoLevel, true},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			zerolog.SetGlobalLevel(zerolog.InfoLevel)
			cfg := config.DefaultConfig()
			cfg.Log.Level = tt.level

			err := Setup(cfg)
			if tt.expectError {
				if err == nil {
					t.Error("Expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}
			if zerolog.GlobalLevel() != tt.expected {
				t.Errorf("Expected level %v, got %v", tt.expected, zerolog.GlobalLevel())
			}
		})
	}
}

func TestDBHookStoresWarnings(t *testing.T) {
	exec := &chanExecer{calls: make(chan []any, 2)}
	hook := NewDBHook(exec)

	hook.Run(nil, zerolog.InfoLevel, "ignored")
	hook.Run(nil, zerolog.ErrorLevel, `recognize failed workerId=Worker-1-abc {"job":"Job-2"}`)

	select {
	case args := <-exec.calls:
		if args[2] != "error" {
			t.Errorf("Expected level error, got %v", args[2])
		}
		if string(args[4].(json.RawMessage)) != `{"job":"Job-2"}` {
			t.Errorf("Unexpected details %s", args[4])
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for log insert")
	}

	select {
	case <-exec.calls:
		t.Error("Expected info entries to be skipped")
	case <-time.After(50 * time.Millisecond):
	}
}

func TestExtractField(t *testing.T) {
	tests := []struct {
		msg      string
		expected string
	}{
		{"failed workerId=Worker-1-abc job", "Worker-1-abc"},
		{"failed workerId=Worker-2", "Worker-2"},
		{"no worker here", ""},
	}
	for _, tt := range tests {
		if got := extractField(tt.msg, "workerId"); got != tt.expected {
			t.Errorf("Expected %q, got %q", tt.expected, got)
		}
	}
}

func TestProgressLogger(t *testing.T) {
	var buf bytes.Buffer
	previous := log.Logger
	defer func() { log.Logger = previous }()
	log.Logger = zerolog.New(&buf)
	zerolog.SetGlobalLevel(zerolog.DebugLevel)
	defer zerolog.SetGlobalLevel(zerolog.InfoLevel)

	ProgressLogger()(worker.Progress{WorkerID: "Worker-1", UserJobID: "Job-1", Status: "recognizing text", Progress: 0.5})

	out := buf.String()
	for _, want := range []string{`"workerId":"Worker-1"`, `"jobId":"Job-1"`, `"progress":0.5`, "Worker progress"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected %s in %s", want, out)
		}
	}
}
