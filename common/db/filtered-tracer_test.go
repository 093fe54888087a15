package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

type countingTracer struct {
	starts, ends int
}

func (c *countingTracer) TraceQueryStart(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	c.starts++
	return ctx
}

func (c *countingTracer) TraceQueryEnd(ctx context.Context, conn *pgx.Conn, data pgx.TraceQueryEndData) {
	c.ends++
}

func TestFilteredTracer(t *testing.T) {
	tests := []struct {
		name   string
		sql    string
		traced bool
	}{
		{"job ledger", insertJobSQL, true},
		{"log table", insertLogSQL, false},
		{"upper case", "INSERT INTO OCR_WORKER_LOGS VALUES ($1)", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inner := &countingTracer{}
			tracer := NewFilteredTracer(inner, logTable)

			ctx := tracer.TraceQueryStart(context.Background(), nil, pgx.TraceQueryStartData{SQL: tt.sql})
			tracer.TraceQueryEnd(ctx, nil, pgx.TraceQueryEndData{})

			expected := 0
			if tt.traced {
				expected = 1
			}
			if inner.starts != expected || inner.ends != expected {
				t.Errorf("Expected %d traced calls, got %d starts and %d ends", expected, inner.starts, inner.ends)
			}
		})
	}
}
