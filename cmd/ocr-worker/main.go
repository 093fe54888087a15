// Command ocr-worker is the child process started by the process transport.
// It reads job envelopes from stdin and writes messages to stdout; logs go
// to stderr.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/LexiconIndonesia/ocr-worker-service/common/ocrworker"
	"github.com/LexiconIndonesia/ocr-worker-service/common/ocrworker/tesseract"
	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/process"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

func main() {
	zerolog.SetGlobalLevel(zerolog.InfoLevel)
	if os.Getenv("WORKER_LOGGING") == "true" {
		zerolog.SetGlobalLevel(zerolog.DebugLevel)
	}
	log.Logger = zerolog.New(os.Stderr).With().
		Timestamp().
		Str("workerId", os.Getenv("WORKER_ID")).
		Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := ocrworker.New(tesseract.New())
	defer w.Close()

	log.Info().Msg("Worker ready")
	if err := process.Serve(ctx, os.Stdin, os.Stdout, w.Handle); err != nil && ctx.Err() == nil {
		log.Error().Err(err).Msg("Worker stopped")
		os.Exit(1)
	}
	log.Info().Msg("Worker exiting")
}
