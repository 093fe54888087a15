package process

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/inproc"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/rs/zerolog/log"
)

// inboundEnvelope keeps the payload raw so the worker decodes it into the
// type its action expects.
type inboundEnvelope struct {
	WorkerID string          `json:"workerId"`
	JobID    worker.JobID    `json:"jobId"`
	Action   worker.Action   `json:"action"`
	Payload  json.RawMessage `json:"payload"`
}

// Serve is the worker side of the transport. It reads envelopes from r,
// runs fn for each one in order and writes every emitted message to w as one
// JSON line. It returns when r is exhausted or ctx is done.
func Serve(ctx context.Context, r io.Reader, w io.Writer, fn inproc.WorkerFunc) error {
	var writeMu sync.Mutex
	enc := json.NewEncoder(w)
	emit := func(msg worker.Message) {
		writeMu.Lock()
		defer writeMu.Unlock()
		if err := enc.Encode(msg); err != nil {
			log.Error().Err(err).Str("jobId", string(msg.JobID)).Msg("Failed to write worker message")
		}
	}

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLine)

	for scanner.Scan() {
		if err := ctx.Err(); err != nil {
			return err
		}
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var in inboundEnvelope
		if err := json.Unmarshal(line, &in); err != nil {
			log.Warn().Err(err).Msg("Skipping malformed envelope")
			continue
		}
		env := worker.Envelope{
			WorkerID: in.WorkerID,
			JobID:    in.JobID,
			Action:   in.Action,
			Payload:  in.Payload,
		}
		if !env.Action.Valid() {
			emit(inproc.Reject(env, fmt.Sprintf("unknown action %q", env.Action)))
			continue
		}
		fn(ctx, env, emit)
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read envelopes: %w", err)
	}
	return ctx.Err()
}
