package worker

import (
	"encoding/json"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

// inbox is an unbounded FIFO between the channel callback and the demultiplexer
type inbox struct {
	mu     sync.Mutex
	queue  []Message
	signal chan struct{}
}

func newInbox() *inbox {
	return &inbox{signal: make(chan struct{}, 1)}
}

func (b *inbox) push(msg Message) {
	b.mu.Lock()
	b.queue = append(b.queue, msg)
	b.mu.Unlock()

	select {
	case b.signal <- struct{}{}:
	default:
	}
}

func (b *inbox) drain() []Message {
	b.mu.Lock()
	defer b.mu.Unlock()
	out := b.queue
	b.queue = nil
	return out
}

// demux processes inbound messages strictly one at a time in arrival order
func (h *Handle) demux() {
	for {
		select {
		case <-h.done:
			return
		case <-h.inbox.signal:
			for _, msg := range h.inbox.drain() {
				select {
				case <-h.done:
					return
				default:
				}
				h.handleMessage(msg)
			}
		}
	}
}

func (h *Handle) handleMessage(msg Message) {
	switch msg.Status {
	case StatusResolve:
		h.handleResolve(msg)
	case StatusReject:
		h.handleReject(msg)
	case StatusProgress:
		if h.opts.logger != nil {
			h.opts.logger(decodeProgress(msg))
		}
	default:
		log.Warn().
			Str("workerId", h.id).
			Str("jobId", string(msg.JobID)).
			Str("status", string(msg.Status)).
			Msg("Ignoring message with unknown status")
	}
}

func (h *Handle) handleResolve(msg Message) {
	c, ok := h.registry.take(msg.JobID, msg.Action).Get()
	if !ok {
		h.opts.observer.Unmatched(h.id, msg)
		return
	}

	data, err := decodeResult(msg.Action, msg.Data)
	if err != nil {
		c.reject(err)
		h.opts.observer.Settled(h.id, c.job, StatusReject, time.Since(c.started), err)
		return
	}

	c.resolve(Response{JobID: msg.JobID, Data: data})
	h.opts.observer.Settled(h.id, c.job, StatusResolve, time.Since(c.started), nil)
}

func (h *Handle) handleReject(msg Message) {
	c, ok := h.registry.take(msg.JobID, msg.Action).Get()
	if !ok {
		h.opts.observer.Unmatched(h.id, msg)
		return
	}

	jobErr := &JobError{JobID: msg.JobID, Action: msg.Action, Data: msg.Data}
	c.reject(jobErr)
	h.opts.observer.Settled(h.id, c.job, StatusReject, time.Since(c.started), jobErr)

	if msg.Action == ActionLoad {
		h.settleConstruction(jobErr)
	}

	if h.opts.errorHandler != nil {
		h.opts.errorHandler(jobErr)
		return
	}
	log.Panic().
		Err(jobErr).
		Str("workerId", h.id).
		Msg("Unhandled worker rejection")
}

// decodeResult applies the per-action post-processing of resolve payloads
func decodeResult(action Action, data json.RawMessage) (any, error) {
	switch action {
	case ActionRecognize:
		return Circularize(data)
	case ActionGetPDF:
		return DecodePDF(data)
	default:
		return data, nil
	}
}
