// Package inproc runs a worker as a Go function inside the current process.
package inproc

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/rs/zerolog/log"
)

var ErrClosed = errors.New("in-process worker closed")

// WorkerFunc handles one envelope. It reports progress and the final
// resolve or reject through emit. Envelopes are handled one at a time in
// the order they were sent.
type WorkerFunc func(ctx context.Context, env worker.Envelope, emit func(worker.Message))

// Transport spawns channels backed by a WorkerFunc
type Transport struct {
	fn     WorkerFunc
	buffer int
}

// New creates a transport. buffer bounds the number of envelopes queued
// before Send blocks.
func New(fn WorkerFunc, buffer int) *Transport {
	if buffer <= 0 {
		buffer = 64
	}
	return &Transport{fn: fn, buffer: buffer}
}

func (t *Transport) Spawn(ctx context.Context, workerID string, opts worker.SpawnOptions) (worker.Channel, error) {
	if t.fn == nil {
		return nil, errors.New("no worker function")
	}
	runCtx, cancel := context.WithCancel(context.Background())
	c := &channel{
		id:     workerID,
		fn:     t.fn,
		in:     make(chan worker.Envelope, t.buffer),
		ctx:    runCtx,
		cancel: cancel,
	}
	go c.loop()
	log.Debug().Str("workerId", workerID).Msg("Started in-process worker")
	return c, nil
}

type channel struct {
	id     string
	fn     WorkerFunc
	in     chan worker.Envelope
	ctx    context.Context
	cancel context.CancelFunc

	mu        sync.RWMutex
	onMessage func(worker.Message)
	onError   func(error)
	closeOnce sync.Once
}

func (c *channel) loop() {
	for {
		select {
		case <-c.ctx.Done():
			return
		case env := <-c.in:
			c.handle(env)
		}
	}
}

func (c *channel) handle(env worker.Envelope) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("workerId", c.id).Msg("In-process worker panicked")
			c.emit(Reject(env, "worker panic"))
			c.mu.RLock()
			onError := c.onError
			c.mu.RUnlock()
			if onError != nil {
				onError(fmt.Errorf("%s: %v", env.Action, r))
			}
		}
	}()
	c.fn(c.ctx, env, c.emit)
}

func (c *channel) emit(msg worker.Message) {
	if c.ctx.Err() != nil {
		return
	}
	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn != nil {
		fn(msg)
	}
}

func (c *channel) Send(env worker.Envelope) error {
	select {
	case <-c.ctx.Done():
		return ErrClosed
	default:
	}
	select {
	case c.in <- env:
		return nil
	case <-c.ctx.Done():
		return ErrClosed
	}
}

func (c *channel) OnMessage(fn func(worker.Message)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onMessage = fn
}

func (c *channel) OnError(fn func(error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onError = fn
}

func (c *channel) Terminate() error {
	c.closeOnce.Do(c.cancel)
	return nil
}

// Resolve builds the resolve message answering env
func Resolve(env worker.Envelope, data any) worker.Message {
	return message(env, worker.StatusResolve, data)
}

// Reject builds the reject message answering env
func Reject(env worker.Envelope, reason any) worker.Message {
	return message(env, worker.StatusReject, reason)
}

// Progress builds a progress message for env
func Progress(env worker.Envelope, status string, progress float64) worker.Message {
	return message(env, worker.StatusProgress, map[string]any{
		"workerId": env.WorkerID,
		"jobId":    env.JobID,
		"status":   status,
		"progress": progress,
	})
}

func message(env worker.Envelope, status worker.Status, data any) worker.Message {
	raw, ok := data.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(data); err != nil {
			raw, _ = json.Marshal(err.Error())
		}
	}
	return worker.Message{
		WorkerID: env.WorkerID,
		JobID:    env.JobID,
		Status:   status,
		Action:   env.Action,
		Data:     raw,
	}
}

// DecodePayload fills dst from the payload of env. Payloads arrive as Go
// values from an in-process Handle and as raw JSON from a stream.
func DecodePayload(env worker.Envelope, dst any) error {
	raw, ok := env.Payload.(json.RawMessage)
	if !ok {
		var err error
		if raw, err = json.Marshal(env.Payload); err != nil {
			return fmt.Errorf("encode %s payload: %w", env.Action, err)
		}
	}
	if err := json.Unmarshal(raw, dst); err != nil {
		return fmt.Errorf("decode %s payload: %w", env.Action, err)
	}
	return nil
}
