// Package natsbus reaches workers running on remote hosts over NATS.
//
// A Transport asks any Host listening on messaging.SubjectSpawn to start a
// worker, then exchanges envelopes and messages on per-worker subjects.
package natsbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/messaging"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
)

// HostQueue is the queue group hosts join so a spawn is served once
const HostQueue = "ocr-worker-hosts"

var ErrSpawnRejected = errors.New("worker host rejected spawn")

// Bus is the subset of messaging.NatsClient used here
type Bus interface {
	Publish(subject string, data []byte) error
	Request(ctx context.Context, subject string, data []byte) (*nats.Msg, error)
	Subscribe(subject string, handler nats.MsgHandler) (*nats.Subscription, error)
	QueueSubscribe(subject, queue string, handler nats.MsgHandler) (*nats.Subscription, error)
	Unsubscribe(subject string) error
}

var _ Bus = (*messaging.NatsClient)(nil)

// Transport spawns workers on remote hosts
type Transport struct {
	bus          Bus
	spawnTimeout time.Duration
}

func New(bus Bus, spawnTimeout time.Duration) *Transport {
	if spawnTimeout <= 0 {
		spawnTimeout = 30 * time.Second
	}
	return &Transport{bus: bus, spawnTimeout: spawnTimeout}
}

func (t *Transport) Spawn(ctx context.Context, workerID string, opts worker.SpawnOptions) (worker.Channel, error) {
	c := &channel{bus: t.bus, id: workerID}

	// Listen before spawning so no early message is missed.
	if _, err := t.bus.Subscribe(messaging.WorkerEventsSubject(workerID), c.onEvent); err != nil {
		return nil, err
	}
	if _, err := t.bus.Subscribe(messaging.WorkerErrorsSubject(workerID), c.onHostError); err != nil {
		c.unsubscribe()
		return nil, err
	}

	data, err := json.Marshal(messaging.SpawnRequest{WorkerID: workerID, Options: opts})
	if err != nil {
		c.unsubscribe()
		return nil, fmt.Errorf("encode spawn request: %w", err)
	}

	reqCtx, cancel := context.WithTimeout(ctx, t.spawnTimeout)
	defer cancel()
	msg, err := t.bus.Request(reqCtx, messaging.SubjectSpawn, data)
	if err != nil {
		c.unsubscribe()
		return nil, fmt.Errorf("spawn request: %w", err)
	}

	var reply messaging.SpawnReply
	if err := json.Unmarshal(msg.Data, &reply); err != nil {
		c.unsubscribe()
		return nil, fmt.Errorf("decode spawn reply: %w", err)
	}
	if reply.Error != "" {
		c.unsubscribe()
		return nil, fmt.Errorf("%w: %s", ErrSpawnRejected, reply.Error)
	}

	log.Info().Str("workerId", workerID).Str("host", reply.Host).Msg("Spawned remote worker")
	return c, nil
}

type channel struct {
	bus Bus
	id  string

	mu         sync.RWMutex
	onMessage  func(worker.Message)
	onError    func(error)
	terminated bool
}

func (c *channel) onEvent(msg *nats.Msg) {
	var m worker.Message
	if err := json.Unmarshal(msg.Data, &m); err != nil {
		log.Warn().Err(err).Str("workerId", c.id).Msg("Skipping malformed worker message")
		return
	}

	c.mu.RLock()
	fn := c.onMessage
	c.mu.RUnlock()
	if fn == nil {
		log.Warn().Str("workerId", c.id).Str("jobId", string(m.JobID)).Msg("Worker message before handler registered")
		return
	}
	fn(m)
}

func (c *channel) onHostError(msg *nats.Msg) {
	c.mu.RLock()
	fn := c.onError
	c.mu.RUnlock()

	err := errors.New(string(msg.Data))
	if fn == nil {
		log.Error().Err(err).Str("workerId", c.id).Msg("Remote worker failed")
		return
	}
	fn(err)
}

func (c *channel) Send(env worker.Envelope) error {
	c.mu.RLock()
	terminated := c.terminated
	c.mu.RUnlock()
	if terminated {
		return worker.ErrTerminated
	}

	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}
	return c.bus.Publish(messaging.WorkerJobsSubject(c.id), data)
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
	c.mu.Lock()
	if c.terminated {
		c.mu.Unlock()
		return nil
	}
	c.terminated = true
	c.mu.Unlock()

	err := c.bus.Publish(messaging.WorkerTerminateSubject(c.id), nil)
	c.unsubscribe()
	return err
}

func (c *channel) unsubscribe() {
	for _, subject := range []string{
		messaging.WorkerEventsSubject(c.id),
		messaging.WorkerErrorsSubject(c.id),
	} {
		if err := c.bus.Unsubscribe(subject); err != nil {
			log.Warn().Err(err).Str("subject", subject).Msg("Failed to unsubscribe")
		}
	}
}
