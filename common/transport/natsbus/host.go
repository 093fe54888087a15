package natsbus

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/LexiconIndonesia/ocr-worker-service/common/messaging"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/nats-io/nats.go"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Host serves spawn requests by starting workers on a local transport and
// relaying their traffic over the bus
type Host struct {
	bus       Bus
	transport worker.Transport
	name      string

	mu      sync.Mutex
	workers map[string]worker.Channel
}

func NewHost(bus Bus, transport worker.Transport, name string) *Host {
	return &Host{
		bus:       bus,
		transport: transport,
		name:      name,
		workers:   make(map[string]worker.Channel),
	}
}

// Start begins accepting spawn requests
func (h *Host) Start() error {
	_, err := h.bus.QueueSubscribe(messaging.SubjectSpawn, HostQueue, h.onSpawn)
	if err != nil {
		return err
	}
	log.Info().Str("host", h.name).Msg("Worker host accepting spawn requests")
	return nil
}

// Workers returns the ids of the workers currently running on this host
func (h *Host) Workers() []string {
	h.mu.Lock()
	defer h.mu.Unlock()
	return lo.Keys(h.workers)
}

func (h *Host) onSpawn(msg *nats.Msg) {
	var req messaging.SpawnRequest
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		h.reply(msg, messaging.SpawnReply{Host: h.name, Error: "invalid spawn request: " + err.Error()})
		return
	}

	ch, err := h.transport.Spawn(context.Background(), req.WorkerID, req.Options)
	if err != nil {
		log.Error().Err(err).Str("workerId", req.WorkerID).Msg("Failed to spawn worker for remote client")
		h.reply(msg, messaging.SpawnReply{WorkerID: req.WorkerID, Host: h.name, Error: err.Error()})
		return
	}

	id := req.WorkerID
	ch.OnMessage(func(m worker.Message) {
		data, err := json.Marshal(m)
		if err != nil {
			log.Error().Err(err).Str("workerId", id).Msg("Failed to encode worker message")
			return
		}
		if err := h.bus.Publish(messaging.WorkerEventsSubject(id), data); err != nil {
			log.Warn().Err(err).Str("workerId", id).Msg("Failed to relay worker message")
		}
	})
	ch.OnError(func(err error) {
		if perr := h.bus.Publish(messaging.WorkerErrorsSubject(id), []byte(err.Error())); perr != nil {
			log.Warn().Err(perr).Str("workerId", id).Msg("Failed to relay worker error")
		}
	})

	if _, err := h.bus.Subscribe(messaging.WorkerJobsSubject(id), func(m *nats.Msg) {
		h.relayJob(id, ch, m)
	}); err != nil {
		_ = ch.Terminate()
		h.reply(msg, messaging.SpawnReply{WorkerID: id, Host: h.name, Error: err.Error()})
		return
	}
	if _, err := h.bus.Subscribe(messaging.WorkerTerminateSubject(id), func(*nats.Msg) {
		h.stop(id)
	}); err != nil {
		_ = h.bus.Unsubscribe(messaging.WorkerJobsSubject(id))
		_ = ch.Terminate()
		h.reply(msg, messaging.SpawnReply{WorkerID: id, Host: h.name, Error: err.Error()})
		return
	}

	h.mu.Lock()
	h.workers[id] = ch
	h.mu.Unlock()

	log.Info().Str("workerId", id).Str("host", h.name).Msg("Started worker for remote client")
	h.reply(msg, messaging.SpawnReply{WorkerID: id, Host: h.name})
}

func (h *Host) relayJob(id string, ch worker.Channel, m *nats.Msg) {
	var env struct {
		WorkerID string          `json:"workerId"`
		JobID    worker.JobID    `json:"jobId"`
		Action   worker.Action   `json:"action"`
		Payload  json.RawMessage `json:"payload"`
	}
	if err := json.Unmarshal(m.Data, &env); err != nil {
		log.Warn().Err(err).Str("workerId", id).Msg("Skipping malformed envelope")
		return
	}
	err := ch.Send(worker.Envelope{
		WorkerID: env.WorkerID,
		JobID:    env.JobID,
		Action:   env.Action,
		Payload:  env.Payload,
	})
	if err != nil {
		_ = h.bus.Publish(messaging.WorkerErrorsSubject(id), []byte(err.Error()))
	}
}

func (h *Host) reply(msg *nats.Msg, reply messaging.SpawnReply) {
	if msg.Reply == "" {
		return
	}
	data, _ := json.Marshal(reply)
	if err := h.bus.Publish(msg.Reply, data); err != nil {
		log.Warn().Err(err).Str("workerId", reply.WorkerID).Msg("Failed to answer spawn request")
	}
}

func (h *Host) stop(id string) {
	h.mu.Lock()
	ch, ok := h.workers[id]
	delete(h.workers, id)
	h.mu.Unlock()
	if !ok {
		return
	}

	_ = h.bus.Unsubscribe(messaging.WorkerJobsSubject(id))
	_ = h.bus.Unsubscribe(messaging.WorkerTerminateSubject(id))
	if err := ch.Terminate(); err != nil {
		log.Warn().Err(err).Str("workerId", id).Msg("Failed to terminate worker")
	}
	log.Info().Str("workerId", id).Msg("Stopped worker for remote client")
}

// Stop terminates every worker and stops accepting spawn requests
func (h *Host) Stop() {
	_ = h.bus.Unsubscribe(messaging.SubjectSpawn + ":" + HostQueue)
	for _, id := range h.Workers() {
		h.stop(id)
	}
}
