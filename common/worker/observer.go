package worker

import (
	"time"

	"github.com/rs/zerolog/log"
)

// Observer receives bookkeeping events from a Handle. Implementations must
// not block. Dispatched runs on the goroutine starting the job while sends
// are serialized. Settled and Unmatched run on the demultiplexer goroutine.
// TransportFailed runs on the transport's error callback.
type Observer interface {
	Dispatched(workerID string, job Job)
	Settled(workerID string, job Job, status Status, elapsed time.Duration, err error)
	Unmatched(workerID string, msg Message)
	TransportFailed(workerID string, err error)
}

// LogObserver writes every event to the global zerolog logger
type LogObserver struct{}

func (LogObserver) Dispatched(workerID string, job Job) {
	log.Debug().
		Str("workerId", workerID).
		Str("jobId", string(job.ID)).
		Str("action", string(job.Action)).
		Msg("Start job")
}

func (LogObserver) Settled(workerID string, job Job, status Status, elapsed time.Duration, err error) {
	event := log.Debug()
	if err != nil {
		event = log.Warn().Err(err)
	}
	event.
		Str("workerId", workerID).
		Str("jobId", string(job.ID)).
		Str("action", string(job.Action)).
		Str("status", string(status)).
		Dur("duration", elapsed).
		Msg("Complete job")
}

func (LogObserver) Unmatched(workerID string, msg Message) {
	log.Warn().
		Str("workerId", workerID).
		Str("jobId", string(msg.JobID)).
		Str("action", string(msg.Action)).
		Str("status", string(msg.Status)).
		Msg("Dropping response with no pending job")
}

func (LogObserver) TransportFailed(workerID string, err error) {
	log.Error().Err(err).Str("workerId", workerID).Msg("Worker transport failed")
}

// Observers fans events out to several observers in order
type Observers []Observer

func (o Observers) Dispatched(workerID string, job Job) {
	for _, obs := range o {
		obs.Dispatched(workerID, job)
	}
}

func (o Observers) Settled(workerID string, job Job, status Status, elapsed time.Duration, err error) {
	for _, obs := range o {
		obs.Settled(workerID, job, status, elapsed, err)
	}
}

func (o Observers) Unmatched(workerID string, msg Message) {
	for _, obs := range o {
		obs.Unmatched(workerID, msg)
	}
}

func (o Observers) TransportFailed(workerID string, err error) {
	for _, obs := range o {
		obs.TransportFailed(workerID, err)
	}
}
