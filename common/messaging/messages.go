package messaging

import (
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Constants for NATS subjects
const (
	// SubjectSpawn is the request/reply subject remote worker hosts listen on
	SubjectSpawn = "ocr.worker.spawn"
	// SubjectJobEvents receives one JobEvent per settled job
	SubjectJobEvents = "ocr.events.jobs"
	// StreamJobEvents is the JetStream stream persisting SubjectJobEvents
	StreamJobEvents = "OCR_JOB_EVENTS"
)

// WorkerJobsSubject carries outbound envelopes for one worker
func WorkerJobsSubject(workerID string) string {
	return "ocr.worker." + workerID + ".jobs"
}

// WorkerEventsSubject carries inbound messages from one worker
func WorkerEventsSubject(workerID string) string {
	return "ocr.worker." + workerID + ".events"
}

// WorkerErrorsSubject carries transport failures reported by a worker host
func WorkerErrorsSubject(workerID string) string {
	return "ocr.worker." + workerID + ".errors"
}

// WorkerTerminateSubject tells the host to stop one worker
func WorkerTerminateSubject(workerID string) string {
	return "ocr.worker." + workerID + ".terminate"
}

// SpawnRequest asks a worker host to start a worker
type SpawnRequest struct {
	WorkerID string              `json:"workerId"`
	Options  worker.SpawnOptions `json:"options"`
}

// SpawnReply is the host's answer to a SpawnRequest
type SpawnReply struct {
	WorkerID string `json:"workerId"`
	Host     string `json:"host,omitempty"`
	Error    string `json:"error,omitempty"`
}

// JobEvent records the outcome of one job
type JobEvent struct {
	WorkerID   string        `json:"workerId"`
	JobID      worker.JobID  `json:"jobId"`
	Action     worker.Action `json:"action"`
	Status     worker.Status `json:"status"`
	DurationMs int64         `json:"durationMs"`
	Error      string        `json:"error,omitempty"`
	Timestamp  time.Time     `json:"timestamp"`
}
