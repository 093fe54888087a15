package worker

import (
	"encoding/json"
)

// Job is one request sent to the worker
type Job struct {
	ID      JobID
	Action  Action
	Payload any
}

// BuildJob creates a job record, generating an id when explicitID is empty
func BuildJob(ids IDGenerator, explicitID JobID, action Action, payload any) Job {
	id := explicitID
	if id == "" {
		id = JobID(ids.Next())
	}
	return Job{
		ID:      id,
		Action:  action,
		Payload: payload,
	}
}

// Envelope is the outbound wire message
type Envelope struct {
	WorkerID string `json:"workerId"`
	JobID    JobID  `json:"jobId"`
	Action   Action `json:"action"`
	Payload  any    `json:"payload"`
}

// Message is the inbound wire message
type Message struct {
	WorkerID string          `json:"workerId"`
	JobID    JobID           `json:"jobId"`
	Status   Status          `json:"status"`
	Action   Action          `json:"action"`
	Data     json.RawMessage `json:"data"`
}

// Response is what a job's future resolves with
type Response struct {
	JobID JobID
	// Data is *Page for recognize, []byte for getPDF and json.RawMessage otherwise.
	Data any
}

// FSPayload is the payload of an FS job
type FSPayload struct {
	Method string `json:"method"`
	Args   []any  `json:"args"`
}

// LoadPayload is the payload of the internal load job
type LoadPayload struct {
	Options SpawnOptions `json:"options"`
}

// LoadLanguagePayload is the payload of a loadLanguage job
type LoadLanguagePayload struct {
	Langs   string       `json:"langs"`
	Options SpawnOptions `json:"options"`
}

// InitializePayload is the payload of an initialize job
type InitializePayload struct {
	Langs string `json:"langs"`
	OEM   int    `json:"oem"`
}

// SetParametersPayload is the payload of a setParameters job
type SetParametersPayload struct {
	Params map[string]any `json:"params"`
}

// ImagePayload is the payload of recognize, threshold and detect jobs
type ImagePayload struct {
	Image   Image          `json:"image"`
	Options map[string]any `json:"options,omitempty"`
}

// GetPDFPayload is the payload of a getPDF job
type GetPDFPayload struct {
	Title    string `json:"title"`
	TextOnly bool   `json:"textonly"`
}
