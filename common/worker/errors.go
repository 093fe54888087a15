package worker

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// UnsupportedReason ends the reject reason of an action the worker's engine
// does not implement
const UnsupportedReason = "not supported by this engine"

var (
	ErrTerminated   = errors.New("worker has been terminated")
	ErrImageLoad    = errors.New("image load failed")
	ErrNoTransport  = errors.New("no transport configured")
	ErrNoLoader     = errors.New("no image loader configured")
	ErrInvalidInput = errors.New("invalid worker input")
)

// JobError is a job failure reported by the worker with status reject
type JobError struct {
	JobID  JobID
	Action Action
	// Data is the raw error payload sent by the worker.
	Data json.RawMessage
}

func (e *JobError) Error() string {
	return fmt.Sprintf("%s job %s rejected: %s", e.Action, e.JobID, e.Reason())
}

// Reason returns the error payload as text. A JSON string payload is unquoted.
func (e *JobError) Reason() string {
	var s string
	if err := json.Unmarshal(e.Data, &s); err == nil {
		return s
	}
	return string(e.Data)
}

// Unsupported reports whether the worker rejected the action because its
// engine lacks it
func (e *JobError) Unsupported() bool {
	return strings.HasSuffix(e.Reason(), UnsupportedReason)
}

// TransportError is a channel-level failure with no job attribution
type TransportError struct {
	WorkerID string
	Err      error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("worker %s transport: %v", e.WorkerID, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// ImageLoadError is returned when an image input cannot be read or is unsupported
type ImageLoadError struct {
	Source string
	Err    error
}

func (e *ImageLoadError) Error() string {
	return fmt.Sprintf("load image %s: %v", e.Source, e.Err)
}

func (e *ImageLoadError) Unwrap() []error {
	return []error{ErrImageLoad, e.Err}
}
