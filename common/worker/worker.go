// Package worker drives one opaque OCR worker over a message channel.
//
// A Handle spawns the worker through a Transport, loads it, and then turns
// every public call into a Job whose response is correlated back to the caller
// by a single demultiplexing goroutine.
package worker

// JobID represents a unique identifier for a worker job
type JobID string

// Action selects which job handler the worker runs
type Action string

const (
	ActionLoad          Action = "load"
	ActionFS            Action = "FS"
	ActionLoadLanguage  Action = "loadLanguage"
	ActionInitialize    Action = "initialize"
	ActionSetParameters Action = "setParameters"
	ActionRecognize     Action = "recognize"
	ActionThreshold     Action = "threshold"
	ActionGetPDF        Action = "getPDF"
	ActionDetect        Action = "detect"
)

var actions = map[Action]struct{}{
	ActionLoad:          {},
	ActionFS:            {},
	ActionLoadLanguage:  {},
	ActionInitialize:    {},
	ActionSetParameters: {},
	ActionRecognize:     {},
	ActionThreshold:     {},
	ActionGetPDF:        {},
	ActionDetect:        {},
}

// Valid reports whether a is one of the actions understood by the worker protocol
func (a Action) Valid() bool {
	_, ok := actions[a]
	return ok
}

// Status is the outcome tag carried by every inbound message
type Status string

const (
	StatusResolve  Status = "resolve"
	StatusReject   Status = "reject"
	StatusProgress Status = "progress"
)

// State represents the lifecycle state of a Handle
type State int32

const (
	StateSpawning State = iota
	StateLoading
	StateReady
	StateBusy
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateSpawning:
		return "spawning"
	case StateLoading:
		return "loading"
	case StateReady:
		return "ready"
	case StateBusy:
		return "busy"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

const (
	// DefaultOEM selects the LSTM-only engine.
	DefaultOEM = 1
	// DefaultLanguage is used when no language is given to LoadLanguage or Initialize.
	DefaultLanguage = "eng"
	// DefaultPDFTitle is used when GetPDF is called with an empty title.
	DefaultPDFTitle = "Tesseract OCR Result"
)
