package worker

import (
	"encoding/json"
)

// Progress is forwarded to the configured Logger for every progress message
type Progress struct {
	WorkerID  string  `json:"workerId"`
	JobID     JobID   `json:"jobId"`
	Status    string  `json:"status"`
	Progress  float64 `json:"progress"`
	UserJobID JobID   `json:"userJobId"`
	// Fields holds every key the worker sent, including ones not mapped above.
	Fields map[string]any `json:"-"`
}

func decodeProgress(msg Message) Progress {
	p := Progress{}
	_ = json.Unmarshal(msg.Data, &p)
	_ = json.Unmarshal(msg.Data, &p.Fields)
	if p.WorkerID == "" {
		p.WorkerID = msg.WorkerID
	}
	p.UserJobID = msg.JobID
	return p
}

// Option configures a Handle
type Option func(*options)

type options struct {
	spawn                 SpawnOptions
	logger                func(Progress)
	errorHandler          func(error)
	transportErrorHandler func(error)
	loader                ImageLoader
	workerIDs             IDGenerator
	jobIDs                IDGenerator
	keyMode               KeyMode
	observer              Observer
}

func newOptions(opts ...Option) options {
	o := options{
		spawn:     DefaultSpawnOptions(),
		workerIDs: DefaultWorkerIDs,
		jobIDs:    NewCounterIDGenerator("Job"),
		keyMode:   KeyByJob,
		observer:  LogObserver{},
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// WithSpawnOptions sets the options passed to the transport and the load job
func WithSpawnOptions(spawn SpawnOptions) Option {
	return func(o *options) {
		o.spawn = spawn
	}
}

// WithLogger sets the callback invoked for every progress message
func WithLogger(fn func(Progress)) Option {
	return func(o *options) {
		o.logger = fn
	}
}

// WithErrorHandler sets the callback invoked with every job rejection after
// the job itself has been rejected. Without one, a rejection is fatal.
func WithErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.errorHandler = fn
	}
}

// WithTransportErrorHandler sets the callback for transport failures that
// happen after the worker became ready
func WithTransportErrorHandler(fn func(error)) Option {
	return func(o *options) {
		o.transportErrorHandler = fn
	}
}

// WithImageLoader sets the loader used by Recognize, Threshold and Detect
func WithImageLoader(loader ImageLoader) Option {
	return func(o *options) {
		o.loader = loader
	}
}

// WithWorkerIDs overrides the process-wide worker id generator
func WithWorkerIDs(ids IDGenerator) Option {
	return func(o *options) {
		o.workerIDs = ids
	}
}

// WithJobIDs overrides the generator used for jobs without an explicit id
func WithJobIDs(ids IDGenerator) Option {
	return func(o *options) {
		o.jobIDs = ids
	}
}

// WithActionKeyedRegistry correlates responses by action instead of job id.
// Two concurrent jobs of the same action then race and the first one never
// settles.
func WithActionKeyedRegistry() Option {
	return func(o *options) {
		o.keyMode = KeyByAction
	}
}

// WithObserver adds an observer next to the default log observer. LogObserver
// entries in obs are dropped so events are logged once.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if extra := withoutLogObserver(obs); extra != nil {
			o.observer = Observers{o.observer, extra}
		}
	}
}

func withoutLogObserver(obs Observer) Observer {
	switch v := obs.(type) {
	case nil, LogObserver, *LogObserver:
		return nil
	case Observers:
		var out Observers
		for _, inner := range v {
			if inner = withoutLogObserver(inner); inner != nil {
				out = append(out, inner)
			}
		}
		if len(out) == 0 {
			return nil
		}
		return out
	default:
		return obs
	}
}
