package worker

import (
	"sync"
	"time"

	"github.com/samber/mo"
)

// KeyMode selects how pending continuations are correlated with responses
type KeyMode int

const (
	// KeyByJob correlates by job id. Any number of jobs may be in flight.
	KeyByJob KeyMode = iota
	// KeyByAction correlates by action. A second call for an action that is
	// still pending overwrites the first, whose future then never settles.
	KeyByAction
)

// continuation settles one pending job
type continuation struct {
	job     Job
	started time.Time
	resolve func(Response)
	reject  func(error)
}

// registry maps in-flight keys to their continuations
type registry struct {
	mode    KeyMode
	mu      sync.Mutex
	pending map[string]continuation
}

func newRegistry(mode KeyMode) *registry {
	return &registry{
		mode:    mode,
		pending: make(map[string]continuation),
	}
}

func (r *registry) key(jobID JobID, action Action) string {
	if r.mode == KeyByAction {
		return string(action)
	}
	return string(jobID)
}

// set registers c, overwriting any continuation already stored under its key
func (r *registry) set(c continuation) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.pending[r.key(c.job.ID, c.job.Action)] = c
}

// take removes and returns the continuation matching an inbound message
func (r *registry) take(jobID JobID, action Action) mo.Option[continuation] {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(jobID, action)
	c, ok := r.pending[k]
	if !ok {
		return mo.None[continuation]()
	}
	delete(r.pending, k)
	return mo.Some(c)
}

// drop removes the continuation of job if it is still the one registered
func (r *registry) drop(job Job) {
	r.mu.Lock()
	defer r.mu.Unlock()
	k := r.key(job.ID, job.Action)
	if c, ok := r.pending[k]; ok && c.job.ID == job.ID {
		delete(r.pending, k)
	}
}

func (r *registry) len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.pending)
}
