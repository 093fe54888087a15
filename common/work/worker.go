package work

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/lo"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

var (
	ErrInvalidWorkerCount = errors.New("invalid worker count")
	ErrInvalidChannelSize = errors.New("invalid channel size")
	ErrNoFactory          = errors.New("no handle factory")
	ErrPoolStopped        = errors.New("worker pool has been stopped")
	ErrPoolNotStarted     = errors.New("worker pool has not been started")
	ErrTaskTimeout        = errors.New("task execution timeout")
	ErrQueueFull          = errors.New("task queue is full")
)

// Executor is a unit of work run against one worker handle
type Executor interface {
	ExecutorID() string
	Execute(ctx context.Context, h *worker.Handle) error
	// Settle is called exactly once with the final outcome, also for tasks
	// dropped when the pool stops
	Settle(err error)
	Timeout() time.Duration // 0 means use pool default
}

// Factory creates a ready handle. The pool passes options it needs on every
// handle, the factory appends its own.
type Factory func(ctx context.Context, opts ...worker.Option) (*worker.Handle, error)

// Registry records the handles a pool runs
type Registry interface {
	Register(ctx context.Context, workerID string) error
	Heartbeat(ctx context.Context, workerID string) (bool, error)
	Unregister(ctx context.Context, workerID string) error
}

// PoolConfig holds configuration for the worker pool
type PoolConfig struct {
	NumWorkers        int
	TaskChannelSize   int
	TaskTimeout       time.Duration // Default timeout for tasks
	ShutdownTimeout   time.Duration // Timeout for graceful shutdown
	HeartbeatInterval time.Duration // How often running handles are re-registered
}

// DefaultPoolConfig returns a sensible default configuration
func DefaultPoolConfig() PoolConfig {
	return PoolConfig{
		NumWorkers:        2,
		TaskChannelSize:   100,
		TaskTimeout:       5 * time.Minute,
		ShutdownTimeout:   10 * time.Second,
		HeartbeatInterval: time.Minute,
	}
}

type PoolOption func(*Pool)

// WithRegistry records every handle of the pool in r
func WithRegistry(r Registry) PoolOption {
	return func(p *Pool) {
		p.registry = r
	}
}

// slot owns one handle and the goroutine that feeds it
type slot struct {
	index  int
	mu     sync.Mutex
	handle *worker.Handle
	broken atomic.Bool
	busy   atomic.Bool
}

func (s *slot) current() *worker.Handle {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.handle
}

// Pool runs a fixed number of worker handles, each drained by its own
// goroutine from a shared task queue.
type Pool struct {
	config   PoolConfig
	factory  Factory
	registry Registry
	tasks    chan Executor
	quit     chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
	slots    []*slot

	// Metrics
	activeWorkers  int64
	tasksQueued    int64
	tasksCompleted int64
	tasksFailed    int64
	respawns       int64

	// State
	started bool
	stopped bool
	mu      sync.RWMutex
}

// NewPool creates a pool whose handles come from factory
func NewPool(config PoolConfig, factory Factory, opts ...PoolOption) (*Pool, error) {
	if config.NumWorkers <= 0 {
		return nil, ErrInvalidWorkerCount
	}
	if config.TaskChannelSize < 0 {
		return nil, ErrInvalidChannelSize
	}
	if factory == nil {
		return nil, ErrNoFactory
	}
	if config.TaskTimeout <= 0 {
		config.TaskTimeout = 5 * time.Minute
	}
	if config.ShutdownTimeout <= 0 {
		config.ShutdownTimeout = 10 * time.Second
	}
	if config.HeartbeatInterval <= 0 {
		config.HeartbeatInterval = time.Minute
	}

	p := &Pool{
		config:  config,
		factory: factory,
		tasks:   make(chan Executor, config.TaskChannelSize),
		quit:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p, nil
}

// Start creates every handle and starts feeding them. When a handle cannot
// be created the ones already created are terminated and the error returned.
func (p *Pool) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if p.started {
		return nil
	}

	slots := make([]*slot, 0, p.config.NumWorkers)
	for i := 0; i < p.config.NumWorkers; i++ {
		s := &slot{index: i}
		h, err := p.spawn(ctx, s)
		if err != nil {
			for _, created := range slots {
				p.release(created.current())
			}
			return err
		}
		s.handle = h
		slots = append(slots, s)
	}
	p.slots = slots
	p.started = true

	for _, s := range slots {
		p.wg.Add(1)
		go p.run(ctx, s)
	}
	if p.registry != nil {
		go p.heartbeat(ctx)
	}

	log.Info().
		Int("numWorkers", p.config.NumWorkers).
		Strs("workers", lo.Map(slots, func(s *slot, _ int) string { return s.handle.ID() })).
		Msg("Worker pool started")
	return nil
}

func (p *Pool) spawn(ctx context.Context, s *slot) (*worker.Handle, error) {
	s.broken.Store(false)
	h, err := p.factory(ctx, worker.WithTransportErrorHandler(func(err error) {
		log.Warn().Err(err).Int("slot", s.index).Msg("Worker transport failed, handle will be replaced")
		s.broken.Store(true)
	}))
	if err != nil {
		if h != nil {
			_ = h.Terminate()
		}
		return nil, err
	}
	if p.registry != nil {
		if err := p.registry.Register(ctx, h.ID()); err != nil {
			log.Warn().Err(err).Str("workerId", h.ID()).Msg("Failed to register worker")
		}
	}
	return h, nil
}

func (p *Pool) release(h *worker.Handle) {
	if h == nil {
		return
	}
	if err := h.Terminate(); err != nil {
		log.Warn().Err(err).Str("workerId", h.ID()).Msg("Failed to terminate worker")
	}
	if p.registry != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := p.registry.Unregister(ctx, h.ID()); err != nil {
			log.Warn().Err(err).Str("workerId", h.ID()).Msg("Failed to unregister worker")
		}
	}
}

// ready returns the slot's handle, replacing it first when its transport
// failed or it was terminated
func (p *Pool) ready(ctx context.Context, s *slot) (*worker.Handle, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.broken.Load() && s.handle != nil && s.handle.State() != worker.StateTerminated {
		return s.handle, nil
	}

	old := s.handle
	s.handle = nil
	p.release(old)

	h, err := p.spawn(ctx, s)
	if err != nil {
		return nil, err
	}
	s.handle = h
	atomic.AddInt64(&p.respawns, 1)
	log.Info().Int("slot", s.index).Str("workerId", h.ID()).Msg("Worker replaced")
	return h, nil
}

func (p *Pool) run(ctx context.Context, s *slot) {
	defer p.wg.Done()
	atomic.AddInt64(&p.activeWorkers, 1)
	defer atomic.AddInt64(&p.activeWorkers, -1)

	for {
		select {
		case <-ctx.Done():
			log.Info().Int("slot", s.index).Msg("Worker loop stopped due to context cancellation")
			return
		case <-p.quit:
			log.Debug().Int("slot", s.index).Msg("Worker loop stopped due to pool shutdown")
			return
		case task := <-p.tasks:
			p.executeTask(ctx, s, task)
		}
	}
}

// executeTask executes a single task with proper error handling and timeout
func (p *Pool) executeTask(ctx context.Context, s *slot, task Executor) {
	taskID := task.ExecutorID()
	startTime := time.Now()

	timeout := p.config.TaskTimeout
	if taskTimeout := task.Timeout(); taskTimeout > 0 {
		timeout = taskTimeout
	}
	taskCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	s.busy.Store(true)
	defer s.busy.Store(false)

	h, err := p.ready(taskCtx, s)
	if err == nil {
		log.Debug().
			Str("workerId", h.ID()).
			Str("taskID", taskID).
			Dur("timeout", timeout).
			Msg("Executing task")
		err = task.Execute(taskCtx, h)
	}

	if err != nil && (errors.Is(err, context.DeadlineExceeded) || errors.Is(taskCtx.Err(), context.DeadlineExceeded)) {
		err = ErrTaskTimeout
	}
	var transportErr *worker.TransportError
	if errors.As(err, &transportErr) || errors.Is(err, worker.ErrTerminated) {
		s.broken.Store(true)
	}

	atomic.AddInt64(&p.tasksCompleted, 1)
	if err != nil {
		atomic.AddInt64(&p.tasksFailed, 1)
	}
	task.Settle(err)

	log.Debug().
		Int("slot", s.index).
		Str("taskID", taskID).
		Dur("duration", time.Since(startTime)).
		Bool("success", err == nil).
		Msg("Task completed")
}

func (p *Pool) heartbeat(ctx context.Context) {
	ticker := time.NewTicker(p.config.HeartbeatInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-p.quit:
			return
		case <-ticker.C:
			for _, s := range p.slots {
				h := s.current()
				if h == nil {
					continue
				}
				ok, err := p.registry.Heartbeat(ctx, h.ID())
				if err != nil {
					log.Warn().Err(err).Str("workerId", h.ID()).Msg("Worker heartbeat failed")
					continue
				}
				if !ok {
					if err := p.registry.Register(ctx, h.ID()); err != nil {
						log.Warn().Err(err).Str("workerId", h.ID()).Msg("Failed to re-register worker")
					}
				}
			}
		}
	}
}

// AddTask queues a task, blocking while the queue is full
func (p *Pool) AddTask(ctx context.Context, task Executor) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		return ErrPoolNotStarted
	}

	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.tasksQueued, 1)
		return nil
	case <-p.quit:
		return ErrPoolStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// AddTaskNonBlocking queues a task or fails with ErrQueueFull
func (p *Pool) AddTaskNonBlocking(task Executor) error {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.stopped {
		return ErrPoolStopped
	}
	if !p.started {
		return ErrPoolNotStarted
	}

	select {
	case p.tasks <- task:
		atomic.AddInt64(&p.tasksQueued, 1)
		return nil
	default:
		return ErrQueueFull
	}
}

// Stop waits for running tasks, rejects queued ones with ErrPoolStopped and
// terminates every handle
func (p *Pool) Stop() {
	p.mu.Lock()
	if p.stopped {
		p.mu.Unlock()
		return
	}
	p.stopped = true
	p.mu.Unlock()

	p.stopOnce.Do(func() {
		close(p.quit)

		done := make(chan struct{})
		go func() {
			p.wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			log.Info().Msg("All workers stopped gracefully")
		case <-time.After(p.config.ShutdownTimeout):
			log.Warn().Dur("timeout", p.config.ShutdownTimeout).Msg("Shutdown timeout exceeded")
		}

		for drained := false; !drained; {
			select {
			case task := <-p.tasks:
				task.Settle(ErrPoolStopped)
			default:
				drained = true
			}
		}

		for _, s := range p.slots {
			p.release(s.current())
		}
	})
}

// Stats returns pool statistics
func (p *Pool) Stats() PoolStats {
	return PoolStats{
		ActiveWorkers:  atomic.LoadInt64(&p.activeWorkers),
		TasksQueued:    atomic.LoadInt64(&p.tasksQueued),
		TasksCompleted: atomic.LoadInt64(&p.tasksCompleted),
		TasksFailed:    atomic.LoadInt64(&p.tasksFailed),
		TasksInQueue:   int64(len(p.tasks)),
		Respawns:       atomic.LoadInt64(&p.respawns),
	}
}

// PoolStats holds statistics about the pool
type PoolStats struct {
	ActiveWorkers  int64 `json:"activeWorkers"`
	TasksQueued    int64 `json:"tasksQueued"`
	TasksCompleted int64 `json:"tasksCompleted"`
	TasksFailed    int64 `json:"tasksFailed"`
	TasksInQueue   int64 `json:"tasksInQueue"`
	Respawns       int64 `json:"respawns"`
}

// WorkerInfo describes one handle of the pool
type WorkerInfo struct {
	Slot    int    `json:"slot"`
	ID      string `json:"id"`
	State   string `json:"state"`
	Pending int    `json:"pending"`
	Busy    bool   `json:"busy"`
}

// Workers lists the handles of the pool
func (p *Pool) Workers() []WorkerInfo {
	p.mu.RLock()
	slots := p.slots
	p.mu.RUnlock()

	return lo.FilterMap(slots, func(s *slot, _ int) (WorkerInfo, bool) {
		h := s.current()
		if h == nil {
			return WorkerInfo{}, false
		}
		return WorkerInfo{
			Slot:    s.index,
			ID:      h.ID(),
			State:   h.State().String(),
			Pending: h.Pending(),
			Busy:    s.busy.Load(),
		}, true
	})
}
