package work

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/samber/mo"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Task implements Executor for a function returning T
type Task[T any] struct {
	ID           string
	execute      func(ctx context.Context, h *worker.Handle) (T, error)
	errorHandler func(error)
	timeout      time.Duration

	value T
	done  chan mo.Result[T]
}

// TaskOption represents a functional option for task configuration
type TaskOption[T any] func(*Task[T])

// WithID sets a custom ID for the task
func WithID[T any](id string) TaskOption[T] {
	return func(t *Task[T]) {
		t.ID = id
	}
}

// WithErrorHandler sets a custom error handler for the task
func WithErrorHandler[T any](handler func(error)) TaskOption[T] {
	return func(t *Task[T]) {
		t.errorHandler = handler
	}
}

// WithTimeout sets a custom timeout for the task
func WithTimeout[T any](timeout time.Duration) TaskOption[T] {
	return func(t *Task[T]) {
		t.timeout = timeout
	}
}

// NewTask creates a task that runs execute against one worker handle
func NewTask[T any](
	execute func(ctx context.Context, h *worker.Handle) (T, error),
	options ...TaskOption[T],
) (*Task[T], error) {
	id, err := uuid.NewV7()
	if err != nil {
		return nil, err
	}

	t := &Task[T]{
		ID:      id.String(),
		execute: execute,
		done:    make(chan mo.Result[T], 1),
	}
	for _, opt := range options {
		opt(t)
	}
	return t, nil
}

// ExecutorID returns the task ID
func (t *Task[T]) ExecutorID() string {
	return t.ID
}

// Execute runs the task and keeps its value until Settle
func (t *Task[T]) Execute(ctx context.Context, h *worker.Handle) error {
	value, err := t.execute(ctx, h)
	t.value = value
	return err
}

// Settle delivers the outcome to the future
func (t *Task[T]) Settle(err error) {
	if err != nil {
		if t.errorHandler != nil {
			t.errorHandler(err)
		}
		t.done <- mo.Err[T](err)
		return
	}
	t.done <- mo.Ok(t.value)
}

// Timeout returns the task timeout duration (0 means use pool default)
func (t *Task[T]) Timeout() time.Duration {
	return t.timeout
}

// Future resolves once the pool settles the task
func (t *Task[T]) Future() *mo.Future[T] {
	return mo.NewFuture(func(resolve func(T), reject func(error)) {
		go func() {
			r := <-t.done
			if r.IsError() {
				reject(r.Error())
				return
			}
			resolve(r.MustGet())
		}()
	})
}

// Submit queues execute on the pool and returns its future. The function
// runs against a single handle, so calls it makes are serialized with every
// other task on that handle.
func Submit[T any](
	ctx context.Context,
	p *Pool,
	execute func(ctx context.Context, h *worker.Handle) (T, error),
	options ...TaskOption[T],
) *mo.Future[T] {
	t, err := NewTask(execute, options...)
	if err == nil {
		err = p.AddTask(ctx, t)
	}
	if err != nil {
		return mo.NewFuture(func(resolve func(T), reject func(error)) {
			reject(err)
		})
	}
	return t.Future()
}
