package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/samber/mo"
)

// Handle owns one spawned worker and the jobs in flight on it
type Handle struct {
	id       string
	opts     options
	registry *registry
	inbox    *inbox
	state    stateBox

	// sendMu keeps envelopes in call order
	sendMu sync.Mutex
	// mu guards channel; nil channel means terminated
	mu      sync.Mutex
	channel Channel

	constructed   chan error
	constructOnce sync.Once
	done          chan struct{}
}

type stateBox struct {
	mu sync.RWMutex
	s  State
}

func (b *stateBox) load() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.s
}

func (b *stateBox) store(s State) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.s == StateTerminated {
		return
	}
	b.s = s
}

func (b *stateBox) terminate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.s = StateTerminated
}

// New spawns a worker through transport and waits until it has loaded.
//
// When the load job is rejected, New returns the handle together with a
// *JobError; the worker is left running and the caller should Terminate it.
// Transport failures before the worker is ready are returned as
// *TransportError.
func New(ctx context.Context, transport Transport, opts ...Option) (*Handle, error) {
	if transport == nil {
		return nil, ErrNoTransport
	}

	o := newOptions(opts...)
	h := &Handle{
		id:          o.workerIDs.Next(),
		opts:        o,
		registry:    newRegistry(o.keyMode),
		inbox:       newInbox(),
		constructed: make(chan error, 1),
		done:        make(chan struct{}),
	}

	channel, err := transport.Spawn(ctx, h.id, o.spawn)
	if err != nil {
		return nil, &TransportError{WorkerID: h.id, Err: err}
	}
	h.channel = channel
	channel.OnError(h.onTransportError)
	channel.OnMessage(h.inbox.push)
	go h.demux()

	h.state.store(StateLoading)
	log.Debug().Str("workerId", h.id).Msg("Loading worker")

	load := h.StartJob(BuildJob(o.jobIDs, "", ActionLoad, LoadPayload{Options: o.spawn}))
	go func() {
		_, err := load.Collect()
		var jobErr *JobError
		if !errors.As(err, &jobErr) {
			h.settleConstruction(err)
		}
	}()

	select {
	case err := <-h.constructed:
		if err != nil {
			return h, err
		}
		log.Info().Str("workerId", h.id).Msg("Worker ready")
		return h, nil
	case <-ctx.Done():
		return h, ctx.Err()
	}
}

// settleConstruction reports whether err decided the outcome of New. A
// successful load moves the handle to StateReady in the same step.
func (h *Handle) settleConstruction(err error) bool {
	settled := false
	h.constructOnce.Do(func() {
		if err == nil {
			h.state.store(StateReady)
		}
		h.constructed <- err
		settled = true
	})
	return settled
}

func (h *Handle) onTransportError(err error) {
	terr := &TransportError{WorkerID: h.id, Err: err}
	h.opts.observer.TransportFailed(h.id, terr)

	if s := h.state.load(); s == StateSpawning || s == StateLoading {
		if h.settleConstruction(terr) {
			return
		}
	}
	if h.opts.transportErrorHandler != nil {
		h.opts.transportErrorHandler(terr)
	}
}

// ID returns the worker id assigned at construction
func (h *Handle) ID() string {
	return h.id
}

// State returns the current lifecycle state. A ready handle with jobs in
// flight reports StateBusy.
func (h *Handle) State() State {
	s := h.state.load()
	if s == StateReady && h.registry.len() > 0 {
		return StateBusy
	}
	return s
}

// Pending returns the number of jobs awaiting a response
func (h *Handle) Pending() int {
	return h.registry.len()
}

// StartJob registers job and sends it to the worker. The returned future
// settles when the matching response arrives; it never settles if the
// worker stays silent or the handle is terminated first.
func (h *Handle) StartJob(job Job) *mo.Future[Response] {
	settled := make(chan mo.Result[Response], 1)
	err := h.dispatch(job, settled)

	return mo.NewFuture(func(resolve func(Response), reject func(error)) {
		if err != nil {
			reject(err)
			return
		}
		go func() {
			value, err := (<-settled).Get()
			if err != nil {
				reject(err)
				return
			}
			resolve(value)
		}()
	})
}

func (h *Handle) currentChannel() Channel {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.channel
}

func (h *Handle) dispatch(job Job, settled chan<- mo.Result[Response]) error {
	h.sendMu.Lock()
	defer h.sendMu.Unlock()

	channel := h.currentChannel()
	if channel == nil {
		return ErrTerminated
	}

	h.registry.set(continuation{
		job:     job,
		started: time.Now(),
		resolve: func(r Response) { settled <- mo.Ok(r) },
		reject:  func(err error) { settled <- mo.Err[Response](err) },
	})
	h.opts.observer.Dispatched(h.id, job)

	err := channel.Send(Envelope{
		WorkerID: h.id,
		JobID:    job.ID,
		Action:   job.Action,
		Payload:  job.Payload,
	})
	if err != nil {
		h.registry.drop(job)
		return &TransportError{WorkerID: h.id, Err: err}
	}
	return nil
}

// run starts a job and blocks until it settles or ctx is done
func (h *Handle) run(ctx context.Context, id JobID, action Action, payload any) (Response, error) {
	future := h.StartJob(BuildJob(h.opts.jobIDs, id, action, payload))

	result := make(chan mo.Result[Response], 1)
	go func() {
		result <- future.Result()
	}()

	select {
	case r := <-result:
		return r.Get()
	case <-ctx.Done():
		return Response{}, ctx.Err()
	}
}

func rawData(resp Response) json.RawMessage {
	if raw, ok := resp.Data.(json.RawMessage); ok {
		return raw
	}
	return nil
}

// FS runs a filesystem method inside the worker's virtual filesystem
func (h *Handle) FS(ctx context.Context, method string, args []any, id JobID) (json.RawMessage, error) {
	if args == nil {
		args = []any{}
	}
	resp, err := h.run(ctx, id, ActionFS, FSPayload{Method: method, Args: args})
	if err != nil {
		return nil, err
	}
	return rawData(resp), nil
}

// WriteText writes text to path in the worker's virtual filesystem
func (h *Handle) WriteText(ctx context.Context, path, text string, id JobID) error {
	_, err := h.FS(ctx, "writeFile", []any{path, text}, id)
	return err
}

// ReadText reads path from the worker's virtual filesystem as UTF-8 text
func (h *Handle) ReadText(ctx context.Context, path string, id JobID) (string, error) {
	data, err := h.FS(ctx, "readFile", []any{path, map[string]string{"encoding": "utf8"}}, id)
	if err != nil {
		return "", err
	}
	var text string
	if err := json.Unmarshal(data, &text); err != nil {
		return "", fmt.Errorf("decode %s: %w", path, err)
	}
	return text, nil
}

// RemoveFile deletes path from the worker's virtual filesystem
func (h *Handle) RemoveFile(ctx context.Context, path string, id JobID) error {
	_, err := h.FS(ctx, "unlink", []any{path}, id)
	return err
}

// LoadLanguage fetches trained data for langs, a "+" separated list
func (h *Handle) LoadLanguage(ctx context.Context, langs string, id JobID) error {
	if langs == "" {
		langs = DefaultLanguage
	}
	_, err := h.run(ctx, id, ActionLoadLanguage, LoadLanguagePayload{Langs: langs, Options: h.opts.spawn})
	return err
}

// Initialize prepares the engine for langs. A negative oem selects DefaultOEM.
func (h *Handle) Initialize(ctx context.Context, langs string, oem int, id JobID) error {
	if langs == "" {
		langs = DefaultLanguage
	}
	if oem < 0 {
		oem = DefaultOEM
	}
	_, err := h.run(ctx, id, ActionInitialize, InitializePayload{Langs: langs, OEM: oem})
	return err
}

// SetParameters sets engine variables
func (h *Handle) SetParameters(ctx context.Context, params map[string]any, id JobID) error {
	if params == nil {
		params = map[string]any{}
	}
	_, err := h.run(ctx, id, ActionSetParameters, SetParametersPayload{Params: params})
	return err
}

func (h *Handle) loadImage(ctx context.Context, input any) (Image, error) {
	if h.opts.loader != nil {
		return h.opts.loader.LoadImage(ctx, input)
	}
	switch v := input.(type) {
	case Image:
		return v, nil
	case []byte:
		return Image(v), nil
	default:
		return nil, &ImageLoadError{Source: fmt.Sprintf("%T", input), Err: ErrNoLoader}
	}
}

func (h *Handle) runImage(ctx context.Context, id JobID, action Action, input any, opts map[string]any) (Response, error) {
	img, err := h.loadImage(ctx, input)
	if err != nil {
		return Response{}, err
	}
	return h.run(ctx, id, action, ImagePayload{Image: img, Options: opts})
}

// Recognize runs OCR on image and returns the page with parent links restored
func (h *Handle) Recognize(ctx context.Context, image any, opts map[string]any, id JobID) (*Page, error) {
	resp, err := h.runImage(ctx, id, ActionRecognize, image, opts)
	if err != nil {
		return nil, err
	}
	page, ok := resp.Data.(*Page)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected recognize result %T", ErrInvalidInput, resp.Data)
	}
	return page, nil
}

// Threshold returns the binarized image produced by the worker
func (h *Handle) Threshold(ctx context.Context, image any, opts map[string]any, id JobID) (json.RawMessage, error) {
	resp, err := h.runImage(ctx, id, ActionThreshold, image, opts)
	if err != nil {
		return nil, err
	}
	return rawData(resp), nil
}

// GetPDF renders the last recognition as a PDF document
func (h *Handle) GetPDF(ctx context.Context, title string, textOnly bool, id JobID) ([]byte, error) {
	if title == "" {
		title = DefaultPDFTitle
	}
	resp, err := h.run(ctx, id, ActionGetPDF, GetPDFPayload{Title: title, TextOnly: textOnly})
	if err != nil {
		return nil, err
	}
	pdf, ok := resp.Data.([]byte)
	if !ok {
		return nil, fmt.Errorf("%w: unexpected getPDF result %T", ErrInvalidInput, resp.Data)
	}
	return pdf, nil
}

// Detect runs orientation and script detection on image
func (h *Handle) Detect(ctx context.Context, image any, id JobID) (*Detection, error) {
	resp, err := h.runImage(ctx, id, ActionDetect, image, nil)
	if err != nil {
		return nil, err
	}
	detection := &Detection{}
	if raw := rawData(resp); len(raw) > 0 {
		if err := json.Unmarshal(raw, detection); err != nil {
			return nil, fmt.Errorf("decode detect result: %w", err)
		}
	}
	return detection, nil
}

// Load is kept for compatibility; New already loads the worker.
//
// Deprecated: loading happens during New.
func (h *Handle) Load(id JobID) {
	log.Warn().
		Str("workerId", h.id).
		Str("jobId", string(id)).
		Msg("Load is deprecated and does nothing; the worker is loaded by New")
}

// Terminate stops the worker. Pending jobs are never settled. Calling it
// again is a no-op. It does not wait for a send in progress.
func (h *Handle) Terminate() error {
	h.mu.Lock()
	if h.channel == nil {
		h.mu.Unlock()
		return nil
	}
	channel := h.channel
	h.channel = nil
	h.state.terminate()
	close(h.done)
	h.mu.Unlock()

	log.Info().Str("workerId", h.id).Int("pending", h.registry.len()).Msg("Terminating worker")
	if err := channel.Terminate(); err != nil {
		return &TransportError{WorkerID: h.id, Err: err}
	}
	return nil
}
