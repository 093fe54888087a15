// Package ocrworker is the worker side of the job protocol. It answers the
// envelopes sent by a worker.Handle using an OCR Engine.
package ocrworker

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"

	"github.com/samber/lo"

	"github.com/LexiconIndonesia/ocr-worker-service/common/hocr"
	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/inproc"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/rs/zerolog/log"
)

var (
	ErrNotLoaded   = errors.New("worker is not loaded")
	ErrUnsupported = errors.New(worker.UnsupportedReason)
	ErrNoSuchFile  = errors.New("no such file")
)

// Engine is the recognition backend of a worker
type Engine interface {
	// Load applies the spawn options, e.g. where trained data lives
	Load(opts worker.SpawnOptions) error
	// Languages lists the trained data available to the engine
	Languages() ([]string, error)
	SetLanguage(langs ...string) error
	SetVariable(name, value string) error
	SetPageSegMode(mode int) error
	// Recognize returns the plain text and the hOCR of image
	Recognize(ctx context.Context, image []byte) (text string, hocr string, err error)
	Version() string
	Close() error
}

// PDFRenderer is implemented by engines that can render the last
// recognition as a PDF
type PDFRenderer interface {
	RenderPDF(ctx context.Context, title string, textOnly bool) ([]byte, error)
}

// Detector is implemented by engines with orientation and script detection
type Detector interface {
	Detect(ctx context.Context, image []byte) (worker.Detection, error)
}

// Thresholder is implemented by engines that expose their binarized input
type Thresholder interface {
	Threshold(ctx context.Context, image []byte) ([]byte, error)
}

const pageSegModeParam = "tessedit_pageseg_mode"

// Worker serves one Handle. Envelopes are handled one at a time.
type Worker struct {
	engine Engine

	mu     sync.Mutex
	loaded bool
	langs  []string
	oem    int
	psm    int
	files  map[string][]byte
}

func New(engine Engine) *Worker {
	return &Worker{
		engine: engine,
		langs:  []string{worker.DefaultLanguage},
		oem:    worker.DefaultOEM,
		psm:    3,
		files:  map[string][]byte{},
	}
}

// Handle is an inproc.WorkerFunc
func (w *Worker) Handle(ctx context.Context, env worker.Envelope, emit func(worker.Message)) {
	w.mu.Lock()
	defer w.mu.Unlock()

	data, err := w.dispatch(ctx, env, emit)
	if err != nil {
		log.Debug().Err(err).Str("jobId", string(env.JobID)).Str("action", string(env.Action)).Msg("Job rejected")
		emit(inproc.Reject(env, err.Error()))
		return
	}
	emit(inproc.Resolve(env, data))
}

func (w *Worker) dispatch(ctx context.Context, env worker.Envelope, emit func(worker.Message)) (any, error) {
	if env.Action == worker.ActionLoad {
		return w.load(env)
	}
	if !w.loaded {
		return nil, ErrNotLoaded
	}

	switch env.Action {
	case worker.ActionFS:
		return w.fs(env)
	case worker.ActionLoadLanguage:
		return w.loadLanguage(env, emit)
	case worker.ActionInitialize:
		return w.initialize(env, emit)
	case worker.ActionSetParameters:
		return w.setParameters(env)
	case worker.ActionRecognize:
		return w.recognize(ctx, env, emit)
	case worker.ActionGetPDF:
		return w.getPDF(ctx, env)
	case worker.ActionDetect:
		return w.detect(ctx, env)
	case worker.ActionThreshold:
		return w.threshold(ctx, env)
	default:
		return nil, fmt.Errorf("unknown action %q", env.Action)
	}
}

func (w *Worker) load(env worker.Envelope) (any, error) {
	var p worker.LoadPayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	if err := w.engine.Load(p.Options); err != nil {
		return nil, fmt.Errorf("load engine: %w", err)
	}
	w.loaded = true
	return map[string]any{"loaded": true}, nil
}

func (w *Worker) fs(env worker.Envelope) (any, error) {
	var p worker.FSPayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	path, _ := lo.Nth(p.Args, 0)
	name, ok := path.(string)
	if !ok || name == "" {
		return nil, fmt.Errorf("%s: missing path argument", p.Method)
	}

	switch p.Method {
	case "writeFile":
		content, _ := lo.Nth(p.Args, 1)
		switch v := content.(type) {
		case string:
			w.files[name] = []byte(v)
		case []any:
			buf := make([]byte, len(v))
			for i, b := range v {
				n, _ := b.(float64)
				buf[i] = byte(n)
			}
			w.files[name] = buf
		default:
			return nil, fmt.Errorf("writeFile: unsupported content %T", content)
		}
		return true, nil
	case "readFile":
		data, ok := w.files[name]
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, name)
		}
		opts, _ := lo.Nth(p.Args, 1)
		if m, ok := opts.(map[string]any); ok && m["encoding"] != nil {
			return string(data), nil
		}
		return lo.Map(data, func(b byte, _ int) int { return int(b) }), nil
	case "unlink":
		if _, ok := w.files[name]; !ok {
			return nil, fmt.Errorf("%w: %s", ErrNoSuchFile, name)
		}
		delete(w.files, name)
		return true, nil
	default:
		return nil, fmt.Errorf("FS method %q: %w", p.Method, ErrUnsupported)
	}
}

func splitLangs(langs string) []string {
	return lo.Compact(lo.Map(strings.Split(langs, "+"), func(l string, _ int) string {
		return strings.TrimSpace(l)
	}))
}

func (w *Worker) loadLanguage(env worker.Envelope, emit func(worker.Message)) (any, error) {
	var p worker.LoadLanguagePayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	langs := splitLangs(p.Langs)
	emit(inproc.Progress(env, "loading language traineddata", 0))

	available, err := w.engine.Languages()
	if err != nil {
		log.Warn().Err(err).Msg("Could not list trained data, skipping language check")
	} else if missing := lo.Without(langs, available...); len(missing) > 0 {
		return nil, fmt.Errorf("trained data not found for %s", strings.Join(missing, "+"))
	}

	emit(inproc.Progress(env, "loaded language traineddata", 1))
	return map[string]any{"loaded": true}, nil
}

func (w *Worker) initialize(env worker.Envelope, emit func(worker.Message)) (any, error) {
	var p worker.InitializePayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	langs := splitLangs(p.Langs)
	if len(langs) == 0 {
		langs = []string{worker.DefaultLanguage}
	}

	emit(inproc.Progress(env, "initializing api", 0))
	if err := w.engine.SetLanguage(langs...); err != nil {
		return nil, fmt.Errorf("set language: %w", err)
	}
	w.langs = langs
	w.oem = p.OEM
	emit(inproc.Progress(env, "initialized api", 1))
	return map[string]any{"langs": strings.Join(langs, "+"), "oem": p.OEM}, nil
}

func (w *Worker) setParameters(env worker.Envelope) (any, error) {
	var p worker.SetParametersPayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	for name, value := range p.Params {
		text := fmt.Sprint(value)
		if name == pageSegModeParam {
			mode, err := strconv.Atoi(text)
			if err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			if err := w.engine.SetPageSegMode(mode); err != nil {
				return nil, fmt.Errorf("%s: %w", name, err)
			}
			w.psm = mode
			continue
		}
		if err := w.engine.SetVariable(name, text); err != nil {
			return nil, fmt.Errorf("%s: %w", name, err)
		}
	}
	return map[string]any{"set": len(p.Params)}, nil
}

func (w *Worker) image(env worker.Envelope) ([]byte, error) {
	var p worker.ImagePayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	if len(p.Image) == 0 {
		return nil, errors.New("empty image")
	}
	return p.Image, nil
}

func (w *Worker) recognize(ctx context.Context, env worker.Envelope, emit func(worker.Message)) (any, error) {
	img, err := w.image(env)
	if err != nil {
		return nil, err
	}

	emit(inproc.Progress(env, "recognizing text", 0))
	text, hocrText, err := w.engine.Recognize(ctx, img)
	if err != nil {
		return nil, fmt.Errorf("recognize: %w", err)
	}

	doc, err := hocr.Parse(hocrText)
	if err != nil {
		return nil, err
	}
	page := doc.Page()
	page.Text = text
	page.HOCR = hocrText
	page.Version = w.engine.Version()
	page.OEM = strconv.Itoa(w.oem)
	page.PSM = strconv.Itoa(w.psm)
	emit(inproc.Progress(env, "recognizing text", 1))
	return page, nil
}

func (w *Worker) getPDF(ctx context.Context, env worker.Envelope) (any, error) {
	renderer, ok := w.engine.(PDFRenderer)
	if !ok {
		return nil, fmt.Errorf("getPDF: %w", ErrUnsupported)
	}
	var p worker.GetPDFPayload
	if err := inproc.DecodePayload(env, &p); err != nil {
		return nil, err
	}
	pdf, err := renderer.RenderPDF(ctx, p.Title, p.TextOnly)
	if err != nil {
		return nil, err
	}
	// binary results travel as an index to byte map
	return lo.SliceToMap(lo.Range(len(pdf)), func(i int) (string, int) {
		return strconv.Itoa(i), int(pdf[i])
	}), nil
}

func (w *Worker) detect(ctx context.Context, env worker.Envelope) (any, error) {
	detector, ok := w.engine.(Detector)
	if !ok {
		return nil, fmt.Errorf("detect: %w", ErrUnsupported)
	}
	img, err := w.image(env)
	if err != nil {
		return nil, err
	}
	return detector.Detect(ctx, img)
}

func (w *Worker) threshold(ctx context.Context, env worker.Envelope) (any, error) {
	thresholder, ok := w.engine.(Thresholder)
	if !ok {
		return nil, fmt.Errorf("threshold: %w", ErrUnsupported)
	}
	img, err := w.image(env)
	if err != nil {
		return nil, err
	}
	return thresholder.Threshold(ctx, img)
}

// Close releases the engine
func (w *Worker) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.engine.Close()
}
