package ocrworker

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/transport/inproc"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

const pageHOCR = `<div class='ocr_page' id='page_1' title='bbox 0 0 200 100'>
 <div class='ocr_carea' id='block_1_1' title='bbox 10 10 190 40'>
  <p class='ocr_par' id='par_1_1' lang='eng' title='bbox 10 10 190 40'>
   <span class='ocr_line' id='line_1_1' title='bbox 10 10 190 40'>
    <span class='ocrx_word' id='word_1_1' title='bbox 10 10 90 40; x_wconf 90'>Hello</span>
    <span class='ocrx_word' id='word_1_2' title='bbox 100 10 190 40; x_wconf 80'>world</span>
   </span>
  </p>
 </div>
</div>`

type fakeEngine struct {
	mu        sync.Mutex
	langs     []string
	variables map[string]string
	psm       int
	loadedAt  string
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{variables: map[string]string{}}
}

func (e *fakeEngine) Load(opts worker.SpawnOptions) error {
	e.loadedAt = opts.LangPath
	return nil
}

func (e *fakeEngine) Languages() ([]string, error) {
	return []string{"eng", "ind"}, nil
}

func (e *fakeEngine) SetLanguage(langs ...string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.langs = langs
	return nil
}

func (e *fakeEngine) SetVariable(name, value string) error {
	if name == "bogus" {
		return errors.New("unknown variable")
	}
	e.variables[name] = value
	return nil
}

func (e *fakeEngine) SetPageSegMode(mode int) error {
	e.psm = mode
	return nil
}

func (e *fakeEngine) Recognize(ctx context.Context, image []byte) (string, string, error) {
	return "Hello world\n", pageHOCR, nil
}

func (e *fakeEngine) Version() string { return "5.3.0" }

func (e *fakeEngine) Close() error { return nil }

type pdfEngine struct {
	*fakeEngine
}

func (e pdfEngine) RenderPDF(ctx context.Context, title string, textOnly bool) ([]byte, error) {
	return []byte("%PDF-" + title), nil
}

func startHandle(t *testing.T, engine Engine) *worker.Handle {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	w := New(engine)
	spawn := worker.DefaultSpawnOptions()
	spawn.LangPath = "/usr/share/tessdata"
	h, err := worker.New(ctx, inproc.New(w.Handle, 0),
		worker.WithSpawnOptions(spawn),
		worker.WithErrorHandler(func(error) {}),
	)
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	t.Cleanup(func() {
		_ = h.Terminate()
		_ = w.Close()
	})
	return h
}

func TestRecognizeBuildsPage(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	h := startHandle(t, engine)

	if engine.loadedAt != "/usr/share/tessdata" {
		t.Errorf("Expected spawn options to reach the engine, got %q", engine.loadedAt)
	}
	if err := h.Initialize(ctx, "eng+ind", -1, ""); err != nil {
		t.Fatalf("Initialize: %v", err)
	}
	if strings.Join(engine.langs, "+") != "eng+ind" {
		t.Errorf("Expected eng+ind, got %v", engine.langs)
	}

	page, err := h.Recognize(ctx, []byte{0x89, 'P', 'N', 'G'}, nil, "")
	if err != nil {
		t.Fatalf("Recognize: %v", err)
	}
	if page.Text != "Hello world\n" || page.Version != "5.3.0" || page.OEM != "1" {
		t.Errorf("Unexpected page %+v", page)
	}
	if len(page.Words) != 2 {
		t.Fatalf("Expected 2 words, got %d", len(page.Words))
	}
	if page.Words[1].Line == nil || page.Words[1].Line.Confidence != 85 {
		t.Errorf("Expected parent links and line confidence 85, got %+v", page.Words[1].Line)
	}
	if page.Confidence != 85 {
		t.Errorf("Expected page confidence 85, got %v", page.Confidence)
	}
}

func TestVirtualFilesystem(t *testing.T) {
	ctx := context.Background()
	h := startHandle(t, newFakeEngine())

	if err := h.WriteText(ctx, "words.txt", "lexicon", ""); err != nil {
		t.Fatalf("WriteText: %v", err)
	}
	text, err := h.ReadText(ctx, "words.txt", "")
	if err != nil || text != "lexicon" {
		t.Errorf("Expected lexicon, got %q (%v)", text, err)
	}
	raw, err := h.FS(ctx, "readFile", []any{"words.txt"}, "")
	if err != nil || string(raw) != "[108,101,120,105,99,111,110]" {
		t.Errorf("Expected byte values, got %s (%v)", raw, err)
	}
	if err := h.RemoveFile(ctx, "words.txt", ""); err != nil {
		t.Fatalf("RemoveFile: %v", err)
	}

	_, err = h.ReadText(ctx, "words.txt", "")
	var jobErr *worker.JobError
	if !errors.As(err, &jobErr) || !strings.Contains(jobErr.Reason(), "no such file") {
		t.Errorf("Expected no such file rejection, got %v", err)
	}

	if _, err := h.FS(ctx, "mkdir", []any{"dir"}, ""); err == nil {
		t.Error("Expected unsupported FS method to be rejected")
	}
}

func TestLoadLanguageChecksTrainedData(t *testing.T) {
	ctx := context.Background()
	h := startHandle(t, newFakeEngine())

	if err := h.LoadLanguage(ctx, "eng+ind", ""); err != nil {
		t.Errorf("Unexpected error: %v", err)
	}
	err := h.LoadLanguage(ctx, "eng+jpn", "")
	if err == nil || !strings.Contains(err.Error(), "jpn") {
		t.Errorf("Expected missing jpn to be reported, got %v", err)
	}
}

func TestSetParameters(t *testing.T) {
	ctx := context.Background()
	engine := newFakeEngine()
	h := startHandle(t, engine)

	err := h.SetParameters(ctx, map[string]any{
		"tessedit_pageseg_mode":   6,
		"tessedit_char_whitelist": "0123456789",
	}, "")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if engine.psm != 6 || engine.variables["tessedit_char_whitelist"] != "0123456789" {
		t.Errorf("Parameters not applied: psm=%d vars=%v", engine.psm, engine.variables)
	}

	if err := h.SetParameters(ctx, map[string]any{"bogus": 1}, ""); err == nil {
		t.Error("Expected engine error to reject the job")
	}
}

func TestOptionalCapabilities(t *testing.T) {
	ctx := context.Background()

	h := startHandle(t, newFakeEngine())
	if _, err := h.GetPDF(ctx, "", false, ""); err == nil || !strings.Contains(err.Error(), ErrUnsupported.Error()) {
		t.Errorf("Expected getPDF to be unsupported, got %v", err)
	}
	if _, err := h.Detect(ctx, []byte{1}, ""); err == nil {
		t.Error("Expected detect to be unsupported")
	}

	withPDF := startHandle(t, pdfEngine{newFakeEngine()})
	pdf, err := withPDF.GetPDF(ctx, "scan", true, "")
	if err != nil {
		t.Fatalf("GetPDF: %v", err)
	}
	if string(pdf) != "%PDF-scan" {
		t.Errorf("Expected %%PDF-scan, got %q", pdf)
	}
}

func TestJobsBeforeLoadAreRejected(t *testing.T) {
	w := New(newFakeEngine())
	var got worker.Message
	w.Handle(context.Background(), worker.Envelope{JobID: "j", Action: worker.ActionRecognize}, func(msg worker.Message) {
		got = msg
	})
	if got.Status != worker.StatusReject || !strings.Contains(string(got.Data), ErrNotLoaded.Error()) {
		t.Errorf("Expected rejection before load, got %+v", got)
	}
}
