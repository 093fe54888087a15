// Package tesseract backs an ocrworker.Engine with libtesseract through
// gosseract. Building it requires cgo and the tesseract headers.
package tesseract

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/otiai10/gosseract/v2"

	"github.com/LexiconIndonesia/ocr-worker-service/common/ocrworker"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Engine wraps one gosseract client
type Engine struct {
	client *gosseract.Client

	// last recognition, kept for RenderPDF
	mu    sync.Mutex
	image []byte
	hocr  string
}

var (
	_ ocrworker.Engine      = (*Engine)(nil)
	_ ocrworker.PDFRenderer = (*Engine)(nil)
)

func New() *Engine {
	return &Engine{client: gosseract.NewClient()}
}

// Load points the client at a local tessdata directory when the lang or
// data path names one. Remote lang paths are left to the system install.
func (e *Engine) Load(opts worker.SpawnOptions) error {
	for _, dir := range []string{opts.DataPath, opts.LangPath} {
		if dir == "" || strings.Contains(dir, "://") {
			continue
		}
		if info, err := os.Stat(dir); err == nil && info.IsDir() {
			return e.client.SetTessdataPrefix(dir)
		}
	}
	return nil
}

func (e *Engine) Languages() ([]string, error) {
	if e.client.TessdataPrefix != "" {
		return localLanguages(e.client.TessdataPrefix)
	}
	return gosseract.GetAvailableLanguages()
}

func localLanguages(dir string) ([]string, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	var langs []string
	for _, entry := range entries {
		if name, ok := strings.CutSuffix(entry.Name(), ".traineddata"); ok {
			langs = append(langs, name)
		}
	}
	return langs, nil
}

func (e *Engine) SetLanguage(langs ...string) error {
	return e.client.SetLanguage(langs...)
}

func (e *Engine) SetVariable(name, value string) error {
	return e.client.SetVariable(gosseract.SettableVariable(name), value)
}

func (e *Engine) SetPageSegMode(mode int) error {
	if mode < int(gosseract.PSM_OSD_ONLY) || mode > int(gosseract.PSM_RAW_LINE) {
		return fmt.Errorf("page segmentation mode %d out of range", mode)
	}
	return e.client.SetPageSegMode(gosseract.PageSegMode(mode))
}

func (e *Engine) Recognize(ctx context.Context, image []byte) (string, string, error) {
	if err := ctx.Err(); err != nil {
		return "", "", err
	}
	if err := e.client.SetImageFromBytes(image); err != nil {
		return "", "", fmt.Errorf("set image: %w", err)
	}
	text, err := e.client.Text()
	if err != nil {
		return "", "", fmt.Errorf("recognize text: %w", err)
	}
	hocrText, err := e.client.HOCRText()
	if err != nil {
		return "", "", fmt.Errorf("recognize hocr: %w", err)
	}

	e.mu.Lock()
	e.image, e.hocr = image, hocrText
	e.mu.Unlock()
	return text, hocrText, nil
}

// RenderPDF renders the last recognized image with its text layer
func (e *Engine) RenderPDF(ctx context.Context, title string, textOnly bool) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	e.mu.Lock()
	image, hocrText := e.image, e.hocr
	e.mu.Unlock()
	return ocrworker.RenderPDF(image, hocrText, title, textOnly)
}

func (e *Engine) Version() string {
	return e.client.Version()
}

func (e *Engine) Close() error {
	return e.client.Close()
}
