package work

import (
	"context"

	"github.com/rs/zerolog/log"

	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
)

// Setup is applied to every handle right after it is loaded
type Setup struct {
	Languages  string
	OEM        int
	Parameters map[string]any
}

// NewHandleFactory returns a Factory that spawns handles on transport and
// prepares them with setup
func NewHandleFactory(transport worker.Transport, setup Setup, opts ...worker.Option) Factory {
	return func(ctx context.Context, extra ...worker.Option) (*worker.Handle, error) {
		all := make([]worker.Option, 0, len(opts)+len(extra))
		all = append(all, opts...)
		all = append(all, extra...)

		h, err := worker.New(ctx, transport, all...)
		if err != nil {
			return h, err
		}
		if err := h.LoadLanguage(ctx, setup.Languages, ""); err != nil {
			return h, err
		}
		if err := h.Initialize(ctx, setup.Languages, setup.OEM, ""); err != nil {
			return h, err
		}
		if len(setup.Parameters) > 0 {
			if err := h.SetParameters(ctx, setup.Parameters, ""); err != nil {
				return h, err
			}
		}
		log.Debug().Str("workerId", h.ID()).Str("languages", setup.Languages).Msg("Worker initialized")
		return h, nil
	}
}

// Recognize runs OCR on image using the next free handle
func (p *Pool) Recognize(ctx context.Context, image any, opts map[string]any) (*worker.Page, error) {
	return Submit(ctx, p, func(ctx context.Context, h *worker.Handle) (*worker.Page, error) {
		return h.Recognize(ctx, image, opts, "")
	}).Collect()
}

// Detect runs orientation and script detection on image
func (p *Pool) Detect(ctx context.Context, image any) (*worker.Detection, error) {
	return Submit(ctx, p, func(ctx context.Context, h *worker.Handle) (*worker.Detection, error) {
		return h.Detect(ctx, image, "")
	}).Collect()
}

// Document is a recognition together with its PDF rendering
type Document struct {
	Page *worker.Page
	PDF  []byte
}

// RecognizePDF recognizes image and renders the result as a PDF. Both jobs
// run on the same handle since getPDF renders that handle's last recognition.
func (p *Pool) RecognizePDF(ctx context.Context, image any, title string, textOnly bool) (*Document, error) {
	return Submit(ctx, p, func(ctx context.Context, h *worker.Handle) (*Document, error) {
		page, err := h.Recognize(ctx, image, nil, "")
		if err != nil {
			return nil, err
		}
		pdf, err := h.GetPDF(ctx, title, textOnly, "")
		if err != nil {
			return nil, err
		}
		return &Document{Page: page, PDF: pdf}, nil
	}).Collect()
}
