package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/LexiconIndonesia/ocr-worker-service/common/hocr"
	"github.com/LexiconIndonesia/ocr-worker-service/common/models"
	"github.com/LexiconIndonesia/ocr-worker-service/common/storage"
	"github.com/LexiconIndonesia/ocr-worker-service/common/utils"
	"github.com/LexiconIndonesia/ocr-worker-service/common/work"
	"github.com/LexiconIndonesia/ocr-worker-service/common/worker"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
	"github.com/samber/lo"
)

// Recognizer runs OCR jobs; *work.Pool satisfies it
type Recognizer interface {
	Recognize(ctx context.Context, image any, opts map[string]any) (*worker.Page, error)
	Detect(ctx context.Context, image any) (*worker.Detection, error)
	RecognizePDF(ctx context.Context, image any, title string, textOnly bool) (*work.Document, error)
}

type OCRHandler struct {
	pool     Recognizer
	archive  *storage.PDFArchive
	router   *chi.Mux
	validate *validator.Validate
}

// NewOCRHandler creates the OCR routes. archive may be nil, PDFs are then
// returned in the response body.
func NewOCRHandler(pool Recognizer, archive *storage.PDFArchive) *OCRHandler {
	router := chi.NewRouter()

	h := &OCRHandler{
		pool:     pool,
		archive:  archive,
		router:   router,
		validate: validator.New(),
	}

	router.Post("/recognize", h.handleRecognize)
	router.Post("/detect", h.handleDetect)
	router.Post("/pdf", h.handlePDF)
	return h
}

func (h *OCRHandler) Router() *chi.Mux {
	return h.router
}

func (h *OCRHandler) decode(w http.ResponseWriter, r *http.Request, p any) bool {
	if err := json.NewDecoder(r.Body).Decode(p); err != nil {
		utils.WriteError(w, http.StatusBadRequest, "Invalid request payload")
		return false
	}
	if err := h.validate.Struct(p); err != nil {
		utils.WriteError(w, http.StatusBadRequest, err.Error())
		return false
	}
	return true
}

func (h *OCRHandler) handleRecognize(w http.ResponseWriter, r *http.Request) {
	var p RecognizeParams
	if !h.decode(w, r, &p) {
		return
	}

	page, err := h.pool.Recognize(r.Context(), p.Image, p.Options)
	if err != nil {
		writeJobError(w, err)
		return
	}

	resp := models.RecognizeResponse{
		Text:       page.Text,
		Confidence: page.Confidence,
		PSM:        page.PSM,
		OEM:        page.OEM,
		Version:    page.Version,
		Words: lo.Map(page.Words, func(word *worker.Word, _ int) hocr.Word {
			return hocr.Word{Text: word.Text, BBox: word.BBox, Confidence: word.Confidence}
		}),
	}
	if p.HOCR {
		resp.HOCR = page.HOCR
	}

	if page.HOCR != "" {
		doc, err := hocr.Parse(page.HOCR)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to parse hOCR, using page words")
		} else if words := doc.Words(); len(words) > 0 {
			resp.Words = words
		}

		markdown, err := hocr.Markdown(page.HOCR)
		if err != nil {
			log.Warn().Err(err).Msg("Failed to convert hOCR to markdown")
		}
		resp.Markdown = markdown
	}

	utils.WriteJSON(w, http.StatusOK, resp)
}

func (h *OCRHandler) handleDetect(w http.ResponseWriter, r *http.Request) {
	var p DetectParams
	if !h.decode(w, r, &p) {
		return
	}

	detection, err := h.pool.Detect(r.Context(), p.Image)
	if err != nil {
		writeJobError(w, err)
		return
	}
	utils.WriteJSON(w, http.StatusOK, detection)
}

func (h *OCRHandler) handlePDF(w http.ResponseWriter, r *http.Request) {
	var p PDFParams
	if !h.decode(w, r, &p) {
		return
	}

	doc, err := h.pool.RecognizePDF(r.Context(), p.Image, p.Title, p.TextOnly)
	if err != nil {
		writeJobError(w, err)
		return
	}

	if h.archive == nil {
		w.Header().Set("Content-Type", "application/pdf")
		w.WriteHeader(http.StatusOK)
		if _, err := w.Write(doc.PDF); err != nil {
			log.Error().Err(err).Msg("Failed to write PDF")
		}
		return
	}

	object, url, err := h.archive.Save(r.Context(), uuid.NewString(), doc.PDF)
	if err != nil {
		log.Error().Err(err).Msg("Failed to store PDF")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to store PDF")
		return
	}
	utils.WriteJSON(w, http.StatusOK, models.PDFResponse{
		Object: object,
		URL:    url,
		Text:   doc.Page.Text,
	})
}

// writeJobError maps pool and worker failures to HTTP statuses
func writeJobError(w http.ResponseWriter, err error) {
	var loadErr *worker.ImageLoadError
	var jobErr *worker.JobError
	switch {
	case errors.As(err, &loadErr), errors.Is(err, worker.ErrInvalidInput):
		utils.WriteError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &jobErr) && jobErr.Unsupported():
		utils.WriteError(w, http.StatusNotImplemented, jobErr.Reason())
	case errors.As(err, &jobErr):
		utils.WriteError(w, http.StatusUnprocessableEntity, jobErr.Reason())
	case errors.Is(err, work.ErrTaskTimeout):
		utils.WriteError(w, http.StatusGatewayTimeout, err.Error())
	case errors.Is(err, work.ErrQueueFull), errors.Is(err, work.ErrPoolStopped), errors.Is(err, work.ErrPoolNotStarted):
		utils.WriteError(w, http.StatusServiceUnavailable, err.Error())
	default:
		log.Error().Err(err).Msg("OCR job failed")
		utils.WriteError(w, http.StatusInternalServerError, "OCR job failed")
	}
}

type RecognizeParams struct {
	Image   string         `json:"image" validate:"required"`
	Options map[string]any `json:"options"`
	HOCR    bool           `json:"hocr"`
}

type DetectParams struct {
	Image string `json:"image" validate:"required"`
}

type PDFParams struct {
	Image    string `json:"image" validate:"required"`
	Title    string `json:"title" validate:"max=200"`
	TextOnly bool   `json:"text_only"`
}
