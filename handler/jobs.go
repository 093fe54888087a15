package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/LexiconIndonesia/ocr-worker-service/common/db"
	"github.com/LexiconIndonesia/ocr-worker-service/common/utils"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// JobLister reads the job ledger; *db.JobStore satisfies it
type JobLister interface {
	ListJobs(ctx context.Context, params db.ListJobsParams) ([]db.JobRecord, error)
	CountJobs(ctx context.Context, params db.ListJobsParams) (int64, error)
}

type JobsHandler struct {
	store  JobLister
	router *chi.Mux
}

func NewJobsHandler(store JobLister) *JobsHandler {
	router := chi.NewRouter()

	h := &JobsHandler{
		store:  store,
		router: router,
	}

	router.Get("/", h.handleListJobs)
	return h
}

func (h *JobsHandler) Router() *chi.Mux {
	return h.router
}

func (h *JobsHandler) handleListJobs(w http.ResponseWriter, r *http.Request) {
	page, _ := strconv.Atoi(r.URL.Query().Get("page"))
	if page < 1 {
		page = 1
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit < 1 || limit > 100 {
		limit = 10
	}

	params := db.ListJobsParams{
		Status: r.URL.Query().Get("status"),
		Action: r.URL.Query().Get("action"),
		Limit:  int32(limit),
		Offset: int32((page - 1) * limit),
	}

	jobs, err := h.store.ListJobs(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to list jobs")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to get jobs")
		return
	}

	total, err := h.store.CountJobs(r.Context(), params)
	if err != nil {
		log.Error().Err(err).Msg("Failed to count jobs")
		utils.WriteError(w, http.StatusInternalServerError, "Failed to count jobs")
		return
	}
	utils.WritePagination(w, http.StatusOK, jobs, page, limit, total)
}
