package handler

import (
	"context"
	"net/http"

	"github.com/LexiconIndonesia/ocr-worker-service/common/models"
	"github.com/LexiconIndonesia/ocr-worker-service/common/utils"
	"github.com/LexiconIndonesia/ocr-worker-service/common/work"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"
)

// PoolInspector reports the state of a worker pool; *work.Pool satisfies it
type PoolInspector interface {
	Stats() work.PoolStats
	Workers() []work.WorkerInfo
}

// RunningLister lists workers registered by every service instance
type RunningLister interface {
	ListRunning(ctx context.Context) ([]work.WorkerRecord, error)
}

type WorkersHandler struct {
	pool    PoolInspector
	manager RunningLister
	router  *chi.Mux
}

// NewWorkersHandler creates the worker routes; manager may be nil when
// Redis is disabled
func NewWorkersHandler(pool PoolInspector, manager RunningLister) *WorkersHandler {
	router := chi.NewRouter()

	h := &WorkersHandler{
		pool:    pool,
		manager: manager,
		router:  router,
	}

	router.Get("/", h.handleListWorkers)
	return h
}

func (h *WorkersHandler) Router() *chi.Mux {
	return h.router
}

func (h *WorkersHandler) handleListWorkers(w http.ResponseWriter, r *http.Request) {
	resp := models.WorkersResponse{
		Stats:   h.pool.Stats(),
		Workers: h.pool.Workers(),
	}

	if h.manager != nil {
		running, err := h.manager.ListRunning(r.Context())
		if err != nil {
			log.Error().Err(err).Msg("Failed to list running workers")
			utils.WriteError(w, http.StatusInternalServerError, "Failed to list running workers")
			return
		}
		resp.Running = running
	}

	utils.WriteJSON(w, http.StatusOK, resp)
}
