package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/LexiconIndonesia/ocr-worker-service/common/utils"
	"github.com/go-chi/chi/v5"
)

// Pinger checks a backing service
type Pinger interface {
	Ping(ctx context.Context) error
}

type HealthHandler struct {
	pool     PoolInspector
	services map[string]Pinger
	router   *chi.Mux
}

// NewHealthHandler reports the pool and every enabled backing service, keyed
// by name
func NewHealthHandler(pool PoolInspector, services map[string]Pinger) *HealthHandler {
	h := &HealthHandler{
		pool:     pool,
		services: services,
	}

	r := chi.NewRouter()
	r.Get("/", h.handleHealthCheck)
	r.Get("/services", h.handleServicesHealth)

	h.router = r
	return h
}

func (h *HealthHandler) Router() *chi.Mux {
	return h.router
}

func (h *HealthHandler) handleHealthCheck(w http.ResponseWriter, r *http.Request) {
	stats := h.pool.Stats()
	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"service":   "ocr-worker-service",
		"workers":   stats.ActiveWorkers,
	}

	if stats.ActiveWorkers == 0 {
		response["status"] = "unhealthy"
		utils.WriteJSON(w, http.StatusServiceUnavailable, response)
		return
	}
	utils.WriteJSON(w, http.StatusOK, response)
}

func (h *HealthHandler) handleServicesHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := http.StatusOK
	services := make(map[string]interface{}, len(h.services))
	for name, svc := range h.services {
		if err := svc.Ping(ctx); err != nil {
			status = http.StatusServiceUnavailable
			services[name] = map[string]interface{}{"status": "unhealthy", "error": err.Error()}
			continue
		}
		services[name] = map[string]interface{}{"status": "healthy"}
	}

	response := map[string]interface{}{
		"status":    "healthy",
		"timestamp": time.Now().UTC(),
		"services":  services,
	}
	if status != http.StatusOK {
		response["status"] = "unhealthy"
	}
	utils.WriteJSON(w, status, response)
}
