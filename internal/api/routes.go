package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"erp-sync-service/internal/metrics"
	"erp-sync-service/internal/sync"
)

type Handler struct {
	syncManager *sync.Manager
	metrics     *metrics.Registry
	authToken   string
}

func NewHandler(manager *sync.Manager, reg *metrics.Registry, authToken string) *Handler {
	return &Handler{
		syncManager: manager,
		metrics:     reg,
		authToken:   authToken,
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(CorsMiddleware)

	r.Get("/health", h.HealthCheck)
	r.Method(http.MethodGet, "/metrics", h.metrics.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(h.AuthMiddleware)

		r.Post("/sync/orders", h.TriggerOrderSync)
		r.Post("/sync/catalog", h.TriggerCatalogSync)
		r.Get("/sync/jobs/{id}", h.GetJob)
		r.Get("/sync/status", h.GetSyncStatus)
	})

	return r
}

func (h *Handler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
	w.Write([]byte("OK"))
}

type orderSyncRequest struct {
	Mode      string `json:"mode"`
	StartDate string `json:"start_date"`
	EndDate   string `json:"end_date"`
	Days      int    `json:"days"`
}

func (h *Handler) TriggerOrderSync(w http.ResponseWriter, r *http.Request) {
	var req orderSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	jobID, err := h.syncManager.StartOrderSync(r.Context(), sync.OrderJobParams{
		Mode:      req.Mode,
		StartDate: req.StartDate,
		EndDate:   req.EndDate,
		Days:      req.Days,
	})
	if errors.Is(err, sync.ErrSyncRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(map[string]string{
		"status": "started",
		"job_id": jobID,
	})
}

type catalogSyncRequest struct {
	Mode         string `json:"mode"`
	PageSize     int    `json:"page_size"`
	EnrichStock  *bool  `json:"enrich_stock"`
	UpdatedSince string `json:"updated_since"`
}

func (h *Handler) TriggerCatalogSync(w http.ResponseWriter, r *http.Request) {
	var req catalogSyncRequest
	if r.Body != nil && r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, "invalid request body", http.StatusBadRequest)
			return
		}
	}

	opts := sync.CatalogOptions{
		Mode:        sync.CatalogMode(req.Mode),
		PageSize:    req.PageSize,
		EnrichStock: req.EnrichStock,
	}
	if req.UpdatedSince != "" {
		since, err := time.Parse("2006-01-02 15:04:05", req.UpdatedSince)
		if err != nil {
			http.Error(w, "invalid updated_since, want YYYY-MM-DD HH:MM:SS", http.StatusBadRequest)
			return
		}
		opts.UpdatedSince = &since
	}

	result, err := h.syncManager.RunCatalogSync(r.Context(), opts)
	if errors.Is(err, sync.ErrSyncRunning) {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	json.NewEncoder(w).Encode(result)
}

func (h *Handler) GetJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	job, err := h.syncManager.JobStatus(r.Context(), id)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if job == nil {
		http.Error(w, "job not found", http.StatusNotFound)
		return
	}

	resp := map[string]interface{}{
		"id":             job.ID,
		"status":         job.Status,
		"total_requests": job.TotalRequests,
		"total_rows":     job.TotalRows,
		"created_at":     job.CreatedAt,
	}
	if len(job.Params) > 0 {
		resp["params"] = json.RawMessage(job.Params)
	}
	if job.StartedAt.Valid {
		resp["started_at"] = job.StartedAt.Time
	}
	if job.FinishedAt.Valid {
		resp["finished_at"] = job.FinishedAt.Time
	}
	if job.ErrorMessage.Valid {
		resp["error"] = job.ErrorMessage.String
	}
	json.NewEncoder(w).Encode(resp)
}

func (h *Handler) GetSyncStatus(w http.ResponseWriter, r *http.Request) {
	json.NewEncoder(w).Encode(h.syncManager.Status())
}

func CorsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")

		if r.Method == "OPTIONS" {
			return
		}

		next.ServeHTTP(w, r)
	})
}

// AuthMiddleware enforces the static bearer token when one is configured.
func (h *Handler) AuthMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if h.authToken != "" {
			if r.Header.Get("Authorization") != "Bearer "+h.authToken {
				http.Error(w, "unauthorized", http.StatusUnauthorized)
				return
			}
		}
		next.ServeHTTP(w, r)
	})
}
