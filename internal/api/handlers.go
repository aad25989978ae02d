// Package api is the HTTP surface over the dispatcher, reconciliation and
// progress components. It holds no job logic of its own.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"github.com/you/slotq/internal/dispatch"
	"github.com/you/slotq/internal/domain"
	"github.com/you/slotq/internal/pool"
	"github.com/you/slotq/internal/progress"
	"github.com/you/slotq/internal/reconcile"
	"github.com/you/slotq/internal/storage"
)

type Handler struct {
	dispatcher  *dispatch.Dispatcher
	recon       *reconcile.Service
	pool        *pool.Pool
	broadcaster *progress.Broadcaster
	store       storage.Storage
	log         *zap.Logger
	upgrader    websocket.Upgrader
}

func NewHandler(d *dispatch.Dispatcher, rs *reconcile.Service, p *pool.Pool, b *progress.Broadcaster, store storage.Storage, log *zap.Logger) *Handler {
	return &Handler{
		dispatcher:  d,
		recon:       rs,
		pool:        p,
		broadcaster: b,
		store:       store,
		log:         log,
		upgrader:    websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024},
	}
}

func (h *Handler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", h.health)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/v1/tenants/{tenant}", func(r chi.Router) {
		r.Post("/jobs", h.enqueue)
		r.Get("/jobs", h.listJobs)
		r.Get("/jobs/{jobID}", h.getJob)
		r.Get("/jobs/{jobID}/progress", h.streamProgress)
		r.Post("/reconcile", h.reconcile)
		r.Get("/stats", h.stats)
		r.Delete("/queue", h.clearQueue)
	})

	return r
}

type enqueueRequest struct {
	Payload    json.RawMessage `json:"payload"`
	TotalCount int             `json:"total_count"`
}

func (h *Handler) enqueue(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")

	var req enqueueRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	res, err := h.dispatcher.Enqueue(r.Context(), tenant, req.Payload, req.TotalCount)
	if err != nil {
		h.log.Error("enqueue failed", zap.String("tenant", tenant), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "enqueue failed")
		return
	}
	if !res.Accepted {
		writeJSON(w, http.StatusTooManyRequests, res)
		return
	}
	writeJSON(w, http.StatusAccepted, res)
}

func (h *Handler) getJob(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobID := chi.URLParam(r, "jobID")

	job, err := h.dispatcher.GetJobStatus(r.Context(), tenant, jobID)
	if err == domain.ErrJobNotFound {
		writeError(w, http.StatusNotFound, "job not found")
		return
	}
	if err != nil {
		h.log.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "lookup failed")
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h *Handler) listJobs(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobs, err := h.dispatcher.GetAllJobsForTenant(r.Context(), tenant)
	if err != nil {
		h.log.Error("job list failed", zap.String("tenant", tenant), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "list failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "jobs": jobs})
}

func (h *Handler) reconcile(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := h.recon.FullReconciliation(r.Context(), tenant); err != nil {
		h.log.Error("reconciliation failed", zap.String("tenant", tenant), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "reconciliation failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "reconciled": true})
}

func (h *Handler) stats(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	st, err := h.pool.Stats(r.Context(), tenant)
	if err != nil {
		h.log.Error("stats failed", zap.String("tenant", tenant), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "stats failed")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (h *Handler) clearQueue(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	if err := h.pool.Clear(r.Context(), tenant); err != nil {
		h.log.Error("queue clear failed", zap.String("tenant", tenant), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "clear failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"tenant_id": tenant, "cleared": true})
}

// streamProgress upgrades to a websocket and forwards the job's progress
// channel until the client disconnects. Purely observational; dropping the
// socket affects nothing upstream.
func (h *Handler) streamProgress(w http.ResponseWriter, r *http.Request) {
	tenant := chi.URLParam(r, "tenant")
	jobID := chi.URLParam(r, "jobID")

	sub, err := h.broadcaster.Subscribe(r.Context(), tenant, jobID)
	if err != nil {
		h.log.Error("progress subscribe failed", zap.String("job_id", jobID), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "subscribe failed")
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		_ = sub.Close()
		return
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer func() {
		_ = sub.Close()
		_ = conn.Close()
	}()
	for {
		select {
		case msg, ok := <-sub.Messages():
			if !ok {
				return
			}
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-done:
			return
		case <-r.Context().Done():
			return
		}
	}
}

func (h *Handler) health(w http.ResponseWriter, r *http.Request) {
	if err := h.store.Ping(r.Context()); err != nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "degraded", "error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}
