// Package httpapi mounts the job engine's public operations onto an HTTP
// router. This is the external-collaborator boundary described by the
// system's /api/v1 surface: the router only translates requests/responses,
// it holds no business logic of its own, grounded on api.py's endpoint
// behaviors and jordigilh-kubernaut's chi usage.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/opsgate/opsgate/internal/job"
)

// JobEngine is the subset of *job.Engine the router depends on, kept as an
// interface so the router can be tested against a fake.
type JobEngine interface {
	Submit(ctx context.Context, instruction, user string) *job.Job
	Get(id string) (*job.Job, bool)
	List(user string, limit int) []job.Snapshot
	ResolveApproval(ctx context.Context, jobID string, approved, remember bool, note string) error
}

// NewRouter builds the chi router mounting every /api/v1 endpoint described
// in the system's external interface surface.
func NewRouter(engine JobEngine) http.Handler {
	r := chi.NewRouter()

	r.Get("/health", handleHealth)
	r.Post("/api/v1/command", handleSubmit(engine))
	r.Get("/api/v1/command/{id}/status", handleStatus(engine))
	r.Post("/api/v1/command/{id}/approve", handleApprove(engine))
	r.Get("/api/v1/jobs", handleList(engine))

	return r
}

func handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

type submitRequest struct {
	Command string `json:"command"`
	UserID  string `json:"user_id"`
}

func handleSubmit(engine JobEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req submitRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if req.UserID == "" {
			req.UserID = "default"
		}

		j := engine.Submit(r.Context(), req.Command, req.UserID)
		snap := j.Snapshot()
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"job_id":            snap.ID,
			"status":            snap.Status,
			"requires_approval": snap.RequiresApproval,
			"model_used":        snap.ModelUsed,
			"estimated_cost":    snap.EstimatedCostUSD,
		})
	}
}

func handleStatus(engine JobEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		j, ok := engine.Get(id)
		if !ok {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "job not found"})
			return
		}
		snap := j.Snapshot()
		writeJSON(w, http.StatusOK, snap)
	}
}

type approveRequest struct {
	Approved bool   `json:"approved"`
	Remember bool   `json:"remember"`
	Note     string `json:"note"`
}

func handleApprove(engine JobEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var req approveRequest
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		if err := engine.ResolveApproval(r.Context(), id, req.Approved, req.Remember, req.Note); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "success"})
	}
}

func handleList(engine JobEngine) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		user := r.URL.Query().Get("user_id")
		jobs := engine.List(user, 50)
		writeJSON(w, http.StatusOK, map[string]interface{}{"jobs": jobs, "total": len(jobs)})
	}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
