package http

import (
	"net/http"
	"time"

	"github.com/agentsdashboard/orchestrator/internal/domain/run"
	"github.com/agentsdashboard/orchestrator/internal/port/messagequeue"
	"github.com/agentsdashboard/orchestrator/internal/service"
)

// maxBodyBytes bounds dispatch request bodies.
const maxBodyBytes = 1 << 20

// Handlers holds the orchestrator API handlers.
type Handlers struct {
	gateway *service.Gateway
	started time.Time
}

// NewHandlers creates the API handlers over the worker gateway.
func NewHandlers(gateway *service.Gateway) *Handlers {
	return &Handlers{gateway: gateway, started: time.Now()}
}

// DispatchJob handles POST /api/v1/jobs.
func (h *Handlers) DispatchJob(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[run.Request](w, r, maxBodyBytes)
	if !ok {
		return
	}

	reply := h.gateway.DispatchJob(r.Context(), &req)
	if !reply.Accepted {
		status := http.StatusConflict
		if reply.Reason == service.ErrAtCapacity.Error() {
			status = http.StatusTooManyRequests
		}
		writeJSON(w, status, reply)
		return
	}
	writeJSON(w, http.StatusAccepted, reply)
}

// CancelJob handles POST /api/v1/jobs/{id}/cancel.
func (h *Handlers) CancelJob(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "id")
	if runID == "" {
		writeError(w, http.StatusBadRequest, "run id is required")
		return
	}
	writeJSON(w, http.StatusOK, h.gateway.CancelJob(r.Context(), runID))
}

// GetRun handles GET /api/v1/runs/{id}.
func (h *Handlers) GetRun(w http.ResponseWriter, r *http.Request) {
	runID := urlParam(r, "id")
	entry, err := h.gateway.GetRun(r.Context(), runID)
	if err != nil {
		writeDomainError(w, err, "run not found")
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

// activeRunsResponse is the body of GET /api/v1/runs.
type activeRunsResponse struct {
	Runs []*run.LedgerEntry `json:"runs"`
}

// ListActiveRuns handles GET /api/v1/runs: the ledger snapshots of every
// active (queued or running) run on this worker.
func (h *Handlers) ListActiveRuns(w http.ResponseWriter, r *http.Request) {
	entries, err := h.gateway.ActiveRuns(r.Context())
	if err != nil {
		writeDomainError(w, err, "runs not available")
		return
	}
	writeJSON(w, http.StatusOK, activeRunsResponse{Runs: entries})
}

// Reconcile handles POST /api/v1/reconcile.
func (h *Handlers) Reconcile(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[messagequeue.ReconcileRequest](w, r, maxBodyBytes)
	if !ok {
		return
	}
	reply, err := h.gateway.Reconcile(r.Context(), req.ActiveRunIDs)
	if err != nil {
		writeDomainError(w, err, "reconcile failed")
		return
	}
	writeJSON(w, http.StatusOK, reply)
}

// WorkerStatus handles GET /api/v1/worker/status.
func (h *Handlers) WorkerStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.gateway.Status("ok"))
}

// healthResponse is the body of GET /health.
type healthResponse struct {
	Status    string `json:"status"`
	UptimeSec int64  `json:"uptime_sec"`
}

// Health handles GET /health.
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:    "ok",
		UptimeSec: int64(time.Since(h.started).Seconds()),
	})
}
