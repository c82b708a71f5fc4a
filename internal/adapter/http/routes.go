package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/agentsdashboard/orchestrator/internal/adapter/ws"
)

// MountRoutes wires the orchestrator API onto the router. hub may be nil,
// in which case the /ws endpoint is not exposed.
func MountRoutes(r chi.Router, h *Handlers, hub *ws.Hub) {
	r.Get("/health", h.Health)
	r.Get("/ready", h.Health)

	if hub != nil {
		r.Get("/ws", hub.HandleWS)
	}

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			writeJSON(w, http.StatusOK, map[string]string{"version": "v1"})
		})

		r.Route("/jobs", func(r chi.Router) {
			r.Post("/", h.DispatchJob)
			r.Post("/{id}/cancel", h.CancelJob)
		})

		r.Route("/runs", func(r chi.Router) {
			r.Get("/", h.ListActiveRuns)
			r.Get("/{id}", h.GetRun)
		})

		r.Post("/reconcile", h.Reconcile)
		r.Get("/worker/status", h.WorkerStatus)
	})
}
