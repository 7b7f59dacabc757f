package http

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// MountRoutes registers all API routes on the given chi router.
func MountRoutes(r chi.Router, h *Handlers) {
	r.Get("/healthz", h.Health)
	r.Get("/ws", h.Hub.HandleWS)

	r.Route("/api/v1", func(r chi.Router) {
		// Version
		r.Get("/", func(w http.ResponseWriter, _ *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			_, _ = w.Write([]byte(`{"version":"0.1.0"}`))
		})

		// Events
		r.Post("/events", h.SubmitEvent)
		r.Get("/events/{trackingID}", h.GetEventStatus)
		r.Get("/events/{trackingID}/audit", h.GetAuditTrail)

		// Workflows
		r.Get("/definitions/{id}", h.GetDefinition)
		r.Post("/workflows", h.StartWorkflow)
		r.Get("/workflows", h.ListWorkflows)
		r.Get("/workflows/{id}", h.GetWorkflow)
		r.Post("/workflows/{id}/transitions", h.PostTransition)

		// Workers
		r.Get("/workers", h.ListWorkers)
	})
}
