package http

import (
	"net/http"

	"github.com/veloraops/conductor/internal/adapter/ws"
	"github.com/veloraops/conductor/internal/domain/event"
	"github.com/veloraops/conductor/internal/engine"
	"github.com/veloraops/conductor/internal/logger"
	"github.com/veloraops/conductor/internal/port/database"
	"github.com/veloraops/conductor/internal/service"
)

// Handlers holds the HTTP handler dependencies.
type Handlers struct {
	Orchestrator *service.Orchestrator
	Engine       *engine.Engine
	Hub          *ws.Hub

	// Queue reports messaging connectivity for the health endpoint.
	Queue interface{ IsConnected() bool }
}

// SubmitEvent accepts an event for asynchronous processing.
//
//	POST /api/v1/events
func (h *Handlers) SubmitEvent(w http.ResponseWriter, r *http.Request) {
	ev, ok := readJSON[event.Event](w, r)
	if !ok {
		return
	}
	if ev.TrackingID == "" {
		ev.TrackingID = logger.TrackingID(r.Context())
	}

	trackingID, err := h.Orchestrator.Submit(r.Context(), &ev)
	if err != nil {
		writeDomainError(w, err, "event rejected")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]any{
		"tracking_id": trackingID,
		"accepted":    true,
	})
}

// GetEventStatus returns the cached processing status of an event.
//
//	GET /api/v1/events/{trackingID}
func (h *Handlers) GetEventStatus(w http.ResponseWriter, r *http.Request) {
	trackingID := urlParam(r, "trackingID")

	st, err := h.Orchestrator.EventStatus(r.Context(), trackingID)
	if err != nil {
		writeDomainError(w, err, "event not found")
		return
	}
	writeJSON(w, http.StatusOK, st)
}

// GetAuditTrail returns all audit records for a tracking ID.
//
//	GET /api/v1/events/{trackingID}/audit
func (h *Handlers) GetAuditTrail(w http.ResponseWriter, r *http.Request) {
	trackingID := urlParam(r, "trackingID")

	records, err := h.Orchestrator.AuditTrail(r.Context(), trackingID)
	if err != nil {
		writeDomainError(w, err, "audit trail not found")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"tracking_id": trackingID,
		"records":     records,
	})
}

type startWorkflowRequest struct {
	DefinitionID string `json:"definition_id"`
}

// StartWorkflow creates a new workflow instance in its initial state.
//
//	POST /api/v1/workflows
func (h *Handlers) StartWorkflow(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[startWorkflowRequest](w, r)
	if !ok {
		return
	}
	if req.DefinitionID == "" {
		writeError(w, http.StatusBadRequest, "definition_id is required")
		return
	}

	in, err := h.Engine.StartInstance(r.Context(), req.DefinitionID, logger.TrackingID(r.Context()))
	if err != nil {
		writeDomainError(w, err, "workflow definition not found")
		return
	}
	writeJSON(w, http.StatusCreated, in)
}

// ListWorkflows returns active (non-terminal) workflow instances.
//
//	GET /api/v1/workflows?definition_id=&state=&limit=
func (h *Handlers) ListWorkflows(w http.ResponseWriter, r *http.Request) {
	filter := database.InstanceFilter{
		DefinitionID: r.URL.Query().Get("definition_id"),
		State:        r.URL.Query().Get("state"),
		Limit:        queryInt(r, "limit", 100),
	}

	instances, err := h.Engine.ListActiveInstances(r.Context(), filter)
	if err != nil {
		writeDomainError(w, err, "failed to list workflows")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"instances": instances})
}

// GetDefinition returns a loaded workflow definition, including its
// states and the transitions each allows.
//
//	GET /api/v1/definitions/{id}
func (h *Handlers) GetDefinition(w http.ResponseWriter, r *http.Request) {
	def, ok := h.Engine.Definition(urlParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "workflow definition not found")
		return
	}
	writeJSON(w, http.StatusOK, def)
}

// GetWorkflow returns one workflow instance with its full history.
//
//	GET /api/v1/workflows/{id}
func (h *Handlers) GetWorkflow(w http.ResponseWriter, r *http.Request) {
	in, err := h.Engine.GetInstance(r.Context(), urlParam(r, "id"))
	if err != nil {
		writeDomainError(w, err, "workflow instance not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

type transitionRequest struct {
	Transition string         `json:"transition_name"`
	AgentID    string         `json:"agent_id"`
	Data       map[string]any `json:"data,omitempty"`
}

// PostTransition applies a transition to a workflow instance.
//
//	POST /api/v1/workflows/{id}/transitions
func (h *Handlers) PostTransition(w http.ResponseWriter, r *http.Request) {
	req, ok := readJSON[transitionRequest](w, r)
	if !ok {
		return
	}
	if req.Transition == "" {
		writeError(w, http.StatusBadRequest, "transition_name is required")
		return
	}
	if req.AgentID == "" {
		writeError(w, http.StatusBadRequest, "agent_id is required")
		return
	}

	in, err := h.Engine.Transition(r.Context(), engine.TransitionRequest{
		InstanceID: urlParam(r, "id"),
		Transition: req.Transition,
		AgentID:    req.AgentID,
		TrackingID: logger.TrackingID(r.Context()),
		Data:       req.Data,
	})
	if err != nil {
		writeDomainError(w, err, "workflow instance not found")
		return
	}
	writeJSON(w, http.StatusOK, in)
}

// ListWorkers returns the observable state of every registered worker.
//
//	GET /api/v1/workers
func (h *Handlers) ListWorkers(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"workers": h.Orchestrator.Workers()})
}

// Health is the liveness probe. Reports degraded when the messaging
// connection is down; worker invocation cannot proceed without it.
//
//	GET /healthz
func (h *Handlers) Health(w http.ResponseWriter, _ *http.Request) {
	status := "ok"
	natsUp := h.Queue != nil && h.Queue.IsConnected()
	if !natsUp {
		status = "degraded"
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":         status,
		"nats_connected": natsUp,
		"connections":    h.Hub.ConnectionCount(),
	})
}
