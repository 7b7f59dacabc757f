package http

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	"github.com/veloraops/conductor/internal/adapter/ws"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/engine"
)

type connState bool

func (c connState) IsConnected() bool { return bool(c) }

func orderDefinition() *workflow.Definition {
	return &workflow.Definition{
		ID:      "order",
		Initial: "new",
		States: map[string]workflow.State{
			"new": {
				Transitions: map[string]workflow.Transition{
					"approve": {To: "approved"},
				},
			},
			"approved": {Terminal: true},
		},
	}
}

func definitionRouter() chi.Router {
	eng := engine.New(map[string]*workflow.Definition{"order": orderDefinition()},
		nil, nil, nil, nil, config.Engine{})
	h := &Handlers{Engine: eng}

	r := chi.NewRouter()
	r.Get("/api/v1/definitions/{id}", h.GetDefinition)
	return r
}

func TestGetDefinition(t *testing.T) {
	rec := httptest.NewRecorder()
	definitionRouter().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/definitions/order", http.NoBody))

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d", rec.Code)
	}
	var def workflow.Definition
	if err := json.Unmarshal(rec.Body.Bytes(), &def); err != nil {
		t.Fatal(err)
	}
	if def.ID != "order" || def.Initial != "new" {
		t.Errorf("definition = %+v", def)
	}
	if def.States["new"].Transitions["approve"].To != "approved" {
		t.Errorf("states = %+v", def.States)
	}
}

func TestGetDefinitionUnknown(t *testing.T) {
	rec := httptest.NewRecorder()
	definitionRouter().ServeHTTP(rec,
		httptest.NewRequest(http.MethodGet, "/api/v1/definitions/ghost", http.NoBody))

	if rec.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rec.Code)
	}
}

func TestHealthReportsMessagingState(t *testing.T) {
	tests := []struct {
		name       string
		connected  bool
		wantStatus string
	}{
		{"connected", true, "ok"},
		{"disconnected", false, "degraded"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			h := &Handlers{Hub: ws.NewHub(), Queue: connState(tt.connected)}

			rec := httptest.NewRecorder()
			h.Health(rec, httptest.NewRequest(http.MethodGet, "/healthz", http.NoBody))

			var body struct {
				Status        string `json:"status"`
				NATSConnected bool   `json:"nats_connected"`
			}
			if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
				t.Fatal(err)
			}
			if body.Status != tt.wantStatus {
				t.Errorf("status = %q, want %q", body.Status, tt.wantStatus)
			}
			if body.NATSConnected != tt.connected {
				t.Errorf("nats_connected = %v, want %v", body.NATSConnected, tt.connected)
			}
		})
	}
}
