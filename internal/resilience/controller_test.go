package resilience

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/veloraops/conductor/internal/audit"
	"github.com/veloraops/conductor/internal/config"
	"github.com/veloraops/conductor/internal/domain"
	"github.com/veloraops/conductor/internal/domain/event"
	"github.com/veloraops/conductor/internal/domain/message"
	"github.com/veloraops/conductor/internal/domain/worker"
	"github.com/veloraops/conductor/internal/domain/workflow"
	"github.com/veloraops/conductor/internal/port/broadcast"
	"github.com/veloraops/conductor/internal/port/database"
	"github.com/veloraops/conductor/internal/port/workerclient"
	"github.com/veloraops/conductor/internal/registry"
)

// memStore is an in-memory database.Store for audit records.
type memStore struct {
	mu      sync.Mutex
	records []database.AuditRecord
}

func (s *memStore) SaveInstance(context.Context, *workflow.Instance) error { return nil }
func (s *memStore) LoadInstance(context.Context, string) (*workflow.Instance, error) {
	return nil, domain.ErrNotFound
}
func (s *memStore) ListActiveInstances(context.Context, database.InstanceFilter) ([]workflow.Instance, error) {
	return nil, nil
}

func (s *memStore) SaveAuditRecord(_ context.Context, rec *database.AuditRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, *rec)
	return nil
}

func (s *memStore) ListAuditRecords(_ context.Context, trackingID string) ([]database.AuditRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []database.AuditRecord
	for _, r := range s.records {
		if r.TrackingID == trackingID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (s *memStore) outcomes() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.records))
	for i, r := range s.records {
		out[i] = r.Outcome
	}
	return out
}

func testRetryConfig() config.Retry {
	return config.Retry{
		MaxAttempts:    2,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		DefaultTimeout: time.Second,
	}
}

func newTestController(client workerclient.Client) (*Controller, *memStore) {
	reg := registry.New()
	reg.Register(worker.Worker{ID: "primary", Fallbacks: []string{"backup"}})
	reg.Register(worker.Worker{ID: "backup"})

	store := &memStore{}
	ctrl := NewController(reg, client, audit.New(store), broadcast.Nop{}, testRetryConfig(), config.Breaker{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenTrials:   3,
	})
	return ctrl, store
}

func testEvent() *event.Event {
	ev := event.New("lead.created", map[string]any{"id": "l-1"})
	ev.TrackingID = "tid-1"
	return ev
}

func TestInvokeSuccess(t *testing.T) {
	client := workerclient.Func(func(_ context.Context, env *message.Envelope) (*message.Result, error) {
		return &message.Result{AgentID: env.Recipient, TrackingID: env.Payload.TrackingID, Status: "success"}, nil
	})
	ctrl, _ := newTestController(client)

	result, err := ctrl.Invoke(context.Background(), "primary", testEvent(), []string{"backup"})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if result.AgentID != "primary" {
		t.Errorf("served by %q, want primary", result.AgentID)
	}
}

func TestInvokeFallsBackWhenPrimaryFails(t *testing.T) {
	calls := make(map[string]int)
	var mu sync.Mutex
	client := workerclient.Func(func(_ context.Context, env *message.Envelope) (*message.Result, error) {
		mu.Lock()
		calls[env.Recipient]++
		mu.Unlock()
		if env.Recipient == "primary" {
			return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityError, "tid-1",
				errors.New("connection refused"))
		}
		return &message.Result{AgentID: env.Recipient, Status: "success"}, nil
	})
	ctrl, _ := newTestController(client)

	result, err := ctrl.Invoke(context.Background(), "primary", testEvent(), []string{"backup"})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if result.AgentID != "backup" {
		t.Errorf("served by %q, want backup", result.AgentID)
	}
	if calls["primary"] != 2 {
		t.Errorf("primary attempted %d times, want 2 (retry before fallback)", calls["primary"])
	}
}

func TestInvokeNonRetryableSurfacesImmediately(t *testing.T) {
	calls := 0
	client := workerclient.Func(func(_ context.Context, _ *message.Envelope) (*message.Result, error) {
		calls++
		return nil, domain.NewError(domain.CategoryValidation, domain.SeverityError, "tid-1",
			errors.New("malformed payload"))
	})
	ctrl, _ := newTestController(client)

	_, err := ctrl.Invoke(context.Background(), "primary", testEvent(), []string{"backup"})
	if err == nil {
		t.Fatal("expected error")
	}
	if domain.CategoryOf(err) != domain.CategoryValidation {
		t.Errorf("category = %v, want validation", domain.CategoryOf(err))
	}
	if calls != 1 {
		t.Errorf("client called %d times, want 1 (no retry, no fallback)", calls)
	}
}

func TestInvokeChainExhausted(t *testing.T) {
	client := workerclient.Func(func(_ context.Context, _ *message.Envelope) (*message.Result, error) {
		return nil, domain.NewError(domain.CategoryIntegration, domain.SeverityError, "tid-1",
			errors.New("down"))
	})
	ctrl, store := newTestController(client)

	_, err := ctrl.Invoke(context.Background(), "primary", testEvent(), []string{"backup"})
	if !errors.Is(err, domain.ErrWorkerUnavailable) {
		t.Fatalf("Invoke() = %v, want ErrWorkerUnavailable", err)
	}

	var derr *domain.Error
	if !errors.As(err, &derr) {
		t.Fatal("expected *domain.Error")
	}
	if !derr.RecoveryAttempted {
		t.Error("expected RecoveryAttempted to be set after walking the chain")
	}

	found := false
	for _, o := range store.outcomes() {
		if o == "chain_exhausted" {
			found = true
		}
	}
	if !found {
		t.Errorf("audit outcomes %v missing chain_exhausted", store.outcomes())
	}
}

func TestInvokeSkipsOpenBreaker(t *testing.T) {
	var mu sync.Mutex
	invoked := []string{}
	client := workerclient.Func(func(_ context.Context, env *message.Envelope) (*message.Result, error) {
		mu.Lock()
		invoked = append(invoked, env.Recipient)
		mu.Unlock()
		return &message.Result{AgentID: env.Recipient, Status: "success"}, nil
	})
	ctrl, store := newTestController(client)

	// Trip the primary's breaker.
	br := ctrl.breaker("primary")
	for range 5 {
		br.Failure()
	}

	result, err := ctrl.Invoke(context.Background(), "primary", testEvent(), []string{"backup"})
	if err != nil {
		t.Fatalf("Invoke() = %v", err)
	}
	if result.AgentID != "backup" {
		t.Errorf("served by %q, want backup", result.AgentID)
	}
	for _, id := range invoked {
		if id == "primary" {
			t.Error("primary must not be invoked while its circuit is open")
		}
	}

	found := false
	for _, o := range store.outcomes() {
		if o == "short_circuit" {
			found = true
		}
	}
	if !found {
		t.Errorf("audit outcomes %v missing short_circuit", store.outcomes())
	}
}

func TestInvokeHalfOpenTrialConsumesOneSlot(t *testing.T) {
	client := workerclient.Func(func(_ context.Context, env *message.Envelope) (*message.Result, error) {
		return &message.Result{AgentID: env.Recipient, Status: "success"}, nil
	})

	reg := registry.New()
	reg.Register(worker.Worker{ID: "primary"})
	ctrl := NewController(reg, client, audit.New(&memStore{}), broadcast.Nop{}, testRetryConfig(), config.Breaker{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenTrials:   1,
	})

	clock := newFakeClock()
	br := ctrl.breaker("primary")
	br.now = clock.now
	for range 5 {
		br.Failure()
	}
	clock.advance(60 * time.Second)

	// With a budget of one, the single trial invocation must pass the
	// breaker gate exactly once and close the circuit on success.
	result, err := ctrl.Invoke(context.Background(), "primary", testEvent(), nil)
	if err != nil {
		t.Fatalf("Invoke() in half-open = %v", err)
	}
	if result.AgentID != "primary" {
		t.Errorf("served by %q, want primary", result.AgentID)
	}
	if got := br.State(); got != worker.HealthClosed {
		t.Errorf("breaker state after trial success = %v, want closed", got)
	}
}

func TestHealthReflectsBreaker(t *testing.T) {
	ctrl, _ := newTestController(workerclient.Func(func(context.Context, *message.Envelope) (*message.Result, error) {
		return nil, errors.New("unused")
	}))

	if got := ctrl.Health("primary"); got != worker.HealthClosed {
		t.Fatalf("initial health = %v", got)
	}
	br := ctrl.breaker("primary")
	for range 5 {
		br.Failure()
	}
	if got := ctrl.Health("primary"); got != worker.HealthOpen {
		t.Errorf("health after trip = %v, want open", got)
	}
}
