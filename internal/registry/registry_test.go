package registry

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/veloraops/conductor/internal/domain/worker"
)

func TestRegisterAndGet(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "billing-agent", Capabilities: []string{"invoicing"}})

	w, ok := r.Get("billing-agent")
	if !ok {
		t.Fatal("expected worker to be registered")
	}
	if !w.HasCapability("invoicing") {
		t.Error("capability lost on registration")
	}

	if _, ok := r.Get("ghost"); ok {
		t.Error("unknown worker should not resolve")
	}
}

func TestRegisterPreservesHealth(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "a"})
	r.SetHealth("a", worker.HealthOpen)

	// Re-registration updates the descriptor, not the runtime state.
	r.Register(worker.Worker{ID: "a", Capabilities: []string{"x"}})

	if got := r.Health("a"); got != worker.HealthOpen {
		t.Errorf("health = %v, want open", got)
	}
}

func TestCompareAndSetHealth(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "a"})

	if !r.CompareAndSetHealth("a", worker.HealthClosed, worker.HealthOpen) {
		t.Error("expected CAS from closed to succeed")
	}
	if r.CompareAndSetHealth("a", worker.HealthClosed, worker.HealthHalfOpen) {
		t.Error("stale CAS should fail")
	}
	if r.CompareAndSetHealth("ghost", worker.HealthClosed, worker.HealthOpen) {
		t.Error("CAS on unknown worker should fail")
	}
	if got := r.Health("a"); got != worker.HealthOpen {
		t.Errorf("health = %v, want open", got)
	}
}

func TestTimeout(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "slow", TimeoutSeconds: 120})
	r.Register(worker.Worker{ID: "default"})

	def := 30 * time.Second
	if got := r.Timeout("slow", def); got != 120*time.Second {
		t.Errorf("Timeout(slow) = %v", got)
	}
	if got := r.Timeout("default", def); got != def {
		t.Errorf("Timeout(default) = %v", got)
	}
	if got := r.Timeout("ghost", def); got != def {
		t.Errorf("Timeout(ghost) = %v", got)
	}
}

func TestByCapabilityOrdersByLoad(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "a", Capabilities: []string{"scoring"}})
	r.Register(worker.Worker{ID: "b", Capabilities: []string{"scoring"}})
	r.Register(worker.Worker{ID: "c", Capabilities: []string{"other"}})

	// Equal load: ordered by ID.
	ids := r.ByCapability("scoring")
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Fatalf("ByCapability = %v", ids)
	}

	// Load "a" so "b" becomes preferred.
	r.AcquireSlot("a")
	r.AcquireSlot("a")
	ids = r.ByCapability("scoring")
	if ids[0] != "b" {
		t.Errorf("expected least-loaded worker first, got %v", ids)
	}

	r.ReleaseSlot("a")
	r.ReleaseSlot("a")
	if got := r.InFlight("a"); got != 0 {
		t.Errorf("in-flight after release = %d", got)
	}
}

func TestByEntity(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "b", BusinessEntities: []string{"acct-1"}})
	r.Register(worker.Worker{ID: "a", BusinessEntities: []string{"acct-1"}})
	r.Register(worker.Worker{ID: "c", BusinessEntities: []string{"acct-2"}})

	ids := r.ByEntity("acct-1")
	if len(ids) != 2 || ids[0] != "a" || ids[1] != "b" {
		t.Errorf("ByEntity = %v", ids)
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "workers.yaml")
	content := `workers:
  - id: billing-agent
    capabilities: [invoicing]
    fallbacks: [backup-agent]
    timeout_seconds: 45
  - id: backup-agent
`
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}

	r := New()
	if err := r.LoadFile(path); err != nil {
		t.Fatalf("LoadFile() = %v", err)
	}

	if got := r.Fallbacks("billing-agent"); len(got) != 1 || got[0] != "backup-agent" {
		t.Errorf("Fallbacks = %v", got)
	}
	if got := r.Timeout("billing-agent", time.Second); got != 45*time.Second {
		t.Errorf("Timeout = %v", got)
	}
}

func TestLoadFileMissingIsNotError(t *testing.T) {
	r := New()
	if err := r.LoadFile(filepath.Join(t.TempDir(), "nope.yaml")); err != nil {
		t.Errorf("LoadFile(missing) = %v", err)
	}
}

func TestSnapshotSorted(t *testing.T) {
	r := New()
	r.Register(worker.Worker{ID: "z"})
	r.Register(worker.Worker{ID: "a"})

	snap := r.Snapshot()
	if len(snap) != 2 || snap[0].Worker.ID != "a" || snap[1].Worker.ID != "z" {
		t.Errorf("Snapshot = %+v", snap)
	}
	if snap[0].Health != worker.HealthClosed.String() {
		t.Errorf("default health = %q", snap[0].Health)
	}
}
