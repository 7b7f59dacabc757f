package resilience

import (
	"errors"
	"testing"
	"time"

	"github.com/veloraops/conductor/internal/domain/worker"
)

func testBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		Window:           60 * time.Second,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenTrials:   3,
	}
}

// fakeClock lets tests advance breaker time deterministically.
type fakeClock struct {
	t time.Time
}

func (c *fakeClock) now() time.Time          { return c.t }
func (c *fakeClock) advance(d time.Duration) { c.t = c.t.Add(d) }

func newFakeClock() *fakeClock { return &fakeClock{t: time.Unix(1700000000, 0)} }

func newTestBreaker(cfg BreakerConfig) (*Breaker, *fakeClock) {
	b := NewBreaker(cfg, nil)
	clock := newFakeClock()
	b.now = clock.now
	return b, clock
}

func TestBreakerOpensAtThreshold(t *testing.T) {
	b, _ := newTestBreaker(testBreakerConfig())

	for i := range 4 {
		b.Failure()
		if got := b.State(); got != worker.HealthClosed {
			t.Fatalf("state after %d failures = %v, want closed", i+1, got)
		}
	}
	b.Failure()
	if got := b.State(); got != worker.HealthOpen {
		t.Fatalf("state after 5 failures = %v, want open", got)
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Allow() = %v, want ErrCircuitOpen", err)
	}
}

func TestBreakerWindowPrunesOldFailures(t *testing.T) {
	b, clock := newTestBreaker(testBreakerConfig())

	// Four failures, then wait for them to age out of the window.
	for range 4 {
		b.Failure()
	}
	clock.advance(61 * time.Second)

	// Four more failures: the old ones no longer count.
	for range 4 {
		b.Failure()
	}
	if got := b.State(); got != worker.HealthClosed {
		t.Errorf("state = %v, want closed (old failures pruned)", got)
	}

	b.Failure()
	if got := b.State(); got != worker.HealthOpen {
		t.Errorf("state = %v, want open", got)
	}
}

func TestBreakerSuccessClearsWindow(t *testing.T) {
	b, _ := newTestBreaker(testBreakerConfig())

	for range 4 {
		b.Failure()
	}
	b.Success()
	for range 4 {
		b.Failure()
	}
	if got := b.State(); got != worker.HealthClosed {
		t.Errorf("state = %v, want closed (window cleared by success)", got)
	}
}

func TestBreakerHalfOpenAfterRecoveryTimeout(t *testing.T) {
	b, clock := newTestBreaker(testBreakerConfig())

	for range 5 {
		b.Failure()
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Fatal("expected open breaker to reject")
	}

	clock.advance(60 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatalf("Allow() after recovery timeout = %v", err)
	}
	if got := b.State(); got != worker.HealthHalfOpen {
		t.Fatalf("state = %v, want half_open", got)
	}
}

func TestBreakerHalfOpenTrialBudget(t *testing.T) {
	cfg := testBreakerConfig()
	b, clock := newTestBreaker(cfg)

	for range 5 {
		b.Failure()
	}
	clock.advance(60 * time.Second)

	// The transition into half-open consumes the first trial slot.
	for i := range cfg.HalfOpenTrials {
		if err := b.Allow(); err != nil {
			t.Fatalf("trial %d rejected: %v", i+1, err)
		}
	}
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected trial budget to be exhausted")
	}
}

func TestBreakerHalfOpenSuccessCloses(t *testing.T) {
	b, clock := newTestBreaker(testBreakerConfig())

	for range 5 {
		b.Failure()
	}
	clock.advance(60 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}

	b.Success()
	if got := b.State(); got != worker.HealthClosed {
		t.Errorf("state after trial success = %v, want closed", got)
	}
}

func TestBreakerHalfOpenFailureReopens(t *testing.T) {
	b, clock := newTestBreaker(testBreakerConfig())

	for range 5 {
		b.Failure()
	}
	clock.advance(60 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}

	b.Failure()
	if got := b.State(); got != worker.HealthOpen {
		t.Fatalf("state after trial failure = %v, want open", got)
	}
	// The recovery timer restarts from the renewed failure.
	if err := b.Allow(); !errors.Is(err, ErrCircuitOpen) {
		t.Error("expected reopened breaker to reject")
	}
}

func TestBreakerNotifiesInTransitionOrder(t *testing.T) {
	var changes [][2]worker.HealthState
	b := NewBreaker(testBreakerConfig(), func(from, to worker.HealthState) {
		changes = append(changes, [2]worker.HealthState{from, to})
	})
	clock := newFakeClock()
	b.now = clock.now

	for range 5 {
		b.Failure()
	}
	clock.advance(60 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Failure()
	clock.advance(60 * time.Second)
	if err := b.Allow(); err != nil {
		t.Fatal(err)
	}
	b.Success()

	want := [][2]worker.HealthState{
		{worker.HealthClosed, worker.HealthOpen},
		{worker.HealthOpen, worker.HealthHalfOpen},
		{worker.HealthHalfOpen, worker.HealthOpen},
		{worker.HealthOpen, worker.HealthHalfOpen},
		{worker.HealthHalfOpen, worker.HealthClosed},
	}
	if len(changes) != len(want) {
		t.Fatalf("notifications = %v, want %v", changes, want)
	}
	for i := range want {
		if changes[i] != want[i] {
			t.Errorf("notification %d = %v, want %v", i, changes[i], want[i])
		}
	}
	// The final notification matches the observable state.
	if last := changes[len(changes)-1][1]; last != b.State() {
		t.Errorf("last notified state %v != State() %v", last, b.State())
	}
}

func TestBreakerNotifiesStateChanges(t *testing.T) {
	changes := make(chan [2]worker.HealthState, 4)
	b := NewBreaker(testBreakerConfig(), func(from, to worker.HealthState) {
		changes <- [2]worker.HealthState{from, to}
	})
	clock := newFakeClock()
	b.now = clock.now

	for range 5 {
		b.Failure()
	}

	select {
	case ch := <-changes:
		if ch[0] != worker.HealthClosed || ch[1] != worker.HealthOpen {
			t.Errorf("change = %v -> %v", ch[0], ch[1])
		}
	case <-time.After(time.Second):
		t.Fatal("no state change notification")
	}
}
