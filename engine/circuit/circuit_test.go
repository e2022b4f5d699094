package circuit

import (
	"errors"
	"testing"

	"github.com/kbukum/flowforge/resilience"
)

func TestStateStartsClosedForUnknownModule(t *testing.T) {
	r := New()
	if got := r.State("m.Fresh"); got != resilience.StateClosed {
		t.Errorf("expected StateClosed, got %v", got)
	}
}

func TestRunOpensCircuitAfterDefaultMaxFailures(t *testing.T) {
	r := New()
	boom := errors.New("boom")

	// DefaultCircuitBreakerConfig sets MaxFailures to 5.
	for i := 0; i < 5; i++ {
		if err := r.Run("m.Flaky", func() error { return boom }); err != boom {
			t.Fatalf("call %d: expected the underlying error, got %v", i, err)
		}
	}
	if got := r.State("m.Flaky"); got != resilience.StateOpen {
		t.Fatalf("expected the circuit to open after 5 failures, state is %v", got)
	}
	if err := r.Run("m.Flaky", func() error { return nil }); err != resilience.ErrCircuitOpen {
		t.Errorf("expected ErrCircuitOpen once the breaker trips, got %v", err)
	}
}

func TestRunKeepsDistinctBreakersPerModule(t *testing.T) {
	r := New()
	boom := errors.New("boom")
	for i := 0; i < 5; i++ {
		_ = r.Run("m.A", func() error { return boom })
	}
	if got := r.State("m.A"); got != resilience.StateOpen {
		t.Fatalf("expected m.A's breaker to be open, got %v", got)
	}
	if got := r.State("m.B"); got != resilience.StateClosed {
		t.Errorf("expected m.B's breaker to be unaffected by m.A's failures, got %v", got)
	}
}
