package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	gobreaker "github.com/sony/gobreaker/v2"
)

func TestCircuitBreaker_ClosedState_PassesThrough(t *testing.T) {
	cb := NewCircuitBreaker("places", DefaultCircuitBreakerConfig())

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if calls != 1 {
		t.Errorf("expected 1 call, got %d", calls)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker("places", CircuitBreakerConfig{
		FailureThreshold: 3,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error {
			return NewTransientError(errors.New("unavailable"), 503)
		})
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	var calls int
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("expected ErrCircuitOpen, got %v", err)
	}
	if calls != 0 {
		t.Errorf("open breaker should not call fn, got %d calls", calls)
	}
}

func TestCircuitBreaker_CallerDeadlineDoesNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("anthropic", CircuitBreakerConfig{
		FailureThreshold: 2,
		ResetTimeout:     time.Minute,
	})

	for i := 0; i < 3; i++ {
		ctx, cancel := context.WithTimeout(context.Background(), time.Millisecond)
		err := cb.Execute(ctx, func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})
		cancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("expected the caller's deadline error, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Fatalf("expected closed state after caller deadlines, got %s", cb.State())
	}
	if err := cb.Execute(context.Background(), func(context.Context) error { return nil }); err != nil {
		t.Errorf("healthy call rejected: %v", err)
	}
}

func TestCircuitBreaker_UpstreamTimeoutStillTrips(t *testing.T) {
	cb := NewCircuitBreaker("places", CircuitBreakerConfig{FailureThreshold: 2, ResetTimeout: time.Minute})

	for i := 0; i < 2; i++ {
		_ = cb.Execute(context.Background(), func(context.Context) error {
			// An upstream-side timeout while the caller still has budget.
			return context.DeadlineExceeded
		})
	}
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}
}

func TestCircuitBreaker_PermanentErrorsDoNotTrip(t *testing.T) {
	cb := NewCircuitBreaker("places", CircuitBreakerConfig{FailureThreshold: 2})

	notFound := errors.New("place not found")
	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func(_ context.Context) error {
			return notFound
		})
		if !errors.Is(err, notFound) {
			t.Fatalf("expected underlying error, got %v", err)
		}
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed state, got %s", cb.State())
	}
}

func TestCircuitBreaker_HalfOpenRecovers(t *testing.T) {
	cb := NewCircuitBreaker("anthropic", CircuitBreakerConfig{
		FailureThreshold: 1,
		ResetTimeout:     20 * time.Millisecond,
	})
	_ = cb.Execute(context.Background(), func(_ context.Context) error {
		return NewTransientError(errors.New("overloaded"), 529)
	})
	if cb.State() != gobreaker.StateOpen {
		t.Fatalf("expected open state, got %s", cb.State())
	}

	time.Sleep(40 * time.Millisecond)

	got, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) {
		return 7, nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != 7 {
		t.Errorf("expected 7, got %d", got)
	}
	if cb.State() != gobreaker.StateClosed {
		t.Errorf("expected closed state after probe, got %s", cb.State())
	}
}

func TestServiceBreakers_GetReusesInstance(t *testing.T) {
	sb := NewServiceBreakers(DefaultCircuitBreakerConfig())
	a := sb.Get("google_places")
	b := sb.Get("google_places")
	if a != b {
		t.Error("expected same breaker for same service")
	}
	sb.Get("anthropic")

	states := sb.States()
	if len(states) != 2 {
		t.Fatalf("expected 2 breakers, got %d", len(states))
	}
	if states["anthropic"] != "closed" {
		t.Errorf("expected closed, got %s", states["anthropic"])
	}
}

func TestCircuitSettings_Config(t *testing.T) {
	cfg := CircuitSettings{FailureThreshold: 7, ResetTimeout: 12 * time.Second}.Config()
	if cfg.FailureThreshold != 7 || cfg.ResetTimeout != 12*time.Second {
		t.Errorf("unexpected config %+v", cfg)
	}
	d := CircuitSettings{}.Config()
	if d.FailureThreshold != 5 || d.ResetTimeout != 30*time.Second {
		t.Errorf("expected defaults, got %+v", d)
	}
}
