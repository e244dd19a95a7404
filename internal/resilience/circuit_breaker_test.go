package resilience

import (
	"errors"
	"testing"
	"time"
)

func tripBreaker(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		cb.RecordResult(false)
	}
}

func TestCircuitBreaker_StateClosed(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	if cb.GetState() != StateClosed {
		t.Errorf("Expected initial state to be Closed, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Error("Expected to allow request in Closed state")
	}
}

func TestCircuitBreaker_OpenAfterFailures(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	tripBreaker(cb, 2)
	if cb.GetState() != StateClosed {
		t.Error("Expected state to still be Closed after 2 failures")
	}

	cb.RecordResult(false)
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after 3 failures")
	}

	err := cb.Call(func() error { return nil })
	if !errors.Is(err, ErrCircuitOpen) {
		t.Errorf("Expected ErrCircuitOpen, got %v", err)
	}
}

func TestCircuitBreaker_SuccessResetsFailureCount(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 1*time.Second)

	tripBreaker(cb, 2)
	cb.RecordResult(true)
	tripBreaker(cb, 2)

	if cb.GetState() != StateClosed {
		t.Error("Expected success to reset the consecutive failure count")
	}
}

func TestCircuitBreaker_HalfOpenProbesAreLimited(t *testing.T) {
	cb := NewCircuitBreaker("test", 1, 50*time.Millisecond)
	tripBreaker(cb, 1)

	time.Sleep(80 * time.Millisecond)

	allowed := 0
	for i := 0; i < 5; i++ {
		if cb.Allow() {
			allowed++
		}
	}
	if allowed != 3 {
		t.Errorf("Expected 3 half-open probes, got %d", allowed)
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_CloseAfterSuccess(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	time.Sleep(80 * time.Millisecond)

	for i := 0; i < 3; i++ {
		if err := cb.Call(func() error { return nil }); err != nil {
			t.Fatalf("probe %d rejected: %v", i, err)
		}
	}
	if cb.GetState() != StateClosed {
		t.Error("Expected state to be Closed after successes in HalfOpen")
	}
}

func TestCircuitBreaker_OpenAfterFailureInHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker("test", 3, 50*time.Millisecond)
	tripBreaker(cb, 3)

	time.Sleep(80 * time.Millisecond)

	_ = cb.Call(func() error { return errors.New("still down") })
	if cb.GetState() != StateOpen {
		t.Error("Expected state to be Open after failure in HalfOpen")
	}
}

func TestCircuitBreaker_OnStateChange(t *testing.T) {
	cb := NewCircuitBreaker("deepgram", 2, time.Second)

	var transitions []CircuitState
	cb.OnStateChange(func(name string, from, to CircuitState) {
		if name != "deepgram" {
			t.Errorf("Expected name deepgram, got %s", name)
		}
		transitions = append(transitions, to)
	})

	tripBreaker(cb, 2)
	tripBreaker(cb, 1)

	if len(transitions) != 1 || transitions[0] != StateOpen {
		t.Errorf("Expected a single transition to open, got %v", transitions)
	}
}

func TestCircuitBreaker_Stats(t *testing.T) {
	cb := NewCircuitBreaker("test", 10, time.Second)

	_ = cb.Call(func() error { return nil })
	_ = cb.Call(func() error { return errors.New("boom") })

	state, requests, failures, rate := cb.GetStats()
	if state != StateClosed {
		t.Errorf("Expected Closed, got %s", state)
	}
	if requests != 2 || failures != 1 {
		t.Errorf("Expected 2 requests and 1 failure, got %d and %d", requests, failures)
	}
	if rate != 50.0 {
		t.Errorf("Expected 50%% failure rate, got %.1f", rate)
	}
}

func TestCircuitBreaker_AllowHalfOpensAfterTimeout(t *testing.T) {
	cb := NewCircuitBreaker("stt", 2, 20*time.Millisecond)
	tripBreaker(cb, 2)

	if cb.Ready() || cb.Allow() {
		t.Fatal("Expected open breaker to reject before the reset timeout")
	}

	time.Sleep(60 * time.Millisecond)

	if !cb.Ready() {
		t.Error("Expected breaker to be ready once the reset timeout elapsed")
	}
	if cb.GetState() != StateOpen {
		t.Errorf("Expected Ready to leave the state alone, got %s", cb.GetState())
	}
	if !cb.Allow() {
		t.Fatal("Expected Allow to admit a request after the reset timeout")
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HalfOpen, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_ReleaseReturnsProbe(t *testing.T) {
	cb := NewCircuitBreaker("stt", 1, 20*time.Millisecond)
	tripBreaker(cb, 1)
	time.Sleep(60 * time.Millisecond)

	for i := 0; i < 10; i++ {
		if !cb.Allow() {
			t.Fatalf("attempt %d rejected although every earlier slot was released", i)
		}
		cb.Release()
	}
	if cb.GetState() != StateHalfOpen {
		t.Errorf("Expected HalfOpen, got %s", cb.GetState())
	}
}
