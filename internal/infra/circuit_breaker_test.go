package infra

import (
	"testing"
	"time"
)

func TestCircuitBreaker_AllowInClosed(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig("test"))

	if !cb.Allow() {
		t.Error("expected Allow() true in CLOSED state")
	}
	if cb.GetState() != StateClosed {
		t.Errorf("expected CLOSED, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 3,
		SuccessThreshold: 2,
		Timeout:          100 * time.Millisecond,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateClosed {
		t.Error("should still be CLOSED after 2 failures")
	}

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("expected OPEN after 3 failures, got %s", cb.GetState())
	}
	if cb.Allow() {
		t.Error("expected Allow() false in OPEN state")
	}
}

func TestCircuitBreaker_RecoversThroughHalfOpen(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 2,
		SuccessThreshold: 2,
		Timeout:          10 * time.Millisecond,
	})

	cb.RecordFailure()
	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Fatalf("expected OPEN, got %s", cb.GetState())
	}

	time.Sleep(20 * time.Millisecond)

	if !cb.Allow() {
		t.Fatal("expected Allow() true after timeout (half-open probe)")
	}
	if cb.GetState() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", cb.GetState())
	}

	cb.RecordSuccess()
	cb.RecordSuccess()
	if cb.GetState() != StateClosed {
		t.Errorf("expected CLOSED after successes, got %s", cb.GetState())
	}
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		Name:             "test",
		FailureThreshold: 1,
		SuccessThreshold: 1,
		Timeout:          10 * time.Millisecond,
	})

	cb.RecordFailure()
	time.Sleep(20 * time.Millisecond)
	cb.Allow() // transitions to half-open

	cb.RecordFailure()
	if cb.GetState() != StateOpen {
		t.Errorf("expected OPEN after half-open failure, got %s", cb.GetState())
	}
}
