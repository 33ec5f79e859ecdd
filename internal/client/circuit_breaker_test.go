package client

import (
	"testing"
	"time"
)

func TestCircuitBreaker(t *testing.T) {
	// Configure for fast testing: 3 failures, 100ms timeout
	cb := NewCircuitBreaker(3, 100*time.Millisecond)

	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state, got %v", cb.State())
	}
	if !cb.Allow() {
		t.Error("Should allow requests in Closed state")
	}

	cb.Failure()
	cb.Failure()
	if cb.State() != StateClosed {
		t.Errorf("Should remain Closed after 2 failures")
	}

	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after 3 failures")
	}
	if cb.Allow() {
		t.Error("Should NOT allow requests in Open state")
	}

	// Wait out the timeout so the next Allow admits a probe.
	time.Sleep(150 * time.Millisecond)

	if !cb.Allow() {
		t.Error("Should allow probe request after timeout")
	}
	if cb.State() != StateHalfOpen {
		t.Errorf("Expected HalfOpen state, got %v", cb.State())
	}

	// Probe fails: straight back to Open.
	cb.Failure()
	if cb.State() != StateOpen {
		t.Errorf("Expected Open state after probe failure")
	}

	time.Sleep(150 * time.Millisecond)
	cb.Allow()

	// Probe succeeds: Closed with the failure count reset.
	cb.Success()
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state after probe success")
	}
	if cb.failures != 0 {
		t.Errorf("Failures should be reset")
	}
}

func TestCircuitBreakerSuccessInClosedState(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Second)

	cb.Failure()
	cb.Failure()
	cb.Success()
	cb.Failure()
	cb.Failure()

	// Success reset the count, so two more failures stay under the limit.
	if cb.State() != StateClosed {
		t.Errorf("Expected Closed state, got %v", cb.State())
	}
}
