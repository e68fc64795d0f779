package llm

import (
	"testing"
	"time"
)

func TestCircuitBreakerOpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(3, time.Hour)

	for i := 0; i < 2; i++ {
		if !cb.Allow() {
			t.Fatalf("call %d: Allow() = false, want true", i)
		}
		cb.RecordFailure()
	}
	if cb.State() != CircuitClosed {
		t.Fatalf("State() = %v, want Closed", cb.State())
	}

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want Open", cb.State())
	}
	if cb.Allow() {
		t.Fatal("Allow() = true, want false once open")
	}
}

func TestCircuitBreakerHalfOpenRecovery(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want Open", cb.State())
	}

	time.Sleep(15 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("Allow() = false, want true after recovery timeout")
	}
	if cb.State() != CircuitHalfOpen {
		t.Fatalf("State() = %v, want HalfOpen", cb.State())
	}

	cb.RecordSuccess()
	if cb.State() != CircuitClosed {
		t.Fatalf("State() = %v, want Closed after probe success", cb.State())
	}
}

func TestCircuitBreakerHalfOpenReopenOnFailure(t *testing.T) {
	cb := NewCircuitBreaker(1, 10*time.Millisecond)
	cb.RecordFailure()
	time.Sleep(15 * time.Millisecond)
	cb.Allow()

	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatalf("State() = %v, want Open after probe failure", cb.State())
	}
}

func TestCircuitBreakerReset(t *testing.T) {
	cb := NewCircuitBreaker(1, time.Hour)
	cb.RecordFailure()
	if cb.State() != CircuitOpen {
		t.Fatal("expected open circuit before reset")
	}
	cb.Reset()
	if cb.State() != CircuitClosed {
		t.Fatal("expected closed circuit after reset")
	}
}
