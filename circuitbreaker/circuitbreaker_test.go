package circuitbreaker

import (
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cairnfi/execore/killswitch"
)

func d(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }

// TestS4CircuitBreakerTrip follows spec.md §8's S4 scenario: a warning
// transition, then a halt transition that trips the kill switch, then a
// reset gated on the admin code.
func TestS4CircuitBreakerTrip(t *testing.T) {
	t.Parallel()
	kill := killswitch.New("correct-code")
	cb := New(kill, DefaultThresholds())

	// Daily drawdown 2.5% crosses the daily warn threshold (2%).
	if st := cb.UpdateDrawdown(d(2.5), d(4.0)); st != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN once daily drawdown crosses warn threshold, got %s", st)
	}

	// Total drawdown 10% crosses the total halt threshold.
	if st := cb.UpdateDrawdown(d(1.5), d(10.0)); st != StateOpen {
		t.Fatalf("expected OPEN at total drawdown 10%%, got %s", st)
	}
	if !kill.IsActive("") {
		t.Fatal("circuit breaker trip must activate the global kill switch")
	}

	if _, err := cb.Reset("wrong-code"); err != killswitch.ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied on bad reset code, got %v", err)
	}
	if !cb.IsTripped() {
		t.Fatal("failed reset must not change breaker state")
	}

	if _, err := cb.Reset("correct-code"); err != nil {
		t.Fatalf("unexpected error on correct reset: %v", err)
	}
	if cb.State() != StateClosed {
		t.Fatalf("expected CLOSED after reset, got %s", cb.State())
	}
	if kill.IsActive("") {
		t.Fatal("reset must clear the kill switch")
	}
}

func TestUpdateDrawdownBoundaries(t *testing.T) {
	t.Parallel()
	kill := killswitch.New("x")
	cb := New(kill, DefaultThresholds())

	// Exactly at daily warn -> HALF_OPEN.
	if st := cb.UpdateDrawdown(DefaultThresholds().DailyWarnPct, decimal.Zero); st != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN at exact daily warn threshold, got %s", st)
	}

	kill2 := killswitch.New("x")
	cb2 := New(kill2, DefaultThresholds())
	// Exactly at daily halt -> OPEN.
	if st := cb2.UpdateDrawdown(DefaultThresholds().DailyHaltPct, decimal.Zero); st != StateOpen {
		t.Fatalf("expected OPEN at exact daily halt threshold, got %s", st)
	}
}

func TestRecoveryFromHalfOpen(t *testing.T) {
	t.Parallel()
	kill := killswitch.New("x")
	cb := New(kill, DefaultThresholds())

	cb.UpdateDrawdown(d(2.5), decimal.Zero) // warn
	if cb.State() != StateHalfOpen {
		t.Fatalf("expected HALF_OPEN, got %s", cb.State())
	}

	cb.UpdateDrawdown(decimal.Zero, decimal.Zero) // improves
	if cb.State() != StateClosed {
		t.Fatalf("expected recovery to CLOSED, got %s", cb.State())
	}
}

func TestResetOnlyValidFromOpen(t *testing.T) {
	t.Parallel()
	kill := killswitch.New("x")
	cb := New(kill, DefaultThresholds())
	if _, err := cb.Reset("x"); err != ErrNotOpen {
		t.Fatalf("expected ErrNotOpen, got %v", err)
	}
}
