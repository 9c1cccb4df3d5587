package killswitch

import "testing"

func TestIsActiveGlobalAndStrategy(t *testing.T) {
	t.Parallel()
	k := New("secret")

	if k.IsActive("p1") {
		t.Fatal("should not be active before any trip")
	}

	k.ActivateStrategy("p1", "manual pause", "operator")
	if !k.IsActive("p1") {
		t.Fatal("p1 should be halted after ActivateStrategy")
	}
	if k.IsActive("p2") {
		t.Fatal("p2 should not be halted by p1's strategy bit")
	}

	k.ActivateGlobal("halt everything", "operator")
	if !k.IsActive("p2") {
		t.Fatal("global activation should halt every producer")
	}
}

func TestDeactivateGlobalWrongCode(t *testing.T) {
	t.Parallel()
	k := New("secret")
	k.ActivateGlobal("r", "operator")

	if _, err := k.DeactivateGlobal("wrong", "r"); err != ErrPermissionDenied {
		t.Fatalf("expected ErrPermissionDenied, got %v", err)
	}
	if !k.IsActive("") {
		t.Fatal("failed deactivate must not change state")
	}
}

func TestDeactivateGlobalNotActive(t *testing.T) {
	t.Parallel()
	k := New("secret")
	if _, err := k.DeactivateGlobal("secret", "r"); err != ErrNotActive {
		t.Fatalf("expected ErrNotActive, got %v", err)
	}
}

func TestDeactivateGlobalSuccess(t *testing.T) {
	t.Parallel()
	k := New("secret")
	k.ActivateGlobal("r", "operator")
	if _, err := k.DeactivateGlobal("secret", "cleared"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if k.IsActive("") {
		t.Fatal("should be cleared after successful deactivate")
	}
}

func TestAdminCodeMaskedInEvent(t *testing.T) {
	t.Parallel()
	k := New("supersecretcode")
	k.ActivateGlobal("r", "operator")
	ev, err := k.DeactivateGlobal("supersecretcode", "r")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if ev.AdminCode != "supe****" {
		t.Fatalf("expected masked admin code, got %q", ev.AdminCode)
	}
}

func TestEventsFilteredByProducer(t *testing.T) {
	t.Parallel()
	k := New("secret")
	k.ActivateStrategy("p1", "r1", "operator")
	k.ActivateStrategy("p2", "r2", "operator")
	k.ActivateGlobal("g", "operator")

	events := k.Events(100, "p1")
	sawP2 := false
	for _, e := range events {
		if e.StrategyID == "p2" {
			sawP2 = true
		}
	}
	if sawP2 {
		t.Fatal("p1-scoped event query should not see p2's strategy event")
	}
}
