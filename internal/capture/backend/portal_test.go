package backend

import "testing"

func TestPortalOnProcessLatchesDamage(t *testing.T) {
	b := &PortalBackend{damage: nil}

	b.onProcess(nil, 0, 0, 0, 0, false)
	if b.IsDamaged() {
		t.Fatal("expected no damage before first damaged frame")
	}

	b.onProcess(nil, 0, 0, 1920, 1080, true)
	if !b.IsDamaged() {
		t.Fatal("expected damage flag set after damaged frame")
	}
}

func TestPortalClearDamageResetsLatch(t *testing.T) {
	b := &PortalBackend{}
	b.onProcess(nil, 0, 0, 100, 100, true)
	b.ClearDamage()
	if b.IsDamaged() {
		t.Fatal("expected ClearDamage to reset the latched flag")
	}
}

func TestPortalCaptureSkipsWhenNotDamaged(t *testing.T) {
	b := &PortalBackend{}
	n, err := b.Capture(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 frames captured when undamaged, got %d", n)
	}
}
