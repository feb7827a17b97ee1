package dmabuf

import (
	"os"
	"testing"
)

func tempFD(t *testing.T) int {
	t.Helper()
	f, err := os.CreateTemp(t.TempDir(), "dmabuf-test")
	if err != nil {
		t.Fatalf("CreateTemp: %v", err)
	}
	t.Cleanup(func() { f.Close() })
	return int(f.Fd())
}

func TestHandleCloseIsIdempotent(t *testing.T) {
	fd := tempFD(t)
	h := NewHandle(fd)

	if err := h.Close(); err != nil {
		t.Fatalf("first Close: %v", err)
	}
	for i := 0; i < 5; i++ {
		if err := h.Close(); err != nil {
			t.Fatalf("repeat Close() returned error: %v", err)
		}
	}
}

func TestHandleTakeMarksClosedWithoutClosingFD(t *testing.T) {
	fd := tempFD(t)
	h := NewHandle(fd)

	taken := h.Take()
	if taken != fd {
		t.Fatalf("Take() = %d, want %d", taken, fd)
	}

	// Close after Take must be a no-op: the fd itself was never closed by
	// the Handle, ownership moved to the caller of Take.
	if err := h.Close(); err != nil {
		t.Fatalf("Close after Take returned error: %v", err)
	}
}

func TestFrameDescriptorCloseClosesAllOwnedPlanes(t *testing.T) {
	var fd FrameDescriptor
	fd.NumPlanes = 2
	fd.Planes[0].FD = NewHandle(tempFD(t))
	fd.Planes[1].FD = NewHandle(tempFD(t))

	fd.Close()

	// Closing twice must not panic or double-close.
	fd.Close()
}

func TestEncodedPacketRefCounting(t *testing.T) {
	p := NewEncodedPacket(0, 100, 100, true, []byte{1, 2, 3})

	p.Retain()
	if p.Release() {
		t.Fatal("Release() reported last reference after only one of two released")
	}
	if !p.Release() {
		t.Fatal("Release() should report true on the final reference")
	}
}

func TestVerifyFourCCRejectsUnknown(t *testing.T) {
	known := map[uint32]bool{0x34325258: true} // DRM_FORMAT_XR24
	if err := VerifyFourCC(0x34325258, known); err != nil {
		t.Fatalf("known fourcc rejected: %v", err)
	}
	if err := VerifyFourCC(0xdeadbeef, known); err == nil {
		t.Fatal("expected error for unknown fourcc")
	}
}
