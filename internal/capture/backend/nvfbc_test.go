package backend

import (
	"testing"
	"time"
)

func TestNVFBCCaptureMarksSessionLostOnGrabFailure(t *testing.T) {
	b := &NVFBCBackend{}
	b.funcs.grabFrame = func(handle uintptr, params uintptr) int32 { return 1 }

	n, err := b.Capture(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected 0 frames on grab failure, got %d", n)
	}
	if !b.sessionLost {
		t.Fatal("expected sessionLost to be set after a failed grab")
	}
}

func TestNVFBCCaptureBacksOffBeforeRetryInterval(t *testing.T) {
	b := &NVFBCBackend{sessionLost: true, lastRetry: time.Now()}

	n, err := b.Capture(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no capture attempt before the retry interval elapses, got %d", n)
	}
}

func TestNVFBCCaptureRetriesAfterIntervalElapses(t *testing.T) {
	recreated := false
	b := &NVFBCBackend{sessionLost: true, lastRetry: time.Now().Add(-2 * retryInterval)}
	b.funcs.createHandle = func(handle *uintptr, params uintptr) int32 {
		recreated = true
		*handle = 1
		return 0
	}
	b.funcs.createCapture = func(handle uintptr, params uintptr) int32 { return 0 }
	b.funcs.grabFrame = func(handle uintptr, params uintptr) int32 { return 0 }

	n, err := b.Capture(nil, nil)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !recreated {
		t.Fatal("expected session recreation attempt after retry interval elapsed")
	}
	if b.sessionLost {
		t.Fatal("expected sessionLost cleared after successful recreation")
	}
	if n != 1 {
		t.Fatalf("expected 1 frame captured after recovery, got %d", n)
	}
}

func TestNVFBCDestroyIsSafeWithoutStart(t *testing.T) {
	b := &NVFBCBackend{}
	b.Destroy(nil)
}
