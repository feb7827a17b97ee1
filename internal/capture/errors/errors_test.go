package errors

import (
	"errors"
	"testing"
)

func TestKindRoundTripsThroughAs(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Kind
	}{
		{"config", Config("bad flag %q", "-x"), KindConfig},
		{"capability", Capability("hevc unsupported"), KindCapability},
		{"transient", TransientCapture("broker empty"), KindTransientCapture},
		{"fatal", FatalCapture("protocol mismatch"), KindFatalCapture},
		{"io", IO("write failed"), KindIO},
		{"plain", errors.New("plain"), KindUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := As(tt.err); got != tt.want {
				t.Fatalf("As() = %v, want %v", got, tt.want)
			}
			if !Is(tt.err, tt.want) {
				t.Fatalf("Is(%v) = false, want true", tt.want)
			}
		})
	}
}

func TestWrappedErrorPreservesKind(t *testing.T) {
	base := FatalCapture("broker said %d", 1)
	wrapped := errors.Join(base, errors.New("context"))

	if got := As(wrapped); got != KindFatalCapture {
		t.Fatalf("As(wrapped) = %v, want KindFatalCapture", got)
	}
}

func TestExitCodeMapping(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{Config("x"), 2},
		{FatalCapture("x"), 3},
		{Capability("x"), 22},
		{IO("x"), 23},
		{TransientCapture("x"), 0},
		{errors.New("plain"), 0},
	}

	for _, tt := range tests {
		if got := ExitCode(tt.err); got != tt.want {
			t.Fatalf("ExitCode(%v) = %d, want %d", tt.err, got, tt.want)
		}
	}
}

func TestErrorMessageIncludesKindPrefix(t *testing.T) {
	err := Capability("codec %s not supported", "av1")
	want := "capability: codec av1 not supported"
	if err.Error() != want {
		t.Fatalf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestUnwrapReachesSentinel(t *testing.T) {
	wrapped := FatalCapture("lookup failed: %w", ErrMonitorNotFound)
	if !errors.Is(wrapped, ErrMonitorNotFound) {
		t.Fatal("expected errors.Is to reach ErrMonitorNotFound through the kind wrapper")
	}
}
