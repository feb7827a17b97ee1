// Package backend defines the shared capture-backend interface (spec
// §4.3) and the optional capability sub-interfaces backends may implement,
// mirroring the teacher's tagged-capability pattern
// (TightLoopHint/FrameChangeHint/CursorProvider/DesktopSwitchNotifier).
package backend

import (
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/colorconv"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/dmabuf"
)

// SourceColor is the backend's native pixel layout.
type SourceColor int

const (
	SourceRGB SourceColor = iota
	SourceBGR
)

// CodecContext is the opaque per-session encoder context a backend's
// Start/Destroy pair is scoped to. Its concrete shape lives in the encoder
// package; backend only needs to thread the pointer through.
type CodecContext any

// Backend is the interface every capture source implements (spec §4.3).
// OnEvent, Tick, ShouldStop, IsDamaged, and ClearDamage are optional in the
// spec; Go expresses that as separate interfaces below rather than
// no-op methods, so callers can type-assert for them.
type Backend interface {
	Start(codecCtx CodecContext, frame *dmabuf.FrameDescriptor) error
	Capture(frame *dmabuf.FrameDescriptor, conv *colorconv.Engine) (int, error)
	GetSourceColor() SourceColor
	UsesExternalImage() bool
	SetHDRMetadata(mastering, light []byte) bool
	GetWindowID() uint64 // 0 if not applicable
	Destroy(codecCtx CodecContext)
}

// OnEventHandler is implemented by backends that need to pump a
// compositor event queue once per runtime tick (xcomposite).
type OnEventHandler interface {
	OnEvent(egl any)
}

// Ticker is implemented by backends with periodic housekeeping outside the
// capture() call (debounce timers, session-lost retry clocks).
type Ticker interface {
	Tick()
}

// StopChecker is implemented by backends that can detect their own
// unrecoverable failure condition (e.g. window destroyed).
type StopChecker interface {
	ShouldStop() (error, bool)
}

// DamageReporter is implemented by backends wired to a damage.Tracker.
type DamageReporter interface {
	IsDamaged() bool
	ClearDamage()
}

// Fallback flags shared across backend implementations for the common
// sub-protocol in spec §4.3: EGL image creation first tries with
// modifiers, then without; texture bind first tries 2D, then external;
// AMD/VAAPI additionally tries a zero-copy fast path.
type Fallbacks struct {
	NoModifiers      bool
	ExternalTexture  bool
	FastPathFailed   bool
}
