// Package damage implements the Damage Tracker from spec §4.4: a single
// damaged flag plus a target descriptor, fed by X11 XDamage events,
// PipeWire damage hints, XFixes cursor position, and XRandR
// geometry-change events.
package damage

import "sync"

// TargetKind selects what geometry Region describes.
type TargetKind int

const (
	TargetNone TargetKind = iota
	TargetWindow
	TargetMonitor
)

// Rect is an axis-aligned region in desktop coordinates.
type Rect struct {
	X, Y, W, H int32
}

// Intersects reports whether r and other overlap.
func (r Rect) Intersects(other Rect) bool {
	if r.W <= 0 || r.H <= 0 || other.W <= 0 || other.H <= 0 {
		return false
	}
	return r.X < other.X+other.W &&
		other.X < r.X+r.W &&
		r.Y < other.Y+other.H &&
		other.Y < r.Y+r.H
}

// Tracker holds the damaged flag and the current target rectangle. All
// methods are safe for concurrent use since damage events and the pacer's
// capture() call run on different goroutines in the portal/kms backends.
type Tracker struct {
	mu       sync.Mutex
	kind     TargetKind
	target   Rect
	damaged  bool
	degraded bool // "always damaged" fallback, see SetDegraded
}

// New returns a Tracker with no target set; until SetTarget is called,
// every region is considered to intersect (degrade gracefully rather than
// never raising damage).
func New() *Tracker {
	return &Tracker{damaged: true}
}

// SetTarget updates the tracked window or monitor geometry in place, so
// damage tests remain valid across rotation/resolution changes delivered
// by XRandR CRTC/output events (spec §4.4).
func (t *Tracker) SetTarget(kind TargetKind, rect Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.kind = kind
	t.target = rect
}

// SetDegraded marks this tracker as unable to compute precise
// intersections (e.g. a backend with no damage event source at all); every
// subsequent region reported raises the flag unconditionally, matching
// spec §4.4's "always damaged" graceful degrade.
func (t *Tracker) SetDegraded(degraded bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.degraded = degraded
}

// ReportRegion raises the damaged flag only if region intersects the
// current target rectangle (or the tracker has no target/is degraded).
func (t *Tracker) ReportRegion(region Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.degraded || t.kind == TargetNone {
		t.damaged = true
		return
	}
	if region.Intersects(t.target) {
		t.damaged = true
	}
}

// ReportCursorMove raises the damaged flag only if the cursor position
// intersects the target rectangle.
func (t *Tracker) ReportCursorMove(x, y int32) {
	t.ReportRegion(Rect{X: x, Y: y, W: 1, H: 1})
}

// IsDamaged reports the current flag value without clearing it.
func (t *Tracker) IsDamaged() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.damaged
}

// ClearDamage resets the flag to false. Called by the capture backend
// after consuming a damaged frame.
func (t *Tracker) ClearDamage() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.damaged = false
}

// Target returns the current target kind and rectangle.
func (t *Tracker) Target() (TargetKind, Rect) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.kind, t.target
}
