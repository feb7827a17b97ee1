package damage

import "testing"

func TestRectIntersects(t *testing.T) {
	a := Rect{X: 0, Y: 0, W: 100, H: 100}
	b := Rect{X: 50, Y: 50, W: 100, H: 100}
	c := Rect{X: 200, Y: 200, W: 10, H: 10}

	if !a.Intersects(b) {
		t.Fatal("expected overlapping rects to intersect")
	}
	if a.Intersects(c) {
		t.Fatal("expected disjoint rects to not intersect")
	}
}

func TestReportRegionOnlyRaisesOnIntersection(t *testing.T) {
	tr := New()
	tr.SetTarget(TargetMonitor, Rect{X: 0, Y: 0, W: 1920, H: 1080})
	tr.ClearDamage()

	tr.ReportRegion(Rect{X: 5000, Y: 5000, W: 10, H: 10})
	if tr.IsDamaged() {
		t.Fatal("out-of-target region should not raise damage")
	}

	tr.ReportRegion(Rect{X: 100, Y: 100, W: 10, H: 10})
	if !tr.IsDamaged() {
		t.Fatal("in-target region should raise damage")
	}
}

func TestClearDamageResetsFlag(t *testing.T) {
	tr := New()
	tr.ClearDamage()
	if tr.IsDamaged() {
		t.Fatal("expected flag cleared")
	}
	tr.SetDegraded(true)
	tr.ReportRegion(Rect{})
	if !tr.IsDamaged() {
		t.Fatal("expected degraded tracker to always raise damage")
	}
}

func TestNoTargetAlwaysDamaged(t *testing.T) {
	tr := New()
	tr.ClearDamage()
	tr.ReportRegion(Rect{X: 99999, Y: 99999, W: 1, H: 1})
	if !tr.IsDamaged() {
		t.Fatal("with no target set, any region should raise damage")
	}
}

func TestReportCursorMoveRespectsTarget(t *testing.T) {
	tr := New()
	tr.SetTarget(TargetWindow, Rect{X: 0, Y: 0, W: 200, H: 200})
	tr.ClearDamage()

	tr.ReportCursorMove(9000, 9000)
	if tr.IsDamaged() {
		t.Fatal("cursor move outside target should not raise damage")
	}

	tr.ReportCursorMove(10, 10)
	if !tr.IsDamaged() {
		t.Fatal("cursor move inside target should raise damage")
	}
}
