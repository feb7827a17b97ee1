package pacer

import (
	"testing"
	"time"
)

type fakeCapturer struct{ n int }

func (f *fakeCapturer) Capture() (int, error) { return f.n, nil }

type fakeDamage struct {
	damaged bool
	cleared int
}

func (f *fakeDamage) IsDamaged() bool { return f.damaged }
func (f *fakeDamage) ClearDamage()    { f.damaged = false; f.cleared++ }

type fakeEncoder struct{ calls int }

func (f *fakeEncoder) Encode(pts int64, keyframe bool) ([]byte, error) {
	f.calls++
	return []byte{byte(pts)}, nil
}

type fakeSink struct {
	packets []int64
	keyframes []bool
}

func (f *fakeSink) WriteVideoPacket(pts int64, keyframe bool, payload []byte) error {
	f.packets = append(f.packets, pts)
	f.keyframes = append(f.keyframes, keyframe)
	return nil
}

func TestEmitCFRProducesExpectedFrameCount(t *testing.T) {
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := &Pacer{cfg: Config{Mode: ModeCFR, TargetFPS: 60}, encoder: enc, sink: sink}
	p.recordStartTime = time.Now().Add(-time.Second) // one second of recording

	p.emitCFR(time.Now())

	if len(sink.packets) < 58 || len(sink.packets) > 61 {
		t.Fatalf("expected ~60 packets for one second at 60fps, got %d", len(sink.packets))
	}
	if sink.packets[0] != 0 {
		t.Fatalf("expected first pts to be 0, got %d", sink.packets[0])
	}
}

func TestEmitCFRFirstFrameIsKeyframe(t *testing.T) {
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := &Pacer{cfg: Config{Mode: ModeCFR, TargetFPS: 30}, encoder: enc, sink: sink}
	p.recordStartTime = time.Now().Add(-100 * time.Millisecond)

	p.emitCFR(time.Now())

	if len(sink.keyframes) == 0 || !sink.keyframes[0] {
		t.Fatal("expected first emitted CFR packet to be a keyframe")
	}
}

func TestEmitVFRSkipsDuplicatePTS(t *testing.T) {
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := &Pacer{cfg: Config{Mode: ModeVFR, TargetFPS: 60}, encoder: enc, sink: sink}
	p.recordStartTime = time.Now()

	now := time.Now()
	p.emitVFR(now)
	p.emitVFR(now) // identical pts, must be skipped

	if len(sink.packets) != 1 {
		t.Fatalf("expected duplicate pts to be skipped, got %d packets", len(sink.packets))
	}
}

func TestEmitVFRPTSIsStrictlyIncreasing(t *testing.T) {
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := &Pacer{cfg: Config{Mode: ModeVFR, TargetFPS: 60}, encoder: enc, sink: sink}
	p.recordStartTime = time.Now().Add(-500 * time.Millisecond)

	p.emitVFR(time.Now())
	p.emitVFR(time.Now().Add(10 * time.Millisecond))

	if len(sink.packets) != 2 {
		t.Fatalf("expected two distinct packets, got %d", len(sink.packets))
	}
	if sink.packets[1] <= sink.packets[0] {
		t.Fatalf("expected strictly increasing pts, got %d then %d", sink.packets[0], sink.packets[1])
	}
}

func TestTickSkipsContentModeWithoutDamage(t *testing.T) {
	capturer := &fakeCapturer{n: 1}
	dmg := &fakeDamage{damaged: false}
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := New(Config{Mode: ModeContent, TargetFPS: 60, TickHz: 240}, capturer, dmg, nil, enc, sink)
	p.frameTimerStart = time.Now().Add(-time.Second)

	p.tick()

	if len(sink.packets) != 0 {
		t.Fatal("expected no emission in content mode without damage")
	}
}

func TestTickEmitsContentModeWithDamageAndClears(t *testing.T) {
	capturer := &fakeCapturer{n: 1}
	dmg := &fakeDamage{damaged: true}
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := New(Config{Mode: ModeContent, TargetFPS: 60, TickHz: 240}, capturer, dmg, nil, enc, sink)
	p.frameTimerStart = time.Now().Add(-time.Second)

	p.tick()

	if len(sink.packets) == 0 {
		t.Fatal("expected emission in content mode with damage present")
	}
	if dmg.cleared == 0 {
		t.Fatal("expected damage cleared after content-mode emission")
	}
}

func TestTickSkipsBeforePeriodElapses(t *testing.T) {
	capturer := &fakeCapturer{n: 1}
	enc := &fakeEncoder{}
	sink := &fakeSink{}
	p := New(Config{Mode: ModeVFR, TargetFPS: 60, TickHz: 240}, capturer, nil, nil, enc, sink)
	p.frameTimerStart = time.Now() // no time elapsed yet

	p.tick()

	if len(sink.packets) != 0 {
		t.Fatal("expected no emission before the target period elapses")
	}
}

func TestTogglePauseAccumulatesOffset(t *testing.T) {
	p := &Pacer{}
	p.togglePause()
	if !p.paused.Load() {
		t.Fatal("expected paused after first toggle")
	}
	time.Sleep(5 * time.Millisecond)
	p.togglePause()
	if p.paused.Load() {
		t.Fatal("expected resumed after second toggle")
	}
	if p.pausedTimeOffset <= 0 {
		t.Fatal("expected paused time offset to accumulate across the pause window")
	}
}
