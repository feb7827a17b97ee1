package sink

import (
	"net"
	"testing"
	"time"

	"github.com/pion/rtcp"
)

func TestReplayRingEvictsOldPackets(t *testing.T) {
	r := NewReplayRing(5, 2) // 7 second span

	base := int64(0)
	for i := 0; i < 20; i++ {
		pts := base + int64(i)*1_000_000 // one packet per second
		if err := r.WriteVideoPacket(pts, i%10 == 0, []byte{byte(i)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	packets, _ := r.Snapshot()
	if len(packets) == 0 {
		t.Fatal("expected packets to remain in the ring")
	}

	span := packets[len(packets)-1].PTS - packets[0].PTS
	if span > 8_000_000 { // allow one packet of slack over the 7s window
		t.Fatalf("expected ring span bounded near 7s, got %dus", span)
	}
}

func TestReplayRingLatchesFramesErased(t *testing.T) {
	r := NewReplayRing(1, 1) // 2 second span

	for i := 0; i < 10; i++ {
		r.WriteVideoPacket(int64(i)*1_000_000, i == 0, []byte{byte(i)})
	}

	_, erased := r.Snapshot()
	if !erased {
		t.Fatal("expected framesErased latch to be set after eviction")
	}

	_, erasedAgain := r.Snapshot()
	if erasedAgain {
		t.Fatal("expected framesErased latch to reset after Snapshot")
	}
}

func TestReplayRingDeepCopiesPayload(t *testing.T) {
	r := NewReplayRing(5, 1)

	payload := []byte{1, 2, 3}
	r.WriteVideoPacket(0, true, payload)
	payload[0] = 99 // mutate the caller's slice after the push

	packets, _ := r.Snapshot()
	if packets[0].Payload[0] == 99 {
		t.Fatal("expected ring to hold a deep copy, not alias the caller's slice")
	}
}

func TestEarliestKeyframeIndexFindsFirstKeyframe(t *testing.T) {
	packets := []Packet{
		{PTS: 0, Keyframe: false},
		{PTS: 1, Keyframe: false},
		{PTS: 2, Keyframe: true},
		{PTS: 3, Keyframe: false},
	}
	if idx := EarliestKeyframeIndex(packets); idx != 2 {
		t.Fatalf("expected keyframe index 2, got %d", idx)
	}
}

func TestEarliestKeyframeIndexDefaultsToZero(t *testing.T) {
	packets := []Packet{{PTS: 0, Keyframe: false}, {PTS: 1, Keyframe: false}}
	if idx := EarliestKeyframeIndex(packets); idx != 0 {
		t.Fatalf("expected default index 0 when no keyframe present, got %d", idx)
	}
}

func TestSideChannelDrainRTCPSetsKeyframeRequestOnPLI(t *testing.T) {
	s := &sideChannel{}
	client, server := net.Pipe()
	defer client.Close()
	go s.drainRTCP(server)

	pkt, err := (&rtcp.PictureLossIndication{MediaSSRC: 1}).Marshal()
	if err != nil {
		t.Fatalf("marshal PLI: %v", err)
	}
	if _, err := client.Write(pkt); err != nil {
		t.Fatalf("write PLI: %v", err)
	}

	deadline := time.Now().Add(time.Second)
	for !s.forceKeyframe.Load() {
		if time.Now().After(deadline) {
			t.Fatal("expected forceKeyframe to be set after a PLI packet")
		}
		time.Sleep(time.Millisecond)
	}

	if !s.consumeKeyframeRequest() {
		t.Fatal("expected consumeKeyframeRequest to report the pending request")
	}
	if s.consumeKeyframeRequest() {
		t.Fatal("expected consumeKeyframeRequest to clear after being read")
	}
}

func TestMuxerElementForExt(t *testing.T) {
	if muxerElementForExt("webm") != "webmmux" {
		t.Error("expected webm to map to webmmux")
	}
	if muxerElementForExt("mp4") != "mp4mux" {
		t.Error("expected mp4 to map to mp4mux")
	}
}
