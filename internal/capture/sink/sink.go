// Package sink implements the two output modes (direct muxer, replay
// ring) and the best-effort TCP streaming side-channel of spec §4.8,
// generalized from the teacher's single-transport packet sink
// (ws_stream.go/stream_metrics.go) into three independent sinks sharing
// one packet type.
package sink

import (
	"encoding/binary"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	"github.com/pion/rtcp"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("sink")

// Packet is a single encoded frame with its stream timebase pts, ready to
// be rescaled, muxed, or deep-copied into the replay ring.
type Packet struct {
	PTS       int64
	Keyframe  bool
	Payload   []byte
	StreamIdx int
}

// clone deep-copies Payload so the replay ring's retained copy can't be
// clobbered by the muxer pool reusing the original buffer (spec §4.8).
func (p Packet) clone() Packet {
	buf := make([]byte, len(p.Payload))
	copy(buf, p.Payload)
	return Packet{PTS: p.PTS, Keyframe: p.Keyframe, Payload: buf, StreamIdx: p.StreamIdx}
}

// Mode selects the output sink behavior.
type Mode int

const (
	ModeDirect Mode = iota
	ModeReplay
)

// DirectMuxer rescales and writes packets to a container via go-gst's
// appsrc→mux→filesink/tcpclientsink, and does not assume seekability
// (spec §4.8 "writing to a pipe and to network URLs is supported").
type DirectMuxer struct {
	mu       sync.Mutex
	pipeline *gst.Pipeline
	appsrc   *app.Source
	sideChan *sideChannel
}

// NewDirectMuxer opens a container at outputPath (or "/dev/stdout" /
// "tcp://host:port" for pipe/network sinks), building the mux pipeline
// from the chosen container extension.
func NewDirectMuxer(outputPath, muxerElement string, streamPort int) (*DirectMuxer, error) {
	var sinkElement string
	switch {
	case outputPath == "/dev/stdout" || outputPath == "-":
		sinkElement = "fdsink fd=1"
	case len(outputPath) > len("tcp://") && outputPath[:len("tcp://")] == "tcp://":
		host, port, err := net.SplitHostPort(outputPath[len("tcp://"):])
		if err != nil {
			return nil, captureerrors.FatalCapture("direct muxer: parse %q: %w", outputPath, err)
		}
		sinkElement = fmt.Sprintf("tcpclientsink host=%s port=%s", host, port)
	default:
		sinkElement = fmt.Sprintf("filesink location=%q", outputPath)
	}

	pipelineStr := fmt.Sprintf(
		"appsrc name=muxsrc format=time is-live=true do-timestamp=true ! %s ! %s",
		muxerElement, sinkElement,
	)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, captureerrors.FatalCapture("direct muxer: build pipeline: %w", err)
	}
	srcElement, err := pipeline.GetElementByName("muxsrc")
	if err != nil {
		return nil, captureerrors.FatalCapture("direct muxer: get appsrc: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, captureerrors.FatalCapture("direct muxer: start pipeline: %w", err)
	}

	return &DirectMuxer{
		pipeline: pipeline,
		appsrc:   app.SrcFromElement(srcElement),
		sideChan: newSideChannel(streamPort),
	}, nil
}

// WriteVideoPacket performs a non-interleaved write of the packet
// (do-timestamp on the appsrc assigns the running-time pts from the
// pipeline clock, matching the live-source pattern used elsewhere in the
// pack rather than hand-stamping buffer pts), then best-effort forwards
// the raw payload to the TCP side-channel. pts/keyframe are accepted to
// satisfy the Sink interface the replay ring also implements; the
// pipeline reorders and flags keyframes itself from the encoded bitstream.
func (d *DirectMuxer) WriteVideoPacket(pts int64, keyframe bool, payload []byte) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	buf := gst.NewBufferFromBytes(payload)
	if ret := d.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("direct muxer: push buffer: flow return %v", ret)
	}

	d.sideChan.send(payload)
	return nil
}

// ConsumeKeyframeRequest reports whether the TCP side-channel's consumer
// has signaled a picture loss (RTCP PLI/FIR) since the last call, clearing
// the request. A direct-output caller with no side-channel connected
// always gets false.
func (d *DirectMuxer) ConsumeKeyframeRequest() bool {
	if d.sideChan == nil {
		return false
	}
	return d.sideChan.consumeKeyframeRequest()
}

func (d *DirectMuxer) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.appsrc != nil {
		d.appsrc.EndStream()
	}
	if d.pipeline != nil {
		d.pipeline.SetState(gst.StateNull)
	}
	if d.sideChan != nil {
		d.sideChan.close()
	}
}

// ReplayRing is a bounded deque of cloned packets spanning at most
// replaySeconds + keyintSeconds, with a latched "frames erased" flag the
// save task reads to decide whether it must rebase (spec §4.8).
type ReplayRing struct {
	mu            sync.Mutex
	packets       []Packet
	spanSeconds   float64
	framesErased  bool
}

// NewReplayRing bounds the ring to replaySeconds + keyintSeconds of
// wall-clock pts span, the eviction window spec §4.8 specifies.
func NewReplayRing(replaySeconds, keyintSeconds float64) *ReplayRing {
	return &ReplayRing{spanSeconds: replaySeconds + keyintSeconds}
}

func (r *ReplayRing) WriteVideoPacket(pts int64, keyframe bool, payload []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.packets = append(r.packets, Packet{PTS: pts, Keyframe: keyframe, Payload: payload}.clone())
	r.evictLocked()
	return nil
}

// evictLocked drops packets older than spanSeconds relative to the most
// recent packet's pts (both expressed in AV_TIME_BASE microseconds).
func (r *ReplayRing) evictLocked() {
	if len(r.packets) == 0 {
		return
	}
	newestPTS := r.packets[len(r.packets)-1].PTS
	cutoff := newestPTS - int64(r.spanSeconds*1_000_000)

	i := 0
	for i < len(r.packets) && r.packets[i].PTS < cutoff {
		i++
	}
	if i > 0 {
		r.packets = r.packets[i:]
		r.framesErased = true
	}
}

// Snapshot returns a copy of the current ring contents and clears the
// framesErased latch, for the save task to consume independently of the
// live ring's continued growth (spec §5 "the live ring continues to grow
// concurrently").
func (r *ReplayRing) Snapshot() ([]Packet, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Packet, len(r.packets))
	copy(out, r.packets)
	erased := r.framesErased
	r.framesErased = false
	return out, erased
}

// EarliestKeyframeIndex finds the first keyframe in packets, the rebase
// point the save task uses (spec §4.7 "finds the earliest keyframe,
// rebases timestamps to it").
func EarliestKeyframeIndex(packets []Packet) int {
	for i, p := range packets {
		if p.Keyframe {
			return i
		}
	}
	return 0
}

// SaveReplay writes packets[from:] to a newly created container file
// named per spec §6's Replay_YYYY-MM-DD_HH-MM-SS.<ext> convention,
// rebasing every pts against the first packet's pts.
func SaveReplay(outputDir, ext string, packets []Packet, timestamp time.Time, dateNested bool) (string, error) {
	from := EarliestKeyframeIndex(packets)
	packets = packets[from:]
	if len(packets) == 0 {
		return "", fmt.Errorf("replay: nothing to save")
	}

	dir := outputDir
	if dateNested {
		dir = filepath.Join(outputDir, timestamp.Format("2006-01-02"))
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("replay: create output dir: %w", err)
	}

	name := fmt.Sprintf("Replay_%s.%s", timestamp.Format("2006-01-02_15-04-05"), ext)
	path := filepath.Join(dir, name)

	muxer, err := NewDirectMuxer(path, muxerElementForExt(ext), 0)
	if err != nil {
		return "", err
	}
	defer muxer.Close()

	base := packets[0].PTS
	for _, p := range packets {
		if err := muxer.WriteVideoPacket(p.PTS-base, p.Keyframe, p.Payload); err != nil {
			return "", fmt.Errorf("replay: write packet: %w", err)
		}
	}

	return path, nil
}

func muxerElementForExt(ext string) string {
	switch ext {
	case "webm":
		return "webmmux"
	default:
		return "mp4mux"
	}
}

// sideChannel is the orthogonal best-effort TCP streaming server of spec
// §6: bind-any, accept-one, auto-initializing on the first send. The
// listener comes from net.Listen, so its backlog is the system default,
// not 1. A failed write never aborts encoding.
type sideChannel struct {
	mu            sync.Mutex
	port          int
	listener      net.Listener
	conn          net.Conn
	started       bool
	forceKeyframe atomic.Bool
}

func newSideChannel(port int) *sideChannel {
	return &sideChannel{port: port}
}

func (s *sideChannel) send(payload []byte) {
	if s.port == 0 {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.started {
		s.started = true
		if err := s.initLocked(); err != nil {
			log.Warn("side channel init failed", "error", err)
			return
		}
	}
	if s.conn == nil {
		s.acceptLocked()
	}
	if s.conn == nil {
		return
	}

	var header [4]byte
	binary.BigEndian.PutUint32(header[:], uint32(len(payload)))
	s.conn.SetDeadline(time.Now().Add(time.Second))
	if _, err := s.conn.Write(header[:]); err != nil {
		s.conn.Close()
		s.conn = nil
		return
	}
	if _, err := s.conn.Write(payload); err != nil {
		s.conn.Close()
		s.conn = nil
	}
}

func (s *sideChannel) initLocked() error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return err
	}
	s.listener = ln
	return nil
}

func (s *sideChannel) acceptLocked() {
	if s.listener == nil {
		return
	}
	s.listener.(*net.TCPListener).SetDeadline(time.Now().Add(10 * time.Millisecond))
	conn, err := s.listener.Accept()
	if err != nil {
		return
	}
	s.conn = conn
	go s.drainRTCP(conn)
}

// drainRTCP reads keyframe-loss signaling off the stream consumer's
// connection the way a WebRTC receiver reports it over RTCP (PLI/FIR),
// rate-limited to one forced keyframe per 500ms so a flaky consumer can't
// turn every packet into a keyframe. Any read error just ends the drain;
// the write side notices the dead connection on its own next send.
func (s *sideChannel) drainRTCP(conn net.Conn) {
	buf := make([]byte, 1500)
	var last time.Time
	for {
		conn.SetReadDeadline(time.Now().Add(30 * time.Second))
		n, err := conn.Read(buf)
		if err != nil {
			return
		}
		pkts, err := rtcp.Unmarshal(buf[:n])
		if err != nil {
			continue
		}
		for _, p := range pkts {
			switch p.(type) {
			case *rtcp.PictureLossIndication, *rtcp.FullIntraRequest:
				if time.Since(last) < 500*time.Millisecond {
					continue
				}
				last = time.Now()
				s.forceKeyframe.Store(true)
			}
		}
	}
}

// consumeKeyframeRequest reports and clears a pending forced-keyframe
// request from the stream consumer.
func (s *sideChannel) consumeKeyframeRequest() bool {
	return s.forceKeyframe.Swap(false)
}

func (s *sideChannel) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
	if s.listener != nil {
		s.listener.Close()
	}
}
