// Package session wires the eight dataplane components together in
// their dependency order (C1 GL/EGL runtime → C2 KMS broker → C3 capture
// backend, C4 damage tracker → C5 color conversion, C6 encoder → C7
// pacer → C8 output sink), owning process-lifetime orchestration and
// orderly teardown the way the teacher's cmd/breeze-agent/main.go owns
// the agent's own start/stop sequence.
package session

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/backend"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/colorconv"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/damage"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/dmabuf"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/encoder"
	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/gpu"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/kmsbroker"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/pacer"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/sink"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/config"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("session")

// Session owns every component's lifetime for one recording run.
type Session struct {
	cfg config.Config

	runtime *gpu.Runtime
	broker  *kmsbroker.Broker
	back    backend.Backend
	damage  *damage.Tracker
	conv    *colorconv.Engine
	enc     *encoder.Selector
	pacer   *pacer.Pacer

	direct *sink.DirectMuxer
	replay *sink.ReplayRing

	frame *dmabuf.FrameDescriptor
}

// New builds every component in dependency order and returns an
// unstarted Session. Failure at any stage aborts construction (spec §4.6
// "there is no inter-adapter fallback at this layer" generalizes here:
// session construction itself has no fallback once a component is chosen).
func New(ctx context.Context, cfg config.Config, kmsHelperPath string) (*Session, error) {
	s := &Session{cfg: cfg, frame: &dmabuf.FrameDescriptor{}}

	// C1: GL/EGL runtime.
	s.runtime = gpu.New()
	wayland := cfg.Window == "portal"
	if err := s.runtime.Load(wayland, cfg.Window != "portal" && cfg.Window != "focused"); err != nil {
		return nil, fmt.Errorf("session: gpu runtime load: %w", err)
	}

	// C2: KMS broker, only needed by the KMS path (any window other than
	// "portal" or "focused").
	if requiresKMSBroker(cfg.Window) {
		broker, err := kmsbroker.New(ctx, kmsHelperPath)
		if err != nil {
			return nil, fmt.Errorf("session: kms broker: %w", err)
		}
		s.broker = broker
	}

	// C4: damage tracker, shared by whichever backend C3 selects.
	s.damage = damage.New()

	// C3: capture backend.
	back, err := newBackend(cfg, s.runtime, s.broker)
	if err != nil {
		return nil, fmt.Errorf("session: capture backend: %w", err)
	}
	s.back = back

	// C5: color conversion engine.
	s.conv = colorconv.New(s.runtime.Device())
	convParams := colorconv.Params{
		Destination: destinationFor(cfg),
		Range:       rangeFor(cfg),
	}
	if err := s.conv.Init(convParams); err != nil {
		return nil, fmt.Errorf("session: color conversion init: %w", err)
	}

	// C6: encoder adapter selection.
	enc, err := encoder.New(encoder.AdapterConfig{
		Codec:         encoder.Codec(cfg.Codec),
		Width:         1920,
		Height:        1080,
		Bitrate:       bitrateFor(cfg),
		FPS:           cfg.FPS,
		KeyintSeconds: cfg.KeyintSeconds,
	}, cfg.Encoder == "gpu")
	if err != nil {
		return nil, fmt.Errorf("session: encoder selection: %w", err)
	}
	s.enc = enc

	// C8: output sink(s) — replay ring, direct muxer, or both.
	if cfg.ReplaySeconds > 0 {
		s.replay = sink.NewReplayRing(float64(cfg.ReplaySeconds), cfg.KeyintSeconds)
	}
	if cfg.OutputPath != "" {
		direct, err := sink.NewDirectMuxer(cfg.OutputPath, muxerElementFor(cfg.OutputPath), cfg.StreamPort)
		if err != nil {
			return nil, fmt.Errorf("session: direct muxer: %w", err)
		}
		s.direct = direct
	}

	// C7: frame pacer, wired to whichever sink is active.
	s.pacer = pacer.New(pacer.Config{
		Mode:      pacer.Mode(cfg.FrameMode),
		TargetFPS: cfg.FPS,
	}, s.captureAdapter(), s.damageAdapter(), s.eventAdapter(), s.encodeAdapter(), s.sinkAdapter())

	return s, nil
}

// restoreTokenFor reads the persisted portal restore token when the
// caller opted in, so the next session skips the permission dialog
// (spec §6 "Restore token").
func restoreTokenFor(cfg config.Config) string {
	if !cfg.RestorePortalSession {
		return ""
	}
	data, err := os.ReadFile(config.RestoreTokenPath())
	if err != nil {
		return ""
	}
	return string(data)
}

// requiresKMSBroker reports whether window names a KMS capture target
// rather than one of the portal/XComposite backends. It must stay in
// sync with newBackend's switch below: anything not "portal" or
// "focused" — connector names like "DP-1" and the config.Default()
// value "screen" included — falls to the KMS backend and needs a
// broker.
func requiresKMSBroker(window string) bool {
	switch window {
	case "portal", "focused":
		return false
	default:
		return true
	}
}

func newBackend(cfg config.Config, rt *gpu.Runtime, broker *kmsbroker.Broker) (backend.Backend, error) {
	switch cfg.Window {
	case "portal":
		return backend.NewPortalBackend(restoreTokenFor(cfg))
	case "focused":
		return backend.NewXCompositeBackend(0, true), nil
	default:
		if broker == nil {
			return nil, captureerrors.FatalCapture("session: kms window requested without a broker")
		}
		return backend.NewKMSBackend(broker, 0), nil
	}
}

func destinationFor(cfg config.Config) colorconv.Destination {
	if encoder.Codec(cfg.Codec).Is10Bit() {
		return colorconv.DestinationP010BT2020
	}
	return colorconv.DestinationNV12BT709
}

func rangeFor(cfg config.Config) colorconv.Range {
	if cfg.ColorRange == "full" {
		return colorconv.RangeFull
	}
	return colorconv.RangeLimited
}

func bitrateFor(cfg config.Config) int {
	if cfg.BitrateMode == "auto" {
		return 2_500_000 * (cfg.FPS / 30)
	}
	return 8_000_000
}

func muxerElementFor(path string) string {
	switch {
	case hasSuffix(path, ".webm"):
		return "webmmux"
	case hasSuffix(path, ".mkv"):
		return "matroskamux"
	default:
		return "mp4mux"
	}
}

func hasSuffix(s, suffix string) bool {
	return len(s) >= len(suffix) && s[len(s)-len(suffix):] == suffix
}

// captureAdapter bridges backend.Backend (which returns frame count +
// error from Capture(frame, conv)) to pacer.Capturer's simpler signature.
func (s *Session) captureAdapter() pacer.Capturer {
	return captureFunc(func() (int, error) {
		return s.back.Capture(s.frame, s.conv)
	})
}

type captureFunc func() (int, error)

func (f captureFunc) Capture() (int, error) { return f() }

func (s *Session) damageAdapter() pacer.DamageReporter {
	if dr, ok := s.back.(backend.DamageReporter); ok {
		return dr
	}
	return s.damage
}

func (s *Session) eventAdapter() pacer.EventPumper {
	if eh, ok := s.back.(backend.OnEventHandler); ok {
		return eventFunc(func() { eh.OnEvent(nil) })
	}
	return nil
}

type eventFunc func()

func (f eventFunc) PumpEvents() { f() }

func (s *Session) encodeAdapter() pacer.Encoder {
	return encodeFunc(func(pts int64, keyframe bool) ([]byte, error) {
		if err := s.enc.CopyTexturesToFrame(); err != nil {
			return nil, err
		}
		if s.direct != nil && s.direct.ConsumeKeyframeRequest() {
			keyframe = true
		}
		return s.enc.Encode(pts, keyframe)
	})
}

type encodeFunc func(pts int64, keyframe bool) ([]byte, error)

func (f encodeFunc) Encode(pts int64, keyframe bool) ([]byte, error) { return f(pts, keyframe) }

// sinkAdapter fans a single emission out to every active sink (direct and/
// or replay ring); it never returns an error from the replay ring path
// since the ring has no I/O to fail.
func (s *Session) sinkAdapter() pacer.Sink {
	return sinkFunc(func(pts int64, keyframe bool, payload []byte) error {
		var firstErr error
		if s.direct != nil {
			if err := s.direct.WriteVideoPacket(pts, keyframe, payload); err != nil {
				firstErr = err
			}
		}
		if s.replay != nil {
			s.replay.WriteVideoPacket(pts, keyframe, payload)
		}
		return firstErr
	})
}

type sinkFunc func(pts int64, keyframe bool, payload []byte) error

func (f sinkFunc) WriteVideoPacket(pts int64, keyframe bool, payload []byte) error {
	return f(pts, keyframe, payload)
}

// Run blocks until ctx is cancelled or a shutdown signal is handled,
// driving the pacer's tick loop (spec §5 "SIGINT/SIGTERM flips an atomic
// running=0; the main loop exits at its next iteration head").
func (s *Session) Run(ctx context.Context) error {
	return s.pacer.Run(ctx, s.saveReplay)
}

// saveReplay is the SIGUSR1 handler body: snapshot, rebase, write, and
// print the resulting path to stdout (spec §4.7, §6).
func (s *Session) saveReplay() {
	if s.replay == nil {
		log.Warn("replay save requested but no replay ring is configured")
		return
	}
	packets, _ := s.replay.Snapshot()
	path, err := sink.SaveReplay(s.cfg.OutputPath, "mp4", packets, time.Now(), true)
	if err != nil {
		log.Warn("replay save failed", "error", err)
		return
	}
	fmt.Println(path)
}

// Close tears down every component in reverse dependency order, awaiting
// any in-flight replay save before returning so a partial file is never
// left on disk (spec §5).
func (s *Session) Close() {
	s.pacer.Stop()

	if s.enc != nil {
		s.enc.Close()
	}
	if s.back != nil {
		s.back.Destroy(nil)
	}
	if s.broker != nil {
		s.broker.Close()
	}
	if s.direct != nil {
		s.direct.Close()
	}
	if s.runtime != nil {
		s.runtime.Close()
	}
}
