// Package pacer owns the capture session's main loop: a monotonic
// timeline, CFR/VFR/content frame-emission disciplines, and the
// SIGUSR1/SIGUSR2 signal handlers for replay-save and pause/resume (spec
// §4.7), generalized from the teacher's single signal.Notify shutdown
// loop in cmd/breeze-agent/main.go into a per-tick scheduling loop.
package pacer

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("pacer")

// avTimeBase mirrors libavutil's AV_TIME_BASE (microseconds), used for VFR
// pts so downstream muxers expecting ffmpeg semantics don't need rescaling.
const avTimeBase = int64(1_000_000)

// Mode selects the per-tick emission discipline (spec §4.7).
type Mode string

const (
	ModeCFR     Mode = "cfr"
	ModeVFR     Mode = "vfr"
	ModeContent Mode = "content"
)

// Capturer is the subset of backend.Backend the pacer drives each tick.
type Capturer interface {
	Capture() (int, error)
}

// DamageReporter is implemented by backends wired to a damage tracker;
// content mode only emits when damage has been reported since the last
// clear.
type DamageReporter interface {
	IsDamaged() bool
	ClearDamage()
}

// EventPumper services the compositor event loop once per tick (spec
// §4.7 step 1).
type EventPumper interface {
	PumpEvents()
}

// Sink receives emitted packets; the pts is already in the timebase the
// sink expects (integer frame index for CFR, microseconds for VFR/content).
type Sink interface {
	WriteVideoPacket(pts int64, keyframe bool, payload []byte) error
}

// Encoder produces a payload for the most recently captured frame.
type Encoder interface {
	Encode(pts int64, keyframe bool) ([]byte, error)
}

// Config configures tick rate and target fps.
type Config struct {
	Mode       Mode
	TargetFPS  int
	TickHz     int // internal tick rate; spec §4.7 "higher than the target fps"
}

// Pacer drives the capture → encode → sink pipeline at Config.TargetFPS,
// absorbing drift by rebasing frame_timer_start instead of accumulating it.
type Pacer struct {
	cfg Config

	capturer Capturer
	damage   DamageReporter
	pump     EventPumper
	encoder  Encoder
	sink     Sink

	recordStartTime time.Time
	frameTimerStart time.Time
	videoPTSCounter int64
	previousPTS     int64

	paused           atomic.Bool
	pausedTimeOffset time.Duration
	pauseStartedAt   time.Time
	pauseMu          sync.Mutex

	running atomic.Bool
	saveMu  sync.Mutex

	sigCh chan os.Signal
}

// New constructs a Pacer wired to the given components. damage and pump may
// be nil; damage is consulted only in content mode.
func New(cfg Config, capturer Capturer, damage DamageReporter, pump EventPumper, encoder Encoder, sink Sink) *Pacer {
	if cfg.TickHz <= 0 {
		cfg.TickHz = cfg.TargetFPS * 4
	}
	return &Pacer{
		cfg:      cfg,
		capturer: capturer,
		damage:   damage,
		pump:     pump,
		encoder:  encoder,
		sink:     sink,
	}
}

// Run starts the tick loop and blocks until ctx is cancelled or SIGINT/
// SIGTERM is received. SIGUSR1/SIGUSR2 are handled without interrupting
// the loop.
func (p *Pacer) Run(ctx context.Context, onSaveReplay func()) error {
	now := time.Now()
	p.recordStartTime = now
	p.frameTimerStart = now
	p.running.Store(true)

	p.sigCh = make(chan os.Signal, 4)
	signal.Notify(p.sigCh, syscall.SIGINT, syscall.SIGTERM, syscall.SIGUSR1, syscall.SIGUSR2)
	defer signal.Stop(p.sigCh)

	period := time.Second / time.Duration(p.cfg.TickHz)
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	for p.running.Load() {
		select {
		case <-ctx.Done():
			return nil
		case sig := <-p.sigCh:
			switch sig {
			case syscall.SIGINT, syscall.SIGTERM:
				log.Info("pacer received shutdown signal", "signal", sig)
				p.running.Store(false)
			case syscall.SIGUSR1:
				log.Info("pacer received replay-save signal")
				p.saveMu.Lock()
				if onSaveReplay != nil {
					go func() {
						defer p.saveMu.Unlock()
						onSaveReplay()
					}()
				} else {
					p.saveMu.Unlock()
				}
			case syscall.SIGUSR2:
				p.togglePause()
			}
		case <-ticker.C:
			p.tick()
		}
	}
	return nil
}

func (p *Pacer) togglePause() {
	p.pauseMu.Lock()
	defer p.pauseMu.Unlock()
	if p.paused.Load() {
		p.pausedTimeOffset += time.Since(p.pauseStartedAt)
		p.paused.Store(false)
		log.Info("pacer resumed")
	} else {
		p.pauseStartedAt = time.Now()
		p.paused.Store(true)
		log.Info("pacer paused")
	}
}

func (p *Pacer) tick() {
	if p.pump != nil {
		p.pump.PumpEvents()
	}
	if p.paused.Load() {
		return
	}

	now := time.Now()
	period := time.Second / time.Duration(p.cfg.TargetFPS)
	elapsed := now.Sub(p.frameTimerStart)

	if elapsed < period {
		return
	}
	if p.cfg.Mode == ModeContent && !p.isDamaged() {
		return
	}

	n, err := p.capturer.Capture()
	if err != nil {
		log.Warn("capture failed", "error", err)
	} else if n > 0 {
		p.emit(now)
	}

	overflow := elapsed - period
	if overflow > period {
		overflow = period
	}
	p.frameTimerStart = now.Add(-overflow)
}

func (p *Pacer) isDamaged() bool {
	if p.damage == nil {
		return true
	}
	return p.damage.IsDamaged()
}

// emit pushes the frame to the encoder and sink according to the
// configured emission discipline (spec §4.7 step 3).
func (p *Pacer) emit(now time.Time) {
	switch p.cfg.Mode {
	case ModeCFR:
		p.emitCFR(now)
	case ModeVFR:
		p.emitVFR(now)
	case ModeContent:
		p.emitVFR(now)
		if p.damage != nil {
			p.damage.ClearDamage()
		}
	}
}

func (p *Pacer) emitCFR(now time.Time) {
	elapsedSinceStart := now.Sub(p.recordStartTime) - p.pausedTimeOffset
	expectedFrames := int64(elapsedSinceStart.Seconds() * float64(p.cfg.TargetFPS))

	for p.videoPTSCounter < expectedFrames {
		pts := p.videoPTSCounter
		payload, err := p.encoder.Encode(pts, pts == 0)
		if err != nil {
			log.Warn("cfr encode failed", "pts", pts, "error", err)
			return
		}
		if err := p.sink.WriteVideoPacket(pts, pts == 0, payload); err != nil {
			log.Warn("cfr sink write failed", "pts", pts, "error", err)
		}
		p.videoPTSCounter++
	}
}

func (p *Pacer) emitVFR(now time.Time) {
	elapsedSinceStart := now.Sub(p.recordStartTime) - p.pausedTimeOffset
	pts := int64(elapsedSinceStart.Seconds() * float64(avTimeBase))

	if p.videoPTSCounter > 0 && pts == p.previousPTS {
		return // prevents muxer rejection of a duplicate pts
	}

	payload, err := p.encoder.Encode(pts, p.videoPTSCounter == 0)
	if err != nil {
		log.Warn("vfr encode failed", "pts", pts, "error", err)
		return
	}
	if err := p.sink.WriteVideoPacket(pts, p.videoPTSCounter == 0, payload); err != nil {
		log.Warn("vfr sink write failed", "pts", pts, "error", err)
	}
	p.previousPTS = pts
	p.videoPTSCounter++
}

// Stop signals the run loop to exit at its next iteration head and waits
// for any in-flight replay save to finish.
func (p *Pacer) Stop() {
	p.running.Store(false)
	p.saveMu.Lock()
	p.saveMu.Unlock()
}
