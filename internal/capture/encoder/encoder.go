// Package encoder selects and drives one of three GPU/CPU adapters that
// turn converted YUV textures into compressed packets (spec §4.6),
// generalizing the teacher's single-codec VideoEncoder/encoderBackend
// split into the nine-codec matrix this domain requires.
package encoder

import (
	"errors"
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("encoder")

// Codec is one of the nine codec/HDR/bit-depth combinations the adapters
// must advertise.
type Codec string

const (
	CodecH264     Codec = "h264"
	CodecHEVC     Codec = "hevc"
	CodecHEVCHDR  Codec = "hevc_hdr"
	CodecHEVC10   Codec = "hevc_10bit"
	CodecAV1      Codec = "av1"
	CodecAV1HDR   Codec = "av1_hdr"
	CodecAV110    Codec = "av1_10bit"
	CodecVP8      Codec = "vp8"
	CodecVP9      Codec = "vp9"
)

func (c Codec) valid() bool {
	switch c {
	case CodecH264, CodecHEVC, CodecHEVCHDR, CodecHEVC10, CodecAV1, CodecAV1HDR, CodecAV110, CodecVP8, CodecVP9:
		return true
	default:
		return false
	}
}

// IsHDR reports whether the codec carries HDR metadata.
func (c Codec) IsHDR() bool { return c == CodecHEVCHDR || c == CodecAV1HDR }

// Is10Bit reports whether the codec requires P010 (10-bit) textures
// rather than NV12 (8-bit) — spec §4.6 "bit depth is inferred from the
// codec choice".
func (c Codec) Is10Bit() bool {
	return c == CodecHEVCHDR || c == CodecHEVC10 || c == CodecAV1HDR || c == CodecAV110
}

var (
	ErrInvalidCodec      = errors.New("invalid codec")
	ErrUnsupportedCodec  = errors.New("codec not supported by this adapter")
	ErrPoolAllocFailed   = errors.New("encoder hardware frame pool allocation failed")
)

// DestColor is the pixel format the color conversion engine must target,
// derived from codec bit depth.
type DestColor int

const (
	DestNV12 DestColor = iota
	DestP010
)

// Textures is the pair of GPU textures (Y plane, UV plane) the color
// conversion engine draws into, handed back by get_textures in spec §4.6.
type Textures struct {
	Y, UV   uintptr // opaque GPU texture handles (wgpu.Texture pointers)
	NumTex  int
	Dst     DestColor
}

// AdapterConfig is the shared configuration every adapter is constructed
// with.
type AdapterConfig struct {
	Codec         Codec
	Width, Height int
	Bitrate       int
	FPS           int
	KeyintSeconds float64
}

// CodecContext is the adapter-private encoder session handle threaded
// through backend.Backend's Start/Destroy calls.
type CodecContext any

// Adapter is the interface all three hardware/software encoder
// implementations satisfy (spec §4.6's get_supported_codecs / start /
// copy_textures_to_frame / get_textures / destroy).
type Adapter interface {
	SupportedCodecs() []Codec
	Start(cfg AdapterConfig) (CodecContext, error)
	// CopyTexturesToFrame is a no-op for adapters that encode directly
	// from the shared texture (vaapi); nvenc and software implement it.
	CopyTexturesToFrame(ctx CodecContext) error
	Textures(ctx CodecContext) Textures
	Encode(ctx CodecContext, pts int64, keyframe bool) ([]byte, error)
	Destroy(ctx CodecContext)
	Name() string
	IsHardware() bool
}

type adapterFactory func(cfg AdapterConfig) (Adapter, error)

var (
	factoriesMu sync.Mutex
	factories   []adapterFactory
)

// registerFactory adds a hardware adapter factory to the selection chain,
// tried in registration order (spec §4.6 "selects one of three
// implementations based on encoder choice and GPU vendor"), mirroring the
// teacher's registerHardwareFactory pattern.
func registerFactory(f adapterFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories = append(factories, f)
}

// Selector picks and owns the active adapter for a capture session.
type Selector struct {
	mu      sync.Mutex
	cfg     AdapterConfig
	adapter Adapter
	ctx     CodecContext
}

// New validates cfg, then tries each registered hardware factory in order,
// falling back to the software adapter if none succeed or preferHardware
// is false. Failure to allocate a pool aborts the whole session (spec
// §4.6 "there is no inter-adapter fallback at this layer" once an adapter
// is chosen — the fallback happens only during selection).
func New(cfg AdapterConfig, preferHardware bool) (*Selector, error) {
	if !cfg.Codec.valid() {
		return nil, fmt.Errorf("%w: %s", ErrInvalidCodec, cfg.Codec)
	}

	var adapter Adapter
	var err error
	if preferHardware {
		adapter = tryHardware(cfg)
	}
	if adapter == nil {
		adapter, err = NewSoftwareAdapter(cfg)
		if err != nil {
			return nil, err
		}
	}

	ctx, err := adapter.Start(cfg)
	if err != nil {
		return nil, fmt.Errorf("%s adapter start: %w", adapter.Name(), err)
	}

	log.Info("encoder adapter selected", "name", adapter.Name(), "hardware", adapter.IsHardware(), "codec", cfg.Codec)
	return &Selector{cfg: cfg, adapter: adapter, ctx: ctx}, nil
}

func tryHardware(cfg AdapterConfig) Adapter {
	factoriesMu.Lock()
	snapshot := append([]adapterFactory(nil), factories...)
	factoriesMu.Unlock()

	for _, f := range snapshot {
		adapter, err := f(cfg)
		if err != nil || adapter == nil {
			continue
		}
		if !supports(adapter, cfg.Codec) {
			continue
		}
		return adapter
	}
	return nil
}

func supports(a Adapter, codec Codec) bool {
	for _, c := range a.SupportedCodecs() {
		if c == codec {
			return true
		}
	}
	return false
}

func (s *Selector) Textures() Textures {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Textures(s.ctx)
}

func (s *Selector) CopyTexturesToFrame() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.CopyTexturesToFrame(s.ctx)
}

func (s *Selector) Encode(pts int64, keyframe bool) ([]byte, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter.Encode(s.ctx, pts, keyframe)
}

func (s *Selector) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter != nil {
		s.adapter.Destroy(s.ctx)
		s.adapter = nil
	}
}

func (s *Selector) BackendName() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.adapter == nil {
		return ""
	}
	return s.adapter.Name()
}

func (s *Selector) BackendIsHardware() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.adapter != nil && s.adapter.IsHardware()
}

// DestColorFor returns the GPU texture format the color conversion engine
// must target for a given codec (spec §4.6 bit-depth inference).
func DestColorFor(c Codec) DestColor {
	if c.Is10Bit() {
		return DestP010
	}
	return DestNV12
}

// pullEncodedBytes drains one sample from a GStreamer encoder's appsink
// and copies its buffer contents out, the same map-copy-unmap shape every
// go-gst appsink consumer in the pack uses so the returned slice stays
// valid past the buffer's lifetime.
func pullEncodedBytes(sink *app.Sink, adapterName string) ([]byte, error) {
	sample := sink.PullSample()
	if sample == nil {
		return nil, fmt.Errorf("%s: no sample available", adapterName)
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return nil, fmt.Errorf("%s: empty sample buffer", adapterName)
	}
	mapInfo := buffer.Map(gst.MapRead)
	if mapInfo == nil {
		return nil, fmt.Errorf("%s: buffer map failed", adapterName)
	}
	defer buffer.Unmap()

	out := make([]byte, len(mapInfo.Bytes()))
	copy(out, mapInfo.Bytes())
	return out, nil
}

// AdapterCapability reports one hardware factory's advertised codec
// support without starting an encode session, so a capability probe (the
// CLI's --info output) can be read-only.
type AdapterCapability struct {
	Name     string
	Hardware bool
	Codecs   []Codec
}

// ProbeCapabilities constructs (but never Starts) every registered
// hardware factory plus the always-available software adapter, returning
// each one's supported codec list. Safe to call with no capture session
// active.
func ProbeCapabilities() []AdapterCapability {
	factoriesMu.Lock()
	snapshot := append([]adapterFactory(nil), factories...)
	factoriesMu.Unlock()

	var caps []AdapterCapability
	for _, c := range []Codec{CodecH264, CodecHEVC, CodecHEVCHDR, CodecHEVC10, CodecAV1, CodecAV1HDR, CodecAV110, CodecVP8, CodecVP9} {
		for _, f := range snapshot {
			adapter, err := f(AdapterConfig{Codec: c})
			if err != nil || adapter == nil {
				continue
			}
			caps = mergeCapability(caps, adapter.Name(), adapter.IsHardware(), c)
		}
	}

	sw, err := NewSoftwareAdapter(AdapterConfig{Codec: CodecH264})
	if err == nil {
		for _, c := range sw.SupportedCodecs() {
			caps = mergeCapability(caps, sw.Name(), sw.IsHardware(), c)
		}
	}

	return caps
}

func mergeCapability(caps []AdapterCapability, name string, hardware bool, codec Codec) []AdapterCapability {
	for i := range caps {
		if caps[i].Name == name {
			caps[i].Codecs = append(caps[i].Codecs, codec)
			return caps
		}
	}
	return append(caps, AdapterCapability{Name: name, Hardware: hardware, Codecs: []Codec{codec}})
}
