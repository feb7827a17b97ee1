// Package dmabuf holds the frame descriptor and plane-ownership types
// shared between capture backends and the color-conversion stage (spec §3).
package dmabuf

import (
	"sync"
	"sync/atomic"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("dmabuf")

// MaxPlanes is the largest number of DMA-BUF planes a single frame
// descriptor can carry (spec §3: "up to four").
const MaxPlanes = 4

// ColorFamily names the source pixel layout before conversion.
type ColorFamily int

const (
	ColorFamilyRGB ColorFamily = iota
	ColorFamilyBGR
)

// Rotation is the capture-time rotation applied by the compositor, in
// degrees, read off the connector/plane at capture time.
type Rotation int

const (
	Rotation0 Rotation = 0
	Rotation90 Rotation = 90
	Rotation180 Rotation = 180
	Rotation270 Rotation = 270
)

// Plane is one DMA-BUF plane owned by a frame descriptor. The FD field is
// a Handle so ownership transfer and close-once semantics are enforced at
// the type level rather than by convention.
type Plane struct {
	FD     *Handle
	Offset uint32
	Pitch  uint32
}

// CursorRect is an optional sub-rectangle describing where the hardware
// cursor should be composited, in destination-surface coordinates.
type CursorRect struct {
	X, Y          int32
	Width, Height int32
	Valid         bool
}

// HDRMetadata carries the optional static HDR metadata block (SMPTE
// ST 2086 + CEA-861.3 content light level) attached to HDR frame
// descriptors. Zero value means "not present".
type HDRMetadata struct {
	Present               bool
	MaxDisplayMasteringLuminance float64
	MinDisplayMasteringLuminance float64
	MaxContentLightLevel         float64
	MaxFrameAverageLightLevel    float64
}

// FrameDescriptor describes one captured frame as handed from a capture
// backend to the color-conversion stage. It owns its plane FDs until
// ownership is explicitly transferred (Take) or the descriptor is closed.
type FrameDescriptor struct {
	Width, Height int
	FourCC        uint32
	Modifier      uint64
	Rotation      Rotation
	Source        ColorFamily
	Cursor        CursorRect
	HDR           HDRMetadata

	Planes   [MaxPlanes]Plane
	NumPlanes int
}

// Close closes every plane FD still owned by this descriptor. Safe to call
// multiple times and safe to call after ownership of some or all planes has
// been transferred elsewhere, since each Handle close-once-guards itself.
func (f *FrameDescriptor) Close() {
	for i := 0; i < f.NumPlanes; i++ {
		if f.Planes[i].FD != nil {
			f.Planes[i].FD.Close()
		}
	}
}

// Handle is a move-only owned file descriptor. Close is idempotent and
// closes the underlying fd exactly once no matter how many times or from
// how many goroutines it is called, satisfying the "open exactly once,
// closed exactly once" invariant in spec §3.
type Handle struct {
	once sync.Once
	fd   int
	err  error
}

// NewHandle wraps a raw fd (as obtained from SCM_RIGHTS recvmsg or an EGL
// export call) in a Handle that owns it.
func NewHandle(fd int) *Handle {
	return &Handle{fd: fd}
}

// FD returns the raw descriptor number for passing to syscalls. It remains
// valid until Close is called; callers must not use it afterward.
func (h *Handle) FD() int {
	return h.fd
}

// Close closes the underlying descriptor exactly once. Subsequent calls
// are no-ops and return the same result as the first call.
func (h *Handle) Close() error {
	h.once.Do(func() {
		h.err = closeFD(h.fd)
		if h.err != nil {
			log.Warn("close dma-buf fd failed", "fd", h.fd, "error", h.err)
		}
	})
	return h.err
}

// Take transfers ownership of the handle to the caller and marks this
// Handle as already closed without touching the underlying fd, so a later
// Close on the original owner is a silent no-op. Used when the
// color-conversion stage takes ownership of a frame descriptor's planes
// from the capture backend (spec §3).
func (h *Handle) Take() int {
	fd := h.fd
	h.once.Do(func() {})
	return fd
}

// EncodedPacket is a reference-counted blob carrying one encoder output
// unit. Ownership passes from encoder to sink on emission.
type EncodedPacket struct {
	StreamIndex int
	PTS, DTS    int64
	Keyframe    bool
	Data        []byte

	refs *int32
}

// NewEncodedPacket wraps data with a single reference, matching the
// "ownership passes from encoder to sink" rule in spec §3.
func NewEncodedPacket(streamIndex int, pts, dts int64, keyframe bool, data []byte) *EncodedPacket {
	ref := int32(1)
	return &EncodedPacket{
		StreamIndex: streamIndex,
		PTS:         pts,
		DTS:         dts,
		Keyframe:    keyframe,
		Data:        data,
		refs:        &ref,
	}
}

// Retain adds one reference, used when a packet is held by both the direct
// muxer and the replay ring at once.
func (p *EncodedPacket) Retain() {
	atomic.AddInt32(p.refs, 1)
}

// Release drops one reference and reports whether this was the last one,
// at which point the caller owning the final reference may reuse Data's
// backing array.
func (p *EncodedPacket) Release() bool {
	return atomic.AddInt32(p.refs, -1) == 0
}

// VerifyFourCC returns a CapabilityError if fourcc is not one this pipeline
// understands, rather than silently misinterpreting plane data.
func VerifyFourCC(fourcc uint32, known map[uint32]bool) error {
	if !known[fourcc] {
		return captureerrors.Capability("unrecognized drm fourcc 0x%08x", fourcc)
	}
	return nil
}
