// Package kmsbroker implements the privileged-helper protocol from spec
// §4.2: the parent process spawns a small helper (directly, via pkexec, or
// via flatpak-spawn --host) that owns the capability to read other
// processes' framebuffers, and talks to it over a fixed-size binary wire
// protocol with DMA-BUF FDs passed as SCM_RIGHTS ancillary data.
package kmsbroker

import "fmt"

// ProtocolVersion is bumped whenever the wire format below changes. Both
// sides drop any message whose version does not match and log it rather
// than attempting best-effort decoding (spec §4.2).
const ProtocolVersion uint32 = 1

// Request types.
const (
	ReqReplaceConnection int32 = iota
	ReqGetKMS
)

// Result codes carried in Response.Result.
const (
	ResultOK int32 = iota
	ResultPlanesUnavailable
	ResultIoctlFailed
	ResultProtocolMismatch
)

const errBufLen = 128
const maxItems = 8
const maxPlanesPerItem = 4

// Request is the fixed-size message the parent sends to the helper.
// On the wire: { u32 protocol_version, i32 type, i32 new_fd_or_zero }.
type Request struct {
	ProtocolVersion uint32
	Type            int32
	NewFD           int32 // nonzero only for ReqReplaceConnection
}

// SourceRect is the crop rectangle for one plane item, in plane-local
// pixel coordinates.
type SourceRect struct {
	X, Y, W, H int32
}

// HDRMetadata mirrors the optional HDR10 static metadata blob the KMS
// connector may expose.
type HDRMetadata struct {
	Present                      bool
	MaxDisplayMasteringLuminance float64
	MinDisplayMasteringLuminance float64
	MaxContentLightLevel         float64
	MaxFrameAverageLightLevel    float64
}

// Item describes one returned plane: its pixel format, dimensions,
// modifier, owning connector, whether it is the cursor plane, its source
// rectangle, and optional HDR metadata. The plane's DMA-BUF FDs travel out
// of band as SCM_RIGHTS ancillary data, up to maxPlanesPerItem per item.
type Item struct {
	FourCC      uint32
	Modifier    uint64
	Width       int32
	Height      int32
	ConnectorID uint32
	IsCursor    bool
	Source      SourceRect
	HDR         HDRMetadata
	NumFDs      int
	FDs         [maxPlanesPerItem]int
	Offsets     [maxPlanesPerItem]uint32
	Pitches     [maxPlanesPerItem]uint32
}

// Response is the fixed-size message the helper sends back, followed by up
// to maxItems*maxPlanesPerItem ancillary FDs.
// On the wire: { u32 protocol_version, i32 result, char err[128], item
// items[<=8], i32 num_items }.
type Response struct {
	ProtocolVersion uint32
	Result          int32
	Err             [errBufLen]byte
	Items           [maxItems]Item
	NumItems        int32
}

// ErrString returns the NUL-terminated error message as a Go string.
func (r *Response) ErrString() string {
	n := 0
	for n < len(r.Err) && r.Err[n] != 0 {
		n++
	}
	return string(r.Err[:n])
}

func (r *Response) setErrString(s string) {
	n := copy(r.Err[:], s)
	for i := n; i < len(r.Err); i++ {
		r.Err[i] = 0
	}
}

// ResultError turns a non-OK result code into a Go error, or nil on OK.
func (r *Response) ResultError() error {
	switch r.Result {
	case ResultOK:
		return nil
	case ResultPlanesUnavailable:
		return fmt.Errorf("kmsbroker: planes unavailable: %s", r.ErrString())
	case ResultIoctlFailed:
		return fmt.Errorf("kmsbroker: drm ioctl failed: %s", r.ErrString())
	case ResultProtocolMismatch:
		return fmt.Errorf("kmsbroker: protocol version mismatch: %s", r.ErrString())
	default:
		return fmt.Errorf("kmsbroker: unknown result %d: %s", r.Result, r.ErrString())
	}
}
