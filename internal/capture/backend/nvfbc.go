package backend

import (
	"sync"
	"time"

	"github.com/ebitengine/purego"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/colorconv"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/dmabuf"
	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var nvfbcLog = logging.L("backend.nvfbc")

const nvfbcLibName = "libnvidia-fbc.so.1"

// retryInterval is how often Capture re-attempts CreateCaptureSession after
// the driver reports the session was lost (spec §4.3: "retries creating
// the session once per second on failure").
const retryInterval = time.Second

// nvfbcFuncs are the entry points resolved from libnvidia-fbc.so.1 via
// purego, named after the vendor's NvFBC C API.
type nvfbcFuncs struct {
	createInstance  func(out *uintptr) int32
	createHandle    func(handle *uintptr, params uintptr) int32
	destroyHandle   func(handle uintptr, params uintptr) int32
	createCapture   func(handle uintptr, params uintptr) int32
	destroyCapture  func(handle uintptr, params uintptr) int32
	grabFrame       func(handle uintptr, params uintptr) int32
}

// NVFBCBackend captures a whole X11 screen through NVIDIA's NvFBC, used
// when the GPU is NVIDIA and KMS plane access is unavailable (no
// CAP_SYS_ADMIN, or a proprietary driver without DRM atomic KMS). Grounded
// on the teacher's dynamic-library-resolution style (purego already
// appears in its dependency graph as a transitive dep; this is the first
// direct use of it) since neither the teacher nor the rest of the pack
// ships a cgo NvFBC binding.
type NVFBCBackend struct {
	mu sync.Mutex

	lib    uintptr
	funcs  nvfbcFuncs
	handle uintptr

	externallyManaged bool
	sessionLost       bool
	lastRetry         time.Time

	fallbacks Fallbacks
}

// NewNVFBCBackend dynamically loads libnvidia-fbc.so.1 and resolves its
// entry points. bExternallyManagedContext mirrors the NvFBC session flag
// of the same name: when true, the caller (not the driver) owns the GL
// context used for the capture's internal blit.
func NewNVFBCBackend(externallyManaged bool) (*NVFBCBackend, error) {
	lib, err := purego.Dlopen(nvfbcLibName, purego.RTLD_NOW|purego.RTLD_GLOBAL)
	if err != nil {
		return nil, captureerrors.Capability("nvfbc: dlopen %s: %v", nvfbcLibName, err)
	}

	b := &NVFBCBackend{lib: lib, externallyManaged: externallyManaged}
	purego.RegisterLibFunc(&b.funcs.createInstance, lib, "NvFBC_CreateInstance")
	purego.RegisterLibFunc(&b.funcs.createHandle, lib, "NvFBC_CreateHandle")
	purego.RegisterLibFunc(&b.funcs.destroyHandle, lib, "NvFBC_DestroyHandle")
	purego.RegisterLibFunc(&b.funcs.createCapture, lib, "NvFBC_CreateCaptureSession")
	purego.RegisterLibFunc(&b.funcs.destroyCapture, lib, "NvFBC_DestroyCaptureSession")
	purego.RegisterLibFunc(&b.funcs.grabFrame, lib, "NvFBC_NvFBCToSysGrabFrame")
	return b, nil
}

func (b *NVFBCBackend) Start(codecCtx CodecContext, frame *dmabuf.FrameDescriptor) error {
	var handle uintptr
	if rc := b.funcs.createHandle(&handle, 0); rc != 0 {
		return captureerrors.FatalCapture("nvfbc: NvFBC_CreateHandle failed, rc=%d", rc)
	}
	if rc := b.funcs.createCapture(handle, 0); rc != 0 {
		b.funcs.destroyHandle(handle, 0)
		return captureerrors.FatalCapture("nvfbc: NvFBC_CreateCaptureSession failed, rc=%d", rc)
	}
	b.handle = handle
	return nil
}

func (b *NVFBCBackend) Capture(frame *dmabuf.FrameDescriptor, conv *colorconv.Engine) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.sessionLost {
		if time.Since(b.lastRetry) < retryInterval {
			return 0, nil
		}
		b.lastRetry = time.Now()
		if err := b.recreateSession(); err != nil {
			return 0, captureerrors.TransientCapture("%w", captureerrors.ErrSessionLost)
		}
		b.sessionLost = false
	}

	rc := b.funcs.grabFrame(b.handle, 0)
	if rc != 0 {
		nvfbcLog.Warn("nvfbc grab frame failed, marking session lost", "rc", rc)
		b.sessionLost = true
		b.lastRetry = time.Now()
		return 0, nil
	}

	_ = conv
	return 1, nil
}

func (b *NVFBCBackend) recreateSession() error {
	if b.handle != 0 {
		b.funcs.destroyCapture(b.handle, 0)
		b.funcs.destroyHandle(b.handle, 0)
		b.handle = 0
	}
	var handle uintptr
	if rc := b.funcs.createHandle(&handle, 0); rc != 0 {
		return captureerrors.FatalCapture("nvfbc: recreate handle failed, rc=%d", rc)
	}
	if rc := b.funcs.createCapture(handle, 0); rc != 0 {
		b.funcs.destroyHandle(handle, 0)
		return captureerrors.FatalCapture("nvfbc: recreate capture session failed, rc=%d", rc)
	}
	b.handle = handle
	return nil
}

func (b *NVFBCBackend) GetSourceColor() SourceColor     { return SourceBGR }
func (b *NVFBCBackend) UsesExternalImage() bool         { return false }
func (b *NVFBCBackend) SetHDRMetadata(m, l []byte) bool { return false }
func (b *NVFBCBackend) GetWindowID() uint64             { return 0 }

func (b *NVFBCBackend) Destroy(codecCtx CodecContext) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.handle != 0 {
		b.funcs.destroyCapture(b.handle, 0)
		b.funcs.destroyHandle(b.handle, 0)
		b.handle = 0
	}
}

func (b *NVFBCBackend) ShouldStop() (error, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return nil, false
}
