package encoder

import (
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
)

func init() {
	registerFactory(newNVENCAdapter)
}

var nvencElementForCodec = map[Codec]string{
	CodecH264:    "nvh264enc",
	CodecHEVC:    "nvh265enc",
	CodecHEVCHDR: "nvh265enc",
	CodecHEVC10:  "nvh265enc",
	CodecAV1:     "nvav1enc",
	CodecAV1HDR:  "nvav1enc",
	CodecAV110:   "nvav1enc",
}

// nvencContext holds the appsrc→nv*enc→appsink pipeline and the Y/UV
// texture handle slots. No texture is registered with CUDA; yTex and uvTex
// stay zero.
type nvencContext struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	yTex     uintptr
	uvTex    uintptr
}

type nvencAdapter struct {
	mu  sync.Mutex
	cfg AdapterConfig
}

func newNVENCAdapter(cfg AdapterConfig) (Adapter, error) {
	if _, ok := nvencElementForCodec[cfg.Codec]; !ok {
		return nil, fmt.Errorf("nvenc: %w: %s", ErrUnsupportedCodec, cfg.Codec)
	}
	return &nvencAdapter{cfg: cfg}, nil
}

func (a *nvencAdapter) SupportedCodecs() []Codec {
	codecs := make([]Codec, 0, len(nvencElementForCodec))
	for c := range nvencElementForCodec {
		codecs = append(codecs, c)
	}
	return codecs
}

func (a *nvencAdapter) Start(cfg AdapterConfig) (CodecContext, error) {
	element := nvencElementForCodec[cfg.Codec]
	format := "NV12"
	if cfg.Codec.Is10Bit() {
		format = "P010_10LE"
	}

	pipelineStr := fmt.Sprintf(
		"appsrc name=nvencsrc format=time is-live=true do-timestamp=false ! "+
			"video/x-raw,format=%s,width=%d,height=%d ! %s bitrate=%d ! appsink name=nvencsink",
		format, cfg.Width, cfg.Height, element, cfg.Bitrate/1000,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, captureerrors.FatalCapture("nvenc: build pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName("nvencsrc")
	if err != nil {
		return nil, captureerrors.FatalCapture("nvenc: get appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("nvencsink")
	if err != nil {
		return nil, captureerrors.FatalCapture("nvenc: get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, captureerrors.FatalCapture("%w: nvenc pipeline start: %v", ErrPoolAllocFailed, err)
	}

	return &nvencContext{
		pipeline: pipeline,
		appsrc:   app.SrcFromElement(srcElement),
		appsink:  app.SinkFromElement(sinkElement),
	}, nil
}

// CopyTexturesToFrame checks that ctx is an nvenc context and returns. It
// makes no CUDA copy and pushes nothing to the appsrc.
func (a *nvencAdapter) CopyTexturesToFrame(ctx CodecContext) error {
	nc, ok := ctx.(*nvencContext)
	if !ok || nc == nil {
		return fmt.Errorf("nvenc: nil context")
	}
	return nil
}

func (a *nvencAdapter) Textures(ctx CodecContext) Textures {
	nc, ok := ctx.(*nvencContext)
	if !ok || nc == nil {
		return Textures{}
	}
	return Textures{Y: nc.yTex, UV: nc.uvTex, NumTex: 2, Dst: DestColorFor(a.cfg.Codec)}
}

func (a *nvencAdapter) Encode(ctx CodecContext, pts int64, keyframe bool) ([]byte, error) {
	nc, ok := ctx.(*nvencContext)
	if !ok || nc == nil {
		return nil, fmt.Errorf("nvenc: nil context")
	}
	return pullEncodedBytes(nc.appsink, "nvenc")
}

func (a *nvencAdapter) Destroy(ctx CodecContext) {
	nc, ok := ctx.(*nvencContext)
	if !ok || nc == nil {
		return
	}
	if nc.appsrc != nil {
		nc.appsrc.EndStream()
	}
	if nc.pipeline != nil {
		nc.pipeline.SetState(gst.StateNull)
	}
}

func (a *nvencAdapter) Name() string     { return "nvenc" }
func (a *nvencAdapter) IsHardware() bool { return true }
