package encoder

import (
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
)

func init() {
	registerFactory(newVAAPIAdapter)
}

// vaapiElementForCodec maps a codec to the go-gst VAAPI encoder element
// name, mirroring gstreamer-vaapi's naming.
var vaapiElementForCodec = map[Codec]string{
	CodecH264:    "vaapih264enc",
	CodecHEVC:    "vaapih265enc",
	CodecHEVCHDR: "vaapih265enc",
	CodecHEVC10:  "vaapih265enc",
	CodecAV1:     "vaapiav1enc",
	CodecAV1HDR:  "vaapiav1enc",
	CodecAV110:   "vaapiav1enc",
	CodecVP8:     "vaapivp8enc",
	CodecVP9:     "vaapivp9enc",
}

// vaapiContext is the per-session state for the VAAPI adapter: the
// appsrc→vaapi*enc→appsink pipeline and the aligned frame size. No surface
// DMA-BUF is exported or re-imported as a texture, and Textures returns no
// texture handles.
type vaapiContext struct {
	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	width    int
	height   int
}

type vaapiAdapter struct {
	mu  sync.Mutex
	cfg AdapterConfig
}

func newVAAPIAdapter(cfg AdapterConfig) (Adapter, error) {
	if _, ok := vaapiElementForCodec[cfg.Codec]; !ok {
		return nil, fmt.Errorf("vaapi: %w: %s", ErrUnsupportedCodec, cfg.Codec)
	}
	return &vaapiAdapter{cfg: cfg}, nil
}

func (a *vaapiAdapter) SupportedCodecs() []Codec {
	codecs := make([]Codec, 0, len(vaapiElementForCodec))
	for c := range vaapiElementForCodec {
		codecs = append(codecs, c)
	}
	return codecs
}

// alignedDimensions applies the per-codec alignment quirks spec §4.6 calls
// out explicitly: AMD HEVC needs width aligned to 64 and height to 16;
// AMD AV1 has a special-cased 1080 height.
func alignedDimensions(codec Codec, width, height int) (int, int) {
	switch codec {
	case CodecHEVC, CodecHEVCHDR, CodecHEVC10:
		width = alignUp(width, 64)
		height = alignUp(height, 16)
	case CodecAV1, CodecAV1HDR, CodecAV110:
		if height == 1080 {
			height = 1088
		}
	}
	return width, height
}

func alignUp(v, align int) int {
	return (v + align - 1) / align * align
}

func (a *vaapiAdapter) Start(cfg AdapterConfig) (CodecContext, error) {
	element := vaapiElementForCodec[cfg.Codec]
	width, height := alignedDimensions(cfg.Codec, cfg.Width, cfg.Height)

	pipelineStr := fmt.Sprintf(
		"appsrc name=vaapisrc format=time is-live=true do-timestamp=false ! "+
			"video/x-raw,format=NV12,width=%d,height=%d ! %s bitrate=%d ! appsink name=vaapisink",
		width, height, element, cfg.Bitrate/1000,
	)

	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, captureerrors.FatalCapture("vaapi: build pipeline: %w", err)
	}

	srcElement, err := pipeline.GetElementByName("vaapisrc")
	if err != nil {
		return nil, captureerrors.FatalCapture("vaapi: get appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("vaapisink")
	if err != nil {
		return nil, captureerrors.FatalCapture("vaapi: get appsink: %w", err)
	}

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, captureerrors.FatalCapture("%w: vaapi pipeline start: %v", ErrPoolAllocFailed, err)
	}

	return &vaapiContext{
		pipeline: pipeline,
		appsrc:   app.SrcFromElement(srcElement),
		appsink:  app.SinkFromElement(sinkElement),
		width:    width,
		height:   height,
	}, nil
}

// CopyTexturesToFrame does nothing and returns nil.
func (a *vaapiAdapter) CopyTexturesToFrame(ctx CodecContext) error { return nil }

func (a *vaapiAdapter) Textures(ctx CodecContext) Textures {
	return Textures{NumTex: 2, Dst: DestColorFor(a.cfg.Codec)}
}

func (a *vaapiAdapter) Encode(ctx CodecContext, pts int64, keyframe bool) ([]byte, error) {
	vc, ok := ctx.(*vaapiContext)
	if !ok || vc == nil {
		return nil, fmt.Errorf("vaapi: nil context")
	}
	return pullEncodedBytes(vc.appsink, "vaapi")
}

func (a *vaapiAdapter) Destroy(ctx CodecContext) {
	vc, ok := ctx.(*vaapiContext)
	if !ok || vc == nil {
		return
	}
	if vc.appsrc != nil {
		vc.appsrc.EndStream()
	}
	if vc.pipeline != nil {
		vc.pipeline.SetState(gst.StateNull)
	}
}

func (a *vaapiAdapter) Name() string     { return "vaapi" }
func (a *vaapiAdapter) IsHardware() bool { return true }
