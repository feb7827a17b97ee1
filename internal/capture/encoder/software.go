package encoder

import (
	"fmt"
	"sync"

	"github.com/go-gst/go-gst/gst"
	"github.com/go-gst/go-gst/gst/app"
	openh264 "github.com/y9o/go-openh264"

	captureerrors "github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/errors"
)

// softwareElementForCodec covers the codecs go-openh264 doesn't (vp8/vp9/
// av1/hevc); H264 is handled by the native go-openh264 encoder below
// instead of a GStreamer element.
var softwareElementForCodec = map[Codec]string{
	CodecHEVC:    "x265enc",
	CodecHEVCHDR: "x265enc",
	CodecHEVC10:  "x265enc",
	CodecAV1:     "svtav1enc",
	CodecAV1HDR:  "svtav1enc",
	CodecAV110:   "svtav1enc",
	CodecVP8:     "vp8enc",
	CodecVP9:     "vp9enc",
}

// readbackAlignment is the fixed CPU pitch alignment spec §4.6 calls for
// ("pitch-aligned to a fixed value (4)").
const readbackAlignment = 4

func alignReadback(v int) int {
	return alignUp(v, readbackAlignment)
}

// softwareContext either drives a native go-openh264 session (H264) or a
// GStreamer software-encoder pipeline (everything else); exactly one of
// h264Enc or pipeline is non-nil.
type softwareContext struct {
	h264Enc *openh264.Encoder

	pipeline *gst.Pipeline
	appsrc   *app.Source
	appsink  *app.Sink
	readback []byte

	width, height int
}

// nv12Size is the byte size of a full-resolution Y plane plus a
// half-resolution, 2-bytes-per-sample interleaved UV plane.
func nv12Size(width, height int) int {
	return width*height + width*height/2
}

type softwareAdapter struct {
	mu  sync.Mutex
	cfg AdapterConfig
}

// NewSoftwareAdapter is the adapter of last resort (spec §4.6): it never
// rejects a codec at construction time because it is the fallback the
// selector always has available.
func NewSoftwareAdapter(cfg AdapterConfig) (Adapter, error) {
	return &softwareAdapter{cfg: cfg}, nil
}

func (a *softwareAdapter) SupportedCodecs() []Codec {
	codecs := []Codec{CodecH264}
	for c := range softwareElementForCodec {
		codecs = append(codecs, c)
	}
	return codecs
}

func (a *softwareAdapter) Start(cfg AdapterConfig) (CodecContext, error) {
	width, height := alignReadback(cfg.Width), alignReadback(cfg.Height)

	if cfg.Codec == CodecH264 {
		enc, err := openh264.NewEncoder(openh264.EncoderParams{
			Width:     width,
			Height:    height,
			Bitrate:   cfg.Bitrate,
			FPS:       float32(cfg.FPS),
			KeyIntSec: cfg.KeyintSeconds,
		})
		if err != nil {
			return nil, fmt.Errorf("%w: openh264 init: %v", ErrPoolAllocFailed, err)
		}
		return &softwareContext{h264Enc: enc, width: width, height: height}, nil
	}

	element, ok := softwareElementForCodec[cfg.Codec]
	if !ok {
		return nil, fmt.Errorf("software: %w: %s", ErrUnsupportedCodec, cfg.Codec)
	}

	pipelineStr := fmt.Sprintf(
		"appsrc name=swsrc format=time is-live=true do-timestamp=false ! "+
			"video/x-raw,format=NV12,width=%d,height=%d ! %s bitrate=%d ! appsink name=swsink",
		width, height, element, cfg.Bitrate/1000,
	)
	pipeline, err := gst.NewPipelineFromString(pipelineStr)
	if err != nil {
		return nil, captureerrors.FatalCapture("software: build pipeline: %w", err)
	}
	srcElement, err := pipeline.GetElementByName("swsrc")
	if err != nil {
		return nil, captureerrors.FatalCapture("software: get appsrc: %w", err)
	}
	sinkElement, err := pipeline.GetElementByName("swsink")
	if err != nil {
		return nil, captureerrors.FatalCapture("software: get appsink: %w", err)
	}
	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, captureerrors.FatalCapture("%w: software pipeline start: %v", ErrPoolAllocFailed, err)
	}

	return &softwareContext{
		pipeline: pipeline,
		appsrc:   app.SrcFromElement(srcElement),
		appsink:  app.SinkFromElement(sinkElement),
		readback: make([]byte, nv12Size(width, height)),
		width:    width,
		height:   height,
	}, nil
}

// CopyTexturesToFrame pushes the context's readback buffer into the
// software pipeline's appsrc so Encode has a buffer to pull an encoded
// sample from. It reads no texture back: the buffer pushed is the
// zero-filled one allocated in Start. The h264Enc path has no appsrc, so
// this returns nil for it, and its Encode passes a nil frame to
// EncodeFrame.
func (a *softwareAdapter) CopyTexturesToFrame(ctx CodecContext) error {
	sc, ok := ctx.(*softwareContext)
	if !ok || sc == nil {
		return fmt.Errorf("software: nil context")
	}
	if sc.appsrc == nil {
		return nil
	}
	buf := gst.NewBufferFromBytes(sc.readback)
	if ret := sc.appsrc.PushBuffer(buf); ret != gst.FlowOK {
		return fmt.Errorf("software: push readback buffer: %v", ret)
	}
	return nil
}

func (a *softwareAdapter) Textures(ctx CodecContext) Textures {
	return Textures{NumTex: 2, Dst: DestColorFor(a.cfg.Codec)}
}

func (a *softwareAdapter) Encode(ctx CodecContext, pts int64, keyframe bool) ([]byte, error) {
	sc, ok := ctx.(*softwareContext)
	if !ok || sc == nil {
		return nil, fmt.Errorf("software: nil context")
	}

	if sc.h264Enc != nil {
		return sc.h264Enc.EncodeFrame(nil, keyframe)
	}

	return pullEncodedBytes(sc.appsink, "software")
}

func (a *softwareAdapter) Destroy(ctx CodecContext) {
	sc, ok := ctx.(*softwareContext)
	if !ok || sc == nil {
		return
	}
	if sc.h264Enc != nil {
		sc.h264Enc.Close()
		return
	}
	if sc.appsrc != nil {
		sc.appsrc.EndStream()
	}
	if sc.pipeline != nil {
		sc.pipeline.SetState(gst.StateNull)
	}
}

func (a *softwareAdapter) Name() string     { return "software" }
func (a *softwareAdapter) IsHardware() bool { return false }
