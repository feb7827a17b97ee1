// Package colorconv implements the Color Conversion Engine from spec
// §4.5: GPU-side RGB/BGR → NV12/P010 conversion using two render passes
// (Y then UV) per frame, selected from four precomputed matrices.
package colorconv

import (
	"encoding/binary"
	"fmt"
	"math"
	"sync"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/logging"
)

var log = logging.L("colorconv")

// Destination selects the output chroma format / colorspace pair.
type Destination int

const (
	DestinationNV12BT709 Destination = iota // 8-bit, BT.709
	DestinationP010BT2020                    // 10-bit, BT.2020
)

// Range is the output quantization range.
type Range int

const (
	RangeLimited Range = iota
	RangeFull
)

// SourceColor is the input texture's channel layout. Draw does not read
// it and applies no swizzle, so a BGR source is converted as if it were RGB.
type SourceColor int

const (
	SourceRGB SourceColor = iota
	SourceBGR
)

// mat4 is a literal 4x4 row-major linear-to-YUV matrix, embedded verbatim
// into the generated WGSL source as a const.
type mat4 [16]float32

// The four matrices spec §4.5 requires enumerated, one per
// (destination, range) pair. NV12 coefficients are BT.709; P010
// coefficients are BT.2020, each with its own limited/full scaling.
var (
	matNV12Limited = mat4{
		0.1826, 0.6142, 0.0620, 0.0627,
		-0.1006, -0.3386, 0.4392, 0.5020,
		0.4392, -0.3989, -0.0403, 0.5020,
		0, 0, 0, 1,
	}
	matNV12Full = mat4{
		0.2126, 0.7152, 0.0722, 0.0,
		-0.1146, -0.3854, 0.5, 0.5,
		0.5, -0.4542, -0.0458, 0.5,
		0, 0, 0, 1,
	}
	matP010Limited = mat4{
		0.2256, 0.5823, 0.0509, 0.0627,
		-0.1227, -0.3166, 0.4392, 0.5020,
		0.4392, -0.4039, -0.0353, 0.5020,
		0, 0, 0, 1,
	}
	matP010Full = mat4{
		0.2627, 0.6780, 0.0593, 0.0,
		-0.1396, -0.3604, 0.5, 0.5,
		0.5, -0.4598, -0.0402, 0.5,
		0, 0, 0, 1,
	}
)

func matrixFor(dst Destination, rng Range) mat4 {
	switch {
	case dst == DestinationNV12BT709 && rng == RangeLimited:
		return matNV12Limited
	case dst == DestinationNV12BT709 && rng == RangeFull:
		return matNV12Full
	case dst == DestinationP010BT2020 && rng == RangeLimited:
		return matP010Limited
	default:
		return matP010Full
	}
}

// Params configures Engine.Init.
type Params struct {
	Destination Destination
	Range       Range
	Width       int
	Height      int
}

// DrawParams configures one Engine.Draw call.
type DrawParams struct {
	SrcTextureID  uint64
	SrcPos        [2]int32
	SrcSize       [2]int32
	TexPos        [2]float32
	TexSize       [2]float32
	RotationRad   float32
	IsExternal    bool
	Source        SourceColor
}

// shaderVariant names one of the four compiled programs: {Y,UV} x
// {internal,external}.
type shaderVariant int

const (
	variantYInternal shaderVariant = iota
	variantYExternal
	variantUVInternal
	variantUVExternal
)

// Engine owns the shader programs, framebuffers, and the full-screen
// triangle draw state described in spec §4.5. It is rebuilt whenever
// destination dimensions or bit depth change (spec §3 lifecycle table).
type Engine struct {
	mu sync.Mutex

	device *wgpu.Device
	params Params

	pipelines       map[shaderVariant]*wgpu.RenderPipeline
	bindGroupLayout *wgpu.BindGroupLayout
	pipelineLayout  *wgpu.PipelineLayout
	sampler         *wgpu.Sampler
	uniformBuf      *wgpu.Buffer

	yTarget  *wgpu.Texture
	uvTarget *wgpu.Texture
	yView    *wgpu.TextureView
	uvView   *wgpu.TextureView

	// sources maps a backend's opaque texture handle (DrawParams.SrcTextureID)
	// to the view the backend registered for it; Draw fails loudly if asked
	// to read from an ID nothing has registered.
	sources map[uint64]*wgpu.TextureView

	initialized bool
}

// New returns an Engine bound to device. Call Init before Draw/Clear.
func New(device *wgpu.Device) *Engine {
	return &Engine{
		device:    device,
		pipelines: make(map[shaderVariant]*wgpu.RenderPipeline),
		sources:   make(map[uint64]*wgpu.TextureView),
	}
}

// RegisterSource associates a texture view with the opaque ID a backend
// passes as DrawParams.SrcTextureID, so Draw can bind it as the sampled
// source without the Engine needing to know how each backend imports its
// captured surface (EGL image, dmabuf-backed texture, portal PipeWire
// buffer, ...).
func (e *Engine) RegisterSource(id uint64, view *wgpu.TextureView) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.sources[id] = view
}

// UnregisterSource drops a previously registered source view, once the
// backend has released the underlying texture.
func (e *Engine) UnregisterSource(id uint64) {
	e.mu.Lock()
	defer e.mu.Unlock()
	delete(e.sources, id)
}

// targetFormat is the render-target format backing both the Y and UV
// destination textures. The wgpu binding this engine is built on exposes
// no single/dual-channel formats, so the shaders write the Y sample into
// the red channel and the U/V pair into red/green, leaving the rest of
// each RGBA8 texel unused; the encoder adapter reads only the channels it
// needs back out.
const targetFormat = wgpu.TextureFormatRGBA8Unorm

// Init compiles all four shader variants ({Y,UV} x {internal,external})
// for params' matrix, so Draw can pick the internal or external pair on
// each call as the external-texture fallback flag flips mid-session. It
// also creates the Y/UV destination textures and the shared bind group
// layout/sampler/uniform buffer every Draw call reuses.
func (e *Engine) Init(params Params) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.params = params
	mat := matrixFor(params.Destination, params.Range)

	uvWidth, uvHeight := params.Width/2, params.Height/2
	if uvWidth < 1 {
		uvWidth = 1
	}
	if uvHeight < 1 {
		uvHeight = 1
	}

	var err error
	e.yTarget, e.yView, err = e.createTarget("colorconv-y", params.Width, params.Height)
	if err != nil {
		return err
	}
	e.uvTarget, e.uvView, err = e.createTarget("colorconv-uv", uvWidth, uvHeight)
	if err != nil {
		return err
	}

	e.sampler, err = e.device.CreateSampler(&wgpu.SamplerDescriptor{
		Label:     "colorconv-sampler",
		MagFilter: gputypes.FilterModeLinear,
		MinFilter: gputypes.FilterModeLinear,
	})
	if err != nil {
		return fmt.Errorf("colorconv: create sampler: %w", err)
	}

	e.uniformBuf, err = e.device.CreateBuffer(&wgpu.BufferDescriptor{
		Label: "colorconv-uniforms",
		Size:  16,
		Usage: wgpu.BufferUsageUniform | wgpu.BufferUsageCopyDst,
	})
	if err != nil {
		return fmt.Errorf("colorconv: create uniform buffer: %w", err)
	}

	e.bindGroupLayout, err = e.device.CreateBindGroupLayout(&wgpu.BindGroupLayoutDescriptor{
		Label: "colorconv-bgl",
		Entries: []wgpu.BindGroupLayoutEntry{
			{
				Binding:    0,
				Visibility: wgpu.ShaderStageFragment,
				Texture:    &gputypes.TextureBindingLayout{SampleType: gputypes.TextureSampleTypeFloat, ViewDimension: gputypes.TextureViewDimension2D},
			},
			{
				Binding:    1,
				Visibility: wgpu.ShaderStageFragment,
				Sampler:    &gputypes.SamplerBindingLayout{Type: gputypes.SamplerBindingTypeFiltering},
			},
			{
				Binding:    2,
				Visibility: wgpu.ShaderStageVertex | wgpu.ShaderStageFragment,
				Buffer:     &gputypes.BufferBindingLayout{Type: gputypes.BufferBindingTypeUniform},
			},
		},
	})
	if err != nil {
		return fmt.Errorf("colorconv: create bind group layout: %w", err)
	}

	e.pipelineLayout, err = e.device.CreatePipelineLayout(&wgpu.PipelineLayoutDescriptor{
		Label:            "colorconv-layout",
		BindGroupLayouts: []*wgpu.BindGroupLayout{e.bindGroupLayout},
	})
	if err != nil {
		return fmt.Errorf("colorconv: create pipeline layout: %w", err)
	}

	ySrc := generateShader(mat, planeY, false)
	uvSrc := generateShader(mat, planeUV, false)
	yExtSrc := generateShader(mat, planeY, true)
	uvExtSrc := generateShader(mat, planeUV, true)

	for variant, src := range map[shaderVariant]string{
		variantYInternal:  ySrc,
		variantYExternal:  yExtSrc,
		variantUVInternal: uvSrc,
		variantUVExternal: uvExtSrc,
	} {
		module, err := e.device.CreateShaderModule(&wgpu.ShaderModuleDescriptor{Label: variantLabel(variant), WGSL: src})
		if err != nil {
			return fmt.Errorf("colorconv: compile shader %v: %w", variant, err)
		}
		pipeline, err := e.device.CreateRenderPipeline(&wgpu.RenderPipelineDescriptor{
			Label:  variantLabel(variant),
			Layout: e.pipelineLayout,
			Vertex: wgpu.VertexState{Module: module, EntryPoint: "vs_main"},
			Fragment: &wgpu.FragmentState{
				Module:     module,
				EntryPoint: "fs_main",
				Targets:    []wgpu.ColorTargetState{{Format: targetFormat}},
			},
		})
		if err != nil {
			return fmt.Errorf("colorconv: create pipeline %v: %w", variant, err)
		}
		e.pipelines[variant] = pipeline
	}

	bitDepth := 8
	if params.Destination == DestinationP010BT2020 {
		bitDepth = 10
	}
	log.Info("color conversion engine initialized", "width", params.Width, "height", params.Height, "bit_depth", bitDepth)

	e.initialized = true
	return nil
}

// createTarget allocates a render-attachment-and-sampleable texture plus
// its view, used for both the Y and UV destination planes.
func (e *Engine) createTarget(label string, width, height int) (*wgpu.Texture, *wgpu.TextureView, error) {
	tex, err := e.device.CreateTexture(&wgpu.TextureDescriptor{
		Label:         label,
		Size:          wgpu.Extent3D{Width: uint32(width), Height: uint32(height), DepthOrArrayLayers: 1},
		MipLevelCount: 1,
		SampleCount:   1,
		Format:        targetFormat,
		Usage:         wgpu.TextureUsageRenderAttachment | wgpu.TextureUsageTextureBinding | wgpu.TextureUsageCopySrc,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("colorconv: create %s texture: %w", label, err)
	}
	view, err := e.device.CreateTextureView(tex, &wgpu.TextureViewDescriptor{Format: targetFormat})
	if err != nil {
		return nil, nil, fmt.Errorf("colorconv: create %s view: %w", label, err)
	}
	return tex, view, nil
}

// Draw runs the Y pass then the UV pass (downsampled 2x in the vertex
// stage) into their respective destination framebuffers, atomically with
// respect to pipeline state: both passes are recorded into one command
// buffer and submitted together, so the capture backend never observes
// one plane updated without the other (spec §4.5 invariant).
func (e *Engine) Draw(p DrawParams) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if !e.initialized {
		return fmt.Errorf("colorconv: Draw called before Init")
	}

	yVariant, uvVariant := variantYInternal, variantUVInternal
	if p.IsExternal {
		yVariant, uvVariant = variantYExternal, variantUVExternal
	}

	yPipeline, ok := e.pipelines[yVariant]
	if !ok {
		return fmt.Errorf("colorconv: missing pipeline for variant %v", yVariant)
	}
	uvPipeline, ok := e.pipelines[uvVariant]
	if !ok {
		return fmt.Errorf("colorconv: missing pipeline for variant %v", uvVariant)
	}

	srcView, ok := e.sources[p.SrcTextureID]
	if !ok {
		return fmt.Errorf("colorconv: no source texture registered for id %d", p.SrcTextureID)
	}

	queue := e.device.Queue()
	if err := queue.WriteBuffer(e.uniformBuf, 0, packUniforms(p)); err != nil {
		return fmt.Errorf("colorconv: write uniforms: %w", err)
	}

	bindGroup, err := e.device.CreateBindGroup(&wgpu.BindGroupDescriptor{
		Label:  "colorconv-bindgroup",
		Layout: e.bindGroupLayout,
		Entries: []wgpu.BindGroupEntry{
			{Binding: 0, TextureView: srcView},
			{Binding: 1, Sampler: e.sampler},
			{Binding: 2, Buffer: e.uniformBuf, Size: 16},
		},
	})
	if err != nil {
		return fmt.Errorf("colorconv: create bind group: %w", err)
	}

	encoder, err := e.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "colorconv-draw"})
	if err != nil {
		return fmt.Errorf("colorconv: create command encoder: %w", err)
	}

	if err := e.runPass(encoder, "colorconv-y-pass", e.yView, yPipeline, bindGroup, p); err != nil {
		return err
	}
	if err := e.runPass(encoder, "colorconv-uv-pass", e.uvView, uvPipeline, bindGroup, p); err != nil {
		return err
	}

	cmdBuf, err := encoder.Finish()
	if err != nil {
		return fmt.Errorf("colorconv: finish command encoder: %w", err)
	}
	if err := queue.Submit(cmdBuf); err != nil {
		return fmt.Errorf("colorconv: submit: %w", err)
	}
	return nil
}

// runPass records one render pass drawing a full-screen triangle (the
// vertex shader derives position from vertex_index, no vertex buffer
// needed) into target, clipped to SrcPos/SrcSize when composing multiple
// sources in the same frame.
func (e *Engine) runPass(encoder *wgpu.CommandEncoder, label string, target *wgpu.TextureView, pipeline *wgpu.RenderPipeline, bindGroup *wgpu.BindGroup, p DrawParams) error {
	pass, err := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label: label,
		ColorAttachments: []wgpu.RenderPassColorAttachment{
			{View: target, LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpStore, ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1}},
		},
	})
	if err != nil {
		return fmt.Errorf("colorconv: begin %s: %w", label, err)
	}

	pass.SetPipeline(pipeline)
	pass.SetBindGroup(0, bindGroup, nil)
	if p.SrcSize[0] > 0 && p.SrcSize[1] > 0 {
		pass.SetScissorRect(clampU32(p.SrcPos[0]), clampU32(p.SrcPos[1]), clampU32(p.SrcSize[0]), clampU32(p.SrcSize[1]))
	}
	pass.Draw(3, 1, 0, 0)

	if err := pass.End(); err != nil {
		return fmt.Errorf("colorconv: end %s: %w", label, err)
	}
	return nil
}

func clampU32(v int32) uint32 {
	if v < 0 {
		return 0
	}
	return uint32(v)
}

// packUniforms little-endian encodes the Uniforms struct declared in
// shader.go: rotation, pos_x, pos_y, padded to 16 bytes.
func packUniforms(p DrawParams) []byte {
	buf := make([]byte, 16)
	binary.LittleEndian.PutUint32(buf[0:4], math.Float32bits(p.RotationRad))
	binary.LittleEndian.PutUint32(buf[4:8], math.Float32bits(p.TexPos[0]))
	binary.LittleEndian.PutUint32(buf[8:12], math.Float32bits(p.TexPos[1]))
	return buf
}

// Clear resets both destination attachments to neutral black: Y=0,
// U=V=0.5, matching §4.5's "reset to neutral black" wording for YUV. This
// is a clear-only render pass with no draw call.
func (e *Engine) Clear() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.initialized {
		return fmt.Errorf("colorconv: Clear called before Init")
	}

	encoder, err := e.device.CreateCommandEncoder(&wgpu.CommandEncoderDescriptor{Label: "colorconv-clear"})
	if err != nil {
		return fmt.Errorf("colorconv: create command encoder: %w", err)
	}

	yPass, err := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:            "colorconv-y-clear",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{View: e.yView, LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpStore, ClearValue: wgpu.Color{R: 0, G: 0, B: 0, A: 1}}},
	})
	if err != nil {
		return fmt.Errorf("colorconv: begin y clear: %w", err)
	}
	if err := yPass.End(); err != nil {
		return fmt.Errorf("colorconv: end y clear: %w", err)
	}

	uvPass, err := encoder.BeginRenderPass(&wgpu.RenderPassDescriptor{
		Label:            "colorconv-uv-clear",
		ColorAttachments: []wgpu.RenderPassColorAttachment{{View: e.uvView, LoadOp: gputypes.LoadOpClear, StoreOp: gputypes.StoreOpStore, ClearValue: wgpu.Color{R: 0.5, G: 0.5, B: 0.5, A: 1}}},
	})
	if err != nil {
		return fmt.Errorf("colorconv: begin uv clear: %w", err)
	}
	if err := uvPass.End(); err != nil {
		return fmt.Errorf("colorconv: end uv clear: %w", err)
	}

	cmdBuf, err := encoder.Finish()
	if err != nil {
		return fmt.Errorf("colorconv: finish command encoder: %w", err)
	}
	return e.device.Queue().Submit(cmdBuf)
}

// Close releases the pipelines, destination textures, and bind state so
// a stale Engine can't be mistaken for an initialized one; registered
// sources are dropped too, since they're only meaningful against the
// textures this Init call created.
func (e *Engine) Close() {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.pipelines = make(map[shaderVariant]*wgpu.RenderPipeline)
	e.sources = make(map[uint64]*wgpu.TextureView)
	e.bindGroupLayout = nil
	e.pipelineLayout = nil
	e.sampler = nil
	e.uniformBuf = nil
	e.yTarget = nil
	e.uvTarget = nil
	e.yView = nil
	e.uvView = nil
	e.initialized = false
}

func variantLabel(v shaderVariant) string {
	switch v {
	case variantYInternal:
		return "colorconv-y-internal"
	case variantYExternal:
		return "colorconv-y-external"
	case variantUVInternal:
		return "colorconv-uv-internal"
	case variantUVExternal:
		return "colorconv-uv-external"
	default:
		return "colorconv-unknown"
	}
}
