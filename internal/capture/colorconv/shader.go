package colorconv

import "fmt"

type plane int

const (
	planeY plane = iota
	planeUV
)

// generateShader builds a short WGSL fragment+vertex program parameterized
// by the embedded linear-to-YUV matrix, which plane it writes (Y or
// downsampled UV), and whether the source is a standard 2D texture or an
// external (OES-equivalent) texture. Rotation and position are uniforms,
// not baked into the matrix, so one compiled variant serves every
// orientation (spec §4.5).
func generateShader(mat mat4, p plane, external bool) string {
	textureType := "texture_2d<f32>"
	if external {
		textureType = "texture_external"
	}

	matLiteral := fmt.Sprintf(
		"mat4x4<f32>(%g,%g,%g,%g, %g,%g,%g,%g, %g,%g,%g,%g, %g,%g,%g,%g)",
		mat[0], mat[1], mat[2], mat[3],
		mat[4], mat[5], mat[6], mat[7],
		mat[8], mat[9], mat[10], mat[11],
		mat[12], mat[13], mat[14], mat[15],
	)

	downsample := ""
	channelSelect := "rgb_to_y"
	if p == planeUV {
		downsample = "pos = pos * 0.5;"
		channelSelect = "rgb_to_uv"
	}

	return fmt.Sprintf(`
struct Uniforms {
	rotation: f32,
	pos_x: f32,
	pos_y: f32,
};
@group(0) @binding(0) var src_tex: %s;
@group(0) @binding(1) var src_sampler: sampler;
@group(0) @binding(2) var<uniform> u: Uniforms;

const yuv_matrix: mat4x4<f32> = %s;

// Y goes to the red channel; U and V go to red and green.
fn rgb_to_y(yuv: vec4<f32>) -> vec4<f32> {
	return vec4<f32>(yuv.x, 0.0, 0.0, 1.0);
}

fn rgb_to_uv(yuv: vec4<f32>) -> vec4<f32> {
	return vec4<f32>(yuv.y, yuv.z, 0.0, 1.0);
}

// Full-screen triangle: three vertices covering the viewport, derived
// from vertex_index rather than a bound vertex buffer.
var<private> corners: array<vec2<f32>, 3> = array<vec2<f32>, 3>(
	vec2<f32>(-1.0, -1.0),
	vec2<f32>(3.0, -1.0),
	vec2<f32>(-1.0, 3.0),
);

struct VSOut {
	@builtin(position) clip_pos: vec4<f32>,
	@location(0) uv: vec2<f32>,
};

@vertex
fn vs_main(@builtin(vertex_index) idx: u32) -> VSOut {
	var pos = corners[idx];
	%s
	let c = cos(u.rotation);
	let s = sin(u.rotation);
	let rotated = vec2<f32>(pos.x * c - pos.y * s, pos.x * s + pos.y * c);

	var out: VSOut;
	out.clip_pos = vec4<f32>(rotated + vec2<f32>(u.pos_x, u.pos_y), 0.0, 1.0);
	out.uv = pos * 0.5 + vec2<f32>(0.5, 0.5);
	return out;
}

@fragment
fn fs_main(in: VSOut) -> @location(0) vec4<f32> {
	let rgba = textureSample(src_tex, src_sampler, in.uv);
	// mat4x4 constructors are column-major and yuv_matrix holds a row-major
	// matrix, so the vector multiplies from the left.
	let yuv = vec4<f32>(rgba.rgb, 1.0) * yuv_matrix;
	return %s(yuv);
}
`, textureType, matLiteral, downsample, channelSelect)
}
