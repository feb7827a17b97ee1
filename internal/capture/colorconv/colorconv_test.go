package colorconv

import (
	"encoding/binary"
	"math"
	"strings"
	"testing"
)

func TestMatrixForSelectsAllFourVariants(t *testing.T) {
	tests := []struct {
		dst  Destination
		rng  Range
		want mat4
	}{
		{DestinationNV12BT709, RangeLimited, matNV12Limited},
		{DestinationNV12BT709, RangeFull, matNV12Full},
		{DestinationP010BT2020, RangeLimited, matP010Limited},
		{DestinationP010BT2020, RangeFull, matP010Full},
	}
	for _, tt := range tests {
		if got := matrixFor(tt.dst, tt.rng); got != tt.want {
			t.Errorf("matrixFor(%v, %v) = %v, want %v", tt.dst, tt.rng, got, tt.want)
		}
	}
}

func TestMatricesAreDistinct(t *testing.T) {
	mats := []mat4{matNV12Limited, matNV12Full, matP010Limited, matP010Full}
	for i := range mats {
		for j := i + 1; j < len(mats); j++ {
			if mats[i] == mats[j] {
				t.Fatalf("matrix %d and %d are identical, expected four distinct matrices", i, j)
			}
		}
	}
}

func TestGenerateShaderUsesExternalTextureType(t *testing.T) {
	src := generateShader(matNV12Limited, planeY, true)
	if !strings.Contains(src, "texture_external") {
		t.Fatal("expected external variant to declare texture_external")
	}
}

func TestGenerateShaderInternalUsesTexture2D(t *testing.T) {
	src := generateShader(matNV12Limited, planeY, false)
	if !strings.Contains(src, "texture_2d<f32>") {
		t.Fatal("expected internal variant to declare texture_2d<f32>")
	}
}

func TestGenerateShaderUVPlaneDownsamples(t *testing.T) {
	src := generateShader(matNV12Limited, planeUV, false)
	if !strings.Contains(src, "pos = pos * 0.5") {
		t.Fatal("expected UV plane shader to downsample by 0.5 in the vertex stage")
	}
}

func TestGenerateShaderEmbedsMatrixLiteral(t *testing.T) {
	src := generateShader(matNV12Limited, planeY, false)
	if !strings.Contains(src, "yuv_matrix") {
		t.Fatal("expected shader to declare yuv_matrix const")
	}
}

func TestPackUniformsRoundTripsRotationAndPosition(t *testing.T) {
	p := DrawParams{RotationRad: 1.5, TexPos: [2]float32{0.25, -0.5}}
	buf := packUniforms(p)
	if len(buf) != 16 {
		t.Fatalf("expected 16-byte uniform buffer, got %d", len(buf))
	}
	rotation := math.Float32frombits(binary.LittleEndian.Uint32(buf[0:4]))
	if rotation != p.RotationRad {
		t.Errorf("rotation = %v, want %v", rotation, p.RotationRad)
	}
	posX := math.Float32frombits(binary.LittleEndian.Uint32(buf[4:8]))
	if posX != p.TexPos[0] {
		t.Errorf("pos_x = %v, want %v", posX, p.TexPos[0])
	}
}

func TestClampU32RejectsNegative(t *testing.T) {
	if clampU32(-5) != 0 {
		t.Error("expected negative input to clamp to 0")
	}
	if clampU32(42) != 42 {
		t.Error("expected non-negative input to pass through unchanged")
	}
}
