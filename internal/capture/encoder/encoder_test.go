package encoder

import "testing"

func TestCodecIs10Bit(t *testing.T) {
	cases := map[Codec]bool{
		CodecH264:    false,
		CodecHEVC:    false,
		CodecHEVCHDR: true,
		CodecHEVC10:  true,
		CodecAV1:     false,
		CodecAV1HDR:  true,
		CodecAV110:   true,
		CodecVP8:     false,
		CodecVP9:     false,
	}
	for codec, want := range cases {
		if got := codec.Is10Bit(); got != want {
			t.Errorf("%s.Is10Bit() = %v, want %v", codec, got, want)
		}
	}
}

func TestCodecIsHDR(t *testing.T) {
	if !CodecHEVCHDR.IsHDR() {
		t.Error("expected hevc_hdr to be HDR")
	}
	if !CodecAV1HDR.IsHDR() {
		t.Error("expected av1_hdr to be HDR")
	}
	if CodecHEVC10.IsHDR() {
		t.Error("hevc_10bit is not HDR")
	}
}

func TestDestColorForSelectsByBitDepth(t *testing.T) {
	if DestColorFor(CodecH264) != DestNV12 {
		t.Error("expected h264 to map to NV12")
	}
	if DestColorFor(CodecAV110) != DestP010 {
		t.Error("expected av1_10bit to map to P010")
	}
}

func TestAlignedDimensionsHEVCAlignment(t *testing.T) {
	w, h := alignedDimensions(CodecHEVC, 1921, 1081)
	if w%64 != 0 {
		t.Errorf("expected width aligned to 64, got %d", w)
	}
	if h%16 != 0 {
		t.Errorf("expected height aligned to 16, got %d", h)
	}
}

func TestAlignedDimensionsAV1SpecialCase1080(t *testing.T) {
	_, h := alignedDimensions(CodecAV1, 1920, 1080)
	if h != 1088 {
		t.Errorf("expected 1080 special-cased to 1088, got %d", h)
	}
}

func TestAlignedDimensionsH264Unaffected(t *testing.T) {
	w, h := alignedDimensions(CodecH264, 1920, 1080)
	if w != 1920 || h != 1080 {
		t.Errorf("expected h264 dimensions untouched, got %dx%d", w, h)
	}
}

func TestNewRejectsInvalidCodec(t *testing.T) {
	_, err := New(AdapterConfig{Codec: "nonsense", Width: 1920, Height: 1080}, false)
	if err == nil {
		t.Fatal("expected error for invalid codec")
	}
}

func TestProbeCapabilitiesIncludesSoftwareAdapter(t *testing.T) {
	caps := ProbeCapabilities()
	found := false
	for _, c := range caps {
		if c.Name == "software" && !c.Hardware {
			found = true
		}
	}
	if !found {
		t.Error("expected software adapter to appear in capability probe")
	}
}

func TestMergeCapabilityGroupsByName(t *testing.T) {
	var caps []AdapterCapability
	caps = mergeCapability(caps, "vaapi", true, CodecH264)
	caps = mergeCapability(caps, "vaapi", true, CodecHEVC)
	if len(caps) != 1 {
		t.Fatalf("expected one grouped entry, got %d", len(caps))
	}
	if len(caps[0].Codecs) != 2 {
		t.Fatalf("expected two codecs merged under vaapi, got %d", len(caps[0].Codecs))
	}
}

func TestSoftwareAdapterSupportsAllCodecsAtSelection(t *testing.T) {
	sw, err := NewSoftwareAdapter(AdapterConfig{Codec: CodecVP9})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	codecs := sw.SupportedCodecs()
	found := false
	for _, c := range codecs {
		if c == CodecVP9 {
			found = true
		}
	}
	if !found {
		t.Error("expected software adapter to list vp9 among supported codecs")
	}
}
