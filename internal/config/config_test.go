package config

import "testing"

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("Default() config has fatal validation errors: %v", result.Fatals)
	}
}

func TestDefaultMatchesDocumentedValues(t *testing.T) {
	cfg := Default()

	if cfg.FPS != 60 {
		t.Errorf("FPS = %d, want 60", cfg.FPS)
	}
	if cfg.Codec != "h264" {
		t.Errorf("Codec = %q, want h264", cfg.Codec)
	}
	if cfg.FrameMode != "vfr" {
		t.Errorf("FrameMode = %q, want vfr", cfg.FrameMode)
	}
	if cfg.ReplaySeconds != 0 {
		t.Errorf("ReplaySeconds = %d, want 0 (disabled)", cfg.ReplaySeconds)
	}
	if cfg.StreamPort != 53516 {
		t.Errorf("StreamPort = %d, want 53516", cfg.StreamPort)
	}
}

func TestRestoreTokenPathUnderConfigDir(t *testing.T) {
	path := RestoreTokenPath()
	dir := configDir()
	if len(path) <= len(dir) || path[:len(dir)] != dir {
		t.Fatalf("RestoreTokenPath() = %q, want prefix %q", path, dir)
	}
}
