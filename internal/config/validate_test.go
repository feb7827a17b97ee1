package config

import (
	"fmt"
	"strings"
	"testing"
)

func TestValidateTieredInvalidCodecIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Codec = "mpeg2"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid codec should be fatal")
	}
	found := false
	for _, err := range result.Fatals {
		if strings.Contains(err.Error(), "codec") {
			found = true
		}
	}
	if !found {
		t.Fatal("expected codec validation error in fatals")
	}
}

func TestValidateTieredInvalidFrameModeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.FrameMode = "bogus"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid frame_mode should be fatal")
	}
}

func TestValidateTieredInvalidBitrateModeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.BitrateMode = "bogus"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid bitrate_mode should be fatal")
	}
}

func TestValidateTieredInvalidColorRangeIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ColorRange = "wide"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid color_range should be fatal")
	}
}

func TestValidateTieredInvalidEncoderIsFatal(t *testing.T) {
	cfg := Default()
	cfg.Encoder = "quantum"
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("invalid encoder should be fatal")
	}
}

func TestValidateTieredReplaySecondsBelowMinimumIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ReplaySeconds = 4
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("replay_seconds below 5 should be fatal")
	}
}

func TestValidateTieredReplaySecondsAboveMaximumIsFatal(t *testing.T) {
	cfg := Default()
	cfg.ReplaySeconds = 1201
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("replay_seconds above 1200 should be fatal")
	}
}

func TestValidateTieredReplaySecondsAtBoundsIsValid(t *testing.T) {
	cfg := Default()
	cfg.ReplaySeconds = minReplaySeconds
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("replay_seconds=%d should be valid: %v", minReplaySeconds, result.Fatals)
	}

	cfg.ReplaySeconds = maxReplaySeconds
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("replay_seconds=%d should be valid: %v", maxReplaySeconds, result.Fatals)
	}
}

func TestValidateTieredReplayDisabledIsValid(t *testing.T) {
	cfg := Default()
	cfg.ReplaySeconds = 0
	if result := cfg.ValidateTiered(); result.HasFatals() {
		t.Fatalf("replay_seconds=0 (disabled) should be valid: %v", result.Fatals)
	}
}

func TestValidateTieredNonPositiveKeyintIsFatal(t *testing.T) {
	cfg := Default()
	cfg.KeyintSeconds = 0
	result := cfg.ValidateTiered()
	if !result.HasFatals() {
		t.Fatal("keyint_seconds <= 0 should be fatal")
	}
}

func TestValidateTieredFPSClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FPS = 0
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for clamped fps")
	}
	if cfg.FPS != minFPS {
		t.Fatalf("FPS = %d, want %d (clamped)", cfg.FPS, minFPS)
	}
}

func TestValidateTieredHighFPSClampingIsWarning(t *testing.T) {
	cfg := Default()
	cfg.FPS = 100000
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("clamped fps should be warning, not fatal: %v", result.Fatals)
	}
	if cfg.FPS != maxFPS {
		t.Fatalf("FPS = %d, want %d (clamped)", cfg.FPS, maxFPS)
	}
}

func TestValidateTieredUnknownLogLevelIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogLevel = "verbose"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("unknown log level should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for unknown log level")
	}
	if cfg.LogLevel != "info" {
		t.Fatalf("LogLevel = %q, want \"info\" (defaulted)", cfg.LogLevel)
	}
}

func TestValidateTieredInvalidLogFormatIsWarning(t *testing.T) {
	cfg := Default()
	cfg.LogFormat = "xml"
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("invalid log format should not be fatal")
	}
	if len(result.Warnings) == 0 {
		t.Fatal("expected warning for invalid log format")
	}
}

func TestValidateTieredStreamPortOutOfRangeIsWarning(t *testing.T) {
	cfg := Default()
	cfg.StreamPort = 99999
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatal("out of range stream_port should not be fatal")
	}
	if cfg.StreamPort != 53516 {
		t.Fatalf("StreamPort = %d, want 53516 (defaulted)", cfg.StreamPort)
	}
}

func TestHasFatals(t *testing.T) {
	r := ValidationResult{}
	if r.HasFatals() {
		t.Fatal("HasFatals() on empty result should be false")
	}
	r.Fatals = append(r.Fatals, fmt.Errorf("test error"))
	if !r.HasFatals() {
		t.Fatal("HasFatals() should be true with a fatal error")
	}
}

func TestAllErrorsReturnsBoth(t *testing.T) {
	cfg := Default()
	cfg.Codec = "mpeg2"       // fatal
	cfg.LogFormat = "xml"     // warning
	result := cfg.ValidateTiered()

	all := result.AllErrors()
	if len(all) < 2 {
		t.Fatalf("AllErrors() returned %d errors, expected at least 2 (fatals + warnings)", len(all))
	}
}

func TestValidConfigHasNoErrors(t *testing.T) {
	cfg := Default()
	result := cfg.ValidateTiered()
	if result.HasFatals() {
		t.Fatalf("default config has fatals: %v", result.Fatals)
	}
	if len(result.Warnings) > 0 {
		t.Fatalf("default config has warnings: %v", result.Warnings)
	}
}
