package config

import (
	"fmt"
	"strings"
)

var validCodecs = map[string]bool{
	"h264":       true,
	"hevc":       true,
	"hevc_hdr":   true,
	"hevc_10bit": true,
	"av1":        true,
	"av1_hdr":    true,
	"av1_10bit":  true,
	"vp8":        true,
	"vp9":        true,
}

var validFrameModes = map[string]bool{
	"cfr":     true,
	"vfr":     true,
	"content": true,
}

var validBitrateModes = map[string]bool{
	"auto": true,
	"qp":   true,
	"vbr":  true,
}

var validColorRanges = map[string]bool{
	"limited": true,
	"full":    true,
}

var validEncoders = map[string]bool{
	"gpu": true,
	"cpu": true,
}

var validLogLevels = map[string]bool{
	"debug":   true,
	"info":    true,
	"warn":    true,
	"warning": true,
	"error":   true,
}

const (
	minReplaySeconds = 5
	maxReplaySeconds = 1200
	minFPS           = 1
	maxFPS           = 1000
)

// ValidationResult splits config validation errors into two tiers. Fatals
// abort startup (spec §7 ConfigError); Warnings are logged and the offending
// field is clamped to a safe value so the pipeline still starts.
type ValidationResult struct {
	Fatals   []error
	Warnings []error
}

// HasFatals reports whether any fatal validation error was found.
func (r ValidationResult) HasFatals() bool {
	return len(r.Fatals) > 0
}

// AllErrors returns fatals followed by warnings as a single flat slice.
func (r ValidationResult) AllErrors() []error {
	all := make([]error, 0, len(r.Fatals)+len(r.Warnings))
	all = append(all, r.Fatals...)
	all = append(all, r.Warnings...)
	return all
}

// Validate runs ValidateTiered and returns the combined error list, fatals
// first, matching the flat signature older callers expect.
func (c *Config) Validate() []error {
	result := c.ValidateTiered()
	errs := make([]error, 0, len(result.Fatals)+len(result.Warnings))
	errs = append(errs, result.Fatals...)
	errs = append(errs, result.Warnings...)
	return errs
}

// ValidateTiered checks the config and splits the findings into fatal
// (invalid enum values, out-of-range replay window — spec §8: "replay_seconds
// = 4 is rejected at startup") and warning (out-of-range but clampable)
// tiers. Warning-tier fields are clamped to the nearest valid value as a
// side effect.
func (c *Config) ValidateTiered() ValidationResult {
	var r ValidationResult

	if !validCodecs[strings.ToLower(c.Codec)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("codec %q is not supported", c.Codec))
	}

	if !validFrameModes[strings.ToLower(c.FrameMode)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("frame_mode %q must be one of cfr, vfr, content", c.FrameMode))
	}

	if !validBitrateModes[strings.ToLower(c.BitrateMode)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("bitrate_mode %q must be one of auto, qp, vbr", c.BitrateMode))
	}

	if !validColorRanges[strings.ToLower(c.ColorRange)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("color_range %q must be limited or full", c.ColorRange))
	}

	if !validEncoders[strings.ToLower(c.Encoder)] {
		r.Fatals = append(r.Fatals, fmt.Errorf("encoder %q must be gpu or cpu", c.Encoder))
	}

	// replay_seconds == 0 means replay mode is disabled and is always valid;
	// any nonzero value must fall inside [5, 1200] or startup is rejected.
	if c.ReplaySeconds != 0 && (c.ReplaySeconds < minReplaySeconds || c.ReplaySeconds > maxReplaySeconds) {
		r.Fatals = append(r.Fatals, fmt.Errorf("replay_seconds %d must be 0 or within [%d, %d]", c.ReplaySeconds, minReplaySeconds, maxReplaySeconds))
	}

	if c.KeyintSeconds <= 0 {
		r.Fatals = append(r.Fatals, fmt.Errorf("keyint_seconds %.2f must be positive", c.KeyintSeconds))
	}

	if c.FPS < minFPS {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps %d is below minimum %d, clamping", c.FPS, minFPS))
		c.FPS = minFPS
	} else if c.FPS > maxFPS {
		r.Warnings = append(r.Warnings, fmt.Errorf("fps %d exceeds maximum %d, clamping", c.FPS, maxFPS))
		c.FPS = maxFPS
	}

	if c.LogLevel != "" && !validLogLevels[strings.ToLower(c.LogLevel)] {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_level %q is not valid (use debug, info, warn, error), defaulting to info", c.LogLevel))
		c.LogLevel = "info"
	}

	if c.LogFormat != "" && c.LogFormat != "text" && c.LogFormat != "json" {
		r.Warnings = append(r.Warnings, fmt.Errorf("log_format %q is not valid (use text or json), defaulting to text", c.LogFormat))
		c.LogFormat = "text"
	}

	if c.StreamPort <= 0 || c.StreamPort > 65535 {
		r.Warnings = append(r.Warnings, fmt.Errorf("stream_port %d is out of range, defaulting to 53516", c.StreamPort))
		c.StreamPort = 53516
	}

	return r
}
