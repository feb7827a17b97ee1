package session

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/gpu-screen-rec/gpu-screen-rec/internal/capture/colorconv"
	"github.com/gpu-screen-rec/gpu-screen-rec/internal/config"
)

func TestRequiresKMSBroker(t *testing.T) {
	if !requiresKMSBroker("monitor") {
		t.Error("expected monitor window to require the kms broker")
	}
	if !requiresKMSBroker("") {
		t.Error("expected default window to require the kms broker")
	}
	if requiresKMSBroker("portal") {
		t.Error("expected portal window to not require the kms broker")
	}
	if requiresKMSBroker("focused") {
		t.Error("expected focused window to not require the kms broker")
	}
	if !requiresKMSBroker("DP-1") {
		t.Error("expected connector name window to require the kms broker")
	}
	if !requiresKMSBroker("screen") {
		t.Error("expected config.Default() window to require the kms broker")
	}
}

func TestDestinationForSelectsByCodec(t *testing.T) {
	cfg := config.Config{Codec: "hevc_10bit"}
	if destinationFor(cfg) != colorconv.DestinationP010BT2020 {
		t.Error("expected 10-bit codec to select P010/BT.2020")
	}
	cfg.Codec = "h264"
	if destinationFor(cfg) != colorconv.DestinationNV12BT709 {
		t.Error("expected h264 to select NV12/BT.709")
	}
}

func TestRangeForSelectsByConfig(t *testing.T) {
	cfg := config.Config{ColorRange: "full"}
	if rangeFor(cfg) != colorconv.RangeFull {
		t.Error("expected full range")
	}
	cfg.ColorRange = "limited"
	if rangeFor(cfg) != colorconv.RangeLimited {
		t.Error("expected limited range")
	}
}

func TestMuxerElementForExtension(t *testing.T) {
	if muxerElementFor("/tmp/out.webm") != "webmmux" {
		t.Error("expected webm extension to select webmmux")
	}
	if muxerElementFor("/tmp/out.mkv") != "matroskamux" {
		t.Error("expected mkv extension to select matroskamux")
	}
	if muxerElementFor("/tmp/out.mp4") != "mp4mux" {
		t.Error("expected default extension to select mp4mux")
	}
}

func TestRestoreTokenForReturnsEmptyWhenDisabled(t *testing.T) {
	cfg := config.Config{RestorePortalSession: false}
	if tok := restoreTokenFor(cfg); tok != "" {
		t.Errorf("expected empty token when restore disabled, got %q", tok)
	}
}

func TestRestoreTokenForReadsPersistedToken(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", dir)

	tokenPath := config.RestoreTokenPath()
	if err := os.MkdirAll(filepath.Dir(tokenPath), 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := os.WriteFile(tokenPath, []byte("abc123"), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	cfg := config.Config{RestorePortalSession: true}
	if tok := restoreTokenFor(cfg); tok != "abc123" {
		t.Errorf("expected persisted token, got %q", tok)
	}
}
