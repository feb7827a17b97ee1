package logging

import (
	"bytes"
	"strings"
	"sync/atomic"
	"testing"
)

func TestPreInitLoggerUsesConfiguredHandler(t *testing.T) {
	logger := L("kmsbroker")

	var buf bytes.Buffer
	Init("text", "info", &buf)

	logger.Info("connected", "socket", "/run/gsr/kms.sock")

	out := buf.String()
	if strings.Contains(out, `msg="INFO connected`) {
		t.Fatalf("unexpected nested severity prefix in message: %s", out)
	}
	if !strings.Contains(out, "msg=connected") {
		t.Fatalf("expected plain connected message, got: %s", out)
	}
	if !strings.Contains(out, "component=kmsbroker") {
		t.Fatalf("expected component field, got: %s", out)
	}
	if !strings.Contains(out, "socket=/run/gsr/kms.sock") {
		t.Fatalf("expected socket field, got: %s", out)
	}
}

func TestPreInitLoggerRespectsConfiguredLevel(t *testing.T) {
	logger := L("websocket")

	var buf bytes.Buffer
	Init("text", "warn", &buf)

	logger.Info("hidden")
	logger.Warn("shown")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info log should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, "shown") {
		t.Fatalf("warn log should be emitted: %s", out)
	}
}

func TestOnceFiresExactlyOnce(t *testing.T) {
	key := "test-latch-rotation-warning"
	t.Cleanup(func() { ResetOnce(key) })

	var calls atomic.Int32
	for i := 0; i < 5; i++ {
		Once(key, func() { calls.Add(1) })
	}

	if got := calls.Load(); got != 1 {
		t.Fatalf("expected Once to fire exactly once, fired %d times", got)
	}
}

func TestResetOnceRearmsLatch(t *testing.T) {
	key := "test-latch-reset"
	t.Cleanup(func() { ResetOnce(key) })

	var calls atomic.Int32
	Once(key, func() { calls.Add(1) })
	Once(key, func() { calls.Add(1) })
	ResetOnce(key)
	Once(key, func() { calls.Add(1) })

	if got := calls.Load(); got != 2 {
		t.Fatalf("expected Once to fire twice across a reset, fired %d times", got)
	}
}
