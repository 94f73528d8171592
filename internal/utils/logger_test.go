package utils

import (
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"anova-service/internal/config"
)

func TestNewLoggerRejectsUnknownLevel(t *testing.T) {
	if _, err := NewLogger(&config.LoggingConfig{Level: "loud", Output: "stdout"}); err == nil {
		t.Fatal("expected an error for an unknown level")
	}
}

func TestNewLoggerWritesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "anova.log")
	logger, err := NewLogger(&config.LoggingConfig{
		Level:  "debug",
		Format: "json",
		Output: path,
	})
	if err != nil {
		t.Fatalf("NewLogger: %v", err)
	}

	logger.Info("hello", zap.String("device_address", "AA:BB"))
	if err := CloseLogger(logger); err != nil {
		t.Fatalf("CloseLogger: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(raw), `"message":"hello"`) || !strings.Contains(string(raw), `"device_address":"AA:BB"`) {
		t.Fatalf("log file = %s", raw)
	}
}

func TestLogAPIRequestLevels(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewServiceLogger(zap.New(core), "http")

	for _, status := range []int{http.StatusOK, http.StatusNotFound, http.StatusServiceUnavailable} {
		logger.LogAPIRequest(APIRequest{Method: http.MethodGet, Route: "/devices/:id", Device: "AA:BB", Status: status, Duration: time.Millisecond})
	}

	entries := logs.All()
	if len(entries) != 3 {
		t.Fatalf("entries = %d, want 3", len(entries))
	}
	want := []zapcore.Level{zapcore.InfoLevel, zapcore.WarnLevel, zapcore.ErrorLevel}
	for i, entry := range entries {
		if entry.Level != want[i] {
			t.Fatalf("entry %d level = %v, want %v", i, entry.Level, want[i])
		}
		if entry.ContextMap()["device_address"] != "AA:BB" {
			t.Fatalf("entry %d lost the device address: %v", i, entry.ContextMap())
		}
	}
}

func TestDeviceLoggerExchange(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	logger := NewDeviceLogger(zap.New(core), "AA:BB", "Anova", "direct")

	logger.LogExchange("get_status", "status", 1, time.Millisecond, nil)
	logger.LogExchange("get_status", "status", 2, time.Millisecond, errors.New("timeout"))

	entries := logs.All()
	if len(entries) != 2 || entries[0].Level != zapcore.DebugLevel || entries[1].Level != zapcore.WarnLevel {
		t.Fatalf("unexpected entries %+v", entries)
	}
	if entries[1].ContextMap()["transport"] != "direct" {
		t.Fatalf("missing transport field: %v", entries[1].ContextMap())
	}
}

func TestErrorCode(t *testing.T) {
	tests := map[int]string{
		http.StatusNotFound:            "NOT_FOUND",
		http.StatusUnprocessableEntity: "INVALID_REPLY",
		http.StatusNotImplemented:      "NOT_SUPPORTED",
		http.StatusServiceUnavailable:  "DEVICE_UNAVAILABLE",
		http.StatusTeapot:              "UNKNOWN_ERROR",
	}
	for status, want := range tests {
		if got := ErrorCode(status); got != want {
			t.Fatalf("ErrorCode(%d) = %q, want %q", status, got, want)
		}
	}
}
