package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestParseLogLevel(t *testing.T) {
	tests := map[string]LogLevel{
		"error":   LogLevelError,
		"WARN":    LogLevelWarn,
		"warning": LogLevelWarn,
		"Info":    LogLevelInfo,
		"debug":   LogLevelDebug,
	}
	for in, want := range tests {
		got, err := parseLogLevel(in)
		if err != nil || got != want {
			t.Fatalf("parseLogLevel(%q) = %q, %v; want %q", in, got, err, want)
		}
	}
	if _, err := parseLogLevel("trace"); err == nil {
		t.Fatalf("expected an error for an unknown level")
	}
}

func TestSetupLogger_FiltersByLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := setupLogger(LogLevelWarn, &buf)

	logger.Info("hidden")
	logger.Warn("shown", "sink", "sysfs")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line written at warn level: %q", out)
	}
	if !strings.Contains(out, "msg=shown") || !strings.Contains(out, "sink=sysfs") {
		t.Fatalf("warn line missing: %q", out)
	}
}

func TestOpenLogOutput_File(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "autobrightd.log")
	w, closeFn, err := openLogOutput(path)
	if err != nil {
		t.Fatalf("openLogOutput: %v", err)
	}
	setupLogger(LogLevelInfo, w).Info("camera opened")
	if err := closeFn(); err != nil {
		t.Fatalf("close: %v", err)
	}

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	if !strings.Contains(string(b), "camera opened") {
		t.Fatalf("log file = %q", b)
	}
}

func TestOpenLogOutput_Stdout(t *testing.T) {
	w, closeFn, err := openLogOutput("")
	if err != nil || w != os.Stdout || closeFn == nil {
		t.Fatalf("openLogOutput(\"\") = %v, %v, %v", w, closeFn == nil, err)
	}
}
