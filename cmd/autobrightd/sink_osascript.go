package main

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
)

// commandRunner runs an external program and returns its combined output.
type commandRunner func(ctx context.Context, name string, args ...string) ([]byte, error)

func execCommandRunner(ctx context.Context, name string, args ...string) ([]byte, error) {
	return exec.CommandContext(ctx, name, args...).CombinedOutput()
}

// osascriptSink sets brightness through AppleScript and System Events.
// System Events needs the Accessibility permission; without it every call
// fails with one of the replies matched by isAppleScriptPermissionError.
type osascriptSink struct {
	path    string
	display int
	run     commandRunner
}

func newOsascriptSink(path string, display int, run commandRunner) (*osascriptSink, error) {
	if path == "" {
		path = "osascript"
	}
	if display < 1 {
		display = 1
	}
	if run == nil {
		resolved, err := exec.LookPath(path)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
		}
		path = resolved
		run = execCommandRunner
	}
	return &osascriptSink{path: path, display: display, run: run}, nil
}

func (s *osascriptSink) Name() string { return "osascript" }

func (s *osascriptSink) SetBrightness(ctx context.Context, level int) error {
	level = clampInt(level, minBrightness, maxBrightness)
	script := fmt.Sprintf(
		`tell application "System Events" to set brightness of display %d to %s`,
		s.display, strconv.FormatFloat(float64(level)/maxBrightness, 'f', 2, 64),
	)
	if _, err := s.osascript(ctx, script); err != nil {
		return &SinkError{Sink: s.Name(), Op: "set", Err: err}
	}
	return nil
}

func (s *osascriptSink) Brightness(ctx context.Context) (int, error) {
	script := fmt.Sprintf(`tell application "System Events" to get brightness of display %d`, s.display)
	out, err := s.osascript(ctx, script)
	if err != nil {
		return 0, &SinkError{Sink: s.Name(), Op: "get", Err: err}
	}
	v, err := strconv.ParseFloat(strings.TrimSpace(out), 64)
	if err != nil {
		return 0, &SinkError{Sink: s.Name(), Op: "get", Err: fmt.Errorf("parse reply %q: %w", out, err)}
	}
	return clampInt(int(v*maxBrightness+0.5), minBrightness, maxBrightness), nil
}

func (s *osascriptSink) Close() error { return nil }

func (s *osascriptSink) osascript(ctx context.Context, script string) (string, error) {
	out, err := s.run(ctx, s.path, "-e", script)
	reply := strings.TrimSpace(string(out))
	if err == nil {
		return reply, nil
	}
	if isAppleScriptPermissionError(reply) {
		return "", fmt.Errorf("%w: %s (grant Accessibility access in System Settings > Privacy & Security)", ErrSinkPermissionDenied, reply)
	}
	var ee *exec.Error
	if errors.As(err, &ee) {
		return "", fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}
	if reply != "" {
		return "", fmt.Errorf("%v: %s", err, reply)
	}
	return "", err
}

// isAppleScriptPermissionError matches the replies macOS gives when the
// calling process lacks Accessibility or Automation consent.
func isAppleScriptPermissionError(reply string) bool {
	r := strings.ToLower(reply)
	return strings.Contains(r, "not allowed assistive access") ||
		strings.Contains(r, "(-1719)") ||
		strings.Contains(r, "(-1743)") ||
		strings.Contains(r, "not authorized to send apple events")
}
