package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
)

// BrightnessSink applies a brightness level (0..100) to the display.
//
// Implementations never panic outward. Per-call failures are *SinkError values
// wrapping ErrSinkUnavailable or ErrSinkPermissionDenied where they apply.
type BrightnessSink interface {
	SetBrightness(ctx context.Context, level int) error
	// Brightness reads the level currently reported by the OS.
	Brightness(ctx context.Context) (int, error)
	Name() string
	Close() error
}

// sinkProber is implemented by sinks that can check access up front.
type sinkProber interface {
	Probe(ctx context.Context) error
}

// Sink kinds accepted in brightness.sink.
const (
	SinkKindAuto      = "auto"
	SinkKindNone      = "none"
	SinkKindSysfs     = "sysfs"
	SinkKindOsascript = "osascript"
	SinkKindDXVA2     = "dxva2"
)

// SinkConfig selects and parameterizes the platform sink.
type SinkConfig struct {
	Kind string

	// sysfs
	SysfsRoot   string // defaults to /sys/class/backlight
	SysfsDevice string // empty = first device found

	// osascript
	OsascriptPath string // defaults to "osascript"
	Display       int    // 1-based display number for System Events

	// dxva2
	Monitor int // 0-based index into the primary monitor's physical monitors
}

func validSinkKind(kind string) bool {
	switch kind {
	case SinkKindAuto, SinkKindNone, SinkKindSysfs, SinkKindOsascript, SinkKindDXVA2:
		return true
	}
	return false
}

// NewBrightnessSink builds the sink for this platform. It never fails: when
// the requested sink cannot be constructed the daemon runs capture-only behind
// an unavailableSink.
func NewBrightnessSink(cfg SinkConfig, logger *slog.Logger) BrightnessSink {
	kind := strings.ToLower(strings.TrimSpace(cfg.Kind))
	if kind == "" {
		kind = SinkKindAuto
	}

	if kind == SinkKindNone {
		logger.Info("brightness sink disabled (capture only)")
		return noneSink{}
	}

	s, err := openPlatformSink(kind, cfg)
	if err != nil {
		logger.Warn("brightness sink unavailable; continuing capture-only", "sink", kind, "error", err)
		return unavailableSink{kind: kind, reason: err}
	}
	logger.Info("brightness sink ready", "sink", s.Name())
	return s
}

// unavailableSink stands in for a sink that failed construction.
type unavailableSink struct {
	kind   string
	reason error
}

func (u unavailableSink) SetBrightness(context.Context, int) error {
	return &SinkError{Sink: u.Name(), Op: "set", Err: u.err()}
}

func (u unavailableSink) Brightness(context.Context) (int, error) {
	return 0, &SinkError{Sink: u.Name(), Op: "get", Err: u.err()}
}

func (u unavailableSink) err() error {
	switch {
	case u.reason == nil:
		return ErrSinkUnavailable
	case errors.Is(u.reason, ErrSinkUnavailable), isPermissionDenied(u.reason):
		return u.reason
	default:
		return fmt.Errorf("%w: %v", ErrSinkUnavailable, u.reason)
	}
}

func (u unavailableSink) Name() string { return "unavailable:" + u.kind }
func (unavailableSink) Close() error   { return nil }

// noneSink accepts every level and does nothing.
type noneSink struct{}

func (noneSink) SetBrightness(context.Context, int) error { return nil }

func (noneSink) Brightness(context.Context) (int, error) {
	return 0, &SinkError{Sink: "none", Op: "get", Err: ErrSinkUnavailable}
}

func (noneSink) Name() string { return SinkKindNone }
func (noneSink) Close() error { return nil }

func errUnsupportedSink(kind, goos string) error {
	return fmt.Errorf("%w: sink %q is not supported on %s", ErrSinkUnavailable, kind, goos)
}
