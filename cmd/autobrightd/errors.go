package main

import (
	"errors"
	"fmt"
)

// Failure taxonomy shared by the sampler, the sinks and the reducer.
//
// Sampler errors end the session; sink errors never do.
var (
	ErrCameraUnavailable    = errors.New("camera unavailable")
	ErrFrameRead            = errors.New("frame read failed")
	ErrFrameTimeout         = errors.New("frame read timed out")
	ErrSinkUnavailable      = errors.New("brightness sink unavailable")
	ErrSinkPermissionDenied = errors.New("brightness sink permission denied")
)

// SinkError is returned by brightness sinks for per-call failures.
type SinkError struct {
	Sink string // sink name, e.g. "sysfs:intel_backlight"
	Op   string // "set" or "get"
	Err  error
}

func (e *SinkError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Sink, e.Op, e.Err)
}

func (e *SinkError) Unwrap() error { return e.Err }

// isPermissionDenied reports whether err is a sink permission failure.
func isPermissionDenied(err error) bool {
	return errors.Is(err, ErrSinkPermissionDenied)
}

// isCaptureFailure reports whether err means the camera stopped delivering frames.
func isCaptureFailure(err error) bool {
	return errors.Is(err, ErrFrameRead) || errors.Is(err, ErrFrameTimeout) || errors.Is(err, ErrCameraUnavailable)
}

// errNoSampler indicates the daemon was asked to sample without a camera backend.
type errNoSampler struct{}

func (errNoSampler) Error() string { return "no camera sampler" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
