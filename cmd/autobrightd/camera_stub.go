//go:build nogocv

package main

import "fmt"

// stubSource is used in builds without OpenCV. Every open fails.
type stubSource struct{}

func newCameraSampler() Sampler {
	return newCaptureSampler(stubSource{})
}

func (stubSource) open(s CameraSettings) error {
	return fmt.Errorf("%w: built without camera support (nogocv)", ErrCameraUnavailable)
}

func (stubSource) readLuminance() (float64, int, int, error) {
	return 0, 0, 0, ErrFrameRead
}

func (stubSource) close() error { return nil }
