//go:build !nogocv

package main

import (
	"fmt"

	"gocv.io/x/gocv"
)

// V4L2 backend value for manual exposure. 0.75 selects aperture priority.
const cameraManualExposureMode = 0.25

// gocvSource reads frames through OpenCV.
// Mats are allocated once per session and reused for every frame.
type gocvSource struct {
	cap   *gocv.VideoCapture
	frame gocv.Mat
	gray  gocv.Mat
}

// newCameraSampler returns the production camera sampler.
func newCameraSampler() Sampler {
	return newCaptureSampler(&gocvSource{})
}

func (g *gocvSource) open(s CameraSettings) error {
	vc, err := gocv.VideoCaptureDevice(s.DeviceIndex)
	if err != nil {
		return fmt.Errorf("%w: device %d: %v", ErrCameraUnavailable, s.DeviceIndex, err)
	}
	if !vc.IsOpened() {
		_ = vc.Close()
		return fmt.Errorf("%w: device %d did not open", ErrCameraUnavailable, s.DeviceIndex)
	}

	vc.Set(gocv.VideoCaptureAutoExposure, cameraManualExposureMode)
	vc.Set(gocv.VideoCaptureExposure, float64(s.Exposure))
	if s.FPS > 0 {
		vc.Set(gocv.VideoCaptureFPS, float64(s.FPS))
	}

	g.cap = vc
	g.frame = gocv.NewMat()
	g.gray = gocv.NewMat()
	return nil
}

func (g *gocvSource) readLuminance() (float64, int, int, error) {
	if g.cap == nil {
		return 0, 0, 0, fmt.Errorf("%w: camera not open", ErrCameraUnavailable)
	}
	if ok := g.cap.Read(&g.frame); !ok || g.frame.Empty() {
		return 0, 0, 0, ErrFrameRead
	}

	src := g.frame
	if g.frame.Channels() > 1 {
		gocv.CvtColor(g.frame, &g.gray, gocv.ColorBGRToGray)
		src = g.gray
	}
	return src.Mean().Val1, src.Cols(), src.Rows(), nil
}

func (g *gocvSource) close() error {
	if g.cap == nil {
		return nil
	}
	err := g.cap.Close()
	_ = g.frame.Close()
	_ = g.gray.Close()
	g.cap = nil
	if err != nil {
		return fmt.Errorf("release camera: %w", err)
	}
	return nil
}
