package main

import "time"

// ControlParams are the tunables the control loop reads on every tick.
//
// They can be changed at runtime (IPC, MQTT). Values are corrected locally by
// Normalize; an out-of-range value is never reported as an error.
type ControlParams struct {
	Threshold int // reference luminance mapped to 100% brightness

	SmoothingEnabled bool
	SmoothingFactor  float64 // alpha in (0,1]; snapshotted at session start

	Exposure    int // applied when the camera is opened
	DeviceIndex int // applied when the camera is opened
	FPS         int // sampling rate

	// DispatchEvery sends brightness to the sink every N frames. The smoother
	// still runs every frame.
	DispatchEvery int

	// Output range for the dispatched level.
	MinBrightness int
	MaxBrightness int

	SinkRetry   time.Duration // minimum spacing of dispatch attempts after a sink failure
	ReadTimeout time.Duration // 0 = one tick interval
}

// DefaultControlParams mirrors the defaults of DefaultConfig.
func DefaultControlParams() ControlParams {
	return ControlParams{
		Threshold:        defaultThreshold,
		SmoothingEnabled: true,
		SmoothingFactor:  defaultSmoothingFactor,
		Exposure:         defaultExposure,
		DeviceIndex:      defaultDeviceIndex,
		FPS:              defaultFPS,
		DispatchEvery:    defaultDispatchEvery,
		MinBrightness:    minBrightness,
		MaxBrightness:    maxBrightness,
		SinkRetry:        defaultSinkRetryMS * time.Millisecond,
	}
}

// Normalize clamps every field into its valid range.
func (p ControlParams) Normalize() ControlParams {
	p.Threshold = clampInt(p.Threshold, minThreshold, maxThreshold)

	if p.SmoothingFactor <= 0 {
		p.SmoothingFactor = defaultSmoothingFactor
	}
	if p.SmoothingFactor > 1 {
		p.SmoothingFactor = 1
	}

	p.Exposure = clampInt(p.Exposure, minExposure, maxExposure)
	if p.DeviceIndex < 0 {
		p.DeviceIndex = 0
	}
	p.FPS = clampInt(p.FPS, minFPS, maxFPS)
	if p.DispatchEvery < 1 {
		p.DispatchEvery = 1
	}

	p.MinBrightness = clampInt(p.MinBrightness, minBrightness, maxBrightness)
	p.MaxBrightness = clampInt(p.MaxBrightness, minBrightness, maxBrightness)
	if p.MinBrightness > p.MaxBrightness {
		p.MinBrightness, p.MaxBrightness = p.MaxBrightness, p.MinBrightness
	}

	if p.SinkRetry < 0 {
		p.SinkRetry = 0
	}
	if p.ReadTimeout < 0 {
		p.ReadTimeout = 0
	}
	return p
}

// Interval is the tick period derived from FPS.
func (p ControlParams) Interval() time.Duration {
	fps := clampInt(p.FPS, minFPS, maxFPS)
	return time.Second / time.Duration(fps)
}

// FrameReadTimeout bounds a single frame read.
func (p ControlParams) FrameReadTimeout() time.Duration {
	if p.ReadTimeout > 0 {
		return p.ReadTimeout
	}
	d := p.Interval()
	if d > maxFrameReadTimeout {
		d = maxFrameReadTimeout
	}
	return d
}

// CameraSettings returns the open-time camera configuration.
func (p ControlParams) CameraSettings() CameraSettings {
	return CameraSettings{
		DeviceIndex: p.DeviceIndex,
		Exposure:    p.Exposure,
		FPS:         p.FPS,
	}
}

func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
