package main

import "math"

// ============================================================================
// Brightness smoother
// ============================================================================
//
// Pure functions only. The reducer owns BrightnessState inside DaemonState and
// steps it once per sampled frame.
//
// Mapping:
//   target  = clamp(0, 100, round(luminance / max(1, threshold) * 100))
//   current = target                                   (first sample, or smoothing off)
//   current = (1-alpha)*current + alpha*target         (otherwise)
//
// ============================================================================

// SmoothingConfig is the per-session smoothing setting.
// Alpha is snapshotted when a session starts and stays fixed until Stop/Reset.
type SmoothingConfig struct {
	Enabled bool
	Alpha   float64
}

// BrightnessState is the smoothed brightness carried between ticks.
type BrightnessState struct {
	Current     float64 // 0..100
	Initialized bool    // false until the first sample of a session
}

// TargetBrightness maps a luminance value to a brightness percentage.
// Thresholds below 1 are treated as 1.
func TargetBrightness(luminance float64, threshold int) int {
	t := threshold
	if t < 1 {
		t = 1
	}
	if math.IsNaN(luminance) || luminance <= 0 {
		return minBrightness
	}
	v := math.Round(luminance / float64(t) * 100)
	if v > maxBrightness {
		return maxBrightness
	}
	return int(v)
}

// StepBrightness integrates one luminance sample into the smoothed state.
// It returns the next state and the unsmoothed target for this sample.
func StepBrightness(s BrightnessState, luminance float64, threshold int, sm SmoothingConfig) (BrightnessState, int) {
	target := TargetBrightness(luminance, threshold)

	if !s.Initialized || !sm.Enabled {
		return BrightnessState{Current: float64(target), Initialized: true}, target
	}

	alpha := sm.Alpha
	if alpha <= 0 || alpha > 1 {
		alpha = defaultSmoothingFactor
	}

	next := (1-alpha)*s.Current + alpha*float64(target)
	if next < minBrightness {
		next = minBrightness
	}
	if next > maxBrightness {
		next = maxBrightness
	}
	return BrightnessState{Current: next, Initialized: true}, target
}

// OutputLevel converts the smoothed value into the integer level sent to the
// sink, limited to [lo, hi].
func OutputLevel(current float64, lo, hi int) int {
	return clampInt(int(math.Round(current)), lo, hi)
}
