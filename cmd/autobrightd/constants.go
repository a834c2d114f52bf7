package main

import "time"

// Camera defaults
const (
	defaultDeviceIndex   = 0
	defaultFPS           = 30
	defaultExposure      = -2
	defaultReadTimeoutMS = 0 // 0 = one tick interval

	minFPS      = 1
	maxFPS      = 120
	minExposure = -13
	maxExposure = 13
)

// Brightness defaults
const (
	defaultThreshold       = 190
	defaultSmoothingFactor = 0.1
	defaultDispatchEvery   = 1
	defaultSinkRetryMS     = 2000

	minThreshold = 1
	maxThreshold = 255

	minBrightness = 0
	maxBrightness = 100
)

// Preview box (UI feedback only)
const (
	defaultPreviewWidth  = 400
	defaultPreviewHeight = 300
)

// Daemon defaults
const (
	defaultIPCSocketPath = "/tmp/autobright.sock"
	defaultStateWSListen = "127.0.0.1:3002"
	defaultMQTTTopic     = "autobright"
	defaultMQTTClientID  = "autobrightd"

	// Hard cap for a frame read when the tick interval is very long.
	maxFrameReadTimeout = 2 * time.Second
)
