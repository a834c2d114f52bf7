//go:build !linux && !darwin && !windows

package main

import "runtime"

func openPlatformSink(kind string, cfg SinkConfig) (BrightnessSink, error) {
	return nil, errUnsupportedSink(kind, runtime.GOOS)
}
