//go:build linux

package main

// openPlatformSink resolves brightness.sink on Linux.
func openPlatformSink(kind string, cfg SinkConfig) (BrightnessSink, error) {
	switch kind {
	case SinkKindAuto, SinkKindSysfs:
		s, err := newSysfsSink(cfg.SysfsRoot, cfg.SysfsDevice)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errUnsupportedSink(kind, "linux")
	}
}
