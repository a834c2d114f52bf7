//go:build darwin

package main

// openPlatformSink resolves brightness.sink on macOS.
func openPlatformSink(kind string, cfg SinkConfig) (BrightnessSink, error) {
	switch kind {
	case SinkKindAuto, SinkKindOsascript:
		s, err := newOsascriptSink(cfg.OsascriptPath, cfg.Display, nil)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errUnsupportedSink(kind, "darwin")
	}
}
