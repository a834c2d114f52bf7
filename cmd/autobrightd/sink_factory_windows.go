//go:build windows

package main

// openPlatformSink resolves brightness.sink on Windows.
func openPlatformSink(kind string, cfg SinkConfig) (BrightnessSink, error) {
	switch kind {
	case SinkKindAuto, SinkKindDXVA2:
		s, err := newDXVA2Sink(cfg.Monitor)
		if err != nil {
			return nil, err
		}
		return s, nil
	default:
		return nil, errUnsupportedSink(kind, "windows")
	}
}
