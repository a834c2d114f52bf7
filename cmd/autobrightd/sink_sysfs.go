//go:build linux

package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"golang.org/x/sys/unix"
)

const defaultSysfsBacklightRoot = "/sys/class/backlight"

// sysfsSink drives a kernel backlight device:
//
//	<root>/<device>/max_brightness     raw maximum
//	<root>/<device>/brightness         raw level (write)
//	<root>/<device>/actual_brightness  raw level as applied by the driver (read)
//
// Levels are scaled from 0..100 to 0..max_brightness.
type sysfsSink struct {
	dir    string
	device string
	maxRaw int
}

func newSysfsSink(root, device string) (*sysfsSink, error) {
	if root == "" {
		root = defaultSysfsBacklightRoot
	}

	if device == "" {
		entries, err := os.ReadDir(root)
		if err != nil {
			return nil, fmt.Errorf("%w: list %s: %v", ErrSinkUnavailable, root, err)
		}
		// ReadDir sorts by name; the first device wins.
		if len(entries) == 0 {
			return nil, fmt.Errorf("%w: no backlight devices under %s", ErrSinkUnavailable, root)
		}
		device = entries[0].Name()
	}

	dir := filepath.Join(root, device)
	maxRaw, err := readSysfsInt(filepath.Join(dir, "max_brightness"))
	if err != nil {
		return nil, fmt.Errorf("%w: %s: %v", ErrSinkUnavailable, device, err)
	}
	if maxRaw <= 0 {
		return nil, fmt.Errorf("%w: %s: max_brightness is %d", ErrSinkUnavailable, device, maxRaw)
	}

	return &sysfsSink{dir: dir, device: device, maxRaw: maxRaw}, nil
}

func (s *sysfsSink) Name() string { return "sysfs:" + s.device }

func (s *sysfsSink) SetBrightness(ctx context.Context, level int) error {
	if err := ctx.Err(); err != nil {
		return &SinkError{Sink: s.Name(), Op: "set", Err: err}
	}
	level = clampInt(level, minBrightness, maxBrightness)
	raw := int(math.Round(float64(level) * float64(s.maxRaw) / maxBrightness))

	f, err := os.OpenFile(filepath.Join(s.dir, "brightness"), os.O_WRONLY|os.O_TRUNC, 0)
	if err != nil {
		return &SinkError{Sink: s.Name(), Op: "set", Err: classifySysfsError(err)}
	}
	_, werr := f.WriteString(strconv.Itoa(raw))
	cerr := f.Close()
	if werr == nil {
		werr = cerr
	}
	if werr != nil {
		return &SinkError{Sink: s.Name(), Op: "set", Err: classifySysfsError(werr)}
	}
	return nil
}

func (s *sysfsSink) Brightness(ctx context.Context) (int, error) {
	raw, err := readSysfsInt(filepath.Join(s.dir, "actual_brightness"))
	if errors.Is(err, fs.ErrNotExist) {
		raw, err = readSysfsInt(filepath.Join(s.dir, "brightness"))
	}
	if err != nil {
		return 0, &SinkError{Sink: s.Name(), Op: "get", Err: classifySysfsError(err)}
	}
	return clampInt(int(math.Round(float64(raw)*maxBrightness/float64(s.maxRaw))), minBrightness, maxBrightness), nil
}

// Probe checks write access to the brightness attribute without changing it.
func (s *sysfsSink) Probe(ctx context.Context) error {
	if err := unix.Access(filepath.Join(s.dir, "brightness"), unix.W_OK); err != nil {
		return &SinkError{Sink: s.Name(), Op: "probe", Err: classifySysfsError(err)}
	}
	return nil
}

func (s *sysfsSink) Close() error { return nil }

// classifySysfsError maps EACCES/EPERM to ErrSinkPermissionDenied.
func classifySysfsError(err error) error {
	if errors.Is(err, unix.EACCES) || errors.Is(err, unix.EPERM) || errors.Is(err, fs.ErrPermission) {
		return fmt.Errorf("%w: %v (add a udev rule or join the video group)", ErrSinkPermissionDenied, err)
	}
	return err
}

func readSysfsInt(path string) (int, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return 0, err
	}
	v, err := strconv.Atoi(strings.TrimSpace(string(b)))
	if err != nil {
		return 0, fmt.Errorf("parse %s: %w", path, err)
	}
	return v, nil
}
