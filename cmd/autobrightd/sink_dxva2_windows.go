//go:build windows

package main

import (
	"context"
	"errors"
	"fmt"
	"math"
	"sync"
	"unsafe"

	"golang.org/x/sys/windows"
)

// DDC/CI brightness through the Monitor Configuration API (dxva2.dll).

var (
	moduser32 = windows.NewLazySystemDLL("user32.dll")
	moddxva2  = windows.NewLazySystemDLL("dxva2.dll")

	procGetDesktopWindow  = moduser32.NewProc("GetDesktopWindow")
	procMonitorFromWindow = moduser32.NewProc("MonitorFromWindow")

	procGetNumberOfPhysicalMonitorsFromHMONITOR = moddxva2.NewProc("GetNumberOfPhysicalMonitorsFromHMONITOR")
	procGetPhysicalMonitorsFromHMONITOR         = moddxva2.NewProc("GetPhysicalMonitorsFromHMONITOR")
	procDestroyPhysicalMonitors                 = moddxva2.NewProc("DestroyPhysicalMonitors")
	procGetMonitorBrightness                    = moddxva2.NewProc("GetMonitorBrightness")
	procSetMonitorBrightness                    = moddxva2.NewProc("SetMonitorBrightness")
)

const monitorDefaultToPrimary = 0x00000001

type physicalMonitor struct {
	handle      windows.Handle
	description [128]uint16
}

type dxva2Sink struct {
	mu       sync.Mutex
	monitors []physicalMonitor
	handle   windows.Handle
	name     string
	min, max uint32
}

func newDXVA2Sink(index int) (*dxva2Sink, error) {
	if err := moddxva2.Load(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrSinkUnavailable, err)
	}

	hwnd, _, _ := procGetDesktopWindow.Call()
	hmon, _, _ := procMonitorFromWindow.Call(hwnd, monitorDefaultToPrimary)
	if hmon == 0 {
		return nil, fmt.Errorf("%w: no primary monitor", ErrSinkUnavailable)
	}

	var count uint32
	if r, _, e := procGetNumberOfPhysicalMonitorsFromHMONITOR.Call(hmon, uintptr(unsafe.Pointer(&count))); r == 0 {
		return nil, fmt.Errorf("%w: count physical monitors: %v", ErrSinkUnavailable, e)
	}
	if count == 0 {
		return nil, fmt.Errorf("%w: no physical monitors", ErrSinkUnavailable)
	}

	monitors := make([]physicalMonitor, count)
	if r, _, e := procGetPhysicalMonitorsFromHMONITOR.Call(hmon, uintptr(count), uintptr(unsafe.Pointer(&monitors[0]))); r == 0 {
		return nil, fmt.Errorf("%w: get physical monitors: %v", ErrSinkUnavailable, e)
	}

	if index < 0 || index >= len(monitors) {
		destroyPhysicalMonitors(monitors)
		return nil, fmt.Errorf("%w: monitor %d out of range (have %d)", ErrSinkUnavailable, index, len(monitors))
	}

	s := &dxva2Sink{
		monitors: monitors,
		handle:   monitors[index].handle,
		name:     "dxva2:" + windows.UTF16ToString(monitors[index].description[:]),
	}

	var lo, cur, hi uint32
	r, _, e := procGetMonitorBrightness.Call(uintptr(s.handle),
		uintptr(unsafe.Pointer(&lo)), uintptr(unsafe.Pointer(&cur)), uintptr(unsafe.Pointer(&hi)))
	if r == 0 {
		destroyPhysicalMonitors(monitors)
		return nil, fmt.Errorf("%w: monitor does not support DDC/CI brightness: %v", ErrSinkUnavailable, e)
	}
	if hi <= lo {
		lo, hi = 0, 100
	}
	s.min, s.max = lo, hi
	return s, nil
}

func (s *dxva2Sink) Name() string { return s.name }

func (s *dxva2Sink) SetBrightness(ctx context.Context, level int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == 0 {
		return &SinkError{Sink: s.name, Op: "set", Err: ErrSinkUnavailable}
	}

	level = clampInt(level, minBrightness, maxBrightness)
	raw := s.min + uint32(math.Round(float64(level)*float64(s.max-s.min)/maxBrightness))
	if r, _, e := procSetMonitorBrightness.Call(uintptr(s.handle), uintptr(raw)); r == 0 {
		return &SinkError{Sink: s.name, Op: "set", Err: classifyWindowsError(e)}
	}
	return nil
}

func (s *dxva2Sink) Brightness(ctx context.Context) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.handle == 0 {
		return 0, &SinkError{Sink: s.name, Op: "get", Err: ErrSinkUnavailable}
	}

	var lo, cur, hi uint32
	r, _, e := procGetMonitorBrightness.Call(uintptr(s.handle),
		uintptr(unsafe.Pointer(&lo)), uintptr(unsafe.Pointer(&cur)), uintptr(unsafe.Pointer(&hi)))
	if r == 0 {
		return 0, &SinkError{Sink: s.name, Op: "get", Err: classifyWindowsError(e)}
	}
	if hi <= lo {
		return clampInt(int(cur), minBrightness, maxBrightness), nil
	}
	return clampInt(int(math.Round(float64(cur-lo)*maxBrightness/float64(hi-lo))), minBrightness, maxBrightness), nil
}

func (s *dxva2Sink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.monitors != nil {
		destroyPhysicalMonitors(s.monitors)
		s.monitors = nil
		s.handle = 0
	}
	return nil
}

func destroyPhysicalMonitors(m []physicalMonitor) {
	if len(m) == 0 {
		return
	}
	_, _, _ = procDestroyPhysicalMonitors.Call(uintptr(len(m)), uintptr(unsafe.Pointer(&m[0])))
}

func classifyWindowsError(err error) error {
	if errors.Is(err, windows.ERROR_ACCESS_DENIED) {
		return fmt.Errorf("%w: %v", ErrSinkPermissionDenied, err)
	}
	return err
}
