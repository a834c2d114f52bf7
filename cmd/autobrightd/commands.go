package main

import (
	"fmt"
	"time"
)

// ==============================
// Commands (side effects)
// ==============================

// Command represents an external side effect to be executed by the daemon loop:
// camera and brightness sink I/O, or delivering a snapshot to a requester.
type Command interface {
	commandMarker()
	String() string
}

// CmdOpenCamera opens the camera for a new session.
type CmdOpenCamera struct {
	Session  int
	Settings CameraSettings
}

func (CmdOpenCamera) commandMarker() {}
func (c CmdOpenCamera) String() string {
	return fmt.Sprintf("CmdOpenCamera(session=%d device=%d exposure=%d fps=%d)",
		c.Session, c.Settings.DeviceIndex, c.Settings.Exposure, c.Settings.FPS)
}

// CmdSampleFrame reads one frame, bounded by Timeout.
type CmdSampleFrame struct {
	Session int
	Timeout time.Duration
}

func (CmdSampleFrame) commandMarker() {}
func (c CmdSampleFrame) String() string {
	return fmt.Sprintf("CmdSampleFrame(session=%d timeout=%s)", c.Session, c.Timeout)
}

// CmdSetBrightness sends a level (0..100) to the sink.
type CmdSetBrightness struct {
	Session int
	Level   int
}

func (CmdSetBrightness) commandMarker() {}
func (c CmdSetBrightness) String() string {
	return fmt.Sprintf("CmdSetBrightness(session=%d level=%d)", c.Session, c.Level)
}

// CmdCloseCamera releases the camera. Safe when nothing is open.
type CmdCloseCamera struct {
	Session int
}

func (CmdCloseCamera) commandMarker() {}
func (c CmdCloseCamera) String() string {
	return fmt.Sprintf("CmdCloseCamera(session=%d)", c.Session)
}

// CmdPublishStateSnapshot delivers a reducer-produced snapshot to a requester.
type CmdPublishStateSnapshot struct {
	Reply    chan<- StateSnapshot
	Snapshot StateSnapshot
}

func (CmdPublishStateSnapshot) commandMarker() {}
func (CmdPublishStateSnapshot) String() string { return "CmdPublishStateSnapshot()" }
