package main

import "time"

// Phase is the capture session lifecycle.
type Phase string

const (
	PhaseStopped  Phase = "stopped"
	PhaseStarting Phase = "starting"
	PhaseRunning  Phase = "running"
	PhaseStopping Phase = "stopping"
)

// DaemonState is the top-level, daemon-owned state container.
//
// Only the daemon goroutine touches it. Other goroutines get a StateSnapshot
// through RequestStateSnapshot.
type DaemonState struct {
	Phase  Phase
	Params ControlParams

	// SessionID increments on every start; observations from an older
	// session are ignored.
	SessionID int
	Session   SessionState

	// PendingRestart starts a new session once the camera is released (Reset).
	PendingRestart bool
	// StopReason is reported in the stopped notification.
	StopReason string

	Last LastFrame
	Sink SinkStatus
}

// SessionState is reset on every start.
type SessionState struct {
	Brightness BrightnessState
	Smoothing  SmoothingConfig // alpha snapshotted at start
	FrameCount int
	StartedAt  time.Time

	// CaptureFailureShown makes the capture_failure notification edge-triggered.
	CaptureFailureShown bool
}

// LastFrame is the most recent frame result, kept for snapshots.
type LastFrame struct {
	Known      bool
	Luminance  float64
	Target     int
	Brightness int
	At         time.Time
}

type sinkFault string

const (
	sinkFaultNone       sinkFault = ""
	sinkFaultPermission sinkFault = "permission_denied"
	sinkFaultOther      sinkFault = "error"
)

// SinkStatus tracks what the sink last accepted and the current failure episode.
type SinkStatus struct {
	LastApplied  int
	AppliedKnown bool
	AppliedAt    time.Time

	Fault   sinkFault
	FaultAt time.Time
	RetryAt time.Time // no dispatch before this while Fault is set
}

// NewDaemonState returns a stopped state with normalized params.
func NewDaemonState(p ControlParams) *DaemonState {
	return &DaemonState{
		Phase:  PhaseStopped,
		Params: p.Normalize(),
	}
}

// StateSnapshot is the externally visible copy of DaemonState.
type StateSnapshot struct {
	Phase   Phase `json:"phase"`
	Session int   `json:"session"`

	Threshold        int     `json:"threshold"`
	Exposure         int     `json:"exposure"`
	SmoothingEnabled bool    `json:"smoothing_enabled"`
	SmoothingFactor  float64 `json:"smoothing_factor"`
	FPS              int     `json:"fps"`
	DispatchEvery    int     `json:"dispatch_every"`
	MinBrightness    int     `json:"min_brightness"`
	MaxBrightness    int     `json:"max_brightness"`

	FrameCount int       `json:"frame_count"`
	FrameKnown bool      `json:"frame_known"`
	Luminance  float64   `json:"luminance"`
	Target     int       `json:"target"`
	Brightness int       `json:"brightness"`
	FrameAt    time.Time `json:"frame_at"`

	LastApplied  int    `json:"last_applied"`
	AppliedKnown bool   `json:"applied_known"`
	SinkFault    string `json:"sink_fault,omitempty"`

	At time.Time `json:"at"`
}

// Snapshot copies the externally visible fields.
func (s *DaemonState) Snapshot(now time.Time) StateSnapshot {
	return StateSnapshot{
		Phase:   s.Phase,
		Session: s.SessionID,

		Threshold:        s.Params.Threshold,
		Exposure:         s.Params.Exposure,
		SmoothingEnabled: s.Params.SmoothingEnabled,
		SmoothingFactor:  s.Params.SmoothingFactor,
		FPS:              s.Params.FPS,
		DispatchEvery:    s.Params.DispatchEvery,
		MinBrightness:    s.Params.MinBrightness,
		MaxBrightness:    s.Params.MaxBrightness,

		FrameCount: s.Session.FrameCount,
		FrameKnown: s.Last.Known,
		Luminance:  s.Last.Luminance,
		Target:     s.Last.Target,
		Brightness: s.Last.Brightness,
		FrameAt:    s.Last.At,

		LastApplied:  s.Sink.LastApplied,
		AppliedKnown: s.Sink.AppliedKnown,
		SinkFault:    string(s.Sink.Fault),

		At: now,
	}
}
