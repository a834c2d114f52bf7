package main

import (
	"time"
)

// This file implements the reducer of the control loop:
//
//   - Events: inputs (actions, ticks, observations from effects)
//   - Commands: camera and sink I/O requested by the reducer
//   - Notifications: lifecycle/failure/frame events for observers
//
// The reducer performs no I/O and never blocks. The daemon loop executes the
// Commands and feeds their outcome back as observation Events.
//
// Session lifecycle:
//
//   Stopped --Start--> Starting --CameraOpened--> Running
//      ^                   |                         |
//      |            CameraOpenFailed        Stop / capture failure
//      |                   v                         v
//      +------------------ Stopped <--CameraReleased-- Stopping

// ReduceResult is the output of Reduce.
type ReduceResult struct {
	State         *DaemonState
	Commands      []Command
	Notifications []Notification
}

type reduction struct {
	s     *DaemonState
	cmds  []Command
	notes []Notification
}

func (r *reduction) emit(c Command)       { r.cmds = append(r.cmds, c) }
func (r *reduction) notify(n Notification) { r.notes = append(r.notes, n) }

// Reduce computes the next state plus the commands and notifications it implies.
//
// Rules:
// - Must not perform I/O
// - Must not block
// - Only the returned state is mutated
func Reduce(s *DaemonState, e Event) ReduceResult {
	if s == nil {
		s = NewDaemonState(DefaultControlParams())
	}
	r := &reduction{s: s}

	at := time.Time{}
	if te, ok := e.(TimedEvent); ok {
		e, at = te.Event, te.At
	}
	if at.IsZero() {
		at = time.Now()
	}

	switch ev := e.(type) {
	case Tick:
		if s.Phase == PhaseRunning {
			r.emit(CmdSampleFrame{Session: s.SessionID, Timeout: s.Params.FrameReadTimeout()})
		}

	// Actions

	case StartCapture:
		switch s.Phase {
		case PhaseStopped:
			r.startSession(at)
		case PhaseStopping:
			// Start once the camera is released.
			s.PendingRestart = true
		default:
			// Already starting or running: a second camera handle is never opened.
		}

	case StopCapture:
		r.stopSession("requested")

	case ResetCapture:
		if s.Phase == PhaseStopped {
			r.startSession(at)
			break
		}
		r.stopSession("reset")
		s.PendingRestart = true

	case SetThreshold:
		s.Params.Threshold = ev.Threshold
		r.paramsChanged(at)

	case SetExposure:
		s.Params.Exposure = ev.Exposure
		r.paramsChanged(at)

	case SetSmoothing:
		s.Params.SmoothingEnabled = ev.Enabled
		if ev.Factor != 0 {
			s.Params.SmoothingFactor = ev.Factor
		}
		// Enabling/disabling is live; the factor stays fixed for the session.
		s.Session.Smoothing.Enabled = ev.Enabled
		r.paramsChanged(at)

	case SetFPS:
		s.Params.FPS = ev.FPS
		r.paramsChanged(at)

	case SetDispatchEvery:
		s.Params.DispatchEvery = ev.Frames
		r.paramsChanged(at)

	case SetBrightnessRange:
		s.Params.MinBrightness = ev.Min
		s.Params.MaxBrightness = ev.Max
		r.paramsChanged(at)

	case RequestStateSnapshot:
		r.emit(CmdPublishStateSnapshot{Reply: ev.Reply, Snapshot: s.Snapshot(at)})

	// Observations

	case CameraOpened:
		if ev.Session != s.SessionID || s.Phase != PhaseStarting {
			break
		}
		s.Phase = PhaseRunning
		s.Session.StartedAt = ev.At
		r.notify(NotifyStarted{Session: ev.Session, At: ev.At})

	case CameraOpenFailed:
		if ev.Session != s.SessionID || s.Phase != PhaseStarting {
			break
		}
		s.Phase = PhaseStopped
		s.PendingRestart = false
		r.notify(NotifyCameraError{Session: ev.Session, Error: errString(ev.Err), At: ev.At})

	case FrameSampled:
		if ev.Session != s.SessionID || s.Phase != PhaseRunning {
			break
		}
		r.frameSampled(ev.Sample)

	case FrameCaptureFailed:
		if ev.Session != s.SessionID || s.Phase != PhaseRunning {
			// Later failures of a session that is already stopping are ignored.
			break
		}
		if !s.Session.CaptureFailureShown {
			s.Session.CaptureFailureShown = true
			r.notify(NotifyCaptureFailure{Session: ev.Session, Error: errString(ev.Err), At: ev.At})
		}
		r.stopSession("capture_failure")

	case BrightnessApplied:
		recovered := s.Sink.Fault != sinkFaultNone
		s.Sink.LastApplied = ev.Level
		s.Sink.AppliedKnown = true
		s.Sink.AppliedAt = ev.At
		s.Sink.Fault = sinkFaultNone
		s.Sink.RetryAt = time.Time{}
		if recovered {
			r.notify(NotifySinkRecovered{Level: ev.Level, At: ev.At})
		}

	case BrightnessFailed:
		kind := sinkFaultOther
		if isPermissionDenied(ev.Err) {
			kind = sinkFaultPermission
		}
		s.Sink.AppliedKnown = false
		s.Sink.RetryAt = ev.At.Add(s.Params.SinkRetry)
		if s.Sink.Fault == kind {
			break
		}
		s.Sink.Fault = kind
		s.Sink.FaultAt = ev.At
		if kind == sinkFaultPermission {
			r.notify(NotifyPermissionError{Error: errString(ev.Err), Guidance: permissionGuidance, At: ev.At})
		} else {
			r.notify(NotifySinkError{Error: errString(ev.Err), At: ev.At})
		}

	case CameraReleased:
		if s.Phase != PhaseStopping || ev.Session != s.SessionID {
			break
		}
		s.Phase = PhaseStopped
		r.notify(NotifyStopped{Session: ev.Session, Reason: s.StopReason, At: ev.At})
		s.StopReason = ""
		if s.PendingRestart {
			s.PendingRestart = false
			r.startSession(ev.At)
		}

	case CommandFailed:
		// Effects could not run the command at all; treat like the matching failure.
		switch c := ev.Command.(type) {
		case CmdOpenCamera:
			return reduceInto(r, CameraOpenFailed{Session: c.Session, Err: ev.Err, At: ev.At})
		case CmdSampleFrame:
			return reduceInto(r, FrameCaptureFailed{Session: c.Session, Err: ev.Err, At: ev.At})
		case CmdSetBrightness:
			return reduceInto(r, BrightnessFailed{Session: c.Session, Level: c.Level, Err: ev.Err, At: ev.At})
		case CmdCloseCamera:
			return reduceInto(r, CameraReleased{Session: c.Session, Err: ev.Err, At: ev.At})
		}

	default:
		// Unknown event type: no-op.
	}

	return r.result()
}

func reduceInto(r *reduction, e Event) ReduceResult {
	rr := Reduce(r.s, e)
	rr.Commands = append(r.cmds, rr.Commands...)
	rr.Notifications = append(r.notes, rr.Notifications...)
	return rr
}

func (r *reduction) result() ReduceResult {
	return ReduceResult{State: r.s, Commands: r.cmds, Notifications: r.notes}
}

// startSession enters Starting with fresh per-session state.
func (r *reduction) startSession(at time.Time) {
	s := r.s
	s.SessionID++
	s.Phase = PhaseStarting
	s.PendingRestart = false
	s.StopReason = ""
	s.Session = SessionState{
		Smoothing: SmoothingConfig{
			Enabled: s.Params.SmoothingEnabled,
			Alpha:   s.Params.SmoothingFactor,
		},
	}
	r.emit(CmdOpenCamera{Session: s.SessionID, Settings: s.Params.CameraSettings()})
}

// stopSession releases the camera unconditionally and clears per-session fields.
func (r *reduction) stopSession(reason string) {
	s := r.s
	s.PendingRestart = false
	if s.Phase != PhaseStopped && s.Phase != PhaseStopping {
		s.Phase = PhaseStopping
		s.StopReason = reason
	}
	shown := s.Session.CaptureFailureShown
	s.Session = SessionState{CaptureFailureShown: shown && reason == "capture_failure"}
	// A new session reports sink faults afresh; the last accepted level is kept.
	s.Sink.Fault = sinkFaultNone
	s.Sink.FaultAt = time.Time{}
	s.Sink.RetryAt = time.Time{}
	r.emit(CmdCloseCamera{Session: s.SessionID})
}

// frameSampled runs the smoother and decides whether to dispatch.
func (r *reduction) frameSampled(sample LuminanceSample) {
	s := r.s
	p := s.Params

	s.Session.FrameCount++
	next, target := StepBrightness(s.Session.Brightness, sample.Luminance, p.Threshold, s.Session.Smoothing)
	s.Session.Brightness = next
	level := OutputLevel(next.Current, p.MinBrightness, p.MaxBrightness)

	at := sample.At
	s.Last = LastFrame{Known: true, Luminance: sample.Luminance, Target: target, Brightness: level, At: at}
	r.notify(NotifyFrame{
		Session:    s.SessionID,
		Frame:      s.Session.FrameCount,
		Luminance:  sample.Luminance,
		Target:     target,
		Brightness: level,
		At:         at,
	})

	if (s.Session.FrameCount-1)%p.DispatchEvery != 0 {
		return
	}
	if s.Sink.Fault != sinkFaultNone {
		if at.Before(s.Sink.RetryAt) {
			return
		}
	} else if s.Sink.AppliedKnown && s.Sink.LastApplied == level {
		return
	}
	r.emit(CmdSetBrightness{Session: s.SessionID, Level: level})
}

// paramsChanged normalizes params and announces them.
func (r *reduction) paramsChanged(at time.Time) {
	r.s.Params = r.s.Params.Normalize()
	r.notify(NotifyParamsChanged{Params: r.s.Snapshot(at), At: at})
}

func errString(err error) string {
	if err == nil {
		return "unknown error"
	}
	return err.Error()
}
