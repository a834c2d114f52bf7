package main

import (
	"encoding/json"
	"fmt"
	"time"
)

// ============================================================================
// Events
// ============================================================================
//
// Everything the reducer consumes is an Event:
//   - Actions: user intent from IPC, MQTT or startup (start/stop/reset/params)
//   - Tick: the sampling cadence
//   - Observations: results of commands executed by the effects layer
//
// Actions are plain payload types; the daemon wraps them in TimedEvent so the
// reducer sees a timestamp without the wire types carrying one.
// ============================================================================

// Event is the input to the reducer.
type Event interface {
	eventMarker()
}

// TimedEvent attaches the receive time to an event from outside the loop.
type TimedEvent struct {
	Event Event
	At    time.Time
}

func (TimedEvent) eventMarker() {}

// Tick is emitted by the daemon loop once per sampling interval.
// Dt is the wall-clock delta in seconds since the previous tick.
type Tick struct {
	Now time.Time
	Dt  float64
}

func (Tick) eventMarker() {}

// ============================================================================
// Actions
// ============================================================================

// StartCapture opens the camera and begins sampling.
type StartCapture struct{}

// StopCapture stops sampling and releases the camera.
type StopCapture struct{}

// ResetCapture stops and immediately restarts with the current parameters.
// The smoothed brightness is not carried over.
type ResetCapture struct{}

// SetThreshold changes the luminance that maps to 100% brightness.
type SetThreshold struct {
	Threshold int `json:"threshold"`
}

// SetExposure stores a new camera exposure. It takes effect on the next
// start or reset.
type SetExposure struct {
	Exposure int `json:"exposure"`
}

// SetSmoothing toggles exponential smoothing. Factor 0 keeps the current
// factor; a new factor is picked up at the next start or reset.
type SetSmoothing struct {
	Enabled bool    `json:"enabled"`
	Factor  float64 `json:"factor,omitempty"`
}

// SetFPS changes the sampling rate.
type SetFPS struct {
	FPS int `json:"fps"`
}

// SetDispatchEvery changes how many frames pass between sink dispatches.
type SetDispatchEvery struct {
	Frames int `json:"frames"`
}

// SetBrightnessRange limits the dispatched level.
type SetBrightnessRange struct {
	Min int `json:"min"`
	Max int `json:"max"`
}

func (StartCapture) eventMarker()       {}
func (StopCapture) eventMarker()        {}
func (ResetCapture) eventMarker()       {}
func (SetThreshold) eventMarker()       {}
func (SetExposure) eventMarker()        {}
func (SetSmoothing) eventMarker()       {}
func (SetFPS) eventMarker()             {}
func (SetDispatchEvery) eventMarker()   {}
func (SetBrightnessRange) eventMarker() {}

// RequestStateSnapshot asks the daemon loop for a copy of its state.
// The reply is delivered by the effects layer.
type RequestStateSnapshot struct {
	Reply chan<- StateSnapshot
}

func (RequestStateSnapshot) eventMarker() {}

// ============================================================================
// Observations (emitted by effects)
// ============================================================================

// CameraOpened reports a successful Sampler.Open.
type CameraOpened struct {
	Session int
	At      time.Time
}

// CameraOpenFailed reports a failed Sampler.Open.
type CameraOpenFailed struct {
	Session int
	Err     error
	At      time.Time
}

// FrameSampled carries one frame's luminance.
type FrameSampled struct {
	Session int
	Sample  LuminanceSample
}

// FrameCaptureFailed reports a failed or timed out frame read.
type FrameCaptureFailed struct {
	Session int
	Err     error
	At      time.Time
}

// BrightnessApplied reports that the sink accepted a level.
type BrightnessApplied struct {
	Session int
	Level   int
	At      time.Time
}

// BrightnessFailed reports a sink failure.
type BrightnessFailed struct {
	Session int
	Level   int
	Err     error
	At      time.Time
}

// CameraReleased reports that Sampler.Close returned.
type CameraReleased struct {
	Session int
	Err     error
	At      time.Time
}

// CommandFailed reports a command the effects layer could not execute at all.
type CommandFailed struct {
	Command Command
	Err     error
	At      time.Time
}

func (CameraOpened) eventMarker()       {}
func (CameraOpenFailed) eventMarker()   {}
func (FrameSampled) eventMarker()       {}
func (FrameCaptureFailed) eventMarker() {}
func (BrightnessApplied) eventMarker()  {}
func (BrightnessFailed) eventMarker()   {}
func (CameraReleased) eventMarker()     {}
func (CommandFailed) eventMarker()      {}

// ============================================================================
// JSON Encoding/Decoding Support
// ============================================================================
// EventEnvelope is the wire format for actions on IPC and MQTT:
//   {"type": "set_threshold", "data": {"threshold": 180}}
// ============================================================================

// EventEnvelope wraps an action with a type discriminator for JSON marshaling
type EventEnvelope struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// envelopeTypeGetState is answered by the IPC server directly with a snapshot.
const envelopeTypeGetState = "get_state"

// UnmarshalEvent deserializes a JSON event envelope into a concrete action.
func UnmarshalEvent(data []byte) (Event, error) {
	var env EventEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("unmarshal envelope: %w", err)
	}

	switch env.Type {
	case "start":
		return StartCapture{}, nil
	case "stop":
		return StopCapture{}, nil
	case "reset":
		return ResetCapture{}, nil

	case "set_threshold":
		var a SetThreshold
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetThreshold: %w", err)
		}
		return a, nil

	case "set_exposure":
		var a SetExposure
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetExposure: %w", err)
		}
		return a, nil

	case "set_smoothing":
		var a SetSmoothing
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetSmoothing: %w", err)
		}
		return a, nil

	case "set_fps":
		var a SetFPS
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetFPS: %w", err)
		}
		return a, nil

	case "set_dispatch_every":
		var a SetDispatchEvery
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetDispatchEvery: %w", err)
		}
		return a, nil

	case "set_brightness_range":
		var a SetBrightnessRange
		if err := unmarshalData(env, &a); err != nil {
			return nil, fmt.Errorf("unmarshal SetBrightnessRange: %w", err)
		}
		return a, nil

	default:
		return nil, fmt.Errorf("unknown event type: %q", env.Type)
	}
}

func unmarshalData(env EventEnvelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Type)
	}
	return json.Unmarshal(env.Data, v)
}

// MarshalEvent serializes an action into a JSON envelope with type discriminator
func MarshalEvent(e Event) ([]byte, error) {
	var env EventEnvelope

	var payload any
	switch a := e.(type) {
	case StartCapture:
		env.Type = "start"
	case StopCapture:
		env.Type = "stop"
	case ResetCapture:
		env.Type = "reset"
	case SetThreshold:
		env.Type, payload = "set_threshold", a
	case SetExposure:
		env.Type, payload = "set_exposure", a
	case SetSmoothing:
		env.Type, payload = "set_smoothing", a
	case SetFPS:
		env.Type, payload = "set_fps", a
	case SetDispatchEvery:
		env.Type, payload = "set_dispatch_every", a
	case SetBrightnessRange:
		env.Type, payload = "set_brightness_range", a
	default:
		return nil, fmt.Errorf("unsupported event type: %T", e)
	}

	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("marshal %T: %w", payload, err)
		}
		env.Data = data
	}

	return json.Marshal(env)
}
