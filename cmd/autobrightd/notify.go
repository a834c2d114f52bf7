package main

import (
	"log/slog"
	"time"
)

// ============================================================================
// Notifications
// ============================================================================
//
// The reducer emits Notifications alongside Commands. They carry no behavior;
// the daemon hands them to a Notifier which fans out to the log, the state
// WebSocket and MQTT. Failure notifications are edge-triggered by the reducer,
// so consumers can surface every one of them.
// ============================================================================

// Notification is a reducer-emitted event for observers.
type Notification interface {
	notificationMarker()
}

// Notification kinds as they appear on the wire.
const (
	kindStarted         = "started"
	kindStopped         = "stopped"
	kindCameraError     = "camera_error"
	kindCaptureFailure  = "capture_failure"
	kindPermissionError = "permission_error"
	kindSinkError       = "sink_error"
	kindSinkRecovered   = "sink_recovered"
	kindFrame           = "frame"
	kindParamsChanged   = "params_changed"
)

const permissionGuidance = "grant the daemon permission to change display brightness " +
	"(Linux: udev rule or video group for /sys/class/backlight; macOS: Accessibility access for the launching app)"

type NotifyStarted struct {
	Session int       `json:"session"`
	At      time.Time `json:"-"`
}

type NotifyStopped struct {
	Session int       `json:"session"`
	Reason  string    `json:"reason"`
	At      time.Time `json:"-"`
}

type NotifyCameraError struct {
	Session int       `json:"session"`
	Error   string    `json:"error"`
	At      time.Time `json:"-"`
}

type NotifyCaptureFailure struct {
	Session int       `json:"session"`
	Error   string    `json:"error"`
	At      time.Time `json:"-"`
}

type NotifyPermissionError struct {
	Error    string    `json:"error"`
	Guidance string    `json:"guidance"`
	At       time.Time `json:"-"`
}

type NotifySinkError struct {
	Error string    `json:"error"`
	At    time.Time `json:"-"`
}

type NotifySinkRecovered struct {
	Level int       `json:"level"`
	At    time.Time `json:"-"`
}

// NotifyFrame is emitted once per sampled frame.
type NotifyFrame struct {
	Session    int       `json:"session"`
	Frame      int       `json:"frame"`
	Luminance  float64   `json:"luminance"`
	Target     int       `json:"target"`
	Brightness int       `json:"brightness"`
	At         time.Time `json:"-"`
}

type NotifyParamsChanged struct {
	Params StateSnapshot `json:"params"`
	At     time.Time     `json:"-"`
}

func (NotifyStarted) notificationMarker()         {}
func (NotifyStopped) notificationMarker()         {}
func (NotifyCameraError) notificationMarker()     {}
func (NotifyCaptureFailure) notificationMarker()  {}
func (NotifyPermissionError) notificationMarker() {}
func (NotifySinkError) notificationMarker()       {}
func (NotifySinkRecovered) notificationMarker()   {}
func (NotifyFrame) notificationMarker()           {}
func (NotifyParamsChanged) notificationMarker()   {}

// describeNotification returns the wire kind, payload and timestamp.
func describeNotification(n Notification) (kind string, data any, at time.Time, ok bool) {
	switch v := n.(type) {
	case NotifyStarted:
		return kindStarted, v, v.At, true
	case NotifyStopped:
		return kindStopped, v, v.At, true
	case NotifyCameraError:
		return kindCameraError, v, v.At, true
	case NotifyCaptureFailure:
		return kindCaptureFailure, v, v.At, true
	case NotifyPermissionError:
		return kindPermissionError, v, v.At, true
	case NotifySinkError:
		return kindSinkError, v, v.At, true
	case NotifySinkRecovered:
		return kindSinkRecovered, v, v.At, true
	case NotifyFrame:
		return kindFrame, v, v.At, true
	case NotifyParamsChanged:
		return kindParamsChanged, v.Params, v.At, true
	default:
		return "", nil, time.Time{}, false
	}
}

// ============================================================================
// Notifier fan-out
// ============================================================================

// Notifier receives notifications from the daemon goroutine. Notify must not block.
type Notifier interface {
	Notify(n Notification)
}

// NotifierFunc adapts a function to Notifier.
type NotifierFunc func(Notification)

func (f NotifierFunc) Notify(n Notification) { f(n) }

// multiNotifier delivers to every notifier in order.
type multiNotifier []Notifier

func (m multiNotifier) Notify(n Notification) {
	for _, x := range m {
		if x != nil {
			x.Notify(n)
		}
	}
}

// notifyBlockTimeout bounds how long a non-frame notification waits for
// room in a full consumer queue.
const notifyBlockTimeout = 100 * time.Millisecond

// channelNotifier forwards to a buffered channel. Frames are dropped when it
// is full; every other kind waits up to notifyBlockTimeout, since failure and
// lifecycle notifications are edge-triggered and never repeated.
type channelNotifier struct {
	name   string
	ch     chan<- Notification
	logger *slog.Logger
}

func newChannelNotifier(name string, ch chan<- Notification, logger *slog.Logger) channelNotifier {
	return channelNotifier{name: name, ch: ch, logger: logger}
}

func (c channelNotifier) Notify(n Notification) {
	select {
	case c.ch <- n:
		return
	default:
	}

	if _, isFrame := n.(NotifyFrame); isFrame {
		c.logger.Debug("notification queue full, dropping frame", "consumer", c.name)
		return
	}

	timer := time.NewTimer(notifyBlockTimeout)
	defer timer.Stop()
	select {
	case c.ch <- n:
	case <-timer.C:
		c.logger.Warn("notification queue full, dropping", "consumer", c.name, "type", notificationKind(n))
	}
}

func notificationKind(n Notification) string {
	kind, _, _, ok := describeNotification(n)
	if !ok {
		return "unknown"
	}
	return kind
}

// logNotifier writes notifications to the structured log.
type logNotifier struct {
	logger *slog.Logger
}

func (l logNotifier) Notify(n Notification) {
	switch v := n.(type) {
	case NotifyStarted:
		l.logger.Info("capture started", "session", v.Session)
	case NotifyStopped:
		l.logger.Info("capture stopped", "session", v.Session, "reason", v.Reason)
	case NotifyCameraError:
		l.logger.Error("camera could not be opened", "session", v.Session, "error", v.Error)
	case NotifyCaptureFailure:
		l.logger.Error("frame capture failed; stopping", "session", v.Session, "error", v.Error)
	case NotifyPermissionError:
		l.logger.Warn("brightness change not permitted", "error", v.Error, "tip", v.Guidance)
	case NotifySinkError:
		l.logger.Warn("brightness sink error; capture continues", "error", v.Error)
	case NotifySinkRecovered:
		l.logger.Info("brightness sink recovered", "level", v.Level)
	case NotifyFrame:
		l.logger.Debug("frame",
			"session", v.Session,
			"frame", v.Frame,
			"luminance", v.Luminance,
			"target", v.Target,
			"brightness", v.Brightness)
	case NotifyParamsChanged:
		l.logger.Info("parameters changed",
			"threshold", v.Params.Threshold,
			"exposure", v.Params.Exposure,
			"smoothing", v.Params.SmoothingEnabled,
			"smoothing_factor", v.Params.SmoothingFactor,
			"fps", v.Params.FPS,
			"dispatch_every", v.Params.DispatchEvery,
			"min_brightness", v.Params.MinBrightness,
			"max_brightness", v.Params.MaxBrightness)
	}
}
