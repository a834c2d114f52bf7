package main

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// sinkCallTimeout bounds one SetBrightness call (osascript and DDC/CI can be slow).
const sinkCallTimeout = 2 * time.Second

// Effects is the I/O environment commands run against.
type Effects struct {
	Sampler Sampler
	Sink    BrightnessSink
	Now     func() time.Time
}

func (e Effects) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

// runEffect executes a single reducer-emitted Command against the camera or
// the brightness sink and emits an observation Event via onEvent.
//
// Design rules:
// - This function is allowed to perform I/O.
// - It must never call Reduce() directly; it only emits Events to be reduced by the daemon loop.
// - Every camera command produces exactly one observation so the reducer can advance.
func runEffect(
	ctx context.Context,
	env Effects,
	cmd Command,
	logger *slog.Logger,
	onEvent func(Event),
) {
	if onEvent == nil {
		// No place to report observations/errors; nothing sensible to do.
		return
	}

	switch c := cmd.(type) {
	case CmdOpenCamera:
		if env.Sampler == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoSampler{}, At: env.now()})
			return
		}
		if err := env.Sampler.Open(ctx, c.Settings); err != nil {
			logger.Debug("camera open failed", "error", err, "device", c.Settings.DeviceIndex)
			onEvent(CameraOpenFailed{Session: c.Session, Err: err, At: env.now()})
			return
		}
		logger.Debug("camera opened",
			"session", c.Session,
			"device", c.Settings.DeviceIndex,
			"exposure", c.Settings.Exposure,
			"fps", c.Settings.FPS)
		onEvent(CameraOpened{Session: c.Session, At: env.now()})

	case CmdSampleFrame:
		if env.Sampler == nil {
			onEvent(CommandFailed{Command: cmd, Err: errNoSampler{}, At: env.now()})
			return
		}
		timeout := c.Timeout
		if timeout <= 0 {
			timeout = maxFrameReadTimeout
		}
		readCtx, cancel := context.WithTimeout(ctx, timeout)
		sample, err := env.Sampler.Sample(readCtx)
		cancel()
		if err != nil {
			if !isCaptureFailure(err) {
				err = fmt.Errorf("%w: %v", ErrFrameRead, err)
			}
			logger.Debug("frame read failed", "session", c.Session, "error", err)
			onEvent(FrameCaptureFailed{Session: c.Session, Err: err, At: env.now()})
			return
		}
		if sample.At.IsZero() {
			sample.At = env.now()
		}
		onEvent(FrameSampled{Session: c.Session, Sample: sample})

	case CmdSetBrightness:
		if env.Sink == nil {
			onEvent(BrightnessFailed{Session: c.Session, Level: c.Level, Err: ErrSinkUnavailable, At: env.now()})
			return
		}
		setCtx, cancel := context.WithTimeout(ctx, sinkCallTimeout)
		err := env.Sink.SetBrightness(setCtx, c.Level)
		cancel()
		if err != nil {
			// Logged at debug: the reducer turns the first failure of an episode into a notification.
			logger.Debug("set brightness failed", "sink", env.Sink.Name(), "level", c.Level, "error", err)
			onEvent(BrightnessFailed{Session: c.Session, Level: c.Level, Err: err, At: env.now()})
			return
		}
		onEvent(BrightnessApplied{Session: c.Session, Level: c.Level, At: env.now()})

	case CmdCloseCamera:
		var err error
		if env.Sampler != nil {
			err = env.Sampler.Close()
		}
		if err != nil {
			logger.Warn("camera release failed", "session", c.Session, "error", err)
		}
		onEvent(CameraReleased{Session: c.Session, Err: err, At: env.now()})

	case CmdPublishStateSnapshot:
		// Deliver reducer-produced snapshot to the requester.
		if c.Reply == nil {
			logger.Warn("state snapshot requested with nil reply channel")
			return
		}

		// Never block the effects worker indefinitely.
		select {
		case c.Reply <- c.Snapshot:
			// delivered
		default:
			logger.Warn("state snapshot reply channel not ready; dropping snapshot")
		}

	default:
		logger.Warn("unknown command type", "command", cmd.String())
		onEvent(CommandFailed{
			Command: cmd,
			Err:     errUnknownCommand{cmd: cmd},
			At:      env.now(),
		})
	}
}
