package main

import (
	"context"
	"log/slog"
	"time"
)

// ============================================================================
// Central Daemon Loop - Reducer-driven control loop
// ============================================================================
//
// Design rules enforced here:
//   - The reducer performs no I/O and computes: next state + commands + notifications.
//   - The daemon loop is the only place that executes side effects (camera, sink).
//   - Effect results are turned into Events and fed back into the reducer.
//   - Effects run synchronously, so a tick never starts while the previous one
//     is still sampling or dispatching.
//
// ============================================================================

// daemon owns the state and the event/command queues.
// step is the unit tests drive directly; runDaemon adds the ticker.
type daemon struct {
	state    *DaemonState
	env      Effects
	notifier Notifier
	logger   *slog.Logger

	// Explicit queues:
	// - eventQueue holds events awaiting reduction
	// - cmdQueue holds commands awaiting execution
	eventQueue []Event
	cmdQueue   []Command
}

func newDaemon(state *DaemonState, env Effects, notifier Notifier, logger *slog.Logger) *daemon {
	if state == nil {
		state = NewDaemonState(DefaultControlParams())
	}
	if notifier == nil {
		notifier = multiNotifier{}
	}
	return &daemon{state: state, env: env, notifier: notifier, logger: logger}
}

// step reduces ev and runs every command it (transitively) produces.
func (d *daemon) step(ctx context.Context, ev Event) {
	d.eventQueue = append(d.eventQueue, ev)
	d.flushEvents()
	d.flushCommands(ctx)
}

// flushEvents reduces all queued events, enqueuing any resulting commands.
func (d *daemon) flushEvents() {
	for len(d.eventQueue) > 0 {
		ev := d.eventQueue[0]
		d.eventQueue = d.eventQueue[1:]

		rr := Reduce(d.state, ev)
		if rr.State != nil {
			d.state = rr.State
		}
		d.cmdQueue = append(d.cmdQueue, rr.Commands...)
		for _, n := range rr.Notifications {
			d.notifier.Notify(n)
		}
	}
}

// flushCommands executes all queued commands, reducing each observation promptly.
func (d *daemon) flushCommands(ctx context.Context) {
	for len(d.cmdQueue) > 0 {
		cmd := d.cmdQueue[0]
		d.cmdQueue = d.cmdQueue[1:]

		runEffect(ctx, d.env, cmd, d.logger, func(obs Event) {
			d.eventQueue = append(d.eventQueue, obs)
		})

		// Observations should be reduced promptly to keep state coherent and
		// allow the reducer to emit follow-up commands (if any).
		d.flushEvents()
	}
}

// shutdown releases the camera if a session is active.
func (d *daemon) shutdown(ctx context.Context) {
	if d.state.Phase == PhaseStopped {
		return
	}
	d.step(ctx, TimedEvent{Event: StopCapture{}, At: time.Now()})
}

// runDaemon is the main daemon loop that:
//   - Receives Events from IPC, MQTT and the state WebSocket
//   - Emits Tick events at the sampling interval (1/fps)
//   - Reduces events into (state, commands, notifications)
//   - Executes commands and feeds observations back into the reducer
//
// Shutdown semantics:
//   - Exits when ctx is canceled or the events channel is closed
//   - Releases the camera before returning
func runDaemon(
	ctx context.Context,
	events <-chan Event,
	env Effects,
	state *DaemonState,
	notifier Notifier,
	logger *slog.Logger,
) {
	d := newDaemon(state, env, notifier, logger)

	// The camera must be released even when ctx is already canceled.
	defer d.shutdown(context.Background())

	interval := d.state.Params.Interval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	lastTick := time.Now()

	// A new fps takes effect on the next tick.
	retime := func() {
		if next := d.state.Params.Interval(); next != interval {
			logger.Debug("sampling interval changed", "from", interval, "to", next)
			interval = next
			ticker.Reset(interval)
		}
	}

	// Main loop
	for {
		select {
		case <-ctx.Done():
			logger.Info("daemon stopping (context canceled)")
			return

		case ev, ok := <-events:
			if !ok {
				logger.Info("daemon stopping (events channel closed)")
				return
			}
			d.step(ctx, TimedEvent{Event: ev, At: time.Now()})
			retime()

		case now := <-ticker.C:
			dt := now.Sub(lastTick).Seconds()
			lastTick = now
			d.step(ctx, Tick{Now: now, Dt: dt})
		}
	}
}
