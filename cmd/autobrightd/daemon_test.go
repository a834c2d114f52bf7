package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"
)

// ============================================================================
// Test doubles
// ============================================================================

// fakeSampler returns scripted luminance values; an entry in errs for the
// same (0-based) Sample call makes that call fail.
type fakeSampler struct {
	mu sync.Mutex

	lums    []float64
	errs    map[int]error
	openErr error

	opens   int
	samples int
	closes  int
	isOpen  bool
}

func (f *fakeSampler) Open(ctx context.Context, s CameraSettings) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.opens++
	if f.openErr != nil {
		return f.openErr
	}
	f.isOpen = true
	return nil
}

func (f *fakeSampler) Sample(ctx context.Context) (LuminanceSample, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.samples
	f.samples++
	if err, ok := f.errs[i]; ok {
		return LuminanceSample{}, err
	}
	lum := 0.0
	if len(f.lums) > 0 {
		if i < len(f.lums) {
			lum = f.lums[i]
		} else {
			lum = f.lums[len(f.lums)-1]
		}
	}
	return LuminanceSample{Luminance: lum, Width: 640, Height: 480}, nil
}

func (f *fakeSampler) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closes++
	f.isOpen = false
	return nil
}

func (f *fakeSampler) counts() (opens, samples, closes int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.opens, f.samples, f.closes
}

// fakeSink records levels; an entry in errs for the same (0-based) call
// makes that call fail.
type fakeSink struct {
	mu     sync.Mutex
	levels []int
	calls  int
	errs   map[int]error
}

func (f *fakeSink) SetBrightness(ctx context.Context, level int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	i := f.calls
	f.calls++
	if err, ok := f.errs[i]; ok {
		return &SinkError{Sink: "fake", Op: "set", Err: err}
	}
	f.levels = append(f.levels, level)
	return nil
}

func (f *fakeSink) Brightness(context.Context) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.levels) == 0 {
		return 0, ErrSinkUnavailable
	}
	return f.levels[len(f.levels)-1], nil
}

func (f *fakeSink) Name() string { return "fake" }
func (f *fakeSink) Close() error { return nil }

func (f *fakeSink) applied() []int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]int(nil), f.levels...)
}

func (f *fakeSink) callCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

// recordingNotifier keeps every notification.
type recordingNotifier struct {
	mu    sync.Mutex
	notes []Notification
}

func (r *recordingNotifier) Notify(n Notification) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.notes = append(r.notes, n)
}

func (r *recordingNotifier) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, x := range r.notes {
		if notificationKind(x) == kind {
			n++
		}
	}
	return n
}

// testClock advances by step on every call.
type testClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func newTestClock(step time.Duration) *testClock {
	return &testClock{now: time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC), step: step}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(c.step)
	return c.now
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type daemonFixture struct {
	d       *daemon
	sampler *fakeSampler
	sink    *fakeSink
	notes   *recordingNotifier
	clock   *testClock
}

func newDaemonFixture(t *testing.T, p ControlParams, sampler *fakeSampler, sink *fakeSink) *daemonFixture {
	t.Helper()
	clock := newTestClock(10 * time.Millisecond)
	notes := &recordingNotifier{}
	env := Effects{Sampler: sampler, Sink: sink, Now: clock.Now}
	return &daemonFixture{
		d:       newDaemon(NewDaemonState(p), env, notes, testLogger()),
		sampler: sampler,
		sink:    sink,
		notes:   notes,
		clock:   clock,
	}
}

func (f *daemonFixture) send(ev Event) {
	f.d.step(context.Background(), TimedEvent{Event: ev, At: f.clock.Now()})
}

func (f *daemonFixture) tick() {
	f.d.step(context.Background(), Tick{Now: f.clock.Now(), Dt: 0.033})
}

// ============================================================================
// Tests
// ============================================================================

func TestDaemon_StartTickDispatch(t *testing.T) {
	p := DefaultControlParams()
	p.SmoothingEnabled = false
	f := newDaemonFixture(t, p, &fakeSampler{lums: []float64{190, 95}}, &fakeSink{})

	f.send(StartCapture{})
	if f.d.state.Phase != PhaseRunning {
		t.Fatalf("phase = %s, want running", f.d.state.Phase)
	}
	if f.notes.count(kindStarted) != 1 {
		t.Fatalf("expected one started notification")
	}

	f.tick()
	f.tick()

	got := f.sink.applied()
	if len(got) != 2 || got[0] != 100 || got[1] != 50 {
		t.Fatalf("applied levels = %v, want [100 50]", got)
	}
	if f.notes.count(kindFrame) != 2 {
		t.Fatalf("frame notifications = %d, want 2", f.notes.count(kindFrame))
	}
	if !f.d.state.Sink.AppliedKnown || f.d.state.Sink.LastApplied != 50 {
		t.Fatalf("sink status = %+v, want last applied 50", f.d.state.Sink)
	}
}

func TestDaemon_TickWhileStoppedDoesNothing(t *testing.T) {
	f := newDaemonFixture(t, DefaultControlParams(), &fakeSampler{lums: []float64{100}}, &fakeSink{})

	f.tick()
	if _, samples, _ := f.sampler.counts(); samples != 0 {
		t.Fatalf("sampled %d frames while stopped", samples)
	}
}

func TestDaemon_CameraOpenFailure(t *testing.T) {
	sampler := &fakeSampler{openErr: ErrCameraUnavailable}
	f := newDaemonFixture(t, DefaultControlParams(), sampler, &fakeSink{})

	f.send(StartCapture{})

	if f.d.state.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.d.state.Phase)
	}
	if f.notes.count(kindCameraError) != 1 {
		t.Fatalf("camera_error notifications = %d, want 1", f.notes.count(kindCameraError))
	}
	if f.notes.count(kindStarted) != 0 {
		t.Fatalf("unexpected started notification")
	}

	// A later start may succeed once the device is back.
	sampler.mu.Lock()
	sampler.openErr = nil
	sampler.mu.Unlock()
	f.send(StartCapture{})
	if f.d.state.Phase != PhaseRunning {
		t.Fatalf("phase after retry = %s, want running", f.d.state.Phase)
	}
}

func TestDaemon_CaptureFailureTwiceNotifiesOnce(t *testing.T) {
	sampler := &fakeSampler{
		lums: []float64{100},
		errs: map[int]error{0: ErrFrameRead, 1: ErrFrameRead},
	}
	f := newDaemonFixture(t, DefaultControlParams(), sampler, &fakeSink{})

	f.send(StartCapture{})
	f.tick()
	f.tick()

	if got := f.notes.count(kindCaptureFailure); got != 1 {
		t.Fatalf("capture_failure notifications = %d, want 1", got)
	}
	if f.d.state.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.d.state.Phase)
	}
	if _, _, closes := f.sampler.counts(); closes != 1 {
		t.Fatalf("camera closed %d times, want 1", closes)
	}
	if f.notes.count(kindStopped) != 1 {
		t.Fatalf("stopped notifications = %d, want 1", f.notes.count(kindStopped))
	}
}

func TestDaemon_PermissionDeniedTwiceNotifiesOnce(t *testing.T) {
	p := DefaultControlParams()
	p.SmoothingEnabled = false
	p.SinkRetry = 0

	sink := &fakeSink{errs: map[int]error{
		2: ErrSinkPermissionDenied,
		3: ErrSinkPermissionDenied,
	}}
	// Distinct levels every tick so each one is dispatched.
	sampler := &fakeSampler{lums: []float64{100, 110, 120, 130, 140}}
	f := newDaemonFixture(t, p, sampler, sink)

	f.send(StartCapture{})
	for i := 0; i < 5; i++ {
		f.tick()
	}

	if got := f.notes.count(kindPermissionError); got != 1 {
		t.Fatalf("permission_error notifications = %d, want 1", got)
	}
	if got := f.notes.count(kindFrame); got != 5 {
		t.Fatalf("frame notifications = %d, want 5 (capture must continue)", got)
	}
	if f.d.state.Phase != PhaseRunning {
		t.Fatalf("phase = %s, want running", f.d.state.Phase)
	}
	if got := f.notes.count(kindSinkRecovered); got != 1 {
		t.Fatalf("sink_recovered notifications = %d, want 1", got)
	}
	if sink.callCount() != 5 {
		t.Fatalf("sink calls = %d, want 5", sink.callCount())
	}
}

func TestDaemon_SinkRetrySpacing(t *testing.T) {
	p := DefaultControlParams()
	p.SmoothingEnabled = false
	p.SinkRetry = time.Hour

	sink := &fakeSink{errs: map[int]error{0: errors.New("i2c timeout")}}
	sampler := &fakeSampler{lums: []float64{100, 110, 120}}
	f := newDaemonFixture(t, p, sampler, sink)

	f.send(StartCapture{})
	f.tick()
	f.tick()
	f.tick()

	if sink.callCount() != 1 {
		t.Fatalf("sink calls = %d, want 1 while backing off", sink.callCount())
	}
	if f.notes.count(kindSinkError) != 1 {
		t.Fatalf("sink_error notifications = %d, want 1", f.notes.count(kindSinkError))
	}
}

func TestDaemon_StopReleasesCamera(t *testing.T) {
	f := newDaemonFixture(t, DefaultControlParams(), &fakeSampler{lums: []float64{100}}, &fakeSink{})

	f.send(StartCapture{})
	f.tick()
	f.send(StopCapture{})

	if f.d.state.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.d.state.Phase)
	}
	if _, _, closes := f.sampler.counts(); closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
	if f.d.state.Session.FrameCount != 0 {
		t.Fatalf("frame count not reset: %d", f.d.state.Session.FrameCount)
	}

	// Stop while stopped still releases (idempotent for the sampler).
	f.send(StopCapture{})
	if f.d.state.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.d.state.Phase)
	}
}

func TestDaemon_ResetDoesNotBlend(t *testing.T) {
	p := DefaultControlParams()
	p.SmoothingEnabled = true
	p.SmoothingFactor = 0.1
	// 142.5/190 -> 75, 76/190 -> 40
	sampler := &fakeSampler{lums: []float64{142.5, 76}}
	f := newDaemonFixture(t, p, sampler, &fakeSink{})

	f.send(StartCapture{})
	f.tick()
	if got := f.d.state.Session.Brightness.Current; got != 75 {
		t.Fatalf("current before reset = %v, want 75", got)
	}

	f.send(ResetCapture{})
	if f.d.state.Phase != PhaseRunning {
		t.Fatalf("phase after reset = %s, want running", f.d.state.Phase)
	}
	opens, _, closes := f.sampler.counts()
	if opens != 2 || closes != 1 {
		t.Fatalf("opens=%d closes=%d, want 2 and 1", opens, closes)
	}

	f.tick()
	if got := f.d.state.Session.Brightness.Current; got != 40 {
		t.Fatalf("current after reset = %v, want 40 (not blended with 75)", got)
	}
}

func TestDaemon_ShutdownStopsSession(t *testing.T) {
	f := newDaemonFixture(t, DefaultControlParams(), &fakeSampler{lums: []float64{100}}, &fakeSink{})

	f.send(StartCapture{})
	f.d.shutdown(context.Background())

	if f.d.state.Phase != PhaseStopped {
		t.Fatalf("phase = %s, want stopped", f.d.state.Phase)
	}
	if _, _, closes := f.sampler.counts(); closes != 1 {
		t.Fatalf("closes = %d, want 1", closes)
	}
}

func TestRunDaemon_TicksAndReleasesOnCancel(t *testing.T) {
	p := DefaultControlParams()
	p.FPS = maxFPS

	sampler := &fakeSampler{lums: []float64{120}}
	sink := &fakeSink{}
	notes := &recordingNotifier{}
	events := make(chan Event, 8)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		runDaemon(ctx, events, Effects{Sampler: sampler, Sink: sink}, NewDaemonState(p), notes, testLogger())
	}()

	events <- StartCapture{}

	waitUntil(t, 2*time.Second, func() bool {
		return notes.count(kindFrame) >= 3
	}, "expected frames from the ticker")

	// Same level every frame: dispatched once.
	if got := sink.applied(); len(got) != 1 {
		t.Fatalf("applied = %v, want a single dispatch", got)
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for daemon to stop")
	}

	if _, _, closes := sampler.counts(); closes != 1 {
		t.Fatalf("camera closes = %d, want 1", closes)
	}
}

func TestRunDaemon_SnapshotRequest(t *testing.T) {
	events := make(chan Event, 8)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	p := DefaultControlParams()
	p.Threshold = 150
	go runDaemon(ctx, events, Effects{}, NewDaemonState(p), nil, testLogger())

	snap, err := requestSnapshot(ctx, events, time.Second)
	if err != nil {
		t.Fatalf("requestSnapshot: %v", err)
	}
	if snap.Phase != PhaseStopped || snap.Threshold != 150 {
		t.Fatalf("snapshot = %+v, want stopped with threshold 150", snap)
	}
}
