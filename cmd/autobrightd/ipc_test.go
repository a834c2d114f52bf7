package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestHandleIPCLine_QueuesActions(t *testing.T) {
	events := make(chan Event, 1)

	resp := handleIPCLine(context.Background(), []byte(`{"type":"set_threshold","data":{"threshold":175}}`), events)
	if resp.Status != "ok" {
		t.Fatalf("response = %+v", resp)
	}
	if got := <-events; got != (SetThreshold{Threshold: 175}) {
		t.Fatalf("queued %#v", got)
	}

	events <- StartCapture{}
	resp = handleIPCLine(context.Background(), []byte(`{"type":"stop"}`), events)
	if resp.Status != "error" || resp.Error != "event queue full" {
		t.Fatalf("full queue response = %+v", resp)
	}
}

func TestHandleIPCLine_Errors(t *testing.T) {
	events := make(chan Event, 1)
	for _, line := range []string{`{`, `{"type":"warp"}`, `{"type":"set_fps"}`} {
		resp := handleIPCLine(context.Background(), []byte(line), events)
		if resp.Status != "error" || !strings.Contains(resp.Error, "parse event") {
			t.Fatalf("%s: response = %+v", line, resp)
		}
	}
	if len(events) != 0 {
		t.Fatalf("invalid lines queued %d events", len(events))
	}
}

func TestHandleIPCLine_GetState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 1)
	go answerSnapshots(ctx, events, StateSnapshot{Phase: PhaseStopped, Threshold: 190})

	resp := handleIPCLine(ctx, []byte(`{"type":"get_state"}`), events)
	if resp.Status != "ok" || resp.State == nil || resp.State.Threshold != 190 {
		t.Fatalf("response = %+v", resp)
	}
}

// shortSocketPath stays under the sun_path limit on every platform.
func shortSocketPath(t *testing.T) string {
	t.Helper()
	dir, err := os.MkdirTemp("", "ab")
	if err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	t.Cleanup(func() { _ = os.RemoveAll(dir) })
	return filepath.Join(dir, "s.sock")
}

func TestIPCServer_RoundTrip(t *testing.T) {
	socketPath := shortSocketPath(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// The fake daemon answers snapshots and records actions.
	events := make(chan Event, 4)
	actions := make(chan Event, 4)
	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case ev := <-events:
				if req, ok := ev.(RequestStateSnapshot); ok {
					req.Reply <- StateSnapshot{Phase: PhaseRunning, FPS: 24}
					continue
				}
				actions <- ev
			}
		}
	}()

	serverErr := make(chan error, 1)
	go func() { serverErr <- runIPCServer(ctx, socketPath, events, testLogger()) }()

	waitUntil(t, 2*time.Second, func() bool {
		_, err := os.Stat(socketPath)
		return err == nil
	}, "socket not created")

	if err := SendIPCEvent(socketPath, SetFPS{FPS: 24}); err != nil {
		t.Fatalf("SendIPCEvent: %v", err)
	}
	select {
	case got := <-actions:
		if got != (SetFPS{FPS: 24}) {
			t.Fatalf("daemon got %#v", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("action not delivered")
	}

	snap, err := QueryIPCState(socketPath)
	if err != nil {
		t.Fatalf("QueryIPCState: %v", err)
	}
	if snap.Phase != PhaseRunning || snap.FPS != 24 {
		t.Fatalf("snapshot = %+v", snap)
	}

	if err := SendIPCEvent(socketPath, Tick{}); err == nil {
		t.Fatalf("expected an error for a non-action event")
	}

	cancel()
	select {
	case err := <-serverErr:
		if err != nil {
			t.Fatalf("runIPCServer: %v", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatalf("IPC server did not stop")
	}
	if _, err := os.Stat(socketPath); !os.IsNotExist(err) {
		t.Fatalf("socket not removed: %v", err)
	}
}
