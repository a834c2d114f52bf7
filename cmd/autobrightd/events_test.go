package main

import (
	"strings"
	"testing"
)

func TestUnmarshalEvent(t *testing.T) {
	tests := []struct {
		in   string
		want Event
	}{
		{`{"type":"start"}`, StartCapture{}},
		{`{"type":"stop"}`, StopCapture{}},
		{`{"type":"reset"}`, ResetCapture{}},
		{`{"type":"set_threshold","data":{"threshold":180}}`, SetThreshold{Threshold: 180}},
		{`{"type":"set_exposure","data":{"exposure":-4}}`, SetExposure{Exposure: -4}},
		{`{"type":"set_smoothing","data":{"enabled":true,"factor":0.2}}`, SetSmoothing{Enabled: true, Factor: 0.2}},
		{`{"type":"set_smoothing","data":{"enabled":false}}`, SetSmoothing{}},
		{`{"type":"set_fps","data":{"fps":15}}`, SetFPS{FPS: 15}},
		{`{"type":"set_dispatch_every","data":{"frames":3}}`, SetDispatchEvery{Frames: 3}},
		{`{"type":"set_brightness_range","data":{"min":10,"max":90}}`, SetBrightnessRange{Min: 10, Max: 90}},
	}
	for _, tt := range tests {
		got, err := UnmarshalEvent([]byte(tt.in))
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", tt.in, err)
		}
		if got != tt.want {
			t.Fatalf("UnmarshalEvent(%s) = %#v, want %#v", tt.in, got, tt.want)
		}
	}
}

func TestUnmarshalEvent_Errors(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{`not json`, "unmarshal envelope"},
		{`{"type":"set_threshold"}`, "missing data"},
		{`{"type":"set_fps","data":{"fps":"fast"}}`, "SetFPS"},
		{`{"type":"explode"}`, "unknown event type"},
		{`{"type":"get_state"}`, "unknown event type"},
	}
	for _, tt := range tests {
		_, err := UnmarshalEvent([]byte(tt.in))
		if err == nil || !strings.Contains(err.Error(), tt.want) {
			t.Fatalf("UnmarshalEvent(%s) error = %v, want %q", tt.in, err, tt.want)
		}
	}
}

func TestMarshalEvent(t *testing.T) {
	for _, ev := range []Event{
		StartCapture{},
		SetThreshold{Threshold: 42},
		SetSmoothing{Enabled: true, Factor: 0.3},
		SetBrightnessRange{Min: 5, Max: 95},
	} {
		data, err := MarshalEvent(ev)
		if err != nil {
			t.Fatalf("MarshalEvent(%#v): %v", ev, err)
		}
		back, err := UnmarshalEvent(data)
		if err != nil {
			t.Fatalf("UnmarshalEvent(%s): %v", data, err)
		}
		if back != ev {
			t.Fatalf("got %#v back from %s, want %#v", back, data, ev)
		}
	}

	if got, _ := MarshalEvent(StopCapture{}); string(got) != `{"type":"stop"}` {
		t.Fatalf("stop envelope = %s", got)
	}
	if _, err := MarshalEvent(Tick{}); err == nil {
		t.Fatalf("expected an error for a non-action event")
	}
}
