package main

import (
	"context"
	"encoding/base64"
	"image/jpeg"
	"strings"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// doneToken is an already completed mqtt.Token.
type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	retained bool
	payload  []byte
}

type fakePublisher struct {
	mu   sync.Mutex
	msgs []published
}

func (f *fakePublisher) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic: topic, retained: retained, payload: payload.([]byte)})
	return doneToken{}
}

func (f *fakePublisher) onTopic(topic string) []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []published
	for _, m := range f.msgs {
		if m.topic == topic {
			out = append(out, m)
		}
	}
	return out
}

// fakeMessage implements mqtt.Message.
type fakeMessage struct {
	topic   string
	payload []byte
}

func (m fakeMessage) Duplicate() bool   { return false }
func (m fakeMessage) Qos() byte         { return 0 }
func (m fakeMessage) Retained() bool    { return false }
func (m fakeMessage) Topic() string     { return m.topic }
func (m fakeMessage) MessageID() uint16 { return 1 }
func (m fakeMessage) Payload() []byte   { return m.payload }
func (m fakeMessage) Ack()              {}

func TestMQTTBridge_FrameRateLimit(t *testing.T) {
	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{
		Topic:         "office",
		PublishFrames: true,
		FrameInterval: time.Second,
	}, nil, testLogger())

	for i, offset := range []time.Duration{0, 300 * time.Millisecond, 900 * time.Millisecond, 1100 * time.Millisecond} {
		b.publishNotification(NotifyFrame{Session: 1, Frame: i + 1, At: t0.Add(offset)})
	}

	frames := pub.onTopic("office/frame")
	if len(frames) != 2 {
		t.Fatalf("published %d frames, want 2", len(frames))
	}
	kind, data := decodeEnvelope(t, frames[1].payload)
	if kind != kindFrame || data["frame"].(float64) != 4 {
		t.Fatalf("second frame = %s %v", kind, data)
	}
	if frames[0].retained {
		t.Fatalf("frames must not be retained")
	}
}

func TestMQTTBridge_FramesDisabled(t *testing.T) {
	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{Topic: "office"}, nil, testLogger())
	b.publishNotification(NotifyFrame{Session: 1, Frame: 1, At: t0})
	if len(pub.msgs) != 0 {
		t.Fatalf("published %v with frames and preview disabled", pub.msgs)
	}
}

func TestMQTTBridge_Preview(t *testing.T) {
	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{
		Topic:          "office",
		PublishPreview: true,
		Preview:        PreviewSize{Width: 20, Height: 10},
	}, nil, testLogger())

	b.publishNotification(NotifyFrame{Session: 1, Frame: 1, Luminance: 80, At: t0})

	if len(pub.onTopic("office/frame")) != 0 {
		t.Fatalf("frame published with PublishFrames off")
	}
	previews := pub.onTopic("office/preview")
	if len(previews) != 1 {
		t.Fatalf("published %d previews, want 1", len(previews))
	}
	raw, err := base64.StdEncoding.DecodeString(string(previews[0].payload))
	if err != nil {
		t.Fatalf("base64: %v", err)
	}
	img, err := jpeg.Decode(strings.NewReader(string(raw)))
	if err != nil {
		t.Fatalf("jpeg: %v", err)
	}
	if b := img.Bounds(); b.Dx() != 20 || b.Dy() != 10 {
		t.Fatalf("preview bounds = %v", b)
	}
}

func TestMQTTBridge_Routing(t *testing.T) {
	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{}, nil, testLogger())

	b.publishNotification(NotifyParamsChanged{Params: StateSnapshot{Threshold: 150}, At: t0})
	b.publishNotification(NotifyPermissionError{Error: "denied", Guidance: "grant access", At: t0})

	state := pub.onTopic(defaultMQTTTopic + "/state")
	if len(state) != 1 || !state[0].retained {
		t.Fatalf("state messages = %+v, want one retained", state)
	}
	kind, data := decodeEnvelope(t, state[0].payload)
	if kind != kindParamsChanged || data["threshold"].(float64) != 150 {
		t.Fatalf("state = %s %v", kind, data)
	}

	ev := pub.onTopic(defaultMQTTTopic + "/event")
	if len(ev) != 1 || ev[0].retained {
		t.Fatalf("event messages = %+v", ev)
	}
	if kind, data := decodeEnvelope(t, ev[0].payload); kind != kindPermissionError || data["guidance"] != "grant access" {
		t.Fatalf("event = %s %v", kind, data)
	}
}

func TestMQTTBridge_Commands(t *testing.T) {
	events := make(chan Event, 1)
	b := newMQTTBridge(&fakePublisher{}, MQTTOptions{Topic: "office"}, events, testLogger())

	b.handleCommand(nil, fakeMessage{topic: "office/cmd", payload: []byte(`{"type":"set_exposure","data":{"exposure":-5}}`)})
	select {
	case ev := <-events:
		if ev != (SetExposure{Exposure: -5}) {
			t.Fatalf("queued %#v", ev)
		}
	default:
		t.Fatalf("command not queued")
	}

	for _, bad := range []string{`garbage`, `{"type":"self_destruct"}`} {
		b.handleCommand(nil, fakeMessage{topic: "office/cmd", payload: []byte(bad)})
	}
	if len(events) != 0 {
		t.Fatalf("invalid commands queued %d events", len(events))
	}

	// A full queue drops instead of blocking the paho callback.
	events <- StartCapture{}
	b.handleCommand(nil, fakeMessage{topic: "office/cmd", payload: []byte(`{"type":"stop"}`)})
	if got := <-events; got != (StartCapture{}) {
		t.Fatalf("queue head = %#v", got)
	}
}

func TestMQTTBridge_GetState(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	events := make(chan Event, 1)
	go answerSnapshots(ctx, events, StateSnapshot{Phase: PhaseRunning, Session: 9, At: t0})

	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{Topic: "office"}, events, testLogger())
	b.handleCommand(nil, fakeMessage{topic: "office/cmd", payload: []byte(`{"type":"get_state"}`)})

	state := pub.onTopic("office/state")
	if len(state) != 1 || !state[0].retained {
		t.Fatalf("state messages = %+v", state)
	}
	if kind, data := decodeEnvelope(t, state[0].payload); kind != "state" || data["session"].(float64) != 9 {
		t.Fatalf("state = %s %v", kind, data)
	}
}

func TestMQTTBridge_RunStopsOnClose(t *testing.T) {
	pub := &fakePublisher{}
	b := newMQTTBridge(pub, MQTTOptions{Topic: "office"}, nil, testLogger())
	src := make(chan Notification, 2)
	src <- NotifyStarted{Session: 1, At: t0}
	src <- NotifyStopped{Session: 1, Reason: "requested", At: t0}
	close(src)

	b.run(context.Background(), src)
	if got := len(pub.onTopic("office/event")); got != 2 {
		t.Fatalf("published %d events, want 2", got)
	}
}

func TestNewMQTTClientOptions(t *testing.T) {
	opts := newMQTTClientOptions(MQTTOptions{Broker: "tcp://broker:1883", Username: "cam", Password: "pw", QoS: 1})
	if opts.ClientID != defaultMQTTClientID {
		t.Fatalf("client id = %q", opts.ClientID)
	}
	if opts.WillTopic != defaultMQTTTopic+"/status" || string(opts.WillPayload) != "offline" || !opts.WillRetained || opts.WillQos != 1 {
		t.Fatalf("will = %q %q retained=%v qos=%d", opts.WillTopic, opts.WillPayload, opts.WillRetained, opts.WillQos)
	}
	if opts.Username != "cam" || !opts.AutoReconnect || !opts.ConnectRetry {
		t.Fatalf("options = %+v", opts)
	}
	if len(opts.Servers) != 1 || opts.Servers[0].Host != "broker:1883" {
		t.Fatalf("servers = %v", opts.Servers)
	}
}

func TestRunMQTT_RequiresBroker(t *testing.T) {
	if err := runMQTT(context.Background(), MQTTOptions{}, nil, nil, testLogger()); err == nil {
		t.Fatalf("expected an error without a broker")
	}
}
