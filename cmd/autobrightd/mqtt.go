package main

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// ============================================================================
// MQTT bridge
// ============================================================================
// Topics under the configured prefix:
//   <prefix>/status   "online"/"offline" (retained, offline is the last will)
//   <prefix>/state    StateSnapshot on params change and on get_state (retained)
//   <prefix>/event    lifecycle and failure notifications
//   <prefix>/frame    per-frame telemetry, rate limited
//   <prefix>/preview  base64 JPEG preview box, rate limited with frames
//   <prefix>/cmd      inbound action envelopes (same format as IPC)
// ============================================================================

const (
	mqttConnectTimeout = 5 * time.Second
	mqttPublishTimeout = 2 * time.Second
	mqttDisconnectMS   = 250
)

// MQTTOptions configures the bridge.
type MQTTOptions struct {
	Broker    string
	ClientID  string
	Username  string
	Password  string
	Topic     string
	QoS       byte
	Retain    bool
	KeepAlive time.Duration

	// FrameInterval is the minimum spacing of frame messages (0 = every frame).
	FrameInterval  time.Duration
	PublishFrames  bool
	PublishPreview bool
	Preview        PreviewSize
}

// mqttPublisher is the subset of mqtt.Client the bridge publishes through.
type mqttPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

type mqttBridge struct {
	pub    mqttPublisher
	opts   MQTTOptions
	events chan<- Event
	logger *slog.Logger

	lastFrame time.Time
}

func newMQTTBridge(pub mqttPublisher, opts MQTTOptions, events chan<- Event, logger *slog.Logger) *mqttBridge {
	if opts.Topic == "" {
		opts.Topic = defaultMQTTTopic
	}
	return &mqttBridge{pub: pub, opts: opts, events: events, logger: logger}
}

func (b *mqttBridge) topic(suffix string) string {
	return b.opts.Topic + "/" + suffix
}

// newMQTTClientOptions builds paho options from the bridge config.
func newMQTTClientOptions(o MQTTOptions) *mqtt.ClientOptions {
	clientID := o.ClientID
	if clientID == "" {
		clientID = defaultMQTTClientID
	}
	topic := o.Topic
	if topic == "" {
		topic = defaultMQTTTopic
	}

	opts := mqtt.NewClientOptions().AddBroker(o.Broker).SetClientID(clientID)
	if o.KeepAlive > 0 {
		opts.SetKeepAlive(o.KeepAlive)
	}
	opts.SetPingTimeout(time.Second)
	if o.Username != "" {
		opts.SetUsername(o.Username)
		opts.SetPassword(o.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectTimeout(mqttConnectTimeout)
	opts.SetWill(topic+"/status", "offline", o.QoS, true)
	return opts
}

// runMQTT connects to the broker, subscribes to the command topic and
// forwards notifications from src until ctx is canceled.
//
// The broker being down is not fatal: paho keeps retrying in the background
// and the bridge logs publish failures at debug level.
func runMQTT(ctx context.Context, o MQTTOptions, events chan<- Event, src <-chan Notification, logger *slog.Logger) error {
	if o.Broker == "" {
		return fmt.Errorf("mqtt: broker is required")
	}
	logger = logger.With("component", "mqtt")

	opts := newMQTTClientOptions(o)

	var bridge *mqttBridge

	opts.SetDefaultPublishHandler(func(_ mqtt.Client, msg mqtt.Message) {
		logger.Debug("unexpected message", "topic", msg.Topic())
	})
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		logger.Warn("connection lost", "error", err)
	})
	// Subscriptions do not survive a clean-session reconnect.
	opts.SetOnConnectHandler(func(c mqtt.Client) {
		logger.Info("connected", "broker", o.Broker)
		token := c.Subscribe(bridge.topic("cmd"), o.QoS, bridge.handleCommand)
		if token.WaitTimeout(mqttConnectTimeout) && token.Error() != nil {
			logger.Warn("subscribe failed", "topic", bridge.topic("cmd"), "error", token.Error())
		}
		bridge.publishRaw(bridge.topic("status"), true, []byte("online"))
	})

	client := mqtt.NewClient(opts)
	bridge = newMQTTBridge(client, o, events, logger)

	token := client.Connect()
	go func() {
		// With ConnectRetry the token completes on the first successful connect.
		<-token.Done()
		if err := token.Error(); err != nil {
			logger.Warn("connect failed", "broker", o.Broker, "error", err)
		}
	}()

	bridge.run(ctx, src)

	if client.IsConnected() {
		bridge.publishRaw(bridge.topic("status"), true, []byte("offline"))
	}
	client.Disconnect(mqttDisconnectMS)
	logger.Info("disconnected")
	return nil
}

// run forwards notifications until ctx is canceled or src is closed.
func (b *mqttBridge) run(ctx context.Context, src <-chan Notification) {
	for {
		select {
		case <-ctx.Done():
			return
		case n, ok := <-src:
			if !ok {
				return
			}
			b.publishNotification(n)
		}
	}
}

func (b *mqttBridge) publishNotification(n Notification) {
	kind, data, at, ok := describeNotification(n)
	if !ok {
		return
	}

	switch v := n.(type) {
	case NotifyFrame:
		if !b.opts.PublishFrames && !b.opts.PublishPreview {
			return
		}
		if b.opts.FrameInterval > 0 && !b.lastFrame.IsZero() && v.At.Sub(b.lastFrame) < b.opts.FrameInterval {
			return
		}
		b.lastFrame = v.At
		if b.opts.PublishFrames {
			b.publishEnvelope(b.topic("frame"), false, kind, at, data)
		}
		if b.opts.PublishPreview {
			b.publishPreview(v.Luminance)
		}

	case NotifyParamsChanged:
		b.publishEnvelope(b.topic("state"), true, kind, at, v.Params)

	default:
		b.publishEnvelope(b.topic("event"), b.opts.Retain, kind, at, data)
	}
}

func (b *mqttBridge) publishEnvelope(topic string, retained bool, kind string, at time.Time, data any) {
	msg, err := marshalEnvelope(kind, at, data)
	if err != nil {
		b.logger.Warn("marshal failed", "type", kind, "error", err)
		return
	}
	b.publishRaw(topic, retained, msg)
}

// publishPreview sends the preview box as base64 JPEG.
func (b *mqttBridge) publishPreview(luminance float64) {
	img, err := EncodePreviewJPEG(luminance, b.opts.Preview.Width, b.opts.Preview.Height)
	if err != nil {
		b.logger.Warn("preview encode failed", "error", err)
		return
	}
	out := make([]byte, base64.StdEncoding.EncodedLen(len(img)))
	base64.StdEncoding.Encode(out, img)
	b.publishRaw(b.topic("preview"), false, out)
}

func (b *mqttBridge) publishRaw(topic string, retained bool, payload []byte) {
	token := b.pub.Publish(topic, b.opts.QoS, retained, payload)
	if token == nil {
		return
	}
	if !token.WaitTimeout(mqttPublishTimeout) {
		b.logger.Debug("publish timed out", "topic", topic)
		return
	}
	if err := token.Error(); err != nil {
		b.logger.Debug("publish failed", "topic", topic, "error", err)
	}
}

// handleCommand parses an action envelope from the cmd topic and queues it.
// get_state is answered on the state topic.
func (b *mqttBridge) handleCommand(_ mqtt.Client, msg mqtt.Message) {
	payload := msg.Payload()

	var env EventEnvelope
	if err := json.Unmarshal(payload, &env); err != nil {
		b.logger.Warn("invalid command", "topic", msg.Topic(), "error", err)
		return
	}

	if env.Type == envelopeTypeGetState {
		snap, err := requestSnapshot(context.Background(), b.events, time.Second)
		if err != nil {
			b.logger.Warn("get_state failed", "error", err)
			return
		}
		b.publishEnvelope(b.topic("state"), true, "state", snap.At, snap)
		return
	}

	ev, err := UnmarshalEvent(payload)
	if err != nil {
		b.logger.Warn("invalid command", "topic", msg.Topic(), "error", err)
		return
	}

	select {
	case b.events <- ev:
		b.logger.Debug("command queued", "type", env.Type)
	default:
		b.logger.Warn("event queue full, dropping command", "type", env.Type)
	}
}
