package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration for autobrightd.
//
// Keep defaults and validation centralized so the rest of the code can assume
// a well-formed config. Control values (threshold, exposure, fps, ...) are
// clamped by ControlParams.Normalize rather than rejected here.
type Config struct {
	Camera     CameraConfig     `yaml:"camera"`
	Brightness BrightnessConfig `yaml:"brightness"`
	Sink       SinkFileConfig   `yaml:"sink"`
	UI         UIConfig         `yaml:"ui"`
	Advanced   AdvancedConfig   `yaml:"advanced"`

	IPC     IPCConfig     `yaml:"ipc"`
	HTTP    HTTPConfig    `yaml:"http"`
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Logging LoggingConfig `yaml:"logging"`
}

type CameraConfig struct {
	DeviceIndex   int `yaml:"device_index"`
	FPS           int `yaml:"fps"`
	Exposure      int `yaml:"exposure"`
	ReadTimeoutMS int `yaml:"read_timeout_ms"` // 0 = one frame interval
}

type BrightnessConfig struct {
	Threshold       int     `yaml:"threshold"`
	SmoothingFactor float64 `yaml:"smoothing_factor"`
	MinBrightness   int     `yaml:"min_brightness"`
	MaxBrightness   int     `yaml:"max_brightness"`
	DispatchEvery   int     `yaml:"dispatch_every"`
	SinkRetryMS     int     `yaml:"sink_retry_ms"`
}

type SinkFileConfig struct {
	Kind          string `yaml:"kind"` // auto, none, sysfs, osascript, dxva2
	SysfsRoot     string `yaml:"sysfs_root,omitempty"`
	SysfsDevice   string `yaml:"sysfs_device,omitempty"`
	OsascriptPath string `yaml:"osascript_path,omitempty"`
	Display       int    `yaml:"display,omitempty"`
	Monitor       int    `yaml:"monitor,omitempty"`
}

type UIConfig struct {
	PreviewWidth  int `yaml:"preview_width"`
	PreviewHeight int `yaml:"preview_height"`
}

type AdvancedConfig struct {
	SmoothTransitions bool `yaml:"smooth_transitions"`
	Autostart         bool `yaml:"autostart"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

type HTTPConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
}

type MQTTConfig struct {
	Enabled         bool   `yaml:"enabled"`
	Broker          string `yaml:"broker"`
	ClientID        string `yaml:"client_id"`
	Username        string `yaml:"username,omitempty"`
	Password        string `yaml:"password,omitempty"`
	Topic           string `yaml:"topic"`
	QoS             int    `yaml:"qos"`
	Retain          bool   `yaml:"retain"`
	KeepAliveSec    int    `yaml:"keepalive_sec"`
	PublishFrames   bool   `yaml:"publish_frames"`
	PublishPreview  bool   `yaml:"publish_preview"`
	FrameIntervalMS int    `yaml:"frame_interval_ms"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
	File  string `yaml:"file,omitempty"` // mirrored with stdout when set
}

// DefaultConfig returns a fully-populated Config with defaults.
// Keep this aligned with constants.go.
func DefaultConfig() Config {
	return Config{
		Camera: CameraConfig{
			DeviceIndex:   defaultDeviceIndex,
			FPS:           defaultFPS,
			Exposure:      defaultExposure,
			ReadTimeoutMS: defaultReadTimeoutMS,
		},
		Brightness: BrightnessConfig{
			Threshold:       defaultThreshold,
			SmoothingFactor: defaultSmoothingFactor,
			MinBrightness:   minBrightness,
			MaxBrightness:   maxBrightness,
			DispatchEvery:   defaultDispatchEvery,
			SinkRetryMS:     defaultSinkRetryMS,
		},
		Sink: SinkFileConfig{
			Kind:    SinkKindAuto,
			Display: 1,
		},
		UI: UIConfig{
			PreviewWidth:  defaultPreviewWidth,
			PreviewHeight: defaultPreviewHeight,
		},
		Advanced: AdvancedConfig{
			SmoothTransitions: true,
			Autostart:         true,
		},
		IPC: IPCConfig{
			SocketPath: defaultIPCSocketPath,
		},
		HTTP: HTTPConfig{
			Enabled: true,
			Listen:  defaultStateWSListen,
		},
		MQTT: MQTTConfig{
			Enabled:         false,
			Broker:          "tcp://127.0.0.1:1883",
			ClientID:        defaultMQTTClientID,
			Topic:           defaultMQTTTopic,
			QoS:             0,
			KeepAliveSec:    30,
			PublishFrames:   true,
			FrameIntervalMS: 1000,
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads and parses a YAML config file on top of DefaultConfig.
//
// Unknown fields are rejected (helps catch typos) via KnownFields(true).
func LoadConfigFile(path string) (Config, error) {
	if path == "" {
		return Config{}, errors.New("config path is empty")
	}
	b, err := os.ReadFile(ExpandPath(path))
	if err != nil {
		return Config{}, fmt.Errorf("read config file: %w", err)
	}

	cfg := DefaultConfig()

	dec := yaml.NewDecoder(bytes.NewReader(b))
	dec.KnownFields(true)

	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("decode config yaml: %w", err)
	}

	// Only whitespace/comments are allowed after the document.
	var extra yaml.Node
	if err := dec.Decode(&extra); !errors.Is(err, io.EOF) {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// SaveConfigFile writes cfg as YAML. An existing file is only replaced when
// overwrite is set.
func SaveConfigFile(path string, cfg Config, overwrite bool) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	path = ExpandPath(path)

	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config file %s already exists", path)
		}
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode config yaml: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode config yaml: %w", err)
	}

	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("create config dir: %w", err)
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write config file: %w", err)
	}
	return nil
}

// FlagOverrides applies overrides from flags on top of a loaded config.
//
// Flags pass pointers; a nil pointer means "not set on the command line".
type FlagOverrides struct {
	DeviceIndex *int
	FPS         *int
	Exposure    *int

	Threshold       *int
	SmoothingFactor *float64
	Smoothing       *bool

	SinkKind    *string
	SysfsDevice *string

	Autostart *bool

	IPCSocketPath *string
	HTTPListen    *string
	MQTTBroker    *string

	LogLevel *string
	LogFile  *string
}

// Apply merges the overrides into cfg. A non-nil pointer is applied even if
// it holds a zero value.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}

	if o.DeviceIndex != nil {
		cfg.Camera.DeviceIndex = *o.DeviceIndex
	}
	if o.FPS != nil {
		cfg.Camera.FPS = *o.FPS
	}
	if o.Exposure != nil {
		cfg.Camera.Exposure = *o.Exposure
	}

	if o.Threshold != nil {
		cfg.Brightness.Threshold = *o.Threshold
	}
	if o.SmoothingFactor != nil {
		cfg.Brightness.SmoothingFactor = *o.SmoothingFactor
	}
	if o.Smoothing != nil {
		cfg.Advanced.SmoothTransitions = *o.Smoothing
	}

	if o.SinkKind != nil {
		cfg.Sink.Kind = *o.SinkKind
	}
	if o.SysfsDevice != nil {
		cfg.Sink.SysfsDevice = *o.SysfsDevice
	}

	if o.Autostart != nil {
		cfg.Advanced.Autostart = *o.Autostart
	}

	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
		cfg.HTTP.Enabled = *o.HTTPListen != ""
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
		cfg.MQTT.Enabled = *o.MQTTBroker != ""
	}

	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
	if o.LogFile != nil {
		cfg.Logging.File = *o.LogFile
	}
}

// Validate checks config invariants and returns a user-friendly error.
// Call it after defaults + file + overrides are applied.
func (c *Config) Validate() error {
	// Camera
	if c.Camera.DeviceIndex < 0 {
		return errors.New("camera.device_index must be >= 0")
	}
	if c.Camera.ReadTimeoutMS < 0 {
		return errors.New("camera.read_timeout_ms must be >= 0")
	}

	// Brightness
	if c.Brightness.SmoothingFactor < 0 || c.Brightness.SmoothingFactor > 1 {
		return errors.New("brightness.smoothing_factor must be between 0 and 1")
	}
	if c.Brightness.MinBrightness > c.Brightness.MaxBrightness {
		return errors.New("brightness.min_brightness must be <= brightness.max_brightness")
	}
	if c.Brightness.SinkRetryMS < 0 {
		return errors.New("brightness.sink_retry_ms must be >= 0")
	}

	// Sink
	if c.Sink.Kind != "" && !validSinkKind(c.Sink.Kind) {
		return fmt.Errorf("sink.kind must be one of %q, %q, %q, %q, %q",
			SinkKindAuto, SinkKindNone, SinkKindSysfs, SinkKindOsascript, SinkKindDXVA2)
	}

	// UI
	if c.UI.PreviewWidth <= 0 || c.UI.PreviewHeight <= 0 {
		return errors.New("ui.preview_width and ui.preview_height must be > 0")
	}

	// IPC
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}

	// HTTP
	if c.HTTP.Enabled && c.HTTP.Listen == "" {
		return errors.New("http.enabled is true but http.listen is empty")
	}

	// MQTT
	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.Topic == "" {
			return errors.New("mqtt.topic must not be empty")
		}
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		return errors.New("mqtt.qos must be 0, 1 or 2")
	}
	if c.MQTT.FrameIntervalMS < 0 {
		return errors.New("mqtt.frame_interval_ms must be >= 0")
	}

	// Logging
	if c.Logging.Level == "" {
		return errors.New("logging.level must not be empty")
	}
	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}

	return nil
}

// ToControlParams converts file config into the control loop parameters.
func (c *Config) ToControlParams() ControlParams {
	return ControlParams{
		Threshold:        c.Brightness.Threshold,
		SmoothingEnabled: c.Advanced.SmoothTransitions,
		SmoothingFactor:  c.Brightness.SmoothingFactor,
		Exposure:         c.Camera.Exposure,
		DeviceIndex:      c.Camera.DeviceIndex,
		FPS:              c.Camera.FPS,
		DispatchEvery:    c.Brightness.DispatchEvery,
		MinBrightness:    c.Brightness.MinBrightness,
		MaxBrightness:    c.Brightness.MaxBrightness,
		SinkRetry:        time.Duration(c.Brightness.SinkRetryMS) * time.Millisecond,
		ReadTimeout:      time.Duration(c.Camera.ReadTimeoutMS) * time.Millisecond,
	}.Normalize()
}

// ToSinkConfig converts the sink section.
func (c *Config) ToSinkConfig() SinkConfig {
	return SinkConfig{
		Kind:          c.Sink.Kind,
		SysfsRoot:     ExpandPath(c.Sink.SysfsRoot),
		SysfsDevice:   c.Sink.SysfsDevice,
		OsascriptPath: ExpandPath(c.Sink.OsascriptPath),
		Display:       c.Sink.Display,
		Monitor:       c.Sink.Monitor,
	}
}

// ToMQTTOptions converts the mqtt section.
func (c *Config) ToMQTTOptions() MQTTOptions {
	return MQTTOptions{
		Broker:         c.MQTT.Broker,
		ClientID:       c.MQTT.ClientID,
		Username:       c.MQTT.Username,
		Password:       c.MQTT.Password,
		Topic:          c.MQTT.Topic,
		QoS:            byte(c.MQTT.QoS),
		Retain:         c.MQTT.Retain,
		KeepAlive:      time.Duration(c.MQTT.KeepAliveSec) * time.Second,
		FrameInterval:  time.Duration(c.MQTT.FrameIntervalMS) * time.Millisecond,
		PublishFrames:  c.MQTT.PublishFrames,
		PublishPreview: c.MQTT.PublishPreview,
		Preview:        c.PreviewSize(),
	}
}

func (c *Config) PreviewSize() PreviewSize {
	return PreviewSize{Width: c.UI.PreviewWidth, Height: c.UI.PreviewHeight}
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" {
		return p
	}
	if p[0] != '~' {
		return p
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return p
	}
	if p == "~" {
		return home
	}
	if len(p) >= 2 && (p[1] == '/' || p[1] == '\\') {
		return filepath.Join(home, p[2:])
	}
	return p
}
