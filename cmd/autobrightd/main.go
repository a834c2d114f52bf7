package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"golang.org/x/sync/errgroup"
)

const version = "1.0.0"

const defaultConfigPath = "~/.config/autobright/config.yaml"

func printVersion() {
	fmt.Printf("autobrightd v%s\n", version)
	fmt.Println("Webcam-driven automatic display brightness daemon")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  autobrightd [OPTIONS]")
	fmt.Println("  autobrightd init-config [-config PATH] [-force]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Samples ambient light from a webcam, smooths it and drives the display")
	fmt.Println("  backlight. Controlled over a Unix socket (autobright-ctl) and optionally")
	fmt.Println("  MQTT; state is streamed over WebSocket.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        YAML config file (default %q; missing default file = built-in defaults)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -device int")
	fmt.Printf("        Camera device index (default %d)\n", defaultDeviceIndex)
	fmt.Println()
	fmt.Println("  -fps int")
	fmt.Printf("        Sampling rate in frames per second, %d..%d (default %d)\n", minFPS, maxFPS, defaultFPS)
	fmt.Println()
	fmt.Println("  -exposure int")
	fmt.Printf("        Manual camera exposure, %d..%d (default %d)\n", minExposure, maxExposure, defaultExposure)
	fmt.Println()
	fmt.Println("  -threshold int")
	fmt.Printf("        Luminance mapped to 100%% brightness, %d..%d (default %d)\n", minThreshold, maxThreshold, defaultThreshold)
	fmt.Println()
	fmt.Println("  -smoothing-factor float")
	fmt.Printf("        Exponential smoothing factor in (0,1] (default %.1f)\n", defaultSmoothingFactor)
	fmt.Println()
	fmt.Println("  -smoothing")
	fmt.Println("        Enable smooth transitions (default true)")
	fmt.Println()
	fmt.Println("  -sink string")
	fmt.Println("        Brightness sink: auto|none|sysfs|osascript|dxva2 (default \"auto\")")
	fmt.Println()
	fmt.Println("  -sysfs-device string")
	fmt.Println("        Backlight device under /sys/class/backlight (default: first found)")
	fmt.Println()
	fmt.Println("  -autostart")
	fmt.Println("        Start capturing immediately (default true)")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Printf("        Unix domain socket path for IPC (default %q)\n", defaultIPCSocketPath)
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Printf("        HTTP/WebSocket listen address, empty disables (default %q)\n", defaultStateWSListen)
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL (e.g. tcp://127.0.0.1:1883); enables MQTT when set")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -log-file string")
	fmt.Println("        Also append logs to this file")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("SUBCOMMANDS:")
	fmt.Println("  init-config")
	fmt.Println("        Write the default configuration file")
	fmt.Println()
	fmt.Println("ENDPOINTS:")
	fmt.Println("  ws://<http-listen>/ws/state   state stream")
	fmt.Println("  http://<http-listen>/api/state   current state (JSON)")
	fmt.Println("  http://<http-listen>/preview.jpg   luminance preview")
	fmt.Println()
	fmt.Println("NOTES:")
	fmt.Println("  - Linux: write access to /sys/class/backlight/*/brightness is required")
	fmt.Println("    (udev rule or 'video' group)")
	fmt.Println("  - macOS: the launching app needs Accessibility access")
	fmt.Println()
}

func main() {
	if len(os.Args) > 1 && os.Args[1] == "init-config" {
		runInitConfigSubcommand(os.Args[2:])
		return
	}

	for _, arg := range os.Args[1:] {
		if arg == "-version" || arg == "--version" {
			printVersion()
			return
		}
		if arg == "-help" || arg == "--help" || arg == "-h" {
			printUsage()
			return
		}
	}

	var (
		configPath      = flag.String("config", defaultConfigPath, "YAML config file")
		deviceIndex     = flag.Int("device", defaultDeviceIndex, "Camera device index")
		fps             = flag.Int("fps", defaultFPS, "Sampling rate in frames per second")
		exposure        = flag.Int("exposure", defaultExposure, "Manual camera exposure")
		threshold       = flag.Int("threshold", defaultThreshold, "Luminance mapped to 100% brightness")
		smoothingFactor = flag.Float64("smoothing-factor", defaultSmoothingFactor, "Exponential smoothing factor in (0,1]")
		smoothing       = flag.Bool("smoothing", true, "Enable smooth transitions")
		sinkKind        = flag.String("sink", SinkKindAuto, "Brightness sink: auto|none|sysfs|osascript|dxva2")
		sysfsDevice     = flag.String("sysfs-device", "", "Backlight device under /sys/class/backlight")
		autostart       = flag.Bool("autostart", true, "Start capturing immediately")
		ipcSocketPath   = flag.String("ipc-socket", defaultIPCSocketPath, "Unix domain socket path for IPC")
		httpListen      = flag.String("http-listen", defaultStateWSListen, "HTTP/WebSocket listen address (empty disables)")
		mqttBroker      = flag.String("mqtt-broker", "", "MQTT broker URL; enables MQTT when set")
		logLevelStr     = flag.String("log-level", "info", "Log level: error, warn, info, debug")
		logFile         = flag.String("log-file", "", "Also append logs to this file")
		_               = flag.Bool("version", false, "Print version and exit")
		_               = flag.Bool("help", false, "Print help message")
	)

	flag.Usage = printUsage
	flag.Parse()

	// Only flags given on the command line override the config file.
	var o FlagOverrides
	configExplicit := false
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "config":
			configExplicit = true
		case "device":
			o.DeviceIndex = deviceIndex
		case "fps":
			o.FPS = fps
		case "exposure":
			o.Exposure = exposure
		case "threshold":
			o.Threshold = threshold
		case "smoothing-factor":
			o.SmoothingFactor = smoothingFactor
		case "smoothing":
			o.Smoothing = smoothing
		case "sink":
			o.SinkKind = sinkKind
		case "sysfs-device":
			o.SysfsDevice = sysfsDevice
		case "autostart":
			o.Autostart = autostart
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "http-listen":
			o.HTTPListen = httpListen
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "log-level":
			o.LogLevel = logLevelStr
		case "log-file":
			o.LogFile = logFile
		}
	})

	cfg, err := loadConfig(*configPath, configExplicit)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	o.Apply(&cfg)
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error: invalid config:", err)
		os.Exit(1)
	}

	logLevel, err := parseLogLevel(cfg.Logging.Level)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	out, closeLog, err := openLogOutput(cfg.Logging.File)
	if err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	defer closeLog()

	logger := setupLogger(logLevel, out)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("daemon exited with error", "error", err)
		stop()
		_ = closeLog()
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

// loadConfig reads path on top of the defaults. A missing file is only an
// error when the path was given explicitly.
func loadConfig(path string, explicit bool) (Config, error) {
	cfg, err := LoadConfigFile(path)
	if err == nil {
		return cfg, nil
	}
	if !explicit && errors.Is(err, os.ErrNotExist) {
		return DefaultConfig(), nil
	}
	return Config{}, err
}

// run wires the daemon and its collaborators and blocks until ctx is
// canceled or one of them fails.
func run(ctx context.Context, cfg Config, logger *slog.Logger) error {
	params := cfg.ToControlParams()

	logger.Debug("starting autobrightd", "version", version)
	logger.Debug("configuration",
		"device", params.DeviceIndex,
		"fps", params.FPS,
		"exposure", params.Exposure,
		"threshold", params.Threshold,
		"smoothing", params.SmoothingEnabled,
		"smoothing_factor", params.SmoothingFactor,
		"dispatch_every", params.DispatchEvery,
		"min_brightness", params.MinBrightness,
		"max_brightness", params.MaxBrightness,
		"sink", cfg.Sink.Kind,
		"ipc_socket", cfg.IPC.SocketPath,
		"http_listen", cfg.HTTP.Listen,
		"mqtt_enabled", cfg.MQTT.Enabled)

	sink := NewBrightnessSink(cfg.ToSinkConfig(), logger)
	defer sink.Close()
	probeSink(ctx, sink, logger)

	env := Effects{
		Sampler: newCameraSampler(),
		Sink:    sink,
	}

	// Central event bus
	events := make(chan Event, 64)

	notifiers := multiNotifier{logNotifier{logger: logger}}

	g, gctx := errgroup.WithContext(ctx)

	// State WebSocket + HTTP endpoints
	if cfg.HTTP.Enabled {
		wsNotes := make(chan Notification, 256)
		notifiers = append(notifiers, newChannelNotifier("ws", wsNotes, logger))

		ws := NewServer(logger, events, ServerConfig{})
		mux := newHTTPMux(ws, events, cfg.PreviewSize(), logger)

		g.Go(func() error {
			ws.Hub().Run(gctx)
			return nil
		})
		g.Go(func() error {
			RunBroadcaster(gctx, ws.Hub(), wsNotes, logger)
			return nil
		})
		g.Go(func() error {
			return runHTTPServer(gctx, cfg.HTTP.Listen, mux, logger)
		})
	}

	// MQTT
	if cfg.MQTT.Enabled {
		mqttNotes := make(chan Notification, 256)
		notifiers = append(notifiers, newChannelNotifier("mqtt", mqttNotes, logger))

		opts := cfg.ToMQTTOptions()
		g.Go(func() error {
			return runMQTT(gctx, opts, events, mqttNotes, logger)
		})
	}

	g.Go(func() error {
		return runIPCServer(gctx, ExpandPath(cfg.IPC.SocketPath), events, logger)
	})

	g.Go(func() error {
		runDaemon(gctx, events, env, NewDaemonState(params), notifiers, logger)
		return nil
	})

	if cfg.Advanced.Autostart {
		events <- StartCapture{}
	}

	logger.Info("listening",
		"ipc", cfg.IPC.SocketPath,
		"http", cfg.HTTP.Listen,
		"sink", sink.Name(),
		"autostart", cfg.Advanced.Autostart)

	err := g.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// probeSink logs whether the sink is writable and what it currently reports.
func probeSink(ctx context.Context, sink BrightnessSink, logger *slog.Logger) {
	ctx, cancel := context.WithTimeout(ctx, sinkCallTimeout)
	defer cancel()

	if p, ok := sink.(sinkProber); ok {
		if err := p.Probe(ctx); err != nil {
			if isPermissionDenied(err) {
				logger.Warn("brightness sink not writable", "sink", sink.Name(), "error", err, "tip", permissionGuidance)
			} else {
				logger.Warn("brightness sink probe failed", "sink", sink.Name(), "error", err)
			}
		}
	}

	level, err := sink.Brightness(ctx)
	if err != nil {
		logger.Debug("current brightness unknown", "sink", sink.Name(), "error", err)
		return
	}
	logger.Info("current display brightness", "sink", sink.Name(), "level", level)
}

func printInitConfigUsage() {
	fmt.Printf("autobrightd init-config v%s\n", version)
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  autobrightd init-config [OPTIONS]")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Printf("        Where to write the file (default %q)\n", defaultConfigPath)
	fmt.Println()
	fmt.Println("  -force")
	fmt.Println("        Overwrite an existing file")
	fmt.Println()
}

// runInitConfigSubcommand writes DefaultConfig to disk.
func runInitConfigSubcommand(args []string) {
	fs := flag.NewFlagSet("init-config", flag.ExitOnError)
	path := fs.String("config", defaultConfigPath, "Where to write the file")
	force := fs.Bool("force", false, "Overwrite an existing file")
	showHelp := fs.Bool("help", false, "Print help message")
	fs.Usage = printInitConfigUsage
	_ = fs.Parse(args)

	if *showHelp {
		printInitConfigUsage()
		return
	}

	if err := SaveConfigFile(*path, DefaultConfig(), *force); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
	fmt.Printf("wrote %s\n", ExpandPath(*path))
}
