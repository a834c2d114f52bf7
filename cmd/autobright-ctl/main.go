package main

import (
	"encoding/json"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"
	"time"
)

// ============================================================================
// autobright-ctl - Command-line IPC Client
// ============================================================================
// Sends actions to autobrightd over its Unix domain socket.
//
// Usage:
//   autobright-ctl start
//   autobright-ctl threshold 180
//   autobright-ctl smoothing on 0.2
//   autobright-ctl status
//
// Options:
//   -socket PATH    Unix domain socket path (default: /tmp/autobright.sock)
// ============================================================================

// Envelope mirrors the daemon's {"type", "data"} wire format.
type Envelope struct {
	Type string `json:"type"`
	Data any    `json:"data,omitempty"`
}

// IPCResponse represents the daemon's response
type IPCResponse struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	State  json.RawMessage `json:"state,omitempty"`
}

func main() {
	socketPath := "/tmp/autobright.sock"

	args := os.Args[1:]
	if len(args) > 0 && (args[0] == "-socket" || args[0] == "--socket") {
		if len(args) < 2 {
			fmt.Fprintf(os.Stderr, "error: -socket requires an argument\n")
			os.Exit(1)
		}
		socketPath = args[1]
		args = args[2:]
	}

	if len(args) == 0 {
		printUsage()
		os.Exit(1)
	}

	if args[0] == "help" || args[0] == "-h" || args[0] == "--help" {
		printUsage()
		return
	}

	env, err := parseCommand(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		printUsage()
		os.Exit(1)
	}

	resp, err := send(socketPath, env)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}

	if len(resp.State) > 0 {
		printState(resp.State)
		return
	}
	fmt.Println("ok")
}

// parseCommand maps command-line words onto an action envelope.
func parseCommand(args []string) (Envelope, error) {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "start":
		return Envelope{Type: "start"}, nil
	case "stop":
		return Envelope{Type: "stop"}, nil
	case "reset":
		return Envelope{Type: "reset"}, nil
	case "status", "state":
		return Envelope{Type: "get_state"}, nil

	case "threshold":
		n, err := intArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: "set_threshold", Data: map[string]int{"threshold": n}}, nil

	case "exposure":
		n, err := intArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: "set_exposure", Data: map[string]int{"exposure": n}}, nil

	case "fps":
		n, err := intArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: "set_fps", Data: map[string]int{"fps": n}}, nil

	case "every":
		n, err := intArg(cmd, rest)
		if err != nil {
			return Envelope{}, err
		}
		return Envelope{Type: "set_dispatch_every", Data: map[string]int{"frames": n}}, nil

	case "range":
		if len(rest) != 2 {
			return Envelope{}, fmt.Errorf("range requires MIN and MAX")
		}
		lo, err := strconv.Atoi(rest[0])
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid MIN: %w", err)
		}
		hi, err := strconv.Atoi(rest[1])
		if err != nil {
			return Envelope{}, fmt.Errorf("invalid MAX: %w", err)
		}
		return Envelope{Type: "set_brightness_range", Data: map[string]int{"min": lo, "max": hi}}, nil

	case "smoothing":
		if len(rest) < 1 || len(rest) > 2 {
			return Envelope{}, fmt.Errorf("smoothing requires on|off [factor]")
		}
		data := map[string]any{}
		switch strings.ToLower(rest[0]) {
		case "on", "true", "1":
			data["enabled"] = true
		case "off", "false", "0":
			data["enabled"] = false
		default:
			return Envelope{}, fmt.Errorf("smoothing: expected on or off, got %q", rest[0])
		}
		if len(rest) == 2 {
			f, err := strconv.ParseFloat(rest[1], 64)
			if err != nil {
				return Envelope{}, fmt.Errorf("invalid smoothing factor: %w", err)
			}
			data["factor"] = f
		}
		return Envelope{Type: "set_smoothing", Data: data}, nil

	default:
		return Envelope{}, fmt.Errorf("unknown command: %s", cmd)
	}
}

func intArg(cmd string, rest []string) (int, error) {
	if len(rest) != 1 {
		return 0, fmt.Errorf("%s requires one integer argument", cmd)
	}
	n, err := strconv.Atoi(rest[0])
	if err != nil {
		return 0, fmt.Errorf("invalid %s value: %w", cmd, err)
	}
	return n, nil
}

func send(socketPath string, env Envelope) (IPCResponse, error) {
	conn, err := net.DialTimeout("unix", socketPath, 2*time.Second)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("connect to %s: %w", socketPath, err)
	}
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(5 * time.Second))

	data, err := json.Marshal(env)
	if err != nil {
		return IPCResponse{}, fmt.Errorf("marshal command: %w", err)
	}

	// Line-delimited JSON
	if _, err := fmt.Fprintf(conn, "%s\n", data); err != nil {
		return IPCResponse{}, fmt.Errorf("send command: %w", err)
	}

	var response IPCResponse
	if err := json.NewDecoder(conn).Decode(&response); err != nil {
		return IPCResponse{}, fmt.Errorf("decode response: %w", err)
	}
	if response.Status == "error" {
		return response, fmt.Errorf("daemon error: %s", response.Error)
	}
	return response, nil
}

func printState(raw json.RawMessage) {
	var v map[string]any
	if err := json.Unmarshal(raw, &v); err != nil {
		fmt.Println(string(raw))
		return
	}
	pretty, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(pretty))
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `autobright-ctl - Control autobrightd via IPC

Usage:
  autobright-ctl [options] <command> [args]

Options:
  -socket PATH    Unix domain socket path (default: /tmp/autobright.sock)

Commands:
  start                      Start capturing
  stop                       Stop capturing and release the camera
  reset                      Restart capture with fresh smoothing state
  threshold <N>              Luminance mapped to 100%% brightness (1..255)
  exposure <N>               Camera exposure (applied on next start/reset)
  smoothing on|off [alpha]   Toggle smoothing; alpha applies on next start/reset
  fps <N>                    Sampling rate
  every <N>                  Send brightness every N frames
  range <MIN> <MAX>          Output brightness range (0..100)
  status                     Print the daemon state
  help, -h, --help           Show this help message

Examples:
  autobright-ctl threshold 170
  autobright-ctl smoothing on 0.2
  autobright-ctl -socket /run/autobright.sock status
`)
}
