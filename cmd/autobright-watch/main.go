package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
)

// autobright-watch prints the autobrightd state stream.

type message struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

type frame struct {
	Session    int     `json:"session"`
	Frame      int     `json:"frame"`
	Luminance  float64 `json:"luminance"`
	Target     int     `json:"target"`
	Brightness int     `json:"brightness"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:3002/ws/state", "autobrightd state websocket URL")
		frames = flag.Bool("frames", true, "Print per-frame updates")
		raw    = flag.Bool("raw", false, "Print raw JSON messages")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	sigc := make(chan os.Signal, 1)
	signal.Notify(sigc, syscall.SIGINT, syscall.SIGTERM)

	d := websocket.Dialer{
		HandshakeTimeout: 5 * time.Second,
	}

	log.Printf("connecting to %s...", u.String())
	conn, _, err := d.Dial(u.String(), nil)
	if err != nil {
		log.Fatalf("failed to connect: %v", err)
	}
	defer conn.Close()

	log.Printf("connected! (press Ctrl+C to exit)")

	var writeMu sync.Mutex

	// The server pings every 20s; answering is automatic, the deadline just
	// notices a dead daemon.
	_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
	conn.SetPingHandler(func(appData string) error {
		_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(appData), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, payload, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))

			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(payload))
				continue
			}
			if *raw {
				fmt.Println(string(payload))
				continue
			}
			handleMessage(payload, *frames)
		}
	}()

	select {
	case <-sigc:
		log.Printf("shutting down...")
		writeMu.Lock()
		err := conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		writeMu.Unlock()
		if err != nil {
			log.Printf("error closing connection: %v", err)
		}
	case <-done:
		log.Printf("connection closed")
	}
}

// handleMessage prints one envelope in a compact form.
func handleMessage(payload []byte, showFrames bool) {
	var m message
	if err := json.Unmarshal(payload, &m); err != nil {
		fmt.Printf("[TEXT] %s\n", string(payload))
		return
	}

	stamp := ""
	if m.Ts != nil {
		stamp = m.Ts.Local().Format("15:04:05.000") + " "
	}

	switch m.Type {
	case "frame":
		if !showFrames {
			return
		}
		var f frame
		if err := json.Unmarshal(m.Data, &f); err != nil {
			fmt.Printf("%s[FRAME] %s\n", stamp, string(m.Data))
			return
		}
		fmt.Printf("%s[FRAME] #%d luminance=%.1f target=%d brightness=%d\n",
			stamp, f.Frame, f.Luminance, f.Target, f.Brightness)

	default:
		var v map[string]any
		if err := json.Unmarshal(m.Data, &v); err != nil || len(v) == 0 {
			fmt.Printf("%s[%s]\n", stamp, m.Type)
			return
		}
		pretty, _ := json.MarshalIndent(v, "", "  ")
		fmt.Printf("%s[%s]\n%s\n", stamp, m.Type, string(pretty))
	}
}
