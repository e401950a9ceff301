package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/url"
	"os"
	"os/signal"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/gorilla/websocket"

	"volumed/internal/audio"
	"volumed/internal/publish"
)

// frame mirrors publish.Envelope with the payload left undecoded.
type frame struct {
	Type string          `json:"type"`
	Ts   *time.Time      `json:"ts,omitempty"`
	Data json.RawMessage `json:"data,omitempty"`
}

func main() {
	var (
		wsURL  = flag.String("ws", "ws://127.0.0.1:3001/ws/events", "volumed events websocket URL")
		types  = flag.String("types", "", "Comma-separated event types to show (default: all)")
		rawOut = flag.Bool("raw", false, "Print frames as received")
	)
	flag.Parse()

	u, err := url.Parse(*wsURL)
	if err != nil {
		log.Fatalf("invalid websocket URL: %v", err)
	}

	filter := make(map[string]bool)
	for _, t := range strings.Split(*types, ",") {
		if t = strings.TrimSpace(t); t != "" {
			filter[t] = true
		}
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

	// The daemon pings; answering resets our read deadline too.
	conn.SetReadDeadline(time.Now().Add(90 * time.Second))
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(90 * time.Second))
		writeMu.Lock()
		defer writeMu.Unlock()
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(5*time.Second))
	})

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			messageType, message, err := conn.ReadMessage()
			if err != nil {
				if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
					log.Printf("websocket error: %v", err)
				}
				return
			}
			if messageType != websocket.TextMessage {
				fmt.Printf("[BINARY] %d bytes\n", len(message))
				continue
			}
			if *rawOut {
				fmt.Println(string(message))
				continue
			}
			var f frame
			if err := json.Unmarshal(message, &f); err != nil {
				fmt.Printf("[TEXT] %s\n", string(message))
				continue
			}
			if len(filter) > 0 && !filter[f.Type] {
				continue
			}
			fmt.Println(formatFrame(f))
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

// formatFrame renders one event as a single line. Unknown or malformed
// payloads fall back to indented JSON.
func formatFrame(f frame) string {
	ts := ""
	if f.Ts != nil {
		ts = f.Ts.Local().Format("15:04:05.000") + " "
	}

	switch audio.EventKind(f.Type) {
	case audio.EventVolumeChanged:
		var p audio.VolumeChanged
		if json.Unmarshal(f.Data, &p) == nil {
			return fmt.Sprintf("%s[VOLUME] %s %d -> %d (max %d)", ts, p.Stream, p.PrevIndex, p.Index, p.MaxIndex)
		}
	case audio.EventMuteChanged:
		var p audio.MuteChanged
		if json.Unmarshal(f.Data, &p) == nil {
			state := "UNMUTED"
			if p.Muted {
				state = "MUTED"
			}
			return fmt.Sprintf("%s[MUTE] %s %s", ts, p.Stream, state)
		}
	case audio.EventRingerModeChanged:
		var p audio.RingerModeChanged
		if json.Unmarshal(f.Data, &p) == nil {
			return fmt.Sprintf("%s[RINGER] %s -> %s", ts, p.Prev, p.Mode)
		}
	case audio.EventDeviceConnection:
		var p audio.DeviceConnectionChanged
		if json.Unmarshal(f.Data, &p) == nil {
			state := "disconnected"
			if p.Connected {
				state = "connected"
			}
			return strings.TrimSpace(fmt.Sprintf("%s[DEVICE] %s %s %s", ts, p.Device, state, p.Address))
		}
	case audio.EventBecomingNoisy:
		var p audio.BecomingNoisy
		if json.Unmarshal(f.Data, &p) == nil {
			return fmt.Sprintf("%s[NOISY] %s", ts, p.Device)
		}
	case audio.EventMixerStateChanged:
		var p audio.MixerStateChanged
		if json.Unmarshal(f.Data, &p) == nil {
			state := "DOWN"
			if p.Up {
				state = "UP"
			}
			return fmt.Sprintf("%s[MIXER] %s", ts, state)
		}
	case publish.TypeStateInit:
		return fmt.Sprintf("%s[STATE]\n%s", ts, indent(f.Data))
	}

	return fmt.Sprintf("%s[%s]\n%s", ts, strings.ToUpper(f.Type), indent(f.Data))
}

func indent(data json.RawMessage) string {
	var v any
	if err := json.Unmarshal(data, &v); err != nil {
		return string(data)
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return string(data)
	}
	return string(out)
}
