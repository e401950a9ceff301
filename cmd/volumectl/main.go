package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"volumed/internal/ipc"
)

// ============================================================================
// volumectl - Command-line IPC Client
// ============================================================================
// Sends one request to the volumed daemon and prints the reply.
//
// Usage:
//   volumectl get music
//   volumectl set music 9
//   volumectl up ring show_ui
//   volumectl -hold mute music
//
// Mutes belong to the connection that took them. Without -hold the mute is
// released as soon as volumectl exits; with -hold it keeps the connection
// open until interrupted.
// ============================================================================

const defaultSocket = "/tmp/volumed.sock"

type request struct {
	typ  string
	data any
	// hold marks requests that are pointless without -hold.
	hold bool
}

var errUsage = errors.New("usage")

func main() {
	socketPath := defaultSocket
	timeout := 2 * time.Second
	hold := false

	args := os.Args[1:]
	for len(args) > 0 && strings.HasPrefix(args[0], "-") {
		switch strings.TrimLeft(args[0], "-") {
		case "socket":
			if len(args) < 2 {
				fail(errors.New("-socket requires an argument"))
			}
			socketPath = args[1]
			args = args[2:]
		case "timeout":
			if len(args) < 2 {
				fail(errors.New("-timeout requires an argument"))
			}
			d, err := time.ParseDuration(args[1])
			if err != nil {
				fail(fmt.Errorf("invalid timeout: %w", err))
			}
			timeout = d
			args = args[2:]
		case "hold":
			hold = true
			args = args[1:]
		case "h", "help":
			printUsage()
			os.Exit(0)
		default:
			fail(fmt.Errorf("unknown option: %s", args[0]))
		}
	}

	req, err := parseCommand(args)
	if errors.Is(err, errUsage) {
		printUsage()
		os.Exit(1)
	}
	if err != nil {
		fail(err)
	}
	if req.hold && !hold {
		fmt.Fprintln(os.Stderr, "warning: mute is released when volumectl exits; use -hold to keep it")
	}

	client, err := ipc.Dial(socketPath, timeout)
	if err != nil {
		fail(err)
	}
	defer client.Close() //nolint:errcheck

	var reply json.RawMessage
	if err := client.Call(req.typ, req.data, &reply); err != nil {
		fail(err)
	}
	printReply(reply)

	if hold {
		ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()
		fmt.Fprintln(os.Stderr, "holding, press Ctrl-C to release")
		<-ctx.Done()
	}
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

func printReply(reply json.RawMessage) {
	if len(reply) == 0 {
		fmt.Println("ok")
		return
	}
	var v any
	if err := json.Unmarshal(reply, &v); err != nil {
		fmt.Println(string(reply))
		return
	}
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		fmt.Println(string(reply))
		return
	}
	fmt.Println(string(out))
}

// parseCommand turns command line words into an IPC request.
func parseCommand(args []string) (request, error) {
	if len(args) == 0 {
		return request{}, errUsage
	}
	cmd, rest := args[0], args[1:]

	need := func(n int, what string) error {
		if len(rest) < n {
			return fmt.Errorf("%s requires %s", cmd, what)
		}
		return nil
	}

	switch cmd {
	case "get":
		if err := need(1, "a stream"); err != nil {
			return request{}, err
		}
		return request{typ: ipc.TypeGetVolume, data: ipc.StreamRequest{Stream: rest[0]}}, nil

	case "set":
		if err := need(2, "a stream and an index"); err != nil {
			return request{}, err
		}
		index, err := strconv.Atoi(rest[1])
		if err != nil {
			return request{}, fmt.Errorf("invalid index %q", rest[1])
		}
		return request{typ: ipc.TypeSetVolume, data: ipc.SetVolumeRequest{Stream: rest[0], Index: index, Flags: rest[2:]}}, nil

	case "up", "down":
		if err := need(1, "a stream"); err != nil {
			return request{}, err
		}
		dir := "raise"
		if cmd == "down" {
			dir = "lower"
		}
		return request{typ: ipc.TypeAdjustVolume, data: ipc.AdjustVolumeRequest{Stream: rest[0], Direction: dir, Flags: rest[1:]}}, nil

	case "mute", "unmute", "solo", "unsolo":
		if err := need(1, "a stream"); err != nil {
			return request{}, err
		}
		typ := ipc.TypeSetMute
		if strings.HasSuffix(cmd, "solo") {
			typ = ipc.TypeSetSolo
		}
		on := !strings.HasPrefix(cmd, "un")
		return request{typ: typ, data: ipc.MuteRequest{Stream: rest[0], State: on}, hold: on}, nil

	case "ringer":
		if len(rest) == 0 {
			return request{typ: ipc.TypeGetRingerMode}, nil
		}
		return request{typ: ipc.TypeSetRingerMode, data: ipc.RingerModeRequest{Mode: rest[0]}}, nil

	case "vibrate":
		if err := need(1, "a vibrate type"); err != nil {
			return request{}, err
		}
		if len(rest) == 1 {
			return request{typ: ipc.TypeGetVibrate, data: ipc.VibrateRequest{Type: rest[0]}}, nil
		}
		return request{typ: ipc.TypeSetVibrate, data: ipc.VibrateRequest{Type: rest[0], Setting: rest[1]}}, nil

	case "speakerphone", "sco":
		if err := need(1, "on or off"); err != nil {
			return request{}, err
		}
		on, err := parseOnOff(rest[0])
		if err != nil {
			return request{}, err
		}
		typ := ipc.TypeSetSpeakerphone
		if cmd == "sco" {
			typ = ipc.TypeSetBluetoothSco
		}
		return request{typ: typ, data: ipc.SwitchRequest{On: on}}, nil

	case "routing":
		return request{typ: ipc.TypeGetCommRouting}, nil

	case "connect", "disconnect":
		if err := need(1, "a device class"); err != nil {
			return request{}, err
		}
		ev := ipc.DeviceEventRequest{Device: rest[0], Connected: cmd == "connect"}
		for _, opt := range rest[1:] {
			switch {
			case opt == "dock":
				ev.Dock = true
			case strings.HasPrefix(opt, "name="):
				ev.Name = strings.TrimPrefix(opt, "name=")
			default:
				ev.Address = opt
			}
		}
		return request{typ: ipc.TypeDeviceEvent, data: ev}, nil

	case "devices":
		return request{typ: ipc.TypeGetDevices}, nil

	case "link-notification":
		if err := need(1, "on or off"); err != nil {
			return request{}, err
		}
		on, err := parseOnOff(rest[0])
		if err != nil {
			return request{}, err
		}
		return request{typ: ipc.TypeSetNotificationLink, data: ipc.SwitchRequest{On: on}}, nil

	case "reload":
		return request{typ: ipc.TypeReload}, nil
	case "snapshot", "status":
		return request{typ: ipc.TypeSnapshot}, nil
	case "ping":
		return request{typ: ipc.TypePing}, nil
	case "help":
		return request{}, errUsage
	default:
		return request{}, fmt.Errorf("unknown command: %s", cmd)
	}
}

func parseOnOff(s string) (bool, error) {
	switch strings.ToLower(s) {
	case "on", "true", "1", "yes":
		return true, nil
	case "off", "false", "0", "no":
		return false, nil
	default:
		return false, fmt.Errorf("expected on or off, got %q", s)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `volumectl - Control the volumed daemon via IPC

Usage:
  volumectl [options] <command> [args]

Options:
  -socket PATH      Unix domain socket path (default: %s)
  -timeout DUR      Request timeout (default: 2s)
  -hold             Keep the connection (and its mutes) until interrupted

Commands:
  get <stream>                      Show a stream's volume
  set <stream> <index> [flags...]   Set an absolute index in user steps
  up|down <stream> [flags...]       Step a stream one notch
  mute|unmute <stream>              Mute or unmute for this connection
  solo|unsolo <stream>              Mute every other mute-affected stream
  ringer [normal|vibrate|silent]    Show or set the ringer mode
  vibrate <type> [setting]          Show or set a vibrate setting
  speakerphone|sco on|off           Force communication routing
  routing                           Show communication routing
  connect|disconnect <device> [address] [dock] [name=N]
                                    Report a device change
  devices                           List connected devices
  link-notification on|off          Tie the notification volume to the ring volume
  reload                            Reload persisted settings
  snapshot                          Dump the full engine state
  ping                              Check the daemon is alive

Streams: voice_call system ring music alarm notification bluetooth_sco
         system_enforced dtmf tts
Flags:   show_ui allow_ringer_modes play_sound remove_sound_and_vibrate vibrate

Examples:
  volumectl up music show_ui
  volumectl -hold mute ring
  volumectl connect bluetooth_a2dp 00:11:22:33:44:55 name=Speaker
`, defaultSocket)
}
