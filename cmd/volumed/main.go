package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
)

const version = "0.3.0"

func printVersion() {
	fmt.Printf("volumed v%s\n", version)
	fmt.Println("Volume and audio routing daemon for CamillaDSP")
}

func printUsage() {
	printVersion()
	fmt.Println()
	fmt.Println("USAGE:")
	fmt.Println("  volumed [OPTIONS]")
	fmt.Println()
	fmt.Println("DESCRIPTION:")
	fmt.Println("  Keeps per-stream volume, mute, ringer mode and output routing state and")
	fmt.Println("  applies it to CamillaDSP over WebSocket. Clients talk to it through a")
	fmt.Println("  Unix socket (see volumectl); state changes are pushed to WebSocket")
	fmt.Println("  listeners and optionally to MQTT.")
	fmt.Println()
	fmt.Println("OPTIONS:")
	fmt.Println("  -config string")
	fmt.Println("        Path to YAML config file (defaults are used when empty)")
	fmt.Println()
	fmt.Println("  -camilladsp-ws-url string")
	fmt.Println("        CamillaDSP websocket URL (default \"ws://127.0.0.1:1234\")")
	fmt.Println()
	fmt.Println("  -ipc-socket string")
	fmt.Println("        Unix domain socket path for IPC (default \"/tmp/volumed.sock\")")
	fmt.Println()
	fmt.Println("  -settings-db string")
	fmt.Println("        SQLite settings database (default \"~/.local/state/volumed/settings.db\")")
	fmt.Println()
	fmt.Println("  -http-listen string")
	fmt.Println("        Address for /ws/events and /metrics, empty disables (default \"127.0.0.1:3001\")")
	fmt.Println()
	fmt.Println("  -mqtt-broker string")
	fmt.Println("        MQTT broker URL, enables the MQTT publisher when set")
	fmt.Println()
	fmt.Println("  -input-device string")
	fmt.Println("        Linux input event device with jack switches and volume keys")
	fmt.Println()
	fmt.Println("  -log-level string")
	fmt.Println("        Log level: error, warn, info, debug (default \"info\")")
	fmt.Println()
	fmt.Println("  -version")
	fmt.Println("        Print version and exit")
	fmt.Println()
	fmt.Println("  -help")
	fmt.Println("        Print this help message")
	fmt.Println()
	fmt.Println("EXAMPLES:")
	fmt.Println("  volumed -config /etc/volumed.yaml")
	fmt.Println("  volumed -camilladsp-ws-url ws://192.168.1.100:1234 -input-device /dev/input/event3")
	fmt.Println()
}

func main() {
	fs := flag.NewFlagSet("volumed", flag.ExitOnError)
	var (
		configPath    = fs.String("config", "", "Path to YAML config file")
		camillaWsURL  = fs.String("camilladsp-ws-url", "", "CamillaDSP websocket URL")
		ipcSocketPath = fs.String("ipc-socket", "", "Unix domain socket path for IPC")
		settingsPath  = fs.String("settings-db", "", "SQLite settings database")
		httpListen    = fs.String("http-listen", "", "Address for the events and metrics listener")
		mqttBroker    = fs.String("mqtt-broker", "", "MQTT broker URL")
		inputDevice   = fs.String("input-device", "", "Linux input event device")
		logLevel      = fs.String("log-level", "", "Log level: error, warn, info, debug")
		showVersion   = fs.Bool("version", false, "Print version and exit")
		showHelp      = fs.Bool("help", false, "Print help message")
	)
	fs.Usage = printUsage
	fs.Parse(os.Args[1:]) //nolint:errcheck // ExitOnError

	if *showHelp {
		printUsage()
		return
	}
	if *showVersion {
		printVersion()
		return
	}

	cfg := DefaultConfig()
	if *configPath != "" {
		loaded, err := LoadConfigFile(*configPath)
		if err != nil {
			fmt.Fprintln(os.Stderr, "error:", err)
			os.Exit(1)
		}
		cfg = loaded
	}

	// Only flags given on the command line override the file.
	var o FlagOverrides
	fs.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "camilladsp-ws-url":
			o.CamillaWsURL = camillaWsURL
		case "ipc-socket":
			o.IPCSocketPath = ipcSocketPath
		case "settings-db":
			o.SettingsPath = settingsPath
		case "http-listen":
			o.HTTPListen = httpListen
		case "mqtt-broker":
			o.MQTTBroker = mqttBroker
		case "input-device":
			o.InputDevice = inputDevice
		case "log-level":
			o.LogLevel = logLevel
		}
	})
	o.Apply(&cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}

	level, _ := parseLogLevel(cfg.Logging.Level)
	logger := setupLogger(os.Stdout, level)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Info("starting volumed", "version", version, "config", *configPath)
	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("volumed stopped", "error", err)
		os.Exit(1)
	}
	logger.Info("shut down cleanly")
}
