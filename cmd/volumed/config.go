package main

import (
	"bytes"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"volumed/internal/audio"
	"volumed/internal/camilla"
	"volumed/internal/input"
	"volumed/internal/publish"
	"volumed/internal/volume"
)

// Config is the top-level YAML configuration for the volumed daemon.
//
// The file is the primary configuration surface; flags only override a few
// commonly tweaked values. Defaults and validation live here so the rest of
// the daemon can assume a well-formed config.
type Config struct {
	Engine     EngineConfig     `yaml:"engine"`
	CamillaDSP CamillaDSPConfig `yaml:"camilladsp"`
	Settings   SettingsConfig   `yaml:"settings"`
	IPC        IPCConfig        `yaml:"ipc"`
	HTTP       HTTPConfig       `yaml:"http"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Input      InputConfig      `yaml:"input"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// EngineConfig tunes the volume engine. Stream-keyed maps only need the
// streams that differ from the built-in defaults.
type EngineConfig struct {
	Profile                  string         `yaml:"profile"`
	NotificationLinkedToRing bool           `yaml:"notification_linked_to_ring"`
	DefaultRingerMode        string         `yaml:"default_ringer_mode"`
	MaxIndex                 map[string]int `yaml:"max_index,omitempty"`
	DefaultIndex             map[string]int `yaml:"default_index,omitempty"`
	RingerAffected           []string       `yaml:"ringer_affected,omitempty"`
	MuteAffected             []string       `yaml:"mute_affected,omitempty"`
	PersistDelayMS           int            `yaml:"persist_delay_ms"`
	HeartbeatMS              int            `yaml:"heartbeat_ms"`
	QueueCapacity            int            `yaml:"queue_capacity"`
}

type CamillaDSPConfig struct {
	WsURL           string            `yaml:"ws_url"`
	TimeoutMS       int               `yaml:"timeout_ms"`
	ConnectAttempts int               `yaml:"connect_attempts"`
	RetryDelayMS    int               `yaml:"retry_delay_ms"`
	MinDB           float64           `yaml:"min_db"`
	MaxDB           float64           `yaml:"max_db"`
	Faders          map[string]int    `yaml:"faders"`
	Routes          map[string]string `yaml:"routes,omitempty"`
}

type SettingsConfig struct {
	Path string `yaml:"path"`
}

type IPCConfig struct {
	SocketPath string `yaml:"socket_path"`
}

// HTTPConfig controls the event WebSocket and metrics listener. An empty
// listen address disables it.
type HTTPConfig struct {
	Listen      string `yaml:"listen"`
	EventsPath  string `yaml:"events_path"`
	MetricsPath string `yaml:"metrics_path"`
}

type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"`
	ClientID    string `yaml:"client_id"`
	Username    string `yaml:"username,omitempty"`
	PasswordEnv string `yaml:"password_env,omitempty"`
	TopicPrefix string `yaml:"topic_prefix"`
	QoS         int    `yaml:"qos"`
	Retain      bool   `yaml:"retain"`
}

// InputConfig lists the evdev devices carrying jack switches and volume keys.
// No devices disables the reader.
type InputConfig struct {
	Devices   []string `yaml:"devices,omitempty"`
	KeyStream string   `yaml:"key_stream"`
	DockKind  string   `yaml:"dock_kind"`
}

type LoggingConfig struct {
	Level string `yaml:"level"`
}

// DefaultConfig returns a fully-populated Config with defaults.
func DefaultConfig() Config {
	return Config{
		Engine: EngineConfig{
			Profile:                  volume.ProfilePhone,
			NotificationLinkedToRing: true,
			DefaultRingerMode:        "normal",
			PersistDelayMS:           3000,
			HeartbeatMS:              2000,
			QueueCapacity:            4096,
		},
		CamillaDSP: CamillaDSPConfig{
			WsURL:           "ws://127.0.0.1:1234",
			TimeoutMS:       500,
			ConnectAttempts: 3,
			RetryDelayMS:    500,
			MinDB:           -65.0,
			MaxDB:           0.0,
			Faders:          map[string]int{"music": 0},
		},
		Settings: SettingsConfig{
			Path: "~/.local/state/volumed/settings.db",
		},
		IPC: IPCConfig{
			SocketPath: "/tmp/volumed.sock",
		},
		HTTP: HTTPConfig{
			Listen:      "127.0.0.1:3001",
			EventsPath:  "/ws/events",
			MetricsPath: "/metrics",
		},
		MQTT: MQTTConfig{
			ClientID:    "volumed",
			TopicPrefix: "volumed",
			QoS:         1,
			Retain:      true,
		},
		Input: InputConfig{
			KeyStream: "music",
			DockKind:  "desk",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// LoadConfigFile reads a YAML config file on top of the defaults. Unknown
// fields are rejected so typos surface at startup.
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

	// Only whitespace and comments may follow the document.
	if err := dec.Decode(&struct{}{}); err == nil {
		return Config{}, fmt.Errorf("decode config yaml: unexpected trailing document")
	}

	return cfg, nil
}

// FlagOverrides carries the flags the user actually set. Nil pointers are
// ignored; set values are applied even when they are zero.
type FlagOverrides struct {
	CamillaWsURL  *string
	IPCSocketPath *string
	SettingsPath  *string
	HTTPListen    *string
	MQTTBroker    *string
	InputDevice   *string
	LogLevel      *string
}

// Apply merges the overrides into cfg.
func (o FlagOverrides) Apply(cfg *Config) {
	if cfg == nil {
		return
	}
	if o.CamillaWsURL != nil {
		cfg.CamillaDSP.WsURL = *o.CamillaWsURL
	}
	if o.IPCSocketPath != nil {
		cfg.IPC.SocketPath = *o.IPCSocketPath
	}
	if o.SettingsPath != nil {
		cfg.Settings.Path = *o.SettingsPath
	}
	if o.HTTPListen != nil {
		cfg.HTTP.Listen = *o.HTTPListen
	}
	if o.MQTTBroker != nil {
		cfg.MQTT.Broker = *o.MQTTBroker
		cfg.MQTT.Enabled = *o.MQTTBroker != ""
	}
	if o.InputDevice != nil {
		cfg.Input.Devices = nil
		if *o.InputDevice != "" {
			cfg.Input.Devices = []string{*o.InputDevice}
		}
	}
	if o.LogLevel != nil {
		cfg.Logging.Level = *o.LogLevel
	}
}

// Validate checks config invariants and returns a user-friendly error. It is
// called after defaults, file and overrides are applied.
func (c *Config) Validate() error {
	if c.Engine.HeartbeatMS <= 0 {
		return errors.New("engine.heartbeat_ms must be > 0")
	}
	if c.Engine.PersistDelayMS < 0 {
		return errors.New("engine.persist_delay_ms must be >= 0")
	}
	if c.Engine.QueueCapacity < 0 {
		return errors.New("engine.queue_capacity must be >= 0")
	}
	engineCfg, err := c.EngineConfig()
	if err != nil {
		return err
	}

	if c.CamillaDSP.WsURL == "" {
		return errors.New("camilladsp.ws_url must not be empty")
	}
	if c.CamillaDSP.TimeoutMS <= 0 {
		return errors.New("camilladsp.timeout_ms must be > 0")
	}
	if c.CamillaDSP.ConnectAttempts <= 0 {
		return errors.New("camilladsp.connect_attempts must be > 0")
	}
	if _, err := c.SinkConfig(engineCfg); err != nil {
		return err
	}

	if c.Settings.Path == "" {
		return errors.New("settings.path must not be empty")
	}
	if c.IPC.SocketPath == "" {
		return errors.New("ipc.socket_path must not be empty")
	}
	if c.HTTP.Listen != "" {
		if !strings.HasPrefix(c.HTTP.EventsPath, "/") {
			return errors.New("http.events_path must start with /")
		}
		if !strings.HasPrefix(c.HTTP.MetricsPath, "/") {
			return errors.New("http.metrics_path must start with /")
		}
		if c.HTTP.EventsPath == c.HTTP.MetricsPath {
			return errors.New("http.events_path and http.metrics_path must differ")
		}
	}

	if c.MQTT.Enabled {
		if c.MQTT.Broker == "" {
			return errors.New("mqtt.enabled is true but mqtt.broker is empty")
		}
		if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
			return errors.New("mqtt.qos must be 0, 1 or 2")
		}
	}

	if _, err := c.HandlerConfig(); err != nil {
		return err
	}
	for i, dev := range c.Input.Devices {
		if dev == "" {
			return fmt.Errorf("input.devices[%d] is empty", i)
		}
	}

	if _, err := parseLogLevel(c.Logging.Level); err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	return nil
}

// EngineConfig converts the engine section into volume.Config.
func (c *Config) EngineConfig() (volume.Config, error) {
	out := volume.DefaultConfig()
	out.Profile = c.Engine.Profile
	out.NotificationLinkedToRing = c.Engine.NotificationLinkedToRing
	out.PersistDelay = time.Duration(c.Engine.PersistDelayMS) * time.Millisecond

	mode, err := audio.ParseRingerMode(c.Engine.DefaultRingerMode)
	if err != nil {
		return volume.Config{}, fmt.Errorf("engine.default_ringer_mode: %w", err)
	}
	out.DefaultRingerMode = mode

	for name, v := range c.Engine.MaxIndex {
		st, err := audio.ParseStreamType(name)
		if err != nil {
			return volume.Config{}, fmt.Errorf("engine.max_index: %w", err)
		}
		out.MaxIndex[st] = v
	}
	var explicit audio.StreamSet
	for name, v := range c.Engine.DefaultIndex {
		st, err := audio.ParseStreamType(name)
		if err != nil {
			return volume.Config{}, fmt.Errorf("engine.default_index: %w", err)
		}
		out.DefaultIndex[st] = v
		explicit = explicit.With(st)
	}
	// Lowering a ceiling below the built-in default level drags the default
	// down with it unless the default was set explicitly.
	for _, st := range audio.AllStreams() {
		if !explicit.Has(st) && out.DefaultIndex[st] > out.MaxIndex[st] {
			out.DefaultIndex[st] = out.MaxIndex[st]
		}
	}

	if c.Engine.RingerAffected != nil {
		set, err := parseStreamSet(c.Engine.RingerAffected)
		if err != nil {
			return volume.Config{}, fmt.Errorf("engine.ringer_affected: %w", err)
		}
		out.RingerAffected = set
	}
	if c.Engine.MuteAffected != nil {
		set, err := parseStreamSet(c.Engine.MuteAffected)
		if err != nil {
			return volume.Config{}, fmt.Errorf("engine.mute_affected: %w", err)
		}
		out.MuteAffected = set
	}

	if err := out.Validate(); err != nil {
		return volume.Config{}, fmt.Errorf("engine: %w", err)
	}
	return out, nil
}

// SinkConfig converts the camilladsp section. Fader scaling follows the
// engine's internal index range.
func (c *Config) SinkConfig(engineCfg volume.Config) (camilla.SinkConfig, error) {
	faders := make(map[audio.StreamType]int, len(c.CamillaDSP.Faders))
	for name, f := range c.CamillaDSP.Faders {
		st, err := audio.ParseStreamType(name)
		if err != nil {
			return camilla.SinkConfig{}, fmt.Errorf("camilladsp.faders: %w", err)
		}
		faders[st] = f
	}
	for key := range c.CamillaDSP.Routes {
		if !isRouteKey(key) {
			return camilla.SinkConfig{}, fmt.Errorf("camilladsp.routes: unknown device or forced use %q", key)
		}
	}
	out := camilla.SinkConfig{
		Faders:   faders,
		MaxIndex: engineCfg.InternalMaxIndex(),
		MinDB:    c.CamillaDSP.MinDB,
		MaxDB:    c.CamillaDSP.MaxDB,
		Routes:   c.CamillaDSP.Routes,
	}
	if err := out.Validate(); err != nil {
		return camilla.SinkConfig{}, fmt.Errorf("camilladsp: %w", err)
	}
	return out, nil
}

// ClientOptions converts the camilladsp transport knobs.
func (c *Config) ClientOptions() camilla.ClientOptions {
	return camilla.ClientOptions{
		Timeout:         time.Duration(c.CamillaDSP.TimeoutMS) * time.Millisecond,
		ConnectAttempts: c.CamillaDSP.ConnectAttempts,
		RetryDelay:      time.Duration(c.CamillaDSP.RetryDelayMS) * time.Millisecond,
	}
}

// MQTTPublisherConfig converts the mqtt section. The password is read from
// the named environment variable so it never lives in the file.
func (c *Config) MQTTPublisherConfig() publish.MQTTConfig {
	var password string
	if c.MQTT.PasswordEnv != "" {
		password = os.Getenv(c.MQTT.PasswordEnv)
	}
	return publish.MQTTConfig{
		Broker:      c.MQTT.Broker,
		ClientID:    c.MQTT.ClientID,
		Username:    c.MQTT.Username,
		Password:    password,
		TopicPrefix: c.MQTT.TopicPrefix,
		QoS:         byte(c.MQTT.QoS),
		Retain:      c.MQTT.Retain,
	}
}

func (c *Config) HandlerConfig() (input.HandlerConfig, error) {
	st, err := audio.ParseStreamType(c.Input.KeyStream)
	if err != nil {
		return input.HandlerConfig{}, fmt.Errorf("input.key_stream: %w", err)
	}
	var dock audio.DockState
	switch strings.ToLower(strings.TrimSpace(c.Input.DockKind)) {
	case "desk":
		dock = audio.DockDesk
	case "car":
		dock = audio.DockCar
	default:
		return input.HandlerConfig{}, fmt.Errorf("input.dock_kind must be %q or %q", "desk", "car")
	}
	return input.HandlerConfig{KeyStream: st, DockKind: dock}, nil
}

func parseStreamSet(names []string) (audio.StreamSet, error) {
	var set audio.StreamSet
	for _, name := range names {
		st, err := audio.ParseStreamType(name)
		if err != nil {
			return 0, err
		}
		set = set.With(st)
	}
	return set, nil
}

var forcedUseRoutes = []audio.ForcedUse{
	audio.ForceSpeaker,
	audio.ForceBluetoothSco,
	audio.ForceDeskDock,
	audio.ForceCarDock,
}

func isRouteKey(key string) bool {
	key = strings.ToLower(strings.TrimSpace(key))
	if _, err := audio.ParseDeviceClass(key); err == nil {
		return true
	}
	for _, f := range forcedUseRoutes {
		if f.String() == key {
			return true
		}
	}
	return false
}

// ExpandPath expands a leading "~" in a path using $HOME.
func ExpandPath(p string) string {
	if p == "" || p[0] != '~' {
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
