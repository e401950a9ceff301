package camilla

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"

	"volumed/internal/audio"
)

// CamillaDSP exposes five faders: Main plus Aux1 to Aux4.
const maxFader = 4

// stateInactive is what CamillaDSP reports when it has no running pipeline.
const stateInactive = "Inactive"

// ErrMixerInactive is returned by Probe while CamillaDSP is idle.
var ErrMixerInactive = errors.New("camilladsp is inactive")

// SinkConfig maps engine streams and routes onto CamillaDSP.
type SinkConfig struct {
	// Faders maps streams to fader numbers. Unmapped streams are not applied.
	Faders map[audio.StreamType]int

	// MaxIndex is the per-stream ceiling of the indices the engine sends.
	MaxIndex [audio.NumStreams]int

	MinDB float64
	MaxDB float64

	// Routes maps a forced-use name or a device class name to a CamillaDSP
	// config file. A forced use wins over the device.
	Routes map[string]string
}

// Validate checks fader numbers, scaling ranges and the dB window.
func (c SinkConfig) Validate() error {
	var errs []error
	for st, f := range c.Faders {
		if !st.Valid() {
			errs = append(errs, fmt.Errorf("fader map: invalid stream %d", int(st)))
			continue
		}
		if f < 0 || f > maxFader {
			errs = append(errs, fmt.Errorf("fader for %s must be in [0, %d]", st, maxFader))
		}
		if c.MaxIndex[st] <= 0 {
			errs = append(errs, fmt.Errorf("max index for %s must be > 0", st))
		}
	}
	if c.MinDB > c.MaxDB {
		errs = append(errs, errors.New("min dB must be <= max dB"))
	}
	return errors.Join(errs...)
}

// Sink applies engine commands to CamillaDSP. Only the command pipeline
// worker calls ApplyVolume, ApplyRouting and Probe.
type Sink struct {
	ctl    Controller
	cfg    SinkConfig
	logger *slog.Logger

	mu         sync.Mutex
	activePath string
}

var (
	_ audio.ApplySink = (*Sink)(nil)
	_ audio.Prober    = (*Sink)(nil)
)

// NewSink checks cfg and wraps ctl.
func NewSink(ctl Controller, cfg SinkConfig, logger *slog.Logger) (*Sink, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	routes := make(map[string]string, len(cfg.Routes))
	for k, v := range cfg.Routes {
		routes[strings.ToLower(strings.TrimSpace(k))] = v
	}
	cfg.Routes = routes
	return &Sink{ctl: ctl, cfg: cfg, logger: logger}, nil
}

// IndexToDB maps index in [0, max] linearly onto [minDB, maxDB].
func IndexToDB(index, max int, minDB, maxDB float64) float64 {
	if max <= 0 || index <= 0 {
		return minDB
	}
	if index >= max {
		return maxDB
	}
	db := minDB + (maxDB-minDB)*float64(index)/float64(max)
	return math.Round(db*100) / 100
}

// ApplyVolume mutes the stream's fader at index 0 and sets its gain otherwise.
func (s *Sink) ApplyVolume(stream audio.StreamType, index int) error {
	fader, ok := s.cfg.Faders[stream]
	if !ok {
		s.logger.Debug("no fader for stream, skipping", "stream", stream.String())
		return nil
	}
	if index <= 0 {
		return s.ctl.SetFaderMute(fader, true)
	}
	db := IndexToDB(index, s.cfg.MaxIndex[stream], s.cfg.MinDB, s.cfg.MaxDB)
	if err := s.ctl.SetFaderVolume(fader, db); err != nil {
		return err
	}
	return s.ctl.SetFaderMute(fader, false)
}

// ApplyRouting switches the CamillaDSP config to the one routed for forced,
// or for device when forced has no route. Unrouted targets are left alone.
func (s *Sink) ApplyRouting(device audio.DeviceClass, forced audio.ForcedUse) error {
	path, ok := "", false
	if forced != audio.ForceNone {
		path, ok = s.cfg.Routes[forced.String()]
	}
	if !ok {
		path, ok = s.cfg.Routes[device.String()]
	}
	if !ok || path == "" {
		s.logger.Debug("no route configured", "device", device.String(), "forced_use", forced.String())
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if path == s.activePath {
		return nil
	}
	if err := s.ctl.SetConfigFilePath(path); err != nil {
		return err
	}
	if err := s.ctl.Reload(); err != nil {
		return err
	}
	s.activePath = path
	s.logger.Info("mixer route switched", "device", device.String(), "forced_use", forced.String(), "config", path)
	return nil
}

// Probe reports whether CamillaDSP is reachable and processing. A failed probe
// forgets the active route so the next ApplyRouting re-sends it.
func (s *Sink) Probe() error {
	state, err := s.ctl.GetState()
	if err == nil && state == stateInactive {
		err = ErrMixerInactive
	}
	if err != nil {
		s.mu.Lock()
		s.activePath = ""
		s.mu.Unlock()
	}
	return err
}

// ActiveConfigPath returns the config file path last switched to.
func (s *Sink) ActiveConfigPath() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.activePath
}

// SeedActivePath records the path CamillaDSP is already running, so the
// first ApplyRouting to the same route does not reload.
func (s *Sink) SeedActivePath(path string) {
	s.mu.Lock()
	s.activePath = path
	s.mu.Unlock()
}
