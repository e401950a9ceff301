package input

import (
	"log/slog"
	"sync"

	"volumed/internal/audio"
)

// CallerKeys is the caller that owns mutes taken with the hardware mute key.
const CallerKeys audio.CallerID = "input-keys"

// Target is the engine surface the handler drives.
type Target interface {
	OnDeviceEvent(ev audio.DeviceEvent) error
	AdjustStreamVolume(stream audio.StreamType, dir audio.Direction, flags audio.Flags) error
	SetStreamMute(stream audio.StreamType, state bool, caller audio.CallerID) error
	IsStreamMute(stream audio.StreamType) (bool, error)
}

// HandlerConfig selects what keys and the dock switch mean.
type HandlerConfig struct {
	// KeyStream is the stream the volume keys step.
	KeyStream audio.StreamType
	// DockKind is the dock state reported while the dock switch is closed.
	DockKind audio.DockState
}

// Handler keeps the switch state and translates events. It also serves as the
// engine's dock state provider.
type Handler struct {
	target Target
	cfg    HandlerConfig
	logger *slog.Logger

	mu        sync.Mutex
	headphone bool
	mic       bool
	lineout   bool
	wired     audio.DeviceClass
	hasWired  bool
	dock      audio.DockState
	dockKnown bool
	keyMuted  bool
}

var _ audio.DockStateProvider = (*Handler)(nil)

func NewHandler(target Target, cfg HandlerConfig, logger *slog.Logger) *Handler {
	return &Handler{target: target, cfg: cfg, logger: logger}
}

// DockState implements audio.DockStateProvider. It reports unknown until a
// dock switch has been seen.
func (h *Handler) DockState() (audio.DockState, bool) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.dock, h.dockKnown
}

// Handle processes one input event. Events the daemon does not care about are
// ignored.
func (h *Handler) Handle(ev Event) {
	switch ev.Type {
	case evSw:
		h.handleSwitch(ev.Code, ev.Value != 0)
	case evKey:
		h.handleKey(ev.Code, ev.Value)
	}
}

func (h *Handler) handleSwitch(code uint16, on bool) {
	h.mu.Lock()
	switch code {
	case swHeadphoneInsert:
		h.headphone = on
	case swMicrophoneInsert:
		h.mic = on
	case swLineoutInsert:
		h.lineout = on
	case swDock:
		if on {
			h.dock = h.cfg.DockKind
		} else {
			h.dock = audio.DockUndocked
		}
		h.dockKnown = true
		h.mu.Unlock()
		h.logger.Info("dock switch changed", "docked", on)
		return
	default:
		h.mu.Unlock()
		return
	}
	events := h.wiredTransitionLocked()
	h.mu.Unlock()

	for _, ev := range events {
		if err := h.target.OnDeviceEvent(ev); err != nil {
			h.logger.Warn("device event rejected", "device", ev.Class.String(), "connected", ev.Connected, "error", err)
		}
	}
}

// wiredTransitionLocked maps the jack switches onto one wired device class and
// returns the disconnect/connect pair needed to get there.
func (h *Handler) wiredTransitionLocked() []audio.DeviceEvent {
	var want audio.DeviceClass
	wantAny := false
	switch {
	case h.headphone && h.mic:
		want, wantAny = audio.DeviceWiredHeadset, true
	case h.headphone || h.lineout:
		want, wantAny = audio.DeviceWiredHeadphone, true
	}

	if wantAny == h.hasWired && (!wantAny || want == h.wired) {
		return nil
	}

	var out []audio.DeviceEvent
	if h.hasWired {
		out = append(out, audio.DeviceEvent{Class: h.wired, Connected: false})
	}
	if wantAny {
		out = append(out, audio.DeviceEvent{Class: want, Connected: true, Name: "jack"})
	}
	h.wired, h.hasWired = want, wantAny
	return out
}

func (h *Handler) handleKey(code uint16, value int32) {
	if value != valuePress && value != valueRepeat {
		return
	}
	st := h.cfg.KeyStream
	flags := audio.FlagShowUI | audio.FlagAllowRingerModes

	switch code {
	case keyVolumeUp:
		if err := h.target.AdjustStreamVolume(st, audio.DirectionRaise, flags); err != nil {
			h.logger.Warn("volume key rejected", "stream", st.String(), "error", err)
		}
	case keyVolumeDown:
		if err := h.target.AdjustStreamVolume(st, audio.DirectionLower, flags); err != nil {
			h.logger.Warn("volume key rejected", "stream", st.String(), "error", err)
		}
	case keyMute:
		if value != valuePress {
			return
		}
		h.toggleKeyMute(st)
	}
}

// toggleKeyMute releases the key caller's mute, or takes one. keyMuted only
// becomes true once the engine reports the stream muted, so a stream outside
// the mute-affected set never gets a matching unmute.
func (h *Handler) toggleKeyMute(st audio.StreamType) {
	h.mu.Lock()
	held := h.keyMuted
	h.mu.Unlock()

	if held {
		if err := h.target.SetStreamMute(st, false, CallerKeys); err != nil {
			h.logger.Warn("mute key rejected", "stream", st.String(), "error", err)
		}
		h.setKeyMuted(false)
		return
	}

	if err := h.target.SetStreamMute(st, true, CallerKeys); err != nil {
		h.logger.Warn("mute key rejected", "stream", st.String(), "error", err)
		return
	}
	muted, err := h.target.IsStreamMute(st)
	if err != nil {
		h.logger.Warn("mute key state unknown", "stream", st.String(), "error", err)
		return
	}
	if !muted {
		h.logger.Info("mute key ignored by engine", "stream", st.String())
		return
	}
	h.setKeyMuted(true)
}

func (h *Handler) setKeyMuted(muted bool) {
	h.mu.Lock()
	h.keyMuted = muted
	h.mu.Unlock()
}

// ApplySwitchState seeds the switches from a bitmask of SW_* codes, as read
// at startup.
func (h *Handler) ApplySwitchState(bits uint64, hasDock bool) {
	on := func(code uint16) bool { return bits&(1<<code) != 0 }

	h.mu.Lock()
	h.headphone = on(swHeadphoneInsert)
	h.mic = on(swMicrophoneInsert)
	h.lineout = on(swLineoutInsert)
	events := h.wiredTransitionLocked()
	h.mu.Unlock()

	for _, ev := range events {
		if err := h.target.OnDeviceEvent(ev); err != nil {
			h.logger.Warn("device event rejected", "device", ev.Class.String(), "connected", ev.Connected, "error", err)
		}
	}
	if hasDock {
		h.handleSwitch(swDock, on(swDock))
	}
}
