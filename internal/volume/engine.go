// Package volume implements the volume and routing control engine: per-stream
// volume state with aliases, mute ownership tied to caller liveness, the
// ringer mode machine and the connected-device table.
//
// Every public method updates in-memory state synchronously and hands side
// effects (mixer apply, settings writes) to the command pipeline. Locks are
// taken in the order ringerMu, muteMu, registry.mu; the routing tracker has
// its own independent lock.
package volume

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"volumed/internal/audio"
	"volumed/internal/pipeline"
)

// Enqueuer is the pipeline surface the engine needs.
type Enqueuer interface {
	Enqueue(cmd pipeline.Command) error
}

// Deps are the engine's collaborators. Settings is read once during New; after
// that only the pipeline worker touches the store. Publisher, Liveness and
// Dock are optional.
type Deps struct {
	Pipeline  Enqueuer
	Settings  audio.SettingsStore
	Publisher audio.Publisher
	Liveness  audio.LivenessMonitor
	Dock      audio.DockStateProvider
}

type event struct {
	kind    audio.EventKind
	payload any
}

// Engine is the volume and routing control engine.
type Engine struct {
	cfg      Config
	logger   *slog.Logger
	pipe     Enqueuer
	pub      audio.Publisher
	liveness audio.LivenessMonitor
	dock     audio.DockStateProvider

	ringerMu sync.RWMutex
	ringer   *ringerMachine
	vibrate  audio.VibrateWord

	// Written under ringerMu and muteMu respectively, read without locks.
	ringerAffected atomic.Int64
	muteAffected   atomic.Int64

	muteMu sync.Mutex
	mutes  *muteTracker

	reg     *registry
	routing *routingTracker

	mixerMu sync.Mutex
	mixerUp bool
}

// New builds the engine, loads persisted settings from deps.Settings and
// queues a full apply of the loaded state.
func New(cfg Config, deps Deps, logger *slog.Logger) (*Engine, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid engine config: %w", err)
	}
	if deps.Pipeline == nil {
		return nil, fmt.Errorf("engine requires a command pipeline")
	}
	if cfg.PersistDelay == 0 {
		cfg.PersistDelay = defaultPersistDelay
	}

	reg, err := newRegistry(cfg.MaxIndex, aliasTable(cfg.Profile, cfg.NotificationLinkedToRing))
	if err != nil {
		return nil, err
	}
	for _, st := range audio.AllStreams() {
		s := reg.streams[st]
		s.index = s.clamp(cfg.DefaultIndex[st] * indexScale)
		s.lastAudibleIndex = s.index
	}

	e := &Engine{
		cfg:      cfg,
		logger:   logger,
		pipe:     deps.Pipeline,
		pub:      deps.Publisher,
		liveness: deps.Liveness,
		dock:     deps.Dock,
		ringer:   newRingerMachine(cfg.DefaultRingerMode),
		vibrate:  cfg.DefaultVibrate,
		mutes:    newMuteTracker(),
		reg:      reg,
		routing:  newRoutingTracker(),
		mixerUp:  true,
	}
	e.ringerAffected.Store(int64(cfg.RingerAffected))
	e.muteAffected.Store(int64(cfg.MuteAffected))

	values := e.settingDefaults()
	if deps.Settings != nil {
		ctx := context.Background()
		for k, def := range values {
			values[k] = deps.Settings.GetInt(ctx, k, def)
		}
	}
	e.applySettings(values, true)

	logger.Info("volume engine ready",
		"profile", cfg.Profile,
		"ringer_mode", e.GetRingerMode().String(),
		"persist_delay", cfg.PersistDelay)
	return e, nil
}

func (e *Engine) ringerAffectedSet() audio.StreamSet { return audio.StreamSet(e.ringerAffected.Load()) }

func (e *Engine) muteAffectedSet() audio.StreamSet { return audio.StreamSet(e.muteAffected.Load()) }

func (e *Engine) enqueue(cmd pipeline.Command) {
	if err := e.pipe.Enqueue(cmd); err != nil {
		e.logger.Warn("failed to enqueue command", "command", cmd.String(), "error", err)
	}
}

func (e *Engine) publish(evs ...event) {
	if e.pub == nil {
		return
	}
	for _, ev := range evs {
		e.pub.Publish(ev.kind, ev.payload)
	}
}

// applyStreamLocked queues an apply for st and every stream aliasing it.
// Caller holds reg.mu so the apply order matches the commit order.
func (e *Engine) applyStreamLocked(st audio.StreamType) {
	e.enqueue(pipeline.ApplyVolume(st, e.reg.streams[st].index))
	for _, child := range e.reg.childrenLocked(st) {
		e.enqueue(pipeline.ApplyVolume(child, e.reg.streams[child].index))
	}
}

// persistStreamLocked queues a debounced write of st's level. While the
// stream is silent the remembered level is written, so a restart comes back
// audible. Caller holds reg.mu.
func (e *Engine) persistStreamLocked(st audio.StreamType) {
	s := e.reg.streams[st]
	level := s.index
	if !s.audible() {
		level = s.lastAudibleIndex
	}
	e.enqueue(pipeline.PersistVolume(st, e.cfg.PersistDelay,
		pipeline.Setting{Key: s.settingKey, Value: userIndex(level)},
		pipeline.Setting{Key: s.lastAudibleSettingKey, Value: userIndex(s.lastAudibleIndex)},
	))
}

func (e *Engine) volumeEventLocked(stream audio.StreamType, prev int, flags audio.Flags) event {
	s := e.reg.streams[stream]
	return event{audio.EventVolumeChanged, audio.VolumeChanged{
		Stream:    stream.String(),
		Index:     userIndex(s.index),
		PrevIndex: prev,
		MaxIndex:  userIndex(s.maxIndex),
		Flags:     flags,
	}}
}

// lockRinger takes the ringer lock exclusively when the call may change the
// ringer mode.
func (e *Engine) lockRinger(exclusive bool) func() {
	if exclusive {
		e.ringerMu.Lock()
		return e.ringerMu.Unlock
	}
	e.ringerMu.RLock()
	return e.ringerMu.RUnlock
}

// AdjustStreamVolume moves stream one step in dir. With FlagAllowRingerModes
// on a ringer-affected stream the step may instead change the ringer mode, in
// which case the index delta is suppressed.
func (e *Engine) AdjustStreamVolume(stream audio.StreamType, dir audio.Direction, flags audio.Flags) error {
	if !stream.Valid() {
		return ErrInvalidStream
	}
	if !dir.Valid() {
		return ErrInvalidDirection
	}

	allowRinger := flags.Has(audio.FlagAllowRingerModes)
	unlock := e.lockRinger(allowRinger)
	defer unlock()

	e.reg.mu.Lock()
	st := e.reg.alias[stream]
	s := e.reg.streams[st]
	prev := userIndex(e.reg.streams[stream].index)

	if allowRinger && e.ringerAffectedSet().Has(st) {
		prevMode := e.ringer.mode()
		level := s.index
		if s.muted {
			level = s.lastAudibleIndex
		}
		atMin := userIndex(level) <= 1
		if mode, ok := e.ringer.step(dir, atMin); ok {
			evs := e.applyRingerModeLocked(prevMode, mode)
			e.reg.mu.Unlock()
			e.logger.Debug("volume key changed ringer mode", "stream", stream.String(), "from", prevMode.String(), "to", mode.String())
			e.publish(evs...)
			return nil
		}
	}

	var changed bool
	if s.audible() {
		changed = e.reg.adjustIndexLocked(st, dir, true)
		if changed {
			e.applyStreamLocked(st)
		}
	} else {
		floor := 0
		if s.silenced {
			floor = indexScale
		}
		changed = e.reg.setLastAudibleLocked(st, max(floor, s.lastAudibleIndex+int(dir)*indexScale))
	}

	var evs []event
	if changed {
		e.persistStreamLocked(st)
		evs = append(evs, e.volumeEventLocked(stream, prev, flags))
	}
	e.reg.mu.Unlock()

	e.publish(evs...)
	return nil
}

// SetStreamVolume sets stream to index (user steps, clamped). While the
// stream is muted or silenced only the remembered level changes.
func (e *Engine) SetStreamVolume(stream audio.StreamType, index int, flags audio.Flags) error {
	if !stream.Valid() {
		return ErrInvalidStream
	}

	allowRinger := flags.Has(audio.FlagAllowRingerModes)
	unlock := e.lockRinger(allowRinger)
	defer unlock()

	e.reg.mu.Lock()
	st := e.reg.alias[stream]
	s := e.reg.streams[st]
	req := e.reg.streams[stream]
	prev := userIndex(req.index)
	idx := e.reg.rescaleLocked(req.clamp(index*indexScale), stream, st)

	var evs []event
	if allowRinger && e.ringerAffectedSet().Has(st) {
		mode := e.ringer.mode()
		switch {
		case idx == 0 && mode == audio.RingerModeNormal:
			e.ringer.set(audio.RingerModeVibrate)
			evs = e.applyRingerModeLocked(mode, audio.RingerModeVibrate)
			e.reg.mu.Unlock()
			e.publish(evs...)
			return nil
		case idx > 0 && mode != audio.RingerModeNormal:
			e.reg.setLastAudibleLocked(st, idx)
			e.ringer.set(audio.RingerModeNormal)
			evs = e.applyRingerModeLocked(mode, audio.RingerModeNormal)
			e.persistStreamLocked(st)
			evs = append(evs, e.volumeEventLocked(stream, prev, flags))
			e.reg.mu.Unlock()
			e.publish(evs...)
			return nil
		}
	}

	var changed bool
	if s.audible() {
		changed = e.reg.setIndexLocked(st, idx, true)
		if changed {
			e.applyStreamLocked(st)
		}
	} else {
		changed = e.reg.setLastAudibleLocked(st, idx)
	}
	if changed {
		e.persistStreamLocked(st)
		evs = append(evs, e.volumeEventLocked(stream, prev, flags))
	}
	e.reg.mu.Unlock()

	e.publish(evs...)
	return nil
}

// GetStreamVolume returns the current index of stream in user steps.
func (e *Engine) GetStreamVolume(stream audio.StreamType) (int, error) {
	if !stream.Valid() {
		return 0, ErrInvalidStream
	}
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return userIndex(e.reg.streams[stream].index), nil
}

// GetStreamMaxVolume returns the ceiling of stream in user steps.
func (e *Engine) GetStreamMaxVolume(stream audio.StreamType) (int, error) {
	if !stream.Valid() {
		return 0, ErrInvalidStream
	}
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return userIndex(e.reg.streams[stream].maxIndex), nil
}

// GetLastAudibleStreamVolume returns the level stream returns to on unmute.
func (e *Engine) GetLastAudibleStreamVolume(stream audio.StreamType) (int, error) {
	if !stream.Valid() {
		return 0, ErrInvalidStream
	}
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return userIndex(e.reg.streams[stream].lastAudibleIndex), nil
}

// GetRingerMode returns the current ringer mode.
func (e *Engine) GetRingerMode() audio.RingerMode {
	e.ringerMu.RLock()
	defer e.ringerMu.RUnlock()
	return e.ringer.mode()
}

// SetRingerMode switches the ringer mode. Ringer-affected streams go silent
// outside Normal; every other stream is held at its remembered level.
func (e *Engine) SetRingerMode(mode audio.RingerMode) error {
	if !mode.Valid() {
		return ErrInvalidRingerMode
	}

	e.ringerMu.Lock()
	prev := e.ringer.mode()
	if prev == mode {
		e.ringerMu.Unlock()
		return nil
	}
	e.ringer.set(mode)
	e.reg.mu.Lock()
	evs := e.applyRingerModeLocked(prev, mode)
	e.reg.mu.Unlock()
	e.ringerMu.Unlock()

	e.logger.Info("ringer mode changed", "from", prev.String(), "to", mode.String())
	e.publish(evs...)
	return nil
}

// applyRingerModeLocked brings every canonical stream in line with mode.
// Caller holds ringerMu exclusively and reg.mu, and has already moved the
// machine to mode.
func (e *Engine) applyRingerModeLocked(prev, mode audio.RingerMode) []event {
	affected := e.ringerAffectedSet()
	for _, st := range e.reg.canonicalLocked() {
		s := e.reg.streams[st]
		s.silenced = mode != audio.RingerModeNormal && affected.Has(st)
		target := s.lastAudibleIndex
		if !s.audible() {
			target = 0
		}
		if e.reg.setIndexLocked(st, target, false) {
			e.applyStreamLocked(st)
		}
	}
	e.enqueue(pipeline.PersistRingerMode(keyRingerMode, mode, e.cfg.PersistDelay))
	return []event{{audio.EventRingerModeChanged, audio.RingerModeChanged{Mode: mode.String(), Prev: prev.String()}}}
}

// ShouldVibrate reports whether a vibration of type t should happen now.
func (e *Engine) ShouldVibrate(t audio.VibrateType) (bool, error) {
	if !t.Valid() {
		return false, ErrInvalidVibrateSetting
	}
	e.ringerMu.RLock()
	defer e.ringerMu.RUnlock()

	mode := e.ringer.mode()
	switch e.vibrate.Get(t) {
	case audio.VibrateOn:
		return mode != audio.RingerModeSilent, nil
	case audio.VibrateOnlySilent:
		return mode == audio.RingerModeVibrate, nil
	default:
		// The ringer still follows an explicit Vibrate mode.
		return t == audio.VibrateTypeRinger && mode == audio.RingerModeVibrate, nil
	}
}

// GetVibrateSetting returns the setting for t.
func (e *Engine) GetVibrateSetting(t audio.VibrateType) (audio.VibrateSetting, error) {
	if !t.Valid() {
		return 0, ErrInvalidVibrateSetting
	}
	e.ringerMu.RLock()
	defer e.ringerMu.RUnlock()
	return e.vibrate.Get(t), nil
}

// SetVibrateSetting stores the setting for t and persists the packed word.
func (e *Engine) SetVibrateSetting(t audio.VibrateType, setting audio.VibrateSetting) error {
	if !t.Valid() || !setting.Valid() {
		return ErrInvalidVibrateSetting
	}
	e.ringerMu.Lock()
	if e.vibrate.Get(t) == setting {
		e.ringerMu.Unlock()
		return nil
	}
	e.vibrate = e.vibrate.Set(t, setting)
	e.enqueue(pipeline.PersistSetting(keyVibrateOn, int(e.vibrate), e.cfg.PersistDelay))
	e.ringerMu.Unlock()

	e.publish(event{audio.EventVibrateSettingChanged, audio.VibrateSettingChanged{Type: t.String(), Setting: setting.String()}})
	return nil
}

// Heartbeat queues a mixer probe. The result feeds OnMixerStateChanged.
func (e *Engine) Heartbeat() {
	e.enqueue(pipeline.Probe(func(err error) {
		if err != nil {
			e.logger.Debug("mixer probe failed", "error", err)
		}
		e.OnMixerStateChanged(err == nil)
	}))
}

// OnMixerStateChanged records mixer reachability. A down to up transition
// reapplies the full in-memory state to the restarted mixer.
func (e *Engine) OnMixerStateChanged(up bool) {
	e.mixerMu.Lock()
	prev := e.mixerUp
	e.mixerUp = up
	e.mixerMu.Unlock()
	if prev == up {
		return
	}

	e.publish(event{audio.EventMixerStateChanged, audio.MixerStateChanged{Up: up}})
	if !up {
		e.logger.Warn("mixer unreachable")
		return
	}
	e.logger.Info("mixer is back, reapplying state")
	e.reapplyState()
}

// reapplyState pushes the committed in-memory state to the sink. The store
// is not consulted; it may lag behind by a debounce window.
func (e *Engine) reapplyState() {
	e.reg.mu.Lock()
	for _, st := range e.reg.canonicalLocked() {
		e.applyStreamLocked(st)
	}
	e.reg.mu.Unlock()
	e.reapplyRouting()
}

// MixerUp reports the last observed mixer state.
func (e *Engine) MixerUp() bool {
	e.mixerMu.Lock()
	defer e.mixerMu.Unlock()
	return e.mixerUp
}

// ReloadPersistedSettings re-reads every setting through the pipeline and
// reapplies the whole state. In-memory values serve as defaults for keys
// that were never written.
func (e *Engine) ReloadPersistedSettings() {
	defaults := e.settingDefaults()
	e.enqueue(pipeline.Reload("all", defaults, func(values map[string]int) {
		e.applySettings(values, true)
	}))
}

// settingDefaults snapshots the in-memory value of every persisted key.
func (e *Engine) settingDefaults() map[string]int {
	e.ringerMu.RLock()
	defer e.ringerMu.RUnlock()
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()

	d := map[string]int{
		keyRingerMode:         int(e.ringer.mode()),
		keyRingerAffected:     int(e.ringerAffectedSet()),
		keyMuteAffected:       int(e.muteAffectedSet()),
		keyVibrateOn:          int(e.vibrate),
		keyNotificationLinked: boolToInt(e.reg.alias[audio.StreamNotification] != audio.StreamNotification),
	}
	for _, st := range audio.AllStreams() {
		s := e.reg.streams[st]
		level := s.index
		if !s.audible() {
			level = s.lastAudibleIndex
		}
		d[volumeSettingKey(st)] = userIndex(level)
		d[lastAudibleSettingKey(st)] = userIndex(s.lastAudibleIndex)
	}
	return d
}

// applySettings reconciles in-memory state with values. With reapply set,
// every stream and the routing table are pushed to the sink even when
// nothing changed.
func (e *Engine) applySettings(values map[string]int, reapply bool) {
	var evs []event

	e.ringerMu.Lock()
	e.muteMu.Lock()
	e.reg.mu.Lock()

	e.ringerAffected.Store(int64(values[keyRingerAffected]))
	e.muteAffected.Store(int64(values[keyMuteAffected]))
	e.vibrate = audio.VibrateWord(values[keyVibrateOn])

	mode := audio.RingerMode(values[keyRingerMode])
	if !mode.Valid() {
		e.logger.Warn("ignoring invalid persisted ringer mode", "value", values[keyRingerMode])
		mode = audio.RingerModeNormal
	}
	prevMode := e.ringer.mode()
	e.ringer.set(mode)

	linked := values[keyNotificationLinked] != 0
	if wasLinked := e.reg.alias[audio.StreamNotification] != audio.StreamNotification; linked != wasLinked {
		e.relinkNotificationLocked(linked)
		evs = append(evs, event{audio.EventNotificationAliasSwitch, audio.NotificationAliasChanged{LinkedToRing: linked}})
	}

	affected := e.ringerAffectedSet()
	for _, st := range e.reg.canonicalLocked() {
		s := e.reg.streams[st]
		s.muted = e.mutes.total(st) > 0
		s.silenced = mode != audio.RingerModeNormal && affected.Has(st)

		e.reg.setLastAudibleLocked(st, values[lastAudibleSettingKey(st)]*indexScale)
		target := 0
		if s.audible() {
			target = values[volumeSettingKey(st)] * indexScale
		}
		if e.reg.setIndexLocked(st, target, false) || reapply {
			e.applyStreamLocked(st)
		}
	}
	if prevMode != mode {
		evs = append(evs, event{audio.EventRingerModeChanged, audio.RingerModeChanged{Mode: mode.String(), Prev: prevMode.String()}})
	}

	e.reg.mu.Unlock()
	e.muteMu.Unlock()
	e.ringerMu.Unlock()

	if reapply {
		e.reapplyRouting()
	}
	e.logger.Debug("settings applied", "keys", len(values), "reapply", reapply, "ringer_mode", mode.String())
	e.publish(evs...)
}

// relinkNotificationLocked switches the Notification alias. Mutes held on
// Notification itself are released when it folds into Ring. Caller holds
// ringerMu, muteMu and reg.mu.
func (e *Engine) relinkNotificationLocked(linked bool) {
	n := e.reg.streams[audio.StreamNotification]
	if linked {
		for _, o := range e.mutes.drain(audio.StreamNotification) {
			if o.live && e.liveness != nil {
				e.liveness.Unregister(o.token)
			}
		}
		n.muted = false
		n.silenced = false
		e.reg.alias[audio.StreamNotification] = audio.StreamRing
		e.reg.rekeyLocked()

		ring := e.reg.streams[audio.StreamRing]
		n.lastAudibleIndex = n.clamp(e.reg.rescaleLocked(ring.lastAudibleIndex, audio.StreamRing, audio.StreamNotification))
		if e.reg.setIndexLocked(audio.StreamNotification, e.reg.rescaleLocked(ring.index, audio.StreamRing, audio.StreamNotification), false) {
			e.enqueue(pipeline.ApplyVolume(audio.StreamNotification, n.index))
		}
		return
	}

	e.reg.alias[audio.StreamNotification] = audio.StreamNotification
	e.reg.rekeyLocked()
	n.muted = false
	n.silenced = e.ringer.mode() != audio.RingerModeNormal && e.ringerAffectedSet().Has(audio.StreamNotification)
	if !n.audible() && e.reg.setIndexLocked(audio.StreamNotification, 0, false) {
		e.enqueue(pipeline.ApplyVolume(audio.StreamNotification, n.index))
	}
}

// SetNotificationLinkedToRing folds Notification into Ring or gives it its
// own volume. When unlinking, the value persisted under Notification's own
// key is loaded; if none was ever written the current level seeds it.
func (e *Engine) SetNotificationLinkedToRing(linked bool) {
	e.ringerMu.Lock()
	e.muteMu.Lock()
	e.reg.mu.Lock()

	if wasLinked := e.reg.alias[audio.StreamNotification] != audio.StreamNotification; linked == wasLinked {
		e.reg.mu.Unlock()
		e.muteMu.Unlock()
		e.ringerMu.Unlock()
		return
	}
	e.relinkNotificationLocked(linked)

	if !linked {
		n := e.reg.streams[audio.StreamNotification]
		level := n.index
		if !n.audible() {
			level = n.lastAudibleIndex
		}
		defaults := map[string]int{
			n.settingKey:            userIndex(level),
			n.lastAudibleSettingKey: userIndex(n.lastAudibleIndex),
		}
		e.enqueue(pipeline.Reload(audio.StreamNotification.String(), defaults, e.rehomeNotification))
	}
	e.enqueue(pipeline.PersistSetting(keyNotificationLinked, boolToInt(linked), e.cfg.PersistDelay))

	e.reg.mu.Unlock()
	e.muteMu.Unlock()
	e.ringerMu.Unlock()

	e.logger.Info("notification volume alias changed", "linked_to_ring", linked)
	e.publish(event{audio.EventNotificationAliasSwitch, audio.NotificationAliasChanged{LinkedToRing: linked}})
}

// rehomeNotification runs on the pipeline worker with the values stored
// under Notification's own keys.
func (e *Engine) rehomeNotification(values map[string]int) {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()

	if e.reg.alias[audio.StreamNotification] != audio.StreamNotification {
		return
	}
	n := e.reg.streams[audio.StreamNotification]
	e.reg.setLastAudibleLocked(audio.StreamNotification, values[n.lastAudibleSettingKey]*indexScale)
	target := 0
	if n.audible() {
		target = values[n.settingKey] * indexScale
	}
	if e.reg.setIndexLocked(audio.StreamNotification, target, false) {
		e.applyStreamLocked(audio.StreamNotification)
	}
	e.persistStreamLocked(audio.StreamNotification)
}

// NotificationLinkedToRing reports whether Notification shares Ring's volume.
func (e *Engine) NotificationLinkedToRing() bool {
	e.reg.mu.Lock()
	defer e.reg.mu.Unlock()
	return e.reg.alias[audio.StreamNotification] == audio.StreamRing
}

// StreamSnapshot is the observable state of one stream.
type StreamSnapshot struct {
	Stream      string `json:"stream"`
	Alias       string `json:"alias"`
	Index       int    `json:"index"`
	LastAudible int    `json:"last_audible"`
	Max         int    `json:"max"`
	Muted       bool   `json:"muted"`
	Silenced    bool   `json:"silenced"`
	MuteOwners  int    `json:"mute_owners"`
}

// Snapshot is the full observable engine state.
type Snapshot struct {
	RingerMode               string            `json:"ringer_mode"`
	Vibrate                  map[string]string `json:"vibrate"`
	NotificationLinkedToRing bool              `json:"notification_linked_to_ring"`
	Streams                  []StreamSnapshot  `json:"streams"`
	Devices                  []DeviceSnapshot  `json:"devices"`
	ForcedUseCommunication   string            `json:"forced_use_communication"`
	ForcedUseDock            string            `json:"forced_use_dock"`
	MixerUp                  bool              `json:"mixer_up"`
	TakenAt                  time.Time         `json:"taken_at"`
}

// Snapshot returns a consistent copy of the engine state.
func (e *Engine) Snapshot() Snapshot {
	snap := Snapshot{TakenAt: time.Now(), MixerUp: e.MixerUp()}

	e.ringerMu.RLock()
	e.muteMu.Lock()
	e.reg.mu.Lock()
	snap.RingerMode = e.ringer.mode().String()
	snap.Vibrate = map[string]string{
		audio.VibrateTypeRinger.String():       e.vibrate.Get(audio.VibrateTypeRinger).String(),
		audio.VibrateTypeNotification.String(): e.vibrate.Get(audio.VibrateTypeNotification).String(),
	}
	snap.NotificationLinkedToRing = e.reg.alias[audio.StreamNotification] == audio.StreamRing
	for _, st := range audio.AllStreams() {
		s := e.reg.streams[st]
		canon := e.reg.streams[e.reg.alias[st]]
		snap.Streams = append(snap.Streams, StreamSnapshot{
			Stream:      st.String(),
			Alias:       canon.stream.String(),
			Index:       userIndex(s.index),
			LastAudible: userIndex(s.lastAudibleIndex),
			Max:         userIndex(s.maxIndex),
			Muted:       canon.muted,
			Silenced:    canon.silenced,
			MuteOwners:  e.mutes.ownerCount(canon.stream),
		})
	}
	e.reg.mu.Unlock()
	e.muteMu.Unlock()
	e.ringerMu.RUnlock()

	e.routing.mu.Lock()
	snap.Devices = e.routing.devicesLocked()
	snap.ForcedUseCommunication = e.routing.forcedComm.String()
	snap.ForcedUseDock = e.routing.forcedDock.String()
	e.routing.mu.Unlock()
	return snap
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
