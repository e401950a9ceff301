package audio

import "context"

// ApplySink is the mixer-facing side effect target. Only the command pipeline
// worker calls it.
type ApplySink interface {
	ApplyVolume(stream StreamType, index int) error
	ApplyRouting(device DeviceClass, forced ForcedUse) error
}

// Prober is implemented by sinks that can report whether the mixer is reachable.
type Prober interface {
	Probe() error
}

// SettingsStore is the persistence collaborator. Only the command pipeline
// worker calls it once the engine is running.
type SettingsStore interface {
	GetInt(ctx context.Context, key string, def int) int
	PutInt(ctx context.Context, key string, value int) error
}

// CallerID identifies a remote caller that can own mutes.
type CallerID string

// LivenessToken identifies one liveness registration.
type LivenessToken string

// LivenessMonitor notifies when a caller disappears. onLost may be invoked on
// any goroutine, at most once per registration, and never while the monitor
// holds locks that Unregister needs.
type LivenessMonitor interface {
	Register(caller CallerID, onLost func()) (LivenessToken, error)
	Unregister(token LivenessToken)
}

// DockStateProvider reports the physical dock state. ok is false when the
// platform does not know.
type DockStateProvider interface {
	DockState() (state DockState, ok bool)
}

// Publisher delivers engine events to the rest of the system. Fire and forget.
type Publisher interface {
	Publish(kind EventKind, payload any)
}

// PublisherFunc adapts a function to Publisher.
type PublisherFunc func(kind EventKind, payload any)

func (f PublisherFunc) Publish(kind EventKind, payload any) { f(kind, payload) }

// EventKind names a published engine event.
type EventKind string

const (
	EventVolumeChanged           EventKind = "volume_changed"
	EventMuteChanged             EventKind = "mute_changed"
	EventRingerModeChanged       EventKind = "ringer_mode_changed"
	EventVibrateSettingChanged   EventKind = "vibrate_setting_changed"
	EventDeviceConnection        EventKind = "device_connection_changed"
	EventBecomingNoisy           EventKind = "audio_becoming_noisy"
	EventForcedUseChanged        EventKind = "forced_use_changed"
	EventMixerStateChanged       EventKind = "mixer_state_changed"
	EventNotificationAliasSwitch EventKind = "notification_alias_changed"
)

// VolumeChanged is the payload of EventVolumeChanged.
type VolumeChanged struct {
	Stream    string `json:"stream"`
	Index     int    `json:"index"`
	PrevIndex int    `json:"prev_index"`
	MaxIndex  int    `json:"max_index"`
	Flags     Flags  `json:"flags"`
}

// MuteChanged is the payload of EventMuteChanged.
type MuteChanged struct {
	Stream string `json:"stream"`
	Muted  bool   `json:"muted"`
}

// RingerModeChanged is the payload of EventRingerModeChanged.
type RingerModeChanged struct {
	Mode string `json:"mode"`
	Prev string `json:"prev"`
}

// VibrateSettingChanged is the payload of EventVibrateSettingChanged.
type VibrateSettingChanged struct {
	Type    string `json:"type"`
	Setting string `json:"setting"`
}

// DeviceConnectionChanged is the payload of EventDeviceConnection.
type DeviceConnectionChanged struct {
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
}

// BecomingNoisy is the payload of EventBecomingNoisy.
type BecomingNoisy struct {
	Device string `json:"device"`
}

// ForcedUseChanged is the payload of EventForcedUseChanged.
type ForcedUseChanged struct {
	Usage     string `json:"usage"`
	ForcedUse string `json:"forced_use"`
}

// MixerStateChanged is the payload of EventMixerStateChanged.
type MixerStateChanged struct {
	Up bool `json:"up"`
}

// NotificationAliasChanged is the payload of EventNotificationAliasSwitch.
type NotificationAliasChanged struct {
	LinkedToRing bool `json:"linked_to_ring"`
}
