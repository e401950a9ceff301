package volume

import (
	"errors"
	"fmt"
	"time"

	"volumed/internal/audio"
)

// Alias profiles. Phone devices fold notification-like streams into Ring;
// media devices fold them into Music.
const (
	ProfilePhone = "phone"
	ProfileMedia = "media"
)

// Setting keys for the non-stream settings.
const (
	keyRingerMode         = "mode_ringer"
	keyRingerAffected     = "mode_ringer_streams_affected"
	keyMuteAffected       = "mute_streams_affected"
	keyVibrateOn          = "vibrate_on"
	keyNotificationLinked = "notifications_use_ring_volume"
)

const defaultPersistDelay = 3000 * time.Millisecond

// Config holds the engine's static configuration. Values read from the
// settings store at startup take precedence over the ringer, affected-stream,
// vibrate and notification-link fields here.
type Config struct {
	// MaxIndex is the per-stream ceiling in user steps.
	MaxIndex [audio.NumStreams]int
	// DefaultIndex is the per-stream level used when nothing is persisted.
	DefaultIndex [audio.NumStreams]int

	Profile                  string
	NotificationLinkedToRing bool

	RingerAffected    audio.StreamSet
	MuteAffected      audio.StreamSet
	DefaultRingerMode audio.RingerMode
	DefaultVibrate    audio.VibrateWord

	// PersistDelay is the debounce window for settings writes.
	PersistDelay time.Duration
}

// DefaultConfig returns phone-style defaults.
func DefaultConfig() Config {
	return Config{
		MaxIndex: [audio.NumStreams]int{
			audio.StreamVoiceCall:      5,
			audio.StreamSystem:         7,
			audio.StreamRing:           7,
			audio.StreamMusic:          15,
			audio.StreamAlarm:          7,
			audio.StreamNotification:   7,
			audio.StreamBluetoothSco:   15,
			audio.StreamSystemEnforced: 7,
			audio.StreamDtmf:           15,
			audio.StreamTts:            15,
		},
		DefaultIndex: [audio.NumStreams]int{
			audio.StreamVoiceCall:      4,
			audio.StreamSystem:         7,
			audio.StreamRing:           5,
			audio.StreamMusic:          11,
			audio.StreamAlarm:          6,
			audio.StreamNotification:   5,
			audio.StreamBluetoothSco:   7,
			audio.StreamSystemEnforced: 7,
			audio.StreamDtmf:           11,
			audio.StreamTts:            11,
		},
		Profile:                  ProfilePhone,
		NotificationLinkedToRing: true,
		RingerAffected:           audio.NewStreamSet(audio.StreamRing, audio.StreamNotification, audio.StreamSystem),
		MuteAffected:             audio.NewStreamSet(audio.StreamMusic, audio.StreamRing, audio.StreamSystem),
		DefaultRingerMode:        audio.RingerModeNormal,
		DefaultVibrate: audio.VibrateWord(0).
			Set(audio.VibrateTypeRinger, audio.VibrateOnlySilent).
			Set(audio.VibrateTypeNotification, audio.VibrateOnlySilent),
		PersistDelay: defaultPersistDelay,
	}
}

// Validate checks ranges and the profile name.
func (c Config) Validate() error {
	var errs []error
	for _, st := range audio.AllStreams() {
		if c.MaxIndex[st] <= 0 {
			errs = append(errs, fmt.Errorf("max index for %s must be > 0", st))
			continue
		}
		if c.DefaultIndex[st] < 0 || c.DefaultIndex[st] > c.MaxIndex[st] {
			errs = append(errs, fmt.Errorf("default index for %s must be in [0, %d]", st, c.MaxIndex[st]))
		}
	}
	if c.Profile != ProfilePhone && c.Profile != ProfileMedia {
		errs = append(errs, fmt.Errorf("unknown alias profile %q", c.Profile))
	}
	if !c.DefaultRingerMode.Valid() {
		errs = append(errs, fmt.Errorf("invalid default ringer mode %d", int(c.DefaultRingerMode)))
	}
	if c.PersistDelay < 0 {
		errs = append(errs, errors.New("persist delay must be >= 0"))
	}
	return errors.Join(errs...)
}

// aliasTable builds the alias map for the profile. Notification follows Ring
// only when linked.
func aliasTable(profile string, notificationLinked bool) [audio.NumStreams]audio.StreamType {
	var a [audio.NumStreams]audio.StreamType
	for _, st := range audio.AllStreams() {
		a[st] = st
	}
	shared := audio.StreamRing
	if profile == ProfileMedia {
		shared = audio.StreamMusic
	}
	a[audio.StreamSystem] = shared
	a[audio.StreamSystemEnforced] = shared
	a[audio.StreamDtmf] = shared
	a[audio.StreamTts] = audio.StreamMusic
	if notificationLinked {
		a[audio.StreamNotification] = audio.StreamRing
	}
	return a
}

// InternalMaxIndex returns the per-stream ceilings in the units ApplyVolume
// commands carry.
func (c Config) InternalMaxIndex() [audio.NumStreams]int {
	var out [audio.NumStreams]int
	for i, m := range c.MaxIndex {
		out[i] = m * indexScale
	}
	return out
}
