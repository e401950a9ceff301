package pipeline

import (
	"fmt"
	"time"

	"volumed/internal/audio"
)

// Kind tags what a Command does when the worker executes it.
type Kind int

const (
	KindApplyVolume Kind = iota
	KindApplyRouting
	KindPersistVolume
	KindPersistRingerMode
	KindPersistSetting
	KindReload
	KindProbe
)

func (k Kind) String() string {
	switch k {
	case KindApplyVolume:
		return "apply_volume"
	case KindApplyRouting:
		return "apply_routing"
	case KindPersistVolume:
		return "persist_volume"
	case KindPersistRingerMode:
		return "persist_ringer_mode"
	case KindPersistSetting:
		return "persist_setting"
	case KindReload:
		return "reload"
	case KindProbe:
		return "probe"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

func (k Kind) persists() bool {
	return k == KindPersistVolume || k == KindPersistRingerMode || k == KindPersistSetting
}

// Policy decides how a new command interacts with queued ones of the same
// (kind, target).
type Policy int

const (
	// PolicyQueue always appends.
	PolicyQueue Policy = iota
	// PolicyReplace drops any queued command with the same key and restarts
	// its delay.
	PolicyReplace
	// PolicyNoopIfPending drops the new command when one with the same key is
	// already queued.
	PolicyNoopIfPending
)

func (p Policy) String() string {
	switch p {
	case PolicyQueue:
		return "queue"
	case PolicyReplace:
		return "replace"
	case PolicyNoopIfPending:
		return "noop_if_pending"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// Setting is one key/value pair written by persist commands.
type Setting struct {
	Key   string
	Value int
}

// Command is a unit of work for the worker. Build them with the constructors
// below rather than by hand.
type Command struct {
	Kind   Kind
	Policy Policy
	Delay  time.Duration

	// Target is the dedup target within Kind (stream name, setting key, ...).
	Target string

	Stream audio.StreamType
	Index  int

	Device audio.DeviceClass
	Forced audio.ForcedUse

	Settings []Setting

	// Reload: keys to read with their defaults, and the callback receiving the
	// values. The callback runs on the worker goroutine.
	Defaults map[string]int
	OnLoaded func(values map[string]int)

	// Probe: receives the sink probe result on the worker goroutine.
	OnProbe func(err error)
}

func (c Command) key() string {
	return c.Kind.String() + "/" + c.Target
}

func (c Command) String() string {
	switch c.Kind {
	case KindApplyVolume:
		return fmt.Sprintf("ApplyVolume(stream=%s, index=%d)", c.Stream, c.Index)
	case KindApplyRouting:
		return fmt.Sprintf("ApplyRouting(device=%s, forced=%s)", c.Device, c.Forced)
	case KindPersistVolume, KindPersistRingerMode, KindPersistSetting:
		return fmt.Sprintf("%s(target=%s, settings=%v)", c.Kind, c.Target, c.Settings)
	case KindReload:
		return fmt.Sprintf("Reload(target=%s, keys=%d)", c.Target, len(c.Defaults))
	case KindProbe:
		return "Probe()"
	default:
		return c.Kind.String()
	}
}

// ApplyVolume pushes one stream index to the sink. Every one is observed.
func ApplyVolume(stream audio.StreamType, index int) Command {
	return Command{
		Kind:   KindApplyVolume,
		Policy: PolicyQueue,
		Target: stream.String(),
		Stream: stream,
		Index:  index,
	}
}

// ApplyRouting pushes a device/forced-use decision to the sink.
func ApplyRouting(device audio.DeviceClass, forced audio.ForcedUse) Command {
	return Command{
		Kind:   KindApplyRouting,
		Policy: PolicyQueue,
		Target: device.String(),
		Device: device,
		Forced: forced,
	}
}

// PersistVolume writes a stream's index and last audible index after delay.
// A newer PersistVolume for the same stream replaces it.
func PersistVolume(stream audio.StreamType, delay time.Duration, settings ...Setting) Command {
	return Command{
		Kind:     KindPersistVolume,
		Policy:   PolicyReplace,
		Delay:    delay,
		Target:   stream.String(),
		Stream:   stream,
		Settings: settings,
	}
}

// PersistRingerMode writes the ringer mode after delay.
func PersistRingerMode(key string, mode audio.RingerMode, delay time.Duration) Command {
	return Command{
		Kind:     KindPersistRingerMode,
		Policy:   PolicyReplace,
		Delay:    delay,
		Target:   key,
		Settings: []Setting{{Key: key, Value: int(mode)}},
	}
}

// PersistSetting writes a single integer setting after delay.
func PersistSetting(key string, value int, delay time.Duration) Command {
	return Command{
		Kind:     KindPersistSetting,
		Policy:   PolicyReplace,
		Delay:    delay,
		Target:   key,
		Settings: []Setting{{Key: key, Value: value}},
	}
}

// Reload reads every key in defaults and hands the values to onLoaded. A
// reload for target that is still queued absorbs the new one.
func Reload(target string, defaults map[string]int, onLoaded func(map[string]int)) Command {
	return Command{
		Kind:     KindReload,
		Policy:   PolicyNoopIfPending,
		Target:   target,
		Defaults: defaults,
		OnLoaded: onLoaded,
	}
}

// Probe checks the sink's health. Heartbeats never pile up.
func Probe(onProbe func(error)) Command {
	return Command{
		Kind:    KindProbe,
		Policy:  PolicyNoopIfPending,
		Target:  "sink",
		OnProbe: onProbe,
	}
}
