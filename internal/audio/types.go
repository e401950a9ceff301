// Package audio holds the vocabulary shared by the volume engine, the command
// pipeline and the daemon adapters: stream types, ringer modes, device classes,
// forced-use values and the collaborator interfaces the engine consumes.
package audio

import (
	"fmt"
	"strings"
)

// StreamType identifies a logical audio category with its own volume state.
type StreamType int

const (
	StreamVoiceCall StreamType = iota
	StreamSystem
	StreamRing
	StreamMusic
	StreamAlarm
	StreamNotification
	StreamBluetoothSco
	StreamSystemEnforced
	StreamDtmf
	StreamTts

	// NumStreams is the fixed cardinality of StreamType.
	NumStreams = int(StreamTts) + 1
)

var streamNames = [NumStreams]string{
	"voice_call",
	"system",
	"ring",
	"music",
	"alarm",
	"notification",
	"bluetooth_sco",
	"system_enforced",
	"dtmf",
	"tts",
}

// Valid reports whether s is a known stream type.
func (s StreamType) Valid() bool {
	return s >= 0 && int(s) < NumStreams
}

func (s StreamType) String() string {
	if !s.Valid() {
		return fmt.Sprintf("stream(%d)", int(s))
	}
	return streamNames[s]
}

// ParseStreamType accepts the snake_case names used in config, IPC and settings keys.
func ParseStreamType(name string) (StreamType, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, v := range streamNames {
		if v == n {
			return StreamType(i), nil
		}
	}
	return 0, fmt.Errorf("unknown stream type: %q", name)
}

// AllStreams returns every stream type in declaration order.
func AllStreams() []StreamType {
	out := make([]StreamType, NumStreams)
	for i := range out {
		out[i] = StreamType(i)
	}
	return out
}

// StreamSet is a bitmask of stream types, the form in which affected-stream
// settings are persisted.
type StreamSet int

// NewStreamSet builds a set from the given streams.
func NewStreamSet(streams ...StreamType) StreamSet {
	var s StreamSet
	for _, st := range streams {
		s = s.With(st)
	}
	return s
}

func (s StreamSet) Has(st StreamType) bool { return s&(1<<uint(st)) != 0 }

func (s StreamSet) With(st StreamType) StreamSet { return s | (1 << uint(st)) }

func (s StreamSet) Without(st StreamType) StreamSet { return s &^ (1 << uint(st)) }

// Streams lists the members of the set in declaration order.
func (s StreamSet) Streams() []StreamType {
	var out []StreamType
	for _, st := range AllStreams() {
		if s.Has(st) {
			out = append(out, st)
		}
	}
	return out
}

// RingerMode is the global Normal/Vibrate/Silent mode.
type RingerMode int

const (
	RingerModeSilent RingerMode = iota
	RingerModeVibrate
	RingerModeNormal
)

func (m RingerMode) Valid() bool {
	return m >= RingerModeSilent && m <= RingerModeNormal
}

func (m RingerMode) String() string {
	switch m {
	case RingerModeSilent:
		return "silent"
	case RingerModeVibrate:
		return "vibrate"
	case RingerModeNormal:
		return "normal"
	default:
		return fmt.Sprintf("ringer_mode(%d)", int(m))
	}
}

// ParseRingerMode parses "normal", "vibrate" or "silent".
func ParseRingerMode(name string) (RingerMode, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "normal":
		return RingerModeNormal, nil
	case "vibrate":
		return RingerModeVibrate, nil
	case "silent":
		return RingerModeSilent, nil
	default:
		return 0, fmt.Errorf("unknown ringer mode: %q", name)
	}
}

// Direction of a volume adjustment.
type Direction int

const (
	DirectionLower Direction = -1
	DirectionRaise Direction = 1
)

func (d Direction) Valid() bool {
	return d == DirectionLower || d == DirectionRaise
}

// Flags modify how a volume change is carried out and reported.
type Flags int

const (
	FlagShowUI Flags = 1 << iota
	FlagAllowRingerModes
	FlagPlaySound
	FlagRemoveSoundAndVibrate
	FlagVibrate
)

func (f Flags) Has(flag Flags) bool { return f&flag != 0 }

var flagNames = []struct {
	flag Flags
	name string
}{
	{FlagShowUI, "show_ui"},
	{FlagAllowRingerModes, "allow_ringer_modes"},
	{FlagPlaySound, "play_sound"},
	{FlagRemoveSoundAndVibrate, "remove_sound_and_vibrate"},
	{FlagVibrate, "vibrate"},
}

// Names lists the set flags by name.
func (f Flags) Names() []string {
	var out []string
	for _, fn := range flagNames {
		if f.Has(fn.flag) {
			out = append(out, fn.name)
		}
	}
	return out
}

// ParseFlags combines flag names such as "show_ui" or "allow_ringer_modes".
func ParseFlags(names []string) (Flags, error) {
	var f Flags
	for _, n := range names {
		n = strings.ToLower(strings.TrimSpace(n))
		found := false
		for _, fn := range flagNames {
			if fn.name == n {
				f |= fn.flag
				found = true
				break
			}
		}
		if !found {
			return 0, fmt.Errorf("unknown volume flag: %q", n)
		}
	}
	return f, nil
}
