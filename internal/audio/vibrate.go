package audio

import (
	"fmt"
	"strings"
)

// VibrateType selects a slot in the vibrate setting word.
type VibrateType int

const (
	VibrateTypeRinger VibrateType = iota
	VibrateTypeNotification

	numVibrateTypes = int(VibrateTypeNotification) + 1
)

func (t VibrateType) Valid() bool { return t >= 0 && int(t) < numVibrateTypes }

func (t VibrateType) String() string {
	switch t {
	case VibrateTypeRinger:
		return "ringer"
	case VibrateTypeNotification:
		return "notification"
	default:
		return fmt.Sprintf("vibrate_type(%d)", int(t))
	}
}

// ParseVibrateType parses "ringer" or "notification".
func ParseVibrateType(name string) (VibrateType, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "ringer":
		return VibrateTypeRinger, nil
	case "notification":
		return VibrateTypeNotification, nil
	default:
		return 0, fmt.Errorf("unknown vibrate type: %q", name)
	}
}

// VibrateSetting is the per-type 2-bit value.
type VibrateSetting int

const (
	VibrateOff VibrateSetting = iota
	VibrateOn
	VibrateOnlySilent
)

func (v VibrateSetting) Valid() bool { return v >= VibrateOff && v <= VibrateOnlySilent }

func (v VibrateSetting) String() string {
	switch v {
	case VibrateOff:
		return "off"
	case VibrateOn:
		return "on"
	case VibrateOnlySilent:
		return "only_silent"
	default:
		return fmt.Sprintf("vibrate_setting(%d)", int(v))
	}
}

// ParseVibrateSetting parses "off", "on" or "only_silent".
func ParseVibrateSetting(name string) (VibrateSetting, error) {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "off":
		return VibrateOff, nil
	case "on":
		return VibrateOn, nil
	case "only_silent":
		return VibrateOnlySilent, nil
	default:
		return 0, fmt.Errorf("unknown vibrate setting: %q", name)
	}
}

// VibrateWord packs one VibrateSetting per VibrateType, two bits each.
type VibrateWord int

// Get extracts the setting for t.
func (w VibrateWord) Get(t VibrateType) VibrateSetting {
	return VibrateSetting((int(w) >> (uint(t) * 2)) & 3)
}

// Set returns w with the slot for t replaced by v.
func (w VibrateWord) Set(t VibrateType, v VibrateSetting) VibrateWord {
	shift := uint(t) * 2
	return VibrateWord((int(w) &^ (3 << shift)) | ((int(v) & 3) << shift))
}
