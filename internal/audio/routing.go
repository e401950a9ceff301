package audio

import (
	"fmt"
	"strings"
)

// DeviceClass identifies a kind of output device the routing tracker follows.
type DeviceClass int

const (
	DeviceWiredHeadset DeviceClass = iota
	DeviceWiredHeadphone
	DeviceBluetoothA2dp
	DeviceBluetoothA2dpHeadphones
	DeviceBluetoothSco
	DeviceBluetoothScoHeadset
	DeviceBluetoothScoCarKit
	// DeviceSpeaker is the built-in output. It is always present and never
	// reported through device events.
	DeviceSpeaker

	NumDeviceClasses = int(DeviceSpeaker) + 1
)

var deviceNames = [NumDeviceClasses]string{
	"wired_headset",
	"wired_headphone",
	"bluetooth_a2dp",
	"bluetooth_a2dp_headphones",
	"bluetooth_sco",
	"bluetooth_sco_headset",
	"bluetooth_sco_carkit",
	"speaker",
}

func (d DeviceClass) Valid() bool {
	return d >= 0 && int(d) < NumDeviceClasses
}

func (d DeviceClass) String() string {
	if !d.Valid() {
		return fmt.Sprintf("device(%d)", int(d))
	}
	return deviceNames[d]
}

// IsBluetoothSco reports whether the class is one of the SCO variants.
func (d DeviceClass) IsBluetoothSco() bool {
	return d == DeviceBluetoothSco || d == DeviceBluetoothScoHeadset || d == DeviceBluetoothScoCarKit
}

// IsBluetoothA2dp reports whether the class is one of the A2DP variants.
func (d DeviceClass) IsBluetoothA2dp() bool {
	return d == DeviceBluetoothA2dp || d == DeviceBluetoothA2dpHeadphones
}

// IsWired reports whether the class is a wired jack device.
func (d DeviceClass) IsWired() bool {
	return d == DeviceWiredHeadset || d == DeviceWiredHeadphone
}

// ParseDeviceClass parses the snake_case device class names.
func ParseDeviceClass(name string) (DeviceClass, error) {
	n := strings.ToLower(strings.TrimSpace(name))
	for i, v := range deviceNames {
		if v == n {
			return DeviceClass(i), nil
		}
	}
	return 0, fmt.Errorf("unknown device class: %q", name)
}

// ForcedUse is a routing override passed to the apply sink alongside a device.
type ForcedUse int

const (
	ForceNone ForcedUse = iota
	ForceSpeaker
	ForceBluetoothSco
	ForceDeskDock
	ForceCarDock
)

func (f ForcedUse) String() string {
	switch f {
	case ForceNone:
		return "none"
	case ForceSpeaker:
		return "speaker"
	case ForceBluetoothSco:
		return "bluetooth_sco"
	case ForceDeskDock:
		return "desk_dock"
	case ForceCarDock:
		return "car_dock"
	default:
		return fmt.Sprintf("forced_use(%d)", int(f))
	}
}

// DockState is the physical dock state reported by the platform.
type DockState int

const (
	DockUndocked DockState = iota
	DockDesk
	DockCar
)

func (d DockState) String() string {
	switch d {
	case DockUndocked:
		return "undocked"
	case DockDesk:
		return "desk"
	case DockCar:
		return "car"
	default:
		return fmt.Sprintf("dock(%d)", int(d))
	}
}

// DeviceEvent is one connect/disconnect report from a device event source.
type DeviceEvent struct {
	Class     DeviceClass `json:"class"`
	Connected bool        `json:"connected"`
	Address   string      `json:"address,omitempty"`
	// Dock marks a Bluetooth device that belongs to a dock.
	Dock bool   `json:"dock,omitempty"`
	Name string `json:"name,omitempty"`
}
