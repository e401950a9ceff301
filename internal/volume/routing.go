package volume

import (
	"sync"

	"volumed/internal/audio"
)

// routingTracker is the connected-device table plus the forced-use overrides.
type routingTracker struct {
	mu sync.Mutex

	// connected maps a device class to its address.
	connected map[audio.DeviceClass]string

	forcedComm audio.ForcedUse
	forcedDock audio.ForcedUse
	lastDock   string
}

func newRoutingTracker() *routingTracker {
	return &routingTracker{connected: make(map[audio.DeviceClass]string)}
}

func dockForcedUse(state audio.DockState, ok bool) audio.ForcedUse {
	if !ok {
		return audio.ForceNone
	}
	switch state {
	case audio.DockCar:
		return audio.ForceCarDock
	case audio.DockDesk:
		return audio.ForceDeskDock
	default:
		return audio.ForceNone
	}
}

// forcedForLocked is the override passed along with device: media devices
// follow the dock override, everything else the communication override.
func (r *routingTracker) forcedForLocked(device audio.DeviceClass) audio.ForcedUse {
	if device.IsBluetoothA2dp() {
		return r.forcedDock
	}
	return r.forcedComm
}

// activeLocked picks the device communication audio currently goes to.
func (r *routingTracker) activeLocked() audio.DeviceClass {
	if r.forcedComm == audio.ForceBluetoothSco {
		for _, d := range []audio.DeviceClass{audio.DeviceBluetoothScoCarKit, audio.DeviceBluetoothScoHeadset, audio.DeviceBluetoothSco} {
			if _, ok := r.connected[d]; ok {
				return d
			}
		}
	}
	if r.forcedComm == audio.ForceSpeaker {
		return audio.DeviceSpeaker
	}
	for _, d := range []audio.DeviceClass{audio.DeviceWiredHeadset, audio.DeviceWiredHeadphone, audio.DeviceBluetoothA2dp, audio.DeviceBluetoothA2dpHeadphones} {
		if _, ok := r.connected[d]; ok {
			return d
		}
	}
	return audio.DeviceSpeaker
}

// DeviceSnapshot is one connected device.
type DeviceSnapshot struct {
	Device  string `json:"device"`
	Address string `json:"address,omitempty"`
}

func (r *routingTracker) devicesLocked() []DeviceSnapshot {
	out := make([]DeviceSnapshot, 0, len(r.connected))
	for i := 0; i < audio.NumDeviceClasses; i++ {
		d := audio.DeviceClass(i)
		if addr, ok := r.connected[d]; ok {
			out = append(out, DeviceSnapshot{Device: d.String(), Address: addr})
		}
	}
	return out
}
