package volume

import (
	"volumed/internal/audio"
	"volumed/internal/pipeline"
)

const (
	usageCommunication = "communication"
	usageDock          = "dock"
)

func (e *Engine) dockState() (audio.DockState, bool) {
	if e.dock == nil {
		return audio.DockUndocked, false
	}
	return e.dock.DockState()
}

// OnDeviceEvent records a connect or disconnect and queues the routing
// change. Repeated connects of the same device and disconnects of unknown
// devices are no-ops.
func (e *Engine) OnDeviceEvent(ev audio.DeviceEvent) error {
	if !ev.Class.Valid() || ev.Class == audio.DeviceSpeaker {
		return ErrInvalidDevice
	}

	r := e.routing
	var evs []event

	r.mu.Lock()
	addr, connected := r.connected[ev.Class]
	if ev.Connected {
		if connected && addr == ev.Address {
			r.mu.Unlock()
			e.logger.Debug("device already connected", "device", ev.Class.String(), "address", ev.Address)
			return nil
		}
		r.connected[ev.Class] = ev.Address
		if ev.Dock && ev.Class.IsBluetoothA2dp() {
			r.lastDock = ev.Address
			r.forcedDock = dockForcedUse(e.dockState())
			evs = append(evs, event{audio.EventForcedUseChanged, audio.ForcedUseChanged{Usage: usageDock, ForcedUse: r.forcedDock.String()}})
		}
		e.enqueue(pipeline.ApplyRouting(ev.Class, r.forcedForLocked(ev.Class)))
	} else {
		if !connected || (ev.Address != "" && ev.Address != addr) {
			r.mu.Unlock()
			e.logger.Debug("disconnect for unknown device", "device", ev.Class.String(), "address", ev.Address)
			return nil
		}
		delete(r.connected, ev.Class)
		if r.lastDock != "" && addr == r.lastDock {
			r.lastDock = ""
			r.forcedDock = dockForcedUse(e.dockState())
			evs = append(evs, event{audio.EventForcedUseChanged, audio.ForcedUseChanged{Usage: usageDock, ForcedUse: r.forcedDock.String()}})
		}
		if ev.Class.IsBluetoothSco() && r.forcedComm == audio.ForceBluetoothSco {
			r.forcedComm = audio.ForceNone
			evs = append(evs, event{audio.EventForcedUseChanged, audio.ForcedUseChanged{Usage: usageCommunication, ForcedUse: r.forcedComm.String()}})
		}
		active := r.activeLocked()
		e.enqueue(pipeline.ApplyRouting(active, r.forcedForLocked(active)))
		if ev.Class.IsWired() || ev.Class.IsBluetoothA2dp() {
			evs = append(evs, event{audio.EventBecomingNoisy, audio.BecomingNoisy{Device: ev.Class.String()}})
		}
		ev.Address = addr
	}
	r.mu.Unlock()

	e.logger.Info("device connection changed", "device", ev.Class.String(), "connected", ev.Connected, "address", ev.Address)
	evs = append(evs, event{audio.EventDeviceConnection, audio.DeviceConnectionChanged{
		Device:    ev.Class.String(),
		Connected: ev.Connected,
		Address:   ev.Address,
	}})
	e.publish(evs...)
	return nil
}

// ConnectedDevices lists the connected devices.
func (e *Engine) ConnectedDevices() []DeviceSnapshot {
	e.routing.mu.Lock()
	defer e.routing.mu.Unlock()
	return e.routing.devicesLocked()
}

// SetSpeakerphoneOn forces communication audio to the speaker, or drops that
// override.
func (e *Engine) SetSpeakerphoneOn(on bool) {
	e.setForcedComm(func(cur audio.ForcedUse) audio.ForcedUse {
		if on {
			return audio.ForceSpeaker
		}
		if cur == audio.ForceSpeaker {
			return audio.ForceNone
		}
		return cur
	})
}

// IsSpeakerphoneOn reports whether communication audio is forced to the speaker.
func (e *Engine) IsSpeakerphoneOn() bool {
	e.routing.mu.Lock()
	defer e.routing.mu.Unlock()
	return e.routing.forcedComm == audio.ForceSpeaker
}

// SetBluetoothScoOn forces communication audio to Bluetooth SCO, or drops that
// override.
func (e *Engine) SetBluetoothScoOn(on bool) {
	e.setForcedComm(func(cur audio.ForcedUse) audio.ForcedUse {
		if on {
			return audio.ForceBluetoothSco
		}
		if cur == audio.ForceBluetoothSco {
			return audio.ForceNone
		}
		return cur
	})
}

// IsBluetoothScoOn reports whether communication audio is forced to SCO.
func (e *Engine) IsBluetoothScoOn() bool {
	e.routing.mu.Lock()
	defer e.routing.mu.Unlock()
	return e.routing.forcedComm == audio.ForceBluetoothSco
}

func (e *Engine) setForcedComm(next func(audio.ForcedUse) audio.ForcedUse) {
	r := e.routing
	r.mu.Lock()
	forced := next(r.forcedComm)
	if forced == r.forcedComm {
		r.mu.Unlock()
		return
	}
	r.forcedComm = forced
	e.enqueue(pipeline.ApplyRouting(r.activeLocked(), forced))
	r.mu.Unlock()

	e.logger.Info("communication routing changed", "forced_use", forced.String())
	e.publish(event{audio.EventForcedUseChanged, audio.ForcedUseChanged{Usage: usageCommunication, ForcedUse: forced.String()}})
}

// reapplyRouting pushes every connected device, or the built-in output when
// nothing is connected.
func (e *Engine) reapplyRouting() {
	r := e.routing
	r.mu.Lock()
	defer r.mu.Unlock()

	applied := false
	for i := 0; i < audio.NumDeviceClasses; i++ {
		d := audio.DeviceClass(i)
		if _, ok := r.connected[d]; ok {
			e.enqueue(pipeline.ApplyRouting(d, r.forcedForLocked(d)))
			applied = true
		}
	}
	if !applied {
		e.enqueue(pipeline.ApplyRouting(audio.DeviceSpeaker, r.forcedComm))
	}
}
