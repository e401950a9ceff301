// Package ipc exposes the volume engine over a Unix domain socket.
//
// Protocol: line-delimited JSON.
//   - Client sends: {"type": "set_volume", "data": {...}}
//   - Server responds: {"status": "ok", "data": {...}} or {"status": "error", "error": "msg"}
//
// Every connection is one caller. Mutes taken over a connection are released
// when it closes.
package ipc

import (
	"encoding/json"
	"fmt"

	"volumed/internal/audio"
)

// Request types.
const (
	TypeAdjustVolume        = "adjust_volume"
	TypeSetVolume           = "set_volume"
	TypeGetVolume           = "get_volume"
	TypeSetMute             = "set_mute"
	TypeSetSolo             = "set_solo"
	TypeGetRingerMode       = "get_ringer_mode"
	TypeSetRingerMode       = "set_ringer_mode"
	TypeGetVibrate          = "get_vibrate"
	TypeSetVibrate          = "set_vibrate"
	TypeSetSpeakerphone     = "set_speakerphone"
	TypeSetBluetoothSco     = "set_bluetooth_sco"
	TypeGetCommRouting      = "get_communication_routing"
	TypeDeviceEvent         = "device_event"
	TypeGetDevices          = "get_devices"
	TypeSetNotificationLink = "set_notification_linked"
	TypeReload              = "reload_settings"
	TypeSnapshot            = "snapshot"
	TypePing                = "ping"
)

const (
	StatusOK    = "ok"
	StatusError = "error"
)

// Request is the envelope of one client line.
type Request struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Response is the envelope of one server line.
type Response struct {
	Status string          `json:"status"`
	Error  string          `json:"error,omitempty"`
	Data   json.RawMessage `json:"data,omitempty"`
}

// NewRequest marshals data into a request of the given type. data may be nil.
func NewRequest(typ string, data any) (Request, error) {
	req := Request{Type: typ}
	if data == nil {
		return req, nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return Request{}, fmt.Errorf("marshal %s: %w", typ, err)
	}
	req.Data = b
	return req, nil
}

// StreamRequest names a stream.
type StreamRequest struct {
	Stream string `json:"stream"`
}

// AdjustVolumeRequest steps a stream one notch. Direction is "raise" or "lower".
type AdjustVolumeRequest struct {
	Stream    string   `json:"stream"`
	Direction string   `json:"direction"`
	Flags     []string `json:"flags,omitempty"`
}

// SetVolumeRequest sets a stream to an absolute index in user steps.
type SetVolumeRequest struct {
	Stream string   `json:"stream"`
	Index  int      `json:"index"`
	Flags  []string `json:"flags,omitempty"`
}

// MuteRequest is used by set_mute and set_solo.
type MuteRequest struct {
	Stream string `json:"stream"`
	State  bool   `json:"state"`
}

// RingerModeRequest carries "normal", "vibrate" or "silent".
type RingerModeRequest struct {
	Mode string `json:"mode"`
}

// VibrateRequest reads or writes one vibrate setting. Setting is ignored by
// get_vibrate.
type VibrateRequest struct {
	Type    string `json:"type"`
	Setting string `json:"setting,omitempty"`
}

// SwitchRequest turns something on or off.
type SwitchRequest struct {
	On bool `json:"on"`
}

// DeviceEventRequest reports a device connecting or disconnecting.
type DeviceEventRequest struct {
	Device    string `json:"device"`
	Connected bool   `json:"connected"`
	Address   string `json:"address,omitempty"`
	Dock      bool   `json:"dock,omitempty"`
	Name      string `json:"name,omitempty"`
}

// VolumeReply answers volume requests.
type VolumeReply struct {
	Stream      string `json:"stream"`
	Index       int    `json:"index"`
	Max         int    `json:"max"`
	LastAudible int    `json:"last_audible"`
	Muted       bool   `json:"muted"`
}

// RingerModeReply answers ringer mode requests.
type RingerModeReply struct {
	Mode string `json:"mode"`
}

// VibrateReply answers vibrate requests.
type VibrateReply struct {
	Type          string `json:"type"`
	Setting       string `json:"setting"`
	ShouldVibrate bool   `json:"should_vibrate"`
}

// CommRoutingReply reports the communication overrides.
type CommRoutingReply struct {
	Speakerphone bool `json:"speakerphone"`
	BluetoothSco bool `json:"bluetooth_sco"`
}

// PingReply identifies the caller the server assigned to the connection.
type PingReply struct {
	Caller string `json:"caller"`
}

func parseDirection(name string) (audio.Direction, error) {
	switch name {
	case "raise", "up":
		return audio.DirectionRaise, nil
	case "lower", "down":
		return audio.DirectionLower, nil
	default:
		return 0, fmt.Errorf("unknown direction: %q", name)
	}
}
