package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/ipc"
)

func TestParseCommand(t *testing.T) {
	tests := []struct {
		args []string
		want request
	}{
		{[]string{"get", "music"}, request{typ: ipc.TypeGetVolume, data: ipc.StreamRequest{Stream: "music"}}},
		{[]string{"set", "ring", "4", "show_ui"}, request{typ: ipc.TypeSetVolume, data: ipc.SetVolumeRequest{Stream: "ring", Index: 4, Flags: []string{"show_ui"}}}},
		{[]string{"down", "ring"}, request{typ: ipc.TypeAdjustVolume, data: ipc.AdjustVolumeRequest{Stream: "ring", Direction: "lower", Flags: []string{}}}},
		{[]string{"mute", "music"}, request{typ: ipc.TypeSetMute, data: ipc.MuteRequest{Stream: "music", State: true}, hold: true}},
		{[]string{"unsolo", "alarm"}, request{typ: ipc.TypeSetSolo, data: ipc.MuteRequest{Stream: "alarm", State: false}}},
		{[]string{"ringer"}, request{typ: ipc.TypeGetRingerMode}},
		{[]string{"ringer", "silent"}, request{typ: ipc.TypeSetRingerMode, data: ipc.RingerModeRequest{Mode: "silent"}}},
		{[]string{"vibrate", "ringer"}, request{typ: ipc.TypeGetVibrate, data: ipc.VibrateRequest{Type: "ringer"}}},
		{[]string{"vibrate", "ringer", "on"}, request{typ: ipc.TypeSetVibrate, data: ipc.VibrateRequest{Type: "ringer", Setting: "on"}}},
		{[]string{"sco", "on"}, request{typ: ipc.TypeSetBluetoothSco, data: ipc.SwitchRequest{On: true}}},
		{[]string{"connect", "bluetooth_a2dp", "aa:bb", "dock", "name=Car"}, request{typ: ipc.TypeDeviceEvent, data: ipc.DeviceEventRequest{
			Device: "bluetooth_a2dp", Connected: true, Address: "aa:bb", Dock: true, Name: "Car",
		}}},
		{[]string{"link-notification", "off"}, request{typ: ipc.TypeSetNotificationLink, data: ipc.SwitchRequest{On: false}}},
		{[]string{"status"}, request{typ: ipc.TypeSnapshot}},
	}
	for _, tt := range tests {
		got, err := parseCommand(tt.args)
		require.NoError(t, err, tt.args)
		assert.Equal(t, tt.want, got, tt.args)
	}
}

func TestParseCommandErrors(t *testing.T) {
	_, err := parseCommand(nil)
	assert.ErrorIs(t, err, errUsage)

	for _, args := range [][]string{
		{"get"},
		{"set", "music"},
		{"set", "music", "loud"},
		{"speakerphone", "maybe"},
		{"frobnicate"},
	} {
		_, err := parseCommand(args)
		assert.Error(t, err, args)
		assert.NotErrorIs(t, err, errUsage, args)
	}
}
