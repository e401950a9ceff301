package main

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestFormatFrame(t *testing.T) {
	tests := []struct {
		typ  string
		data string
		want string
	}{
		{"volume_changed", `{"stream":"music","index":9,"prev_index":8,"max_index":15}`, "[VOLUME] music 8 -> 9 (max 15)"},
		{"mute_changed", `{"stream":"ring","muted":true}`, "[MUTE] ring MUTED"},
		{"ringer_mode_changed", `{"mode":"silent","prev":"vibrate"}`, "[RINGER] vibrate -> silent"},
		{"device_connection_changed", `{"device":"wired_headset","connected":false}`, "[DEVICE] wired_headset disconnected"},
		{"audio_becoming_noisy", `{"device":"bluetooth_a2dp"}`, "[NOISY] bluetooth_a2dp"},
		{"mixer_state_changed", `{"up":true}`, "[MIXER] UP"},
		{"forced_use_changed", `{"usage":"communication","forced_use":"speaker"}`, "[FORCED_USE_CHANGED]\n{\n  \"forced_use\": \"speaker\",\n  \"usage\": \"communication\"\n}"},
	}
	for _, tt := range tests {
		got := formatFrame(frame{Type: tt.typ, Data: json.RawMessage(tt.data)})
		assert.Equal(t, tt.want, got, tt.typ)
	}
}
