package audio

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseStreamType_AllNames(t *testing.T) {
	for _, st := range AllStreams() {
		got, err := ParseStreamType(st.String())
		require.NoError(t, err)
		assert.Equal(t, st, got)
	}

	_, err := ParseStreamType("podcast")
	assert.Error(t, err)
	assert.False(t, StreamType(NumStreams).Valid())
	assert.False(t, StreamType(-1).Valid())
}

func TestStreamSet(t *testing.T) {
	s := NewStreamSet(StreamRing, StreamSystem)
	assert.True(t, s.Has(StreamRing))
	assert.True(t, s.Has(StreamSystem))
	assert.False(t, s.Has(StreamMusic))

	s = s.With(StreamMusic).Without(StreamSystem)
	assert.Equal(t, []StreamType{StreamRing, StreamMusic}, s.Streams())
}

func TestVibrateWord_SlotsAreIndependent(t *testing.T) {
	var w VibrateWord
	w = w.Set(VibrateTypeRinger, VibrateOnlySilent)
	w = w.Set(VibrateTypeNotification, VibrateOn)

	assert.Equal(t, VibrateOnlySilent, w.Get(VibrateTypeRinger))
	assert.Equal(t, VibrateOn, w.Get(VibrateTypeNotification))

	w = w.Set(VibrateTypeRinger, VibrateOff)
	assert.Equal(t, VibrateOff, w.Get(VibrateTypeRinger))
	assert.Equal(t, VibrateOn, w.Get(VibrateTypeNotification))
	assert.Equal(t, VibrateWord(1<<2), w)
}

func TestParseRingerModeAndDevice(t *testing.T) {
	m, err := ParseRingerMode("Vibrate")
	require.NoError(t, err)
	assert.Equal(t, RingerModeVibrate, m)

	_, err = ParseRingerMode("loud")
	assert.Error(t, err)

	d, err := ParseDeviceClass("bluetooth_sco_carkit")
	require.NoError(t, err)
	assert.True(t, d.IsBluetoothSco())
	assert.False(t, d.IsWired())
}

func TestParseFlags(t *testing.T) {
	f, err := ParseFlags([]string{"show_ui", " Allow_Ringer_Modes "})
	require.NoError(t, err)
	assert.Equal(t, FlagShowUI|FlagAllowRingerModes, f)
	assert.Equal(t, []string{"show_ui", "allow_ringer_modes"}, f.Names())

	f, err = ParseFlags(nil)
	require.NoError(t, err)
	assert.Zero(t, f)

	_, err = ParseFlags([]string{"loud"})
	assert.Error(t, err)
}
