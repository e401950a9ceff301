package volume

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/audio"
)

func TestValidateAliasesRejectsChains(t *testing.T) {
	a := aliasTable(ProfilePhone, true)
	require.NoError(t, validateAliases(a))

	// Music -> Ring while Tts -> Music makes a chain of depth two.
	a[audio.StreamMusic] = audio.StreamRing
	assert.Error(t, validateAliases(a))

	b := aliasTable(ProfileMedia, false)
	require.NoError(t, validateAliases(b))
	b[audio.StreamAlarm] = audio.StreamType(99)
	assert.Error(t, validateAliases(b))
}

func TestAliasProfiles(t *testing.T) {
	phone := aliasTable(ProfilePhone, true)
	assert.Equal(t, audio.StreamRing, phone[audio.StreamSystem])
	assert.Equal(t, audio.StreamRing, phone[audio.StreamNotification])
	assert.Equal(t, audio.StreamMusic, phone[audio.StreamTts])
	assert.Equal(t, audio.StreamAlarm, phone[audio.StreamAlarm])

	media := aliasTable(ProfileMedia, false)
	assert.Equal(t, audio.StreamMusic, media[audio.StreamSystem])
	assert.Equal(t, audio.StreamMusic, media[audio.StreamDtmf])
	assert.Equal(t, audio.StreamNotification, media[audio.StreamNotification])
}

func newTestRegistry(t *testing.T) *registry {
	t.Helper()
	cfg := DefaultConfig()
	r, err := newRegistry(cfg.MaxIndex, aliasTable(ProfilePhone, true))
	require.NoError(t, err)
	return r
}

func TestSetIndexCascadesAndReportsChange(t *testing.T) {
	r := newTestRegistry(t)

	assert.True(t, r.setIndexLocked(audio.StreamRing, 70, true))
	assert.Equal(t, 70, r.streams[audio.StreamSystem].index)
	assert.Equal(t, 150, r.streams[audio.StreamDtmf].index)
	assert.Equal(t, 70, r.streams[audio.StreamSystem].lastAudibleIndex)

	assert.False(t, r.setIndexLocked(audio.StreamRing, 70, true), "same value")
	assert.False(t, r.setIndexLocked(audio.StreamRing, 500, true), "clamped to the current max")

	assert.True(t, r.setIndexLocked(audio.StreamRing, 0, false))
	assert.Equal(t, 0, r.streams[audio.StreamDtmf].index)
	assert.Equal(t, 150, r.streams[audio.StreamDtmf].lastAudibleIndex, "last audible untouched")
}

func TestRescaleRoundsToNearest(t *testing.T) {
	r := newTestRegistry(t)

	// Ring 0..70 into Music 0..150.
	assert.Equal(t, 0, r.rescaleLocked(0, audio.StreamRing, audio.StreamMusic))
	assert.Equal(t, 21, r.rescaleLocked(10, audio.StreamRing, audio.StreamMusic))
	assert.Equal(t, 150, r.rescaleLocked(70, audio.StreamRing, audio.StreamMusic))
	assert.Equal(t, 5, r.rescaleLocked(10, audio.StreamMusic, audio.StreamRing))
}

func TestSettingKeysFollowAlias(t *testing.T) {
	r := newTestRegistry(t)

	assert.Equal(t, "volume_ring", r.streams[audio.StreamNotification].settingKey)
	assert.Equal(t, "volume_ring_last_audible", r.streams[audio.StreamNotification].lastAudibleSettingKey)
	assert.Equal(t, "volume_music", r.streams[audio.StreamMusic].settingKey)

	r.alias[audio.StreamNotification] = audio.StreamNotification
	r.rekeyLocked()
	assert.Equal(t, "volume_notification", r.streams[audio.StreamNotification].settingKey)
}

func TestRingerMachineTransitions(t *testing.T) {
	m := newRingerMachine(audio.RingerModeNormal)

	_, ok := m.step(audio.DirectionLower, false)
	assert.False(t, ok)
	_, ok = m.step(audio.DirectionRaise, true)
	assert.False(t, ok, "no raise out of normal")

	mode, ok := m.step(audio.DirectionLower, true)
	assert.True(t, ok)
	assert.Equal(t, audio.RingerModeVibrate, mode)

	mode, _ = m.step(audio.DirectionLower, false)
	assert.Equal(t, audio.RingerModeSilent, mode)
	_, ok = m.step(audio.DirectionLower, true)
	assert.False(t, ok)

	mode, _ = m.step(audio.DirectionRaise, false)
	assert.Equal(t, audio.RingerModeVibrate, mode)
	mode, _ = m.step(audio.DirectionRaise, false)
	assert.Equal(t, audio.RingerModeNormal, mode)

	m.set(audio.RingerModeSilent)
	assert.Equal(t, audio.RingerModeSilent, m.mode())
}
