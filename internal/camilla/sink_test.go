package camilla

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/audio"
)

// mockController records every call in order.
type mockController struct {
	mu     sync.Mutex
	calls  []string
	state  string
	stateE error
	failOn string
}

func (m *mockController) record(call string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.calls = append(m.calls, call)
	if m.failOn != "" && m.failOn == call {
		return errors.New("boom")
	}
	return nil
}

func (m *mockController) SetFaderVolume(fader int, db float64) error {
	return m.record(fmt.Sprintf("volume %d %.2f", fader, db))
}

func (m *mockController) SetFaderMute(fader int, mute bool) error {
	return m.record(fmt.Sprintf("mute %d %t", fader, mute))
}

func (m *mockController) SetConfigFilePath(path string) error {
	return m.record("path " + path)
}

func (m *mockController) Reload() error { return m.record("reload") }

func (m *mockController) GetState() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state, m.stateE
}

func (m *mockController) Close() error { return nil }

func (m *mockController) taken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.calls...)
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestSink(t *testing.T, ctl Controller) *Sink {
	t.Helper()
	var max [audio.NumStreams]int
	max[audio.StreamMusic] = 150
	max[audio.StreamRing] = 70
	s, err := NewSink(ctl, SinkConfig{
		Faders: map[audio.StreamType]int{
			audio.StreamMusic: 0,
			audio.StreamRing:  1,
		},
		MaxIndex: max,
		MinDB:    -60,
		MaxDB:    0,
		Routes: map[string]string{
			"speaker":         "/etc/camilladsp/speaker.yml",
			"Wired_Headphone": "/etc/camilladsp/headphones.yml",
			"car_dock":        "/etc/camilladsp/car.yml",
		},
	}, testLogger())
	require.NoError(t, err)
	return s
}

func TestIndexToDB(t *testing.T) {
	tests := []struct {
		index, max int
		want       float64
	}{
		{0, 150, -60},
		{150, 150, 0},
		{200, 150, 0},
		{75, 150, -30},
		{140, 150, -4},
		{10, 0, -60},
	}
	for _, tt := range tests {
		assert.InDelta(t, tt.want, IndexToDB(tt.index, tt.max, -60, 0), 0.001, "index=%d max=%d", tt.index, tt.max)
	}
}

func TestSink_ApplyVolume(t *testing.T) {
	ctl := &mockController{}
	s := newTestSink(t, ctl)

	require.NoError(t, s.ApplyVolume(audio.StreamMusic, 75))
	require.NoError(t, s.ApplyVolume(audio.StreamRing, 0))
	require.NoError(t, s.ApplyVolume(audio.StreamAlarm, 30))

	assert.Equal(t, []string{
		"volume 0 -30.00",
		"mute 0 false",
		"mute 1 true",
	}, ctl.taken())
}

func TestSink_ApplyVolumeError(t *testing.T) {
	ctl := &mockController{failOn: "volume 0 -30.00"}
	s := newTestSink(t, ctl)

	require.Error(t, s.ApplyVolume(audio.StreamMusic, 75))
	assert.Equal(t, []string{"volume 0 -30.00"}, ctl.taken(), "no unmute after a failed gain change")
}

func TestSink_ApplyRouting(t *testing.T) {
	ctl := &mockController{}
	s := newTestSink(t, ctl)

	require.NoError(t, s.ApplyRouting(audio.DeviceWiredHeadphone, audio.ForceNone))
	// Same route again does not reload.
	require.NoError(t, s.ApplyRouting(audio.DeviceWiredHeadphone, audio.ForceNone))
	// Forced use wins over the device.
	require.NoError(t, s.ApplyRouting(audio.DeviceBluetoothA2dp, audio.ForceCarDock))
	// No route: left alone.
	require.NoError(t, s.ApplyRouting(audio.DeviceBluetoothSco, audio.ForceBluetoothSco))

	assert.Equal(t, []string{
		"path /etc/camilladsp/headphones.yml",
		"reload",
		"path /etc/camilladsp/car.yml",
		"reload",
	}, ctl.taken())
	assert.Equal(t, "/etc/camilladsp/car.yml", s.ActiveConfigPath())
}

func TestSink_ApplyRoutingFailureRetriesNextTime(t *testing.T) {
	ctl := &mockController{failOn: "reload"}
	s := newTestSink(t, ctl)

	require.Error(t, s.ApplyRouting(audio.DeviceSpeaker, audio.ForceNone))
	assert.Empty(t, s.ActiveConfigPath())

	ctl.mu.Lock()
	ctl.failOn = ""
	ctl.mu.Unlock()
	require.NoError(t, s.ApplyRouting(audio.DeviceSpeaker, audio.ForceNone))
	assert.Equal(t, "/etc/camilladsp/speaker.yml", s.ActiveConfigPath())
}

func TestSink_Probe(t *testing.T) {
	ctl := &mockController{state: "Running"}
	s := newTestSink(t, ctl)
	s.SeedActivePath("/etc/camilladsp/speaker.yml")

	require.NoError(t, s.Probe())
	assert.Equal(t, "/etc/camilladsp/speaker.yml", s.ActiveConfigPath())

	ctl.state = stateInactive
	require.ErrorIs(t, s.Probe(), ErrMixerInactive)
	assert.Empty(t, s.ActiveConfigPath(), "a failed probe forgets the route")

	ctl.state = "Running"
	ctl.stateE = errors.New("connection refused")
	require.Error(t, s.Probe())
}

func TestNewSink_Validation(t *testing.T) {
	_, err := NewSink(&mockController{}, SinkConfig{
		Faders: map[audio.StreamType]int{audio.StreamMusic: 7},
		MinDB:  0,
		MaxDB:  -10,
	}, testLogger())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "fader for music")
	assert.Contains(t, err.Error(), "max index for music")
	assert.Contains(t, err.Error(), "min dB")
}
