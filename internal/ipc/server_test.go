package ipc

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"

	"volumed/internal/audio"
	"volumed/internal/pipeline"
	"volumed/internal/settings"
	"volumed/internal/volume"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func waitUntil(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timeout: %s", msg)
}

type testDaemon struct {
	engine   *volume.Engine
	liveness *Liveness
	socket   string
}

// startDaemon serves a real engine on a temporary socket. The pipeline is not
// drained; the tests only look at engine state.
func startDaemon(t *testing.T, opts ...func(*Server)) *testDaemon {
	t.Helper()
	logger := testLogger()

	pipe := pipeline.New(nil, settings.NewMemoryStore(), pipeline.Config{Capacity: 1 << 12}, logger)
	liveness := NewLiveness()
	engine, err := volume.New(volume.DefaultConfig(), volume.Deps{
		Pipeline: pipe,
		Liveness: liveness,
	}, logger)
	require.NoError(t, err)

	// Unix socket paths are length limited; keep it short.
	dir, err := os.MkdirTemp("", "vd")
	require.NoError(t, err)
	t.Cleanup(func() { os.RemoveAll(dir) })
	socket := filepath.Join(dir, "ipc.sock")

	srv := NewServer(engine, liveness, logger)
	for _, opt := range opts {
		opt(srv)
	}
	ctx, cancel := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		assert.NoError(t, srv.ListenAndServe(ctx, socket))
	}()
	t.Cleanup(func() {
		cancel()
		wg.Wait()
	})

	waitUntil(t, time.Second, func() bool {
		_, err := os.Stat(socket)
		return err == nil
	}, "socket not created")

	return &testDaemon{engine: engine, liveness: liveness, socket: socket}
}

func (d *testDaemon) dial(t *testing.T) *Client {
	t.Helper()
	c, err := Dial(d.socket, time.Second)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestServer_VolumeRoundTrip(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t)

	var reply VolumeReply
	require.NoError(t, c.Call(TypeSetVolume, SetVolumeRequest{Stream: "music", Index: 20, Flags: []string{"show_ui"}}, &reply))
	assert.Equal(t, VolumeReply{Stream: "music", Index: 15, Max: 15, LastAudible: 15}, reply)

	require.NoError(t, c.Call(TypeAdjustVolume, AdjustVolumeRequest{Stream: "music", Direction: "lower"}, &reply))
	assert.Equal(t, 14, reply.Index)

	require.NoError(t, c.Call(TypeGetVolume, StreamRequest{Stream: "music"}, &reply))
	assert.Equal(t, 14, reply.Index)
}

func TestServer_InvalidRequests(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t)

	tests := []struct {
		name string
		typ  string
		data any
	}{
		{"unknown type", "explode", nil},
		{"missing data", TypeSetVolume, nil},
		{"unknown stream", TypeGetVolume, StreamRequest{Stream: "podcast"}},
		{"bad direction", TypeAdjustVolume, AdjustVolumeRequest{Stream: "music", Direction: "sideways"}},
		{"bad flag", TypeSetVolume, SetVolumeRequest{Stream: "music", Index: 3, Flags: []string{"loud"}}},
		{"bad ringer mode", TypeSetRingerMode, RingerModeRequest{Mode: "party"}},
		{"bad device", TypeDeviceEvent, DeviceEventRequest{Device: "toaster", Connected: true}},
		{"speaker is not reported", TypeDeviceEvent, DeviceEventRequest{Device: "speaker", Connected: true}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Call(tt.typ, tt.data, nil)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "ipc error")
		})
	}

	// The connection survives bad requests.
	var ping PingReply
	require.NoError(t, c.Call(TypePing, nil, &ping))
	assert.NotEmpty(t, ping.Caller)
}

func TestServer_RateLimitPerConnection(t *testing.T) {
	d := startDaemon(t, func(s *Server) {
		s.RequestRate = rate.Every(time.Hour)
		s.RequestBurst = 2
	})
	c := d.dial(t)

	require.NoError(t, c.Call(TypePing, nil, nil))
	require.NoError(t, c.Call(TypePing, nil, nil))
	err := c.Call(TypePing, nil, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), errRateLimited.Error())

	// Each connection has its own budget.
	other := d.dial(t)
	require.NoError(t, other.Call(TypePing, nil, nil))
}

func TestServer_MuteReleasedWhenConnectionCloses(t *testing.T) {
	d := startDaemon(t)
	holder := d.dial(t)
	other := d.dial(t)

	var reply VolumeReply
	require.NoError(t, holder.Call(TypeSetMute, MuteRequest{Stream: "music", State: true}, &reply))
	assert.True(t, reply.Muted)
	assert.Equal(t, 0, reply.Index)
	assert.Equal(t, 1, d.liveness.Registrations())

	// Another caller cannot release the holder's mute.
	require.NoError(t, other.Call(TypeSetMute, MuteRequest{Stream: "music", State: false}, &reply))
	assert.True(t, reply.Muted)

	require.NoError(t, holder.Close())

	waitUntil(t, time.Second, func() bool {
		muted, err := d.engine.IsStreamMute(audio.StreamMusic)
		return err == nil && !muted
	}, "mute not released after disconnect")

	require.NoError(t, other.Call(TypeGetVolume, StreamRequest{Stream: "music"}, &reply))
	assert.False(t, reply.Muted)
	assert.Equal(t, 11, reply.Index)
	assert.Equal(t, 0, d.liveness.Registrations())
}

func TestServer_RingerAndVibrate(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t)

	var mode RingerModeReply
	require.NoError(t, c.Call(TypeSetRingerMode, RingerModeRequest{Mode: "vibrate"}, &mode))
	assert.Equal(t, "vibrate", mode.Mode)

	var vib VibrateReply
	require.NoError(t, c.Call(TypeGetVibrate, VibrateRequest{Type: "ringer"}, &vib))
	assert.Equal(t, VibrateReply{Type: "ringer", Setting: "only_silent", ShouldVibrate: true}, vib)

	require.NoError(t, c.Call(TypeSetVibrate, VibrateRequest{Type: "notification", Setting: "off"}, &vib))
	assert.Equal(t, "off", vib.Setting)
	assert.False(t, vib.ShouldVibrate)

	require.NoError(t, c.Call(TypeGetRingerMode, nil, &mode))
	assert.Equal(t, "vibrate", mode.Mode)
}

func TestServer_DevicesAndRouting(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t)

	var devices []volume.DeviceSnapshot
	require.NoError(t, c.Call(TypeDeviceEvent, DeviceEventRequest{Device: "bluetooth_sco_headset", Connected: true, Address: "00:11:22:33:44:55"}, &devices))
	require.Len(t, devices, 1)
	assert.Equal(t, "bluetooth_sco_headset", devices[0].Device)

	var routing CommRoutingReply
	require.NoError(t, c.Call(TypeSetBluetoothSco, SwitchRequest{On: true}, &routing))
	assert.Equal(t, CommRoutingReply{BluetoothSco: true}, routing)

	require.NoError(t, c.Call(TypeSetSpeakerphone, SwitchRequest{On: true}, &routing))
	assert.Equal(t, CommRoutingReply{Speakerphone: true}, routing)

	require.NoError(t, c.Call(TypeDeviceEvent, DeviceEventRequest{Device: "bluetooth_sco_headset", Connected: false}, &devices))
	assert.Empty(t, devices)

	require.NoError(t, c.Call(TypeGetCommRouting, nil, &routing))
	assert.True(t, routing.Speakerphone)
}

func TestServer_SnapshotAndNotificationLink(t *testing.T) {
	d := startDaemon(t)
	c := d.dial(t)

	require.NoError(t, c.Call(TypeSetNotificationLink, SwitchRequest{On: false}, nil))
	require.NoError(t, c.Call(TypeReload, nil, nil))

	var snap volume.Snapshot
	require.NoError(t, c.Call(TypeSnapshot, nil, &snap))
	assert.False(t, snap.NotificationLinkedToRing)
	assert.Equal(t, "normal", snap.RingerMode)
	assert.Len(t, snap.Streams, audio.NumStreams)
}

func TestLiveness_HeldCallersNeverLost(t *testing.T) {
	l := NewLiveness()
	l.Hold("keys")

	lost := false
	token, err := l.Register("keys", func() { lost = true })
	require.NoError(t, err)
	l.lost("keys")
	assert.False(t, lost)
	assert.True(t, l.Connected("keys"))

	l.Unregister(token)
	assert.Equal(t, 0, l.Registrations())

	_, err = l.Register("nobody", func() {})
	require.ErrorIs(t, err, ErrCallerGone)
}

func TestLiveness_LostFiresOnce(t *testing.T) {
	l := NewLiveness()
	l.open("c1")

	fired := 0
	_, err := l.Register("c1", func() { fired++ })
	require.NoError(t, err)
	l.lost("c1")
	l.lost("c1")
	assert.Equal(t, 1, fired)
	assert.False(t, l.Connected("c1"))
}
