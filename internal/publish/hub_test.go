package publish

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/audio"
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

// startHub runs hub until the test ends.
func startHub(t *testing.T, hub *Hub) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		hub.Run(ctx)
	}()
	t.Cleanup(func() {
		cancel()
		select {
		case <-done:
		case <-time.After(time.Second):
			t.Errorf("timeout waiting for hub to stop")
		}
	})
}

// Clients built with a nil conn never touch the network; the hub guards
// against nil when it disconnects them.
func testClient(hub *Hub, name string, buf int) *Client {
	return &Client{hub: hub, send: make(chan []byte, buf), remoteAddr: name, logger: testLogger()}
}

func recv(t *testing.T, ch <-chan []byte) []byte {
	t.Helper()
	select {
	case got := <-ch:
		return got
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for frame")
		return nil
	}
}

func TestHub_BroadcastDeliveredToAllClients(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{SendBuf: 4, BroadcastBuf: 8})
	startHub(t, hub)

	c1 := testClient(hub, "c1", 4)
	c2 := testClient(hub, "c2", 4)
	hub.addClient(c1)
	hub.addClient(c2)

	msg := []byte(`{"type":"mute_changed","data":{"stream":"music","muted":true}}`)
	hub.BroadcastBytes(msg)

	assert.Equal(t, string(msg), string(recv(t, c1.send)))
	assert.Equal(t, string(msg), string(recv(t, c2.send)))
}

func TestHub_SlowClientDisconnectedOnFullSendBuffer(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{SendBuf: 1, BroadcastBuf: 8})
	startHub(t, hub)

	slow := testClient(hub, "slow", 1)
	fast := testClient(hub, "fast", 8)
	hub.addClient(slow)
	hub.addClient(fast)

	hub.BroadcastBytes([]byte("m1"))
	assert.Equal(t, "m1", string(recv(t, fast.send)))
	hub.BroadcastBytes([]byte("m2"))
	assert.Equal(t, "m2", string(recv(t, fast.send)))

	waitUntil(t, 500*time.Millisecond, func() bool { return hub.ClientCount() == 1 }, "slow client not evicted")

	// The evicted client's queue is closed after its buffered frame.
	assert.Equal(t, "m1", string(recv(t, slow.send)))
	_, ok := <-slow.send
	assert.False(t, ok)
}

func TestBroadcaster_CoalescesVolumePerStream(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{SendBuf: 16, BroadcastBuf: 16})
	startHub(t, hub)
	c := testClient(hub, "c", 16)
	hub.addClient(c)

	b := NewBroadcaster(hub, 16, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	b.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "music", Index: 10, PrevIndex: 9, MaxIndex: 15})
	b.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "music", Index: 11, PrevIndex: 10, MaxIndex: 15})
	b.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "ring", Index: 3, PrevIndex: 4, MaxIndex: 7})
	b.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "music", Index: 12, PrevIndex: 11, MaxIndex: 15})

	type frame struct {
		Type string              `json:"type"`
		Data audio.VolumeChanged `json:"data"`
	}
	var got []frame
	for i := 0; i < 2; i++ {
		var f frame
		require.NoError(t, json.Unmarshal(recv(t, c.send), &f))
		got = append(got, f)
	}
	assert.Equal(t, "volume_changed", got[0].Type)
	assert.Equal(t, audio.VolumeChanged{Stream: "music", Index: 12, PrevIndex: 9, MaxIndex: 15}, got[0].Data)
	assert.Equal(t, audio.VolumeChanged{Stream: "ring", Index: 3, PrevIndex: 4, MaxIndex: 7}, got[1].Data)

	select {
	case extra := <-c.send:
		t.Fatalf("unexpected extra frame %s", extra)
	case <-time.After(2 * volumeCoalesceWindow):
	}
}

func TestBroadcaster_OtherEventsFlushPendingVolumeFirst(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{SendBuf: 16, BroadcastBuf: 16})
	startHub(t, hub)
	c := testClient(hub, "c", 16)
	hub.addClient(c)

	b := NewBroadcaster(hub, 16, testLogger())
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(ctx)
	}()
	defer func() {
		cancel()
		<-done
	}()

	b.Publish(audio.EventVolumeChanged, audio.VolumeChanged{Stream: "music", Index: 5})
	b.Publish(audio.EventMuteChanged, audio.MuteChanged{Stream: "music", Muted: true})

	var first, second Envelope
	require.NoError(t, json.Unmarshal(recv(t, c.send), &first))
	require.NoError(t, json.Unmarshal(recv(t, c.send), &second))
	assert.Equal(t, string(audio.EventVolumeChanged), first.Type)
	assert.Equal(t, string(audio.EventMuteChanged), second.Type)
	assert.NotNil(t, second.Ts)
}

func TestServer_SendsStateInitThenBroadcasts(t *testing.T) {
	hub := NewHub(testLogger(), HubConfig{})
	startHub(t, hub)

	srv := NewServer(hub, func() any {
		return map[string]any{"ringer_mode": "normal"}
	}, testLogger())
	mux := http.NewServeMux()
	srv.Register(mux, "/ws/events")
	ts := httptest.NewServer(mux)
	defer ts.Close()

	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http")+"/ws/events", nil)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))

	var init struct {
		Type string            `json:"type"`
		Data map[string]string `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&init))
	assert.Equal(t, TypeStateInit, init.Type)
	assert.Equal(t, "normal", init.Data["ringer_mode"])

	waitUntil(t, time.Second, func() bool { return hub.ClientCount() == 1 }, "client not registered")
	hub.BroadcastBytes([]byte(`{"type":"ringer_mode_changed"}`))

	var next Envelope
	require.NoError(t, conn.ReadJSON(&next))
	assert.Equal(t, "ringer_mode_changed", next.Type)

	require.NoError(t, conn.Close())
	waitUntil(t, time.Second, func() bool { return hub.ClientCount() == 0 }, "client not removed after close")
}

type recordingPublisher struct{ kinds []audio.EventKind }

func (r *recordingPublisher) Publish(kind audio.EventKind, _ any) { r.kinds = append(r.kinds, kind) }

func TestFanout(t *testing.T) {
	a, b := &recordingPublisher{}, &recordingPublisher{}
	f := Fanout{a, nil, b}
	f.Publish(audio.EventMixerStateChanged, audio.MixerStateChanged{Up: true})

	assert.Equal(t, []audio.EventKind{audio.EventMixerStateChanged}, a.kinds)
	assert.Equal(t, []audio.EventKind{audio.EventMixerStateChanged}, b.kinds)
}
