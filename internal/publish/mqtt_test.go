package publish

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"volumed/internal/audio"
)

type doneToken struct{ err error }

func (t doneToken) Wait() bool                     { return true }
func (t doneToken) WaitTimeout(time.Duration) bool { return true }
func (t doneToken) Done() <-chan struct{} {
	ch := make(chan struct{})
	close(ch)
	return ch
}
func (t doneToken) Error() error { return t.err }

type published struct {
	topic    string
	qos      byte
	retained bool
	payload  []byte
}

type fakeMQTT struct {
	mu           sync.Mutex
	connected    bool
	connectErr   error
	msgs         []published
	disconnected bool
}

func (f *fakeMQTT) Connect() mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = f.connectErr == nil
	return doneToken{err: f.connectErr}
}

func (f *fakeMQTT) Disconnect(uint) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connected = false
	f.disconnected = true
}

func (f *fakeMQTT) IsConnected() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.connected
}

func (f *fakeMQTT) Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.msgs = append(f.msgs, published{topic, qos, retained, payload.([]byte)})
	return doneToken{}
}

func (f *fakeMQTT) sent() []published {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]published(nil), f.msgs...)
}

func TestNewMQTTPublisher_RequiresBroker(t *testing.T) {
	_, err := NewMQTTPublisher(MQTTConfig{}, testLogger())
	require.Error(t, err)

	p, err := NewMQTTPublisher(MQTTConfig{Broker: "tcp://127.0.0.1:1883", ClientID: "volumed"}, testLogger())
	require.NoError(t, err)
	assert.Equal(t, "volumed/ringer_mode_changed", p.Topic(audio.EventRingerModeChanged))
}

func TestMQTTPublisher_ForwardsEvents(t *testing.T) {
	fake := &fakeMQTT{}
	p := newMQTTPublisher(MQTTConfig{TopicPrefix: "home/audio/", QoS: 1, Retain: true}, fake, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- p.Run(ctx) }()

	p.Publish(audio.EventMuteChanged, audio.MuteChanged{Stream: "music", Muted: true})

	waitUntil(t, time.Second, func() bool { return len(fake.sent()) == 1 }, "event not published")
	cancel()
	require.NoError(t, <-errCh)

	msg := fake.sent()[0]
	assert.Equal(t, "home/audio/mute_changed", msg.topic)
	assert.Equal(t, byte(1), msg.qos)
	assert.True(t, msg.retained)

	var env struct {
		Type string            `json:"type"`
		Data audio.MuteChanged `json:"data"`
	}
	require.NoError(t, json.Unmarshal(msg.payload, &env))
	assert.Equal(t, "mute_changed", env.Type)
	assert.Equal(t, audio.MuteChanged{Stream: "music", Muted: true}, env.Data)

	fake.mu.Lock()
	defer fake.mu.Unlock()
	assert.True(t, fake.disconnected)
}

func TestMQTTPublisher_ConnectError(t *testing.T) {
	fake := &fakeMQTT{connectErr: errors.New("refused")}
	p := newMQTTPublisher(MQTTConfig{}, fake, testLogger())

	err := p.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "refused")
}

func TestMQTTPublisher_DropsWhileDisconnected(t *testing.T) {
	fake := &fakeMQTT{}
	p := newMQTTPublisher(MQTTConfig{}, fake, testLogger())
	require.Error(t, p.send(Event{Kind: audio.EventMixerStateChanged, Payload: audio.MixerStateChanged{}}))
	assert.Empty(t, fake.sent())
}
