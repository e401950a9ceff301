package camilla

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeCamilla answers the CamillaDSP websocket commands the client sends.
type fakeCamilla struct {
	mu       sync.Mutex
	received []string
	state    string
	path     string
	result   string
	conns    int

	srv *httptest.Server
}

func newFakeCamilla(t *testing.T) *fakeCamilla {
	t.Helper()
	f := &fakeCamilla{state: "Running", path: "/etc/camilladsp/default.yml", result: resultOk}
	upgrader := websocket.Upgrader{}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		f.mu.Lock()
		f.conns++
		f.mu.Unlock()
		for {
			_, msg, err := conn.ReadMessage()
			if err != nil {
				return
			}
			reply := f.answer(msg)
			if err := conn.WriteMessage(websocket.TextMessage, reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeCamilla) answer(msg []byte) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.received = append(f.received, string(msg))

	var name string
	var value any
	if err := json.Unmarshal(msg, &name); err != nil {
		var cmd map[string]json.RawMessage
		_ = json.Unmarshal(msg, &cmd)
		for k, v := range cmd {
			name = k
			if k == "SetConfigFilePath" {
				_ = json.Unmarshal(v, &f.path)
			}
		}
	}
	switch name {
	case "GetState":
		value = f.state
	case "GetConfigFilePath":
		value = f.path
	}
	b, _ := json.Marshal(map[string]any{name: map[string]any{"result": f.result, "value": value}})
	return b
}

func (f *fakeCamilla) wsURL() string {
	return "ws" + strings.TrimPrefix(f.srv.URL, "http")
}

func (f *fakeCamilla) messages() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.received...)
}

func newTestClient(t *testing.T, url string) *Client {
	t.Helper()
	c, err := NewClient(url, ClientOptions{
		Timeout:         time.Second,
		ConnectAttempts: 2,
		RetryDelay:      10 * time.Millisecond,
	}, testLogger())
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func TestNewClient_RejectsBadURL(t *testing.T) {
	_, err := NewClient("http://127.0.0.1:1234", ClientOptions{}, testLogger())
	require.Error(t, err)
	_, err = NewClient("://nope", ClientOptions{}, testLogger())
	require.Error(t, err)
}

func TestClient_Commands(t *testing.T) {
	f := newFakeCamilla(t)
	c := newTestClient(t, f.wsURL())

	require.NoError(t, c.SetFaderVolume(1, -12.5))
	require.NoError(t, c.SetFaderMute(1, true))
	require.NoError(t, c.SetConfigFilePath("/etc/camilladsp/car.yml"))
	require.NoError(t, c.Reload())

	state, err := c.GetState()
	require.NoError(t, err)
	assert.Equal(t, "Running", state)

	path, err := c.GetConfigFilePath()
	require.NoError(t, err)
	assert.Equal(t, "/etc/camilladsp/car.yml", path)

	assert.Equal(t, []string{
		`{"SetFaderVolume":[1,-12.5]}`,
		`{"SetFaderMute":[1,true]}`,
		`{"SetConfigFilePath":"/etc/camilladsp/car.yml"}`,
		`"Reload"`,
		`"GetState"`,
		`"GetConfigFilePath"`,
	}, f.messages())
}

func TestClient_ErrorResult(t *testing.T) {
	f := newFakeCamilla(t)
	f.result = "Error"
	c := newTestClient(t, f.wsURL())

	err := c.Reload()
	var cmdErr *CommandError
	require.ErrorAs(t, err, &cmdErr)
	assert.Equal(t, "Reload", cmdErr.Command)
	assert.Equal(t, "Error", cmdErr.Result)
}

func TestClient_ReconnectsAfterServerRestart(t *testing.T) {
	f := newFakeCamilla(t)
	c := newTestClient(t, f.wsURL())

	_, err := c.GetState()
	require.NoError(t, err)

	// Drop the connection from the client side; the next call dials again.
	require.NoError(t, c.Close())
	_, err = c.GetState()
	require.NoError(t, err)

	f.mu.Lock()
	defer f.mu.Unlock()
	assert.Equal(t, 2, f.conns)
}

func TestClient_ConnectFailure(t *testing.T) {
	f := newFakeCamilla(t)
	url := f.wsURL()
	f.srv.Close()

	c := newTestClient(t, url)
	_, err := c.GetState()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connect after 2 attempts")
}
