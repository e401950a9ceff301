// Package camilla drives a CamillaDSP instance over its websocket API and
// adapts it to the volume engine's apply sink.
package camilla

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	defaultTimeout         = 500 * time.Millisecond
	defaultConnectAttempts = 3
	defaultRetryDelay      = 500 * time.Millisecond

	resultOk = "Ok"
)

var errNoConnection = errors.New("no websocket connection")

// Controller is the subset of the CamillaDSP API the sink needs.
type Controller interface {
	SetFaderVolume(fader int, db float64) error
	SetFaderMute(fader int, mute bool) error
	SetConfigFilePath(path string) error
	Reload() error
	GetState() (string, error)
	Close() error
}

// CommandError is returned when CamillaDSP answers with a non-Ok result.
type CommandError struct {
	Command string
	Result  string
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("camilladsp %s: result %q", e.Command, e.Result)
}

// ClientOptions tunes a Client. Zero values use defaults.
type ClientOptions struct {
	Timeout         time.Duration
	ConnectAttempts int
	RetryDelay      time.Duration
}

// Client talks to CamillaDSP. It connects lazily and reconnects after any
// transport error, so a mixer restart only costs the commands in flight.
type Client struct {
	mu     sync.Mutex
	conn   *websocket.Conn
	url    string
	opts   ClientOptions
	logger *slog.Logger
}

var _ Controller = (*Client)(nil)

// NewClient validates wsURL and returns an unconnected client.
func NewClient(wsURL string, opts ClientOptions, logger *slog.Logger) (*Client, error) {
	u, err := url.Parse(wsURL)
	if err != nil {
		return nil, fmt.Errorf("invalid websocket URL: %w", err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return nil, fmt.Errorf("invalid websocket URL %q: scheme must be ws or wss", wsURL)
	}
	if opts.Timeout <= 0 {
		opts.Timeout = defaultTimeout
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = defaultConnectAttempts
	}
	if opts.RetryDelay <= 0 {
		opts.RetryDelay = defaultRetryDelay
	}
	return &Client{url: u.String(), opts: opts, logger: logger}, nil
}

func (c *Client) connectLocked() error {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	d := websocket.Dialer{HandshakeTimeout: 2 * time.Second}
	conn, _, err := d.Dial(c.url, nil)
	if err != nil {
		return err
	}
	c.conn = conn
	return nil
}

// ensureConnectedLocked dials with a bounded number of attempts.
func (c *Client) ensureConnectedLocked() error {
	if c.conn != nil {
		return nil
	}
	var lastErr error
	for attempt := 0; attempt < c.opts.ConnectAttempts; attempt++ {
		if attempt > 0 {
			time.Sleep(c.opts.RetryDelay)
		}
		err := c.connectLocked()
		if err == nil {
			c.logger.Info("connected to CamillaDSP", "url", c.url)
			return nil
		}
		lastErr = err
		c.logger.Warn("CamillaDSP connection failed", "error", err, "attempt", attempt+1)
	}
	return fmt.Errorf("connect after %d attempts: %w", c.opts.ConnectAttempts, lastErr)
}

// call sends one command and decodes the {"<name>": {"result", "value"}}
// reply. value may be nil when the reply carries nothing of interest.
func (c *Client) call(name string, arg any, value any) error {
	var msg any = name
	if arg != nil {
		msg = map[string]any{name: arg}
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.ensureConnectedLocked(); err != nil {
		return err
	}
	if c.conn == nil {
		return errNoConnection
	}

	if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", name, err)
	}

	c.conn.SetReadDeadline(time.Now().Add(c.opts.Timeout))
	_, reply, err := c.conn.ReadMessage()
	if err != nil {
		c.dropLocked()
		return fmt.Errorf("%s: %w", name, err)
	}
	c.conn.SetReadDeadline(time.Time{})

	var envelope map[string]struct {
		Result string          `json:"result"`
		Value  json.RawMessage `json:"value"`
	}
	if err := json.Unmarshal(reply, &envelope); err != nil {
		return fmt.Errorf("decode %s reply: %w", name, err)
	}
	body, ok := envelope[name]
	if !ok {
		return fmt.Errorf("%s: unexpected reply %s", name, reply)
	}
	if body.Result != resultOk {
		return &CommandError{Command: name, Result: body.Result}
	}
	if value != nil && len(body.Value) > 0 {
		if err := json.Unmarshal(body.Value, value); err != nil {
			return fmt.Errorf("decode %s value: %w", name, err)
		}
	}
	c.logger.Debug("CamillaDSP command", "command", name, "arg", arg)
	return nil
}

func (c *Client) dropLocked() {
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

// Close drops the connection. The client reconnects on the next call.
func (c *Client) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.dropLocked()
	return nil
}

// SetFaderVolume sets fader (0 = Main, 1-4 = Aux1-Aux4) to db.
func (c *Client) SetFaderVolume(fader int, db float64) error {
	return c.call("SetFaderVolume", []any{fader, db}, nil)
}

// SetFaderMute mutes or unmutes fader.
func (c *Client) SetFaderMute(fader int, mute bool) error {
	return c.call("SetFaderMute", []any{fader, mute}, nil)
}

// SetConfigFilePath points CamillaDSP at a new config file. It takes effect on
// the next Reload.
func (c *Client) SetConfigFilePath(path string) error {
	return c.call("SetConfigFilePath", path, nil)
}

// Reload makes CamillaDSP reread its config file.
func (c *Client) Reload() error {
	return c.call("Reload", nil, nil)
}

// GetState returns the processing state ("Running", "Paused", "Inactive", ...).
func (c *Client) GetState() (string, error) {
	var state string
	if err := c.call("GetState", nil, &state); err != nil {
		return "", err
	}
	return state, nil
}

// GetConfigFilePath returns the active config file path.
func (c *Client) GetConfigFilePath() (string, error) {
	var path string
	if err := c.call("GetConfigFilePath", nil, &path); err != nil {
		return "", err
	}
	return path, nil
}
