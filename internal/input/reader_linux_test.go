//go:build linux

package input

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"
)

func TestReader_FeedsHandlerFromFIFO(t *testing.T) {
	path := filepath.Join(t.TempDir(), "event0")
	require.NoError(t, unix.Mkfifo(path, 0o600))

	h, target := newTestHandler()
	r := NewReader([]string{path}, h, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	errCh := make(chan error, 1)
	go func() { errCh <- r.Run(ctx) }()

	// Opening for write blocks until the reader side is open.
	w, err := os.OpenFile(path, os.O_WRONLY, 0)
	require.NoError(t, err)

	payload := append(encodeEvent(t, sw(swHeadphoneInsert, true)),
		encodeEvent(t, Event{Type: evKey, Code: keyVolumeDown, Value: valuePress})...)
	_, err = w.Write(payload)
	require.NoError(t, err)

	var got []string
	deadline := time.Now().Add(2 * time.Second)
	for len(got) < 2 && time.Now().Before(deadline) {
		got = append(got, target.taken()...)
		time.Sleep(10 * time.Millisecond)
	}
	assert.Equal(t, []string{
		"device wired_headphone true",
		"adjust music -1 [show_ui allow_ringer_modes]",
	}, got)

	cancel()
	select {
	case err := <-errCh:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("reader did not stop")
	}
	require.NoError(t, w.Close())
}

func TestReader_NoDevices(t *testing.T) {
	h, _ := newTestHandler()
	require.Error(t, NewReader(nil, h, testLogger()).Run(context.Background()))
}

func TestReader_MissingDevice(t *testing.T) {
	h, _ := newTestHandler()
	err := NewReader([]string{"/nonexistent/event9"}, h, testLogger()).Run(context.Background())
	require.Error(t, err)
}
