// Package input turns Linux input events from jack switches, dock switches
// and volume keys into engine calls.
package input

import (
	"bytes"
	"encoding/binary"
	"fmt"
)

// Linux input event types and codes (from <linux/input-event-codes.h>).
const (
	evKey = 0x01
	evSw  = 0x05

	keyMute       = 113
	keyVolumeDown = 114
	keyVolumeUp   = 115

	swHeadphoneInsert  = 0x02
	swMicrophoneInsert = 0x04
	swDock             = 0x05
	swLineoutInsert    = 0x06
)

// Key event values.
const (
	valueRelease = 0
	valuePress   = 1
	valueRepeat  = 2
)

// Event mirrors struct input_event on 64-bit kernels.
type Event struct {
	Sec   int64
	Usec  int64
	Type  uint16
	Code  uint16
	Value int32
}

// eventSize is the wire size of Event.
var eventSize = binary.Size(Event{})

// decodeEvent parses one little-endian input_event.
func decodeEvent(buf []byte) (Event, error) {
	var ev Event
	if len(buf) != eventSize {
		return ev, fmt.Errorf("input event: got %d bytes, want %d", len(buf), eventSize)
	}
	if err := binary.Read(bytes.NewReader(buf), binary.LittleEndian, &ev); err != nil {
		return ev, fmt.Errorf("input event: %w", err)
	}
	return ev, nil
}
