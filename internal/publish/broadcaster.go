package publish

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"volumed/internal/audio"
)

// TypeStateInit is the type of the first frame every websocket client gets.
const TypeStateInit = "state_init"

// volumeCoalesceWindow bounds how long bursty volume updates for one stream
// are held back (latest wins) before they go out.
const volumeCoalesceWindow = 50 * time.Millisecond

// Envelope is the wire format of websocket frames and MQTT payloads.
type Envelope struct {
	Type string     `json:"type"`
	Ts   *time.Time `json:"ts,omitempty"`
	Data any        `json:"data,omitempty"`
}

// Event is one engine event on its way to subscribers.
type Event struct {
	Kind    audio.EventKind
	Payload any
	At      time.Time
}

func marshalEvent(ev Event) ([]byte, error) {
	ts := ev.At
	if ts.IsZero() {
		ts = time.Now().UTC()
	}
	return json.Marshal(Envelope{Type: string(ev.Kind), Ts: &ts, Data: ev.Payload})
}

// Broadcaster adapts engine events to the hub. Publish never blocks; Run
// serializes, coalesces volume bursts per stream and hands frames to the hub.
type Broadcaster struct {
	hub    *Hub
	src    chan Event
	logger *slog.Logger
}

var _ audio.Publisher = (*Broadcaster)(nil)

// NewBroadcaster returns a broadcaster feeding hub. queue <= 0 uses 256.
func NewBroadcaster(hub *Hub, queue int, logger *slog.Logger) *Broadcaster {
	if queue <= 0 {
		queue = 256
	}
	return &Broadcaster{hub: hub, src: make(chan Event, queue), logger: logger}
}

// Publish implements audio.Publisher.
func (b *Broadcaster) Publish(kind audio.EventKind, payload any) {
	select {
	case b.src <- Event{Kind: kind, Payload: payload, At: time.Now().UTC()}:
	default:
		b.logger.Warn("ws broadcaster queue full, dropping event", "type", string(kind))
	}
}

// Run forwards events until ctx is canceled. Pending volume updates are
// flushed on the way out.
func (b *Broadcaster) Run(ctx context.Context) {
	var (
		pending  = make(map[string]Event)
		order    []string
		timer    *time.Timer
		timerCh  <-chan time.Time
		sendOnce = func(ev Event) {
			msg, err := marshalEvent(ev)
			if err != nil {
				b.logger.Warn("ws broadcaster marshal failed", "type", string(ev.Kind), "error", err)
				return
			}
			b.hub.BroadcastBytes(msg)
		}
	)

	flush := func() {
		for _, stream := range order {
			sendOnce(pending[stream])
		}
		clear(pending)
		order = order[:0]
		if timer != nil {
			timer.Stop()
			timer = nil
			timerCh = nil
		}
	}

	for {
		select {
		case <-ctx.Done():
			flush()
			return

		case <-timerCh:
			timer = nil
			timerCh = nil
			flush()

		case ev := <-b.src:
			if vc, ok := ev.Payload.(audio.VolumeChanged); ok && ev.Kind == audio.EventVolumeChanged {
				prev, seen := pending[vc.Stream]
				if seen {
					// Keep the oldest prev_index so subscribers see the whole step.
					vc.PrevIndex = prev.Payload.(audio.VolumeChanged).PrevIndex
					ev.Payload = vc
				} else {
					order = append(order, vc.Stream)
				}
				pending[vc.Stream] = ev
				if timer == nil {
					timer = time.NewTimer(volumeCoalesceWindow)
					timerCh = timer.C
				}
				continue
			}
			flush()
			sendOnce(ev)
		}
	}
}
