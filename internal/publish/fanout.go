package publish

import "volumed/internal/audio"

// Fanout delivers every event to each publisher in order. Nil entries are
// skipped.
type Fanout []audio.Publisher

func (f Fanout) Publish(kind audio.EventKind, payload any) {
	for _, p := range f {
		if p != nil {
			p.Publish(kind, payload)
		}
	}
}
