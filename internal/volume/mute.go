package volume

import "volumed/internal/audio"

// muteOwner is one caller's outstanding mutes on one stream.
type muteOwner struct {
	stream audio.StreamType
	caller audio.CallerID
	count  int
	token  audio.LivenessToken
	live   bool
}

// muteTracker holds mute ownership per stream. Guarded by Engine.muteMu.
type muteTracker struct {
	owners [audio.NumStreams]map[audio.CallerID]*muteOwner
}

func newMuteTracker() *muteTracker {
	t := &muteTracker{}
	for i := range t.owners {
		t.owners[i] = make(map[audio.CallerID]*muteOwner)
	}
	return t
}

func (t *muteTracker) owner(st audio.StreamType, caller audio.CallerID) *muteOwner {
	return t.owners[st][caller]
}

func (t *muteTracker) total(st audio.StreamType) int {
	n := 0
	for _, o := range t.owners[st] {
		n += o.count
	}
	return n
}

func (t *muteTracker) add(o *muteOwner) {
	t.owners[o.stream][o.caller] = o
}

func (t *muteTracker) remove(o *muteOwner) {
	if cur, ok := t.owners[o.stream][o.caller]; ok && cur == o {
		delete(t.owners[o.stream], o.caller)
	}
}

// current reports whether o is still the registered entry for its caller. A
// liveness callback for a released entry must not touch a newer one.
func (t *muteTracker) current(o *muteOwner) bool {
	return t.owners[o.stream][o.caller] == o
}

func (t *muteTracker) drain(st audio.StreamType) []*muteOwner {
	out := make([]*muteOwner, 0, len(t.owners[st]))
	for _, o := range t.owners[st] {
		out = append(out, o)
	}
	t.owners[st] = make(map[audio.CallerID]*muteOwner)
	return out
}

// ownerCount is the number of distinct callers holding mutes on st.
func (t *muteTracker) ownerCount(st audio.StreamType) int {
	return len(t.owners[st])
}
