package volume

import (
	"fmt"
	"sync"

	"volumed/internal/audio"
)

// indexScale is the fixed-point factor between user-visible volume steps and
// internal indices. One adjustment step moves the internal index by indexScale.
const indexScale = 10

// streamState is the per-stream volume state. Fields are guarded by
// registry.mu.
type streamState struct {
	stream           audio.StreamType
	index            int
	lastAudibleIndex int
	maxIndex         int

	settingKey            string
	lastAudibleSettingKey string

	// muted is set while the stream has at least one mute owner.
	muted bool
	// silenced is set while the ringer mode forces the stream to zero.
	silenced bool
}

func (s *streamState) audible() bool { return !s.muted && !s.silenced }

func (s *streamState) clamp(index int) int {
	if index < 0 {
		return 0
	}
	if index > s.maxIndex {
		return s.maxIndex
	}
	return index
}

// userIndex converts an internal index to the caller-facing scale.
func userIndex(index int) int { return (index + indexScale/2) / indexScale }

func volumeSettingKey(st audio.StreamType) string { return "volume_" + st.String() }

func lastAudibleSettingKey(st audio.StreamType) string {
	return volumeSettingKey(st) + "_last_audible"
}

// registry is the stream table plus the alias map. Every setIndex call and its
// alias cascade runs under one critical section.
type registry struct {
	mu      sync.Mutex
	streams [audio.NumStreams]*streamState
	alias   [audio.NumStreams]audio.StreamType
}

func newRegistry(maxUser [audio.NumStreams]int, aliases [audio.NumStreams]audio.StreamType) (*registry, error) {
	if err := validateAliases(aliases); err != nil {
		return nil, err
	}
	r := &registry{alias: aliases}
	for _, st := range audio.AllStreams() {
		if maxUser[st] <= 0 {
			return nil, fmt.Errorf("max volume for %s must be > 0", st)
		}
		r.streams[st] = &streamState{
			stream:   st,
			maxIndex: maxUser[st] * indexScale,
		}
	}
	r.rekeyLocked()
	return r, nil
}

// validateAliases enforces the depth-1 alias graph: every stream maps to itself
// or to a stream that maps to itself.
func validateAliases(aliases [audio.NumStreams]audio.StreamType) error {
	for _, st := range audio.AllStreams() {
		target := aliases[st]
		if !target.Valid() {
			return fmt.Errorf("alias of %s is not a stream type", st)
		}
		if aliases[target] != target {
			return fmt.Errorf("alias of %s is %s, which itself aliases %s", st, target, aliases[target])
		}
	}
	return nil
}

// rekeyLocked derives setting keys from the alias map: aliased streams share
// the keys of their target.
func (r *registry) rekeyLocked() {
	for _, st := range audio.AllStreams() {
		s := r.streams[st]
		s.settingKey = volumeSettingKey(r.alias[st])
		s.lastAudibleSettingKey = lastAudibleSettingKey(r.alias[st])
	}
}

// rescaleLocked maps an index from src's range into dst's range, rounding to
// nearest.
func (r *registry) rescaleLocked(index int, src, dst audio.StreamType) int {
	srcMax := r.streams[src].maxIndex
	dstMax := r.streams[dst].maxIndex
	return (index*dstMax + srcMax/2) / srcMax
}

// childrenLocked lists the streams that alias to st, excluding st.
func (r *registry) childrenLocked(st audio.StreamType) []audio.StreamType {
	var out []audio.StreamType
	for _, other := range audio.AllStreams() {
		if other != st && r.alias[other] == st {
			out = append(out, other)
		}
	}
	return out
}

// canonicalLocked lists the streams that alias to themselves.
func (r *registry) canonicalLocked() []audio.StreamType {
	var out []audio.StreamType
	for _, st := range audio.AllStreams() {
		if r.alias[st] == st {
			out = append(out, st)
		}
	}
	return out
}

// setIndexLocked clamps index into [0, max] and, when it differs from the
// current value, stores it, optionally records it as the last audible index,
// and cascades the rescaled value to every stream aliasing st.
func (r *registry) setIndexLocked(st audio.StreamType, index int, markLastAudible bool) bool {
	s := r.streams[st]
	index = s.clamp(index)
	if index == s.index {
		return false
	}
	s.index = index
	if markLastAudible {
		s.lastAudibleIndex = index
	}
	for _, child := range r.childrenLocked(st) {
		r.setIndexLocked(child, r.rescaleLocked(index, st, child), markLastAudible)
	}
	return true
}

// adjustIndexLocked moves st one step in dir.
func (r *registry) adjustIndexLocked(st audio.StreamType, dir audio.Direction, markLastAudible bool) bool {
	return r.setIndexLocked(st, r.streams[st].index+int(dir)*indexScale, markLastAudible)
}

// setLastAudibleLocked updates only the remembered level, cascading to aliases.
func (r *registry) setLastAudibleLocked(st audio.StreamType, index int) bool {
	s := r.streams[st]
	index = s.clamp(index)
	if index == s.lastAudibleIndex {
		return false
	}
	s.lastAudibleIndex = index
	for _, child := range r.childrenLocked(st) {
		r.setLastAudibleLocked(child, r.rescaleLocked(index, st, child))
	}
	return true
}
