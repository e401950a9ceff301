package volume

import "volumed/internal/audio"

// SetStreamMute adds or releases one mute held by caller on stream. Streams
// outside the mute-affected set are ignored. An unmute from a caller with no
// outstanding mute is logged and ignored.
func (e *Engine) SetStreamMute(stream audio.StreamType, state bool, caller audio.CallerID) error {
	if !stream.Valid() {
		return ErrInvalidStream
	}

	e.muteMu.Lock()
	e.reg.mu.Lock()
	st := e.reg.alias[stream]
	e.reg.mu.Unlock()

	if affected := e.muteAffectedSet(); !affected.Has(stream) && !affected.Has(st) {
		e.muteMu.Unlock()
		e.logger.Warn("stream is not affected by mute, ignoring", "stream", stream.String(), "caller", string(caller))
		return nil
	}
	evs := e.muteLocked(st, caller, state)
	e.muteMu.Unlock()

	e.publish(evs...)
	return nil
}

// SetStreamSolo mutes (or releases) every other mute-affected stream on
// behalf of caller.
func (e *Engine) SetStreamSolo(stream audio.StreamType, state bool, caller audio.CallerID) error {
	if !stream.Valid() {
		return ErrInvalidStream
	}

	e.muteMu.Lock()
	e.reg.mu.Lock()
	target := e.reg.alias[stream]
	canonical := e.reg.canonicalLocked()
	e.reg.mu.Unlock()

	affected := e.muteAffectedSet()
	var evs []event
	for _, st := range canonical {
		if st == target || !affected.Has(st) {
			continue
		}
		evs = append(evs, e.muteLocked(st, caller, state)...)
	}
	e.muteMu.Unlock()

	e.publish(evs...)
	return nil
}

// IsStreamMute reports whether stream (through its alias) has mute owners.
func (e *Engine) IsStreamMute(stream audio.StreamType) (bool, error) {
	if !stream.Valid() {
		return false, ErrInvalidStream
	}
	e.muteMu.Lock()
	defer e.muteMu.Unlock()
	e.reg.mu.Lock()
	st := e.reg.alias[stream]
	e.reg.mu.Unlock()
	return e.mutes.total(st) > 0, nil
}

// muteLocked applies one mute or unmute for caller on canonical stream st.
// Caller holds muteMu.
func (e *Engine) muteLocked(st audio.StreamType, caller audio.CallerID, state bool) []event {
	if state {
		if o := e.mutes.owner(st, caller); o != nil {
			o.count++
			e.logger.Debug("repeated mute from caller", "stream", st.String(), "caller", string(caller), "count", o.count)
			return nil
		}

		o := &muteOwner{stream: st, caller: caller, count: 1}
		if e.liveness != nil {
			token, err := e.liveness.Register(caller, func() { go e.callerLost(o) })
			if err != nil {
				e.logger.Warn("cannot watch caller liveness, ignoring mute", "stream", st.String(), "caller", string(caller), "error", err)
				return nil
			}
			o.token = token
			o.live = true
		}

		first := e.mutes.total(st) == 0
		e.mutes.add(o)
		if !first {
			return nil
		}

		e.reg.mu.Lock()
		e.reg.streams[st].muted = true
		if e.reg.setIndexLocked(st, 0, false) {
			e.applyStreamLocked(st)
		}
		e.reg.mu.Unlock()
		e.logger.Debug("stream muted", "stream", st.String(), "caller", string(caller))
		return []event{{audio.EventMuteChanged, audio.MuteChanged{Stream: st.String(), Muted: true}}}
	}

	o := e.mutes.owner(st, caller)
	if o == nil {
		e.logger.Warn("unmute from caller without outstanding mute", "stream", st.String(), "caller", string(caller))
		return nil
	}
	o.count--
	if o.count > 0 {
		return nil
	}
	e.mutes.remove(o)
	if o.live {
		o.live = false
		e.liveness.Unregister(o.token)
	}
	if e.mutes.total(st) > 0 {
		return nil
	}

	e.reg.mu.Lock()
	s := e.reg.streams[st]
	s.muted = false
	if s.audible() && e.reg.setIndexLocked(st, s.lastAudibleIndex, false) {
		e.applyStreamLocked(st)
	}
	e.reg.mu.Unlock()
	e.logger.Debug("stream unmuted", "stream", st.String(), "caller", string(caller))
	return []event{{audio.EventMuteChanged, audio.MuteChanged{Stream: st.String(), Muted: false}}}
}

// callerLost releases everything o still holds. It is a no-op when o was
// already released by an explicit unmute.
func (e *Engine) callerLost(o *muteOwner) {
	e.muteMu.Lock()
	if !e.mutes.current(o) {
		e.muteMu.Unlock()
		return
	}
	e.logger.Info("mute owner went away, releasing", "stream", o.stream.String(), "caller", string(o.caller), "count", o.count)
	o.live = false
	o.count = 1
	evs := e.muteLocked(o.stream, o.caller, false)
	e.muteMu.Unlock()

	e.publish(evs...)
}
