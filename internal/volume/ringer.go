package volume

import (
	"context"

	"github.com/looplab/fsm"

	"volumed/internal/audio"
)

const (
	ringerEventLower = "lower"
	ringerEventRaise = "raise"
)

// ringerMachine holds the ringer mode. Explicit mode changes jump with
// SetState; volume-key transitions go through the event table so only the
// one-step moves below are possible. Guarded by Engine.ringerMu.
type ringerMachine struct {
	fsm *fsm.FSM
}

func newRingerMachine(initial audio.RingerMode) *ringerMachine {
	normal := audio.RingerModeNormal.String()
	vibrate := audio.RingerModeVibrate.String()
	silent := audio.RingerModeSilent.String()

	return &ringerMachine{
		fsm: fsm.NewFSM(
			initial.String(),
			fsm.Events{
				{Name: ringerEventLower, Src: []string{normal}, Dst: vibrate},
				{Name: ringerEventLower, Src: []string{vibrate}, Dst: silent},
				{Name: ringerEventRaise, Src: []string{vibrate}, Dst: normal},
				{Name: ringerEventRaise, Src: []string{silent}, Dst: vibrate},
			},
			fsm.Callbacks{},
		),
	}
}

func (r *ringerMachine) mode() audio.RingerMode {
	m, err := audio.ParseRingerMode(r.fsm.Current())
	if err != nil {
		return audio.RingerModeNormal
	}
	return m
}

func (r *ringerMachine) set(mode audio.RingerMode) {
	r.fsm.SetState(mode.String())
}

// step applies a volume-key driven transition. From Normal, Lower only moves
// to Vibrate when the stream is at its minimum audible step. ok is false when
// the mode does not change.
func (r *ringerMachine) step(dir audio.Direction, atMinAudible bool) (audio.RingerMode, bool) {
	event := ringerEventRaise
	if dir == audio.DirectionLower {
		event = ringerEventLower
		if r.mode() == audio.RingerModeNormal && !atMinAudible {
			return r.mode(), false
		}
	}
	if !r.fsm.Can(event) {
		return r.mode(), false
	}
	if err := r.fsm.Event(context.Background(), event); err != nil {
		return r.mode(), false
	}
	return r.mode(), true
}
