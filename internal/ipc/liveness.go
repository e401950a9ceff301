package ipc

import (
	"errors"
	"sync"

	"github.com/google/uuid"

	"volumed/internal/audio"
)

// ErrCallerGone is returned by Register for callers that are not connected.
var ErrCallerGone = errors.New("caller is not connected")

// Liveness ties caller lifetimes to IPC connections. Callers marked with Hold
// never go away.
type Liveness struct {
	mu      sync.Mutex
	callers map[audio.CallerID]map[audio.LivenessToken]func()
	tokens  map[audio.LivenessToken]audio.CallerID
	held    map[audio.CallerID]bool
}

var _ audio.LivenessMonitor = (*Liveness)(nil)

func NewLiveness() *Liveness {
	return &Liveness{
		callers: make(map[audio.CallerID]map[audio.LivenessToken]func()),
		tokens:  make(map[audio.LivenessToken]audio.CallerID),
		held:    make(map[audio.CallerID]bool),
	}
}

// Hold registers an in-process caller that lives as long as the daemon.
func (l *Liveness) Hold(caller audio.CallerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.held[caller] = true
	if l.callers[caller] == nil {
		l.callers[caller] = make(map[audio.LivenessToken]func())
	}
}

// Register implements audio.LivenessMonitor.
func (l *Liveness) Register(caller audio.CallerID, onLost func()) (audio.LivenessToken, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	regs, ok := l.callers[caller]
	if !ok {
		return "", ErrCallerGone
	}
	token := audio.LivenessToken(uuid.NewString())
	regs[token] = onLost
	l.tokens[token] = caller
	return token, nil
}

// Unregister implements audio.LivenessMonitor.
func (l *Liveness) Unregister(token audio.LivenessToken) {
	l.mu.Lock()
	defer l.mu.Unlock()
	caller, ok := l.tokens[token]
	if !ok {
		return
	}
	delete(l.tokens, token)
	delete(l.callers[caller], token)
}

// Connected reports whether caller is currently alive.
func (l *Liveness) Connected(caller audio.CallerID) bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	_, ok := l.callers[caller]
	return ok
}

// Registrations returns the number of outstanding registrations.
func (l *Liveness) Registrations() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.tokens)
}

func (l *Liveness) open(caller audio.CallerID) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.callers[caller] == nil {
		l.callers[caller] = make(map[audio.LivenessToken]func())
	}
}

// lost drops caller and fires its callbacks after unlocking.
func (l *Liveness) lost(caller audio.CallerID) {
	l.mu.Lock()
	if l.held[caller] {
		l.mu.Unlock()
		return
	}
	regs := l.callers[caller]
	delete(l.callers, caller)
	callbacks := make([]func(), 0, len(regs))
	for token, fn := range regs {
		delete(l.tokens, token)
		callbacks = append(callbacks, fn)
	}
	l.mu.Unlock()

	for _, fn := range callbacks {
		fn()
	}
}
