// Package pipeline serializes every side effect of the volume engine.
//
// Producers call Enqueue from any goroutine; a single worker (Run) drains the
// queue in due-time order and is the only caller of the apply sink and the
// settings store. Commands with equal due times run in enqueue order.
package pipeline

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"
	"time"

	"volumed/internal/audio"
)

var (
	ErrQueueFull = errors.New("command queue full")
	ErrClosed    = errors.New("command pipeline closed")
)

const defaultCapacity = 256

// Observer receives pipeline telemetry. See internal/metrics.
type Observer interface {
	CommandEnqueued(kind string)
	CommandCoalesced(kind string)
	CommandDropped(kind string)
	CommandExecuted(kind string, d time.Duration, err error)
	QueueDepth(n int)
}

type nopObserver struct{}

func (nopObserver) CommandEnqueued(string)                       {}
func (nopObserver) CommandCoalesced(string)                      {}
func (nopObserver) CommandDropped(string)                        {}
func (nopObserver) CommandExecuted(string, time.Duration, error) {}
func (nopObserver) QueueDepth(int)                               {}

// Config tunes the pipeline.
type Config struct {
	// Capacity bounds the number of queued commands. Zero uses a default.
	Capacity int

	// Observer is optional.
	Observer Observer
}

type entry struct {
	cmd Command
	due time.Time
	seq uint64
}

// Pipeline is the bounded command queue plus its single consumer.
type Pipeline struct {
	sink   audio.ApplySink
	store  audio.SettingsStore
	logger *slog.Logger
	obs    Observer

	capacity int
	now      func() time.Time

	mu      sync.Mutex
	pending []entry
	seq     uint64
	closed  bool

	wake chan struct{}
}

// New constructs a pipeline. Call Run to start the worker.
func New(sink audio.ApplySink, store audio.SettingsStore, cfg Config, logger *slog.Logger) *Pipeline {
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	obs := cfg.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	return &Pipeline{
		sink:     sink,
		store:    store,
		logger:   logger,
		obs:      obs,
		capacity: capacity,
		now:      time.Now,
		wake:     make(chan struct{}, 1),
	}
}

// Enqueue adds cmd according to its policy. It never blocks on I/O and is
// safe to call while holding engine locks.
func (p *Pipeline) Enqueue(cmd Command) error {
	kind := cmd.Kind.String()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		p.obs.CommandDropped(kind)
		return ErrClosed
	}

	key := cmd.key()
	switch cmd.Policy {
	case PolicyNoopIfPending:
		for _, e := range p.pending {
			if e.cmd.key() == key {
				p.mu.Unlock()
				p.obs.CommandCoalesced(kind)
				return nil
			}
		}
	case PolicyReplace:
		kept := p.pending[:0]
		replaced := false
		for _, e := range p.pending {
			if e.cmd.key() == key {
				replaced = true
				continue
			}
			kept = append(kept, e)
		}
		p.pending = kept
		if replaced {
			p.obs.CommandCoalesced(kind)
		}
	}

	if len(p.pending) >= p.capacity {
		p.mu.Unlock()
		p.obs.CommandDropped(kind)
		p.logger.Warn("command queue full, dropping command", "command", cmd.String(), "capacity", p.capacity)
		return ErrQueueFull
	}

	p.seq++
	e := entry{cmd: cmd, due: p.now().Add(cmd.Delay), seq: p.seq}
	p.insert(e)
	depth := len(p.pending)
	p.mu.Unlock()

	p.obs.CommandEnqueued(kind)
	p.obs.QueueDepth(depth)

	select {
	case p.wake <- struct{}{}:
	default:
	}
	return nil
}

// insert keeps pending ordered by (due, seq). Caller holds mu.
func (p *Pipeline) insert(e entry) {
	i := sort.Search(len(p.pending), func(i int) bool {
		x := p.pending[i]
		if x.due.Equal(e.due) {
			return x.seq > e.seq
		}
		return x.due.After(e.due)
	})
	p.pending = append(p.pending, entry{})
	copy(p.pending[i+1:], p.pending[i:])
	p.pending[i] = e
}

// Pending returns a copy of the queued commands in execution order.
func (p *Pipeline) Pending() []Command {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]Command, len(p.pending))
	for i, e := range p.pending {
		out[i] = e.cmd
	}
	return out
}

// Len returns the number of queued commands.
func (p *Pipeline) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.pending)
}

// next pops the head when it is due, otherwise reports how long to wait.
// wait < 0 means the queue is empty.
func (p *Pipeline) next() (cmd Command, wait time.Duration, ok bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.pending) == 0 {
		return Command{}, -1, false
	}
	head := p.pending[0]
	if d := head.due.Sub(p.now()); d > 0 {
		return Command{}, d, false
	}
	p.pending = p.pending[1:]
	return head.cmd, 0, true
}

// Run is the worker loop. It returns when ctx is canceled, after flushing
// queued commands so debounced settings are not lost.
func (p *Pipeline) Run(ctx context.Context) {
	p.logger.Debug("command pipeline starting", "capacity", p.capacity)

	for {
		cmd, wait, ok := p.next()
		if ok {
			p.execute(ctx, cmd)
			continue
		}

		var timer *time.Timer
		var timerC <-chan time.Time
		if wait > 0 {
			timer = time.NewTimer(wait)
			timerC = timer.C
		}

		select {
		case <-ctx.Done():
			if timer != nil {
				timer.Stop()
			}
			p.shutdown()
			return
		case <-p.wake:
		case <-timerC:
		}
		if timer != nil {
			timer.Stop()
		}
	}
}

func (p *Pipeline) shutdown() {
	p.mu.Lock()
	p.closed = true
	rest := p.pending
	p.pending = nil
	p.mu.Unlock()

	flushCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	flushed := 0
	for _, e := range rest {
		switch e.cmd.Kind {
		case KindReload, KindProbe:
			continue
		}
		p.execute(flushCtx, e.cmd)
		flushed++
	}
	p.obs.QueueDepth(0)
	p.logger.Info("command pipeline stopped", "flushed", flushed)
}

// flushPersists pulls every queued persist out of the queue, debounced or
// not, and writes it now.
func (p *Pipeline) flushPersists(ctx context.Context) {
	p.mu.Lock()
	var due []Command
	kept := p.pending[:0]
	for _, e := range p.pending {
		if e.cmd.Kind.persists() {
			due = append(due, e.cmd)
			continue
		}
		kept = append(kept, e)
	}
	p.pending = kept
	depth := len(p.pending)
	p.mu.Unlock()

	if len(due) == 0 {
		return
	}
	p.obs.QueueDepth(depth)
	p.logger.Debug("flushing persists ahead of reload", "count", len(due))
	for _, cmd := range due {
		p.execute(ctx, cmd)
	}
}

// execute runs one command. Failures are logged and never retried here; the
// next state change for the same target produces a fresh command.
func (p *Pipeline) execute(ctx context.Context, cmd Command) {
	start := time.Now()
	var err error

	switch cmd.Kind {
	case KindApplyVolume:
		if p.sink == nil {
			err = errNoSink{}
			break
		}
		err = p.sink.ApplyVolume(cmd.Stream, cmd.Index)
		if err != nil {
			p.logger.Error("apply volume failed", "stream", cmd.Stream.String(), "index", cmd.Index, "error", err)
		}

	case KindApplyRouting:
		if p.sink == nil {
			err = errNoSink{}
			break
		}
		err = p.sink.ApplyRouting(cmd.Device, cmd.Forced)
		if err != nil {
			p.logger.Error("apply routing failed", "device", cmd.Device.String(), "forced_use", cmd.Forced.String(), "error", err)
		}

	case KindPersistVolume, KindPersistRingerMode, KindPersistSetting:
		if p.store == nil {
			err = errNoStore{}
			break
		}
		for _, s := range cmd.Settings {
			if putErr := p.store.PutInt(ctx, s.Key, s.Value); putErr != nil {
				p.logger.Warn("persist setting failed", "key", s.Key, "value", s.Value, "error", putErr)
				err = putErr
			}
		}

	case KindReload:
		// A reload must not read values older than what is already queued.
		p.flushPersists(ctx)
		values := make(map[string]int, len(cmd.Defaults))
		for k, def := range cmd.Defaults {
			if p.store == nil {
				values[k] = def
				continue
			}
			values[k] = p.store.GetInt(ctx, k, def)
		}
		if cmd.OnLoaded != nil {
			cmd.OnLoaded(values)
		}

	case KindProbe:
		if prober, ok := p.sink.(audio.Prober); ok {
			err = prober.Probe()
		}
		if cmd.OnProbe != nil {
			cmd.OnProbe(err)
		}

	default:
		err = errUnknownCommand{cmd: cmd}
		p.logger.Warn("unknown command kind", "command", cmd.String())
	}

	if _, ok := err.(errNoSink); ok {
		p.logger.Warn("no apply sink configured, dropping command", "command", cmd.String())
	}
	if _, ok := err.(errNoStore); ok {
		p.logger.Warn("no settings store configured, dropping command", "command", cmd.String())
	}

	p.obs.CommandExecuted(cmd.Kind.String(), time.Since(start), err)
	p.logger.Debug("command executed", "command", cmd.String(), "error", err)
}

type errNoSink struct{}

func (errNoSink) Error() string { return "no apply sink" }

type errNoStore struct{}

func (errNoStore) Error() string { return "no settings store" }

type errUnknownCommand struct {
	cmd Command
}

func (e errUnknownCommand) Error() string { return "unknown command: " + e.cmd.String() }
