package hotkey

import (
	"context"
	"sync/atomic"
	"time"
)

type Action int

const (
	Start Action = iota
	Stop
)

func (a Action) String() string {
	if a == Start {
		return "start"
	}
	return "stop"
}

// Trigger turns presses into start/stop actions. A press always starts. A
// press released within hold latches on until the next press is released; a
// longer press stops on release.
type Trigger struct {
	actions chan Action
	latched atomic.Bool
}

func NewTrigger(ctx context.Context, hk Hotkey, hold time.Duration) *Trigger {
	t := &Trigger{actions: make(chan Action, 1)}
	go t.run(ctx, hk, hold)
	return t
}

func (t *Trigger) Actions() <-chan Action { return t.actions }

// Latched reports whether the last press was a tap that left transcription on.
func (t *Trigger) Latched() bool { return t.latched.Load() }

func (t *Trigger) emit(ctx context.Context, a Action) bool {
	select {
	case t.actions <- a:
		return true
	case <-ctx.Done():
		return false
	}
}

func wait(ctx context.Context, ch <-chan struct{}) bool {
	select {
	case <-ch:
		return true
	case <-ctx.Done():
		return false
	}
}

func (t *Trigger) run(ctx context.Context, hk Hotkey, hold time.Duration) {
	defer close(t.actions)
	for {
		if !wait(ctx, hk.Keydown()) || !t.emit(ctx, Start) {
			return
		}

		timer := time.NewTimer(hold)
		select {
		case <-ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
			// held: stop on release
			if !wait(ctx, hk.Keyup()) || !t.emit(ctx, Stop) {
				return
			}
			continue
		case <-hk.Keyup():
			timer.Stop()
		}

		t.latched.Store(true)
		if !wait(ctx, hk.Keydown()) || !wait(ctx, hk.Keyup()) {
			return
		}
		t.latched.Store(false)
		if !t.emit(ctx, Stop) {
			return
		}
	}
}
