// Package capture runs the system audio pipeline: it owns one capture device at
// a time, drives the lifecycle state machine and forwards buffers to a sink.
package capture

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"audiobridge/audio"
	"audiobridge/callback"
	"audiobridge/lifecycle"
	"audiobridge/log"
	"audiobridge/permission"
)

const pipelineName = "audio"

type Config struct {
	SampleRate uint32
	Device     *audio.DeviceInfo // nil captures the default output
}

type Pipeline struct {
	actx audio.Context
	gate permission.Gate
	sink callback.Sink
	cfg  Config
	m    *lifecycle.Machine

	// live is the session whose buffers may reach the sink.
	live    atomic.Uint64
	buffers atomic.Uint64
	frames  atomic.Uint64

	// engineMu serializes device setup and teardown.
	engineMu  sync.Mutex
	dev       audio.CaptureDevice
	sessionID string

	wg sync.WaitGroup
}

// New builds an idle pipeline. gate is consulted on every Start.
func New(actx audio.Context, gate permission.Gate, sink callback.Sink, cfg Config) *Pipeline {
	if sink == nil {
		sink = callback.Discard{}
	}
	if cfg.SampleRate == 0 {
		cfg.SampleRate = 16000
	}
	p := &Pipeline{
		actx: actx,
		gate: gate,
		sink: sink,
		cfg:  cfg,
		m:    lifecycle.NewMachine(pipelineName),
	}
	p.m.OnTransition = func(from, to lifecycle.State, s lifecycle.Session) {
		log.Transition(pipelineName, from.String(), to.String(), uint64(s))
	}
	return p
}

func (p *Pipeline) Status() lifecycle.State { return p.m.State() }

// Started reports whether Start has ever been accepted.
func (p *Pipeline) Started() bool { return p.m.Started() }

func (p *Pipeline) Wait(ctx context.Context, want lifecycle.State) error {
	return p.m.Wait(ctx, want)
}

// Start requests capture. It returns false when the pipeline is not idle or
// permission is not granted; otherwise the device comes up asynchronously.
func (p *Pipeline) Start() bool {
	if p.m.State() != lifecycle.Idle {
		log.Debugf("audio start ignored in state %s", p.m.State())
		return false
	}
	if p.gate == nil || !p.gate.Audio() {
		log.Warn("audio start refused: permission not granted")
		return false
	}
	s, ok := p.m.Begin()
	if !ok {
		return false
	}
	p.wg.Add(1)
	go p.setup(s)
	return true
}

func (p *Pipeline) setup(s lifecycle.Session) {
	defer p.wg.Done()
	p.engineMu.Lock()
	defer p.engineMu.Unlock()
	defer p.recoverPanic(s, "setup")

	if !p.m.Current(s) {
		return
	}

	dev, err := p.actx.NewCapture(p.cfg.Device, audio.CaptureConfig{
		SampleRate: p.cfg.SampleRate,
		Channels:   1,
	})
	if err != nil {
		p.fail(s, err)
		return
	}

	p.buffers.Store(0)
	p.frames.Store(0)
	dev.SetCallback(func(samples []float32, ts time.Duration) {
		p.deliver(s, samples, ts)
	})
	dev.SetErrorCallback(func(err error) {
		p.fail(s, err)
	})

	if err := dev.Start(); err != nil {
		dev.ClearCallback()
		dev.Close()
		p.fail(s, err)
		return
	}
	p.dev = dev
	p.sessionID = uuid.NewString()

	p.live.Store(uint64(s))
	if p.m.Advance(s, lifecycle.Starting, lifecycle.Active) {
		log.SessionStart(pipelineName, p.sessionID, dev.DeviceName(), "")
	}
	// Otherwise Stop or a runtime error got there first; teardown owns p.dev.
}

func (p *Pipeline) deliver(s lifecycle.Session, samples []float32, ts time.Duration) {
	if p.live.Load() != uint64(s) || p.m.State() != lifecycle.Active {
		return
	}
	p.buffers.Add(1)
	p.frames.Add(uint64(len(samples)))
	p.sink.OnSample(samples, ts.Seconds())
}

// recoverPanic turns a panic in backend code into a runtime error for s.
func (p *Pipeline) recoverPanic(s lifecycle.Session, where string) {
	if r := recover(); r != nil {
		log.Errorf("audio %s panic: %v\n%s", where, r, debug.Stack())
		p.fail(s, fmt.Errorf("audio %s panic: %v", where, r))
	}
}

func (p *Pipeline) fail(s lifecycle.Session, err error) {
	if !p.m.Fail(s) {
		return
	}
	msg := errorMessage(err)
	log.Errorf("audio capture failed: %s", msg)
	p.sink.OnAudioError(msg)
}

func errorMessage(err error) string {
	switch {
	case err == nil:
		return "audio capture failed"
	case errors.Is(err, audio.ErrLoopbackUnsupported):
		return "system audio capture is not supported on this platform: " + err.Error()
	case err.Error() == "":
		return "audio capture failed"
	}
	return err.Error()
}

// Stop requests teardown. It never blocks on the device; the pipeline reaches
// Idle once the teardown goroutine has released it.
func (p *Pipeline) Stop() {
	t, from, ok := p.m.Halt()
	if !ok {
		return
	}
	log.Debugf("audio stop requested from %s", from)
	p.wg.Add(1)
	go p.teardown(t)
}

func (p *Pipeline) teardown(t lifecycle.Session) {
	defer p.wg.Done()
	p.engineMu.Lock()
	defer p.engineMu.Unlock()

	if p.dev != nil {
		p.dev.ClearCallback()
		p.dev.Stop()
		p.dev.Close()
		p.dev = nil
		audioS := float64(p.frames.Load()) / float64(p.cfg.SampleRate)
		log.SessionEnd(pipelineName, p.sessionID, p.buffers.Load(), audioS)
	}
	p.live.Store(0)
	p.m.Finish(t)
}

// Close stops the pipeline and waits for background work to drain.
func (p *Pipeline) Close() {
	p.Stop()
	p.wg.Wait()
}
