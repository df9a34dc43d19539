// Package speech runs the recognition pipeline: audio appended by the host is
// fed to a transcriber session and its hypotheses are delivered to a sink.
package speech

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/text/language"

	"audiobridge/callback"
	"audiobridge/lifecycle"
	"audiobridge/log"
	"audiobridge/permission"
	"audiobridge/transcriber"
)

const pipelineName = "speech"

type Config struct {
	Language   string
	SampleRate int
}

// NormalizeLanguage canonicalises a BCP-47 tag, e.g. "zh_cn" to "zh-CN".
func NormalizeLanguage(tag string) (string, error) {
	tag = strings.ReplaceAll(strings.TrimSpace(tag), "_", "-")
	if tag == "" {
		return "", fmt.Errorf("empty language tag")
	}
	t, err := language.Parse(tag)
	if err != nil {
		return "", fmt.Errorf("language tag %q: %w", tag, err)
	}
	return t.String(), nil
}

type session struct {
	id     string
	token  lifecycle.Session
	sess   transcriber.Session
	ctx    context.Context
	cancel context.CancelFunc
	lang   string
	done   chan struct{} // closed when the update consumer exits

	buffers atomic.Uint64
	samples atomic.Uint64

	tracker segmentTracker // consumer goroutine only
}

type Pipeline struct {
	engine     transcriber.Transcriber
	gate       permission.Gate
	sink       callback.Sink
	sampleRate int
	m          *lifecycle.Machine

	langMu sync.Mutex
	lang   string

	live   atomic.Uint64
	active atomic.Pointer[session]

	// engineMu serializes session setup and teardown.
	engineMu sync.Mutex
	cur      *session

	wg sync.WaitGroup
}

func New(engine transcriber.Transcriber, gate permission.Gate, sink callback.Sink, cfg Config) *Pipeline {
	if sink == nil {
		sink = callback.Discard{}
	}
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	lang, err := NormalizeLanguage(cfg.Language)
	if err != nil {
		lang = "en-US"
	}
	p := &Pipeline{
		engine:     engine,
		gate:       gate,
		sink:       sink,
		sampleRate: cfg.SampleRate,
		lang:       lang,
		m:          lifecycle.NewMachine(pipelineName),
	}
	p.m.OnTransition = func(from, to lifecycle.State, s lifecycle.Session) {
		log.Transition(pipelineName, from.String(), to.String(), uint64(s))
	}
	return p
}

// SetLanguage may be called in any state; a running session keeps the
// language it was started with.
func (p *Pipeline) SetLanguage(tag string) error {
	lang, err := NormalizeLanguage(tag)
	if err != nil {
		log.Warnf("speech language unchanged: %v", err)
		return err
	}
	p.langMu.Lock()
	p.lang = lang
	p.langMu.Unlock()
	log.Debugf("speech language set to %s", lang)
	return nil
}

func (p *Pipeline) Language() string {
	p.langMu.Lock()
	defer p.langMu.Unlock()
	return p.lang
}

func (p *Pipeline) SupportsOnDevice() bool {
	if p.engine == nil {
		return false
	}
	return p.engine.SupportsOnDevice(p.Language())
}

func (p *Pipeline) Status() lifecycle.State { return p.m.State() }
func (p *Pipeline) Started() bool           { return p.m.Started() }

func (p *Pipeline) Wait(ctx context.Context, want lifecycle.State) error {
	return p.m.Wait(ctx, want)
}

func (p *Pipeline) Start() bool {
	if p.m.State() != lifecycle.Idle {
		log.Debugf("speech start ignored in state %s", p.m.State())
		return false
	}
	if p.gate == nil || !p.gate.Speech() {
		log.Warn("speech start refused: permission not granted")
		return false
	}
	if p.engine == nil {
		log.Warn("speech start refused: no recognition engine")
		return false
	}
	s, ok := p.m.Begin()
	if !ok {
		return false
	}
	lang := p.Language()
	p.wg.Add(1)
	go p.setup(s, lang)
	return true
}

func (p *Pipeline) setup(s lifecycle.Session, lang string) {
	defer p.wg.Done()
	p.engineMu.Lock()
	defer p.engineMu.Unlock()

	if !p.m.Current(s) {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	ts, err := p.openSession(ctx, lang)
	if err != nil {
		cancel()
		p.fail(s, err)
		return
	}

	h := &session{
		id:     uuid.NewString(),
		token:  s,
		sess:   ts,
		ctx:    ctx,
		cancel: cancel,
		lang:   lang,
		done:   make(chan struct{}),
	}
	p.cur = h
	p.wg.Add(1)
	go p.consume(h)

	p.live.Store(uint64(s))
	p.active.Store(h)
	if p.m.Advance(s, lifecycle.Starting, lifecycle.Active) {
		log.SessionStart(pipelineName, h.id, p.engine.Name(), lang)
	}
}

// openSession converts a panic in the engine into an error.
func (p *Pipeline) openSession(ctx context.Context, lang string) (ts transcriber.Session, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("speech session open panic: %v\n%s", r, debug.Stack())
			ts, err = nil, fmt.Errorf("speech engine panic: %v", r)
		}
	}()
	return p.engine.NewSession(ctx, transcriber.SessionConfig{
		Language:   lang,
		SampleRate: p.sampleRate,
	})
}

func (p *Pipeline) consume(h *session) {
	defer p.wg.Done()
	defer close(h.done)
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("speech session %s panic: %v\n%s", h.id, r, debug.Stack())
			p.fail(h.token, fmt.Errorf("speech engine panic: %v", r))
			drain(h.sess)
		}
	}()
	updates, errs := h.sess.Updates(), h.sess.Errors()
	for updates != nil || errs != nil {
		select {
		case <-h.ctx.Done():
			// Stopped: nothing more reaches the sink.
			drain(h.sess)
			return
		case u, ok := <-updates:
			if !ok {
				updates = nil
				continue
			}
			p.deliver(h, u)
		case err, ok := <-errs:
			if !ok {
				errs = nil
				continue
			}
			p.fail(h.token, err)
		}
	}
}

func (p *Pipeline) deliver(h *session, u transcriber.Update) {
	if p.live.Load() != uint64(h.token) || p.m.State() != lifecycle.Active {
		return
	}
	if !h.tracker.accept(u) {
		return
	}
	p.sink.OnTranscription(u.Text, u.IsFinal)
}

// drain discards what a session still produces so its Close can finish.
func drain(sess transcriber.Session) {
	go func() {
		for range sess.Updates() {
		}
	}()
	go func() {
		for range sess.Errors() {
		}
	}()
}

// AppendAudio feeds samples to the running session. Outside Active it is a
// no-op. samples is copied before return. A panicking engine fails the
// session instead of the caller.
func (p *Pipeline) AppendAudio(samples []float32) {
	if len(samples) == 0 || p.m.State() != lifecycle.Active {
		return
	}
	h := p.active.Load()
	if h == nil || p.live.Load() != uint64(h.token) {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("speech feed panic: %v\n%s", r, debug.Stack())
			p.fail(h.token, fmt.Errorf("speech engine panic: %v", r))
		}
	}()
	h.sess.Feed(samples)
	h.buffers.Add(1)
	h.samples.Add(uint64(len(samples)))
}

func (p *Pipeline) fail(s lifecycle.Session, err error) {
	if !p.m.Fail(s) {
		return
	}
	msg := "speech recognition failed"
	if err != nil && err.Error() != "" {
		msg = err.Error()
	}
	log.Errorf("speech recognition failed: %s", msg)
	p.sink.OnSpeechError(msg)
}

// Stop requests teardown; see capture.Pipeline.Stop.
func (p *Pipeline) Stop() {
	t, from, ok := p.m.Halt()
	if !ok {
		return
	}
	log.Debugf("speech stop requested from %s", from)
	p.active.Store(nil)
	p.wg.Add(1)
	go p.teardown(t)
}

func (p *Pipeline) teardown(t lifecycle.Session) {
	defer p.wg.Done()
	p.engineMu.Lock()
	defer p.engineMu.Unlock()

	if h := p.cur; h != nil {
		p.cur = nil
		p.active.Store(nil)
		// Cancel first: a session still dialing only gives up on its context.
		h.cancel()
		<-h.done
		stats, err := closeSession(h.sess)
		if err != nil && !errors.Is(err, context.Canceled) {
			log.Warnf("speech session %s closed with error: %v", h.id, err)
		}
		log.Debugf("speech session %s text: %q", h.id, stats.Text)
		log.SessionEnd(pipelineName, h.id, h.buffers.Load(), float64(h.samples.Load())/float64(p.sampleRate))
	}
	p.live.Store(0)
	p.m.Finish(t)
}

func closeSession(sess transcriber.Session) (stats transcriber.SessionStats, err error) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("speech session close panic: %v\n%s", r, debug.Stack())
			err = fmt.Errorf("speech engine panic: %v", r)
		}
	}()
	return sess.Close()
}

func (p *Pipeline) Close() {
	p.Stop()
	p.wg.Wait()
}
