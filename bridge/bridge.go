// Package bridge drives both pipelines together the way a host application
// does: captured system audio is appended to the recognizer, and the
// recognized text is accumulated into a confirmed transcript plus the
// hypothesis currently being revised.
package bridge

import (
	"context"
	"errors"
	"math"
	"strings"
	"sync"
	"sync/atomic"

	"golang.org/x/sync/errgroup"

	"audiobridge/callback"
	"audiobridge/capture"
	"audiobridge/lifecycle"
	"audiobridge/log"
	"audiobridge/permission"
	"audiobridge/speech"
)

var (
	ErrAlreadyRunning = errors.New("transcription already running")
	ErrSpeechRefused  = errors.New("speech recognition did not start")
	ErrCaptureRefused = errors.New("audio capture did not start")
)

// Hooks are optional observers, called on the pipelines' delivery goroutines.
type Hooks struct {
	Level      func(rms float64)
	Transcript func(full, latest string)
	Error      func(message string)
}

// feedQueue bounds the buffers waiting for the recognizer.
const feedQueue = 64

type Coordinator struct {
	capture *capture.Pipeline
	speech  *speech.Pipeline
	gate    permission.Gate
	reg     *callback.Registry
	hooks   Hooks

	capturing atomic.Bool

	// Captured buffers reach speech through feed so the capture thread
	// never waits on the engine.
	feed     chan *[]float32
	bufs     sync.Pool
	dropped  atomic.Uint64
	quit     chan struct{}
	quitOnce sync.Once
	feedDone chan struct{}

	mu        sync.Mutex
	confirmed strings.Builder
	current   string
	lastErr   string
}

// New registers the coordinator's handlers on reg. Both pipelines must have
// been created with reg as their sink.
func New(reg *callback.Registry, cp *capture.Pipeline, sp *speech.Pipeline, gate permission.Gate, hooks Hooks) *Coordinator {
	c := &Coordinator{
		capture:  cp,
		speech:   sp,
		gate:     gate,
		reg:      reg,
		hooks:    hooks,
		feed:     make(chan *[]float32, feedQueue),
		quit:     make(chan struct{}),
		feedDone: make(chan struct{}),
	}
	c.bufs.New = func() any {
		b := make([]float32, 0, 4096)
		return &b
	}
	go c.feedLoop()
	reg.SetSample(c.onSample)
	reg.SetAudioError(func(msg string) { c.onError("audio", msg) })
	reg.SetTranscription(c.onTranscription)
	reg.SetSpeechError(func(msg string) { c.onError("speech", msg) })
	return c
}

// CheckPermissions reports audio and speech permission without prompting.
func (c *Coordinator) CheckPermissions() (audio, speech bool) {
	if c.gate == nil {
		return false, false
	}
	return c.gate.Audio(), c.gate.Speech()
}

// StartTranscription clears the previous transcript and starts recognition,
// then capture. If capture refuses to start, recognition is stopped again.
func (c *Coordinator) StartTranscription() error {
	if c.capturing.Load() {
		return ErrAlreadyRunning
	}
	c.Clear()
	c.mu.Lock()
	c.lastErr = ""
	c.mu.Unlock()

	if !c.speech.Start() {
		return ErrSpeechRefused
	}
	if !c.capture.Start() {
		c.speech.Stop()
		return ErrCaptureRefused
	}
	c.capturing.Store(true)
	log.Info("transcription started")
	return nil
}

func (c *Coordinator) Stop() {
	if !c.capturing.Swap(false) {
		return
	}
	c.capture.Stop()
	c.speech.Stop()
	log.Info("transcription stopped")
}

func (c *Coordinator) Capturing() bool { return c.capturing.Load() }

func (c *Coordinator) CaptureStatus() lifecycle.State { return c.capture.Status() }
func (c *Coordinator) SpeechStatus() lifecycle.State  { return c.speech.Status() }

// Latest returns the hypothesis for the utterance still in progress.
func (c *Coordinator) Latest() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Full returns every confirmed final, one per line.
func (c *Coordinator) Full() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.confirmed.String()
}

func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.confirmed.Reset()
	c.current = ""
	c.mu.Unlock()
	if c.hooks.Transcript != nil {
		c.hooks.Transcript("", "")
	}
}

// LastError returns the most recent pipeline error message, or "".
func (c *Coordinator) LastError() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastErr
}

// Close stops both pipelines and waits until each is back in Idle or ctx
// expires, then unregisters the handlers.
func (c *Coordinator) Close(ctx context.Context) error {
	c.capturing.Store(false)
	c.capture.Stop()
	c.speech.Stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return c.capture.Wait(gctx, lifecycle.Idle) })
	g.Go(func() error { return c.speech.Wait(gctx, lifecycle.Idle) })
	err := g.Wait()
	c.reg.Reset()
	c.quitOnce.Do(func() { close(c.quit) })
	select {
	case <-c.feedDone:
	case <-ctx.Done():
	}
	return err
}

// Dropped reports how many captured buffers were discarded because the
// recognizer fell behind.
func (c *Coordinator) Dropped() uint64 { return c.dropped.Load() }

func (c *Coordinator) onSample(samples []float32, _ float64) {
	bp := c.bufs.Get().(*[]float32)
	*bp = append((*bp)[:0], samples...)
	select {
	case c.feed <- bp:
	default:
		c.bufs.Put(bp)
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			log.Warnf("recognizer behind: %d buffers dropped", n)
		}
	}
	if c.hooks.Level != nil {
		c.hooks.Level(rms(samples))
	}
}

func (c *Coordinator) feedLoop() {
	defer close(c.feedDone)
	for {
		select {
		case bp := <-c.feed:
			c.speech.AppendAudio(*bp)
			c.bufs.Put(bp)
		case <-c.quit:
			return
		}
	}
}

func (c *Coordinator) onTranscription(text string, isFinal bool) {
	c.mu.Lock()
	if isFinal {
		if t := strings.TrimSpace(text); t != "" {
			if c.confirmed.Len() > 0 {
				c.confirmed.WriteByte('\n')
			}
			c.confirmed.WriteString(t)
		}
		c.current = ""
	} else {
		c.current = text
	}
	full, latest := c.confirmed.String(), c.current
	c.mu.Unlock()

	if c.hooks.Transcript != nil {
		c.hooks.Transcript(full, latest)
	}
}

func (c *Coordinator) onError(pipeline, msg string) {
	c.mu.Lock()
	c.lastErr = msg
	c.mu.Unlock()
	log.Errorf("%s error: %s", pipeline, msg)
	if c.hooks.Error != nil {
		c.hooks.Error(msg)
	}
}

func rms(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
