package callback

import "sync/atomic"

type SampleFunc func(samples []float32, timestamp float64)

type TranscriptFunc func(text string, isFinal bool)

type ErrorFunc func(message string)

// Sink receives every event the pipelines emit. Implementations are called on
// the engine's delivery goroutine and must not block.
type Sink interface {
	OnSample(samples []float32, timestamp float64)
	OnAudioError(message string)
	OnTranscription(text string, isFinal bool)
	OnSpeechError(message string)
}

const (
	defaultAudioError  = "audio capture failed"
	defaultSpeechError = "speech recognition failed"
)

// Registry holds one callback per event kind. Slots are swapped atomically and
// loaded once per event, so an event already being delivered keeps the
// callback it started with.
type Registry struct {
	sample      atomic.Pointer[SampleFunc]
	audioErr    atomic.Pointer[ErrorFunc]
	transcript  atomic.Pointer[TranscriptFunc]
	speechErr   atomic.Pointer[ErrorFunc]
	sampleCalls atomic.Uint64
	dropped     atomic.Uint64
}

func NewRegistry() *Registry {
	return &Registry{}
}

var defaultRegistry = NewRegistry()

// Default returns the process-wide registry used by the C surface.
func Default() *Registry { return defaultRegistry }

func (r *Registry) SetSample(fn SampleFunc) {
	if fn == nil {
		r.sample.Store(nil)
		return
	}
	r.sample.Store(&fn)
}

func (r *Registry) SetAudioError(fn ErrorFunc) {
	if fn == nil {
		r.audioErr.Store(nil)
		return
	}
	r.audioErr.Store(&fn)
}

func (r *Registry) SetTranscription(fn TranscriptFunc) {
	if fn == nil {
		r.transcript.Store(nil)
		return
	}
	r.transcript.Store(&fn)
}

func (r *Registry) SetSpeechError(fn ErrorFunc) {
	if fn == nil {
		r.speechErr.Store(nil)
		return
	}
	r.speechErr.Store(&fn)
}

// Reset clears every slot.
func (r *Registry) Reset() {
	r.sample.Store(nil)
	r.audioErr.Store(nil)
	r.transcript.Store(nil)
	r.speechErr.Store(nil)
}

func (r *Registry) OnSample(samples []float32, timestamp float64) {
	cb := r.sample.Load()
	if cb == nil {
		r.dropped.Add(1)
		return
	}
	r.sampleCalls.Add(1)
	(*cb)(samples, timestamp)
}

func (r *Registry) OnAudioError(message string) {
	if message == "" {
		message = defaultAudioError
	}
	if cb := r.audioErr.Load(); cb != nil {
		(*cb)(message)
	}
}

func (r *Registry) OnTranscription(text string, isFinal bool) {
	if cb := r.transcript.Load(); cb != nil {
		(*cb)(text, isFinal)
	}
}

func (r *Registry) OnSpeechError(message string) {
	if message == "" {
		message = defaultSpeechError
	}
	if cb := r.speechErr.Load(); cb != nil {
		(*cb)(message)
	}
}

// SampleStats reports how many sample buffers were delivered and how many
// were dropped for lack of a registered callback.
func (r *Registry) SampleStats() (delivered, dropped uint64) {
	return r.sampleCalls.Load(), r.dropped.Load()
}

// Discard is a Sink that drops everything.
type Discard struct{}

func (Discard) OnSample([]float32, float64)  {}
func (Discard) OnAudioError(string)          {}
func (Discard) OnTranscription(string, bool) {}
func (Discard) OnSpeechError(string)         {}
