package audio

import (
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const fakeFrameSize = 1024

// FakeContext replays in-memory samples as if they were system audio. Tests
// drive it directly with Push and Fail.
type FakeContext struct {
	samples []float32
	rate    uint32 // rate of samples; 0 means "whatever the capture asks for"

	realtime bool

	StartErr   error
	StartDelay time.Duration
	ProbeErr   error

	mu   sync.Mutex
	last *FakeCapture
}

func NewFakeContext(samples []float32, realtime bool) *FakeContext {
	return &FakeContext{samples: samples, realtime: realtime}
}

// LoadFakeContext decodes a PCM WAV file, downmixed to mono.
func LoadFakeContext(wavPath string, realtime bool) (*FakeContext, error) {
	f, err := os.Open(wavPath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid wav file", wavPath)
	}
	var pcm *goaudio.IntBuffer
	pcm, err = dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", wavPath, err)
	}
	if pcm.Format == nil || pcm.Format.NumChannels < 1 {
		return nil, fmt.Errorf("%s: missing format", wavPath)
	}

	depth := pcm.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	scale := float32(int64(1) << (depth - 1))
	ch := pcm.Format.NumChannels
	samples := make([]float32, len(pcm.Data)/ch)
	for i := range samples {
		var sum float32
		for j := 0; j < ch; j++ {
			sum += float32(pcm.Data[i*ch+j]) / scale
		}
		samples[i] = sum / float32(ch)
	}

	return &FakeContext{
		samples:  samples,
		rate:     uint32(pcm.Format.SampleRate),
		realtime: realtime,
	}, nil
}

func (f *FakeContext) Devices() ([]DeviceInfo, error) {
	return []DeviceInfo{{ID: "fake", Name: "fake"}}, nil
}

func (f *FakeContext) Probe() error { return f.ProbeErr }
func (f *FakeContext) Close()       {}

func (f *FakeContext) NewCapture(_ *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config.SampleRate == 0 {
		return nil, errors.New("fake: sample rate must be set")
	}
	samples := f.samples
	if f.rate != 0 && f.rate != config.SampleRate {
		samples = resample(samples, f.rate, config.SampleRate)
	}
	c := &FakeCapture{
		samples:    samples,
		realtime:   f.realtime,
		rate:       config.SampleRate,
		startErr:   f.StartErr,
		startDelay: f.StartDelay,
		clock:      frameClock{rate: config.SampleRate},
		audioDone:  make(chan struct{}),
	}
	f.mu.Lock()
	f.last = c
	f.mu.Unlock()
	return c, nil
}

// Last returns the most recently created capture, or nil.
func (f *FakeContext) Last() *FakeCapture {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.last
}

type FakeCapture struct {
	samples    []float32
	realtime   bool
	rate       uint32
	startErr   error
	startDelay time.Duration
	audioDone  chan struct{}

	mu       sync.Mutex
	cb       DataCallback
	errCb    ErrorCallback
	running  bool
	stopCh   chan struct{}
	feedDone chan struct{}

	deliverMu sync.Mutex
	clock     frameClock
}

// AudioDone is closed once the replayed samples have all been delivered.
func (f *FakeCapture) AudioDone() <-chan struct{} { return f.audioDone }

func (f *FakeCapture) SetCallback(cb DataCallback) {
	f.mu.Lock()
	f.cb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) ClearCallback() {
	f.mu.Lock()
	f.cb = nil
	f.mu.Unlock()
}

func (f *FakeCapture) SetErrorCallback(cb ErrorCallback) {
	f.mu.Lock()
	f.errCb = cb
	f.mu.Unlock()
}

func (f *FakeCapture) DeviceName() string { return "fake" }

func (f *FakeCapture) Running() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.running
}

// Push delivers samples on the caller's goroutine. It reports false when the
// capture is not running.
func (f *FakeCapture) Push(samples []float32) bool {
	f.mu.Lock()
	cb, running := f.cb, f.running
	f.mu.Unlock()
	if !running {
		return false
	}
	f.deliver(cb, samples)
	return true
}

// Fail reports a runtime error as the platform backend would.
func (f *FakeCapture) Fail(err error) {
	f.mu.Lock()
	cb := f.errCb
	f.mu.Unlock()
	if cb != nil {
		cb(err)
	}
}

func (f *FakeCapture) deliver(cb DataCallback, samples []float32) {
	f.deliverMu.Lock()
	defer f.deliverMu.Unlock()
	ts := f.clock.advance(len(samples))
	if cb != nil {
		cb(samples, ts)
	}
}

func (f *FakeCapture) Start() error {
	if f.startDelay > 0 {
		time.Sleep(f.startDelay)
	}
	if f.startErr != nil {
		return f.startErr
	}

	f.mu.Lock()
	f.running = true
	f.stopCh = make(chan struct{})
	f.feedDone = make(chan struct{})
	f.mu.Unlock()

	if len(f.samples) == 0 {
		close(f.feedDone)
		return nil
	}

	interval := time.Millisecond
	if f.realtime {
		interval = time.Duration(fakeFrameSize) * time.Second / time.Duration(f.rate)
	}
	stopCh, feedDone := f.stopCh, f.feedDone
	go func() {
		defer close(feedDone)
		pos := 0
		silence := make([]float32, fakeFrameSize)
		finished := false
		for {
			f.mu.Lock()
			cb := f.cb
			f.mu.Unlock()

			if pos < len(f.samples) {
				end := min(pos+fakeFrameSize, len(f.samples))
				f.deliver(cb, f.samples[pos:end])
				pos = end
			} else {
				if !finished {
					finished = true
					close(f.audioDone)
				}
				f.deliver(cb, silence)
			}

			select {
			case <-stopCh:
				return
			case <-time.After(interval):
			}
		}
	}()
	return nil
}

func (f *FakeCapture) Stop() {
	f.mu.Lock()
	stopCh, feedDone := f.stopCh, f.feedDone
	f.running = false
	f.mu.Unlock()
	if stopCh == nil {
		return
	}
	select {
	case <-stopCh:
	default:
		close(stopCh)
	}
	<-feedDone
}

func (f *FakeCapture) Close() { f.Stop() }

// resample converts between rates with linear interpolation.
func resample(in []float32, from, to uint32) []float32 {
	if len(in) == 0 || from == to {
		return in
	}
	n := int(uint64(len(in)) * uint64(to) / uint64(from))
	out := make([]float32, n)
	step := float64(from) / float64(to)
	for i := range out {
		pos := float64(i) * step
		j := int(pos)
		frac := float32(pos - float64(j))
		if j+1 < len(in) {
			out[i] = in[j]*(1-frac) + in[j+1]*frac
		} else {
			out[i] = in[len(in)-1]
		}
	}
	return out
}
