package transcriber

import (
	"encoding/binary"
	"fmt"

	webrtcvad "github.com/maxhawkins/go-webrtcvad"
)

const (
	vadMode     = 3
	vadFrameMs  = 20
	vadDebounce = 3 // consecutive speech frames to confirm voice
)

// vadProcessor classifies fixed 20ms frames. It counts in frames rather than
// wall time so replayed audio segments the same way live audio does.
type vadProcessor struct {
	classify     func(rate int, frame []byte) (bool, error)
	rate         int
	frameSamples int
	frameBytes   []byte

	voiceDetected bool
	speechRun     int
	silenceRun    int
	totalFrames   int
	speechFrames  int
}

func newVADProcessor(rate int) (*vadProcessor, error) {
	frameSamples := rate * vadFrameMs / 1000
	v, err := webrtcvad.New()
	if err != nil {
		return nil, err
	}
	if !v.ValidRateAndFrameLength(rate, frameSamples) {
		return nil, fmt.Errorf("vad: unsupported sample rate %d", rate)
	}
	if err := v.SetMode(vadMode); err != nil {
		return nil, err
	}
	return &vadProcessor{
		classify:     v.Process,
		rate:         rate,
		frameSamples: frameSamples,
		frameBytes:   make([]byte, frameSamples*2),
	}, nil
}

// Frame classifies one frame of exactly frameSamples samples.
func (p *vadProcessor) Frame(frame []int16) bool {
	for i, s := range frame {
		binary.LittleEndian.PutUint16(p.frameBytes[i*2:], uint16(s))
	}
	active, err := p.classify(p.rate, p.frameBytes)
	if err != nil {
		return false
	}
	p.totalFrames++
	if active {
		p.speechFrames++
		p.speechRun++
		p.silenceRun = 0
		if !p.voiceDetected && p.speechRun >= vadDebounce {
			p.voiceDetected = true
		}
	} else {
		p.speechRun = 0
		p.silenceRun++
	}
	return active
}

func (p *vadProcessor) VoiceDetected() bool { return p.voiceDetected }

// SilenceRun is the number of non-speech frames since the last speech frame.
func (p *vadProcessor) SilenceRun() int { return p.silenceRun }

func (p *vadProcessor) Stats() (total, speech int) {
	return p.totalFrames, p.speechFrames
}

// Reset clears utterance state; frame totals are kept.
func (p *vadProcessor) Reset() {
	p.voiceDetected = false
	p.speechRun = 0
	p.silenceRun = 0
}

func (p *vadProcessor) framesFor(ms int) int {
	return ms / vadFrameMs
}
