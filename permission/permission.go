package permission

import (
	"fmt"
	"time"

	"audiobridge/log"
)

// Gate answers whether capture and recognition are currently allowed. It never
// prompts; anything short of a clear yes is a no.
type Gate interface {
	Audio() bool
	Speech() bool
}

// Probe returns nil when the capability is available.
type Probe func() error

const DefaultTimeout = 2 * time.Second

// Checker runs probes with a timeout. A probe that errors, panics or does not
// answer in time counts as not granted.
type Checker struct {
	audio   Probe
	speech  Probe
	timeout time.Duration
}

func NewChecker(audio, speech Probe, timeout time.Duration) *Checker {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	return &Checker{audio: audio, speech: speech, timeout: timeout}
}

func (c *Checker) Audio() bool  { return c.run("audio", c.audio) }
func (c *Checker) Speech() bool { return c.run("speech", c.speech) }

func (c *Checker) run(kind string, p Probe) bool {
	if p == nil {
		return false
	}
	res := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				res <- fmt.Errorf("probe panicked: %v", r)
			}
		}()
		res <- p()
	}()

	select {
	case err := <-res:
		if err != nil {
			log.Warnf("%s permission denied: %v", kind, err)
			return false
		}
		return true
	case <-time.After(c.timeout):
		log.Warnf("%s permission probe timed out after %s", kind, c.timeout)
		return false
	}
}

type static struct{ audio, speech bool }

func (s static) Audio() bool  { return s.audio }
func (s static) Speech() bool { return s.speech }

// Static returns a gate with fixed answers.
func Static(audio, speech bool) Gate {
	return static{audio: audio, speech: speech}
}
