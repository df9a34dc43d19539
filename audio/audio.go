package audio

import (
	"errors"
	"strings"
	"time"
)

var ErrLoopbackUnsupported = errors.New("system audio loopback not supported by this backend")

var btKeywords = []string{
	"airpods", "beats", "bose", "wh-1000", "wf-1000",
	"sony wh-", "sony wf-",
	"jabra", "galaxy buds", "pixel buds", "powerbeats",
	"jbl ", "sennheiser momentum", "plantronics",
	"tozo", "anker soundcore", "skullcandy",
	"bluetooth", " bt ", " bt)", " bt]",
}

func IsBluetooth(name string) bool {
	lower := strings.ToLower(name)
	for _, kw := range btKeywords {
		if strings.Contains(lower, kw) {
			return true
		}
	}
	return false
}

// DataCallback receives mono float32 samples in [-1, 1]. samples is only valid
// for the duration of the call. timestamp is the position of the first sample
// on the capture clock.
type DataCallback func(samples []float32, timestamp time.Duration)

// ErrorCallback reports a failure after Start returned successfully.
type ErrorCallback func(err error)

type CaptureConfig struct {
	SampleRate uint32
	Channels   uint32
}

type DeviceInfo struct {
	ID   string // opaque platform-specific identifier
	Name string
}

type Context interface {
	Devices() ([]DeviceInfo, error)
	NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error)
	// Probe checks that system audio can be captured without starting a stream.
	Probe() error
	Close()
}

type CaptureDevice interface {
	Start() error
	Stop()
	Close()
	SetCallback(cb DataCallback)
	ClearCallback()
	SetErrorCallback(cb ErrorCallback)
	DeviceName() string
}

// frameClock turns a running frame count into stream time. It belongs to one
// stream and is only touched from that stream's delivery goroutine.
type frameClock struct {
	rate   uint32
	frames uint64
}

func (c *frameClock) advance(n int) time.Duration {
	ts := time.Duration(c.frames) * time.Second / time.Duration(c.rate)
	c.frames += uint64(n)
	return ts
}

func (c *frameClock) reset() { c.frames = 0 }
