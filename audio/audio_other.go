//go:build !linux

package audio

import (
	"encoding/binary"
	"encoding/hex"
	"errors"
	"fmt"
	"math"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const bytesPerSample = 4 // f32

type malgoContext struct {
	ctx *malgo.AllocatedContext
}

func NewContext() (Context, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	return &malgoContext{ctx: ctx}, nil
}

// Devices lists playback devices; loopback capture records what they play.
func (m *malgoContext) Devices() ([]DeviceInfo, error) {
	devices, err := m.ctx.Devices(malgo.Playback)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	var result []DeviceInfo
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   hex.EncodeToString(d.ID.Pointer()[:]),
			Name: d.Name(),
		})
	}
	return result, nil
}

func (m *malgoContext) Probe() error {
	devices, err := m.ctx.Devices(malgo.Playback)
	if err != nil {
		return fmt.Errorf("malgo devices: %w", err)
	}
	if len(devices) == 0 {
		return errors.New("no playback devices")
	}
	return nil
}

func (m *malgoContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config.SampleRate == 0 {
		return nil, errors.New("malgo: sample rate must be set")
	}
	if config.Channels == 0 {
		config.Channels = 1
	}
	c := &malgoCapture{
		ctx:    m.ctx,
		info:   device,
		config: config,
		clock:  frameClock{rate: config.SampleRate},
	}
	if device != nil {
		idBytes, err := hex.DecodeString(device.ID)
		if err != nil {
			return nil, fmt.Errorf("invalid device ID: %w", err)
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		c.devID = &devID
	}
	return c, nil
}

func (m *malgoContext) Close() {
	m.ctx.Uninit()
	m.ctx.Free()
}

type malgoCapture struct {
	ctx    *malgo.AllocatedContext
	info   *DeviceInfo
	devID  *malgo.DeviceID
	config CaptureConfig
	clock  frameClock

	callback atomic.Pointer[DataCallback]
	errCb    atomic.Pointer[ErrorCallback]
	stopping atomic.Bool

	mu     sync.Mutex
	device *malgo.Device
	buf    []float32 // reused across data callbacks
}

func (c *malgoCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Loopback)
	deviceConfig.Capture.Format = malgo.FormatF32
	deviceConfig.Capture.Channels = c.config.Channels
	deviceConfig.SampleRate = c.config.SampleRate
	if c.devID != nil {
		deviceConfig.Capture.DeviceID = c.devID.Pointer()
	}

	c.clock.reset()
	c.stopping.Store(false)
	callbacks := malgo.DeviceCallbacks{
		Data: c.onData,
		Stop: c.onStop,
	}

	dev, err := malgo.InitDevice(c.ctx.Context, deviceConfig, callbacks)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrLoopbackUnsupported, err)
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		return fmt.Errorf("malgo start: %w", err)
	}
	c.device = dev
	return nil
}

func (c *malgoCapture) onData(_, data []byte, frameCount uint32) {
	ch := int(c.config.Channels)
	n := int(frameCount)
	if len(data) < n*ch*bytesPerSample {
		n = len(data) / (ch * bytesPerSample)
	}
	if n == 0 {
		return
	}
	if cap(c.buf) < n {
		c.buf = make([]float32, n)
	}
	buf := c.buf[:n]
	for i := range buf {
		var sum float32
		for j := 0; j < ch; j++ {
			off := (i*ch + j) * bytesPerSample
			sum += math.Float32frombits(binary.LittleEndian.Uint32(data[off:]))
		}
		buf[i] = sum / float32(ch)
	}
	ts := c.clock.advance(n)
	if cb := c.callback.Load(); cb != nil {
		(*cb)(buf, ts)
	}
}

func (c *malgoCapture) onStop() {
	if c.stopping.Load() {
		return
	}
	if cb := c.errCb.Load(); cb != nil {
		(*cb)(errors.New("malgo: capture device stopped unexpectedly"))
	}
}

func (c *malgoCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.device == nil {
		return
	}
	c.stopping.Store(true)
	c.device.Stop()
	c.device.Uninit()
	c.device = nil
}

func (c *malgoCapture) Close() {
	c.Stop()
}

func (c *malgoCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *malgoCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *malgoCapture) SetErrorCallback(cb ErrorCallback) {
	c.errCb.Store(&cb)
}

func (c *malgoCapture) DeviceName() string {
	if c.info != nil {
		return c.info.Name + " (loopback)"
	}
	return "default output (loopback)"
}
