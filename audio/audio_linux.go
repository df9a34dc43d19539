//go:build linux

package audio

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jfreymuth/pulse"
)

const streamCheckInterval = 250 * time.Millisecond

type pulseContext struct {
	client *pulse.Client
}

func NewContext() (Context, error) {
	c, err := pulse.NewClient(pulse.ClientApplicationName("audiobridge"))
	if err != nil {
		return nil, fmt.Errorf("pulse: %w", err)
	}
	return &pulseContext{client: c}, nil
}

// Devices lists playback sinks; capturing one records its monitor.
func (p *pulseContext) Devices() ([]DeviceInfo, error) {
	sinks, err := p.client.ListSinks()
	if err != nil {
		return nil, fmt.Errorf("pulse list sinks: %w", err)
	}
	var devices []DeviceInfo
	for _, s := range sinks {
		devices = append(devices, DeviceInfo{
			ID:   s.ID(),
			Name: s.Name(),
		})
	}
	return devices, nil
}

func (p *pulseContext) Probe() error {
	if _, err := p.client.DefaultSink(); err != nil {
		return fmt.Errorf("pulse default sink: %w", err)
	}
	return nil
}

func (p *pulseContext) NewCapture(device *DeviceInfo, config CaptureConfig) (CaptureDevice, error) {
	if config.SampleRate == 0 {
		return nil, errors.New("pulse: sample rate must be set")
	}
	return &pulseCapture{
		client: p.client,
		device: device,
		config: config,
		clock:  frameClock{rate: config.SampleRate},
	}, nil
}

func (p *pulseContext) Close() {
	p.client.Close()
}

type pulseCapture struct {
	client   *pulse.Client
	device   *DeviceInfo
	config   CaptureConfig
	callback atomic.Pointer[DataCallback]
	errCb    atomic.Pointer[ErrorCallback]
	clock    frameClock

	stream *pulse.RecordStream
	mu     sync.Mutex
	stop   chan struct{}
	done   chan struct{}
}

func (c *pulseCapture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.clock.reset()
	writer := pulse.Float32Writer(func(buf []float32) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		ts := c.clock.advance(len(buf))
		if cb := c.callback.Load(); cb != nil {
			(*cb)(buf, ts)
		}
		return len(buf), nil
	})

	sink, err := c.sink()
	if err != nil {
		return err
	}

	opts := []pulse.RecordOption{
		pulse.RecordMono,
		pulse.RecordSampleRate(int(c.config.SampleRate)),
		pulse.RecordLatency(0.05),
		pulse.RecordMonitor(sink),
	}

	stream, err := c.client.NewRecord(writer, opts...)
	if err != nil {
		return fmt.Errorf("pulse record: %w", err)
	}

	c.stream = stream
	c.stop = make(chan struct{})
	c.done = make(chan struct{})

	go func() {
		defer close(c.done)
		stream.Start()
		ticker := time.NewTicker(streamCheckInterval)
		defer ticker.Stop()
		for {
			select {
			case <-c.stop:
				stream.Stop()
				stream.Close()
				return
			case <-ticker.C:
				if stream.Closed() {
					c.report(errors.New("pulse: record stream closed by server"))
					return
				}
				if err := stream.Error(); err != nil {
					c.report(fmt.Errorf("pulse: %w", err))
					stream.Close()
					return
				}
			}
		}
	}()

	return nil
}

func (c *pulseCapture) sink() (*pulse.Sink, error) {
	if c.device != nil {
		sink, err := c.client.SinkByID(c.device.ID)
		if err != nil {
			return nil, fmt.Errorf("pulse sink %q: %w", c.device.Name, err)
		}
		return sink, nil
	}
	sink, err := c.client.DefaultSink()
	if err != nil {
		return nil, fmt.Errorf("pulse default sink: %w", err)
	}
	return sink, nil
}

func (c *pulseCapture) report(err error) {
	if cb := c.errCb.Load(); cb != nil {
		(*cb)(err)
	}
}

func (c *pulseCapture) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.stop != nil {
		select {
		case <-c.stop:
		default:
			close(c.stop)
		}
		<-c.done
	}
}

func (c *pulseCapture) Close() {
	c.Stop()
}

func (c *pulseCapture) SetCallback(cb DataCallback) {
	c.callback.Store(&cb)
}

func (c *pulseCapture) ClearCallback() {
	c.callback.Store(nil)
}

func (c *pulseCapture) SetErrorCallback(cb ErrorCallback) {
	c.errCb.Store(&cb)
}

func (c *pulseCapture) DeviceName() string {
	if c.device != nil {
		return c.device.Name + " (monitor)"
	}
	return "default output (monitor)"
}
