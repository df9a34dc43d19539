package bridge

import (
	"errors"
	"fmt"

	"audiobridge/audio"
	"audiobridge/callback"
	"audiobridge/capture"
	"audiobridge/config"
	"audiobridge/log"
	"audiobridge/permission"
	"audiobridge/speech"
	"audiobridge/transcriber"
)

// Runtime is everything one process needs to run both pipelines.
type Runtime struct {
	Audio   audio.Context // nil when no capture backend could be opened
	Engine  transcriber.Transcriber
	Gate    permission.Gate
	Capture *capture.Pipeline
	Speech  *speech.Pipeline
	Device  *audio.DeviceInfo
}

// Build opens the capture backend and recognition engine named by cfg and
// wires both pipelines to sink. A missing backend or engine is not fatal: the
// matching permission probe fails, so Start on that pipeline returns false.
func Build(cfg config.Config, sink callback.Sink) *Runtime {
	rt := &Runtime{}

	var err error
	if cfg.FakeAudioFile != "" {
		rt.Audio, err = audio.LoadFakeContext(cfg.FakeAudioFile, true)
	} else {
		rt.Audio, err = audio.NewContext()
	}
	if err != nil {
		log.Errorf("audio backend unavailable: %v", err)
		rt.Audio = nil
	}

	rt.Engine, err = transcriber.New(cfg)
	if err != nil {
		log.Errorf("recognition engine unavailable: %v", err)
		rt.Engine = nil
	} else {
		log.Infof("recognition engine: %s", rt.Engine.Name())
	}

	if rt.Audio != nil && cfg.Device != "" {
		rt.Device, err = audio.FindDevice(rt.Audio, cfg.Device)
		if err != nil {
			log.Warnf("capture device %q: %v; using default output", cfg.Device, err)
		}
	}

	rt.Gate = permission.NewChecker(rt.probeAudio, rt.probeSpeech, cfg.PermissionTimeout)
	rt.Capture = capture.New(rt.Audio, rt.Gate, sink, capture.Config{
		SampleRate: uint32(cfg.SampleRate),
		Device:     rt.Device,
	})
	rt.Speech = speech.New(rt.Engine, rt.Gate, sink, speech.Config{
		Language:   cfg.Language,
		SampleRate: cfg.SampleRate,
	})
	return rt
}

func (rt *Runtime) probeAudio() error {
	if rt.Audio == nil {
		return errors.New("no audio backend")
	}
	return rt.Audio.Probe()
}

func (rt *Runtime) probeSpeech() error {
	if rt.Engine == nil {
		return transcriber.ErrNoEngine
	}
	if err := rt.Engine.Usable(); err != nil {
		return fmt.Errorf("%s: %w", rt.Engine.Name(), err)
	}
	return nil
}

// Close stops both pipelines, waits for their teardown and releases the
// capture backend.
func (rt *Runtime) Close() {
	rt.Capture.Close()
	rt.Speech.Close()
	if rt.Audio != nil {
		rt.Audio.Close()
	}
}
