package main

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"audiobridge/audio"
	"audiobridge/bridge"
	"audiobridge/callback"
	"audiobridge/config"
	"audiobridge/hotkey"
	"audiobridge/log"
)

// Buffers below this RMS count as silence for the quiet monitor.
const quietLevel = 0.005

type app struct {
	rt       *bridge.Runtime
	coord    *bridge.Coordinator
	sink     EventSink
	idleStop time.Duration

	heard atomic.Bool // an audible buffer arrived since the last tick
}

func newApp(cfg config.Config, sink EventSink, idleStop time.Duration) *app {
	reg := callback.NewRegistry()
	a := &app{sink: sink, idleStop: idleStop}
	a.rt = bridge.Build(cfg, reg)
	a.coord = bridge.New(reg, a.rt.Capture, a.rt.Speech, a.rt.Gate, bridge.Hooks{
		Level:      a.onLevel,
		Transcript: sink.Transcript,
		Error:      sink.Error,
	})
	return a
}

// announce sends the lines that describe the engine and capture source.
func (a *app) announce() {
	a.sink.ModeLine(a.modeLine())
	a.sink.DeviceLine(deviceLineText(a.rt.Device))
}

func (a *app) onLevel(rms float64) {
	if rms >= quietLevel {
		a.heard.Store(true)
	}
	a.sink.AudioLevel(rms)
}

func (a *app) modeLine() string {
	engine := "no engine"
	if a.rt.Engine != nil {
		engine = a.rt.Engine.Name()
	}
	where := "network"
	if a.rt.Speech.SupportsOnDevice() {
		where = "on-device"
	}
	return fmt.Sprintf("[%s | %s | %s]", engine, a.rt.Speech.Language(), where)
}

func deviceLineText(dev *audio.DeviceInfo) string {
	name := "default output"
	suffix := ""
	if dev != nil {
		name = dev.Name
		if audio.IsBluetooth(dev.Name) {
			suffix = " (BT)"
		}
	}
	return "capturing: " + name + suffix
}

func (a *app) setLanguage(tag string) error {
	if err := a.rt.Speech.SetLanguage(tag); err != nil {
		return err
	}
	a.sink.ModeLine(a.modeLine())
	return nil
}

// toggle starts transcription when idle and stops it otherwise.
func (a *app) toggle() {
	if a.coord.Capturing() {
		a.coord.Stop()
		a.sink.Warning("")
		return
	}
	if err := a.coord.StartTranscription(); err != nil {
		log.Warnf("start transcription: %v", err)
		a.sink.Error(err.Error())
	}
}

// watch reports pipeline status every tick and runs the quiet monitor while
// transcribing. It returns when ctx is done.
func (a *app) watch(ctx context.Context) error {
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	var mon *quietMonitor
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		a.sink.Status(a.rt.Capture.Status(), a.rt.Speech.Status())
		if !a.coord.Capturing() {
			mon = nil
			continue
		}
		if mon == nil {
			mon = newQuietMonitor(a.idleStop)
			a.heard.Store(false)
		}
		switch mon.Tick(a.heard.Swap(false)) {
		case AudioQuiet:
			log.Info("no_system_audio")
			a.sink.Warning("no system audio playing")
		case AudioResumed:
			a.sink.Warning("")
		case AudioIdleStop:
			log.Infof("idle_stop after %s", a.idleStop)
			a.coord.Stop()
			a.sink.Warning("stopped: no system audio for " + a.idleStop.String())
		}
	}
}

// runHotkey follows the global shortcut until ctx is done. A shortcut that
// cannot be registered is reported as a warning.
func (a *app) runHotkey(ctx context.Context, hold time.Duration) {
	hk := hotkey.New()
	if err := hk.Register(); err != nil {
		log.Warnf("hotkey register: %v", err)
		a.sink.Warning("hotkey unavailable: " + err.Error())
		return
	}
	defer hk.Unregister()
	a.followTrigger(hotkey.NewTrigger(ctx, hk, hold))
}

// followTrigger applies trigger actions until the trigger closes. Actions
// that match the current state are ignored, so the keyboard and the TUI can
// both drive the same session.
func (a *app) followTrigger(tr *hotkey.Trigger) {
	for act := range tr.Actions() {
		log.Infof("hotkey_%s", act)
		switch act {
		case hotkey.Start:
			if a.coord.Capturing() {
				continue
			}
			if err := a.coord.StartTranscription(); err != nil {
				log.Warnf("start transcription: %v", err)
				a.sink.Error(err.Error())
			}
		case hotkey.Stop:
			if a.coord.Capturing() {
				a.coord.Stop()
				a.sink.Warning("")
			}
		}
	}
}

func (a *app) close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	err := a.coord.Close(ctx)
	a.rt.Close()
	return err
}
