package doctor

import (
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"strings"
	"sync"
	"time"

	"audiobridge/bridge"
	"audiobridge/callback"
	"audiobridge/clipboard"
	"audiobridge/config"
	"audiobridge/hotkey"
	"audiobridge/lifecycle"
	"audiobridge/shutdown"
	"audiobridge/transcriber"
)

// How long the capture check listens to system audio.
var captureFor = 3 * time.Second

// Run executes the diagnostic checks and returns an exit code (0=all pass, 1=any fail).
// Hotkey and clipboard problems are reported but do not fail the run.
func Run(cfg config.Config) int {
	resetTerminal()
	sigChan := make(chan os.Signal, 1)
	shutdown.Notify(sigChan)
	go func() {
		<-sigChan
		fmt.Println("\nInterrupted")
		os.Exit(1)
	}()
	return run(cfg, os.Stdout)
}

func run(cfg config.Config, out io.Writer) int {
	fmt.Fprintln(out, "audiobridge doctor - system diagnostics")
	fmt.Fprintln(out, "=======================================")

	reg := callback.NewRegistry()
	rt := bridge.Build(cfg, reg)
	defer rt.Close()

	allPass := checkBackend(out, rt)
	var captured []float32
	if allPass {
		var ok bool
		captured, ok = checkCapture(out, rt, reg)
		allPass = ok
	}
	if !checkEngine(out, rt, cfg, captured) {
		allPass = false
	}
	checkHotkey(out)
	checkClipboard(out)

	fmt.Fprintln(out)
	if allPass {
		fmt.Fprintln(out, "All checks passed!")
		return 0
	}
	fmt.Fprintln(out, "Some checks failed. See details above.")
	return 1
}

func checkBackend(out io.Writer, rt *bridge.Runtime) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[1/5] System audio backend")

	if rt.Audio == nil {
		fmt.Fprintln(out, "  FAIL: cannot connect to audio")
		return false
	}
	if err := rt.Audio.Probe(); err != nil {
		fmt.Fprintf(out, "  FAIL: %v\n", err)
		return false
	}
	devices, err := rt.Audio.Devices()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: cannot list devices: %v\n", err)
		return false
	}
	for _, d := range devices {
		fmt.Fprintf(out, "  - %s\n", d.Name)
	}
	if rt.Device != nil {
		fmt.Fprintf(out, "  using %s\n", rt.Device.Name)
	}
	fmt.Fprintf(out, "  PASS: %d output(s)\n", len(devices))
	return true
}

// checkCapture runs the capture pipeline for captureFor and returns what it
// delivered.
func checkCapture(out io.Writer, rt *bridge.Runtime, reg *callback.Registry) ([]float32, bool) {
	fmt.Fprintln(out)
	fmt.Fprintf(out, "[2/5] Capture (%s, play something)\n", captureFor)

	var (
		mu       sync.Mutex
		samples  []float32
		buffers  int
		peak     float64
		lastErr  string
		lastTime float64
	)
	reg.SetSample(func(s []float32, ts float64) {
		mu.Lock()
		defer mu.Unlock()
		buffers++
		lastTime = ts
		samples = append(samples, s...)
		for _, v := range s {
			peak = math.Max(peak, math.Abs(float64(v)))
		}
	})
	reg.SetAudioError(func(msg string) {
		mu.Lock()
		lastErr = msg
		mu.Unlock()
	})
	defer reg.Reset()

	if !rt.Capture.Start() {
		fmt.Fprintln(out, "  FAIL: capture refused to start")
		return nil, false
	}
	time.Sleep(captureFor)
	rt.Capture.Stop()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := rt.Capture.Wait(ctx, lifecycle.Idle); err != nil {
		fmt.Fprintf(out, "  FAIL: capture did not stop: %v\n", err)
		return nil, false
	}

	mu.Lock()
	defer mu.Unlock()
	if lastErr != "" {
		fmt.Fprintf(out, "  FAIL: %s\n", lastErr)
		return nil, false
	}
	if buffers == 0 {
		fmt.Fprintln(out, "  FAIL: no audio delivered")
		return nil, false
	}
	fmt.Fprintf(out, "  %d buffers, %.2fs, peak %.3f\n", buffers, lastTime, peak)
	if peak == 0 {
		fmt.Fprintln(out, "  PASS (silent: nothing was playing)")
	} else {
		fmt.Fprintln(out, "  PASS")
	}
	return samples, true
}

// checkEngine verifies the recognition engine and, given captured audio,
// transcribes it.
func checkEngine(out io.Writer, rt *bridge.Runtime, cfg config.Config, captured []float32) bool {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[3/5] Speech recognition")

	if rt.Engine == nil {
		fmt.Fprintf(out, "  FAIL: %v\n", transcriber.ErrNoEngine)
		return false
	}
	if err := rt.Engine.Usable(); err != nil {
		fmt.Fprintf(out, "  FAIL: %s: %v\n", rt.Engine.Name(), err)
		return false
	}
	lang := rt.Speech.Language()
	where := "network"
	if rt.Speech.SupportsOnDevice() {
		where = "on-device"
	}
	fmt.Fprintf(out, "  engine %s, language %s (%s)\n", rt.Engine.Name(), lang, where)

	if len(captured) == 0 {
		fmt.Fprintln(out, "  PASS (no audio to transcribe)")
		return true
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	sess, err := rt.Engine.NewSession(ctx, transcriber.SessionConfig{
		Language:   lang,
		SampleRate: cfg.SampleRate,
	})
	if err != nil {
		fmt.Fprintf(out, "  FAIL: session error: %v\n", err)
		return false
	}
	go func() {
		for range sess.Updates() {
		}
	}()
	sess.Feed(captured)
	stats, err := sess.Close()
	if err != nil {
		fmt.Fprintf(out, "  FAIL: transcription error: %v\n", err)
		return false
	}

	text := strings.TrimSpace(stats.Text)
	if text == "" {
		text = "(no speech detected)"
	}
	fmt.Fprintf(out, "  Transcribed text: %s\n", text)
	for _, m := range stats.Metrics {
		fmt.Fprintf(out, "  %s\n", m)
	}
	fmt.Fprintln(out, "  PASS")
	return true
}

func checkHotkey(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[4/5] Global hotkey (optional)")

	msg, err := hotkey.Diagnose()
	if err != nil {
		fmt.Fprintf(out, "  WARN: %v (-hotkey will not work)\n", err)
		return
	}
	fmt.Fprintf(out, "  PASS: %s\n", msg)
}

func checkClipboard(out io.Writer) {
	fmt.Fprintln(out)
	fmt.Fprintln(out, "[5/5] Clipboard (optional)")

	prev, _ := clipboard.Read()
	const probe = "audiobridge-doctor-test"
	if err := clipboard.Copy(probe); err != nil {
		fmt.Fprintf(out, "  WARN: copy failed: %v\n", err)
		return
	}
	got, err := clipboard.Read()
	if prev != "" {
		clipboard.Copy(prev)
	}
	if err != nil || got != probe {
		fmt.Fprintf(out, "  WARN: clipboard round trip failed (got %q, err %v)\n", got, err)
		return
	}
	fmt.Fprintln(out, "  PASS: copy key works")
}
