package main

import (
	"fmt"
	"os"
	"runtime/debug"
	"sync"
	"sync/atomic"

	"audiobridge/bridge"
	"audiobridge/callback"
	"audiobridge/config"
	"audiobridge/lifecycle"
	"audiobridge/log"
	"audiobridge/permission"
)

var (
	// hostMu serializes boot and shutdown; readers load host without it.
	hostMu sync.Mutex
	host   atomic.Pointer[bridge.Runtime]
)

// current returns the process runtime, building it on first use. Callbacks
// live in callback.Default and may be registered before this runs.
func current() *bridge.Runtime {
	if rt := host.Load(); rt != nil {
		return rt
	}
	hostMu.Lock()
	defer hostMu.Unlock()
	if rt := host.Load(); rt != nil {
		return rt
	}
	rt := boot()
	host.Store(rt)
	return rt
}

// captureStatus and speechStatus never boot the runtime or wait on hostMu.
// Nothing booted reads as Idle.
func captureStatus() int32 {
	if rt := host.Load(); rt != nil {
		return rt.Capture.Status().Code()
	}
	return lifecycle.Idle.Code()
}

func speechStatus() int32 {
	if rt := host.Load(); rt != nil {
		return rt.Speech.Status().Code()
	}
	return lifecycle.Idle.Code()
}

func boot() *bridge.Runtime {
	cfg, cfgErr := config.Load()
	if cfgErr != nil {
		cfg = config.Config{
			Language:          config.DefaultLanguage,
			SampleRate:        config.DefaultSampleRate,
			PermissionTimeout: permission.DefaultTimeout,
		}
	}

	if dir, err := log.ResolveDir(cfg.LogPath); err == nil {
		log.SetDir(dir)
		log.SetDebug(cfg.Debug)
		if err := log.Init(); err != nil {
			fmt.Fprintf(os.Stderr, "audiobridge: diagnostics log disabled: %v\n", err)
		}
	}
	if cfgErr != nil {
		log.Errorf("config: %v; using defaults", cfgErr)
	}
	log.Infof("audiobridge starting: language=%s rate=%d", cfg.Language, cfg.SampleRate)

	return bridge.Build(cfg, callback.Default())
}

// shutdown stops both pipelines, clears every callback slot and closes the
// log. The next call into the library builds a fresh runtime.
func shutdown() {
	hostMu.Lock()
	h := host.Swap(nil)
	hostMu.Unlock()

	if h != nil {
		h.Close()
	}
	callback.Default().Reset()
	log.Info("audiobridge shut down")
	log.Close()
}

// guard runs fn and converts a panic into fallback so that nothing unwinds
// into the caller's stack.
func guard[T any](name string, fallback T, fn func() T) (ret T) {
	defer func() {
		if r := recover(); r != nil {
			log.Errorf("%s panicked: %v\n%s", name, r, debug.Stack())
			ret = fallback
		}
	}()
	return fn()
}

func guardVoid(name string, fn func()) {
	guard(name, struct{}{}, func() struct{} {
		fn()
		return struct{}{}
	})
}
