package main

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"audiobridge/callback"
	"audiobridge/lifecycle"
)

func TestGuardRecovers(t *testing.T) {
	got := guard("boom", int32(-1), func() int32 { panic("bad pointer") })
	if got != -1 {
		t.Errorf("guard returned %d, want fallback -1", got)
	}
	if got := guard("ok", false, func() bool { return true }); !got {
		t.Error("guard dropped the result")
	}
	guardVoid("void", func() { panic("again") })
}

func TestBootAndShutdown(t *testing.T) {
	logDir := t.TempDir()
	t.Chdir(t.TempDir()) // no stray .env
	t.Setenv("AUDIOBRIDGE_LOG_PATH", logDir)
	t.Setenv("AUDIOBRIDGE_PROVIDER", "fake")
	t.Setenv("AUDIOBRIDGE_FAKE_AUDIO", filepath.Join(logDir, "missing.wav"))
	t.Setenv("AUDIOBRIDGE_LANGUAGE", "fr-FR")

	var finals []string
	callback.Default().SetTranscription(func(text string, isFinal bool) {
		if isFinal {
			finals = append(finals, text)
		}
	})

	rt := current()
	if current() != rt {
		t.Fatal("second call built another runtime")
	}
	if rt.Gate.Audio() {
		t.Error("audio granted without a backend")
	}
	if !rt.Gate.Speech() {
		t.Fatal("fake engine should grant speech")
	}
	if rt.Speech.Language() != "fr-FR" {
		t.Errorf("language = %q", rt.Speech.Language())
	}
	if rt.Capture.Start() {
		t.Error("capture started without a backend")
	}

	if !rt.Speech.Start() {
		t.Fatal("speech did not start")
	}
	deadline := time.Now().Add(2 * time.Second)
	for rt.Speech.Status() != lifecycle.Active {
		if time.Now().After(deadline) {
			t.Fatalf("status = %s", rt.Speech.Status())
		}
		time.Sleep(2 * time.Millisecond)
	}

	shutdown()
	if rt.Speech.Status() != lifecycle.Idle {
		t.Errorf("status after shutdown = %s", rt.Speech.Status())
	}
	if _, err := os.Stat(filepath.Join(logDir, "diagnostics_log.txt")); err != nil {
		t.Errorf("diagnostics log: %v", err)
	}

	callback.Default().OnTranscription("late", true)
	if len(finals) != 0 {
		t.Errorf("callback survived shutdown: %q", finals)
	}

	if host.Load() != nil {
		t.Error("shutdown kept the runtime")
	}
}

func TestStatusWithoutRuntime(t *testing.T) {
	if host.Load() != nil {
		t.Skip("runtime already booted")
	}
	// A boot or shutdown in progress holds hostMu.
	hostMu.Lock()
	defer hostMu.Unlock()

	done := make(chan [2]int32, 1)
	go func() { done <- [2]int32{captureStatus(), speechStatus()} }()
	select {
	case got := <-done:
		if got != [2]int32{0, 0} {
			t.Errorf("status = %v, want idle for both", got)
		}
	case <-time.After(time.Second):
		t.Fatal("status query blocked on the host lock")
	}
	if host.Load() != nil {
		t.Error("status query booted the runtime")
	}
}
