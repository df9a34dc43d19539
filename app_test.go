package main

import (
	"context"
	"sync"
	"testing"
	"time"

	"audiobridge/audio"
	"audiobridge/hotkey"
	"audiobridge/lifecycle"
)

// recordSink keeps the last value of each event.
type recordSink struct {
	mu       sync.Mutex
	warning  string
	errText  string
	mode     string
	device   string
	full     string
	statuses int
}

func (s *recordSink) set(fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	fn()
}

func (s *recordSink) Status(_, _ lifecycle.State) { s.set(func() { s.statuses++ }) }
func (s *recordSink) AudioLevel(float64)          {}
func (s *recordSink) Transcript(full, _ string)   { s.set(func() { s.full = full }) }
func (s *recordSink) Warning(text string)         { s.set(func() { s.warning = text }) }
func (s *recordSink) Error(message string)        { s.set(func() { s.errText = message }) }
func (s *recordSink) ModeLine(text string)        { s.set(func() { s.mode = text }) }
func (s *recordSink) DeviceLine(text string)      { s.set(func() { s.device = text }) }

func newTestApp(t *testing.T) (*app, *recordSink) {
	t.Helper()
	sink := &recordSink{}
	a := newApp(fakeConfig(t), sink, 0)
	t.Cleanup(func() { a.close() })
	return a, sink
}

func TestDeviceLineText(t *testing.T) {
	tests := []struct {
		dev  *audio.DeviceInfo
		want string
	}{
		{nil, "capturing: default output"},
		{&audio.DeviceInfo{Name: "Built-in Speakers"}, "capturing: Built-in Speakers"},
		{&audio.DeviceInfo{Name: "WH-1000XM4 Bluetooth"}, "capturing: WH-1000XM4 Bluetooth (BT)"},
	}
	for _, tt := range tests {
		if got := deviceLineText(tt.dev); got != tt.want {
			t.Errorf("deviceLineText(%v) = %q, want %q", tt.dev, got, tt.want)
		}
	}
}

func TestAnnounceAndLanguage(t *testing.T) {
	a, sink := newTestApp(t)
	a.announce()
	if sink.mode != "[fake | en-US | network]" {
		t.Errorf("mode = %q", sink.mode)
	}
	if sink.device != "capturing: default output" {
		t.Errorf("device = %q", sink.device)
	}

	if err := a.setLanguage("ja_jp"); err != nil {
		t.Fatal(err)
	}
	if sink.mode != "[fake | ja-JP | network]" {
		t.Errorf("mode after setLanguage = %q", sink.mode)
	}
	if err := a.setLanguage(""); err == nil {
		t.Error("empty tag accepted")
	}
}

func TestToggle(t *testing.T) {
	a, _ := newTestApp(t)

	a.toggle()
	if !a.coord.Capturing() {
		t.Fatal("toggle did not start")
	}
	if !a.waitBoth(lifecycle.Active) {
		t.Fatal("pipelines not active")
	}
	a.toggle()
	if a.coord.Capturing() {
		t.Fatal("toggle did not stop")
	}
	if !a.waitBoth(lifecycle.Idle) {
		t.Fatal("pipelines not idle")
	}
}

func TestFollowTrigger(t *testing.T) {
	a, _ := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	fk := hotkey.NewFake()
	done := make(chan struct{})
	go func() {
		a.followTrigger(hotkey.NewTrigger(ctx, fk, 50*time.Millisecond))
		close(done)
	}()

	fk.SimKeydown()
	if !waitUntil(time.Second, a.coord.Capturing) {
		t.Fatal("press did not start transcription")
	}
	time.Sleep(100 * time.Millisecond)
	fk.SimKeyup()
	if !waitUntil(time.Second, func() bool { return !a.coord.Capturing() }) {
		t.Fatal("release after hold did not stop")
	}

	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("followTrigger did not return after cancel")
	}
}

func TestWatchReportsStatus(t *testing.T) {
	a, sink := newTestApp(t)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- a.watch(ctx) }()

	if !waitUntil(time.Second, func() bool {
		sink.mu.Lock()
		defer sink.mu.Unlock()
		return sink.statuses >= 2
	}) {
		t.Error("no status ticks")
	}
	cancel()
	if err := <-done; err != nil {
		t.Errorf("watch: %v", err)
	}
}
