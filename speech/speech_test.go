package speech

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"audiobridge/lifecycle"
	"audiobridge/permission"
	"audiobridge/transcriber"
)

type result struct {
	text    string
	isFinal bool
}

type recorder struct {
	mu      sync.Mutex
	results []result
	errs    []string
}

func (r *recorder) OnSample([]float32, float64) {}
func (r *recorder) OnAudioError(string)         {}

func (r *recorder) OnTranscription(text string, isFinal bool) {
	r.mu.Lock()
	r.results = append(r.results, result{text, isFinal})
	r.mu.Unlock()
}

func (r *recorder) OnSpeechError(msg string) {
	r.mu.Lock()
	r.errs = append(r.errs, msg)
	r.mu.Unlock()
}

func (r *recorder) snapshot() ([]result, []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]result(nil), r.results...), append([]string(nil), r.errs...)
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(2 * time.Millisecond)
	}
}

func waitState(t *testing.T, p *Pipeline, want lifecycle.State) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := p.Wait(ctx, want); err != nil {
		t.Fatalf("waiting for %s: %v (state %s)", want, err, p.Status())
	}
}

// manualSession hands control of updates and errors to the test.
type manualSession struct {
	updates   chan transcriber.Update
	errs      chan error
	closeGate chan struct{}
	closeOnce sync.Once
	ctx       context.Context // Close waits for it when non-nil
	panicFeed bool

	mu  sync.Mutex
	fed int
}

func (s *manualSession) Feed(samples []float32) {
	if s.panicFeed {
		panic("feed exploded")
	}
	s.mu.Lock()
	s.fed += len(samples)
	s.mu.Unlock()
}

func (s *manualSession) Updates() <-chan transcriber.Update { return s.updates }
func (s *manualSession) Errors() <-chan error               { return s.errs }

func (s *manualSession) Close() (transcriber.SessionStats, error) {
	if s.closeGate != nil {
		<-s.closeGate
	}
	if s.ctx != nil {
		<-s.ctx.Done()
	}
	s.closeOnce.Do(func() {
		close(s.updates)
		close(s.errs)
	})
	return transcriber.SessionStats{}, nil
}

type manualEngine struct {
	ready     chan struct{} // NewSession blocks on it when non-nil
	closeGate chan struct{}
	err       error

	closeOnCtx bool // sessions hold Close until their context ends
	panicOpen  bool
	panicFeed  bool

	mu       sync.Mutex
	langs    []string
	sessions []*manualSession
}

func (e *manualEngine) Name() string                 { return "manual" }
func (e *manualEngine) SupportsOnDevice(string) bool { return false }
func (e *manualEngine) Usable() error                { return nil }

func (e *manualEngine) NewSession(ctx context.Context, cfg transcriber.SessionConfig) (transcriber.Session, error) {
	if e.ready != nil {
		<-e.ready
	}
	if e.panicOpen {
		panic("engine exploded")
	}
	if e.err != nil {
		return nil, e.err
	}
	s := &manualSession{
		updates:   make(chan transcriber.Update, 16),
		errs:      make(chan error, 1),
		closeGate: e.closeGate,
		panicFeed: e.panicFeed,
	}
	if e.closeOnCtx {
		s.ctx = ctx
	}
	e.mu.Lock()
	e.langs = append(e.langs, cfg.Language)
	e.sessions = append(e.sessions, s)
	e.mu.Unlock()
	return s, nil
}

func (e *manualEngine) last() *manualSession {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.sessions[len(e.sessions)-1]
}

func TestNormalizeLanguage(t *testing.T) {
	for _, tt := range []struct {
		in, want string
		wantErr  bool
	}{
		{"en-US", "en-US", false},
		{"zh_cn", "zh-CN", false},
		{" fr-fr ", "fr-FR", false},
		{"de", "de", false},
		{"", "", true},
		{"not a tag!", "", true},
	} {
		got, err := NormalizeLanguage(tt.in)
		if (err != nil) != tt.wantErr || got != tt.want {
			t.Errorf("NormalizeLanguage(%q) = %q, %v; want %q (err %v)", tt.in, got, err, tt.want, tt.wantErr)
		}
	}
}

func TestSetLanguageAndOnDevice(t *testing.T) {
	fake := transcriber.NewFake(transcriber.FakeConfig{OnDevice: []string{"zh-CN"}})
	p := New(fake, permission.Static(true, true), nil, Config{})
	if p.Language() != "en-US" {
		t.Errorf("default language = %q", p.Language())
	}
	if p.SupportsOnDevice() {
		t.Error("en-US reported on-device")
	}
	if err := p.SetLanguage("zh_CN"); err != nil {
		t.Fatal(err)
	}
	if !p.SupportsOnDevice() {
		t.Error("zh-CN not reported on-device")
	}
	if err := p.SetLanguage(""); err == nil || p.Language() != "zh-CN" {
		t.Errorf("empty tag accepted or changed language to %q", p.Language())
	}
	if p.Status() != lifecycle.Idle {
		t.Error("SetLanguage changed state")
	}
}

func TestRecognitionScenario(t *testing.T) {
	rec := &recorder{}
	fake := transcriber.NewFake(transcriber.FakeConfig{Text: "hello world", FinalEach: 16000})
	p := New(fake, permission.Static(true, true), rec, Config{SampleRate: 16000})

	if err := p.SetLanguage("en-US"); err != nil {
		t.Fatal(err)
	}
	if !p.Start() {
		t.Fatal("Start() = false")
	}
	waitState(t, p, lifecycle.Active)

	p.AppendAudio(make([]float32, 16000))
	waitFor(t, "a transcription", func() bool {
		res, _ := rec.snapshot()
		return len(res) >= 1
	})
	res, errs := rec.snapshot()
	if res[len(res)-1] != (result{"hello world", true}) {
		t.Errorf("results = %+v", res)
	}
	if len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}

	p.Stop()
	waitState(t, p, lifecycle.Idle)
	if p.Status().Code() != 0 {
		t.Errorf("code = %d", p.Status().Code())
	}
}

func TestStatusSequence(t *testing.T) {
	eng := &manualEngine{ready: make(chan struct{})}
	p := New(eng, permission.Static(true, true), &recorder{}, Config{})

	if p.Status().Code() != 0 {
		t.Fatalf("initial code = %d", p.Status().Code())
	}
	if !p.Start() {
		t.Fatal("Start() = false")
	}
	if p.Status().Code() != 1 {
		t.Fatalf("code while opening session = %d, want 1", p.Status().Code())
	}
	close(eng.ready)
	waitState(t, p, lifecycle.Active)
	if p.Status().Code() != 2 {
		t.Fatalf("code = %d, want 2", p.Status().Code())
	}
	p.Close()
	if p.Status().Code() != 0 {
		t.Errorf("code after Close = %d", p.Status().Code())
	}
}

func TestPermissionDenied(t *testing.T) {
	rec := &recorder{}
	eng := &manualEngine{}
	p := New(eng, permission.Static(true, false), rec, Config{})
	if p.Start() {
		t.Fatal("Start() = true without permission")
	}
	if p.Status() != lifecycle.Idle || len(eng.sessions) != 0 {
		t.Error("pipeline left idle state or opened a session")
	}
	if _, errs := rec.snapshot(); len(errs) != 0 {
		t.Errorf("errors = %v", errs)
	}
}

func TestAppendAudioOutsideActive(t *testing.T) {
	eng := &manualEngine{ready: make(chan struct{})}
	p := New(eng, permission.Static(true, true), nil, Config{})
	p.AppendAudio(make([]float32, 100)) // idle
	p.Start()
	p.AppendAudio(make([]float32, 100)) // starting
	close(eng.ready)
	waitState(t, p, lifecycle.Active)
	p.AppendAudio(make([]float32, 100))
	p.AppendAudio(nil)

	s := eng.last()
	s.mu.Lock()
	fed := s.fed
	s.mu.Unlock()
	if fed != 100 {
		t.Errorf("fed %d samples, want 100", fed)
	}
	p.Close()
}

func TestLanguageSnapshot(t *testing.T) {
	eng := &manualEngine{}
	p := New(eng, permission.Static(true, true), nil, Config{Language: "en-US"})
	p.Start()
	waitState(t, p, lifecycle.Active)
	p.SetLanguage("fr-FR")
	p.Stop()
	waitState(t, p, lifecycle.Idle)
	p.Start()
	waitState(t, p, lifecycle.Active)
	p.Close()

	eng.mu.Lock()
	defer eng.mu.Unlock()
	if len(eng.langs) != 2 || eng.langs[0] != "en-US" || eng.langs[1] != "fr-FR" {
		t.Errorf("session languages = %v", eng.langs)
	}
}

func TestUpdatesFiltered(t *testing.T) {
	rec := &recorder{}
	eng := &manualEngine{}
	p := New(eng, permission.Static(true, true), rec, Config{})
	p.Start()
	waitState(t, p, lifecycle.Active)

	s := eng.last()
	for _, u := range []transcriber.Update{
		{Text: "", IsFinal: true},
		{Text: "he"},
		{Text: "he"},
		{Text: "hello"},
		{Text: "hello", IsFinal: true},
		{Text: "bye"},
	} {
		s.updates <- u
	}
	waitFor(t, "four results", func() bool {
		res, _ := rec.snapshot()
		return len(res) == 4
	})
	res, _ := rec.snapshot()
	want := []result{{"he", false}, {"hello", false}, {"hello", true}, {"bye", false}}
	for i := range want {
		if res[i] != want[i] {
			t.Errorf("result %d = %+v, want %+v", i, res[i], want[i])
		}
	}
	p.Close()
}

func TestNoDeliveryAfterStop(t *testing.T) {
	rec := &recorder{}
	eng := &manualEngine{closeGate: make(chan struct{})}
	p := New(eng, permission.Static(true, true), rec, Config{})
	p.Start()
	waitState(t, p, lifecycle.Active)
	s := eng.last()

	p.Stop()
	s.updates <- transcriber.Update{Text: "late", IsFinal: true}
	s.errs <- errors.New("late failure")
	close(eng.closeGate)
	waitState(t, p, lifecycle.Idle)

	res, errs := rec.snapshot()
	if len(res) != 0 || len(errs) != 0 {
		t.Errorf("delivered after stop: %+v %v", res, errs)
	}
}

func TestSessionOpenFailure(t *testing.T) {
	rec := &recorder{}
	eng := &manualEngine{err: errors.New("model not available")}
	p := New(eng, permission.Static(true, true), rec, Config{})
	p.Start()
	waitState(t, p, lifecycle.Errored)
	if _, errs := rec.snapshot(); len(errs) != 1 || errs[0] != "model not available" {
		t.Errorf("errors = %q", errs)
	}
	p.Stop()
	waitState(t, p, lifecycle.Idle)
}

func TestRuntimeFailure(t *testing.T) {
	rec := &recorder{}
	fake := transcriber.NewFake(transcriber.FakeConfig{FailAfter: 1000})
	p := New(fake, permission.Static(true, true), rec, Config{})
	p.Start()
	waitState(t, p, lifecycle.Active)

	p.AppendAudio(make([]float32, 1000))
	waitState(t, p, lifecycle.Errored)
	p.AppendAudio(make([]float32, 1000))

	_, errs := rec.snapshot()
	if len(errs) != 1 || errs[0] == "" {
		t.Errorf("errors = %q, want exactly one", errs)
	}
	p.Close()
	if p.Status() != lifecycle.Idle {
		t.Errorf("status = %s", p.Status())
	}
}

func TestStopCancelsBlockedSession(t *testing.T) {
	eng := &manualEngine{closeOnCtx: true}
	p := New(eng, permission.Static(true, true), &recorder{}, Config{})
	p.Start()
	waitState(t, p, lifecycle.Active)

	p.Stop()
	waitState(t, p, lifecycle.Idle)
	if !p.Start() {
		t.Fatal("restart refused")
	}
	waitState(t, p, lifecycle.Active)
	p.Close()
}

func TestEnginePanics(t *testing.T) {
	for _, tt := range []struct {
		name string
		eng  *manualEngine
	}{
		{"open", &manualEngine{panicOpen: true}},
		{"feed", &manualEngine{panicFeed: true}},
	} {
		t.Run(tt.name, func(t *testing.T) {
			rec := &recorder{}
			p := New(tt.eng, permission.Static(true, true), rec, Config{})
			p.Start()
			if !tt.eng.panicOpen {
				waitState(t, p, lifecycle.Active)
				p.AppendAudio(make([]float32, 160))
			}
			waitState(t, p, lifecycle.Errored)
			_, errs := rec.snapshot()
			if len(errs) != 1 || !strings.Contains(errs[0], "panic") {
				t.Errorf("errors = %q, want one panic report", errs)
			}
			p.Stop()
			waitState(t, p, lifecycle.Idle)
		})
	}
}
