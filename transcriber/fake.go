package transcriber

import (
	"context"
	"errors"
	"strings"
	"sync"
)

const fakeDefaultText = "hello world"

type FakeConfig struct {
	Text       string   // words revealed by partials, complete in each final
	OnDevice   []string // language tags reported as on-device
	FinalEach  int      // samples per utterance; 0 means 16000
	SessionErr error    // returned by NewSession
	FailAfter  int      // samples after which the session reports an error; 0 never
}

// FakeTranscriber recognises by counting samples. Every fed buffer yields a
// partial revealing a growing prefix of Text, and every FinalEach samples a
// final with all of it.
type FakeTranscriber struct {
	cfg FakeConfig
}

func NewFake(cfg FakeConfig) *FakeTranscriber {
	if cfg.Text == "" {
		cfg.Text = fakeDefaultText
	}
	if cfg.FinalEach <= 0 {
		cfg.FinalEach = 16000
	}
	return &FakeTranscriber{cfg: cfg}
}

func (f *FakeTranscriber) Name() string  { return "fake" }
func (f *FakeTranscriber) Usable() error { return nil }

func (f *FakeTranscriber) SupportsOnDevice(lang string) bool {
	want := normaliseTag(lang)
	for _, l := range f.cfg.OnDevice {
		if normaliseTag(l) == want {
			return true
		}
	}
	return false
}

func normaliseTag(tag string) string {
	return strings.ToLower(strings.ReplaceAll(strings.TrimSpace(tag), "_", "-"))
}

func (f *FakeTranscriber) NewSession(_ context.Context, _ SessionConfig) (Session, error) {
	if f.cfg.SessionErr != nil {
		return nil, f.cfg.SessionErr
	}
	return &fakeSession{
		cfg:     f.cfg,
		words:   strings.Fields(f.cfg.Text),
		updates: make(chan Update, 256),
		errs:    make(chan error, 1),
	}, nil
}

type fakeSession struct {
	cfg   FakeConfig
	words []string

	mu      sync.Mutex
	closed  bool
	failed  bool
	total   int
	inSeg   int
	finals  []string
	updates chan Update
	errs    chan error
}

func (s *fakeSession) Feed(samples []float32) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.failed || len(samples) == 0 {
		return
	}

	s.total += len(samples)
	s.inSeg += len(samples)
	for s.inSeg >= s.cfg.FinalEach {
		s.inSeg -= s.cfg.FinalEach
		s.finals = append(s.finals, s.cfg.Text)
		s.updates <- Update{Text: s.cfg.Text, IsFinal: true}
	}
	if s.inSeg > 0 {
		k := (s.inSeg*len(s.words) + s.cfg.FinalEach - 1) / s.cfg.FinalEach
		select {
		case s.updates <- Update{Text: strings.Join(s.words[:k], " ")}:
		default:
		}
	}

	if s.cfg.FailAfter > 0 && s.total >= s.cfg.FailAfter {
		s.failed = true
		s.errs <- errors.New("fake: recognition failed")
	}
}

func (s *fakeSession) Updates() <-chan Update { return s.updates }
func (s *fakeSession) Errors() <-chan error   { return s.errs }

func (s *fakeSession) Close() (SessionStats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return SessionStats{}, nil
	}
	s.closed = true
	close(s.updates)
	close(s.errs)

	st := SessionStats{
		Text: strings.Join(s.finals, " "),
		Batch: &BatchStats{
			Segments:     len(s.finals),
			AudioLengthS: float64(s.total) / 16000,
		},
		Metrics: []string{"total: 0ms (fake)"},
	}
	st.captureMemStats()
	if s.failed {
		return st, errors.New("fake: recognition failed")
	}
	return st, nil
}
