package transcriber

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"audiobridge/config"
)

var ErrNoEngine = errors.New("no recognition engine configured: set DEEPGRAM_API_KEY, GROQ_API_KEY or OPENAI_API_KEY")

type NetworkMetrics struct {
	DNS         time.Duration
	ConnWait    time.Duration
	TCP         time.Duration
	TLS         time.Duration
	ReqHeaders  time.Duration
	ReqBody     time.Duration
	TTFB        time.Duration
	Download    time.Duration
	Total       time.Duration
	ConnReused  bool
	TLSProtocol string
}

func (m *NetworkMetrics) Sum() time.Duration {
	return m.ConnWait + m.DNS + m.TCP + m.TLS + m.ReqHeaders + m.ReqBody + m.TTFB + m.Download
}

func firstNonEmpty(h http.Header, keys ...string) string {
	for _, k := range keys {
		if v := h.Get(k); v != "" {
			return v
		}
	}
	return "?"
}

type Result struct {
	Text      string
	Metrics   *NetworkMetrics
	RateLimit string
	Duration  float64
}

// Update is one recognition hypothesis for the current utterance. A final
// update closes the utterance; the next update starts a new one.
type Update struct {
	Text    string
	IsFinal bool
}

type Transcriber interface {
	Name() string
	// SupportsOnDevice reports whether lang can be recognised without a
	// network round trip.
	SupportsOnDevice(lang string) bool
	// Usable returns nil when the engine has what it needs to open sessions.
	Usable() error
	NewSession(ctx context.Context, cfg SessionConfig) (Session, error)
}

type baseTranscriber struct {
	client *TracedClient
	apiURL string
	apiKey string
}

func (b *baseTranscriber) SupportsOnDevice(string) bool { return false }

func (b *baseTranscriber) Usable() error {
	if b.apiKey == "" {
		return errors.New("missing API key")
	}
	return nil
}

// New picks the engine named by cfg.Provider, or the first one with an API key.
func New(cfg config.Config) (Transcriber, error) {
	switch cfg.Provider {
	case "deepgram":
		return NewDeepgram(cfg.DeepgramKey), nil
	case "groq":
		return NewGroq(cfg.GroqKey), nil
	case "openai":
		return NewOpenAI(cfg.OpenAIKey), nil
	case "fake":
		return NewFake(FakeConfig{
			Text:      cfg.FakeTranscript,
			OnDevice:  cfg.FakeOnDevice,
			FinalEach: int(cfg.SampleRate),
		}), nil
	case "":
	default:
		return nil, fmt.Errorf("unknown provider %q", cfg.Provider)
	}

	switch {
	case cfg.DeepgramKey != "":
		return NewDeepgram(cfg.DeepgramKey), nil
	case cfg.GroqKey != "":
		return NewGroq(cfg.GroqKey), nil
	case cfg.OpenAIKey != "":
		return NewOpenAI(cfg.OpenAIKey), nil
	}
	return nil, ErrNoEngine
}

// baseLanguage turns "en-US" into "en" for APIs that take ISO 639-1 codes.
func baseLanguage(tag string) string {
	if i := strings.IndexAny(tag, "-_"); i > 0 {
		return strings.ToLower(tag[:i])
	}
	return strings.ToLower(tag)
}
