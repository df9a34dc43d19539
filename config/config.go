package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const (
	DefaultLanguage   = "en-US"
	DefaultSampleRate = 16000
)

// Config is loaded once per process from an optional .env file and the
// environment. Command-line flags override fields after Load.
type Config struct {
	Provider   string // "deepgram", "groq", "openai", "fake" or "" (pick from keys)
	Language   string
	SampleRate int
	Device     string // capture source name; empty = default sink monitor
	LogPath    string
	Debug      bool

	DeepgramKey string
	GroqKey     string
	OpenAIKey   string

	// Fake engines, used by tests and by -test runs without hardware.
	FakeAudioFile  string
	FakeTranscript string
	FakeOnDevice   []string

	PermissionTimeout time.Duration
}

// Load reads .env (if present) and the environment. A missing .env is not an
// error; a malformed value is.
func Load() (Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		return Config{}, fmt.Errorf("loading .env: %w", err)
	}

	cfg := Config{
		Provider:          strings.ToLower(os.Getenv("AUDIOBRIDGE_PROVIDER")),
		Language:          os.Getenv("AUDIOBRIDGE_LANGUAGE"),
		SampleRate:        DefaultSampleRate,
		Device:            os.Getenv("AUDIOBRIDGE_DEVICE"),
		LogPath:           os.Getenv("AUDIOBRIDGE_LOG_PATH"),
		DeepgramKey:       os.Getenv("DEEPGRAM_API_KEY"),
		GroqKey:           os.Getenv("GROQ_API_KEY"),
		OpenAIKey:         os.Getenv("OPENAI_API_KEY"),
		FakeAudioFile:     os.Getenv("AUDIOBRIDGE_FAKE_AUDIO"),
		FakeTranscript:    os.Getenv("AUDIOBRIDGE_FAKE_TRANSCRIPT"),
		PermissionTimeout: 2 * time.Second,
	}
	if cfg.Language == "" {
		cfg.Language = DefaultLanguage
	}

	if v := os.Getenv("AUDIOBRIDGE_SAMPLE_RATE"); v != "" {
		rate, err := strconv.Atoi(v)
		if err != nil || rate <= 0 {
			return Config{}, fmt.Errorf("invalid AUDIOBRIDGE_SAMPLE_RATE %q", v)
		}
		cfg.SampleRate = rate
	}

	if v := os.Getenv("AUDIOBRIDGE_DEBUG"); v != "" {
		debug, err := strconv.ParseBool(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid AUDIOBRIDGE_DEBUG %q", v)
		}
		cfg.Debug = debug
	}

	if v := os.Getenv("AUDIOBRIDGE_FAKE_ON_DEVICE"); v != "" {
		for _, tag := range strings.Split(v, ",") {
			if tag = strings.TrimSpace(tag); tag != "" {
				cfg.FakeOnDevice = append(cfg.FakeOnDevice, tag)
			}
		}
	}

	switch cfg.Provider {
	case "", "deepgram", "groq", "openai", "fake":
	default:
		return Config{}, fmt.Errorf("unknown AUDIOBRIDGE_PROVIDER %q (use deepgram, groq, openai or fake)", cfg.Provider)
	}

	return cfg, nil
}
