package log

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	diagFileName   = "diagnostics_log.txt"
	diagMaxSizeMB  = 10
	diagMaxBackups = 3
	diagMaxAgeDays = 28
)

var (
	diagLog  zerolog.Logger
	diagFile *lumberjack.Logger
	logMu    sync.Mutex
	logReady bool
	pid      int
	dir      string
	level    = zerolog.InfoLevel
)

func ResolveDir(flagPath string) (string, error) {
	// Priority 1: -logpath flag
	if flagPath != "" {
		return absPath(flagPath)
	}

	// Priority 2: AUDIOBRIDGE_LOG_PATH environment variable
	if envPath := os.Getenv("AUDIOBRIDGE_LOG_PATH"); envPath != "" {
		return absPath(envPath)
	}

	// Priority 3: Default OS-specific location
	return getDefaultDir()
}

func absPath(p string) (string, error) {
	if filepath.IsAbs(p) {
		return p, nil
	}
	wd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return filepath.Join(wd, p), nil
}

func SetDir(d string) {
	dir = d
}

func Dir() string {
	return dir
}

// SetDebug enables debug-level events (per-buffer and per-update tracing).
func SetDebug(on bool) {
	logMu.Lock()
	defer logMu.Unlock()
	if on {
		level = zerolog.DebugLevel
	} else {
		level = zerolog.InfoLevel
	}
	if logReady {
		diagLog = diagLog.Level(level)
	}
}

func EnsureDir() error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create log directory: %w", err)
	}
	return nil
}

func Init() error {
	logMu.Lock()
	defer logMu.Unlock()

	if logReady {
		return nil
	}
	if err := EnsureDir(); err != nil {
		return err
	}

	pid = os.Getpid()

	diagPath := filepath.Join(dir, diagFileName)
	// Open once up front so permission problems surface here, not on first write.
	f, err := os.OpenFile(diagPath, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return err
	}
	f.Close()

	diagFile = &lumberjack.Logger{
		Filename:   diagPath,
		MaxSize:    diagMaxSizeMB,
		MaxBackups: diagMaxBackups,
		MaxAge:     diagMaxAgeDays,
	}

	consoleWriter := zerolog.ConsoleWriter{
		Out:        diagFile,
		TimeFormat: "2006-01-02 15:04:05.000",
		NoColor:    true,
	}
	diagLog = zerolog.New(consoleWriter).Level(level).With().Timestamp().Int("pid", pid).Logger()

	logReady = true
	return nil
}

func Close() {
	logMu.Lock()
	defer logMu.Unlock()
	if diagFile != nil {
		diagFile.Close()
		diagFile = nil
	}
	logReady = false
}

func Ready() bool {
	logMu.Lock()
	defer logMu.Unlock()
	return logReady
}

func Info(msg string) {
	if logReady {
		diagLog.Info().Msg(msg)
	}
}

func Infof(format string, args ...any) {
	if logReady {
		diagLog.Info().Msg(fmt.Sprintf(format, args...))
	}
}

func Debugf(format string, args ...any) {
	if logReady {
		diagLog.Debug().Msg(fmt.Sprintf(format, args...))
	}
}

func Error(msg string) {
	if logReady {
		diagLog.Error().Msg(msg)
	}
}

func Errorf(format string, args ...any) {
	if logReady {
		diagLog.Error().Msg(fmt.Sprintf(format, args...))
	}
}

func Warn(msg string) {
	if logReady {
		diagLog.Warn().Msg(msg)
	}
}

func Warnf(format string, args ...any) {
	if logReady {
		diagLog.Warn().Msg(fmt.Sprintf(format, args...))
	}
}

func Transition(pipeline, from, to string, session uint64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("pipeline", pipeline).
		Str("from", from).
		Str("to", to).
		Uint64("session", session).
		Msg("transition")
}

func SessionStart(pipeline, id, engine, language string) {
	if !logReady {
		return
	}
	ev := diagLog.Info().
		Str("pipeline", pipeline).
		Str("id", id).
		Str("engine", engine)
	if language != "" {
		ev = ev.Str("language", language)
	}
	ev.Msg("session_start")
}

func SessionEnd(pipeline, id string, buffers uint64, audioS float64) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("pipeline", pipeline).
		Str("id", id).
		Uint64("buffers", buffers).
		Float64("audio_s", audioS).
		Msg("session_end")
}

type StreamMetricsData struct {
	ConnectMs    float64
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
}

func StreamMetrics(engine string, m StreamMetricsData) {
	if !logReady {
		return
	}
	diagLog.Info().
		Str("engine", engine).
		Float64("connect_ms", m.ConnectMs).
		Float64("finalize_ms", m.FinalizeMs).
		Float64("total_ms", m.TotalMs).
		Float64("audio_s", m.AudioS).
		Int("sent_chunks", m.SentChunks).
		Float64("sent_kb", m.SentKB).
		Int("recv_messages", m.RecvMessages).
		Int("recv_final", m.RecvFinal).
		Int("recv_interim", m.RecvInterim).
		Msg("stream_transcription")
}

type SegmentMetricsData struct {
	AudioS       float64
	RawKB        float64
	CompressedKB float64
	EncodeMs     float64
	TTFBMs       float64
	TotalMs      float64
	ConnReused   bool
}

func SegmentMetrics(engine string, m SegmentMetricsData) {
	if !logReady {
		return
	}
	connStatus := "new"
	if m.ConnReused {
		connStatus = "reused"
	}
	diagLog.Info().
		Str("engine", engine).
		Str("conn", connStatus).
		Float64("audio_s", m.AudioS).
		Float64("raw_kb", m.RawKB).
		Float64("compressed_kb", m.CompressedKB).
		Float64("encode_ms", m.EncodeMs).
		Float64("ttfb_ms", m.TTFBMs).
		Float64("total_ms", m.TotalMs).
		Msg("segment_transcription")
}
