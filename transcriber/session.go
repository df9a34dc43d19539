package transcriber

import "runtime"

func (r *SessionStats) captureMemStats() {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)
	r.MemoryAllocMB = float64(m.Alloc) / 1024 / 1024
	r.MemoryPeakMB = float64(m.TotalAlloc) / 1024 / 1024
}

type SessionConfig struct {
	Language   string // BCP-47 tag, e.g. "en-US"
	SampleRate int    // of the samples passed to Feed
}

type BatchStats struct {
	Segments         int
	AudioLengthS     float64
	RawSizeKB        float64
	CompressedSizeKB float64
	EncodeTimeMs     float64
	TTFBMs           float64
	TotalTimeMs      float64
	ConnReused       bool
}

type StreamStats struct {
	ConnectMs    float64
	SentChunks   int
	SentKB       float64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeMs   float64
	TotalMs      float64
	AudioS       float64
}

type SessionStats struct {
	Text          string // finals joined with spaces
	MemoryAllocMB float64
	MemoryPeakMB  float64
	Batch         *BatchStats  // non-nil for segmented sessions
	Stream        *StreamStats // non-nil for stream sessions
	Metrics       []string     // pre-formatted lines for the TUI
}

// Session is one recognition request. Feed copies its input and may be called
// from any goroutine. Updates and Errors are closed by Close.
type Session interface {
	Feed(samples []float32)
	Updates() <-chan Update
	Errors() <-chan error
	Close() (SessionStats, error)
}
