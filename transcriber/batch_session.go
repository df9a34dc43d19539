package transcriber

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"audiobridge/encoder"
	"audiobridge/log"
)

const (
	segmentHangoverMs = 600   // trailing silence that ends an utterance
	segmentMaxMs      = 15000 // long utterances are cut here
	segmentMinMs      = 250   // shorter tails are dropped on Close
	segmentPreRollMs  = 200   // audio kept from before speech onset
)

type transcribeFunc func(ctx context.Context, audio []byte, format, lang string) (*Result, error)

// batchSession cuts the incoming audio into utterances with the VAD and
// transcribes each one as a FLAC upload. It produces finals only.
type batchSession struct {
	engine     string
	ctx        context.Context
	cancel     context.CancelFunc
	lang       string
	sampleRate int
	transcribe transcribeFunc

	updates chan Update
	errs    chan error
	segCh   chan []int16
	done    chan struct{}

	feedMu   sync.Mutex
	closed   bool
	vad      *vadProcessor
	pending  []int16
	preroll  []int16
	segment  []int16
	inSpeech bool

	mu      sync.Mutex
	err     error
	texts   []string
	stats   BatchStats
	started time.Time
}

func newBatchSession(ctx context.Context, engine string, cfg SessionConfig, transcribe transcribeFunc) (*batchSession, error) {
	vp, err := newVADProcessor(cfg.SampleRate)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithCancel(ctx)
	bs := &batchSession{
		engine:     engine,
		ctx:        ctx,
		cancel:     cancel,
		lang:       baseLanguage(cfg.Language),
		sampleRate: cfg.SampleRate,
		transcribe: transcribe,
		updates:    make(chan Update, 16),
		errs:       make(chan error, 1),
		segCh:      make(chan []int16, 8),
		done:       make(chan struct{}),
		vad:        vp,
		started:    time.Now(),
	}
	go bs.run()
	return bs, nil
}

func (bs *batchSession) samplesFor(ms int) int { return bs.sampleRate * ms / 1000 }

func (bs *batchSession) Feed(samples []float32) {
	bs.feedMu.Lock()
	defer bs.feedMu.Unlock()
	if bs.closed {
		return
	}

	bs.pending = appendInt16(bs.pending, samples)
	fs := bs.vad.frameSamples
	off := 0
	for ; off+fs <= len(bs.pending); off += fs {
		bs.frame(bs.pending[off : off+fs])
	}
	n := copy(bs.pending, bs.pending[off:])
	bs.pending = bs.pending[:n]
}

func (bs *batchSession) frame(frame []int16) {
	bs.vad.Frame(frame)

	if !bs.inSpeech {
		bs.preroll = append(bs.preroll, frame...)
		if over := len(bs.preroll) - bs.samplesFor(segmentPreRollMs); over > 0 {
			n := copy(bs.preroll, bs.preroll[over:])
			bs.preroll = bs.preroll[:n]
		}
		if bs.vad.VoiceDetected() {
			bs.inSpeech = true
			bs.segment = append(bs.segment[:0], bs.preroll...)
			bs.preroll = bs.preroll[:0]
		}
		return
	}

	bs.segment = append(bs.segment, frame...)
	if bs.vad.SilenceRun() >= bs.vad.framesFor(segmentHangoverMs) ||
		len(bs.segment) >= bs.samplesFor(segmentMaxMs) {
		bs.cut()
	}
}

// cut hands the current utterance to the upload goroutine. Called with feedMu held.
func (bs *batchSession) cut() {
	seg := make([]int16, len(bs.segment))
	copy(seg, bs.segment)
	bs.segment = bs.segment[:0]
	bs.inSpeech = false
	bs.vad.Reset()

	select {
	case bs.segCh <- seg:
	case <-bs.ctx.Done():
	}
}

func (bs *batchSession) run() {
	defer close(bs.done)
	for seg := range bs.segCh {
		if bs.failed() {
			continue
		}
		text, err := bs.process(seg)
		if err != nil {
			bs.setErr(err)
			continue
		}
		bs.mu.Lock()
		if text != "" {
			bs.texts = append(bs.texts, text)
		}
		bs.mu.Unlock()
		bs.updates <- Update{Text: text, IsFinal: true}
	}
}

func (bs *batchSession) process(seg []int16) (string, error) {
	enc, err := encoder.NewFlac(bs.sampleRate)
	if err != nil {
		return "", err
	}
	if err := encoder.EncodeAll(enc, seg); err != nil {
		return "", fmt.Errorf("encoding segment: %w", err)
	}
	audio := enc.Bytes()

	result, err := bs.transcribe(bs.ctx, audio, "flac", bs.lang)
	if err != nil {
		return "", err
	}

	audioS := float64(len(seg)) / float64(bs.sampleRate)
	rawKB := float64(len(seg)*2) / 1024
	compressedKB := float64(len(audio)) / 1024
	m := result.Metrics
	if m == nil {
		m = &NetworkMetrics{}
	}

	bs.mu.Lock()
	bs.stats.Segments++
	bs.stats.AudioLengthS += audioS
	bs.stats.RawSizeKB += rawKB
	bs.stats.CompressedSizeKB += compressedKB
	bs.stats.EncodeTimeMs += float64(enc.EncodeTime().Milliseconds())
	bs.stats.TTFBMs = float64(m.TTFB.Milliseconds())
	bs.stats.TotalTimeMs += float64(m.Sum().Milliseconds())
	bs.stats.ConnReused = m.ConnReused
	bs.mu.Unlock()

	log.SegmentMetrics(bs.engine, log.SegmentMetricsData{
		AudioS:       audioS,
		RawKB:        rawKB,
		CompressedKB: compressedKB,
		EncodeMs:     float64(enc.EncodeTime().Milliseconds()),
		TTFBMs:       float64(m.TTFB.Milliseconds()),
		TotalMs:      float64(m.Sum().Milliseconds()),
		ConnReused:   m.ConnReused,
	})
	return strings.TrimSpace(result.Text), nil
}

func (bs *batchSession) failed() bool {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	return bs.err != nil
}

func (bs *batchSession) setErr(err error) {
	bs.mu.Lock()
	defer bs.mu.Unlock()
	if bs.err != nil {
		return
	}
	bs.err = err
	select {
	case bs.errs <- fmt.Errorf("%s: %w", bs.engine, err):
	default:
	}
}

func (bs *batchSession) Updates() <-chan Update { return bs.updates }
func (bs *batchSession) Errors() <-chan error   { return bs.errs }

func (bs *batchSession) Close() (SessionStats, error) {
	bs.feedMu.Lock()
	if !bs.closed {
		bs.closed = true
		if bs.inSpeech && len(bs.segment) >= bs.samplesFor(segmentMinMs) {
			bs.cut()
		}
		close(bs.segCh)
	}
	bs.feedMu.Unlock()

	<-bs.done
	bs.cancel()
	close(bs.updates)
	close(bs.errs)

	bs.mu.Lock()
	stats := bs.stats
	text := strings.Join(bs.texts, " ")
	err := bs.err
	bs.mu.Unlock()

	st := SessionStats{
		Text:    text,
		Batch:   &stats,
		Metrics: bs.formatMetrics(stats),
	}
	st.captureMemStats()
	return st, err
}

func (bs *batchSession) formatMetrics(s BatchStats) []string {
	reused := ""
	if s.ConnReused {
		reused = " (reused)"
	}
	total, speech := bs.vad.Stats()
	pct := 0.0
	if s.RawSizeKB > 0 {
		pct = (1 - s.CompressedSizeKB/s.RawSizeKB) * 100
	}
	return []string{
		fmt.Sprintf("segments:   %d | %.1fs speech audio", s.Segments, s.AudioLengthS),
		fmt.Sprintf("vad:        %d/%d frames speech", speech, total),
		fmt.Sprintf("audio:      %.1f KB → %.1f KB flac (%.0f%% smaller)", s.RawSizeKB, s.CompressedSizeKB, pct),
		fmt.Sprintf("encode:     %.0fms", s.EncodeTimeMs),
		fmt.Sprintf("ttfb:       %.0fms%s", s.TTFBMs, reused),
		fmt.Sprintf("total:      %.0fms", s.TotalTimeMs),
		fmt.Sprintf("session:    %dms", time.Since(bs.started).Milliseconds()),
	}
}
