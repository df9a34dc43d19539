package transcriber

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"audiobridge/log"
)

const (
	streamChunkMs      = 100
	streamFinalizeIdle = 200 * time.Millisecond
	streamFinalizeMax  = 1000 * time.Millisecond
)

type rawStreamSession interface {
	Send(pcm []byte) error
	CloseSend() error
	Recv() (streamUpdate, error)
	Close() error
}

type streamUpdate struct {
	Transcript   string
	IsFinal      bool
	SpeechFinal  bool
	FromFinalize bool
}

type streamSession struct {
	engine     string
	sampleRate int
	chunkBytes int

	ws        rawStreamSession
	committed []string
	audioCh   chan []byte
	updates   chan Update
	errs      chan error
	startedAt time.Time
	connected chan struct{} // closed when the socket is ready (or failed)

	sendDone      chan struct{}
	recvDone      chan struct{}
	finalized     chan struct{}
	finalizedOnce sync.Once

	feedBuf []byte
	feedMu  sync.Mutex

	mu      sync.Mutex
	err     error
	errOnce sync.Once
	closing bool
	stats   streamStats
}

type streamStats struct {
	ConnectDur   time.Duration
	SentChunks   int
	SentBytes    uint64
	RecvMessages int
	RecvFinal    int
	RecvInterim  int
	FinalizeWait time.Duration
	SessionDur   time.Duration
}

func (s streamStats) audioDuration(sampleRate int) float64 {
	return float64(s.SentBytes) / float64(sampleRate*2)
}

func newStreamSession(engine string, sampleRate int, dial func() (rawStreamSession, error)) *streamSession {
	ss := &streamSession{
		engine:     engine,
		sampleRate: sampleRate,
		chunkBytes: sampleRate * 2 * streamChunkMs / 1000,
		audioCh:    make(chan []byte, 128),
		updates:    make(chan Update, 64),
		errs:       make(chan error, 1),
		startedAt:  time.Now(),
		sendDone:   make(chan struct{}),
		recvDone:   make(chan struct{}),
		finalized:  make(chan struct{}),
		connected:  make(chan struct{}),
	}

	go func() {
		connectStart := time.Now()
		ws, err := dial()
		ss.mu.Lock()
		ss.stats.ConnectDur = time.Since(connectStart)
		ss.mu.Unlock()

		if err != nil {
			ss.setErr(err)
			close(ss.sendDone)
			close(ss.recvDone)
			close(ss.connected)
			return
		}

		ss.mu.Lock()
		ss.ws = ws
		ss.mu.Unlock()
		close(ss.connected)
		go ss.runSender()
		go ss.runReceiver()
	}()

	return ss
}

func (s *streamSession) Feed(samples []float32) {
	s.feedMu.Lock()
	defer s.feedMu.Unlock()

	s.mu.Lock()
	stopped := s.err != nil || s.closing
	s.mu.Unlock()
	if stopped {
		return
	}

	s.feedBuf = appendLinear16(s.feedBuf, samples)
	for len(s.feedBuf) >= s.chunkBytes {
		chunk := make([]byte, s.chunkBytes)
		copy(chunk, s.feedBuf[:s.chunkBytes])
		s.feedBuf = s.feedBuf[s.chunkBytes:]
		select {
		case s.audioCh <- chunk:
		case <-s.sendDone:
			return
		}
	}
}

func (s *streamSession) Updates() <-chan Update { return s.updates }
func (s *streamSession) Errors() <-chan error   { return s.errs }

func (s *streamSession) Close() (SessionStats, error) {
	<-s.connected

	s.mu.Lock()
	if s.err != nil && s.ws == nil {
		connErr := s.err
		s.closing = true
		s.mu.Unlock()
		s.feedMu.Lock()
		s.feedBuf = nil
		s.feedMu.Unlock()
		close(s.updates)
		close(s.errs)
		return SessionStats{}, connErr
	}
	s.mu.Unlock()

	// Flush remaining buffered PCM
	s.feedMu.Lock()
	if len(s.feedBuf) > 0 {
		tail := make([]byte, len(s.feedBuf))
		copy(tail, s.feedBuf)
		s.feedBuf = nil
		select {
		case s.audioCh <- tail:
		case <-s.sendDone:
		}
	}
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()
	close(s.audioCh)
	s.feedMu.Unlock()
	finalizeStart := time.Now()

	<-s.sendDone

	// Wait for server finalize acknowledgment, then brief quiet period
	select {
	case <-s.finalized:
		time.Sleep(streamFinalizeIdle)
	case <-s.recvDone:
	case <-time.After(streamFinalizeMax):
	}

	s.ws.Close()
	select {
	case <-s.recvDone:
		close(s.updates)
		close(s.errs)
	case <-time.After(2 * time.Second):
		log.Warn("stream receiver drain timeout")
		go func() {
			<-s.recvDone
			close(s.updates)
			close(s.errs)
		}()
	}

	s.mu.Lock()
	text := strings.Join(s.committed, " ")
	stats := s.stats
	stats.FinalizeWait = time.Since(finalizeStart)
	stats.SessionDur = time.Since(s.startedAt)
	sessionErr := s.err
	s.mu.Unlock()

	audioDuration := stats.audioDuration(s.sampleRate)
	st := SessionStats{
		Text:    text,
		Metrics: s.formatMetrics(stats),
		Stream: &StreamStats{
			ConnectMs:    float64(stats.ConnectDur.Milliseconds()),
			SentChunks:   stats.SentChunks,
			SentKB:       float64(stats.SentBytes) / 1024,
			RecvMessages: stats.RecvMessages,
			RecvFinal:    stats.RecvFinal,
			RecvInterim:  stats.RecvInterim,
			FinalizeMs:   float64(stats.FinalizeWait.Milliseconds()),
			TotalMs:      float64(stats.SessionDur.Milliseconds()),
			AudioS:       audioDuration,
		},
	}
	st.captureMemStats()
	log.StreamMetrics(s.engine, log.StreamMetricsData{
		ConnectMs:    st.Stream.ConnectMs,
		FinalizeMs:   st.Stream.FinalizeMs,
		TotalMs:      st.Stream.TotalMs,
		AudioS:       audioDuration,
		SentChunks:   stats.SentChunks,
		SentKB:       st.Stream.SentKB,
		RecvMessages: stats.RecvMessages,
		RecvFinal:    stats.RecvFinal,
		RecvInterim:  stats.RecvInterim,
	})
	return st, sessionErr
}

func (s *streamSession) runSender() {
	defer close(s.sendDone)
	for chunk := range s.audioCh {
		if err := s.ws.Send(chunk); err != nil {
			s.setErr(err)
			// keep draining so Feed and Close never block on a dead socket
			for range s.audioCh {
			}
			return
		}
		s.mu.Lock()
		s.stats.SentChunks++
		s.stats.SentBytes += uint64(len(chunk))
		s.mu.Unlock()
	}
	if err := s.ws.CloseSend(); err != nil {
		s.setErr(err)
	}
}

func (s *streamSession) runReceiver() {
	defer close(s.recvDone)
	for {
		update, err := s.ws.Recv()
		if err != nil {
			s.mu.Lock()
			closing := s.closing
			s.mu.Unlock()
			if closing {
				return
			}
			s.setErr(err)
			return
		}

		if update.FromFinalize {
			s.finalizedOnce.Do(func() { close(s.finalized) })
		}

		isFinal := update.IsFinal || update.FromFinalize

		s.mu.Lock()
		s.stats.RecvMessages++
		if isFinal {
			s.stats.RecvFinal++
		} else {
			s.stats.RecvInterim++
		}
		s.mu.Unlock()

		transcript := strings.TrimSpace(update.Transcript)
		if !isFinal {
			if transcript == "" {
				continue
			}
			select {
			case s.updates <- Update{Text: transcript}:
			default:
				// a newer interim will follow
			}
			continue
		}

		if transcript != "" {
			s.mu.Lock()
			s.committed = append(s.committed, transcript)
			s.mu.Unlock()
		}
		// Empty finals are forwarded too: they close an utterance that had
		// interim text which the server then discarded.
		s.updates <- Update{Text: transcript, IsFinal: true}
	}
}

func (s *streamSession) setErr(err error) {
	if err == nil {
		return
	}
	s.errOnce.Do(func() {
		s.mu.Lock()
		s.err = err
		ws := s.ws
		s.mu.Unlock()
		select {
		case s.errs <- fmt.Errorf("%s: %w", s.engine, err):
		default:
		}
		if ws != nil {
			ws.Close()
		}
	})
}

func (s *streamSession) formatMetrics(stats streamStats) []string {
	audioDuration := stats.audioDuration(s.sampleRate)

	return []string{
		fmt.Sprintf("audio:      %.1fs | %.1f KB PCM sent", audioDuration, float64(stats.SentBytes)/1024),
		fmt.Sprintf("stream:     %s | PCM16 %dHz mono | %dms chunks", s.engine, s.sampleRate, streamChunkMs),
		fmt.Sprintf("connect:    %dms", stats.ConnectDur.Milliseconds()),
		fmt.Sprintf("sent:       %d chunks | %.1f KB", stats.SentChunks, float64(stats.SentBytes)/1024),
		fmt.Sprintf("recv:       %d msgs (%d final, %d interim)", stats.RecvMessages, stats.RecvFinal, stats.RecvInterim),
		fmt.Sprintf("finalize:   %dms", stats.FinalizeWait.Milliseconds()),
		fmt.Sprintf("total:      %dms", stats.SessionDur.Milliseconds()),
	}
}
