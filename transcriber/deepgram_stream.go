package transcriber

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"nhooyr.io/websocket"
)

const deepgramStreamURL = "wss://api.deepgram.com/v1/listen"

type Deepgram struct {
	apiKey   string
	endpoint string
	model    string
}

func NewDeepgram(apiKey string) *Deepgram {
	return &Deepgram{apiKey: apiKey, endpoint: deepgramStreamURL, model: "nova-3"}
}

func (d *Deepgram) Name() string                 { return "deepgram" }
func (d *Deepgram) SupportsOnDevice(string) bool { return false }

func (d *Deepgram) Usable() error {
	if d.apiKey == "" {
		return errors.New("missing DEEPGRAM_API_KEY")
	}
	return nil
}

func (d *Deepgram) NewSession(ctx context.Context, cfg SessionConfig) (Session, error) {
	if err := d.Usable(); err != nil {
		return nil, err
	}
	if cfg.SampleRate <= 0 {
		return nil, fmt.Errorf("deepgram: invalid sample rate %d", cfg.SampleRate)
	}
	scfg := streamSessionConfig{
		SampleRate: cfg.SampleRate,
		Channels:   1,
		Language:   cfg.Language,
		Model:      d.model,
	}
	return newStreamSession(d.Name(), cfg.SampleRate, func() (rawStreamSession, error) {
		return d.startStream(ctx, scfg)
	}), nil
}

type streamSessionConfig struct {
	SampleRate int
	Channels   int
	Language   string
	Model      string
}

type deepgramStreamResponse struct {
	Type         string `json:"type"`
	IsFinal      bool   `json:"is_final"`
	SpeechFinal  bool   `json:"speech_final"`
	FromFinalize bool   `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string `json:"transcript"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type deepgramStreamSession struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
}

func (d *Deepgram) streamURL(cfg streamSessionConfig) (string, error) {
	endpoint, err := url.Parse(d.endpoint)
	if err != nil {
		return "", err
	}

	q := endpoint.Query()
	model := cfg.Model
	if model == "" {
		model = "nova-3"
	}
	q.Set("model", model)
	q.Set("encoding", "linear16")
	q.Set("interim_results", "true")
	q.Set("punctuate", "true")
	if cfg.SampleRate > 0 {
		q.Set("sample_rate", fmt.Sprintf("%d", cfg.SampleRate))
	}
	if cfg.Channels > 0 {
		q.Set("channels", fmt.Sprintf("%d", cfg.Channels))
	}
	if cfg.Language != "" {
		q.Set("language", cfg.Language)
	}
	endpoint.RawQuery = q.Encode()
	return endpoint.String(), nil
}

func (d *Deepgram) startStream(ctx context.Context, cfg streamSessionConfig) (rawStreamSession, error) {
	u, err := d.streamURL(cfg)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Token "+d.apiKey)

	streamCtx, cancel := context.WithCancel(ctx)
	conn, _, err := websocket.Dial(streamCtx, u, &websocket.DialOptions{HTTPHeader: headers})
	if err != nil {
		cancel()
		return nil, err
	}

	return &deepgramStreamSession{conn: conn, ctx: streamCtx, cancel: cancel}, nil
}

func (s *deepgramStreamSession) Send(pcm []byte) error {
	return s.conn.Write(s.ctx, websocket.MessageBinary, pcm)
}

func (s *deepgramStreamSession) CloseSend() error {
	msg := []byte(`{"type":"Finalize"}`)
	return s.conn.Write(s.ctx, websocket.MessageText, msg)
}

func (s *deepgramStreamSession) Recv() (streamUpdate, error) {
	for {
		_, data, err := s.conn.Read(s.ctx)
		if err != nil {
			return streamUpdate{}, err
		}

		var resp deepgramStreamResponse
		if err := json.Unmarshal(data, &resp); err != nil {
			return streamUpdate{}, err
		}
		// Metadata, SpeechStarted and UtteranceEnd carry no transcript.
		if resp.Type != "" && resp.Type != "Results" {
			continue
		}

		transcript := ""
		if len(resp.Channel.Alternatives) > 0 {
			transcript = resp.Channel.Alternatives[0].Transcript
		}

		return streamUpdate{
			Transcript:   strings.TrimSpace(transcript),
			IsFinal:      resp.IsFinal,
			SpeechFinal:  resp.SpeechFinal,
			FromFinalize: resp.FromFinalize,
		}, nil
	}
}

func (s *deepgramStreamSession) Close() error {
	s.cancel()
	return s.conn.Close(websocket.StatusNormalClosure, "")
}
