package transcriber

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

type recordedCall struct {
	format, lang string
	magic        string
}

func newTestBatch(t *testing.T, fn transcribeFunc) *batchSession {
	t.Helper()
	bs, err := newBatchSession(context.Background(), "test", SessionConfig{Language: "en-US", SampleRate: 16000}, fn)
	if err != nil {
		t.Fatal(err)
	}
	bs.vad.classify = energyClassifier
	return bs
}

func TestBatchSessionSegments(t *testing.T) {
	var mu sync.Mutex
	var calls []recordedCall
	texts := []string{" one ", "two"}
	fn := func(_ context.Context, audio []byte, format, lang string) (*Result, error) {
		mu.Lock()
		defer mu.Unlock()
		calls = append(calls, recordedCall{format: format, lang: lang, magic: string(audio[:4])})
		return &Result{Text: texts[len(calls)-1], Metrics: &NetworkMetrics{}}, nil
	}
	bs := newTestBatch(t, fn)
	got := collect(bs.Updates())

	bs.Feed(genSilence(300))
	bs.Feed(genTone(440, 1000))
	bs.Feed(genSilence(800)) // ends the first utterance
	bs.Feed(genTone(440, 500))

	stats, err := bs.Close()
	if err != nil {
		t.Fatal(err)
	}
	updates := <-got

	if len(updates) != 2 {
		t.Fatalf("updates = %+v, want two finals", updates)
	}
	for i, want := range []string{"one", "two"} {
		if updates[i].Text != want || !updates[i].IsFinal {
			t.Errorf("update %d = %+v", i, updates[i])
		}
	}
	mu.Lock()
	for _, c := range calls {
		if c.format != "flac" || c.lang != "en" || c.magic != "fLaC" {
			t.Errorf("call = %+v", c)
		}
	}
	mu.Unlock()
	if stats.Text != "one two" || stats.Batch.Segments != 2 {
		t.Errorf("stats = %q, %d segments", stats.Text, stats.Batch.Segments)
	}
}

func TestBatchSessionSilenceOnly(t *testing.T) {
	called := false
	bs := newTestBatch(t, func(context.Context, []byte, string, string) (*Result, error) {
		called = true
		return &Result{}, nil
	})
	got := collect(bs.Updates())
	bs.Feed(genSilence(2000))
	if _, err := bs.Close(); err != nil {
		t.Fatal(err)
	}
	if updates := <-got; len(updates) != 0 || called {
		t.Errorf("silence produced %+v (called=%v)", updates, called)
	}
}

func TestBatchSessionShortTailDropped(t *testing.T) {
	called := false
	bs := newTestBatch(t, func(context.Context, []byte, string, string) (*Result, error) {
		called = true
		return &Result{}, nil
	})
	go func() {
		for range bs.Updates() {
		}
	}()
	bs.Feed(genTone(440, 60))
	bs.Close()
	if called {
		t.Error("sub-minimum tail was uploaded")
	}
}

func TestBatchSessionError(t *testing.T) {
	boom := errors.New("rate limited")
	bs := newTestBatch(t, func(context.Context, []byte, string, string) (*Result, error) {
		return nil, boom
	})
	go func() {
		for range bs.Updates() {
		}
	}()
	bs.Feed(genTone(440, 500))
	bs.Feed(genSilence(800))

	if err := <-bs.Errors(); !errors.Is(err, boom) {
		t.Errorf("Errors() = %v", err)
	}
	if _, err := bs.Close(); !errors.Is(err, boom) {
		t.Errorf("Close() = %v", err)
	}
}

func TestGroqUpload(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer key" {
			http.Error(w, "unauthorized", http.StatusUnauthorized)
			return
		}
		if err := r.ParseMultipartForm(1 << 20); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		if r.FormValue("language") != "de" || r.FormValue("model") == "" {
			http.Error(w, "bad form", http.StatusBadRequest)
			return
		}
		f, _, err := r.FormFile("file")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		data, _ := io.ReadAll(f)
		if string(data[:4]) != "fLaC" {
			http.Error(w, "not flac", http.StatusBadRequest)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		io.WriteString(w, `{"text":" guten tag ","duration":0.5}`)
	}))
	defer srv.Close()

	g := NewGroq("key")
	g.apiURL = srv.URL
	g.client = NewTracedClient("")

	sess, err := g.NewSession(context.Background(), SessionConfig{Language: "de-DE", SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}
	sess.(*batchSession).vad.classify = energyClassifier
	got := collect(sess.Updates())

	sess.Feed(genTone(440, 500))
	stats, err := sess.Close()
	if err != nil {
		t.Fatal(err)
	}
	if updates := <-got; len(updates) != 1 || updates[0].Text != "guten tag" {
		t.Errorf("updates = %+v", updates)
	}
	if stats.Text != "guten tag" {
		t.Errorf("Text = %q", stats.Text)
	}
}

func TestOpenAIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, `{"error":"quota"}`, http.StatusTooManyRequests)
	}))
	defer srv.Close()

	o := NewOpenAI("key")
	o.apiURL = srv.URL
	o.client = NewTracedClient("")
	_, err := o.transcribe(context.Background(), []byte("fLaC"), "flac", "en")
	if err == nil {
		t.Fatal("expected error")
	}
}
