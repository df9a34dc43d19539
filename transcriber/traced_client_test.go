package transcriber

import (
	"bytes"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

func TestTracedClientConcurrentUploads(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		io.Copy(io.Discard, r.Body)
		w.Write([]byte(`{"text":"ok"}`))
	}))
	defer srv.Close()

	c := NewTracedClient("")
	payload := bytes.Repeat([]byte{1}, 256<<10)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			req, err := http.NewRequest("POST", srv.URL, bytes.NewReader(payload))
			if err != nil {
				t.Error(err)
				return
			}
			resp, err := c.Do(req)
			if err != nil {
				t.Error(err)
				return
			}
			if string(resp.Body) != `{"text":"ok"}` {
				t.Errorf("body = %q", resp.Body)
			}
			m := resp.Metrics
			if m.Total <= 0 || m.Total < m.TTFB {
				t.Errorf("metrics total %v ttfb %v", m.Total, m.TTFB)
			}
		}()
	}
	wg.Wait()
}
