package transcriber

import (
	"crypto/tls"
	"io"
	"net/http"
	"net/http/httptrace"
	"sync"
	"time"
)

// TracedClient is an HTTP client that records per-request timing phases and
// keeps one warm connection to its API host.
type TracedClient struct {
	client  *http.Client
	warmURL string
}

func NewTracedClient(warmURL string) *TracedClient {
	return &TracedClient{
		warmURL: warmURL,
		client: &http.Client{
			Timeout: 30 * time.Second,
			Transport: &http.Transport{
				MaxIdleConns:        4,
				MaxIdleConnsPerHost: 4,
				IdleConnTimeout:     90 * time.Second,
				ForceAttemptHTTP2:   true,
			},
		},
	}
}

type TracedResponse struct {
	Body       []byte
	StatusCode int
	Header     http.Header
	Metrics    *NetworkMetrics
}

func (c *TracedClient) Do(req *http.Request) (*TracedResponse, error) {
	// Trace hooks fire on the transport's read and write loops.
	var mu sync.Mutex
	metrics := &NetworkMetrics{}
	var getConnStart, dnsStart, tcpStart, tlsStart time.Time
	var gotConn, wroteHeaders, wroteRequest, firstByte time.Time
	locked := func(f func()) {
		mu.Lock()
		f()
		mu.Unlock()
	}

	trace := &httptrace.ClientTrace{
		GetConn: func(_ string) { locked(func() { getConnStart = time.Now() }) },
		GotConn: func(info httptrace.GotConnInfo) {
			locked(func() {
				gotConn = time.Now()
				metrics.ConnWait = gotConn.Sub(getConnStart)
				metrics.ConnReused = info.Reused
			})
		},
		DNSStart:          func(_ httptrace.DNSStartInfo) { locked(func() { dnsStart = time.Now() }) },
		DNSDone:           func(_ httptrace.DNSDoneInfo) { locked(func() { metrics.DNS = time.Since(dnsStart) }) },
		ConnectStart:      func(_, _ string) { locked(func() { tcpStart = time.Now() }) },
		ConnectDone:       func(_, _ string, _ error) { locked(func() { metrics.TCP = time.Since(tcpStart) }) },
		TLSHandshakeStart: func() { locked(func() { tlsStart = time.Now() }) },
		TLSHandshakeDone: func(cs tls.ConnectionState, _ error) {
			locked(func() {
				metrics.TLS = time.Since(tlsStart)
				metrics.TLSProtocol = cs.NegotiatedProtocol
			})
		},
		WroteHeaders: func() {
			locked(func() {
				wroteHeaders = time.Now()
				metrics.ReqHeaders = wroteHeaders.Sub(gotConn)
			})
		},
		WroteRequest: func(_ httptrace.WroteRequestInfo) {
			locked(func() {
				wroteRequest = time.Now()
				metrics.ReqBody = wroteRequest.Sub(wroteHeaders)
			})
		},
		GotFirstResponseByte: func() {
			locked(func() {
				firstByte = time.Now()
				metrics.TTFB = firstByte.Sub(wroteRequest)
			})
		},
	}

	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	reqStart := time.Now()

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	mu.Lock()
	out := *metrics
	out.Download = time.Since(firstByte)
	mu.Unlock()
	out.Total = time.Since(reqStart)

	return &TracedResponse{
		Body:       body,
		StatusCode: resp.StatusCode,
		Header:     resp.Header,
		Metrics:    &out,
	}, nil
}

// Warm opens a connection to the API host ahead of the first upload.
func (c *TracedClient) Warm() time.Duration {
	if c.warmURL == "" {
		return 0
	}
	return c.WarmConnection(c.warmURL)
}

func (c *TracedClient) WarmConnection(url string) time.Duration {
	var tlsStart time.Time
	var tlsDuration time.Duration

	trace := &httptrace.ClientTrace{
		TLSHandshakeStart: func() { tlsStart = time.Now() },
		TLSHandshakeDone:  func(_ tls.ConnectionState, _ error) { tlsDuration = time.Since(tlsStart) },
	}

	req, err := http.NewRequest("HEAD", url, nil)
	if err != nil {
		return 0
	}
	req = req.WithContext(httptrace.WithClientTrace(req.Context(), trace))
	resp, err := c.client.Do(req)
	if err != nil {
		return 0
	}
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	return tlsDuration
}
