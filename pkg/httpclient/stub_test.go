package httpclient

import (
	"bytes"
	"context"
	"errors"
	"net/http"
	"net/url"
	"sync"
	"sync/atomic"

	"github.com/FranksOps/primp/internal/transport"
)

// countingBody serves data once and records how it was consumed.
type countingBody struct {
	r      *bytes.Reader
	served atomic.Int64
	closes atomic.Int32
	failAt int
}

func newCountingBody(data []byte) *countingBody {
	return &countingBody{r: bytes.NewReader(data), failAt: -1}
}

var errMidStream = errors.New("connection reset mid-stream")

func (b *countingBody) Read(p []byte) (int, error) {
	if b.failAt >= 0 && int(b.served.Load()) >= b.failAt {
		return 0, errMidStream
	}
	if b.failAt >= 0 && len(p) > b.failAt-int(b.served.Load()) {
		p = p[:b.failAt-int(b.served.Load())]
	}
	n, err := b.r.Read(p)
	b.served.Add(int64(n))
	return n, err
}

func (b *countingBody) Close() error {
	b.closes.Add(1)
	return nil
}

// stubTransport records resolved requests and answers from respond.
type stubTransport struct {
	mu       sync.Mutex
	requests []*transport.Request
	cookies  map[string][]string
	respond  func(r *transport.Request) (*transport.Result, error)
}

func (s *stubTransport) Send(ctx context.Context, r *transport.Request) (*transport.Result, error) {
	s.mu.Lock()
	s.requests = append(s.requests, r)
	respond := s.respond
	s.mu.Unlock()
	if respond != nil {
		return respond(r)
	}
	return &transport.Result{
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		URL:        r.URL.String(),
		Header:     http.Header{},
		Body:       newCountingBody(nil),
	}, nil
}

func (s *stubTransport) InjectCookies(u *url.URL, pairs []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cookies == nil {
		s.cookies = make(map[string][]string)
	}
	s.cookies[u.String()] = append(s.cookies[u.String()], pairs...)
}

func (s *stubTransport) last() *transport.Request {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.requests) == 0 {
		return nil
	}
	return s.requests[len(s.requests)-1]
}

func (s *stubTransport) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

// resultWith builds a transport result around body with the given headers.
func resultWith(body *countingBody, header http.Header) *transport.Result {
	if header == nil {
		header = http.Header{}
	}
	return &transport.Result{
		StatusCode: http.StatusOK,
		Proto:      "HTTP/1.1",
		URL:        "https://example.com/final",
		Header:     header,
		Body:       body,
	}
}
