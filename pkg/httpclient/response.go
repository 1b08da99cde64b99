package httpclient

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"maps"
	"mime"
	"net/url"
	"strings"
	"sync"

	"github.com/PuerkitoBio/goquery"
	"github.com/tidwall/gjson"
	"golang.org/x/text/encoding/htmlindex"

	"github.com/FranksOps/primp/internal/metrics"
	"github.com/FranksOps/primp/internal/transport"
)

const defaultCharset = "utf-8"

var errBodyClosed = errors.New("body closed before it was read")

type bodyState int

const (
	bodyUnread bodyState = iota
	bodyCached
	bodyFailed
)

// Response is the result of one Execute call. Headers and cookies are parsed
// up front; the body is read from the network at most once, on the first
// call to a body accessor, and every view is derived from that one buffer.
type Response struct {
	StatusCode int
	// URL is the final URL after redirects, query included. When the
	// transport reports none it is the URL that was sent.
	URL   string
	Proto string

	headers map[string]string
	cookies map[string]string
	host    string
	logger  *slog.Logger

	mu     sync.Mutex
	state  bodyState
	stream io.ReadCloser
	cache  []byte
	err    error

	encOnce  sync.Once
	encoding string
}

func newResponse(res *transport.Result, u *url.URL, logger *slog.Logger) *Response {
	r := &Response{
		StatusCode: res.StatusCode,
		URL:        res.URL,
		Proto:      res.Proto,
		headers:    make(map[string]string, len(res.Header)),
		cookies:    make(map[string]string),
		host:       u.Hostname(),
		logger:     logger,
		stream:     res.Body,
	}
	if r.URL == "" {
		r.URL = u.String()
	}
	if r.stream == nil {
		r.stream = io.NopCloser(bytes.NewReader(nil))
	}

	for k, vs := range res.Header {
		if len(vs) > 0 {
			r.headers[strings.ToLower(k)] = vs[len(vs)-1]
		}
	}
	for _, sc := range res.Header.Values("Set-Cookie") {
		name, rest, ok := strings.Cut(sc, "=")
		if !ok {
			continue
		}
		value, _, _ := strings.Cut(rest, ";")
		r.cookies[strings.TrimSpace(name)] = strings.TrimSpace(value)
	}
	return r
}

// Headers returns a copy of the response headers keyed by lower-case name.
// Repeated headers keep their last value.
func (r *Response) Headers() map[string]string {
	return maps.Clone(r.headers)
}

// Cookies returns a copy of the name=value pairs set by this response.
func (r *Response) Cookies() map[string]string {
	return maps.Clone(r.cookies)
}

// content drains the stream on first use and returns the shared cache.
// Callers must not modify the returned slice.
func (r *Response) content() ([]byte, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	switch r.state {
	case bodyCached:
		return r.cache, nil
	case bodyFailed:
		return nil, newError(ErrBodyConsumed, "read body", r.err)
	}

	stream := r.stream
	r.stream = nil
	data, err := io.ReadAll(stream)
	if cerr := stream.Close(); err == nil && cerr != nil {
		r.logger.Debug("closing response body", "err", cerr)
	}
	if err != nil {
		r.state = bodyFailed
		r.err = err
		return nil, newError(ErrBodyConsumed, "read body", err)
	}

	r.state = bodyCached
	r.cache = data
	metrics.RecordBody(r.host, len(data))
	r.logger.Debug("response body read", "url", r.URL, "bytes", len(data))
	return data, nil
}

// Bytes returns the body. The first call reads it from the network.
func (r *Response) Bytes() ([]byte, error) {
	b, err := r.content()
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

// Encoding returns the charset named by the Content-Type header, or utf-8.
func (r *Response) Encoding() string {
	r.encOnce.Do(func() {
		r.encoding = charsetOf(r.headers["content-type"])
	})
	return r.encoding
}

// Text decodes the body using Encoding. Undecodable bytes become U+FFFD.
func (r *Response) Text() (string, error) {
	b, err := r.content()
	if err != nil {
		return "", err
	}
	return decodeText(b, r.Encoding()), nil
}

// JSON parses the body into a generic value.
func (r *Response) JSON() (any, error) {
	var v any
	if err := r.DecodeJSON(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// DecodeJSON parses the body into v.
func (r *Response) DecodeJSON(v any) error {
	b, err := r.content()
	if err != nil {
		return err
	}
	if err := json.Unmarshal(b, v); err != nil {
		return newError(ErrDecode, "decode json", err)
	}
	return nil
}

// Get looks up a gjson path in a JSON body.
func (r *Response) Get(path string) (gjson.Result, error) {
	b, err := r.content()
	if err != nil {
		return gjson.Result{}, err
	}
	if !gjson.ValidBytes(b) {
		return gjson.Result{}, errorf(ErrDecode, "get", "body is not valid json")
	}
	return gjson.GetBytes(b, path), nil
}

// HTML parses the decoded text as an HTML document.
func (r *Response) HTML() (*goquery.Document, error) {
	text, err := r.Text()
	if err != nil {
		return nil, err
	}
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(text))
	if err != nil {
		return nil, newError(ErrDecode, "parse html", err)
	}
	return doc, nil
}

// Close releases the body without reading it. Later body accessors fail with
// ErrBodyConsumed. Closing after the body was read is a no-op.
func (r *Response) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.state != bodyUnread {
		return nil
	}
	r.state = bodyFailed
	r.err = errBodyClosed
	stream := r.stream
	r.stream = nil
	return stream.Close()
}

func charsetOf(contentType string) string {
	if contentType == "" {
		return defaultCharset
	}
	_, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return defaultCharset
	}
	cs := strings.ToLower(strings.Trim(strings.TrimSpace(params["charset"]), `"'`))
	if cs == "" {
		return defaultCharset
	}
	return cs
}

// decodeText converts b from the named charset to UTF-8. Unknown charsets
// are treated as utf-8.
func decodeText(b []byte, charset string) string {
	enc, err := htmlindex.Get(charset)
	if err != nil {
		enc, _ = htmlindex.Get(defaultCharset)
	}
	out, err := enc.NewDecoder().Bytes(b)
	if err != nil {
		return string(bytes.ToValidUTF8(b, []byte("\uFFFD")))
	}
	return string(out)
}
