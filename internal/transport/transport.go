// Package transport performs the network exchange for a resolved request:
// browser fingerprinting, cookie persistence, redirect policy, proxy
// selection and content decoding. It does not merge defaults; callers hand it
// fully resolved requests.
package transport

import (
	"bytes"
	"context"
	"crypto/x509"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/FranksOps/primp/internal/fingerprint"
	"github.com/FranksOps/primp/internal/metrics"
	"github.com/FranksOps/primp/pkg/proxy"
	"golang.org/x/net/publicsuffix"
)

// DefaultMaxRedirects caps redirect chains when none is configured.
const DefaultMaxRedirects = 20

// ErrNoProxy is returned when a proxy pool is configured but every proxy in
// it is cooling down.
var ErrNoProxy = errors.New("context: no healthy proxy available")

// Config is fixed for the lifetime of a Client.
type Config struct {
	Identity fingerprint.Identity

	CookieStore     bool
	Referer         bool
	FollowRedirects bool
	// MaxRedirects applies when FollowRedirects is set. 0 means DefaultMaxRedirects.
	MaxRedirects int

	InsecureSkipVerify bool
	// CACertFile is a PEM bundle replacing the system roots.
	CACertFile string
	HTTPSOnly  bool
	HTTP2Only  bool

	// Proxy routes every request through one proxy.
	Proxy *url.URL
	// ProxyPool, when set, takes precedence over Proxy and rotates per request.
	ProxyPool *proxy.Pool

	// RoundTripper overrides the fingerprinting transport, e.g. in tests.
	RoundTripper http.RoundTripper

	Logger *slog.Logger
}

// BasicAuth is a username with an optional password.
type BasicAuth struct {
	Username string
	Password string
}

// Request is a fully resolved outgoing request.
type Request struct {
	Method string
	URL    *url.URL
	Header http.Header
	// Query is appended to any query already present in URL.
	Query url.Values
	Body  []byte
	// ContentType is applied unless Header already carries one.
	ContentType string
	BasicAuth   *BasicAuth
	Bearer      string
	// Timeout bounds the exchange including the body read. 0 means none.
	Timeout time.Duration
}

// ResolvedURL is URL with Query merged in: the URL that goes on the wire.
func (r *Request) ResolvedURL() *url.URL {
	u := *r.URL
	if len(r.Query) > 0 {
		q := u.Query()
		for k, vs := range r.Query {
			for _, v := range vs {
				q.Add(k, v)
			}
		}
		u.RawQuery = q.Encode()
	}
	return &u
}

// Result is what the network handed back. Body has not been read; the
// caller must close it.
type Result struct {
	StatusCode int
	Proto      string
	// URL is the final URL after redirects.
	URL    string
	Header http.Header
	Body   io.ReadCloser
}

// Client sends requests for one session. It is safe for concurrent use.
type Client struct {
	http     *http.Client
	jar      http.CookieJar
	identity fingerprint.Identity
	proxy    *url.URL
	pool     *proxy.Pool
	https    bool
	logger   *slog.Logger
}

// Build validates cfg and assembles the underlying HTTP machinery.
func Build(cfg Config) (*Client, error) {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	rt := cfg.RoundTripper
	if rt == nil {
		var roots *x509.CertPool
		if cfg.CACertFile != "" {
			pem, err := os.ReadFile(cfg.CACertFile)
			if err != nil {
				return nil, fmt.Errorf("context: reading CA bundle: %w", err)
			}
			roots = x509.NewCertPool()
			if !roots.AppendCertsFromPEM(pem) {
				return nil, fmt.Errorf("context: no certificates found in %s", cfg.CACertFile)
			}
		}

		var err error
		rt, err = fingerprint.Transport(cfg.Identity, fingerprint.Options{
			InsecureSkipVerify: cfg.InsecureSkipVerify,
			RootCAs:            roots,
			HTTP2Only:          cfg.HTTP2Only,
		})
		if err != nil {
			return nil, err
		}
	}

	hc := &http.Client{Transport: rt}

	maxRedirects := cfg.MaxRedirects
	if maxRedirects <= 0 {
		maxRedirects = DefaultMaxRedirects
	}
	hc.CheckRedirect = func(req *http.Request, via []*http.Request) error {
		if !cfg.FollowRedirects {
			return http.ErrUseLastResponse
		}
		if len(via) >= maxRedirects {
			return fmt.Errorf("context: stopped after %d redirects", maxRedirects)
		}
		if cfg.HTTPSOnly && req.URL.Scheme != "https" {
			return fmt.Errorf("context: redirect to non-https url %s", req.URL.Redacted())
		}
		if !cfg.Referer {
			req.Header.Del("Referer")
		}
		return nil
	}

	c := &Client{
		http:     hc,
		identity: cfg.Identity,
		proxy:    cfg.Proxy,
		pool:     cfg.ProxyPool,
		https:    cfg.HTTPSOnly,
		logger:   logger,
	}

	if cfg.CookieStore {
		jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		hc.Jar = jar
		c.jar = jar
	}

	return c, nil
}

// InjectCookies stores literal name=value pairs in the jar for u. Pairs that
// do not parse as cookies are dropped. Without a cookie store this is a no-op.
func (c *Client) InjectCookies(u *url.URL, pairs []string) {
	if c.jar == nil || u == nil || len(pairs) == 0 {
		return
	}
	cookies := make([]*http.Cookie, 0, len(pairs))
	for _, pair := range pairs {
		parsed, err := http.ParseCookie(pair)
		if err != nil || len(parsed) != 1 {
			c.logger.Debug("dropping invalid cookie", "cookie", pair, "err", err)
			continue
		}
		cookies = append(cookies, parsed[0])
	}
	if len(cookies) > 0 {
		c.jar.SetCookies(u, cookies)
	}
}

// Cookies returns what the jar would send to u.
func (c *Client) Cookies(u *url.URL) []*http.Cookie {
	if c.jar == nil || u == nil {
		return nil
	}
	return c.jar.Cookies(u)
}

// Send performs one exchange. Transport failures are returned as-is with
// context; nothing is retried.
func (c *Client) Send(ctx context.Context, r *Request) (*Result, error) {
	if ctx == nil {
		return nil, errors.New("context: context cannot be nil")
	}
	if r == nil || r.URL == nil {
		return nil, errors.New("context: request has no url")
	}
	if c.https && r.URL.Scheme != "https" {
		return nil, fmt.Errorf("context: https-only client refused %s", r.URL.Redacted())
	}

	u := r.ResolvedURL()

	activeProxy := c.proxy
	if c.pool != nil {
		activeProxy = c.pool.Next()
		if activeProxy == nil {
			return nil, ErrNoProxy
		}
	}
	ctx = fingerprint.WithProxy(ctx, activeProxy)

	cancel := context.CancelFunc(func() {})
	if r.Timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, r.Timeout)
	}

	var body io.Reader
	if r.Body != nil {
		body = bytes.NewReader(r.Body)
	}
	req, err := http.NewRequestWithContext(ctx, r.Method, u.String(), body)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("context: %w", err)
	}

	for k, vs := range c.identity.Headers {
		req.Header[k] = append([]string(nil), vs...)
	}
	for k, vs := range r.Header {
		if strings.EqualFold(k, "Host") && len(vs) > 0 {
			req.Host = vs[len(vs)-1]
			continue
		}
		req.Header[http.CanonicalHeaderKey(k)] = append([]string(nil), vs...)
	}
	if r.ContentType != "" && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", r.ContentType)
	}
	switch {
	case r.BasicAuth != nil:
		req.SetBasicAuth(r.BasicAuth.Username, r.BasicAuth.Password)
	case r.Bearer != "":
		req.Header.Set("Authorization", "Bearer "+r.Bearer)
	}

	c.logger.Debug("sending request", "method", r.Method, "url", u.Redacted(), "proxy", activeProxy != nil)

	start := time.Now()
	resp, err := c.http.Do(req)
	if c.pool != nil {
		_ = c.pool.Report(activeProxy, err == nil)
	}
	if err != nil {
		cancel()
		if activeProxy != nil {
			metrics.ProxyFailures.WithLabelValues(activeProxy.Redacted()).Inc()
			c.logger.Warn("request through proxy failed", "proxy", activeProxy.Redacted(), "err", err)
		}
		metrics.RecordRequest(u.Hostname(), r.Method, 0, time.Since(start))
		return nil, fmt.Errorf("context: %w", err)
	}
	metrics.RecordRequest(u.Hostname(), r.Method, resp.StatusCode, time.Since(start))

	c.logger.Debug("received response", "status", resp.StatusCode, "proto", resp.Proto, "url", resp.Request.URL.Redacted())

	header := resp.Header.Clone()
	if header == nil {
		header = make(http.Header)
	}
	rc := decodeBody(resp.Body, header, r.Method, resp.StatusCode)

	return &Result{
		StatusCode: resp.StatusCode,
		Proto:      resp.Proto,
		URL:        resp.Request.URL.String(),
		Header:     header,
		Body:       &cancelOnClose{ReadCloser: rc, cancel: cancel},
	}, nil
}

// CloseIdleConnections releases pooled connections.
func (c *Client) CloseIdleConnections() {
	c.http.CloseIdleConnections()
}

// cancelOnClose keeps the request context (and its timeout) alive until the
// body is closed.
type cancelOnClose struct {
	io.ReadCloser
	cancel context.CancelFunc
}

func (b *cancelOnClose) Close() error {
	err := b.ReadCloser.Close()
	b.cancel()
	return err
}
