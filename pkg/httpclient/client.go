// Package httpclient is a session-oriented HTTP client that impersonates
// browsers. A Client holds defaults (headers, auth, params, timeout, cookie
// jar, fingerprint) and Execute resolves each Request against them.
package httpclient

import (
	"context"
	"errors"
	"log/slog"
	"maps"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/FranksOps/primp/internal/fingerprint"
	"github.com/FranksOps/primp/internal/transport"
	"github.com/FranksOps/primp/pkg/ratelimit"
)

// Transport performs the network exchange for resolved requests.
type Transport interface {
	Send(ctx context.Context, r *transport.Request) (*transport.Result, error)
	InjectCookies(u *url.URL, pairs []string)
}

// Client is safe for concurrent use. Defaults are fixed at construction; the
// cookie jar is the only state that changes afterwards.
type Client struct {
	mu sync.Mutex

	headers    http.Header
	auth       *BasicAuth
	bearer     string
	params     map[string]string
	timeout    time.Duration
	profile    fingerprint.Profile
	transport  Transport
	limiter    *ratelimit.Limiter
	readFile   func(string) ([]byte, error)
	logger     *slog.Logger
	closeIdler interface{ CloseIdleConnections() }
}

// New validates cfg and builds a Client. It fails for an unknown profile or
// OS, a malformed proxy URL, or a transport that cannot be built.
func New(cfg Config) (*Client, error) {
	logger := cfg.logger()

	id, err := cfg.identity()
	if err != nil {
		return nil, newError(ErrConfig, "new client", err)
	}
	tc, err := cfg.transportConfig(id)
	if err != nil {
		return nil, newError(ErrConfig, "new client", err)
	}

	c := &Client{
		headers:  validHeaders(cfg.Headers, logger),
		bearer:   cfg.AuthBearer,
		params:   maps.Clone(cfg.Params),
		timeout:  cfg.Timeout,
		profile:  id.Profile,
		limiter:  ratelimit.NewLimiter(cfg.RequestsPerSecond, cfg.Jitter),
		readFile: cfg.readFile(),
		logger:   logger,
	}
	if cfg.Auth != nil {
		a := *cfg.Auth
		c.auth = &a
	}

	if cfg.Transport != nil {
		c.transport = cfg.Transport
	} else {
		t, err := transport.Build(tc)
		if err != nil {
			return nil, newError(ErrConfig, "new client", err)
		}
		c.transport = t
		c.closeIdler = t
	}

	logger.Debug("client ready", "profile", id.Profile, "os", id.OS, "proxy", tc.Proxy != nil || tc.ProxyPool != nil)
	return c, nil
}

// Profile reports the impersonation profile in use.
func (c *Client) Profile() string {
	return string(c.profile)
}

// snapshot is the session state one Execute call reads.
type snapshot struct {
	headers http.Header
	auth    *BasicAuth
	bearer  string
	params  map[string]string
	timeout time.Duration
}

func (c *Client) snapshot() snapshot {
	return snapshot{
		headers: c.headers.Clone(),
		auth:    c.auth,
		bearer:  c.bearer,
		params:  c.params,
		timeout: c.timeout,
	}
}

// Execute resolves r against the session defaults and sends it. The returned
// Response has not read its body yet.
func (c *Client) Execute(ctx context.Context, r Request) (*Response, error) {
	if ctx == nil {
		return nil, errorf(ErrRequestBuild, "execute", "context cannot be nil")
	}
	method, err := parseMethod(r.Method)
	if err != nil {
		return nil, newError(ErrRequestBuild, "execute", err)
	}
	u, err := parseURL(r.URL)
	if err != nil {
		return nil, newError(ErrRequestBuild, "execute", err)
	}

	b, err := resolveBody(ctx, &r, c.readFile)
	if err != nil {
		return nil, newError(ErrRequestBuild, "execute", err)
	}

	c.mu.Lock()
	snap := c.snapshot()
	if len(r.Cookies) > 0 {
		c.transport.InjectCookies(u, cookiePairs(r.Cookies))
	}
	c.mu.Unlock()

	tr := &transport.Request{
		Method:      method,
		URL:         u,
		Header:      mergeHeaders(snap.headers, validHeaders(r.Headers, c.logger)),
		Body:        b.data,
		ContentType: b.contentType,
		Timeout:     snap.timeout,
	}

	params := snap.params
	if r.Params != nil {
		params = r.Params
	}
	tr.Query = queryValues(params)

	switch {
	case r.Auth != nil:
		tr.BasicAuth = &transport.BasicAuth{Username: r.Auth.Username, Password: r.Auth.Password}
	case r.AuthBearer != "":
		tr.Bearer = r.AuthBearer
	case snap.auth != nil:
		tr.BasicAuth = &transport.BasicAuth{Username: snap.auth.Username, Password: snap.auth.Password}
	case snap.bearer != "":
		tr.Bearer = snap.bearer
	}

	if r.Timeout > 0 {
		tr.Timeout = r.Timeout
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, newError(ErrTransport, "execute", err)
	}

	res, err := c.transport.Send(ctx, tr)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			c.logger.Debug("request timed out", "method", method, "url", u.Redacted(), "timeout", tr.Timeout)
		}
		return nil, newError(ErrTransport, "execute", err)
	}

	return newResponse(res, tr.ResolvedURL(), c.logger), nil
}

// CloseIdleConnections releases pooled connections held by the built-in
// transport. It is a no-op for injected transports.
func (c *Client) CloseIdleConnections() {
	if c.closeIdler != nil {
		c.closeIdler.CloseIdleConnections()
	}
}
