package fingerprint

import (
	"bufio"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"sync"
	"time"

	utls "github.com/refraction-networking/utls"
	"golang.org/x/net/http2"
	xproxy "golang.org/x/net/proxy"
)

// ErrHTTP2Required is returned when HTTP2Only is set and the server picked
// another protocol.
var ErrHTTP2Required = errors.New("context: server did not negotiate HTTP/2")

type contextKey string

const proxyKey contextKey = "proxy_url"

// WithProxy routes the request carrying ctx through u. A nil u means direct.
func WithProxy(ctx context.Context, u *url.URL) context.Context {
	return context.WithValue(ctx, proxyKey, u)
}

// ProxyFromContext returns the proxy attached by WithProxy, if any.
func ProxyFromContext(ctx context.Context) *url.URL {
	u, _ := ctx.Value(proxyKey).(*url.URL)
	return u
}

func proxyFromRequest(req *http.Request) (*url.URL, error) {
	return ProxyFromContext(req.Context()), nil
}

// Options configure the TLS side of a Transport.
type Options struct {
	// InsecureSkipVerify accepts any server certificate.
	InsecureSkipVerify bool
	// RootCAs replaces the system trust store when non-nil.
	RootCAs *x509.CertPool
	// HTTP2Only fails requests that cannot be carried over HTTP/2.
	HTTP2Only bool
	// DialTimeout bounds TCP connects. Default 30s.
	DialTimeout time.Duration
}

// CloseIdler is implemented by every RoundTripper Transport returns.
type CloseIdler interface {
	CloseIdleConnections()
}

// Transport returns an http.RoundTripper presenting id's TLS fingerprint.
// Proxies are taken per request from the context (see WithProxy). For
// ProfileGo it is a plain *http.Transport; otherwise HTTPS connections are
// dialed with uTLS and handed to HTTP/2 or HTTP/1.1 depending on ALPN.
// Response bodies are never transparently decompressed.
func Transport(id Identity, opts Options) (http.RoundTripper, error) {
	if opts.DialTimeout <= 0 {
		opts.DialTimeout = 30 * time.Second
	}
	dialer := &net.Dialer{Timeout: opts.DialTimeout, KeepAlive: 30 * time.Second}

	base := http.DefaultTransport.(*http.Transport).Clone()
	base.Proxy = proxyFromRequest
	base.DialContext = dialer.DialContext
	base.DisableCompression = true

	if id.Standard() {
		base.TLSClientConfig = &tls.Config{
			InsecureSkipVerify: opts.InsecureSkipVerify,
			RootCAs:            opts.RootCAs,
		}
		if opts.HTTP2Only {
			var protos http.Protocols
			protos.SetHTTP2(true)
			base.Protocols = &protos
		}
		return base, nil
	}

	if _, ok := registry[id.Profile]; !ok {
		return nil, fmt.Errorf("context: unknown profile %q", id.Profile)
	}

	rt := &roundTripper{
		hello:    id.Hello,
		insecure: opts.InsecureSkipVerify,
		roots:    opts.RootCAs,
		h2only:   opts.HTTP2Only,
		dialer:   dialer,
		plain:    base,
		h2:       &http2.Transport{DisableCompression: true},
		h2conns:  make(map[string]*http2.ClientConn),
		h1:       make(map[string]*http.Transport),
		pending:  make(map[string][]net.Conn),
	}
	return rt, nil
}

type roundTripper struct {
	hello    utls.ClientHelloID
	insecure bool
	roots    *x509.CertPool
	h2only   bool
	dialer   *net.Dialer

	// plain carries cleartext http:// requests.
	plain *http.Transport
	h2    *http2.Transport

	mu      sync.Mutex
	h2conns map[string]*http2.ClientConn
	h1      map[string]*http.Transport
	pending map[string][]net.Conn
}

func (rt *roundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	if req.URL.Scheme != "https" {
		if rt.h2only {
			return nil, ErrHTTP2Required
		}
		return rt.plain.RoundTrip(req)
	}

	proxyURL := ProxyFromContext(req.Context())
	addr := canonicalAddr(req.URL)
	key := addr
	if proxyURL != nil {
		key = proxyURL.String() + "|" + addr
	}

	rt.mu.Lock()
	if cc, ok := rt.h2conns[key]; ok {
		if cc.CanTakeNewRequest() {
			rt.mu.Unlock()
			return rt.roundTripH2(key, cc, req)
		}
		delete(rt.h2conns, key)
	}
	if t, ok := rt.h1[key]; ok {
		rt.mu.Unlock()
		return t.RoundTrip(req)
	}
	rt.mu.Unlock()

	conn, err := rt.dialTLS(req.Context(), proxyURL, addr)
	if err != nil {
		return nil, err
	}

	if conn.ConnectionState().NegotiatedProtocol == http2.NextProtoTLS {
		cc, err := rt.h2.NewClientConn(conn)
		if err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("context: %w", err)
		}
		rt.mu.Lock()
		if existing, ok := rt.h2conns[key]; ok && existing.CanTakeNewRequest() {
			// lost a race with another dial; keep the first conn
			rt.mu.Unlock()
			_ = cc.Close()
			return rt.roundTripH2(key, existing, req)
		}
		rt.h2conns[key] = cc
		rt.mu.Unlock()
		return rt.roundTripH2(key, cc, req)
	}

	if rt.h2only {
		_ = conn.Close()
		return nil, ErrHTTP2Required
	}

	rt.mu.Lock()
	t, ok := rt.h1[key]
	if !ok {
		t = rt.newH1Transport(key, proxyURL)
		rt.h1[key] = t
	}
	rt.pending[key] = append(rt.pending[key], conn)
	rt.mu.Unlock()
	return t.RoundTrip(req)
}

func (rt *roundTripper) roundTripH2(key string, cc *http2.ClientConn, req *http.Request) (*http.Response, error) {
	resp, err := cc.RoundTrip(req)
	if err != nil && !cc.CanTakeNewRequest() {
		rt.mu.Lock()
		if rt.h2conns[key] == cc {
			delete(rt.h2conns, key)
		}
		rt.mu.Unlock()
	}
	return resp, err
}

// newH1Transport serves HTTP/1.1 origins. Its first dial consumes the conn
// already opened while probing ALPN; later dials open fresh uTLS conns.
func (rt *roundTripper) newH1Transport(key string, proxyURL *url.URL) *http.Transport {
	t := rt.plain.Clone()
	t.Proxy = nil
	t.DialTLSContext = func(ctx context.Context, network, addr string) (net.Conn, error) {
		rt.mu.Lock()
		if conns := rt.pending[key]; len(conns) > 0 {
			c := conns[0]
			rt.pending[key] = conns[1:]
			rt.mu.Unlock()
			return c, nil
		}
		rt.mu.Unlock()
		return rt.dialTLS(ctx, proxyURL, addr)
	}
	return t
}

func (rt *roundTripper) dialTLS(ctx context.Context, proxyURL *url.URL, addr string) (*utls.UConn, error) {
	raw, err := dialVia(ctx, rt.dialer, proxyURL, addr)
	if err != nil {
		return nil, err
	}

	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		host = addr
	}

	uConn := utls.UClient(raw, &utls.Config{
		ServerName:         host,
		InsecureSkipVerify: rt.insecure,
		RootCAs:            rt.roots,
	}, rt.hello)
	if err := uConn.HandshakeContext(ctx); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("context: utls handshake failed: %w", err)
	}
	return uConn, nil
}

func (rt *roundTripper) CloseIdleConnections() {
	rt.mu.Lock()
	defer rt.mu.Unlock()

	for k, cc := range rt.h2conns {
		_ = cc.Close()
		delete(rt.h2conns, k)
	}
	for _, t := range rt.h1 {
		t.CloseIdleConnections()
	}
	for k, conns := range rt.pending {
		for _, c := range conns {
			_ = c.Close()
		}
		delete(rt.pending, k)
	}
	rt.plain.CloseIdleConnections()
}

// dialVia opens a TCP stream to addr, directly or through an http(s)/socks5
// proxy.
func dialVia(ctx context.Context, d *net.Dialer, p *url.URL, addr string) (net.Conn, error) {
	if p == nil {
		return d.DialContext(ctx, "tcp", addr)
	}

	switch p.Scheme {
	case "socks5", "socks5h":
		pd, err := xproxy.FromURL(p, d)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		if cd, ok := pd.(xproxy.ContextDialer); ok {
			return cd.DialContext(ctx, "tcp", addr)
		}
		return pd.Dial("tcp", addr)
	case "http", "https":
		return dialConnect(ctx, d, p, addr)
	default:
		return nil, fmt.Errorf("context: unsupported proxy scheme %q", p.Scheme)
	}
}

func dialConnect(ctx context.Context, d *net.Dialer, p *url.URL, addr string) (net.Conn, error) {
	proxyAddr := p.Host
	if p.Port() == "" {
		port := "80"
		if p.Scheme == "https" {
			port = "443"
		}
		proxyAddr = net.JoinHostPort(p.Hostname(), port)
	}

	conn, err := d.DialContext(ctx, "tcp", proxyAddr)
	if err != nil {
		return nil, err
	}
	if p.Scheme == "https" {
		tc := tls.Client(conn, &tls.Config{ServerName: p.Hostname()})
		if err := tc.HandshakeContext(ctx); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("context: proxy tls: %w", err)
		}
		conn = tc
	}

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
		defer conn.SetDeadline(time.Time{})
	}

	connectReq := &http.Request{
		Method: http.MethodConnect,
		URL:    &url.URL{Opaque: addr},
		Host:   addr,
		Header: make(http.Header),
	}
	if p.User != nil {
		pw, _ := p.User.Password()
		cred := base64.StdEncoding.EncodeToString([]byte(p.User.Username() + ":" + pw))
		connectReq.Header.Set("Proxy-Authorization", "Basic "+cred)
	}
	if err := connectReq.Write(conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("context: %w", err)
	}

	resp, err := http.ReadResponse(bufio.NewReader(conn), connectReq)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("context: %w", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		_ = conn.Close()
		return nil, fmt.Errorf("context: proxy CONNECT %s: %s", addr, resp.Status)
	}
	return conn, nil
}

func canonicalAddr(u *url.URL) string {
	port := u.Port()
	if port == "" {
		switch u.Scheme {
		case "https":
			port = "443"
		default:
			port = "80"
		}
	}
	return net.JoinHostPort(u.Hostname(), port)
}
