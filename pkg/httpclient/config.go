package httpclient

import (
	"log/slog"
	"os"
	"time"

	"github.com/FranksOps/primp/internal/fingerprint"
	"github.com/FranksOps/primp/internal/transport"
	"github.com/FranksOps/primp/pkg/proxy"
	"github.com/FranksOps/primp/pkg/useragent"
)

// DefaultMaxRedirects caps redirect chains when MaxRedirects is unset.
const DefaultMaxRedirects = transport.DefaultMaxRedirects

// BasicAuth is a username with an optional password. An empty password is
// sent as "user:".
type BasicAuth struct {
	Username string
	Password string
}

// Config defines the setup for a Client. Every field is optional.
type Config struct {
	// Headers are sent with every request. Invalid entries are dropped.
	Headers map[string]string
	// Auth and AuthBearer are session defaults; Auth wins if both are set.
	Auth       *BasicAuth
	AuthBearer string
	// Params are used only by requests that carry none of their own.
	Params map[string]string
	// Timeout bounds each exchange including the body read. 0 means none.
	Timeout time.Duration

	// CookieStore persists cookies across requests. Default true.
	CookieStore *bool
	// Referer sets the Referer header when following redirects. Default true.
	Referer *bool
	// FollowRedirects defaults to true with at most MaxRedirects hops.
	FollowRedirects *bool
	MaxRedirects    int

	// Verify enables TLS certificate verification. Default true.
	Verify *bool
	// CACertFile replaces the system roots with a PEM bundle.
	CACertFile string
	HTTPSOnly  bool
	HTTP2Only  bool

	// Proxy is used for every request. When empty, the PRIMP_PROXY
	// environment variable is consulted.
	Proxy string
	// ProxyPool rotates proxies per request and takes precedence over Proxy.
	ProxyPool *proxy.Pool

	// Impersonate names a browser profile, e.g. "chrome_131". Empty means
	// the plain Go TLS stack.
	Impersonate   string
	ImpersonateOS string
	// UserAgents feeds the "random" profile.
	UserAgents *useragent.Pool

	// RequestsPerSecond paces Execute calls across the session. 0 disables.
	RequestsPerSecond float64
	// Jitter stretches each pacing interval by up to this fraction.
	Jitter float64

	Logger *slog.Logger

	// Transport replaces the network layer, e.g. with a stub in tests.
	Transport Transport
	// ReadFile loads attachments. Defaults to os.ReadFile.
	ReadFile func(path string) ([]byte, error)
}

// Bool returns a pointer to v, for the Config fields that default to true.
func Bool(v bool) *bool {
	return &v
}

func boolOr(p *bool, def bool) bool {
	if p == nil {
		return def
	}
	return *p
}

func (cfg Config) logger() *slog.Logger {
	if cfg.Logger == nil {
		return slog.Default()
	}
	return cfg.Logger
}

func (cfg Config) readFile() func(string) ([]byte, error) {
	if cfg.ReadFile == nil {
		return os.ReadFile
	}
	return cfg.ReadFile
}

// identity parses the profile and OS names against the closed registries.
func (cfg Config) identity() (fingerprint.Identity, error) {
	p := fingerprint.ProfileGo
	if cfg.Impersonate != "" {
		var err error
		if p, err = fingerprint.ParseProfile(cfg.Impersonate); err != nil {
			return fingerprint.Identity{}, err
		}
	}
	o, err := fingerprint.ParseOS(cfg.ImpersonateOS)
	if err != nil {
		return fingerprint.Identity{}, err
	}
	return fingerprint.Resolve(p, o, cfg.UserAgents)
}

// transportConfig resolves the network policy with its documented defaults.
func (cfg Config) transportConfig(id fingerprint.Identity) (transport.Config, error) {
	tc := transport.Config{
		Identity:           id,
		CookieStore:        boolOr(cfg.CookieStore, true),
		Referer:            boolOr(cfg.Referer, true),
		FollowRedirects:    boolOr(cfg.FollowRedirects, true),
		MaxRedirects:       cfg.MaxRedirects,
		InsecureSkipVerify: !boolOr(cfg.Verify, true),
		CACertFile:         cfg.CACertFile,
		HTTPSOnly:          cfg.HTTPSOnly,
		HTTP2Only:          cfg.HTTP2Only,
		ProxyPool:          cfg.ProxyPool,
		Logger:             cfg.logger(),
	}
	if cfg.ProxyPool == nil {
		u, err := proxy.Resolve(cfg.Proxy)
		if err != nil {
			return transport.Config{}, err
		}
		tc.Proxy = u
	}
	return tc, nil
}
