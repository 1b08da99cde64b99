package proxy

import (
	"bufio"
	"errors"
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"
	"time"
)

// EnvVar is consulted for a proxy URL when none is configured explicitly.
const EnvVar = "PRIMP_PROXY"

var schemes = map[string]bool{
	"http":    true,
	"https":   true,
	"socks5":  true,
	"socks5h": true,
}

// Parse validates a proxy URL. A missing scheme defaults to http.
func Parse(raw string) (*url.URL, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, errors.New("context: empty proxy url")
	}
	if !strings.Contains(raw, "://") {
		raw = "http://" + raw
	}
	u, err := url.Parse(raw)
	if err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	if !schemes[strings.ToLower(u.Scheme)] {
		return nil, fmt.Errorf("context: unsupported proxy scheme %q", u.Scheme)
	}
	if u.Host == "" {
		return nil, fmt.Errorf("context: proxy url %q has no host", raw)
	}
	return u, nil
}

// Resolve picks the proxy for a client: the explicit value if set, otherwise
// EnvVar, otherwise none (nil, nil).
func Resolve(explicit string) (*url.URL, error) {
	if explicit == "" {
		explicit = os.Getenv(EnvVar)
	}
	if explicit == "" {
		return nil, nil
	}
	return Parse(explicit)
}

type entry struct {
	url           *url.URL
	failures      int
	successes     int
	lastUsed      time.Time
	disabledUntil time.Time
}

// Pool rotates requests across proxies, benching any that fail repeatedly.
type Pool struct {
	mu          sync.Mutex
	entries     []*entry
	next        int
	maxFailures int
	cooldown    time.Duration
}

// Config tunes a Pool. Zero values get defaults.
type Config struct {
	// MaxFailures before a proxy is benched. Default 3.
	MaxFailures int
	// Cooldown is how long a benched proxy sits out. Default 5m.
	Cooldown time.Duration
}

func NewPool(cfg Config) *Pool {
	if cfg.MaxFailures <= 0 {
		cfg.MaxFailures = 3
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = 5 * time.Minute
	}
	return &Pool{
		maxFailures: cfg.MaxFailures,
		cooldown:    cfg.Cooldown,
	}
}

// LoadFile adds one proxy per line; blank lines and '#' comments are skipped.
func (p *Pool) LoadFile(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	defer f.Close()

	var lines []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		lines = append(lines, line)
	}
	if err := sc.Err(); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return p.Add(lines...)
}

// Add parses and appends proxies. Nothing is added if any entry is malformed.
func (p *Pool) Add(raws ...string) error {
	parsed := make([]*entry, 0, len(raws))
	for _, raw := range raws {
		u, err := Parse(raw)
		if err != nil {
			return err
		}
		parsed = append(parsed, &entry{url: u})
	}

	p.mu.Lock()
	p.entries = append(p.entries, parsed...)
	p.mu.Unlock()
	return nil
}

// Len reports how many proxies the pool holds, benched or not.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.entries)
}

// Next returns the next proxy that is not benched, or nil if there is none.
func (p *Pool) Next() *url.URL {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	for i := 0; i < len(p.entries); i++ {
		e := p.entries[p.next]
		p.next = (p.next + 1) % len(p.entries)

		if !e.disabledUntil.IsZero() {
			if now.Before(e.disabledUntil) {
				continue
			}
			e.disabledUntil = time.Time{}
			e.failures = 0
		}
		e.lastUsed = now
		return e.url
	}
	return nil
}

// Report records the outcome of a request made through u. A success forgives
// one earlier failure; reaching MaxFailures benches the proxy for Cooldown.
func (p *Pool) Report(u *url.URL, ok bool) error {
	if u == nil {
		return errors.New("context: proxy url cannot be nil")
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	target := u.String()
	for _, e := range p.entries {
		if e.url.String() != target {
			continue
		}
		if ok {
			e.successes++
			if e.failures > 0 {
				e.failures--
			}
			return nil
		}
		e.failures++
		if e.failures >= p.maxFailures {
			e.disabledUntil = time.Now().Add(p.cooldown)
		}
		return nil
	}
	return errors.New("context: proxy not found in pool")
}
