package useragent

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"sync/atomic"
)

// Browser is a browser family whose User-Agent layout is known.
type Browser string

const (
	Chrome  Browser = "chrome"
	Edge    Browser = "edge"
	Firefox Browser = "firefox"
	Safari  Browser = "safari"
)

// Platform is the operating system token embedded in a User-Agent.
type Platform string

const (
	Windows Platform = "windows"
	MacOS   Platform = "macos"
	Linux   Platform = "linux"
	Android Platform = "android"
	IOS     Platform = "ios"
)

var chromiumPlatforms = map[Platform]string{
	Windows: "Windows NT 10.0; Win64; x64",
	MacOS:   "Macintosh; Intel Mac OS X 10_15_7",
	Linux:   "X11; Linux x86_64",
	Android: "Linux; Android 10; K",
}

var firefoxPlatforms = map[Platform]string{
	Windows: "Windows NT 10.0; Win64; x64",
	MacOS:   "Macintosh; Intel Mac OS X 10.15",
	Linux:   "X11; Linux x86_64",
	Android: "Android 10; Mobile",
}

// For builds the User-Agent a given browser major version sends on a platform.
// Platforms a browser does not ship on fall back to the closest desktop one
// (Safari renders as macOS everywhere except iOS).
func For(b Browser, major int, p Platform) string {
	switch b {
	case Firefox:
		if p == IOS {
			return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) FxiOS/%d.0 Mobile/15E148 Safari/605.1.15", major)
		}
		token, ok := firefoxPlatforms[p]
		if !ok {
			token = firefoxPlatforms[Windows]
		}
		return fmt.Sprintf("Mozilla/5.0 (%s; rv:%d.0) Gecko/20100101 Firefox/%d.0", token, major, major)
	case Safari:
		if p == IOS {
			return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS %d_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Mobile/15E148 Safari/604.1", major, major)
		}
		return fmt.Sprintf("Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/%d.0 Safari/605.1.15", major)
	case Edge:
		return For(Chrome, major, p) + fmt.Sprintf(" Edg/%d.0.0.0", major)
	default:
		if p == IOS {
			return fmt.Sprintf("Mozilla/5.0 (iPhone; CPU iPhone OS 17_0 like Mac OS X) AppleWebKit/605.1.15 (KHTML, like Gecko) CriOS/%d.0.0.0 Mobile/15E148 Safari/604.1", major)
		}
		token, ok := chromiumPlatforms[p]
		if !ok {
			token = chromiumPlatforms[Windows]
		}
		mobile := ""
		if p == Android {
			mobile = "Mobile "
		}
		return fmt.Sprintf("Mozilla/5.0 (%s) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/%d.0.0.0 %sSafari/537.36", token, major, mobile)
	}
}

// DefaultPool is a set of current desktop User-Agents used when a profile asks
// for rotation without naming a browser.
var DefaultPool = []string{
	For(Chrome, 131, Windows),
	For(Chrome, 131, MacOS),
	For(Firefox, 133, Windows),
	For(Firefox, 133, MacOS),
	For(Safari, 17, MacOS),
	For(Edge, 131, Windows),
}

// Pool hands out User-Agents round-robin or at random.
type Pool struct {
	uas     []string
	counter atomic.Uint64
}

// NewPool copies uas into a new pool, or uses DefaultPool when uas is empty.
func NewPool(uas []string) *Pool {
	if len(uas) == 0 {
		uas = DefaultPool
	}
	return &Pool{uas: append([]string(nil), uas...)}
}

// Next returns the next User-Agent in round-robin order. Safe for concurrent use.
func (p *Pool) Next() string {
	if len(p.uas) == 0 {
		return ""
	}
	idx := p.counter.Add(1) - 1
	return p.uas[idx%uint64(len(p.uas))]
}

// Random returns a User-Agent chosen with crypto/rand, falling back to Next
// if the random source fails. Safe for concurrent use.
func (p *Pool) Random() string {
	if len(p.uas) == 0 {
		return ""
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(len(p.uas))))
	if err != nil {
		return p.Next()
	}
	return p.uas[n.Int64()]
}

// All returns a copy of the pool contents.
func (p *Pool) All() []string {
	return append([]string(nil), p.uas...)
}
