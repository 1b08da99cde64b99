// Package bypass recognises bot-protection challenge and block pages in
// archived exchanges.
package bypass

import (
	"bytes"
	"net/http"
	"slices"
	"strings"

	"github.com/FranksOps/primp/internal/storage"
)

// Signature describes how one vendor's challenge or block page looks. A
// response matches when its status is listed and any one marker hits.
type Signature struct {
	Source   string
	Statuses []int
	// ServerTokens are matched case-insensitively against the Server header.
	ServerTokens []string
	// Headers match on presence.
	Headers []string
	// HeaderValues match when the named header contains the value.
	HeaderValues map[string]string
	// CookiePrefixes match Set-Cookie names.
	CookiePrefixes []string
	// BodyAny hits when the body contains any of the markers.
	BodyAny [][]byte
	// BodyAll hits when the body contains every marker.
	BodyAll [][]byte
}

// DefaultSignatures returns the built-in vendor signatures, most common first.
func DefaultSignatures() []Signature {
	return []Signature{
		{
			Source:       "Cloudflare",
			Statuses:     []int{http.StatusForbidden, http.StatusTooManyRequests, http.StatusServiceUnavailable},
			ServerTokens: []string{"cloudflare"},
			HeaderValues: map[string]string{"Cf-Mitigated": "challenge"},
			BodyAny: [][]byte{
				[]byte("cf-browser-verification"),
				[]byte("cloudflare-nginx"),
				[]byte("cf-turnstile"),
				[]byte("Attention Required! | Cloudflare"),
				[]byte("/cdn-cgi/challenge-platform/"),
			},
		},
		{
			Source:       "Akamai",
			Statuses:     []int{http.StatusForbidden},
			ServerTokens: []string{"akamai"},
			BodyAll:      [][]byte{[]byte("Reference #"), []byte("Access Denied")},
		},
		{
			Source:         "DataDome",
			Statuses:       []int{http.StatusForbidden},
			ServerTokens:   []string{"datadome"},
			Headers:        []string{"X-Datadome", "X-Datadome-Response"},
			CookiePrefixes: []string{"datadome"},
			BodyAny:        [][]byte{[]byte("geo.captcha-delivery.com"), []byte("datadome")},
		},
		{
			Source:   "PerimeterX",
			Statuses: []int{http.StatusForbidden},
			Headers:  []string{"X-Px-Captcha"},
			BodyAny: [][]byte{
				[]byte("client.perimeterx.net"),
				[]byte("px-captcha"),
				[]byte("_pxBlock"),
			},
		},
		{
			Source:         "Imperva",
			Statuses:       []int{http.StatusForbidden},
			Headers:        []string{"X-Iinfo"},
			HeaderValues:   map[string]string{"X-Cdn": "imperva"},
			CookiePrefixes: []string{"incap_ses_", "visid_incap_"},
			BodyAny:        [][]byte{[]byte("_Incapsula_Resource"), []byte("Incapsula incident ID")},
		},
	}
}

// Match reports whether ex looks like this signature's challenge page.
func (s Signature) Match(ex *storage.Exchange) bool {
	if ex == nil || !slices.Contains(s.Statuses, ex.StatusCode) {
		return false
	}
	h := http.Header(ex.Headers)

	server := strings.ToLower(headerValue(h, "Server"))
	for _, tok := range s.ServerTokens {
		if strings.Contains(server, tok) {
			return true
		}
	}
	for _, name := range s.Headers {
		if headerValue(h, name) != "" {
			return true
		}
	}
	for name, want := range s.HeaderValues {
		if strings.Contains(strings.ToLower(headerValue(h, name)), want) {
			return true
		}
	}
	if len(s.CookiePrefixes) > 0 {
		for _, c := range (&http.Response{Header: h}).Cookies() {
			for _, p := range s.CookiePrefixes {
				if strings.HasPrefix(c.Name, p) {
					return true
				}
			}
		}
	}
	for _, m := range s.BodyAny {
		if bytes.Contains(ex.Body, m) {
			return true
		}
	}
	if len(s.BodyAll) > 0 {
		for _, m := range s.BodyAll {
			if !bytes.Contains(ex.Body, m) {
				return false
			}
		}
		return true
	}
	return false
}

// Analyze checks ex against sigs in order and records the first match on ex.
func Analyze(ex *storage.Exchange, sigs []Signature) bool {
	if ex == nil {
		return false
	}
	for _, s := range sigs {
		if s.Match(ex) {
			ex.DetectedBot = true
			ex.DetectionSrc = s.Source
			return true
		}
	}
	ex.DetectedBot = false
	ex.DetectionSrc = ""
	return false
}

// headerValue looks a header up canonically first, then case-insensitively,
// since archived headers may not be canonicalised.
func headerValue(h http.Header, key string) string {
	if v := h.Get(key); v != "" {
		return v
	}
	for k, vals := range h {
		if strings.EqualFold(k, key) && len(vals) > 0 {
			return vals[0]
		}
	}
	return ""
}
