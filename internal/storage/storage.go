package storage

import (
	"cmp"
	"context"
	"slices"
	"time"

	"github.com/google/uuid"
)

// Exchange is the archived record of one request and the response it got.
type Exchange struct {
	ID           string              `json:"id"`
	URL          string              `json:"url"`
	FinalURL     string              `json:"final_url,omitempty"`
	Method       string              `json:"method"`
	Profile      string              `json:"profile"`
	StatusCode   int                 `json:"status_code"`
	Proto        string              `json:"proto,omitempty"`
	Headers      map[string][]string `json:"headers,omitempty"`
	Body         []byte              `json:"body,omitempty"`
	Duration     time.Duration       `json:"duration_ns"`
	DetectedBot  bool                `json:"detected_bot"`
	DetectionSrc string              `json:"detection_src,omitempty"` // e.g. "Cloudflare", "Akamai", "PerimeterX", "DataDome"
	CreatedAt    time.Time           `json:"created_at"`
	Error        string              `json:"error,omitempty"` // non-empty if the exchange failed before a response arrived
}

// NewExchange returns a record with a fresh ID and creation time.
func NewExchange(method, url, profile string) *Exchange {
	return &Exchange{
		ID:        uuid.New().String(),
		URL:       url,
		Method:    method,
		Profile:   profile,
		CreatedAt: time.Now().UTC(),
	}
}

// Filter allows querying for specific exchanges.
type Filter struct {
	URL         string
	Profile     string
	DetectedBot *bool
	Since       *time.Time
	Limit       int
	Offset      int
}

// Matches reports whether ex passes every set field of f. Limit and Offset
// are ignored; see Page.
func (f Filter) Matches(ex *Exchange) bool {
	switch {
	case f.URL != "" && ex.URL != f.URL:
		return false
	case f.Profile != "" && ex.Profile != f.Profile:
		return false
	case f.DetectedBot != nil && ex.DetectedBot != *f.DetectedBot:
		return false
	case f.Since != nil && ex.CreatedAt.Before(*f.Since):
		return false
	}
	return true
}

// Page orders rows newest first and applies Offset and Limit, for backends
// that filter in memory.
func (f Filter) Page(rows []*Exchange) []*Exchange {
	slices.SortStableFunc(rows, func(a, b *Exchange) int {
		return cmp.Compare(b.CreatedAt.UnixNano(), a.CreatedAt.UnixNano())
	})
	if f.Offset > 0 {
		if f.Offset >= len(rows) {
			return []*Exchange{}
		}
		rows = rows[f.Offset:]
	}
	if f.Limit > 0 && f.Limit < len(rows) {
		rows = rows[:f.Limit]
	}
	return rows
}

// Backend defines the interface for archiving and querying exchanges.
type Backend interface {
	Save(ctx context.Context, ex *Exchange) error
	Query(ctx context.Context, filter Filter) ([]*Exchange, error)
	Close() error
}
