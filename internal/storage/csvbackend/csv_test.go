package csvbackend

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/FranksOps/primp/internal/storage"
)

func TestCSVBackend(t *testing.T) {
	filePath := filepath.Join(t.TempDir(), "primp.csv")

	b, err := New(filePath)
	if err != nil {
		t.Fatalf("Failed to create CSV backend: %v", err)
	}

	ctx := context.Background()
	now := time.Now().UTC()

	ex1 := &storage.Exchange{
		ID:         "csv1",
		URL:        "http://example.com/csv1",
		FinalURL:   "http://example.com/csv1/landing",
		Method:     "POST",
		Profile:    "safari_16",
		StatusCode: 200,
		Proto:      "HTTP/1.1",
		Headers:    map[string][]string{"X-Test": {"true"}},
		Body:       []byte("a,b\n\"quoted\""),
		Duration:   10 * time.Millisecond,
		CreatedAt:  now.Add(-2 * time.Hour),
	}
	ex2 := &storage.Exchange{
		ID:           "csv2",
		URL:          "http://example.com/csv2",
		Method:       "GET",
		Profile:      "chrome_131",
		StatusCode:   403,
		DetectedBot:  true,
		DetectionSrc: "Akamai",
		CreatedAt:    now.Add(-time.Hour),
		Error:        "",
	}
	for _, ex := range []*storage.Exchange{ex1, ex2} {
		if err := b.Save(ctx, ex); err != nil {
			t.Fatalf("Failed to save %s: %v", ex.ID, err)
		}
	}
	if err := b.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}

	raw, err := os.ReadFile(filePath)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.HasPrefix(string(raw), "id,url,final_url,method,profile,") {
		t.Errorf("missing header row: %q", raw[:40])
	}

	// Reopening must not write a second header.
	b, err = New(filePath)
	if err != nil {
		t.Fatalf("Failed to reopen: %v", err)
	}
	defer b.Close()

	all, err := b.Query(ctx, storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("Expected 2 results, got %d", len(all))
	}
	if all[0].ID != "csv2" {
		t.Errorf("Expected csv2 first, got %s", all[0].ID)
	}

	got := all[1]
	if !bytes.Equal(got.Body, ex1.Body) {
		t.Errorf("body mismatch: %q", got.Body)
	}
	if got.FinalURL != ex1.FinalURL || got.Profile != "safari_16" || got.Proto != "HTTP/1.1" || got.Method != "POST" {
		t.Errorf("unexpected exchange %+v", got)
	}
	if got.Headers["X-Test"][0] != "true" {
		t.Errorf("headers mismatch: %v", got.Headers)
	}
	if got.Duration != 10*time.Millisecond {
		t.Errorf("expected 10ms, got %v", got.Duration)
	}

	yes := true
	bots, err := b.Query(ctx, storage.Filter{DetectedBot: &yes})
	if err != nil {
		t.Fatalf("Failed to query bots: %v", err)
	}
	if len(bots) != 1 || bots[0].DetectionSrc != "Akamai" {
		t.Errorf("expected the Akamai exchange, got %v", bots)
	}

	since := now.Add(-90 * time.Minute)
	recent, err := b.Query(ctx, storage.Filter{Since: &since})
	if err != nil {
		t.Fatalf("Failed to query since: %v", err)
	}
	if len(recent) != 1 || recent[0].ID != "csv2" {
		t.Errorf("expected only csv2, got %v", recent)
	}
}

func TestCSVBackend_Empty(t *testing.T) {
	b, err := New(filepath.Join(t.TempDir(), "empty.csv"))
	if err != nil {
		t.Fatal(err)
	}
	defer b.Close()

	rows, err := b.Query(context.Background(), storage.Filter{})
	if err != nil {
		t.Fatalf("Failed to query: %v", err)
	}
	if len(rows) != 0 {
		t.Errorf("expected no rows, got %d", len(rows))
	}
}
