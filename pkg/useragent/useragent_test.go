package useragent

import (
	"strings"
	"sync"
	"testing"
)

func TestFor(t *testing.T) {
	tests := []struct {
		name    string
		browser Browser
		major   int
		plat    Platform
		want    []string
	}{
		{"chrome windows", Chrome, 120, Windows, []string{"Windows NT 10.0", "Chrome/120.0.0.0"}},
		{"chrome android", Chrome, 124, Android, []string{"Android 10", "Mobile Safari/537.36"}},
		{"chrome ios", Chrome, 131, IOS, []string{"iPhone", "CriOS/131"}},
		{"edge", Edge, 127, MacOS, []string{"Mac OS X", "Edg/127.0.0.0"}},
		{"firefox linux", Firefox, 133, Linux, []string{"X11; Linux x86_64; rv:133.0", "Firefox/133.0"}},
		{"safari ios", Safari, 17, IOS, []string{"iPhone OS 17_0", "Version/17.0 Mobile"}},
		{"safari on windows renders macos", Safari, 16, Windows, []string{"Macintosh", "Version/16.0"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := For(tt.browser, tt.major, tt.plat)
			for _, w := range tt.want {
				if !strings.Contains(got, w) {
					t.Errorf("expected %q in %q", w, got)
				}
			}
		})
	}
}

func TestPool_Next(t *testing.T) {
	p := NewPool([]string{"A", "B", "C"})

	for i, want := range []string{"A", "B", "C", "A"} {
		if got := p.Next(); got != want {
			t.Errorf("call %d: expected %s, got %s", i, want, got)
		}
	}
}

func TestPool_Default(t *testing.T) {
	p := NewPool(nil)
	if len(p.All()) != len(DefaultPool) {
		t.Errorf("expected pool length %d, got %d", len(DefaultPool), len(p.All()))
	}
	if got := p.Next(); got != DefaultPool[0] {
		t.Errorf("expected %s, got %s", DefaultPool[0], got)
	}
}

func TestPool_Random(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		got := p.Random()
		if got != "A" && got != "B" {
			t.Fatalf("unexpected UA: %s", got)
		}
		seen[got] = true
	}
	if len(seen) != 2 {
		t.Errorf("expected both entries to be drawn, saw %v", seen)
	}
}

func TestPool_Concurrent(t *testing.T) {
	p := NewPool([]string{"A", "B"})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = p.Next()
			_ = p.Random()
		}()
	}
	wg.Wait()
}

func TestPool_CopiesInput(t *testing.T) {
	in := []string{"A"}
	p := NewPool(in)
	in[0] = "mutated"

	if got := p.Next(); got != "A" {
		t.Errorf("expected pool to keep its own copy, got %s", got)
	}
}
