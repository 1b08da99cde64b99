package bypass

import (
	"testing"

	"github.com/FranksOps/primp/internal/storage"
)

func TestDefaultSignatures(t *testing.T) {
	tests := []struct {
		name    string
		ex      *storage.Exchange
		wantSrc string
	}{
		{
			name:    "cloudflare server header",
			ex:      &storage.Exchange{StatusCode: 503, Headers: map[string][]string{"Server": {"cloudflare"}}},
			wantSrc: "Cloudflare",
		},
		{
			name:    "cloudflare turnstile body",
			ex:      &storage.Exchange{StatusCode: 403, Body: []byte(`<div class="cf-turnstile"></div>`)},
			wantSrc: "Cloudflare",
		},
		{
			name:    "cloudflare mitigated header",
			ex:      &storage.Exchange{StatusCode: 429, Headers: map[string][]string{"Cf-Mitigated": {"challenge"}}},
			wantSrc: "Cloudflare",
		},
		{
			name:    "akamai server header",
			ex:      &storage.Exchange{StatusCode: 403, Headers: map[string][]string{"Server": {"AkamaiGHost"}}},
			wantSrc: "Akamai",
		},
		{
			name:    "akamai block page",
			ex:      &storage.Exchange{StatusCode: 403, Body: []byte("Access Denied... Reference #123.456")},
			wantSrc: "Akamai",
		},
		{
			name:    "datadome non canonical header",
			ex:      &storage.Exchange{StatusCode: 403, Headers: map[string][]string{"X-DataDome": {"1"}}},
			wantSrc: "DataDome",
		},
		{
			name:    "datadome cookie",
			ex:      &storage.Exchange{StatusCode: 403, Headers: map[string][]string{"Set-Cookie": {"datadome=abc; Path=/"}}},
			wantSrc: "DataDome",
		},
		{
			name:    "datadome captcha body",
			ex:      &storage.Exchange{StatusCode: 403, Body: []byte("script src='https://geo.captcha-delivery.com/...'")},
			wantSrc: "DataDome",
		},
		{
			name:    "perimeterx header",
			ex:      &storage.Exchange{StatusCode: 403, Headers: map[string][]string{"X-Px-Captcha": {"required"}}},
			wantSrc: "PerimeterX",
		},
		{
			name:    "perimeterx body",
			ex:      &storage.Exchange{StatusCode: 403, Body: []byte("window._pxBlock = true;")},
			wantSrc: "PerimeterX",
		},
		{
			name:    "imperva cookie",
			ex:      &storage.Exchange{StatusCode: 403, Headers: map[string][]string{"Set-Cookie": {"incap_ses_123=xyz"}}},
			wantSrc: "Imperva",
		},
		{
			name:    "imperva incident page",
			ex:      &storage.Exchange{StatusCode: 403, Body: []byte("Request unsuccessful. Incapsula incident ID: 1")},
			wantSrc: "Imperva",
		},
		{
			name: "ok response with vendor markers",
			ex:   &storage.Exchange{StatusCode: 200, Headers: map[string][]string{"Server": {"cloudflare"}}, Body: []byte("cf-turnstile")},
		},
		{
			name: "plain forbidden",
			ex:   &storage.Exchange{StatusCode: 403, Body: []byte("Access Denied")},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			detected := Analyze(tt.ex, DefaultSignatures())
			if detected != (tt.wantSrc != "") {
				t.Fatalf("expected detected=%v, got %v", tt.wantSrc != "", detected)
			}
			if tt.ex.DetectionSrc != tt.wantSrc {
				t.Errorf("expected source %q, got %q", tt.wantSrc, tt.ex.DetectionSrc)
			}
		})
	}
}

func TestAnalyze_ClearsPreviousVerdict(t *testing.T) {
	ex := &storage.Exchange{
		StatusCode:   200,
		Body:         []byte("hello"),
		DetectedBot:  true,
		DetectionSrc: "Cloudflare",
	}
	if Analyze(ex, DefaultSignatures()) {
		t.Fatal("expected safe exchange to return false")
	}
	if ex.DetectedBot || ex.DetectionSrc != "" {
		t.Errorf("expected verdict to be cleared, got %v %q", ex.DetectedBot, ex.DetectionSrc)
	}
}

func TestAnalyze_Nil(t *testing.T) {
	if Analyze(nil, DefaultSignatures()) {
		t.Error("expected nil exchange to return false")
	}
}

func TestSignature_Custom(t *testing.T) {
	sig := Signature{Source: "Kasada", Statuses: []int{429}, Headers: []string{"X-Kpsdk-Ct"}}
	ex := &storage.Exchange{StatusCode: 429, Headers: map[string][]string{"X-Kpsdk-Ct": {"t"}}}
	if !Analyze(ex, []Signature{sig}) || ex.DetectionSrc != "Kasada" {
		t.Errorf("expected custom signature to match, got %q", ex.DetectionSrc)
	}
}
