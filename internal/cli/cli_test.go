package cli

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"

	"github.com/FranksOps/primp/internal/storage"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetArgs(args)
	err := root.Execute()
	return out.String(), err
}

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/echo", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("X-Echo-Method", r.Method)
		http.SetCookie(w, &http.Cookie{Name: "seen", Value: "1"})
		_ = json.NewEncoder(w).Encode(map[string]string{
			"q":      r.URL.Query().Get("q"),
			"header": r.Header.Get("X-Test"),
			"form":   r.FormValue("name"),
		})
	})
	mux.HandleFunc("/blocked", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cf-Mitigated", "challenge")
		w.WriteHeader(http.StatusForbidden)
		_, _ = w.Write([]byte("<html>Just a moment...</html>"))
	})
	ts := httptest.NewServer(mux)
	t.Cleanup(ts.Close)
	return ts
}

func TestParsePairs(t *testing.T) {
	tests := []struct {
		name    string
		entries []string
		sep     string
		want    map[string]string
		wantErr bool
	}{
		{"empty", nil, "=", nil, false},
		{"params", []string{"a=1", "b = two "}, "=", map[string]string{"a": "1", "b": "two"}, false},
		{"header keeps colons in value", []string{"Referer: https://x.test/a"}, ":", map[string]string{"Referer": "https://x.test/a"}, false},
		{"empty value", []string{"flag="}, "=", map[string]string{"flag": ""}, false},
		{"missing separator", []string{"nope"}, "=", nil, true},
		{"missing key", []string{"=v"}, "=", nil, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := parsePairs(tt.entries, tt.sep)
			if tt.wantErr {
				require.Error(t, err)
				assert.Contains(t, err.Error(), "expected key"+tt.sep+"value")
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseFormat(t *testing.T) {
	for in, want := range map[string]format{"text": formatText, "JSON": formatJSON, "yml": formatYAML, " yaml ": formatYAML} {
		got, err := parseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got)
	}
	_, err := parseFormat("xml")
	assert.Error(t, err)
}

func TestRequestCommand_JSONOutput(t *testing.T) {
	ts := testServer(t)

	out, err := run(t, "request", "get", ts.URL+"/echo",
		"-p", "q=go", "-H", "X-Test: yes", "-o", "json", "--no-color")
	require.NoError(t, err)

	var got view
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, http.StatusOK, got.Status)
	assert.Equal(t, "GET", got.Method)
	assert.Equal(t, "go", got.Profile)
	assert.Equal(t, "GET", got.Headers["X-Echo-Method"])
	assert.Equal(t, "1", got.Cookies["seen"])
	assert.NotEmpty(t, got.ID)
	assert.False(t, got.DetectedBot)

	var body map[string]string
	require.NoError(t, json.Unmarshal([]byte(got.Body), &body))
	assert.Equal(t, "go", body["q"])
	assert.Equal(t, "yes", body["header"])
}

func TestRequestCommand_FormAndYAML(t *testing.T) {
	ts := testServer(t)

	out, err := run(t, "request", "POST", ts.URL+"/echo", "-d", "name=ada", "-o", "yaml")
	require.NoError(t, err)

	var got view
	require.NoError(t, yaml.Unmarshal([]byte(out), &got))
	assert.Equal(t, "POST", got.Headers["X-Echo-Method"])
	assert.Contains(t, got.Body, `"form":"ada"`)
}

func TestRequestCommand_TextOutput(t *testing.T) {
	ts := testServer(t)

	out, err := run(t, "request", "GET", ts.URL+"/blocked", "--no-color")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 403\n"), out)
	assert.Contains(t, out, "Cf-Mitigated: challenge")
	assert.Contains(t, out, "! challenge page from Cloudflare")
	assert.Contains(t, out, "Just a moment...")
}

func TestRequestCommand_Errors(t *testing.T) {
	ts := testServer(t)

	tests := []struct {
		name string
		args []string
		want string
	}{
		{"bad header", []string{"request", "GET", ts.URL, "-H", "nocolon"}, "expected key:value"},
		{"bad output", []string{"request", "GET", ts.URL, "-o", "xml"}, "unknown output format"},
		{"bad profile", []string{"request", "GET", ts.URL, "--impersonate", "netscape_4"}, "unknown profile"},
		{"bad method", []string{"request", "TRACE", ts.URL}, "method"},
		{"missing args", []string{"request", "GET"}, "accepts 2 arg"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := run(t, tt.args...)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestArchiveAndHistory(t *testing.T) {
	ts := testServer(t)
	db := filepath.Join(t.TempDir(), "exchanges.db")

	_, err := run(t, "request", "GET", ts.URL+"/echo", "--archive", db, "-o", "json")
	require.NoError(t, err)
	_, err = run(t, "request", "GET", ts.URL+"/blocked", "--archive", "sqlite://"+db, "-o", "json")
	require.NoError(t, err)

	out, err := run(t, "history", "--archive", db, "-o", "json")
	require.NoError(t, err)
	var all []view
	require.NoError(t, json.Unmarshal([]byte(out), &all))
	require.Len(t, all, 2)
	for _, v := range all {
		assert.Empty(t, v.Body, "bodies are omitted unless --body is set")
	}

	out, err = run(t, "history", "--archive", db, "--blocked", "--body", "-o", "json")
	require.NoError(t, err)
	var blocked []view
	require.NoError(t, json.Unmarshal([]byte(out), &blocked))
	require.Len(t, blocked, 1)
	assert.Equal(t, ts.URL+"/blocked", blocked[0].URL)
	assert.Equal(t, "Cloudflare", blocked[0].DetectionSrc)
	assert.Equal(t, http.StatusForbidden, blocked[0].Status)
	assert.Contains(t, blocked[0].Body, "Just a moment")

	out, err = run(t, "history", "--archive", db, "--no-color")
	require.NoError(t, err)
	assert.Equal(t, 2, strings.Count(out, "\n"))
	assert.Contains(t, out, "Cloudflare")
}

func TestArchive_FailedRequestIsRecorded(t *testing.T) {
	db := filepath.Join(t.TempDir(), "exchanges.db")

	_, err := run(t, "request", "GET", "http://127.0.0.1:1/unreachable", "--archive", db, "-t", "2s")
	require.Error(t, err)

	backend, err := openArchive(t.Context(), db)
	require.NoError(t, err)
	defer backend.Close()

	rows, err := backend.Query(t.Context(), storage.Filter{})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.NotEmpty(t, rows[0].Error)
	assert.Zero(t, rows[0].StatusCode)
}

func TestHistory_RequiresArchive(t *testing.T) {
	_, err := run(t, "history")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "--archive is required")
}

func TestProfilesCommand(t *testing.T) {
	out, err := run(t, "profiles")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	assert.Contains(t, lines, "chrome_131")
	assert.Contains(t, lines, "go")
	assert.IsNonDecreasing(t, lines)
}

func TestBatchCommand(t *testing.T) {
	ts := testServer(t)
	dir := t.TempDir()
	input := filepath.Join(dir, "urls.txt")
	list := "# comment\n" + ts.URL + "/blocked\n\n" + ts.URL + "/echo?q=file\n"
	require.NoError(t, os.WriteFile(input, []byte(list), 0o644))
	archive := filepath.Join(dir, "run.jsonl")

	out, err := run(t, "batch", ts.URL+"/echo", "--input", input, "--workers", "2",
		"--archive", archive, "-o", "json")
	require.NoError(t, err)

	var views []view
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 3)
	assert.Equal(t, ts.URL+"/echo", views[0].URL)
	assert.Equal(t, ts.URL+"/blocked", views[1].URL)
	assert.True(t, views[1].DetectedBot)
	assert.Equal(t, http.StatusOK, views[2].Status)

	out, err = run(t, "report", "--archive", archive, "--format", "json")
	require.NoError(t, err)
	var summary struct {
		TotalRequests   int            `json:"total_requests"`
		TotalDetections int            `json:"total_detections"`
		DetectionsBySrc map[string]int `json:"detections_by_source"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &summary))
	assert.Equal(t, 3, summary.TotalRequests)
	assert.Equal(t, 1, summary.TotalDetections)
	assert.Equal(t, 1, summary.DetectionsBySrc["Cloudflare"])
}

func TestBatchCommand_SessionTimeout(t *testing.T) {
	slow := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(300 * time.Millisecond):
		}
		_, _ = w.Write([]byte("late"))
	}))
	t.Cleanup(slow.Close)

	out, err := run(t, "batch", slow.URL, "--session-timeout", "50ms", "-o", "json")
	require.NoError(t, err)
	var views []view
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.NotEmpty(t, views[0].Error)

	out, err = run(t, "batch", slow.URL, "--session-timeout", "50ms", "--timeout", "5s", "-o", "json")
	require.NoError(t, err)
	views = nil
	require.NoError(t, json.Unmarshal([]byte(out), &views))
	require.Len(t, views, 1)
	assert.Empty(t, views[0].Error)
	assert.Equal(t, http.StatusOK, views[0].Status)
}

func TestBatchCommand_StdinAndSummary(t *testing.T) {
	ts := testServer(t)

	var out, errOut bytes.Buffer
	root := NewRootCmd()
	root.SetOut(&out)
	root.SetErr(&errOut)
	root.SetIn(strings.NewReader(ts.URL + "/echo\n"))
	root.SetArgs([]string{"batch", "--input", "-", "--summary", "--no-color"})
	require.NoError(t, root.Execute())

	assert.Equal(t, 1, strings.Count(out.String(), "\n"))
	assert.Contains(t, out.String(), ts.URL+"/echo")
	assert.Contains(t, errOut.String(), "primp archive summary")
	assert.Contains(t, errOut.String(), "Requests:      1")
}

func TestBatchCommand_NoURLs(t *testing.T) {
	_, err := run(t, "batch")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no URLs")
}

func TestReportCommand(t *testing.T) {
	ts := testServer(t)
	db := filepath.Join(t.TempDir(), "exchanges.csv")

	_, err := run(t, "request", "GET", ts.URL+"/blocked", "--archive", db)
	require.NoError(t, err)

	out, err := run(t, "report", "--archive", db)
	require.NoError(t, err)
	assert.Contains(t, out, "Cloudflare: 1")
	assert.Contains(t, out, "1 sent, 1 challenged (100.0%)")

	out, err = run(t, "report", "--archive", db, "--format", "html")
	require.NoError(t, err)
	assert.Contains(t, out, "<title>primp archive report</title>")

	_, err = run(t, "report", "--archive", db, "--format", "pdf")
	assert.ErrorContains(t, err, "unknown report format")
}
