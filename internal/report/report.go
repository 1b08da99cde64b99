// Package report summarizes archived exchanges, mainly to compare how often
// each impersonation profile gets challenged.
package report

import (
	"encoding/json"
	"fmt"
	htmltemplate "html/template"
	"io"
	"slices"
	"text/template"
	"time"

	"github.com/FranksOps/primp/internal/storage"
)

// ProfileStats aggregates the exchanges sent with one profile.
type ProfileStats struct {
	Profile     string        `json:"profile"`
	Requests    int           `json:"requests"`
	Errors      int           `json:"errors"`
	Detections  int           `json:"detections"`
	BlockRate   float64       `json:"block_rate"`
	MeanLatency time.Duration `json:"mean_latency_ns"`

	totalLatency time.Duration
}

// Summary contains aggregated metrics over a set of exchanges.
type Summary struct {
	TotalRequests   int            `json:"total_requests"`
	TotalErrors     int            `json:"total_errors"`
	TotalDetections int            `json:"total_detections"`
	StatusCodes     map[int]int    `json:"status_codes"`
	DetectionsBySrc map[string]int `json:"detections_by_source"`
	Profiles        []ProfileStats `json:"profiles"`
	TotalBytes      int64          `json:"total_bytes"`
	StartTime       time.Time      `json:"start_time"`
	EndTime         time.Time      `json:"end_time"`
	Duration        time.Duration  `json:"duration_ns"`
}

// GenerateSummary folds exchanges into a Summary. Profiles are sorted by name.
func GenerateSummary(exchanges []*storage.Exchange) Summary {
	s := Summary{
		StatusCodes:     make(map[int]int),
		DetectionsBySrc: make(map[string]int),
	}
	if len(exchanges) == 0 {
		return s
	}

	s.StartTime = exchanges[0].CreatedAt
	s.EndTime = exchanges[0].CreatedAt
	byProfile := make(map[string]*ProfileStats)

	for _, ex := range exchanges {
		s.TotalRequests++
		if ex.Error != "" {
			s.TotalErrors++
		}
		if ex.DetectedBot {
			s.TotalDetections++
			s.DetectionsBySrc[ex.DetectionSrc]++
		}
		if ex.StatusCode > 0 {
			s.StatusCodes[ex.StatusCode]++
		}
		s.TotalBytes += int64(len(ex.Body))

		if ex.CreatedAt.Before(s.StartTime) {
			s.StartTime = ex.CreatedAt
		}
		if ex.CreatedAt.After(s.EndTime) {
			s.EndTime = ex.CreatedAt
		}

		ps, ok := byProfile[ex.Profile]
		if !ok {
			ps = &ProfileStats{Profile: ex.Profile}
			byProfile[ex.Profile] = ps
		}
		ps.Requests++
		ps.totalLatency += ex.Duration
		if ex.Error != "" {
			ps.Errors++
		}
		if ex.DetectedBot {
			ps.Detections++
		}
	}

	for _, ps := range byProfile {
		ps.BlockRate = float64(ps.Detections) / float64(ps.Requests)
		ps.MeanLatency = ps.totalLatency / time.Duration(ps.Requests)
		s.Profiles = append(s.Profiles, *ps)
	}
	slices.SortFunc(s.Profiles, func(a, b ProfileStats) int {
		switch {
		case a.Profile < b.Profile:
			return -1
		case a.Profile > b.Profile:
			return 1
		}
		return 0
	})

	s.Duration = s.EndTime.Sub(s.StartTime)
	return s
}

// WriteJSON writes the summary to the provided writer in JSON format.
func WriteJSON(w io.Writer, summary Summary) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

var funcs = map[string]any{
	"pct": func(f float64) string { return fmt.Sprintf("%.1f%%", f*100) },
	"ms":  func(d time.Duration) string { return d.Round(time.Millisecond).String() },
}

const textTmpl = `primp archive summary
---------------------
Time:          {{.StartTime.Format "2006-01-02 15:04:05"}} - {{.EndTime.Format "2006-01-02 15:04:05"}}
Duration:      {{.Duration}}
Requests:      {{.TotalRequests}}
Body Bytes:    {{.TotalBytes}}
Errors:        {{.TotalErrors}}

Status Codes:
{{- range $code, $count := .StatusCodes}}
  {{$code}}: {{$count}}
{{- else}}
  None
{{- end}}

Detections: {{.TotalDetections}}
{{- range $src, $count := .DetectionsBySrc}}
  {{$src}}: {{$count}}
{{- else}}
  None
{{- end}}

Profiles:
{{- range .Profiles}}
  {{printf "%-16s" .Profile}} {{.Requests}} sent, {{.Detections}} challenged ({{pct .BlockRate}}), mean {{ms .MeanLatency}}
{{- else}}
  None
{{- end}}
`

// WriteText writes a human-readable text summary to the provided writer.
func WriteText(w io.Writer, summary Summary) error {
	t, err := template.New("textReport").Funcs(funcs).Parse(textTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}

const htmlTmpl = `<!DOCTYPE html>
<html>
<head>
<title>primp archive report</title>
<style>
  body { font-family: sans-serif; margin: 40px; color: #333; }
  h1 { border-bottom: 2px solid #ccc; padding-bottom: 10px; }
  .stat-card { display: inline-block; padding: 20px; margin: 10px 10px 10px 0; background: #f4f4f4; border-radius: 5px; min-width: 150px; }
  .stat-val { font-size: 24px; font-weight: bold; }
  .bad { color: red; }
  .good { color: green; }
  table { border-collapse: collapse; margin-top: 10px; }
  th, td { padding: 8px 12px; border: 1px solid #ccc; text-align: left; }
  th { background: #eaeaea; }
</style>
</head>
<body>
  <h1>primp archive report</h1>
  <p><strong>Time:</strong> {{.StartTime.Format "2006-01-02 15:04:05"}} to {{.EndTime.Format "2006-01-02 15:04:05"}} ({{.Duration}})</p>

  <div class="stat-card">
    <div>Requests</div>
    <div class="stat-val">{{.TotalRequests}}</div>
  </div>
  <div class="stat-card">
    <div>Errors</div>
    <div class="stat-val">{{.TotalErrors}}</div>
  </div>
  <div class="stat-card">
    <div>Detections</div>
    <div class="stat-val {{if gt .TotalDetections 0}}bad{{else}}good{{end}}">{{.TotalDetections}}</div>
  </div>
  <div class="stat-card">
    <div>Body Bytes</div>
    <div class="stat-val">{{.TotalBytes}}</div>
  </div>

  <h3>Profiles</h3>
  <table>
    <tr><th>Profile</th><th>Requests</th><th>Errors</th><th>Challenged</th><th>Block rate</th><th>Mean latency</th></tr>
    {{- range .Profiles}}
    <tr><td>{{.Profile}}</td><td>{{.Requests}}</td><td>{{.Errors}}</td><td>{{.Detections}}</td><td>{{pct .BlockRate}}</td><td>{{ms .MeanLatency}}</td></tr>
    {{- else}}
    <tr><td colspan="6">None</td></tr>
    {{- end}}
  </table>

  <h3>Status Codes</h3>
  <table>
    <tr><th>Code</th><th>Count</th></tr>
    {{- range $code, $count := .StatusCodes}}
    <tr><td>{{$code}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>

  <h3>Detections By Source</h3>
  <table>
    <tr><th>Source</th><th>Count</th></tr>
    {{- range $src, $count := .DetectionsBySrc}}
    <tr><td>{{$src}}</td><td>{{$count}}</td></tr>
    {{- else}}
    <tr><td colspan="2">None</td></tr>
    {{- end}}
  </table>
</body>
</html>
`

// WriteHTML writes a standalone HTML report to the provided writer.
func WriteHTML(w io.Writer, summary Summary) error {
	t, err := htmltemplate.New("htmlReport").Funcs(funcs).Parse(htmlTmpl)
	if err != nil {
		return fmt.Errorf("context: %w", err)
	}
	if err := t.Execute(w, summary); err != nil {
		return fmt.Errorf("context: %w", err)
	}
	return nil
}
