package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"slices"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"

	"github.com/FranksOps/primp/internal/storage"
)

type format string

const (
	formatText format = "text"
	formatJSON format = "json"
	formatYAML format = "yaml"
)

func parseFormat(s string) (format, error) {
	switch f := format(strings.ToLower(strings.TrimSpace(s))); f {
	case formatText, formatJSON, formatYAML:
		return f, nil
	case "yml":
		return formatYAML, nil
	}
	return "", fmt.Errorf("context: unknown output format %q", s)
}

// view is what gets printed for one exchange.
type view struct {
	ID           string            `json:"id" yaml:"id"`
	Method       string            `json:"method" yaml:"method"`
	URL          string            `json:"url" yaml:"url"`
	FinalURL     string            `json:"final_url,omitempty" yaml:"final_url,omitempty"`
	Profile      string            `json:"profile" yaml:"profile"`
	Status       int               `json:"status" yaml:"status"`
	Proto        string            `json:"proto,omitempty" yaml:"proto,omitempty"`
	DurationMs   int64             `json:"duration_ms" yaml:"duration_ms"`
	Headers      map[string]string `json:"headers,omitempty" yaml:"headers,omitempty"`
	Cookies      map[string]string `json:"cookies,omitempty" yaml:"cookies,omitempty"`
	DetectedBot  bool              `json:"detected_bot,omitempty" yaml:"detected_bot,omitempty"`
	DetectionSrc string            `json:"detection_src,omitempty" yaml:"detection_src,omitempty"`
	Error        string            `json:"error,omitempty" yaml:"error,omitempty"`
	Body         string            `json:"body,omitempty" yaml:"body,omitempty"`
}

func exchangeView(ex *storage.Exchange, cookies map[string]string, text string) view {
	headers := make(map[string]string, len(ex.Headers))
	for k, vs := range ex.Headers {
		if len(vs) > 0 {
			headers[k] = vs[len(vs)-1]
		}
	}
	if text == "" && len(ex.Body) > 0 {
		text = string(ex.Body)
	}
	return view{
		ID:           ex.ID,
		Method:       ex.Method,
		URL:          ex.URL,
		FinalURL:     ex.FinalURL,
		Profile:      ex.Profile,
		Status:       ex.StatusCode,
		Proto:        ex.Proto,
		DurationMs:   ex.Duration.Milliseconds(),
		Headers:      headers,
		Cookies:      cookies,
		DetectedBot:  ex.DetectedBot,
		DetectionSrc: ex.DetectionSrc,
		Error:        ex.Error,
		Body:         text,
	}
}

type scheme struct {
	status    *color.Color
	warn      *color.Color
	fail      *color.Color
	headerKey *color.Color
	dim       *color.Color
}

type printer struct {
	w      io.Writer
	colors scheme
}

func newPrinter(w io.Writer, noColor bool) *printer {
	s := scheme{
		status:    color.New(color.FgGreen, color.Bold),
		warn:      color.New(color.FgYellow, color.Bold),
		fail:      color.New(color.FgRed, color.Bold),
		headerKey: color.New(color.FgCyan),
		dim:       color.New(color.Faint),
	}
	if noColor || !isTerminal(w) {
		for _, c := range []*color.Color{s.status, s.warn, s.fail, s.headerKey, s.dim} {
			c.DisableColor()
		}
	} else {
		for _, c := range []*color.Color{s.status, s.warn, s.fail, s.headerKey, s.dim} {
			c.EnableColor()
		}
	}
	return &printer{w: w, colors: s}
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

func (p *printer) print(f format, v any) error {
	switch f {
	case formatJSON:
		enc := json.NewEncoder(p.w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case formatYAML:
		enc := yaml.NewEncoder(p.w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}

	switch x := v.(type) {
	case view:
		return p.text(x)
	case []view:
		for _, item := range x {
			if err := p.summary(item); err != nil {
				return err
			}
		}
		return nil
	}
	_, err := fmt.Fprintln(p.w, v)
	return err
}

func (p *printer) statusColor(code int) *color.Color {
	switch {
	case code >= 400 || code == 0:
		return p.colors.fail
	case code >= 300:
		return p.colors.warn
	}
	return p.colors.status
}

func (p *printer) text(v view) error {
	proto := v.Proto
	if proto == "" {
		proto = "HTTP"
	}
	fmt.Fprintf(p.w, "%s %s\n", proto, p.statusColor(v.Status).Sprint(v.Status))

	for _, k := range sortedKeys(v.Headers) {
		fmt.Fprintf(p.w, "%s: %s\n", p.colors.headerKey.Sprint(k), v.Headers[k])
	}
	if v.DetectedBot {
		fmt.Fprintf(p.w, "%s\n", p.colors.warn.Sprintf("! challenge page from %s", v.DetectionSrc))
	}
	fmt.Fprintln(p.w)
	_, err := io.WriteString(p.w, v.Body)
	if err == nil && v.Body != "" && !strings.HasSuffix(v.Body, "\n") {
		_, err = fmt.Fprintln(p.w)
	}
	return err
}

func (p *printer) summary(v view) error {
	status := p.statusColor(v.Status).Sprint(v.Status)
	if v.Error != "" {
		status = p.colors.fail.Sprint("ERR")
	}
	line := fmt.Sprintf("%s  %s %s %s  %s  %dms", p.colors.dim.Sprint(v.ID), status, v.Method, v.URL, v.Profile, v.DurationMs)
	if v.DetectedBot {
		line += "  " + p.colors.warn.Sprint(v.DetectionSrc)
	}
	_, err := fmt.Fprintln(p.w, line)
	return err
}

func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
