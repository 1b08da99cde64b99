package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/primp/internal/metrics"
	"github.com/FranksOps/primp/internal/pipeline"
	"github.com/FranksOps/primp/pkg/httpclient"
)

func newRequestCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "request METHOD URL",
		Short: "Send one request and print the response",
		Example: `  primp request GET https://example.com --impersonate chrome_131
  primp request POST https://httpbin.org/post --json '{"a":1}' -o json
  primp request GET https://example.com -H 'Accept: text/html' -p q=go --archive exchanges.db`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			return runRequest(cmd, v, args[0], args[1])
		},
	}

	f := cmd.Flags()
	f.StringArrayP("header", "H", nil, `request header "Name: value" (repeatable)`)
	f.StringArrayP("param", "p", nil, "query parameter name=value (repeatable)")
	f.StringArrayP("cookie", "b", nil, "cookie name=value stored before sending (repeatable)")
	f.StringArrayP("data", "d", nil, "form field name=value (repeatable)")
	f.String("json", "", "JSON body")
	f.String("content", "", "raw body")
	f.String("content-file", "", "read the raw body from a file")
	f.StringArrayP("file", "F", nil, "multipart attachment field=path (repeatable)")
	f.StringP("user", "u", "", "basic auth user[:password]")
	f.String("bearer", "", "bearer token")
	f.DurationP("timeout", "t", 30*time.Second, "timeout including the body read (0 falls back to --session-timeout)")

	addSessionFlags(f)

	f.StringP("output", "o", "text", "output format: text, json or yaml")
	f.String("archive", "", "archive the exchange to a sqlite path or postgres DSN")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port while running")
	return cmd
}

func runRequest(cmd *cobra.Command, v *viper.Viper, method, target string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), v.GetBool("verbose"))

	format, err := parseFormat(v.GetString("output"))
	if err != nil {
		return err
	}

	if port := v.GetInt("metrics-port"); port > 0 {
		srv := metrics.Start(port, logger)
		defer func() { _ = srv.Stop(context.Background()) }()
	}

	client, err := newSessionClient(v, logger)
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	req, err := buildRequest(cmd, v, method, target)
	if err != nil {
		return err
	}

	archive, err := openOptionalArchive(ctx, v.GetString("archive"))
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	pipe, err := pipeline.New(pipeline.Config{Client: client, Archive: archive, Logger: logger})
	if err != nil {
		return err
	}
	ex, resp, err := pipe.Fetch(ctx, req)
	if err != nil {
		return err
	}

	text, _ := resp.Text()
	out := newPrinter(cmd.OutOrStdout(), v.GetBool("no-color"))
	return out.print(format, exchangeView(ex, resp.Cookies(), text))
}

func buildRequest(cmd *cobra.Command, v *viper.Viper, method, target string) (httpclient.Request, error) {
	f := cmd.Flags()
	headers, _ := f.GetStringArray("header")
	params, _ := f.GetStringArray("param")
	cookies, _ := f.GetStringArray("cookie")
	data, _ := f.GetStringArray("data")
	files, _ := f.GetStringArray("file")

	req := httpclient.Request{
		Method:     method,
		URL:        target,
		AuthBearer: v.GetString("bearer"),
		Timeout:    v.GetDuration("timeout"),
	}

	var err error
	if req.Headers, err = parsePairs(headers, ":"); err != nil {
		return req, err
	}
	if req.Params, err = parsePairs(params, "="); err != nil {
		return req, err
	}
	if req.Cookies, err = parsePairs(cookies, "="); err != nil {
		return req, err
	}
	if req.Data, err = parsePairs(data, "="); err != nil {
		return req, err
	}
	if req.Files, err = parsePairs(files, "="); err != nil {
		return req, err
	}

	if s := v.GetString("json"); s != "" {
		req.JSON = json.RawMessage(s)
	}
	if s := v.GetString("content"); s != "" {
		req.Content = []byte(s)
	}
	if path := v.GetString("content-file"); path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return req, fmt.Errorf("context: reading content file: %w", err)
		}
		req.Content = b
	}

	if user := v.GetString("user"); user != "" {
		name, pass, _ := strings.Cut(user, ":")
		req.Auth = &httpclient.BasicAuth{Username: name, Password: pass}
	}
	return req, nil
}

// parsePairs splits each "key<sep>value" entry. It returns nil for no entries
// so that session defaults still apply.
func parsePairs(entries []string, sep string) (map[string]string, error) {
	if len(entries) == 0 {
		return nil, nil
	}
	out := make(map[string]string, len(entries))
	for _, e := range entries {
		k, val, ok := strings.Cut(e, sep)
		k = strings.TrimSpace(k)
		if !ok || k == "" {
			return nil, fmt.Errorf("context: expected key%svalue, got %q", sep, e)
		}
		out[k] = strings.TrimSpace(val)
	}
	return out, nil
}
