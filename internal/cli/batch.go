package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/primp/internal/metrics"
	"github.com/FranksOps/primp/internal/pipeline"
	"github.com/FranksOps/primp/internal/report"
	"github.com/FranksOps/primp/pkg/httpclient"
)

func newBatchCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "batch [URL...]",
		Short: "Send many requests through one session",
		Long: `batch sends one request per URL (from the arguments and/or --input) through
a single client session, so cookies and pacing carry across requests. Every
exchange is checked for bot challenges and optionally archived.`,
		Example: `  primp batch --input urls.txt --impersonate firefox_120 --workers 4 --summary
  primp batch https://a.example https://b.example --archive run.jsonl -o json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBatch(cmd, v, args)
		},
	}

	f := cmd.Flags()
	f.StringP("method", "X", "GET", "method for every request")
	f.StringArrayP("header", "H", nil, `request header "Name: value" (repeatable)`)
	f.StringArrayP("param", "p", nil, "query parameter name=value (repeatable)")
	f.DurationP("timeout", "t", 0, "per-request timeout (0 falls back to --session-timeout)")
	f.StringP("input", "i", "", `file of URLs, one per line ("-" for stdin)`)
	f.IntP("workers", "w", 1, "requests in flight")
	addSessionFlags(f)

	f.StringP("output", "o", "text", "output format: text, json or yaml")
	f.String("archive", "", "archive exchanges to a sqlite path, .jsonl, .csv or postgres DSN")
	f.Bool("summary", false, "print a summary after the run")
	f.Int("metrics-port", 0, "serve Prometheus metrics on this port while running")
	return cmd
}

func runBatch(cmd *cobra.Command, v *viper.Viper, args []string) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	logger := newLogger(cmd.ErrOrStderr(), v.GetBool("verbose"))

	format, err := parseFormat(v.GetString("output"))
	if err != nil {
		return err
	}

	urls := append([]string(nil), args...)
	if path := v.GetString("input"); path != "" {
		more, err := readURLs(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		urls = append(urls, more...)
	}
	if len(urls) == 0 {
		return fmt.Errorf("context: no URLs given")
	}

	f := cmd.Flags()
	headerFlags, _ := f.GetStringArray("header")
	paramFlags, _ := f.GetStringArray("param")
	headers, err := parsePairs(headerFlags, ":")
	if err != nil {
		return err
	}
	params, err := parsePairs(paramFlags, "=")
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

	archive, err := openOptionalArchive(ctx, v.GetString("archive"))
	if err != nil {
		return err
	}
	if archive != nil {
		defer archive.Close()
	}

	pipe, err := pipeline.New(pipeline.Config{
		Client:  client,
		Workers: v.GetInt("workers"),
		Archive: archive,
		Logger:  logger,
	})
	if err != nil {
		return err
	}

	reqs := make([]httpclient.Request, len(urls))
	for i, u := range urls {
		reqs[i] = httpclient.Request{
			Method:  v.GetString("method"),
			URL:     u,
			Headers: headers,
			Params:  params,
			Timeout: v.GetDuration("timeout"),
		}
	}

	exchanges, runErr := pipe.Run(ctx, reqs)

	views := make([]view, len(exchanges))
	for i, ex := range exchanges {
		views[i] = exchangeView(ex, nil, "")
		views[i].Body = ""
	}
	out := newPrinter(cmd.OutOrStdout(), v.GetBool("no-color"))
	if err := out.print(format, views); err != nil {
		return err
	}

	if v.GetBool("summary") {
		summary := report.GenerateSummary(exchanges)
		if err := report.WriteText(cmd.ErrOrStderr(), summary); err != nil {
			return err
		}
	}
	return runErr
}

func readURLs(stdin io.Reader, path string) ([]string, error) {
	r := stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return nil, fmt.Errorf("context: %w", err)
		}
		defer f.Close()
		r = f
	}

	var urls []string
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("context: %w", err)
	}
	return urls, nil
}
