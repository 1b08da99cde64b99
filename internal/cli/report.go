package cli

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/primp/internal/report"
	"github.com/FranksOps/primp/internal/storage"
)

func newReportCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "report",
		Short: "Summarize archived exchanges per profile",
		Example: `  primp report --archive exchanges.db
  primp report --archive run.jsonl --since 24h --format html > report.html`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runReport(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("archive", "", "sqlite path, .jsonl, .csv or postgres DSN to read from")
	f.String("url", "", "only exchanges for this URL")
	f.Duration("since", 0, "only exchanges newer than this")
	f.String("format", "text", "report format: text, json or html")
	return cmd
}

func runReport(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dsn := v.GetString("archive")
	if dsn == "" {
		return errors.New("context: --archive is required")
	}

	filter := storage.Filter{URL: v.GetString("url")}
	if d := v.GetDuration("since"); d > 0 {
		since := time.Now().Add(-d)
		filter.Since = &since
	}

	backend, err := openArchive(ctx, dsn)
	if err != nil {
		return err
	}
	defer backend.Close()

	rows, err := backend.Query(ctx, filter)
	if err != nil {
		return err
	}
	summary := report.GenerateSummary(rows)

	w := cmd.OutOrStdout()
	switch strings.ToLower(v.GetString("format")) {
	case "text":
		return report.WriteText(w, summary)
	case "json":
		return report.WriteJSON(w, summary)
	case "html":
		return report.WriteHTML(w, summary)
	}
	return fmt.Errorf("context: unknown report format %q", v.GetString("format"))
}
