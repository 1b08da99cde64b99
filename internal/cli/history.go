package cli

import (
	"context"
	"errors"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/FranksOps/primp/internal/storage"
)

func newHistoryCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "history",
		Short: "List archived exchanges",
		Example: `  primp history --archive exchanges.db --blocked
  primp history --archive postgres://localhost/primp --profile firefox_133 -o json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runHistory(cmd, v)
		},
	}

	f := cmd.Flags()
	f.String("archive", "", "sqlite path or postgres DSN to read from")
	f.Int("limit", 20, "maximum rows to list")
	f.Int("offset", 0, "rows to skip")
	f.String("url", "", "only exchanges for this URL")
	f.String("profile", "", "only exchanges sent with this profile")
	f.Bool("blocked", false, "only exchanges flagged as bot challenges")
	f.Duration("since", 0, "only exchanges newer than this")
	f.Bool("body", false, "include bodies in json/yaml output")
	f.StringP("output", "o", "text", "output format: text, json or yaml")
	return cmd
}

func runHistory(cmd *cobra.Command, v *viper.Viper) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	dsn := v.GetString("archive")
	if dsn == "" {
		return errors.New("context: --archive is required")
	}
	format, err := parseFormat(v.GetString("output"))
	if err != nil {
		return err
	}

	filter := storage.Filter{
		URL:     v.GetString("url"),
		Profile: v.GetString("profile"),
		Limit:   v.GetInt("limit"),
		Offset:  v.GetInt("offset"),
	}
	if v.GetBool("blocked") {
		blocked := true
		filter.DetectedBot = &blocked
	}
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

	withBody := v.GetBool("body")
	views := make([]view, 0, len(rows))
	for _, ex := range rows {
		vw := exchangeView(ex, nil, "")
		if !withBody {
			vw.Body = ""
		}
		views = append(views, vw)
	}
	return newPrinter(cmd.OutOrStdout(), v.GetBool("no-color")).print(format, views)
}
