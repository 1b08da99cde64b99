package cli

import (
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var version = "0.1.0"

// EnvPrefix namespaces environment overrides, e.g. PRIMP_IMPERSONATE.
const EnvPrefix = "PRIMP"

// NewRootCmd builds the command tree with its own configuration state.
func NewRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:     "primp",
		Short:   "HTTP client that impersonates real browsers",
		Version: version,
		Long: `primp sends HTTP requests with the TLS and header fingerprint of a real
browser, keeps a cookie session, and can archive every exchange to SQLite,
Postgres or flat files for later inspection.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return initConfig(cmd, v)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	root.PersistentFlags().String("config", "", "config file (yaml, json or toml)")
	root.PersistentFlags().BoolP("verbose", "v", false, "log debug output to stderr")
	root.PersistentFlags().Bool("no-color", false, "disable colored output")

	root.AddCommand(newRequestCmd(v))
	root.AddCommand(newProfilesCmd())
	root.AddCommand(newBatchCmd(v))
	root.AddCommand(newHistoryCmd(v))
	root.AddCommand(newReportCmd(v))
	return root
}

// Execute runs the root command against os.Args.
func Execute() error {
	return NewRootCmd().Execute()
}

func initConfig(cmd *cobra.Command, v *viper.Viper) error {
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return fmt.Errorf("context: %w", err)
	}

	if path := v.GetString("config"); path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("context: reading config %s: %w", path, err)
		}
	}
	return nil
}

func newLogger(w io.Writer, verbose bool) *slog.Logger {
	level := slog.LevelWarn
	if verbose {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}
