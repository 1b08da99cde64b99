package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/FranksOps/primp/internal/fingerprint"
)

func newProfilesCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "profiles",
		Short: "List the browser profiles available to --impersonate",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			for _, p := range fingerprint.Profiles() {
				if _, err := fmt.Fprintln(cmd.OutOrStdout(), p); err != nil {
					return err
				}
			}
			return nil
		},
	}
}
