package cmd

import (
	"strings"

	"github.com/spf13/cobra"

	"github.com/Aman-CERP/repoindex/internal/daemon"
	rerrors "github.com/Aman-CERP/repoindex/internal/errors"
	"github.com/Aman-CERP/repoindex/internal/output"
)

func newTriggerCmd() *cobra.Command {
	var kind string

	cmd := &cobra.Command{
		Use:   "trigger",
		Short: "Ask the running daemon for an immediate pass",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			client := daemon.NewClient(daemonConfig())
			if !client.IsRunning() {
				return rerrors.ConfigError("daemon is not running", nil).
					WithSuggestion("start it with: repoindex serve")
			}
			kinds, err := client.Trigger(cmd.Context(), kind)
			if err != nil {
				return err
			}
			output.New(cmd.OutOrStdout()).Successf("Pass requested: %s", strings.Join(kinds, ", "))
			return nil
		},
	}

	cmd.Flags().StringVarP(&kind, "kind", "k", "", "Index kind (default: every running kind)")
	return cmd
}
