// Package cancel provides the job cancellation command.
package cancel

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
)

// Command returns the cancel command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <kind> <id>",
		Short: "Cancel a queued, pending or running job",
		Long: `Cancel marks the job cancelled. A running job stops at its next progress
report; work already stored is kept. Finished jobs are left unchanged.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			kind, err := app.ParseKind(args[0])
			if err != nil {
				return err
			}
			id, err := app.ParseID("job id", args[1])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				cancelled, err := a.Runner.Cancel(ctx, kind, id)
				if err != nil {
					return err
				}
				if cancelled {
					fmt.Fprintf(cmd.OutOrStdout(), "Cancelled %s job %d\n", kind, id)
				} else {
					fmt.Fprintf(cmd.OutOrStdout(), "%s job %d already finished\n", kind, id)
				}
				return nil
			})
		},
	}
}
