// Package status provides the job status command.
package status

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
)

// Command returns the status command.
func Command(settings *conf.Settings) *cobra.Command {
	return &cobra.Command{
		Use:   "status <kind> <id>",
		Short: "Show the status and progress of a job",
		Long:  "Kind is one of segmentation, classification, training, clustering or spectrogram.",
		Args:  cobra.ExactArgs(2),
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
				report, err := a.Runner.Status(ctx, kind, id)
				if err != nil {
					return err
				}
				return app.WriteJSON(cmd.OutOrStdout(), report)
			})
		},
	}
}
