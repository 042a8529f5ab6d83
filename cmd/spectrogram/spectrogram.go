// Package spectrogram provides the spectrogram rendering command.
package spectrogram

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/spectrogram"
)

// Command returns the spectrogram command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		onset, offset float64
		userID        uint
	)

	cmd := &cobra.Command{
		Use:   "spectrogram <recording-id>",
		Short: "Render a spectrogram PNG of a recording or a time range of it",
		Long: `Spectrogram renders into the media root under spectrograms/. An image that
already exists for the same recording and range is reused.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordingID, err := app.ParseID("recording id", args[0])
			if err != nil {
				return err
			}
			req := spectrogram.CreateJobRequest{RecordingID: recordingID, UserID: userID}
			if cmd.Flags().Changed("onset") || cmd.Flags().Changed("offset") {
				req.Onset, req.Offset = &onset, &offset
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				job, err := a.Spectrograms.CreateJob(ctx, req)
				if err != nil {
					return err
				}
				return a.ExecuteAndReport(ctx, cmd.OutOrStdout(), a.Spectrograms.Job(job.ID))
			})
		},
	}

	cmd.Flags().Float64Var(&onset, "onset", 0, "Range start in seconds")
	cmd.Flags().Float64Var(&offset, "offset", 0, "Range end in seconds")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	cmd.MarkFlagsRequiredTogether("onset", "offset")
	return cmd
}
