// Package segment provides the segmentation command.
package segment

import (
	"context"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/segmentation"
)

// Command returns the segment command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		algorithm string
		params    string
		name      string
		userID    uint
	)

	cmd := &cobra.Command{
		Use:   "segment <recording-id>",
		Short: "Segment a recording into call intervals",
		Long: `Segment runs a segmentation algorithm over a whole recording and replaces
the segments of a new segmentation with the detected intervals.

Examples:
  battycoda segment 12 --algorithm threshold
  battycoda segment 12 --algorithm energy --params '{"min_duration_ms": 5, "threshold_factor": 0.8}'`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordingID, err := app.ParseID("recording id", args[0])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				seg, err := a.Segmentation.CreateJob(ctx, segmentation.CreateJobRequest{
					RecordingID:   recordingID,
					AlgorithmName: algorithm,
					Name:          name,
					Params:        jsonParam(params),
					UserID:        userID,
				})
				if err != nil {
					return err
				}
				return a.ExecuteAndReport(ctx, cmd.OutOrStdout(), a.Segmentation.Job(seg.ID))
			})
		},
	}

	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "threshold", "Segmentation algorithm name")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Algorithm parameters as a JSON object")
	cmd.Flags().StringVar(&name, "name", "", "Segmentation name")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	return cmd
}

func jsonParam(s string) datatypes.JSON {
	if s == "" {
		return nil
	}
	return datatypes.JSON(s)
}
