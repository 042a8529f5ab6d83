// Package preview provides the segmentation preview command.
package preview

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/segmentation"
)

// Command returns the preview command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		start     float64
		duration  float64
		algorithm string
		params    string
	)

	cmd := &cobra.Command{
		Use:   "preview <recording-id>",
		Short: "Try segmentation parameters on a short slice of a recording",
		Long: `Preview cuts up to 60 seconds out of a recording, segments the slice and
prints the detected intervals. The slice is discarded when the command exits.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordingID, err := app.ParseID("recording id", args[0])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				alg, err := a.Store.GetAlgorithmByName(ctx, algorithm)
				if err != nil {
					return err
				}
				req := segmentation.PreviewRequest{
					RecordingID: recordingID,
					Start:       start,
					Duration:    duration,
					AlgorithmID: alg.ID,
				}
				if params != "" {
					req.Params = datatypes.JSON(params)
				}
				res, err := a.Previews.Create(ctx, req)
				if err != nil {
					return err
				}
				segs, err := a.Store.ListSegments(ctx, res.SegmentationID)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Preview of recording %d from %.3fs (%.3fs): %d segments\n",
					recordingID, res.Start, res.Duration, len(segs))
				for _, s := range segs {
					fmt.Fprintf(out, "  %8.3f  %8.3f\n", s.Onset+res.Start, s.Offset+res.Start)
				}
				return nil
			})
		},
	}

	cmd.Flags().Float64Var(&start, "start", 0, "Slice start in seconds")
	cmd.Flags().Float64Var(&duration, "duration", segmentation.DefaultPreviewMaxSeconds, "Slice length in seconds (at most 60)")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "threshold", "Segmentation algorithm name")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Algorithm parameters as a JSON object")
	return cmd
}
