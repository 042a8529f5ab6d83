// Package ingest provides the pickle import command.
package ingest

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/segmentation"
)

// Command returns the ingest command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		name        string
		maxDuration float64
		userID      uint
	)

	cmd := &cobra.Command{
		Use:   "ingest <recording-id> <segments.pickle>",
		Short: "Import onsets and offsets from a pickle file",
		Long: `Ingest reads a pickled mapping or tuple of onsets and offsets in seconds and
stores them as a completed segmentation of the recording. The file is
rejected as a whole when any interval is invalid.`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			recordingID, err := app.ParseID("recording id", args[0])
			if err != nil {
				return err
			}
			f, err := os.Open(args[1])
			if err != nil {
				return err
			}
			defer f.Close()
			if name == "" {
				name = filepath.Base(args[1])
			}

			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				seg, err := a.Segmentation.Ingest(ctx, segmentation.IngestRequest{
					RecordingID: recordingID,
					Name:        name,
					UserID:      userID,
					MaxDuration: maxDuration,
				}, f)
				if err != nil {
					return err
				}
				segs, err := a.Store.ListSegments(ctx, seg.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d segments into segmentation %d\n", len(segs), seg.ID)
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Segmentation name (default: file name)")
	cmd.Flags().Float64Var(&maxDuration, "max-duration", 0, "Reject offsets beyond this many seconds (default: recording duration)")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	return cmd
}
