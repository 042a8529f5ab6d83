// Package classify provides the classification commands.
package classify

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/classification"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
)

// Command returns the classify command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		classifierID uint
		name         string
		wait         bool
		userID       uint
		groupID      uint
	)

	cmd := &cobra.Command{
		Use:   "classify <segmentation-id>",
		Short: "Queue a classification run for a segmentation",
		Long: `Classify queues a run that sends every segment of the segmentation to the
R model server. Runs execute one at a time in creation order. With --wait
the queue is drained in this process until the new run finishes; otherwise
a running worker picks it up.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			segmentationID, err := app.ParseID("segmentation id", args[0])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if err := a.RequireRServer(); err != nil {
					return err
				}
				run, err := a.Classification.CreateRun(ctx, classification.CreateRunRequest{
					Name:           name,
					SegmentationID: segmentationID,
					ClassifierID:   classifierID,
					UserID:         userID,
					GroupID:        groupID,
				})
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if !wait {
					fmt.Fprintf(out, "Queued classification run %d\n", run.ID)
					return nil
				}
				if err := drainUntilDone(ctx, a, run.ID); err != nil {
					return err
				}
				report, err := a.Runner.Status(ctx, datastore.KindClassification, run.ID)
				if err != nil {
					return err
				}
				return app.WriteJSON(out, report)
			})
		},
	}

	cmd.Flags().UintVar(&classifierID, "classifier", 0, "Classifier id")
	cmd.Flags().StringVar(&name, "name", "", "Run name")
	cmd.Flags().BoolVarP(&wait, "wait", "w", false, "Execute queued runs here until this run finishes")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	cmd.Flags().UintVar(&groupID, "group", 0, "Owning group id")
	_ = cmd.MarkFlagRequired("classifier")

	cmd.AddCommand(batchCommand(settings))
	return cmd
}

// drainUntilDone dispatches queued runs, oldest first, until runID leaves
// the active states or the queue is empty.
func drainUntilDone(ctx context.Context, a *app.App, runID uint) error {
	for {
		rec, err := a.Store.JobState(ctx, datastore.KindClassification, runID)
		if err != nil {
			return err
		}
		if rec.Status.IsTerminal() {
			return nil
		}
		ran, err := a.Classification.DispatchNext(ctx, a.Runner)
		if err != nil {
			return err
		}
		if !ran {
			return nil
		}
	}
}

func batchCommand(settings *conf.Settings) *cobra.Command {
	var (
		threshold float64
		name      string
		userID    uint
	)

	cmd := &cobra.Command{
		Use:   "batch <run-id>",
		Short: "Create an annotation task batch from a completed run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := app.ParseID("run id", args[0])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if err := a.RequireRServer(); err != nil {
					return err
				}
				res, err := a.Classification.CreateTaskBatchFromRun(ctx, classification.TaskBatchRequest{
					RunID:     runID,
					Name:      name,
					Threshold: threshold,
					UserID:    userID,
				})
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Created task batch %d: %d tasks, %d segments below %.2f\n",
					res.Batch.ID, res.Created, res.Skipped, threshold)
				return nil
			})
		},
	}

	cmd.Flags().Float64VarP(&threshold, "threshold", "t", 0, "Minimum best-label probability for a task")
	cmd.Flags().StringVar(&name, "name", "", "Batch name")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	return cmd
}
