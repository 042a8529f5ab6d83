// Package train provides the classifier training command.
package train

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/rserver"
	"github.com/battycoda/battycoda/internal/training"
)

// Command returns the train command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		name        string
		taskBatchID uint
		folder      string
		speciesID   uint
		algorithm   string
		format      string
		params      map[string]string
		userID      uint
		groupID     uint
	)

	cmd := &cobra.Command{
		Use:   "train",
		Short: "Train a classifier on the R model server",
		Long: `Train builds a classifier from either an annotated task batch or a folder of
labeled WAV files under the training data directory.

Examples:
  battycoda train --task-batch 4 --algorithm knn
  battycoda train --folder efuscus_2024 --species 2 --algorithm lda --format full_probability`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := training.CreateJobRequest{
				Name:           name,
				DataFolder:     folder,
				Algorithm:      algorithm,
				ResponseFormat: entities.ResponseFormat(format),
				Params:         params,
				UserID:         userID,
				GroupID:        groupID,
			}
			if cmd.Flags().Changed("task-batch") {
				req.TaskBatchID = &taskBatchID
			}
			if cmd.Flags().Changed("species") {
				req.SpeciesID = &speciesID
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if err := a.RequireRServer(); err != nil {
					return err
				}
				job, err := a.Training.CreateJob(ctx, req)
				if err != nil {
					return err
				}
				return a.ExecuteAndReport(ctx, cmd.OutOrStdout(), a.Training.Job(job.ID))
			})
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Classifier name")
	cmd.Flags().UintVar(&taskBatchID, "task-batch", 0, "Train from the annotated tasks of this batch")
	cmd.Flags().StringVar(&folder, "folder", "", "Train from this folder under the training data directory")
	cmd.Flags().UintVar(&speciesID, "species", 0, "Species the classifier belongs to")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", rserver.AlgorithmKNN, "Training algorithm (knn or lda)")
	cmd.Flags().StringVar(&format, "format", string(entities.ResponseHighestOnly), "Response format (highest_only or full_probability)")
	cmd.Flags().StringToStringVar(&params, "param", nil, "Extra training parameter key=value, repeatable")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	cmd.Flags().UintVar(&groupID, "group", 0, "Owning group id")
	cmd.MarkFlagsMutuallyExclusive("task-batch", "folder")
	cmd.MarkFlagsOneRequired("task-batch", "folder")
	return cmd
}
