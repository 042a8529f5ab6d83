// Package cluster provides the unsupervised clustering commands.
package cluster

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/battycoda/battycoda/internal/app"
	"github.com/battycoda/battycoda/internal/clustering"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
)

// Command returns the cluster command.
func Command(settings *conf.Settings) *cobra.Command {
	var (
		segmentationID uint
		projectID      uint
		speciesID      uint
		algorithm      string
		params         string
		features       string
		featureParams  string
		batchSize      int
		name           string
		exportPath     string
		userID         uint
		groupID        uint
	)

	cmd := &cobra.Command{
		Use:   "cluster",
		Short: "Cluster the segments of a segmentation or a whole project",
		Long: `Cluster extracts acoustic features from every segment in scope and groups
them with the chosen algorithm: kmeans, dbscan, hierarchical,
gaussian_mixture, spectral, or custom (an external HTTP service).

Examples:
  battycoda cluster --segmentation 8 --algorithm kmeans --params '{"n_clusters": 6}'
  battycoda cluster --project 3 --species 2 --algorithm dbscan --export clusters.csv`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			req := clustering.CreateRunRequest{
				Name:          name,
				Algorithm:     algorithm,
				FeatureMethod: features,
				BatchSize:     batchSize,
				UserID:        userID,
				GroupID:       groupID,
			}
			if cmd.Flags().Changed("segmentation") {
				req.Scope = entities.ScopeSegmentation
				req.SegmentationID = &segmentationID
			} else {
				req.Scope = entities.ScopeProject
				req.ProjectID = &projectID
				if cmd.Flags().Changed("species") {
					req.SpeciesID = &speciesID
				}
			}
			var err error
			if req.Params, err = decodeObject("params", params); err != nil {
				return err
			}
			if req.FeatureParams, err = decodeObject("feature-params", featureParams); err != nil {
				return err
			}

			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				run, err := a.Clustering.CreateRun(ctx, req)
				if err != nil {
					return err
				}
				if err := a.ExecuteAndReport(ctx, cmd.OutOrStdout(), a.Clustering.Job(run.ID)); err != nil {
					return err
				}
				if exportPath == "" {
					return nil
				}
				return exportRun(ctx, a, run.ID, exportPath)
			})
		},
	}

	cmd.Flags().UintVar(&segmentationID, "segmentation", 0, "Cluster the segments of this segmentation")
	cmd.Flags().UintVar(&projectID, "project", 0, "Cluster the latest segmentation of every recording in this project")
	cmd.Flags().UintVar(&speciesID, "species", 0, "Only include project recordings of this species")
	cmd.Flags().StringVarP(&algorithm, "algorithm", "a", "", "Clustering algorithm (default from configuration)")
	cmd.Flags().StringVarP(&params, "params", "p", "", "Algorithm parameters as a JSON object")
	cmd.Flags().StringVar(&features, "features", clustering.FeaturesMFCC, "Feature extraction method (mfcc or spectral)")
	cmd.Flags().StringVar(&featureParams, "feature-params", "", "Feature extraction parameters as a JSON object")
	cmd.Flags().IntVar(&batchSize, "batch-size", 0, "Segments per feature extraction batch (default from configuration)")
	cmd.Flags().StringVar(&name, "name", "", "Run name")
	cmd.Flags().StringVarP(&exportPath, "export", "o", "", "Write the cluster assignments as CSV to this file")
	cmd.Flags().UintVar(&userID, "user", 0, "User id recorded as creator")
	cmd.Flags().UintVar(&groupID, "group", 0, "Owning group id")
	cmd.MarkFlagsMutuallyExclusive("segmentation", "project")
	cmd.MarkFlagsOneRequired("segmentation", "project")

	cmd.AddCommand(exportCommand(settings), mapCommand(settings))
	return cmd
}

func decodeObject(flag, raw string) (map[string]any, error) {
	if raw == "" {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal([]byte(raw), &out); err != nil {
		return nil, errors.ValidationError(fmt.Sprintf("--%s must be a JSON object: %v", flag, err))
	}
	return out, nil
}

func exportRun(ctx context.Context, a *app.App, runID uint, path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := a.Clustering.ExportCSV(ctx, runID, f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func exportCommand(settings *conf.Settings) *cobra.Command {
	var out string
	cmd := &cobra.Command{
		Use:   "export <run-id>",
		Short: "Export the assignments of a completed clustering run as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			runID, err := app.ParseID("run id", args[0])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if out == "" || out == "-" {
					return a.Clustering.ExportCSV(ctx, runID, cmd.OutOrStdout())
				}
				return exportRun(ctx, a, runID, out)
			})
		},
	}
	cmd.Flags().StringVarP(&out, "output", "o", "-", "Output file, - for stdout")
	return cmd
}

func mapCommand(settings *conf.Settings) *cobra.Command {
	var (
		confidence float64
		notes      string
	)
	cmd := &cobra.Command{
		Use:   "map <cluster-id> <call-id>",
		Short: "Map a cluster to a call type",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			clusterID, err := app.ParseID("cluster id", args[0])
			if err != nil {
				return err
			}
			callID, err := app.ParseID("call id", args[1])
			if err != nil {
				return err
			}
			return app.Run(settings, func(ctx context.Context, a *app.App) error {
				if err := a.Clustering.MapCluster(ctx, clusterID, callID, confidence, notes); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Mapped cluster %d to call %d\n", clusterID, callID)
				return nil
			})
		},
	}
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "Mapping confidence in [0,1]")
	cmd.Flags().StringVar(&notes, "notes", "", "Free-form notes")
	return cmd
}
