// Package clustering groups segments by acoustic similarity.
//
// A run extracts a feature vector from every segment in its scope, in
// batches, standardizes the matrix and hands it to one of the in-process
// algorithms or to an external service. Clusters are numbered from zero in
// order of first appearance.
package clustering

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"time"

	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
)

// GetLogger returns the clustering module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("clustering")
}

const (
	// DefaultBatchSize is the number of segments extracted per batch.
	DefaultBatchSize = 500

	defaultCustomTimeout = 10 * time.Minute
)

// Store is the persistence the engine needs.
type Store interface {
	datastore.JobStateStore
	datastore.SegmentationStore
	datastore.ClusteringStore
}

// Engine creates and executes clustering runs.
type Engine struct {
	store            Store
	media            audio.Opener
	http             *httpclient.Client
	batchSize        int
	defaultAlgorithm string
	nClusters        int
	customURL        string
	customTimeout    time.Duration
}

// NewEngine creates an engine. client may be nil when no custom service is
// configured.
func NewEngine(store Store, media audio.Opener, client *httpclient.Client, settings *conf.ClusteringSettings) *Engine {
	if client == nil {
		client = httpclient.New(nil)
	}
	e := &Engine{
		store:            store,
		media:            media,
		http:             client,
		batchSize:        DefaultBatchSize,
		defaultAlgorithm: AlgorithmKMeans,
		customTimeout:    defaultCustomTimeout,
	}
	if settings != nil {
		if settings.BatchSize > 0 {
			e.batchSize = settings.BatchSize
		}
		if settings.DefaultAlgorithm != "" {
			e.defaultAlgorithm = settings.DefaultAlgorithm
		}
		if settings.CustomTimeout > 0 {
			e.customTimeout = settings.CustomTimeout
		}
		e.nClusters = settings.NClusters
		e.customURL = settings.CustomURL
	}
	return e
}

// CreateRunRequest describes a clustering run.
type CreateRunRequest struct {
	Name           string
	Scope          entities.ClusteringScope
	SegmentationID *uint
	ProjectID      *uint
	SpeciesID      *uint // project scope filter
	Algorithm      string
	Params         map[string]any
	FeatureMethod  string
	FeatureParams  map[string]any
	BatchSize      int
	UserID         uint
	GroupID        uint
}

// CreateRun validates the request and stores a pending run.
func (e *Engine) CreateRun(ctx context.Context, req CreateRunRequest) (*entities.ClusteringRun, error) {
	if req.Algorithm == "" {
		req.Algorithm = e.defaultAlgorithm
	}
	if req.FeatureMethod == "" {
		req.FeatureMethod = FeaturesMFCC
	}
	if req.BatchSize < 0 {
		return nil, invalid("batch_size must not be negative")
	}
	if req.BatchSize == 0 {
		req.BatchSize = e.batchSize
	}

	params, err := encodeJSON(req.Params)
	if err != nil {
		return nil, err
	}
	if _, err := parseParams(req.Algorithm, params, e.nClusters); err != nil {
		return nil, err
	}
	featureParams, err := encodeJSON(req.FeatureParams)
	if err != nil {
		return nil, err
	}
	if _, err := newExtractor(req.FeatureMethod, featureParams); err != nil {
		return nil, err
	}

	if req.Scope == entities.ScopeSegmentation && req.SegmentationID != nil {
		seg, err := e.store.GetSegmentation(ctx, *req.SegmentationID)
		if err != nil {
			return nil, err
		}
		if seg.Status != entities.StatusCompleted {
			return nil, invalid("segmentation %d is %s, not completed", seg.ID, seg.Status)
		}
	}

	run := &entities.ClusteringRun{
		Name:           req.Name,
		Scope:          req.Scope,
		SegmentationID: req.SegmentationID,
		ProjectID:      req.ProjectID,
		SpeciesID:      req.SpeciesID,
		Algorithm:      req.Algorithm,
		Parameters:     params,
		FeatureMethod:  req.FeatureMethod,
		FeatureParams:  featureParams,
		BatchSize:      req.BatchSize,
		CreatedBy:      req.UserID,
		GroupID:        req.GroupID,
	}
	if err := e.store.CreateClusteringRun(ctx, run); err != nil {
		return nil, err
	}
	GetLogger().Info("clustering run created",
		logger.Uint64("run_id", uint64(run.ID)),
		logger.String("algorithm", run.Algorithm),
		logger.String("scope", string(run.Scope)))
	return run, nil
}

func encodeJSON(v map[string]any) (datatypes.JSON, error) {
	if len(v) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(v)
	if err != nil {
		return nil, invalid("unencodable parameters: %v", err)
	}
	return b, nil
}

// MapCluster attaches a call type to a cluster.
func (e *Engine) MapCluster(ctx context.Context, clusterID, callID uint, confidence float64, notes string) error {
	return e.store.MapClusterToCall(ctx, clusterID, callID, confidence, notes)
}

// Job returns the job for a pending clustering run.
func (e *Engine) Job(runID uint) jobs.Job {
	return &clusteringJob{engine: e, id: runID}
}

type clusteringJob struct {
	engine *Engine
	id     uint
}

func (j *clusteringJob) Kind() datastore.JobKind { return datastore.KindClustering }
func (j *clusteringJob) ID() uint                { return j.id }

func (j *clusteringJob) Run(ctx context.Context, p *jobs.Progress) (jobs.Outcome, error) {
	res, err := j.engine.cluster(ctx, j.id, p)
	if err != nil {
		return jobs.Outcome{}, err
	}
	fields := map[string]any{
		"n_clusters_created":     res.clusters,
		"num_segments_processed": res.segments,
		"progress_message":       fmt.Sprintf("Created %d clusters from %d segments", res.clusters, res.segments),
	}
	if res.silhouette != nil {
		fields["silhouette_score"] = *res.silhouette
	}
	GetLogger().Info("clustering finished",
		logger.Uint64("run_id", uint64(j.id)),
		logger.Int("clusters", res.clusters),
		logger.Int("segments", res.segments))
	return jobs.Outcome{Fields: fields}, nil
}

type result struct {
	clusters   int
	segments   int
	silhouette *float64
}

func (e *Engine) cluster(ctx context.Context, runID uint, p *jobs.Progress) (*result, error) {
	run, err := e.store.GetClusteringRun(ctx, runID)
	if err != nil {
		return nil, err
	}
	params, err := parseParams(run.Algorithm, run.Parameters, e.nClusters)
	if err != nil {
		return nil, err
	}
	extract, err := newExtractor(run.FeatureMethod, run.FeatureParams)
	if err != nil {
		return nil, err
	}
	if err := p.Report(ctx, 0, "Resolving segments"); err != nil {
		return nil, err
	}

	segmentationIDs, err := e.resolveScope(ctx, run)
	if err != nil {
		return nil, err
	}
	segs, recs, err := e.store.SegmentsWithRecordings(ctx, segmentationIDs)
	if err != nil {
		return nil, err
	}
	if len(segs) == 0 {
		return nil, errors.New(fmt.Errorf("%w: clustering run %d has no segments in scope", errors.ErrInvalidSegmentData, run.ID)).
			Component("clustering").
			Category(errors.CategoryInvalidSegmentData).
			Context("run_id", run.ID).
			Build()
	}

	X, err := e.extractFeatures(ctx, run, segs, recs, extract, p)
	if err != nil {
		return nil, err
	}
	standardize(X)

	if err := p.Report(ctx, 70, fmt.Sprintf("Clustering %d segments with %s", len(X), run.Algorithm)); err != nil {
		return nil, err
	}
	assign, err := e.assign(ctx, run.Algorithm, X, params)
	if err != nil {
		return nil, err
	}
	if err := p.Report(ctx, 85, "Computing cluster statistics"); err != nil {
		return nil, err
	}

	k := compact(assign.Labels)
	clusters, memberships := summarize(X, segs, assign, k)
	res := &result{clusters: k, segments: len(segs)}
	if score, ok := Silhouette(X, assign.Labels, params.Seed); ok {
		res.silhouette = &score
	}
	if err := e.store.SaveClusteringOutput(ctx, run.ID, clusters, memberships); err != nil {
		return nil, err
	}
	return res, nil
}

// resolveScope returns the segmentations a run covers. Project runs record
// which segmentations were included and which were skipped.
func (e *Engine) resolveScope(ctx context.Context, run *entities.ClusteringRun) ([]uint, error) {
	if run.Scope == entities.ScopeSegmentation {
		if run.SegmentationID == nil {
			return nil, invalid("segmentation scope requires a segmentation")
		}
		return []uint{*run.SegmentationID}, nil
	}
	if run.ProjectID == nil {
		return nil, invalid("project scope requires a project")
	}

	candidates, err := e.store.ProjectSegmentations(ctx, *run.ProjectID, run.SpeciesID)
	if err != nil {
		return nil, err
	}
	included := make([]datastore.ProjectSegmentation, 0, len(candidates))
	skipped := make([]datastore.ProjectSegmentation, 0)
	ids := make([]uint, 0, len(candidates))
	for _, c := range candidates {
		switch {
		case c.Reason != "":
			skipped = append(skipped, c)
		case c.Segments == 0:
			c.Reason = "no segments"
			skipped = append(skipped, c)
		default:
			included = append(included, c)
			ids = append(ids, c.SegmentationID)
		}
	}

	inc, err := json.Marshal(included)
	if err != nil {
		return nil, err
	}
	skp, err := json.Marshal(skipped)
	if err != nil {
		return nil, err
	}
	if err := e.store.UpdateClusteringRun(ctx, run.ID, map[string]any{
		"included_segmentations": datatypes.JSON(inc),
		"skipped_segmentations":  datatypes.JSON(skp),
	}); err != nil {
		return nil, err
	}
	GetLogger().Debug("project scope resolved",
		logger.Uint64("run_id", uint64(run.ID)),
		logger.Int("included", len(included)),
		logger.Int("skipped", len(skipped)))
	return ids, nil
}

// extractFeatures walks the segments in batches of the run's batch size and
// reports sub-progress after each batch.
func (e *Engine) extractFeatures(ctx context.Context, run *entities.ClusteringRun, segs []entities.Segment, recs map[uint]*entities.Recording, extract Extractor, p *jobs.Progress) ([][]float64, error) {
	batch := run.BatchSize
	if batch <= 0 {
		batch = e.batchSize
	}
	n := len(segs)
	X := make([][]float64, 0, n)
	for start := 0; start < n; start += batch {
		end := min(start+batch, n)
		for _, seg := range segs[start:end] {
			if err := ctx.Err(); err != nil {
				return nil, err
			}
			rec, ok := recs[seg.RecordingID]
			if !ok {
				return nil, invalid("segment %d references missing recording %d", seg.ID, seg.RecordingID)
			}
			clip, err := audio.ExtractSegment(e.media, rec.AudioPath, seg.Onset, seg.Offset)
			if err != nil {
				return nil, err
			}
			X = append(X, extract(clip))
		}
		msg := fmt.Sprintf("Extracting features: %d/%d segments", end, n)
		if err := p.Report(ctx, 5+60*float64(end)/float64(n), msg); err != nil {
			return nil, err
		}
	}
	return X, nil
}

func (e *Engine) assign(ctx context.Context, algorithm string, X [][]float64, p Params) (*Assignment, error) {
	switch algorithm {
	case AlgorithmKMeans:
		return KMeans(ctx, X, p)
	case AlgorithmDBSCAN:
		return DBSCAN(ctx, X, p)
	case AlgorithmHierarchical:
		return Hierarchical(ctx, X, p)
	case AlgorithmGMM:
		return GaussianMixture(ctx, X, p)
	case AlgorithmSpectral:
		return Spectral(ctx, X, p)
	case AlgorithmCustom:
		return e.custom(ctx, X, p)
	default:
		return nil, invalid("unknown clustering algorithm %q", algorithm)
	}
}

// summarize builds cluster rows and memberships from compact labels. The
// representative segment is the member closest to its cluster center and
// the 2-D position is the mean principal-component projection of the
// members. Noise points get no membership.
func summarize(X [][]float64, segs []entities.Segment, assign *Assignment, k int) ([]entities.Cluster, []entities.SegmentCluster) {
	centers := centroids(X, assign.Labels, k)
	vis := project2D(X)

	clusters := make([]entities.Cluster, k)
	best := make([]float64, k)
	sumX := make([]float64, k)
	sumY := make([]float64, k)
	for c := range clusters {
		clusters[c] = entities.Cluster{ClusterID: c, Label: fmt.Sprintf("Cluster %d", c)}
		best[c] = math.Inf(1)
	}

	memberships := make([]entities.SegmentCluster, 0, len(segs))
	for i, l := range assign.Labels {
		if l == Noise {
			continue
		}
		d := math.Sqrt(sqDist(X[i], centers[l]))
		memberships = append(memberships, entities.SegmentCluster{
			SegmentID:        segs[i].ID,
			ClusterID:        uint(l),
			Confidence:       assign.Confidence[i],
			DistanceToCenter: d,
		})
		c := &clusters[l]
		c.Size++
		sumX[l] += vis[i][0]
		sumY[l] += vis[i][1]
		if d < best[l] {
			best[l] = d
			id := segs[i].ID
			c.RepresentativeSegmentID = &id
		}
	}
	for c := range clusters {
		if clusters[c].Size == 0 {
			continue
		}
		x := sumX[c] / float64(clusters[c].Size)
		y := sumY[c] / float64(clusters[c].Size)
		clusters[c].VisX, clusters[c].VisY = &x, &y
	}
	return clusters, memberships
}
