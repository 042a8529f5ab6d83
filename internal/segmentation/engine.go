// Package segmentation turns recordings into segments.
//
// Four strategies exist: threshold and energy detectors run in process,
// external posts to an HTTP service, and ml is delegated to a model task
// outside this process. Segments are written in one transaction so a failed
// job leaves none behind.
package segmentation

import (
	"context"
	"io"
	"math"
	"time"

	"github.com/battycoda/battycoda/internal/audio"
	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/jobs"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/pickle"
)

// GetLogger returns the segmentation module logger.
func GetLogger() logger.Logger {
	return logger.Global().Module("segmentation")
}

const defaultExternalTimeout = 5 * time.Minute

// Store is the persistence the engine needs.
type Store interface {
	datastore.JobStateStore
	datastore.RecordingStore
	datastore.SegmentationStore
}

// Media is the media root. *securefs.SecureFS implements it.
type Media interface {
	audio.Opener
	audio.Creator
	Abs(relPath string) (string, error)
	Remove(relPath string) error
}

// Engine runs segmentation jobs.
type Engine struct {
	store           Store
	media           Media
	http            *httpclient.Client
	defaults        Params
	externalTimeout time.Duration
}

// NewEngine creates an engine. client may be nil when no external
// algorithm is configured.
func NewEngine(store Store, media Media, client *httpclient.Client, settings *conf.SegmentationSettings) *Engine {
	if client == nil {
		client = httpclient.New(nil)
	}
	timeout := settings.ExternalTimeout
	if timeout <= 0 {
		timeout = defaultExternalTimeout
	}
	return &Engine{
		store:           store,
		media:           media,
		http:            client,
		defaults:        DefaultParams(settings.Defaults),
		externalTimeout: timeout,
	}
}

// Job returns the job for a pending segmentation row.
func (e *Engine) Job(segmentationID uint) jobs.Job {
	return &segmentationJob{engine: e, id: segmentationID}
}

type segmentationJob struct {
	engine *Engine
	id     uint
}

func (j *segmentationJob) Kind() datastore.JobKind { return datastore.KindSegmentation }
func (j *segmentationJob) ID() uint                { return j.id }

func (j *segmentationJob) Run(ctx context.Context, p *jobs.Progress) (jobs.Outcome, error) {
	n, err := j.engine.segment(ctx, j.id, p)
	if err != nil {
		return jobs.Outcome{}, err
	}
	GetLogger().Info("segmentation finished",
		logger.Uint64("segmentation_id", uint64(j.id)),
		logger.Int("segments", n))
	return jobs.Outcome{}, nil
}

func (e *Engine) segment(ctx context.Context, segmentationID uint, p *jobs.Progress) (int, error) {
	seg, err := e.store.GetSegmentation(ctx, segmentationID)
	if err != nil {
		return 0, err
	}
	if seg.AlgorithmID == nil {
		return 0, invalidParams("segmentation %d has no algorithm", seg.ID)
	}
	alg, err := e.store.GetAlgorithm(ctx, *seg.AlgorithmID)
	if err != nil {
		return 0, err
	}
	rec, err := e.store.GetRecording(ctx, seg.RecordingID)
	if err != nil {
		return 0, err
	}
	if err := p.Report(ctx, 0, "starting "+string(alg.Type)+" segmentation"); err != nil {
		return 0, err
	}

	params, err := mergeParams(e.defaults, alg.DefaultParams, seg.Params)
	if err != nil {
		return 0, err
	}

	var intervals []datastore.Interval
	switch alg.Type {
	case entities.AlgorithmThreshold, entities.AlgorithmEnergy:
		clip, err := audio.Load(e.media, rec.AudioPath, 0, 0)
		if err != nil {
			return 0, err
		}
		if err := p.Report(ctx, 40, "scanning signal"); err != nil {
			return 0, err
		}
		if alg.Type == entities.AlgorithmThreshold {
			intervals, err = DetectThreshold(clip, params)
		} else {
			intervals, err = DetectEnergy(clip, params)
		}
		if err != nil {
			return 0, err
		}
	case entities.AlgorithmExternal:
		if err := p.Report(ctx, 40, "waiting for external service"); err != nil {
			return 0, err
		}
		intervals, err = e.segmentExternal(ctx, alg, rec, params)
		if err != nil {
			return 0, err
		}
	case entities.AlgorithmML:
		return 0, unavailable(alg, "ml segmentation runs as a model task and cannot be executed here")
	default:
		return 0, unavailable(alg, "unknown algorithm type %q", alg.Type)
	}

	if err := p.Report(ctx, 80, "saving segments"); err != nil {
		return 0, err
	}
	intervals = clampToDuration(intervals, rec.Duration)
	return e.store.ReplaceSegments(ctx, seg.ID, intervals)
}

// clampToDuration trims rounding overshoot at the end of the recording.
func clampToDuration(intervals []datastore.Interval, duration float64) []datastore.Interval {
	out := intervals[:0]
	for _, iv := range intervals {
		if iv.Onset >= duration {
			continue
		}
		iv.Offset = math.Min(iv.Offset, duration)
		out = append(out, iv)
	}
	return out
}

// IngestRequest describes a pickle import.
type IngestRequest struct {
	RecordingID uint
	Name        string
	UserID      uint
	// MaxDuration rejects offsets beyond it. Zero uses the recording duration.
	MaxDuration float64
}

// Ingest stores intervals decoded from a pickle as a new completed
// segmentation. The input is rejected as a whole on the first invalid
// interval and nothing is stored.
func (e *Engine) Ingest(ctx context.Context, req IngestRequest, r io.Reader) (*entities.Segmentation, error) {
	rec, err := e.store.GetRecording(ctx, req.RecordingID)
	if err != nil {
		return nil, err
	}
	maxDuration := req.MaxDuration
	if maxDuration <= 0 {
		maxDuration = rec.Duration
	}
	intervals, err := pickle.Ingest(r, pickle.Options{MaxDuration: maxDuration})
	if err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = "Imported segmentation"
	}
	seg := &entities.Segmentation{
		Name:        name,
		RecordingID: rec.ID,
		Status:      entities.StatusInProgress,
		CreatedBy:   req.UserID,
	}
	if err := e.store.CreateSegmentation(ctx, seg); err != nil {
		return nil, err
	}
	if _, err := e.store.ReplaceSegments(ctx, seg.ID, intervals); err != nil {
		if derr := e.store.DeleteSegmentation(ctx, seg.ID); derr != nil {
			return nil, errors.Join(err, derr)
		}
		return nil, err
	}
	if _, err := e.store.TransitionJob(ctx, datastore.KindSegmentation, seg.ID,
		[]entities.JobStatus{entities.StatusInProgress}, entities.StatusCompleted,
		map[string]any{"progress": 100.0}); err != nil {
		return nil, err
	}

	GetLogger().Info("pickle imported",
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.Uint64("segmentation_id", uint64(seg.ID)),
		logger.Int("segments", len(intervals)))
	return e.store.GetSegmentation(ctx, seg.ID)
}
