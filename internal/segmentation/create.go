package segmentation

import (
	"context"
	"encoding/json"

	"gorm.io/datatypes"

	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/logger"
)

// CreateJobRequest asks for a segmentation of a whole recording. The
// algorithm is chosen by id, or by name when AlgorithmID is zero.
type CreateJobRequest struct {
	RecordingID   uint
	AlgorithmID   uint
	AlgorithmName string
	Name          string
	Params        datatypes.JSON
	UserID        uint
}

// CreateJob validates the request and stores a pending segmentation.
func (e *Engine) CreateJob(ctx context.Context, req CreateJobRequest) (*entities.Segmentation, error) {
	rec, err := e.store.GetRecording(ctx, req.RecordingID)
	if err != nil {
		return nil, err
	}

	var alg *entities.SegmentationAlgorithm
	if req.AlgorithmID != 0 {
		alg, err = e.store.GetAlgorithm(ctx, req.AlgorithmID)
	} else {
		alg, err = e.store.GetAlgorithmByName(ctx, req.AlgorithmName)
	}
	if err != nil {
		return nil, err
	}
	if !alg.IsActive {
		return nil, invalidParams("algorithm %q is not active", alg.Name)
	}
	if _, err := mergeParams(e.defaults, alg.DefaultParams, req.Params); err != nil {
		return nil, err
	}

	name := req.Name
	if name == "" {
		name = alg.Name + " segmentation of " + rec.Name
	}
	algorithmID := alg.ID
	seg := &entities.Segmentation{
		Name:        name,
		RecordingID: rec.ID,
		AlgorithmID: &algorithmID,
		Params:      req.Params,
		CreatedBy:   req.UserID,
	}
	if err := e.store.CreateSegmentation(ctx, seg); err != nil {
		return nil, err
	}
	GetLogger().Info("segmentation queued",
		logger.Uint64("segmentation_id", uint64(seg.ID)),
		logger.Uint64("recording_id", uint64(rec.ID)),
		logger.String("algorithm", alg.Name))
	return seg, nil
}

// builtinAlgorithms are the in-process strategies every installation has.
var builtinAlgorithms = []entities.SegmentationAlgorithm{
	{Name: "threshold", Type: entities.AlgorithmThreshold, IsActive: true},
	{Name: "energy", Type: entities.AlgorithmEnergy, IsActive: true},
}

// EnsureBuiltinAlgorithms creates the threshold and energy algorithms when
// they are missing. Their default parameters come from configuration.
func (e *Engine) EnsureBuiltinAlgorithms(ctx context.Context) error {
	defaults, err := json.Marshal(e.defaults)
	if err != nil {
		return err
	}
	for _, builtin := range builtinAlgorithms {
		_, err := e.store.GetAlgorithmByName(ctx, builtin.Name)
		if err == nil {
			continue
		}
		if !errors.IsNotFound(err) {
			return err
		}
		alg := builtin
		alg.DefaultParams = datatypes.JSON(defaults)
		if err := e.store.CreateAlgorithm(ctx, &alg); err != nil {
			return err
		}
		GetLogger().Info("created builtin segmentation algorithm", logger.String("name", alg.Name))
	}
	return nil
}
