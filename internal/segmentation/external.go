package segmentation

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/battycoda/battycoda/internal/datastore"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/pickle"
	"github.com/battycoda/battycoda/internal/privacy"
)

const maxExternalResponse = 16 << 20

type externalRequest struct {
	AudioPath   string  `json:"audio_path"`
	RecordingID uint    `json:"recording_id"`
	SampleRate  int     `json:"sample_rate"`
	Duration    float64 `json:"duration"`
	Params      Params  `json:"params"`
}

type externalResponse struct {
	Onsets  []float64 `json:"onsets"`
	Offsets []float64 `json:"offsets"`
	Error   string    `json:"error"`
}

func unavailable(alg *entities.SegmentationAlgorithm, format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: %s: %s", errors.ErrAlgorithmUnavailable, alg.Name, fmt.Sprintf(format, args...))).
		Component("segmentation").
		Category(errors.CategoryAlgorithmUnavailable).
		Context("algorithm", alg.Name).
		Context("algorithm_type", string(alg.Type)).
		Build()
}

// segmentExternal posts the job to the algorithm's service and validates
// the returned intervals against the recording duration.
func (e *Engine) segmentExternal(ctx context.Context, alg *entities.SegmentationAlgorithm, rec *entities.Recording, p Params) ([]datastore.Interval, error) {
	if alg.ServiceURL == "" {
		return nil, unavailable(alg, "no service URL configured")
	}
	target := strings.TrimRight(alg.ServiceURL, "/") + "/" + strings.TrimLeft(alg.Endpoint, "/")

	abs, err := e.media.Abs(rec.AudioPath)
	if err != nil {
		return nil, err
	}

	ctx, cancel := context.WithTimeout(ctx, e.externalTimeout)
	defer cancel()

	resp, err := e.http.Post(ctx, target, "", externalRequest{
		AudioPath:   abs,
		RecordingID: rec.ID,
		SampleRate:  rec.SampleRate,
		Duration:    rec.Duration,
		Params:      p,
	})
	if err != nil {
		return nil, unavailable(alg, "%s", privacy.ScrubMessage(err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable(alg, "status %d: %s", resp.StatusCode, httpclient.ErrorBody(resp))
	}

	var body externalResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxExternalResponse)).Decode(&body); err != nil {
		return nil, unavailable(alg, "malformed response: %v", err)
	}
	if body.Error != "" {
		return nil, unavailable(alg, "%s", body.Error)
	}
	return pickle.Validate(body.Onsets, body.Offsets, pickle.Options{MaxDuration: rec.Duration})
}
