package clustering

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/privacy"
)

const maxCustomResponse = 32 << 20

type customRequest struct {
	Features [][]float64 `json:"features"`
	Params   Params      `json:"params"`
}

type customResponse struct {
	Labels      []int     `json:"labels"`
	Confidences []float64 `json:"confidences"`
	Error       string    `json:"error"`
}

func unavailable(format string, args ...any) error {
	return errors.New(fmt.Errorf("%w: custom clustering: %s", errors.ErrAlgorithmUnavailable, fmt.Sprintf(format, args...))).
		Component("clustering").
		Category(errors.CategoryAlgorithmUnavailable).
		Context("algorithm", AlgorithmCustom).
		Build()
}

// custom posts the feature matrix to an external clustering service. The
// service answers with one label per row (negative for noise) and optional
// confidences.
func (e *Engine) custom(ctx context.Context, X [][]float64, p Params) (*Assignment, error) {
	if e.customURL == "" {
		return nil, unavailable("no service URL configured")
	}
	ctx, cancel := context.WithTimeout(ctx, e.customTimeout)
	defer cancel()

	resp, err := e.http.Post(ctx, e.customURL, "", customRequest{Features: X, Params: p})
	if err != nil {
		return nil, unavailable("%s", privacy.ScrubMessage(err.Error()))
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, unavailable("status %d: %s", resp.StatusCode, httpclient.ErrorBody(resp))
	}
	var body customResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxCustomResponse)).Decode(&body); err != nil {
		return nil, unavailable("malformed response: %v", err)
	}
	if body.Error != "" {
		return nil, unavailable("%s", body.Error)
	}
	if len(body.Labels) != len(X) {
		return nil, unavailable("returned %d labels for %d segments", len(body.Labels), len(X))
	}
	if body.Confidences != nil && len(body.Confidences) != len(X) {
		return nil, unavailable("returned %d confidences for %d segments", len(body.Confidences), len(X))
	}

	out := &Assignment{Labels: body.Labels, Confidence: make([]float64, len(X))}
	for i, l := range out.Labels {
		switch {
		case l < 0:
			out.Labels[i] = Noise
		case body.Confidences != nil:
			out.Confidence[i] = min(1, max(0, body.Confidences[i]))
		default:
			out.Confidence[i] = 1
		}
	}
	return out, nil
}
