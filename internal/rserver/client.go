// Package rserver is the client for the R model server that trains and
// serves call classifiers.
//
// Endpoints: GET /ping, POST /train/{knn,lda} and POST /predict/{knn,lda}.
// The server boxes scalars in one-element arrays; responses are unboxed
// once before typed decoding.
package rserver

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"github.com/battycoda/battycoda/internal/conf"
	"github.com/battycoda/battycoda/internal/datastore/entities"
	"github.com/battycoda/battycoda/internal/errors"
	"github.com/battycoda/battycoda/internal/httpclient"
	"github.com/battycoda/battycoda/internal/logger"
	"github.com/battycoda/battycoda/internal/observability/metrics"
	"github.com/battycoda/battycoda/internal/privacy"
)

const (
	DefaultPingTimeout    = 5 * time.Second
	DefaultTrainTimeout   = time.Hour
	DefaultPredictTimeout = 60 * time.Second

	// maxResponseBody bounds successful response bodies.
	maxResponseBody = 8 << 20
)

// Algorithms the server can train.
const (
	AlgorithmKNN = "knn"
	AlgorithmLDA = "lda"
)

// Metrics receives request outcomes. *metrics.RServerMetrics implements it.
type Metrics interface {
	metrics.Recorder
	SetUp(healthy bool)
}

type noopMetrics struct{ metrics.NoOpRecorder }

func (noopMetrics) SetUp(bool) {}

// Config configures a Client.
type Config struct {
	URL            string
	PingTimeout    time.Duration
	TrainTimeout   time.Duration
	PredictTimeout time.Duration
	PredictRate    float64 // requests per second, 0 disables pacing
	PredictBurst   int
	HTTP           *httpclient.Client // optional, mainly for tests
	Metrics        Metrics
}

// ConfigFromSettings maps the rserver settings section to a Config.
func ConfigFromSettings(s *conf.RServerSettings) Config {
	return Config{
		URL:            s.URL,
		PingTimeout:    s.PingTimeout,
		TrainTimeout:   s.TrainTimeout,
		PredictTimeout: s.PredictTimeout,
		PredictRate:    s.PredictRate,
		PredictBurst:   s.PredictBurst,
	}
}

// Client talks to one R model server.
type Client struct {
	http           *httpclient.Client
	baseURL        string
	pingTimeout    time.Duration
	trainTimeout   time.Duration
	predictTimeout time.Duration
	limiter        *rate.Limiter
	metrics        Metrics
}

// New creates a client. An empty cfg.URL is a configuration error.
func New(cfg Config) (*Client, error) {
	base := strings.TrimRight(cfg.URL, "/")
	if base == "" {
		return nil, errors.Newf("R server URL is not configured").
			Component("rserver").
			Category(errors.CategoryConfiguration).
			Build()
	}
	if _, err := url.Parse(base); err != nil {
		return nil, errors.New(err).
			Component("rserver").
			Category(errors.CategoryConfiguration).
			Context("url", privacy.RedactURL(base)).
			Build()
	}

	c := &Client{
		http:           cfg.HTTP,
		baseURL:        base,
		pingTimeout:    orDefault(cfg.PingTimeout, DefaultPingTimeout),
		trainTimeout:   orDefault(cfg.TrainTimeout, DefaultTrainTimeout),
		predictTimeout: orDefault(cfg.PredictTimeout, DefaultPredictTimeout),
		metrics:        cfg.Metrics,
	}
	if c.http == nil {
		httpCfg := httpclient.DefaultConfig()
		httpCfg.DefaultTimeout = c.predictTimeout
		c.http = httpclient.New(&httpCfg)
	}
	if c.metrics == nil {
		c.metrics = noopMetrics{}
	}
	c.instrument()
	if cfg.PredictRate > 0 {
		burst := max(cfg.PredictBurst, 1)
		c.limiter = rate.NewLimiter(rate.Limit(cfg.PredictRate), burst)
	}
	return c, nil
}

func orDefault(d, def time.Duration) time.Duration {
	if d <= 0 {
		return def
	}
	return d
}

// BaseURL returns the server URL without a trailing slash.
func (c *Client) BaseURL() string { return c.baseURL }

// Close releases idle connections.
func (c *Client) Close() { c.http.Close() }

// Ping checks server health within the ping timeout.
func (c *Client) Ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, c.pingTimeout)
	defer cancel()

	resp, err := c.http.Get(ctx, c.baseURL+"/ping")
	if err != nil {
		c.metrics.SetUp(false)
		return c.fail(metrics.OpPing, unavailable("/ping", err))
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		c.metrics.SetUp(false)
		return c.fail(metrics.OpPing, unavailable("/ping",
			fmt.Errorf("status %d: %s", resp.StatusCode, httpclient.ErrorBody(resp))))
	}
	c.metrics.SetUp(true)
	c.metrics.RecordOperation(metrics.OpPing, metrics.StatusSuccess)
	return nil
}

// TrainRequest describes one training call.
type TrainRequest struct {
	Algorithm       string // AlgorithmKNN or AlgorithmLDA
	DataFolder      string // absolute path of the staged dataset
	OutputModelPath string // absolute path the server writes the model to
	Params          map[string]string
}

// TrainResult is a successful training response.
type TrainResult struct {
	Accuracy  *float64
	Classes   []string
	Message   string
	ModelPath string // as reported by the server, may be empty
}

// Train posts a training request and waits up to the training timeout.
func (c *Client) Train(ctx context.Context, req TrainRequest) (*TrainResult, error) {
	if req.Algorithm != AlgorithmKNN && req.Algorithm != AlgorithmLDA {
		return nil, errors.New(fmt.Errorf("%w: unknown training algorithm %q", errors.ErrValidation, req.Algorithm)).
			Component("rserver").
			Category(errors.CategoryValidation).
			Build()
	}

	form := url.Values{}
	for k, v := range req.Params {
		form.Set(k, v)
	}
	form.Set("data_folder", req.DataFolder)
	form.Set("output_model_path", req.OutputModelPath)

	ctx, cancel := context.WithTimeout(ctx, c.trainTimeout)
	defer cancel()

	path := "/train/" + req.Algorithm
	log := GetLogger().WithContext(ctx).With(logger.String("endpoint", path))
	log.Info("training request sent", logger.String("data_folder", req.DataFolder))

	var body trainResponse
	if err := c.postForm(ctx, metrics.OpTrain, c.baseURL+path, path, form, &body); err != nil {
		return nil, err
	}
	if failed(body.Status) {
		return nil, c.fail(metrics.OpTrain, serverError(path, body.Message))
	}

	res := &TrainResult{Classes: body.Classes, Message: body.Message, ModelPath: body.ModelPath}
	if body.Accuracy.Valid {
		acc := body.Accuracy.Value
		res.Accuracy = &acc
	}
	c.metrics.RecordOperation(metrics.OpTrain, metrics.StatusSuccess)
	log.Info("training finished", logger.Int("classes", len(res.Classes)))
	return res, nil
}

// PredictRequest describes one prediction call.
type PredictRequest struct {
	ServiceURL string // overrides the client URL when set
	Endpoint   string // e.g. /predict/knn
	ModelPath  string
	WavPath    string
	Format     entities.ResponseFormat
}

// Predict classifies one audio file. Calls are paced by the configured rate.
func (c *Client) Predict(ctx context.Context, req PredictRequest) (Prediction, error) {
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}

	base := c.baseURL
	if req.ServiceURL != "" {
		base = strings.TrimRight(req.ServiceURL, "/")
	}
	endpoint := req.Endpoint
	if !strings.HasPrefix(endpoint, "/") {
		endpoint = "/" + endpoint
	}

	form := url.Values{}
	form.Set("wav_path", req.WavPath)
	form.Set("model_path", req.ModelPath)

	ctx, cancel := context.WithTimeout(ctx, c.predictTimeout)
	defer cancel()

	var body predictResponse
	if err := c.postForm(ctx, metrics.OpPredict, base+endpoint, endpoint, form, &body); err != nil {
		return nil, err
	}
	if failed(body.Status) {
		return nil, c.fail(metrics.OpPredict, serverError(endpoint, body.Message))
	}
	c.metrics.RecordOperation(metrics.OpPredict, metrics.StatusSuccess)
	return toPrediction(req.Format, &body), nil
}

func (c *Client) postForm(ctx context.Context, op, target, path string, form url.Values, out any) error {
	resp, err := c.http.PostForm(ctx, target, form)
	if err != nil {
		return c.fail(op, unavailable(path, err))
	}
	defer drain(resp)

	if resp.StatusCode != http.StatusOK {
		msg := httpclient.ErrorBody(resp)
		var body trainResponse
		if decodeResponse([]byte(msg), &body) == nil && body.Message != "" {
			msg = body.Message
		}
		return c.fail(op, serverError(path, "status "+strconv.Itoa(resp.StatusCode)+": "+msg))
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBody))
	if err != nil {
		return c.fail(op, unavailable(path, err))
	}
	if err := decodeResponse(data, out); err != nil {
		return c.fail(op, serverError(path, err.Error()))
	}
	return nil
}

// instrument times every request through the HTTP client hooks. The
// operation label comes from the endpoint path.
func (c *Client) instrument() {
	var started sync.Map // *http.Request -> time.Time
	c.http.SetBeforeRequestHook(func(req *http.Request) {
		started.Store(req, time.Now())
	})
	c.http.SetAfterResponseHook(func(req *http.Request, resp *http.Response, err error) {
		op := operationFor(req.URL.Path)
		if v, ok := started.LoadAndDelete(req); ok {
			c.metrics.RecordDuration(op, time.Since(v.(time.Time)).Seconds())
		}
		log := GetLogger().WithContext(req.Context())
		switch {
		case err != nil:
			log.Debug("R server request failed",
				logger.String("operation", op), logger.String("path", req.URL.Path), logger.Error(err))
		default:
			log.Trace("R server response",
				logger.String("operation", op), logger.String("path", req.URL.Path),
				logger.Int("status", resp.StatusCode))
		}
	})
}

func operationFor(path string) string {
	switch {
	case strings.HasSuffix(path, "/ping"):
		return metrics.OpPing
	case strings.Contains(path, "/train/"):
		return metrics.OpTrain
	case strings.Contains(path, "/predict/"):
		return metrics.OpPredict
	}
	return "other"
}

func (c *Client) fail(op string, err error) error {
	c.metrics.RecordOperation(op, metrics.StatusError)
	c.metrics.RecordError(op, string(errors.KindOf(err)))
	return err
}

func unavailable(path string, cause error) error {
	return errors.New(fmt.Errorf("%w: %s: %s", errors.ErrModelServerUnavailable, path,
		privacy.ScrubMessage(cause.Error()))).
		Component("rserver").
		Category(errors.CategoryModelServerUnavailable).
		Context("endpoint", path).
		Build()
}

func serverError(path, message string) error {
	if message == "" {
		message = "request was not successful"
	}
	return errors.New(fmt.Errorf("%w: %s: %s", errors.ErrModelServerError, path, message)).
		Component("rserver").
		Category(errors.CategoryModelServerError).
		Context("endpoint", path).
		Build()
}

func drain(resp *http.Response) {
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxResponseBody))
	if err := resp.Body.Close(); err != nil {
		GetLogger().Debug("failed to close response body", logger.Error(err))
	}
}
