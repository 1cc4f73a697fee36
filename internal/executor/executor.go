package executor

import (
	"context"
	"errors"
	"time"

	"model_gateway/internal/cache"
	"model_gateway/internal/config"
	"model_gateway/internal/events"
	"model_gateway/internal/metrics"
	"model_gateway/internal/models"
	"model_gateway/internal/registry"
	"model_gateway/internal/serving"
	"model_gateway/internal/utils"
)

// Observer receives served feature vectors for drift analysis. It must not
// block the serving path.
type Observer interface {
	Observe(model string, features []float64)
}

// Executor runs the full prediction path: resolve the active version, get a
// loaded handle, run inference under the caller's deadline, apply the
// confidence policy and record the outcome.
type Executor struct {
	manifest       *config.Manifest
	registry       *registry.Registry
	cache          *cache.Cache
	metrics        *metrics.Aggregator
	drift          Observer
	alerts         events.Queue
	uncertainLabel string
	logger         *utils.Logger
}

// New creates an executor. drift may be nil when drift detection is
// disabled; alerts may be nil when no monitoring queue is configured.
func New(manifest *config.Manifest, reg *registry.Registry, c *cache.Cache, agg *metrics.Aggregator, drift Observer, alerts events.Queue, uncertainLabel string, logger *utils.Logger) *Executor {
	return &Executor{
		manifest:       manifest,
		registry:       reg,
		cache:          c,
		metrics:        agg,
		drift:          drift,
		alerts:         alerts,
		uncertainLabel: uncertainLabel,
		logger:         logger,
	}
}

type inferenceResult struct {
	label      string
	confidence float64
	err        error
}

// Predict serves one prediction. Confidence below the model's threshold
// substitutes the uncertain label in the response; the recorded metrics
// always carry the model's raw output.
func (e *Executor) Predict(ctx context.Context, modelName string, features []float64) (*models.PredictionResult, error) {
	spec, ok := e.manifest.Spec(modelName)
	if !ok {
		return nil, serving.NotFoundf("unknown model %q", modelName)
	}
	if len(features) != spec.Features {
		return nil, serving.Conflictf("model %q expects %d features, got %d", modelName, spec.Features, len(features))
	}

	start := time.Now()

	record, err := e.registry.GetActive(modelName)
	if err != nil {
		e.recordFailure(modelName, start)
		return nil, err
	}

	handle, err := e.cache.GetOrLoad(ctx, record)
	if err != nil {
		e.recordFailure(modelName, start)
		return nil, err
	}

	resultCh := make(chan inferenceResult, 1)
	go func() {
		label, confidence, err := handle.Predictor.Predict(ctx, features)
		resultCh <- inferenceResult{label: label, confidence: confidence, err: err}
	}()

	var res inferenceResult
	select {
	case res = <-resultCh:
	case <-ctx.Done():
		e.recordFailure(modelName, start)
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return nil, serving.Timeoutf("prediction for model %q exceeded deadline", modelName)
		}
		return nil, ctx.Err()
	}

	latencyMs := float64(time.Since(start).Microseconds()) / 1000

	if res.err != nil {
		e.metrics.Record(modelName, metrics.Observation{LatencyMs: latencyMs, Success: false})
		e.logger.Error("inference failed", "model", modelName, "version", record.Version, "error", res.err)
		if serving.IsUnavailable(res.err) {
			return nil, res.err
		}
		return nil, serving.Unavailablef("inference failed for model %q: %v", modelName, res.err)
	}

	result := &models.PredictionResult{
		Prediction: res.label,
		Confidence: res.confidence,
		Version:    record.Version,
		ModelName:  modelName,
		LatencyMs:  latencyMs,
	}
	if res.confidence < spec.ConfidenceThreshold {
		result.Prediction = e.uncertainLabel
		result.FallbackUsed = true
		e.publishLowConfidence(modelName, res.confidence, spec.ConfidenceThreshold)
	}

	e.metrics.Record(modelName, metrics.Observation{
		LatencyMs:  latencyMs,
		Confidence: res.confidence,
		Success:    true,
		Fallback:   result.FallbackUsed,
	})
	if e.drift != nil {
		e.drift.Observe(modelName, features)
	}

	return result, nil
}

// publishLowConfidence pushes a low-confidence alert onto the monitoring
// queue. Delivery is best effort and never blocks or fails the prediction:
// a full queue drops the alert.
func (e *Executor) publishLowConfidence(modelName string, confidence, threshold float64) {
	if e.alerts == nil {
		return
	}
	event, err := events.NewLowConfidenceEvent(&models.LowConfidenceEvent{
		ModelName:  modelName,
		Confidence: confidence,
		Threshold:  threshold,
		Timestamp:  time.Now().UTC(),
	})
	if err != nil {
		return
	}
	if !e.alerts.TryEnqueue(event) {
		e.logger.Debug("low confidence alert dropped", "model", modelName)
	}
}

func (e *Executor) recordFailure(modelName string, start time.Time) {
	latencyMs := float64(time.Since(start).Microseconds()) / 1000
	e.metrics.Record(modelName, metrics.Observation{LatencyMs: latencyMs, Success: false})
}

// Preload warms the cache for every model with an active version. Load
// failures are logged and skipped so one broken artifact cannot block
// startup.
func (e *Executor) Preload(ctx context.Context) {
	for name, version := range e.registry.ActiveVersions() {
		record, err := e.registry.GetRecord(name, version)
		if err != nil {
			continue
		}
		if _, err := e.cache.GetOrLoad(ctx, record); err != nil {
			e.logger.Warn("preload failed", "model", name, "version", version, "error", err)
		}
	}
}

// ModelInfo lists every manifest model with its serving state.
func (e *Executor) ModelInfo() []models.ModelInfo {
	infos := make([]models.ModelInfo, 0, len(e.manifest.Names()))
	for _, name := range e.manifest.Names() {
		spec, _ := e.manifest.Spec(name)
		info := models.ModelInfo{Name: name, ConfidenceThreshold: spec.ConfidenceThreshold}
		if record, err := e.registry.GetActive(name); err == nil {
			info.Version = record.Version
			_, info.Loaded = e.cache.Get(record.Key())
		}
		infos = append(infos, info)
	}
	return infos
}
