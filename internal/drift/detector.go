package drift

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"model_gateway/internal/events"
	"model_gateway/internal/models"
	"model_gateway/internal/storage"
	"model_gateway/internal/utils"
)

// observation is one feature vector queued for windowing.
type observation struct {
	model    string
	features []float64
}

// Detector watches serving inputs for distribution shift. Observe is
// fire-and-forget: the serving path hands off a feature vector and moves on,
// a worker goroutine does the windowing and scoring. Each model keeps a
// bounded rolling window; when the window fills it is scored against the
// stored reference with a population stability index per feature, and at
// most one drift event is emitted per evaluation cycle.
type Detector struct {
	store      storage.ReferenceStore
	queue      events.Queue
	windowSize int
	threshold  float64
	logger     *utils.Logger

	refsMu sync.RWMutex
	refs   map[string]*models.ReferenceDistribution

	stateMu sync.Mutex
	windows map[string][][]float64
	flagged map[string]bool

	observations chan observation
	stopChan     chan struct{}
	stoppedChan  chan struct{}
}

// New creates a detector and loads persisted reference distributions.
func New(store storage.ReferenceStore, queue events.Queue, windowSize int, threshold float64, logger *utils.Logger) (*Detector, error) {
	if windowSize <= 0 {
		windowSize = 100
	}
	if threshold <= 0 {
		threshold = 0.2
	}

	refs, err := store.LoadReferences(context.Background())
	if err != nil {
		return nil, fmt.Errorf("failed to load reference distributions: %w", err)
	}

	return &Detector{
		store:        store,
		queue:        queue,
		windowSize:   windowSize,
		threshold:    threshold,
		logger:       logger,
		refs:         refs,
		windows:      make(map[string][][]float64),
		flagged:      make(map[string]bool),
		observations: make(chan observation, windowSize*4),
		stopChan:     make(chan struct{}),
		stoppedChan:  make(chan struct{}),
	}, nil
}

// Start launches the windowing worker.
func (d *Detector) Start(ctx context.Context) {
	go d.run(ctx)
}

// Stop drains nothing and stops the worker.
func (d *Detector) Stop() error {
	close(d.stopChan)
	<-d.stoppedChan
	return nil
}

// SetReference stores a new baseline for a model and clears its window and
// flag, since old observations were scored against the old baseline.
func (d *Detector) SetReference(ctx context.Context, ref *models.ReferenceDistribution) error {
	if ref == nil || len(ref.Features) == 0 {
		return fmt.Errorf("reference distribution is empty")
	}
	if err := d.store.SaveReference(ctx, ref); err != nil {
		return fmt.Errorf("failed to persist reference distribution: %w", err)
	}

	d.refsMu.Lock()
	d.refs[ref.ModelName] = ref
	d.refsMu.Unlock()

	d.stateMu.Lock()
	delete(d.windows, ref.ModelName)
	delete(d.flagged, ref.ModelName)
	d.stateMu.Unlock()

	d.logger.Info("reference distribution set", "model", ref.ModelName, "features", len(ref.Features), "samples", ref.SampleSize)
	return nil
}

// Reference returns the stored baseline for a model.
func (d *Detector) Reference(model string) (*models.ReferenceDistribution, bool) {
	d.refsMu.RLock()
	defer d.refsMu.RUnlock()
	ref, ok := d.refs[model]
	return ref, ok
}

// Observe queues one feature vector for drift analysis. It never blocks:
// when the buffer is full the observation is dropped, trading monitoring
// completeness for serving latency.
func (d *Detector) Observe(model string, features []float64) {
	d.refsMu.RLock()
	_, hasRef := d.refs[model]
	d.refsMu.RUnlock()
	if !hasRef {
		return
	}

	copied := append([]float64(nil), features...)
	select {
	case d.observations <- observation{model: model, features: copied}:
	default:
		d.logger.Debug("observation dropped, buffer full", "model", model)
	}
}

// Flagged reports whether a model has been marked for retraining review.
func (d *Detector) Flagged(model string) bool {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	return d.flagged[model]
}

// FlaggedModels returns all models currently marked, sorted.
func (d *Detector) FlaggedModels() []string {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()

	out := make([]string, 0, len(d.flagged))
	for model, set := range d.flagged {
		if set {
			out = append(out, model)
		}
	}
	sort.Strings(out)
	return out
}

// ClearFlag unmarks a model, typically after a retrain and redeploy.
func (d *Detector) ClearFlag(model string) {
	d.stateMu.Lock()
	defer d.stateMu.Unlock()
	delete(d.flagged, model)
}

func (d *Detector) run(ctx context.Context) {
	defer close(d.stoppedChan)

	for {
		select {
		case <-d.stopChan:
			return
		case <-ctx.Done():
			return
		case obs := <-d.observations:
			d.ingest(ctx, obs)
		}
	}
}

// ingest appends one observation and evaluates the window when it fills.
// The window resets after every evaluation, drifted or not.
func (d *Detector) ingest(ctx context.Context, obs observation) {
	d.refsMu.RLock()
	ref := d.refs[obs.model]
	d.refsMu.RUnlock()
	if ref == nil || len(obs.features) != len(ref.Features) {
		return
	}

	d.stateMu.Lock()
	window := append(d.windows[obs.model], obs.features)
	if len(window) < d.windowSize {
		d.windows[obs.model] = window
		d.stateMu.Unlock()
		return
	}
	delete(d.windows, obs.model)
	d.stateMu.Unlock()

	d.evaluateWindow(ctx, obs.model, ref, window)
}

func (d *Detector) evaluateWindow(ctx context.Context, model string, ref *models.ReferenceDistribution, window [][]float64) {
	scores := evaluate(ref, window)

	var drifted []int
	var magnitude float64
	for f, score := range scores {
		if score > d.threshold {
			drifted = append(drifted, f)
		}
		if score > magnitude {
			magnitude = score
		}
	}

	if len(drifted) == 0 {
		d.logger.Debug("window evaluated, no drift", "model", model, "max_psi", magnitude)
		return
	}

	event := models.NewDriftEvent(model, magnitude, drifted, len(window))
	d.stateMu.Lock()
	d.flagged[model] = true
	d.stateMu.Unlock()

	d.logger.Warn("drift detected", "model", model, "magnitude", magnitude, "features", len(drifted))

	envelope, err := events.NewDriftEvent(event)
	if err != nil {
		d.logger.Error("failed to encode drift event", "model", model, "error", err)
		return
	}
	if err := d.queue.Enqueue(ctx, envelope); err != nil {
		// fire-and-forget: a full or closed queue drops the event
		d.logger.Error("failed to enqueue drift event", "model", model, "error", err)
	}
}
