package metrics

import (
	"math"
	"sort"
	"sync"
	"time"

	"model_gateway/internal/models"
)

const lowConfidenceRingSize = 100

// Observation is one prediction outcome as seen by the aggregator.
type Observation struct {
	LatencyMs  float64
	Confidence float64
	Success    bool
	Fallback   bool
}

// PredictionCounts are untorn outcome counters for one model. A recorded
// observation bumps Total and exactly one of Success or Failure.
type PredictionCounts struct {
	Total    int64 `json:"total"`
	Success  int64 `json:"success"`
	Failure  int64 `json:"failure"`
	Fallback int64 `json:"fallback"`
}

// LatencyStats summarizes serving latency in milliseconds.
type LatencyStats struct {
	Count int64   `json:"count"`
	Mean  float64 `json:"mean"`
	P50   float64 `json:"p50"`
	P95   float64 `json:"p95"`
	P99   float64 `json:"p99"`
}

// ConfidenceStats summarizes raw model confidence. Fallback substitution
// never rewrites the recorded confidence.
type ConfidenceStats struct {
	Count              int64   `json:"count"`
	Mean               float64 `json:"mean"`
	Min                float64 `json:"min"`
	Max                float64 `json:"max"`
	LowConfidenceCount int64   `json:"low_confidence_count"`
}

// ModelSnapshot is a point-in-time view of one model's metrics.
type ModelSnapshot struct {
	Predictions PredictionCounts `json:"predictions"`
	Latencies   LatencyStats     `json:"latencies"`
	Confidence  ConfidenceStats  `json:"confidence"`
}

// modelAggregate holds one model's counters behind its own lock so hot
// models do not contend with each other.
type modelAggregate struct {
	mu sync.Mutex

	total    int64
	success  int64
	failure  int64
	fallback int64

	latencyCount int64
	latencySum   float64
	p50, p95     *quantileEstimator
	p99          *quantileEstimator

	confidenceCount int64
	confidenceSum   float64
	confidenceMin   float64
	confidenceMax   float64
	lowConfidence   int64
}

func newModelAggregate() *modelAggregate {
	return &modelAggregate{
		p50:           newQuantileEstimator(0.50),
		p95:           newQuantileEstimator(0.95),
		p99:           newQuantileEstimator(0.99),
		confidenceMin: math.Inf(1),
		confidenceMax: math.Inf(-1),
	}
}

// Aggregator accumulates per-model serving metrics in bounded memory.
// Percentiles come from streaming estimators, never from retained samples.
type Aggregator struct {
	thresholds map[string]float64

	mu     sync.RWMutex
	byName map[string]*modelAggregate

	eventsMu sync.Mutex
	events   []models.LowConfidenceEvent
	eventPos int
}

// NewAggregator creates an aggregator. thresholds supplies each model's
// low-confidence boundary.
func NewAggregator(thresholds map[string]float64) *Aggregator {
	return &Aggregator{
		thresholds: thresholds,
		byName:     make(map[string]*modelAggregate),
	}
}

func (a *Aggregator) aggregate(model string) *modelAggregate {
	a.mu.RLock()
	agg, ok := a.byName[model]
	a.mu.RUnlock()
	if ok {
		return agg
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if agg, ok = a.byName[model]; ok {
		return agg
	}
	agg = newModelAggregate()
	a.byName[model] = agg
	return agg
}

// Record adds one observation. All counters for the observation move under
// one lock acquisition, so concurrent readers never see a half-applied
// update.
func (a *Aggregator) Record(model string, obs Observation) {
	agg := a.aggregate(model)

	var lowConfidence bool
	threshold := a.thresholds[model]

	agg.mu.Lock()
	agg.total++
	if obs.Success {
		agg.success++
	} else {
		agg.failure++
	}
	if obs.Fallback {
		agg.fallback++
	}

	agg.latencyCount++
	agg.latencySum += obs.LatencyMs
	agg.p50.Observe(obs.LatencyMs)
	agg.p95.Observe(obs.LatencyMs)
	agg.p99.Observe(obs.LatencyMs)

	if obs.Success {
		agg.confidenceCount++
		agg.confidenceSum += obs.Confidence
		if obs.Confidence < agg.confidenceMin {
			agg.confidenceMin = obs.Confidence
		}
		if obs.Confidence > agg.confidenceMax {
			agg.confidenceMax = obs.Confidence
		}
		if threshold > 0 && obs.Confidence < threshold {
			agg.lowConfidence++
			lowConfidence = true
		}
	}
	agg.mu.Unlock()

	if lowConfidence {
		a.recordLowConfidence(models.LowConfidenceEvent{
			ModelName:  model,
			Confidence: obs.Confidence,
			Threshold:  threshold,
			Timestamp:  time.Now().UTC(),
		})
	}
}

// recordLowConfidence appends to a fixed-size ring; the oldest event is
// overwritten once the ring fills.
func (a *Aggregator) recordLowConfidence(event models.LowConfidenceEvent) {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()

	if len(a.events) < lowConfidenceRingSize {
		a.events = append(a.events, event)
		return
	}
	a.events[a.eventPos] = event
	a.eventPos = (a.eventPos + 1) % lowConfidenceRingSize
}

// LowConfidenceEvents returns the retained low-confidence events, oldest
// first.
func (a *Aggregator) LowConfidenceEvents() []models.LowConfidenceEvent {
	a.eventsMu.Lock()
	defer a.eventsMu.Unlock()

	out := make([]models.LowConfidenceEvent, 0, len(a.events))
	out = append(out, a.events[a.eventPos:]...)
	out = append(out, a.events[:a.eventPos]...)
	return out
}

// Snapshot returns one model's metrics. Unknown models yield a zero
// snapshot.
func (a *Aggregator) Snapshot(model string) ModelSnapshot {
	a.mu.RLock()
	agg, ok := a.byName[model]
	a.mu.RUnlock()
	if !ok {
		return ModelSnapshot{}
	}
	return agg.snapshot()
}

// SnapshotAll returns metrics for every model seen so far.
func (a *Aggregator) SnapshotAll() map[string]ModelSnapshot {
	a.mu.RLock()
	names := make([]string, 0, len(a.byName))
	for name := range a.byName {
		names = append(names, name)
	}
	a.mu.RUnlock()
	sort.Strings(names)

	out := make(map[string]ModelSnapshot, len(names))
	for _, name := range names {
		out[name] = a.Snapshot(name)
	}
	return out
}

// Reset discards one model's accumulated metrics.
func (a *Aggregator) Reset(model string) {
	a.mu.Lock()
	delete(a.byName, model)
	a.mu.Unlock()
}

func (g *modelAggregate) snapshot() ModelSnapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	snap := ModelSnapshot{
		Predictions: PredictionCounts{
			Total:    g.total,
			Success:  g.success,
			Failure:  g.failure,
			Fallback: g.fallback,
		},
		Latencies: LatencyStats{
			Count: g.latencyCount,
			P50:   g.p50.Value(),
			P95:   g.p95.Value(),
			P99:   g.p99.Value(),
		},
		Confidence: ConfidenceStats{
			Count:              g.confidenceCount,
			LowConfidenceCount: g.lowConfidence,
		},
	}
	if g.latencyCount > 0 {
		snap.Latencies.Mean = g.latencySum / float64(g.latencyCount)
	}
	if g.confidenceCount > 0 {
		snap.Confidence.Mean = g.confidenceSum / float64(g.confidenceCount)
		snap.Confidence.Min = g.confidenceMin
		snap.Confidence.Max = g.confidenceMax
	}
	return snap
}
