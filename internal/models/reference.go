package models

import (
	"math"
	"sort"
	"time"
)

//
// Reference distributions (reference_stats)
//

// FeatureStats holds the baseline statistics for a single input feature.
// Bins and Proportions describe a fixed histogram: Bins has len(Proportions)+1
// edges, Proportions sums to 1 over the reference sample.
type FeatureStats struct {
	Mean        float64   `json:"mean"`
	Std         float64   `json:"std"`
	Min         float64   `json:"min"`
	Max         float64   `json:"max"`
	Median      float64   `json:"median"`
	Bins        []float64 `json:"bins"`
	Proportions []float64 `json:"proportions"`
}

// ReferenceDistribution is the per-model baseline captured at registration
// time. Read-only after capture unless explicitly replaced.
type ReferenceDistribution struct {
	ModelName  string         `json:"model_name"`
	Features   []FeatureStats `json:"features"`
	SampleSize int            `json:"sample_size"`
	CapturedAt time.Time      `json:"captured_at"`
}

// DefaultHistogramBins is the histogram resolution used when capturing a
// reference from samples.
const DefaultHistogramBins = 10

// ReferenceFromSamples builds a reference distribution from a sample matrix
// (rows are observations, columns are features). All rows must have the same
// width; an empty sample set yields a nil reference.
func ReferenceFromSamples(modelName string, samples [][]float64, bins int) *ReferenceDistribution {
	if len(samples) == 0 || len(samples[0]) == 0 {
		return nil
	}
	if bins <= 0 {
		bins = DefaultHistogramBins
	}

	width := len(samples[0])
	ref := &ReferenceDistribution{
		ModelName:  modelName,
		Features:   make([]FeatureStats, width),
		SampleSize: len(samples),
		CapturedAt: time.Now().UTC(),
	}

	column := make([]float64, len(samples))
	for f := 0; f < width; f++ {
		for i, row := range samples {
			column[i] = row[f]
		}
		ref.Features[f] = featureStatsFromColumn(column, bins)
	}
	return ref
}

func featureStatsFromColumn(values []float64, bins int) FeatureStats {
	n := float64(len(values))

	var sum float64
	min, max := values[0], values[0]
	for _, v := range values {
		sum += v
		if v < min {
			min = v
		}
		if v > max {
			max = v
		}
	}
	mean := sum / n

	var variance float64
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= n

	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	median := sorted[len(sorted)/2]
	if len(sorted)%2 == 0 {
		median = (sorted[len(sorted)/2-1] + sorted[len(sorted)/2]) / 2
	}

	stats := FeatureStats{
		Mean:   mean,
		Std:    math.Sqrt(variance),
		Min:    min,
		Max:    max,
		Median: median,
	}
	stats.Bins, stats.Proportions = histogram(values, min, max, bins)
	return stats
}

// histogram buckets values into equal-width bins over [min, max]. A constant
// feature degenerates into a single bin holding everything.
func histogram(values []float64, min, max float64, bins int) ([]float64, []float64) {
	if max <= min {
		return []float64{min, min + 1}, []float64{1}
	}

	edges := make([]float64, bins+1)
	step := (max - min) / float64(bins)
	for i := range edges {
		edges[i] = min + float64(i)*step
	}
	edges[bins] = max

	counts := make([]float64, bins)
	for _, v := range values {
		idx := int((v - min) / step)
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}

	total := float64(len(values))
	for i := range counts {
		counts[i] /= total
	}
	return edges, counts
}

// BinProportions buckets a window of values into this feature's reference
// bins, clamping out-of-range observations into the edge bins.
func (s *FeatureStats) BinProportions(values []float64) []float64 {
	bins := len(s.Proportions)
	counts := make([]float64, bins)
	if bins == 0 || len(values) == 0 {
		return counts
	}

	lo := s.Bins[0]
	hi := s.Bins[len(s.Bins)-1]
	step := (hi - lo) / float64(bins)
	for _, v := range values {
		var idx int
		if step > 0 {
			idx = int((v - lo) / step)
		}
		if idx >= bins {
			idx = bins - 1
		}
		if idx < 0 {
			idx = 0
		}
		counts[idx]++
	}

	total := float64(len(values))
	for i := range counts {
		counts[i] /= total
	}
	return counts
}
