package predictor

import (
	"context"
	"encoding/json"
	"fmt"
	"math"

	"model_gateway/internal/serving"
)

// Predictor runs inference for one loaded model version.
type Predictor interface {
	// Predict scores one feature vector and returns the winning label with
	// its confidence in [0, 1].
	Predict(ctx context.Context, features []float64) (string, float64, error)
}

// artifact is the serialized model format. Two families are supported:
// "logistic" (binary, weights + bias) and "centroid" (nearest class
// centroid with softmax-normalized distances).
type artifact struct {
	Schema    int         `json:"schema"`
	ModelType string      `json:"model_type"`
	Features  int         `json:"features"`
	Labels    []string    `json:"labels"`
	Weights   []float64   `json:"weights,omitempty"`
	Bias      float64     `json:"bias,omitempty"`
	Centroids [][]float64 `json:"centroids,omitempty"`
}

// New decodes a serialized artifact into a ready predictor. Decode or
// validation failures surface as load errors, not inference errors.
func New(data []byte) (Predictor, error) {
	var a artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("failed to decode model artifact: %w", err)
	}
	if a.Features <= 0 {
		return nil, fmt.Errorf("model artifact declares invalid feature count %d", a.Features)
	}

	switch a.ModelType {
	case "logistic":
		if len(a.Weights) != a.Features {
			return nil, fmt.Errorf("logistic artifact has %d weights for %d features", len(a.Weights), a.Features)
		}
		if len(a.Labels) != 2 {
			return nil, fmt.Errorf("logistic artifact needs exactly 2 labels, got %d", len(a.Labels))
		}
		return &logistic{features: a.Features, labels: [2]string{a.Labels[0], a.Labels[1]}, weights: a.Weights, bias: a.Bias}, nil
	case "centroid":
		if len(a.Centroids) == 0 || len(a.Centroids) != len(a.Labels) {
			return nil, fmt.Errorf("centroid artifact has %d centroids for %d labels", len(a.Centroids), len(a.Labels))
		}
		for i, c := range a.Centroids {
			if len(c) != a.Features {
				return nil, fmt.Errorf("centroid %d has %d coordinates for %d features", i, len(c), a.Features)
			}
		}
		return &centroid{features: a.Features, labels: a.Labels, centroids: a.Centroids}, nil
	default:
		return nil, fmt.Errorf("unsupported model type %q", a.ModelType)
	}
}

type logistic struct {
	features int
	labels   [2]string
	weights  []float64
	bias     float64
}

func (p *logistic) Predict(ctx context.Context, features []float64) (string, float64, error) {
	if len(features) != p.features {
		return "", 0, serving.Unavailablef("expected %d features, got %d", p.features, len(features))
	}

	z := p.bias
	for i, w := range p.weights {
		z += w * features[i]
	}
	prob := 1 / (1 + math.Exp(-z))

	// labels[1] is the positive class
	if prob >= 0.5 {
		return p.labels[1], prob, nil
	}
	return p.labels[0], 1 - prob, nil
}

type centroid struct {
	features  int
	labels    []string
	centroids [][]float64
}

func (p *centroid) Predict(ctx context.Context, features []float64) (string, float64, error) {
	if len(features) != p.features {
		return "", 0, serving.Unavailablef("expected %d features, got %d", p.features, len(features))
	}

	// softmax over negative distances turns proximity into confidence
	scores := make([]float64, len(p.centroids))
	best, max := 0, math.Inf(-1)
	for i, c := range p.centroids {
		var dist float64
		for j := range c {
			d := features[j] - c[j]
			dist += d * d
		}
		scores[i] = -math.Sqrt(dist)
		if scores[i] > max {
			best, max = i, scores[i]
		}
	}

	var sum float64
	for i := range scores {
		scores[i] = math.Exp(scores[i] - max)
		sum += scores[i]
	}
	return p.labels[best], scores[best] / sum, nil
}
