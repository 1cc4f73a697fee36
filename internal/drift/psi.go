package drift

import (
	"math"

	"model_gateway/internal/models"
)

// psiEpsilon floors bin proportions so empty bins cannot produce infinite
// index values.
const psiEpsilon = 1e-4

// populationStabilityIndex compares an observed bin distribution against a
// reference one. Values above ~0.2 conventionally indicate a significant
// shift.
func populationStabilityIndex(reference, observed []float64) float64 {
	var psi float64
	for i := range reference {
		p := math.Max(reference[i], psiEpsilon)
		q := math.Max(observed[i], psiEpsilon)
		psi += (q - p) * math.Log(q/p)
	}
	return psi
}

// evaluate scores a full window against the reference distribution. It
// returns the per-feature index values, computed over the reference's
// histogram bins.
func evaluate(ref *models.ReferenceDistribution, window [][]float64) []float64 {
	scores := make([]float64, len(ref.Features))

	column := make([]float64, len(window))
	for f := range ref.Features {
		for i, row := range window {
			column[i] = row[f]
		}
		observed := ref.Features[f].BinProportions(column)
		scores[f] = populationStabilityIndex(ref.Features[f].Proportions, observed)
	}
	return scores
}
