package metrics

import "sort"

// quantileEstimator tracks a single quantile of a stream in constant memory
// using the P-squared algorithm (Jain & Chlamtac, 1985). Five markers follow
// the running distribution; marker heights are adjusted with a piecewise
// parabolic fit as observations arrive.
type quantileEstimator struct {
	p       float64
	count   int64
	heights [5]float64
	pos     [5]float64
	desired [5]float64
	rate    [5]float64
}

func newQuantileEstimator(p float64) *quantileEstimator {
	e := &quantileEstimator{p: p}
	e.pos = [5]float64{1, 2, 3, 4, 5}
	e.desired = [5]float64{1, 1 + 2*p, 1 + 4*p, 3 + 2*p, 5}
	e.rate = [5]float64{0, p / 2, p, (1 + p) / 2, 1}
	return e
}

// Observe feeds one sample to the estimator.
func (e *quantileEstimator) Observe(x float64) {
	if e.count < 5 {
		e.heights[e.count] = x
		e.count++
		if e.count == 5 {
			sort.Float64s(e.heights[:])
		}
		return
	}
	e.count++

	// find the cell containing x and clamp the extremes
	var k int
	switch {
	case x < e.heights[0]:
		e.heights[0] = x
		k = 0
	case x >= e.heights[4]:
		e.heights[4] = x
		k = 3
	default:
		for k = 0; k < 4; k++ {
			if x < e.heights[k+1] {
				break
			}
		}
	}

	for i := k + 1; i < 5; i++ {
		e.pos[i]++
	}
	for i := range e.desired {
		e.desired[i] += e.rate[i]
	}

	// nudge interior markers toward their desired positions
	for i := 1; i < 4; i++ {
		d := e.desired[i] - e.pos[i]
		if (d >= 1 && e.pos[i+1]-e.pos[i] > 1) || (d <= -1 && e.pos[i-1]-e.pos[i] < -1) {
			sign := 1.0
			if d < 0 {
				sign = -1.0
			}
			h := e.parabolic(i, sign)
			if e.heights[i-1] < h && h < e.heights[i+1] {
				e.heights[i] = h
			} else {
				e.heights[i] = e.linear(i, sign)
			}
			e.pos[i] += sign
		}
	}
}

func (e *quantileEstimator) parabolic(i int, d float64) float64 {
	return e.heights[i] + d/(e.pos[i+1]-e.pos[i-1])*
		((e.pos[i]-e.pos[i-1]+d)*(e.heights[i+1]-e.heights[i])/(e.pos[i+1]-e.pos[i])+
			(e.pos[i+1]-e.pos[i]-d)*(e.heights[i]-e.heights[i-1])/(e.pos[i]-e.pos[i-1]))
}

func (e *quantileEstimator) linear(i int, d float64) float64 {
	j := i + int(d)
	return e.heights[i] + d*(e.heights[j]-e.heights[i])/(e.pos[j]-e.pos[i])
}

// Value returns the current quantile estimate. With fewer than five samples
// it interpolates over the sorted observations seen so far.
func (e *quantileEstimator) Value() float64 {
	if e.count == 0 {
		return 0
	}
	if e.count < 5 {
		sorted := make([]float64, e.count)
		copy(sorted, e.heights[:e.count])
		sort.Float64s(sorted)
		idx := int(e.p * float64(e.count-1))
		return sorted[idx]
	}
	return e.heights[2]
}
