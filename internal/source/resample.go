package source

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/interp"
)

// Resample linearly interpolates x, sampled at from Hz, onto a grid at to Hz
// covering the same duration. Sample i of the result lies at i/to seconds;
// points past the last input sample take its value.
func Resample(x []float64, from, to float64) ([]float64, error) {
	if from <= 0 || to <= 0 {
		return nil, fmt.Errorf("invalid resampling %v Hz -> %v Hz", from, to)
	}
	if from == to || len(x) == 0 {
		return append([]float64(nil), x...), nil
	}

	duration := float64(len(x)) / from
	n := int(math.Ceil(duration*to - 1e-9))
	out := make([]float64, n)
	if len(x) == 1 {
		for i := range out {
			out[i] = x[0]
		}
		return out, nil
	}

	xs := make([]float64, len(x))
	for i := range xs {
		xs[i] = float64(i) / from
	}
	var pl interp.PiecewiseLinear
	if err := pl.Fit(xs, x); err != nil {
		return nil, fmt.Errorf("resample: %w", err)
	}

	for i := range out {
		out[i] = pl.Predict(float64(i) / to)
	}
	return out, nil
}
