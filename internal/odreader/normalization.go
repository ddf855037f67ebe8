package odreader

import (
	"context"
	"fmt"
	"sort"
)

// DefaultNormalizationSamples is od_normalization.py's N_samples.
const DefaultNormalizationSamples = 35

// Normalize runs a short burst of Record ticks and computes each
// channel's median and (sample) variance, the baseline the growth-rate
// calculator scales future readings against and inflates its
// observation covariance from (spec.md §7 supplemented feature,
// grounded on od_normalization.py: a one-shot baseline action distinct
// from the continuous OD reader job). The caller is responsible for
// persisting/publishing the two returned maps retained to
// `od_normalization/median` and `od_normalization/variance`.
func Normalize(ctx context.Context, reader *Reader, samples int) (medians, variances map[string]float64, err error) {
	if samples <= 0 {
		samples = DefaultNormalizationSamples
	}
	readings := make(map[string][]float64)

	for i := 0; i < samples; i++ {
		batch, err := reader.Record(ctx)
		if err != nil {
			return nil, nil, fmt.Errorf("odreader: normalization sample %d: %w", i, err)
		}
		for label, reading := range batch.Readings {
			readings[label] = append(readings[label], reading.OD)
		}
	}

	medians = make(map[string]float64, len(readings))
	variances = make(map[string]float64, len(readings))
	for label, vals := range readings {
		medians[label] = medianOf(vals)
		variances[label] = varianceOf(vals)
	}

	return medians, variances, nil
}

func medianOf(xs []float64) float64 {
	s := append([]float64(nil), xs...)
	sort.Float64s(s)
	n := len(s)
	if n == 0 {
		return 0
	}
	if n%2 == 1 {
		return s[n/2]
	}
	return (s[n/2-1] + s[n/2]) / 2
}

// varianceOf returns the sample variance (n-1 denominator), matching
// Python's statistics.variance used by od_normalization.py.
func varianceOf(xs []float64) float64 {
	n := len(xs)
	if n < 2 {
		return 0
	}
	var mean float64
	for _, x := range xs {
		mean += x
	}
	mean /= float64(n)

	var sumSq float64
	for _, x := range xs {
		d := x - mean
		sumSq += d * d
	}
	return sumSq / float64(n-1)
}
