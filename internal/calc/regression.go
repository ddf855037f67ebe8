package calc

import "math"

// LinearFit is an ordinary-least-squares line fit with standard errors,
// per spec.md §4.E.
type LinearFit struct {
	Slope      float64
	SlopeStdErr float64
	Bias       float64
	BiasStdErr float64
	Correlation float64
}

// SimpleLinearRegression fits y = slope*x + bias by OLS.
func SimpleLinearRegression(x, y []float64) LinearFit {
	n := float64(len(x))
	var sx, sy float64
	for i := range x {
		sx += x[i]
		sy += y[i]
	}
	xbar, ybar := sx/n, sy/n

	var sxx, syy, sxy float64
	for i := range x {
		dx := x[i] - xbar
		dy := y[i] - ybar
		sxx += dx * dx
		syy += dy * dy
		sxy += dx * dy
	}

	slope := sxy / sxx
	bias := ybar - slope*xbar

	var rss float64
	for i := range x {
		pred := slope*x[i] + bias
		res := y[i] - pred
		rss += res * res
	}
	dof := n - 2
	s2 := rss / dof

	return LinearFit{
		Slope:       slope,
		SlopeStdErr: math.Sqrt(s2 / sxx),
		Bias:        bias,
		BiasStdErr:  math.Sqrt(s2 * (1/n + xbar*xbar/sxx)),
		Correlation: sxy / math.Sqrt(sxx*syy),
	}
}

// ForcedZeroInterceptRegression fits y = slope*x (bias pinned at 0),
// used by pump calibration when a duration of 0 should deliver 0 ml.
func ForcedZeroInterceptRegression(x, y []float64) LinearFit {
	n := float64(len(x))
	var sxx, sxy float64
	for i := range x {
		sxx += x[i] * x[i]
		sxy += x[i] * y[i]
	}
	slope := sxy / sxx

	var rss float64
	for i := range x {
		res := y[i] - slope*x[i]
		rss += res * res
	}
	dof := n - 1
	s2 := rss / dof

	return LinearFit{
		Slope:       slope,
		SlopeStdErr: math.Sqrt(s2 / sxx),
		Bias:        0,
		BiasStdErr:  0,
		Correlation: math.NaN(),
	}
}
