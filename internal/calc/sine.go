package calc

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"
)

// SineFit is the result of fitting C + A*sin(2*pi*f*t + phi) to a
// sample trace at a known frequency f.
type SineFit struct {
	C   float64
	A   float64
	Phi float64
	AIC float64

	// Outliers holds the indices (into the original input) dropped
	// during iteratively reweighted fitting.
	Outliers []int
}

// SineRegressionOptions configures the optional Gaussian prior on C and
// the robust outlier cutoff.
type SineRegressionOptions struct {
	Frequency float64 // Hz

	// PriorC/PriorLambda add a Gaussian-prior penalty on the DC term:
	// lambda is added to the [0,0] normal-equation entry and
	// lambda*PriorC to its RHS. Zero PriorLambda disables the prior.
	PriorC      float64
	PriorLambda float64

	// OutlierZThreshold is the robust-z (MAD-scaled) cutoff above which
	// the single worst point is dropped per iteration. Zero disables
	// outlier rejection. See DESIGN.md for why 3.5 was chosen.
	OutlierZThreshold float64
	MaxOutlierRounds  int
}

// SineRegression solves the weighted normal equations for the basis
// [1, sin(2*pi*f*t), cos(2*pi*f*t)], optionally rejecting outliers via
// iteratively reweighted residuals, per spec.md §4.E.
func SineRegression(t, y []float64, opts SineRegressionOptions) SineFit {
	activeT := append([]float64(nil), t...)
	activeY := append([]float64(nil), y...)
	activeIdx := make([]int, len(t))
	for i := range activeIdx {
		activeIdx[i] = i
	}

	rounds := opts.MaxOutlierRounds
	var dropped []int

	var fit SineFit
	for {
		fit = fitOnce(activeT, activeY, opts)
		if opts.OutlierZThreshold <= 0 || rounds <= 0 || len(activeT) <= 3 {
			break
		}
		worst, worstZ := worstResidual(activeT, activeY, fit, opts.Frequency)
		if worstZ <= opts.OutlierZThreshold {
			break
		}
		dropped = append(dropped, activeIdx[worst])
		activeT = removeAt(activeT, worst)
		activeY = removeAt(activeY, worst)
		activeIdx = removeIntAt(activeIdx, worst)
		rounds--
	}
	fit.Outliers = dropped
	return fit
}

func fitOnce(t, y []float64, opts SineRegressionOptions) SineFit {
	n := len(t)
	w := 2 * math.Pi * opts.Frequency

	var rss float64
	allZero := true
	for _, v := range y {
		if v != 0 {
			allZero = false
		}
	}

	x := mat.NewDense(n, 3, nil)
	for i := 0; i < n; i++ {
		x.Set(i, 0, 1)
		x.Set(i, 1, math.Sin(w*t[i]))
		x.Set(i, 2, math.Cos(w*t[i]))
	}
	yv := mat.NewVecDense(n, y)

	var xtx mat.Dense
	xtx.Mul(x.T(), x)
	var xty mat.VecDense
	xty.MulVec(x.T(), yv)

	if opts.PriorLambda > 0 {
		xtx.Set(0, 0, xtx.At(0, 0)+opts.PriorLambda)
		xty.SetVec(0, xty.AtVec(0)+opts.PriorLambda*opts.PriorC)
	}

	var beta mat.VecDense
	if err := beta.SolveVec(&xtx, &xty); err != nil {
		return SineFit{AIC: math.Inf(1)}
	}

	C := beta.AtVec(0)
	b1 := beta.AtVec(1)
	b2 := beta.AtVec(2)
	A := math.Hypot(b1, b2)
	phi := math.Atan2(b2, b1)

	for i := 0; i < n; i++ {
		pred := C + b1*math.Sin(w*t[i]) + b2*math.Cos(w*t[i])
		res := y[i] - pred
		rss += res * res
	}

	aic := aicFromRSS(rss, n)
	if allZero {
		aic = math.Inf(1)
	}

	return SineFit{C: C, A: A, Phi: phi, AIC: aic}
}

// aicFromRSS implements n*log(RSS/n) + 2*3 with a guard: a perfect
// (RSS==0) fit is treated as inadmissible data rather than an infinitely
// good model, per spec.md §8's literal y=0 test.
func aicFromRSS(rss float64, n int) float64 {
	if rss <= 0 {
		return math.Inf(1)
	}
	return float64(n)*math.Log(rss/float64(n)) + 2*3
}

func worstResidual(t, y []float64, fit SineFit, freq float64) (idx int, z float64) {
	w := 2 * math.Pi * freq
	b1 := fit.A * math.Cos(fit.Phi)
	b2 := fit.A * math.Sin(fit.Phi)

	residuals := make([]float64, len(t))
	for i := range t {
		pred := fit.C + b1*math.Sin(w*t[i]) + b2*math.Cos(w*t[i])
		residuals[i] = y[i] - pred
	}
	med := median(residuals)
	absdev := make([]float64, len(residuals))
	for i, r := range residuals {
		absdev[i] = math.Abs(r - med)
	}
	mad := median(absdev)
	if mad == 0 {
		return 0, 0
	}

	worstIdx, worstZ := 0, 0.0
	for i, r := range residuals {
		zi := 0.6745 * math.Abs(r-med) / mad
		if zi > worstZ {
			worstZ = zi
			worstIdx = i
		}
	}
	return worstIdx, worstZ
}

func median(xs []float64) float64 {
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

func removeAt(xs []float64, i int) []float64 {
	out := make([]float64, 0, len(xs)-1)
	out = append(out, xs[:i]...)
	return append(out, xs[i+1:]...)
}

func removeIntAt(xs []int, i int) []int {
	out := make([]int, 0, len(xs)-1)
	out = append(out, xs[:i]...)
	return append(out, xs[i+1:]...)
}

// BestMainsFrequency runs SineRegression at each candidate frequency and
// returns the one minimizing AIC, per spec.md §4.F's startup mains-pick.
func BestMainsFrequency(t, y []float64, candidates []float64) (bestHz float64, bestFit SineFit) {
	bestAIC := math.Inf(1)
	for _, f := range candidates {
		fit := SineRegression(t, y, SineRegressionOptions{Frequency: f})
		if fit.AIC < bestAIC {
			bestAIC = fit.AIC
			bestHz = f
			bestFit = fit
		}
	}
	return bestHz, bestFit
}
