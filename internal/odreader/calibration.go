package odreader

import (
	"math"
	"sort"

	"gonum.org/v1/gonum/mat"

	"github.com/biostacklabs/reactorcore/internal/model"
)

// InvertResult is the outcome of mapping a photodiode voltage back to a
// calibrated OD600 value.
type InvertResult struct {
	OD600     float64
	Suggested bool // true if the value was clipped to an extremum advisory
}

// Invert applies the calibration polynomial's inverse, per spec.md
// §4.F item 5: root-find the monotone branch nearest the previous OD
// estimate; if the voltage lies beyond the calibrated extremum, clip to
// the nearest extremum and flag the result as a "suggested" advisory.
func Invert(cal model.ODCalibration, voltage, previousOD600 float64) InvertResult {
	if voltage <= cal.MinVoltage {
		return InvertResult{OD600: cal.MinOD600, Suggested: true}
	}
	if voltage >= cal.MaxVoltage {
		return InvertResult{OD600: cal.MaxOD600, Suggested: true}
	}

	roots := realRootsNear(cal.CurveData, voltage)
	if len(roots) == 0 {
		// No real root in range: clip to whichever extremum the previous
		// estimate is closer to.
		if math.Abs(previousOD600-cal.MinOD600) < math.Abs(previousOD600-cal.MaxOD600) {
			return InvertResult{OD600: cal.MinOD600, Suggested: true}
		}
		return InvertResult{OD600: cal.MaxOD600, Suggested: true}
	}

	best := roots[0]
	bestDist := math.Abs(roots[0] - previousOD600)
	for _, r := range roots[1:] {
		if d := math.Abs(r - previousOD600); d < bestDist {
			best, bestDist = r, d
		}
	}
	if best < cal.MinOD600 || best > cal.MaxOD600 {
		return InvertResult{OD600: clampFloat(best, cal.MinOD600, cal.MaxOD600), Suggested: true}
	}
	return InvertResult{OD600: best}
}

// realRootsNear returns the real roots (within a small imaginary-part
// tolerance) of curveData (coefficients high power -> low power) minus
// target, via a companion-matrix eigenvalue solve.
func realRootsNear(curveDataHighToLow []float64, target float64) []float64 {
	n := len(curveDataHighToLow)
	if n < 2 {
		return nil
	}
	// Reverse to low->high and subtract target from the constant term.
	lowToHigh := make([]float64, n)
	for i, c := range curveDataHighToLow {
		lowToHigh[n-1-i] = c
	}
	lowToHigh[0] -= target

	degree := n - 1
	lead := lowToHigh[degree]
	if lead == 0 {
		return nil
	}
	coeffs := make([]float64, degree)
	for i := 0; i < degree; i++ {
		coeffs[i] = lowToHigh[i] / lead
	}

	C := mat.NewDense(degree, degree, nil)
	for i := 0; i < degree; i++ {
		C.Set(i, degree-1, -coeffs[i])
	}
	for i := 1; i < degree; i++ {
		C.Set(i, i-1, 1)
	}

	var eig mat.Eigen
	if ok := eig.Factorize(C, mat.EigenNone); !ok {
		return nil
	}
	values := eig.Values(nil)

	var roots []float64
	for _, v := range values {
		if math.Abs(imag(v)) < 1e-6 {
			roots = append(roots, real(v))
		}
	}
	sort.Float64s(roots)
	return roots
}

func clampFloat(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
