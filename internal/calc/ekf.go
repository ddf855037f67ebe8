package calc

import (
	"fmt"
	"math"
	"sync"
	"time"

	"gonum.org/v1/gonum/mat"
)

// EKF tracks k filtered OD channels plus a shared instantaneous growth
// rate, per spec.md §4.G:
//
//	OD_{i,t+1} = OD_{i,t} * exp(r_t * dt)
//	r_{t+1}    = r_t + eps
//
// State vector: [OD_1, ..., OD_k, r]. Observation: [OD_1, ..., OD_k]
// with covariance diag(OD_i^2) * R (variance proportional to signal).
type EKF struct {
	dim int // k+1
	dt  float64

	state      *mat.VecDense
	covariance *mat.Dense

	processNoiseCovariance     *mat.Dense // dim x dim
	observationNoiseCovariance *mat.Dense // k x k

	mu                 sync.Mutex
	scaling            bool
	preScaleCovariance *mat.Dense
	scaleTimer         *time.Timer
}

// NewEKF constructs a filter. initialState has length k+1 (k ODs + rate).
func NewEKF(initialState []float64, initialCovariance, processNoiseCovariance, observationNoiseCovariance *mat.Dense, dt float64) (*EKF, error) {
	dim := len(initialState)
	if r, c := initialCovariance.Dims(); r != dim || c != dim {
		return nil, fmt.Errorf("calc: initial covariance must be %dx%d", dim, dim)
	}
	if r, c := processNoiseCovariance.Dims(); r != dim || c != dim {
		return nil, fmt.Errorf("calc: process noise covariance must be %dx%d", dim, dim)
	}
	if r, c := observationNoiseCovariance.Dims(); r != dim-1 || c != dim-1 {
		return nil, fmt.Errorf("calc: observation noise covariance must be %dx%d", dim-1, dim-1)
	}
	return &EKF{
		dim:                        dim,
		dt:                         dt,
		state:                      mat.NewVecDense(dim, append([]float64(nil), initialState...)),
		covariance:                 cloneDense(initialCovariance),
		processNoiseCovariance:     cloneDense(processNoiseCovariance),
		observationNoiseCovariance: cloneDense(observationNoiseCovariance),
	}, nil
}

func cloneDense(m *mat.Dense) *mat.Dense {
	var c mat.Dense
	c.CloneFrom(m)
	return &c
}

// State returns a copy of the current filtered state [OD_1..OD_k, r].
func (e *EKF) State() []float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]float64, e.dim)
	for i := 0; i < e.dim; i++ {
		out[i] = e.state.AtVec(i)
	}
	return out
}

// Rate returns the current growth-rate estimate r.
func (e *EKF) Rate() float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state.AtVec(e.dim - 1)
}

func (e *EKF) predictState(state *mat.VecDense) *mat.VecDense {
	rate := state.AtVec(e.dim - 1)
	next := mat.NewVecDense(e.dim, nil)
	factor := math.Exp(rate * e.dt)
	for i := 0; i < e.dim-1; i++ {
		next.SetVec(i, state.AtVec(i)*factor)
	}
	next.SetVec(e.dim-1, rate)
	return next
}

func (e *EKF) jacobianProcess(state *mat.VecDense) *mat.Dense {
	d := e.dim
	J := mat.NewDense(d, d, nil)
	rate := state.AtVec(d - 1)
	factor := math.Exp(rate * e.dt)
	for i := 0; i < d-1; i++ {
		J.Set(i, i, factor)
		J.Set(i, d-1, state.AtVec(i)*e.dt*factor)
	}
	J.Set(d-1, d-1, 1.0)
	return J
}

// jacobianObservation is [I_k | 0].
func (e *EKF) jacobianObservation() *mat.Dense {
	k := e.dim - 1
	H := mat.NewDense(k, e.dim, nil)
	for i := 0; i < k; i++ {
		H.Set(i, i, 1)
	}
	return H
}

// Predict returns the predicted state and covariance without mutating
// filter state (used internally by Update, exposed for diagnostics).
func (e *EKF) Predict() ([]float64, *mat.Dense) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.predictLocked()
}

func (e *EKF) predictLocked() ([]float64, *mat.Dense) {
	predState := e.predictState(e.state)
	J := e.jacobianProcess(e.state)

	var jCov mat.Dense
	jCov.Mul(J, e.covariance)
	var jCovJt mat.Dense
	jCovJt.Mul(&jCov, J.T())
	var predCov mat.Dense
	predCov.Add(&jCovJt, e.processNoiseCovariance)

	out := make([]float64, e.dim)
	for i := 0; i < e.dim; i++ {
		out[i] = predState.AtVec(i)
	}
	return out, &predCov
}

// Update ingests one observation of length k (the OD channels only,
// never the rate) and applies the standard EKF correction.
func (e *EKF) Update(observation []float64) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	k := e.dim - 1
	if len(observation) != k {
		return fmt.Errorf("calc: expected %d observations, got %d", k, len(observation))
	}

	predStateVals, predCov := e.predictLocked()
	predState := mat.NewVecDense(e.dim, predStateVals)

	residual := mat.NewVecDense(k, nil)
	for i := 0; i < k; i++ {
		residual.SetVec(i, observation[i]-predStateVals[i])
	}

	H := e.jacobianObservation()

	var hCov mat.Dense
	hCov.Mul(H, predCov)
	var hCovHt mat.Dense
	hCovHt.Mul(&hCov, H.T())

	// Observation variance scales with the predicted signal magnitude
	// squared (see spec.md §4.G): diag(OD_i^2) * R.
	scaledR := mat.NewDense(k, k, nil)
	for i := 0; i < k; i++ {
		od := predStateVals[i]
		for j := 0; j < k; j++ {
			scaledR.Set(i, j, od*od*e.observationNoiseCovariance.At(i, j))
		}
	}

	var residCov mat.Dense
	residCov.Add(&hCovHt, scaledR)

	var residCovInv mat.Dense
	if err := residCovInv.Inverse(&residCov); err != nil {
		return fmt.Errorf("calc: residual covariance not invertible: %w", err)
	}

	var predCovHt mat.Dense
	predCovHt.Mul(predCov, H.T())
	var kalmanGain mat.Dense
	kalmanGain.Mul(&predCovHt, &residCovInv)

	var correction mat.VecDense
	correction.MulVec(&kalmanGain, residual)

	var newState mat.VecDense
	newState.AddVec(predState, &correction)

	ident := mat.NewDiagDense(e.dim, onesSlice(e.dim))
	var kH mat.Dense
	kH.Mul(&kalmanGain, H)
	var imKH mat.Dense
	imKH.Sub(ident, &kH)
	var newCov mat.Dense
	newCov.Mul(&imKH, predCov)

	e.state = &newState
	e.covariance = &newCov
	return nil
}

func onesSlice(n int) []float64 {
	s := make([]float64, n)
	for i := range s {
		s[i] = 1
	}
	return s
}

// ScaleODVarianceForNextNSeconds temporarily inflates the OD block of
// the covariance matrix by factor, restoring it after duration unless a
// new call arrives first — in which case the pending restore is
// cancelled and the scale re-applied from the original baseline, per
// spec.md §4.G's dosing-event variance inflation.
func (e *EKF) ScaleODVarianceForNextNSeconds(factor float64, duration time.Duration) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.scaling && e.scaleTimer != nil {
		e.scaleTimer.Stop()
	}
	if e.preScaleCovariance == nil {
		e.preScaleCovariance = cloneDense(e.covariance)
	}

	d := e.dim
	scaled := mat.NewDense(d, d, nil)
	for i := 0; i < d; i++ {
		v := e.preScaleCovariance.At(i, i)
		if i < d-1 {
			v *= factor
		}
		scaled.Set(i, i, v)
	}
	e.scaling = true
	e.covariance = scaled

	e.scaleTimer = time.AfterFunc(duration, e.restoreVariance)
}

func (e *EKF) restoreVariance() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.scaling || e.preScaleCovariance == nil {
		return
	}
	e.covariance = e.preScaleCovariance
	e.preScaleCovariance = nil
	e.scaling = false
}
