package calc

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestEMASeedsOnFirstUpdate(t *testing.T) {
	e := NewEMA(0.9)
	require.Equal(t, 5.0, e.Update(5.0))
	v := e.Update(15.0)
	require.InDelta(t, 0.1*15+0.9*5, v, 1e-9)
}

func TestDEMATracksFirstDifference(t *testing.T) {
	d := NewDEMA(0.5)
	require.Equal(t, 0.0, d.Update(10))
	v := d.Update(12)
	require.InDelta(t, 0.5*2, v, 1e-9)
}

func TestPIDClampsOutput(t *testing.T) {
	p := NewPID(10, 0, 0, 0, 1.0, 0, 100)
	out := p.Update(-100, 1)
	require.Equal(t, 100.0, out)
	stats := p.Stats()
	require.Equal(t, 1.0, stats.Setpoint)
}

func TestSimpleLinearRegressionRecoversSlope(t *testing.T) {
	x := []float64{0, 1, 2, 3, 4}
	y := []float64{1, 3, 5, 7, 9}
	fit := SimpleLinearRegression(x, y)
	require.InDelta(t, 2.0, fit.Slope, 1e-9)
	require.InDelta(t, 1.0, fit.Bias, 1e-9)
}

func TestForcedZeroInterceptRegression(t *testing.T) {
	x := []float64{1, 2, 3, 4}
	y := []float64{2, 4, 6, 8}
	fit := ForcedZeroInterceptRegression(x, y)
	require.InDelta(t, 2.0, fit.Slope, 1e-9)
	require.Equal(t, 0.0, fit.Bias)
}

func TestSineRegressionConstantInput(t *testing.T) {
	n := 50
	t_, y := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		t_[i] = float64(i) * 0.01
		y[i] = 7.0
	}
	fit := SineRegression(t_, y, SineRegressionOptions{Frequency: 60})
	require.InDelta(t, 7.0, fit.C, 1e-6)
	require.InDelta(t, 0.0, fit.A, 1e-6)
}

func TestSineRegressionZeroInputInfiniteAIC(t *testing.T) {
	n := 20
	t_, y := make([]float64, n), make([]float64, n)
	for i := range t_ {
		t_[i] = float64(i) * 0.01
	}
	fit := SineRegression(t_, y, SineRegressionOptions{Frequency: 60})
	require.Equal(t, 0.0, fit.C)
	require.Equal(t, 0.0, fit.A)
	require.True(t, math.IsInf(fit.AIC, 1))
}

func TestSineRegressionRecoversKnownSignal(t *testing.T) {
	n := 200
	freq := 60.0
	tArr, y := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		ti := float64(i) / 2000.0
		tArr[i] = ti
		y[i] = 10 + 2*math.Sin(2*math.Pi*freq*ti)
	}
	fit := SineRegression(tArr, y, SineRegressionOptions{Frequency: freq})
	require.InDelta(t, 10.0, fit.C, 0.1)
	require.InDelta(t, 2.0, fit.A, 0.1)
}

func TestBestMainsFrequencyPicksLowerAIC(t *testing.T) {
	n := 200
	trueFreq := 60.0
	tArr, y := make([]float64, n), make([]float64, n)
	for i := 0; i < n; i++ {
		ti := float64(i) / 2000.0
		tArr[i] = ti
		y[i] = 5 + 1.5*math.Sin(2*math.Pi*trueFreq*ti)
	}
	best, _ := BestMainsFrequency(tArr, y, []float64{50, 60})
	require.Equal(t, 60.0, best)
}

func TestEKFConstantObservationDrivesRateToZero(t *testing.T) {
	initState := mat.NewDense(2, 2, []float64{0.001, 0, 0, 1e-4})
	proc := mat.NewDense(2, 2, []float64{1e-6, 0, 0, (0.005 * 1) * (0.005 * 1)})
	obs := mat.NewDense(1, 1, []float64{1e-4})

	ekf, err := NewEKF([]float64{1.0, 0.1}, initState, proc, obs, 1.0)
	require.NoError(t, err)

	for i := 0; i < 200; i++ {
		require.NoError(t, ekf.Update([]float64{1.0}))
	}
	require.InDelta(t, 0.0, ekf.Rate(), 0.05)
}

func TestEKFScaleVarianceRestoresAfterWindow(t *testing.T) {
	initState := mat.NewDense(2, 2, []float64{0.001, 0, 0, 1e-4})
	proc := mat.NewDense(2, 2, []float64{1e-6, 0, 0, 1e-8})
	obs := mat.NewDense(1, 1, []float64{1e-4})

	ekf, err := NewEKF([]float64{1.0, 0.0}, initState, proc, obs, 1.0)
	require.NoError(t, err)

	before := ekf.Predict
	_ = before

	ekf.ScaleODVarianceForNextNSeconds(2e4, 20*time.Millisecond)
	_, scaledCov := ekf.Predict()
	require.Greater(t, scaledCov.At(0, 0), 1.0)

	time.Sleep(60 * time.Millisecond)
	_, restoredCov := ekf.Predict()
	require.Less(t, restoredCov.At(0, 0), scaledCov.At(0, 0))
}
