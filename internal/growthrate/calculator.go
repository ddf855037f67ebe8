// Package growthrate implements the EKF-backed growth-rate calculator
// job of spec.md §4.G: ingest batched OD readings, normalize by a
// persisted per-angle median, drop 180-degree (transmission) channels,
// and publish filtered OD plus growth rate every tick, with transient
// variance inflation after dosing events.
package growthrate

import (
	"fmt"
	"sort"
	"time"

	"gonum.org/v1/gonum/mat"

	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/model"
)

// DosingInflationFactor and Window are the defaults spec.md §4.G names
// ("~2*10^4 for ~2 minutes of samples").
const (
	DosingInflationFactor = 2e4
	DosingInflationWindow = 2 * time.Minute
)

// Calculator wraps an EKF over a fixed, ordered set of channel labels.
type Calculator struct {
	labels  []string // stable order, excludes any 180-degree channel
	medians map[string]float64
	ekf     *calc.EKF
	dt      time.Duration
}

// defaultObservationVariance is od_normalization's od_variances fallback
// ("defaultdict(lambda: 1e-5)") when no normalization reading for a
// label was published.
const defaultObservationVariance = 1e-5

// New builds a calculator. medians and variances come from the
// od_normalization action's retained `od_normalization/median` and
// `od_normalization/variance` readings (a label missing from either map
// falls back to an identity median of 1, or defaultObservationVariance,
// matching growth_rate_calculating.py's set_od_normalization_factors/
// set_od_variances defaults). initialReadings seeds OD_i,0 from the
// first scaled observation; rate0 seeds r_0 (cached last value, 1 if
// ignoreCache, or 0 when no cached value exists, as reactorctl's
// fetchRate0 supplies it).
func New(labels []string, medians map[string]float64, variances map[string]float64, initialReadings map[string]float64, rate0 float64, dt time.Duration) (*Calculator, error) {
	sorted := append([]string(nil), labels...)
	sort.Strings(sorted)

	k := len(sorted)
	initState := make([]float64, k+1)
	for i, l := range sorted {
		initState[i] = scale(initialReadings[l], medianOrIdentity(medians, l))
	}
	initState[k] = rate0

	// P_0 = 0.001 * diag([ODs, 1e-4])
	p0 := mat.NewDense(k+1, k+1, nil)
	for i := 0; i < k; i++ {
		p0.Set(i, i, 0.001*initState[i])
	}
	p0.Set(k, k, 0.001*1e-4)

	dtSeconds := dt.Seconds()
	proc := mat.NewDense(k+1, k+1, nil)
	for i := 0; i < k; i++ {
		proc.Set(i, i, smallODVariance(initState[i])*dtSeconds*dtSeconds)
	}
	rateStd := 0.005 * dtSeconds
	proc.Set(k, k, rateStd*rateStd)

	obs := mat.NewDense(k, k, nil)
	for i, l := range sorted {
		v, ok := variances[l]
		if !ok || v <= 0 {
			v = defaultObservationVariance
		}
		obs.Set(i, i, v)
	}

	ekf, err := calc.NewEKF(initState, p0, proc, obs, dtSeconds)
	if err != nil {
		return nil, fmt.Errorf("growthrate: build ekf: %w", err)
	}

	return &Calculator{labels: sorted, medians: medians, ekf: ekf, dt: dt}, nil
}

func medianOrIdentity(medians map[string]float64, label string) float64 {
	if m, ok := medians[label]; ok && m != 0 {
		return m
	}
	return 1
}

func smallODVariance(od float64) float64 {
	if od <= 0 {
		return 1e-6
	}
	return 1e-6 * od
}

func scale(reading, median float64) float64 {
	if median == 0 {
		return reading
	}
	return reading / median
}

// Update ingests one OD batch (already filtered to drop 180-degree
// channels by the caller via NonTransmissionLabels) and returns the updated filtered
// ODs (by label) and growth rate.
func (c *Calculator) Update(batch model.ODBatch) (filtered map[string]float64, rate float64, err error) {
	obs := make([]float64, len(c.labels))
	for i, l := range c.labels {
		reading, ok := batch.Readings[l]
		if !ok {
			return nil, 0, fmt.Errorf("growthrate: batch missing channel %q", l)
		}
		obs[i] = scale(reading.OD, c.medians[l])
	}
	if err := c.ekf.Update(obs); err != nil {
		return nil, 0, err
	}

	state := c.ekf.State()
	filtered = make(map[string]float64, len(c.labels))
	for i, l := range c.labels {
		filtered[l] = state[i]
	}
	rate = state[len(state)-1]
	return filtered, rate, nil
}

// OnDosingEvent inflates the OD observation variance for
// DosingInflationWindow, cancelling and re-applying from baseline if
// called again before the window elapses (spec.md §4.G).
func (c *Calculator) OnDosingEvent() {
	c.ekf.ScaleODVarianceForNextNSeconds(DosingInflationFactor, DosingInflationWindow)
}

// NonTransmissionLabels filters out 180-degree (transmission) channels
// from a full label set, per spec.md §4.G's "drop any 180 channel from
// inference" rule.
func NonTransmissionLabels(allLabels map[string]model.ScatterAngle) []string {
	var out []string
	for label, angle := range allLabels {
		if angle != model.Angle180 {
			out = append(out, label)
		}
	}
	sort.Strings(out)
	return out
}
