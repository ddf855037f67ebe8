package odreader

import (
	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/hardware"
)

// GainSelector tracks an EMA of the peak reading per tick and, every
// CheckEvery samples, switches to the narrowest ADC gain whose range
// still comfortably (85%) accommodates the signal — maximizing
// resolution without clipping, per spec.md §4.F's dynamic-gain note.
type GainSelector struct {
	ema        *calc.EMA
	CheckEvery int
	count      int
	current    hardware.Gain
}

// NewGainSelector starts tracking from an initial gain.
func NewGainSelector(initial hardware.Gain, alpha float64, checkEvery int) *GainSelector {
	return &GainSelector{
		ema:        calc.NewEMA(alpha),
		CheckEvery: checkEvery,
		current:    initial,
	}
}

// Current returns the active gain.
func (g *GainSelector) Current() hardware.Gain { return g.current }

// Observe feeds the peak reading of one tick and returns the gain that
// should be active from here on, along with whether it changed.
func (g *GainSelector) Observe(maxReading float64) (hardware.Gain, bool) {
	g.ema.Update(maxReading)
	g.count++
	if g.count < g.CheckEvery {
		return g.current, false
	}
	g.count = 0

	best := g.current
	// narrowest-first: Gains is ordered widest -> narrowest.
	for i := len(hardware.Gains) - 1; i >= 0; i-- {
		candidate := hardware.Gains[i]
		if g.ema.Value() <= 0.85*candidate.FullScaleVoltage() {
			best = candidate
			break
		}
	}
	changed := best != g.current
	g.current = best
	return best, changed
}
