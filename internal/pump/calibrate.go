package pump

import (
	"time"

	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/model"
)

// Fit builds a PumpCalibration from a trial series of (duration, ml)
// pairs measured at a fixed (hz, dc, voltage), via ordinary least
// squares: ml = duration_*duration + bias_.
func Fit(name string, kind model.PumpKind, hz, dc, voltage float64, durations, volumes []float64) model.PumpCalibration {
	fit := calc.SimpleLinearRegression(durations, volumes)
	return model.PumpCalibration{
		Name:          name,
		Timestamp:     time.Now(),
		Pump:          kind,
		DurationSlope: fit.Slope,
		Bias:          fit.Bias,
		HzFreq:        hz,
		DutyCycle:     dc,
		Voltage:       voltage,
		Durations:     append([]float64(nil), durations...),
		Volumes:       append([]float64(nil), volumes...),
	}
}
