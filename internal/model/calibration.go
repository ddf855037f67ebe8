package model

import "time"

// PumpKind identifies which of the three pumps a calibration/dosing
// event concerns.
type PumpKind string

const (
	PumpMedia    PumpKind = "media"
	PumpAltMedia PumpKind = "alt_media"
	PumpWaste    PumpKind = "waste"
)

// PumpCalibration maps a pump's PWM duty/frequency to a ml-per-second
// rate via a simple linear fit: ml = duration_*duration + bias_.
// Durations/Volumes hold the raw calibration trial data the fit was
// built from, kept for re-fit/audit purposes.
type PumpCalibration struct {
	Name      string    `json:"name"`
	Timestamp time.Time `json:"timestamp"`
	Pump      PumpKind  `json:"pump"`

	DurationSlope float64 `json:"duration_"` // ml/s
	Bias          float64 `json:"bias_"`     // ml, intercept
	HzFreq        float64 `json:"hz"`        // PWM frequency
	DutyCycle     float64 `json:"dc"`        // PWM duty %
	Voltage       float64 `json:"voltage"`

	Durations []float64 `json:"durations"`
	Volumes   []float64 `json:"volumes"`
}

// Valid reports the one hard invariant spec.md §3 names: volumes/durations
// pair up, and the slope should be positive (a zero/negative slope makes
// ml<->duration inversion meaningless, but is tolerated as "not preferred"
// rather than rejected outright — callers decide).
func (c PumpCalibration) Valid() bool {
	return len(c.Durations) == len(c.Volumes)
}

// MLFromDuration evaluates the calibration: ml delivered for a pulse of
// the given duration.
func (c PumpCalibration) MLFromDuration(duration float64) float64 {
	return c.DurationSlope*duration + c.Bias
}

// DurationFromML inverts the calibration: PWM pulse
// duration required to deliver ml.
func (c PumpCalibration) DurationFromML(ml float64) float64 {
	return (ml - c.Bias) / c.DurationSlope
}

// ScatterAngle is one of the four photodiode placement angles relative
// to the IR LED.
type ScatterAngle int

const (
	Angle45  ScatterAngle = 45
	Angle90  ScatterAngle = 90
	Angle135 ScatterAngle = 135
	Angle180 ScatterAngle = 180
)

// ODCalibration maps a photodiode voltage to a calibrated OD600 value
// via a monotone-branch polynomial root-find.
type ODCalibration struct {
	Angle         ScatterAngle `json:"angle"`
	CurveType     string       `json:"curve_type"` // always "poly" today
	CurveData     []float64    `json:"curve_data_"` // high power -> low power
	MinOD600      float64      `json:"min_od600"`
	MaxOD600      float64      `json:"max_od600"`
	MinVoltage    float64      `json:"min_voltage"`
	MaxVoltage    float64      `json:"max_voltage"`
	IRLedIntensity float64     `json:"ir_led_intensity"`
	PDChannel     int          `json:"pd_channel"`
	Voltages      []float64    `json:"voltages"`
	InferredOD600 []float64    `json:"inferred_od600s"`
}
