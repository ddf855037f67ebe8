package calc

import "math"

// PIDStats is the snapshot spec.md §4.E requires publishing on every
// update.
type PIDStats struct {
	Setpoint     float64 `json:"setpoint"`
	Kp           float64 `json:"Kp"`
	Ki           float64 `json:"Ki"`
	Kd           float64 `json:"Kd"`
	K0           float64 `json:"K0"`
	Integral     float64 `json:"integral"`
	Proportional float64 `json:"proportional"`
	Derivative   float64 `json:"derivative"`
	LastInput    float64 `json:"last_input"`
	LastOutput   float64 `json:"last_output"`
	OutputLowerBound float64 `json:"output_limits_lb"`
	OutputUpperBound float64 `json:"output_limits_ub"`
}

// PID is a standard Kp/Ki/Kd controller with an additive constant-offset
// term K0 and clamped output, matching the simple_pid-style controller
// streaming_calculations.py wraps.
type PID struct {
	Kp, Ki, Kd, K0 float64
	Setpoint       float64
	OutputLowerBound float64
	OutputUpperBound float64

	integral     float64
	proportional float64
	derivative   float64
	lastInput    float64
	lastOutput   float64
	hasLastInput bool
}

// NewPID constructs a controller with output clamped to [lower, upper].
func NewPID(kp, ki, kd, k0, setpoint, lower, upper float64) *PID {
	return &PID{
		Kp: kp, Ki: ki, Kd: kd, K0: k0,
		Setpoint:         setpoint,
		OutputLowerBound: lower,
		OutputUpperBound: upper,
	}
}

// SetSetpoint updates the target; takes effect on the next Update.
func (p *PID) SetSetpoint(setpoint float64) { p.Setpoint = setpoint }

// Update advances the controller by one tick of length dt (seconds) and
// returns the new clamped output.
func (p *PID) Update(input, dt float64) float64 {
	if dt <= 0 {
		dt = 1
	}
	err := p.Setpoint - input
	p.proportional = p.Kp * err
	p.integral += p.Ki * err * dt

	if p.hasLastInput {
		p.derivative = -p.Kd * (input - p.lastInput) / dt
	} else {
		p.derivative = 0
	}
	p.lastInput = input
	p.hasLastInput = true

	output := p.proportional + p.integral + p.derivative + p.K0
	output = p.clamp(output)
	p.lastOutput = output
	return output
}

func (p *PID) clamp(v float64) float64 {
	if !math.IsNaN(p.OutputLowerBound) && v < p.OutputLowerBound {
		// also clamp the internal integral so it doesn't keep winding up
		// past a saturated output (classic anti-windup).
		p.integral = math.Max(p.integral, p.OutputLowerBound)
		v = p.OutputLowerBound
	}
	if !math.IsNaN(p.OutputUpperBound) && v > p.OutputUpperBound {
		p.integral = math.Min(p.integral, p.OutputUpperBound)
		v = p.OutputUpperBound
	}
	return v
}

// Stats returns the publish-ready snapshot spec.md §4.E names.
func (p *PID) Stats() PIDStats {
	return PIDStats{
		Setpoint:         p.Setpoint,
		Kp:               p.Kp,
		Ki:               p.Ki,
		Kd:               p.Kd,
		K0:               p.K0,
		Integral:         p.integral,
		Proportional:     p.proportional,
		Derivative:       p.derivative,
		LastInput:        p.lastInput,
		LastOutput:       p.lastOutput,
		OutputLowerBound: p.OutputLowerBound,
		OutputUpperBound: p.OutputUpperBound,
	}
}
