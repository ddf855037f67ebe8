// Package temperature implements the heater-control automation of
// spec.md §4.J: a PID on temperature error with a DEMA-filtered
// derivative term and an initial-jump heuristic that estimates a first
// duty cycle directly from the startup error, before the PID has a
// second reading to derive from.
package temperature

import (
	"fmt"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/model"
)

// InitialJumpGain is the linear coefficient the first execute() uses to
// turn a startup temperature error directly into a heater duty cycle,
// before the PID has enough history to drive it (mirrors
// pid_stable.py's hand-tuned "delta_t * 3.0" heuristic).
const InitialJumpGain = 3.0

// DerivativeFilterAlpha is the DEMA smoothing applied to the PID's
// derivative term; an unfiltered derivative on a noisy temperature
// sensor makes the duty cycle chatter.
const DerivativeFilterAlpha = 0.60

// PIDStable holds heater duty cycle near TargetTemperature via a PID on
// the error, with its derivative term passed through a DEMA filter.
type PIDStable struct {
	TargetTemperature float64

	kp, ki, kd float64
	pid        *calc.PID
	dema       *calc.DEMA

	firstUpdate bool
	dutyCycle   float64
}

// NewPIDStable constructs a controller. The underlying calc.PID is built
// with Kd=0 (its internal derivative term is disabled); the derivative
// contribution is instead computed here via a DEMA-filtered difference
// and added to the PID's output directly, emulating pid_stable.py's
// add_derivative_hook indirection.
func NewPIDStable(targetTemperature, kp, ki, kd float64) *PIDStable {
	return &PIDStable{
		TargetTemperature: targetTemperature,
		kp:                kp, ki: ki, kd: kd,
		pid:         calc.NewPID(kp, ki, 0, 0, targetTemperature, 0, 100),
		dema:        calc.NewDEMA(DerivativeFilterAlpha),
		firstUpdate: true,
	}
}

func (*PIDStable) Key() string { return "pid_stable" }

// DutyCycle returns the heater PWM duty cycle chosen by the most recent
// Decide call.
func (p *PIDStable) DutyCycle() float64 { return p.dutyCycle }

// Decide expects the caller to have fed the latest temperature reading
// into the automation.State as LatestOD is normally used for dosing; the
// temperature automation instead reads it from LatestGrowthRate's slot
// so it can reuse automation.Controller's bus-fed State plumbing without
// a parallel temperature-specific State type.
//
// TODO: give automation.State a dedicated LatestTemperature field once a
// second bus-fed automation family needs the same slot simultaneously;
// today dosing and temperature automations never run in the same
// Controller instance, so the aliasing is safe.
func (p *PIDStable) Decide(s automation.State) model.AutomationEvent {
	latestTemperature := s.LatestGrowthRate

	if p.firstUpdate {
		p.firstUpdate = false
		deltaT := p.TargetTemperature - latestTemperature
		if deltaT <= 0 {
			p.dutyCycle = 0
		} else {
			p.dutyCycle = clampDuty(deltaT * InitialJumpGain)
		}
		ev := model.NoEvent(fmt.Sprintf("initial heater duty cycle %.1f%% from startup error %.2f", p.dutyCycle, deltaT))
		ev.Data = map[string]interface{}{"duty_cycle": p.dutyCycle}
		return ev
	}

	proportionalIntegral := p.pid.Update(latestTemperature, 1.0)
	derivative := -p.kd * p.dema.Update(latestTemperature)
	p.dutyCycle = clampDuty(p.dutyCycle + proportionalIntegral + derivative)
	ev := model.NoEvent(fmt.Sprintf("heater duty cycle now %.1f%%", p.dutyCycle))
	ev.Data = map[string]interface{}{"duty_cycle": p.dutyCycle}
	return ev
}

func clampDuty(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// Register adds the pid_stable constructor to r.
func Register(r *automation.Registry) {
	r.Register("pid_stable", func(settings map[string]string) (automation.Policy, error) {
		target, err := parseFloat(settings, "target_temperature", 30.0)
		if err != nil {
			return nil, err
		}
		kp, _ := parseFloat(settings, "Kp", 3.0)
		ki, _ := parseFloat(settings, "Ki", 0.0)
		kd, _ := parseFloat(settings, "Kd", 2.0)
		return NewPIDStable(target, kp, ki, kd), nil
	})
}

func parseFloat(settings map[string]string, key string, def float64) (float64, error) {
	v, ok := settings[key]
	if !ok || v == "" {
		return def, nil
	}
	var f float64
	if _, err := fmt.Sscanf(v, "%g", &f); err != nil {
		return 0, fmt.Errorf("temperature: parse %q: %w", key, err)
	}
	return f, nil
}
