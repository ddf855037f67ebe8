// Package dosing implements the eight dosing control policies of
// spec.md §4.J: Silent, Turbidostat, Morbidostat, PIDMorbidostat,
// PIDTurbidostat, Chemostat, ContinuousCycle, and FedBatch. Each is a
// automation.Policy: a pure function from automation.State to a
// model.AutomationEvent, registered under its string key instead of the
// teacher's dynamic subclass discovery.
package dosing

import (
	"fmt"
	"strconv"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func parseFloat(settings map[string]string, key string, def float64) (float64, error) {
	v, ok := settings[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("dosing: parse %q: %w", key, err)
	}
	return f, nil
}

// Silent always emits NoEvent: the baseline do-nothing policy.
type Silent struct{}

func (Silent) Key() string { return "silent" }
func (Silent) Decide(s automation.State) model.AutomationEvent {
	return model.NoEvent("silent: no action taken")
}

// registerSilent adds the silent constructor to r.
func registerSilent(r *automation.Registry) {
	r.Register("silent", func(settings map[string]string) (automation.Policy, error) {
		return Silent{}, nil
	})
}

// Turbidostat dilutes by a fixed volume whenever the latest OD reaches
// or exceeds target_od.
type Turbidostat struct {
	TargetOD float64
	VolumeML float64
}

func (Turbidostat) Key() string { return "turbidostat" }

func (t Turbidostat) Decide(s automation.State) model.AutomationEvent {
	if s.LatestOD >= t.TargetOD {
		return model.DilutionEvent(
			fmt.Sprintf("diluting %.3f ml, od %.3f >= target %.3f", t.VolumeML, s.LatestOD, t.TargetOD),
			map[string]interface{}{"volume": t.VolumeML},
		)
	}
	return model.NoEvent(fmt.Sprintf("od %.3f below target %.3f", s.LatestOD, t.TargetOD))
}

func registerTurbidostat(r *automation.Registry) {
	r.Register("turbidostat", func(settings map[string]string) (automation.Policy, error) {
		targetOD, err := parseFloat(settings, "target_od", 0)
		if err != nil {
			return nil, err
		}
		volume, err := parseFloat(settings, "volume", 0.25)
		if err != nil {
			return nil, err
		}
		return Turbidostat{TargetOD: targetOD, VolumeML: volume}, nil
	})
}

// Morbidostat adds alt-media (antibiotic/selective agent) while OD is
// at or above target and rising, dilutes with media whenever the OD is
// at or above target but not rising, and also dilutes whenever OD is
// below target once a prior reading exists. The very first reading (no prior
// to compare against) is always a NoEvent.
type Morbidostat struct {
	TargetOD float64
	VolumeML float64
}

func (Morbidostat) Key() string { return "morbidostat" }

func (m Morbidostat) Decide(s automation.State) model.AutomationEvent {
	if !s.HasPreviousOD {
		return model.NoEvent("awaiting a second OD reading to establish a trend")
	}
	if s.LatestOD >= m.TargetOD {
		if s.LatestOD > s.PreviousOD {
			return model.AddAltMediaEvent(
				fmt.Sprintf("od %.3f rising above target %.3f: adding alt-media", s.LatestOD, m.TargetOD),
				map[string]interface{}{"volume": m.VolumeML},
			)
		}
		return model.DilutionEvent(
			fmt.Sprintf("od %.3f above target %.3f but falling: diluting", s.LatestOD, m.TargetOD),
			map[string]interface{}{"volume": m.VolumeML},
		)
	}
	return model.DilutionEvent(
		fmt.Sprintf("od %.3f below target %.3f: diluting", s.LatestOD, m.TargetOD),
		map[string]interface{}{"volume": m.VolumeML},
	)
}

func registerMorbidostat(r *automation.Registry) {
	r.Register("morbidostat", func(settings map[string]string) (automation.Policy, error) {
		targetOD, err := parseFloat(settings, "target_od", 0)
		if err != nil {
			return nil, err
		}
		volume, err := parseFloat(settings, "volume", 0.25)
		if err != nil {
			return nil, err
		}
		return Morbidostat{TargetOD: targetOD, VolumeML: volume}, nil
	})
}

// PIDMorbidostat runs a PID on the growth-rate error (target minus
// measured) and, once a second reading establishes the series is live,
// adds alt-media proportional to the PID's (clamped non-negative)
// output.
type PIDMorbidostat struct {
	pid *calc.PID
}

func NewPIDMorbidostat(targetGrowthRate, kp, ki, kd float64) *PIDMorbidostat {
	return &PIDMorbidostat{pid: calc.NewPID(kp, ki, kd, 0, targetGrowthRate, 0, 1.0)}
}

func (*PIDMorbidostat) Key() string { return "pid_morbidostat" }

func (p *PIDMorbidostat) Decide(s automation.State) model.AutomationEvent {
	if !s.HasPreviousGrowthRate {
		return model.NoEvent("awaiting a second growth-rate reading")
	}
	output := p.pid.Update(s.LatestGrowthRate, 1.0)
	if output > 0 {
		return model.AddAltMediaEvent(
			fmt.Sprintf("growth rate %.4f below target: adding %.4f ml alt-media", s.LatestGrowthRate, output),
			map[string]interface{}{"volume": output},
		)
	}
	return model.NoEvent("growth rate at or above target")
}

func registerPIDMorbidostat(r *automation.Registry) {
	r.Register("pid_morbidostat", func(settings map[string]string) (automation.Policy, error) {
		target, err := parseFloat(settings, "target_growth_rate", 0)
		if err != nil {
			return nil, err
		}
		kp, _ := parseFloat(settings, "Kp", 5.0)
		ki, _ := parseFloat(settings, "Ki", 0.0)
		kd, _ := parseFloat(settings, "Kd", 0.0)
		return NewPIDMorbidostat(target, kp, ki, kd), nil
	})
}

// PIDTurbidostat runs a PID on the OD error (measured minus target) and
// dilutes proportional to the (clamped non-negative) PID output. The
// underlying calc.PID tracks error as setpoint-minus-input, so the
// controller is built with setpoint 0 and fed (target - measured),
// which yields exactly (measured - target) as the error term.
type PIDTurbidostat struct {
	targetOD float64
	pid      *calc.PID
}

func NewPIDTurbidostat(targetOD, kp, ki, kd float64) *PIDTurbidostat {
	return &PIDTurbidostat{targetOD: targetOD, pid: calc.NewPID(kp, ki, kd, 0, 0, 0, 5.0)}
}

func (*PIDTurbidostat) Key() string { return "pid_turbidostat" }

func (p *PIDTurbidostat) Decide(s automation.State) model.AutomationEvent {
	if !s.HasPreviousOD {
		return model.NoEvent("awaiting a second OD reading")
	}
	output := p.pid.Update(p.targetOD-s.LatestOD, 1.0)
	if output > 0 {
		return model.DilutionEvent(
			fmt.Sprintf("od %.3f above target: diluting %.4f ml", s.LatestOD, output),
			map[string]interface{}{"volume": output},
		)
	}
	return model.NoEvent("od at or below target")
}

func registerPIDTurbidostat(r *automation.Registry) {
	r.Register("pid_turbidostat", func(settings map[string]string) (automation.Policy, error) {
		target, err := parseFloat(settings, "target_od", 0)
		if err != nil {
			return nil, err
		}
		kp, _ := parseFloat(settings, "Kp", 5.0)
		ki, _ := parseFloat(settings, "Ki", 0.0)
		kd, _ := parseFloat(settings, "Kd", 0.0)
		return NewPIDTurbidostat(target, kp, ki, kd), nil
	})
}

// Chemostat dilutes a fixed volume every execute() call, independent of
// OD or growth rate.
type Chemostat struct {
	VolumeML float64
}

func (Chemostat) Key() string { return "chemostat" }

func (c Chemostat) Decide(automation.State) model.AutomationEvent {
	return model.DilutionEvent(
		fmt.Sprintf("chemostat: diluting fixed %.3f ml", c.VolumeML),
		map[string]interface{}{"volume": c.VolumeML},
	)
}

func registerChemostat(r *automation.Registry) {
	r.Register("chemostat", func(settings map[string]string) (automation.Policy, error) {
		volume, err := parseFloat(settings, "volume", 0.25)
		if err != nil {
			return nil, err
		}
		return Chemostat{VolumeML: volume}, nil
	})
}

// ContinuousCycle dilutes every execute() call with a volume derived
// from a settable duty cycle (percent of a reference volume per tick).
type ContinuousCycle struct {
	DutyCycle      float64
	ReferenceVolumeML float64
}

func (ContinuousCycle) Key() string { return "continuous_cycle" }

func (c ContinuousCycle) Decide(automation.State) model.AutomationEvent {
	volume := c.ReferenceVolumeML * c.DutyCycle / 100.0
	if volume <= 0 {
		return model.NoEvent("continuous cycle: duty cycle is 0")
	}
	return model.DilutionEvent(
		fmt.Sprintf("continuous cycle: diluting %.3f ml at duty cycle %.1f%%", volume, c.DutyCycle),
		map[string]interface{}{"volume": volume, "duty_cycle": c.DutyCycle},
	)
}

func registerContinuousCycle(r *automation.Registry) {
	r.Register("continuous_cycle", func(settings map[string]string) (automation.Policy, error) {
		duty, err := parseFloat(settings, "duty_cycle", 0)
		if err != nil {
			return nil, err
		}
		ref, err := parseFloat(settings, "reference_volume", 1.0)
		if err != nil {
			return nil, err
		}
		return ContinuousCycle{DutyCycle: duty, ReferenceVolumeML: ref}, nil
	})
}

// FedBatch adds media by a fixed volume every execute() call and never
// removes waste or adds alt-media.
type FedBatch struct {
	VolumeML float64
}

func (FedBatch) Key() string { return "fed_batch" }

func (f FedBatch) Decide(automation.State) model.AutomationEvent {
	return model.AddMediaEvent(
		fmt.Sprintf("fed-batch: adding %.3f ml media", f.VolumeML),
		map[string]interface{}{"volume": f.VolumeML},
	)
}

func registerFedBatch(r *automation.Registry) {
	r.Register("fed_batch", func(settings map[string]string) (automation.Policy, error) {
		volume, err := parseFloat(settings, "volume", 0.25)
		if err != nil {
			return nil, err
		}
		return FedBatch{VolumeML: volume}, nil
	})
}

// Register wires all eight dosing policies into r.
func Register(r *automation.Registry) {
	registerSilent(r)
	registerTurbidostat(r)
	registerMorbidostat(r)
	registerPIDMorbidostat(r)
	registerPIDTurbidostat(r)
	registerChemostat(r)
	registerContinuousCycle(r)
	registerFedBatch(r)
}
