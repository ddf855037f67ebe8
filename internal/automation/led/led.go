// Package led implements the LED-intensity automations of spec.md §4.J,
// following the same automation.Policy/Controller base the dosing
// automations use: a string-keyed registry, periodic execute(), and a
// decision that is simply reported as an event (the caller drives the
// actual hardware.DAC from the event's Data).
package led

import (
	"fmt"
	"strconv"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func parseFloat(settings map[string]string, key string, def float64) (float64, error) {
	v, ok := settings[key]
	if !ok || v == "" {
		return def, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("led: parse %q: %w", key, err)
	}
	return f, nil
}

// Silent never changes LED intensity.
type Silent struct{}

func (Silent) Key() string { return "silent" }
func (Silent) Decide(automation.State) model.AutomationEvent {
	return model.NoEvent("silent: no LED change")
}

// ConstantIntensity holds a fixed intensity on a channel, every tick —
// useful for a steady IR/UV reference light independent of culture
// state.
type ConstantIntensity struct {
	Channel       string
	IntensityPct  float64
}

func (ConstantIntensity) Key() string { return "constant_intensity" }

func (c ConstantIntensity) Decide(automation.State) model.AutomationEvent {
	return model.LEDUpdateEvent(
		fmt.Sprintf("channel %s held at %.1f%%", c.Channel, c.IntensityPct),
		map[string]interface{}{"channel": c.Channel, "intensity": c.IntensityPct},
	)
}

// Register wires the LED policies into r.
func Register(r *automation.Registry) {
	r.Register("silent", func(settings map[string]string) (automation.Policy, error) {
		return Silent{}, nil
	})
	r.Register("constant_intensity", func(settings map[string]string) (automation.Policy, error) {
		intensity, err := parseFloat(settings, "intensity", 0)
		if err != nil {
			return nil, err
		}
		channel := settings["channel"]
		if channel == "" {
			channel = "A"
		}
		return ConstantIntensity{Channel: channel, IntensityPct: intensity}, nil
	})
}
