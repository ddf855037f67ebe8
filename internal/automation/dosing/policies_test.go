package dosing

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func feedOD(c *automation.Controller, ods ...float64) {
	now := time.Now()
	for _, od := range ods {
		c.UpdateOD(od, now)
	}
}

func feedGrowthRate(c *automation.Controller, rates ...float64) {
	now := time.Now()
	for _, r := range rates {
		c.UpdateGrowthRate(r, now)
	}
}

// TestSilentAlwaysNoEvent is spec.md §8 scenario 1.
func TestSilentAlwaysNoEvent(t *testing.T) {
	c := automation.NewController(Silent{}, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)

	feedGrowthRate(c, 0.01)
	feedOD(c, 1.0)
	require.Equal(t, model.EventNoEvent, c.Execute(context.Background()).Kind)

	feedGrowthRate(c, 0.02)
	feedOD(c, 1.1)
	require.Equal(t, model.EventNoEvent, c.Execute(context.Background()).Kind)
}

// TestTurbidostatScenario is spec.md §8 scenario 2.
func TestTurbidostatScenario(t *testing.T) {
	policy := Turbidostat{TargetOD: 1.0, VolumeML: 0.25}
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)

	want := []model.AutomationEventKind{
		model.EventNoEvent, model.EventDilution, model.EventDilution, model.EventNoEvent,
	}
	for i, od := range []float64{0.98, 1.0, 1.01, 0.99} {
		feedOD(c, od)
		got := c.Execute(context.Background())
		require.Equalf(t, want[i], got.Kind, "input %d (od=%.2f)", i, od)
	}
}

// TestMorbidostatScenario is spec.md §8 scenario 3.
func TestMorbidostatScenario(t *testing.T) {
	policy := Morbidostat{TargetOD: 1.0, VolumeML: 0.25}
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)

	want := []model.AutomationEventKind{
		model.EventNoEvent, model.EventDilution, model.EventAddAltMediaAut,
		model.EventDilution, model.EventAddAltMediaAut, model.EventDilution,
	}
	for i, od := range []float64{0.95, 0.99, 1.05, 1.03, 1.04, 0.99} {
		feedOD(c, od)
		got := c.Execute(context.Background())
		require.Equalf(t, want[i], got.Kind, "input %d (od=%.2f)", i, od)
	}
}

// TestPIDMorbidostatScenario is spec.md §8 scenario 4.
func TestPIDMorbidostatScenario(t *testing.T) {
	policy := NewPIDMorbidostat(0.09, 5.0, 0.0, 0.0)
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)

	type step struct {
		gr, od float64
		want   model.AutomationEventKind
	}
	steps := []step{
		{0.08, 0.5, model.EventNoEvent},
		{0.08, 0.95, model.EventAddAltMediaAut},
		{0.07, 0.95, model.EventAddAltMediaAut},
		{0.065, 0.95, model.EventAddAltMediaAut},
	}
	for i, s := range steps {
		feedGrowthRate(c, s.gr)
		feedOD(c, s.od)
		got := c.Execute(context.Background())
		require.Equalf(t, s.want, got.Kind, "step %d", i)
	}
}

func TestPIDTurbidostatDilutesWhenODAboveTarget(t *testing.T) {
	policy := NewPIDTurbidostat(1.0, 5.0, 0.0, 0.0)
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)

	feedOD(c, 1.0)
	require.Equal(t, model.EventNoEvent, c.Execute(context.Background()).Kind) // first reading, no trend yet

	feedOD(c, 1.2)
	got := c.Execute(context.Background())
	require.Equal(t, model.EventDilution, got.Kind)
}

func TestChemostatAlwaysDilutesFixedVolume(t *testing.T) {
	policy := Chemostat{VolumeML: 0.3}
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)
	got := c.Execute(context.Background())
	require.Equal(t, model.EventDilution, got.Kind)
	require.Equal(t, 0.3, got.Data["volume"])
}

func TestContinuousCycleScalesWithDutyCycle(t *testing.T) {
	zero := automation.NewController(ContinuousCycle{DutyCycle: 0, ReferenceVolumeML: 1.0}, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)
	require.Equal(t, model.EventNoEvent, zero.Execute(context.Background()).Kind)

	active := automation.NewController(ContinuousCycle{DutyCycle: 50, ReferenceVolumeML: 1.0}, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)
	got := active.Execute(context.Background())
	require.Equal(t, model.EventDilution, got.Kind)
	require.InDelta(t, 0.5, got.Data["volume"].(float64), 1e-9)
}

func TestFedBatchAddsMediaNeverWaste(t *testing.T) {
	policy := FedBatch{VolumeML: 0.4}
	c := automation.NewController(policy, 0, nil, nil, nil, automation.DefaultVialVolumeML, nil, nil, nil)
	got := c.Execute(context.Background())
	require.Equal(t, model.EventAddMediaAut, got.Kind)
}
