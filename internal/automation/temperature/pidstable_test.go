package temperature

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/automation"
)

func TestFirstUpdateUsesInitialJumpHeuristic(t *testing.T) {
	p := NewPIDStable(30.0, 3.0, 0.0, 2.0)
	ev := p.Decide(automation.State{LatestGrowthRate: 25.0})
	require.InDelta(t, 15.0, ev.Data["duty_cycle"].(float64), 1e-9) // (30-25)*3.0
}

func TestFirstUpdateTurnsHeaterOffWhenAboveTarget(t *testing.T) {
	p := NewPIDStable(30.0, 3.0, 0.0, 2.0)
	ev := p.Decide(automation.State{LatestGrowthRate: 35.0})
	require.Equal(t, 0.0, ev.Data["duty_cycle"])
}

func TestSubsequentUpdatesNudgeDutyCycleTowardTarget(t *testing.T) {
	p := NewPIDStable(30.0, 3.0, 0.0, 0.0)
	p.Decide(automation.State{LatestGrowthRate: 25.0}) // first update: seeds duty cycle at 15

	ev := p.Decide(automation.State{LatestGrowthRate: 26.0})
	require.Greater(t, ev.Data["duty_cycle"].(float64), 0.0)
	require.LessOrEqual(t, ev.Data["duty_cycle"].(float64), 100.0)
}

func TestDutyCycleNeverExceedsBounds(t *testing.T) {
	p := NewPIDStable(90.0, 10.0, 0.0, 0.0)
	p.Decide(automation.State{LatestGrowthRate: 0.0}) // huge startup error
	for i := 0; i < 5; i++ {
		ev := p.Decide(automation.State{LatestGrowthRate: 0.0})
		dc := ev.Data["duty_cycle"].(float64)
		require.GreaterOrEqual(t, dc, 0.0)
		require.LessOrEqual(t, dc, 100.0)
	}
}
