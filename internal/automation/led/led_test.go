package led

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func TestSilentNeverChangesIntensity(t *testing.T) {
	ev := Silent{}.Decide(automation.State{})
	require.Equal(t, model.EventNoEvent, ev.Kind)
}

func TestConstantIntensityReportsChannelAndLevel(t *testing.T) {
	ev := ConstantIntensity{Channel: "B", IntensityPct: 42}.Decide(automation.State{})
	require.Equal(t, model.EventLEDUpdate, ev.Kind)
	require.Equal(t, "B", ev.Data["channel"])
	require.Equal(t, 42.0, ev.Data["intensity"])
}

func TestRegisterWiresBothPolicies(t *testing.T) {
	r := automation.NewRegistry()
	Register(r)

	p, err := r.Build("silent", nil)
	require.NoError(t, err)
	require.Equal(t, "silent", p.Key())

	p, err = r.Build("constant_intensity", map[string]string{"intensity": "75", "channel": "C"})
	require.NoError(t, err)
	require.Equal(t, "constant_intensity", p.Key())
}
