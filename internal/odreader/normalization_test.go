package odreader

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func TestNormalizeComputesMedianAndVariancePerChannel(t *testing.T) {
	adc := hardware.NewSimADC()
	adc.Voltages[0] = sineTrace(25, 60, 0.5, 0.05)
	dac := hardware.NewSimDAC()

	cfg := Config{
		SamplesPerSecond: 1,
		SamplesPerSweep:  25,
		IRLedIntensity:   50,
		DACChannel:       0,
		Channels: []ChannelConfig{
			{ADCChannel: 0, Angle: model.Angle135, Label: "A"},
		},
	}
	r := NewReader(cfg, adc, dac, nil)

	medians, variances, err := Normalize(context.Background(), r, 5)
	require.NoError(t, err)
	require.Contains(t, medians, "135/A")
	require.Contains(t, variances, "135/A")
	require.InDelta(t, 0.5, medians["135/A"], 0.05)
	require.GreaterOrEqual(t, variances["135/A"], 0.0)
}

func TestNormalizeDefaultsSampleCount(t *testing.T) {
	r := NewReader(Config{Channels: []ChannelConfig{{ADCChannel: 0, Angle: model.Angle90, Label: "A"}}}, hardware.NewSimADC(), hardware.NewSimDAC(), nil)
	medians, variances, err := Normalize(context.Background(), r, 0)
	require.NoError(t, err)
	require.Len(t, medians, 1)
	require.Len(t, variances, 1)
}

func TestVarianceOfSingleSampleIsZero(t *testing.T) {
	require.Equal(t, 0.0, varianceOf([]float64{1.0}))
	require.Equal(t, 0.0, varianceOf(nil))
}
