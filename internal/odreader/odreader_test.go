package odreader

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func sineTrace(n int, hz, c, a float64) []float64 {
	out := make([]float64, n)
	for i := 0; i < n; i++ {
		ti := float64(i) / 2000.0
		out[i] = c + a*math.Sin(2*math.Pi*hz*ti)
	}
	return out
}

func TestRecordProducesCalibratedReading(t *testing.T) {
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

	batch, err := r.Record(context.Background())
	require.NoError(t, err)
	require.Contains(t, batch.Readings, "135/A")
	require.InDelta(t, 0.5, batch.Readings["135/A"].OD, 0.05)
	require.Equal(t, 0.0, dac.Intensity(0)) // LED turned back off
}

func TestPauseResume(t *testing.T) {
	r := NewReader(Config{}, hardware.NewSimADC(), hardware.NewSimDAC(), nil)
	require.False(t, r.Paused())
	r.Pause()
	require.True(t, r.Paused())
	r.Resume()
	require.False(t, r.Paused())
}

func TestGainSelectorSwitchesToNarrowerRangeWhenSignalIsSmall(t *testing.T) {
	g := NewGainSelector(hardware.GainOne, 0.0, 1)
	gain, changed := g.Observe(0.05) // comfortably fits within GainSixteen's 0.85*0.256 headroom
	require.True(t, changed)
	require.Equal(t, hardware.GainSixteen, gain)
}

func TestGainSelectorStaysPutWhenAlreadyOptimal(t *testing.T) {
	g := NewGainSelector(hardware.GainSixteen, 0.0, 1)
	_, changed := g.Observe(0.05)
	require.False(t, changed)
}

func TestInvertClipsBeyondExtremum(t *testing.T) {
	cal := model.ODCalibration{
		CurveData:  []float64{1, 0}, // od = voltage (linear, slope 1 intercept 0)
		MinOD600:   0,
		MaxOD600:   2,
		MinVoltage: 0,
		MaxVoltage: 2,
	}
	result := Invert(cal, 5.0, 1.0)
	require.True(t, result.Suggested)
	require.Equal(t, 2.0, result.OD600)
}

func TestInvertLinearExactRoot(t *testing.T) {
	cal := model.ODCalibration{
		CurveData:  []float64{2, 0}, // voltage = 2*od  =>  od = voltage/2
		MinOD600:   0,
		MaxOD600:   5,
		MinVoltage: 0,
		MaxVoltage: 10,
	}
	result := Invert(cal, 4.0, 1.0)
	require.InDelta(t, 2.0, result.OD600, 1e-6)
	require.False(t, result.Suggested)
}
