package hardware

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRegistryRejectsDoubleAcquire(t *testing.T) {
	r := NewRegistry()
	release, err := r.Acquire("pwm-1")
	require.NoError(t, err)
	require.False(t, r.Available("pwm-1"))

	_, err = r.Acquire("pwm-1")
	require.Error(t, err)

	release()
	require.True(t, r.Available("pwm-1"))
}

func TestGainFullScaleVoltageTable(t *testing.T) {
	cases := map[Gain]float64{
		GainTwoThirds: 6.144,
		GainOne:       4.096,
		GainTwo:       2.048,
		GainFour:      1.024,
		GainEight:     0.512,
		GainSixteen:   0.256,
	}
	for gain, want := range cases {
		require.InDelta(t, want, gain.FullScaleVoltage(), 1e-9)
	}
}

func TestSimPWMLockStartStop(t *testing.T) {
	p := NewSimPWM()
	require.Error(t, p.Start(50)) // not locked yet

	require.NoError(t, p.Lock())
	require.Error(t, p.Lock()) // second lock fails

	require.NoError(t, p.Start(50))
	require.True(t, p.Running())

	require.NoError(t, p.Stop())
	require.False(t, p.Running())
	require.NoError(t, p.Stop()) // double stop is a no-op
}

func TestSimDACRejectsOutOfRange(t *testing.T) {
	d := NewSimDAC()
	require.Error(t, d.SetIntensity(0, -1))
	require.Error(t, d.SetIntensity(0, 101))
	require.NoError(t, d.SetIntensity(0, 50))
	require.Equal(t, 50.0, d.Intensity(0))
}

func TestSimADCReturnsQueuedTrace(t *testing.T) {
	a := NewSimADC()
	a.Voltages[0] = []float64{0.1, 0.2, 0.3}

	v, err := a.ReadVoltage(0)
	require.NoError(t, err)
	require.Equal(t, 0.1, v)

	v, err = a.ReadVoltage(0)
	require.NoError(t, err)
	require.Equal(t, 0.2, v)
}
