package pump

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/model"
)

func calibratedMedia() *model.PumpCalibration {
	return &model.PumpCalibration{
		Pump:          model.PumpMedia,
		DurationSlope: 1.0, // 1 ml/s
		Bias:          0,
		HzFreq:        100,
		DutyCycle:     50,
	}
}

func TestDoseMLRejectsNegative(t *testing.T) {
	d := NewDriver(model.PumpMedia, calibratedMedia(), hardware.NewSimPWM(), "media", hardware.NewRegistry(), nil, nil)
	_, err := d.DoseML(context.Background(), -1, "test")
	require.Error(t, err)
}

func TestDoseMLFailsWithoutCalibration(t *testing.T) {
	d := NewDriver(model.PumpMedia, nil, hardware.NewSimPWM(), "media", hardware.NewRegistry(), nil, nil)
	_, err := d.DoseML(context.Background(), 1, "test")
	require.ErrorIs(t, err, ErrCalibrationMissing)
}

func TestDoseMLPublishesEventBeforeActuation(t *testing.T) {
	pwm := hardware.NewSimPWM()
	var publishedBeforeStart bool
	publish := func(ctx context.Context, event model.DosingEvent) error {
		publishedBeforeStart = !pwm.Running()
		require.Equal(t, model.EventAddMedia, event.Event)
		return nil
	}
	d := NewDriver(model.PumpMedia, calibratedMedia(), pwm, "media", hardware.NewRegistry(), publish, nil)

	ml, err := d.DoseML(context.Background(), 0.1, "automation")
	require.NoError(t, err)
	require.InDelta(t, 0.1, ml, 1e-9)
	require.True(t, publishedBeforeStart)
	require.False(t, pwm.Running()) // stopped after actuation
}

func TestMLDurationRoundTrip(t *testing.T) {
	cal := calibratedMedia()
	cal.DurationSlope = 0.8
	cal.Bias = 0.05

	ml := 1.2
	duration := cal.DurationFromML(ml)
	roundTripped := cal.MLFromDuration(duration)
	require.InDelta(t, ml, roundTripped, 1e-9)
}

func TestDoseMLReleasesLockOnSecondCallAfterFirstCompletes(t *testing.T) {
	pwm := hardware.NewSimPWM()
	registry := hardware.NewRegistry()
	d := NewDriver(model.PumpMedia, calibratedMedia(), pwm, "media", registry, nil, nil)

	_, err := d.DoseML(context.Background(), 0.01, "test")
	require.NoError(t, err)

	_, err = d.DoseML(context.Background(), 0.01, "test")
	require.NoError(t, err)
	require.True(t, registry.Available("media"))
}

func TestFitRecoversLinearCalibration(t *testing.T) {
	durations := []float64{1, 2, 3, 4}
	volumes := []float64{1.05, 2.0, 3.0, 3.95}
	cal := Fit("media-cal", model.PumpMedia, 100, 50, 5.0, durations, volumes)
	require.InDelta(t, 1.0, cal.DurationSlope, 0.1)
}

func TestDoseContinuousStopsWithinGracePeriod(t *testing.T) {
	cal := calibratedMedia()
	cal.DurationSlope = 0.001 // only scales ml; each burst runs the 600 s DefaultContinuousWindow, so stop fires first
	pwm := hardware.NewSimPWM()
	d := NewDriver(model.PumpMedia, cal, pwm, "media", hardware.NewRegistry(), nil, nil)

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() {
		_, _ = d.DoseContinuous(context.Background(), "test", stop)
		close(done)
	}()

	time.Sleep(10 * time.Millisecond)
	close(stop)

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("DoseContinuous did not stop within grace period")
	}
}
