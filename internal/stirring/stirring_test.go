package stirring

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/hardware"
)

func newTestController(t *testing.T, pwm *hardware.SimPWM, pin *hardware.SimGPIOPin) *Controller {
	t.Helper()
	pid := calc.NewPID(0.5, 0.01, 0.0, 0.0, 0, -20, 20)
	cal := RPMCalibration{Coefficient: 0.5, Intercept: 10}
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(pwm, pin, cal, PulseCount, time.Millisecond, pid, 400, logger)
}

func TestStartSeedsDutyCycleFromCalibration(t *testing.T) {
	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(0)
	c := newTestController(t, pwm, pin)

	require.NoError(t, c.Start())
	require.True(t, pwm.Running())
	require.InDelta(t, 100.0, pwm.Duty, 1e-9) // 0.5*400+10=210, clamped to 100 by clampDuty
}

func TestPollAdjustsDutyCycleTowardTarget(t *testing.T) {
	orig := PollWindow
	PollWindow = 20 * time.Millisecond
	defer func() { PollWindow = orig }()

	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(2 * time.Millisecond) // fast pulses, simulating RPM well above target
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())

	rpm, duty, err := c.Poll(PollWindow.Seconds())
	require.NoError(t, err)
	require.Greater(t, rpm, 0.0)
	require.GreaterOrEqual(t, duty, 0.0)
	require.LessOrEqual(t, duty, 100.0)
}

func TestPollWarnsAndReturnsZeroWhenNoPulses(t *testing.T) {
	orig := PollWindow
	PollWindow = 10 * time.Millisecond
	defer func() { PollWindow = orig }()

	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(0) // never pulses
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())

	rpm, _, err := c.Poll(PollWindow.Seconds())
	require.NoError(t, err)
	require.Equal(t, 0.0, rpm)
}

func TestSleepStopsAndWakeRestoresDutyCycle(t *testing.T) {
	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(0)
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())

	dutyBeforeSleep := c.dutyCycle
	require.NoError(t, c.Sleep())
	require.False(t, pwm.Running())

	require.NoError(t, c.Wake())
	require.True(t, pwm.Running())
	require.Equal(t, dutyBeforeSleep, pwm.Duty)
}

func TestPollRejectedWhileSleeping(t *testing.T) {
	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(0)
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())
	require.NoError(t, c.Sleep())

	_, _, err := c.Poll(1.0)
	require.Error(t, err)
}

func TestStopUnlocksPWM(t *testing.T) {
	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(0)
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())
	require.NoError(t, c.Stop())

	// a fresh controller should be able to lock the same channel again
	require.NoError(t, pwm.Lock())
}

func TestRunLoopInvokesOnUpdateUntilCancelled(t *testing.T) {
	origEvery, origWindow := PollEvery, PollWindow
	PollEvery = 5 * time.Millisecond
	PollWindow = 2 * time.Millisecond
	defer func() { PollEvery, PollWindow = origEvery, origWindow }()

	pwm := hardware.NewSimPWM()
	pin := hardware.NewSimGPIOPin(time.Millisecond)
	c := newTestController(t, pwm, pin)
	require.NoError(t, c.Start())

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()

	updates := 0
	c.RunLoop(ctx, func(rpm, dutyCycle float64) { updates++ })
	require.Greater(t, updates, 0)
}
