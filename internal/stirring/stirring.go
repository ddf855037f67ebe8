package stirring

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/hardware"
)

// RPMCalibration is the linear map from target RPM to an initial duty
// cycle: dc <- coef*rpm + intercept.
type RPMCalibration struct {
	Coefficient float64
	Intercept   float64
}

func (c RPMCalibration) PredictDutyCycle(rpm float64) float64 {
	return c.Coefficient*rpm + c.Intercept
}

// Controller drives a PWM fan/motor to hold a target RPM, measured from
// a hall-sensor GPIO pin, per spec.md §4.H.
type Controller struct {
	pwm         hardware.PWMChannel
	pin         hardware.GPIOPin
	calibration RPMCalibration
	strategy    RPMStrategy
	debounce    time.Duration

	pid *calc.PID
	ema *calc.EMA

	mu          sync.Mutex
	targetRPM   float64
	dutyCycle   float64
	savedDC     float64
	measuredRPM float64
	sleeping    bool

	logger *slog.Logger
}

// New constructs a controller targeting targetRPM. pid should already
// carry the Kp/Ki/Kd gains the node was tuned with; its setpoint is
// set to targetRPM (the PID tracks RPM error, and Poll nudges duty cycle
// by its output delta, per spec.md §4.H — not driving duty cycle directly).
func New(pwm hardware.PWMChannel, pin hardware.GPIOPin, calibration RPMCalibration, strategy RPMStrategy, debounce time.Duration, pid *calc.PID, targetRPM float64, logger *slog.Logger) *Controller {
	if logger == nil {
		logger = slog.Default()
	}
	pid.SetSetpoint(targetRPM)
	return &Controller{
		pwm:         pwm,
		pin:         pin,
		calibration: calibration,
		strategy:    strategy,
		debounce:    debounce,
		pid:         pid,
		ema:         calc.NewEMA(0.05),
		targetRPM:   targetRPM,
		logger:      logger,
	}
}

// Start locks the PWM channel and spins it up at the calibrated initial
// duty cycle, weighted 0.1*current + 0.9*predicted (spec.md §4.H; on a
// cold start "current" is simply the predicted value, since there is no
// prior measurement yet).
func (c *Controller) Start() error {
	if err := c.pwm.Lock(); err != nil {
		return fmt.Errorf("stirring: lock pwm: %w", err)
	}
	c.mu.Lock()
	predicted := c.calibration.PredictDutyCycle(c.targetRPM)
	c.dutyCycle = clampDuty(0.1*predicted + 0.9*predicted)
	c.mu.Unlock()
	return c.pwm.Start(c.dutyCycle)
}

// SetTargetRPM updates the target; takes effect on the next poll.
func (c *Controller) SetTargetRPM(rpm float64) {
	c.mu.Lock()
	c.targetRPM = rpm
	c.mu.Unlock()
	c.pid.SetSetpoint(rpm)
}

// Poll measures RPM once (blocking for PollWindow), applies the EMA,
// runs the PID, and nudges duty cycle by the PID's output delta.
// Returns the smoothed RPM and the new duty cycle for publishing.
func (c *Controller) Poll(dt float64) (measuredRPM, dutyCycle float64, err error) {
	c.mu.Lock()
	if c.sleeping {
		c.mu.Unlock()
		return 0, 0, fmt.Errorf("stirring: cannot poll while sleeping")
	}
	strategy := c.strategy
	debounce := c.debounce
	c.mu.Unlock()

	raw := MeasureRPM(c.pin, debounce, strategy)
	if raw == 0 {
		c.logger.Warn("stirring may have failed: measured RPM is 0")
	}
	smoothed := c.ema.Update(raw)

	delta := c.pid.Update(smoothed, dt)

	c.mu.Lock()
	c.measuredRPM = smoothed
	c.dutyCycle = clampDuty(c.dutyCycle + delta)
	duty := c.dutyCycle
	c.mu.Unlock()

	if err := c.pwm.ChangeDutyCycle(duty); err != nil {
		return smoothed, duty, fmt.Errorf("stirring: change duty cycle: %w", err)
	}
	return smoothed, duty, nil
}

// Sleep saves the current duty cycle and stops the PWM, per spec.md
// §4.H's ready->sleeping transition.
func (c *Controller) Sleep() error {
	c.mu.Lock()
	c.savedDC = c.dutyCycle
	c.sleeping = true
	c.mu.Unlock()
	return c.pwm.Stop()
}

// Wake restores the saved duty cycle and resumes polling, per spec.md
// §4.H's sleeping->ready transition.
func (c *Controller) Wake() error {
	c.mu.Lock()
	c.dutyCycle = c.savedDC
	c.sleeping = false
	duty := c.dutyCycle
	c.mu.Unlock()
	return c.pwm.Start(duty)
}

// Stop releases the PWM channel entirely.
func (c *Controller) Stop() error {
	if err := c.pwm.Stop(); err != nil {
		return err
	}
	c.pwm.Unlock()
	return nil
}

func clampDuty(d float64) float64 {
	if d < 0 {
		return 0
	}
	if d > 100 {
		return 100
	}
	return d
}

// RunLoop polls every PollEvery until ctx is cancelled, invoking onUpdate
// with each (rpm, dutyCycle) measurement.
func (c *Controller) RunLoop(ctx context.Context, onUpdate func(rpm, dutyCycle float64)) {
	ticker := time.NewTicker(PollEvery)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			rpm, dc, err := c.Poll(PollEvery.Seconds())
			if err != nil {
				c.logger.Error("stirring: poll failed", "error", err)
				continue
			}
			onUpdate(rpm, dc)
		}
	}
}
