// Package pump implements the calibrated pump driver of spec.md §4.I:
// ml<->duration conversion, dosing-event-before-actuation ordering, and
// mandatory exclusive PWM access.
package pump

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/model"
)

// ErrCalibrationMissing is returned when a pump kind has no calibration
// on record.
var ErrCalibrationMissing = errors.New("pump: no calibration for this pump")

// ErrPumpLocked is returned when the PWM channel is already claimed —
// actuation is aborted rather than retried, per spec.md §4.I.
var ErrPumpLocked = errors.New("pump: channel locked by another actuation")

// DefaultContinuousWindow is the loop window used by continuous-mode
// dosing, per spec.md §4.I item 2.
const DefaultContinuousWindow = 600 * time.Second

// PublishEvent is called with the dosing event BEFORE the mechanical
// pulse begins, so the growth-rate EKF can inflate observation variance
// ahead of the OD perturbation reaching it (spec.md §5 ordering
// guarantee).
type PublishEvent func(ctx context.Context, event model.DosingEvent) error

// Driver actuates one calibrated pump channel.
type Driver struct {
	Kind        model.PumpKind
	Calibration *model.PumpCalibration
	pwm         hardware.PWMChannel
	channelID   string
	registry    *hardware.Registry
	publish     PublishEvent
	logger      *slog.Logger
}

// NewDriver constructs a driver. calibration may be nil — every dose
// call then fails with ErrCalibrationMissing, matching the "refuse if
// calibration missing" precondition.
func NewDriver(kind model.PumpKind, calibration *model.PumpCalibration, pwm hardware.PWMChannel, channelID string, registry *hardware.Registry, publish PublishEvent, logger *slog.Logger) *Driver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Driver{
		Kind:        kind,
		Calibration: calibration,
		pwm:         pwm,
		channelID:   channelID,
		registry:    registry,
		publish:     publish,
		logger:      logger,
	}
}

// DoseML dispenses ml milliliters (ml < 0 is rejected per spec.md §8's
// boundary behavior) and returns the ml actually delivered.
func (d *Driver) DoseML(ctx context.Context, ml float64, source string) (float64, error) {
	if ml < 0 {
		return 0, fmt.Errorf("pump: negative ml %.4f rejected", ml)
	}
	if d.Calibration == nil {
		return 0, ErrCalibrationMissing
	}
	duration := d.Calibration.DurationFromML(ml)
	return d.actuate(ctx, duration, ml, source)
}

// DoseDuration runs the pump for the given duration and returns the ml
// delivered, per the calibration.
func (d *Driver) DoseDuration(ctx context.Context, duration float64, source string) (float64, error) {
	if duration < 0 {
		return 0, fmt.Errorf("pump: negative duration %.4f rejected", duration)
	}
	if d.Calibration == nil {
		return 0, ErrCalibrationMissing
	}
	ml := d.Calibration.MLFromDuration(duration)
	return d.actuate(ctx, duration, ml, source)
}

// DoseContinuous runs the pump in DefaultContinuousWindow-second bursts
// until stop is closed, publishing one dosing event per burst and
// returning the cumulative ml delivered. The PWM lock is released within
// one grace period of cancellation (spec.md §8 boundary behavior).
func (d *Driver) DoseContinuous(ctx context.Context, source string, stop <-chan struct{}) (float64, error) {
	if d.Calibration == nil {
		return 0, ErrCalibrationMissing
	}
	var total float64
	window := DefaultContinuousWindow.Seconds()
	for {
		select {
		case <-stop:
			return total, nil
		case <-ctx.Done():
			return total, ctx.Err()
		default:
		}
		ml, err := d.actuateInterruptible(ctx, window, d.Calibration.MLFromDuration(window), source, stop)
		total += ml
		if err != nil {
			return total, err
		}
	}
}

func (d *Driver) actuate(ctx context.Context, duration, ml float64, source string) (float64, error) {
	return d.actuateInterruptible(ctx, duration, ml, source, nil)
}

func (d *Driver) actuateInterruptible(ctx context.Context, duration, ml float64, source string, stop <-chan struct{}) (float64, error) {
	if d.publish != nil {
		event := model.DosingEvent{
			VolumeChange:  ml,
			Event:         eventKindFor(d.Kind),
			Timestamp:     time.Now(),
			SourceOfEvent: source,
		}
		if err := d.publish(ctx, event); err != nil {
			return 0, fmt.Errorf("pump: publish dosing event: %w", err)
		}
	}

	var release func()
	if d.registry != nil {
		r, err := d.registry.Acquire(d.channelID)
		if err != nil {
			return 0, fmt.Errorf("%w: %s", ErrPumpLocked, d.channelID)
		}
		release = r
	}
	if err := d.pwm.Lock(); err != nil {
		if release != nil {
			release()
		}
		return 0, fmt.Errorf("%w: %v", ErrPumpLocked, err)
	}
	defer func() {
		_ = d.pwm.Cleanup()
		d.pwm.Unlock()
		if release != nil {
			release()
		}
	}()

	if err := d.pwm.Start(d.Calibration.DutyCycle); err != nil {
		return 0, fmt.Errorf("pump: start: %w", err)
	}

	start := time.Now()
	timer := time.NewTimer(time.Duration(duration * float64(time.Second)))
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-stop:
		return d.Calibration.MLFromDuration(time.Since(start).Seconds()), nil
	}
	return ml, nil
}

func eventKindFor(kind model.PumpKind) model.DosingEventKind {
	switch kind {
	case model.PumpMedia:
		return model.EventAddMedia
	case model.PumpAltMedia:
		return model.EventAddAltMedia
	case model.PumpWaste:
		return model.EventRemoveWaste
	default:
		return model.EventAddMedia
	}
}
