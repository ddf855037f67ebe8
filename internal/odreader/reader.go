// Package odreader implements the synchronous pulsed-LED OD sampler of
// spec.md §4.F: power the IR LED, sweep every configured channel at the
// ADC's fastest data rate, separate the DC (true optical) level from AC
// mains interference via sine regression, optionally run a calibration
// transform, and publish per-channel plus batched readings.
package odreader

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/model"
)

// ChannelConfig describes one photodiode channel being swept.
type ChannelConfig struct {
	ADCChannel  int
	Angle       model.ScatterAngle
	Label       string // e.g. "A", "B" — combined with angle for topic labels
	Calibration *model.ODCalibration
}

// Config parameterizes one Reader instance.
type Config struct {
	SamplesPerSecond float64
	SamplesPerSweep  int // ~25, per spec.md §4.F item 2
	IRLedIntensity   float64
	DACChannel       int
	Channels         []ChannelConfig

	MainsFrequencyCandidates []float64 // {50, 60}
	GainCheckEvery           int
}

// Reader performs the sampling contract of spec.md §4.F.
type Reader struct {
	cfg Config
	adc hardware.ADC
	dac hardware.DAC

	gain    *GainSelector
	mainsHz float64

	priorDC map[string]float64 // seeds the sine-regression prior per channel
	priorOD map[string]float64 // seeds calibration-inversion nearest-branch pick

	paused atomic.Bool
	logger *slog.Logger
}

// NewReader constructs a reader. Call SelectMainsFrequency once at
// startup before the first Record.
func NewReader(cfg Config, adc hardware.ADC, dac hardware.DAC, logger *slog.Logger) *Reader {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SamplesPerSweep == 0 {
		cfg.SamplesPerSweep = 25
	}
	if len(cfg.MainsFrequencyCandidates) == 0 {
		cfg.MainsFrequencyCandidates = []float64{50, 60}
	}
	if cfg.GainCheckEvery == 0 {
		cfg.GainCheckEvery = 20
	}
	return &Reader{
		cfg:     cfg,
		adc:     adc,
		dac:     dac,
		gain:    NewGainSelector(hardware.GainOne, 0.1, cfg.GainCheckEvery),
		mainsHz: 60,
		priorDC: make(map[string]float64),
		priorOD: make(map[string]float64),
		logger:  logger,
	}
}

// Pause suspends sampling at the next loop iteration; Resume continues
// it, per spec.md §4.F's pause semantics.
func (r *Reader) Pause()  { r.paused.Store(true) }
func (r *Reader) Resume() { r.paused.Store(false) }
func (r *Reader) Paused() bool { return r.paused.Load() }

// SelectMainsFrequency samples a short calibration trace and picks
// whichever of the candidate frequencies minimizes AIC, per spec.md
// §4.F's startup mains-pick. Uses the first configured channel.
func (r *Reader) SelectMainsFrequency(ctx context.Context) error {
	if len(r.cfg.Channels) == 0 {
		return fmt.Errorf("odreader: no channels configured")
	}
	ch := r.cfg.Channels[0]

	if err := r.dac.SetIntensity(r.cfg.DACChannel, r.cfg.IRLedIntensity); err != nil {
		return fmt.Errorf("odreader: led on: %w", err)
	}
	defer r.dac.SetIntensity(r.cfg.DACChannel, 0)

	t, v, err := r.sweep(ctx, ch)
	if err != nil {
		return err
	}
	bestHz, _ := calc.BestMainsFrequency(t, v, r.cfg.MainsFrequencyCandidates)
	r.mainsHz = bestHz
	r.logger.Info("odreader: selected mains frequency", "hz", bestHz)
	return nil
}

// sweep collects SamplesPerSweep voltage samples from one channel at
// the ADC's fastest rate, recording elapsed time per sample.
func (r *Reader) sweep(ctx context.Context, ch ChannelConfig) (t, v []float64, err error) {
	t = make([]float64, 0, r.cfg.SamplesPerSweep)
	v = make([]float64, 0, r.cfg.SamplesPerSweep)
	start := time.Now()

	for i := 0; i < r.cfg.SamplesPerSweep; i++ {
		select {
		case <-ctx.Done():
			return nil, nil, ctx.Err()
		default:
		}
		voltage, err := r.readWithRetry(ctx, ch.ADCChannel)
		if err != nil {
			return nil, nil, err
		}
		t = append(t, time.Since(start).Seconds())
		v = append(v, voltage)
	}
	return t, v, nil
}

// readWithRetry treats a transient I2C error as a 5s-pause-and-continue
// condition, per spec.md §4.F's failure semantics; it retries once after
// the pause and propagates any further error as unknown/fatal.
func (r *Reader) readWithRetry(ctx context.Context, channel int) (float64, error) {
	voltage, err := r.adc.ReadVoltage(channel)
	if err == nil {
		return voltage, nil
	}
	r.logger.Warn("odreader: transient adc error, pausing 5s", "error", err)
	select {
	case <-ctx.Done():
		return 0, ctx.Err()
	case <-time.After(5 * time.Second):
	}
	return r.adc.ReadVoltage(channel)
}

// Record performs one full sampling tick across every configured
// channel and returns the resulting batch.
func (r *Reader) Record(ctx context.Context) (model.ODBatch, error) {
	batch := model.NewODBatch(time.Now())

	if err := r.dac.SetIntensity(r.cfg.DACChannel, r.cfg.IRLedIntensity); err != nil {
		return batch, fmt.Errorf("odreader: led on: %w", err)
	}

	var peak float64
	for _, ch := range r.cfg.Channels {
		t, v, err := r.sweep(ctx, ch)
		if err != nil {
			_ = r.dac.SetIntensity(r.cfg.DACChannel, 0)
			return batch, err
		}
		for _, vi := range v {
			if vi > peak {
				peak = vi
			}
		}

		prior, hasPrior := r.priorDC[ch.Label]
		opts := calc.SineRegressionOptions{
			Frequency:         r.mainsHz,
			OutlierZThreshold: 3.5,
			MaxOutlierRounds:  2,
		}
		if hasPrior {
			opts.PriorC = prior
			opts.PriorLambda = 1.0
		}
		fit := calc.SineRegression(t, v, opts)
		r.priorDC[ch.Label] = fit.C

		od := fit.C
		if ch.Calibration != nil && ch.Angle != model.Angle180 {
			previous := r.priorOD[ch.Label]
			result := Invert(*ch.Calibration, fit.C, previous)
			if result.Suggested {
				r.logger.Warn("odreader: calibration inversion clipped to extremum", "channel", ch.Label, "suggested_od", result.OD600)
			}
			od = result.OD600
			r.priorOD[ch.Label] = od
		}

		label := model.ScatterAngleLabel(ch.Angle, ch.Label)
		batch.Readings[label] = model.ODReading{
			Timestamp: batch.Timestamp,
			Angle:     ch.Angle,
			OD:        od,
			Channel:   ch.ADCChannel,
		}
	}

	if err := r.dac.SetIntensity(r.cfg.DACChannel, 0); err != nil {
		return batch, fmt.Errorf("odreader: led off: %w", err)
	}

	if newGain, changed := r.gain.Observe(peak); changed {
		if err := r.adc.SetGain(newGain); err != nil {
			r.logger.Error("odreader: gain switch failed", "error", err)
		} else {
			r.logger.Info("odreader: switched adc gain", "gain", newGain)
		}
	}

	return batch, nil
}
