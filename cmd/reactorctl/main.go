// reactorctl — single-binary entrypoint for every background job and
// one-shot action the control core runs: OD reading, OD normalization,
// growth-rate calculation, stirring, dosing/LED/temperature automations,
// manual pump dosing, and the process monitor/supervisor.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/gpio/gpioreg"
	"periph.io/x/conn/v3/i2c"
	"periph.io/x/conn/v3/i2c/i2creg"
	"periph.io/x/conn/v3/physic"
	"periph.io/x/host/v3"

	"github.com/biostacklabs/reactorcore/internal/automation"
	"github.com/biostacklabs/reactorcore/internal/automation/dosing"
	"github.com/biostacklabs/reactorcore/internal/automation/led"
	"github.com/biostacklabs/reactorcore/internal/automation/temperature"
	"github.com/biostacklabs/reactorcore/internal/calc"
	"github.com/biostacklabs/reactorcore/internal/config"
	"github.com/biostacklabs/reactorcore/internal/growthrate"
	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/job"
	"github.com/biostacklabs/reactorcore/internal/model"
	"github.com/biostacklabs/reactorcore/internal/monitor"
	"github.com/biostacklabs/reactorcore/internal/odreader"
	"github.com/biostacklabs/reactorcore/internal/pubsub"
	"github.com/biostacklabs/reactorcore/internal/pump"
	"github.com/biostacklabs/reactorcore/internal/stirring"
	"github.com/biostacklabs/reactorcore/internal/store"
)

var version = "0.1.0"

var (
	configPath string
	unitFlag   string
	expFlag    string
)

func main() {
	root := &cobra.Command{
		Use:     "reactorctl",
		Short:   "Bioreactor control-core job runner",
		Version: version,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "/etc/reactorcore/config.toml", "path to node config TOML")
	root.PersistentFlags().StringVar(&unitFlag, "unit", "", "unit name (overrides config)")
	root.PersistentFlags().StringVar(&expFlag, "experiment", "", "experiment name (overrides config)")

	root.AddCommand(
		newStirringCmd(),
		newODReaderCmd(),
		newODNormalizeCmd(),
		newGrowthRateCmd(),
		newDosingCmd(),
		newLEDCmd(),
		newTemperatureCmd(),
		newMonitorCmd(),
		newDoseCmd(),
	)

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// loadConfig reads the TOML config and applies unit/experiment overrides.
func loadConfig() (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if unitFlag != "" {
		cfg.Unit = unitFlag
	}
	if expFlag != "" {
		cfg.Experiment = expFlag
	}
	return cfg, nil
}

// initHost brings up periph.io's platform drivers; required once per
// process before any gpioreg/i2creg lookup.
func initHost() error {
	_, err := host.Init()
	return err
}

func dialBus(cfg config.Config, jobName string, logger *slog.Logger) (*pubsub.Bus, error) {
	return pubsub.Dial(pubsub.Config{
		BrokerURL:  cfg.MQTT.BrokerURL,
		Namespace:  cfg.Namespace,
		Unit:       cfg.Unit,
		Experiment: cfg.Experiment,
		JobName:    jobName,
	}, logger)
}

// openRawGPIO resolves a periph pin by name, for callers (like SoftPWM)
// that need the raw gpio.PinIO rather than the hardware.GPIOPin wrapper.
func openRawGPIO(name string) (gpio.PinIO, error) {
	p := gpioreg.ByName(name)
	if p == nil {
		return nil, fmt.Errorf("reactorctl: gpio pin %q not found", name)
	}
	return p, nil
}

func openGPIO(name string) (*hardware.Pin, error) {
	p, err := openRawGPIO(name)
	if err != nil {
		return nil, err
	}
	return hardware.NewPin(p), nil
}

func openI2C() (i2c.BusCloser, error) {
	b, err := i2creg.Open("")
	if err != nil {
		return nil, fmt.Errorf("reactorctl: open i2c bus: %w", err)
	}
	return b, nil
}

// defaultPumpCalibration is the identity ml<->duration mapping (slope
// 1 ml/s, bias 0) that newPumpDriver gives every pump driver; no stored
// pump calibration is loaded.
func defaultPumpCalibration(kind model.PumpKind) *model.PumpCalibration {
	return &model.PumpCalibration{Name: "default_" + string(kind), Pump: kind, DurationSlope: 1.0, Bias: 0}
}

func pumpPin(cfg config.Config, kind model.PumpKind) int {
	switch kind {
	case model.PumpMedia:
		return cfg.Pumps.MediaPin
	case model.PumpAltMedia:
		return cfg.Pumps.AltMediaPin
	default:
		return cfg.Pumps.WastePin
	}
}

func newPumpDriver(kind model.PumpKind, cfg config.Config, registry *hardware.Registry, bus *pubsub.Bus, logger *slog.Logger) (*pump.Driver, error) {
	pin, err := openRawGPIO(fmt.Sprintf("GPIO%d", pumpPin(cfg, kind)))
	if err != nil {
		return nil, err
	}
	pwm := hardware.NewSoftPWM(pin, 100*physic.Hertz)
	return pump.NewDriver(kind, defaultPumpCalibration(kind), pwm, string(kind), registry, publishDosingEvent(bus), logger), nil
}

func runningJobs() (*store.IntermittentCache, error) {
	return store.NewIntermittent().Cache("pio_jobs_running"), nil
}

// runUntilSignal blocks until SIGINT/SIGTERM/SIGHUP, then runs the job's
// graceful disconnect sequence, per spec.md §4.D item 5.
func runUntilSignal(j *job.Job) {
	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	<-sig
	j.Disconnect(context.Background())
}

// --- stirring ---

func newStirringCmd() *cobra.Command {
	var targetRPM float64
	cmd := &cobra.Command{
		Use:   "stirring",
		Short: "Run the stirring job: hall-sensor RPM measurement + PID duty cycle",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if targetRPM > 0 {
				cfg.Stirring.TargetRPM = targetRPM
			}
			if err := initHost(); err != nil {
				return err
			}

			logger := slog.Default()
			bus, err := dialBus(cfg, "stirring", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "stirring", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			pwmRawPin, err := openRawGPIO(fmt.Sprintf("GPIO%d", cfg.Stirring.PWMPin))
			if err != nil {
				return err
			}
			hallPin, err := openGPIO(fmt.Sprintf("GPIO%d", cfg.Stirring.HallPin))
			if err != nil {
				return err
			}
			_ = hallPin.SetInput(true)

			pwm := hardware.NewSoftPWM(pwmRawPin, 200*physic.Hertz)

			pid := calc.NewPID(0.5, 0.01, 0.0, 0.0, cfg.Stirring.TargetRPM, -50, 50)
			ctrl := stirring.New(pwm, hallPin, stirring.RPMCalibration{Coefficient: 1, Intercept: 0}, stirring.MeanInterval, 20*time.Millisecond, pid, cfg.Stirring.TargetRPM, logger)

			if err := ctrl.Start(); err != nil {
				return err
			}

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			j.OnDisconnect(func() { _ = ctrl.Stop() })
			j.Go(func(ctx context.Context) {
				ctrl.RunLoop(ctx, func(rpm, duty float64) {
					logger.Info("stirring: poll", "rpm", rpm, "duty", duty)
				})
			})

			runUntilSignal(j)
			return nil
		},
	}
	cmd.Flags().Float64Var(&targetRPM, "target-rpm", 0, "override configured target RPM")
	return cmd
}

// --- od reader ---

func newODReaderCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "od-reader",
		Short: "Run the OD reading job: periodic pulsed-LED ADC sampling",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initHost(); err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "od_reading", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "od_reading", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			i2cBus, err := openI2C()
			if err != nil {
				return err
			}
			adc := hardware.NewI2CADC(i2cBus, 0x48)
			dac := hardware.NewI2CDAC(i2cBus, 0x4A, hardware.DACI2C8Bit)

			rc := odreader.Config{
				SamplesPerSecond: cfg.ODReading.SamplesPerSecond,
				SamplesPerSweep:  25,
				IRLedIntensity:   cfg.ODReading.IRLedIntensity,
				DACChannel:       0,
				Channels: []odreader.ChannelConfig{
					{ADCChannel: cfg.ODReading.PDChannel, Angle: model.Angle90, Label: "A"},
				},
				MainsFrequencyCandidates: []float64{50, 60},
				GainCheckEvery:           20,
			}
			reader := odreader.NewReader(rc, adc, dac, logger)
			if err := reader.SelectMainsFrequency(cmd.Context()); err != nil {
				logger.Warn("od-reader: mains frequency selection failed", "error", err)
			}

			j.RegisterSetting("pause", &job.Setting{
				DataType: "boolean",
				Settable: true,
				Get: func() string {
					if reader.Paused() {
						return "1"
					}
					return "0"
				},
				Set: func(v string) error {
					switch v {
					case "1", "true":
						reader.Pause()
					case "0", "false":
						reader.Resume()
					default:
						return fmt.Errorf("od-reader: invalid pause value %q", v)
					}
					return nil
				},
			})

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			j.Go(func(ctx context.Context) {
				period := time.Duration(float64(time.Second) / cfg.ODReading.SamplesPerSecond)
				ticker := time.NewTicker(period)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if reader.Paused() {
							continue
						}
						batch, err := reader.Record(ctx)
						if err != nil {
							logger.Error("od-reader: record failed", "error", err)
							continue
						}
						payload, _ := json.Marshal(batch)
						_ = bus.Publish(ctx, "od_raw_batched", payload, pubsub.AtMostOnce, false)
					}
				}
			})

			runUntilSignal(j)
			return nil
		},
	}
	return cmd
}

// newODNormalizeCmd runs the one-shot od_normalization action: sample OD
// for a short burst, compute each channel's median and variance, then
// persist and publish both retained for growth-rate's startup seeding
// (spec.md §7 item 1).
func newODNormalizeCmd() *cobra.Command {
	var samples int
	cmd := &cobra.Command{
		Use:   "od-normalize",
		Short: "One-shot OD normalization: publish per-channel median/variance baselines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initHost(); err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "od_normalization", logger)
			if err != nil {
				return err
			}

			i2cBus, err := openI2C()
			if err != nil {
				return err
			}
			adc := hardware.NewI2CADC(i2cBus, 0x48)
			dac := hardware.NewI2CDAC(i2cBus, 0x4A, hardware.DACI2C8Bit)

			rc := odreader.Config{
				SamplesPerSecond: 0.5, // od_normalization.py samples faster than the standing od-reader job
				SamplesPerSweep:  25,
				IRLedIntensity:   cfg.ODReading.IRLedIntensity,
				DACChannel:       0,
				Channels: []odreader.ChannelConfig{
					{ADCChannel: cfg.ODReading.PDChannel, Angle: model.Angle90, Label: "A"},
				},
				MainsFrequencyCandidates: []float64{50, 60},
				GainCheckEvery:           20,
			}
			reader := odreader.NewReader(rc, adc, dac, logger)
			if err := reader.SelectMainsFrequency(cmd.Context()); err != nil {
				logger.Warn("od-normalize: mains frequency selection failed", "error", err)
			}

			medians, variances, err := odreader.Normalize(cmd.Context(), reader, samples)
			if err != nil {
				return err
			}

			medianPayload, err := json.Marshal(medians)
			if err != nil {
				return err
			}
			variancePayload, err := json.Marshal(variances)
			if err != nil {
				return err
			}

			if err := bus.Publish(cmd.Context(), "median", medianPayload, pubsub.AtLeastOnce, true); err != nil {
				return err
			}
			if err := bus.Publish(cmd.Context(), "variance", variancePayload, pubsub.AtLeastOnce, true); err != nil {
				return err
			}

			db, err := store.OpenPersistent(cfg.Storage.PersistentDBPath)
			if err != nil {
				return err
			}
			defer db.Close()
			cache := db.Cache("od_normalization")
			if err := cache.Set("median", medianPayload); err != nil {
				return err
			}
			if err := cache.Set("variance", variancePayload); err != nil {
				return err
			}

			fmt.Printf("normalized %d channel(s)\n", len(medians))
			return nil
		},
	}
	cmd.Flags().IntVar(&samples, "samples", odreader.DefaultNormalizationSamples, "number of OD sweeps to sample")
	return cmd
}

// --- growth rate ---

// normalizationSubscribeTimeout is growth_rate_calculating.py's
// subscribe(..., timeout=2) wait for a cached od_normalization/growth_rate
// retained value before falling back to an identity/zero default.
const normalizationSubscribeTimeout = 2 * time.Second

// fetchRate0 seeds r_0 from this job's own last published growth_rate
// (cached across restarts via MQTT retention), or 1 if ignoreCache is
// set, or 0 if no retained value is present — matching
// growth_rate_calculating.py's set_initial_growth_rate.
func fetchRate0(bus *pubsub.Bus, ignoreCache bool, logger *slog.Logger) float64 {
	if ignoreCache {
		return 1
	}
	payload, ok, err := bus.SubscribeOnce(bus.Topic().Attr("growth_rate"), pubsub.ExactlyOnce, normalizationSubscribeTimeout)
	if err != nil {
		logger.Warn("growth-rate: fetch cached growth_rate failed", "error", err)
		return 0
	}
	if !ok {
		return 0
	}
	v, err := strconv.ParseFloat(string(payload), 64)
	if err != nil {
		return 0
	}
	return v
}

// fetchNormalization seeds the per-label median/variance maps from the
// od_normalization action's retained topics, matching
// growth_rate_calculating.py's set_od_normalization_factors/
// set_od_variances (both default to an empty map, which growthrate.New
// treats as identity median / defaultObservationVariance per label).
func fetchNormalization(normBus *pubsub.Bus, logger *slog.Logger) (medians, variances map[string]float64) {
	medians = make(map[string]float64)
	variances = make(map[string]float64)

	if payload, ok, err := normBus.SubscribeOnce(normBus.Topic().Attr("median"), pubsub.ExactlyOnce, normalizationSubscribeTimeout); err != nil {
		logger.Warn("growth-rate: fetch od_normalization/median failed", "error", err)
	} else if ok {
		if err := json.Unmarshal(payload, &medians); err != nil {
			logger.Warn("growth-rate: decode od_normalization/median failed", "error", err)
		}
	}

	if payload, ok, err := normBus.SubscribeOnce(normBus.Topic().Attr("variance"), pubsub.ExactlyOnce, normalizationSubscribeTimeout); err != nil {
		logger.Warn("growth-rate: fetch od_normalization/variance failed", "error", err)
	} else if ok {
		if err := json.Unmarshal(payload, &variances); err != nil {
			logger.Warn("growth-rate: decode od_normalization/variance failed", "error", err)
		}
	}

	return medians, variances
}

func newGrowthRateCmd() *cobra.Command {
	var ignoreCache bool
	cmd := &cobra.Command{
		Use:   "growth-rate",
		Short: "Run the growth-rate calculating job: EKF over batched OD readings",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "growth_rate_calculating", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "growth_rate_calculating", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			normBus, err := dialBus(cfg, "od_normalization", logger)
			if err != nil {
				return err
			}
			medians, variances := fetchNormalization(normBus, logger)
			rate0 := fetchRate0(bus, ignoreCache, logger)

			var calcInst *growthrate.Calculator
			if err := j.Start(cmd.Context()); err != nil {
				return err
			}

			odBus, err := dialBus(cfg, "od_reading", logger)
			if err != nil {
				return err
			}
			_ = odBus.Subscribe("od_raw_batched", pubsub.AtMostOnce, true, func(topic string, payload []byte, retained bool) {
				var batch model.ODBatch
				if err := json.Unmarshal(payload, &batch); err != nil {
					logger.Error("growth-rate: decode batch", "error", err)
					return
				}
				if calcInst == nil {
					labels := make([]string, 0, len(batch.Readings))
					initial := make(map[string]float64)
					for label, r := range batch.Readings {
						labels = append(labels, label)
						initial[label] = r.OD
					}
					calcInst, err = growthrate.New(labels, medians, variances, initial, rate0, time.Duration(float64(time.Second)/cfg.ODReading.SamplesPerSecond))
					if err != nil {
						logger.Error("growth-rate: init", "error", err)
						return
					}
					return
				}
				filtered, rate, err := calcInst.Update(batch)
				if err != nil {
					logger.Error("growth-rate: update", "error", err)
					return
				}
				_ = bus.Publish(cmd.Context(), "growth_rate", []byte(strconv.FormatFloat(rate, 'f', 6, 64)), pubsub.ExactlyOnce, true)
				for label, v := range filtered {
					_ = bus.Publish(cmd.Context(), "od_filtered/"+label, []byte(strconv.FormatFloat(v, 'f', 6, 64)), pubsub.AtMostOnce, false)
				}
			})

			dosingBus, err := dialBus(cfg, "dosing_automation", logger)
			if err != nil {
				return err
			}
			_ = dosingBus.Subscribe("dosing_events", pubsub.ExactlyOnce, true, func(topic string, payload []byte, retained bool) {
				if calcInst != nil {
					calcInst.OnDosingEvent()
				}
			})

			runUntilSignal(j)
			return nil
		},
	}
	cmd.Flags().BoolVar(&ignoreCache, "ignore-cache", false, "seed the growth rate from 1 instead of the last cached value")
	return cmd
}

// --- automations (dosing/led/temperature) ---

func parseSettings(raw string) map[string]string {
	out := make(map[string]string)
	if raw == "" {
		return out
	}
	for _, pair := range strings.Split(raw, ",") {
		kv := strings.SplitN(pair, "=", 2)
		if len(kv) != 2 {
			continue
		}
		out[strings.TrimSpace(kv[0])] = strings.TrimSpace(kv[1])
	}
	return out
}

func newDosingCmd() *cobra.Command {
	var policyKey, settingsRaw string
	var periodSeconds float64
	cmd := &cobra.Command{
		Use:   "dosing",
		Short: "Run a dosing automation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initHost(); err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "dosing_automation", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "dosing_automation", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			registry := automation.NewRegistry()
			dosing.Register(registry)
			policy, err := registry.Build(policyKey, parseSettings(settingsRaw))
			if err != nil {
				return err
			}

			pumpRegistry := hardware.NewRegistry()
			media, err := newPumpDriver(model.PumpMedia, cfg, pumpRegistry, bus, logger)
			if err != nil {
				return err
			}
			altMedia, err := newPumpDriver(model.PumpAltMedia, cfg, pumpRegistry, bus, logger)
			if err != nil {
				return err
			}
			waste, err := newPumpDriver(model.PumpWaste, cfg, pumpRegistry, bus, logger)
			if err != nil {
				return err
			}

			var ctrl *automation.Controller
			ctrl = automation.NewController(policy, time.Duration(periodSeconds*float64(time.Second)), media, altMedia, waste, cfg.Dosing.VialVolumeML, nil,
				func(ev model.AutomationEvent) { dispatchDosingEvent(cmd.Context(), ctrl, ev, logger) }, logger)

			odBus, err := dialBus(cfg, "od_reading", logger)
			if err != nil {
				return err
			}
			_ = odBus.Subscribe("od_filtered/90/A", pubsub.AtMostOnce, true, func(topic string, payload []byte, retained bool) {
				v, err := strconv.ParseFloat(string(payload), 64)
				if err == nil {
					ctrl.UpdateOD(v, time.Now())
				}
			})
			rateBus, err := dialBus(cfg, "growth_rate_calculating", logger)
			if err != nil {
				return err
			}
			_ = rateBus.Subscribe("growth_rate", pubsub.ExactlyOnce, true, func(topic string, payload []byte, retained bool) {
				v, err := strconv.ParseFloat(string(payload), 64)
				if err == nil {
					ctrl.UpdateGrowthRate(v, time.Now())
				}
			})

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			j.Go(ctrl.Run)

			runUntilSignal(j)
			return nil
		},
	}
	cmd.Flags().StringVar(&policyKey, "policy", "silent", "dosing policy key (silent, turbidostat, morbidostat, pid_morbidostat, pid_turbidostat, chemostat, continuous_cycle, fed_batch)")
	cmd.Flags().StringVar(&settingsRaw, "settings", "", "comma-separated key=value policy settings")
	cmd.Flags().Float64Var(&periodSeconds, "period-seconds", 300, "seconds between automation decisions (0 = run once)")
	return cmd
}

func publishDosingEvent(bus *pubsub.Bus) pump.PublishEvent {
	return func(ctx context.Context, event model.DosingEvent) error {
		payload, err := json.Marshal(event)
		if err != nil {
			return err
		}
		return bus.Publish(ctx, "dosing_events", payload, pubsub.ExactlyOnce, false)
	}
}

// dispatchDosingEvent converts a decided AutomationEvent into the
// corresponding pump actuation: dilution and alt-media events add and
// remove an equal volume to hold the vial volume constant; fed-batch's
// AddMedia event only adds, per spec.md §4.J.
func dispatchDosingEvent(ctx context.Context, ctrl *automation.Controller, ev model.AutomationEvent, logger *slog.Logger) {
	volume, _ := ev.Data["volume"].(float64)
	var err error
	switch ev.Kind {
	case model.EventDilution:
		err = ctrl.ExecuteIOAction(ctx, volume, 0, volume)
	case model.EventAddAltMediaAut:
		err = ctrl.ExecuteIOAction(ctx, 0, volume, volume)
	case model.EventAddMediaAut:
		err = ctrl.ExecuteIOAction(ctx, volume, 0, 0)
	}
	if err != nil {
		logger.Error("dosing: io action failed", "error", err, "event", ev.Kind)
	}
}

func newLEDCmd() *cobra.Command {
	var policyKey, settingsRaw string
	var periodSeconds float64
	cmd := &cobra.Command{
		Use:   "led",
		Short: "Run an LED automation job",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initHost(); err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "led_automation", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "led_automation", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			registry := automation.NewRegistry()
			led.Register(registry)
			policy, err := registry.Build(policyKey, parseSettings(settingsRaw))
			if err != nil {
				return err
			}

			i2cBus, err := openI2C()
			if err != nil {
				return err
			}
			dac := hardware.NewI2CDAC(i2cBus, 0x4A, hardware.DACI2C8Bit)

			ctrl := automation.NewController(policy, time.Duration(periodSeconds*float64(time.Second)), nil, nil, nil, cfg.Dosing.VialVolumeML, nil,
				func(ev model.AutomationEvent) {
					if ev.Kind != model.EventLEDUpdate {
						return
					}
					intensity, _ := ev.Data["intensity"].(float64)
					if err := dac.SetIntensity(0, intensity); err != nil {
						logger.Error("led: set intensity failed", "error", err)
					}
				}, logger)

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			j.Go(ctrl.Run)

			runUntilSignal(j)
			return nil
		},
	}
	cmd.Flags().StringVar(&policyKey, "policy", "silent", "LED policy key (silent, constant_intensity)")
	cmd.Flags().StringVar(&settingsRaw, "settings", "", "comma-separated key=value policy settings")
	cmd.Flags().Float64Var(&periodSeconds, "period-seconds", 60, "seconds between automation decisions (0 = run once)")
	return cmd
}

func newTemperatureCmd() *cobra.Command {
	var target, kp, ki, kd, periodSeconds float64
	cmd := &cobra.Command{
		Use:   "temperature",
		Short: "Run the PID-stable temperature automation",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "temperature_automation", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "temperature_automation", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			policy := temperature.NewPIDStable(target, kp, ki, kd)
			ctrl := automation.NewController(policy, time.Duration(periodSeconds*float64(time.Second)), nil, nil, nil, cfg.Dosing.VialVolumeML, nil,
				func(ev model.AutomationEvent) {
					_ = bus.Publish(cmd.Context(), "heater_duty_cycle", []byte(strconv.FormatFloat(policy.DutyCycle(), 'f', 2, 64)), pubsub.ExactlyOnce, true)
				}, logger)

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			j.Go(ctrl.Run)

			runUntilSignal(j)
			return nil
		},
	}
	cmd.Flags().Float64Var(&target, "target-temperature", 37, "target temperature, Celsius")
	cmd.Flags().Float64Var(&kp, "kp", 3.0, "PID proportional gain")
	cmd.Flags().Float64Var(&ki, "ki", 0.05, "PID integral gain")
	cmd.Flags().Float64Var(&kd, "kd", 0, "PID derivative gain, applied to the DEMA-filtered temperature change")
	cmd.Flags().Float64Var(&periodSeconds, "period-seconds", 30, "seconds between temperature updates")
	return cmd
}

// --- monitor ---

func newMonitorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "monitor",
		Short: "Run the process supervisor: self-checks, button, launcher, error codes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := initHost(); err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "monitor", logger)
			if err != nil {
				return err
			}
			running, err := runningJobs()
			if err != nil {
				return err
			}
			j, err := job.New(job.Config{Name: "monitor", Unit: cfg.Unit, Experiment: cfg.Experiment, Namespace: cfg.Namespace}, bus, running, logger)
			if err != nil {
				return err
			}

			led, err := openGPIO(fmt.Sprintf("GPIO%d", cfg.Monitor.LEDPin))
			if err != nil {
				return err
			}
			button, err := openGPIO(fmt.Sprintf("GPIO%d", cfg.Monitor.ButtonPin))
			if err != nil {
				return err
			}

			checker := monitor.NewSelfChecker(
				func() bool { return true },
				func() bool { return false },
			)
			m := monitor.New(j, checker, running, led, button)

			if err := j.Start(cmd.Context()); err != nil {
				return err
			}
			if err := m.Run(cmd.Context(), func() { time.Sleep(2 * time.Second) }); err != nil {
				return err
			}

			runUntilSignal(j)
			return nil
		},
	}
	return cmd
}

// --- manual dosing action ---

func newDoseCmd() *cobra.Command {
	var ml float64
	var kind string
	cmd := &cobra.Command{
		Use:   "dose",
		Short: "One-shot manual pump actuation (media, alt-media, or waste)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			logger := slog.Default()
			bus, err := dialBus(cfg, "dose_action", logger)
			if err != nil {
				return err
			}

			var pumpKind model.PumpKind
			switch kind {
			case "media":
				pumpKind = model.PumpMedia
			case "alt-media":
				pumpKind = model.PumpAltMedia
			case "waste":
				pumpKind = model.PumpWaste
			default:
				return fmt.Errorf("reactorctl: unknown pump kind %q", kind)
			}

			if err := initHost(); err != nil {
				return err
			}
			driver, err := newPumpDriver(pumpKind, cfg, hardware.NewRegistry(), bus, logger)
			if err != nil {
				return err
			}
			dispensed, err := driver.DoseML(cmd.Context(), ml, "manual_cli")
			if err != nil {
				return err
			}
			fmt.Printf("dispensed %.4f ml\n", dispensed)
			return nil
		},
	}
	cmd.Flags().Float64Var(&ml, "ml", 1.0, "volume to dispense, ml")
	cmd.Flags().StringVar(&kind, "kind", "media", "media, alt-media, or waste")
	return cmd
}
