// Package job implements the background job lifecycle framework of
// spec.md §4.D: every long-running subsystem (OD reader, growth-rate
// calculator, stirring, automations, monitor) embeds a *Job for its
// state machine, setting fanout, duplicate-process guard, and signal
// handling, the same way the teacher's orchestrator wires context
// cancellation and a WaitGroup of worker goroutines around one run.
package job

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/biostacklabs/reactorcore/internal/model"
	"github.com/biostacklabs/reactorcore/internal/pubsub"
	"github.com/biostacklabs/reactorcore/internal/store"
)

// Config identifies a job instance on the bus.
type Config struct {
	Name       string
	Unit       string
	Experiment string
	Namespace  string
}

// Job is the embeddable lifecycle skeleton every background subsystem
// wraps around its own domain logic.
type Job struct {
	cfg    Config
	bus    *pubsub.Bus
	logger *slog.Logger

	jobsRunning *store.IntermittentCache

	mu       sync.Mutex
	state    model.State
	settings map[string]*Setting

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onDisconnect []func()
}

// New constructs a job in INIT: checks the duplicate-process guard and
// marks the job name as running. RegisterSetting then wires each "set"
// listener, and Start announces $properties/$settable and transitions
// INIT->READY.
func New(cfg Config, bus *pubsub.Bus, jobsRunning *store.IntermittentCache, logger *slog.Logger) (*Job, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if jobsRunning != nil {
		if v, ok := jobsRunning.Get(cfg.Name); ok && string(v) == "1" {
			return nil, fmt.Errorf("%w: %s", ErrDuplicateJob, cfg.Name)
		}
		jobsRunning.Set(cfg.Name, []byte("1"))
	}

	ctx, cancel := context.WithCancel(context.Background())
	j := &Job{
		cfg:         cfg,
		bus:         bus,
		logger:      logger.With("job", cfg.Name),
		jobsRunning: jobsRunning,
		state:       model.StateInit,
		settings:    make(map[string]*Setting),
		ctx:         ctx,
		cancel:      cancel,
	}
	return j, nil
}

// RegisterSetting adds one published setting and wires its "/set"
// listener. Call before Start.
func (j *Job) RegisterSetting(name string, s *Setting) {
	j.mu.Lock()
	j.settings[name] = s
	j.mu.Unlock()

	if j.bus == nil {
		return
	}
	_ = j.bus.SubscribeSet(name, func(topic string, payload []byte, retained bool) {
		if err := j.SetSetting(name, string(payload)); err != nil {
			j.logger.Debug("job: unknown or rejected settable", "setting", name, "error", err)
		}
	})
}

// Start announces properties and moves INIT->READY. Call after every
// RegisterSetting call.
func (j *Job) Start(ctx context.Context) error {
	j.mu.Lock()
	names := make([]string, 0, len(j.settings))
	for n := range j.settings {
		names = append(names, n)
	}
	sort.Strings(names)
	j.mu.Unlock()

	if j.bus != nil {
		if err := j.bus.Publish(ctx, "$properties", []byte(strings.Join(names, ",")), pubsub.AtLeastOnce, true); err != nil {
			return fmt.Errorf("job: publish $properties: %w", err)
		}
		for _, n := range names {
			settable := "0"
			if j.settings[n].Settable {
				settable = "1"
			}
			if err := j.bus.Publish(ctx, n+"/$settable", []byte(settable), pubsub.AtLeastOnce, true); err != nil {
				return fmt.Errorf("job: publish $settable for %s: %w", n, err)
			}
		}
	}
	return j.transition(ctx, model.StateReady)
}

// SetSetting casts value to the setting's current type via its setter
// hook, then publishes the new value retained at EXACTLY_ONCE — the one
// mandatory side effect of any accepted assignment (spec.md §4.D item 3).
func (j *Job) SetSetting(name, value string) error {
	j.mu.Lock()
	s, ok := j.settings[name]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("job: unknown setting %q", name)
	}
	if !s.Settable {
		return fmt.Errorf("job: setting %q is not settable", name)
	}
	if err := s.Set(value); err != nil {
		return fmt.Errorf("job: set %q: %w", name, err)
	}
	if j.bus != nil {
		return j.bus.Publish(j.ctx, name, []byte(s.Get()), pubsub.ExactlyOnce, true)
	}
	return nil
}

// PublishSetting republishes a setting's current value retained, for
// callers whose internal state changed without going through SetSetting
// (e.g. a computed value like measured_rpm).
func (j *Job) PublishSetting(ctx context.Context, name string) error {
	j.mu.Lock()
	s, ok := j.settings[name]
	j.mu.Unlock()
	if !ok {
		return fmt.Errorf("job: unknown setting %q", name)
	}
	if j.bus == nil {
		return nil
	}
	return j.bus.Publish(ctx, name, []byte(s.Get()), pubsub.ExactlyOnce, true)
}

// State returns the current lifecycle state.
func (j *Job) State() model.State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

func (j *Job) transition(ctx context.Context, to model.State) error {
	j.mu.Lock()
	j.state = to
	j.mu.Unlock()
	if j.bus == nil {
		return nil
	}
	return j.bus.PublishState(ctx, to)
}

// Sleep transitions READY->SLEEPING.
func (j *Job) Sleep(ctx context.Context) error { return j.transition(ctx, model.StateSleeping) }

// Ready transitions SLEEPING->READY.
func (j *Job) Ready(ctx context.Context) error { return j.transition(ctx, model.StateReady) }

// Context is cancelled when Disconnect begins.
func (j *Job) Context() context.Context { return j.ctx }

// Go runs fn in a tracked goroutine, joined by Disconnect.
func (j *Job) Go(fn func(ctx context.Context)) {
	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		fn(j.ctx)
	}()
}

// OnDisconnect registers a cleanup hook run during Disconnect, in
// registration order, before the final DISCONNECTED publish.
func (j *Job) OnDisconnect(fn func()) {
	j.mu.Lock()
	j.onDisconnect = append(j.onDisconnect, fn)
	j.mu.Unlock()
}

// Disconnect runs every exit path spec.md §4.D item 5 requires: cancel
// timers/goroutines, run registered cleanup hooks, clear the duplicate
// guard, and publish $state=DISCONNECTED.
func (j *Job) Disconnect(ctx context.Context) {
	j.cancel()
	j.wg.Wait()

	j.mu.Lock()
	hooks := append([]func(){}, j.onDisconnect...)
	j.mu.Unlock()
	for _, h := range hooks {
		h()
	}

	if j.jobsRunning != nil {
		j.jobsRunning.Delete(j.cfg.Name)
	}
	if j.bus != nil {
		j.bus.Close(ctx, model.StateDisconnected)
	} else {
		j.mu.Lock()
		j.state = model.StateDisconnected
		j.mu.Unlock()
	}
}

// Logger returns the job-scoped structured logger.
func (j *Job) Logger() *slog.Logger { return j.logger }

// Name, Unit, Experiment, Namespace expose the job's bus identity.
func (j *Job) Name() string       { return j.cfg.Name }
func (j *Job) Unit() string       { return j.cfg.Unit }
func (j *Job) Experiment() string { return j.cfg.Experiment }
func (j *Job) Namespace() string  { return j.cfg.Namespace }

// Bus exposes the underlying bus client for callers that need raw
// subscribe/publish access beyond the setting-scoped helpers above
// (e.g. the monitor's job-launch and $state-reconciliation topics).
func (j *Job) Bus() *pubsub.Bus { return j.bus }
