package monitor

import (
	"context"
	"time"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/job"
	"github.com/biostacklabs/reactorcore/internal/model"
	"github.com/biostacklabs/reactorcore/internal/pubsub"
)

// SelfCheckInterval is spec.md §4.K item 2's 12-hourly cadence.
const SelfCheckInterval = 12 * time.Hour

// Monitor is the process supervisor job: reconciles the process
// registry against the bus on startup, runs periodic self-checks,
// watches the button, launches requested jobs, and blinks error codes.
type Monitor struct {
	j *job.Job

	checker    *SelfChecker
	reconciler *Reconciler
	launcher   *Launcher
	blinker    *ErrorBlinker
	button     *ButtonHandler

	selfCheckInterval time.Duration

	onReport func(SelfCheckReport)
}

// New builds a Monitor. led is the same pin the button handler lights
// for a fixed period after each press; outside that period it's free for
// error-code blinking.
func New(j *job.Job, checker *SelfChecker, processes ProcessRegistry, led hardware.GPIOPin, button hardware.GPIOPin) *Monitor {
	bus := j.Bus()
	return &Monitor{
		j:                 j,
		checker:           checker,
		reconciler:        NewReconciler(bus, processes),
		launcher:          NewLauncher(nil),
		blinker:           NewErrorBlinker(led),
		button:            NewButtonHandler(button, led, bus, 1*time.Second),
		selfCheckInterval: SelfCheckInterval,
	}
}

// OnReport registers a callback invoked after every self-check pass,
// for a caller that wants to republish the report's fields as settings.
func (m *Monitor) OnReport(fn func(SelfCheckReport)) { m.onReport = fn }

// Run performs startup reconciliation, then launches the button
// watcher, the run-request subscription, and the self-check ticker, all
// joined to j's lifecycle via job.Go/OnDisconnect.
func (m *Monitor) Run(ctx context.Context, settleReconcile func()) error {
	if err := m.reconciler.Run(ctx, settleReconcile); err != nil {
		return err
	}

	runFilter := model.RunTopic(m.j.Namespace(), m.j.Unit(), "+")
	if err := m.j.Bus().SubscribeRaw(runFilter, pubsub.AtLeastOnce, func(topic string, payload []byte, retained bool) {
		jobName := jobFromRunTopic(topic)
		if jobName == "" {
			return
		}
		if err := m.launcher.Launch(ctx, jobName, payload); err != nil {
			m.j.Logger().Error("monitor: launch failed", "job", jobName, "error", err)
		}
	}); err != nil {
		return err
	}

	buttonStop := make(chan struct{})
	m.j.Go(func(ctx context.Context) {
		m.button.Run(ctx, buttonStop)
	})
	m.j.OnDisconnect(func() { close(buttonStop) })

	m.j.Go(m.runSelfCheckLoop)
	return nil
}

func (m *Monitor) runSelfCheckLoop(ctx context.Context) {
	m.runSelfCheck(ctx)
	ticker := time.NewTicker(m.selfCheckInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			m.runSelfCheck(ctx)
		}
	}
}

func (m *Monitor) runSelfCheck(ctx context.Context) {
	report := m.checker.Run()

	if !report.LeaderReachable {
		m.blinker.Signal(ctx, ErrorCodeLeaderUnreachable)
	} else {
		m.blinker.Clear(ErrorCodeLeaderUnreachable)
	}
	if report.DiskAlmostFull() {
		m.blinker.Signal(ctx, ErrorCodeDiskAlmostFull)
	} else {
		m.blinker.Clear(ErrorCodeDiskAlmostFull)
	}

	for _, w := range report.Warnings {
		m.j.Logger().Warn("monitor: self-check warning", "warning", w)
	}
	if m.onReport != nil {
		m.onReport(report)
	}
}

func jobFromRunTopic(topic string) string {
	for i := len(topic) - 1; i >= 0; i-- {
		if topic[i] == '/' {
			return topic[i+1:]
		}
	}
	return ""
}
