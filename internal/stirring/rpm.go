// Package stirring implements the hall-sensor RPM + PID -> PWM duty
// cycle controller of spec.md §4.H.
package stirring

import (
	"time"

	"github.com/biostacklabs/reactorcore/internal/hardware"
)

// PollWindow and PollEvery are the timing constants spec.md §4.H names:
// every PollEvery seconds, measure RPM over a PollWindow-second sample.
var (
	PollEvery  = 23 * time.Second
	PollWindow = 4 * time.Second
)

// RPMStrategy selects how edge timestamps are converted to RPM.
type RPMStrategy int

const (
	// PulseCount computes RPM as pulse-count * 60 / window-seconds.
	PulseCount RPMStrategy = iota
	// MeanInterval computes RPM as 60 / mean(inter-pulse-interval).
	MeanInterval
)

// MeasureRPM watches pin for rising edges for PollWindow and returns
// the RPM per the selected strategy. A count of zero pulses returns 0
// (callers are expected to treat that as a "stirring may have failed"
// warning, per spec.md §4.H's failure semantics).
func MeasureRPM(pin hardware.GPIOPin, debounce time.Duration, strategy RPMStrategy) float64 {
	var edges []time.Time
	stop := make(chan struct{})
	timer := time.AfterFunc(PollWindow, func() { close(stop) })
	defer timer.Stop()

	pin.WatchRisingEdge(debounce, stop, func() {
		edges = append(edges, time.Now())
	})

	if len(edges) == 0 {
		return 0
	}

	switch strategy {
	case MeanInterval:
		if len(edges) < 2 {
			return 0
		}
		var total time.Duration
		for i := 1; i < len(edges); i++ {
			total += edges[i].Sub(edges[i-1])
		}
		meanInterval := total / time.Duration(len(edges)-1)
		if meanInterval <= 0 {
			return 0
		}
		return 60.0 / meanInterval.Seconds()
	default: // PulseCount
		return float64(len(edges)) * 60.0 / PollWindow.Seconds()
	}
}
