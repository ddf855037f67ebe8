package monitor

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/biostacklabs/reactorcore/internal/hardware"
)

// Error codes spec.md §4.K item 5 names by example.
const (
	ErrorCodeLeaderUnreachable = 2
	ErrorCodeDiskAlmostFull    = 3
)

const (
	blinkOn     = 200 * time.Millisecond
	blinkOff    = 200 * time.Millisecond
	blinkPause  = 1200 * time.Millisecond // gap between repeated bursts
)

// ErrorBlinker signals an error code as a counted burst of LED pulses —
// code N blinks N times, then pauses, then repeats until Clear is
// called or ctx is cancelled.
type ErrorBlinker struct {
	led hardware.GPIOPin

	cancel map[int]context.CancelFunc
}

func NewErrorBlinker(led hardware.GPIOPin) *ErrorBlinker {
	return &ErrorBlinker{led: led, cancel: make(map[int]context.CancelFunc)}
}

// Signal starts blinking code in the background, replacing any burst
// already running for that same code.
func (b *ErrorBlinker) Signal(ctx context.Context, code int) {
	b.Clear(code)
	burstCtx, cancel := context.WithCancel(ctx)
	b.cancel[code] = cancel
	go b.run(burstCtx, code)
}

// Clear stops blinking the given code, if active, and turns the LED off.
func (b *ErrorBlinker) Clear(code int) {
	if cancel, ok := b.cancel[code]; ok {
		cancel()
		delete(b.cancel, code)
	}
	_ = b.led.SetOutput(gpio.Low)
}

func (b *ErrorBlinker) run(ctx context.Context, code int) {
	_ = b.led.SetOutput(gpio.Low)
	for {
		for i := 0; i < code; i++ {
			if ctx.Err() != nil {
				return
			}
			_ = b.led.SetOutput(gpio.High)
			if !sleepOrDone(ctx, blinkOn) {
				return
			}
			_ = b.led.SetOutput(gpio.Low)
			if !sleepOrDone(ctx, blinkOff) {
				return
			}
		}
		if !sleepOrDone(ctx, blinkPause) {
			return
		}
	}
}

func sleepOrDone(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return true
	case <-ctx.Done():
		return false
	}
}
