package monitor

import (
	"context"
	"time"

	"periph.io/x/conn/v3/gpio"

	"github.com/biostacklabs/reactorcore/internal/hardware"
	"github.com/biostacklabs/reactorcore/internal/pubsub"
)

// ButtonDebounce matches the debounce window the hall-sensor reader
// uses for the same periph.io WatchRisingEdge contract; a mechanical
// button bounces on the same order of magnitude as the hall sensor.
const ButtonDebounce = 20 * time.Millisecond

// ButtonHandler implements spec.md §4.K item 3: a physical button,
// edge-detected, publishes button_down and lights an LED for a fixed
// holdFor period after each press. The release edge is not observed, so
// the LED does not follow how long the button is held.
type ButtonHandler struct {
	button hardware.GPIOPin
	led    hardware.GPIOPin
	bus    *pubsub.Bus

	holdFor time.Duration // how long to latch the LED after one press
}

// NewButtonHandler wires button (input, edge-detected) and led (output)
// pins. holdFor bounds how long the LED stays lit per press, since
// WatchRisingEdge only reports the down edge, not a release.
func NewButtonHandler(button, led hardware.GPIOPin, bus *pubsub.Bus, holdFor time.Duration) *ButtonHandler {
	if holdFor <= 0 {
		holdFor = 1 * time.Second
	}
	return &ButtonHandler{button: button, led: led, bus: bus, holdFor: holdFor}
}

// Run blocks, watching for button presses until stop is closed.
func (h *ButtonHandler) Run(ctx context.Context, stop <-chan struct{}) {
	_ = h.button.SetInput(true)
	_ = h.led.SetOutput(gpio.Low)

	h.button.WatchRisingEdge(ButtonDebounce, stop, func() {
		h.onPress(ctx)
	})
}

func (h *ButtonHandler) onPress(ctx context.Context) {
	if h.bus != nil {
		_ = h.bus.Publish(ctx, "button_down", []byte("1"), pubsub.AtLeastOnce, false)
	}
	_ = h.led.SetOutput(gpio.High)
	timer := time.NewTimer(h.holdFor)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-ctx.Done():
	}
	_ = h.led.SetOutput(gpio.Low)
}
