package hardware

import (
	"time"

	"periph.io/x/conn/v3/gpio"
)

// GPIOPin is the digital I/O contract spec.md §4.C names: mode with
// optional pull-up, debounced rising-edge detection, level read.
type GPIOPin interface {
	SetInput(pullUp bool) error
	SetOutput(initial gpio.Level) error
	Read() gpio.Level
	// WatchRisingEdge blocks the calling goroutine, invoking onEdge for
	// every rising edge observed at least debounce apart, until stop is
	// closed.
	WatchRisingEdge(debounce time.Duration, stop <-chan struct{}, onEdge func())
}

// Pin wraps a periph.io gpio.PinIO with the debounce behavior the button
// and hall-sensor readers need.
type Pin struct {
	pin gpio.PinIO
}

// NewPin wraps an already-resolved periph pin (e.g. from gpioreg.ByName).
func NewPin(p gpio.PinIO) *Pin { return &Pin{pin: p} }

func (p *Pin) SetInput(pullUp bool) error {
	pull := gpio.Float
	if pullUp {
		pull = gpio.PullUp
	}
	return p.pin.In(pull, gpio.RisingEdge)
}

func (p *Pin) SetOutput(initial gpio.Level) error {
	return p.pin.Out(initial)
}

func (p *Pin) Read() gpio.Level {
	return p.pin.Read()
}

func (p *Pin) WatchRisingEdge(debounce time.Duration, stop <-chan struct{}, onEdge func()) {
	var last time.Time
	for {
		select {
		case <-stop:
			return
		default:
		}
		if !p.pin.WaitForEdge(debounce) {
			continue
		}
		now := time.Now()
		if !last.IsZero() && now.Sub(last) < debounce {
			continue
		}
		last = now
		onEdge()
	}
}
