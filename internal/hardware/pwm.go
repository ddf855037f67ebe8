package hardware

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
	"periph.io/x/conn/v3/physic"
)

// PWMChannel is the pulse-width-modulated output contract spec.md §4.C
// names: configure once, then start/change/stop. Start requires a prior
// Lock; a second Lock on an already-locked channel fails; Stop is
// idempotent.
type PWMChannel interface {
	Lock() error
	Unlock()
	Start(dutyCycle float64) error
	ChangeDutyCycle(dutyCycle float64) error
	Stop() error
	Cleanup() error
}

// SoftPWM drives a gpio.PinIO with a software-timed duty cycle. periph's
// host packages don't expose true hardware PWM on every pin, so pump and
// stirring control — which only need 100-200 Hz switching — toggle the
// pin from a dedicated goroutine, matching how the rest of the corpus's
// periph.io consumers drive GPIO directly rather than through a
// higher-level PWM abstraction.
type SoftPWM struct {
	pin       gpio.PinIO
	frequency physic.Frequency

	mu      sync.Mutex
	locked  bool
	running bool
	stop    chan struct{}
	wg      sync.WaitGroup
	duty    float64 // 0..100, read by the toggler goroutine under mu
}

// NewSoftPWM configures (but does not start) a software PWM channel on
// pin at the given frequency.
func NewSoftPWM(pin gpio.PinIO, frequency physic.Frequency) *SoftPWM {
	return &SoftPWM{pin: pin, frequency: frequency}
}

func (p *SoftPWM) Lock() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.locked {
		return fmt.Errorf("hardware: pwm channel %s already locked", p.pin)
	}
	p.locked = true
	return nil
}

func (p *SoftPWM) Unlock() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.locked = false
}

func (p *SoftPWM) Start(dutyCycle float64) error {
	p.mu.Lock()
	if !p.locked {
		p.mu.Unlock()
		return fmt.Errorf("hardware: pwm channel %s not locked", p.pin)
	}
	if p.running {
		p.mu.Unlock()
		return fmt.Errorf("hardware: pwm channel %s already started", p.pin)
	}
	p.duty = clampDuty(dutyCycle)
	p.running = true
	p.stop = make(chan struct{})
	p.mu.Unlock()

	period := time.Duration(float64(time.Second) / float64(p.frequency.Hertz()))
	p.wg.Add(1)
	go p.toggleLoop(period)
	return nil
}

func (p *SoftPWM) toggleLoop(period time.Duration) {
	defer p.wg.Done()
	for {
		p.mu.Lock()
		duty := p.duty
		stop := p.stop
		p.mu.Unlock()

		high := time.Duration(duty / 100 * float64(period))
		low := period - high

		if high > 0 {
			_ = p.pin.Out(gpio.High)
			select {
			case <-time.After(high):
			case <-stop:
				_ = p.pin.Out(gpio.Low)
				return
			}
		}
		if low > 0 {
			_ = p.pin.Out(gpio.Low)
			select {
			case <-time.After(low):
			case <-stop:
				return
			}
		}
	}
}

func (p *SoftPWM) ChangeDutyCycle(dutyCycle float64) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.running {
		return fmt.Errorf("hardware: pwm channel %s not running", p.pin)
	}
	p.duty = clampDuty(dutyCycle)
	return nil
}

// Stop is a no-op if the channel is already stopped.
func (p *SoftPWM) Stop() error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	stop := p.stop
	p.running = false
	p.mu.Unlock()

	close(stop)
	p.wg.Wait()
	return p.pin.Out(gpio.Low)
}

func (p *SoftPWM) Cleanup() error {
	return p.Stop()
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
