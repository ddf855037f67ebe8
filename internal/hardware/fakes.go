package hardware

import (
	"fmt"
	"sync"
	"time"

	"periph.io/x/conn/v3/gpio"
)

// SimPWM is an in-memory PWMChannel fake for tests: no real toggling,
// just bookkeeping of the state transitions the contract requires.
type SimPWM struct {
	mu       sync.Mutex
	locked   bool
	running  bool
	Duty     float64
	StartLog []float64
}

func NewSimPWM() *SimPWM { return &SimPWM{} }

func (s *SimPWM) Lock() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.locked {
		return fmt.Errorf("hardware: sim pwm already locked")
	}
	s.locked = true
	return nil
}

func (s *SimPWM) Unlock() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.locked = false
}

func (s *SimPWM) Start(dutyCycle float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.locked {
		return fmt.Errorf("hardware: sim pwm not locked")
	}
	s.running = true
	s.Duty = clampDuty(dutyCycle)
	s.StartLog = append(s.StartLog, s.Duty)
	return nil
}

func (s *SimPWM) ChangeDutyCycle(dutyCycle float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.running {
		return fmt.Errorf("hardware: sim pwm not running")
	}
	s.Duty = clampDuty(dutyCycle)
	return nil
}

func (s *SimPWM) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.running = false
	return nil
}

func (s *SimPWM) Cleanup() error { return s.Stop() }

func (s *SimPWM) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// SimADC is a scripted ADC fake: each ReadVoltage call consumes the next
// queued value for that channel (wrapping to the last value once
// exhausted), so tests can feed a known voltage trace.
type SimADC struct {
	mu       sync.Mutex
	gain     Gain
	Voltages map[int][]float64
	cursor   map[int]int
}

func NewSimADC() *SimADC {
	return &SimADC{Voltages: make(map[int][]float64), cursor: make(map[int]int)}
}

func (s *SimADC) SetGain(g Gain) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.gain = g
	return nil
}

func (s *SimADC) Gain() Gain {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gain
}

func (s *SimADC) ReadVoltage(channel int) (float64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	vals := s.Voltages[channel]
	if len(vals) == 0 {
		return 0, nil
	}
	i := s.cursor[channel]
	if i >= len(vals) {
		i = len(vals) - 1
	} else {
		s.cursor[channel] = i + 1
	}
	return vals[i], nil
}

// SimDAC records the last intensity set per channel.
type SimDAC struct {
	mu         sync.Mutex
	Intensities map[int]float64
}

func NewSimDAC() *SimDAC { return &SimDAC{Intensities: make(map[int]float64)} }

func (s *SimDAC) SetIntensity(channel int, intensityPct float64) error {
	if intensityPct < 0 || intensityPct > 100 {
		return fmt.Errorf("hardware: dac intensity %.2f out of range", intensityPct)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Intensities[channel] = intensityPct
	return nil
}

func (s *SimDAC) Intensity(channel int) float64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.Intensities[channel]
}

// SimGPIOPin is a scripted GPIOPin fake: PulseEvery, if non-zero, fires
// onEdge on that cadence until stop closes, simulating a hall sensor at
// a fixed RPM.
type SimGPIOPin struct {
	mu         sync.Mutex
	level      gpio.Level
	PulseEvery time.Duration
	PulseCount int // if >0, caps total edges emitted regardless of stop
}

func NewSimGPIOPin(pulseEvery time.Duration) *SimGPIOPin {
	return &SimGPIOPin{PulseEvery: pulseEvery}
}

func (s *SimGPIOPin) SetInput(pullUp bool) error { return nil }

func (s *SimGPIOPin) SetOutput(initial gpio.Level) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.level = initial
	return nil
}

func (s *SimGPIOPin) Read() gpio.Level {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.level
}

func (s *SimGPIOPin) WatchRisingEdge(debounce time.Duration, stop <-chan struct{}, onEdge func()) {
	if s.PulseEvery <= 0 {
		<-stop
		return
	}
	ticker := time.NewTicker(s.PulseEvery)
	defer ticker.Stop()
	emitted := 0
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			onEdge()
			emitted++
			if s.PulseCount > 0 && emitted >= s.PulseCount {
				<-stop
				return
			}
		}
	}
}
