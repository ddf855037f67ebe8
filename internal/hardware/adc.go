package hardware

import (
	"encoding/binary"
	"fmt"
	"time"

	"periph.io/x/conn/v3/i2c"
)

// Gain selects the ADC's full-scale input range, per the table in
// spec.md §4.C.
type Gain int

const (
	GainTwoThirds Gain = iota // +-6.144V
	GainOne                   // +-4.096V
	GainTwo                   // +-2.048V
	GainFour                  // +-1.024V
	GainEight                 // +-0.512V
	GainSixteen               // +-0.256V
)

// FullScaleVoltage returns the +-V range a gain setting clamps to.
func (g Gain) FullScaleVoltage() float64 {
	switch g {
	case GainTwoThirds:
		return 6.144
	case GainOne:
		return 4.096
	case GainTwo:
		return 2.048
	case GainFour:
		return 1.024
	case GainEight:
		return 0.512
	case GainSixteen:
		return 0.256
	default:
		return 4.096
	}
}

// Gains lists every supported gain, ordered from widest to narrowest
// range — the order the OD reader's dynamic-gain logic steps through.
var Gains = []Gain{GainTwoThirds, GainOne, GainTwo, GainFour, GainEight, GainSixteen}

// ADC is a multi-channel single-ended analog sampler.
type ADC interface {
	SetGain(Gain) error
	ReadVoltage(channel int) (float64, error)
}

// I2CADC drives a 16-bit delta-sigma ADC (the ADS1115 family used on
// Pioreactor HATs) over I2C: write the config register, wait for
// conversion, read the two-byte result register.
type I2CADC struct {
	dev  *i2c.Dev
	gain Gain
}

// NewI2CADC wraps an already-opened i2c bus connection at the ADC's
// address.
func NewI2CADC(bus i2c.Bus, addr uint16) *I2CADC {
	return &I2CADC{dev: &i2c.Dev{Bus: bus, Addr: addr}, gain: GainOne}
}

func (a *I2CADC) SetGain(g Gain) error {
	a.gain = g
	return nil
}

const (
	adsRegConfig    = 0x01
	adsRegConversion = 0x00
)

func (a *I2CADC) ReadVoltage(channel int) (float64, error) {
	if channel < 0 || channel > 3 {
		return 0, fmt.Errorf("hardware: adc channel %d out of range", channel)
	}
	cfg := a.configWord(channel)
	write := []byte{adsRegConfig, byte(cfg >> 8), byte(cfg & 0xff)}
	if err := a.dev.Tx(write, nil); err != nil {
		return 0, fmt.Errorf("hardware: adc config write: %w", err)
	}
	// one single-shot conversion at 860 SPS takes about 1.2 ms
	time.Sleep(time.Second/860 + 100*time.Microsecond)

	read := make([]byte, 2)
	if err := a.dev.Tx([]byte{adsRegConversion}, read); err != nil {
		return 0, fmt.Errorf("hardware: adc conversion read: %w", err)
	}
	raw := int16(binary.BigEndian.Uint16(read))
	return float64(raw) / 32768.0 * a.gain.FullScaleVoltage(), nil
}

// configWord builds the ADS1115 config register word for a single-shot
// single-ended read of channel at the configured gain, fastest data rate.
func (a *I2CADC) configWord(channel int) uint16 {
	const (
		osSingle    = 1 << 15
		muxSingle0  = 4 << 12
		modeSingle  = 1 << 8
		dr860sps    = 0b111 << 5
		compDisable = 0b11
	)
	mux := uint16(muxSingle0) + uint16(channel)<<12
	pga := uint16(a.gain) << 9
	return osSingle | mux | pga | modeSingle | dr860sps | compDisable
}
