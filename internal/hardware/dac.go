package hardware

import (
	"fmt"
	"math"

	"periph.io/x/conn/v3/i2c"
)

// DAC sets one of four LED-intensity channels to a percentage 0..100.
type DAC interface {
	SetIntensity(channel int, intensityPct float64) error
}

// DACVariant distinguishes the two LED-driver revisions spec.md §4.C
// names: a 10-bit value written to a register, or an 8-bit value sent
// over I2C (intensity scaled by 256/100, rounded, capped at 255).
type DACVariant int

const (
	DACRegister10Bit DACVariant = iota
	DACI2C8Bit
)

// I2CDAC drives a 4-channel LED intensity DAC over I2C.
type I2CDAC struct {
	dev     *i2c.Dev
	variant DACVariant
}

// NewI2CDAC wraps an opened i2c connection at the DAC's address.
func NewI2CDAC(bus i2c.Bus, addr uint16, variant DACVariant) *I2CDAC {
	return &I2CDAC{dev: &i2c.Dev{Bus: bus, Addr: addr}, variant: variant}
}

func (d *I2CDAC) SetIntensity(channel int, intensityPct float64) error {
	if channel < 0 || channel > 3 {
		return fmt.Errorf("hardware: dac channel %d out of range", channel)
	}
	if intensityPct < 0 || intensityPct > 100 {
		return fmt.Errorf("hardware: dac intensity %.2f out of range", intensityPct)
	}

	switch d.variant {
	case DACRegister10Bit:
		raw := uint16(intensityPct / 100 * 1023)
		reg := byte(0x40 + channel)
		return d.dev.Tx([]byte{reg, byte(raw >> 8), byte(raw & 0xff)}, nil)
	case DACI2C8Bit:
		raw := byte(math.Min(math.Round(intensityPct*256/100), 255))
		reg := byte(0x40 + channel)
		return d.dev.Tx([]byte{reg, raw}, nil)
	default:
		return fmt.Errorf("hardware: unknown dac variant %d", d.variant)
	}
}
