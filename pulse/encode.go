package pulse

import (
	"errors"
	"fmt"
	"math"

	"github.com/jwaterfield/nanopulser/internal/util"
)

// Parameter bounds enforced by the encoders. All bounds are closed.
const (
	MaxPulseHeight  = 16383   // 14-bit DAC setting
	MaxPulseWidth   = 16383   // 14-bit DAC setting
	MaxPulseNumber  = 65025   // 255 * 255, via the hi*lo product encoding
	MaxPulseDelay   = 256.020 // milliseconds; 255ms integer part + 1.02ms sub-unit part
	MaxTriggerDelay = 1275    // nanoseconds, 5ns resolution
	MaxFibreDelay   = 127.5   // nanoseconds, 0.5ns resolution

	// MaxTempProbe is the highest temperature probe index on a fully
	// populated pulser rack.
	MaxTempProbe = 64

	// pulseDelaySubUnit converts the fractional millisecond part of a pulse
	// delay into device sub-units (1/250 ms each).
	pulseDelaySubUnit = 250
)

// ErrInvalidParameter indicates that a parameter value is outside its documented
// bound or is not exactly representable by the device encoding.
// Callers must not retry with the same value.
var ErrInvalidParameter = errors.New("pulse: invalid parameter")

// Command is a fully encoded device command: the ordered byte units to write and
// the literal echo the device is expected to return once all units are sent.
//
// Units are kept separate rather than pre-joined because the device firmware
// latches payload bytes per command byte; the session writes them in order.
type Command struct {
	Units [][]byte
	Echo  []byte
}

// Bytes returns all command units joined in write order.
func (c *Command) Bytes() []byte {
	return util.JoinSlices(c.Units...)
}

// Single returns a Command consisting of the one command byte b, expecting b
// itself as the echo.
func Single(b byte) *Command {
	return &Command{
		Units: [][]byte{{b}},
		Echo:  []byte{b},
	}
}

// PulseHeight encodes a pulse height DAC setting in [0, 16383].
//
// The value is split into a high byte (value >> 8) and a low byte (value & 0xFF),
// sent as three units: set-high, set-low, end marker. Only the three command bytes
// are echoed.
func PulseHeight(value int) (*Command, error) {
	if value < 0 || value > MaxPulseHeight {
		return nil, fmt.Errorf("%w: pulse height %d out of range [0, %d]",
			ErrInvalidParameter, value, MaxPulseHeight)
	}

	hi := byte(value >> 8)
	lo := byte(value & 0xFF)

	return &Command{
		Units: [][]byte{
			{CmdPulseHeightHi, hi},
			{CmdPulseHeightLo, lo},
			{CmdPulseHeightEnd},
		},
		Echo: []byte{CmdPulseHeightHi, CmdPulseHeightLo, CmdPulseHeightEnd},
	}, nil
}

// PulseWidth encodes a pulse width DAC setting in [0, 16383].
//
// Same high/low split as PulseHeight, but the low byte and the end marker travel
// in one unit.
func PulseWidth(value int) (*Command, error) {
	if value < 0 || value > MaxPulseWidth {
		return nil, fmt.Errorf("%w: pulse width %d out of range [0, %d]",
			ErrInvalidParameter, value, MaxPulseWidth)
	}

	hi := byte(value >> 8)
	lo := byte(value & 0xFF)

	return &Command{
		Units: [][]byte{
			{CmdPulseWidthHi, hi},
			{CmdPulseWidthLo, lo, CmdPulseWidthEnd},
		},
		Echo: []byte{CmdPulseWidthHi, CmdPulseWidthLo, CmdPulseWidthEnd},
	}, nil
}

// PulseNumber encodes a pulse count in [0, 65025].
//
// The device realizes a count as the product of two bytes, so not every count is
// representable. The lookup maps the requested count to its device encoding; if it
// had to adjust the count, the requested value is rejected with ErrInvalidParameter
// rather than silently firing a different number of pulses. A nil lookup uses
// DefaultPulseNumber.
func PulseNumber(value int, lookup NumberLookup) (*Command, error) {
	if value < 0 || value > MaxPulseNumber {
		return nil, fmt.Errorf("%w: pulse number %d out of range [0, %d]",
			ErrInvalidParameter, value, MaxPulseNumber)
	}

	if lookup == nil {
		lookup = DefaultPulseNumber
	}

	adjusted, actual, hi, lo := lookup(value)
	if adjusted {
		return nil, fmt.Errorf("%w: pulse number %d not representable, closest is %d",
			ErrInvalidParameter, value, actual)
	}

	return &Command{
		Units: [][]byte{
			{CmdPulseNumberHi, hi},
			{CmdPulseNumberLo, lo},
		},
		Echo: []byte{CmdPulseNumberHi, CmdPulseNumberLo},
	}, nil
}

// PulseDelay encodes the delay between pulses in fractional milliseconds,
// range [0, 256.020].
//
// The integer millisecond part occupies one byte and the fractional part is
// expressed in 1/250 ms sub-units. Values above 255.0 keep the millisecond byte
// at 255 and carry the excess in the sub-unit byte, which is how the upper end
// of the range (255ms + 1.02ms) is reached without overflowing either byte.
func PulseDelay(value float64) (*Command, error) {
	if value < 0 || value > MaxPulseDelay {
		return nil, fmt.Errorf("%w: pulse delay %v out of range [0, %v]",
			ErrInvalidParameter, value, MaxPulseDelay)
	}

	ms := int(value)
	if ms > 255 {
		ms = 255
	}
	sub := byte(math.Round((value - float64(ms)) * pulseDelaySubUnit))

	return &Command{
		Units: [][]byte{
			{CmdPulseDelay, byte(ms)},
			{sub},
		},
		Echo: []byte{CmdPulseDelay},
	}, nil
}

// TriggerDelay encodes the trigger delay in nanoseconds, range [0, 1275] with
// 5ns resolution. Values not on the 5ns grid are floored to it.
func TriggerDelay(value int) (*Command, error) {
	if value < 0 || value > MaxTriggerDelay {
		return nil, fmt.Errorf("%w: trigger delay %d out of range [0, %d]",
			ErrInvalidParameter, value, MaxTriggerDelay)
	}

	return &Command{
		Units: [][]byte{{CmdTriggerDelay, byte(value / 5)}},
		Echo:  []byte{CmdTriggerDelay},
	}, nil
}

// FibreDelay encodes a per-channel fibre delay in nanoseconds, range [0, 127.5].
//
// The lookup maps the delay to its device setting byte; if it had to adjust the
// delay the requested value is rejected with ErrInvalidParameter. A nil lookup
// uses DefaultFibreDelay.
func FibreDelay(value float64, lookup DelayLookup) (*Command, error) {
	if value < 0 || value > MaxFibreDelay {
		return nil, fmt.Errorf("%w: fibre delay %v out of range [0, %v]",
			ErrInvalidParameter, value, MaxFibreDelay)
	}

	if lookup == nil {
		lookup = DefaultFibreDelay
	}

	adjusted, actual, setting := lookup(value)
	if adjusted {
		return nil, fmt.Errorf("%w: fibre delay %v not representable, closest is %v",
			ErrInvalidParameter, value, actual)
	}

	return &Command{
		Units: [][]byte{{CmdFibreDelay, setting}},
		Echo:  []byte{CmdFibreDelay},
	}, nil
}
