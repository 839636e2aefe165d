package tellie

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/jwaterfield/nanopulser/pulse"
)

// maxLowerTempProbe is the highest probe index served by the lower-box
// temperature commands; higher probes use the upper-box commands.
const maxLowerTempProbe = 32

// SelectTemperatureProbe selects the temperature probe for subsequent reads.
// Probes are numbered [1, 64] across the two driver box groups.
func (d *Device) SelectTemperatureProbe(probe int) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	if probe < 1 || probe > pulse.MaxTempProbe {
		return fmt.Errorf("%w: temperature probe %d out of range [1, %d]",
			pulse.ErrInvalidParameter, probe, pulse.MaxTempProbe)
	}

	if d.fireState.IsFiring() {
		return ErrFiring
	}

	sel := pulse.CmdTempSelectLower
	if probe > maxLowerTempProbe {
		sel = pulse.CmdTempSelectUpper
	}

	cmd := &pulse.Command{
		Units: [][]byte{{sel, byte(probe)}},
		Echo:  []byte{sel},
	}

	if err := d.tp.checkBufferClear(); err != nil {
		return err
	}
	if err := d.tp.sendCommand(cmd, true); err != nil {
		return err
	}

	d.tempProbe = probe

	return nil
}

// ReadTemperature reads the selected probe, returning degrees Celsius. The device
// replies with an ASCII-formatted reading rather than an echo.
func (d *Device) ReadTemperature() (float64, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return 0, err
	}

	if d.tempProbe == 0 {
		return 0, ErrNoProbeSelected
	}

	if d.fireState.IsFiring() {
		return 0, ErrFiring
	}

	read := pulse.CmdTempReadLower
	if d.tempProbe > maxLowerTempProbe {
		read = pulse.CmdTempReadUpper
	}

	if err := d.tp.checkBufferClear(); err != nil {
		return 0, err
	}
	if err := d.tp.sendCommand(pulse.Single(read), false); err != nil {
		return 0, err
	}

	buf, err := d.tp.drain()
	if err != nil {
		return 0, err
	}

	text := strings.TrimSpace(string(buf))
	temp, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, fmt.Errorf("tellie: bad temperature readout %q: %w", buf, err)
	}

	return temp, nil
}
