package pulse

// Protocol command bytes. Each is a single ASCII character; the device echoes the
// command byte (not any payload bytes that follow it) back on the line.
const (
	// Firing family.
	CmdFireContinuous byte = 'a' // free-running pulse train until stopped
	CmdFireSeries     byte = 'g' // fire the configured pulse train
	CmdStop           byte = 'X' // halt any pulse train
	CmdChannelClear   byte = 'C' // clear the device command buffer

	// EndSequence is emitted by the device when a pulse train finishes.
	EndSequence byte = 'K'

	// Single-pulse PIN readout, split across the two LED driver boxes.
	CmdReadSingleLower byte = 'r' // channels on boxes 1..7
	CmdReadSingleUpper byte = 'm' // channels on boxes 8+

	// Averaged PIN readout.
	CmdFireAverageLower byte = 's'
	CmdFireAverageUpper byte = 'U'

	// Channel selection frames.
	CmdSelectSingleStart byte = 'I'
	CmdSelectSingleEnd   byte = 'N'
	CmdSelectManyStart   byte = 'J'
	CmdSelectManyEnd     byte = 'E'

	// Pulse height: high byte, low byte, end marker.
	CmdPulseHeightHi  byte = 'L'
	CmdPulseHeightLo  byte = 'M'
	CmdPulseHeightEnd byte = 'P'

	// Pulse width: high byte, low byte, end marker.
	CmdPulseWidthHi  byte = 'Q'
	CmdPulseWidthLo  byte = 'R'
	CmdPulseWidthEnd byte = 'S'

	// Pulse number: high byte, low byte.
	CmdPulseNumberHi byte = 'H'
	CmdPulseNumberLo byte = 'G'

	CmdPulseDelay   byte = 'u'
	CmdTriggerDelay byte = 'd'
	CmdFibreDelay   byte = 'e'

	// Temperature probes, split across the two LED driver boxes.
	CmdTempSelectLower byte = 'n'
	CmdTempReadLower   byte = 'T'
	CmdTempSelectUpper byte = 'f'
	CmdTempReadUpper   byte = 'k'

	// External trigger control.
	CmdDisableExtTrigger byte = 'B'
	CmdEnableExtTrigger  byte = 'A'
	CmdFireExtTrigger    byte = 'F' // arm single fire on external trigger

	// Averaged PIN readout in external trigger mode.
	CmdFireAverageExtTriggerLower byte = 'p'
	CmdFireAverageExtTriggerUpper byte = 'b'
)
