package tellie

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrConnectionLost indicates a transport-level open/read/write failure.
	// It is fatal to the session: no automatic reconnection is attempted and no
	// further command may be issued.
	ErrConnectionLost = errors.New("tellie: lost connection with TELLIE control")

	// ErrClosed indicates that the session has been closed.
	ErrClosed = errors.New("tellie: session closed")

	// ErrNotOpen indicates that the session has not been opened yet.
	ErrNotOpen = errors.New("tellie: session not open")

	// ErrNoProbeSelected indicates a temperature read without a prior probe
	// selection.
	ErrNoProbeSelected = errors.New("tellie: no temperature probe selected")

	// ErrFiring indicates that a command was attempted while the device is mid
	// pulse-train. The caller must wait for the train to finish (poll
	// [Device.CheckFiring]) or call [Device.Stop].
	ErrFiring = errors.New("tellie: cannot run command, in firing mode")

	// ErrAlreadyFiring indicates that a fire-family command was attempted while a
	// previous pulse train is still running.
	ErrAlreadyFiring = errors.New("tellie: cannot fire, already in firing mode")

	// ErrBufferNotClear indicates stale bytes were present in the receive buffer
	// before a setting command. A stale echo would be misread as the new command's
	// echo, so the command is refused.
	ErrBufferNotClear = errors.New("tellie: buffer not clear")

	// ErrProtocolDesync indicates an echo mismatch that survived the built-in
	// drain/stop/clear recovery cycle. The session is suspect; callers should not
	// blindly retry.
	ErrProtocolDesync = errors.New("tellie: unexpected buffer output")

	// ErrNotReady indicates that a fire command was attempted before all required
	// parameters were configured.
	ErrNotReady = errors.New("tellie: undefined options")

	// ErrChannelAmbiguous indicates that a per-channel parameter was set while the
	// channel context selects zero or several channels.
	ErrChannelAmbiguous = errors.New("tellie: parameter requires exactly one selected channel")

	// ErrPinReadTimeout indicates that a single-fire PIN readout did not arrive
	// within the caller's deadline.
	ErrPinReadTimeout = errors.New("tellie: timed out waiting for PIN readout")
)

// DesyncError reports an echo mismatch together with everything the recovery
// cycle learned: the bytes actually read, the residual bytes drained afterwards,
// and the echo that was expected. It unwraps to ErrProtocolDesync.
type DesyncError struct {
	Got      []byte
	Residual []byte
	Expected []byte
}

func (e *DesyncError) Error() string {
	return fmt.Sprintf("tellie: unexpected buffer output: saw %q, remainder %q, expected %q",
		e.Got, e.Residual, e.Expected)
}

func (e *DesyncError) Unwrap() error { return ErrProtocolDesync }

// BufferError reports the stale bytes found by a buffer-clear check.
// It unwraps to ErrBufferNotClear.
type BufferError struct {
	Residual []byte
}

func (e *BufferError) Error() string {
	return fmt.Sprintf("tellie: buffer not clear: %q", e.Residual)
}

func (e *BufferError) Unwrap() error { return ErrBufferNotClear }

// NotReadyError names every required parameter whose value has not been set.
// It unwraps to ErrNotReady.
type NotReadyError struct {
	Missing []Parameter
}

func (e *NotReadyError) Error() string {
	names := make([]string, len(e.Missing))
	for i, p := range e.Missing {
		names[i] = p.String()
	}

	return "tellie: undefined options: " + strings.Join(names, ", ")
}

func (e *NotReadyError) Unwrap() error { return ErrNotReady }
