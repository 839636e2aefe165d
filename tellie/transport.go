package tellie

import (
	"bytes"
	"context"
	"fmt"
	"time"

	"github.com/jwaterfield/nanopulser/internal/pool"
	"github.com/jwaterfield/nanopulser/internal/util"
	"github.com/jwaterfield/nanopulser/logger"
	"github.com/jwaterfield/nanopulser/pulse"
)

// transport enforces the synchronous send/verify discipline over the raw port.
//
// This type is NOT goroutine-safe. The owning Device serializes all operations,
// consistent with the strictly synchronous nature of the protocol: at most one
// command round-trip is ever in flight.
type transport struct {
	port    Port
	cfg     *ConnectionConfig
	logger  logger.Logger
	metrics *SessionMetrics
}

func newTransport(port Port, cfg *ConnectionConfig, l logger.Logger, metrics *SessionMetrics) *transport {
	return &transport{
		port:    port,
		cfg:     cfg,
		logger:  l,
		metrics: metrics,
	}
}

// --- Low-level I/O helpers ---

// write writes all bytes in data to the port.
// A short write or port error is fatal to the session and surfaces as ErrConnectionLost.
func (t *transport) write(data []byte) error {
	for written := 0; written < len(data); {
		n, err := t.port.Write(data[written:])
		written += n

		if err != nil {
			return fmt.Errorf("%w: write: %w", ErrConnectionLost, err)
		}
	}

	return nil
}

// readAtMost reads up to n bytes from the port, stopping early when the line
// goes silent for the configured read timeout. It mirrors the serial read
// discipline the device expects: one bounded-timeout read collects a full echo.
func (t *transport) readAtMost(n int) ([]byte, error) {
	buf := make([]byte, n)
	total := 0

	for total < n {
		r, err := t.port.Read(buf[total:])
		if err != nil {
			return nil, fmt.Errorf("%w: read: %w", ErrConnectionLost, err)
		}
		if r == 0 {
			break // read timeout expired, line is silent
		}
		total += r
	}

	return buf[:total], nil
}

// drain reads and discards up to the configured drain limit of residual bytes,
// returning whatever was found.
func (t *transport) drain() ([]byte, error) {
	residual, err := t.readAtMost(t.cfg.drainLimit)
	if err != nil {
		return nil, err
	}

	t.metrics.addBytesDrained(uint64(len(residual)))

	return residual, nil
}

// --- Session primitives ---

// checkBufferClear verifies that no stale bytes sit in the receive buffer.
//
// Setting commands must establish a clear buffer first: a stale echo from a
// previous command would be misread as the new command's echo.
func (t *transport) checkBufferClear() error {
	residual, err := t.drain()
	if err != nil {
		return err
	}

	if len(residual) > 0 {
		return &BufferError{Residual: residual}
	}

	return nil
}

// sendCommand writes each command unit to the port in order and, when
// expectEcho is true, reads back exactly the expected echo and verifies it.
//
// The expected echo is cmd.Echo, or the concatenation of the units themselves
// when cmd.Echo is nil. On mismatch the full recovery sequence runs once and a
// DesyncError is returned; the session is then suspect.
func (t *transport) sendCommand(cmd *pulse.Command, expectEcho bool) error {
	t.logger.Debug("send command", "units", fmt.Sprintf("%q", cmd.Units), "expectEcho", expectEcho)

	for _, unit := range cmd.Units {
		if err := t.write(unit); err != nil {
			return err
		}
	}
	t.metrics.incCommandSendCount()

	if !expectEcho {
		return nil
	}

	expected := cmd.Echo
	if expected == nil {
		expected = cmd.Bytes()
	}

	// One read at the inter-character timeout is enough to collect all the
	// echo bytes.
	got, err := t.readAtMost(len(expected))
	if err != nil {
		return err
	}

	if !bytes.Equal(got, expected) {
		return t.recoverDesync(got, expected)
	}

	t.logger.Debug("echo verified", "echo", fmt.Sprintf("%q", got))

	return nil
}

// recoverDesync runs the one built-in recovery cycle after an echo mismatch:
// pause, drain residual bytes, send stop, pause, send clear, pause, drain again.
// A desynchronized device otherwise corrupts every subsequent command's framing.
//
// It always returns a DesyncError carrying the mismatched, residual and expected
// bytes; the caller must not retry blindly, since repeated blind retries risk
// commanding the device incorrectly.
func (t *transport) recoverDesync(got, expected []byte) error {
	t.metrics.incEchoMismatchCount()
	t.logger.Debug("problem reading buffer", "read", fmt.Sprintf("%q", got), "expected", fmt.Sprintf("%q", expected))

	t.pause(t.cfg.recoveryPause)

	residual, _ := t.drain()

	_ = t.write([]byte{pulse.CmdStop})
	t.pause(t.cfg.recoveryPause)

	_ = t.write([]byte{pulse.CmdChannelClear})
	t.pause(t.cfg.recoveryPause)

	_, _ = t.drain()

	desyncErr := &DesyncError{
		Got:      util.CloneSlice(got, 0),
		Residual: util.CloneSlice(residual, 0),
		Expected: util.CloneSlice(expected, 0),
	}
	t.logger.Warn("echo mismatch, recovery cycle completed", "error", desyncErr)

	return desyncErr
}

// reset pulses the control line: assert, hold, deassert, hold. It is idempotent
// and always safe to call; the session issues it once at open to force the
// device into a known idle state regardless of prior history.
func (t *transport) reset(ctx context.Context) error {
	t.logger.Debug("reset", "hold", t.cfg.resetHold)

	if err := t.port.SetRTS(true); err != nil {
		return fmt.Errorf("%w: assert RTS: %w", ErrConnectionLost, err)
	}
	if err := t.sleep(ctx, t.cfg.resetHold); err != nil {
		return err
	}

	if err := t.port.SetRTS(false); err != nil {
		return fmt.Errorf("%w: deassert RTS: %w", ErrConnectionLost, err)
	}
	if err := t.sleep(ctx, t.cfg.resetHold); err != nil {
		return err
	}

	t.metrics.incResetCount()

	return nil
}

// sleep waits d or until the context is done.
func (t *transport) sleep(ctx context.Context, d time.Duration) error {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// pause waits d unconditionally. Used inside the recovery cycle, which must run
// to completion once started.
func (t *transport) pause(d time.Duration) {
	timer := pool.GetTimer(d)
	defer pool.PutTimer(timer)

	<-timer.C
}
