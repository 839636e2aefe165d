package tellie

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwaterfield/nanopulser/pulse"
)

func TestTransport_SendCommand_EchoVerified(t *testing.T) {
	tp, port := newTestTransport(t)

	cmd, err := pulse.PulseHeight(0x1234)
	require.NoError(t, err)

	// The device echoes one command code per unit.
	port.respond(
		[]byte{pulse.CmdPulseHeightHi},
		[]byte{pulse.CmdPulseHeightLo},
		[]byte{pulse.CmdPulseHeightEnd},
	)

	require.NoError(t, tp.sendCommand(cmd, true))

	assert.Equal(t, []byte{
		pulse.CmdPulseHeightHi, 0x12,
		pulse.CmdPulseHeightLo, 0x34,
		pulse.CmdPulseHeightEnd,
	}, port.writtenBytes())
}

func TestTransport_SendCommand_NoEcho(t *testing.T) {
	tp, port := newTestTransport(t)

	require.NoError(t, tp.sendCommand(pulse.Single(pulse.CmdFireContinuous), false))

	// Nothing was read: a later drain still sees whatever the device sends.
	port.queueRead([]byte("xyz"))
	buf, err := tp.drain()
	require.NoError(t, err)
	assert.Equal(t, []byte("xyz"), buf)
}

func TestTransport_SendCommand_DefaultEcho(t *testing.T) {
	tp, port := newTestTransport(t)

	// With no explicit echo the units themselves are expected back.
	cmd := &pulse.Command{Units: [][]byte{{'A', 'B'}}}
	port.respond([]byte{'A', 'B'})

	require.NoError(t, tp.sendCommand(cmd, true))
}

func TestTransport_SendCommand_DesyncRecovery(t *testing.T) {
	tp, port := newTestTransport(t)

	cmd, err := pulse.PulseHeight(100)
	require.NoError(t, err)

	// The first unit's echo is corrupted; the junk also covers the expected
	// echo length, and more residue follows for the recovery drain.
	port.respond([]byte("??junk"))

	err = tp.sendCommand(cmd, true)
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrProtocolDesync)

	var desync *DesyncError
	require.ErrorAs(t, err, &desync)
	assert.Equal(t, []byte("??j"), desync.Got)
	assert.Equal(t, []byte("unk"), desync.Residual)
	assert.Equal(t, []byte{pulse.CmdPulseHeightHi, pulse.CmdPulseHeightLo, pulse.CmdPulseHeightEnd}, desync.Expected)

	// Recovery sent exactly one stop and one clear after the command units.
	last := port.lastWrites(2)
	require.Len(t, last, 2)
	assert.Equal(t, []byte{pulse.CmdStop}, last[0])
	assert.Equal(t, []byte{pulse.CmdChannelClear}, last[1])

	assert.Equal(t, uint64(1), tp.metrics.EchoMismatchCount.Load())
}

func TestTransport_CheckBufferClear(t *testing.T) {
	tp, port := newTestTransport(t)

	require.NoError(t, tp.checkBufferClear())

	port.queueRead([]byte("stale"))

	err := tp.checkBufferClear()
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrBufferNotClear)

	var bufErr *BufferError
	require.ErrorAs(t, err, &bufErr)
	assert.Equal(t, []byte("stale"), bufErr.Residual)

	// The check consumed the stale bytes.
	require.NoError(t, tp.checkBufferClear())
}

func TestTransport_Drain_Limit(t *testing.T) {
	tp, port := newTestTransport(t, WithDrainLimit(4))

	port.queueRead([]byte("abcdefgh"))

	buf, err := tp.drain()
	require.NoError(t, err)
	assert.Equal(t, []byte("abcd"), buf)
}

func TestTransport_Write_ConnectionLost(t *testing.T) {
	tp, port := newTestTransport(t)
	port.failWrites = true

	err := tp.sendCommand(pulse.Single(pulse.CmdStop), false)
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestTransport_Read_ConnectionLost(t *testing.T) {
	tp, port := newTestTransport(t)
	port.failReads = true

	_, err := tp.drain()
	assert.ErrorIs(t, err, ErrConnectionLost)
}

func TestTransport_Reset_PulsesControlLine(t *testing.T) {
	port := newFakePort()
	cfg := newTestConfig(t)

	var metrics SessionMetrics
	tp := newTransport(port, cfg, cfg.logger, &metrics)

	// Cancelled context aborts mid-hold without deasserting twice.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := tp.reset(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, []bool{true}, port.rtsLog)
	assert.Equal(t, uint32(0), metrics.ResetCount.Load())
}

func TestTransport_ReadAtMost_Partial(t *testing.T) {
	tp, port := newTestTransport(t)

	port.queueRead([]byte("ab"))

	buf, err := tp.readAtMost(5)
	require.NoError(t, err)
	assert.Equal(t, []byte("ab"), buf)

	start := time.Now()
	buf, err = tp.readAtMost(5)
	require.NoError(t, err)
	assert.Empty(t, buf)
	assert.Less(t, time.Since(start), time.Second)
}
