package tellie

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jwaterfield/nanopulser/pulse"
)

func TestSelector_SelectChannel(t *testing.T) {
	dev, port := newTestDevice(t)
	sel := NewSelector(dev)

	assert.Empty(t, sel.Channels())

	port.respond([]byte{pulse.CmdSelectSingleStart, pulse.CmdSelectSingleEnd})
	require.NoError(t, sel.SelectChannel(12))

	assert.Equal(t, [][]byte{{pulse.CmdSelectSingleStart, 12, pulse.CmdSelectSingleEnd}}, port.lastWrites(1))
	assert.Equal(t, []byte{12}, sel.Channels())
	assert.True(t, dev.forceSetting)
}

func TestSelector_SelectChannel_InvalidatesCache(t *testing.T) {
	dev, port := newTestDevice(t)
	sel := NewSelector(dev)

	scriptEcho(port, 3, []byte{pulse.CmdPulseHeightHi, pulse.CmdPulseHeightLo, pulse.CmdPulseHeightEnd})
	require.NoError(t, dev.SetPulseHeight(8000))

	port.respond([]byte{pulse.CmdSelectSingleStart, pulse.CmdSelectSingleEnd})
	require.NoError(t, sel.SelectChannel(3))

	// The device holds settings per channel: the cached value is stale now.
	scriptEcho(port, 3, []byte{pulse.CmdPulseHeightHi, pulse.CmdPulseHeightLo, pulse.CmdPulseHeightEnd})
	before := port.writeCount()
	require.NoError(t, dev.SetPulseHeight(8000))
	assert.Greater(t, port.writeCount(), before)
}

func TestSelector_SelectChannels(t *testing.T) {
	dev, port := newTestDevice(t)
	sel := NewSelector(dev)

	port.respond([]byte{pulse.CmdSelectManyStart, pulse.CmdSelectManyEnd})
	require.NoError(t, sel.SelectChannels([]byte{1, 2, 3}))

	assert.Equal(t, [][]byte{{pulse.CmdSelectManyStart, 1, 2, 3, pulse.CmdSelectManyEnd}}, port.lastWrites(1))
	assert.Equal(t, []byte{1, 2, 3}, sel.Channels())
}

func TestSelector_SelectChannel_InvalidChannel(t *testing.T) {
	dev, port := newTestDevice(t)
	sel := NewSelector(dev)

	assert.ErrorIs(t, sel.SelectChannel(0), pulse.ErrInvalidParameter)
	assert.ErrorIs(t, sel.SelectChannel(MaxChannel+1), pulse.ErrInvalidParameter)
	assert.ErrorIs(t, sel.SelectChannels(nil), pulse.ErrInvalidParameter)
	assert.ErrorIs(t, sel.SelectChannels([]byte{5, 200}), pulse.ErrInvalidParameter)
	assert.Zero(t, port.writeCount())
}

func TestSelector_SelectChannel_RejectedWhileFiring(t *testing.T) {
	dev, _ := newTestDevice(t)
	sel := NewSelector(dev)

	require.NoError(t, dev.FireContinuous())

	err := sel.SelectChannel(5)
	assert.ErrorIs(t, err, ErrFiring)
	assert.Empty(t, sel.Channels())
}

func TestSelector_SelectChannel_DesyncKeepsOldSelection(t *testing.T) {
	dev, port := newTestDevice(t)
	sel := NewSelector(dev)

	port.respond([]byte{pulse.CmdSelectSingleStart, pulse.CmdSelectSingleEnd})
	require.NoError(t, sel.SelectChannel(4))

	port.respond([]byte("??"))
	err := sel.SelectChannel(5)
	require.ErrorIs(t, err, ErrProtocolDesync)

	assert.Equal(t, []byte{4}, sel.Channels())
}
