package tellie

import (
	"fmt"
	"sync"

	"github.com/jwaterfield/nanopulser/internal/util"
	"github.com/jwaterfield/nanopulser/logger"
	"github.com/jwaterfield/nanopulser/pulse"
)

// ChannelContext supplies the currently selected LED channel(s). It is owned by
// the channel-selection collaborator; the session only reads it when a per-channel
// parameter is set.
type ChannelContext interface {
	// Channels returns the currently selected channel numbers. An empty slice
	// means no selection has been made yet.
	Channels() []byte
}

// Channel numbering. The pulser rack holds 12 driver boxes of 8 channels each;
// boxes 1..7 answer single-fire readout on the lower command, the rest on the upper.
const (
	MinChannel = 1
	MaxChannel = 96

	lowerBoxMaxChannel = 56
)

// Selector owns channel selection for a Device and acts as its ChannelContext.
//
// Selecting a channel invalidates the device's settings cache: the device keeps
// settings independently per channel, so after a switch every cached equality
// check is stale until the parameters are re-sent.
type Selector struct {
	dev    *Device
	logger logger.Logger

	mu       sync.Mutex
	channels []byte
}

var _ ChannelContext = (*Selector)(nil)

// NewSelector creates a Selector for dev and attaches itself as the device's
// channel context.
func NewSelector(dev *Device) *Selector {
	s := &Selector{
		dev:    dev,
		logger: dev.logger,
	}
	dev.SetChannelContext(s)

	return s
}

// Channels returns the currently selected channels.
func (s *Selector) Channels() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()

	return util.CloneSlice(s.channels, 0)
}

// SelectChannel selects a single LED channel for subsequent per-channel commands.
func (s *Selector) SelectChannel(ch byte) error {
	if err := validChannel(ch); err != nil {
		return err
	}

	cmd := &pulse.Command{
		Units: [][]byte{{pulse.CmdSelectSingleStart, ch, pulse.CmdSelectSingleEnd}},
		Echo:  []byte{pulse.CmdSelectSingleStart, pulse.CmdSelectSingleEnd},
	}

	if err := s.dev.sendSelect(cmd); err != nil {
		return err
	}

	s.mu.Lock()
	s.channels = []byte{ch}
	s.mu.Unlock()

	s.dev.ContextChanged()
	s.logger.Debug("selected channel", "channel", ch)

	return nil
}

// SelectChannels selects several LED channels at once. Per-channel parameters
// (fibre delay, single fire) then fail until a single channel is reselected.
func (s *Selector) SelectChannels(chs []byte) error {
	if len(chs) == 0 {
		return fmt.Errorf("%w: empty channel list", pulse.ErrInvalidParameter)
	}
	for _, ch := range chs {
		if err := validChannel(ch); err != nil {
			return err
		}
	}

	unit := make([]byte, 0, len(chs)+2)
	unit = append(unit, pulse.CmdSelectManyStart)
	unit = append(unit, chs...)
	unit = append(unit, pulse.CmdSelectManyEnd)

	cmd := &pulse.Command{
		Units: [][]byte{unit},
		Echo:  []byte{pulse.CmdSelectManyStart, pulse.CmdSelectManyEnd},
	}

	if err := s.dev.sendSelect(cmd); err != nil {
		return err
	}

	s.mu.Lock()
	s.channels = util.CloneSlice(chs, 0)
	s.mu.Unlock()

	s.dev.ContextChanged()
	s.logger.Debug("selected channels", "channels", chs)

	return nil
}

func validChannel(ch byte) error {
	if ch < MinChannel || ch > MaxChannel {
		return fmt.Errorf("%w: channel %d out of range [%d, %d]",
			pulse.ErrInvalidParameter, ch, MinChannel, MaxChannel)
	}

	return nil
}
