package tellie

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/puzpuzpuz/xsync/v3"

	"github.com/jwaterfield/nanopulser/logger"
	"github.com/jwaterfield/nanopulser/pulse"
)

// shortTrainThreshold decides whether a fire command waits for the end-of-sequence
// marker in-line. The product of pulse count and millisecond pulse delay below this
// value completes within the echo-read timeout; the constant is tied to that timeout,
// not to a physical quantity.
const shortTrainThreshold = 500

// Parameter identifies a configurable pulser parameter.
type Parameter uint8

// Pulser parameters.
const (
	PulseHeight Parameter = iota
	PulseWidth
	PulseNumber
	PulseDelay
	TriggerDelay
	FibreDelay
)

// String returns the human-readable parameter name.
func (p Parameter) String() string {
	switch p {
	case PulseHeight:
		return "pulse height"
	case PulseWidth:
		return "pulse width"
	case PulseNumber:
		return "pulse number"
	case PulseDelay:
		return "pulse delay"
	case TriggerDelay:
		return "trigger delay"
	case FibreDelay:
		return "fibre delay"
	default:
		return "unknown"
	}
}

// requiredParams are the parameters that must be configured before a fire command.
// Trigger delay and fibre delay are optional prerequisites.
var requiredParams = [...]Parameter{PulseHeight, PulseNumber, PulseDelay}

// SetOption is a functional option for setting commands.
type SetOption interface {
	apply(*setOptions)
}

type setOptions struct {
	whileFiring bool
}

type setOptFunc func(*setOptions)

func (f setOptFunc) apply(o *setOptions) { f(o) }

// WhileFiring permits a setting command during a pulse train. The buffer-clear
// check is skipped and echo verification is disabled, because the device's PIN
// readout stream is still flushing and would corrupt framing; the caller accepts
// responsibility for eventual consistency.
func WhileFiring() SetOption {
	return setOptFunc(func(o *setOptions) { o.whileFiring = true })
}

func newSetOptions(opts []SetOption) setOptions {
	var o setOptions
	for _, opt := range opts {
		opt.apply(&o)
	}

	return o
}

// FireOption is a functional option for fire-family and trigger commands.
type FireOption interface {
	apply(*fireOptions)
}

type fireOptions struct {
	allowWhileFiring bool
}

type fireOptFunc func(*fireOptions)

func (f fireOptFunc) apply(o *fireOptions) { f(o) }

// AllowWhileFiring permits the command even when a previous pulse train has not
// finished.
func AllowWhileFiring() FireOption {
	return fireOptFunc(func(o *fireOptions) { o.allowWhileFiring = true })
}

func newFireOptions(opts []FireOption) fireOptions {
	var o fireOptions
	for _, opt := range opts {
		opt.apply(&o)
	}

	return o
}

// Device is a synchronous command session with a TELLIE LED pulser.
//
// It owns the firing state machine, the settings cache and the force-setting flag,
// and sequences codec output through the transport session while enforcing command
// legality. All operations block until their wire round-trip completes.
//
// Device serializes its public operations internally, but the protocol remains
// strictly synchronous: the design assumes a single owning task, with at most one
// command in flight.
type Device struct {
	cfg     *ConnectionConfig
	logger  logger.Logger
	metrics SessionMetrics

	mu        sync.Mutex
	port      Port
	tp        *transport
	fireState *fireStateMgr

	// settings caches the last value successfully written to the device for each
	// global parameter; fibreDelays does the same per channel. A cached value is
	// trustworthy only while forceSetting is false.
	settings    map[Parameter]float64
	fibreDelays *xsync.MapOf[byte, float64]

	// forceSetting is raised on every channel-context change: device-side state is
	// per channel, so a channel switch invalidates cached equality checks. It is
	// cleared once a fire command completes issuance.
	forceSetting bool

	channelCtx ChannelContext
	tempProbe  int

	opened bool
	closed bool
}

// New creates a Device for the given configuration. The serial link is not touched
// until Open is called.
func New(cfg *ConnectionConfig) (*Device, error) {
	if cfg == nil {
		return nil, errors.New("tellie: connection config is nil")
	}

	d := &Device{
		cfg:         cfg,
		logger:      cfg.logger,
		settings:    make(map[Parameter]float64),
		fibreDelays: xsync.NewMapOf[byte, float64](),
		channelCtx:  cfg.channelCtx,
	}
	d.fireState = newFireStateMgr(d.logger)

	return d, nil
}

// Open opens the serial port (unless one was supplied via WithPort) and issues the
// reset pulse, leaving the device in a known idle state. The context bounds the
// reset holds, which take several seconds.
func (d *Device) Open(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return ErrClosed
	}
	if d.opened {
		return nil
	}

	port := d.cfg.port
	if port == nil {
		var err error
		port, err = openPort(d.cfg.portName, d.cfg.baudRate, d.cfg.readTimeout)
		if err != nil {
			return err
		}
	}

	d.port = port
	d.tp = newTransport(port, d.cfg, d.logger, &d.metrics)

	if err := d.tp.reset(ctx); err != nil {
		_ = port.Close()
		d.port = nil
		d.tp = nil

		return err
	}

	d.opened = true
	d.logger.Debug("serial connection open", "port", d.cfg.portName)

	return nil
}

// Close closes the serial port. No command may be issued afterward.
func (d *Device) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil
	}
	d.closed = true

	if d.port == nil {
		return nil
	}

	if err := d.port.Close(); err != nil {
		return fmt.Errorf("%w: close: %w", ErrConnectionLost, err)
	}

	return nil
}

// Metrics returns the session metrics.
func (d *Device) Metrics() *SessionMetrics {
	return &d.metrics
}

// State returns the current firing state without touching the wire.
// Use CheckFiring to refresh it from the device buffer.
func (d *Device) State() FireState {
	return d.fireState.State()
}

// SetChannelContext supplies the channel-context provider consulted by per-channel
// parameters. The provider is owned by the channel-selection collaborator; the
// session only reads it.
func (d *Device) SetChannelContext(ctx ChannelContext) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.channelCtx = ctx
}

// ContextChanged tells the session that the selected channel(s) changed. All
// subsequent setting commands bypass the cache and resend until a fire command
// completes.
func (d *Device) ContextChanged() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.forceSetting = true
}

// --- Setting commands ---

// SetPulseHeight sets the pulse height DAC value for the selected channel(s).
func (d *Device) SetPulseHeight(value int, opts ...SetOption) error {
	return d.setGlobal(PulseHeight, float64(value), true, opts, func() (*pulse.Command, error) {
		return pulse.PulseHeight(value)
	})
}

// SetPulseWidth sets the pulse width DAC value for the selected channel(s).
// Pulse width is not cached: every call reaches the wire.
func (d *Device) SetPulseWidth(value int, opts ...SetOption) error {
	return d.setGlobal(PulseWidth, float64(value), false, opts, func() (*pulse.Command, error) {
		return pulse.PulseWidth(value)
	})
}

// SetPulseNumber sets the number of pulses in a train (global setting).
func (d *Device) SetPulseNumber(value int, opts ...SetOption) error {
	return d.setGlobal(PulseNumber, float64(value), true, opts, func() (*pulse.Command, error) {
		return pulse.PulseNumber(value, d.cfg.pulseNumberLookup)
	})
}

// SetPulseDelay sets the delay between pulses in milliseconds (global setting).
func (d *Device) SetPulseDelay(value float64, opts ...SetOption) error {
	return d.setGlobal(PulseDelay, value, true, opts, func() (*pulse.Command, error) {
		return pulse.PulseDelay(value)
	})
}

// SetTriggerDelay sets the trigger delay in nanoseconds (global setting).
func (d *Device) SetTriggerDelay(value int, opts ...SetOption) error {
	return d.setGlobal(TriggerDelay, float64(value), true, opts, func() (*pulse.Command, error) {
		return pulse.TriggerDelay(value)
	})
}

// SetFibreDelay sets the fibre delay for the selected channel in nanoseconds.
// Exactly one channel must be selected in the channel context.
func (d *Device) SetFibreDelay(value float64, opts ...SetOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	ch, err := d.selectedChannel()
	if err != nil {
		return err
	}

	o := newSetOptions(opts)
	if d.fireState.IsFiring() && !o.whileFiring {
		return ErrFiring
	}

	if !d.fireState.IsFiring() && !d.forceSetting {
		if prev, ok := d.fibreDelays.Load(ch); ok && prev == value {
			d.logger.Debug("fibre delay unchanged, skipping", "channel", ch, "value", value)
			d.metrics.incCacheSkipCount()

			return nil
		}
	}

	cmd, err := pulse.FibreDelay(value, d.cfg.fibreDelayLookup)
	if err != nil {
		return err
	}

	if err := d.sendSetting(cmd, d.fireState.IsFiring()); err != nil {
		return err
	}

	d.fibreDelays.Store(ch, value)
	d.logger.Debug("set fibre delay", "channel", ch, "value", value)

	return nil
}

// setGlobal implements the shared setting discipline: legality check against the
// firing state, idempotent cache skip, encode, buffer-clear check, send with echo
// verification, cache update.
func (d *Device) setGlobal(param Parameter, value float64, cached bool, opts []SetOption, encode func() (*pulse.Command, error)) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newSetOptions(opts)
	firing := d.fireState.IsFiring()
	if firing && !o.whileFiring {
		return ErrFiring
	}

	if cached && !firing && !d.forceSetting {
		if prev, ok := d.settings[param]; ok && prev == value {
			d.logger.Debug("setting unchanged, skipping", "param", param.String(), "value", value)
			d.metrics.incCacheSkipCount()

			return nil
		}
	}

	cmd, err := encode()
	if err != nil {
		return err
	}

	if err := d.sendSetting(cmd, firing); err != nil {
		return err
	}

	if cached {
		d.settings[param] = value
	}
	d.logger.Debug("set parameter", "param", param.String(), "value", value)

	return nil
}

// sendSetting dispatches an encoded setting command. While firing, the buffer
// cannot be trusted: the clear check is skipped and no echo is read.
func (d *Device) sendSetting(cmd *pulse.Command, firing bool) error {
	if firing {
		return d.tp.sendCommand(cmd, false)
	}

	if err := d.tp.checkBufferClear(); err != nil {
		return err
	}

	return d.tp.sendCommand(cmd, true)
}

// ClearSettings forgets every cached parameter value. The next setting commands
// reach the wire unconditionally.
func (d *Device) ClearSettings() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.settings = make(map[Parameter]float64)
	d.fibreDelays.Clear()
}

// CheckReady reports whether all required parameters have been configured,
// returning a NotReadyError naming the missing ones otherwise.
func (d *Device) CheckReady() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	return d.checkReadyLocked()
}

func (d *Device) checkReadyLocked() error {
	var missing []Parameter
	for _, p := range requiredParams {
		if _, ok := d.settings[p]; !ok {
			missing = append(missing, p)
		}
	}

	if len(missing) > 0 {
		return &NotReadyError{Missing: missing}
	}

	return nil
}

// --- Firing commands ---

// CheckFiring refreshes and returns the firing state. When firing, it performs a
// bounded buffer read looking for the end-of-sequence marker; observing it
// transitions the session back to idle.
func (d *Device) CheckFiring() (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return false, err
	}

	return d.refreshFiringLocked()
}

func (d *Device) refreshFiringLocked() (bool, error) {
	if !d.fireState.IsFiring() {
		return false, nil
	}

	buf, err := d.tp.drain()
	if err != nil {
		return true, err
	}

	if bytes.IndexByte(buf, pulse.EndSequence) >= 0 {
		d.fireState.ToIdle()

		return false, nil
	}

	return true, nil
}

// reentryCheck guards fire-family commands: when a previous train has not yet
// finished (and the override is not given), the command fails with ErrAlreadyFiring.
func (d *Device) reentryCheck(allow bool) error {
	if !d.fireState.IsFiring() || allow {
		return nil
	}

	firing, err := d.refreshFiringLocked()
	if err != nil {
		return err
	}
	if firing {
		return ErrAlreadyFiring
	}

	return nil
}

// Fire fires the configured pulse train.
//
// Short trains (pulse count times millisecond delay below the threshold) complete
// within the echo-read timeout: the end-of-sequence marker is appended to the
// expected echo and verified synchronously, leaving the session idle. Longer trains
// verify only the command echo and leave the session firing; poll CheckFiring for
// completion.
func (d *Device) Fire(opts ...FireOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newFireOptions(opts)
	if err := d.reentryCheck(o.allowWhileFiring); err != nil {
		return err
	}

	if err := d.checkReadyLocked(); err != nil {
		return err
	}

	pn := d.settings[PulseNumber]
	pd := d.settings[PulseDelay]

	cmd := pulse.Single(pulse.CmdFireSeries)
	if pn*pd < shortTrainThreshold {
		cmd.Echo = append(cmd.Echo, pulse.EndSequence)
		if err := d.tp.sendCommand(cmd, true); err != nil {
			return err
		}
	} else {
		if err := d.tp.sendCommand(cmd, true); err != nil {
			return err
		}
		d.fireState.ToFiring()
	}

	d.forceSetting = false
	d.metrics.incFireCount()
	d.logger.Debug("fired pulse train", "pulseNumber", pn, "pulseDelay", pd, "state", d.fireState.State().String())

	return nil
}

// FireSequence fires the configured train in sequence mode without waiting for any
// echo; intended for single-channel operation. The session transitions to firing.
func (d *Device) FireSequence(opts ...FireOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newFireOptions(opts)
	if err := d.reentryCheck(o.allowWhileFiring); err != nil {
		return err
	}

	if err := d.checkReadyLocked(); err != nil {
		return err
	}

	if err := d.tp.sendCommand(pulse.Single(pulse.CmdFireSeries), false); err != nil {
		return err
	}

	d.fireState.ToFiring()
	d.forceSetting = false
	d.metrics.incFireCount()

	return nil
}

// FireContinuous starts a free-running pulse train that only Stop terminates.
// No echo is read: the train has unbounded duration.
func (d *Device) FireContinuous(opts ...FireOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newFireOptions(opts)
	if err := d.reentryCheck(o.allowWhileFiring); err != nil {
		return err
	}

	if err := d.tp.sendCommand(pulse.Single(pulse.CmdFireContinuous), false); err != nil {
		return err
	}

	d.fireState.ToFiring()
	d.forceSetting = false
	d.metrics.incFireCount()

	return nil
}

// TriggerSingle arms the device to fire one pulse on the next external trigger.
// The device produces no immediate echo; completion is signaled externally, so the
// session transitions to firing immediately.
func (d *Device) TriggerSingle(opts ...FireOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newFireOptions(opts)
	if err := d.reentryCheck(o.allowWhileFiring); err != nil {
		return err
	}

	if err := d.tp.sendCommand(pulse.Single(pulse.CmdFireExtTrigger), false); err != nil {
		return err
	}

	d.fireState.ToFiring()
	d.metrics.incFireCount()

	return nil
}

// Stop halts any running pulse train. It is legal in every state, drains the
// residual buffer contents and returns them, and forces the session back to idle
// regardless of whether the device honored the command immediately.
func (d *Device) Stop() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return nil, err
	}

	writeErr := d.tp.write([]byte{pulse.CmdStop})

	var residual []byte
	var readErr error
	if writeErr == nil {
		residual, readErr = d.tp.drain()
	}

	// Idle unconditionally, even if the transport failed.
	d.fireState.ToIdle()

	if writeErr != nil {
		return nil, writeErr
	}
	if readErr != nil {
		return nil, readErr
	}

	d.logger.Debug("stopped firing", "residual", fmt.Sprintf("%q", residual))

	return residual, nil
}

// EnableExternalTrigger tells the device to fire on any external trigger.
func (d *Device) EnableExternalTrigger(opts ...FireOption) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	o := newFireOptions(opts)
	if d.fireState.IsFiring() && !o.allowWhileFiring {
		return ErrFiring
	}

	return d.tp.sendCommand(pulse.Single(pulse.CmdEnableExtTrigger), true)
}

// DisableExternalTrigger stops the device from responding to external triggers.
func (d *Device) DisableExternalTrigger() error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	return d.tp.sendCommand(pulse.Single(pulse.CmdDisableExtTrigger), true)
}

// ReadBuffer reads up to the configured drain limit of bytes from the device
// buffer without interpreting them.
func (d *Device) ReadBuffer() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return nil, err
	}

	return d.tp.drain()
}

// FireSingle fires one pulse and returns its PIN readout, polling the device
// buffer until data arrives or the timeout elapses. Exactly one channel must be
// selected: the readout command depends on which driver box hosts it.
func (d *Device) FireSingle(timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return nil, err
	}

	if err := d.reentryCheck(false); err != nil {
		return nil, err
	}

	return d.fireAndReadPIN(pulse.CmdReadSingleLower, pulse.CmdReadSingleUpper, timeout)
}

// FireAverage fires the configured pulse train and returns the averaged PIN
// readout the device produces at the end of it. The train parameters must be
// configured, and exactly one channel must be selected.
func (d *Device) FireAverage(timeout time.Duration) ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return nil, err
	}

	if err := d.reentryCheck(false); err != nil {
		return nil, err
	}

	if err := d.checkReadyLocked(); err != nil {
		return nil, err
	}

	return d.fireAndReadPIN(pulse.CmdFireAverageLower, pulse.CmdFireAverageUpper, timeout)
}

// fireAndReadPIN issues the box-dependent fire-and-readout command for the
// selected channel, then polls the device buffer for the PIN readout until the
// timeout elapses. The trailing end-of-sequence marker is stripped.
func (d *Device) fireAndReadPIN(lowerCmd, upperCmd byte, timeout time.Duration) ([]byte, error) {
	ch, err := d.selectedChannel()
	if err != nil {
		return nil, err
	}

	cmdByte := lowerCmd
	if ch > lowerBoxMaxChannel {
		cmdByte = upperCmd
	}

	if err := d.tp.sendCommand(pulse.Single(cmdByte), false); err != nil {
		return nil, err
	}

	d.fireState.ToFiring()
	d.metrics.incFireCount()

	deadline := time.Now().Add(timeout)
	for {
		buf, err := d.tp.drain()
		if err != nil {
			return nil, err
		}

		if len(buf) > 0 {
			d.fireState.ToIdle()

			return bytes.TrimSuffix(buf, []byte{pulse.EndSequence}), nil
		}

		if time.Now().After(deadline) {
			return nil, fmt.Errorf("%w: channel %d after %v", ErrPinReadTimeout, ch, timeout)
		}
	}
}

// --- internal helpers ---

func (d *Device) ensureOpen() error {
	if d.closed {
		return ErrClosed
	}
	if !d.opened {
		return ErrNotOpen
	}

	return nil
}

// selectedChannel resolves the channel context to exactly one channel.
func (d *Device) selectedChannel() (byte, error) {
	if d.channelCtx == nil {
		return 0, fmt.Errorf("%w: no channel context attached", ErrChannelAmbiguous)
	}

	chs := d.channelCtx.Channels()
	if len(chs) != 1 {
		return 0, fmt.Errorf("%w: channels set as %v", ErrChannelAmbiguous, chs)
	}

	return chs[0], nil
}

// sendSelect dispatches a channel-select frame on behalf of a Selector.
func (d *Device) sendSelect(cmd *pulse.Command) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if err := d.ensureOpen(); err != nil {
		return err
	}

	if d.fireState.IsFiring() {
		return ErrFiring
	}

	if err := d.tp.checkBufferClear(); err != nil {
		return err
	}

	return d.tp.sendCommand(cmd, true)
}
