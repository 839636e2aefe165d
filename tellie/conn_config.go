package tellie

import (
	"errors"
	"fmt"
	"time"

	"github.com/jwaterfield/nanopulser/logger"
	"github.com/jwaterfield/nanopulser/pulse"
)

// Default session parameters.
const (
	DefaultPortName = "/dev/ttyUSB0"
	DefaultBaudRate = 9600

	// DefaultReadTimeout is the fixed inter-character timeout of the serial
	// channel. One read at this timeout is enough to collect a full echo.
	DefaultReadTimeout = 300 * time.Millisecond

	// DefaultResetHold is how long the reset control line is held in each
	// position. The device firmware needs several seconds to settle.
	DefaultResetHold = 3 * time.Second

	// DefaultRecoveryPause is the settle time between steps of the
	// desynchronization recovery sequence.
	DefaultRecoveryPause = 100 * time.Millisecond

	// DefaultDrainLimit is how many residual bytes a single drain read collects.
	DefaultDrainLimit = 100
)

// Configuration range limits.
const (
	MinReadTimeout = 50 * time.Millisecond
	MaxReadTimeout = 10 * time.Second

	MinResetHold = 3 * time.Second
	MaxResetHold = 30 * time.Second
)

// ConnectionConfig holds all configuration for a TELLIE serial session.
type ConnectionConfig struct {
	portName string
	baudRate int

	readTimeout   time.Duration
	resetHold     time.Duration
	recoveryPause time.Duration
	drainLimit    int

	// port, when non-nil, is used instead of opening portName. Used for
	// already-enumerated ports and for tests.
	port Port

	// Lookup collaborators for the two table-encoded parameters.
	pulseNumberLookup pulse.NumberLookup
	fibreDelayLookup  pulse.DelayLookup

	// channelCtx supplies the currently selected channel(s). May be nil until
	// a selector is attached; per-channel parameters then fail.
	channelCtx ChannelContext

	logger logger.Logger
}

// NewConnectionConfig creates a new session configuration for the serial device
// at portName. An empty portName selects DefaultPortName.
//
// opts are functional options applied in order; see With* functions.
func NewConnectionConfig(portName string, opts ...ConnOption) (*ConnectionConfig, error) {
	if portName == "" {
		portName = DefaultPortName
	}

	cfg := &ConnectionConfig{
		portName:          portName,
		baudRate:          DefaultBaudRate,
		readTimeout:       DefaultReadTimeout,
		resetHold:         DefaultResetHold,
		recoveryPause:     DefaultRecoveryPause,
		drainLimit:        DefaultDrainLimit,
		pulseNumberLookup: pulse.DefaultPulseNumber,
		fibreDelayLookup:  pulse.DefaultFibreDelay,
		logger:            logger.GetLogger(),
	}

	for _, opt := range opts {
		if err := opt.apply(cfg); err != nil {
			return nil, err
		}
	}

	return cfg, nil
}

// --- Getters ---

// PortName returns the serial device path.
func (cfg *ConnectionConfig) PortName() string { return cfg.portName }

// BaudRate returns the serial baud rate.
func (cfg *ConnectionConfig) BaudRate() int { return cfg.baudRate }

// ReadTimeout returns the inter-character read timeout.
func (cfg *ConnectionConfig) ReadTimeout() time.Duration { return cfg.readTimeout }

// ResetHold returns the hold time for each position of the reset pulse.
func (cfg *ConnectionConfig) ResetHold() time.Duration { return cfg.resetHold }

// RecoveryPause returns the settle time between recovery sequence steps.
func (cfg *ConnectionConfig) RecoveryPause() time.Duration { return cfg.recoveryPause }

// DrainLimit returns how many residual bytes a single drain read collects at most.
func (cfg *ConnectionConfig) DrainLimit() int { return cfg.drainLimit }

// GetLogger returns the configured logger.
func (cfg *ConnectionConfig) GetLogger() logger.Logger { return cfg.logger }

// --- ConnOption ---

// ConnOption is a functional option for configuring a ConnectionConfig.
type ConnOption interface {
	apply(*ConnectionConfig) error
}

type connOptFunc func(*ConnectionConfig) error

func (f connOptFunc) apply(cfg *ConnectionConfig) error { return f(cfg) }

// WithBaudRate sets the serial baud rate.
func WithBaudRate(rate int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if rate <= 0 {
			return fmt.Errorf("tellie: baud rate %d must be positive", rate)
		}
		cfg.baudRate = rate

		return nil
	})
}

// WithReadTimeout sets the inter-character read timeout.
func WithReadTimeout(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinReadTimeout || d > MaxReadTimeout {
			return fmt.Errorf("tellie: read timeout %v out of range [%v, %v]", d, MinReadTimeout, MaxReadTimeout)
		}
		cfg.readTimeout = d

		return nil
	})
}

// WithResetHold sets the hold time for each position of the reset pulse.
// The device needs at least MinResetHold to settle.
func WithResetHold(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d < MinResetHold || d > MaxResetHold {
			return fmt.Errorf("tellie: reset hold %v out of range [%v, %v]", d, MinResetHold, MaxResetHold)
		}
		cfg.resetHold = d

		return nil
	})
}

// WithRecoveryPause sets the settle time between desynchronization recovery steps.
func WithRecoveryPause(d time.Duration) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if d <= 0 {
			return errors.New("tellie: recovery pause must be positive")
		}
		cfg.recoveryPause = d

		return nil
	})
}

// WithDrainLimit sets how many residual bytes a single drain read collects at most.
func WithDrainLimit(n int) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if n < 1 {
			return errors.New("tellie: drain limit must be >= 1")
		}
		cfg.drainLimit = n

		return nil
	})
}

// WithPort supplies an already-open serial port. Open then skips opening
// portName and uses p directly; Close still closes it.
func WithPort(p Port) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if p == nil {
			return errors.New("tellie: port must not be nil")
		}
		cfg.port = p

		return nil
	})
}

// WithPulseNumberLookup replaces the stock pulse-count encoding table.
func WithPulseNumberLookup(l pulse.NumberLookup) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("tellie: pulse number lookup must not be nil")
		}
		cfg.pulseNumberLookup = l

		return nil
	})
}

// WithFibreDelayLookup replaces the stock fibre-delay encoding table.
func WithFibreDelayLookup(l pulse.DelayLookup) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("tellie: fibre delay lookup must not be nil")
		}
		cfg.fibreDelayLookup = l

		return nil
	})
}

// WithChannelContext supplies the channel-context provider consulted by
// per-channel parameters.
func WithChannelContext(ctx ChannelContext) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if ctx == nil {
			return errors.New("tellie: channel context must not be nil")
		}
		cfg.channelCtx = ctx

		return nil
	})
}

// WithLogger sets the logger for the session.
func WithLogger(l logger.Logger) ConnOption {
	return connOptFunc(func(cfg *ConnectionConfig) error {
		if l == nil {
			return errors.New("tellie: logger must not be nil")
		}
		cfg.logger = l

		return nil
	})
}
