package modem

import (
	"time"

	"go.uber.org/zap"

	"i4.energy/across/sim800gw/at"
)

const (
	// DefaultBaudRate is the SIM800 factory rate.
	DefaultBaudRate = 9600
	// DefaultBootDelay is waited after the power-on pulse.
	DefaultBootDelay = 10 * time.Second
)

func (c *Config) validate() error {
	if c.dialer == nil {
		return ErrNoDialer
	}
	if c.baudRate < 0 || c.maxRetries < 0 {
		return ErrInvalidArgument
	}
	return nil
}

// Config is the immutable configuration of a Modem. Build it with
// NewConfigBuilder.
type Config struct {
	dialer       Dialer
	simPIN       string
	baudRate     int
	powerPin     Pin
	bootDelay    time.Duration
	atTimeout    time.Duration
	maxRetries   int
	skipSetup    bool
	clock        Clock
	logger       *zap.Logger
	numberPolicy at.NumberPolicy
}

func (c *Config) setDefaults() {
	if c.baudRate == 0 {
		c.baudRate = DefaultBaudRate
	}
	if c.bootDelay == 0 && c.powerPin != nil {
		c.bootDelay = DefaultBootDelay
	}
	if c.maxRetries == 0 {
		c.maxRetries = 10
	}
	if c.atTimeout == 0 {
		c.atTimeout = 10 * time.Second
	}
	if c.clock == nil {
		c.clock = realClock{}
	}
	if c.logger == nil {
		c.logger = zap.NewNop()
	}
}

// ConfigBuilder assembles a Config.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{}
}

// WithDialer sets how the transport to the modem is opened. Required.
func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.dialer = d
	return b
}

// WithSimPIN sets the PIN entered when the SIM reports "SIM PIN".
func (b *ConfigBuilder) WithSimPIN(pin string) *ConfigBuilder {
	b.config.simPIN = pin
	return b
}

// WithBaudRate sets the rate programmed with AT+IPR during setup. It must
// match the rate the Dialer opens the line with.
func (b *ConfigBuilder) WithBaudRate(baud int) *ConfigBuilder {
	b.config.baudRate = baud
	return b
}

// WithPowerPin enables the power key pulse before setup and the power
// operations.
func (b *ConfigBuilder) WithPowerPin(p Pin) *ConfigBuilder {
	b.config.powerPin = p
	return b
}

func (b *ConfigBuilder) WithBootDelay(d time.Duration) *ConfigBuilder {
	b.config.bootDelay = d
	return b
}

// WithATTimeout sets the reply window of setup commands and the AT probe.
func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.atTimeout = d
	return b
}

// WithMaxRetries sets how many failed AT probes are tolerated before New
// gives up with ErrModemUnresponsive.
func (b *ConfigBuilder) WithMaxRetries(n int) *ConfigBuilder {
	b.config.maxRetries = n
	return b
}

// WithoutSetup skips power-on and the initialization sequence. Useful to
// talk to an already configured modem without touching its settings.
func (b *ConfigBuilder) WithoutSetup() *ConfigBuilder {
	b.config.skipSetup = true
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.clock = c
	return b
}

func (b *ConfigBuilder) WithLogger(l *zap.Logger) *ConfigBuilder {
	b.config.logger = l
	return b
}

// WithNumberPolicy rewrites caller numbers of incoming call events.
func (b *ConfigBuilder) WithNumberPolicy(p at.NumberPolicy) *ConfigBuilder {
	b.config.numberPolicy = p
	return b
}

// Build validates the configuration and fills in defaults.
func (b *ConfigBuilder) Build() (Config, error) {
	c := b.config
	if err := c.validate(); err != nil {
		return Config{}, err
	}
	c.setDefaults()
	return c, nil
}
