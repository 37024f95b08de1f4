package wifi

import (
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type Config struct {
	Dialer       Dialer
	Clock        Clock
	Logger       *slog.Logger
	Registerer   prometheus.Registerer
	ATTimeout    time.Duration
	SendTimeout  time.Duration
	InitTimeout  time.Duration
	PollInterval time.Duration
	RingCapacity int
	// Mux enables multi-connection mode (required for the HTTP server).
	Mux bool
	// AddrInfo enables the peer ip/port clause in +IPD headers.
	AddrInfo bool
}

func (c *Config) validate() error {
	if c.Dialer == nil {
		return ErrNoDialer
	}
	return nil
}

func (c *Config) setDefaults() {
	if c.Clock == nil {
		c.Clock = SystemClock{}
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	if c.ATTimeout == 0 {
		c.ATTimeout = 5 * time.Second
	}
	if c.SendTimeout == 0 {
		c.SendTimeout = 10 * time.Second
	}
	if c.InitTimeout == 0 {
		c.InitTimeout = 30 * time.Second
	}
	if c.PollInterval == 0 {
		c.PollInterval = 5 * time.Millisecond
	}
	if c.RingCapacity == 0 {
		c.RingCapacity = 4096
	}
}

// ConfigBuilder assembles a Config fluently. Zero-valued fields fall back to
// defaults at Build time.
type ConfigBuilder struct {
	config Config
}

func NewConfigBuilder() *ConfigBuilder {
	return &ConfigBuilder{config: Config{Mux: true, AddrInfo: true}}
}

func (b *ConfigBuilder) WithDialer(d Dialer) *ConfigBuilder {
	b.config.Dialer = d
	return b
}

func (b *ConfigBuilder) WithClock(c Clock) *ConfigBuilder {
	b.config.Clock = c
	return b
}

func (b *ConfigBuilder) WithLogger(l *slog.Logger) *ConfigBuilder {
	b.config.Logger = l
	return b
}

func (b *ConfigBuilder) WithRegisterer(r prometheus.Registerer) *ConfigBuilder {
	b.config.Registerer = r
	return b
}

func (b *ConfigBuilder) WithATTimeout(d time.Duration) *ConfigBuilder {
	b.config.ATTimeout = d
	return b
}

func (b *ConfigBuilder) WithSendTimeout(d time.Duration) *ConfigBuilder {
	b.config.SendTimeout = d
	return b
}

func (b *ConfigBuilder) WithInitTimeout(d time.Duration) *ConfigBuilder {
	b.config.InitTimeout = d
	return b
}

func (b *ConfigBuilder) WithPollInterval(d time.Duration) *ConfigBuilder {
	b.config.PollInterval = d
	return b
}

func (b *ConfigBuilder) WithRingCapacity(n int) *ConfigBuilder {
	b.config.RingCapacity = n
	return b
}

func (b *ConfigBuilder) WithMux(on bool) *ConfigBuilder {
	b.config.Mux = on
	return b
}

func (b *ConfigBuilder) WithAddrInfo(on bool) *ConfigBuilder {
	b.config.AddrInfo = on
	return b
}

func (b *ConfigBuilder) Build() (Config, error) {
	config := b.config
	if err := config.validate(); err != nil {
		return Config{}, err
	}
	config.setDefaults()
	return config, nil
}
