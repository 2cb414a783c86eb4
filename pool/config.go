package pool

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/guileen/connpool/logger"
)

// Strategy selects how callers wait when the pool is at capacity.
type Strategy int

const (
	// StrategyFIFO parks each waiter on a single-use token; releases hand
	// connections to the longest-waiting caller first.
	StrategyFIFO Strategy = iota
	// StrategyPolling sleeps WaitInterval between attempts. Waiters are not
	// served in any particular order.
	StrategyPolling
)

func (s Strategy) String() string {
	switch s {
	case StrategyFIFO:
		return "fifo"
	case StrategyPolling:
		return "polling"
	}
	return fmt.Sprintf("Strategy(%d)", int(s))
}

// ParseStrategy parses "fifo" or "polling".
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "fifo":
		return StrategyFIFO, nil
	case "polling", "poll":
		return StrategyPolling, nil
	}
	return 0, fmt.Errorf("unknown pool strategy %q", s)
}

const (
	DefaultMaxActive         = 10
	DefaultMaxIdle           = -1
	DefaultWaitInterval      = 150 * time.Millisecond
	DefaultReconnectBackoff  = 5 * time.Second
	DefaultProbeCommand      = "SELECT 1"
	DefaultProbePeriod       = time.Hour
	DefaultProbeTimeout      = 30 * time.Second
	DefaultSlowDialThreshold = 5 * time.Second
)

// Config defines configuration for the connection pool.
//
// Start from DefaultConfig: a zero MaxIdle means "keep no idle connections"
// and a zero MaxActive means "unbounded".
type Config struct {
	Name string

	MaxActive int           // <= 0 means unbounded
	MaxIdle   int           // < 0 means unbounded
	MaxWait   time.Duration // <= 0 blocks until the context is done

	Strategy     Strategy
	WaitInterval time.Duration // polling granularity

	ReconnectInterval time.Duration // <= 0 never forces a reconnect
	ReconnectBackoff  time.Duration

	EnableTracking bool

	ProbeCommand     string
	ProbePeriod      time.Duration // < 0 disables the health prober
	ProbeTimeout     time.Duration
	ProbeConcurrency int

	// Dials slower than this are logged while still in progress.
	SlowDialThreshold time.Duration

	Logger *slog.Logger
}

// DefaultConfig returns the default pool configuration
func DefaultConfig() Config {
	return Config{
		Name:              "default",
		MaxActive:         DefaultMaxActive,
		MaxIdle:           DefaultMaxIdle,
		Strategy:          StrategyFIFO,
		WaitInterval:      DefaultWaitInterval,
		ReconnectBackoff:  DefaultReconnectBackoff,
		ProbeCommand:      DefaultProbeCommand,
		ProbePeriod:       DefaultProbePeriod,
		ProbeTimeout:      DefaultProbeTimeout,
		ProbeConcurrency:  1,
		SlowDialThreshold: DefaultSlowDialThreshold,
	}
}

func (c Config) withDefaults() Config {
	if c.Name == "" {
		c.Name = "default"
	}
	if c.WaitInterval <= 0 {
		c.WaitInterval = DefaultWaitInterval
	}
	if c.ReconnectBackoff <= 0 {
		c.ReconnectBackoff = DefaultReconnectBackoff
	}
	if strings.TrimSpace(c.ProbeCommand) == "" {
		c.ProbeCommand = DefaultProbeCommand
	}
	if c.ProbePeriod == 0 {
		c.ProbePeriod = DefaultProbePeriod
	}
	if c.ProbeTimeout <= 0 {
		c.ProbeTimeout = DefaultProbeTimeout
	}
	if c.ProbeConcurrency <= 0 {
		c.ProbeConcurrency = 1
	}
	if c.SlowDialThreshold <= 0 {
		c.SlowDialThreshold = DefaultSlowDialThreshold
	}
	if c.Logger == nil {
		c.Logger = logger.With(logger.Component("pool"), "pool", c.Name)
	}
	return c
}

// Validate reports configuration errors.
func (c Config) Validate() error {
	switch c.Strategy {
	case StrategyFIFO, StrategyPolling:
	default:
		return fmt.Errorf("invalid strategy %v", c.Strategy)
	}
	return nil
}
