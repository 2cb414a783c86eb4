// Package config loads pool, driver, admin and logging settings from a YAML
// or TOML file, then applies environment overrides.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"

	"github.com/guileen/connpool/logger"
	"github.com/guileen/connpool/pool"
)

// Config is the full poolctl configuration
type Config struct {
	Pool   PoolConfig   `yaml:"pool" toml:"pool"`
	Driver DriverConfig `yaml:"driver" toml:"driver"`
	Admin  AdminConfig  `yaml:"admin" toml:"admin"`
	Log    LogConfig    `yaml:"log" toml:"log"`
}

// PoolConfig mirrors pool.Config in file form.
type PoolConfig struct {
	Name              string   `yaml:"name" toml:"name"`
	MaxActive         int      `yaml:"max_active" toml:"max_active"`
	MaxIdle           int      `yaml:"max_idle" toml:"max_idle"`
	MaxWait           Duration `yaml:"max_wait" toml:"max_wait"`
	Strategy          string   `yaml:"strategy" toml:"strategy"`
	WaitInterval      Duration `yaml:"wait_interval" toml:"wait_interval"`
	ReconnectInterval Duration `yaml:"reconnect_interval" toml:"reconnect_interval"`
	ReconnectBackoff  Duration `yaml:"reconnect_backoff" toml:"reconnect_backoff"`
	EnableTracking    bool     `yaml:"enable_tracking" toml:"enable_tracking"`
	ProbeCommand      string   `yaml:"probe_command" toml:"probe_command"`
	ProbePeriod       Duration `yaml:"probe_period" toml:"probe_period"`
	ProbeTimeout      Duration `yaml:"probe_timeout" toml:"probe_timeout"`
	ProbeConcurrency  int      `yaml:"probe_concurrency" toml:"probe_concurrency"`
}

// DriverConfig names a registered driver and its data source.
type DriverConfig struct {
	Name string `yaml:"name" toml:"name"`
	DSN  string `yaml:"dsn" toml:"dsn"`
}

// AdminConfig configures the HTTP admin surface. An empty Addr disables it.
type AdminConfig struct {
	Addr string `yaml:"addr" toml:"addr"`
}

// LogConfig configures the process logger.
type LogConfig struct {
	Level     string `yaml:"level" toml:"level"`
	Format    string `yaml:"format" toml:"format"`
	AddSource bool   `yaml:"add_source" toml:"add_source"`
}

// Default returns the default configuration
func Default() Config {
	p := pool.DefaultConfig()
	return Config{
		Pool: PoolConfig{
			Name:             p.Name,
			MaxActive:        p.MaxActive,
			MaxIdle:          p.MaxIdle,
			MaxWait:          Duration(p.MaxWait),
			Strategy:         p.Strategy.String(),
			WaitInterval:     Duration(p.WaitInterval),
			ReconnectBackoff: Duration(p.ReconnectBackoff),
			ProbeCommand:     p.ProbeCommand,
			ProbePeriod:      Duration(p.ProbePeriod),
			ProbeTimeout:     Duration(p.ProbeTimeout),
			ProbeConcurrency: p.ProbeConcurrency,
		},
		Admin: AdminConfig{Addr: ":8080"},
		Log:   LogConfig{Level: "info", Format: "json"},
	}
}

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	config, err := Read(path)
	if err != nil {
		return config, err
	}
	if err := config.Validate(); err != nil {
		return config, err
	}
	return config, nil
}

// Read is Load without validation, for callers that apply further
// overrides (such as command line flags) first.
func Read(path string) (Config, error) {
	config := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return config, fmt.Errorf("read config: %w", err)
		}
		if err := Decode(&config, data, filepath.Ext(path)); err != nil {
			return config, fmt.Errorf("parse %s: %w", path, err)
		}
	}
	ApplyEnv(&config)
	return config, nil
}

// Decode unmarshals data into config according to the file extension.
func Decode(config *Config, data []byte, ext string) error {
	switch strings.ToLower(ext) {
	case ".yaml", ".yml":
		dec := yaml.NewDecoder(bytes.NewReader(data))
		dec.KnownFields(true)
		if err := dec.Decode(config); err != nil && !errors.Is(err, io.EOF) {
			return err
		}
		return nil
	case ".toml":
		dec := toml.NewDecoder(bytes.NewReader(data))
		dec.DisallowUnknownFields()
		return dec.Decode(config)
	}
	return fmt.Errorf("unsupported config format %q", ext)
}

// ApplyEnv overrides config from POOL_*, ADMIN_ADDR and LOG_* environment
// variables. Unparsable values are ignored.
func ApplyEnv(config *Config) {
	p := &config.Pool
	if v := os.Getenv("POOL_NAME"); v != "" {
		p.Name = v
	}
	if v, ok := envInt("POOL_MAX_ACTIVE"); ok {
		p.MaxActive = v
	}
	if v, ok := envInt("POOL_MAX_IDLE"); ok {
		p.MaxIdle = v
	}
	if v, ok := envMillis("POOL_MAX_WAIT_MS"); ok {
		p.MaxWait = v
	}
	if v, ok := envMillis("POOL_WAIT_INTERVAL_MS"); ok && v > 0 {
		p.WaitInterval = v
	}
	if v, ok := envMillis("POOL_RECONNECT_INTERVAL_MS"); ok {
		p.ReconnectInterval = v
	}
	if v := os.Getenv("POOL_ENABLE_TRACKING"); v != "" {
		if enable, err := strconv.ParseBool(v); err == nil {
			p.EnableTracking = enable
		}
	}
	if v := os.Getenv("POOL_STRATEGY"); v != "" {
		p.Strategy = v
	}
	if v := os.Getenv("POOL_PROBE_COMMAND"); v != "" {
		p.ProbeCommand = v
	}
	if v, ok := envMillis("POOL_PROBE_PERIOD_MS"); ok {
		p.ProbePeriod = v
	}

	if v := os.Getenv("POOL_DRIVER"); v != "" {
		config.Driver.Name = v
	}
	if v := os.Getenv("POOL_DSN"); v != "" {
		config.Driver.DSN = v
	}
	if v, ok := os.LookupEnv("ADMIN_ADDR"); ok {
		config.Admin.Addr = v
	}

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		if _, ok := logger.ParseLevel(v); ok {
			config.Log.Level = v
		}
	}
	if v := strings.ToLower(os.Getenv("LOG_FORMAT")); v == "text" || v == "json" {
		config.Log.Format = v
	}
	if v := os.Getenv("LOG_ADD_SOURCE"); v != "" {
		if addSource, err := strconv.ParseBool(v); err == nil {
			config.Log.AddSource = addSource
		}
	}
}

func envInt(key string) (int, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func envMillis(key string) (Duration, bool) {
	s := os.Getenv(key)
	if s == "" {
		return 0, false
	}
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, false
	}
	return Duration(time.Duration(ms) * time.Millisecond), true
}

// Validate reports the first invalid setting.
func (c Config) Validate() error {
	if _, err := c.PoolConfig(); err != nil {
		return err
	}
	if c.Pool.ProbeConcurrency < 0 {
		return fmt.Errorf("pool.probe_concurrency must not be negative")
	}
	if c.Driver.Name == "" {
		return fmt.Errorf("driver.name is required")
	}
	if _, ok := logger.ParseLevel(c.Log.Level); !ok {
		return fmt.Errorf("unknown log level %q", c.Log.Level)
	}
	return nil
}

// PoolConfig converts the pool section into a pool.Config.
func (c Config) PoolConfig() (pool.Config, error) {
	strategy, err := pool.ParseStrategy(c.Pool.Strategy)
	if err != nil {
		return pool.Config{}, err
	}
	cfg := pool.Config{
		Name:              c.Pool.Name,
		MaxActive:         c.Pool.MaxActive,
		MaxIdle:           c.Pool.MaxIdle,
		MaxWait:           c.Pool.MaxWait.Std(),
		Strategy:          strategy,
		WaitInterval:      c.Pool.WaitInterval.Std(),
		ReconnectInterval: c.Pool.ReconnectInterval.Std(),
		ReconnectBackoff:  c.Pool.ReconnectBackoff.Std(),
		EnableTracking:    c.Pool.EnableTracking,
		ProbeCommand:      c.Pool.ProbeCommand,
		ProbePeriod:       c.Pool.ProbePeriod.Std(),
		ProbeTimeout:      c.Pool.ProbeTimeout.Std(),
		ProbeConcurrency:  c.Pool.ProbeConcurrency,
	}
	if err := cfg.Validate(); err != nil {
		return pool.Config{}, err
	}
	return cfg, nil
}

// LoggerConfig converts the log section into a logger.Config.
func (c Config) LoggerConfig() logger.Config {
	cfg := logger.DefaultConfig()
	if level, ok := logger.ParseLevel(c.Log.Level); ok {
		cfg.Level = level
	}
	if c.Log.Format != "" {
		cfg.Format = c.Log.Format
	}
	cfg.AddSource = c.Log.AddSource
	return cfg
}
