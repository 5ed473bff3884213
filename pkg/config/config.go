// Package config loads settings for the rcgraph command line.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"slices"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"
	"go.uber.org/zap/zapcore"

	"rcgraph/pkg/logger"
	"rcgraph/pkg/memory"
)

// StressConfig sizes the concurrent clone/release run.
type StressConfig struct {
	Workers    int `mapstructure:"workers" yaml:"workers"`       // goroutines sharing one allocation
	Iterations int `mapstructure:"iterations" yaml:"iterations"` // clone/release pairs per goroutine
}

// Config is the merged result of config file, .env files and RCGRAPH_ variables.
type Config struct {
	Mode         string       `mapstructure:"mode" yaml:"mode"`                   // single or threadsafe
	RingSize     int          `mapstructure:"ring_size" yaml:"ring_size"`         // nodes in the leak and weak demos
	CacheSize    int          `mapstructure:"cache_size" yaml:"cache_size"`       // weak cache capacity
	LogLevel     string       `mapstructure:"log_level" yaml:"log_level"`         // zap level name
	SnapshotPath string       `mapstructure:"snapshot_path" yaml:"snapshot_path"` // inspect output, stdout when empty
	Stress       StressConfig `mapstructure:"stress" yaml:"stress"`
}

var (
	defaults = map[string]any{
		"mode":              "single",
		"ring_size":         3,
		"cache_size":        64,
		"log_level":         "info",
		"snapshot_path":     "",
		"stress.workers":    4,
		"stress.iterations": 10000,
	}

	// envBindings maps config keys to the environment variables that can
	// provide them. The first variable set wins.
	envBindings = map[string][]string{
		"mode":              {"RCGRAPH_MODE"},
		"ring_size":         {"RCGRAPH_RING_SIZE"},
		"cache_size":        {"RCGRAPH_CACHE_SIZE"},
		"log_level":         {"RCGRAPH_LOG_LEVEL", "LOG_LEVEL"},
		"snapshot_path":     {"RCGRAPH_SNAPSHOT_PATH"},
		"stress.workers":    {"RCGRAPH_STRESS_WORKERS"},
		"stress.iterations": {"RCGRAPH_STRESS_ITERATIONS"},
	}
)

// Load reads the config file at filePath if it exists, then applies
// environment overrides. Variables from the given dotenv files are loaded
// into the process environment first; missing dotenv files are ignored.
// An empty filePath uses defaults and the environment only. The result is
// not validated so callers can apply flag overrides first.
func Load(filePath string, dotenvFiles ...string) (*Config, error) {
	for _, f := range dotenvFiles {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("load dotenv %s: %w", f, err)
		}
	}

	v := viper.New()
	for key, val := range defaults {
		v.SetDefault(key, val)
	}
	if err := bindEnvs(v); err != nil {
		return nil, err
	}

	if filePath != "" {
		v.SetConfigFile(filePath)
		if _, err := os.Stat(filePath); !errors.Is(err, fs.ErrNotExist) {
			if err := v.ReadInConfig(); err != nil {
				return nil, fmt.Errorf("read config %s: %w", filePath, err)
			}
		}
	}

	cfg := &Config{}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	return cfg, nil
}

func bindEnvs(v *viper.Viper) error {
	for key, envs := range envBindings {
		inputs := slices.Insert(slices.Clone(envs), 0, key)
		if err := v.BindEnv(inputs...); err != nil {
			return err
		}
	}
	return nil
}

// Validate checks every field that has a closed set of values or a
// lower bound.
func (c *Config) Validate() error {
	var errs []error
	if _, err := c.MemoryMode(); err != nil {
		errs = append(errs, err)
	}
	if _, err := c.Level(); err != nil {
		errs = append(errs, fmt.Errorf("log_level: %w", err))
	}
	if c.RingSize < 1 {
		errs = append(errs, fmt.Errorf("ring_size must be at least 1, got %d", c.RingSize))
	}
	if c.CacheSize < 1 {
		errs = append(errs, fmt.Errorf("cache_size must be at least 1, got %d", c.CacheSize))
	}
	if c.Stress.Workers < 1 {
		errs = append(errs, fmt.Errorf("stress.workers must be at least 1, got %d", c.Stress.Workers))
	}
	if c.Stress.Iterations < 0 {
		errs = append(errs, fmt.Errorf("stress.iterations must not be negative, got %d", c.Stress.Iterations))
	}
	return errors.Join(errs...)
}

// MemoryMode parses Mode.
func (c *Config) MemoryMode() (memory.Mode, error) {
	return memory.ParseMode(c.Mode)
}

// Level parses LogLevel.
func (c *Config) Level() (zapcore.Level, error) {
	return logger.ParseLevel(c.LogLevel)
}

// Logger builds a production logger at the configured level.
func (c *Config) Logger() (logger.Logger, error) {
	lvl, err := c.Level()
	if err != nil {
		return nil, err
	}
	lc := logger.Config{Level: lvl}
	return lc.New()
}
