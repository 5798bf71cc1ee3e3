// Package config provides configuration loading and management for posekde.
// It handles loading configuration from YAML files and provides default values.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"posekde/pkg/collection"
	"posekde/pkg/kernel"
	"posekde/pkg/parallel"
	"posekde/pkg/pose"
)

// Config represents the application configuration loaded from YAML
type Config struct {
	// Kernel parameters applied to every object and scene kernel
	Kernel struct {
		// LocH is the location bandwidth; 0 means a tenth of the object size
		LocH float64 `yaml:"locH"`

		// OriH is the orientation bandwidth in radians
		OriH float64 `yaml:"oriH"`

		// Shape is one of gaussian, triangle, epanechnikov
		Shape string `yaml:"shape"`
	} `yaml:"kernel"`

	// Estimator parameters
	Estimator struct {
		// Chains is the number of independent annealing chains
		Chains int `yaml:"chains"`

		// Points is the number of object points scored per round; 0 means
		// the object size capped at 1000
		Points int `yaml:"points"`

		// Strategy is one of max, sum, weighted_sum
		Strategy string `yaml:"strategy"`

		// EarlyAbort rejects clearly worse candidates before full scoring
		EarlyAbort bool `yaml:"earlyAbort"`

		// Light caps the scene at LightLimit points
		Light      bool `yaml:"light"`
		LightLimit int  `yaml:"lightLimit"`

		// AccurateScore rescores the result on every object point
		AccurateScore bool `yaml:"accurateScore"`

		// Seed makes runs reproducible; 0 picks a random seed
		Seed uint64 `yaml:"seed"`
	} `yaml:"estimator"`

	// Runner parameters
	Runner struct {
		// Mode is goroutines or serial
		Mode string `yaml:"mode"`

		// Workers bounds concurrent chains
		Workers int `yaml:"workers"`
	} `yaml:"runner"`

	// Logging parameters
	Logging struct {
		// Level is debug, info, warn or error
		Level string `yaml:"level"`

		// Format is text or json
		Format string `yaml:"format"`
	} `yaml:"logging"`
}

// DefaultConfig returns a configuration with default values
func DefaultConfig() *Config {
	cfg := &Config{}

	cfg.Kernel.LocH = 0
	cfg.Kernel.OriH = pose.DefaultOriH
	cfg.Kernel.Shape = kernel.Gaussian.String()

	cfg.Estimator.Chains = pose.DefaultChains
	cfg.Estimator.Points = 0
	cfg.Estimator.Strategy = collection.Max.String()
	cfg.Estimator.EarlyAbort = true
	cfg.Estimator.Light = false
	cfg.Estimator.LightLimit = pose.DefaultLightLimit
	cfg.Estimator.AccurateScore = false

	cfg.Runner.Mode = parallel.Goroutines.String()
	cfg.Runner.Workers = runtime.NumCPU() // Use all available cores by default

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"

	return cfg
}

// LoadConfig loads configuration from a YAML file
// If the file doesn't exist, it returns the default configuration
func LoadConfig(configPath string) (*Config, error) {
	cfg := DefaultConfig()

	if _, err := os.Stat(configPath); os.IsNotExist(err) {
		return cfg, nil
	}

	data, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("error reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("error parsing config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config file %s: %w", configPath, err)
	}

	return cfg, nil
}

// Validate reports every invalid field at once
func (c *Config) Validate() error {
	var errs []error
	if c.Kernel.LocH < 0 {
		errs = append(errs, fmt.Errorf("kernel.locH must be >= 0, got %g", c.Kernel.LocH))
	}
	if c.Kernel.OriH < 0 {
		errs = append(errs, fmt.Errorf("kernel.oriH must be >= 0, got %g", c.Kernel.OriH))
	}
	if _, err := kernel.ParseShape(c.Kernel.Shape); err != nil {
		errs = append(errs, fmt.Errorf("kernel.shape: %w", err))
	}
	if c.Estimator.Chains < 0 {
		errs = append(errs, fmt.Errorf("estimator.chains must be >= 0, got %d", c.Estimator.Chains))
	}
	if c.Estimator.Points < 0 {
		errs = append(errs, fmt.Errorf("estimator.points must be >= 0, got %d", c.Estimator.Points))
	}
	if c.Estimator.LightLimit < 0 {
		errs = append(errs, fmt.Errorf("estimator.lightLimit must be >= 0, got %d", c.Estimator.LightLimit))
	}
	if _, err := collection.ParseStrategy(c.Estimator.Strategy); err != nil {
		errs = append(errs, fmt.Errorf("estimator.strategy: %w", err))
	}
	if _, err := parallel.ParseMode(c.Runner.Mode); err != nil {
		errs = append(errs, fmt.Errorf("runner.mode: %w", err))
	}
	switch strings.ToLower(c.Logging.Level) {
	case "", "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", c.Logging.Level))
	}
	switch strings.ToLower(c.Logging.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format: unknown format %q", c.Logging.Format))
	}
	return errors.Join(errs...)
}

// EstimatorConfig converts the configuration into pose estimation parameters
func (c *Config) EstimatorConfig() (pose.Config, error) {
	if err := c.Validate(); err != nil {
		return pose.Config{}, err
	}
	shape, _ := kernel.ParseShape(c.Kernel.Shape)
	strategy, _ := collection.ParseStrategy(c.Estimator.Strategy)
	mode, _ := parallel.ParseMode(c.Runner.Mode)

	pc := pose.DefaultConfig()
	pc.LocH = c.Kernel.LocH
	pc.OriH = c.Kernel.OriH
	pc.Shape = shape
	pc.Chains = c.Estimator.Chains
	pc.Points = c.Estimator.Points
	pc.Strategy = strategy
	pc.DisableEarlyAbort = !c.Estimator.EarlyAbort
	pc.Light = c.Estimator.Light
	pc.LightLimit = c.Estimator.LightLimit
	pc.AccurateScore = c.Estimator.AccurateScore
	pc.Seed = c.Estimator.Seed
	pc.Runner = parallel.Options{Mode: mode, Workers: c.Runner.Workers}
	return pc, nil
}

// SaveConfig saves the configuration to a YAML file
func SaveConfig(cfg *Config, configPath string) error {
	dir := filepath.Dir(configPath)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("error creating config directory: %w", err)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("error marshaling config: %w", err)
	}

	if err := os.WriteFile(configPath, data, 0644); err != nil {
		return fmt.Errorf("error writing config file: %w", err)
	}

	return nil
}

// CreateDefaultConfigFile creates a default configuration file at the specified path
func CreateDefaultConfigFile(configPath string) error {
	cfg := DefaultConfig()
	return SaveConfig(cfg, configPath)
}
