// Package config loads and validates the run configuration.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kmfadden/gridforce/config"
)

// TimeLayout is the accepted timestamp format for start/end times.
const TimeLayout = "2006-01-02 15:04"

// Config is the complete run configuration.
type Config struct {
	// StartTime and EndTime bound the requested forcing range, inclusive,
	// in "YYYY-MM-DD HH:MM" form.
	StartTime string `yaml:"start_time"`
	EndTime   string `yaml:"end_time"`

	// Source is the path of the gridded source dataset handle.
	Source string `yaml:"source"`

	// Geopackage locates the hydrofabric subset.
	Geopackage GeopackageConfig `yaml:"geopackage"`

	// OutputDir is the directory receiving the cache, scratch files, and
	// the final artifact.
	OutputDir string `yaml:"output_dir"`

	// CachePath overrides the cache file location.
	CachePath string `yaml:"cache_path"`

	// OutputPath overrides the final artifact location.
	OutputPath string `yaml:"output_path"`

	// Variables optionally restricts processing to a subset of the
	// source's variables.
	Variables []string `yaml:"variables"`

	// Workers overrides the aggregation worker count. Zero means
	// cpu_count-1, capped by the catchment count.
	Workers int `yaml:"workers"`

	// FetchTimeout bounds the cache fetch stage.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// ChunkBudgetBytes caps the per-chunk staging memory. Zero means probe
	// available memory.
	ChunkBudgetBytes int64 `yaml:"chunk_budget_bytes"`

	// InterpolateNaNs fills NaN gaps along time at cache-build time.
	InterpolateNaNs bool `yaml:"interpolate_nans"`

	// InterpMethod is "nearest" or "linear".
	InterpMethod string `yaml:"interp_method"`

	// WeightsPath, when set, persists the computed weight table for
	// diagnostics.
	WeightsPath string `yaml:"weights_path"`

	// Log configures logging.
	Log LogConfig `yaml:"log"`
}

// GeopackageConfig locates the divide polygons.
type GeopackageConfig struct {
	Path  string `yaml:"path"`
	Layer string `yaml:"layer"`
}

// LogConfig configures logging output.
type LogConfig struct {
	// Level is debug, info, warn, or error.
	Level string `yaml:"level"`

	// JSON selects JSON output instead of text.
	JSON bool `yaml:"json"`
}

// Load reads a YAML config file and applies defaults.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	cfg.ApplyDefaults()
	return cfg, nil
}

// Default returns a config with defaults applied and nothing else set.
func Default() *Config {
	cfg := &Config{InterpolateNaNs: true}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills unset fields with documented defaults.
func (c *Config) ApplyDefaults() {
	if c.Geopackage.Layer == "" {
		c.Geopackage.Layer = config.DefaultLayer
	}
	if c.CachePath == "" && c.OutputDir != "" {
		c.CachePath = filepath.Join(c.OutputDir, config.DefaultCacheFile)
	}
	if c.OutputPath == "" && c.OutputDir != "" {
		c.OutputPath = filepath.Join(c.OutputDir, config.DefaultOutputFile)
	}
	if c.FetchTimeout == 0 {
		c.FetchTimeout = config.DefaultFetchTimeout
	}
	if c.InterpMethod == "" {
		c.InterpMethod = config.DefaultInterpMethod
	}
	if c.Log.Level == "" {
		c.Log.Level = "info"
	}
}

// ScratchDir returns the scratch directory location.
func (c *Config) ScratchDir() string {
	return filepath.Join(filepath.Dir(c.OutputPath), config.DefaultScratchDir)
}

// TimeRange parses the configured start and end times.
func (c *Config) TimeRange() (time.Time, time.Time, error) {
	start, err := time.Parse(TimeLayout, c.StartTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse start_time: %w", err)
	}
	end, err := time.Parse(TimeLayout, c.EndTime)
	if err != nil {
		return time.Time{}, time.Time{}, fmt.Errorf("parse end_time: %w", err)
	}
	return start.UTC(), end.UTC(), nil
}
