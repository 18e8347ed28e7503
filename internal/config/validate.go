package config

import (
	"errors"
	"fmt"
	"strings"

	"github.com/kmfadden/gridforce/internal/grid"
	"github.com/kmfadden/gridforce/internal/validation"
)

// Validate checks the configuration, collecting every problem before
// returning.
func (c *Config) Validate() error {
	var errs []error

	start, end, err := c.TimeRange()
	if err != nil {
		errs = append(errs, err)
	} else if !end.After(start) {
		errs = append(errs, fmt.Errorf("end_time %s must be after start_time %s", c.EndTime, c.StartTime))
	}

	if c.Source == "" {
		errs = append(errs, errors.New("source is required"))
	}
	if c.Geopackage.Path == "" {
		errs = append(errs, errors.New("geopackage.path is required"))
	}
	if c.OutputPath == "" {
		errs = append(errs, errors.New("output_path (or output_dir) is required"))
	}
	if c.CachePath == "" {
		errs = append(errs, errors.New("cache_path (or output_dir) is required"))
	}

	if c.Workers < 0 {
		errs = append(errs, fmt.Errorf("workers must be non-negative, got %d", c.Workers))
	}
	if c.FetchTimeout < 0 {
		errs = append(errs, errors.New("fetch_timeout must be non-negative"))
	}
	if c.ChunkBudgetBytes < 0 {
		errs = append(errs, fmt.Errorf("chunk_budget_bytes must be non-negative, got %d", c.ChunkBudgetBytes))
	}

	if _, err := grid.ParseInterpMethod(c.InterpMethod); err != nil {
		errs = append(errs, err)
	}

	for _, v := range c.Variables {
		if err := validation.ValidateVariableName(v); err != nil {
			errs = append(errs, fmt.Errorf("variables: %w", err))
		}
	}

	switch c.Log.Level {
	case "debug", "info", "warn", "error":
	default:
		errs = append(errs, fmt.Errorf("log.level must be one of: debug, info, warn, error"))
	}

	if len(errs) == 0 {
		return nil
	}

	msgs := make([]string, len(errs))
	for i, e := range errs {
		msgs[i] = e.Error()
	}
	return fmt.Errorf("invalid configuration:\n  - %s", strings.Join(msgs, "\n  - "))
}
