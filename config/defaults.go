// Package config provides configuration defaults for the gridforce
// application.
//
// This package defines all configurable constants with documented defaults.
// Users can override these values via config.yaml or command-line flags.
package config

import "time"

// =============================================================================
// Pipeline Defaults
// =============================================================================

const (
	// DefaultLayer is the GeoPackage layer holding divide polygons.
	// Override via config: geopackage.layer
	DefaultLayer = "divides"

	// DefaultCacheFile is the cache file name under the output directory.
	// Override via config: cache_path
	DefaultCacheFile = "cache.parquet"

	// DefaultScratchDir is the scratch directory name under the output
	// directory. Per-chunk partials and merged variable files live here
	// until final assembly succeeds.
	DefaultScratchDir = "temp"

	// DefaultOutputFile is the final artifact name under the output
	// directory.
	DefaultOutputFile = "forcings.parquet"

	// DefaultInterpMethod is the NaN gap-fill method applied at
	// cache-build time.
	// Override via config: interp_method
	DefaultInterpMethod = "nearest"
)

// =============================================================================
// Concurrency Defaults
// =============================================================================

const (
	// WorkerReserve is subtracted from the CPU count when sizing the
	// aggregation worker pool, leaving one core for the driver.
	WorkerReserve = 1

	// DefaultFetchTimeout bounds a single source fetch. Remote reads can
	// hang indefinitely without it.
	// Override via config: fetch_timeout
	DefaultFetchTimeout = 2 * time.Hour
)
