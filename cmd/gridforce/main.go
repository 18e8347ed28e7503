// gridforce turns gridded meteorological data into per-catchment forcing
// time series.
package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/kmfadden/gridforce/internal/catchment"
	"github.com/kmfadden/gridforce/internal/config"
	"github.com/kmfadden/gridforce/internal/gridstore"
	"github.com/kmfadden/gridforce/internal/logging"
	"github.com/kmfadden/gridforce/internal/pipeline"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	cfgPath := flag.String("config", "config.yaml", "config file path")
	start := flag.String("start", "", "start time, YYYY-MM-DD HH:MM (overrides config)")
	end := flag.String("end", "", "end time, YYYY-MM-DD HH:MM (overrides config)")
	source := flag.String("source", "", "gridded source path (overrides config)")
	gpkg := flag.String("gpkg", "", "hydrofabric geopackage path (overrides config)")
	output := flag.String("output", "", "output directory (overrides config)")
	vars := flag.String("vars", "", "comma-separated variable subset (overrides config)")
	workers := flag.Int("workers", 0, "aggregation worker count (overrides config)")
	debug := flag.Bool("debug", false, "debug logging")
	jsonLog := flag.Bool("json", false, "JSON log output")
	flag.Parse()

	level := slog.LevelInfo
	if *debug {
		level = slog.LevelDebug
	}
	logging.Init(level, *jsonLog)
	log := logging.Component("main")
	log.Info("gridforce starting", "version", Version)

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		if os.IsNotExist(err) {
			log.Info("no config file found, using defaults")
			cfg = config.Default()
		} else {
			log.Error("load config", "error", err)
			os.Exit(1)
		}
	}

	// CLI overrides
	if *start != "" {
		cfg.StartTime = *start
	}
	if *end != "" {
		cfg.EndTime = *end
	}
	if *source != "" {
		cfg.Source = *source
	}
	if *gpkg != "" {
		cfg.Geopackage.Path = *gpkg
	}
	if *output != "" {
		cfg.OutputDir = *output
		cfg.CachePath = ""
		cfg.OutputPath = ""
	}
	if *vars != "" {
		cfg.Variables = strings.Split(*vars, ",")
	}
	if *workers != 0 {
		cfg.Workers = *workers
	}
	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Flags win over the config file's logging section.
	if !*debug && cfg.Log.Level != "" {
		var cfgLevel slog.Level
		if err := cfgLevel.UnmarshalText([]byte(cfg.Log.Level)); err == nil {
			logging.Init(cfgLevel, *jsonLog || cfg.Log.JSON)
		}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	src, err := gridstore.Open(cfg.Source)
	if err != nil {
		log.Error("open gridded source", "path", cfg.Source, "error", err)
		os.Exit(1)
	}
	defer src.Close()

	set, err := catchment.LoadGeoPackage(ctx, cfg.Geopackage.Path, cfg.Geopackage.Layer)
	if err != nil {
		log.Error("load catchments", "path", cfg.Geopackage.Path, "error", err)
		os.Exit(1)
	}
	if set.Len() == 0 {
		log.Error("geopackage layer has no divides", "layer", cfg.Geopackage.Layer)
		os.Exit(1)
	}

	if err := pipeline.Run(ctx, cfg, src, set); err != nil {
		log.Error("run failed", "error", err)
		os.Exit(1)
	}
}
