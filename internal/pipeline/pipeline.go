// Package pipeline drives a forcing run end to end: cache check, weight
// computation, per-variable chunked aggregation, and final assembly.
//
// One run walks the stages
//
//	INIT → CACHE_CHECK → WEIGHTS → PER_VARIABLE(STAGE→AGGREGATE→PERSIST)* → ASSEMBLE → DONE
//
// Any stage failure aborts the run; scratch artifacts are left in place for
// diagnosis. Success is reported only after scratch cleanup completes.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"runtime"
	"time"

	rootcfg "github.com/kmfadden/gridforce/config"
	"github.com/kmfadden/gridforce/internal/cache"
	"github.com/kmfadden/gridforce/internal/catchment"
	"github.com/kmfadden/gridforce/internal/chunk"
	"github.com/kmfadden/gridforce/internal/config"
	"github.com/kmfadden/gridforce/internal/grid"
	"github.com/kmfadden/gridforce/internal/gridstore"
	"github.com/kmfadden/gridforce/internal/logging"
	"github.com/kmfadden/gridforce/internal/shmem"
	"github.com/kmfadden/gridforce/internal/stitch"
	"github.com/kmfadden/gridforce/internal/units"
	"github.com/kmfadden/gridforce/internal/weights"
	"github.com/kmfadden/gridforce/internal/zonal"
)

// Stage names the phases of a run, for progress reporting.
type Stage int

const (
	StageInit Stage = iota
	StageCacheCheck
	StageWeights
	StageVariables
	StageAssemble
	StageDone
)

func (s Stage) String() string {
	switch s {
	case StageInit:
		return "init"
	case StageCacheCheck:
		return "cache_check"
	case StageWeights:
		return "weights"
	case StageVariables:
		return "variables"
	case StageAssemble:
		return "assemble"
	case StageDone:
		return "done"
	default:
		return "unknown"
	}
}

// Context carries the run's execution resources. It is created at pipeline
// start, passed explicitly, and torn down at pipeline end; nothing here is
// looked up from global state.
type Context struct {
	// Workers sizes the aggregation pool.
	Workers int

	// Planner bounds chunk and staging memory.
	Planner *chunk.Planner

	// ScratchDir holds transient partials and merged variable files.
	ScratchDir string

	// Log is the run's logger.
	Log *slog.Logger
}

// NewContext builds the execution context for a run. The worker count
// defaults to cpu_count-1 and is capped by the catchment count.
func NewContext(cfg *config.Config, numCatchments int) *Context {
	workers := cfg.Workers
	if workers == 0 {
		workers = runtime.NumCPU() - rootcfg.WorkerReserve
	}
	if workers < 1 {
		workers = 1
	}
	if numCatchments > 0 && workers > numCatchments {
		workers = numCatchments
	}

	planner := chunk.NewPlanner()
	if cfg.ChunkBudgetBytes > 0 {
		planner = &chunk.Planner{Budget: cfg.ChunkBudgetBytes}
	}

	return &Context{
		Workers:    workers,
		Planner:    planner,
		ScratchDir: cfg.ScratchDir(),
		Log:        logging.Component("pipeline"),
	}
}

// Run executes one forcing run. On failure the scratch directory is left in
// place for diagnosis; on success it is removed before the run reports
// done.
func Run(ctx context.Context, cfg *config.Config, src grid.Source, set *catchment.Set) error {
	ec := NewContext(cfg, set.Len())
	log := ec.Log
	timer := time.Now()

	log.Info("run starting", "stage", StageInit.String(),
		"workers", ec.Workers, "budget_mb", ec.Planner.Budget/(1024*1024))

	if err := units.Validate(); err != nil {
		return err
	}
	start, end, err := cfg.TimeRange()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(ec.ScratchDir, 0755); err != nil {
		return fmt.Errorf("create scratch dir: %w", err)
	}

	store, err := ensureCache(ctx, cfg, ec, src, set, start, end)
	if err != nil {
		return err
	}
	defer store.Close()

	meta, err := store.Meta(ctx)
	if err != nil {
		return err
	}

	log.Info("computing cell weights", "stage", StageWeights.String())
	table, err := weights.Compute(ctx, meta, set, ec.Workers)
	if err != nil {
		return err
	}
	zonal.LogZeroWeight(table)
	if cfg.WeightsPath != "" {
		if err := weights.WriteTable(table, cfg.WeightsPath); err != nil {
			return err
		}
		log.Info("persisted weight table", "path", cfg.WeightsPath)
	}

	variables := meta.VarNames()
	unitsByVar := make(map[string]string, len(variables))
	for _, v := range variables {
		unitsByVar[v] = meta.VarUnits(v)
	}

	log.Info("computing zonal stats for all timesteps",
		"stage", StageVariables.String(), "variables", len(variables))

	for i, v := range variables {
		vctx := logging.ContextWithVariable(ctx, v)
		log.Info("processing variable", "variable", v, "progress", fmt.Sprintf("%d/%d", i+1, len(variables)))
		if err := processVariable(vctx, ec, store, meta, table, v); err != nil {
			log.Error("run failed, scratch left for diagnosis",
				"variable", v, "scratch", ec.ScratchDir, "error", err)
			return fmt.Errorf("variable %s: %w", v, err)
		}
	}

	log.Info("assembling final artifact", "stage", StageAssemble.String())
	err = stitch.Assemble(stitch.AssembleInput{
		ScratchDir: ec.ScratchDir,
		OutPath:    cfg.OutputPath,
		Variables:  variables,
		Units:      unitsByVar,
	})
	if err != nil {
		log.Error("assembly failed, scratch left for diagnosis",
			"scratch", ec.ScratchDir, "error", err)
		return err
	}

	if err := os.RemoveAll(ec.ScratchDir); err != nil {
		return fmt.Errorf("clean scratch dir: %w", err)
	}

	log.Info("forcing generation complete", "stage", StageDone.String(),
		"output", cfg.OutputPath, "elapsed", time.Since(timer).Round(time.Millisecond))
	return nil
}

// ensureCache runs the cache stage under the configured fetch timeout.
func ensureCache(ctx context.Context, cfg *config.Config, ec *Context, src grid.Source, set *catchment.Set, start, end time.Time) (*gridstore.Store, error) {
	ec.Log.Info("checking forcing cache", "stage", StageCacheCheck.String(), "path", cfg.CachePath)

	fetchCtx, cancel := context.WithTimeout(ctx, cfg.FetchTimeout)
	defer cancel()

	bounds := set.Bounds()
	method, _ := grid.ParseInterpMethod(cfg.InterpMethod)

	mgr := cache.NewManager(cfg.CachePath, ec.Planner)
	return mgr.Ensure(fetchCtx, src, cache.Request{
		Start: start,
		End:   end,
		Bounds: grid.Bounds{
			MinX: bounds.Min[0], MinY: bounds.Min[1],
			MaxX: bounds.Max[0], MaxY: bounds.Max[1],
		},
		Variables:      cfg.Variables,
		InterpolateNaN: cfg.InterpolateNaNs,
		InterpMethod:   method,
	})
}

// processVariable aggregates one variable chunk by chunk. Chunks are
// processed and persisted strictly in increasing chunk-index order.
func processVariable(ctx context.Context, ec *Context, store grid.Source, meta *grid.Meta, table *weights.Table, variable string) error {
	log := logging.WithContext(ctx).With("component", "pipeline")

	nt := len(meta.TimesMs)
	totalBytes := int64(nt) * int64(meta.NumCells()) * 4
	chunks, err := ec.Planner.Plan(nt, totalBytes)
	if err != nil {
		return err
	}

	summary := zonal.NewSummary()

	for ci, rng := range chunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		log.Debug("processing chunk", "chunk", ci+1, "chunks", len(chunks), "range", fmt.Sprintf("[%d,%d)", rng.Start, rng.End))

		if err := processChunk(ctx, ec, store, table, variable, ci, rng, summary); err != nil {
			return fmt.Errorf("chunk %d: %w", ci, err)
		}
	}

	if err := stitch.MergeVariable(ec.ScratchDir, variable, len(chunks)); err != nil {
		return err
	}

	log.Info("variable complete", append([]any{"variable", variable, "chunks", len(chunks)}, summary.LogAttrs()...)...)
	return nil
}

// processChunk stages one chunk into shared memory, aggregates it, and
// persists the partial. The staged region is released on every exit path
// once all workers have finished.
func processChunk(ctx context.Context, ec *Context, store grid.Source, table *weights.Table, variable string, chunkIdx int, rng chunk.Range, summary *zonal.Summary) error {
	buf, timesMs, err := shmem.Stage(ctx, ec.Planner, store, variable, rng, ec.ScratchDir)
	if err != nil {
		return err
	}
	defer buf.Release()

	partial, err := zonal.Aggregate(ctx, buf.Handle(), timesMs, table, ec.Workers)
	if err != nil {
		return err
	}

	// All readers are done; drop the region before persisting so the
	// partial write does not ride on top of the staged slice.
	if err := buf.Release(); err != nil {
		return err
	}

	summary.AddPartial(partial)
	return stitch.WritePartial(ec.ScratchDir, variable, chunkIdx, partial)
}
