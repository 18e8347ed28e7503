// Package cache manages the local copy of the clipped gridded source. A
// valid cache is opened in place; a stale, corrupt, or incomplete cache is
// deleted and rebuilt from the remote source. Cache writes go through a
// temporary path and an atomic rename, so a half-written cache is never
// observable under the real name.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/kmfadden/gridforce/internal/chunk"
	"github.com/kmfadden/gridforce/internal/grid"
	"github.com/kmfadden/gridforce/internal/gridstore"
	"github.com/kmfadden/gridforce/internal/logging"
)

// ErrUnknownVariable reports a requested variable the source does not
// carry. This is a configuration problem: fetching cannot satisfy it, and a
// cache built without it would be invalidated on every subsequent run.
var ErrUnknownVariable = errors.New("requested variable not in source")

// Request describes what the cache must cover.
type Request struct {
	// Start and End bound the required time range, inclusive.
	Start time.Time
	End   time.Time

	// Bounds is the catchment bounding box in the grid's CRS.
	Bounds grid.Bounds

	// Variables optionally restricts the variables required. Empty means
	// every variable the source carries.
	Variables []string

	// InterpolateNaN fills NaN gaps along time at cache-build time.
	InterpolateNaN bool

	// InterpMethod selects the gap-fill method (default nearest).
	InterpMethod grid.InterpMethod
}

// Manager loads, validates, or rebuilds the local cache file.
type Manager struct {
	// Path is the cache file location.
	Path string

	// Planner bounds the memory used while copying from the source.
	Planner *chunk.Planner

	log *slog.Logger
}

// NewManager returns a cache manager for the given path.
func NewManager(path string, planner *chunk.Planner) *Manager {
	return &Manager{
		Path:    path,
		Planner: planner,
		log:     logging.Component("cache"),
	}
}

// Ensure returns a local dataset covering the request, reusing the cache
// when it is valid and rebuilding it from the source otherwise. The caller
// owns the returned store and must Close it.
func (m *Manager) Ensure(ctx context.Context, src grid.Source, req Request) (*gridstore.Store, error) {
	remoteMeta, err := src.Meta(ctx)
	if err != nil {
		return nil, err
	}
	if err := remoteMeta.Validate(); err != nil {
		return nil, fmt.Errorf("source dataset invalid: %w", err)
	}

	required := req.Variables
	if len(required) == 0 {
		required = remoteMeta.VarNames()
	}
	for _, v := range required {
		if !remoteMeta.HasVar(v) {
			return nil, fmt.Errorf("%w: %q (source %s carries: %s)",
				ErrUnknownVariable, v, remoteMeta.Name, strings.Join(remoteMeta.VarNames(), ", "))
		}
	}

	if store := m.checkLocal(remoteMeta, req, required); store != nil {
		m.log.Info("cache hit", "path", m.Path)
		return store, nil
	}

	return m.fetch(ctx, src, remoteMeta, req, required)
}

// checkLocal opens and validates the existing cache. Any validation failure
// deletes the file so the caller refetches; a stale cache is never patched.
func (m *Manager) checkLocal(remoteMeta *grid.Meta, req Request, required []string) *gridstore.Store {
	if _, err := os.Stat(m.Path); err != nil {
		m.log.Info("no cache found", "path", m.Path)
		return nil
	}
	m.log.Info("found cache file", "path", m.Path)

	store, err := gridstore.Open(m.Path)
	if err != nil {
		m.log.Warn("cache unreadable, rebuilding", "error", err)
		m.invalidate()
		return nil
	}

	meta, err := store.Meta(context.Background())
	if err != nil {
		m.log.Warn("cache metadata unreadable, rebuilding", "error", err)
		store.Close()
		m.invalidate()
		return nil
	}

	if meta.Name != remoteMeta.Name {
		m.log.Warn("cache is from a different source, rebuilding",
			"cached", meta.Name, "source", remoteMeta.Name)
		store.Close()
		m.invalidate()
		return nil
	}

	if !meta.CoversRange(req.Start, req.End) {
		m.log.Warn("requested time range not in cache, rebuilding",
			"cache_start", meta.TimeStart(), "cache_end", meta.TimeEnd(),
			"req_start", req.Start, "req_end", req.End)
		store.Close()
		m.invalidate()
		return nil
	}

	for _, v := range required {
		if !meta.HasVar(v) {
			m.log.Warn("cache missing variable, rebuilding", "variable", v)
			store.Close()
			m.invalidate()
			return nil
		}
	}

	return store
}

func (m *Manager) invalidate() {
	if err := os.Remove(m.Path); err != nil && !os.IsNotExist(err) {
		m.log.Warn("failed to remove stale cache", "error", err)
	}
}

// fetch clips the source to the request's bounds and time range and writes
// a fresh cache file.
func (m *Manager) fetch(ctx context.Context, src grid.Source, remoteMeta *grid.Meta, req Request, required []string) (*gridstore.Store, error) {
	start, end := remoteMeta.ClampTimeRange(req.Start, req.End)
	if !start.Equal(req.Start) {
		m.log.Warn("requested start predates the dataset, clamping",
			"requested", req.Start, "dataset_start", start)
	}
	if !end.Equal(req.End) {
		m.log.Warn("requested end postdates the dataset, clamping",
			"requested", req.End, "dataset_end", end)
	}

	t0, t1 := remoteMeta.TimeIndexRange(start, end)
	if t0 >= t1 {
		return nil, fmt.Errorf("no timesteps in range [%s, %s]", start, end)
	}

	xw, yw := remoteMeta.ClipWindows(req.Bounds)
	if xw.Len() == 0 || yw.Len() == 0 {
		return nil, fmt.Errorf("catchment bounds do not intersect the grid")
	}

	clipped := remoteMeta.Clip(xw, yw, t0, t1)
	clipped.Vars = clipped.Vars[:0]
	for _, v := range remoteMeta.Vars {
		for _, name := range required {
			if v.Name == name {
				clipped.Vars = append(clipped.Vars, v)
				break
			}
		}
	}

	m.log.Info("downloading and caching forcing data, this may take a while",
		"variables", len(clipped.Vars),
		"timesteps", t1-t0,
		"cells", clipped.NumCells())

	tmpPath := m.Path + ".saving"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("clear stale temp cache: %w", err)
	}

	writer, err := gridstore.Create(tmpPath, clipped)
	if err != nil {
		return nil, err
	}

	for _, v := range clipped.Vars {
		if err := m.copyVariable(ctx, writer, src, v.Name, clipped, xw, yw, t0, t1, req); err != nil {
			os.Remove(tmpPath)
			return nil, err
		}
	}

	if err := writer.Close(); err != nil {
		os.Remove(tmpPath)
		return nil, err
	}

	if err := os.Rename(tmpPath, m.Path); err != nil {
		os.Remove(tmpPath)
		return nil, fmt.Errorf("publish cache: %w", err)
	}
	m.log.Info("forcing data cached", "path", m.Path)

	return gridstore.Open(m.Path)
}

// copyVariable copies one variable from the source into the cache writer.
// When the full clipped series fits the memory budget it is loaded whole so
// NaN gaps can be interpolated along the complete time axis; otherwise the
// copy streams in planner-bounded sub-chunks and interpolation is skipped.
func (m *Manager) copyVariable(ctx context.Context, writer *gridstore.Writer, src grid.Source, variable string, clipped *grid.Meta, xw, yw grid.IndexWindow, t0, t1 int, req Request) error {
	nt := t1 - t0
	totalBytes := int64(nt) * int64(clipped.NumCells()) * 4

	if req.InterpolateNaN && totalBytes <= m.Planner.Budget {
		frame, err := m.readWindowed(ctx, src, variable, t0, t1, xw, yw)
		if err != nil {
			return err
		}
		if frame.HasNaN() {
			filled := grid.InterpolateNaN(frame, req.InterpMethod)
			m.log.Debug("interpolated missing values",
				"variable", variable, "method", req.InterpMethod.String(), "filled", filled)
		}
		return writer.AppendFrame(variable, frame)
	}

	if req.InterpolateNaN && totalBytes > m.Planner.Budget {
		m.log.Warn("variable exceeds memory budget, skipping NaN interpolation",
			"variable", variable, "bytes", totalBytes)
	}

	subChunks, err := m.Planner.Plan(nt, totalBytes)
	if err != nil {
		return err
	}
	sawNaN := false
	for _, sub := range subChunks {
		if err := ctx.Err(); err != nil {
			return err
		}
		frame, err := m.readWindowed(ctx, src, variable, t0+sub.Start, t0+sub.End, xw, yw)
		if err != nil {
			return err
		}
		if !sawNaN && frame.HasNaN() {
			sawNaN = true
		}
		if err := writer.AppendFrame(variable, frame); err != nil {
			return err
		}
	}
	if sawNaN && req.InterpolateNaN {
		m.log.Warn("cached variable retains NaN values", "variable", variable)
	}
	return nil
}

// readWindowed reads a time slice and narrows it to the clip windows. The
// downcast to float32 happens at the source boundary; values out of float32
// range become infinities rather than failing the copy.
func (m *Manager) readWindowed(ctx context.Context, src grid.Source, variable string, t0, t1 int, xw, yw grid.IndexWindow) (*grid.Frame, error) {
	frame, err := src.ReadSlice(ctx, variable, t0, t1)
	if err != nil {
		return nil, err
	}
	if frame.NX == xw.Len() && frame.NY == yw.Len() {
		return frame, nil
	}
	return frame.Window(xw, yw), nil
}
