package grid

import (
	"context"
	"fmt"
	"time"
)

// VarMeta describes a single gridded variable.
type VarMeta struct {
	Name  string
	Units string
}

// Bounds is an axis-aligned bounding box in grid coordinates.
type Bounds struct {
	MinX float64
	MinY float64
	MaxX float64
	MaxY float64
}

// Meta describes the geometry and contents of a gridded dataset: the
// cell-center coordinate axes, the time axis, and the variables it carries.
// All variables share the same (time, y, x) grid.
type Meta struct {
	// Name identifies the source dataset (e.g. "v3_retrospective_zarr").
	Name string

	// CRS is the well-known-text or proj string of the grid's
	// coordinate reference system.
	CRS string

	// X and Y are cell-center coordinates, ascending.
	X []float64
	Y []float64

	// TimesMs is the time axis as Unix milliseconds, strictly increasing.
	TimesMs []int64

	// Vars lists the variables present, with units.
	Vars []VarMeta
}

// Source is a lazy, chunk-addressable gridded dataset. Implementations own
// their retrieval semantics (local file, remote object store); a retrieval
// failure surfaces as a *FetchError.
type Source interface {
	// Meta returns the dataset description.
	Meta(ctx context.Context) (*Meta, error)

	// ReadSlice reads timesteps [t0, t1) of one variable as a
	// (time, y, x) frame.
	ReadSlice(ctx context.Context, variable string, t0, t1 int) (*Frame, error)
}

// Validate checks that the dataset is in the format the pipeline requires.
func (m *Meta) Validate() error {
	if m.Name == "" {
		return fmt.Errorf("dataset must have a name attribute to identify it")
	}
	if m.CRS == "" {
		return fmt.Errorf("dataset must have a crs attribute")
	}
	if len(m.X) == 0 {
		return fmt.Errorf("dataset must have an x coordinate")
	}
	if len(m.Y) == 0 {
		return fmt.Errorf("dataset must have a y coordinate")
	}
	if len(m.TimesMs) == 0 {
		return fmt.Errorf("dataset must have a time coordinate")
	}
	for i := 1; i < len(m.X); i++ {
		if m.X[i] <= m.X[i-1] {
			return fmt.Errorf("x coordinate must be strictly increasing at index %d", i)
		}
	}
	for i := 1; i < len(m.Y); i++ {
		if m.Y[i] <= m.Y[i-1] {
			return fmt.Errorf("y coordinate must be strictly increasing at index %d", i)
		}
	}
	for i := 1; i < len(m.TimesMs); i++ {
		if m.TimesMs[i] <= m.TimesMs[i-1] {
			return fmt.Errorf("time coordinate must be strictly increasing at index %d", i)
		}
	}
	if len(m.Vars) == 0 {
		return fmt.Errorf("dataset has no variables")
	}
	return nil
}

// HasVar reports whether the dataset carries the named variable.
func (m *Meta) HasVar(name string) bool {
	for _, v := range m.Vars {
		if v.Name == name {
			return true
		}
	}
	return false
}

// VarUnits returns the units string for the named variable, or "" if the
// variable is absent or carries no units.
func (m *Meta) VarUnits(name string) string {
	for _, v := range m.Vars {
		if v.Name == name {
			return v.Units
		}
	}
	return ""
}

// VarNames returns the variable names in declaration order.
func (m *Meta) VarNames() []string {
	names := make([]string, len(m.Vars))
	for i, v := range m.Vars {
		names[i] = v.Name
	}
	return names
}

// NumCells returns the number of cells in one timestep.
func (m *Meta) NumCells() int {
	return len(m.X) * len(m.Y)
}

// TimeStart returns the first timestamp.
func (m *Meta) TimeStart() time.Time {
	return time.UnixMilli(m.TimesMs[0])
}

// TimeEnd returns the last timestamp.
func (m *Meta) TimeEnd() time.Time {
	return time.UnixMilli(m.TimesMs[len(m.TimesMs)-1])
}

// CoversRange reports whether the time axis covers [start, end].
func (m *Meta) CoversRange(start, end time.Time) bool {
	if len(m.TimesMs) == 0 {
		return false
	}
	return m.TimesMs[0] <= start.UnixMilli() && m.TimesMs[len(m.TimesMs)-1] >= end.UnixMilli()
}

// ClampTimeRange clamps [start, end] to the dataset's time extent. A request
// outside the extent is narrowed rather than rejected; the returned values
// differ from the inputs when clamping occurred.
func (m *Meta) ClampTimeRange(start, end time.Time) (time.Time, time.Time) {
	first := time.UnixMilli(m.TimesMs[0])
	last := time.UnixMilli(m.TimesMs[len(m.TimesMs)-1])
	if start.Before(first) {
		start = first
	}
	if end.After(last) {
		end = last
	}
	return start, end
}

// TimeIndexRange returns the half-open index range [i0, i1) of timesteps
// falling inside [start, end] inclusive.
func (m *Meta) TimeIndexRange(start, end time.Time) (int, int) {
	startMs := start.UnixMilli()
	endMs := end.UnixMilli()
	i0 := 0
	for i0 < len(m.TimesMs) && m.TimesMs[i0] < startMs {
		i0++
	}
	i1 := i0
	for i1 < len(m.TimesMs) && m.TimesMs[i1] <= endMs {
		i1++
	}
	return i0, i1
}

// IndexWindow is a half-open index range along one coordinate axis.
type IndexWindow struct {
	Start int
	End   int
}

// Len returns the window length.
func (w IndexWindow) Len() int { return w.End - w.Start }

// ClipWindows returns the x and y index windows of cells whose centers fall
// inside the bounding box. The windows may be empty when the box does not
// intersect the grid.
func (m *Meta) ClipWindows(b Bounds) (x, y IndexWindow) {
	x = clipAxis(m.X, b.MinX, b.MaxX)
	y = clipAxis(m.Y, b.MinY, b.MaxY)
	return x, y
}

// Clip returns a copy of the meta narrowed to the given coordinate windows
// and time index range.
func (m *Meta) Clip(x, y IndexWindow, t0, t1 int) *Meta {
	clipped := &Meta{
		Name:    m.Name,
		CRS:     m.CRS,
		X:       append([]float64(nil), m.X[x.Start:x.End]...),
		Y:       append([]float64(nil), m.Y[y.Start:y.End]...),
		TimesMs: append([]int64(nil), m.TimesMs[t0:t1]...),
		Vars:    append([]VarMeta(nil), m.Vars...),
	}
	return clipped
}

func clipAxis(coords []float64, lo, hi float64) IndexWindow {
	start := 0
	for start < len(coords) && coords[start] < lo {
		start++
	}
	end := start
	for end < len(coords) && coords[end] <= hi {
		end++
	}
	return IndexWindow{Start: start, End: end}
}

// CellSize returns the grid spacing along x and y. The grid is assumed
// regular; spacing is taken from the first coordinate pair.
func (m *Meta) CellSize() (dx, dy float64) {
	dx, dy = 1, 1
	if len(m.X) > 1 {
		dx = m.X[1] - m.X[0]
	}
	if len(m.Y) > 1 {
		dy = m.Y[1] - m.Y[0]
	}
	return dx, dy
}

// FetchError reports a failed retrieval from a gridded source. Fetch
// failures are fatal to a run; they are not retried here.
type FetchError struct {
	Source string
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }
