// Package weights computes the fractional overlap between raster cells and
// catchment polygons. Coverage is the true area fraction of each cell inside
// the polygon, not nearest-cell or centroid containment.
package weights

import (
	"context"
	"math"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/clip"
	"github.com/paulmach/orb/planar"
	"golang.org/x/sync/errgroup"

	"github.com/kmfadden/gridforce/internal/catchment"
	"github.com/kmfadden/gridforce/internal/grid"
	"github.com/kmfadden/gridforce/internal/logging"
)

// CellWeight is the coverage of one raster cell for one catchment. CellID
// indexes the flattened (y, x) grid: cell = iy*nx + ix.
type CellWeight struct {
	CellID   int
	Coverage float64
}

// Entry holds all cell weights of one catchment.
type Entry struct {
	DivideID string
	Cells    []CellWeight
}

// TotalWeight returns the sum of the entry's coverages.
func (e *Entry) TotalWeight() float64 {
	var sum float64
	for _, c := range e.Cells {
		sum += c.Coverage
	}
	return sum
}

// Table is the weight table for a catchment set, in divide-id order.
type Table struct {
	entries []Entry
}

// NewTable wraps pre-built entries, which must already be in divide-id
// order.
func NewTable(entries []Entry) *Table {
	return &Table{entries: entries}
}

// Entries returns the table rows in divide-id order.
func (t *Table) Entries() []Entry { return t.entries }

// Len returns the number of catchments in the table.
func (t *Table) Len() int { return len(t.entries) }

// Partition splits the table into at most n contiguous partitions,
// preserving order, for distribution across aggregation workers.
func (t *Table) Partition(n int) [][]Entry {
	if n > len(t.entries) {
		n = len(t.entries)
	}
	if n <= 0 {
		return nil
	}
	parts := make([][]Entry, 0, n)
	base := len(t.entries) / n
	rem := len(t.entries) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		parts = append(parts, t.entries[start:start+size])
		start += size
	}
	return parts
}

// Compute builds the weight table for the catchment set against the grid
// geometry. Any single timestep's geometry suffices; only the coordinate
// axes are used. The set is split into workers partitions computed
// concurrently, then concatenated in partition order.
func Compute(ctx context.Context, meta *grid.Meta, set *catchment.Set, workers int) (*Table, error) {
	log := logging.Component("weights")

	parts := set.Partition(workers)
	results := make([][]Entry, len(parts))

	g, gctx := errgroup.WithContext(ctx)
	for i, part := range parts {
		i, part := i, part
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			results[i] = computePartition(meta, part)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	table := &Table{}
	zeroWeight := 0
	for _, part := range results {
		for _, e := range part {
			if len(e.Cells) == 0 {
				zeroWeight++
			}
		}
		table.entries = append(table.entries, part...)
	}

	log.Info("computed cell weights",
		"catchments", table.Len(),
		"partitions", len(parts),
		"zero_weight", zeroWeight)
	if zeroWeight > 0 {
		log.Warn("catchments outside grid extent yield no cells; their aggregates will be missing data",
			"count", zeroWeight)
	}

	return table, nil
}

func computePartition(meta *grid.Meta, part []catchment.Catchment) []Entry {
	entries := make([]Entry, 0, len(part))
	for _, c := range part {
		entries = append(entries, Entry{
			DivideID: c.DivideID,
			Cells:    cellCoverage(meta, c.Geometry),
		})
	}
	return entries
}

// cellCoverage clips the polygon to every candidate cell rectangle and
// records the area fraction of the cell covered.
func cellCoverage(meta *grid.Meta, mp orb.MultiPolygon) []CellWeight {
	dx, dy := meta.CellSize()
	dx = math.Abs(dx)
	dy = math.Abs(dy)
	if dx == 0 || dy == 0 {
		return nil
	}
	cellArea := dx * dy
	nx := len(meta.X)

	bound := mp.Bound()
	ixLo, ixHi := cellIndexRange(meta.X, dx, bound.Min[0], bound.Max[0])
	iyLo, iyHi := cellIndexRange(meta.Y, dy, bound.Min[1], bound.Max[1])

	var cells []CellWeight
	for iy := iyLo; iy <= iyHi; iy++ {
		for ix := ixLo; ix <= ixHi; ix++ {
			cell := orb.Bound{
				Min: orb.Point{meta.X[ix] - dx/2, meta.Y[iy] - dy/2},
				Max: orb.Point{meta.X[ix] + dx/2, meta.Y[iy] + dy/2},
			}
			clipped := clip.MultiPolygon(cell, mp.Clone())
			if clipped == nil {
				continue
			}
			area := planar.Area(clipped)
			if area <= 0 {
				continue
			}
			coverage := area / cellArea
			if coverage > 1 {
				coverage = 1
			}
			cells = append(cells, CellWeight{CellID: iy*nx + ix, Coverage: coverage})
		}
	}
	return cells
}

// cellIndexRange returns the inclusive index range of cells whose rectangles
// can intersect [lo, hi] on one axis. An empty range is returned as
// (0, -1) when the interval misses the grid entirely.
func cellIndexRange(coords []float64, spacing, lo, hi float64) (int, int) {
	if len(coords) == 0 {
		return 0, -1
	}
	first := 0
	for first < len(coords) && coords[first]+spacing/2 < lo {
		first++
	}
	last := len(coords) - 1
	for last >= 0 && coords[last]-spacing/2 > hi {
		last--
	}
	if first > last {
		return 0, -1
	}
	return first, last
}
