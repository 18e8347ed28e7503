// Package zonal computes coverage-weighted mean forcing values per
// catchment from a staged grid chunk. Workers read the shared region
// concurrently through independent read-only views; a failed worker fails
// the whole chunk rather than silently dropping its partition.
package zonal

import (
	"context"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"github.com/kmfadden/gridforce/internal/logging"
	"github.com/kmfadden/gridforce/internal/shmem"
	"github.com/kmfadden/gridforce/internal/weights"
)

// Partial is the aggregation result for one (variable, chunk): a dense
// (time, catchment) block. Element (t, c) lives at t*len(DivideIDs)+c.
type Partial struct {
	TimesMs   []int64
	DivideIDs []string
	Values    []float32
}

// At returns the aggregate for catchment c at timestep t.
func (p *Partial) At(t, c int) float32 {
	return p.Values[t*len(p.DivideIDs)+c]
}

// NumTimes returns the number of timesteps in the partial.
func (p *Partial) NumTimes() int { return len(p.TimesMs) }

// NumCatchments returns the number of catchments in the partial.
func (p *Partial) NumCatchments() int { return len(p.DivideIDs) }

// AggregatePartition computes the weighted mean for every catchment of one
// partition against an open view of the staged chunk.
//
// A catchment with zero total weight (no intersecting cells) yields NaN for
// every timestep: the run continues and the gap is carried through to the
// final artifact as missing data. This policy is fixed so identical inputs
// aggregate identically across runs.
func AggregatePartition(view *shmem.View, timesMs []int64, partition []weights.Entry) *Partial {
	nt := len(timesMs)
	nc := len(partition)

	p := &Partial{
		TimesMs:   timesMs,
		DivideIDs: make([]string, nc),
		Values:    make([]float32, nt*nc),
	}

	for c, entry := range partition {
		p.DivideIDs[c] = entry.DivideID

		total := entry.TotalWeight()
		if total <= 0 {
			for t := 0; t < nt; t++ {
				p.Values[t*nc+c] = float32(math.NaN())
			}
			continue
		}

		for t := 0; t < nt; t++ {
			row := view.Row(t)
			var sum float64
			for _, cw := range entry.Cells {
				sum += float64(row[cw.CellID]) * cw.Coverage
			}
			p.Values[t*nc+c] = float32(sum / total)
		}
	}
	return p
}

// Aggregate runs the weighted-mean reduction for a whole chunk: the weight
// table is partitioned across workers, each worker opens its own read-only
// view of the staged region, and the partition results are concatenated
// along the catchment dimension in partition order.
func Aggregate(ctx context.Context, handle shmem.Handle, timesMs []int64, table *weights.Table, workers int) (*Partial, error) {
	if len(timesMs) != handle.Rows {
		return nil, fmt.Errorf("chunk has %d timestamps but region has %d rows", len(timesMs), handle.Rows)
	}

	partitions := table.Partition(workers)
	results := make([]*Partial, len(partitions))

	g, gctx := errgroup.WithContext(ctx)
	for i, partition := range partitions {
		i, partition := i, partition
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			view, err := shmem.Open(handle)
			if err != nil {
				return fmt.Errorf("worker %d: %w", i, err)
			}
			defer view.Close()

			results[i] = AggregatePartition(view, timesMs, partition)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	return concat(timesMs, results), nil
}

// concat joins partition results along the catchment dimension.
func concat(timesMs []int64, parts []*Partial) *Partial {
	nt := len(timesMs)
	nc := 0
	for _, p := range parts {
		nc += p.NumCatchments()
	}

	out := &Partial{
		TimesMs:   timesMs,
		DivideIDs: make([]string, 0, nc),
		Values:    make([]float32, nt*nc),
	}

	offset := 0
	for _, p := range parts {
		w := p.NumCatchments()
		for t := 0; t < nt; t++ {
			copy(out.Values[t*nc+offset:t*nc+offset+w], p.Values[t*w:(t+1)*w])
		}
		out.DivideIDs = append(out.DivideIDs, p.DivideIDs...)
		offset += w
	}
	return out
}

// LogZeroWeight logs the catchments in the table that have no intersecting
// cells. Called once per run so the missing-data representation is not
// silent.
func LogZeroWeight(table *weights.Table) {
	log := logging.Component("zonal")
	for _, e := range table.Entries() {
		if len(e.Cells) == 0 {
			log.Warn("catchment has no intersecting cells, aggregates will be NaN", "divide_id", e.DivideID)
		}
	}
}
