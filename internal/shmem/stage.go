package shmem

import (
	"context"
	"fmt"

	"github.com/kmfadden/gridforce/internal/chunk"
	"github.com/kmfadden/gridforce/internal/grid"
	"github.com/kmfadden/gridforce/internal/logging"
)

// Stage copies timesteps [rng.Start, rng.End) of one variable from the
// source into a freshly created region in dir. The copy runs in
// planner-bounded sub-chunks so it never materializes the whole slice at
// once. On success the caller owns the returned buffer and must Release it;
// the chunk's timestamps are returned alongside.
func Stage(ctx context.Context, p *chunk.Planner, src grid.Source, variable string, rng chunk.Range, dir string) (*Buffer, []int64, error) {
	meta, err := src.Meta(ctx)
	if err != nil {
		return nil, nil, err
	}

	rows := rng.Len()
	cols := meta.NumCells()
	rowBytes := int64(cols) * 4

	subChunks, err := p.PlanFrameCopy(rows, rowBytes)
	if err != nil {
		return nil, nil, err
	}

	buf, err := Create(dir, rows, cols)
	if err != nil {
		return nil, nil, err
	}

	log := logging.Component("shmem")
	log.Debug("created staging region",
		"variable", variable,
		"rows", rows,
		"cols", cols,
		"size_mb", float64(buf.Handle().SizeBytes())/1e6)

	dst := buf.Floats()
	timesMs := make([]int64, 0, rows)

	for _, sub := range subChunks {
		if err := ctx.Err(); err != nil {
			buf.Release()
			return nil, nil, err
		}

		frame, err := src.ReadSlice(ctx, variable, rng.Start+sub.Start, rng.Start+sub.End)
		if err != nil {
			buf.Release()
			return nil, nil, err
		}
		if frame.NumCells() != cols {
			buf.Release()
			return nil, nil, fmt.Errorf("staging %s: slice has %d cells, grid has %d", variable, frame.NumCells(), cols)
		}

		copy(dst[sub.Start*cols:], frame.Data)
		timesMs = append(timesMs, frame.TimesMs...)
	}

	if len(timesMs) != rows {
		buf.Release()
		return nil, nil, fmt.Errorf("staging %s: copied %d timesteps, expected %d", variable, len(timesMs), rows)
	}

	return buf, timesMs, nil
}
