// Package stitch persists per-chunk aggregation partials to scratch
// storage, merges them per variable in chunk-index order, and assembles the
// final forcing artifact in the legacy layout.
package stitch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/parquet-go/parquet-go"

	"github.com/kmfadden/gridforce/internal/logging"
	"github.com/kmfadden/gridforce/internal/zonal"
)

// TimesKey is the key-value metadata key holding a file's time axis as JSON
// Unix milliseconds.
const TimesKey = "gridforce.times_ms"

// SeriesRow is one catchment's time series in a partial or merged file.
type SeriesRow struct {
	DivideID string    `parquet:"divide_id,zstd"`
	Values   []float32 `parquet:"values,list"`
}

// PartialPath returns the scratch path of one (variable, chunk) partial.
func PartialPath(scratchDir, variable string, chunkIdx int) string {
	return filepath.Join(scratchDir, fmt.Sprintf("%s_%d.parquet", variable, chunkIdx))
}

// MergedPath returns the scratch path of a merged variable file.
func MergedPath(scratchDir, variable string) string {
	return filepath.Join(scratchDir, fmt.Sprintf("%s.parquet", variable))
}

// WritePartial persists one chunk's aggregates immediately, bounding peak
// memory: rows are per catchment, the chunk's timestamps ride in the file
// metadata.
func WritePartial(scratchDir, variable string, chunkIdx int, p *zonal.Partial) error {
	rows := make([]SeriesRow, p.NumCatchments())
	nt := p.NumTimes()
	nc := p.NumCatchments()
	for c := 0; c < nc; c++ {
		series := make([]float32, nt)
		for t := 0; t < nt; t++ {
			series[t] = p.Values[t*nc+c]
		}
		rows[c] = SeriesRow{DivideID: p.DivideIDs[c], Values: series}
	}
	return writeSeriesFile(PartialPath(scratchDir, variable, chunkIdx), p.TimesMs, rows)
}

// MergeVariable concatenates all chunk partials of a variable along time,
// in chunk-index order (not completion order), into one merged file, then
// deletes the partials.
func MergeVariable(scratchDir, variable string, numChunks int) error {
	log := logging.Component("stitch")

	var merged []SeriesRow
	var timesMs []int64

	for i := 0; i < numChunks; i++ {
		path := PartialPath(scratchDir, variable, i)
		rows, chunkTimes, err := readSeriesFile(path)
		if err != nil {
			return fmt.Errorf("read partial %s: %w", path, err)
		}

		if merged == nil {
			merged = rows
		} else {
			if len(rows) != len(merged) {
				return fmt.Errorf("partial %s has %d catchments, expected %d", path, len(rows), len(merged))
			}
			for c := range merged {
				if rows[c].DivideID != merged[c].DivideID {
					return fmt.Errorf("partial %s catchment order differs at %d", path, c)
				}
				merged[c].Values = append(merged[c].Values, rows[c].Values...)
			}
		}
		timesMs = append(timesMs, chunkTimes...)
	}

	if err := writeSeriesFile(MergedPath(scratchDir, variable), timesMs, merged); err != nil {
		return err
	}

	for i := 0; i < numChunks; i++ {
		if err := os.Remove(PartialPath(scratchDir, variable, i)); err != nil {
			return fmt.Errorf("remove partial: %w", err)
		}
	}

	log.Debug("merged variable", "variable", variable, "chunks", numChunks, "timesteps", len(timesMs))
	return nil
}

func writeSeriesFile(path string, timesMs []int64, rows []SeriesRow) error {
	encoded, err := json.Marshal(timesMs)
	if err != nil {
		return fmt.Errorf("encode time axis: %w", err)
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}

	writer := parquet.NewGenericWriter[SeriesRow](f,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata(TimesKey, string(encoded)),
	)

	if len(rows) > 0 {
		if _, err := writer.Write(rows); err != nil {
			f.Close()
			return fmt.Errorf("write %s: %w", path, err)
		}
	}
	if err := writer.Close(); err != nil {
		f.Close()
		return fmt.Errorf("close %s: %w", path, err)
	}
	return f.Close()
}

func readSeriesFile(path string) ([]SeriesRow, []int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, nil, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return nil, nil, err
	}
	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		return nil, nil, err
	}

	encoded, ok := pf.Lookup(TimesKey)
	if !ok {
		return nil, nil, fmt.Errorf("missing %s metadata", TimesKey)
	}
	var timesMs []int64
	if err := json.Unmarshal([]byte(encoded), &timesMs); err != nil {
		return nil, nil, fmt.Errorf("decode time axis: %w", err)
	}

	reader := parquet.NewGenericReader[SeriesRow](f)
	defer reader.Close()

	rows := make([]SeriesRow, reader.NumRows())
	if len(rows) > 0 {
		if _, err := reader.Read(rows); err != nil && err != io.EOF {
			return nil, nil, err
		}
	}
	return rows, timesMs, nil
}
