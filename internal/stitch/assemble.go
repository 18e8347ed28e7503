package stitch

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/parquet-go/parquet-go"

	"github.com/kmfadden/gridforce/internal/logging"
	"github.com/kmfadden/gridforce/internal/units"
)

// assembleBatchSize is how many catchments are carried in memory at once
// during final assembly.
const assembleBatchSize = 256

// AssembleInput describes a final assembly.
type AssembleInput struct {
	// ScratchDir holds the merged per-variable files.
	ScratchDir string

	// OutPath is the final artifact location.
	OutPath string

	// Variables are the processed source variable names, in output order.
	Variables []string

	// Units maps source variable names to their units.
	Units map[string]string
}

// Assemble combines the merged variable files into the final forcing
// artifact in the legacy layout: one row per catchment carrying the id, the
// shared integer-second time axis (replicated identically per row), and one
// float32 series per variable. Units ride in the file metadata. The write
// goes through a temporary path and an atomic rename.
func Assemble(in AssembleInput) error {
	log := logging.Component("stitch")

	if err := units.Validate(); err != nil {
		return fmt.Errorf("unit table invalid: %w", err)
	}

	type varReader struct {
		source  string
		output  string
		reader  *parquet.GenericReader[SeriesRow]
		file    *os.File
		numRows int64
	}

	var readers []*varReader
	defer func() {
		for _, vr := range readers {
			vr.reader.Close()
			vr.file.Close()
		}
	}()

	var timesMs []int64
	for _, v := range in.Variables {
		path := MergedPath(in.ScratchDir, v)
		f, err := os.Open(path)
		if err != nil {
			return fmt.Errorf("open merged %s: %w", v, err)
		}
		stat, err := f.Stat()
		if err != nil {
			f.Close()
			return err
		}
		pf, err := parquet.OpenFile(f, stat.Size())
		if err != nil {
			f.Close()
			return fmt.Errorf("parse merged %s: %w", v, err)
		}
		encoded, ok := pf.Lookup(TimesKey)
		if !ok {
			f.Close()
			return fmt.Errorf("merged %s missing time axis", v)
		}
		var vt []int64
		if err := decodeTimes(encoded, &vt); err != nil {
			f.Close()
			return fmt.Errorf("merged %s: %w", v, err)
		}
		if timesMs == nil {
			timesMs = vt
		} else if !equalTimes(timesMs, vt) {
			f.Close()
			return fmt.Errorf("merged %s has a different time axis", v)
		}

		readers = append(readers, &varReader{
			source:  v,
			output:  units.OutputName(v),
			reader:  parquet.NewGenericReader[SeriesRow](f),
			file:    f,
			numRows: pf.NumRows(),
		})
	}
	if len(readers) == 0 {
		return fmt.Errorf("no variables to assemble")
	}
	for _, vr := range readers[1:] {
		if vr.numRows != readers[0].numRows {
			return fmt.Errorf("merged %s has %d catchments, %s has %d",
				vr.source, vr.numRows, readers[0].source, readers[0].numRows)
		}
	}

	// Derivations read their source from the renamed outputs.
	outputOf := make(map[string]*varReader)
	for _, vr := range readers {
		outputOf[vr.output] = vr
	}
	var derived []units.Derivation
	for _, d := range units.Derivations {
		if _, ok := outputOf[d.Source]; ok {
			derived = append(derived, d)
		}
	}

	timeSecs := make([]int32, len(timesMs))
	for i, ms := range timesMs {
		timeSecs[i] = int32(ms / 1000)
	}

	// Legacy layout: no coordinates, ids as a string column, Time replicated
	// per catchment, every forcing variable a float32 list with units.
	fields := parquet.Group{
		"ids":  parquet.String(),
		"Time": parquet.List(parquet.Int(32)),
	}
	for _, vr := range readers {
		fields[vr.output] = parquet.List(parquet.Leaf(parquet.FloatType))
	}
	for _, d := range derived {
		fields[d.Name] = parquet.List(parquet.Leaf(parquet.FloatType))
	}
	schema := parquet.NewSchema("forcings", fields)

	opts := []parquet.WriterOption{
		schema,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata("units:Time", "s"),
		parquet.KeyValueMetadata("epoch_start", "01/01/1970 00:00:00"),
	}
	for _, vr := range readers {
		opts = append(opts, parquet.KeyValueMetadata("units:"+vr.output, in.Units[vr.source]))
	}
	for _, d := range derived {
		opts = append(opts,
			parquet.KeyValueMetadata("units:"+d.Name, d.Conv.To),
			parquet.KeyValueMetadata("note:"+d.Name, d.Note),
		)
	}

	tmpPath := in.OutPath + ".saving"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clear stale temp output: %w", err)
	}
	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("create output: %w", err)
	}
	writer := parquet.NewGenericWriter[map[string]any](out, opts...)

	batches := make([][]SeriesRow, len(readers))
	for i := range batches {
		batches[i] = make([]SeriesRow, assembleBatchSize)
	}

	written := int64(0)
	for written < readers[0].numRows {
		n := assembleBatchSize
		if rem := readers[0].numRows - written; rem < int64(n) {
			n = int(rem)
		}

		for i, vr := range readers {
			got, err := vr.reader.Read(batches[i][:n])
			if err != nil && err != io.EOF {
				out.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("read merged %s: %w", vr.source, err)
			}
			if got != n {
				out.Close()
				os.Remove(tmpPath)
				return fmt.Errorf("merged %s: short read %d of %d", vr.source, got, n)
			}
		}

		rows := make([]map[string]any, n)
		for r := 0; r < n; r++ {
			id := batches[0][r].DivideID
			row := map[string]any{
				"ids":  id,
				"Time": timeSecs,
			}
			for i, vr := range readers {
				if batches[i][r].DivideID != id {
					out.Close()
					os.Remove(tmpPath)
					return fmt.Errorf("merged %s catchment order differs at row %d", vr.source, written+int64(r))
				}
				row[vr.output] = batches[i][r].Values
			}
			for _, d := range derived {
				src := row[d.Source].([]float32)
				conv := make([]float32, len(src))
				for i, v := range src {
					conv[i] = float32(d.Conv.Apply(float64(v)))
				}
				row[d.Name] = conv
			}
			rows[r] = row
		}

		if _, err := writer.Write(rows); err != nil {
			out.Close()
			os.Remove(tmpPath)
			return fmt.Errorf("write output rows: %w", err)
		}
		written += int64(n)
	}

	if err := writer.Close(); err != nil {
		out.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("close output writer: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmpPath)
		return err
	}
	if err := os.Rename(tmpPath, in.OutPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("publish output: %w", err)
	}

	log.Info("wrote forcing artifact",
		"path", in.OutPath,
		"catchments", written,
		"timesteps", len(timeSecs),
		"variables", len(readers)+len(derived))
	return nil
}

func decodeTimes(encoded string, out *[]int64) error {
	if err := json.Unmarshal([]byte(encoded), out); err != nil {
		return fmt.Errorf("decode time axis: %w", err)
	}
	return nil
}

func equalTimes(a, b []int64) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
