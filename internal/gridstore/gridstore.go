// Package gridstore persists a clipped gridded dataset as a single Parquet
// file: one row per (variable, timestep) holding the flattened cell values,
// dataset metadata in the file's key-value metadata. Rows are written in
// variable-major order so a (variable, time-range) slice maps to a
// contiguous row range, which keeps reads memory-bounded.
package gridstore

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/parquet-go/parquet-go"

	"github.com/kmfadden/gridforce/internal/grid"
)

// MetaKey is the key-value metadata key holding the dataset description.
const MetaKey = "gridforce.meta"

// Row is the Parquet representation of one variable-timestep.
type Row struct {
	Variable    string    `parquet:"variable,zstd"`
	TimeIndex   int32     `parquet:"time_index"`
	TimestampMs int64     `parquet:"timestamp_ms"`
	Values      []float32 `parquet:"values,list"`
}

// fileMeta is the JSON form of grid.Meta stored in the file metadata.
type fileMeta struct {
	Name    string    `json:"name"`
	CRS     string    `json:"crs"`
	X       []float64 `json:"x"`
	Y       []float64 `json:"y"`
	TimesMs []int64   `json:"times_ms"`
	Vars    []varMeta `json:"vars"`
}

type varMeta struct {
	Name  string `json:"name"`
	Units string `json:"units"`
}

func encodeMeta(m *grid.Meta) (string, error) {
	fm := fileMeta{
		Name:    m.Name,
		CRS:     m.CRS,
		X:       m.X,
		Y:       m.Y,
		TimesMs: m.TimesMs,
	}
	for _, v := range m.Vars {
		fm.Vars = append(fm.Vars, varMeta{Name: v.Name, Units: v.Units})
	}
	b, err := json.Marshal(fm)
	if err != nil {
		return "", fmt.Errorf("encode grid metadata: %w", err)
	}
	return string(b), nil
}

func decodeMeta(s string) (*grid.Meta, error) {
	var fm fileMeta
	if err := json.Unmarshal([]byte(s), &fm); err != nil {
		return nil, fmt.Errorf("decode grid metadata: %w", err)
	}
	m := &grid.Meta{
		Name:    fm.Name,
		CRS:     fm.CRS,
		X:       fm.X,
		Y:       fm.Y,
		TimesMs: fm.TimesMs,
	}
	for _, v := range fm.Vars {
		m.Vars = append(m.Vars, grid.VarMeta{Name: v.Name, Units: v.Units})
	}
	return m, nil
}

// Writer writes a grid store. Variables must be appended completely and in
// the order declared in the meta, so that row offsets stay computable.
type Writer struct {
	path    string
	file    *os.File
	writer  *parquet.GenericWriter[Row]
	meta    *grid.Meta
	varIdx  int
	timeIdx int
	closed  bool
}

// Create opens a new grid store at path for writing.
func Create(path string, meta *grid.Meta) (*Writer, error) {
	if err := meta.Validate(); err != nil {
		return nil, err
	}
	encoded, err := encodeMeta(meta)
	if err != nil {
		return nil, err
	}

	f, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create grid store: %w", err)
	}

	writer := parquet.NewGenericWriter[Row](f,
		parquet.Compression(&parquet.Zstd),
		parquet.KeyValueMetadata(MetaKey, encoded),
	)

	return &Writer{path: path, file: f, writer: writer, meta: meta}, nil
}

// AppendFrame appends a (time, y, x) block of the current variable. Frames
// must arrive in time order; a new variable starts only after the previous
// one is complete.
func (w *Writer) AppendFrame(variable string, frame *grid.Frame) error {
	if w.closed {
		return fmt.Errorf("grid store writer is closed")
	}
	if w.varIdx >= len(w.meta.Vars) {
		return fmt.Errorf("all %d variables already written", len(w.meta.Vars))
	}
	want := w.meta.Vars[w.varIdx].Name
	if variable != want {
		return fmt.Errorf("expected variable %q next, got %q", want, variable)
	}
	if frame.NumCells() != w.meta.NumCells() {
		return fmt.Errorf("frame has %d cells, grid has %d", frame.NumCells(), w.meta.NumCells())
	}

	rows := make([]Row, frame.NumTimes())
	for t := 0; t < frame.NumTimes(); t++ {
		rows[t] = Row{
			Variable:    variable,
			TimeIndex:   int32(w.timeIdx + t),
			TimestampMs: frame.TimesMs[t],
			Values:      frame.Step(t),
		}
	}
	if _, err := w.writer.Write(rows); err != nil {
		return fmt.Errorf("write grid rows: %w", err)
	}

	w.timeIdx += frame.NumTimes()
	if w.timeIdx > len(w.meta.TimesMs) {
		return fmt.Errorf("variable %q has %d timesteps, grid has %d", variable, w.timeIdx, len(w.meta.TimesMs))
	}
	if w.timeIdx == len(w.meta.TimesMs) {
		w.varIdx++
		w.timeIdx = 0
	}
	return nil
}

// Close flushes and closes the store. All declared variables must have been
// written in full.
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true

	if w.varIdx != len(w.meta.Vars) || w.timeIdx != 0 {
		w.writer.Close()
		w.file.Close()
		return fmt.Errorf("grid store incomplete: wrote %d of %d variables", w.varIdx, len(w.meta.Vars))
	}
	if err := w.writer.Close(); err != nil {
		w.file.Close()
		return fmt.Errorf("close grid writer: %w", err)
	}
	return w.file.Close()
}

// Store is a read-only grid store implementing grid.Source.
type Store struct {
	mu     sync.Mutex
	path   string
	file   *os.File
	reader *parquet.GenericReader[Row]
	meta   *grid.Meta
	pos    int64
}

// Open opens an existing grid store for reading.
func Open(path string) (*Store, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open grid store: %w", err)
	}

	stat, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("stat grid store: %w", err)
	}

	pf, err := parquet.OpenFile(f, stat.Size())
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("parse grid store: %w", err)
	}

	encoded, ok := pf.Lookup(MetaKey)
	if !ok {
		f.Close()
		return nil, fmt.Errorf("grid store missing %s metadata", MetaKey)
	}
	meta, err := decodeMeta(encoded)
	if err != nil {
		f.Close()
		return nil, err
	}
	if err := meta.Validate(); err != nil {
		f.Close()
		return nil, fmt.Errorf("grid store metadata invalid: %w", err)
	}

	wantRows := int64(len(meta.Vars)) * int64(len(meta.TimesMs))
	if pf.NumRows() != wantRows {
		f.Close()
		return nil, fmt.Errorf("grid store has %d rows, metadata implies %d", pf.NumRows(), wantRows)
	}

	return &Store{
		path:   path,
		file:   f,
		reader: parquet.NewGenericReader[Row](f),
		meta:   meta,
	}, nil
}

// Meta returns the dataset description.
func (s *Store) Meta(ctx context.Context) (*grid.Meta, error) {
	return s.meta, nil
}

// ReadSlice reads timesteps [t0, t1) of one variable.
func (s *Store) ReadSlice(ctx context.Context, variable string, t0, t1 int) (*grid.Frame, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	varIdx := -1
	for i, v := range s.meta.Vars {
		if v.Name == variable {
			varIdx = i
			break
		}
	}
	if varIdx < 0 {
		return nil, fmt.Errorf("variable %q not in grid store", variable)
	}
	nt := len(s.meta.TimesMs)
	if t0 < 0 || t1 > nt || t0 >= t1 {
		return nil, fmt.Errorf("time slice [%d,%d) out of range for %d timesteps", t0, t1, nt)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	offset := int64(varIdx)*int64(nt) + int64(t0)
	if offset != s.pos {
		if err := s.reader.SeekToRow(offset); err != nil {
			s.pos = -1
			return nil, fmt.Errorf("seek grid store row %d: %w", offset, err)
		}
		s.pos = offset
	}

	rows := make([]Row, t1-t0)
	n, err := s.reader.Read(rows)
	if err != nil && err != io.EOF {
		s.pos = -1
		return nil, &grid.FetchError{Source: s.meta.Name, Err: err}
	}
	if n != len(rows) {
		s.pos = -1
		return nil, &grid.FetchError{Source: s.meta.Name, Err: fmt.Errorf("short read: %d of %d rows", n, len(rows))}
	}
	s.pos += int64(n)

	frame := grid.NewFrame(s.meta.TimesMs[t0:t1], len(s.meta.Y), len(s.meta.X))
	cells := s.meta.NumCells()
	for i, r := range rows {
		if r.Variable != variable || int(r.TimeIndex) != t0+i {
			return nil, fmt.Errorf("grid store row order corrupt at row %d: got (%s,%d), want (%s,%d)",
				offset+int64(i), r.Variable, r.TimeIndex, variable, t0+i)
		}
		if len(r.Values) != cells {
			return nil, fmt.Errorf("grid store row %d has %d values, grid has %d cells", offset+int64(i), len(r.Values), cells)
		}
		copy(frame.Step(i), r.Values)
	}
	return frame, nil
}

// Path returns the store's file path.
func (s *Store) Path() string { return s.path }

// Close closes the store.
func (s *Store) Close() error {
	if err := s.reader.Close(); err != nil {
		s.file.Close()
		return err
	}
	return s.file.Close()
}
