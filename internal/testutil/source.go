// Package testutil provides synthetic gridded datasets for tests.
package testutil

import (
	"context"
	"fmt"
	"time"

	"github.com/kmfadden/gridforce/internal/grid"
)

// Epoch is the first timestamp of synthetic datasets.
var Epoch = time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC)

// MemSource is an in-memory grid.Source with optional failure injection.
type MemSource struct {
	MetaV  *grid.Meta
	Frames map[string]*grid.Frame

	// FailReads makes every ReadSlice return a FetchError.
	FailReads bool

	// Reads counts ReadSlice calls.
	Reads int
}

// NewSource builds a synthetic source named name with nt hourly timesteps
// on an ny x nx unit grid with cell centers at 0.5, 1.5, ... Every variable
// starts zero-filled.
func NewSource(name string, nt, ny, nx int, vars ...grid.VarMeta) *MemSource {
	meta := &grid.Meta{
		Name: name,
		CRS:  "EPSG:5070",
		Vars: vars,
	}
	for i := 0; i < nx; i++ {
		meta.X = append(meta.X, float64(i)+0.5)
	}
	for i := 0; i < ny; i++ {
		meta.Y = append(meta.Y, float64(i)+0.5)
	}
	for t := 0; t < nt; t++ {
		meta.TimesMs = append(meta.TimesMs, Epoch.Add(time.Duration(t)*time.Hour).UnixMilli())
	}

	frames := make(map[string]*grid.Frame, len(vars))
	for _, v := range vars {
		frames[v.Name] = grid.NewFrame(meta.TimesMs, ny, nx)
	}

	return &MemSource{MetaV: meta, Frames: frames}
}

// Fill sets every value of a variable at every timestep.
func (s *MemSource) Fill(variable string, values ...float32) {
	frame := s.Frames[variable]
	for t := 0; t < frame.NumTimes(); t++ {
		copy(frame.Step(t), values)
	}
}

// Set stores one value.
func (s *MemSource) Set(variable string, t, iy, ix int, v float32) {
	s.Frames[variable].Set(t, iy, ix, v)
}

// Meta implements grid.Source.
func (s *MemSource) Meta(ctx context.Context) (*grid.Meta, error) {
	if s.FailReads {
		return nil, &grid.FetchError{Source: s.MetaV.Name, Err: fmt.Errorf("injected failure")}
	}
	return s.MetaV, nil
}

// ReadSlice implements grid.Source.
func (s *MemSource) ReadSlice(ctx context.Context, variable string, t0, t1 int) (*grid.Frame, error) {
	s.Reads++
	if s.FailReads {
		return nil, &grid.FetchError{Source: s.MetaV.Name, Err: fmt.Errorf("injected failure")}
	}
	frame, ok := s.Frames[variable]
	if !ok {
		return nil, fmt.Errorf("no variable %q", variable)
	}
	slice, err := frame.Slice(t0, t1)
	if err != nil {
		return nil, err
	}
	// Copy so callers cannot mutate the source through the slice.
	out := grid.NewFrame(slice.TimesMs, slice.NY, slice.NX)
	copy(out.Data, slice.Data)
	return out, nil
}
