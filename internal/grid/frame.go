package grid

import (
	"fmt"
	"math"
)

// Frame is one (time, y, x) float32 block held in memory. Data is laid out
// time-major: element (t, iy, ix) lives at t*NY*NX + iy*NX + ix.
type Frame struct {
	TimesMs []int64
	NY      int
	NX      int
	Data    []float32
}

// NewFrame allocates a zeroed frame for the given axes.
func NewFrame(timesMs []int64, ny, nx int) *Frame {
	return &Frame{
		TimesMs: timesMs,
		NY:      ny,
		NX:      nx,
		Data:    make([]float32, len(timesMs)*ny*nx),
	}
}

// NumTimes returns the number of timesteps in the frame.
func (f *Frame) NumTimes() int { return len(f.TimesMs) }

// NumCells returns the number of cells in one timestep.
func (f *Frame) NumCells() int { return f.NY * f.NX }

// At returns the value at (t, iy, ix).
func (f *Frame) At(t, iy, ix int) float32 {
	return f.Data[t*f.NY*f.NX+iy*f.NX+ix]
}

// Set stores a value at (t, iy, ix).
func (f *Frame) Set(t, iy, ix int, v float32) {
	f.Data[t*f.NY*f.NX+iy*f.NX+ix] = v
}

// Step returns the flattened cell values of one timestep. The returned slice
// aliases the frame's backing array.
func (f *Frame) Step(t int) []float32 {
	n := f.NY * f.NX
	return f.Data[t*n : (t+1)*n]
}

// Slice returns a view of timesteps [t0, t1). The view shares the backing
// array with the parent frame.
func (f *Frame) Slice(t0, t1 int) (*Frame, error) {
	if t0 < 0 || t1 > f.NumTimes() || t0 > t1 {
		return nil, fmt.Errorf("slice [%d,%d) out of range for %d timesteps", t0, t1, f.NumTimes())
	}
	n := f.NY * f.NX
	return &Frame{
		TimesMs: f.TimesMs[t0:t1],
		NY:      f.NY,
		NX:      f.NX,
		Data:    f.Data[t0*n : t1*n],
	}, nil
}

// Window copies the cells inside the x and y index windows into a new
// frame, preserving the time axis.
func (f *Frame) Window(x, y IndexWindow) *Frame {
	out := NewFrame(f.TimesMs, y.Len(), x.Len())
	for t := 0; t < f.NumTimes(); t++ {
		src := f.Step(t)
		dst := out.Step(t)
		for iy := 0; iy < y.Len(); iy++ {
			srcRow := src[(y.Start+iy)*f.NX+x.Start : (y.Start+iy)*f.NX+x.End]
			copy(dst[iy*x.Len():], srcRow)
		}
	}
	return out
}

// HasNaN reports whether any value in the frame is NaN.
func (f *Frame) HasNaN() bool {
	for _, v := range f.Data {
		if math.IsNaN(float64(v)) {
			return true
		}
	}
	return false
}

// SizeBytes returns the in-memory size of the frame's data.
func (f *Frame) SizeBytes() int64 {
	return int64(len(f.Data)) * 4
}
