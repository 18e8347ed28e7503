package grid

import (
	"fmt"
	"math"
)

// InterpMethod selects how NaN gaps are filled along the time axis.
type InterpMethod int

const (
	// InterpNearest fills each gap with the value of the nearest valid
	// timestep. Ties prefer the earlier timestep.
	InterpNearest InterpMethod = iota

	// InterpLinear fills interior gaps by linear interpolation between the
	// bracketing valid timesteps and extrapolates at the edges from the two
	// nearest valid timesteps.
	InterpLinear
)

// ParseInterpMethod parses an interpolation method name.
func ParseInterpMethod(s string) (InterpMethod, error) {
	switch s {
	case "nearest", "":
		return InterpNearest, nil
	case "linear":
		return InterpLinear, nil
	default:
		return 0, fmt.Errorf("unknown interpolation method %q", s)
	}
}

func (m InterpMethod) String() string {
	switch m {
	case InterpNearest:
		return "nearest"
	case InterpLinear:
		return "linear"
	default:
		return "unknown"
	}
}

// InterpolateNaN fills NaN values along the time axis of every cell in the
// frame, in place. A cell with no valid timestep at all is left as-is.
// Returns the number of values filled.
func InterpolateNaN(f *Frame, method InterpMethod) int {
	nt := f.NumTimes()
	nc := f.NumCells()
	if nt == 0 || nc == 0 {
		return 0
	}

	filled := 0
	series := make([]float32, nt)
	valid := make([]int, 0, nt)

	for c := 0; c < nc; c++ {
		valid = valid[:0]
		hasNaN := false
		for t := 0; t < nt; t++ {
			v := f.Data[t*nc+c]
			series[t] = v
			if math.IsNaN(float64(v)) {
				hasNaN = true
			} else {
				valid = append(valid, t)
			}
		}
		if !hasNaN || len(valid) == 0 {
			continue
		}

		for t := 0; t < nt; t++ {
			if !math.IsNaN(float64(series[t])) {
				continue
			}
			var v float32
			switch method {
			case InterpLinear:
				v = interpLinearAt(series, valid, f.TimesMs, t)
			default:
				v = interpNearestAt(series, valid, t)
			}
			f.Data[t*nc+c] = v
			filled++
		}
	}
	return filled
}

// interpNearestAt returns the value of the valid index closest to t,
// preferring the earlier index on ties.
func interpNearestAt(series []float32, valid []int, t int) float32 {
	best := valid[0]
	bestDist := abs(t - best)
	for _, i := range valid[1:] {
		d := abs(t - i)
		if d < bestDist {
			best = i
			bestDist = d
		}
	}
	return series[best]
}

// interpLinearAt interpolates between the valid indices bracketing t, or
// extrapolates from the two nearest valid indices when t lies outside them.
// A single valid index yields a constant fill.
func interpLinearAt(series []float32, valid []int, timesMs []int64, t int) float32 {
	if len(valid) == 1 {
		return series[valid[0]]
	}

	// Find the bracketing pair, falling back to the edge pair outside range.
	lo, hi := valid[0], valid[1]
	for i := 1; i < len(valid); i++ {
		if valid[i] >= t {
			lo, hi = valid[i-1], valid[i]
			break
		}
		if i == len(valid)-1 {
			lo, hi = valid[i-1], valid[i]
		}
	}

	t0 := float64(timesMs[lo])
	t1 := float64(timesMs[hi])
	v0 := float64(series[lo])
	v1 := float64(series[hi])
	if t1 == t0 {
		return series[lo]
	}
	frac := (float64(timesMs[t]) - t0) / (t1 - t0)
	return float32(v0 + frac*(v1-v0))
}

func abs(x int) int {
	if x < 0 {
		return -x
	}
	return x
}
