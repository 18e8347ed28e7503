// Package chunk partitions the time axis of a variable into memory-bounded
// index ranges. The budget keeps any single staged slice well inside the
// memory actually available on the machine.
package chunk

import (
	"errors"
	"fmt"

	"github.com/shirou/gopsutil/v4/mem"
)

// HardBudgetCap bounds the chunk budget regardless of how much memory the
// machine reports. Large budgets destabilize the staging copy.
const HardBudgetCap = 20 * 1024 * 1024 * 1024 // 20 GiB

// AvailableFraction is the fraction of currently available memory the
// planner is allowed to claim.
const AvailableFraction = 0.8

// ErrBudgetExceeded is returned when no valid chunking exists, i.e. even a
// single timestep does not fit in the budget.
var ErrBudgetExceeded = errors.New("memory budget exceeded: a single timestep does not fit")

// Range is a half-open [Start, End) index range over the time axis.
type Range struct {
	Start int
	End   int
}

// Len returns the number of timesteps in the range.
func (r Range) Len() int { return r.End - r.Start }

// Planner computes memory-bounded partitions of a time axis.
type Planner struct {
	// Budget is the maximum byte size of one chunk.
	Budget int64
}

// DefaultBudget probes available system memory and returns
// min(AvailableFraction * available, HardBudgetCap).
func DefaultBudget() int64 {
	budget := int64(HardBudgetCap)
	if vm, err := mem.VirtualMemory(); err == nil {
		avail := int64(float64(vm.Available) * AvailableFraction)
		if avail < budget {
			budget = avail
		}
	}
	return budget
}

// NewPlanner returns a planner with the default memory budget.
func NewPlanner() *Planner {
	return &Planner{Budget: DefaultBudget()}
}

// Plan partitions [0, timeLen) into chunks such that each chunk's share of
// totalBytes fits in the budget. The returned ranges cover the time axis
// exactly once: the final range's end is clamped to timeLen, so the last
// chunk absorbs the remainder when timeLen is not a multiple of the stride.
func (p *Planner) Plan(timeLen int, totalBytes int64) ([]Range, error) {
	if timeLen <= 0 {
		return nil, fmt.Errorf("time length must be positive, got %d", timeLen)
	}
	if p.Budget <= 0 {
		return nil, ErrBudgetExceeded
	}

	numChunks := int((totalBytes + p.Budget - 1) / p.Budget)
	if numChunks < 1 {
		numChunks = 1
	}

	stride := timeLen / numChunks
	if stride < 1 {
		return nil, ErrBudgetExceeded
	}

	var ranges []Range
	for start := 0; start < timeLen; start += stride {
		end := start + stride
		// Clamp the final chunk so the union covers [0, timeLen) exactly,
		// with no tail left uncovered and no end past the axis.
		if end > timeLen {
			end = timeLen
		}
		ranges = append(ranges, Range{Start: start, End: end})
	}
	return ranges, nil
}

// PlanFrameCopy partitions a slice of timeLen steps of rowBytes each for the
// staging copy, so the copy never materializes the whole slice at once.
func (p *Planner) PlanFrameCopy(timeLen int, rowBytes int64) ([]Range, error) {
	return p.Plan(timeLen, int64(timeLen)*rowBytes)
}
