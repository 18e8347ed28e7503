// Package catchment loads and holds the divide polygons the pipeline
// aggregates onto. The set is immutable for one run.
package catchment

import (
	"fmt"
	"sort"

	"github.com/paulmach/orb"
)

// Catchment is one drainage unit: a unique divide id and its polygon.
type Catchment struct {
	DivideID string
	Geometry orb.MultiPolygon
}

// Set is an immutable, id-sorted collection of catchments.
type Set struct {
	catchments []Catchment
	crsWKT     string
}

// NewSet builds a set from catchments, sorting by divide id and rejecting
// duplicates.
func NewSet(catchments []Catchment, crsWKT string) (*Set, error) {
	sorted := append([]Catchment(nil), catchments...)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DivideID < sorted[j].DivideID })
	for i := 1; i < len(sorted); i++ {
		if sorted[i].DivideID == sorted[i-1].DivideID {
			return nil, fmt.Errorf("duplicate divide_id %q", sorted[i].DivideID)
		}
	}
	return &Set{catchments: sorted, crsWKT: crsWKT}, nil
}

// Len returns the number of catchments.
func (s *Set) Len() int { return len(s.catchments) }

// At returns the catchment at index i in id order.
func (s *Set) At(i int) Catchment { return s.catchments[i] }

// All returns the catchments in id order. The returned slice must not be
// modified.
func (s *Set) All() []Catchment { return s.catchments }

// CRSWKT returns the well-known-text of the set's coordinate reference
// system.
func (s *Set) CRSWKT() string { return s.crsWKT }

// IDs returns the divide ids in sorted order.
func (s *Set) IDs() []string {
	ids := make([]string, len(s.catchments))
	for i, c := range s.catchments {
		ids[i] = c.DivideID
	}
	return ids
}

// Bounds returns the total bounding box of all catchment geometries.
func (s *Set) Bounds() orb.Bound {
	var b orb.Bound
	for i, c := range s.catchments {
		if i == 0 {
			b = c.Geometry.Bound()
			continue
		}
		b = b.Union(c.Geometry.Bound())
	}
	return b
}

// Partition splits the set into at most n contiguous partitions of nearly
// equal size, preserving id order. Fewer partitions are returned when the
// set is smaller than n.
func (s *Set) Partition(n int) [][]Catchment {
	if n > len(s.catchments) {
		n = len(s.catchments)
	}
	if n <= 0 {
		return nil
	}

	parts := make([][]Catchment, 0, n)
	base := len(s.catchments) / n
	rem := len(s.catchments) % n
	start := 0
	for i := 0; i < n; i++ {
		size := base
		if i < rem {
			size++
		}
		parts = append(parts, s.catchments[start:start+size])
		start += size
	}
	return parts
}
