package zonal

import (
	"math"

	"github.com/DataDog/sketches-go/ddsketch"
)

// Summary accumulates the distribution of aggregated values for one
// variable across all chunks, for the end-of-variable report. Percentiles
// come from a DDSketch with 1% relative accuracy.
type Summary struct {
	sketch *ddsketch.DDSketch
	count  int64
	nan    int64
	min    float64
	max    float64
	sum    float64
}

// NewSummary returns an empty summary.
func NewSummary() *Summary {
	s := &Summary{
		min: math.MaxFloat64,
		max: -math.MaxFloat64,
	}
	if sketch, err := ddsketch.NewDefaultDDSketch(0.01); err == nil {
		s.sketch = sketch
	}
	return s
}

// AddPartial folds a chunk's aggregates into the summary. NaN values are
// counted separately; the sketch only sees defined aggregates.
func (s *Summary) AddPartial(p *Partial) {
	for _, v := range p.Values {
		f := float64(v)
		if math.IsNaN(f) {
			s.nan++
			continue
		}
		s.count++
		s.sum += f
		if f < s.min {
			s.min = f
		}
		if f > s.max {
			s.max = f
		}
		if s.sketch != nil {
			s.sketch.Add(f)
		}
	}
}

// Count returns the number of defined aggregates seen.
func (s *Summary) Count() int64 { return s.count }

// NaNCount returns the number of NaN aggregates seen.
func (s *Summary) NaNCount() int64 { return s.nan }

// LogAttrs returns key-value pairs describing the distribution, suitable
// for structured logging.
func (s *Summary) LogAttrs() []any {
	attrs := []any{"count", s.count, "nan", s.nan}
	if s.count == 0 {
		return attrs
	}
	attrs = append(attrs,
		"min", s.min,
		"max", s.max,
		"avg", s.sum/float64(s.count),
	)
	if s.sketch != nil {
		if qs, err := s.sketch.GetValuesAtQuantiles([]float64{0.5, 0.99}); err == nil {
			attrs = append(attrs, "p50", qs[0], "p99", qs[1])
		}
	}
	return attrs
}
