package zonal

import (
	"math"
	"testing"
)

func TestSummary_AddPartial(t *testing.T) {
	s := NewSummary()
	nan := float32(math.NaN())

	s.AddPartial(&Partial{
		TimesMs:   []int64{0, 3600_000},
		DivideIDs: []string{"cat-1", "cat-2"},
		Values:    []float32{1, nan, 3, nan},
	})

	if s.Count() != 2 {
		t.Errorf("count %d, want 2", s.Count())
	}
	if s.NaNCount() != 2 {
		t.Errorf("nan count %d, want 2", s.NaNCount())
	}

	attrs := s.LogAttrs()
	vals := make(map[string]any)
	for i := 0; i+1 < len(attrs); i += 2 {
		vals[attrs[i].(string)] = attrs[i+1]
	}
	if vals["min"] != 1.0 || vals["max"] != 3.0 || vals["avg"] != 2.0 {
		t.Errorf("attrs %v", vals)
	}
}

func TestSummary_Empty(t *testing.T) {
	s := NewSummary()
	attrs := s.LogAttrs()
	// An empty summary reports the zero counts and nothing else.
	if len(attrs) != 4 {
		t.Errorf("attrs %v", attrs)
	}
}

func TestSummary_Quantiles(t *testing.T) {
	s := NewSummary()
	values := make([]float32, 1000)
	for i := range values {
		values[i] = float32(i + 1)
	}
	s.AddPartial(&Partial{
		TimesMs:   []int64{0},
		DivideIDs: make([]string, 1000),
		Values:    values,
	})

	attrs := s.LogAttrs()
	vals := make(map[string]any)
	for i := 0; i+1 < len(attrs); i += 2 {
		vals[attrs[i].(string)] = attrs[i+1]
	}
	p50, ok := vals["p50"].(float64)
	if !ok {
		t.Fatalf("no p50 in %v", vals)
	}
	// 1% relative accuracy.
	if p50 < 480 || p50 > 520 {
		t.Errorf("p50 = %g, want ~500", p50)
	}
	p99, ok := vals["p99"].(float64)
	if !ok || p99 < 960 || p99 > 1010 {
		t.Errorf("p99 = %v, want ~990", vals["p99"])
	}
}
