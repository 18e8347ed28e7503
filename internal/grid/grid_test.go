package grid

import (
	"testing"
	"time"
)

func testMeta() *Meta {
	times := make([]int64, 24)
	for i := range times {
		times[i] = time.Date(2020, 1, 1, i, 0, 0, 0, time.UTC).UnixMilli()
	}
	return &Meta{
		Name:    "test",
		CRS:     "EPSG:5070",
		X:       []float64{0.5, 1.5, 2.5, 3.5},
		Y:       []float64{0.5, 1.5, 2.5},
		TimesMs: times,
		Vars:    []VarMeta{{Name: "T2D", Units: "K"}, {Name: "RAINRATE", Units: "mm s^-1"}},
	}
}

func TestMeta_Validate(t *testing.T) {
	if err := testMeta().Validate(); err != nil {
		t.Fatalf("valid meta rejected: %v", err)
	}

	cases := []struct {
		name   string
		mutate func(*Meta)
	}{
		{"missing name", func(m *Meta) { m.Name = "" }},
		{"missing crs", func(m *Meta) { m.CRS = "" }},
		{"missing x", func(m *Meta) { m.X = nil }},
		{"missing y", func(m *Meta) { m.Y = nil }},
		{"missing time", func(m *Meta) { m.TimesMs = nil }},
		{"no variables", func(m *Meta) { m.Vars = nil }},
		{"repeated timestamp", func(m *Meta) { m.TimesMs[5] = m.TimesMs[4] }},
		{"decreasing timestamp", func(m *Meta) { m.TimesMs[5] = m.TimesMs[4] - 1 }},
		{"repeated x coordinate", func(m *Meta) { m.X[1] = m.X[0] }},
		{"descending x", func(m *Meta) {
			for i, j := 0, len(m.X)-1; i < j; i, j = i+1, j-1 {
				m.X[i], m.X[j] = m.X[j], m.X[i]
			}
		}},
		{"repeated y coordinate", func(m *Meta) { m.Y[1] = m.Y[0] }},
		{"descending y", func(m *Meta) {
			for i, j := 0, len(m.Y)-1; i < j; i, j = i+1, j-1 {
				m.Y[i], m.Y[j] = m.Y[j], m.Y[i]
			}
		}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := testMeta()
			tc.mutate(m)
			if err := m.Validate(); err == nil {
				t.Error("expected validation error")
			}
		})
	}
}

func TestMeta_CoversRange(t *testing.T) {
	m := testMeta()

	inside := time.Date(2020, 1, 1, 5, 0, 0, 0, time.UTC)
	end := time.Date(2020, 1, 1, 23, 0, 0, 0, time.UTC)
	if !m.CoversRange(inside, end) {
		t.Error("range inside extent reported uncovered")
	}

	before := time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC)
	if m.CoversRange(before, end) {
		t.Error("range starting before extent reported covered")
	}

	after := time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)
	if m.CoversRange(inside, after) {
		t.Error("range ending after extent reported covered")
	}
}

func TestMeta_ClampTimeRange(t *testing.T) {
	m := testMeta()

	start := time.Date(2019, 12, 1, 0, 0, 0, 0, time.UTC)
	end := time.Date(2020, 2, 1, 0, 0, 0, 0, time.UTC)
	cs, ce := m.ClampTimeRange(start, end)

	if !cs.Equal(m.TimeStart()) {
		t.Errorf("clamped start %v, want %v", cs, m.TimeStart())
	}
	if !ce.Equal(m.TimeEnd()) {
		t.Errorf("clamped end %v, want %v", ce, m.TimeEnd())
	}

	// A range inside the extent comes back untouched.
	start = time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC)
	end = time.Date(2020, 1, 1, 7, 0, 0, 0, time.UTC)
	cs, ce = m.ClampTimeRange(start, end)
	if !cs.Equal(start) || !ce.Equal(end) {
		t.Errorf("interior range was clamped: (%v, %v)", cs, ce)
	}
}

func TestMeta_TimeIndexRange(t *testing.T) {
	m := testMeta()

	i0, i1 := m.TimeIndexRange(
		time.Date(2020, 1, 1, 3, 0, 0, 0, time.UTC),
		time.Date(2020, 1, 1, 7, 0, 0, 0, time.UTC),
	)
	if i0 != 3 || i1 != 8 {
		t.Errorf("got [%d,%d), want [3,8)", i0, i1)
	}

	// Inclusive end: a timestamp exactly at end is included.
	i0, i1 = m.TimeIndexRange(m.TimeStart(), m.TimeEnd())
	if i0 != 0 || i1 != len(m.TimesMs) {
		t.Errorf("full range: got [%d,%d), want [0,%d)", i0, i1, len(m.TimesMs))
	}
}

func TestMeta_ClipWindows(t *testing.T) {
	m := testMeta()

	x, y := m.ClipWindows(Bounds{MinX: 1.0, MinY: 0.0, MaxX: 3.0, MaxY: 2.0})
	if x.Start != 1 || x.End != 3 {
		t.Errorf("x window [%d,%d), want [1,3)", x.Start, x.End)
	}
	if y.Start != 0 || y.End != 2 {
		t.Errorf("y window [%d,%d), want [0,2)", y.Start, y.End)
	}

	// Box entirely off the grid yields empty windows.
	x, y = m.ClipWindows(Bounds{MinX: 100, MinY: 100, MaxX: 200, MaxY: 200})
	if x.Len() != 0 || y.Len() != 0 {
		t.Errorf("off-grid box produced windows x=%v y=%v", x, y)
	}
}

func TestMeta_Clip(t *testing.T) {
	m := testMeta()

	clipped := m.Clip(IndexWindow{Start: 1, End: 3}, IndexWindow{Start: 0, End: 2}, 2, 6)
	if len(clipped.X) != 2 || len(clipped.Y) != 2 || len(clipped.TimesMs) != 4 {
		t.Fatalf("clipped shape x=%d y=%d t=%d, want 2/2/4",
			len(clipped.X), len(clipped.Y), len(clipped.TimesMs))
	}
	if clipped.X[0] != 1.5 || clipped.Y[0] != 0.5 {
		t.Errorf("clipped origin (%g, %g), want (1.5, 0.5)", clipped.X[0], clipped.Y[0])
	}
	if clipped.TimesMs[0] != m.TimesMs[2] {
		t.Errorf("clipped time start %d, want %d", clipped.TimesMs[0], m.TimesMs[2])
	}

	// Clipping copies; mutating the clip must not touch the original.
	clipped.X[0] = -1
	if m.X[1] == -1 {
		t.Error("clip aliases the original x axis")
	}
}

func TestMeta_CellSize(t *testing.T) {
	m := testMeta()
	dx, dy := m.CellSize()
	if dx != 1 || dy != 1 {
		t.Errorf("cell size (%g, %g), want (1, 1)", dx, dy)
	}
}

func TestMeta_VarLookups(t *testing.T) {
	m := testMeta()

	if !m.HasVar("T2D") || m.HasVar("U2D") {
		t.Error("HasVar wrong for T2D/U2D")
	}
	if got := m.VarUnits("RAINRATE"); got != "mm s^-1" {
		t.Errorf("units %q, want %q", got, "mm s^-1")
	}
	if got := m.VarUnits("U2D"); got != "" {
		t.Errorf("absent variable has units %q", got)
	}
	names := m.VarNames()
	if len(names) != 2 || names[0] != "T2D" || names[1] != "RAINRATE" {
		t.Errorf("var names %v", names)
	}
}

func TestFrame_Window(t *testing.T) {
	f := NewFrame([]int64{0, 3600_000}, 3, 4)
	for tt := 0; tt < 2; tt++ {
		for iy := 0; iy < 3; iy++ {
			for ix := 0; ix < 4; ix++ {
				f.Set(tt, iy, ix, float32(tt*100+iy*10+ix))
			}
		}
	}

	w := f.Window(IndexWindow{Start: 1, End: 3}, IndexWindow{Start: 0, End: 2})
	if w.NY != 2 || w.NX != 2 {
		t.Fatalf("window shape (%d, %d), want (2, 2)", w.NY, w.NX)
	}
	for tt := 0; tt < 2; tt++ {
		for iy := 0; iy < 2; iy++ {
			for ix := 0; ix < 2; ix++ {
				want := float32(tt*100 + iy*10 + (ix + 1))
				if got := w.At(tt, iy, ix); got != want {
					t.Errorf("window(%d,%d,%d) = %g, want %g", tt, iy, ix, got, want)
				}
			}
		}
	}
}

func TestFrame_Slice(t *testing.T) {
	f := NewFrame([]int64{0, 1, 2, 3}, 1, 2)
	for tt := 0; tt < 4; tt++ {
		f.Set(tt, 0, 0, float32(tt))
		f.Set(tt, 0, 1, float32(tt)+0.5)
	}

	s, err := f.Slice(1, 3)
	if err != nil {
		t.Fatalf("slice: %v", err)
	}
	if s.NumTimes() != 2 || s.At(0, 0, 0) != 1 || s.At(1, 0, 1) != 2.5 {
		t.Errorf("slice contents wrong: %v", s.Data)
	}

	if _, err := f.Slice(3, 2); err == nil {
		t.Error("expected error for inverted slice")
	}
	if _, err := f.Slice(0, 5); err == nil {
		t.Error("expected error for out-of-range slice")
	}
}
