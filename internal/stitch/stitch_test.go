package stitch

import (
	"math"
	"os"
	"testing"

	"github.com/kmfadden/gridforce/internal/zonal"
)

func partial(timesMs []int64, ids []string, values []float32) *zonal.Partial {
	return &zonal.Partial{TimesMs: timesMs, DivideIDs: ids, Values: values}
}

func TestWritePartial_RoundTrip(t *testing.T) {
	dir := t.TempDir()

	// 2 timesteps x 3 catchments, time-major.
	p := partial(
		[]int64{0, 3600_000},
		[]string{"cat-1", "cat-2", "cat-3"},
		[]float32{1, 2, 3, 4, 5, 6},
	)
	if err := WritePartial(dir, "T2D", 0, p); err != nil {
		t.Fatalf("write partial: %v", err)
	}

	rows, timesMs, err := readSeriesFile(PartialPath(dir, "T2D", 0))
	if err != nil {
		t.Fatalf("read partial: %v", err)
	}
	if len(timesMs) != 2 || timesMs[1] != 3600_000 {
		t.Fatalf("time axis %v", timesMs)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want 3", len(rows))
	}
	// Rows are per catchment, values transposed to series along time.
	want := map[string][]float32{
		"cat-1": {1, 4},
		"cat-2": {2, 5},
		"cat-3": {3, 6},
	}
	for _, r := range rows {
		w := want[r.DivideID]
		if len(r.Values) != len(w) || r.Values[0] != w[0] || r.Values[1] != w[1] {
			t.Errorf("%s series %v, want %v", r.DivideID, r.Values, w)
		}
	}
}

func TestMergeVariable_ChunkOrder(t *testing.T) {
	dir := t.TempDir()
	ids := []string{"cat-1", "cat-2"}

	// Write the second chunk first; merge must still order by chunk index.
	if err := WritePartial(dir, "T2D", 1, partial([]int64{7200_000, 10800_000}, ids, []float32{30, 40, 50, 60})); err != nil {
		t.Fatalf("write chunk 1: %v", err)
	}
	if err := WritePartial(dir, "T2D", 0, partial([]int64{0, 3600_000}, ids, []float32{1, 2, 10, 20})); err != nil {
		t.Fatalf("write chunk 0: %v", err)
	}

	if err := MergeVariable(dir, "T2D", 2); err != nil {
		t.Fatalf("merge: %v", err)
	}

	rows, timesMs, err := readSeriesFile(MergedPath(dir, "T2D"))
	if err != nil {
		t.Fatalf("read merged: %v", err)
	}
	wantTimes := []int64{0, 3600_000, 7200_000, 10800_000}
	for i, ms := range wantTimes {
		if timesMs[i] != ms {
			t.Fatalf("time axis %v, want %v", timesMs, wantTimes)
		}
	}
	want := map[string][]float32{
		"cat-1": {1, 10, 30, 50},
		"cat-2": {2, 20, 40, 60},
	}
	for _, r := range rows {
		w := want[r.DivideID]
		for i := range w {
			if r.Values[i] != w[i] {
				t.Errorf("%s series %v, want %v", r.DivideID, r.Values, w)
				break
			}
		}
	}

	// Partials are gone after the merge.
	if _, err := os.Stat(PartialPath(dir, "T2D", 0)); !os.IsNotExist(err) {
		t.Error("chunk 0 partial not removed")
	}
	if _, err := os.Stat(PartialPath(dir, "T2D", 1)); !os.IsNotExist(err) {
		t.Error("chunk 1 partial not removed")
	}
}

func TestMergeVariable_OrderMismatch(t *testing.T) {
	dir := t.TempDir()

	if err := WritePartial(dir, "T2D", 0, partial([]int64{0}, []string{"cat-1", "cat-2"}, []float32{1, 2})); err != nil {
		t.Fatalf("write chunk 0: %v", err)
	}
	if err := WritePartial(dir, "T2D", 1, partial([]int64{3600_000}, []string{"cat-2", "cat-1"}, []float32{3, 4})); err != nil {
		t.Fatalf("write chunk 1: %v", err)
	}

	if err := MergeVariable(dir, "T2D", 2); err == nil {
		t.Fatal("expected error for catchment order mismatch")
	}
}

func TestMergeVariable_MissingChunk(t *testing.T) {
	dir := t.TempDir()
	if err := WritePartial(dir, "T2D", 0, partial([]int64{0}, []string{"cat-1"}, []float32{1})); err != nil {
		t.Fatalf("write: %v", err)
	}
	if err := MergeVariable(dir, "T2D", 2); err == nil {
		t.Fatal("expected error for missing chunk 1")
	}
}

func TestWritePartial_NaNSurvives(t *testing.T) {
	dir := t.TempDir()
	nan := float32(math.NaN())

	if err := WritePartial(dir, "T2D", 0, partial([]int64{0}, []string{"cat-1"}, []float32{nan})); err != nil {
		t.Fatalf("write: %v", err)
	}
	rows, _, err := readSeriesFile(PartialPath(dir, "T2D", 0))
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if !math.IsNaN(float64(rows[0].Values[0])) {
		t.Errorf("NaN not preserved: %g", rows[0].Values[0])
	}
}
