package shmem

import (
	"os"
	"testing"
)

func TestBuffer_WriteThenRead(t *testing.T) {
	buf, err := Create(t.TempDir(), 3, 4)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer buf.Release()

	floats := buf.Floats()
	if len(floats) != 12 {
		t.Fatalf("expected 12 floats, got %d", len(floats))
	}
	for i := range floats {
		floats[i] = float32(i) * 0.5
	}

	view, err := Open(buf.Handle())
	if err != nil {
		t.Fatalf("open view: %v", err)
	}
	defer view.Close()

	if view.Rows() != 3 || view.Cols() != 4 {
		t.Fatalf("view shape (%d, %d), want (3, 4)", view.Rows(), view.Cols())
	}
	for tt := 0; tt < 3; tt++ {
		row := view.Row(tt)
		for c := 0; c < 4; c++ {
			want := float32(tt*4+c) * 0.5
			if row[c] != want {
				t.Errorf("row(%d)[%d] = %g, want %g", tt, c, row[c], want)
			}
			if got := view.At(tt, c); got != want {
				t.Errorf("at(%d, %d) = %g, want %g", tt, c, got, want)
			}
		}
	}
}

func TestBuffer_ConcurrentViews(t *testing.T) {
	buf, err := Create(t.TempDir(), 2, 2)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer buf.Release()
	copy(buf.Floats(), []float32{1, 2, 3, 4})

	// Two independent views of the same region see the same data.
	v1, err := Open(buf.Handle())
	if err != nil {
		t.Fatalf("open first view: %v", err)
	}
	defer v1.Close()
	v2, err := Open(buf.Handle())
	if err != nil {
		t.Fatalf("open second view: %v", err)
	}
	defer v2.Close()

	if v1.At(1, 0) != 3 || v2.At(1, 0) != 3 {
		t.Errorf("views disagree: %g vs %g", v1.At(1, 0), v2.At(1, 0))
	}
}

func TestBuffer_ReleaseRemovesFile(t *testing.T) {
	buf, err := Create(t.TempDir(), 1, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	path := buf.Handle().Path

	if _, err := os.Stat(path); err != nil {
		t.Fatalf("backing file missing before release: %v", err)
	}
	if err := buf.Release(); err != nil {
		t.Fatalf("release: %v", err)
	}
	if _, err := os.Stat(path); !os.IsNotExist(err) {
		t.Fatalf("backing file still present after release: %v", err)
	}

	// Release is idempotent.
	if err := buf.Release(); err != nil {
		t.Fatalf("second release: %v", err)
	}
}

func TestBuffer_InvalidShape(t *testing.T) {
	if _, err := Create(t.TempDir(), 0, 4); err == nil {
		t.Fatal("expected error for zero rows")
	}
	if _, err := Create(t.TempDir(), 4, -1); err == nil {
		t.Fatal("expected error for negative cols")
	}
}

func TestHandle_SizeBytes(t *testing.T) {
	h := Handle{Rows: 3, Cols: 5}
	if got := h.SizeBytes(); got != 60 {
		t.Fatalf("size = %d, want 60", got)
	}
}

func TestView_CloseIdempotent(t *testing.T) {
	buf, err := Create(t.TempDir(), 1, 1)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	defer buf.Release()

	view, err := Open(buf.Handle())
	if err != nil {
		t.Fatalf("open view: %v", err)
	}
	if err := view.Close(); err != nil {
		t.Fatalf("close: %v", err)
	}
	if err := view.Close(); err != nil {
		t.Fatalf("second close: %v", err)
	}
}
