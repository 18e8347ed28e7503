// Package shmem provides a file-backed shared memory region for staging one
// (variable, chunk) slice of gridded data. The creator writes the region
// once; aggregation workers open independent read-only views of the same
// mapping. The creator releases the region after all readers finish, on
// every exit path.
package shmem

import (
	"fmt"
	"os"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"
)

// Handle identifies a staged region so that readers can open it.
type Handle struct {
	Path string
	Rows int // timesteps
	Cols int // flattened cells per timestep
}

// SizeBytes returns the byte size of the region.
func (h Handle) SizeBytes() int64 {
	return int64(h.Rows) * int64(h.Cols) * 4
}

// Buffer is a writable shared region owned by its creator.
type Buffer struct {
	mu       sync.Mutex
	path     string
	file     *os.File
	data     []byte
	rows     int
	cols     int
	released bool
}

// Create allocates a region in dir sized exactly rows*cols*4 bytes
// (float32) and maps it read-write.
func Create(dir string, rows, cols int) (*Buffer, error) {
	if rows <= 0 || cols <= 0 {
		return nil, fmt.Errorf("invalid region shape (%d, %d)", rows, cols)
	}

	f, err := os.CreateTemp(dir, "stage-*.buf")
	if err != nil {
		return nil, fmt.Errorf("create region file: %w", err)
	}

	size := int64(rows) * int64(cols) * 4
	if err := f.Truncate(size); err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("size region file: %w", err)
	}

	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		os.Remove(f.Name())
		return nil, fmt.Errorf("map region: %w", err)
	}

	return &Buffer{
		path: f.Name(),
		file: f,
		data: data,
		rows: rows,
		cols: cols,
	}, nil
}

// Handle returns the handle readers use to open the region.
func (b *Buffer) Handle() Handle {
	return Handle{Path: b.path, Rows: b.rows, Cols: b.cols}
}

// Floats returns the writable float32 view of the whole region.
func (b *Buffer) Floats() []float32 {
	return unsafe.Slice((*float32)(unsafe.Pointer(&b.data[0])), b.rows*b.cols)
}

// Release unmaps the region, closes it, and removes the backing file.
// It is idempotent and safe to defer alongside later explicit calls.
func (b *Buffer) Release() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.released {
		return nil
	}
	b.released = true

	var first error
	if err := unix.Munmap(b.data); err != nil && first == nil {
		first = fmt.Errorf("unmap region: %w", err)
	}
	b.data = nil
	if err := b.file.Close(); err != nil && first == nil {
		first = fmt.Errorf("close region file: %w", err)
	}
	if err := os.Remove(b.path); err != nil && first == nil {
		first = fmt.Errorf("remove region file: %w", err)
	}
	return first
}

// View is a read-only mapping of a staged region.
type View struct {
	file   *os.File
	data   []byte
	floats []float32
	rows   int
	cols   int
}

// Open maps the region identified by the handle read-only.
func Open(h Handle) (*View, error) {
	f, err := os.Open(h.Path)
	if err != nil {
		return nil, fmt.Errorf("open region file: %w", err)
	}

	size := h.SizeBytes()
	data, err := unix.Mmap(int(f.Fd()), 0, int(size), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("map region read-only: %w", err)
	}

	return &View{
		file:   f,
		data:   data,
		floats: unsafe.Slice((*float32)(unsafe.Pointer(&data[0])), h.Rows*h.Cols),
		rows:   h.Rows,
		cols:   h.Cols,
	}, nil
}

// Rows returns the number of timesteps in the region.
func (v *View) Rows() int { return v.rows }

// Cols returns the number of flattened cells per timestep.
func (v *View) Cols() int { return v.cols }

// Row returns the flattened cell values of timestep t. The returned slice
// aliases the read-only mapping and must not be written.
func (v *View) Row(t int) []float32 {
	return v.floats[t*v.cols : (t+1)*v.cols]
}

// At returns the value at (t, cell).
func (v *View) At(t, cell int) float32 {
	return v.floats[t*v.cols+cell]
}

// Close unmaps the view. The backing file is owned by the Buffer creator.
func (v *View) Close() error {
	if v.data == nil {
		return nil
	}
	err := unix.Munmap(v.data)
	v.data = nil
	v.floats = nil
	if cerr := v.file.Close(); err == nil {
		err = cerr
	}
	return err
}
