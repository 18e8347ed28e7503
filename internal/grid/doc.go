// Package grid defines the gridded-dataset data model shared by the
// forcing pipeline.
//
// Key types:
//   - Meta: grid geometry, time axis, and variable metadata
//   - Frame: one (time, y, x) float32 block held in memory
//   - Source: a lazy, chunk-addressable gridded dataset
package grid
