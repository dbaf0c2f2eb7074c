// Package window holds the most recent N sensor samples that make up one
// classifier input.
package window

import (
	"errors"
	"fmt"
	"sync"
)

// ErrFeatureCount is returned by Push when a sample's width differs from
// the buffer's feature count.
var ErrFeatureCount = errors.New("sample feature count mismatch")

// Buffer is a fixed-capacity FIFO of samples backed by a single arena of
// capacity*features values. Pushing into a full buffer overwrites the
// oldest row. The mutex is the only synchronisation point between the
// ingesting loop and readers such as the status endpoint.
type Buffer struct {
	mu       sync.Mutex
	data     []float64 // len = capacity * features, row-major
	capacity int
	features int
	head     int // next row to write
	size     int // rows currently stored
}

// New creates an empty buffer holding up to capacity samples of the given
// width.
func New(capacity, features int) (*Buffer, error) {
	if capacity < 1 {
		return nil, fmt.Errorf("window capacity must be positive, got %d", capacity)
	}
	if features < 1 {
		return nil, fmt.Errorf("window feature count must be positive, got %d", features)
	}
	return &Buffer{
		data:     make([]float64, capacity*features),
		capacity: capacity,
		features: features,
	}, nil
}

// Push appends a sample, evicting the oldest one when the buffer is full.
// The values are copied, so the caller may reuse the slice.
func (b *Buffer) Push(s []float64) error {
	if len(s) != b.features {
		return fmt.Errorf("%w: got %d, want %d", ErrFeatureCount, len(s), b.features)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	off := b.head * b.features
	copy(b.data[off:off+b.features], s)
	b.head = (b.head + 1) % b.capacity
	if b.size < b.capacity {
		b.size++
	}
	return nil
}

// IsFull reports whether the buffer has reached capacity. Once true it
// stays true for the buffer's lifetime.
func (b *Buffer) IsFull() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size == b.capacity
}

// Len returns the number of samples currently held.
func (b *Buffer) Len() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.size
}

// Cap returns the configured capacity.
func (b *Buffer) Cap() int { return b.capacity }

// Features returns the per-sample width.
func (b *Buffer) Features() int { return b.features }

// Snapshot returns an independent copy of the stored samples ordered
// oldest first. The result does not change when the buffer is pushed to
// afterwards.
func (b *Buffer) Snapshot() [][]float64 {
	b.mu.Lock()
	defer b.mu.Unlock()

	out := make([][]float64, b.size)
	flat := make([]float64, b.size*b.features)
	start := (b.head - b.size + b.capacity) % b.capacity
	for i := 0; i < b.size; i++ {
		row := (start + i) % b.capacity
		dst := flat[i*b.features : (i+1)*b.features]
		copy(dst, b.data[row*b.features:(row+1)*b.features])
		out[i] = dst
	}
	return out
}
