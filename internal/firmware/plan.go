// SPDX-License-Identifier: GPL-3.0-only

package firmware

import (
	"errors"
	"fmt"
	"iter"
)

// ErrInvalidChunkSize is returned when a plan is requested with a non-positive chunk size.
var ErrInvalidChunkSize = errors.New("chunk size must be positive")

// Chunk is a view over a contiguous range of an Image.
type Chunk struct {
	Index  int
	Offset int
	Data   []byte
}

// Len returns the number of bytes in the chunk.
func (c Chunk) Len() int {
	return len(c.Data)
}

// Plan splits an Image into ordered chunks of at most ChunkSize bytes.
// Chunks are produced on demand; nothing is copied.
type Plan struct {
	image     *Image
	chunkSize int
	count     int
}

// NewPlan creates a transfer plan for image.
func NewPlan(image *Image, chunkSize int) (*Plan, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidChunkSize, chunkSize)
	}
	if image == nil || image.Len() == 0 {
		return nil, ErrEmptyImage
	}
	return &Plan{
		image:     image,
		chunkSize: chunkSize,
		count:     (image.Len() + chunkSize - 1) / chunkSize,
	}, nil
}

// ChunkSize returns the configured maximum chunk size.
func (p *Plan) ChunkSize() int {
	return p.chunkSize
}

// Count returns the number of chunks, ceil(len(image) / chunkSize).
func (p *Plan) Count() int {
	return p.count
}

// Chunk returns the chunk at index without producing the preceding ones.
func (p *Plan) Chunk(index int) (Chunk, error) {
	if index < 0 || index >= p.count {
		return Chunk{}, fmt.Errorf("chunk index %d out of range [0, %d)", index, p.count)
	}
	start := index * p.chunkSize
	end := min(start+p.chunkSize, p.image.Len())
	return Chunk{
		Index:  index,
		Offset: start,
		Data:   p.image.data[start:end:end],
	}, nil
}

// All yields every chunk in ascending index order. The sequence can be
// iterated any number of times and always produces the same chunks.
func (p *Plan) All() iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		for i := 0; i < p.count; i++ {
			c, _ := p.Chunk(i)
			if !yield(c) {
				return
			}
		}
	}
}
