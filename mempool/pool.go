package mempool

import (
	"github.com/pkg/errors"
)

// A ChunkPool hands out fixed-size byte chunks for frame payload buffers.
// Its footprint is bounded and deterministic: at most maxChunks chunks are
// retained. Get falls back to a fresh allocation when the pool is drained,
// and Put drops the chunk when the pool is already full, so callers never
// block and never fail.
type ChunkPool struct {
	// Stores all available chunks.
	chunks chan []byte

	// The size of each chunk, in bytes.
	chunkSize int
}

// Creates a new chunk pool retaining up to maxChunks chunks of chunkSize
// bytes each. The pool starts empty and fills as chunks are returned.
func NewChunkPool(maxChunks, chunkSize int) (*ChunkPool, error) {
	if chunkSize < 1 {
		return nil, errors.Errorf("invalid chunkSize %d", chunkSize)
	}
	if maxChunks < 1 {
		return nil, errors.Errorf("invalid maxChunks %d", maxChunks)
	}

	return &ChunkPool{
		chunks:    make(chan []byte, maxChunks),
		chunkSize: chunkSize,
	}, nil
}

// Get returns a zeroed chunk of length ChunkSize.
func (p *ChunkPool) Get() []byte {
	select {
	case chunk := <-p.chunks:
		for i := range chunk {
			chunk[i] = 0
		}
		return chunk
	default:
		return make([]byte, p.chunkSize)
	}
}

// Put returns a chunk to the pool. Chunks of the wrong size are dropped, in
// case a caller somehow hands back storage the pool never produced.
func (p *ChunkPool) Put(chunk []byte) {
	if len(chunk) != p.chunkSize {
		return
	}
	select {
	case p.chunks <- chunk:
	default:
	}
}

func (p *ChunkPool) ChunkSize() int {
	return p.chunkSize
}

// Available reports how many chunks the pool currently retains.
func (p *ChunkPool) Available() int {
	return len(p.chunks)
}
