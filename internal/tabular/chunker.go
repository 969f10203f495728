package tabular

import (
	"errors"
	"io"
)

const (
	// AutoChunkThreshold is the source size above which rows are read in chunks
	// even when no chunk size is configured.
	AutoChunkThreshold int64 = 200 * 1024 * 1024
	// AutoChunkRows is the chunk size used above AutoChunkThreshold.
	AutoChunkRows = 50000
)

// ChunkSizeFor returns the number of rows per chunk for src: configured when
// positive, AutoChunkRows for large sources, or 0 meaning "read everything at once".
func ChunkSizeFor(src Source, configured int) int {
	if configured > 0 {
		return configured
	}
	if src.Size() > AutoChunkThreshold {
		return AutoChunkRows
	}
	return 0
}

// Chunker groups the rows of a Source into bounded slices.
type Chunker struct {
	src       Source
	chunkSize int
	done      bool
}

// NewChunker creates a chunker returning up to chunkSize rows per call.
// A chunkSize <= 0 returns all remaining rows in a single chunk.
func NewChunker(src Source, chunkSize int) *Chunker {
	return &Chunker{src: src, chunkSize: chunkSize}
}

// Next returns the next chunk, or io.EOF once the source is exhausted.
// The final chunk may be shorter than the chunk size.
func (c *Chunker) Next() ([][]string, error) {
	if c.done {
		return nil, io.EOF
	}
	capHint := c.chunkSize
	if capHint <= 0 {
		capHint = 1024
	}
	chunk := make([][]string, 0, capHint)
	for c.chunkSize <= 0 || len(chunk) < c.chunkSize {
		row, err := c.src.Next()
		if errors.Is(err, io.EOF) {
			c.done = true
			break
		}
		if err != nil {
			return nil, err
		}
		chunk = append(chunk, row)
	}
	if len(chunk) == 0 {
		return nil, io.EOF
	}
	return chunk, nil
}
