package pipeline

// PcmChunker slices a 16-bit mono PCM byte stream into fixed-duration
// chunks. Partial trailing data is retained across calls, so the
// concatenation of all returned chunks plus the residue always equals the
// concatenation of everything pushed.
type PcmChunker struct {
	chunkBytes int
	buf        []byte
}

// NewPcmChunker creates a chunker producing frameMs-long chunks of s16le
// audio at sampleRate Hz.
func NewPcmChunker(sampleRate, frameMs int) *PcmChunker {
	return &PcmChunker{chunkBytes: sampleRate * frameMs / 1000 * 2}
}

// ChunkBytes returns the size of every produced chunk.
func (c *PcmChunker) ChunkBytes() int { return c.chunkBytes }

// Push appends pcm to the internal buffer and returns as many full chunks as
// fit. Each returned chunk is a fresh allocation of exactly ChunkBytes bytes.
func (c *PcmChunker) Push(pcm []byte) [][]byte {
	c.buf = append(c.buf, pcm...)
	if len(c.buf) < c.chunkBytes {
		return nil
	}

	n := len(c.buf) / c.chunkBytes
	out := make([][]byte, 0, n)
	for i := 0; i < n; i++ {
		chunk := make([]byte, c.chunkBytes)
		copy(chunk, c.buf[i*c.chunkBytes:])
		out = append(out, chunk)
	}
	c.buf = append(c.buf[:0], c.buf[n*c.chunkBytes:]...)
	return out
}

// Pending returns the number of residue bytes held back, always strictly
// less than ChunkBytes.
func (c *PcmChunker) Pending() int { return len(c.buf) }
