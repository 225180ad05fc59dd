package uploader

// Chunk is a contiguous byte range [Start, End) of a file, the unit of
// transfer and retry. The range is immutable once planned; Attempts and
// Completed are mutated only by the scheduler.
type Chunk struct {
	// Index is the zero-based position of the chunk. It is the
	// authoritative ordering key for reassembly.
	Index int
	// Start is the inclusive byte offset of the chunk.
	Start int64
	// End is the exclusive byte offset of the chunk.
	End int64
	// Attempts counts failed transport attempts for this chunk.
	Attempts int
	// Completed is set exactly once, on transport success.
	Completed bool
}

// Size returns the chunk length in bytes.
func (c *Chunk) Size() int64 {
	return c.End - c.Start
}

// planChunks splits a file of the given size into ceil(size/chunkSize)
// chunks with ranges [i*chunkSize, min((i+1)*chunkSize, size)). It is a pure
// function of its inputs. A zero-byte file yields no chunks.
func planChunks(size, chunkSize int64) []*Chunk {
	if size <= 0 || chunkSize <= 0 {
		return nil
	}

	count := size / chunkSize
	if size%chunkSize != 0 {
		count++
	}

	chunks := make([]*Chunk, 0, count)
	for i := int64(0); i < count; i++ {
		start := i * chunkSize
		end := start + chunkSize
		if end > size {
			end = size
		}
		chunks = append(chunks, &Chunk{
			Index: int(i),
			Start: start,
			End:   end,
		})
	}

	return chunks
}
