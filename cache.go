package caterva

import "github.com/qri-io/caterva-go/schunk"

// chunkCache keeps the decompressed bytes of the most recently read chunk.
// It never holds data that differs from what the store would decompress.
type chunkCache struct {
	data     []byte
	nchunk   int64 // -1 when empty
	disabled bool
}

func newChunkCache(disabled bool) chunkCache {
	return chunkCache{nchunk: -1, disabled: disabled}
}

// fetch returns the decompressed chunk n, decompressing and retaining it on
// a miss. The returned slice belongs to the cache.
func (c *chunkCache) fetch(sc *schunk.SChunk, n int64) ([]byte, error) {
	if !c.disabled && c.nchunk == n && c.data != nil {
		return c.data, nil
	}
	buf := c.data
	if c.disabled || len(buf) != int(sc.ChunkSize()) {
		buf = make([]byte, sc.ChunkSize())
	}
	// buf may be the previous entry, so drop it before overwriting.
	c.invalidate()
	if err := sc.DecompressChunk(n, buf); err != nil {
		return nil, err
	}
	if !c.disabled {
		c.data, c.nchunk = buf, n
	}
	return buf, nil
}

// store makes data the entry for chunk n. data must match the store.
func (c *chunkCache) store(n int64, data []byte) {
	if c.disabled {
		return
	}
	c.data, c.nchunk = data, n
}

func (c *chunkCache) invalidate() {
	c.nchunk = -1
}

// invalidateIf drops the entry when it holds chunk n.
func (c *chunkCache) invalidateIf(n int64) {
	if c.nchunk == n {
		c.invalidate()
	}
}

func (c *chunkCache) release() {
	c.data = nil
	c.nchunk = -1
}

// readChunk returns the bytes of chunk n in which at least the blocks set in
// mask are decoded. A cached chunk is returned as is. Otherwise a full mask
// goes through the cache and a partial one decodes into a private buffer.
func (c *chunkCache) readChunk(sc *schunk.SChunk, n int64, mask []bool) ([]byte, error) {
	if !c.disabled && c.nchunk == n && c.data != nil {
		return c.data, nil
	}
	if mask == nil || allSet(mask) {
		return c.fetch(sc, n)
	}
	buf := make([]byte, sc.ChunkSize())
	if err := sc.DecompressBlocks(n, buf, mask); err != nil {
		return nil, err
	}
	return buf, nil
}

func allSet(mask []bool) bool {
	for _, m := range mask {
		if !m {
			return false
		}
	}
	return true
}
