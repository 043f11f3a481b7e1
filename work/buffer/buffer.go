package buffer

import (
	"github.com/valyala/bytebufferpool"
)

// Pool is a thread-safe pool of reusable byte buffers backed by
// valyala/bytebufferpool. The gateway assembles M3U lineups and rewritten
// playlists per request; pooling the builders keeps those hot paths from
// allocating a fresh buffer for every listing poll a player issues.
type Pool struct {
	pool *bytebufferpool.Pool
}

// NewPool creates an empty buffer pool, ready for immediate use.
func NewPool() *Pool {
	return &Pool{pool: &bytebufferpool.Pool{}}
}

// Get retrieves a reset buffer from the pool.
func (p *Pool) Get() *bytebufferpool.ByteBuffer {
	buf := p.pool.Get()
	buf.Reset()
	return buf
}

// Put returns a buffer to the pool. Safe to call with nil.
func (p *Pool) Put(buf *bytebufferpool.ByteBuffer) {
	if buf != nil {
		p.pool.Put(buf)
	}
}
