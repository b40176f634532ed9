package tile

import "sync"

// Pool recycles tile pixel buffers via sync.Pool, one pool per byte size.
//
// Evicted tiles hand their buffers back here so that the next tile of the
// same geometry can reuse them instead of allocating.
//
// Thread safety: Pool is safe for concurrent use.
type Pool struct {
	// pools holds a *sync.Pool per buffer size in bytes.
	pools sync.Map
}

// NewPool creates a new buffer pool.
func NewPool() *Pool {
	return &Pool{}
}

// Get returns a zeroed buffer of exactly size bytes.
func (p *Pool) Get(size int) []byte {
	if size <= 0 {
		return nil
	}
	bp := p.pool(size).Get().(*[]byte)
	buf := *bp
	clear(buf)
	return buf
}

// Put returns a buffer for reuse. Nil or empty buffers are ignored.
func (p *Pool) Put(buf []byte) {
	if len(buf) == 0 {
		return
	}
	buf = buf[:cap(buf)]
	p.pool(len(buf)).Put(&buf)
}

func (p *Pool) pool(size int) *sync.Pool {
	if sp, ok := p.pools.Load(size); ok {
		return sp.(*sync.Pool)
	}
	sp := &sync.Pool{
		New: func() any {
			b := make([]byte, size)
			return &b
		},
	}
	actual, _ := p.pools.LoadOrStore(size, sp)
	return actual.(*sync.Pool)
}
