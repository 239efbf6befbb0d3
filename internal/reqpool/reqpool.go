// Package reqpool provides the arena and free-list machinery behind the
// trunk's req_pool_headers/req_pool_size/req_cleanup_delay config knobs
// (spec.md §6). It is adapted from the teacher's internal/pkg/buffer,
// which pre-sizes a sync.Pool of scratch byte slices for TCP/UDP framing;
// here the same idea backs per-request scratch buffers, and the "how long
// to keep a completed item before releasing it" half is adapted onto
// github.com/patrickmn/go-cache's TTL eviction instead of a hand-rolled
// timer list.
package reqpool

import (
	"sync"
	"time"

	cache "github.com/patrickmn/go-cache"
)

// Pool hands out scratch buffers sized per headers/size hints and parks
// freed handles on a TTL free list before recycling them back into
// circulation.
type Pool struct {
	bufs    sync.Pool
	freed   *cache.Cache
	headers int
}

// New creates a Pool. headerBytes sizes each scratch buffer (a hint for how
// much header room request_mux implementations typically need before the
// payload); prewarm pre-populates the underlying sync.Pool with that many
// buffers so the first req_pool_size requests never pay an allocation.
// cleanupDelay is req_cleanup_delay: how long a freed handle's scratch
// buffer is kept on the free list before it is recycled back into bufs.
func New(headerBytes, prewarm int, cleanupDelay time.Duration) *Pool {
	if headerBytes <= 0 {
		headerBytes = 64
	}
	p := &Pool{
		headers: headerBytes,
		freed:   cache.New(cleanupDelay, cleanupDelay/2+time.Second),
	}
	p.bufs.New = func() any {
		b := make([]byte, 0, headerBytes)
		return &b
	}
	for i := 0; i < prewarm; i++ {
		p.bufs.Put(p.bufs.New())
	}
	// Whatever removes an item from the free list — the janitor expiring it
	// or Reclaim deleting it early — hands the buffer back to bufs so it is
	// actually recycled rather than left for GC.
	p.freed.OnEvicted(func(_ string, v any) { p.bufs.Put(v) })
	return p
}

// Get returns a scratch buffer, reused from the pool when available.
func (p *Pool) Get() *[]byte {
	buf := p.bufs.Get().(*[]byte)
	*buf = (*buf)[:0]
	return buf
}

// Release parks a freed request's scratch buffer under key, keyed by the
// request's sequence number, for the pool's cleanupDelay before OnEvicted
// hands it back to the underlying sync.Pool for reuse by a future request.
func (p *Pool) Release(seq uint64, buf *[]byte) {
	p.freed.Set(keyOf(seq), buf, cache.DefaultExpiration)
}

// Reclaim drops a previously released buffer back into circulation
// immediately, via the same OnEvicted path the janitor uses; used by tests
// that don't want to wait out cleanupDelay.
func (p *Pool) Reclaim(seq uint64) {
	p.freed.Delete(keyOf(seq))
}

func keyOf(seq uint64) string {
	// Small, allocation-light key space; cache.Cache requires string keys.
	const hex = "0123456789abcdef"
	var b [16]byte
	for i := 15; i >= 0; i-- {
		b[i] = hex[seq&0xf]
		seq >>= 4
	}
	return string(b[:])
}
