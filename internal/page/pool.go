package page

import "sync"

// Pool allocates and reclaims Pages. A page obtained from a Pool must be
// released to that same Pool — never to a different one.
//
// Two implementations exist, matching the spec: MallocPool (backed by
// sync.Pool) and the process-wide Sentinel (a fixed zero-sized buffer whose
// Free is a no-op).
type Pool interface {
	Alloc() *Page
	Free(p *Page)
}

// MallocPool is a Pool backed by sync.Pool, handing out pages of a fixed
// byte size. Grounded on the sync.Pool-backed object cache pattern used for
// per-category rate-limiter state in the teacher's rate limiter.
type MallocPool struct {
	size int
	pool sync.Pool
}

// NewMallocPool returns a Pool allocating pages with byteSize bytes of
// backing storage each.
func NewMallocPool(byteSize int) *MallocPool {
	if byteSize <= 0 {
		byteSize = DefaultSize
	}
	mp := &MallocPool{size: byteSize}
	mp.pool.New = func() any {
		return newPage(make([]byte, mp.size), mp)
	}
	return mp
}

func (mp *MallocPool) Alloc() *Page {
	return mp.pool.Get().(*Page)
}

func (mp *MallocPool) Free(p *Page) {
	mp.pool.Put(p)
}

// sentinelPool is a singleton Pool whose Alloc always returns the same
// fixed zero-sized buffer and whose Free is a no-op. The sentinel page is
// the initial value of the read page in every Tuple-FIFO, eliminating null
// checks on the consumer's fast path.
type sentinelPool struct{}

var (
	sentinelPoolInstance = sentinelPool{}
	sentinelPageInstance = newPage(nil, sentinelPoolInstance)
)

func (sentinelPool) Alloc() *Page { return sentinelPageInstance }
func (sentinelPool) Free(*Page)   {}

// Sentinel returns the process-wide sentinel pool.
func Sentinel() Pool { return sentinelPoolInstance }

// SentinelPage returns the single shared sentinel page. It has zero
// capacity and must never be written to; it exists only to stand in for
// "no real read page yet."
func SentinelPage() *Page { return sentinelPageInstance }
