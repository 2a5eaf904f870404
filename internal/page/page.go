// Package page implements the fixed-size byte buffer that is the unit of
// I/O and tuple storage throughout the core. A Page knows the Pool that
// allocated it, so it can be released back to the same allocator.
package page

import "fmt"

// Default page capacity, in bytes, matching the spec's 4 KiB default.
const DefaultSize = 4096

// Page is a fixed-size contiguous byte buffer holding a packed array of
// equal-sized tuples, plus accounting fields. A Page must be obtained from
// a Pool (via Pool.Alloc) and released with Pool.Free — never constructed
// directly by callers outside this package.
type Page struct {
	pool Pool

	buf []byte

	tupleSize  int
	tupleCount int
	endOffset  int

	// index is stamped by the owning Tuple-FIFO (write_page_index /
	// read-side bookkeeping); it is opaque accounting data as far as Page
	// itself is concerned.
	index uint64
}

// State describes whether a page holds no tuples, some tuples, or is at
// capacity.
type State int

const (
	Empty State = iota
	Partial
	Full
)

// newPage is used only by Pool implementations.
func newPage(buf []byte, pool Pool) *Page {
	return &Page{pool: pool, buf: buf}
}

// Reset clears a page's accounting fields (tuple size/count/end offset) and
// prepares it to hold tuples of the given size. The underlying bytes are
// not zeroed — per the spec, a page released to a pool is zeroed of
// accounting fields but not of bytes.
func (p *Page) Reset(tupleSize int) {
	if tupleSize <= 0 {
		panic("page: tupleSize must be positive")
	}
	p.tupleSize = tupleSize
	p.tupleCount = 0
	p.endOffset = 0
}

// Capacity returns the maximum number of tuples this page can hold, given
// its current tuple size.
func (p *Page) Capacity() int {
	if p.tupleSize == 0 {
		return 0
	}
	return len(p.buf) / p.tupleSize
}

// TupleSize returns the configured tuple size, or 0 if unset.
func (p *Page) TupleSize() int { return p.tupleSize }

// TupleCount returns the number of tuples currently stored.
func (p *Page) TupleCount() int { return p.tupleCount }

// ByteCapacity returns the total byte capacity of the underlying buffer.
func (p *Page) ByteCapacity() int { return len(p.buf) }

// Index returns the FIFO-assigned monotonic page index.
func (p *Page) Index() uint64 { return p.index }

// SetIndex stamps the FIFO-assigned monotonic page index.
func (p *Page) SetIndex(i uint64) { p.index = i }

// State reports whether the page is empty, partial, or full.
func (p *Page) State() State {
	switch {
	case p.tupleCount == 0:
		return Empty
	case p.tupleCount >= p.Capacity():
		return Full
	default:
		return Partial
	}
}

// Append copies tuple (a byte slice of exactly TupleSize() bytes) onto the
// end of the page. It panics if the page is full or tuple has the wrong
// size — both are programming errors, never induced by caller input beyond
// the FIFO's own bookkeeping.
func (p *Page) Append(tuple []byte) {
	if len(tuple) != p.tupleSize {
		panic(fmt.Sprintf("page: tuple size mismatch: want %d got %d", p.tupleSize, len(tuple)))
	}
	if p.State() == Full {
		panic("page: append to full page")
	}
	copy(p.buf[p.endOffset:], tuple)
	p.endOffset += p.tupleSize
	p.tupleCount++
	p.checkInvariant()
}

// Tuple returns a non-owning view of the i'th tuple on the page. The
// returned slice aliases the page's buffer and must not be retained past
// the page's release back to its Pool.
func (p *Page) Tuple(i int) []byte {
	if i < 0 || i >= p.tupleCount {
		panic("page: tuple index out of range")
	}
	off := i * p.tupleSize
	return p.buf[off : off+p.tupleSize]
}

// Bytes returns the page's full backing buffer, including unused capacity.
// Used by the spill writer to write whole pages to disk.
func (p *Page) Bytes() []byte { return p.buf }

// LoadFrom overwrites the page's accounting fields and payload from raw,
// which must describe a page written with the given tupleSize and
// tupleCount. Used when reading a spilled page back from disk.
func (p *Page) LoadFrom(raw []byte, tupleSize, tupleCount int) {
	if len(raw) > len(p.buf) {
		panic("page: payload larger than buffer")
	}
	copy(p.buf, raw)
	p.tupleSize = tupleSize
	p.tupleCount = tupleCount
	p.endOffset = tupleCount * tupleSize
	p.checkInvariant()
}

func (p *Page) checkInvariant() {
	if p.tupleCount*p.tupleSize != p.endOffset {
		panic("page: invariant violated: tupleCount*tupleSize != endOffset")
	}
	if p.endOffset > p.ByteCapacity() {
		panic("page: invariant violated: endOffset > capacity")
	}
}

// Release returns the page to the pool that allocated it. The page must
// not be used again afterward.
func (p *Page) Release() {
	p.tupleSize = 0
	p.tupleCount = 0
	p.endOffset = 0
	p.index = 0
	p.pool.Free(p)
}
