// Package tuplefifo implements the back-pressured, page-oriented
// single-producer/single-consumer pipe used as the edge between query
// operators (spec.md §4.4). It is grounded on the blocking/non-blocking/
// timeout receive shape of the longpoll package's Channel function,
// generalized from "batch of values off a Go channel" to "batch of tuples
// off a page pipe with optional on-disk spill."
package tuplefifo

import (
	"encoding/binary"
	"errors"
	"os"
	"sync"
	"time"

	"github.com/GunterMueller/shore-kits/internal/config"
	"github.com/GunterMueller/shore-kits/internal/errs"
	"github.com/GunterMueller/shore-kits/internal/page"
	"github.com/GunterMueller/shore-kits/internal/ring"
	"github.com/GunterMueller/shore-kits/internal/telemetry"
)

// Tuple is a non-owning (pointer, size) view into a page's payload. A
// Tuple must not be retained past the next Get* call on the FIFO it came
// from, unless deep-copied via Tuple.Clone.
type Tuple struct {
	data []byte
}

// Bytes returns the tuple's backing bytes, aliasing the source page.
func (t Tuple) Bytes() []byte { return t.data }

// Clone returns an owned copy of the tuple's bytes.
func (t Tuple) Clone() []byte {
	out := make([]byte, len(t.data))
	copy(out, t.data)
	return out
}

// TupleFIFO is a bounded SPSC pipe of equal-sized tuples grouped into
// pages, with optional promotion to on-disk spill under memory pressure.
// Exactly one goroutine may act as producer (PutTuple/PutPage/SendEOF) and
// exactly one as consumer (GetTuple/GetPage/CopyPage); either side may call
// Terminate.
type TupleFIFO struct {
	id  uint64
	log telemetry.Logger

	cfg       config.FIFO
	tupleSize int
	pageCap   int // tuples per page
	dataPool  page.Pool

	mu         sync.Mutex
	readerCond *sync.Cond // signaled when new data is available to the consumer
	writerCond *sync.Cond // signaled when room is available to the producer

	state fifoState
	stats Stats

	// producer-owned
	writePage      *page.Page
	writePageIndex uint64 // next index to assign to a flushed page

	// bounded in-memory page list, shared-state, guarded by mu
	list *ring.Buffer[*page.Page]

	// consumer-owned
	readPage         *page.Page
	readIterator     int
	nextReadPageIndex uint64

	// spill bookkeeping
	spillFile     *os.File
	spillDir      string
	fileHeadIndex uint64
	fileTailIndex uint64
	pageSlotSize  int64 // bytes per on-disk page slot, including header
}

const pageHeaderSize = 16 // tupleSize int64 + tupleCount int64

// New constructs a TupleFIFO carrying tuples of tupleSize bytes, using cfg
// for capacity/spill policy and dataPool to allocate data pages. pageCap is
// the number of tuples each page holds.
func New(cfg config.FIFO, tupleSize, pageCap int, dataPool page.Pool, log telemetry.Logger) *TupleFIFO {
	if tupleSize <= 0 || pageCap <= 0 {
		panic("tuplefifo: tupleSize and pageCap must be positive")
	}
	f := &TupleFIFO{
		id:           nextFIFOID(),
		log:          log,
		cfg:          cfg,
		tupleSize:    tupleSize,
		pageCap:      pageCap,
		dataPool:     dataPool,
		list:         ring.New[*page.Page](cfg.Capacity),
		readPage:     page.SentinelPage(),
		state:        stateInvalid,
		pageSlotSize: int64(pageHeaderSize + tupleSize*pageCap),
	}
	f.readerCond = sync.NewCond(&f.mu)
	f.writerCond = sync.NewCond(&f.mu)
	f.transition(stateInMemory)
	global.onCreate()
	return f
}

// ID returns the FIFO's process-unique identifier, used to name its spill
// file if it ever needs one.
func (f *TupleFIFO) ID() uint64 { return f.id }

// wakeThreshold returns the effective wake-threshold M (spec §4.4: "M <=
// Capacity"), clamped below Capacity so a misconfigured WakeThreshold at
// or above Capacity can never stop the producer from ever seeing the
// list drained enough to unblock.
func (f *TupleFIFO) wakeThreshold() int {
	m := f.cfg.WakeThreshold
	if m > f.cfg.Capacity-1 {
		m = f.cfg.Capacity - 1
	}
	if m < 0 {
		m = 0
	}
	return m
}

// SetShared marks the FIFO as shared between merged producer pipelines,
// permitting it to spill eagerly even when WaitForUnsharedToDrain is set.
// It also wakes the producer, in case it was waiting to drain.
func (f *TupleFIFO) SetShared() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stats.Shared = true
	f.writerCond.Broadcast()
}

// Stats returns a snapshot of this FIFO's counters.
func (f *TupleFIFO) Stats() Stats {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.stats
}

// Close releases FIFO resources (spill file, if any) and folds this FIFO's
// counters into the process-wide totals. Must only be called once, by
// whichever side is responsible for final destruction (see Terminate /
// SendEOF / GetTuple's Eof return).
func (f *TupleFIFO) Close() {
	f.mu.Lock()
	if f.spillFile != nil {
		removeSpillFile(f.spillFile)
		f.spillFile = nil
	}
	if !f.stats.ReachedDisk {
		f.stats.StayedInMemory = true
	}
	if f.isTerminated() {
		if f.isOnDisk() {
			f.stats.TerminatedOnDisk = true
		} else {
			f.stats.TerminatedInMemory = true
		}
	}
	s := f.stats
	f.mu.Unlock()
	global.onDestroy(s)
}

// ---- producer API ----

// PutTuple appends tuple (exactly tupleSize bytes) to the write page,
// flushing the write page (and possibly blocking or spilling) if it
// becomes full. Returns ErrTerminated if the consumer has terminated.
func (f *TupleFIFO) PutTuple(tuple []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isTerminated() {
		return errs.ErrTerminated
	}

	if f.writePage == nil {
		f.writePage = f.dataPool.Alloc()
		f.writePage.Reset(f.tupleSize)
	}
	f.writePage.Append(tuple)

	if f.writePage.State() == page.Full {
		return f.flushWritePageLocked(false)
	}
	return nil
}

// PutPage transfers ownership of a full page p directly into the FIFO,
// bypassing the write-page accumulator. Legal to mix with PutTuple, but
// doing so forfeits any ordering guarantee between tuples and pages.
func (f *TupleFIFO) PutPage(p *page.Page) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isTerminated() {
		return errs.ErrTerminated
	}
	if f.writePage != nil && f.writePage.TupleCount() > 0 {
		if err := f.flushWritePageLocked(false); err != nil {
			return err
		}
	}
	return f.enqueueLocked(p)
}

// SendEOF flushes the (possibly empty) write page and marks the stream
// ended. Returns false if the consumer had already terminated; the
// producer must not touch the FIFO again after SendEOF returns, regardless
// of its return value.
func (f *TupleFIFO) SendEOF() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isTerminated() {
		return false
	}
	if err := f.flushWritePageLocked(true); err != nil {
		return false
	}
	return true
}

// flushWritePageLocked flushes the current write page (if non-empty) into
// the FIFO, then, if done is true, transitions the state machine to its
// "done writing" variant and wakes the consumer.
func (f *TupleFIFO) flushWritePageLocked(done bool) error {
	if f.writePage != nil && f.writePage.TupleCount() > 0 {
		p := f.writePage
		f.writePage = nil
		if err := f.enqueueLocked(p); err != nil {
			return err
		}
	}
	if done {
		if f.isOnDisk() {
			f.transition(stateOnDiskDoneWriting)
		} else {
			f.transition(stateInMemoryDoneWriting)
		}
		f.readerCond.Broadcast()
	}
	return nil
}

// enqueueLocked hands a full page to the FIFO, blocking for room or
// spilling to disk per policy, per spec.md §4.4 "Capacity, back-pressure,
// and spill". mu must be held.
func (f *TupleFIFO) enqueueLocked(p *page.Page) error {
	p.SetIndex(f.writePageIndex)
	f.writePageIndex++

	if f.isOnDisk() {
		if f.list.Len() >= f.cfg.Capacity {
			if err := f.spillListLocked(); err != nil {
				return err
			}
		}
		f.list.PushBack(p)
		f.readerCond.Broadcast()
		return nil
	}

	// still IN_MEMORY
	for f.list.Len() >= f.cfg.Capacity {
		mustWait := !f.cfg.FlushToDiskOnFull ||
			(!f.stats.Shared && f.cfg.WaitForUnsharedToDrain)
		if mustWait {
			f.stats.WaitsOnInsert++
			// Wake-threshold hysteresis (spec §4.4's M): once blocked, stay
			// blocked until the consumer has drained down to M, not merely
			// down to one below Capacity, so a single pop doesn't bounce the
			// producer straight back to full on its very next push.
			for f.list.Len() > f.wakeThreshold() {
				f.writerCond.Wait()
				if f.isTerminated() {
					return errs.ErrTerminated
				}
			}
			continue
		}
		if err := f.spillListLocked(); err != nil {
			return err
		}
		break
	}
	f.list.PushBack(p)
	f.readerCond.Broadcast()
	return nil
}

// spillListLocked writes the entire current in-memory page list to the
// spill file in producer order, clears the list (returning each page to
// its data pool), and either transitions IN_MEMORY -> ON_DISK (first
// spill) or extends/recycles the existing file (subsequent spills). mu
// must be held.
func (f *TupleFIFO) spillListLocked() error {
	if f.spillFile == nil {
		dir, err := spillDirectory(f.cfg.SpillDir)
		if err != nil {
			return errors.Join(errs.ErrFileIO, err)
		}
		f.spillDir = dir
		f.spillFile, err = openSpillFile(dir, f.id)
		if err != nil {
			return err
		}
	}

	n := f.list.Len()
	if n == 0 {
		if !f.isOnDisk() {
			f.transition(stateOnDisk)
			f.stats.ReachedDisk = true
		}
		return nil
	}

	// Decide append-vs-overwrite: if the consumer's next read index still
	// falls within the file's current range, the file's old content is
	// still wanted, so we append past file_tail_index. Otherwise the
	// consumer has moved on to (or past) the in-memory list, so the file
	// can be safely recycled from offset 0.
	overwrite := !f.isOnDisk() || f.nextReadPageIndex >= f.fileTailIndex

	var startSlot int64
	if overwrite {
		startSlot = 0
	} else {
		startSlot = int64(f.fileTailIndex - f.fileHeadIndex)
	}

	buf := make([]byte, f.pageSlotSize)
	slot := startSlot
	var firstIndex uint64
	for i := 0; i < n; i++ {
		p := f.list.PopFront()
		if i == 0 {
			firstIndex = p.Index()
		}
		serializePage(buf, p)
		if err := writePageAt(f.spillFile, slot, f.pageSlotSize, buf, f.cfg.SyncAfterWrites); err != nil {
			return err
		}
		slot++
		p.Release()
	}

	if overwrite {
		f.fileHeadIndex = firstIndex
	}
	f.fileTailIndex = firstIndex + uint64(n)

	if !f.isOnDisk() {
		f.transition(stateOnDisk)
		f.stats.ReachedDisk = true
	}
	return nil
}

func serializePage(buf []byte, p *page.Page) {
	binary.LittleEndian.PutUint64(buf[0:8], uint64(p.TupleSize()))
	binary.LittleEndian.PutUint64(buf[8:16], uint64(p.TupleCount()))
	copy(buf[pageHeaderSize:], p.Bytes())
}

func deserializePage(buf []byte) (tupleSize, tupleCount int) {
	tupleSize = int(binary.LittleEndian.Uint64(buf[0:8]))
	tupleCount = int(binary.LittleEndian.Uint64(buf[8:16]))
	return
}

// ---- consumer API ----

// GetTuple pulls the next tuple in producer order. Returns ErrEOF once the
// producer has sent EOF and no pages remain, or ErrTerminated if the
// producer has terminated.
func (f *TupleFIFO) GetTuple() (Tuple, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureReadReadyLocked(0); err != nil {
		return Tuple{}, err
	}
	t := Tuple{data: f.readPage.Tuple(f.readIterator)}
	f.readIterator++
	return t, nil
}

// GetPage pops the next whole page and transfers its ownership to the
// caller, who must Release it. Only legal when the consumer has not
// started partially consuming the current read page (i.e. is not mixing
// GetTuple and GetPage mid-page).
func (f *TupleFIFO) GetPage() (*page.Page, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.readIterator != 0 {
		panic("tuplefifo: GetPage called mid-page; do not mix with GetTuple")
	}
	if f.readPage != page.SentinelPage() {
		// hand back the in-flight (fully consumed down to iterator 0,
		// i.e. never touched) page directly
		p := f.readPage
		f.readPage = page.SentinelPage()
		f.readIterator = 0
		return p, nil
	}
	if err := f.ensureReadReadyLocked(0); err != nil {
		return nil, err
	}
	p := f.readPage
	f.readPage = page.SentinelPage()
	f.readIterator = 0
	return p, nil
}

// CopyPage copies as many tuples as fit into dst (which must already be
// Reset to this FIFO's tuple size), per the timeout semantics: timeoutMs >
// 0 waits up to that many milliseconds then returns ErrTimeout; == 0 waits
// indefinitely; < 0 is non-blocking, returning (false, nil) if nothing is
// immediately available.
func (f *TupleFIFO) CopyPage(dst *page.Page, timeoutMs int) (ok bool, err error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err := f.ensureReadReadyLocked(timeoutMs); err != nil {
		if errors.Is(err, errNoDataYet) {
			return false, nil
		}
		return false, err
	}

	capacity := dst.Capacity()
	for i := 0; i < capacity; i++ {
		if f.readIterator >= f.readPage.TupleCount() {
			if err := f.advanceReadPageLocked(-1); err != nil {
				if errors.Is(err, errs.ErrEOF) || errors.Is(err, errNoDataYet) {
					break
				}
				return false, err
			}
		}
		dst.Append(f.readPage.Tuple(f.readIterator))
		f.readIterator++
	}
	return true, nil
}

// errNoDataYet is an internal sentinel for "non-blocking call found
// nothing", never returned across the package boundary.
var errNoDataYet = errors.New("tuplefifo: no data yet")

// ensureReadReadyLocked makes sure f.readPage/f.readIterator point at an
// unread tuple, advancing across page boundaries (and waiting, per
// timeoutMs) as needed. mu must be held.
func (f *TupleFIFO) ensureReadReadyLocked(timeoutMs int) error {
	for f.readIterator >= f.readPage.TupleCount() {
		if err := f.advanceReadPageLocked(timeoutMs); err != nil {
			return err
		}
	}
	return nil
}

// advanceReadPageLocked releases the current read page (if real) and
// loads the next one from the in-memory list or the spill file, waiting
// per timeoutMs if none is yet available. mu must be held.
func (f *TupleFIFO) advanceReadPageLocked(timeoutMs int) error {
	if f.readPage != page.SentinelPage() {
		f.readPage.Release()
		f.readPage = page.SentinelPage()
	}

	for {
		p, ok, err := f.popNextLocked()
		if err != nil {
			return err
		}
		if ok {
			f.readPage = p
			f.readIterator = 0
			f.nextReadPageIndex++
			// Only wake a blocked producer once the list has actually
			// drained down to the wake threshold M (spec §4.4): waking it
			// on every single pop would let it refill straight back to
			// Capacity and immediately re-block.
			if f.list.Len() <= f.wakeThreshold() {
				f.writerCond.Broadcast()
			}
			return nil
		}

		if f.isTerminated() {
			return errs.ErrTerminated
		}
		if f.isDoneWriting() {
			return errs.ErrEOF
		}

		switch {
		case timeoutMs < 0:
			return errNoDataYet
		case timeoutMs == 0:
			f.stats.WaitsOnRemove++
			f.readerCond.Wait()
		default:
			if !f.waitWithTimeoutLocked(time.Duration(timeoutMs) * time.Millisecond) {
				return errs.ErrTimeout
			}
		}
	}
}

// popNextLocked returns the next page in strict ascending index order,
// wherever it currently lives (in-memory list or spill file). A spill read
// failure is logged and returned, wrapping ErrFileIO.
func (f *TupleFIFO) popNextLocked() (*page.Page, bool, error) {
	if f.list.Len() > 0 && f.fileHeadIndex == f.fileTailIndex {
		return f.list.PopFront(), true, nil
	}
	if f.fileHeadIndex < f.fileTailIndex {
		p, err := f.readFilePageLocked()
		if err != nil {
			f.log.Error().Uint64("fifo", f.id).Err(err).Msg("tuplefifo: spill read failed")
			return nil, false, err
		}
		return p, true, nil
	}
	if f.list.Len() > 0 {
		return f.list.PopFront(), true, nil
	}
	return nil, false, nil
}

func (f *TupleFIFO) readFilePageLocked() (*page.Page, error) {
	slot := int64(f.nextReadPageIndex - f.fileHeadIndex)
	buf := make([]byte, f.pageSlotSize)
	if err := readPageAt(f.spillFile, slot, f.pageSlotSize, buf); err != nil {
		return nil, err
	}
	tupleSize, tupleCount := deserializePage(buf)
	p := f.dataPool.Alloc()
	p.Reset(tupleSize)
	p.LoadFrom(buf[pageHeaderSize:pageHeaderSize+tupleSize*tupleCount], tupleSize, tupleCount)
	if f.nextReadPageIndex+1 >= f.fileTailIndex {
		// file fully drained for now; next spill may safely overwrite
		f.fileHeadIndex = f.fileTailIndex
	}
	return p, nil
}

// waitWithTimeoutLocked waits on readerCond for up to d, returning false
// if the deadline elapsed first. sync.Cond has no native timeout, so this
// spins a helper goroutine that broadcasts once the deadline fires;
// harmless if the real signal arrives first since Wait() rechecks the
// condition in its caller's loop.
func (f *TupleFIFO) waitWithTimeoutLocked(d time.Duration) (woke bool) {
	timer := time.AfterFunc(d, func() {
		f.mu.Lock()
		f.readerCond.Broadcast()
		f.mu.Unlock()
	})
	defer timer.Stop()

	deadline := time.Now().Add(d)
	before := f.readIterator
	beforeListLen := f.list.Len()
	beforeFileSpan := f.fileTailIndex - f.fileHeadIndex
	beforeState := f.state
	f.stats.WaitsOnRemove++
	f.readerCond.Wait()
	// Did something actually change, or did we just wake from the timer?
	if f.list.Len() != beforeListLen || f.fileTailIndex-f.fileHeadIndex != beforeFileSpan ||
		f.state != beforeState || f.readIterator != before {
		return true
	}
	return time.Now().Before(deadline)
}

// Terminate signals the peer that this side is abandoning the FIFO.
// Whichever side calls first wins; the losing side's next operation fails
// with ErrTerminated. Returns false if the other side already terminated
// or already finished writing (EOF).
func (f *TupleFIFO) Terminate() bool {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.isTerminated() || f.isDoneWriting() {
		return false
	}
	if f.isOnDisk() {
		f.transition(stateOnDiskTerminated)
	} else {
		f.transition(stateInMemoryTerminated)
	}
	f.readerCond.Broadcast()
	f.writerCond.Broadcast()
	return true
}
