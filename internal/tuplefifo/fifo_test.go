package tuplefifo

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GunterMueller/shore-kits/internal/config"
	"github.com/GunterMueller/shore-kits/internal/errs"
	"github.com/GunterMueller/shore-kits/internal/page"
	"github.com/GunterMueller/shore-kits/internal/telemetry"
)

const testTupleSize = 8

func newTestFIFO(t *testing.T, cfg config.FIFO) *TupleFIFO {
	t.Helper()
	pool := page.NewMallocPool(cfg.PageCapacity * testTupleSize)
	log := telemetry.WithOutput("tuplefifo-test", testWriter{t})
	f := New(cfg, testTupleSize, cfg.PageCapacity, pool, log)
	t.Cleanup(f.Close)
	return f
}

type testWriter struct{ t *testing.T }

func (w testWriter) Write(p []byte) (int, error) { return len(p), nil }

func tupleOf(n uint64) []byte {
	b := make([]byte, testTupleSize)
	for i := 0; i < 8; i++ {
		b[i] = byte(n >> (8 * i))
	}
	return b
}

func tupleValue(b []byte) uint64 {
	var n uint64
	for i := 0; i < 8; i++ {
		n |= uint64(b[i]) << (8 * i)
	}
	return n
}

// Scenario: tuples cross several page boundaries in memory only, and are
// read back out in exact FIFO order (spec.md §8 scenario: ordering
// preserved across page boundaries).
func TestTupleFIFO_OrderingInMemory(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 4
	cfg.Capacity = 10
	f := newTestFIFO(t, cfg)

	const n = 37
	for i := uint64(0); i < n; i++ {
		require.NoError(t, f.PutTuple(tupleOf(i)))
	}
	require.True(t, f.SendEOF())

	for i := uint64(0); i < n; i++ {
		tup, err := f.GetTuple()
		require.NoError(t, err)
		assert.Equal(t, i, tupleValue(tup.Bytes()))
	}
	_, err := f.GetTuple()
	assert.ErrorIs(t, err, errs.ErrEOF)
}

// Scenario: a FIFO bounded small enough to force a spill still preserves
// tuple order and page-capacity conservation after a disk round trip (§8
// scenario 1).
func TestTupleFIFO_SpillRoundTrip(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 2
	cfg.Capacity = 3
	cfg.FlushToDiskOnFull = true
	cfg.WaitForUnsharedToDrain = false
	f := newTestFIFO(t, cfg)

	const n = 61
	for i := uint64(0); i < n; i++ {
		require.NoError(t, f.PutTuple(tupleOf(i)))
	}
	require.True(t, f.SendEOF())

	for i := uint64(0); i < n; i++ {
		tup, err := f.GetTuple()
		require.NoErrorf(t, err, "tuple %d", i)
		assert.Equal(t, i, tupleValue(tup.Bytes()))
	}
	_, err := f.GetTuple()
	assert.ErrorIs(t, err, errs.ErrEOF)

	stats := f.Stats()
	assert.True(t, stats.ReachedDisk, "expected capacity-bounded producer to spill to disk")
}

// Scenario: producer blocks when FlushToDiskOnFull is false and the
// consumer is slow, then unblocks once the consumer drains (hard
// back-pressure bound, no spill).
func TestTupleFIFO_BlocksWithoutSpill(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 1
	cfg.Capacity = 2
	cfg.FlushToDiskOnFull = false
	f := newTestFIFO(t, cfg)

	require.NoError(t, f.PutTuple(tupleOf(0)))
	require.NoError(t, f.PutTuple(tupleOf(1))) // fills both in-memory slots

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, f.PutTuple(tupleOf(2)))
		require.True(t, f.SendEOF())
	}()

	select {
	case <-done:
		t.Fatal("producer should have blocked with FlushToDiskOnFull=false and a full FIFO")
	case <-time.After(50 * time.Millisecond):
	}

	tup, err := f.GetTuple()
	require.NoError(t, err)
	assert.Equal(t, uint64(0), tupleValue(tup.Bytes()))

	<-done
	assert.Zero(t, f.Stats().ReachedDisk)
}

// Scenario: Terminate called by the consumer unblocks a producer waiting
// on room, and causes subsequent producer calls to fail (§8 scenario:
// termination idempotence/race).
func TestTupleFIFO_TerminateUnblocksProducer(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 1
	cfg.Capacity = 2
	cfg.FlushToDiskOnFull = false
	f := newTestFIFO(t, cfg)

	require.NoError(t, f.PutTuple(tupleOf(0)))
	require.NoError(t, f.PutTuple(tupleOf(1)))

	errCh := make(chan error, 1)
	go func() {
		errCh <- f.PutTuple(tupleOf(2))
	}()

	time.Sleep(20 * time.Millisecond)
	assert.True(t, f.Terminate())
	assert.False(t, f.Terminate(), "second terminate must be a no-op")

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, errs.ErrTerminated)
	case <-time.After(time.Second):
		t.Fatal("producer never unblocked after Terminate")
	}
}

// Scenario: the consumer observes ErrTerminated, never ErrEOF, once the
// producer terminates instead of sending EOF.
func TestTupleFIFO_ProducerTerminationSurfacesToConsumer(t *testing.T) {
	cfg := config.DefaultFIFO()
	f := newTestFIFO(t, cfg)

	require.NoError(t, f.PutTuple(tupleOf(0)))
	require.True(t, f.Terminate())

	_, err := f.GetTuple()
	assert.ErrorIs(t, err, errs.ErrTerminated)
}

// GetPage returns whole pages and preserves page-level ordering, and
// panics if used after a partial GetTuple on the same page.
func TestTupleFIFO_GetPageWholeTransfer(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 4
	f := newTestFIFO(t, cfg)

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, f.PutTuple(tupleOf(i)))
	}
	require.True(t, f.SendEOF())

	p, err := f.GetPage()
	require.NoError(t, err)
	require.Equal(t, 4, p.TupleCount())
	for i := 0; i < 4; i++ {
		assert.Equal(t, uint64(i), tupleValue(p.Tuple(i)))
	}
	p.Release()
}

func TestTupleFIFO_GetPageAfterPartialReadPanics(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 4
	f := newTestFIFO(t, cfg)

	for i := uint64(0); i < 4; i++ {
		require.NoError(t, f.PutTuple(tupleOf(i)))
	}
	require.True(t, f.SendEOF())

	_, err := f.GetTuple()
	require.NoError(t, err)

	assert.Panics(t, func() {
		_, _ = f.GetPage()
	})
}

// CopyPage's non-blocking mode (timeoutMs < 0) returns immediately without
// an error when nothing is available yet.
func TestTupleFIFO_CopyPageNonBlockingEmpty(t *testing.T) {
	cfg := config.DefaultFIFO()
	f := newTestFIFO(t, cfg)

	dst := page.NewMallocPool(cfg.PageCapacity * testTupleSize).Alloc()
	dst.Reset(testTupleSize)

	ok, err := f.CopyPage(dst, -1)
	require.NoError(t, err)
	assert.False(t, ok)
}

// CopyPage's bounded-timeout mode returns ErrTimeout if nothing arrives in
// time.
func TestTupleFIFO_CopyPageTimeout(t *testing.T) {
	cfg := config.DefaultFIFO()
	f := newTestFIFO(t, cfg)

	dst := page.NewMallocPool(cfg.PageCapacity * testTupleSize).Alloc()
	dst.Reset(testTupleSize)

	_, err := f.CopyPage(dst, 20)
	assert.ErrorIs(t, err, errs.ErrTimeout)
}

// Concurrent producer/consumer stress exercising back-pressure under load
// (with the default config an unshared FIFO waits for the consumer to
// drain rather than spilling); asserts no tuple is lost, duplicated, or
// reordered.
func TestTupleFIFO_ConcurrentProducerConsumer(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 8
	cfg.Capacity = 4
	f := newTestFIFO(t, cfg)

	const n = 5000
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		for i := uint64(0); i < n; i++ {
			if err := f.PutTuple(tupleOf(i)); err != nil {
				return
			}
		}
		f.SendEOF()
	}()

	var got []uint64
	for {
		tup, err := f.GetTuple()
		if errors.Is(err, errs.ErrEOF) {
			break
		}
		require.NoError(t, err)
		got = append(got, tupleValue(tup.Bytes()))
	}
	wg.Wait()

	require.Len(t, got, n)
	for i, v := range got {
		assert.Equal(t, uint64(i), v)
	}
}

// Scenario: a blocked producer must stay blocked until the consumer has
// drained the in-memory list down to the wake threshold M, not merely down
// to one below Capacity (spec §4.4: producer blocks until consumer drains
// to the threshold).
func TestTupleFIFO_WakeThresholdHysteresis(t *testing.T) {
	cfg := config.DefaultFIFO()
	cfg.PageCapacity = 1
	cfg.Capacity = 5
	cfg.WakeThreshold = 2
	cfg.FlushToDiskOnFull = false
	f := newTestFIFO(t, cfg)

	for i := uint64(0); i < 5; i++ {
		require.NoError(t, f.PutTuple(tupleOf(i)))
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, f.PutTuple(tupleOf(5)))
	}()

	select {
	case <-done:
		t.Fatal("producer should have blocked with a full FIFO")
	case <-time.After(20 * time.Millisecond):
	}

	// Draining one at a time down to 3 in-memory entries (one above M=2)
	// must not unblock the producer yet.
	for i := uint64(0); i < 2; i++ {
		tup, err := f.GetTuple()
		require.NoError(t, err)
		assert.Equal(t, i, tupleValue(tup.Bytes()))

		select {
		case <-done:
			t.Fatalf("producer unblocked too early after draining to %d entries", 4-i)
		case <-time.After(20 * time.Millisecond):
		}
	}

	// The third drain brings the list down to M=2, which must unblock it.
	tup, err := f.GetTuple()
	require.NoError(t, err)
	assert.Equal(t, uint64(2), tupleValue(tup.Bytes()))

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("producer should have unblocked once drained to the wake threshold")
	}
}
