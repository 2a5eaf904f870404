package flusher

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/GunterMueller/shore-kits/internal/config"
	"github.com/GunterMueller/shore-kits/internal/storage"
	"github.com/GunterMueller/shore-kits/internal/telemetry"
)

func newTestFlusher(t *testing.T, cfg config.Flusher) (*Flusher, *storage.InMemory) {
	t.Helper()
	mgr := storage.NewInMemory()
	log := telemetry.New("flusher-test")
	f := New(cfg, mgr, log)
	f.Start()
	t.Cleanup(f.Stop)
	return f, mgr
}

// Scenario: N concurrent commit requests below the group-size threshold
// are serviced by a single SyncLog call once the group fills (§8 scenario
// 4: grouping by size).
func TestFlusher_GroupsBySize(t *testing.T) {
	cfg := config.DefaultFlusher()
	cfg.GroupSize = 10
	cfg.TimeInterval = time.Hour // effectively disable the timeout path
	cfg.LogSize = 1 << 30
	f, mgr := newTestFlusher(t, cfg)

	var wg sync.WaitGroup
	for i := 0; i < cfg.GroupSize; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			lsn, err := mgr.Commit(uint64(i))
			require.NoError(t, err)
			require.NoError(t, f.Commit(uint64(i), lsn))
		}(i)
	}
	wg.Wait()

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Flushes, "exactly one sync round for one full group")
	assert.Equal(t, uint64(cfg.GroupSize), stats.RequestsFlushed)
	assert.GreaterOrEqual(t, stats.GroupSizeTrips, uint64(1))
}

// Scenario: a handful of requests well under the group-size and log-size
// thresholds still get flushed once the time interval elapses (§8
// scenario 5: grouping by timeout).
func TestFlusher_FlushesOnTimeout(t *testing.T) {
	cfg := config.DefaultFlusher()
	cfg.GroupSize = 1000
	cfg.LogSize = 1 << 30
	cfg.TimeInterval = 20 * time.Millisecond
	f, mgr := newTestFlusher(t, cfg)

	start := time.Now()
	lsn, err := mgr.Commit(1)
	require.NoError(t, err)
	require.NoError(t, f.Commit(1, lsn))
	elapsed := time.Since(start)

	assert.GreaterOrEqual(t, elapsed, cfg.TimeInterval)
	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Flushes)
	assert.GreaterOrEqual(t, stats.TimeoutTrips, uint64(1))
}

// A request never becomes durable without a completed sync round: forcing
// the group-size threshold high and the timeout long means the only way
// Commit returns is if something actually closed the request's notifier,
// which only flushBatch does.
func TestFlusher_CommitBlocksUntilFlushed(t *testing.T) {
	cfg := config.DefaultFlusher()
	cfg.GroupSize = 2
	cfg.TimeInterval = time.Hour
	cfg.LogSize = 1 << 30
	f, mgr := newTestFlusher(t, cfg)

	done := make(chan struct{})
	go func() {
		defer close(done)
		lsn, err := mgr.Commit(1)
		require.NoError(t, err)
		require.NoError(t, f.Commit(1, lsn))
	}()

	select {
	case <-done:
		t.Fatal("single request under group size 2 should not have flushed yet")
	case <-time.After(30 * time.Millisecond):
	}

	lsn, err := mgr.Commit(2)
	require.NoError(t, err)
	require.NoError(t, f.Commit(2, lsn))
	<-done

	assert.Equal(t, 1, mgr.SyncCount())
}

// A Commit request whose lsn is already durable (lsn <= D) must return
// immediately, without waiting on a sync round (§4.5: short-circuit
// already-durable requests instead of forcing a fresh sync).
func TestFlusher_CommitAlreadyDurableReturnsImmediately(t *testing.T) {
	cfg := config.DefaultFlusher()
	cfg.GroupSize = 1 // the first commit alone fills a group and is synced
	cfg.TimeInterval = time.Hour
	cfg.LogSize = 1 << 30
	f, mgr := newTestFlusher(t, cfg)

	lsn, err := mgr.Commit(1)
	require.NoError(t, err)
	require.NoError(t, f.Commit(1, lsn))
	require.Equal(t, uint64(1), f.Stats().Flushes)

	// lsn is now <= D; a second commit referencing it must not wait for
	// another sync round.
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, f.Commit(1, lsn))
	}()

	select {
	case <-done:
	case <-time.After(100 * time.Millisecond):
		t.Fatal("Commit on an already-durable lsn should return immediately")
	}

	stats := f.Stats()
	assert.Equal(t, uint64(1), stats.Flushes, "no extra sync round for the already-durable commit")
	assert.Equal(t, uint64(1), stats.AlreadyDurable)
}

// Stop drains any in-flight requests before returning, rather than
// dropping them.
func TestFlusher_StopDrainsPending(t *testing.T) {
	cfg := config.DefaultFlusher()
	cfg.GroupSize = 1000
	cfg.TimeInterval = time.Hour
	cfg.LogSize = 1 << 30
	mgr := storage.NewInMemory()
	f := New(cfg, mgr, telemetry.New("flusher-test"))
	f.Start()

	errCh := make(chan error, 1)
	go func() {
		lsn, err := mgr.Commit(1)
		if err != nil {
			errCh <- err
			return
		}
		errCh <- f.Commit(1, lsn)
	}()

	time.Sleep(10 * time.Millisecond)
	f.Stop()

	select {
	case err := <-errCh:
		assert.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Stop should have drained the pending request")
	}
}
