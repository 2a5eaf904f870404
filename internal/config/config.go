// Package config models the process-wide policy flags and Flusher
// thresholds described in the core's external interface. Values are set
// once at process start and passed explicitly into each component's
// constructor — there is no hidden global config singleton.
package config

import (
	"os"
	"strconv"
	"time"
)

// FIFO holds the policy flags that govern Tuple-FIFO back-pressure and
// spill behavior.
type FIFO struct {
	// FlushToDiskOnFull, when false, makes the FIFO's N-page bound a hard
	// limit: producers block until the consumer drains down to the wake
	// threshold. When true, a full FIFO spills to disk instead of blocking.
	FlushToDiskOnFull bool

	// UseDirectIO is loaded and carried with the rest of the FIFO config,
	// but the spill code does not read it: spill files are always opened
	// for ordinary buffered I/O, and O_DIRECT is never requested.
	UseDirectIO bool

	// WaitForUnsharedToDrain, even under FlushToDiskOnFull, makes a FIFO
	// that has not been marked shared wait for the consumer to drain rather
	// than spilling eagerly, since no deadlock risk exists between a single
	// producer/consumer pair.
	WaitForUnsharedToDrain bool

	// SyncAfterWrites calls fsync after each page written to a spill file,
	// whatever UseDirectIO is set to.
	SyncAfterWrites bool

	// Capacity is the bound N of in-memory pages per FIFO (default 100).
	Capacity int

	// WakeThreshold M: a blocked producer is woken once the consumer has
	// drained the in-memory list down to M pages (default 10). The FIFO
	// clamps it to the range [0, Capacity-1].
	WakeThreshold int

	// PageCapacity is the number of tuples a page can hold.
	PageCapacity int

	// SpillDir is the parent directory for per-FIFO spill files. Empty
	// means use a process-scoped temp directory created on first use.
	SpillDir string
}

// DefaultFIFO returns the documented defaults from the external interface.
func DefaultFIFO() FIFO {
	return FIFO{
		FlushToDiskOnFull:      true,
		UseDirectIO:            false,
		WaitForUnsharedToDrain: true,
		SyncAfterWrites:        false,
		Capacity:               100,
		WakeThreshold:          10,
		PageCapacity:           256,
	}
}

// FIFOFromEnv loads FIFO config from environment variables, falling back to
// DefaultFIFO for anything unset or unparsable.
func FIFOFromEnv() FIFO {
	c := DefaultFIFO()
	if v, ok := lookupBool("FIFO_FLUSH_TO_DISK_ON_FULL"); ok {
		c.FlushToDiskOnFull = v
	}
	if v, ok := lookupBool("FIFO_USE_DIRECT_IO"); ok {
		c.UseDirectIO = v
	}
	if v, ok := lookupBool("FIFO_WAIT_FOR_UNSHARED_TO_DRAIN"); ok {
		c.WaitForUnsharedToDrain = v
	}
	if v, ok := lookupBool("FIFO_SYNC_AFTER_WRITES"); ok {
		c.SyncAfterWrites = v
	}
	if v, ok := lookupInt("FIFO_CAPACITY"); ok {
		c.Capacity = v
	}
	if v, ok := lookupInt("FIFO_WAKE_THRESHOLD"); ok {
		c.WakeThreshold = v
	}
	if v, ok := lookupInt("FIFO_PAGE_CAPACITY"); ok {
		c.PageCapacity = v
	}
	if v := os.Getenv("FIFO_SPILL_DIR"); v != "" {
		c.SpillDir = v
	}
	return c
}

// Flusher holds the Log Flusher's thresholds.
type Flusher struct {
	// GroupSize: issue a sync once this many requests are pending (default 100).
	GroupSize int
	// LogSize: issue a sync once the pending byte distance reaches this bound
	// (default 200_000 bytes).
	LogSize int64
	// TimeInterval: issue a sync once this much wall-clock time has elapsed
	// since the oldest pending request was enqueued (default 1ms).
	TimeInterval time.Duration
	// Binding is a CPU affinity id, or -1 for NONE.
	Binding int
}

// DefaultFlusher returns the documented defaults.
func DefaultFlusher() Flusher {
	return Flusher{
		GroupSize:    100,
		LogSize:      200_000,
		TimeInterval: time.Millisecond,
		Binding:      -1,
	}
}

// FlusherFromEnv loads Flusher config from environment variables.
func FlusherFromEnv() Flusher {
	c := DefaultFlusher()
	if v, ok := lookupInt("FLUSHER_GROUP_SIZE"); ok {
		c.GroupSize = v
	}
	if v, ok := lookupInt64("FLUSHER_LOG_SIZE"); ok {
		c.LogSize = v
	}
	if v, ok := lookupInt("FLUSHER_TIMEOUT_US"); ok {
		c.TimeInterval = time.Duration(v) * time.Microsecond
	}
	if v, ok := lookupInt("FLUSHER_BINDING"); ok {
		c.Binding = v
	}
	return c
}

func lookupBool(key string) (bool, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return false, false
	}
	v, err := strconv.ParseBool(s)
	return v, err == nil
}

func lookupInt(key string) (int, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.Atoi(s)
	return v, err == nil
}

func lookupInt64(key string) (int64, bool) {
	s, ok := os.LookupEnv(key)
	if !ok {
		return 0, false
	}
	v, err := strconv.ParseInt(s, 10, 64)
	return v, err == nil
}
