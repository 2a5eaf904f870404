// Package errs defines the core's exhaustive error kinds (§7 of the spec).
// Every core operation that can fail returns one of these via a plain error
// return, never via panic/recover as control flow.
package errs

import "errors"

var (
	// ErrTerminated is returned to the peer of a Tuple-FIFO side that has
	// called Terminate: the recipient must stop using the FIFO.
	ErrTerminated = errors.New("shorekits: fifo terminated by peer")

	// ErrEOF is returned by a Tuple-FIFO consumer once the producer has
	// sent EOF and no pages remain. Not an error condition, but surfaced in
	// the same channel as other FIFO outcomes.
	ErrEOF = errors.New("shorekits: fifo eof")

	// ErrTimeout is returned by TupleFIFO.CopyPage when a bounded wait
	// elapses without data.
	ErrTimeout = errors.New("shorekits: timeout")

	// ErrEnqueue indicates a partition's internal action queue refused an
	// enqueue; this is a programming error, never expected in normal
	// operation.
	ErrEnqueue = errors.New("shorekits: partition enqueue refused")

	// ErrFileIO wraps an underlying spill-file or log I/O failure. Fatal
	// for the affected FIFO or commit request; propagate to the caller.
	ErrFileIO = errors.New("shorekits: file io error")

	// ErrStorageManager wraps an error surfaced from the storage manager
	// during action execution or final commit (deadlock, abort, constraint
	// violation).
	ErrStorageManager = errors.New("shorekits: storage manager error")
)
