package tuplefifo

import "fmt"

// fifoState enumerates the Tuple-FIFO's finite state machine, per the
// spec's six states (four live states plus two terminal error states).
type fifoState int

const (
	stateInvalid fifoState = iota
	stateInMemory
	stateInMemoryDoneWriting
	stateOnDisk
	stateOnDiskDoneWriting
	stateInMemoryTerminated
	stateOnDiskTerminated
)

func (s fifoState) String() string {
	switch s {
	case stateInvalid:
		return "INVALID"
	case stateInMemory:
		return "IN_MEMORY"
	case stateInMemoryDoneWriting:
		return "IN_MEMORY_DONE_WRITING"
	case stateOnDisk:
		return "ON_DISK"
	case stateOnDiskDoneWriting:
		return "ON_DISK_DONE_WRITING"
	case stateInMemoryTerminated:
		return "IN_MEMORY_TERMINATED"
	case stateOnDiskTerminated:
		return "ON_DISK_TERMINATED"
	default:
		return "UNKNOWN"
	}
}

// validNext reports the only transitions the spec allows out of s. Any
// other transition is a programming error.
func validNext(s fifoState) map[fifoState]bool {
	switch s {
	case stateInvalid:
		return map[fifoState]bool{stateInMemory: true}
	case stateInMemory:
		return map[fifoState]bool{
			stateInMemoryDoneWriting: true,
			stateOnDisk:              true,
			stateInMemoryTerminated:  true,
		}
	case stateOnDisk:
		return map[fifoState]bool{
			stateOnDiskDoneWriting: true,
			stateOnDiskTerminated:  true,
		}
	default:
		return nil
	}
}

// transition moves the FIFO from its current state to next, panicking (the
// Go analogue of a debug-build assertion failure) if the transition is not
// one of the ones enumerated in the spec's state machine.
func (f *TupleFIFO) transition(next fifoState) {
	allowed := validNext(f.state)
	if !allowed[next] {
		panic(fmt.Sprintf("tuplefifo: illegal state transition %s -> %s", f.state, next))
	}
	f.state = next
}

func (f *TupleFIFO) isTerminated() bool {
	return f.state == stateInMemoryTerminated || f.state == stateOnDiskTerminated
}

func (f *TupleFIFO) isDoneWriting() bool {
	return f.state == stateInMemoryDoneWriting || f.state == stateOnDiskDoneWriting
}

func (f *TupleFIFO) isOnDisk() bool {
	return f.state == stateOnDisk || f.state == stateOnDiskDoneWriting || f.state == stateOnDiskTerminated
}
