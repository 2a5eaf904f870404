package countdown

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLatch_TerminalOnZero(t *testing.T) {
	l := New(3)
	assert.False(t, l.Post(false))
	assert.False(t, l.Post(false))
	assert.True(t, l.Post(false))
	assert.Equal(t, 0, l.Remaining())
	assert.False(t, l.Errored())
}

func TestLatch_TerminalOnError(t *testing.T) {
	l := New(5)
	assert.False(t, l.Post(false))
	assert.True(t, l.Post(true))
	assert.True(t, l.Errored())
	assert.Equal(t, -1, l.Remaining())
	// further posts never report terminal again
	assert.False(t, l.Post(false))
	assert.False(t, l.Post(true))
}

func TestLatch_PanicsOnNonPositiveCount(t *testing.T) {
	assert.Panics(t, func() { New(0) })
	assert.Panics(t, func() { New(-1) })
}

// Scenario: N goroutines race to Post; exactly one observes terminal=true,
// whether the race resolves via reaching zero or via an error landing
// first (spec.md §8 scenario 3).
func TestLatch_ExactlyOneTerminalUnderRace(t *testing.T) {
	const n = 200
	for trial := 0; trial < 20; trial++ {
		l := New(n)
		var wg sync.WaitGroup
		var terminalCount int32Counter
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				isError := i%37 == 0
				if l.Post(isError) {
					terminalCount.inc()
				}
			}(i)
		}
		wg.Wait()
		require.Equal(t, int64(1), terminalCount.load(), "exactly one caller must observe terminal=true")
	}
}

type int32Counter struct {
	mu sync.Mutex
	n  int64
}

func (c *int32Counter) inc() {
	c.mu.Lock()
	c.n++
	c.mu.Unlock()
}

func (c *int32Counter) load() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.n
}
