package engine

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClock_StartsAtZeroOrGivenValue(t *testing.T) {
	assert.Equal(t, int64(0), NewClock().Current())
	assert.Equal(t, int64(100), NewClockAt(100).Current())
}

func TestClock_NextIsStrictlyIncreasing(t *testing.T) {
	c := NewClock()

	settled := c.Next()
	opened := c.Next()
	assert.Less(t, settled, opened, "a write settled before a read opened must stamp lower")
	assert.Equal(t, opened, c.Current())
}

func TestClock_ConcurrentStampsAreUnique(t *testing.T) {
	c := NewClock()
	const goroutines, perGoroutine = 50, 100

	var wg sync.WaitGroup
	stamps := make(chan int64, goroutines*perGoroutine)
	for i := 0; i < goroutines; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < perGoroutine; j++ {
				stamps <- c.Next()
			}
		}()
	}
	wg.Wait()
	close(stamps)

	seen := make(map[int64]bool)
	for s := range stamps {
		assert.False(t, seen[s], "stamp %d issued twice", s)
		seen[s] = true
	}
	assert.Len(t, seen, goroutines*perGoroutine)
}
