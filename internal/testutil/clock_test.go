package testutil

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStepClock_StartsAtStart(t *testing.T) {
	clock := NewStepClock(DefaultEpoch, time.Second)
	assert.Equal(t, DefaultEpoch, clock.Now())
	assert.Equal(t, int64(1), clock.Calls())
}

func TestStepClock_Advances(t *testing.T) {
	clock := NewStepClock(DefaultEpoch, time.Millisecond)

	clock.Now()
	assert.Equal(t, DefaultEpoch.Add(time.Millisecond), clock.Now())
	assert.Equal(t, DefaultEpoch.Add(2*time.Millisecond), clock.Now())
}

func TestStepClock_Reset(t *testing.T) {
	clock := NewStepClock(DefaultEpoch, time.Second)
	clock.Now()
	clock.Now()

	clock.Reset()
	assert.Equal(t, DefaultEpoch, clock.Now())
}

func TestStepClock_ConcurrentUnique(t *testing.T) {
	clock := NewStepClock(DefaultEpoch, time.Nanosecond)
	const n = 100

	var mu sync.Mutex
	seen := make(map[time.Time]bool)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			v := clock.Now()
			mu.Lock()
			seen[v] = true
			mu.Unlock()
		}()
	}
	wg.Wait()
	require.Len(t, seen, n)
}
