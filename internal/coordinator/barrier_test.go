package coordinator

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

// Testable Property 6: no party's phase-(k+1) work observably starts
// before every party has completed phase-k work.
func TestBarrier_NoPartyProceedsBeforeAllArrive(t *testing.T) {
	const parties = 4
	b := NewBarrier(parties)

	var mu sync.Mutex
	var phaseKDone int
	violated := false

	var wg sync.WaitGroup
	wg.Add(parties)
	for i := 0; i < parties; i++ {
		go func() {
			defer wg.Done()
			time.Sleep(time.Duration(i) * time.Millisecond)

			mu.Lock()
			phaseKDone++
			mu.Unlock()

			ok := b.Wait()

			mu.Lock()
			if !ok || phaseKDone != parties {
				// Release is never called here, so every Wait must return
				// normally and only after every party's phase-k work is done.
				violated = true
			}
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.False(t, violated)
	assert.Equal(t, parties, phaseKDone)
}

// Testable Property 7: after Release, every blocked Wait call returns
// promptly instead of deadlocking.
func TestBarrier_ReleaseUnblocksWaiters(t *testing.T) {
	b := NewBarrier(3)

	done := make(chan bool, 2)
	go func() { done <- b.Wait() }()
	go func() { done <- b.Wait() }()

	time.Sleep(10 * time.Millisecond) // let both goroutines reach Wait
	b.Release()

	for i := 0; i < 2; i++ {
		select {
		case ok := <-done:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("Wait did not return after Release")
		}
	}
}

func TestBarrier_ReusesAcrossGenerations(t *testing.T) {
	b := NewBarrier(2)

	for gen := 0; gen < 3; gen++ {
		var wg sync.WaitGroup
		wg.Add(2)
		results := make([]bool, 2)
		for i := 0; i < 2; i++ {
			i := i
			go func() {
				defer wg.Done()
				results[i] = b.Wait()
			}()
		}
		wg.Wait()
		assert.True(t, results[0])
		assert.True(t, results[1])
	}
}
