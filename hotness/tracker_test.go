package hotness

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"
)

func fixedThreshold(v uint64) *AdaptiveThreshold {
	cfg := DefaultAdaptiveConfig()
	cfg.MinThreshold = v
	cfg.MaxThreshold = v
	cfg.InitialThreshold = v
	return NewAdaptiveThreshold(cfg)
}

// Threshold 100: 99 dispatches stay un-promoted, the 100th promotes, and the
// promotion fires exactly once.
func TestPromotionAtThreshold(t *testing.T) {
	tr := NewTracker(fixedThreshold(100))

	for i := 0; i < 99; i++ {
		_, promote := tr.Touch(0x1000)
		require.False(t, promote, "dispatch %d promoted early", i+1)
	}
	count, promote := tr.Touch(0x1000)
	require.True(t, promote)
	require.Equal(t, uint64(100), count)
	require.Equal(t, StateHot, tr.State(0x1000))

	// Further dispatches never re-promote.
	_, promote = tr.Touch(0x1000)
	require.False(t, promote)
}

// Two execution contexts cross the threshold in the same instant: exactly one
// promotion.
func TestConcurrentPromotionFiresOnce(t *testing.T) {
	tr := NewTracker(fixedThreshold(1000))

	var promotions int64
	var mu sync.Mutex
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				if _, promote := tr.Touch(0x2000); promote {
					mu.Lock()
					promotions++
					mu.Unlock()
				}
			}
		}()
	}
	wg.Wait()
	require.Equal(t, int64(1), promotions)
	require.Equal(t, StateHot, tr.State(0x2000))
}

func TestCounterMonotonicity(t *testing.T) {
	tr := NewTracker(fixedThreshold(1 << 62))

	last := uint64(0)
	for i := 0; i < 1000; i++ {
		tr.Touch(0x3000)
		c := tr.Count(0x3000)
		require.GreaterOrEqual(t, c, last)
		last = c
	}
}

func TestDemoteAllowsRetry(t *testing.T) {
	tr := NewTracker(fixedThreshold(3))

	tr.Touch(0x4000)
	tr.Touch(0x4000)
	_, promote := tr.Touch(0x4000)
	require.True(t, promote)

	// Queue was full: demote, next dispatch re-promotes.
	tr.Demote(0x4000)
	require.Equal(t, StateWarm, tr.State(0x4000))
	_, promote = tr.Touch(0x4000)
	require.True(t, promote)
}

func TestTerminalStates(t *testing.T) {
	tr := NewTracker(fixedThreshold(1))

	_, promote := tr.Touch(0x5000)
	require.True(t, promote)
	tr.MarkCompiled(0x5000)
	require.Equal(t, StateCompiled, tr.State(0x5000))
	_, promote = tr.Touch(0x5000)
	require.False(t, promote, "compiled address must bypass counting")

	_, promote = tr.Touch(0x6000)
	require.True(t, promote)
	tr.MarkFailed(0x6000)
	for i := 0; i < 10; i++ {
		_, promote = tr.Touch(0x6000)
		require.False(t, promote, "failed address must never be retried")
	}
}

func TestResetClearsCounter(t *testing.T) {
	tr := NewTracker(fixedThreshold(100))
	for i := 0; i < 10; i++ {
		tr.Touch(0x7000)
	}
	require.Equal(t, uint64(10), tr.Count(0x7000))
	tr.Reset(0x7000)
	require.Equal(t, uint64(0), tr.Count(0x7000))
	require.Equal(t, StateCold, tr.State(0x7000))
}

func TestHotListOrdering(t *testing.T) {
	tr := NewTracker(fixedThreshold(1 << 62))
	for i := 0; i < 5; i++ {
		tr.Touch(0x8000)
	}
	for i := 0; i < 3; i++ {
		tr.Touch(0x9000)
	}
	tr.Touch(0xa000)

	list := tr.HotList(2)
	require.Len(t, list, 2)
	require.Equal(t, uint64(0x8000), list[0].Address)
	require.Equal(t, uint64(5), list[0].Count)
	require.Equal(t, uint64(0x9000), list[1].Address)

	_, seen := tr.FirstSeen(0x8000)
	require.True(t, seen)
}
