// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package parallel

import (
	"sync"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFlatThreadIDs(t *testing.T) {
	p := New(3, 2)
	require.Equal(t, 6, p.NumThreads())
	seen := make(map[int]bool)
	var mu sync.Mutex
	p.RunRegions(func(rt int) {
		p.RunBlocks(func(bt int) {
			mu.Lock()
			seen[p.FlatThreadID(rt, bt)] = true
			mu.Unlock()
		})
	})
	require.Len(t, seen, 6)
	for id := 0; id < 6; id++ {
		require.True(t, seen[id])
	}
}

func TestForCoversRange(t *testing.T) {
	p := New(4, 1)
	var count atomic.Int64
	var sum atomic.Int64
	p.For(3, 50, 7, func(start, stop, rt int) {
		require.Less(t, rt, 4)
		for i := start; i < stop; i++ {
			count.Add(1)
			sum.Add(int64(i))
		}
	})
	require.Equal(t, int64(47), count.Load())
	require.Equal(t, int64((3+49)*47/2), sum.Load())
}

func TestBarrierReuse(t *testing.T) {
	const n = 4
	b := NewBarrier(n)
	var phase atomic.Int32
	var tooEarly atomic.Bool
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for round := 1; round <= 3; round++ {
				phase.Add(1)
				b.Wait()
				// After the barrier, every participant of this round
				// has incremented.
				if phase.Load() < int32(n*round) {
					tooEarly.Store(true)
				}
				b.Wait()
			}
		}()
	}
	wg.Wait()
	require.False(t, tooEarly.Load())
	require.Equal(t, int32(3*n), phase.Load())
}
