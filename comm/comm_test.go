// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/types/idx"
)

func TestFabricPointToPoint(t *testing.T) {
	envs := NewFabric(2)
	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		buf := []float64{1.5, 2.5, 3.5}
		envs[0].Transport().Isend(1, 7, buf).Wait()
	}()
	go func() {
		defer wg.Done()
		buf := make([]float64, 3)
		req := envs[1].Transport().Irecv(0, 7, buf)
		req.Wait()
		require.Equal(t, []float64{1.5, 2.5, 3.5}, buf)
		require.True(t, req.Test())
	}()
	wg.Wait()
}

func TestFabricCollectives(t *testing.T) {
	envs := NewFabric(3)
	var wg sync.WaitGroup
	sums := make([]int, 3)
	bcasts := make([][]int, 3)
	for r, env := range envs {
		wg.Add(1)
		go func(r int, env *Env) {
			defer wg.Done()
			sums[r] = env.SumOverRanks(r + 1)
			vals := []int{0, 0}
			if r == 1 {
				vals = []int{42, 43}
			}
			env.Transport().Bcast(1, vals)
			bcasts[r] = vals
		}(r, env)
	}
	wg.Wait()
	for r := 0; r < 3; r++ {
		require.Equal(t, 6, sums[r])
		require.Equal(t, []int{42, 43}, bcasts[r])
	}
}

func TestAssertEqualityOverRanks(t *testing.T) {
	envs := NewFabric(2)
	var wg sync.WaitGroup
	panicked := make([]bool, 2)
	for r, env := range envs {
		wg.Add(1)
		go func(r int, env *Env) {
			defer wg.Done()
			defer func() { panicked[r] = recover() != nil }()
			env.AssertEqualityOverRanks(r, "test setting") // differs by rank.
		}(r, env)
	}
	wg.Wait()
	require.True(t, panicked[0])
	require.True(t, panicked[1])
}

func TestNeighborhoodIndexing(t *testing.T) {
	info := NewInfo([]string{"x", "y"})
	require.Equal(t, 9, info.Size)
	self := idx.Indices{RankSelf, RankSelf}
	require.Equal(t, info.MyIndex, info.NeighborIndex(self))

	visited := 0
	info.VisitNeighbors(func(offsets idx.Indices, rank, ni int) {
		require.Equal(t, NoRank, rank)
		require.NotEqual(t, info.MyIndex, ni)
		visited++
	})
	require.Equal(t, 8, visited)

	// Mirror property used by the exchange planner.
	for ni := 0; ni < info.Size; ni++ {
		offsets := info.Sizes.Unlayout(ni)
		mirror := make(idx.Indices, len(offsets))
		for j, o := range offsets {
			mirror[j] = 2 - o
		}
		require.Equal(t, info.Size-1-ni, info.NeighborIndex(mirror))
	}
}
