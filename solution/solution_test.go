// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package solution_test

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/solution"
	"github.com/opesci/yask/types/idx"
)

// newLaplace builds a prepared single-rank Laplacian solution with the
// given cubic domain, all elements 0.5 and one perturbed interior point.
func newLaplace(t *testing.T, n int, perturb idx.Indices) *solution.Solution {
	t.Helper()
	sol := solution.New(comm.NewEnv(), "laplace3d")
	for _, dim := range sol.DomainDimNames() {
		sol.SetOverallDomainSize(dim, n)
	}
	sol.PrepareSolution()
	u := sol.Var("u")
	u.SetAllElementsSame(0.5)
	if perturb != nil {
		u.SetElement(2.0, perturb, true)
	}
	return sol
}

// requireSameDomain compares var u of two solutions over the whole rank
// domain at the given steps, requiring bitwise equality.
func requireSameDomain(t *testing.T, got, want *solution.Solution, steps []int) {
	t.Helper()
	gu, wu := got.Var("u"), want.Var("u")
	dims := got.DomainDimNames()
	first := make(idx.Indices, len(dims))
	last := make(idx.Indices, len(dims))
	for j, d := range dims {
		first[j] = gu.FirstRankDomainIndex(d)
		last[j] = gu.LastRankDomainIndex(d)
	}
	for _, step := range steps {
		pt := make(idx.Indices, 1+len(dims))
		pt[0] = step
		var walk func(j int)
		walk = func(j int) {
			if j == len(dims) {
				g := gu.GetElement(pt)
				w := wu.GetElement(pt)
				if g != w {
					t.Fatalf("mismatch at step %d %s: got %v, want %v",
						step, gu.FormatIndices(pt), g, w)
				}
				return
			}
			for v := first[j]; v <= last[j]; v++ {
				pt[1+j] = v
				walk(j + 1)
			}
		}
		walk(0)
	}
}

// TestLaplacianMatchesScalarReference is the single-rank seed scenario:
// a perturbed 32^3 domain advanced 10 steps must match the scalar
// reference path bit for bit.
func TestLaplacianMatchesScalarReference(t *testing.T) {
	center := idx.Indices{0, 16, 16, 16}
	tiled := newLaplace(t, 32, center)
	tiled.RunSolution(0, 9)

	ref := newLaplace(t, 32, center)
	ref.RunSolutionRef(0, 9)

	requireSameDomain(t, tiled, ref, []int{9, 10})

	// The perturbation must have diffused: the center is no longer 2.0
	// but still above the background.
	got := tiled.Var("u").GetElement(idx.Indices{10, 16, 16, 16})
	require.Less(t, got, 2.0)
	require.Greater(t, got, 0.5)
}

// TestTemporalAndWavefrontBitEquality is the wf=4, tb=2 seed scenario on
// one rank.
func TestTemporalAndWavefrontBitEquality(t *testing.T) {
	center := idx.Indices{0, 16, 16, 16}

	tiled := solution.New(comm.NewEnv(), "laplace3d")
	for _, dim := range tiled.DomainDimNames() {
		tiled.SetOverallDomainSize(dim, 32)
	}
	tiled.SetRegionSize("t", 4)
	tiled.SetBlockSize("t", 2)
	tiled.SetRegionSize("x", 16)
	tiled.SetBlockSize("x", 8)
	tiled.PrepareSolution()
	tiled.Var("u").SetAllElementsSame(0.5)
	tiled.Var("u").SetElement(2.0, center, true)
	tiled.RunSolution(0, 7)

	plain := newLaplace(t, 32, center)
	plain.RunSolution(0, 7)

	requireSameDomain(t, tiled, plain, []int{7, 8})
}

// runRanks drives one solution per fabric rank concurrently.
func runRanks(t *testing.T, envs []*comm.Env, fn func(env *comm.Env)) {
	t.Helper()
	var wg sync.WaitGroup
	for _, env := range envs {
		wg.Add(1)
		go func(env *comm.Env) {
			defer wg.Done()
			fn(env)
		}(env)
	}
	wg.Wait()
}

// TestTwoRankBitEquality is the 2x1x1-rank seed scenario with
// overlapped comms; results must match a single-rank run exactly.
func TestTwoRankBitEquality(t *testing.T) {
	center := idx.Indices{0, 16, 16, 16}
	ref := newLaplace(t, 32, center)
	ref.RunSolution(0, 9)

	envs := comm.NewFabric(2)
	sols := make([]*solution.Solution, 2)
	runRanks(t, envs, func(env *comm.Env) {
		sol := solution.New(env, "laplace3d")
		for _, dim := range sol.DomainDimNames() {
			sol.SetOverallDomainSize(dim, 32)
		}
		sol.SetNumRanks("x", 2)
		sol.SetOverlapComms(true)
		sol.PrepareSolution()
		u := sol.Var("u")
		u.SetAllElementsSame(0.5)
		u.SetElement(2.0, center, false) // only where local (incl. halos).
		sol.RunSolution(0, 9)
		sols[env.RankIndex()] = sol
	})

	for _, sol := range sols {
		requireSameDomain(t, sol, ref, []int{9, 10})
	}
}

// TestWavefrontAcrossRanksWithShm combines wavefronts, temporal blocking,
// and the shared-memory exchange path across two ranks.
func TestWavefrontAcrossRanksWithShm(t *testing.T) {
	perturb := idx.Indices{0, 7, 4, 4}

	ref := solution.New(comm.NewEnv(), "laplace3d")
	ref.SetOverallDomainSize("x", 16)
	ref.SetOverallDomainSize("y", 8)
	ref.SetOverallDomainSize("z", 8)
	ref.PrepareSolution()
	ref.Var("u").SetAllElementsSame(0.5)
	ref.Var("u").SetElement(2.0, perturb, true)
	ref.RunSolution(0, 7)

	envs := comm.NewFabric(2)
	sols := make([]*solution.Solution, 2)
	runRanks(t, envs, func(env *comm.Env) {
		sol := solution.New(env, "laplace3d")
		sol.SetOverallDomainSize("x", 16)
		sol.SetOverallDomainSize("y", 8)
		sol.SetOverallDomainSize("z", 8)
		sol.SetNumRanks("x", 2)
		sol.SetRegionSize("t", 4)
		sol.SetBlockSize("t", 2)
		sol.SetUseShm(true)
		sol.PrepareSolution()
		u := sol.Var("u")
		u.SetAllElementsSame(0.5)
		u.SetElement(2.0, perturb, false)
		sol.RunSolution(0, 7)
		sols[env.RankIndex()] = sol
	})

	for _, sol := range sols {
		requireSameDomain(t, sol, ref, []int{7, 8})
	}
}

// TestHaloPlanSymmetry checks that the bytes each rank plans to send
// mirror what its neighbor plans to receive, and that neighbors past the
// exchange distance get no buffers.
func TestHaloPlanSymmetry(t *testing.T) {
	envs := comm.NewFabric(4)
	type result struct {
		counts [][2]int
		dists  []int
		ranks  []int
	}
	results := make([]result, 4)
	runRanks(t, envs, func(env *comm.Env) {
		sol := solution.New(env, "laplace3d")
		for _, dim := range sol.DomainDimNames() {
			sol.SetOverallDomainSize(dim, 32)
		}
		sol.SetNumRanks("x", 2)
		sol.SetNumRanks("y", 2)
		sol.SetNumRanks("z", 1)
		sol.PrepareSolution()
		ctx := sol.Context()
		results[env.RankIndex()] = result{
			counts: ctx.Exchange.SendRecvSymmetry()["u"],
			dists:  ctx.Info.ManDists,
			ranks:  ctx.Info.Ranks,
		}
	})

	info := comm.NewInfo([]string{"x", "y", "z"})
	for me := 0; me < 4; me++ {
		for ni := 0; ni < info.Size; ni++ {
			if ni == info.MyIndex {
				continue
			}
			nbr := results[me].ranks[ni]
			if nbr < 0 {
				continue
			}
			// Diagonal neighbors are beyond the Laplacian's exchange
			// distance and must contribute nothing.
			if results[me].dists[ni] > 1 {
				require.Zero(t, results[me].counts[ni][0])
				require.Zero(t, results[me].counts[ni][1])
				continue
			}
			// What I plan to send a neighbor must equal what it plans
			// to receive from me, and vice versa; my position in its
			// neighborhood is the mirror of its position in mine.
			mirror := info.Size - 1 - ni
			require.Equal(t, me, results[nbr].ranks[mirror])
			require.Equal(t, results[me].counts[ni][0], results[nbr].counts[mirror][1],
				"rank %d send to %d vs its recv", me, nbr)
			require.Equal(t, results[me].counts[ni][1], results[nbr].counts[mirror][0],
				"rank %d recv from %d vs its send", me, nbr)
		}
	}
}

// TestCommandLineOptions checks option parsing and the unrecognized
// residue.
func TestCommandLineOptions(t *testing.T) {
	sol := solution.New(comm.NewEnv(), "laplace3d")
	rest := sol.ApplyCommandLineOptions("-g 32 -bx 24 -rt 4 -use_shm -no-overlap_comms -bogus 7 hello")
	require.Equal(t, "-bogus 7 hello", rest)
	require.Equal(t, 32, sol.OverallDomainSize("x"))
	require.Equal(t, 32, sol.OverallDomainSize("z"))
	require.Equal(t, 24, sol.BlockSize("x"))
	require.Equal(t, 4, sol.RegionSize("t"))
	require.True(t, sol.Context().Opts.UseShm)
	require.False(t, sol.Context().Opts.OverlapComms)
}

// TestHooksAndStats checks hook ordering and counter reset on retrieval.
func TestHooksAndStats(t *testing.T) {
	sol := newLaplace(t, 16, nil)
	var calls []string
	sol.CallBeforeRunSolution(func(_ *solution.Solution, first, last int) {
		require.Equal(t, 0, first)
		require.Equal(t, 3, last)
		calls = append(calls, "before")
	})
	sol.CallAfterRunSolution(func(_ *solution.Solution, first, last int) {
		calls = append(calls, "after")
	})
	sol.RunSolution(0, 3)
	require.Equal(t, []string{"before", "after"}, calls)

	stats := sol.GetStats()
	require.Equal(t, 4, stats.NumStepsDone)
	require.Equal(t, 16*16*16, stats.NumElements)
	require.Equal(t, 4*16*16*16, stats.NumWritesDone)
	require.Positive(t, stats.EstFpOpsDone)

	// Retrieval resets.
	stats = sol.GetStats()
	require.Zero(t, stats.NumStepsDone)
	require.Zero(t, stats.NumWritesDone)
}

// TestRunWithoutPrepare checks the lifecycle error.
func TestRunWithoutPrepare(t *testing.T) {
	sol := solution.New(comm.NewEnv(), "laplace3d")
	require.Panics(t, func() { sol.RunSolution(0, 1) })
}

// TestSolutionClone checks the settings-copying constructor.
func TestSolutionClone(t *testing.T) {
	src := solution.New(comm.NewEnv(), "laplace3d")
	src.SetOverallDomainSize("x", 48)
	src.SetBlockSize("y", 12)

	clone := solution.NewFrom(comm.NewEnv(), src)
	require.Equal(t, 48, clone.OverallDomainSize("x"))
	require.Equal(t, 12, clone.BlockSize("y"))
}

// TestAutoTunerSmoke runs a few tuned slabs without requiring
// convergence.
func TestAutoTunerSmoke(t *testing.T) {
	sol := solution.New(comm.NewEnv(), "laplace3d")
	for _, dim := range sol.DomainDimNames() {
		sol.SetOverallDomainSize(dim, 16)
	}
	sol.Context().Opts.DoAutoTune = true
	sol.PrepareSolution()
	sol.Var("u").SetAllElementsSame(0.5)
	require.True(t, sol.IsAutoTunerEnabled())
	sol.RunSolution(0, 9)

	sol.ResetAutoTuner(false, false)
	require.False(t, sol.IsAutoTunerEnabled())
}
