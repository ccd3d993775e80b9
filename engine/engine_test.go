// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/engine"
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// countingDef builds a 3D stencil whose kernels increment the output
// step slot in place, so every point records how many times it was
// evaluated. The fold spans a non-inner dim (x) and the inner dim (z),
// and odd domain sizes force peel, remainder, and scalar-fringe zones.
func countingDef() *stencils.Def {
	dims := vars.NewDims("t", []string{"x", "y", "z"}, nil,
		idx.Indices{4, 1, 2}, idx.Indices{1, 1, 2})

	bump := func(u *vars.Var, pt idx.Indices) {
		wpt := pt.Clone()
		wpt[0]++
		ofs, _ := u.Offset(wpt)
		u.Data()[ofs]++
	}
	bundle := &stencils.Bundle{
		Name:           "count",
		InputVars:      []string{"u"},
		OutputVars:     []string{"u"},
		StepOffset:     1,
		WritesPerPoint: 1,
		FpOpsPerPoint:  1,
	}
	bundle.Kernels = stencils.VTable{
		Scalar: func(a *stencils.Args, pt idx.Indices) {
			bump(a.Inputs[0], pt)
		},
		Vector: func(a *stencils.Args, pt idx.Indices, mask uint64) {
			// Fold points in layout order: z fastest within the fold.
			u := a.Inputs[0]
			k := 0
			for fx := 0; fx < 4; fx++ {
				for fz := 0; fz < 2; fz++ {
					if mask&(1<<uint(k)) != 0 {
						fpt := pt.Clone()
						fpt[1] += fx
						fpt[3] += fz
						bump(u, fpt)
					}
					k++
				}
			}
		},
		Cluster: func(a *stencils.Args, pt idx.Indices) {
			u := a.Inputs[0]
			for fx := 0; fx < 4; fx++ {
				for fz := 0; fz < 4; fz++ {
					fpt := pt.Clone()
					fpt[1] += fx
					fpt[3] += fz
					bump(u, fpt)
				}
			}
		},
	}
	return &stencils.Def{
		Name:   "count3d",
		Target: "cpu",
		Dims:   dims,
		Vars: []stencils.VarDef{{
			Name:      "u",
			DimNames:  []string{"t", "x", "y", "z"},
			StepAlloc: 2,
		}},
		Bundles: []*stencils.Bundle{bundle},
		Packs:   []*stencils.Pack{{Name: "main", Bundles: []string{"count"}}},
	}
}

// TestTileDecompositionExactlyOnce checks that one step evaluates every
// domain point exactly once, across cluster, masked-vector, and scalar
// zones.
func TestTileDecompositionExactlyOnce(t *testing.T) {
	env := comm.NewEnv()
	ctx := engine.NewContext(env, countingDef())
	ctx.Opts.RankSizes.SetVals(idx.Indices{0, 10, 9, 21})
	// Small blocks force several tiles per level; two block threads
	// exercise the inner parallel level.
	for i := 1; i <= 3; i++ {
		ctx.Opts.BlockSizes.SetValAt(i, 8)
		ctx.Opts.MiniBlockSizes.SetValAt(i, 8)
		ctx.Opts.SubBlockSizes.SetValAt(i, 4)
	}
	ctx.Opts.NumBlockThreads = 2
	ctx.PrepareSolution()
	u := ctx.VarMap["u"]
	u.SetAllElementsSame(0)

	ctx.RunSolution(0, 0)

	for x := 0; x < 10; x++ {
		for y := 0; y < 9; y++ {
			for z := 0; z < 21; z++ {
				got := u.GetElement(idx.Indices{1, x, y, z})
				require.Equalf(t, 1.0, got, "point (%d,%d,%d) evaluated %v times", x, y, z, got)
			}
		}
	}
}

// TestTemporalBlockingExactlyOnce repeats the exact-once check with
// wavefronts and temporal blocking enabled over several steps.
func TestTemporalBlockingExactlyOnce(t *testing.T) {
	env := comm.NewEnv()
	ctx := engine.NewContext(env, countingDef())
	ctx.Opts.RankSizes.SetVals(idx.Indices{0, 24, 24, 24})
	ctx.Opts.RegionSizes.SetVals(idx.Indices{4, 16, 16, 16})
	ctx.Opts.BlockSizes.SetVals(idx.Indices{2, 8, 8, 8})
	// Thread binding keeps each block thread on stable slabs.
	ctx.Opts.NumBlockThreads = 2
	ctx.Opts.BindBlockThreads = true
	ctx.PrepareSolution()
	u := ctx.VarMap["u"]
	u.SetAllElementsSame(0)

	const steps = 8
	ctx.RunSolution(0, steps-1)

	// Even steps land in slot 0, odd in slot 1; after 8 steps each slot
	// was written 4 times, so every point must read exactly 4.
	for x := 0; x < 24; x++ {
		for y := 0; y < 24; y++ {
			for z := 0; z < 24; z++ {
				for slot := 0; slot < 2; slot++ {
					got := u.GetElement(idx.Indices{steps - 1 + slot, x, y, z})
					require.Equalf(t, 4.0, got, "point (%d,%d,%d) slot %d", x, y, z, slot)
				}
			}
		}
	}
}

// checkerDef is a 2D bundle restricted to points where x+y is even.
func checkerDef() *stencils.Def {
	dims := vars.NewDims("t", []string{"x", "y"}, nil, nil, nil)
	bundle := &stencils.Bundle{
		Name:       "checker",
		InputVars:  []string{"u"},
		OutputVars: []string{"u"},
		StepOffset: 1,
		SubDomain: func(pt idx.Indices) bool {
			return (pt[0]+pt[1])%2 == 0
		},
	}
	bundle.Kernels = stencils.VTable{
		Scalar: func(a *stencils.Args, pt idx.Indices) {
			u := a.Inputs[0]
			wpt := pt.Clone()
			wpt[0]++
			ofs, _ := u.Offset(wpt)
			u.Data()[ofs]++
		},
	}
	return &stencils.Def{
		Name:   "checker2d",
		Target: "cpu",
		Dims:   dims,
		Vars: []stencils.VarDef{{
			Name:      "u",
			DimNames:  []string{"t", "x", "y"},
			StepAlloc: 2,
		}},
		Bundles: []*stencils.Bundle{bundle},
		Packs:   []*stencils.Pack{{Name: "main", Bundles: []string{"checker"}}},
	}
}

// TestCheckerboardDecomposition checks the sub-domain cover: the box
// list tiles exactly the valid points with disjoint rectangles.
func TestCheckerboardDecomposition(t *testing.T) {
	env := comm.NewEnv()
	ctx := engine.NewContext(env, checkerDef())
	ctx.Opts.RankSizes.SetVals(idx.Indices{0, 16, 16})
	ctx.PrepareSolution()

	b := ctx.Bundles[0]
	require.NotEmpty(t, b.BBList)
	require.Equal(t, 128, b.BBList.TotalPoints())
	require.Equal(t, 128, b.BB.NumPoints)

	// Disjoint and exactly the valid points.
	seen := make(map[[2]int]bool)
	for i := range b.BBList {
		bb := &b.BBList[i]
		for x := bb.Begin[0]; x < bb.End[0]; x++ {
			for y := bb.Begin[1]; y < bb.End[1]; y++ {
				require.Zero(t, (x+y)%2, "invalid point (%d,%d) inside a box", x, y)
				key := [2]int{x, y}
				require.False(t, seen[key], "point (%d,%d) covered twice", x, y)
				seen[key] = true
			}
		}
	}
	require.Len(t, seen, 128)

	// The engine evaluates exactly the valid points.
	u := ctx.VarMap["u"]
	u.SetAllElementsSame(0)
	ctx.RunSolution(0, 0)
	total := 0.0
	for x := 0; x < 16; x++ {
		for y := 0; y < 16; y++ {
			got := u.GetElement(idx.Indices{1, x, y})
			if (x+y)%2 == 0 {
				require.Equal(t, 1.0, got)
			} else {
				require.Equal(t, 0.0, got)
			}
			total += got
		}
	}
	require.Equal(t, 128.0, total)
}

// TestRankLayoutHeuristic checks that the factorization search picks the
// most compact grid.
func TestRankLayoutHeuristic(t *testing.T) {
	envs := comm.NewFabric(4)
	results := make([]idx.Indices, 4)
	done := make(chan int, 4)
	for r, env := range envs {
		go func(r int, env *comm.Env) {
			ctx := engine.NewContext(env, stencils.New("laplace3d"))
			ctx.Opts.GlobalSizes.SetVals(idx.Indices{0, 32, 32, 32})
			ctx.PrepareSolution()
			results[r] = ctx.Opts.NumRanks.Vals()
			done <- r
		}(r, env)
	}
	for range envs {
		<-done
	}
	for _, layout := range results {
		require.Equal(t, 4, layout.Product())
		require.Equal(t, 2, layout.Max(), "layout %s is not the most compact", layout)
		require.Equal(t, results[0], layout)
	}
}
