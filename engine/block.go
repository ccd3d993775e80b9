// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

// calcBlock evaluates one block, owned by one region thread for its
// duration.
//
// Without temporal blocking a block is a simple box holding one step of
// one pack. With temporal blocking, n-dim space is tessellated in n+1
// phases: phase 0 is the upward trapezoid and phases 1..n are "bridge"
// shapes connecting adjacent phase-0 trapezoids, one shape per
// combination of `phase` dims out of n.
func (ctx *Context) calcBlock(regionThread int, selPack *Pack,
	regionShiftNum, nphases, phase int,
	rankIdxs, regionIdxs *scanIdx) {

	nsd := ctx.Dims.NumStencilDims()
	ndd := ctx.Dims.NumDomainDims()
	blockIdxs := newScan(nsd)
	blockIdxs.initFromOuter(regionIdxs)

	beginT := blockIdxs.Begin[0]
	endT := blockIdxs.End[0]
	stepDir := 1
	if endT < beginT {
		stepDir = -1
	}

	if ctx.TbSteps == 0 {
		if selPack == nil {
			panic("internal error: no pack selected without temporal blocking")
		}
		blockIdxs.Start[0] = beginT
		blockIdxs.Stop[0] = endT

		settings := selPack.ActiveSettings()
		for i := 1; i < nsd; i++ {
			blockIdxs.Stride[i] = settings.MiniBlockSizes.ValAt(i)
		}
		blockIdxs.Stride[0] = stepDir

		adj := blockIdxs.clone()
		adj.visitTiles(func(mb *scanIdx) {
			ctx.calcMiniBlock(regionThread, selPack, regionShiftNum,
				nphases, phase, 1, 0, nil,
				rankIdxs, regionIdxs, blockIdxs, mb)
		})
		return
	}

	// Temporal blocking: cover all phases and shapes. Shapes can extend
	// to the right as far as the next block, so the adjusted range adds
	// the width of this block; mini-blocks are trimmed to the active
	// shape at each step.
	blockIdxs.Start[0] = beginT
	blockIdxs.Stop[0] = endT
	settings := ctx.Opts
	for i := 1; i < nsd; i++ {
		blockIdxs.Stride[i] = settings.MiniBlockSizes.ValAt(i)
	}
	blockIdxs.Stride[0] = stepDir

	adj := blockIdxs.clone()
	for i := 1; i < nsd; i++ {
		width := regionIdxs.Stop[i] - regionIdxs.Start[i]
		adj.End[i] += width
		if settings.MiniBlockSizes.ValAt(i) >= settings.BlockSizes.ValAt(i) {
			adj.Stride[i] = adj.End[i] - adj.Begin[i]
		}
	}

	nshapes := choose(ndd, phase)
	for shape := 0; shape < nshapes; shape++ {
		bridgeMask := make([]bool, ndd)
		for _, d := range combination(ndd, phase, shape) {
			bridgeMask[d] = true
		}
		adj.visitTiles(func(mb *scanIdx) {
			ctx.calcMiniBlock(regionThread, nil, regionShiftNum,
				nphases, phase, nshapes, shape, bridgeMask,
				rankIdxs, regionIdxs, blockIdxs, mb)
		})
	}
}

// choose returns the binomial coefficient C(n, k).
func choose(n, k int) int {
	if k < 0 || k > n {
		return 0
	}
	c := 1
	for i := 0; i < k; i++ {
		c = c * (n - i) / (i + 1)
	}
	return c
}

// combination returns the idx'th k-combination of {0..n-1} in
// lexicographic order.
func combination(n, k, index int) []int {
	out := make([]int, 0, k)
	start := 0
	for k > 0 {
		for d := start; d < n; d++ {
			c := choose(n-d-1, k-1)
			if index < c {
				out = append(out, d)
				start = d + 1
				k--
				break
			}
			index -= c
		}
	}
	return out
}
