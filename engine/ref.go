// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
)

// RunSolutionRef advances the vars like RunSolution but with a plain
// scalar loop over every valid point, one step at a time. It is the
// reference the tiled engine is validated against; halos are still
// exchanged so it works across ranks.
func (ctx *Context) RunSolutionRef(first, last int) {
	if !ctx.prepared {
		errs.Throwf(errs.PreparationError, "RunSolutionRef called without calling PrepareSolution first")
	}
	stepDir := 1
	if last < first {
		stepDir = -1
	}
	checkSteps := ctx.checkStepConds()
	ndd := ctx.Dims.NumDomainDims()

	ctx.Exchange.Run(comm.AllFlags)
	for t := first; t != last+stepDir; t += stepDir {
		for _, bp := range ctx.Packs {
			if checkSteps && !bp.IsInValidStep(t) {
				continue
			}
			for _, b := range bp.Bundles {
				if b.IsScratch() {
					continue
				}
				args := b.argsFor(0)
				// Scratch producers run over the whole rank box too;
				// their halo regions are sized for mini-blocks, so the
				// reference path reuses the rank-wide loop per point
				// group instead.
				for _, sg := range b.reqdBundles() {
					sgArgs := args
					if sg != b {
						sgArgs = sg.argsFor(0)
					}
					pt := make(idx.Indices, 1+ndd)
					pt[0] = t
					span := idx.NewTuple(ctx.Dims.DomainDims...)
					span.SetVals(ctx.RankBB.Len)
					span.VisitAllPoints(func(ofs idx.Indices, _ int) bool {
						dpt := make(idx.Indices, ndd)
						for j := 0; j < ndd; j++ {
							dpt[j] = ctx.RankBB.Begin[j] + ofs[j]
							pt[1+j] = dpt[j]
						}
						if sg.isInValidDomain(dpt) {
							sg.def.Kernels.Scalar(sgArgs, pt)
						}
						return true
					})
				}
			}
			ctx.updateVars(bp, t, t+stepDir, true)
			ctx.Exchange.Run(comm.AllFlags)
			bp.AddSteps(1)
		}
		ctx.stats.stepsDone++
	}
}
