// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"k8s.io/klog/v2"

	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
)

// scanIdx carries loop bounds through the tile levels. All vectors are in
// stencil-dim order: step at position 0, domain dims after it.
//
// Begin/End bound the whole level; Start/Stop bound the current tile;
// Stride is the tile size of the next level down.
type scanIdx struct {
	Begin, End   idx.Indices
	Stride       idx.Indices
	Start, Stop  idx.Indices
}

func newScan(n int) *scanIdx {
	return &scanIdx{
		Begin:  make(idx.Indices, n),
		End:    make(idx.Indices, n),
		Stride: idx.NewIndices(n, 1),
		Start:  make(idx.Indices, n),
		Stop:   make(idx.Indices, n),
	}
}

// initFromOuter starts an inner level covering the outer level's current
// tile.
func (s *scanIdx) initFromOuter(outer *scanIdx) {
	copy(s.Begin, outer.Start)
	copy(s.End, outer.Stop)
	copy(s.Start, outer.Start)
	copy(s.Stop, outer.Stop)
}

func (s *scanIdx) clone() *scanIdx {
	out := newScan(len(s.Begin))
	copy(out.Begin, s.Begin)
	copy(out.End, s.End)
	copy(out.Stride, s.Stride)
	copy(out.Start, s.Start)
	copy(out.Stop, s.Stop)
	return out
}

// visitTiles walks the spatial tiles of [Begin, End) by Stride in strict
// layout order (last domain dim fastest), setting Start/Stop per tile.
func (s *scanIdx) visitTiles(fn func(t *scanIdx)) {
	n := len(s.Begin)
	for i := 1; i < n; i++ {
		if s.End[i] <= s.Begin[i] {
			return
		}
	}
	starts := make(idx.Indices, n)
	copy(starts, s.Begin)
	for {
		for i := 1; i < n; i++ {
			s.Start[i] = starts[i]
			s.Stop[i] = min(starts[i]+s.Stride[i], s.End[i])
		}
		fn(s)
		// Advance odometer over domain dims, last fastest.
		i := n - 1
		for ; i >= 1; i-- {
			starts[i] += s.Stride[i]
			if starts[i] < s.End[i] {
				break
			}
			starts[i] = s.Begin[i]
		}
		if i < 1 {
			return
		}
	}
}

// spatialTiles collects the tile spans of [Begin, End) by Stride; used to
// distribute blocks over region threads deterministically.
func (s *scanIdx) spatialTiles() []*scanIdx {
	var out []*scanIdx
	s.visitTiles(func(t *scanIdx) {
		out = append(out, t.clone())
	})
	return out
}

// isOverlapActive reports whether exterior/interior splitting is on.
func (ctx *Context) isOverlapActive() bool {
	return ctx.Exchange != nil && ctx.Exchange.Interior.Valid
}

// exteriorExists reports whether there is an exterior section on the
// given side of domain dim j.
func (ctx *Context) exteriorExists(j int, left bool) bool {
	if left {
		return ctx.Exchange.Interior.Begin[j] > ctx.ExtBB.Begin[j]
	}
	return ctx.Exchange.Interior.End[j] < ctx.ExtBB.End[j]
}

// checkStepConds reports whether any bundle carries a step predicate.
func (ctx *Context) checkStepConds() bool {
	for _, b := range ctx.Bundles {
		if b.def.StepCond != nil {
			return true
		}
	}
	return false
}

// RunSolution advances the vars from step first to step last inclusive.
// Each region stride covers up to the wavefront depth of steps; an
// initial halo exchange always precedes the step loop.
func (ctx *Context) RunSolution(first, last int) {
	if !ctx.prepared {
		errs.Throwf(errs.PreparationError, "RunSolution called without calling PrepareSolution first")
	}
	var runTime timer
	runTime.start()
	defer func() { ctx.stats.elapsedSecs += runTime.stop() }()

	stepDir := 1
	if last < first {
		stepDir = -1
	}
	strideT := max(ctx.WfSteps, 1) * stepDir
	beginT := first
	endT := last + stepDir

	nsd := ctx.Dims.NumStencilDims()
	rankIdxs := newScan(nsd)
	for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
		rankIdxs.Begin[1+j] = ctx.ExtBB.Begin[j]
		rankIdxs.End[1+j] = ctx.ExtBB.End[j]
		rankIdxs.Stride[1+j] = ctx.Opts.RegionSizes.ValAt(1 + j)
	}
	rankIdxs.Begin[0] = beginT
	rankIdxs.End[0] = endT
	rankIdxs.Stride[0] = strideT

	if ctx.ExtBB.Size < 1 {
		klog.V(1).Info("nothing to do in solution")
		return
	}

	// Overlapping regions due to the wavefront angle need the end
	// extended wherever no inter-rank extension exists.
	if ctx.WfSteps > 0 {
		for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
			if ctx.RightWfExts[j] == 0 {
				rankIdxs.End[1+j] += ctx.WfShiftPts[j]
			}
		}
	}
	// A region that covers the whole rank in a dim takes exactly one
	// stride in that dim.
	for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
		if ctx.Opts.RegionSizes.ValAt(1+j) >= ctx.Opts.RankSizes.ValAt(1+j) {
			rankIdxs.Stride[1+j] = rankIdxs.End[1+j] - rankIdxs.Begin[1+j]
		}
	}

	checkSteps := ctx.checkStepConds()

	// Initial halo exchange.
	ctx.Exchange.Run(comm.AllFlags)

	numT := idx.CeilDiv(abs(endT-beginT), abs(strideT))
	for indexT := 0; indexT < numT; indexT++ {
		startT := beginT + indexT*strideT
		stopT := startT + strideT
		if strideT > 0 {
			stopT = min(stopT, endT)
		} else {
			stopT = max(stopT, endT)
		}
		thisNumT := abs(stopT - startT)
		rankIdxs.Start[0] = startT
		rankIdxs.Stop[0] = stopT

		ctx.tunerTimersStart()

		if ctx.WfSteps == 0 {
			// Without wavefronts, packs loop here and one pack at a
			// time flows down the tile levels.
			for _, bp := range ctx.Packs {
				if checkSteps && !bp.IsInValidStep(startT) {
					continue
				}
				ctx.runRegionsForPack(bp, rankIdxs, startT, stopT)
			}
		} else {
			// With wavefronts, every region evaluates all packs.
			ctx.runRegionsForPack(nil, rankIdxs, startT, stopT)
		}

		ctx.stats.stepsDone += thisNumT
		for _, bp := range ctx.Packs {
			numPackSteps := 0
			if !checkSteps {
				numPackSteps = thisNumT
			} else {
				for t := startT; t != stopT; t += stepDir {
					if bp.IsInValidStep(t) {
						numPackSteps++
					}
				}
			}
			bp.AddSteps(numPackSteps)
			ctx.stats.writesDone += bp.numWritesPerStep * numPackSteps
			ctx.stats.fpOpsDone += bp.numFpOpsPerStep * numPackSteps
		}
		ctx.evalAutoTuners(thisNumT)
	}
}

// runRegionsForPack makes the exterior and interior region passes for one
// pack (or all packs when bp is nil, in wavefront mode), exchanging halos
// at the right points.
func (ctx *Context) runRegionsForPack(bp *Pack, rankIdxs *scanIdx, startT, stopT int) {
	if ctx.isOverlapActive() {
		ctx.doMpiInterior = false
		// One exterior pass per side of each domain dim; regions are
		// trimmed to the active exterior slab.
		for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
			for _, isLeft := range []bool{true, false} {
				if !ctx.exteriorExists(j, isLeft) {
					continue
				}
				ctx.doMpiLeft = isLeft
				ctx.doMpiRight = !isLeft
				ctx.mpiExteriorDim = j
				ctx.calcRankRegions(bp, rankIdxs)
			}
		}
		ctx.updateVars(bp, startT, stopT, true)
		ctx.doMpiLeft, ctx.doMpiRight = true, true
		ctx.Exchange.Run(comm.Flags{Left: true, Right: true})
		ctx.doMpiLeft, ctx.doMpiRight = false, false
		ctx.doMpiInterior = true

		ctx.calcRankRegions(bp, rankIdxs)
		ctx.updateVars(bp, startT, stopT, false)
		ctx.Exchange.Run(comm.Flags{Interior: true})
		ctx.doMpiInterior, ctx.doMpiLeft, ctx.doMpiRight = true, true, true
		ctx.mpiExteriorDim = -1
	} else {
		ctx.calcRankRegions(bp, rankIdxs)
		ctx.updateVars(bp, startT, stopT, true)
		ctx.Exchange.Run(comm.AllFlags)
	}
}

// calcRankRegions walks the regions of the rank serially; blocks inside
// each region run on the region threads.
func (ctx *Context) calcRankRegions(bp *Pack, rankIdxs *scanIdx) {
	ri := rankIdxs.clone()
	ri.visitTiles(func(t *scanIdx) {
		ctx.calcRegion(bp, t)
	})
}

// calcRegion coordinates the temporal wavefront within one region: the
// time loop strides by the temporal-block depth, and all spatial bounds
// shift left by angle*shift for each (time, pack) evaluated.
func (ctx *Context) calcRegion(selPack *Pack, rankIdxs *scanIdx) {
	nsd := ctx.Dims.NumStencilDims()
	regionIdxs := newScan(nsd)
	regionIdxs.initFromOuter(rankIdxs)

	beginT := regionIdxs.Begin[0]
	endT := regionIdxs.End[0]
	stepDir := 1
	if endT < beginT {
		stepDir = -1
	}
	strideT := max(ctx.TbSteps, 1) * stepDir
	numT := idx.CeilDiv(abs(endT-beginT), abs(strideT))
	checkSteps := ctx.checkStepConds()

	regionShiftNum := 0
	for indexT := 0; indexT < numT; indexT++ {
		startT := beginT + indexT*strideT
		stopT := startT + strideT
		if strideT > 0 {
			stopT = min(stopT, endT)
		} else {
			stopT = max(stopT, endT)
		}
		regionIdxs.Start[0] = startT
		regionIdxs.Stop[0] = stopT

		if ctx.TbSteps == 0 {
			// No temporal blocking: loop packs here, one pack per
			// block evaluation.
			for _, bp := range ctx.Packs {
				if selPack != nil && selPack != bp {
					continue
				}
				if checkSteps && !bp.IsInValidStep(startT) {
					// The shift is counted even for skipped packs.
					regionShiftNum++
					continue
				}
				settings := bp.ActiveSettings()
				for i := 1; i < nsd; i++ {
					regionIdxs.Stride[i] = settings.BlockSizes.ValAt(i)
				}
				regionIdxs.Stride[0] = strideT

				ok := ctx.shiftRegion(rankIdxs.Start, rankIdxs.Stop, regionShiftNum, bp, regionIdxs)
				for i := 1; i < nsd; i++ {
					if settings.BlockSizes.ValAt(i) >= settings.RegionSizes.ValAt(i) {
						regionIdxs.Stride[i] = regionIdxs.End[i] - regionIdxs.Begin[i]
					}
				}
				if ok {
					ctx.calcBlocksInRegion(bp, regionShiftNum, 1, 0, rankIdxs, regionIdxs)
				}
				regionShiftNum++
			}
		} else {
			// Temporal blocking: packs and steps are evaluated inside
			// the blocks; phases tessellate the region and the region
			// threads sync between phases.
			settings := ctx.Opts
			for i := 1; i < nsd; i++ {
				regionIdxs.Stride[i] = settings.BlockSizes.ValAt(i)
			}
			regionIdxs.Stride[0] = strideT

			ok := ctx.shiftRegion(rankIdxs.Start, rankIdxs.Stop, regionShiftNum, nil, regionIdxs)
			if !ok {
				panic("internal error: shifted region unexpectedly empty without trimming")
			}
			for i := 1; i < nsd; i++ {
				if settings.BlockSizes.ValAt(i) >= settings.RegionSizes.ValAt(i) {
					regionIdxs.Stride[i] = regionIdxs.End[i] - regionIdxs.Begin[i]
				}
			}
			nphases := ctx.Dims.NumDomainDims() + 1
			for phase := 0; phase < nphases; phase++ {
				ctx.calcBlocksInRegion(nil, regionShiftNum, nphases, phase, rankIdxs, regionIdxs)
			}
			for t := startT; t != stopT; t += stepDir {
				for range ctx.Packs {
					regionShiftNum++
				}
			}
		}
	}
}

// calcBlocksInRegion distributes the region's blocks over the region
// threads; returning only when every block of the phase is done, which is
// the between-phase sync point.
func (ctx *Context) calcBlocksInRegion(bp *Pack, regionShiftNum, nphases, phase int, rankIdxs, regionIdxs *scanIdx) {
	blocks := regionIdxs.spatialTiles()
	ctx.Pool.RunRegions(func(rt int) {
		for i := rt; i < len(blocks); i += ctx.Pool.RegionThreads() {
			ctx.calcBlock(rt, bp, regionShiftNum, nphases, phase, rankIdxs, blocks[i])
		}
	})
}

// shiftRegion shifts the region's base bounds left by angle*shiftNum and
// trims to the pack box, the wavefront extensions, and the active MPI
// section. Returns false when nothing remains.
func (ctx *Context) shiftRegion(baseStart, baseStop idx.Indices, shiftNum int, bp *Pack, idxs *scanIdx) bool {
	ndd := ctx.Dims.NumDomainDims()
	ok := true
	for j := 0; j < ndd && ok; j++ {
		i := 1 + j
		angle := ctx.WfAngles[j]
		shiftAmt := angle * shiftNum

		// Regions only shift left.
		rstart := baseStart[i] - shiftAmt
		rstop := baseStop[i] - shiftAmt

		if bp != nil {
			// Trim to the pack's box (which is within the extended
			// rank box).
			rstart = max(rstart, bp.BB.Begin[j])
			rstop = min(rstop, bp.BB.End[j])

			dbegin := ctx.RankBB.Begin[j]
			dend := ctx.RankBB.End[j]

			// Inside the left extension, the boundary advances with
			// each shift; inside the right, it recedes.
			if rstart < dbegin && ctx.LeftWfExts[j] > 0 {
				rstart = max(rstart, dbegin-ctx.LeftWfExts[j]+shiftAmt)
			}
			if rstop > dend && ctx.RightWfExts[j] > 0 {
				rstop = min(rstop, dend+ctx.RightWfExts[j]-shiftAmt)
			}

			if ctx.isOverlapActive() && ctx.mpiExteriorDim >= 0 {
				intBegin := ctx.Exchange.Interior.Begin[j]
				intEnd := ctx.Exchange.Interior.End[j]
				if ctx.WfSteps > 0 {
					// Each exterior shape is a trapezoid whose width
					// shrinks with every shift; the interior is the
					// inverted trapezoid between them.
					if ctx.exteriorExists(j, true) {
						intBegin += ctx.WfShiftPts[j]
						intBegin -= shiftAmt
					}
					if ctx.exteriorExists(j, false) {
						intEnd -= ctx.WfShiftPts[j]
						intEnd += shiftAmt
					}
				}
				if ctx.doMpiInterior {
					rstart = max(rstart, intBegin)
					rstop = min(rstop, intEnd)
				} else {
					if !ctx.exteriorExists(ctx.mpiExteriorDim, ctx.doMpiLeft) {
						ok = false
						break
					}
					if j == ctx.mpiExteriorDim {
						if ctx.doMpiLeft {
							rstop = min(rstop, intBegin)
						} else {
							rstart = max(rstart, intEnd)
							// Also avoid overlap with the left section
							// when the rank is narrower than two shifts.
							rstart = max(rstart, intBegin)
						}
					}
					if j < ctx.mpiExteriorDim {
						// Dims below the active one are trimmed to the
						// interior so sections never overlap.
						rstart = max(rstart, intBegin)
						rstop = min(rstop, intEnd)
					}
				}
			}
			if rstop <= rstart {
				ok = false
				break
			}
		}
		idxs.Begin[i] = rstart
		idxs.End[i] = rstop
	}
	return ok
}

// updateVars slides the valid step windows of the output vars and marks
// them dirty for exchange. All ranks make identical marks.
func (ctx *Context) updateVars(selPack *Pack, start, stop int, markDirty bool) {
	stride := 1
	if start > stop {
		stride = -1
	}
	done := make(map[string]map[int]bool)
	for _, bp := range ctx.Packs {
		if selPack != nil && selPack != bp {
			continue
		}
		for t := start; t != stop; t += stride {
			for _, b := range bp.Bundles {
				if b.IsScratch() {
					continue
				}
				if b.def.StepCond != nil && !b.def.StepCond(t) {
					continue
				}
				tOut := b.OutputStepIndex(t)
				for i, v := range b.outputs {
					if b.scratchOutputs[i] != nil || v == nil {
						continue
					}
					if done[v.Name()] == nil {
						done[v.Name()] = make(map[int]bool)
					}
					if done[v.Name()][tOut] {
						continue
					}
					done[v.Name()][tOut] = true
					v.UpdateValidStep(tOut)
					if markDirty {
						v.SetDirty(true, tOut)
					}
				}
			}
		}
	}
}
