// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/idx"
)

// bindIdxOfs keeps the thread-binding pattern stable for negative indices.
const bindIdxOfs = 0x1000

// calcMiniBlock evaluates one mini-block: the unit of the inner thread
// level and of a temporal-blocking phase. For each (time, pack) the
// bounds are shifted by the mini-block angles, clamped to the shape for
// the current phase, to the region trapezoid, and to the pack's box, then
// each bundle runs over its bounding-box list.
func (ctx *Context) calcMiniBlock(regionThread int, selPack *Pack,
	regionShiftNum, nphases, phase, nshapes, shape int, bridgeMask []bool,
	rankIdxs, baseRegionIdxs, baseBlockIdxs, adjBlockIdxs *scanIdx) {

	// Promote transport progress while only the interior is computed.
	if ctx.isOverlapActive() && ctx.doMpiInterior && regionThread == 0 {
		ctx.Exchange.Poke()
	}

	nsd := ctx.Dims.NumStencilDims()
	mbIdxs := newScan(nsd)
	mbIdxs.initFromOuter(adjBlockIdxs)

	beginT := mbIdxs.Begin[0]
	endT := mbIdxs.End[0]
	stepDir := 1
	if endT < beginT {
		stepDir = -1
	}
	numT := idx.CeilDiv(abs(endT-beginT), 1)

	shiftNum := 0
	for indexT := 0; indexT < numT; indexT++ {
		startT := beginT + indexT*stepDir
		stopT := startT + stepDir
		mbIdxs.Begin[0] = startT
		mbIdxs.End[0] = stopT
		mbIdxs.Start[0] = startT
		mbIdxs.Stop[0] = stopT

		for _, bp := range ctx.Packs {
			if selPack != nil && selPack != bp {
				continue
			}
			if !bp.IsInValidStep(startT) {
				// Skipped packs still count their shift.
				shiftNum++
				continue
			}
			settings := bp.ActiveSettings()
			for i := 1; i < nsd; i++ {
				mbIdxs.Stride[i] = settings.SubBlockSizes.ValAt(i)
			}
			mbIdxs.Stride[0] = stepDir

			ok := ctx.shiftRegion(rankIdxs.Start, rankIdxs.Stop,
				regionShiftNum+shiftNum, bp, mbIdxs)
			if ok {
				ok = ctx.shiftMiniBlock(adjBlockIdxs, baseBlockIdxs, baseRegionIdxs,
					shiftNum, nphases, phase, bridgeMask, mbIdxs)
			}
			if ok {
				if len(ctx.scratchVars) > 0 {
					ctx.updateScratchVarInfo(regionThread, mbIdxs.Begin)
				}
				for _, b := range bp.Bundles {
					if !b.IsScratch() && b.BB.NumPoints > 0 {
						b.evalMiniBlock(regionThread, settings, mbIdxs)
					}
				}
				makeStoresVisible()
			}
			shiftNum++
		}
	}
}

// shiftMiniBlock clamps idxs to the shape for (phase, shape) within the
// current block and shifts by the mini-block angles. idxs.Begin/End come
// in trimmed to the region and leave further trimmed to the shape.
// Returns false when the resulting area is empty.
func (ctx *Context) shiftMiniBlock(adjBlockIdxs, baseBlockIdxs, baseRegionIdxs *scanIdx,
	mbShiftNum, nphases, phase int, bridgeMask []bool, idxs *scanIdx) bool {

	ndd := ctx.Dims.NumDomainDims()
	for j := 0; j < ndd; j++ {
		i := 1 + j
		tbAngle := ctx.TbAngles[j]

		// Position of this block within the region.
		isFirstBlk := baseBlockIdxs.Begin[i] <= baseRegionIdxs.Begin[i]
		isLastBlk := baseBlockIdxs.End[i] >= baseRegionIdxs.End[i]
		isOneBlk := isFirstBlk && isLastBlk

		blkStart := baseBlockIdxs.Begin[i]
		blkStop := baseBlockIdxs.End[i]
		if nphases > 1 && !isOneBlk {
			blkStop = min(blkStart+ctx.TbWidths[j], baseBlockIdxs.End[i])
		}
		nextBlkStart := baseBlockIdxs.End[i]

		// Shift by the points of one TB step, clamping the first and
		// last blocks to the region.
		blkStart += tbAngle * mbShiftNum
		if isFirstBlk {
			blkStart = idxs.Begin[i]
		}
		blkStop -= tbAngle * mbShiftNum
		if (nphases == 1 || isOneBlk) && isLastBlk {
			blkStop = idxs.End[i]
		}
		nextBlkStart += tbAngle * mbShiftNum
		if isLastBlk {
			nextBlkStart = idxs.End[i]
		}

		// Phase 0 uses the base trapezoid; bridged dims span from the
		// right side of this trapezoid to the left side of the next.
		shapeStart := blkStart
		shapeStop := blkStop
		if phase > 0 && bridgeMask != nil && bridgeMask[j] {
			shapeStart = max(blkStop, blkStart)
			shapeStop = nextBlkStart
		}
		if shapeStop <= shapeStart {
			return false
		}

		// Position of this mini-block within the adjusted block.
		isFirstMb := adjBlockIdxs.Start[i] <= adjBlockIdxs.Begin[i]
		isLastMb := adjBlockIdxs.Stop[i] >= adjBlockIdxs.End[i]
		isOneMb := isFirstMb && isLastMb

		mbStart := adjBlockIdxs.Start[i]
		mbStop := adjBlockIdxs.Stop[i]
		if !isOneMb {
			// Mini-blocks are a wavefront themselves: only shift left.
			mbStart -= ctx.MbAngles[j] * mbShiftNum
			mbStop -= ctx.MbAngles[j] * mbShiftNum
		}
		if isFirstMb {
			mbStart = shapeStart
		}
		if isLastMb {
			mbStop = shapeStop
		}

		// Fit in the region, then in the shape.
		mbStart = max(mbStart, idxs.Begin[i])
		mbStop = min(mbStop, idxs.End[i])
		mbStart = max(mbStart, shapeStart)
		mbStop = min(mbStop, shapeStop)

		idxs.Begin[i] = mbStart
		idxs.End[i] = mbStop
		if mbStop <= mbStart {
			return false
		}
	}
	return true
}

// evalMiniBlock runs this bundle (and its required scratch producers)
// over the intersection of the mini-block with each box of the bundle's
// box list, spreading sub-blocks over the block threads.
func (b *Bundle) evalMiniBlock(regionThread int, settings *Settings, miniBlockIdxs *scanIdx) {
	ctx := b.ctx
	nsd := ctx.Dims.NumStencilDims()
	nbt := ctx.Pool.BlockThreads()
	bindThreads := nbt > 1 && settings.BindBlockThreads
	bindPosn := settings.BindPosn
	bindSlabPts := 1
	if bindThreads {
		bindSlabPts = max(settings.SubBlockSizes.ValAt(bindPosn), 1)
	}

	for bbn := range b.BBList {
		bb := &b.BBList[bbn]
		if bb.Size == 0 {
			continue
		}
		// Intersect the mini-block with this box.
		mb := miniBlockIdxs.clone()
		empty := false
		for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
			i := 1 + j
			mb.Begin[i] = max(mb.Begin[i], bb.Begin[j])
			mb.End[i] = min(mb.End[i], bb.End[j])
			if mb.End[i] <= mb.Begin[i] {
				empty = true
				break
			}
		}
		if empty {
			continue
		}

		for _, sg := range b.reqdBundles() {
			ctx.Pool.RunBlocks(func(blockThread int) {
				adjBegin, adjEnd := sg.adjustSpan(regionThread, mb.Begin, mb.End)
				adj := newScan(nsd)
				copy(adj.Begin, adjBegin)
				copy(adj.End, adjEnd)
				adj.Start[0] = mb.Start[0]
				adj.Stop[0] = mb.Stop[0]
				for i := 1; i < nsd; i++ {
					switch {
					case bindThreads && i == bindPosn:
						adj.Stride[i] = bindSlabPts
					case settings.SubBlockSizes.ValAt(i) >= settings.MiniBlockSizes.ValAt(i) || bindThreads:
						adj.Stride[i] = adj.End[i] - adj.Begin[i]
					default:
						adj.Stride[i] = settings.SubBlockSizes.ValAt(i)
					}
				}

				// With binding, a thread owns the sub-blocks of its
				// slabs along the binding dim, keeping it on a stable
				// set of cache lines across packs; otherwise
				// sub-blocks go round-robin.
				count := 0
				adj.visitTiles(func(sb *scanIdx) {
					run := false
					if bindThreads {
						slab := idx.DivFlr(sb.Start[bindPosn]+bindIdxOfs, bindSlabPts)
						run = idx.ModFlr(slab, nbt) == blockThread
					} else {
						run = count%nbt == blockThread
						count++
					}
					if run {
						sg.calcSubBlock(regionThread, blockThread, settings, sb)
					}
				})
			})
		}
	}
}

// calcSubBlock partitions one sub-block into full vector clusters, full
// and partial (masked) vectors on the faces, and a scalar fringe along
// the inner dim, then drives the bundle's inner kernels over each zone.
func (sg *Bundle) calcSubBlock(regionThread, blockThread int, settings *Settings, span *scanIdx) {
	ctx := sg.ctx
	dims := ctx.Dims
	ndd := dims.NumDomainDims()
	inner := dims.InnerPosn()
	args := sg.argsFor(regionThread)
	t := span.Start[0]

	if settings.ForceScalar || sg.def.Kernels.Cluster == nil || sg.def.Kernels.Vector == nil {
		sg.calcSubBlockScalar(args, t, span)
		return
	}

	rofs := ctx.RankDomainOffsets
	ebgn := make(idx.Indices, ndd)
	eend := make(idx.Indices, ndd)
	fcbgn := make(idx.Indices, ndd)
	fcend := make(idx.Indices, ndd)
	fvbgn := make(idx.Indices, ndd)
	fvend := make(idx.Indices, ndd)
	vbgn := make(idx.Indices, ndd)
	vend := make(idx.Indices, ndd)
	peelMasks := make([]uint64, ndd)
	remMasks := make([]uint64, ndd)

	doClusters := true
	doVectors := false
	doScalars := false

	for j := 0; j < ndd; j++ {
		i := 1 + j
		ebgn[j] = span.Start[i] - rofs[j]
		eend[j] = span.Stop[i] - rofs[j]
		peelMasks[j] = ^uint64(0)
		remMasks[j] = ^uint64(0)

		cpts := dims.ClusterPts[j]
		fcbgn[j] = idx.RoundUp(ebgn[j], cpts)
		fcend[j] = idx.RoundDown(eend[j], cpts)
		if fcend[j] <= fcbgn[j] {
			doClusters = false
		}

		if fcbgn[j] > ebgn[j] || fcend[j] < eend[j] {
			vpts := dims.FoldPts[j]
			fvbgn[j] = idx.RoundUp(ebgn[j], vpts)
			fvend[j] = idx.RoundDown(eend[j], vpts)
			vbgn[j] = idx.RoundDown(ebgn[j], vpts)
			vend[j] = idx.RoundUp(eend[j], vpts)
			if j == inner {
				// Leftovers along the inner dim go to scalars; folds
				// are normally perpendicular to it.
				fvbgn[j], fvend[j] = fcbgn[j], fcend[j]
				vbgn[j], vend[j] = fcbgn[j], fcend[j]
			}
			if vbgn[j] < fcbgn[j] || vend[j] > fcend[j] {
				doVectors = true
			}
			if vbgn[j] < fvbgn[j] || vend[j] > fvend[j] {
				// Partial vectors need masks; bit k of a mask gates
				// fold point k in layout order. Edge and corner
				// vectors AND their dims' masks together.
				var pmask, rmask uint64
				k := 0
				foldSpan := idx.NewTuple(dims.DomainDims...)
				foldSpan.SetVals(dims.FoldPts)
				foldSpan.VisitAllPoints(func(fp idx.Indices, _ int) bool {
					if vbgn[j]+fp[j] >= ebgn[j] {
						pmask |= 1 << uint(k)
					}
					if fvend[j]+fp[j] < eend[j] {
						rmask |= 1 << uint(k)
					}
					k++
					return true
				})
				peelMasks[j] = pmask
				remMasks[j] = rmask
			}
			if j == inner && (ebgn[j] < vbgn[j] || eend[j] > vend[j]) {
				doScalars = true
			}
		} else {
			fvbgn[j], fvend[j] = fcbgn[j], fcend[j]
			vbgn[j], vend[j] = fcbgn[j], fcend[j]
		}
	}

	// Full rectilinear polytope of aligned clusters: optimized kernel.
	if doClusters {
		cl := idx.NewTuple(dims.DomainDims...)
		cl.SetVals(fcend.SubElems(fcbgn))
		for j := 0; j < ndd; j++ {
			cl.SetValAt(j, idx.CeilDiv(cl.ValAt(j), dims.ClusterPts[j]))
		}
		pt := make(idx.Indices, 1+ndd)
		pt[0] = t
		cl.VisitAllPoints(func(cofs idx.Indices, _ int) bool {
			for j := 0; j < ndd; j++ {
				pt[1+j] = rofs[j] + fcbgn[j] + cofs[j]*dims.ClusterPts[j]
			}
			sg.def.Kernels.Cluster(args, pt)
			return true
		})
	}

	// Full and partial vectors on the faces, masked at the edges.
	if doVectors {
		vt := idx.NewTuple(dims.DomainDims...)
		for j := 0; j < ndd; j++ {
			vt.SetValAt(j, idx.CeilDiv(vend[j]-vbgn[j], dims.FoldPts[j]))
		}
		pt := make(idx.Indices, 1+ndd)
		pt[0] = t
		vt.VisitAllPoints(func(vofs idx.Indices, _ int) bool {
			start := make(idx.Indices, ndd)
			ok := false
			mask := ^uint64(0)
			for j := 0; j < ndd; j++ {
				start[j] = vbgn[j] + vofs[j]*dims.FoldPts[j]
				if j != inner && (start[j] < fcbgn[j] || start[j] >= fcend[j]) {
					ok = true
					if start[j] < fvbgn[j] {
						mask &= peelMasks[j]
					}
					if start[j] >= fvend[j] {
						mask &= remMasks[j]
					}
				}
			}
			if ok {
				for j := 0; j < ndd; j++ {
					pt[1+j] = rofs[j] + start[j]
				}
				sg.def.Kernels.Vector(args, pt, mask)
			}
			return true
		})
	}

	// Scalar fringe: whatever the vector zones did not cover, normally
	// only along the inner dim.
	if doScalars {
		sp := idx.NewTuple(dims.DomainDims...)
		sp.SetVals(eend.SubElems(ebgn))
		pt := make(idx.Indices, 1+ndd)
		pt[0] = t
		sp.VisitAllPoints(func(ofs idx.Indices, _ int) bool {
			outside := false
			for j := 0; j < ndd; j++ {
				e := ebgn[j] + ofs[j]
				pt[1+j] = rofs[j] + e
				if e < vbgn[j] || e >= vend[j] {
					outside = true
				}
			}
			if outside {
				sg.def.Kernels.Scalar(args, pt)
			}
			return true
		})
	}
}

// calcSubBlockScalar evaluates every point of the sub-block with the
// scalar kernel; used with ForceScalar and by bundles without vector
// kernels.
func (sg *Bundle) calcSubBlockScalar(a *stencils.Args, t int, span *scanIdx) {
	ctx := sg.ctx
	dims := ctx.Dims
	ndd := dims.NumDomainDims()
	sp := idx.NewTuple(dims.DomainDims...)
	for j := 0; j < ndd; j++ {
		sp.SetValAt(j, span.Stop[1+j]-span.Start[1+j])
	}
	pt := make(idx.Indices, 1+ndd)
	pt[0] = t
	sp.VisitAllPoints(func(ofs idx.Indices, _ int) bool {
		for j := 0; j < ndd; j++ {
			pt[1+j] = span.Start[1+j] + ofs[j]
		}
		sg.def.Kernels.Scalar(a, pt)
		return true
	})
}
