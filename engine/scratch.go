// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"

	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// allocScratchData (re)creates one scratch var per region thread per
// declared scratch definition and allocates their storage. It is called
// from PrepareSolution and again whenever the outer thread count changes.
//
// Each scratch var's domain is the max mini-block size over all packs,
// rounded up to the fold, plus a conservative allowance for wavefront and
// temporal shifts on both sides.
func (ctx *Context) allocScratchData() {
	// Drop old instances.
	for _, sv := range ctx.scratchVars {
		for _, v := range sv {
			v.ReleaseStorage()
		}
	}
	ctx.scratchVars = make(map[string][]*vars.Var)
	if len(ctx.scratchDefs) == 0 {
		return
	}

	rthreads := ctx.Pool.RegionThreads()
	dims := ctx.Dims
	ndd := dims.NumDomainDims()

	// Max mini-block size across packs; sizes can differ under per-pack
	// tuning.
	mblkSize := make(idx.Indices, ndd)
	for _, p := range ctx.Packs {
		for j := 0; j < ndd; j++ {
			sz := idx.RoundUp(p.ActiveSettings().MiniBlockSizes.ValAt(1+j), dims.FoldPts[j])
			mblkSize[j] = max(mblkSize[j], sz)
		}
	}
	klog.V(2).Infof("max mini-block size across pack(s): %s", mblkSize)

	var all []*vars.Var
	for _, sd := range ctx.scratchDefs {
		instances := make([]*vars.Var, rthreads)
		for rt := 0; rt < rthreads; rt++ {
			v := vars.New(dims, fmt.Sprintf("%s.%d", sd.Name, rt), sd.DimNames)
			v.SetScratch(true)
			if v.StepPosn() >= 0 && sd.StepAlloc > 0 {
				v.SetAllocSize(dims.StepDim, sd.StepAlloc)
			}
			for i, dn := range sd.DimNames {
				j := dims.DomainPosn(dn)
				if j < 0 {
					continue
				}
				if sd.LeftHalos != nil {
					v.SetLeftHaloSize(dn, sd.LeftHalos[i])
				}
				if sd.RightHalos != nil {
					v.SetRightHaloSize(dn, sd.RightHalos[i])
				}
				v.SetDomainSize(dn, mblkSize[j])
				shiftPts := max(ctx.WfShiftPts[j], ctx.TbAngles[j]*ctx.NumTbShifts) * 2
				v.SetLeftWfExt(dn, shiftPts)
				v.SetRightWfExt(dn, shiftPts)
				v.SetExtraPadSize(dn, ctx.Opts.ExtraPadSizes.ValAt(j), ctx.Opts.ExtraPadSizes.ValAt(j))
				v.SetMinPadSize(dn, ctx.Opts.MinPadSizes.ValAt(j))
			}
			instances[rt] = v
			all = append(all, v)
		}
		ctx.scratchVars[sd.Name] = instances
	}
	ctx.Allocator.PlanVars(all)

	// Wire the per-thread instances into the bundles that use them.
	for _, b := range ctx.Bundles {
		for i, name := range b.def.InputVars {
			if sv, ok := ctx.scratchVars[name]; ok {
				b.scratchInputs[i] = sv
			}
		}
		for i, name := range b.def.OutputVars {
			if sv, ok := ctx.scratchVars[name]; ok {
				b.scratchOutputs[i] = sv
			}
		}
	}
}

// updateScratchVarInfo moves one thread's scratch vars to the given
// mini-block begin point by adjusting rank and local offsets; the local
// offset is rounded down to the fold so reuse stays aligned.
func (ctx *Context) updateScratchVarInfo(regionThread int, mbBegin idx.Indices) {
	for _, sv := range ctx.scratchVars {
		v := sv[regionThread]
		for j, dname := range ctx.Dims.DomainDims {
			if !v.IsDimUsed(dname) {
				continue
			}
			rofs := ctx.RankDomainOffsets[j]
			v.SetRankOffset(dname, rofs)
			v.SetLocalOffset(dname, mbBegin[1+j]-rofs)
		}
	}
}
