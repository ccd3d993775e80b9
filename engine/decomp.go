// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"sync"

	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/bbox"
	"github.com/opesci/yask/types/idx"
)

// findBoundingBoxes builds the rank box, its wavefront-extended box, and
// per-bundle boxes and box lists; pack boxes are unions of their bundles'.
func (ctx *Context) findBoundingBoxes() {
	ndd := ctx.Dims.NumDomainDims()
	begin := ctx.RankDomainOffsets.Clone()
	end := make(idx.Indices, ndd)
	for j := 0; j < ndd; j++ {
		end[j] = begin[j] + ctx.Opts.RankSizes.ValAt(1+j)
	}
	ctx.RankBB = bbox.New(begin, end)
	ctx.ExtBB = bbox.New(begin.SubElems(ctx.LeftWfExts), end.AddElems(ctx.RightWfExts))

	for _, p := range ctx.Packs {
		first := true
		for _, b := range p.Bundles {
			b.findBoundingBox()
			if first {
				p.BB = bbox.New(b.BB.Begin, b.BB.End)
				first = false
			} else {
				p.BB.Begin = p.BB.Begin.MinElems(b.BB.Begin)
				p.BB.End = p.BB.End.MaxElems(b.BB.End)
			}
		}
		p.BB.Update(true, nil, nil, nil)
	}
}

// findBoundingBox decomposes this bundle's sub-domain within the extended
// rank box into a list of non-overlapping solid boxes. Solid bundles use
// a single box equal to the extended box.
//
// The extended box is sliced along the outermost domain dim into one slab
// per region thread; each slab scans lexicographically for the first
// valid uncovered point and grows a maximal rectangle from it by trial
// expansion that retreats at the first invalid or already-covered point.
// Slab results are merged where rectangles abut in the outer dim and
// match in every other dim.
func (b *Bundle) findBoundingBox() {
	ctx := b.ctx
	b.BB = ctx.ExtBB
	b.BBList = nil
	if b.BB.Size < 1 {
		return
	}
	if b.def.SubDomain == nil {
		b.BB.Update(true, ctx.RankDomainOffsets, ctx.Dims.FoldPts, ctx.Dims.ClusterPts)
		b.BBList = bbox.List{b.BB}
		return
	}

	ndd := ctx.Dims.NumDomainDims()
	const odim = 0
	outerLen := b.BB.Len[odim]
	nthreads := ctx.Pool.RegionThreads()
	lenPerThr := idx.CeilDiv(outerLen, nthreads)

	slabLists := make([]bbox.List, nthreads)
	var wg sync.WaitGroup
	for tn := 0; tn < nthreads; tn++ {
		wg.Add(1)
		go func(tn int) {
			defer wg.Done()
			sliceBegin := b.BB.Begin.Clone()
			sliceBegin[odim] += tn * lenPerThr
			sliceEnd := b.BB.End.Clone()
			sliceEnd[odim] = min(sliceEnd[odim], sliceBegin[odim]+lenPerThr)
			if sliceEnd[odim] <= sliceBegin[odim] {
				return
			}
			slabLists[tn] = b.scanSlab(sliceBegin, sliceEnd)
		}(tn)
	}
	wg.Wait()

	// Merge: init overall BB from the rectangles found.
	b.BB.NumPoints = 0
	var merged bbox.List
	haveAny := false
	for tn := 0; tn < nthreads; tn++ {
		for _, bbn := range slabLists[tn] {
			if bbn.Size == 0 {
				continue
			}
			if !haveAny {
				b.BB.Begin = bbn.Begin.Clone()
				b.BB.End = bbn.End.Clone()
				haveAny = true
			} else {
				b.BB.Begin = b.BB.Begin.MinElems(bbn.Begin)
				b.BB.End = b.BB.End.MaxElems(bbn.End)
			}
			b.BB.NumPoints += bbn.Size

			// Fuse with an existing rectangle iff identical in every
			// non-outer dim and abutting in the outer dim.
			didMerge := false
			for mi := range merged {
				m := &merged[mi]
				ok := m.End[odim] == bbn.Begin[odim]
				for j := 0; ok && j < ndd; j++ {
					if j != odim && (m.Begin[j] != bbn.Begin[j] || m.End[j] != bbn.End[j]) {
						ok = false
					}
				}
				if ok {
					m.End[odim] = bbn.End[odim]
					m.Update(true, nil, nil, nil)
					didMerge = true
					break
				}
			}
			if !didMerge {
				merged = append(merged, bbn)
			}
		}
	}
	b.BBList = merged
	b.BB.Update(false, ctx.RankDomainOffsets, ctx.Dims.FoldPts, ctx.Dims.ClusterPts)
	klog.V(2).Infof("bundle %q: %d valid point(s) in %d rectangle(s)",
		b.def.Name, b.BB.NumPoints, len(b.BBList))
}

// scanSlab finds maximal solid rectangles covering the valid points of
// one outer-dim slab.
func (b *Bundle) scanSlab(sliceBegin, sliceEnd idx.Indices) bbox.List {
	ndd := len(sliceBegin)
	var list bbox.List

	covered := func(pt idx.Indices) bool {
		for i := range list {
			if list[i].Contains(pt) {
				return true
			}
		}
		return false
	}

	sliceLen := sliceEnd.SubElems(sliceBegin)
	span := idx.NewTuple(b.ctx.Dims.DomainDims...)
	span.SetVals(sliceLen)
	span.VisitAllPoints(func(ofs idx.Indices, _ int) bool {
		start := sliceBegin.AddElems(ofs)
		if !b.isInValidDomain(start) || covered(start) {
			return true
		}

		// Grow a maximal rectangle from start, retreating at the first
		// invalid or covered point; rescans until stable.
		scanLen := sliceEnd.SubElems(start)
		for {
			retry := false
			scan := idx.NewTuple(b.ctx.Dims.DomainDims...)
			scan.SetVals(scanLen)
			scan.VisitAllPoints(func(eofs idx.Indices, _ int) bool {
				pt := start.AddElems(eofs)
				if b.isInValidDomain(pt) && !covered(pt) {
					return true
				}
				for j := 0; j < ndd; j++ {
					if pt[j] > start[j] {
						scanLen[j] = pt[j] - start[j]
						if j > 0 {
							retry = true
						}
						return false
					}
				}
				return false
			})
			if !retry {
				break
			}
		}
		list = append(list, bbox.New(start, start.AddElems(scanLen)))
		return true
	})
	return list
}
