// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"github.com/opesci/yask/types/idx"
)

// Neighbor offsets within one domain dim.
const (
	RankPrev = 0
	RankSelf = 1
	RankNext = 2
	// NumOffsets is the neighborhood width per dim.
	NumOffsets = 3
)

// NoRank marks an absent neighbor (or no shm reachability).
const NoRank = -1

// Info describes this rank's neighborhood: the product of
// {prev, self, next} over the domain dims, 3^N cells including self.
type Info struct {
	// Sizes is the n-dim shape of the neighborhood (3 in every dim);
	// it converts between offset tuples and flat neighbor indices.
	Sizes *idx.Tuple

	// Size is the number of cells, 3^N.
	Size int

	// MyIndex is the flat index of the all-self cell.
	MyIndex int

	// Per flat neighbor index:
	Ranks           []int  // world rank or NoRank.
	ManDists        []int  // Manhattan distance.
	HasAllVlenMults []bool // peer's domain sizes all vector multiples.
	ShmRanks        []int  // shared-memory rank or NoRank.
}

// NewInfo returns an Info for the given domain dims with no neighbors
// discovered yet.
func NewInfo(domainDims []string) *Info {
	sizes := idx.NewTuple(domainDims...)
	sizes.SetValsSame(NumOffsets)
	info := &Info{
		Sizes: sizes,
		Size:  sizes.Product(),
	}
	self := idx.NewIndices(len(domainDims), RankSelf)
	info.MyIndex = sizes.Layout(self)
	info.Ranks = make([]int, info.Size)
	info.ManDists = make([]int, info.Size)
	info.HasAllVlenMults = make([]bool, info.Size)
	info.ShmRanks = make([]int, info.Size)
	for i := range info.Ranks {
		info.Ranks[i] = NoRank
		info.ShmRanks[i] = NoRank
	}
	return info
}

// NeighborIndex converts an offset tuple (RankPrev/RankSelf/RankNext per
// dim) into a flat neighbor index.
func (info *Info) NeighborIndex(offsets idx.Indices) int {
	return info.Sizes.Layout(offsets)
}

// VisitNeighbors calls the visitor for every cell except self, including
// absent ones (rank == NoRank), in flat-index order.
func (info *Info) VisitNeighbors(visitor func(offsets idx.Indices, rank, ni int)) {
	info.Sizes.VisitAllPoints(func(pt idx.Indices, ni int) bool {
		if ni != info.MyIndex {
			visitor(pt, info.Ranks[ni], ni)
		}
		return true
	})
}
