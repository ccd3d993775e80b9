// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package engine implements the tiled execution core: settings, bundles
// and packs, bounding-box decomposition, the hierarchical tile scheduler
// with wavefront and temporal-blocking geometry, the auto-tuner, and the
// glue that assembles them into a runnable context.
package engine

import (
	"runtime"

	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// defBlockSize seeds unset block sizes.
const defBlockSize = 32

// Settings are the user-tunable sizes and switches of one solution.
//
// All size tuples are in stencil-dim order (step dim first, then domain
// dims). The step entry of RegionSizes is the wavefront depth and the
// step entry of BlockSizes is the temporal-blocking depth.
type Settings struct {
	Dims *vars.Dims

	GlobalSizes         *idx.Tuple
	RankSizes           *idx.Tuple
	RegionSizes         *idx.Tuple
	BlockGroupSizes     *idx.Tuple
	BlockSizes          *idx.Tuple
	MiniBlockGroupSizes *idx.Tuple
	MiniBlockSizes      *idx.Tuple
	SubBlockGroupSizes  *idx.Tuple
	SubBlockSizes       *idx.Tuple

	// Pads are per domain dim.
	MinPadSizes   *idx.Tuple
	ExtraPadSizes *idx.Tuple

	// Rank grid (per domain dim).
	NumRanks    *idx.Tuple
	RankIndices *idx.Tuple
	FindLoc     bool

	OverlapComms bool
	UseShm       bool
	MinExterior  int

	MaxThreads       int
	ThreadDivisor    int
	NumBlockThreads  int
	BindBlockThreads bool
	// BindPosn is the stencil-dim position used for thread binding.
	BindPosn int

	StepWrap bool

	DoAutoTune      bool
	TuneMiniBlks    bool
	AllowPackTuners bool

	ForceScalar bool
	Trace       bool

	NumaPref    int
	NumaPrefMax int
	PmemDir     string
}

// NewSettings returns defaults for the given dims.
func NewSettings(dims *vars.Dims) *Settings {
	stencil := func() *idx.Tuple { return idx.NewTuple(dims.StencilDims()...) }
	domain := func() *idx.Tuple { return idx.NewTuple(dims.DomainDims...) }
	s := &Settings{
		Dims:                dims,
		GlobalSizes:         stencil(),
		RankSizes:           stencil(),
		RegionSizes:         stencil(),
		BlockGroupSizes:     stencil(),
		BlockSizes:          stencil(),
		MiniBlockGroupSizes: stencil(),
		MiniBlockSizes:      stencil(),
		SubBlockGroupSizes:  stencil(),
		SubBlockSizes:       stencil(),
		MinPadSizes:         domain(),
		ExtraPadSizes:       domain(),
		NumRanks:            domain(),
		RankIndices:         domain(),
		FindLoc:             true,
		OverlapComms:        true,
		ThreadDivisor:       1,
		NumBlockThreads:     1,
		BindPosn:            1,
		NumaPref:            vars.NumaLocal,
		NumaPrefMax:         128,
	}
	return s
}

// Clone deep-copies the settings (used by per-pack tuners and the
// solution copy constructor).
func (s *Settings) Clone() *Settings {
	out := *s
	out.GlobalSizes = s.GlobalSizes.Clone()
	out.RankSizes = s.RankSizes.Clone()
	out.RegionSizes = s.RegionSizes.Clone()
	out.BlockGroupSizes = s.BlockGroupSizes.Clone()
	out.BlockSizes = s.BlockSizes.Clone()
	out.MiniBlockGroupSizes = s.MiniBlockGroupSizes.Clone()
	out.MiniBlockSizes = s.MiniBlockSizes.Clone()
	out.SubBlockGroupSizes = s.SubBlockGroupSizes.Clone()
	out.SubBlockSizes = s.SubBlockSizes.Clone()
	out.MinPadSizes = s.MinPadSizes.Clone()
	out.ExtraPadSizes = s.ExtraPadSizes.Clone()
	out.NumRanks = s.NumRanks.Clone()
	out.RankIndices = s.RankIndices.Clone()
	return &out
}

// CopySizesFrom copies every field from another Settings (the solution
// copy constructor).
func (s *Settings) CopySizesFrom(src *Settings) {
	*s = *src.Clone()
}

// IsFirstRank reports whether this rank is first in the given domain posn.
func (s *Settings) IsFirstRank(j int) bool {
	return s.RankIndices.ValAt(j) == 0
}

// IsLastRank reports whether this rank is last in the given domain posn.
func (s *Settings) IsLastRank(j int) bool {
	return s.RankIndices.ValAt(j) == s.NumRanks.ValAt(j)-1
}

// CompThreads splits the thread budget into region and block threads.
func (s *Settings) CompThreads() (regionThreads, blockThreads int) {
	maxThreads := s.MaxThreads
	if maxThreads <= 0 {
		maxThreads = runtime.NumCPU()
	}
	if s.ThreadDivisor > 1 {
		maxThreads = max(1, maxThreads/s.ThreadDivisor)
	}
	blockThreads = max(1, s.NumBlockThreads)
	regionThreads = max(1, maxThreads/blockThreads)
	return
}

// AdjustSettings fills unset sizes with defaults and rounds everything to
// legal multiples: regions default to the rank, blocks to a fixed seed
// clamped to the region, mini-blocks to the block, sub-blocks to the
// mini-block; spatial block sizes round up to whole vector clusters.
func (s *Settings) AdjustSettings() {
	dims := s.Dims
	for i := 1; i < dims.NumStencilDims(); i++ {
		j := i - 1
		cpts := dims.ClusterPts[j]
		rank := s.RankSizes.ValAt(i)

		region := s.RegionSizes.ValAt(i)
		if region <= 0 || region > rank {
			region = rank
		}
		s.RegionSizes.SetValAt(i, region)

		blk := s.BlockSizes.ValAt(i)
		if blk <= 0 {
			blk = defBlockSize
		}
		blk = min(idx.RoundUp(blk, cpts), idx.RoundUp(region, cpts))
		s.BlockSizes.SetValAt(i, blk)

		mb := s.MiniBlockSizes.ValAt(i)
		if mb <= 0 || mb > blk {
			mb = blk
		}
		mb = idx.RoundUp(mb, cpts)
		s.MiniBlockSizes.SetValAt(i, mb)

		sb := s.SubBlockSizes.ValAt(i)
		if sb <= 0 || sb > mb {
			sb = mb
		}
		s.SubBlockSizes.SetValAt(i, sb)
	}

	// Step entries: wavefront depth per region, temporal-block depth per
	// block; mini-block temporal size always matches the block's.
	if s.RegionSizes.ValAt(0) < 0 || s.BlockSizes.ValAt(0) < 0 {
		errs.Throwf(errs.ConfigError, "negative step-dim tile size")
	}
	s.MiniBlockSizes.SetValAt(0, s.BlockSizes.ValAt(0))
	s.SubBlockSizes.SetValAt(0, 1)

	if klog.V(1).Enabled() {
		klog.Infof("adjusted sizes: region=%s block=%s mini-block=%s sub-block=%s",
			s.RegionSizes, s.BlockSizes, s.MiniBlockSizes, s.SubBlockSizes)
	}
}
