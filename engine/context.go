// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"fmt"
	"sort"

	"k8s.io/klog/v2"

	"github.com/opesci/yask/alloc"
	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/internal/parallel"
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/bbox"
	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Context owns everything belonging to one rank of one solution: vars,
// bundles, packs, exchange state, and the scheduler geometry. Sub-objects
// hold non-owning references back to it.
type Context struct {
	Env  *comm.Env
	Def  *stencils.Def
	Dims *vars.Dims
	Opts *Settings

	Info      *comm.Info
	Exchange  *comm.Exchange
	Allocator *alloc.Allocator
	Pool      *parallel.Pool

	// Vars lists every non-scratch var in creation order; OrigVars are
	// the compiler-created subset and OutputVars the stencil outputs.
	Vars       []*vars.Var
	VarMap     map[string]*vars.Var
	OrigVars   []*vars.Var
	OutputVars []*vars.Var

	scratchDefs []stencils.VarDef
	// scratchVars maps a scratch def name to one instance per region
	// thread.
	scratchVars map[string][]*vars.Var

	Bundles   []*Bundle
	BundleMap map[string]*Bundle
	Packs     []*Pack

	RankBB, ExtBB     bbox.BB
	RankDomainOffsets idx.Indices

	// Wavefront geometry, per domain dim unless noted.
	MaxHalos    idx.Indices
	WfSteps     int
	NumWfShifts int
	WfAngles    idx.Indices
	WfShiftPts  idx.Indices
	LeftWfExts  idx.Indices
	RightWfExts idx.Indices

	// Temporal-blocking geometry.
	TbSteps     int
	NumTbShifts int
	TbAngles    idx.Indices
	TbWidths    idx.Indices
	TbTops      idx.Indices
	MbAngles    idx.Indices

	UsePackTuners bool
	globalTuner   *AutoTuner

	prepared bool

	// Overlap state driven serially by the step loop.
	doMpiInterior  bool
	doMpiLeft      bool
	doMpiRight     bool
	mpiExteriorDim int

	stats statsCounters
}

// NewContext builds a context for one rank from a compiled stencil
// definition. Vars declared by the compiler are created immediately;
// storage is deferred to PrepareSolution.
func NewContext(env *comm.Env, def *stencils.Def) *Context {
	dims := def.Dims
	ndd := dims.NumDomainDims()
	ctx := &Context{
		Env:         env,
		Def:         def,
		Dims:        dims,
		Opts:        NewSettings(dims),
		Info:        comm.NewInfo(dims.DomainDims),
		VarMap:      make(map[string]*vars.Var),
		BundleMap:   make(map[string]*Bundle),
		scratchVars: make(map[string][]*vars.Var),

		RankDomainOffsets: make(idx.Indices, ndd),
		MaxHalos:          make(idx.Indices, ndd),
		WfAngles:          make(idx.Indices, ndd),
		WfShiftPts:        make(idx.Indices, ndd),
		LeftWfExts:        make(idx.Indices, ndd),
		RightWfExts:       make(idx.Indices, ndd),
		TbAngles:          make(idx.Indices, ndd),
		TbWidths:          make(idx.Indices, ndd),
		TbTops:            make(idx.Indices, ndd),
		MbAngles:          make(idx.Indices, ndd),

		doMpiInterior:  true,
		doMpiLeft:      true,
		doMpiRight:     true,
		mpiExteriorDim: -1,
	}

	for _, vd := range def.Vars {
		if vd.Scratch {
			ctx.scratchDefs = append(ctx.scratchDefs, vd)
			continue
		}
		v := ctx.newVarFromDef(vd)
		ctx.OrigVars = append(ctx.OrigVars, v)
	}

	for _, bd := range def.Bundles {
		b := &Bundle{def: bd, ctx: ctx}
		ctx.Bundles = append(ctx.Bundles, b)
		ctx.BundleMap[bd.Name] = b
	}
	// Resolve bundle vars and deps after all bundles exist.
	for _, b := range ctx.Bundles {
		for _, name := range b.def.InputVars {
			b.inputs = append(b.inputs, ctx.resolveBundleVar(b, name))
			b.scratchInputs = append(b.scratchInputs, nil)
		}
		for _, name := range b.def.OutputVars {
			b.outputs = append(b.outputs, ctx.resolveBundleVar(b, name))
			b.scratchOutputs = append(b.scratchOutputs, nil)
		}
		for _, dep := range b.def.Deps {
			db, ok := ctx.BundleMap[dep]
			if !ok {
				errs.Throwf(errs.ConfigError, "bundle %q depends on unknown bundle %q", b.def.Name, dep)
			}
			b.deps = append(b.deps, db)
		}
		for _, v := range b.outputs {
			if v != nil && !containsVar(ctx.OutputVars, v) {
				ctx.OutputVars = append(ctx.OutputVars, v)
			}
		}
	}
	for _, pd := range def.Packs {
		pack := &Pack{Name: pd.Name, settings: ctx.Opts}
		for _, bn := range pd.Bundles {
			b, ok := ctx.BundleMap[bn]
			if !ok {
				errs.Throwf(errs.ConfigError, "pack %q lists unknown bundle %q", pd.Name, bn)
			}
			pack.Bundles = append(pack.Bundles, b)
		}
		ctx.Packs = append(ctx.Packs, pack)
	}
	return ctx
}

// resolveBundleVar returns the var for a bundle reference; scratch names
// resolve to a placeholder nil-backed var slot filled per thread later.
func (ctx *Context) resolveBundleVar(b *Bundle, name string) *vars.Var {
	if v, ok := ctx.VarMap[name]; ok {
		return v
	}
	for _, sd := range ctx.scratchDefs {
		if sd.Name == name {
			// Scratch instances are created when thread counts are
			// known; keep a nil slot keyed by position.
			return nil
		}
	}
	errs.Throwf(errs.ConfigError, "bundle %q references unknown var %q", b.def.Name, name)
	return nil
}

func (ctx *Context) newVarFromDef(vd stencils.VarDef) *vars.Var {
	v := vars.New(ctx.Dims, vd.Name, vd.DimNames)
	if vd.StepAlloc > 0 && v.StepPosn() >= 0 {
		v.SetAllocSize(ctx.Dims.StepDim, vd.StepAlloc)
	}
	for i, dn := range vd.DimNames {
		if kind, _ := ctx.Dims.Kind(dn); kind == vars.DomainDim {
			if vd.LeftHalos != nil {
				v.SetLeftHaloSize(dn, vd.LeftHalos[i])
			}
			if vd.RightHalos != nil {
				v.SetRightHaloSize(dn, vd.RightHalos[i])
			}
		}
	}
	v.SetHaloExchangeL1Norm(vd.L1Norm)
	ctx.addVar(v)
	return v
}

func (ctx *Context) addVar(v *vars.Var) {
	if _, dup := ctx.VarMap[v.Name()]; dup {
		errs.Throwf(errs.ConfigError, "duplicate var name %q", v.Name())
	}
	ctx.Vars = append(ctx.Vars, v)
	ctx.VarMap[v.Name()] = v
}

// NewVar creates a user var before preparation.
func (ctx *Context) NewVar(name string, dimNames []string) *vars.Var {
	if ctx.prepared {
		errs.Throwf(errs.PreparationError, "var %q created after PrepareSolution", name)
	}
	v := vars.New(ctx.Dims, name, dimNames)
	ctx.addVar(v)
	return v
}

// NewFixedSizeVar creates a user var whose sizes ignore solution resizes.
func (ctx *Context) NewFixedSizeVar(name string, dimNames []string, sizes idx.Indices) *vars.Var {
	if ctx.prepared {
		errs.Throwf(errs.PreparationError, "var %q created after PrepareSolution", name)
	}
	v := vars.NewFixedSize(ctx.Dims, name, dimNames, sizes)
	ctx.addVar(v)
	return v
}

// IsPrepared reports whether PrepareSolution has completed.
func (ctx *Context) IsPrepared() bool { return ctx.prepared }

// PrepareSolution validates settings, lays out the rank grid, sizes every
// var, allocates storage and exchange buffers, and builds the bounding
// boxes. Collective.
func (ctx *Context) PrepareSolution() {
	if ctx.prepared {
		errs.Throwf(errs.PreparationError, "PrepareSolution called twice")
	}
	// Rank sizes must be settled before AdjustSettings can derive the
	// defaults of the inner tile levels from them.
	ctx.setupRank()
	ctx.Opts.AdjustSettings()
	ctx.updateVarInfo(false)

	rt, bt := ctx.Opts.CompThreads()
	ctx.Pool = parallel.New(rt, bt)

	ctx.findBoundingBoxes()

	// Allocate output vars before read-only vars so they get the best
	// placement.
	ctx.Allocator = alloc.New(ctx.Opts.NumaPrefMax, ctx.Opts.PmemDir)
	ordered := make([]*vars.Var, 0, len(ctx.Vars))
	seen := map[*vars.Var]bool{}
	for _, v := range ctx.OutputVars {
		if !seen[v] {
			ordered = append(ordered, v)
			seen[v] = true
		}
	}
	for _, v := range ctx.Vars {
		if !seen[v] {
			ordered = append(ordered, v)
			seen[v] = true
		}
	}
	for _, v := range ordered {
		if v.NumaPreferred() == vars.NumaLocal && ctx.Opts.NumaPref != vars.NumaLocal {
			v.SetNumaPreferred(ctx.Opts.NumaPref)
		}
		v.SetStepWrap(ctx.Opts.StepWrap)
	}
	ctx.Allocator.PlanVars(ordered)

	// Plan halo exchange and carve the MPI interior.
	sortedVars := append([]*vars.Var{}, ctx.OrigVars...)
	sort.Slice(sortedVars, func(i, j int) bool { return sortedVars[i].Name() < sortedVars[j].Name() })
	ctx.Exchange = comm.NewExchange(ctx.Env, ctx.Info, comm.PlanParams{
		Dims:             ctx.Dims,
		Vars:             sortedVars,
		NumRanks:         ctx.Opts.NumRanks.Vals(),
		RankIndices:      ctx.Opts.RankIndices.Vals(),
		WfShiftPts:       ctx.WfShiftPts,
		WfActive:         ctx.WfSteps > 0,
		OverlapComms:     ctx.Opts.OverlapComms,
		UseShm:           ctx.Opts.UseShm,
		MinExterior:      ctx.Opts.MinExterior,
		AllowVecExchange: !ctx.Opts.ForceScalar,
		ExtBB:            ctx.ExtBB,
		AllocFn: func(elems int) []float64 {
			return ctx.Allocator.AllocPool(ctx.Opts.NumaPref, elems)
		},
	})

	ctx.allocScratchData()
	ctx.initTuners()
	for _, p := range ctx.Packs {
		p.initWorkStats(ctx)
	}
	ctx.prepared = true
	ctx.Env.GlobalBarrier()
}

// EndSolution drops storage references; the context can be re-prepared.
func (ctx *Context) EndSolution() {
	for _, v := range ctx.Vars {
		v.ReleaseStorage()
	}
	for _, sv := range ctx.scratchVars {
		for _, v := range sv {
			v.ReleaseStorage()
		}
	}
	ctx.scratchVars = make(map[string][]*vars.Var)
	ctx.prepared = false
}

// setupRank verifies cross-rank consistency, determines the rank grid and
// this rank's offsets, and discovers the neighborhood. Collective.
func (ctx *Context) setupRank() {
	opts := ctx.Opts
	dims := ctx.Dims
	env := ctx.Env
	me := env.RankIndex()
	nr := env.NumRanks()
	ndd := dims.NumDomainDims()

	env.AssertEqualityOverRanks(nr, "total number of ranks")
	env.AssertEqualityOverRanks(boolToInt(opts.UseShm), "use-shm setting")
	env.AssertEqualityOverRanks(boolToInt(opts.FindLoc), "defined rank indices")
	for i := 1; i < dims.NumStencilDims(); i++ {
		j := i - 1
		dname := dims.DomainDims[j]
		env.AssertEqualityOverRanks(opts.GlobalSizes.ValAt(i), "global-domain size in '"+dname+"'")
		env.AssertEqualityOverRanks(opts.NumRanks.ValAt(j), "number of ranks in '"+dname+"'")
		if opts.GlobalSizes.ValAt(i) == 0 && opts.RankSizes.ValAt(i) == 0 {
			errs.Throwf(errs.ConfigError,
				"both local-domain size and global-domain size are zero in %q on rank %d; specify one, and the other will be calculated",
				dname, me)
		}
	}

	if nr == 1 {
		opts.NumRanks.SetValsSame(1)
		opts.RankIndices.SetValsSame(0)
		for i := 1; i < dims.NumStencilDims(); i++ {
			rank, global := opts.RankSizes.ValAt(i), opts.GlobalSizes.ValAt(i)
			switch {
			case rank == 0:
				opts.RankSizes.SetValAt(i, global)
			case global == 0:
				opts.GlobalSizes.SetValAt(i, rank)
			case rank != global:
				errs.Throwf(errs.ConfigError,
					"specified local-domain size %d does not equal specified global-domain size %d in %q",
					rank, global, dims.DomainDims[i-1])
			}
		}
		ctx.Info.Ranks[ctx.Info.MyIndex] = me
		ctx.Info.ShmRanks[ctx.Info.MyIndex] = env.Transport().ShmRank(me)
		ctx.Info.HasAllVlenMults[ctx.Info.MyIndex] = ctx.rankSizesAreVlenMults(opts.RankSizes)
		return
	}

	ctx.pickRankLayout()

	if opts.FindLoc {
		opts.RankIndices.SetVals(opts.NumRanks.Unlayout(me))
	}
	for j := 0; j < ndd; j++ {
		ri := opts.RankIndices.ValAt(j)
		if ri < 0 || ri >= opts.NumRanks.ValAt(j) {
			errs.Throwf(errs.ConfigError, "rank index %d not within [0 ... %d] in %q on rank %d",
				ri, opts.NumRanks.ValAt(j)-1, dims.DomainDims[j], me)
		}
	}

	// Two passes: first to derive unknown sizes from the global size,
	// second to compute offsets and find neighbors.
	for pass := 0; pass < 2; pass++ {
		// Share coordinates and rank sizes.
		myInfo := make([]int, 2*ndd)
		for j := 0; j < ndd; j++ {
			myInfo[j] = opts.RankIndices.ValAt(j)
			myInfo[ndd+j] = opts.RankSizes.ValAt(1 + j)
		}
		all := env.Transport().Allgather(myInfo)

		sums := make(idx.Indices, ndd)
		for j := range ctx.RankDomainOffsets {
			ctx.RankDomainOffsets[j] = 0
		}
		for rn := 0; rn < nr; rn++ {
			deltas := make(idx.Indices, ndd)
			manDist, maxDist := 0, 0
			for j := 0; j < ndd; j++ {
				deltas[j] = all[rn][j] - opts.RankIndices.ValAt(j)
				manDist += abs(deltas[j])
				maxDist = max(maxDist, abs(deltas[j]))
			}
			if rn == me && manDist != 0 {
				panic("internal error: nonzero distance to own rank")
			}
			if rn != me && manDist == 0 {
				errs.Throwf(errs.ConfigError, "ranks %d and %d at same coordinates", me, rn)
			}

			for j := 0; j < ndd; j++ {
				inline := true
				for j2 := 0; j2 < ndd; j2++ {
					if j2 != j && deltas[j2] != 0 {
						inline = false
						break
					}
				}
				if !inline {
					continue
				}
				sums[j] += all[rn][ndd+j]
				if pass == 1 {
					for j2 := 0; j2 < ndd; j2++ {
						if j2 != j && all[rn][ndd+j2] != all[me][ndd+j2] {
							errs.Throwf(errs.ConfigError,
								"ranks %d and %d are unaligned: local-domain sizes %d and %d in %q",
								rn, me, all[rn][ndd+j2], all[me][ndd+j2], dims.DomainDims[j2])
						}
					}
					if deltas[j] < 0 {
						ctx.RankDomainOffsets[j] += all[rn][ndd+j]
					}
				}
			}

			if pass == 1 && maxDist <= 1 {
				ni := ctx.Info.NeighborIndex(deltas.AddConst(1))
				ctx.Info.Ranks[ni] = rn
				ctx.Info.ManDists[ni] = manDist
				ctx.Info.ShmRanks[ni] = env.Transport().ShmRank(rn)
				vlenMults := true
				for j := 0; j < ndd; j++ {
					if all[rn][ndd+j]%dims.FoldPts[j] != 0 {
						vlenMults = false
					}
				}
				ctx.Info.HasAllVlenMults[ni] = vlenMults
			}
		}

		if pass == 0 {
			for j := 0; j < ndd; j++ {
				i := 1 + j
				nranks := opts.NumRanks.ValAt(j)
				gsz := opts.GlobalSizes.ValAt(i)
				if opts.RankSizes.ValAt(i) == 0 {
					if sums[j] != 0 {
						errs.Throwf(errs.ConfigError,
							"local-domain size in %q unspecified on rank %d but specified on another rank",
							dims.DomainDims[j], me)
					}
					rsz := idx.RoundUp(idx.CeilDiv(gsz, nranks), dims.ClusterPts[j])
					rem := gsz - rsz*(nranks-1)
					if rem <= 0 {
						errs.Throwf(errs.ConfigError,
							"global-domain size of %d is not large enough to split across %d ranks in %q",
							gsz, nranks, dims.DomainDims[j])
					}
					if opts.IsLastRank(j) {
						rsz = rem
					}
					opts.RankSizes.SetValAt(i, rsz)
				} else if gsz == 0 {
					opts.GlobalSizes.SetValAt(i, sums[j])
				}
			}
		} else {
			for j := 0; j < ndd; j++ {
				if opts.GlobalSizes.ValAt(1+j) != sums[j] {
					errs.Throwf(errs.ConfigError,
						"sum of local-domain sizes (%d) does not equal global-domain size (%d) in %q",
						sums[j], opts.GlobalSizes.ValAt(1+j), dims.DomainDims[j])
				}
			}
		}
	}
}

func (ctx *Context) rankSizesAreVlenMults(sizes *idx.Tuple) bool {
	for j := 0; j < ctx.Dims.NumDomainDims(); j++ {
		if sizes.ValAt(1+j)%ctx.Dims.FoldPts[j] != 0 {
			return false
		}
	}
	return true
}

// pickRankLayout chooses the rank-grid shape when any dim is unset: it
// searches the factorizations of the world size and keeps the most
// compact one (smallest max dim). Specified dims are honored.
func (ctx *Context) pickRankLayout() {
	opts := ctx.Opts
	nr := ctx.Env.NumRanks()
	ndd := ctx.Dims.NumDomainDims()
	if opts.NumRanks.Product() != 0 {
		if opts.NumRanks.Product() != nr {
			errs.Throwf(errs.ConfigError, "%d rank(s) requested (%s), but %d rank(s) are active",
				opts.NumRanks.Product(), opts.NumRanks, nr)
		}
		return
	}

	var facts []int
	for n := 1; n <= nr; n++ {
		if nr%n == 0 {
			facts = append(facts, n)
		}
	}

	// Try every combo of factors for the dims beyond the first; the
	// first dim, when unspecified, is derived from the remainder.
	combos := idx.NewTuple(ctx.Dims.DomainDims...)
	for j := 0; j < ndd; j++ {
		n := len(facts)
		if j == 0 || opts.NumRanks.ValAt(j) != 0 {
			n = 1
		}
		combos.SetValAt(j, n)
	}
	var best idx.Indices
	combos.VisitAllPoints(func(pt idx.Indices, _ int) bool {
		layout := make(idx.Indices, ndd)
		for j := 0; j < ndd; j++ {
			layout[j] = facts[pt[j]]
			if opts.NumRanks.ValAt(j) != 0 {
				layout[j] = opts.NumRanks.ValAt(j)
			} else if j == 0 {
				layout[j] = -1
			}
		}
		if layout[0] == -1 {
			prod := 1
			for j := 1; j < ndd; j++ {
				prod *= layout[j]
			}
			if nr%prod != 0 {
				return true
			}
			layout[0] = nr / prod
		}
		if layout.Product() == nr {
			if best == nil || layout.Max() < best.Max() {
				best = layout.Clone()
			}
		}
		return true
	})
	if best == nil {
		errs.Throwf(errs.ConfigError, "no valid rank layout found for %d rank(s)", nr)
	}
	klog.V(1).Infof("rank layout %s selected for %d rank(s)", best, nr)
	opts.NumRanks.SetVals(best)
}

// updateVarInfo pushes settings into vars and recomputes the wavefront
// geometry. force also resizes manually-sized solution vars.
func (ctx *Context) updateVarInfo(force bool) {
	opts := ctx.Opts
	dims := ctx.Dims
	ndd := dims.NumDomainDims()

	for j := range ctx.MaxHalos {
		ctx.MaxHalos[j] = 0
	}
	for j := 0; j < ndd; j++ {
		dname := dims.DomainDims[j]
		for _, v := range ctx.Vars {
			if !v.IsDimUsed(dname) {
				continue
			}
			if !v.IsStorageAllocated() && (!v.IsFixedSize() || force) {
				v.SetDomainSize(dname, opts.RankSizes.ValAt(1+j))
				v.SetExtraPadSize(dname, opts.ExtraPadSizes.ValAt(j), opts.ExtraPadSizes.ValAt(j))
				v.SetMinPadSize(dname, opts.MinPadSizes.ValAt(j))
				v.SetRankOffset(dname, ctx.RankDomainOffsets[j])
				v.SetLocalOffset(dname, 0)
			}
			if ctx.isOrigVar(v) {
				ctx.MaxHalos[j] = max(ctx.MaxHalos[j], v.LeftHaloSize(dname), v.RightHaloSize(dname))
			}
		}
	}

	// Wavefront steps; rounded up to the temporal-block depth.
	tbReq := opts.BlockSizes.ValAt(0)
	ctx.WfSteps = max(opts.RegionSizes.ValAt(0), tbReq)
	ctx.NumWfShifts = 0
	if ctx.WfSteps > 0 {
		ctx.NumWfShifts = max(len(ctx.Packs)*ctx.WfSteps-1, 0)
	}
	ctx.UsePackTuners = opts.AllowPackTuners && tbReq == 0 && len(ctx.Packs) > 1

	for j := 0; j < ndd; j++ {
		dname := dims.DomainDims[j]
		rnsize := opts.RegionSizes.ValAt(1 + j)
		rksize := opts.RankSizes.ValAt(1 + j)
		nranks := opts.NumRanks.ValAt(j)

		angle := idx.RoundUp(ctx.MaxHalos[j], dims.FoldPts[j])
		wfAngle := 0
		if rnsize < rksize || nranks > 1 {
			wfAngle = angle
		}
		ctx.WfAngles[j] = wfAngle
		shifts := wfAngle * ctx.NumWfShifts
		ctx.WfShiftPts[j] = shifts

		minSize := ctx.MaxHalos[j] + shifts
		if nranks > 1 && rksize < minSize {
			errs.Throwf(errs.ConfigError,
				"local-domain size of %d in %q is less than minimum size of %d, which is based on stencil halos and temporal wave-front sizes",
				rksize, dname, minSize)
		}
		if opts.IsFirstRank(j) {
			ctx.LeftWfExts[j] = 0
		} else {
			ctx.LeftWfExts[j] = shifts
		}
		if opts.IsLastRank(j) {
			ctx.RightWfExts[j] = 0
		} else {
			ctx.RightWfExts[j] = shifts
		}
	}
	for _, v := range ctx.OrigVars {
		for j, dname := range dims.DomainDims {
			if v.IsDimUsed(dname) && !v.IsStorageAllocated() {
				v.SetLeftWfExt(dname, ctx.LeftWfExts[j])
				v.SetRightWfExt(dname, ctx.RightWfExts[j])
			}
		}
	}
	ctx.updateTbInfo()
}

func (ctx *Context) isOrigVar(v *vars.Var) bool {
	for _, ov := range ctx.OrigVars {
		if ov == v {
			return true
		}
	}
	return false
}

// updateTbInfo computes the temporal-blocking depth, angles, and the
// phase-0 trapezoid geometry. Called whenever block sizes change.
func (ctx *Context) updateTbInfo() {
	opts := ctx.Opts
	dims := ctx.Dims
	ndd := dims.NumDomainDims()

	ctx.TbSteps = opts.BlockSizes.ValAt(0)
	ctx.NumTbShifts = 0
	for j := 0; j < ndd; j++ {
		ctx.TbAngles[j] = 0
		ctx.TbWidths[j] = 0
		ctx.TbTops[j] = 0
		ctx.MbAngles[j] = 0
	}

	if ctx.TbSteps > 0 {
		maxSteps := min(ctx.TbSteps, ctx.WfSteps)
		for j := 0; j < ndd; j++ {
			i := 1 + j
			rnsize := opts.RegionSizes.ValAt(i)
			blksize := opts.BlockSizes.ValAt(i)
			mblksize := opts.MiniBlockSizes.ValAt(i)
			fpts := dims.FoldPts[j]
			angle := idx.RoundUp(ctx.MaxHalos[j], fpts)

			if mblksize < blksize {
				ctx.MbAngles[j] = angle
			}
			if blksize < rnsize {
				ctx.TbAngles[j] = angle
			}
			if ctx.TbAngles[j] > 0 {
				topSz := fpts
				shPts := ctx.TbAngles[j] * 2 * len(ctx.Packs)
				nsteps := (blksize - topSz + ctx.TbAngles[j]*2) / shPts
				maxSteps = min(maxSteps, nsteps)
			}
		}
		ctx.TbSteps = min(ctx.TbSteps, maxSteps)
	}
	if ctx.TbSteps > 0 {
		ctx.NumTbShifts = max(len(ctx.Packs)*ctx.TbSteps-1, 0)
	}

	// Phase-0 trapezoid base widths; see the block scheduler.
	for j := 0; j < ndd; j++ {
		blkSz := opts.BlockSizes.ValAt(1 + j)
		ctx.TbWidths[j] = blkSz
		ctx.TbTops[j] = blkSz
		if ctx.NumTbShifts > 0 && ctx.TbAngles[j] > 0 {
			fpts := dims.FoldPts[j]
			sa := ctx.NumTbShifts * ctx.TbAngles[j]
			minWidth := fpts + 2*sa
			width := max(idx.RoundUp(idx.CeilDiv(blkSz, 2)+sa, fpts), minWidth)
			ctx.TbWidths[j] = width
			ctx.TbTops[j] = max(width-2*sa, 0)
		}
	}
	klog.V(2).Infof("TB steps=%d shifts=%d widths=%s tops=%s",
		ctx.TbSteps, ctx.NumTbShifts, ctx.TbWidths, ctx.TbTops)
}

func containsVar(list []*vars.Var, v *vars.Var) bool {
	for _, x := range list {
		if x == v {
			return true
		}
	}
	return false
}

func boolToInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func abs(n int) int {
	if n < 0 {
		return -n
	}
	return n
}

// VarNames lists the non-scratch vars in creation order.
func (ctx *Context) VarNames() []string {
	out := make([]string, len(ctx.Vars))
	for i, v := range ctx.Vars {
		out[i] = v.Name()
	}
	return out
}

// String summarizes the context for debug logs.
func (ctx *Context) String() string {
	return fmt.Sprintf("solution %q: %d var(s), %d bundle(s), %d pack(s) on rank %d/%d",
		ctx.Def.Name, len(ctx.Vars), len(ctx.Bundles), len(ctx.Packs),
		ctx.Env.RankIndex(), ctx.Env.NumRanks())
}
