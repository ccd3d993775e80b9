// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/bbox"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Bundle is the runtime form of a compiled stencil bundle: the compiler
// descriptor plus resolved vars and this rank's bounding boxes.
type Bundle struct {
	def *stencils.Bundle
	ctx *Context

	inputs  []*vars.Var
	outputs []*vars.Var

	// scratchInputs/scratchOutputs hold per-region-thread instances for
	// vars declared scratch, parallel to inputs/outputs with nil for
	// non-scratch positions.
	scratchInputs  [][]*vars.Var
	scratchOutputs [][]*vars.Var

	// deps are bundles that must run first (scratch producers).
	deps []*Bundle

	// BB bounds all valid points; BBList covers exactly the valid
	// points with non-overlapping solid boxes.
	BB     bbox.BB
	BBList bbox.List
}

// Name returns the bundle name.
func (b *Bundle) Name() string { return b.def.Name }

// IsScratch reports whether every output of the bundle is scratch.
func (b *Bundle) IsScratch() bool {
	for _, sv := range b.scratchOutputs {
		if sv == nil {
			return false
		}
	}
	return len(b.scratchOutputs) > 0
}

// IsInValidStep applies the bundle's step predicate.
func (b *Bundle) IsInValidStep(t int) bool {
	return b.def.StepCond == nil || b.def.StepCond(t)
}

// OutputStepIndex returns the step written when reading step t.
func (b *Bundle) OutputStepIndex(t int) int { return t + b.def.StepOffset }

// isInValidDomain applies the sub-domain predicate to a domain point.
func (b *Bundle) isInValidDomain(pt idx.Indices) bool {
	return b.def.SubDomain == nil || b.def.SubDomain(pt)
}

// reqdBundles returns the dependency closure ending with b itself, in
// evaluation order.
func (b *Bundle) reqdBundles() []*Bundle {
	var out []*Bundle
	seen := map[*Bundle]bool{}
	var visit func(x *Bundle)
	visit = func(x *Bundle) {
		if seen[x] {
			return
		}
		seen[x] = true
		for _, d := range x.deps {
			visit(d)
		}
		out = append(out, x)
	}
	visit(b)
	return out
}

// argsFor resolves the kernel args for one region thread, substituting
// that thread's scratch-var instances.
func (b *Bundle) argsFor(regionThread int) *stencils.Args {
	a := &stencils.Args{
		Inputs:  make([]*vars.Var, len(b.inputs)),
		Outputs: make([]*vars.Var, len(b.outputs)),
	}
	for i, v := range b.inputs {
		if sv := b.scratchInputs[i]; sv != nil {
			a.Inputs[i] = sv[regionThread]
		} else {
			a.Inputs[i] = v
		}
	}
	for i, v := range b.outputs {
		if sv := b.scratchOutputs[i]; sv != nil {
			a.Outputs[i] = sv[regionThread]
		} else {
			a.Outputs[i] = v
		}
	}
	return a
}

// adjustSpan expands a mini-block span by the fold-rounded halos of the
// first scratch var this bundle writes, so the scratch halo region is
// filled before its consumers read it. Other scratch outputs are not
// consulted.
func (b *Bundle) adjustSpan(regionThread int, begin, end idx.Indices) (idx.Indices, idx.Indices) {
	dims := b.ctx.Dims
	for i := range b.outputs {
		sv := b.scratchOutputs[i]
		if sv == nil {
			continue
		}
		gp := sv[regionThread]
		abegin, aend := begin.Clone(), end.Clone()
		for j, dname := range dims.DomainDims {
			if !gp.IsDimUsed(dname) {
				continue
			}
			lh := idx.RoundUp(gp.LeftHaloSize(dname), dims.FoldPts[j])
			rh := idx.RoundUp(gp.RightHaloSize(dname), dims.FoldPts[j])
			abegin[1+j] = begin[1+j] - lh
			aend[1+j] = end[1+j] + rh
		}
		return abegin, aend
	}
	return begin, end
}

// Pack is an independent set of bundles tuned and scheduled as a unit.
type Pack struct {
	Name    string
	Bundles []*Bundle

	// BB is the union of the bundles' bounding boxes.
	BB bbox.BB

	// settings are the active kernel settings for this pack; distinct
	// from the context settings only when per-pack tuning is allowed.
	settings *Settings

	tuner *AutoTuner

	stepsDone int

	// Work stats per step, from the compiler's per-point counts.
	numReadsPerStep  int
	numWritesPerStep int
	numFpOpsPerStep  int
	totReadsPerStep  int
	totWritesPerStep int
	totFpOpsPerStep  int
}

// ActiveSettings returns the pack's current kernel settings.
func (p *Pack) ActiveSettings() *Settings { return p.settings }

// AddSteps counts completed steps toward the pack and its tuner.
func (p *Pack) AddSteps(n int) {
	p.stepsDone += n
	if p.tuner != nil {
		p.tuner.AddSteps(n)
	}
}

// IsInValidStep reports whether any bundle of the pack admits step t.
func (p *Pack) IsInValidStep(t int) bool {
	for _, b := range p.Bundles {
		if b.IsInValidStep(t) {
			return true
		}
	}
	return false
}

// initWorkStats sums the per-point compiler counts over the valid points
// of each bundle, including required scratch bundles, and totals them
// over all ranks.
func (p *Pack) initWorkStats(ctx *Context) {
	p.numReadsPerStep = 0
	p.numWritesPerStep = 0
	p.numFpOpsPerStep = 0
	for _, b := range p.Bundles {
		reads, writes, fpops := 0, 0, 0
		for _, rb := range b.reqdBundles() {
			reads += rb.def.ReadsPerPoint
			writes += rb.def.WritesPerPoint
			fpops += rb.def.FpOpsPerPoint
		}
		p.numReadsPerStep += reads * b.BB.NumPoints
		p.numWritesPerStep += writes * b.BB.NumPoints
		p.numFpOpsPerStep += fpops * b.BB.NumPoints
	}
	p.totReadsPerStep = ctx.Env.SumOverRanks(p.numReadsPerStep)
	p.totWritesPerStep = ctx.Env.SumOverRanks(p.numWritesPerStep)
	p.totFpOpsPerStep = ctx.Env.SumOverRanks(p.numFpOpsPerStep)
}

