// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package solution is the public runtime API of the stencil kernel: it
// wraps an engine context with the lifecycle (prepare, run, end), size
// and dimension accessors, command-line option handling, hooks, and
// statistics, the way an embedding application consumes the kernel.
package solution

import (
	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/engine"
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Solution is one rank's handle to a prepared stencil solution.
type Solution struct {
	ctx *engine.Context

	beforePrepare []func(*Solution)
	afterPrepare  []func(*Solution)
	beforeRun     []func(s *Solution, first, last int)
	afterRun      []func(s *Solution, first, last int)
}

// New builds a solution for a registered stencil definition.
func New(env *comm.Env, stencilName string) *Solution {
	return NewFromDef(env, stencils.New(stencilName))
}

// NewFromDef builds a solution from an explicit definition (e.g. one
// assembled by a test).
func NewFromDef(env *comm.Env, def *stencils.Def) *Solution {
	return &Solution{ctx: engine.NewContext(env, def)}
}

// NewFrom builds a solution like New and copies the source solution's
// settings.
func NewFrom(env *comm.Env, src *Solution) *Solution {
	s := NewFromDef(env, src.ctx.Def)
	s.ctx.Opts.CopySizesFrom(src.ctx.Opts)
	return s
}

// Context exposes the underlying engine context.
func (s *Solution) Context() *engine.Context { return s.ctx }

// Name returns the stencil name.
func (s *Solution) Name() string { return s.ctx.Def.Name }

// Target returns the target the stencil was compiled for.
func (s *Solution) Target() string { return s.ctx.Def.Target }

// ElementBytes returns the size of one grid element.
func (s *Solution) ElementBytes() int { return vars.ElemBytes }

// StepDimName returns the step dimension.
func (s *Solution) StepDimName() string { return s.ctx.Dims.StepDim }

// DomainDimNames returns the ordered domain dimensions.
func (s *Solution) DomainDimNames() []string {
	return append([]string{}, s.ctx.Dims.DomainDims...)
}

// MiscDimNames returns the misc dimensions.
func (s *Solution) MiscDimNames() []string {
	return append([]string{}, s.ctx.Dims.MiscDims...)
}

// domainPosn maps a domain-dim name to its position or throws.
func (s *Solution) domainPosn(dim, what string) int {
	j := s.ctx.Dims.DomainPosn(dim)
	if j < 0 {
		errs.Throwf(errs.ConfigError, "%s: %q is not a domain dim", what, dim)
	}
	return j
}

// setSize writes one entry of a settings tuple; the step dim is accepted
// only when stepOK.
func (s *Solution) setSize(t *idx.Tuple, dim string, n int, what string, stepOK bool) {
	if stepOK && dim == s.ctx.Dims.StepDim {
		t.SetValAt(0, n)
		return
	}
	j := s.domainPosn(dim, what)
	t.SetValAt(1+j, n)
}

func (s *Solution) getSize(t *idx.Tuple, dim string, what string, stepOK bool) int {
	if stepOK && dim == s.ctx.Dims.StepDim {
		return t.ValAt(0)
	}
	return t.ValAt(1 + s.domainPosn(dim, what))
}

// SetOverallDomainSize sets the global problem size in a domain dim.
func (s *Solution) SetOverallDomainSize(dim string, n int) {
	s.setSize(s.ctx.Opts.GlobalSizes, dim, n, "SetOverallDomainSize", false)
}

// OverallDomainSize returns the global problem size in a domain dim.
func (s *Solution) OverallDomainSize(dim string) int {
	return s.getSize(s.ctx.Opts.GlobalSizes, dim, "OverallDomainSize", false)
}

// SetRankDomainSize sets this rank's local domain size.
func (s *Solution) SetRankDomainSize(dim string, n int) {
	s.setSize(s.ctx.Opts.RankSizes, dim, n, "SetRankDomainSize", false)
}

// RankDomainSize returns this rank's local domain size.
func (s *Solution) RankDomainSize(dim string) int {
	return s.getSize(s.ctx.Opts.RankSizes, dim, "RankDomainSize", false)
}

// SetRegionSize sets the region size; the step dim sets the wavefront
// depth.
func (s *Solution) SetRegionSize(dim string, n int) {
	s.setSize(s.ctx.Opts.RegionSizes, dim, n, "SetRegionSize", true)
}

// RegionSize returns the region size.
func (s *Solution) RegionSize(dim string) int {
	return s.getSize(s.ctx.Opts.RegionSizes, dim, "RegionSize", true)
}

// SetBlockSize sets the block size; the step dim sets the
// temporal-blocking depth.
func (s *Solution) SetBlockSize(dim string, n int) {
	s.setSize(s.ctx.Opts.BlockSizes, dim, n, "SetBlockSize", true)
}

// BlockSize returns the block size.
func (s *Solution) BlockSize(dim string) int {
	return s.getSize(s.ctx.Opts.BlockSizes, dim, "BlockSize", true)
}

// SetMiniBlockSize sets the mini-block size.
func (s *Solution) SetMiniBlockSize(dim string, n int) {
	s.setSize(s.ctx.Opts.MiniBlockSizes, dim, n, "SetMiniBlockSize", false)
}

// MiniBlockSize returns the mini-block size.
func (s *Solution) MiniBlockSize(dim string) int {
	return s.getSize(s.ctx.Opts.MiniBlockSizes, dim, "MiniBlockSize", false)
}

// SetSubBlockSize sets the sub-block size.
func (s *Solution) SetSubBlockSize(dim string, n int) {
	s.setSize(s.ctx.Opts.SubBlockSizes, dim, n, "SetSubBlockSize", false)
}

// SubBlockSize returns the sub-block size.
func (s *Solution) SubBlockSize(dim string) int {
	return s.getSize(s.ctx.Opts.SubBlockSizes, dim, "SubBlockSize", false)
}

// SetMinPadSize sets the minimum pad on both sides of a domain dim.
func (s *Solution) SetMinPadSize(dim string, n int) {
	s.ctx.Opts.MinPadSizes.SetValAt(s.domainPosn(dim, "SetMinPadSize"), n)
}

// SetExtraPadSize sets the extra pad outside the halos.
func (s *Solution) SetExtraPadSize(dim string, n int) {
	s.ctx.Opts.ExtraPadSizes.SetValAt(s.domainPosn(dim, "SetExtraPadSize"), n)
}

// SetNumRanks sets the rank-grid extent in a domain dim; zero asks the
// layout heuristic to choose.
func (s *Solution) SetNumRanks(dim string, n int) {
	s.ctx.Opts.NumRanks.SetValAt(s.domainPosn(dim, "SetNumRanks"), n)
}

// NumRanks returns the rank-grid extent in a domain dim.
func (s *Solution) NumRanks(dim string) int {
	return s.ctx.Opts.NumRanks.ValAt(s.domainPosn(dim, "NumRanks"))
}

// SetRankIndex pins this rank's grid coordinate in a domain dim.
func (s *Solution) SetRankIndex(dim string, n int) {
	s.ctx.Opts.RankIndices.SetValAt(s.domainPosn(dim, "SetRankIndex"), n)
	s.ctx.Opts.FindLoc = false
}

// RankIndex returns this rank's grid coordinate.
func (s *Solution) RankIndex(dim string) int {
	return s.ctx.Opts.RankIndices.ValAt(s.domainPosn(dim, "RankIndex"))
}

// SetDefaultNumaPreferred sets the NUMA policy applied to vars without
// their own preference.
func (s *Solution) SetDefaultNumaPreferred(numa int) { s.ctx.Opts.NumaPref = numa }

// DefaultNumaPreferred returns the default NUMA policy.
func (s *Solution) DefaultNumaPreferred() int { return s.ctx.Opts.NumaPref }

// SetStepWrap permits out-of-window step indices on every var.
func (s *Solution) SetStepWrap(wrap bool) { s.ctx.Opts.StepWrap = wrap }

// StepWrap returns the step-wrap flag.
func (s *Solution) StepWrap() bool { return s.ctx.Opts.StepWrap }

// SetOverlapComms toggles overlapping of interior computation with
// boundary communication.
func (s *Solution) SetOverlapComms(on bool) { s.ctx.Opts.OverlapComms = on }

// SetUseShm toggles the shared-memory exchange fast path.
func (s *Solution) SetUseShm(on bool) { s.ctx.Opts.UseShm = on }

// Vars enumerates the solution's non-scratch vars.
func (s *Solution) Vars() []*vars.Var {
	return append([]*vars.Var{}, s.ctx.Vars...)
}

// Var returns a var by name.
func (s *Solution) Var(name string) *vars.Var {
	v, ok := s.ctx.VarMap[name]
	if !ok {
		errs.Throwf(errs.ConfigError, "unknown var %q", name)
	}
	return v
}

// NewVar creates a user var; must precede PrepareSolution.
func (s *Solution) NewVar(name string, dimNames []string) *vars.Var {
	return s.ctx.NewVar(name, dimNames)
}

// NewFixedSizeVar creates a user var with fixed sizes.
func (s *Solution) NewFixedSizeVar(name string, dimNames []string, sizes idx.Indices) *vars.Var {
	return s.ctx.NewFixedSizeVar(name, dimNames, sizes)
}

// FuseVars makes target an alias of source's storage.
func (s *Solution) FuseVars(target, source *vars.Var) {
	target.FuseVars(source)
}

// PrepareSolution allocates everything and makes the solution runnable.
// Collective.
func (s *Solution) PrepareSolution() {
	for _, h := range s.beforePrepare {
		h(s)
	}
	s.ctx.PrepareSolution()
	for _, h := range s.afterPrepare {
		h(s)
	}
}

// RunSolution advances steps first..last inclusive. Collective.
func (s *Solution) RunSolution(first, last int) {
	for _, h := range s.beforeRun {
		h(s, first, last)
	}
	s.ctx.RunSolution(first, last)
	for _, h := range s.afterRun {
		h(s, first, last)
	}
}

// RunSolutionStep advances exactly one step.
func (s *Solution) RunSolutionStep(t int) { s.RunSolution(t, t) }

// RunSolutionRef advances with the scalar reference path.
func (s *Solution) RunSolutionRef(first, last int) {
	s.ctx.RunSolutionRef(first, last)
}

// EndSolution drops storage references.
func (s *Solution) EndSolution() { s.ctx.EndSolution() }

// GetStats returns and resets the work counters.
func (s *Solution) GetStats() engine.Stats { return s.ctx.GetStats() }

// ResetAutoTuner enables or disables auto-tuning from a clean state.
func (s *Solution) ResetAutoTuner(enable, verbose bool) {
	s.ctx.ResetAutoTuner(enable, verbose)
}

// RunAutoTunerNow tunes to convergence, advancing var contents.
func (s *Solution) RunAutoTunerNow(verbose bool) { s.ctx.RunAutoTunerNow(verbose) }

// IsAutoTunerEnabled reports whether any tuner is still searching.
func (s *Solution) IsAutoTunerEnabled() bool { return s.ctx.IsAutoTunerEnabled() }

// CallBeforePrepareSolution registers a hook.
func (s *Solution) CallBeforePrepareSolution(h func(*Solution)) {
	s.beforePrepare = append(s.beforePrepare, h)
}

// CallAfterPrepareSolution registers a hook.
func (s *Solution) CallAfterPrepareSolution(h func(*Solution)) {
	s.afterPrepare = append(s.afterPrepare, h)
}

// CallBeforeRunSolution registers a hook receiving the step range.
func (s *Solution) CallBeforeRunSolution(h func(s *Solution, first, last int)) {
	s.beforeRun = append(s.beforeRun, h)
}

// CallAfterRunSolution registers a hook receiving the step range.
func (s *Solution) CallAfterRunSolution(h func(s *Solution, first, last int)) {
	s.afterRun = append(s.afterRun, h)
}
