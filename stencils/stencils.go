// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package stencils defines the contract between the stencil compiler and
// the runtime kernel: per-bundle inner-kernel v-tables, sub-domain and
// step predicates, and the descriptors from which the runtime builds its
// bundles and packs.
//
// The runtime never interprets stencil equations; it consumes a fixed
// v-table of scalar, vector, and cluster kernels per bundle. The built-in
// definitions in this package stand in for compiler output and are also
// used by the tests and the yaskrun driver.
package stencils

import (
	"github.com/gomlx/exceptions"

	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Args carries the vars a kernel reads and writes, resolved by the
// runtime in the order declared by the bundle.
type Args struct {
	Inputs  []*vars.Var
	Outputs []*vars.Var
}

// ScalarKernel evaluates one stencil point. pt holds global indices in
// stencil-dim order (step first, then domain dims).
type ScalarKernel func(a *Args, pt idx.Indices)

// VectorKernel evaluates one vector fold of points whose first element is
// at pt (fold-aligned in every vectorized dim). Bit k of writeMask gates
// the store of the k-th fold point in layout order (last domain dim
// fastest); an all-ones mask stores every point.
type VectorKernel func(a *Args, pt idx.Indices, writeMask uint64)

// ClusterKernel evaluates one full cluster of vectors starting at pt.
// All stores are unmasked.
type ClusterKernel func(a *Args, pt idx.Indices)

// VTable is the tagged table of inner kernels for a bundle, supplied by
// the stencil compiler at construction time.
type VTable struct {
	Scalar  ScalarKernel
	Vector  VectorKernel
	Cluster ClusterKernel
}

// DomainPred decides whether a domain point (domain-dim order) is inside
// a bundle's sub-domain. A nil predicate means the bundle is solid.
type DomainPred func(pt idx.Indices) bool

// StepPred decides whether a bundle runs at a step index. A nil predicate
// admits every step.
type StepPred func(t int) bool

// VarDef describes a var the stencil compiler creates at solution
// construction.
type VarDef struct {
	Name     string
	DimNames []string
	// LeftHalos/RightHalos are per domain dim used by the var (indexed
	// like DimNames, non-domain entries ignored); nil means zero.
	LeftHalos  idx.Indices
	RightHalos idx.Indices
	// StepAlloc is the step-dim depth; 0 means 1.
	StepAlloc int
	// L1Norm is the max Manhattan distance of ranks this var exchanges
	// halos with.
	L1Norm int
	// Scratch vars have no persistent storage; one instance per region
	// thread is created by the runtime.
	Scratch bool
}

// Bundle is a group of stencil equations sharing a sub-domain predicate,
// executed together.
type Bundle struct {
	Name string

	// Var names resolved against the solution by the runtime.
	InputVars  []string
	OutputVars []string

	// Deps names bundles that must run before this one within a pack
	// (scratch-producing bundles).
	Deps []string

	SubDomain DomainPred
	StepCond  StepPred

	// StepOffset is the step written relative to the step read; +1 for
	// a typical forward stencil.
	StepOffset int

	Kernels VTable

	// Per-point work estimates from the compiler.
	ReadsPerPoint  int
	WritesPerPoint int
	FpOpsPerPoint  int
}

// Pack is an independent set of bundles tuned and scheduled as a unit.
type Pack struct {
	Name    string
	Bundles []string
}

// Def is the complete compiler output for one solution.
type Def struct {
	Name   string
	Target string
	Dims   *vars.Dims
	Vars   []VarDef
	Bundles []*Bundle
	Packs  []*Pack
}

var registry = map[string]func() *Def{}

// Register makes a stencil definition available by name, normally from an
// init function. Registering a duplicate name panics.
func Register(name string, factory func() *Def) {
	if _, dup := registry[name]; dup {
		exceptions.Panicf("stencils.Register: duplicate stencil %q", name)
	}
	registry[name] = factory
}

// New instantiates a registered stencil definition.
func New(name string) *Def {
	factory, ok := registry[name]
	if !ok {
		exceptions.Panicf("stencils.New: unknown stencil %q (registered: %v)", name, Names())
	}
	return factory()
}

// Names lists the registered stencil definitions.
func Names() []string {
	out := make([]string, 0, len(registry))
	for n := range registry {
		out = append(out, n)
	}
	return out
}
