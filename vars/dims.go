// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package vars implements the n-dimensional storage objects ("vars") that
// stencil kernels read and write, together with the problem-dimension
// descriptor shared by every component of the runtime.
//
// A Var owns a flat slice of elements laid out row-major over its
// dimensions (last dimension fastest) with per-dimension halos and padding.
// The step dimension uses rotational storage: writing step t+1 may evict
// the oldest step, and access is by floored modulo of the allocation size.
package vars

import (
	"github.com/gomlx/exceptions"

	"github.com/opesci/yask/types/idx"
)

// ElemBytes is the size of one grid element. The element type is fixed
// when the module is built, like the rest of the kernel configuration.
const ElemBytes = 8

// DimKind classifies a dimension.
type DimKind int

const (
	// StepDim is the solution's single step dimension (usually time).
	StepDim DimKind = iota
	// DomainDim is one of the ordered spatial dimensions.
	DomainDim
	// MiscDim is any other dimension (e.g. a material or component index).
	MiscDim
)

// Dims describes the dimensions of a solution: one step dim, an ordered
// list of domain dims, and a set of misc dims, plus the SIMD fold layout
// fixed by the stencil compiler.
//
// The inner dim is the last domain dim; it is the unit-stride dim of the
// optimized sub-block loops.
type Dims struct {
	StepDim    string
	DomainDims []string
	MiscDims   []string

	// FoldPts is the per-domain-dim vector-fold length; its product is
	// the vector length. ClusterMults is the per-domain-dim number of
	// vectors in a cluster.
	FoldPts      idx.Indices
	ClusterMults idx.Indices

	// Derived.
	VecLen     int
	ClusterPts idx.Indices // FoldPts * ClusterMults, element units.

	kinds map[string]DimKind
	posns map[string]int // domain-dim name -> position in DomainDims.
}

// NewDims validates and builds a Dims. foldPts and clusterMults must have
// one entry per domain dim; nil means all ones.
func NewDims(stepDim string, domainDims, miscDims []string, foldPts, clusterMults idx.Indices) *Dims {
	nd := len(domainDims)
	if nd == 0 {
		exceptions.Panicf("vars.NewDims: at least one domain dim is required")
	}
	if foldPts == nil {
		foldPts = idx.NewIndices(nd, 1)
	}
	if clusterMults == nil {
		clusterMults = idx.NewIndices(nd, 1)
	}
	if len(foldPts) != nd || len(clusterMults) != nd {
		exceptions.Panicf("vars.NewDims: fold/cluster lengths must match %d domain dims", nd)
	}
	d := &Dims{
		StepDim:      stepDim,
		DomainDims:   append([]string{}, domainDims...),
		MiscDims:     append([]string{}, miscDims...),
		FoldPts:      foldPts.Clone(),
		ClusterMults: clusterMults.Clone(),
		kinds:        make(map[string]DimKind),
		posns:        make(map[string]int),
	}
	add := func(name string, kind DimKind) {
		if _, dup := d.kinds[name]; dup {
			exceptions.Panicf("vars.NewDims: duplicate dim name %q", name)
		}
		d.kinds[name] = kind
	}
	add(stepDim, StepDim)
	for j, name := range domainDims {
		add(name, DomainDim)
		d.posns[name] = j
		if foldPts[j] < 1 || clusterMults[j] < 1 {
			exceptions.Panicf("vars.NewDims: fold and cluster lengths must be >= 1 in %q", name)
		}
	}
	for _, name := range miscDims {
		add(name, MiscDim)
	}
	d.VecLen = d.FoldPts.Product()
	d.ClusterPts = make(idx.Indices, nd)
	for j := range d.ClusterPts {
		d.ClusterPts[j] = d.FoldPts[j] * d.ClusterMults[j]
	}
	return d
}

// NumDomainDims returns the number of domain dims.
func (d *Dims) NumDomainDims() int { return len(d.DomainDims) }

// NumStencilDims returns 1 + the number of domain dims.
func (d *Dims) NumStencilDims() int { return 1 + len(d.DomainDims) }

// InnerPosn returns the position of the inner dim within DomainDims.
func (d *Dims) InnerPosn() int { return len(d.DomainDims) - 1 }

// InnerDim returns the name of the inner (unit-stride) domain dim.
func (d *Dims) InnerDim() string { return d.DomainDims[d.InnerPosn()] }

// Kind returns the kind of the named dim.
func (d *Dims) Kind(name string) (DimKind, bool) {
	k, ok := d.kinds[name]
	return k, ok
}

// DomainPosn returns the position of a domain-dim name, or -1.
func (d *Dims) DomainPosn(name string) int {
	if p, ok := d.posns[name]; ok {
		return p
	}
	return -1
}

// StencilDims returns the step dim followed by the domain dims.
func (d *Dims) StencilDims() []string {
	out := make([]string, 0, d.NumStencilDims())
	out = append(out, d.StepDim)
	out = append(out, d.DomainDims...)
	return out
}
