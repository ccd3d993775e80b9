// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package stencils

import (
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// laplaceCoef is the diffusion coefficient of the built-in 7-point stencil.
const laplaceCoef = 0.1

func init() {
	Register("laplace3d", NewLaplace3D)
}

// NewLaplace3D returns the built-in 3D seven-point Laplacian:
//
//	u(t+1, p) = u(t, p) + c * (sum of the 6 axis neighbors - 6*u(t, p))
//
// on dims (t; x, y, z) with a fold of 4 in z and a 2-vector cluster.
func NewLaplace3D() *Def {
	dims := vars.NewDims("t", []string{"x", "y", "z"}, nil,
		idx.Indices{1, 1, 4}, idx.Indices{1, 1, 2})

	bundle := &Bundle{
		Name:           "laplace",
		InputVars:      []string{"u"},
		OutputVars:     []string{"u"},
		StepOffset:     1,
		ReadsPerPoint:  7,
		WritesPerPoint: 1,
		FpOpsPerPoint:  8,
	}
	bundle.Kernels = VTable{
		Scalar:  laplaceScalar,
		Vector:  laplaceVector(dims),
		Cluster: laplaceCluster(dims),
	}

	return &Def{
		Name:   "laplace3d",
		Target: "cpu",
		Dims:   dims,
		Vars: []VarDef{{
			Name:       "u",
			DimNames:   []string{"t", "x", "y", "z"},
			LeftHalos:  idx.Indices{0, 1, 1, 1},
			RightHalos: idx.Indices{0, 1, 1, 1},
			StepAlloc:  2,
			L1Norm:     1,
		}},
		Bundles: []*Bundle{bundle},
		Packs:   []*Pack{{Name: "main", Bundles: []string{"laplace"}}},
	}
}

// laplacePoint updates one point given the read offset at step t and the
// write offset at step t+1. Every kernel form funnels through it so the
// scalar, vector, and cluster paths produce bit-identical results.
func laplacePoint(data []float64, s idx.Indices, rofs, wofs int) {
	sx, sy, sz := s[1], s[2], s[3]
	v := data[rofs]
	sum := data[rofs-sx] + data[rofs+sx] +
		data[rofs-sy] + data[rofs+sy] +
		data[rofs-sz] + data[rofs+sz]
	data[wofs] = v + laplaceCoef*(sum-6*v)
}

func laplaceOffsets(u *vars.Var, pt idx.Indices) (rofs, wofs int) {
	rofs, _ = u.Offset(pt)
	wpt := pt.Clone()
	wpt[0]++
	wofs, _ = u.Offset(wpt)
	return
}

func laplaceScalar(a *Args, pt idx.Indices) {
	u := a.Inputs[0]
	rofs, wofs := laplaceOffsets(u, pt)
	laplacePoint(u.Data(), u.Strides(), rofs, wofs)
}

// laplaceVector evaluates one fold of points; bit k of writeMask gates the
// k-th fold point in layout order.
func laplaceVector(dims *vars.Dims) VectorKernel {
	fold := dims.FoldPts
	return func(a *Args, pt idx.Indices, writeMask uint64) {
		u := a.Inputs[0]
		data, s := u.Data(), u.Strides()
		k := 0
		visitFold(fold, func(fofs idx.Indices) {
			if writeMask&(1<<uint(k)) != 0 {
				fpt := pt.Clone()
				for j, f := range fofs {
					fpt[1+j] += f
				}
				rofs, wofs := laplaceOffsets(u, fpt)
				laplacePoint(data, s, rofs, wofs)
			}
			k++
		})
	}
}

// laplaceCluster evaluates a full cluster of vectors with unmasked stores.
func laplaceCluster(dims *vars.Dims) ClusterKernel {
	cluster := dims.ClusterPts
	return func(a *Args, pt idx.Indices) {
		u := a.Inputs[0]
		data, s := u.Data(), u.Strides()
		visitFold(cluster, func(fofs idx.Indices) {
			fpt := pt.Clone()
			for j, f := range fofs {
				fpt[1+j] += f
			}
			rofs, wofs := laplaceOffsets(u, fpt)
			laplacePoint(data, s, rofs, wofs)
		})
	}
}

// visitFold walks an n-dim box of the given lengths in layout order
// (last dim fastest).
func visitFold(lens idx.Indices, fn func(fofs idx.Indices)) {
	n := lens.Product()
	fofs := make(idx.Indices, len(lens))
	for i := 0; i < n; i++ {
		fn(fofs)
		for j := len(fofs) - 1; j >= 0; j-- {
			fofs[j]++
			if fofs[j] < lens[j] {
				break
			}
			fofs[j] = 0
		}
	}
}
