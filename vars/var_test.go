// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package vars

import (
	"testing"

	"github.com/gomlx/exceptions"
	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
)

func testDims(t *testing.T) *Dims {
	t.Helper()
	return NewDims("t", []string{"x", "y", "z"}, []string{"m"},
		idx.Indices{1, 1, 4}, idx.Indices{1, 1, 2})
}

func makeVar(t *testing.T, dims *Dims, sizes, halos idx.Indices) *Var {
	t.Helper()
	v := New(dims, "u", []string{"t", "x", "y", "z"})
	v.SetAllocSize("t", 2)
	for j, dn := range dims.DomainDims {
		v.SetDomainSize(dn, sizes[j])
		v.SetLeftHaloSize(dn, halos[j])
		v.SetRightHaloSize(dn, halos[j])
	}
	return v
}

func TestPadInvariants(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{8, 8, 8}, idx.Indices{1, 1, 1})
	v.SetMinPadSize("x", 3)
	v.AllocStorage()

	for _, dn := range dims.DomainDims {
		left, right := v.LeftPadSize(dn), v.RightPadSize(dn)
		require.GreaterOrEqual(t, left, v.LeftHaloSize(dn))
		require.GreaterOrEqual(t, right, v.RightHaloSize(dn))
		require.GreaterOrEqual(t, v.AllocSize(dn), left+v.DomainSize(dn)+right)
	}
	// Vectorized dim is rounded to whole vectors.
	require.Zero(t, v.AllocSize("z")%4)
	// Left pad keeps fold alignment.
	require.Zero(t, v.LeftPadSize("z")%4)
	// Explicit min pad honored.
	require.GreaterOrEqual(t, v.LeftPadSize("x"), 3)
}

func TestAllocBoundaryAccess(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{8, 8, 8}, idx.Indices{1, 1, 1})
	v.AllocStorage()

	first := idx.Indices{0,
		v.FirstRankAllocIndex("x"), v.FirstRankAllocIndex("y"), v.FirstRankAllocIndex("z")}
	last := idx.Indices{1,
		v.LastRankAllocIndex("x"), v.LastRankAllocIndex("y"), v.LastRankAllocIndex("z")}
	require.Equal(t, 1, v.SetElement(1.5, first, true))
	require.Equal(t, 1, v.SetElement(2.5, last, true))
	require.Equal(t, 1.5, v.GetElement(first))
	require.Equal(t, 2.5, v.GetElement(last))

	// One past the allocation must fail when strict, write nothing otherwise.
	past := last.Clone()
	past[1]++
	err := exceptions.TryCatch[*errs.Error](func() { v.SetElement(2.0, past, true) })
	require.NotNil(t, err)
	require.Equal(t, errs.IndexOutOfRange, err.Kind)
	require.Equal(t, 0, v.SetElement(2.0, past, false))
}

func TestStepWrapLaw(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	v.SetStepWrap(true)
	v.AllocStorage()

	pt := idx.Indices{0, 1, 1, 1}
	v.SetElement(7.5, pt, true)
	wrapped := pt.Clone()
	wrapped[0] += v.AllocSize("t")
	require.Equal(t, 7.5, v.GetElement(wrapped))
}

func TestSliceRoundTrip(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	v.AllocStorage()

	first := idx.Indices{0, 0, 0, 0}
	last := idx.Indices{0, 3, 3, 3}
	n := 4 * 4 * 4
	buf := make([]float64, n)
	for i := range buf {
		buf[i] = float64(i) * 0.25
	}
	require.Equal(t, n, v.SetElementsInSlice(buf, first, last))
	out := make([]float64, n)
	require.Equal(t, n, v.GetElementsInSlice(out, first, last))
	require.Equal(t, buf, out)

	// Vector copy must agree with the scalar path on aligned boxes.
	out2 := make([]float64, n)
	require.Equal(t, n, v.GetVecsInSlice(out2, first, last))
	require.Equal(t, buf, out2)
}

func TestFixedSizeVarSlice(t *testing.T) {
	dims := NewDims("t", []string{"x", "y"}, []string{"m"}, nil, nil)
	v := NewFixedSize(dims, "params", []string{"t", "x", "y", "m"}, idx.Indices{2, 5, 5, 3})
	v.AllocStorage()
	v.SetAllElementsSame(1.0)

	// Row-major slice of the last m plane: exactly 25 ones.
	first := idx.Indices{1, 0, 0, 2}
	last := idx.Indices{1, 4, 4, 2}
	buf := make([]float64, 25)
	require.Equal(t, 25, v.GetElementsInSlice(buf, first, last))
	for _, x := range buf {
		require.Equal(t, 1.0, x)
	}
	require.True(t, v.IsFixedSize())
	require.Equal(t, 0, v.FirstRankDomainIndex("x"))
}

func TestFuseVars(t *testing.T) {
	dims := testDims(t)
	a := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	b := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	b.AllocStorage()

	pt := idx.Indices{0, 2, 2, 2}
	b.SetElement(3.25, pt, true)
	a.FuseVars(b)
	require.Equal(t, 3.25, a.GetElement(pt))

	// Incompatible dim lists must raise DimMismatch.
	c := New(dims, "c", []string{"t", "x", "y"})
	err := exceptions.TryCatch[*errs.Error](func() { c.FuseVars(b) })
	require.NotNil(t, err)
	require.Equal(t, errs.DimMismatch, err.Kind)
}

func TestAddToElement(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	v.AllocStorage()
	pt := idx.Indices{1, 0, 0, 0}
	v.SetElement(1.0, pt, true)
	require.Equal(t, 1, v.AddToElement(0.5, pt, true))
	require.Equal(t, 1.5, v.GetElement(pt))
}

func TestMissingStorage(t *testing.T) {
	dims := testDims(t)
	v := makeVar(t, dims, idx.Indices{4, 4, 4}, idx.Indices{0, 0, 0})
	err := exceptions.TryCatch[*errs.Error](func() { v.GetElement(idx.Indices{0, 0, 0, 0}) })
	require.NotNil(t, err)
	require.Equal(t, errs.PreparationError, err.Kind)
}
