// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package idx

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestRounding(t *testing.T) {
	require.Equal(t, 8, RoundUp(5, 4))
	require.Equal(t, 8, RoundUp(8, 4))
	require.Equal(t, -4, RoundUp(-5, 4))
	require.Equal(t, 4, RoundDown(5, 4))
	require.Equal(t, -8, RoundDown(-5, 4))
	require.Equal(t, 2, CeilDiv(5, 4))
	require.Equal(t, -2, DivFlr(-5, 4))
	require.Equal(t, 3, ModFlr(-5, 4))
}

func TestIndicesArith(t *testing.T) {
	a := Indices{1, 2, 3}
	b := Indices{4, 0, -1}
	require.Equal(t, Indices{5, 2, 2}, a.AddElems(b))
	require.Equal(t, Indices{-3, 2, 4}, a.SubElems(b))
	require.Equal(t, Indices{1, 0, -1}, a.MinElems(b))
	require.Equal(t, Indices{4, 2, 3}, a.MaxElems(b))
	require.Equal(t, 6, a.Product())
	require.Equal(t, 4, b.Max())
	require.True(t, a.Equal(Indices{1, 2, 3}))
	require.False(t, a.Equal(b))
}

func TestTupleBasics(t *testing.T) {
	tp := NewTuple("x", "y", "z")
	require.Equal(t, 3, tp.NumDims())
	tp.SetVal("x", 4)
	tp.SetVal("y", 3)
	tp.SetVal("z", 2)
	require.Equal(t, 24, tp.Product())
	require.Equal(t, 4, tp.Max())
	require.Equal(t, 3, tp.Val("y"))
	require.Panics(t, func() { tp.Val("w") })
	require.Panics(t, func() { tp.AddDimBack("x", 1) })

	clone := tp.Clone()
	clone.SetVal("x", 9)
	require.Equal(t, 4, tp.Val("x"))
}

func TestTupleLayout(t *testing.T) {
	tp := NewTuple("x", "y")
	tp.SetVal("x", 3)
	tp.SetVal("y", 4)

	// Last dim fastest.
	require.Equal(t, 0, tp.Layout(Indices{0, 0}))
	require.Equal(t, 1, tp.Layout(Indices{0, 1}))
	require.Equal(t, 4, tp.Layout(Indices{1, 0}))
	require.Equal(t, 11, tp.Layout(Indices{2, 3}))

	for li := 0; li < 12; li++ {
		require.Equal(t, li, tp.Layout(tp.Unlayout(li)))
	}
}

func TestVisitAllPoints(t *testing.T) {
	tp := NewTuple("a", "b")
	tp.SetVal("a", 2)
	tp.SetVal("b", 3)
	var seen []Indices
	done := tp.VisitAllPoints(func(pt Indices, li int) bool {
		require.Equal(t, li, tp.Layout(pt))
		seen = append(seen, pt.Clone())
		return true
	})
	require.True(t, done)
	require.Len(t, seen, 6)
	require.Equal(t, Indices{0, 0}, seen[0])
	require.Equal(t, Indices{1, 2}, seen[5])

	// Early stop.
	count := 0
	done = tp.VisitAllPoints(func(pt Indices, li int) bool {
		count++
		return count < 3
	})
	require.False(t, done)
	require.Equal(t, 3, count)
}
