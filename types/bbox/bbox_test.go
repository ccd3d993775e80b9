// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package bbox

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/types/idx"
)

func TestBBBasics(t *testing.T) {
	b := New(idx.Indices{0, 4}, idx.Indices{8, 10})
	require.Equal(t, idx.Indices{8, 6}, b.Len)
	require.Equal(t, 48, b.Size)
	require.Equal(t, 48, b.NumPoints)
	require.True(t, b.IsFull)
	require.True(t, b.Contains(idx.Indices{0, 4}))
	require.True(t, b.Contains(idx.Indices{7, 9}))
	require.False(t, b.Contains(idx.Indices{8, 9}))
	require.False(t, b.Contains(idx.Indices{0, 3}))
}

func TestIntersect(t *testing.T) {
	a := New(idx.Indices{0, 0}, idx.Indices{8, 8})
	b := New(idx.Indices{4, 6}, idx.Indices{12, 14})
	c := a.Intersect(&b)
	require.Equal(t, idx.Indices{4, 6}, c.Begin)
	require.Equal(t, idx.Indices{8, 8}, c.End)

	d := New(idx.Indices{9, 9}, idx.Indices{10, 10})
	e := a.Intersect(&d)
	require.Zero(t, e.Size)
}

func TestAlignmentFlags(t *testing.T) {
	b := BB{Begin: idx.Indices{4, 3}, End: idx.Indices{12, 9}}
	b.Update(true, idx.Indices{0, 0}, idx.Indices{4, 1}, idx.Indices{8, 2})
	require.True(t, b.IsAligned)      // 4%4==0, 3%1==0.
	require.True(t, b.IsClusterMult)  // len 8%8==0, 6%2==0.

	b2 := BB{Begin: idx.Indices{5, 3}, End: idx.Indices{12, 9}}
	b2.Update(true, idx.Indices{0, 0}, idx.Indices{4, 1}, idx.Indices{8, 2})
	require.False(t, b2.IsAligned)
	require.False(t, b2.IsClusterMult) // len 7 not a multiple of 8.
}

func TestListTotalPoints(t *testing.T) {
	l := List{
		New(idx.Indices{0, 0}, idx.Indices{2, 2}),
		New(idx.Indices{2, 0}, idx.Indices{3, 2}),
	}
	require.Equal(t, 6, l.TotalPoints())
}
