// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package alloc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

func TestPlanVarsPlacesEverything(t *testing.T) {
	dims := vars.NewDims("t", []string{"x", "y"}, nil, idx.Indices{1, 4}, nil)
	var list []*vars.Var
	for _, name := range []string{"a", "b", "c"} {
		v := vars.New(dims, name, []string{"t", "x", "y"})
		v.SetAllocSize("t", 2)
		v.SetDomainSize("x", 8)
		v.SetDomainSize("y", 8)
		v.SetLeftHaloSize("x", 1)
		v.SetRightHaloSize("x", 1)
		list = append(list, v)
	}
	a := New(0, "")
	a.PlanVars(list)
	for _, v := range list {
		require.True(t, v.IsStorageAllocated())
		v.SetAllElementsSame(0.25)
		require.Equal(t, 0.25, v.GetElement(idx.Indices{0, 0, 0}))
	}

	// Distinct vars must not share storage.
	list[0].SetElement(9.0, idx.Indices{0, 1, 1}, true)
	require.Equal(t, 0.25, list[1].GetElement(idx.Indices{0, 1, 1}))
}

func TestAllocPool(t *testing.T) {
	a := New(0, "")
	pool := a.AllocPool(vars.NumaLocal, 1024)
	require.Len(t, pool, 1024)
	pool[1023] = 1.5
	require.Equal(t, 1.5, pool[1023])
}
