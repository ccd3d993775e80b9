// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package xslices

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestFill(t *testing.T) {
	s := make([]float64, 4)
	Fill(s, 1.25)
	require.Equal(t, []float64{1.25, 1.25, 1.25, 1.25}, s)
}

func TestCopy(t *testing.T) {
	src := []int{1, 2, 3}
	dst := Copy(src)
	dst[0] = 9
	require.Equal(t, []int{1, 2, 3}, src)
	require.Equal(t, []int{9, 2, 3}, dst)
}

func TestLastAndSum(t *testing.T) {
	require.Equal(t, 3, Last([]int{1, 2, 3}))
	require.Equal(t, 6, Sum([]int{1, 2, 3}))
	require.Equal(t, 1.5, Sum([]float64{0.5, 1.0}))
}
