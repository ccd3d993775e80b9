// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package xslices has small slice helpers shared across the runtime.
package xslices

import "golang.org/x/exp/constraints"

// Fill sets every element of the slice to value.
func Fill[T any](slice []T, value T) {
	for i := range slice {
		slice[i] = value
	}
}

// Copy returns a freshly allocated copy of the slice.
func Copy[T any](slice []T) []T {
	out := make([]T, len(slice))
	copy(out, slice)
	return out
}

// Last returns the last element. It panics on an empty slice.
func Last[T any](slice []T) T {
	return slice[len(slice)-1]
}

// Sum adds up the elements of the slice.
func Sum[T constraints.Integer | constraints.Float](slice []T) (total T) {
	for _, v := range slice {
		total += v
	}
	return
}
