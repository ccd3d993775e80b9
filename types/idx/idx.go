// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package idx defines the index types used throughout the stencil runtime.
//
// A Tuple is an ordered list of (dimension name, value) pairs with unique
// names. It is used wherever values must be addressed by dimension name:
// settings, halo sizes, rank layouts.
//
// An Indices is a bare numeric vector whose meaning is given by an
// associated dimension order. It is used in the hot paths of the tile
// scheduler where name lookups would be too slow.
//
// Both support element-wise arithmetic and row-major linearization
// (last dimension fastest).
package idx

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"golang.org/x/exp/constraints"
)

// RoundUp returns n rounded up to the nearest multiple of mult.
// mult must be positive. Works for negative n (rounds toward +inf).
func RoundUp[T constraints.Signed](n, mult T) T {
	return CeilDiv(n, mult) * mult
}

// RoundDown returns n rounded down to the nearest multiple of mult.
// mult must be positive. Works for negative n (rounds toward -inf).
func RoundDown[T constraints.Signed](n, mult T) T {
	return DivFlr(n, mult) * mult
}

// CeilDiv returns n/d rounded toward +inf. d must be positive.
func CeilDiv[T constraints.Signed](n, d T) T {
	return DivFlr(n+d-1, d)
}

// DivFlr returns n/d rounded toward -inf. d must be positive.
func DivFlr[T constraints.Signed](n, d T) T {
	q := n / d
	if n%d != 0 && (n < 0) != (d < 0) {
		q--
	}
	return q
}

// ModFlr returns the floored modulo n mod d, always in [0, d). d must be positive.
func ModFlr[T constraints.Signed](n, d T) T {
	return n - DivFlr(n, d)*d
}

// Indices is a fixed-length integer vector associated with a dimension
// order that is tracked by the caller.
type Indices []int

// NewIndices returns an Indices of length n filled with val.
func NewIndices(n int, val int) Indices {
	ii := make(Indices, n)
	for i := range ii {
		ii[i] = val
	}
	return ii
}

// Clone returns a copy.
func (ii Indices) Clone() Indices {
	out := make(Indices, len(ii))
	copy(out, ii)
	return out
}

// Equal reports element-wise equality.
func (ii Indices) Equal(other Indices) bool {
	if len(ii) != len(other) {
		return false
	}
	for i, v := range ii {
		if v != other[i] {
			return false
		}
	}
	return true
}

// AddElems returns ii + other element-wise.
func (ii Indices) AddElems(other Indices) Indices {
	out := ii.Clone()
	for i := range out {
		out[i] += other[i]
	}
	return out
}

// SubElems returns ii - other element-wise.
func (ii Indices) SubElems(other Indices) Indices {
	out := ii.Clone()
	for i := range out {
		out[i] -= other[i]
	}
	return out
}

// AddConst returns ii + c in every element.
func (ii Indices) AddConst(c int) Indices {
	out := ii.Clone()
	for i := range out {
		out[i] += c
	}
	return out
}

// MinElems returns the element-wise minimum.
func (ii Indices) MinElems(other Indices) Indices {
	out := ii.Clone()
	for i := range out {
		out[i] = min(out[i], other[i])
	}
	return out
}

// MaxElems returns the element-wise maximum.
func (ii Indices) MaxElems(other Indices) Indices {
	out := ii.Clone()
	for i := range out {
		out[i] = max(out[i], other[i])
	}
	return out
}

// Product returns the product of all elements (1 for an empty vector).
func (ii Indices) Product() int {
	p := 1
	for _, v := range ii {
		p *= v
	}
	return p
}

// Max returns the largest element. Panics on an empty vector.
func (ii Indices) Max() int {
	if len(ii) == 0 {
		exceptions.Panicf("idx.Indices.Max on empty vector")
	}
	m := ii[0]
	for _, v := range ii[1:] {
		m = max(m, v)
	}
	return m
}

// String implements fmt.Stringer.
func (ii Indices) String() string {
	parts := make([]string, len(ii))
	for i, v := range ii {
		parts[i] = fmt.Sprintf("%d", v)
	}
	return "[" + strings.Join(parts, ", ") + "]"
}

// Tuple is an ordered map from dimension name to an integer value.
// Names are unique. The zero value is an empty tuple ready for use.
type Tuple struct {
	names []string
	vals  Indices
	posns map[string]int
}

// NewTuple returns a tuple with the given names, all values zero.
func NewTuple(names ...string) *Tuple {
	t := &Tuple{}
	for _, n := range names {
		t.AddDimBack(n, 0)
	}
	return t
}

// AddDimBack appends a dimension. It panics if the name already exists.
func (t *Tuple) AddDimBack(name string, val int) {
	if _, found := t.Lookup(name); found {
		exceptions.Panicf("idx.Tuple: duplicate dimension name %q", name)
	}
	if t.posns == nil {
		t.posns = make(map[string]int)
	}
	t.posns[name] = len(t.names)
	t.names = append(t.names, name)
	t.vals = append(t.vals, val)
}

// NumDims returns the number of dimensions.
func (t *Tuple) NumDims() int { return len(t.names) }

// Lookup returns the position of a dimension name.
func (t *Tuple) Lookup(name string) (posn int, found bool) {
	if t.posns == nil {
		return 0, false
	}
	posn, found = t.posns[name]
	return
}

// Names returns the dimension names in order. The caller must not modify it.
func (t *Tuple) Names() []string { return t.names }

// Name returns the name of the dimension at posn.
func (t *Tuple) Name(posn int) string { return t.names[posn] }

// Vals returns a copy of the values as an Indices.
func (t *Tuple) Vals() Indices { return t.vals.Clone() }

// ValAt returns the value at posn.
func (t *Tuple) ValAt(posn int) int { return t.vals[posn] }

// SetValAt sets the value at posn.
func (t *Tuple) SetValAt(posn int, val int) { t.vals[posn] = val }

// Val returns the value for the named dimension; panics if unknown.
func (t *Tuple) Val(name string) int {
	posn, found := t.Lookup(name)
	if !found {
		exceptions.Panicf("idx.Tuple: unknown dimension %q", name)
	}
	return t.vals[posn]
}

// SetVal sets the value for the named dimension; panics if unknown.
func (t *Tuple) SetVal(name string, val int) {
	posn, found := t.Lookup(name)
	if !found {
		exceptions.Panicf("idx.Tuple: unknown dimension %q", name)
	}
	t.vals[posn] = val
}

// SetValsSame sets every value to val.
func (t *Tuple) SetValsSame(val int) {
	for i := range t.vals {
		t.vals[i] = val
	}
}

// SetVals copies values from an Indices of matching length.
func (t *Tuple) SetVals(vals Indices) {
	if len(vals) != len(t.vals) {
		exceptions.Panicf("idx.Tuple.SetVals: got %d values for %d dims", len(vals), len(t.vals))
	}
	copy(t.vals, vals)
}

// Clone returns a deep copy.
func (t *Tuple) Clone() *Tuple {
	out := NewTuple(t.names...)
	copy(out.vals, t.vals)
	return out
}

// Product returns the product of all values.
func (t *Tuple) Product() int { return t.vals.Product() }

// Max returns the largest value.
func (t *Tuple) Max() int { return t.vals.Max() }

// Layout converts per-dim offsets into a linear row-major index,
// last dimension fastest.
func (t *Tuple) Layout(offsets Indices) int {
	if len(offsets) != len(t.vals) {
		exceptions.Panicf("idx.Tuple.Layout: got %d offsets for %d dims", len(offsets), len(t.vals))
	}
	li := 0
	for i, ofs := range offsets {
		li = li*t.vals[i] + ofs
	}
	return li
}

// Unlayout is the inverse of Layout.
func (t *Tuple) Unlayout(li int) Indices {
	out := make(Indices, len(t.vals))
	for i := len(t.vals) - 1; i >= 0; i-- {
		out[i] = li % t.vals[i]
		li /= t.vals[i]
	}
	return out
}

// VisitAllPoints visits every point in the n-dim space whose sizes are the
// tuple values, in layout order. The visitor returns false to stop early.
// VisitAllPoints returns false iff the visitor stopped the scan.
func (t *Tuple) VisitAllPoints(visitor func(pt Indices, li int) bool) bool {
	n := t.Product()
	if n == 0 {
		return true
	}
	pt := make(Indices, len(t.vals))
	for li := 0; li < n; li++ {
		if !visitor(pt, li) {
			return false
		}
		// Advance odometer, last dim fastest.
		for i := len(pt) - 1; i >= 0; i-- {
			pt[i]++
			if pt[i] < t.vals[i] {
				break
			}
			pt[i] = 0
		}
	}
	return true
}

// String implements fmt.Stringer, e.g. "x=4, y=3".
func (t *Tuple) String() string {
	parts := make([]string, len(t.names))
	for i, n := range t.names {
		parts[i] = fmt.Sprintf("%s=%d", n, t.vals[i])
	}
	return strings.Join(parts, ", ")
}
