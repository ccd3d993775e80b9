// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package vars

import (
	"math"
	"sync/atomic"
	"unsafe"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/types/xslices"
)

// checkIndex classifies one index of a point against the allocated range
// of the dim at posn. Returns the storage index and whether it is valid.
func (v *Var) checkIndex(posn, g int) (int, bool) {
	di := v.di[posn]
	switch di.kind {
	case StepDim:
		// Rotational storage: the slot is always the floored modulo of
		// the allocation; validity tracks the sliding step window.
		s := idx.ModFlr(g, v.allocSize[posn])
		ok := v.stepWrap || (g >= v.firstValid && g <= v.lastValid)
		return s, ok
	case DomainDim:
		s := g - v.rankOfs[posn] - v.localOfs[posn] + v.leftPad[posn]
		return s, s >= 0 && s < v.allocSize[posn]
	default:
		s := g - v.firstMisc[posn]
		return s, s >= 0 && s < v.allocSize[posn]
	}
}

// Offset converts a global point (var-dim order) into a flat storage
// index, or reports failure. The var must have storage.
func (v *Var) Offset(pt idx.Indices) (ofs int, ok bool) {
	ok = true
	for i := range v.di {
		s, valid := v.checkIndex(i, pt[i])
		if !valid {
			ok = false
		}
		ofs += s * v.strides[i]
	}
	return
}

// AreIndicesLocal reports whether every index of pt falls within the
// allocated (domain dims) or declared (misc dims) ranges, and the valid
// step window for the step dim.
func (v *Var) AreIndicesLocal(pt idx.Indices) bool {
	if len(pt) != len(v.di) {
		return false
	}
	_, ok := v.Offset(pt)
	return ok
}

func (v *Var) requireStorage(op string) {
	if !v.IsStorageAllocated() {
		errs.Throwf(errs.PreparationError, "var %q: %s called without storage allocated", v.name, op)
	}
}

func (v *Var) offsetChecked(pt idx.Indices, strict bool, op string) (int, bool) {
	if len(pt) != len(v.di) {
		errs.Throwf(errs.ConfigError, "var %q: %s: got %d indices for %d dims", v.name, op, len(pt), len(v.di))
	}
	ofs, ok := v.Offset(pt)
	if !ok {
		if strict {
			errs.Throwf(errs.IndexOutOfRange, "var %q: %s: indices (%s) outside allocated range",
				v.name, op, v.FormatIndices(pt))
		}
		return 0, false
	}
	return ofs, true
}

// GetElement reads one element at a global point; IndexOutOfRange if the
// point is not local.
func (v *Var) GetElement(pt idx.Indices) float64 {
	v.requireStorage("GetElement")
	ofs, _ := v.offsetChecked(pt, true, "GetElement")
	return v.data[ofs]
}

// SetElement writes one element. With strict, out-of-range points raise
// IndexOutOfRange; otherwise it returns the number of elements written
// (0 or 1).
func (v *Var) SetElement(val float64, pt idx.Indices, strict bool) int {
	v.requireStorage("SetElement")
	ofs, ok := v.offsetChecked(pt, strict, "SetElement")
	if !ok {
		return 0
	}
	v.data[ofs] = val
	return 1
}

// AddToElement atomically adds val to one element. Same strictness
// behavior as SetElement.
func (v *Var) AddToElement(val float64, pt idx.Indices, strict bool) int {
	v.requireStorage("AddToElement")
	ofs, ok := v.offsetChecked(pt, strict, "AddToElement")
	if !ok {
		return 0
	}
	addr := (*uint64)(unsafe.Pointer(&v.data[ofs]))
	for {
		old := atomic.LoadUint64(addr)
		upd := math.Float64bits(math.Float64frombits(old) + val)
		if atomic.CompareAndSwapUint64(addr, old, upd) {
			return 1
		}
	}
}

// SetAllElementsSame fills the whole allocation, pads included.
func (v *Var) SetAllElementsSame(val float64) {
	v.requireStorage("SetAllElementsSame")
	xslices.Fill(v.data, val)
	for t := range v.dirty {
		v.dirty[t] = true
	}
}

// sliceSpan validates an inclusive [first, last] box and returns the
// per-dim lengths. Both corners must be local.
func (v *Var) sliceSpan(first, last idx.Indices, op string) idx.Indices {
	v.requireStorage(op)
	v.offsetChecked(first, true, op)
	v.offsetChecked(last, true, op)
	lens := make(idx.Indices, len(v.di))
	for i := range v.di {
		lens[i] = last[i] - first[i] + 1
		if lens[i] < 1 {
			errs.Throwf(errs.IndexOutOfRange, "var %q: %s: first index %d after last %d in dim %q",
				v.name, op, first[i], last[i], v.di[i].name)
		}
	}
	return lens
}

// visitSlice walks the inclusive box [first, last] in row-major order
// (last var dim fastest), calling fn with the storage offset of each
// element and its position in the buffer.
func (v *Var) visitSlice(first, lens idx.Indices, fn func(storageOfs, bufOfs int)) {
	pt := first.Clone()
	n := lens.Product()
	for bi := 0; bi < n; bi++ {
		ofs, _ := v.Offset(pt)
		fn(ofs, bi)
		for i := len(pt) - 1; i >= 0; i-- {
			pt[i]++
			if pt[i] < first[i]+lens[i] {
				break
			}
			pt[i] = first[i]
		}
	}
}

// GetElementsInSlice copies the inclusive box [first, last] into buf in
// row-major layout and returns the number of elements copied.
func (v *Var) GetElementsInSlice(buf []float64, first, last idx.Indices) int {
	lens := v.sliceSpan(first, last, "GetElementsInSlice")
	n := lens.Product()
	if len(buf) < n {
		errs.Throwf(errs.IndexOutOfRange, "var %q: GetElementsInSlice: buffer of %d elements < %d needed",
			v.name, len(buf), n)
	}
	v.visitSlice(first, lens, func(storageOfs, bufOfs int) {
		buf[bufOfs] = v.data[storageOfs]
	})
	return n
}

// SetElementsInSlice copies buf (row-major) into the inclusive box
// [first, last] and returns the number of elements copied.
func (v *Var) SetElementsInSlice(buf []float64, first, last idx.Indices) int {
	lens := v.sliceSpan(first, last, "SetElementsInSlice")
	n := lens.Product()
	if len(buf) < n {
		errs.Throwf(errs.IndexOutOfRange, "var %q: SetElementsInSlice: buffer of %d elements < %d needed",
			v.name, len(buf), n)
	}
	v.visitSlice(first, lens, func(storageOfs, bufOfs int) {
		v.data[storageOfs] = buf[bufOfs]
	})
	return n
}

// GetVecsInSlice is the vectorizable variant of GetElementsInSlice: the
// box must be fold-aligned and fold-multiple in every domain dim, which
// lets the copy run over contiguous inner-dim runs.
func (v *Var) GetVecsInSlice(buf []float64, first, last idx.Indices) int {
	return v.copyVecs(buf, first, last, "GetVecsInSlice", func(dst, src []float64) { copy(dst, src) }, true)
}

// SetVecsInSlice is the vectorizable variant of SetElementsInSlice.
func (v *Var) SetVecsInSlice(buf []float64, first, last idx.Indices) int {
	return v.copyVecs(buf, first, last, "SetVecsInSlice", func(dst, src []float64) { copy(dst, src) }, false)
}

func (v *Var) copyVecs(buf []float64, first, last idx.Indices, op string,
	cp func(dst, src []float64), varToBuf bool) int {
	lens := v.sliceSpan(first, last, op)
	for i, di := range v.di {
		if di.kind != DomainDim {
			continue
		}
		if lens[i]%v.fold[i] != 0 {
			errs.Throwf(errs.DimMismatch, "var %q: %s: length %d not a fold multiple in %q",
				v.name, op, lens[i], di.name)
		}
	}
	n := lens.Product()
	if len(buf) < n {
		errs.Throwf(errs.IndexOutOfRange, "var %q: %s: buffer of %d elements < %d needed", v.name, op, len(buf), n)
	}
	// The innermost var dim is contiguous in storage, so copy whole runs.
	inner := len(v.di) - 1
	runLen := lens[inner]
	outerLens := lens.Clone()
	outerLens[inner] = 1
	pt := first.Clone()
	nRuns := n / runLen
	for run := 0; run < nRuns; run++ {
		ofs, _ := v.Offset(pt)
		if varToBuf {
			cp(buf[run*runLen:(run+1)*runLen], v.data[ofs:ofs+runLen])
		} else {
			cp(v.data[ofs:ofs+runLen], buf[run*runLen:(run+1)*runLen])
		}
		for i := inner - 1; i >= 0; i-- {
			pt[i]++
			if pt[i] < first[i]+outerLens[i] {
				break
			}
			pt[i] = first[i]
		}
	}
	return n
}

// CopyElementsInSlice copies the inclusive box [first, last] from another
// var with the same dim list. Both boxes are interpreted in global indices.
func (v *Var) CopyElementsInSlice(source *Var, first, last idx.Indices) int {
	if len(v.di) != len(source.di) {
		errs.Throwf(errs.DimMismatch, "CopyElementsInSlice: %q and %q have different dim counts",
			v.name, source.name)
	}
	for i := range v.di {
		if v.di[i].name != source.di[i].name {
			errs.Throwf(errs.DimMismatch, "CopyElementsInSlice: %q and %q differ in dim %d",
				v.name, source.name, i)
		}
	}
	lens := v.sliceSpan(first, last, "CopyElementsInSlice")
	buf := make([]float64, lens.Product())
	source.GetElementsInSlice(buf, first, last)
	return v.SetElementsInSlice(buf, first, last)
}
