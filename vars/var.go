// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package vars

import (
	"fmt"
	"strings"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
)

// NumaLocal, NumaInterleave and NumaNone are the NUMA-policy sentinels
// accepted wherever a NUMA node number is expected. Non-negative values
// name a specific node. They are part of the public contract.
const (
	NumaLocal      = -1
	NumaInterleave = -2
	NumaNone       = -9
)

// dimInfo is the per-dimension classification of a var.
type dimInfo struct {
	name  string
	kind  DimKind
	dposn int // position within Dims.DomainDims, or -1.
}

// Var is an n-dimensional storage object.
//
// Geometry slices are indexed by the var's own dimension order (the order
// given at creation), which is also the storage order, last dim fastest.
// Fields that only apply to one dim kind are zero elsewhere.
type Var struct {
	dims *Dims
	name string
	di   []dimInfo

	domainSize  idx.Indices
	leftHalo    idx.Indices
	rightHalo   idx.Indices
	reqLeftPad  idx.Indices // requested min pads; monotone non-decreasing.
	reqRightPad idx.Indices
	extraLeft   idx.Indices
	extraRight  idx.Indices
	leftWfExt   idx.Indices
	rightWfExt  idx.Indices
	leftPad     idx.Indices // actual pads, set at allocation.
	rightPad    idx.Indices

	allocSize idx.Indices // valid after storage allocation (or for step/misc dims, when set).
	rankOfs   idx.Indices
	localOfs  idx.Indices
	firstMisc idx.Indices
	fold      idx.Indices // fold length per var dim; 1 for non-domain dims.

	numaPref  int
	fixedSize bool
	scratch   bool
	stepWrap  bool

	// l1Norm is the max Manhattan distance of neighbors this var needs
	// halo exchanges with, as computed by the stencil compiler.
	l1Norm int

	data    []float64
	strides idx.Indices

	dirty      []bool // per step-slot; only for vars using the step dim.
	firstValid int
	lastValid  int
}

// New returns a var with the given dims; metadata only, no storage.
// Sizes default to zero and must be set before PrepareSolution.
func New(dims *Dims, name string, dimNames []string) *Var {
	v := &Var{dims: dims, name: name, numaPref: NumaLocal, firstValid: 0, lastValid: -1}
	seen := make(map[string]bool)
	for _, dn := range dimNames {
		kind, ok := dims.Kind(dn)
		if !ok {
			errs.Throwf(errs.ConfigError, "var %q uses unknown dim %q", name, dn)
		}
		if seen[dn] {
			errs.Throwf(errs.ConfigError, "var %q repeats dim %q", name, dn)
		}
		seen[dn] = true
		v.di = append(v.di, dimInfo{name: dn, kind: kind, dposn: dims.DomainPosn(dn)})
	}
	n := len(v.di)
	v.domainSize = make(idx.Indices, n)
	v.leftHalo = make(idx.Indices, n)
	v.rightHalo = make(idx.Indices, n)
	v.reqLeftPad = make(idx.Indices, n)
	v.reqRightPad = make(idx.Indices, n)
	v.extraLeft = make(idx.Indices, n)
	v.extraRight = make(idx.Indices, n)
	v.leftWfExt = make(idx.Indices, n)
	v.rightWfExt = make(idx.Indices, n)
	v.leftPad = make(idx.Indices, n)
	v.rightPad = make(idx.Indices, n)
	v.allocSize = make(idx.Indices, n)
	v.rankOfs = make(idx.Indices, n)
	v.localOfs = make(idx.Indices, n)
	v.firstMisc = make(idx.Indices, n)
	v.fold = make(idx.Indices, n)
	for i, di := range v.di {
		v.fold[i] = 1
		if di.kind == DomainDim {
			v.fold[i] = dims.FoldPts[di.dposn]
		}
		if di.kind == StepDim {
			v.allocSize[i] = 1
		}
		if di.kind == MiscDim {
			v.allocSize[i] = 1
		}
	}
	return v
}

// NewFixedSize returns a var whose sizes are fixed by the caller and
// ignore solution resizes. Fixed-size vars sit at rank offset 0 in every
// domain dim and have no halos unless set explicitly.
func NewFixedSize(dims *Dims, name string, dimNames []string, sizes idx.Indices) *Var {
	v := New(dims, name, dimNames)
	if len(sizes) != len(v.di) {
		errs.Throwf(errs.ConfigError, "var %q: %d sizes given for %d dims", name, len(sizes), len(v.di))
	}
	v.fixedSize = true
	for i, di := range v.di {
		switch di.kind {
		case DomainDim:
			v.domainSize[i] = sizes[i]
		default:
			v.allocSize[i] = sizes[i]
		}
	}
	return v
}

// Name returns the var's name.
func (v *Var) Name() string { return v.name }

// Dims returns the solution dims descriptor.
func (v *Var) Dims() *Dims { return v.dims }

// NumDims returns the number of dims in this var.
func (v *Var) NumDims() int { return len(v.di) }

// DimNames returns the var's dim names in storage order.
func (v *Var) DimNames() []string {
	out := make([]string, len(v.di))
	for i, di := range v.di {
		out[i] = di.name
	}
	return out
}

// DimPosn returns the var-local position of a dim name, or -1.
func (v *Var) DimPosn(name string) int {
	for i, di := range v.di {
		if di.name == name {
			return i
		}
	}
	return -1
}

// IsDimUsed reports whether the var has the named dim.
func (v *Var) IsDimUsed(name string) bool { return v.DimPosn(name) >= 0 }

// DimKindAt returns the kind of the dim at var-local posn.
func (v *Var) DimKindAt(posn int) DimKind { return v.di[posn].kind }

// DomainDimPosn returns the position within Dims.DomainDims of the var
// dim at posn, or -1 for non-domain dims.
func (v *Var) DomainDimPosn(posn int) int { return v.di[posn].dposn }

// StepPosn returns the var-local position of the step dim, or -1.
func (v *Var) StepPosn() int { return v.DimPosn(v.dims.StepDim) }

// IsFixedSize reports whether the var ignores solution resizes.
func (v *Var) IsFixedSize() bool { return v.fixedSize }

// IsScratch reports whether the var is a thread-local scratch var.
func (v *Var) IsScratch() bool { return v.scratch }

// SetScratch marks the var as scratch. Scratch vars are never exchanged
// and their local offsets track the current mini-block.
func (v *Var) SetScratch(scratch bool) { v.scratch = scratch }

// NumaPreferred returns the var's NUMA preference.
func (v *Var) NumaPreferred() int { return v.numaPref }

// SetNumaPreferred sets the NUMA preference; must precede allocation.
func (v *Var) SetNumaPreferred(numa int) {
	if v.IsStorageAllocated() {
		errs.Throwf(errs.PreparationError, "var %q: NUMA preference changed after storage allocation", v.name)
	}
	v.numaPref = numa
}

// SetStepWrap permits step indices to be taken modulo the step allocation.
func (v *Var) SetStepWrap(wrap bool) { v.stepWrap = wrap }

// HaloExchangeL1Norm returns the max Manhattan distance of neighbor ranks
// this var must exchange halos with.
func (v *Var) HaloExchangeL1Norm() int { return v.l1Norm }

// SetHaloExchangeL1Norm sets the exchange distance; stencil definitions
// call this for their input vars.
func (v *Var) SetHaloExchangeL1Norm(n int) { v.l1Norm = n }

func (v *Var) checkNoStorage(op string) {
	if v.IsStorageAllocated() {
		errs.Throwf(errs.PreparationError, "var %q: %s called after storage allocation", v.name, op)
	}
}

func (v *Var) domainPosnOf(name, op string) int {
	posn := v.DimPosn(name)
	if posn < 0 || v.di[posn].kind != DomainDim {
		errs.Throwf(errs.ConfigError, "var %q: %s: %q is not a domain dim of this var", v.name, op, name)
	}
	return posn
}

// SetDomainSize sets the rank-local domain size of a domain dim.
func (v *Var) SetDomainSize(name string, size int) {
	v.checkNoStorage("SetDomainSize")
	v.domainSize[v.domainPosnOf(name, "SetDomainSize")] = size
}

// DomainSize returns the rank-local domain size of a domain dim.
func (v *Var) DomainSize(name string) int {
	return v.domainSize[v.domainPosnOf(name, "DomainSize")]
}

// SetLeftHaloSize sets the left halo of a domain dim. A halo larger than
// the requested pad grows the pad.
func (v *Var) SetLeftHaloSize(name string, size int) {
	v.checkNoStorage("SetLeftHaloSize")
	posn := v.domainPosnOf(name, "SetLeftHaloSize")
	v.leftHalo[posn] = size
	v.reqLeftPad[posn] = max(v.reqLeftPad[posn], size)
}

// SetRightHaloSize sets the right halo of a domain dim.
func (v *Var) SetRightHaloSize(name string, size int) {
	v.checkNoStorage("SetRightHaloSize")
	posn := v.domainPosnOf(name, "SetRightHaloSize")
	v.rightHalo[posn] = size
	v.reqRightPad[posn] = max(v.reqRightPad[posn], size)
}

// LeftHaloSize returns the left halo of a domain dim.
func (v *Var) LeftHaloSize(name string) int {
	return v.leftHalo[v.domainPosnOf(name, "LeftHaloSize")]
}

// RightHaloSize returns the right halo of a domain dim.
func (v *Var) RightHaloSize(name string) int {
	return v.rightHalo[v.domainPosnOf(name, "RightHaloSize")]
}

// SetLeftMinPadSize requests a minimum left pad. Pads never shrink.
func (v *Var) SetLeftMinPadSize(name string, size int) {
	v.checkNoStorage("SetLeftMinPadSize")
	posn := v.domainPosnOf(name, "SetLeftMinPadSize")
	v.reqLeftPad[posn] = max(v.reqLeftPad[posn], size, v.leftHalo[posn])
}

// SetRightMinPadSize requests a minimum right pad. Pads never shrink.
func (v *Var) SetRightMinPadSize(name string, size int) {
	v.checkNoStorage("SetRightMinPadSize")
	posn := v.domainPosnOf(name, "SetRightMinPadSize")
	v.reqRightPad[posn] = max(v.reqRightPad[posn], size, v.rightHalo[posn])
}

// SetMinPadSize requests minimum pads on both sides.
func (v *Var) SetMinPadSize(name string, size int) {
	v.SetLeftMinPadSize(name, size)
	v.SetRightMinPadSize(name, size)
}

// SetExtraPadSize adds slack outside the halos on both sides.
func (v *Var) SetExtraPadSize(name string, left, right int) {
	v.checkNoStorage("SetExtraPadSize")
	posn := v.domainPosnOf(name, "SetExtraPadSize")
	v.extraLeft[posn] = max(v.extraLeft[posn], left)
	v.extraRight[posn] = max(v.extraRight[posn], right)
}

// LeftPadSize returns the actual left pad (valid once storage exists; the
// requested pad before that).
func (v *Var) LeftPadSize(name string) int {
	posn := v.domainPosnOf(name, "LeftPadSize")
	if v.IsStorageAllocated() {
		return v.leftPad[posn]
	}
	return v.reqLeftPad[posn]
}

// RightPadSize returns the actual right pad.
func (v *Var) RightPadSize(name string) int {
	posn := v.domainPosnOf(name, "RightPadSize")
	if v.IsStorageAllocated() {
		return v.rightPad[posn]
	}
	return v.reqRightPad[posn]
}

// SetLeftWfExt sets the left wavefront extension of a domain dim.
func (v *Var) SetLeftWfExt(name string, pts int) {
	v.checkNoStorage("SetLeftWfExt")
	v.leftWfExt[v.domainPosnOf(name, "SetLeftWfExt")] = pts
}

// SetRightWfExt sets the right wavefront extension of a domain dim.
func (v *Var) SetRightWfExt(name string, pts int) {
	v.checkNoStorage("SetRightWfExt")
	v.rightWfExt[v.domainPosnOf(name, "SetRightWfExt")] = pts
}

// SetAllocSize sets the allocation size of the step dim or a misc dim.
func (v *Var) SetAllocSize(name string, size int) {
	v.checkNoStorage("SetAllocSize")
	posn := v.DimPosn(name)
	if posn < 0 || v.di[posn].kind == DomainDim {
		errs.Throwf(errs.ConfigError, "var %q: SetAllocSize: %q must be the step dim or a misc dim", v.name, name)
	}
	if size < 1 {
		errs.Throwf(errs.ConfigError, "var %q: SetAllocSize: size %d < 1 in %q", v.name, size, name)
	}
	v.allocSize[posn] = size
}

// AllocSize returns the allocation size of any dim (valid for domain dims
// once storage exists).
func (v *Var) AllocSize(name string) int {
	posn := v.DimPosn(name)
	if posn < 0 {
		errs.Throwf(errs.ConfigError, "var %q: AllocSize: unknown dim %q", v.name, name)
	}
	return v.allocSize[posn]
}

// SetRankOffset sets the global offset of this rank's domain in a domain
// dim. Fixed-size vars keep offset zero.
func (v *Var) SetRankOffset(name string, ofs int) {
	if v.fixedSize {
		return
	}
	v.rankOfs[v.domainPosnOf(name, "SetRankOffset")] = ofs
}

// RankOffset returns the rank offset of a domain dim.
func (v *Var) RankOffset(name string) int {
	return v.rankOfs[v.domainPosnOf(name, "RankOffset")]
}

// SetLocalOffset sets the offset of the var's storage within the rank.
// Scratch vars use it to track the current mini-block; it must be a fold
// multiple so thread-local reuse stays aligned.
func (v *Var) SetLocalOffset(name string, ofs int) {
	posn := v.domainPosnOf(name, "SetLocalOffset")
	v.localOfs[posn] = idx.RoundDown(ofs, v.fold[posn])
}

// SetFirstMiscIndex sets the first valid index of a misc dim.
func (v *Var) SetFirstMiscIndex(name string, first int) {
	posn := v.DimPosn(name)
	if posn < 0 || v.di[posn].kind != MiscDim {
		errs.Throwf(errs.ConfigError, "var %q: SetFirstMiscIndex: %q is not a misc dim", v.name, name)
	}
	v.firstMisc[posn] = first
}

// FirstMiscIndex returns the first valid index of a misc dim.
func (v *Var) FirstMiscIndex(name string) int {
	posn := v.DimPosn(name)
	if posn < 0 || v.di[posn].kind != MiscDim {
		errs.Throwf(errs.ConfigError, "var %q: FirstMiscIndex: %q is not a misc dim", v.name, name)
	}
	return v.firstMisc[posn]
}

// LastMiscIndex returns the last valid index of a misc dim.
func (v *Var) LastMiscIndex(name string) int {
	return v.FirstMiscIndex(name) + v.AllocSize(name) - 1
}

// FirstRankDomainIndex returns the first owned index in a domain dim.
func (v *Var) FirstRankDomainIndex(name string) int {
	posn := v.domainPosnOf(name, "FirstRankDomainIndex")
	return v.rankOfs[posn] + v.localOfs[posn]
}

// LastRankDomainIndex returns the last owned index in a domain dim.
func (v *Var) LastRankDomainIndex(name string) int {
	posn := v.domainPosnOf(name, "LastRankDomainIndex")
	return v.rankOfs[posn] + v.localOfs[posn] + v.domainSize[posn] - 1
}

// FirstRankHaloIndex returns the first index of the left halo.
func (v *Var) FirstRankHaloIndex(name string) int {
	posn := v.domainPosnOf(name, "FirstRankHaloIndex")
	return v.FirstRankDomainIndex(name) - v.leftHalo[posn]
}

// LastRankHaloIndex returns the last index of the right halo.
func (v *Var) LastRankHaloIndex(name string) int {
	posn := v.domainPosnOf(name, "LastRankHaloIndex")
	return v.LastRankDomainIndex(name) + v.rightHalo[posn]
}

// FirstRankAllocIndex returns the first allocated index in a domain dim.
// Valid once storage exists.
func (v *Var) FirstRankAllocIndex(name string) int {
	posn := v.domainPosnOf(name, "FirstRankAllocIndex")
	return v.FirstRankDomainIndex(name) - v.leftPad[posn]
}

// LastRankAllocIndex returns the last allocated index in a domain dim.
func (v *Var) LastRankAllocIndex(name string) int {
	posn := v.domainPosnOf(name, "LastRankAllocIndex")
	return v.FirstRankAllocIndex(name) + v.allocSize[posn] - 1
}

// FirstValidStepIndex returns the first step index currently stored.
func (v *Var) FirstValidStepIndex() int { return v.firstValid }

// LastValidStepIndex returns the last step index currently stored.
func (v *Var) LastValidStepIndex() int { return v.lastValid }

// AllocStorage computes pads, rounds allocation sizes to vector multiples,
// and allocates zeroed storage from the Go heap. The allocator package
// places vars into planned pools instead via SetStorage; AllocStorage is
// the direct path used by the user API and tests.
func (v *Var) AllocStorage() {
	if v.IsStorageAllocated() {
		return
	}
	n := v.computeLayout()
	v.attachData(make([]float64, n))
}

// computeLayout finalizes pads, alloc sizes, and strides; returns the
// total number of elements needed.
func (v *Var) computeLayout() int {
	for i, di := range v.di {
		if di.kind != DomainDim {
			continue
		}
		fold := v.fold[i]
		// Left pad is rounded up to the fold so the first domain
		// element stays vector-aligned.
		v.leftPad[i] = idx.RoundUp(max(v.reqLeftPad[i], v.leftHalo[i]+v.leftWfExt[i])+v.extraLeft[i], fold)
		v.rightPad[i] = max(v.reqRightPad[i], v.rightHalo[i]+v.rightWfExt[i]) + v.extraRight[i]
		alloc := v.leftPad[i] + v.domainSize[i] + v.rightPad[i]
		// Allocation is rounded up to a whole number of vectors; the
		// slack lands in the right pad.
		ralloc := idx.RoundUp(alloc, fold)
		v.rightPad[i] += ralloc - alloc
		v.allocSize[i] = ralloc
		v.reqLeftPad[i] = v.leftPad[i]
		v.reqRightPad[i] = v.rightPad[i]
	}
	v.strides = make(idx.Indices, len(v.di))
	stride := 1
	for i := len(v.di) - 1; i >= 0; i-- {
		v.strides[i] = stride
		stride *= v.allocSize[i]
	}
	return stride
}

// StorageBytes returns the bytes needed for this var's storage, finalizing
// the layout if necessary.
func (v *Var) StorageBytes() int {
	if !v.IsStorageAllocated() {
		return v.computeLayout() * ElemBytes
	}
	return len(v.data) * ElemBytes
}

// SetStorage attaches externally allocated storage (from the memory
// planner). The slice must hold at least StorageBytes()/ElemBytes elements.
func (v *Var) SetStorage(data []float64) {
	n := v.computeLayout()
	if len(data) < n {
		errs.Throwf(errs.AllocationFailure, "var %q: storage of %d elements < required %d", v.name, len(data), n)
	}
	v.attachData(data[:n])
}

func (v *Var) attachData(data []float64) {
	v.data = data
	sp := v.StepPosn()
	if sp >= 0 {
		v.dirty = make([]bool, v.allocSize[sp])
		v.firstValid = 0
		v.lastValid = v.allocSize[sp] - 1
	}
}

// ReleaseStorage drops the storage reference.
func (v *Var) ReleaseStorage() {
	v.data = nil
	v.strides = nil
	v.dirty = nil
}

// IsStorageAllocated reports whether the var has storage.
func (v *Var) IsStorageAllocated() bool { return v.data != nil }

// Data returns the raw storage slice; compiled kernels index it directly
// with Offset and Strides.
func (v *Var) Data() []float64 { return v.data }

// Strides returns the per-dim element strides of the storage layout.
func (v *Var) Strides() idx.Indices { return v.strides }

// UpdateValidStep slides the valid step window to include t. The window
// is contiguous with length at most the step allocation, so writing a new
// step may evict the oldest one.
func (v *Var) UpdateValidStep(t int) {
	sp := v.StepPosn()
	if sp < 0 {
		return
	}
	depth := v.allocSize[sp]
	if v.lastValid < v.firstValid {
		v.firstValid, v.lastValid = t, t
		return
	}
	if t > v.lastValid {
		v.lastValid = t
		if v.lastValid-v.firstValid+1 > depth {
			v.firstValid = v.lastValid - depth + 1
		}
	} else if t < v.firstValid {
		v.firstValid = t
		if v.lastValid-v.firstValid+1 > depth {
			v.lastValid = v.firstValid + depth - 1
		}
	}
}

// SetDirty marks the step index dirty (in need of halo exchange) or clean.
func (v *Var) SetDirty(dirty bool, t int) {
	sp := v.StepPosn()
	if sp < 0 {
		if len(v.dirty) == 0 {
			v.dirty = make([]bool, 1)
		}
		v.dirty[0] = dirty
		return
	}
	v.dirty[idx.ModFlr(t, v.allocSize[sp])] = dirty
}

// IsDirty reports whether the step index is dirty.
func (v *Var) IsDirty(t int) bool {
	sp := v.StepPosn()
	if sp < 0 {
		return len(v.dirty) > 0 && v.dirty[0]
	}
	return v.dirty[idx.ModFlr(t, v.allocSize[sp])]
}

// FormatIndices renders a point as "name=val, ..." in the var's dim order.
func (v *Var) FormatIndices(pt idx.Indices) string {
	parts := make([]string, len(v.di))
	for i, di := range v.di {
		val := 0
		if i < len(pt) {
			val = pt[i]
		}
		parts[i] = fmt.Sprintf("%s=%d", di.name, val)
	}
	return strings.Join(parts, ", ")
}

// FuseVars makes v an alias of source's storage. Both vars must have
// identical dim lists and geometry; otherwise DimMismatch is raised.
func (v *Var) FuseVars(source *Var) {
	if !source.IsStorageAllocated() {
		errs.Throwf(errs.PreparationError, "FuseVars: source var %q has no storage", source.name)
	}
	if len(v.di) != len(source.di) {
		errs.Throwf(errs.DimMismatch, "FuseVars: %q has %d dims, %q has %d",
			v.name, len(v.di), source.name, len(source.di))
	}
	for i := range v.di {
		if v.di[i].name != source.di[i].name || v.fold[i] != source.fold[i] {
			errs.Throwf(errs.DimMismatch, "FuseVars: %q and %q differ in dim %d (%q fold %d vs %q fold %d)",
				v.name, source.name, i, v.di[i].name, v.fold[i], source.di[i].name, source.fold[i])
		}
	}
	// Adopt the source's geometry wholesale so indexing matches.
	v.domainSize = source.domainSize.Clone()
	v.leftHalo = source.leftHalo.Clone()
	v.rightHalo = source.rightHalo.Clone()
	v.reqLeftPad = source.reqLeftPad.Clone()
	v.reqRightPad = source.reqRightPad.Clone()
	v.leftPad = source.leftPad.Clone()
	v.rightPad = source.rightPad.Clone()
	v.allocSize = source.allocSize.Clone()
	v.rankOfs = source.rankOfs.Clone()
	v.localOfs = source.localOfs.Clone()
	v.firstMisc = source.firstMisc.Clone()
	v.strides = source.strides.Clone()
	v.data = source.data
	v.dirty = source.dirty
	v.firstValid = source.firstValid
	v.lastValid = source.lastValid
	v.fixedSize = source.fixedSize
}
