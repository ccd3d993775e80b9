// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package bbox provides axis-aligned bounding boxes over domain indices
// and lists of non-overlapping boxes used to cover sub-domains.
package bbox

import (
	"fmt"

	"github.com/opesci/yask/types/idx"
)

// BB is a half-open axis-aligned box [Begin, End) in domain-dim order.
//
// NumPoints is the number of valid stencil points inside the box; for a
// solid box it equals Size. Update must be called after Begin/End change
// to refresh the derived fields.
type BB struct {
	Begin, End idx.Indices

	// Derived by Update.
	Len       idx.Indices
	Size      int
	NumPoints int
	IsFull    bool

	// IsAligned reports whether every begin edge is on a fold boundary
	// relative to the rank offset. IsClusterMult reports whether every
	// length is a cluster-length multiple.
	IsAligned     bool
	IsClusterMult bool

	Valid bool
}

// New returns a BB spanning [begin, end), updated as a solid box.
func New(begin, end idx.Indices) BB {
	b := BB{Begin: begin.Clone(), End: end.Clone()}
	b.Update(true, nil, nil, nil)
	return b
}

// Update refreshes the derived fields. If forceFull, NumPoints is set to
// Size. rankOfs, foldPts and clusterPts may be nil to skip the alignment
// checks (they remain true).
func (b *BB) Update(forceFull bool, rankOfs, foldPts, clusterPts idx.Indices) {
	b.Len = b.End.SubElems(b.Begin)
	b.Size = 1
	for _, l := range b.Len {
		if l < 0 {
			l = 0
		}
		b.Size *= l
	}
	if forceFull {
		b.NumPoints = b.Size
	}
	b.IsFull = b.NumPoints == b.Size

	b.IsAligned = true
	if foldPts != nil {
		for j := range b.Begin {
			ofs := 0
			if rankOfs != nil {
				ofs = rankOfs[j]
			}
			if idx.ModFlr(b.Begin[j]-ofs, foldPts[j]) != 0 {
				b.IsAligned = false
				break
			}
		}
	}
	b.IsClusterMult = true
	if clusterPts != nil {
		for j := range b.Len {
			if b.Len[j]%clusterPts[j] != 0 {
				b.IsClusterMult = false
				break
			}
		}
	}
	b.Valid = true
}

// Contains reports whether pt (domain dims) is inside the box.
func (b *BB) Contains(pt idx.Indices) bool {
	for j, p := range pt {
		if p < b.Begin[j] || p >= b.End[j] {
			return false
		}
	}
	return true
}

// Intersect returns the intersection of b and other as a solid box.
// The result may be empty (Size == 0).
func (b *BB) Intersect(other *BB) BB {
	out := BB{
		Begin: b.Begin.MaxElems(other.Begin),
		End:   b.End.MinElems(other.End),
	}
	for j := range out.Begin {
		if out.End[j] < out.Begin[j] {
			out.End[j] = out.Begin[j]
		}
	}
	out.Update(true, nil, nil, nil)
	return out
}

// String implements fmt.Stringer.
func (b *BB) String() string {
	return fmt.Sprintf("[%s ... %s)", b.Begin, b.End)
}

// List is a cover of a sub-domain by non-overlapping solid boxes.
type List []BB

// TotalPoints sums the sizes of all boxes.
func (l List) TotalPoints() int {
	n := 0
	for i := range l {
		n += l[i].Size
	}
	return n
}
