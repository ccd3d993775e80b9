// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package alloc plans and carves the memory pools backing vars, exchange
// buffers, and scratch vars.
//
// Planning is multi-pass per memory key: first vars that overflow the
// preferred NUMA budget are reassigned to a PMEM device key, then byte
// totals are summed per key and one contiguous block is allocated per
// key, then offsets within each block are handed out. Every allocation is
// rounded up to a cache line plus a pad at least the size of a
// shared-memory lock record.
package alloc

import (
	"unsafe"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Memory keys beyond the NUMA sentinels in package vars. They are part of
// the public contract because they appear as parameter values.
const (
	// ShmKey selects the MPI shared-memory window.
	ShmKey = 1000
	// PmemKeyBase plus a device index selects a PMEM device.
	PmemKeyBase = 2000
)

const (
	cacheLineBytes = 64
	// bufPadBytes separates consecutive allocations inside a block; it
	// is at least the size of a shm lock record.
	bufPadBytes = cacheLineBytes
)

// Allocator owns the pool blocks of one rank.
type Allocator struct {
	// NumaPrefMax is the GiB budget on the preferred key before vars
	// overflow to PMEM (when a PMEM directory is configured).
	NumaPrefMax int
	// PmemDir is the mount point of PMEM devices; empty disables the
	// overflow pass.
	PmemDir string

	// blocks pins every allocated pool for the allocator's lifetime.
	blocks map[int][]float64
}

// New returns an allocator with the given PMEM overflow budget in GiB.
func New(numaPrefMax int, pmemDir string) *Allocator {
	return &Allocator{NumaPrefMax: numaPrefMax, PmemDir: pmemDir, blocks: make(map[int][]float64)}
}

// paddedElems rounds one allocation up to cache line + pad, in elements.
func paddedElems(bytes int) int {
	return idx.RoundUp(bytes+bufPadBytes, cacheLineBytes) / vars.ElemBytes
}

// PlanVars sizes and places storage for all the given vars that do not
// have storage yet. Vars are visited in the given order, so callers put
// output vars first to give them the best placement.
func (a *Allocator) PlanVars(list []*vars.Var) {
	// Pass 0: reassign overflow vars to PMEM when a budget is set.
	if a.PmemDir != "" && a.NumaPrefMax > 0 {
		budget := a.NumaPrefMax << 30
		running := make(map[int]int)
		for _, v := range list {
			if v.IsStorageAllocated() {
				continue
			}
			key := v.NumaPreferred()
			running[key] += paddedElems(v.StorageBytes()) * vars.ElemBytes
			if running[key] > budget {
				v.SetNumaPreferred(PmemKeyBase + currentNumaNode())
			}
		}
	}

	// Pass 1: totals per key, then one block per key.
	totals := make(map[int]int) // key -> elements.
	counts := make(map[int]int)
	for _, v := range list {
		if v.IsStorageAllocated() {
			continue
		}
		key := v.NumaPreferred()
		totals[key] += paddedElems(v.StorageBytes())
		counts[key]++
	}
	offsets := make(map[int]int)
	for key, elems := range totals {
		klog.V(1).Infof("allocating %s for %d var(s) with mem-key %d",
			humanize.IBytes(uint64(elems*vars.ElemBytes)), counts[key], key)
		a.blocks[key] = a.allocBlock(key, elems)
		offsets[key] = 0
	}

	// Pass 2: hand out offsets within each block.
	for _, v := range list {
		if v.IsStorageAllocated() {
			continue
		}
		key := v.NumaPreferred()
		n := paddedElems(v.StorageBytes())
		block := a.blocks[key]
		v.SetStorage(block[offsets[key] : offsets[key]+n])
		offsets[key] += n
	}
}

// AllocPool returns a raw pool of the given element count under the given
// memory key, for exchange buffers.
func (a *Allocator) AllocPool(key, elems int) []float64 {
	block := a.allocBlock(key, elems)
	return block
}

// allocBlock allocates one contiguous block for a memory key.
func (a *Allocator) allocBlock(key, elems int) []float64 {
	if elems == 0 {
		return nil
	}
	bytes := elems * vars.ElemBytes
	var raw []byte
	var err error
	switch {
	case key >= PmemKeyBase:
		raw, err = pmemMap(a.PmemDir, key-PmemKeyBase, bytes)
	default:
		// Local, interleaved, specific-node, and no-policy keys all
		// come from the same anonymous mapping; the policy is applied
		// as advice where the platform supports it.
		raw, err = anonMap(bytes, key)
	}
	if err != nil {
		errs.Throwf(errs.AllocationFailure, "mem-key %d: %v", key, err)
	}
	return floatView(raw)
}

// floatView reinterprets a byte block as elements.
func floatView(raw []byte) []float64 {
	if len(raw) == 0 {
		return nil
	}
	return unsafe.Slice((*float64)(unsafe.Pointer(&raw[0])), len(raw)/vars.ElemBytes)
}
