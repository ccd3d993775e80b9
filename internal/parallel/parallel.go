// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package parallel implements the two-level fork-join model of the tile
// scheduler: an outer level of "region threads" that own blocks, and an
// inner level of "block threads" that own mini-blocks. The two levels
// compose into a flat thread id in [0, regionThreads*blockThreads), which
// is what scratch-var indexing and thread binding key on.
package parallel

import (
	"runtime"
	"sync"

	"github.com/gomlx/exceptions"
)

// Pool carries the thread counts of the two nesting levels.
//
// With blockThreads == 1 the inner level is collapsed and block work runs
// inline on the region thread.
type Pool struct {
	regionThreads int
	blockThreads  int
}

// New returns a pool with the given level widths. Zero or negative counts
// default to NumCPU for the outer level and 1 for the inner level.
func New(regionThreads, blockThreads int) *Pool {
	if regionThreads <= 0 {
		regionThreads = runtime.NumCPU()
	}
	if blockThreads <= 0 {
		blockThreads = 1
	}
	return &Pool{regionThreads: regionThreads, blockThreads: blockThreads}
}

// RegionThreads returns the width of the outer level.
func (p *Pool) RegionThreads() int { return p.regionThreads }

// BlockThreads returns the width of the inner level.
func (p *Pool) BlockThreads() int { return p.blockThreads }

// NumThreads returns the flat thread count regionThreads*blockThreads.
func (p *Pool) NumThreads() int { return p.regionThreads * p.blockThreads }

// FlatThreadID combines a region-thread and block-thread index.
func (p *Pool) FlatThreadID(regionThread, blockThread int) int {
	return regionThread*p.blockThreads + blockThread
}

// RunRegions runs fn once per region thread concurrently and waits for
// all of them.
func (p *Pool) RunRegions(fn func(regionThread int)) {
	if p.regionThreads == 1 {
		fn(0)
		return
	}
	var wg sync.WaitGroup
	wg.Add(p.regionThreads)
	for rt := 0; rt < p.regionThreads; rt++ {
		go func(rt int) {
			defer wg.Done()
			fn(rt)
		}(rt)
	}
	wg.Wait()
}

// RunBlocks runs fn once per block thread and waits. When the inner level
// is collapsed it runs inline.
func (p *Pool) RunBlocks(fn func(blockThread int)) {
	if p.blockThreads == 1 {
		fn(0)
		return
	}
	var wg sync.WaitGroup
	wg.Add(p.blockThreads)
	for bt := 0; bt < p.blockThreads; bt++ {
		go func(bt int) {
			defer wg.Done()
			fn(bt)
		}(bt)
	}
	wg.Wait()
}

// For distributes the index sequence begin, begin+stride, ... (up to but
// excluding end) across the region threads, calling
// visitor(start, stop, regionThread) with one contiguous span per index.
// It matches the flat-iteration contract of the region loops: spans are
// assigned round-robin so thread assignment is deterministic.
func (p *Pool) For(begin, end, stride int, visitor func(start, stop, regionThread int)) {
	if stride <= 0 {
		exceptions.Panicf("parallel.For: stride must be positive, got %d", stride)
	}
	if end <= begin {
		return
	}
	n := (end - begin + stride - 1) / stride
	p.RunRegions(func(rt int) {
		for i := rt; i < n; i += p.regionThreads {
			start := begin + i*stride
			stop := min(start+stride, end)
			visitor(start, stop, rt)
		}
	})
}

// Barrier is a reusable barrier for the region threads; it separates the
// phases of a temporal-blocking tessellation.
type Barrier struct {
	mu    sync.Mutex
	cond  *sync.Cond
	n     int
	count int
	gen   int
}

// NewBarrier returns a barrier for n participants.
func NewBarrier(n int) *Barrier {
	b := &Barrier{n: n}
	b.cond = sync.NewCond(&b.mu)
	return b
}

// Wait blocks until all n participants have called Wait, then releases
// them together. The barrier is immediately reusable.
func (b *Barrier) Wait() {
	b.mu.Lock()
	defer b.mu.Unlock()
	gen := b.gen
	b.count++
	if b.count == b.n {
		b.count = 0
		b.gen++
		b.cond.Broadcast()
		return
	}
	for gen == b.gen {
		b.cond.Wait()
	}
}
