// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package xsync implements the synchronization primitives used by the
// halo-exchange engine.
package xsync

import (
	"runtime"
	"sync"
	"sync/atomic"
)

// SpinLock is a single-word read/write handoff lock for a shared-memory
// exchange buffer.
//
// The buffer alternates between two states: writable by its producer and
// readable by its consumer. The producer waits for the write flag, fills
// the buffer, then marks the write done, which makes the buffer readable.
// The consumer waits for the read flag, drains the buffer, then marks the
// read done, which makes the buffer writable again.
//
// Waits spin with a bounded backoff; a poke function may be supplied to
// make progress on other work (e.g. outstanding transport requests) while
// spinning.
type SpinLock struct {
	// state is 0 when the buffer is writable, 1 when readable.
	state atomic.Uint32
}

// Init resets the lock to the writable state.
func (l *SpinLock) Init() { l.state.Store(0) }

// OkToWrite reports whether the producer may fill the buffer.
func (l *SpinLock) OkToWrite() bool { return l.state.Load() == 0 }

// OkToRead reports whether the consumer may drain the buffer.
func (l *SpinLock) OkToRead() bool { return l.state.Load() == 1 }

// WaitForOkToWrite spins until the buffer is writable, calling poke
// periodically if non-nil.
func (l *SpinLock) WaitForOkToWrite(poke func()) {
	spinWait(l.OkToWrite, poke)
}

// WaitForOkToRead spins until the buffer is readable, calling poke
// periodically if non-nil.
func (l *SpinLock) WaitForOkToRead(poke func()) {
	spinWait(l.OkToRead, poke)
}

// MarkWriteDone publishes the buffer to the consumer.
func (l *SpinLock) MarkWriteDone() { l.state.Store(1) }

// MarkReadDone returns the buffer to the producer.
func (l *SpinLock) MarkReadDone() { l.state.Store(0) }

// spinBeforeYield is the number of busy iterations between scheduler yields.
const spinBeforeYield = 64

func spinWait(cond func() bool, poke func()) {
	for n := 0; !cond(); n++ {
		if n%spinBeforeYield == spinBeforeYield-1 {
			if poke != nil {
				poke()
			}
			runtime.Gosched()
		}
	}
}

// Latch is a one-shot signal that can be waited on. Once triggered it
// stays triggered.
type Latch struct {
	mu   sync.Mutex
	wait chan struct{}
}

// NewLatch returns an un-triggered latch.
func NewLatch() *Latch {
	return &Latch{wait: make(chan struct{})}
}

// Trigger fires the latch. Triggering more than once is a no-op.
func (l *Latch) Trigger() {
	l.mu.Lock()
	defer l.mu.Unlock()
	select {
	case <-l.wait:
	default:
		close(l.wait)
	}
}

// Wait blocks until the latch is triggered.
func (l *Latch) Wait() { <-l.wait }

// Test reports whether the latch has been triggered.
func (l *Latch) Test() bool {
	select {
	case <-l.wait:
		return true
	default:
		return false
	}
}
