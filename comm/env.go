// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// Package comm provides the message-passing layer of the runtime: the
// rank environment, the transport abstraction, per-neighbor exchange
// buffers, and the halo-exchange engine.
//
// Between-rank work is message passing; the engine only sees the
// Transport interface. The built-in fabric transport connects ranks
// running as goroutines of one process through channels and a shared
// memory window, which is what the multi-rank tests run on; an MPI-backed
// transport can be substituted by embedders.
package comm

import (
	"github.com/google/uuid"

	"github.com/opesci/yask/types/errs"
)

// Request is an in-flight non-blocking send or receive.
type Request interface {
	// Test polls for completion without blocking.
	Test() bool
	// Wait blocks until the operation completes.
	Wait()
}

// Transport is the point-to-point and collective surface the runtime
// needs from its message-passing layer.
type Transport interface {
	NumRanks() int
	Rank() int

	// Isend posts a non-blocking send of buf to a peer. The buffer may
	// be reused once the returned request completes.
	Isend(to, tag int, buf []float64) Request
	// Irecv posts a non-blocking receive into buf from a peer.
	Irecv(from, tag int, buf []float64) Request

	// Barrier blocks until every rank has entered it.
	Barrier()
	// Allgather returns every rank's vals, indexed by rank. Collective.
	Allgather(vals []int) [][]int
	// Bcast overwrites vals with the root's copy. Collective.
	Bcast(root int, vals []int)

	// ShmRank returns the shared-memory rank of a peer, or -1 when the
	// peer is not reachable through shared memory.
	ShmRank(peer int) int
	// NumShmRanks returns the size of the shared-memory group.
	NumShmRanks() int
	// ShmPublish registers this rank's shared window. Collective.
	ShmPublish(window []float64)
	// ShmWindow returns a peer's published window.
	ShmWindow(peer int) []float64
}

// Env is one rank's handle to its environment.
type Env struct {
	transport Transport
	name      string
}

// NewEnv returns a single-rank environment with no remote peers.
func NewEnv() *Env {
	return NewFabric(1)[0]
}

// NewFabric builds an n-rank in-process fabric and returns one Env per
// rank. Each Env is meant to be driven by its own goroutine.
func NewFabric(n int) []*Env {
	if n < 1 {
		errs.Throwf(errs.ConfigError, "comm.NewFabric: need at least 1 rank, got %d", n)
	}
	name := "fabric-" + uuid.NewString()
	f := newFabric(n)
	envs := make([]*Env, n)
	for r := 0; r < n; r++ {
		envs[r] = &Env{transport: &fabricRank{fabric: f, rank: r}, name: name}
	}
	return envs
}

// NewEnvWith wraps an externally provided transport (e.g. an MPI binding).
func NewEnvWith(t Transport) *Env {
	return &Env{transport: t, name: "external-" + uuid.NewString()}
}

// Name identifies the fabric this env belongs to.
func (e *Env) Name() string { return e.name }

// NumRanks returns the world size.
func (e *Env) NumRanks() int { return e.transport.NumRanks() }

// RankIndex returns this rank's index in the world.
func (e *Env) RankIndex() int { return e.transport.Rank() }

// GlobalBarrier blocks until every rank reaches it.
func (e *Env) GlobalBarrier() { e.transport.Barrier() }

// Transport exposes the underlying transport to the exchange engine.
func (e *Env) Transport() Transport { return e.transport }

// AssertEqualityOverRanks verifies that every rank passes the same value;
// it raises ConfigError naming what differed. Collective.
func (e *Env) AssertEqualityOverRanks(val int, what string) {
	all := e.transport.Allgather([]int{val})
	for r, vs := range all {
		if vs[0] != val {
			errs.Throwf(errs.ConfigError,
				"%s differs across ranks: rank %d has %d, rank %d has %d",
				what, e.RankIndex(), val, r, vs[0])
		}
	}
}

// SumOverRanks returns the sum of val across all ranks. Collective.
func (e *Env) SumOverRanks(val int) int {
	total := 0
	for _, vs := range e.transport.Allgather([]int{val}) {
		total += vs[0]
	}
	return total
}
