// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/vars"
)

// Flags select which parts of an overlapped exchange to drive. After an
// exterior pass, Left and Right post receives and pack/send; after the
// interior pass, Interior waits, unpacks, and finishes sends. A
// non-overlapped exchange sets all three and runs the full protocol.
type Flags struct {
	Left, Right, Interior bool
}

// AllFlags runs the complete protocol in one call.
var AllFlags = Flags{Left: true, Right: true, Interior: true}

// swapEntry is one var due for exchange with its dirty step range.
type swapEntry struct {
	vd        *varData
	firstStep int
	lastStep  int
}

// varsToSwap collects dirty vars ordered by name so all ranks agree on
// the exchange order and tags.
func (x *Exchange) varsToSwap() []swapEntry {
	var out []swapEntry
	for _, name := range x.names {
		vd := x.data[name]
		v := vd.v
		startT, stopT := 0, 1
		if v.StepPosn() >= 0 {
			startT = v.FirstValidStepIndex()
			stopT = v.LastValidStepIndex() + 1
		}
		first, last := 0, -1
		for t := startT; t < stopT; t++ {
			if !v.IsDirty(t) {
				continue
			}
			if last < first {
				first, last = t, t
			} else {
				first = min(first, t)
				last = max(last, t)
			}
		}
		if last < first {
			continue
		}
		out = append(out, swapEntry{vd: vd, firstStep: first, lastStep: last})
	}
	return out
}

// Run drives the exchange protocol per the flags. It is called by the
// scheduler between (region, pack) evaluations and once before the step
// loop begins.
func (x *Exchange) Run(flags Flags) {
	if x.env.NumRanks() < 2 {
		return
	}
	toSwap := x.varsToSwap()
	if len(toSwap) == 0 {
		return
	}

	type haloStep int
	const (
		haloIrecv haloStep = iota
		haloPackIsend
		haloUnpack
		haloFinal
	)
	var steps []haloStep
	if flags.Left || flags.Right {
		steps = append(steps, haloIrecv, haloPackIsend)
	}
	if flags.Interior {
		steps = append(steps, haloUnpack, haloFinal)
	}

	for _, step := range steps {
		for gi, entry := range toSwap {
			tag := gi + 1 // deterministic per-exchange tag from name order.
			vd := entry.vd
			v := vd.v
			x.info.VisitNeighbors(func(_ idx.Indices, neighRank, ni int) {
				if neighRank == NoRank {
					return
				}
				sendBuf := &vd.bufs[ni].Send
				recvBuf := &vd.bufs[ni].Recv
				// A buffer placed in a shm window carries its lock;
				// everything else moves through the transport.
				usingShm := sendBuf.lock != nil || recvBuf.lock != nil

				switch step {
				case haloIrecv:
					if recvBuf.Size() == 0 || usingShm {
						return
					}
					_, _, n := recvBuf.copyWindow(v, entry.firstStep, entry.lastStep)
					vd.recvReqs[ni] = x.env.Transport().Irecv(neighRank, tag, recvBuf.data[:n])

				case haloPackIsend:
					if sendBuf.Size() == 0 {
						return
					}
					first, last, n := sendBuf.copyWindow(v, entry.firstStep, entry.lastStep)
					if usingShm {
						sendBuf.lock.WaitForOkToWrite(x.Poke)
					}
					if sendBuf.VecCopyOK {
						v.GetVecsInSlice(sendBuf.data[:n], first, last)
					} else {
						v.GetElementsInSlice(sendBuf.data[:n], first, last)
					}
					if usingShm {
						sendBuf.lock.MarkWriteDone()
					} else {
						vd.sendReqs[ni] = x.env.Transport().Isend(neighRank, tag, sendBuf.data[:n])
					}

				case haloUnpack:
					if recvBuf.Size() == 0 {
						return
					}
					first, last, n := recvBuf.copyWindow(v, entry.firstStep, entry.lastStep)
					if usingShm {
						recvBuf.lock.WaitForOkToRead(x.Poke)
					} else if req := vd.recvReqs[ni]; req != nil {
						req.Wait()
						vd.recvReqs[ni] = nil
					}
					if recvBuf.VecCopyOK {
						v.SetVecsInSlice(recvBuf.data[:n], first, last)
					} else {
						v.SetElementsInSlice(recvBuf.data[:n], first, last)
					}
					if usingShm {
						recvBuf.lock.MarkReadDone()
					}

				case haloFinal:
					if sendBuf.Size() > 0 && !usingShm {
						if req := vd.sendReqs[ni]; req != nil {
							req.Wait()
							vd.sendReqs[ni] = nil
						}
					}
				}
			})

			// Mark the swapped steps clean once sends have finished.
			if step == haloFinal {
				for t := entry.firstStep; t <= entry.lastStep; t++ {
					if v.IsDirty(t) {
						v.SetDirty(false, t)
						klog.V(3).Infof("var %q marked clean at step %d", v.Name(), t)
					}
				}
			}
		}
	}
}

// Poke progresses outstanding transport requests; the scheduler calls it
// from thread 0 of interior-only mini-block passes, and the shm locks
// call it while spinning.
func (x *Exchange) Poke() {
	for _, name := range x.names {
		vd := x.data[name]
		for ni := range vd.recvReqs {
			if req := vd.recvReqs[ni]; req != nil {
				req.Test()
			}
			if req := vd.sendReqs[ni]; req != nil {
				req.Test()
			}
		}
	}
}

// HasBufs reports whether any exchange buffer exists for the var; vars
// without buffers never need swapping.
func (x *Exchange) HasBufs(v *vars.Var) bool {
	_, ok := x.data[v.Name()]
	return ok
}

// SendRecvSymmetry returns, per (var, neighbor-index), the element counts
// this rank plans to send and receive; the tests check that they mirror
// the peers' plans.
func (x *Exchange) SendRecvSymmetry() map[string][][2]int {
	out := make(map[string][][2]int)
	for _, name := range x.names {
		vd := x.data[name]
		counts := make([][2]int, x.info.Size)
		for ni := range vd.bufs {
			counts[ni] = [2]int{vd.bufs[ni].Send.Size(), vd.bufs[ni].Recv.Size()}
		}
		out[name] = counts
	}
	return out
}
