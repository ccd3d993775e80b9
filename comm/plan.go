// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package comm

import (
	"fmt"
	"sort"
	"unsafe"

	"github.com/dustin/go-humanize"
	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/bbox"
	"github.com/opesci/yask/types/idx"
	"github.com/opesci/yask/types/xsync"
	"github.com/opesci/yask/vars"
)

// lockPadElems is the number of elements reserved in front of every
// shared-memory buffer for its lock word; one cache line.
const lockPadElems = 8

// cacheLineElems rounds buffer offsets within pools and windows.
const cacheLineElems = 8

// Buf is one send or receive buffer between this rank and a neighbor for
// one var.
type Buf struct {
	Name string

	// BeginPt and LastPt bound the copy window in element coordinates
	// of the owning var (inclusive). The step-dim entries are
	// placeholders; actual first/last steps are filled per exchange.
	BeginPt, LastPt idx.Indices

	// NumPts is the per-dim size of the copy window.
	NumPts idx.Indices

	// VecCopyOK permits fold-aligned vector moves for pack/unpack.
	VecCopyOK bool

	data []float64
	lock *xsync.SpinLock // non-nil when the buffer lives in a shm window.
}

// Size returns the max number of elements the buffer can carry.
func (b *Buf) Size() int {
	if len(b.NumPts) == 0 {
		return 0
	}
	return b.NumPts.Product()
}

// copyWindow returns the inclusive copy bounds with the step dim narrowed
// to [firstStep, lastStep], and the number of elements in that window.
func (b *Buf) copyWindow(v *vars.Var, firstStep, lastStep int) (first, last idx.Indices, n int) {
	first = b.BeginPt.Clone()
	last = b.LastPt.Clone()
	n = 1
	for i, name := range v.DimNames() {
		if name == v.Dims().StepDim {
			first[i] = firstStep
			last[i] = lastStep
		}
		n *= last[i] - first[i] + 1
	}
	return
}

// Bufs is the send/receive pair for one neighbor of one var.
type Bufs struct {
	Send, Recv Buf
}

// varData is the exchange state for one var: buffers and request handles
// for every neighbor.
type varData struct {
	v        *vars.Var
	bufs     []Bufs // per neighbor index.
	recvReqs []Request
	sendReqs []Request
}

// PlanParams is what the scheduler knows that buffer planning needs.
type PlanParams struct {
	Dims *vars.Dims
	// Vars are the exchangeable (non-scratch) vars, ordered by name.
	Vars []*vars.Var

	NumRanks    idx.Indices // rank-grid shape per domain dim.
	RankIndices idx.Indices // this rank's grid coordinates.

	// WfShiftPts extends every copy window when wavefronts are active.
	WfShiftPts idx.Indices
	WfActive   bool

	OverlapComms     bool
	UseShm           bool
	MinExterior      int
	AllowVecExchange bool

	// ExtBB is the wavefront-extended rank box; the MPI-interior box is
	// carved out of it.
	ExtBB bbox.BB

	// AllocFn provides pool storage for non-shm buffers; nil uses the
	// Go heap.
	AllocFn func(elems int) []float64
}

// Exchange owns all halo-exchange state for one rank.
type Exchange struct {
	env  *Env
	info *Info
	p    PlanParams

	// names orders vars identically on every rank.
	names []string
	data  map[string]*varData

	// Interior is the rank's MPI-interior box; Valid only when overlap
	// is active on a multi-rank fabric.
	Interior bbox.BB
}

// NewExchange plans all exchange buffers, allocates them, publishes the
// shared-memory window, and shares send-buffer offsets. Collective.
func NewExchange(env *Env, info *Info, p PlanParams) *Exchange {
	x := &Exchange{env: env, info: info, p: p, data: make(map[string]*varData)}
	x.Interior = bbox.New(p.ExtBB.Begin, p.ExtBB.End)
	x.Interior.Valid = false
	if env.NumRanks() < 2 {
		return x
	}
	x.plan()
	x.allocate()
	if env.NumRanks() > 1 && p.OverlapComms {
		x.Interior.Update(true, nil, nil, nil)
	}
	return x
}

func (x *Exchange) isFirstRank(j int) bool { return x.p.RankIndices[j] == 0 }
func (x *Exchange) isLastRank(j int) bool  { return x.p.RankIndices[j] == x.p.NumRanks[j]-1 }

// plan determines the size and shape of all buffers, and carves the
// MPI-interior box out of the extended rank box.
func (x *Exchange) plan() {
	p := &x.p
	dims := p.Dims
	me := x.env.RankIndex()
	myVecOK := x.info.HasAllVlenMults[x.info.MyIndex]

	x.info.VisitNeighbors(func(neighOfs idx.Indices, neighRank, ni int) {
		if neighRank == NoRank {
			return
		}
		vecOK := p.AllowVecExchange && myVecOK && x.info.HasAllVlenMults[ni]

		for _, v := range p.Vars {
			varVecOK := vecOK

			// Exchange distance for this var; wavefronts may need
			// edge and corner neighbors regardless of the stencil.
			maxDist := v.HaloExchangeL1Norm()
			if p.WfActive {
				maxDist = dims.NumDomainDims()
			}
			if x.info.ManDists[ni] > maxDist {
				continue
			}

			// First/last owned and outer indices per domain dim of
			// this var, and the halo widths of the exchange.
			type dimPlan struct {
				posn                 int // var-local posn.
				j                    int // domain posn.
				firstInner, lastInner int
				firstOuter, lastOuter int
				myHalo, neighHalo    int
			}
			var dplans []dimPlan
			foundDelta := false
			for j, dname := range dims.DomainDims {
				posn := v.DimPosn(dname)
				if posn < 0 {
					continue
				}
				vlen := dims.FoldPts[j]
				lhalo := v.LeftHaloSize(dname)
				rhalo := v.RightHaloSize(dname)
				dp := dimPlan{posn: posn, j: j}
				dp.firstInner = v.FirstRankDomainIndex(dname)
				dp.lastInner = v.LastRankDomainIndex(dname)
				dp.firstOuter = dp.firstInner
				dp.lastOuter = dp.lastInner
				// At domain edges, extend the outer range into the
				// halo so wavefront extensions stay in sync.
				if x.isFirstRank(j) {
					dp.firstOuter -= lhalo
				}
				if x.isLastRank(j) {
					dp.lastOuter += rhalo
				}
				// Vector exchange also needs the outer range to
				// round to vectors inside the allocation.
				fidx := idx.RoundDown(dp.firstOuter, vlen)
				lidx := idx.RoundUp(dp.lastOuter+1, vlen) - 1
				if fidx < v.FirstRankAllocIndex(dname) || lidx > v.LastRankAllocIndex(dname) {
					varVecOK = false
				}

				ext := p.WfShiftPts[j]
				switch neighOfs[j] {
				case RankPrev:
					dp.myHalo = lhalo + ext
					dp.neighHalo = rhalo + ext
					foundDelta = true
				case RankNext:
					dp.myHalo = rhalo + ext
					dp.neighHalo = lhalo + ext
					foundDelta = true
				}
				dplans = append(dplans, dp)
			}
			// No buffer when the neighbor direction does not touch
			// any dim of this var.
			if !foundDelta {
				continue
			}
			if varVecOK {
				for di := range dplans {
					dp := &dplans[di]
					vlen := dims.FoldPts[dp.j]
					dp.firstOuter = idx.RoundDown(dp.firstOuter, vlen)
					dp.lastOuter = idx.RoundUp(dp.lastOuter+1, vlen) - 1
					dp.myHalo = idx.RoundUp(dp.myHalo, vlen)
					dp.neighHalo = idx.RoundUp(dp.neighHalo, vlen)
				}
			}

			vd := x.varDataFor(v)
			for _, isSend := range []bool{true, false} {
				nd := v.NumDims()
				copyBegin := make(idx.Indices, nd)
				copyEnd := make(idx.Indices, nd)
				numPts := make(idx.Indices, nd)
				bufVecOK := varVecOK

				for _, dp := range dplans {
					copyBegin[dp.posn] = dp.firstOuter
					copyEnd[dp.posn] = dp.lastOuter + 1
					switch neighOfs[dp.j] {
					case RankPrev:
						if isSend {
							// Inside my domain, as wide as the neighbor's halo.
							copyBegin[dp.posn] = dp.firstInner
							copyEnd[dp.posn] = dp.firstInner + dp.neighHalo
							extEnd := idx.RoundUp(dp.firstInner+max(p.MinExterior, dp.neighHalo), dims.FoldPts[dp.j])
							x.Interior.Begin[dp.j] = max(x.Interior.Begin[dp.j], extEnd)
						} else {
							// Into my left halo.
							copyBegin[dp.posn] = dp.firstInner - dp.myHalo
							copyEnd[dp.posn] = dp.firstInner
						}
					case RankNext:
						if isSend {
							copyBegin[dp.posn] = dp.lastInner + 1 - dp.neighHalo
							copyEnd[dp.posn] = dp.lastInner + 1
							extBegin := idx.RoundDown(dp.lastInner+1-max(p.MinExterior, dp.neighHalo), dims.FoldPts[dp.j])
							x.Interior.End[dp.j] = min(x.Interior.End[dp.j], extBegin)
						} else {
							copyBegin[dp.posn] = dp.lastInner + 1
							copyEnd[dp.posn] = dp.lastInner + 1 + dp.myHalo
						}
					}
				}

				// Fill non-domain dims and check vector eligibility.
				for i, name := range v.DimNames() {
					switch v.DimKindAt(i) {
					case vars.DomainDim:
						numPts[i] = copyEnd[i] - copyBegin[i]
						j := v.DomainDimPosn(i)
						vlen := dims.FoldPts[j]
						if numPts[i]%vlen != 0 || idx.ModFlr(copyBegin[i], vlen) != 0 {
							bufVecOK = false
						}
					case vars.StepDim:
						// Placeholder range over the whole step
						// allocation; actual steps are set per exchange.
						numPts[i] = v.AllocSize(name)
						copyBegin[i] = 0
						copyEnd[i] = numPts[i]
					default:
						numPts[i] = v.AllocSize(name)
						copyBegin[i] = v.FirstMiscIndex(name)
						copyEnd[i] = copyBegin[i] + numPts[i]
					}
				}
				if numPts.Product() == 0 {
					continue
				}

				buf := &vd.bufs[ni].Recv
				bname := fmt.Sprintf("%s_recv_halo_from_%d_to_%d", v.Name(), neighRank, me)
				if isSend {
					buf = &vd.bufs[ni].Send
					bname = fmt.Sprintf("%s_send_halo_from_%d_to_%d", v.Name(), me, neighRank)
				}
				buf.Name = bname
				buf.BeginPt = copyBegin
				buf.LastPt = copyEnd.AddConst(-1)
				buf.NumPts = numPts
				buf.VecCopyOK = bufVecOK
				klog.V(2).Infof("planned MPI buffer %q: %d element(s), vec-copy %v",
					bname, buf.Size(), bufVecOK)
			}
		}
	})
}

func (x *Exchange) varDataFor(v *vars.Var) *varData {
	vd, ok := x.data[v.Name()]
	if !ok {
		vd = &varData{
			v:        v,
			bufs:     make([]Bufs, x.info.Size),
			recvReqs: make([]Request, x.info.Size),
			sendReqs: make([]Request, x.info.Size),
		}
		x.data[v.Name()] = vd
		x.names = append(x.names, v.Name())
		sort.Strings(x.names)
	}
	return vd
}

// allocate hands out storage: shm send buffers are packed into one window
// per rank with a lock word in front of each; everything else comes from
// the non-shm pool. Send-buffer offsets are then shared so each receiver
// can locate its peer's send buffer inside the peer's window. Collective.
func (x *Exchange) allocate() {
	t := x.env.Transport()
	me := x.env.RankIndex()
	myShm := t.ShmRank(me)
	numShm := t.NumShmRanks()

	usingShm := func(ni int) bool {
		return x.p.UseShm && myShm >= 0 && x.info.ShmRanks[ni] != NoRank
	}

	// Pass 0: size the shm window and the local pool.
	windowElems, poolElems := 0, 0
	type shmOfs struct {
		vd  *varData
		ni  int
		ofs int
	}
	var shmBufs []shmOfs
	// Offset tables per var: [sending shm rank][receiving shm rank].
	tables := make(map[string][][]int)
	for _, name := range x.names {
		vd := x.data[name]
		table := make([][]int, numShm)
		for r := range table {
			table[r] = make([]int, numShm)
		}
		tables[name] = table
		x.info.VisitNeighbors(func(_ idx.Indices, rank, ni int) {
			if rank == NoRank {
				return
			}
			sb := &vd.bufs[ni].Send
			rb := &vd.bufs[ni].Recv
			if usingShm(ni) {
				if sb.Size() > 0 {
					shmBufs = append(shmBufs, shmOfs{vd: vd, ni: ni, ofs: windowElems})
					table[myShm][x.info.ShmRanks[ni]] = windowElems
					windowElems += idx.RoundUp(lockPadElems+sb.Size(), cacheLineElems)
				}
				// The matching recv buffer is the peer's send buffer;
				// no local storage.
			} else {
				if sb.Size() > 0 {
					poolElems += idx.RoundUp(sb.Size(), cacheLineElems)
				}
				if rb.Size() > 0 {
					poolElems += idx.RoundUp(rb.Size(), cacheLineElems)
				}
			}
		})
	}

	// Pass 1: allocate and distribute.
	var pool []float64
	if poolElems > 0 {
		if x.p.AllocFn != nil {
			pool = x.p.AllocFn(poolElems)
		} else {
			pool = make([]float64, poolElems)
		}
		klog.V(1).Infof("allocated %s for MPI buffers", humanize.IBytes(uint64(poolElems*vars.ElemBytes)))
	}
	poolOfs := 0
	for _, name := range x.names {
		vd := x.data[name]
		x.info.VisitNeighbors(func(_ idx.Indices, rank, ni int) {
			if rank == NoRank || usingShm(ni) {
				return
			}
			for _, b := range []*Buf{&vd.bufs[ni].Send, &vd.bufs[ni].Recv} {
				if b.Size() == 0 {
					continue
				}
				b.data = pool[poolOfs : poolOfs+b.Size()]
				poolOfs += idx.RoundUp(b.Size(), cacheLineElems)
			}
		})
	}

	window := make([]float64, windowElems)
	for _, sb := range shmBufs {
		buf := &sb.vd.bufs[sb.ni].Send
		buf.lock = (*xsync.SpinLock)(unsafe.Pointer(&window[sb.ofs]))
		buf.lock.Init()
		buf.data = window[sb.ofs+lockPadElems : sb.ofs+lockPadElems+buf.Size()]
		// Sentinels checked by the receiving rank below.
		buf.data[0] = float64(me)
		buf.data[buf.Size()-1] = float64(me)
	}
	t.ShmPublish(window)

	// Share each rank's offset table row so receivers can find their
	// peers' send buffers.
	for _, name := range x.names {
		table := tables[name]
		for r := 0; r < numShm; r++ {
			t.Bcast(r, table[r])
		}
	}

	// Pass 2: point recv buffers of shm neighbors into peer windows.
	for _, name := range x.names {
		vd := x.data[name]
		table := tables[name]
		x.info.VisitNeighbors(func(_ idx.Indices, rank, ni int) {
			if rank == NoRank || !usingShm(ni) {
				return
			}
			rb := &vd.bufs[ni].Recv
			if rb.Size() == 0 {
				return
			}
			peerShm := x.info.ShmRanks[ni]
			peerWin := t.ShmWindow(rank)
			ofs := table[peerShm][myShm]
			rb.lock = (*xsync.SpinLock)(unsafe.Pointer(&peerWin[ofs]))
			rb.data = peerWin[ofs+lockPadElems : ofs+lockPadElems+rb.Size()]
			if rb.data[0] != float64(rank) || rb.data[rb.Size()-1] != float64(rank) {
				klog.Warningf("shm sentinel mismatch for buffer %q from rank %d", rb.Name, rank)
			}
		})
	}
	t.Barrier()
}
