// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package engine

import (
	"k8s.io/klog/v2"

	"github.com/opesci/yask/types/idx"
)

// tunerMinSecs is the minimum measured time per trial; shorter samples
// are noise.
const tunerMinSecs = 0.05

// tunerMinSteps is the minimum steps per trial.
const tunerMinSteps = 1

// AutoTuner is the per-pack search policy for block (or mini-block)
// sizes. The scheduler only starts/stops its timer and adds steps; all
// search state lives here. A failed search disables further tuning, which
// is not an error.
type AutoTuner struct {
	ctx  *Context
	pack *Pack // nil for the whole-solution tuner.

	enabled bool
	verbose bool
	done    bool

	timer     timer
	trialTime float64
	steps     int

	radius    int
	bestRate  float64
	bestSizes idx.Indices // spatial sizes of the tuned level.
	trials    []idx.Indices
	trialNum  int
}

func (ctx *Context) initTuners() {
	ctx.globalTuner = nil
	for _, p := range ctx.Packs {
		p.tuner = nil
		p.settings = ctx.Opts
	}
	if !ctx.Opts.DoAutoTune {
		return
	}
	if ctx.UsePackTuners {
		for _, p := range ctx.Packs {
			p.settings = ctx.Opts.Clone()
			p.tuner = newAutoTuner(ctx, p)
		}
	} else {
		ctx.globalTuner = newAutoTuner(ctx, nil)
	}
}

func newAutoTuner(ctx *Context, pack *Pack) *AutoTuner {
	at := &AutoTuner{ctx: ctx, pack: pack, enabled: true}
	at.reset()
	return at
}

func (at *AutoTuner) settings() *Settings {
	if at.pack != nil {
		return at.pack.settings
	}
	return at.ctx.Opts
}

// tunedSizes returns the tuple being tuned.
func (at *AutoTuner) tunedSizes() *idx.Tuple {
	if at.settings().TuneMiniBlks {
		return at.settings().MiniBlockSizes
	}
	return at.settings().BlockSizes
}

func (at *AutoTuner) reset() {
	at.done = false
	at.bestRate = 0
	at.trialNum = -1
	at.trialTime = 0
	at.steps = 0
	sizes := at.tunedSizes()
	ndd := at.ctx.Dims.NumDomainDims()
	at.bestSizes = make(idx.Indices, ndd)
	for j := 0; j < ndd; j++ {
		at.bestSizes[j] = sizes.ValAt(1 + j)
	}
	at.radius = max(at.bestSizes.Max()/2, 1)
	at.makeTrials()
}

// makeTrials enumerates the neighbor candidates of bestSizes at the
// current radius.
func (at *AutoTuner) makeTrials() {
	ndd := at.ctx.Dims.NumDomainDims()
	at.trials = at.trials[:0]
	for j := 0; j < ndd; j++ {
		for _, dir := range []int{1, -1} {
			cand := at.bestSizes.Clone()
			cand[j] += dir * at.radius * at.ctx.Dims.ClusterPts[j]
			cand[j] = max(cand[j], at.ctx.Dims.ClusterPts[j])
			limit := at.settings().RegionSizes.ValAt(1 + j)
			if at.settings().TuneMiniBlks {
				limit = at.settings().BlockSizes.ValAt(1 + j)
			}
			cand[j] = min(cand[j], max(limit, at.ctx.Dims.ClusterPts[j]))
			cand[j] = idx.RoundUp(cand[j], at.ctx.Dims.ClusterPts[j])
			if !cand.Equal(at.bestSizes) {
				at.trials = append(at.trials, cand)
			}
		}
	}
	at.trialNum = -1
}

// AddSteps counts steps toward the current trial.
func (at *AutoTuner) AddSteps(n int) {
	if at.enabled && !at.done {
		at.steps += n
	}
}

// eval closes the current measurement and advances the search when the
// sample is large enough.
func (at *AutoTuner) eval() {
	if !at.enabled || at.done {
		return
	}
	at.trialTime += at.timer.stop()
	if at.steps < tunerMinSteps || at.trialTime < tunerMinSecs {
		return
	}
	rate := float64(at.steps) / at.trialTime
	at.steps = 0
	at.trialTime = 0

	if at.trialNum < 0 {
		// Baseline measurement of the current sizes.
		at.bestRate = rate
	} else if rate > at.bestRate {
		at.bestRate = rate
		at.bestSizes = at.currentTrial().Clone()
		if at.verbose {
			klog.Infof("auto-tuner: new best sizes %s at %.3g steps/sec", at.bestSizes, rate)
		}
		at.makeTrials()
		at.applySizes(at.bestSizes)
		return
	}

	// Next trial, shrinking the radius when this round is exhausted.
	at.trialNum++
	for at.trialNum >= len(at.trials) {
		at.radius /= 2
		if at.radius < 1 {
			at.applySizes(at.bestSizes)
			at.done = true
			if at.verbose {
				klog.Infof("auto-tuner: converged on %s at %.3g steps/sec", at.bestSizes, at.bestRate)
			}
			return
		}
		at.makeTrials()
		at.trialNum = 0
	}
	at.applySizes(at.currentTrial())
}

func (at *AutoTuner) currentTrial() idx.Indices {
	if at.trialNum < 0 || at.trialNum >= len(at.trials) {
		return at.bestSizes
	}
	return at.trials[at.trialNum]
}

// applySizes installs candidate sizes into the tuned settings, keeping
// dependent levels and geometry consistent.
func (at *AutoTuner) applySizes(sizes idx.Indices) {
	s := at.settings()
	target := at.tunedSizes()
	for j, sz := range sizes {
		target.SetValAt(1+j, sz)
	}
	if !s.TuneMiniBlks {
		// Mini-blocks may not exceed the block.
		for j := range sizes {
			i := 1 + j
			if s.MiniBlockSizes.ValAt(i) > s.BlockSizes.ValAt(i) {
				s.MiniBlockSizes.SetValAt(i, s.BlockSizes.ValAt(i))
			}
			if s.SubBlockSizes.ValAt(i) > s.MiniBlockSizes.ValAt(i) {
				s.SubBlockSizes.SetValAt(i, s.MiniBlockSizes.ValAt(i))
			}
		}
	}
	at.ctx.updateTbInfo()
	// Scratch vars are sized from mini-block sizes; re-plan them when
	// those change.
	if len(at.ctx.scratchDefs) > 0 {
		at.ctx.allocScratchData()
	}
}

// IsDone reports whether the search has converged.
func (at *AutoTuner) IsDone() bool { return at.done }

// tunerTimersStart opens a measurement window on every active tuner.
func (ctx *Context) tunerTimersStart() {
	if ctx.globalTuner != nil && ctx.globalTuner.enabled && !ctx.globalTuner.done {
		ctx.globalTuner.timer.start()
	}
	for _, p := range ctx.Packs {
		if p.tuner != nil && p.tuner.enabled && !p.tuner.done {
			p.tuner.timer.start()
		}
	}
}

// evalAutoTuners closes the window opened by tunerTimersStart.
func (ctx *Context) evalAutoTuners(steps int) {
	if ctx.globalTuner != nil {
		ctx.globalTuner.AddSteps(steps)
		ctx.globalTuner.eval()
	}
	for _, p := range ctx.Packs {
		if p.tuner != nil {
			p.tuner.eval()
		}
	}
}

// ResetAutoTuner enables or disables tuning from a clean state.
func (ctx *Context) ResetAutoTuner(enable, verbose bool) {
	ctx.Opts.DoAutoTune = enable
	ctx.initTuners()
	if ctx.globalTuner != nil {
		ctx.globalTuner.verbose = verbose
	}
	for _, p := range ctx.Packs {
		if p.tuner != nil {
			p.tuner.verbose = verbose
		}
	}
}

// IsAutoTunerEnabled reports whether any tuner is still searching.
func (ctx *Context) IsAutoTunerEnabled() bool {
	if ctx.globalTuner != nil && ctx.globalTuner.enabled && !ctx.globalTuner.done {
		return true
	}
	for _, p := range ctx.Packs {
		if p.tuner != nil && p.tuner.enabled && !p.tuner.done {
			return true
		}
	}
	return false
}

// RunAutoTunerNow drives the search to convergence by running steps on
// the real vars; contents are advanced as a side effect.
func (ctx *Context) RunAutoTunerNow(verbose bool) {
	ctx.ResetAutoTuner(true, verbose)
	t := 0
	slab := max(ctx.WfSteps, 1)
	const maxTrialSlabs = 1000
	for i := 0; i < maxTrialSlabs && ctx.IsAutoTunerEnabled(); i++ {
		ctx.RunSolution(t, t+slab-1)
		t += slab
	}
}
