// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

package solution

import (
	"strconv"
	"strings"

	"github.com/opesci/yask/types/errs"
	"github.com/opesci/yask/types/idx"
)

// ApplyCommandLineOptions parses runtime options from one string,
// applying recognized ones to the settings and returning the remaining
// tokens verbatim.
func (s *Solution) ApplyCommandLineOptions(args string) string {
	return strings.Join(s.ApplyCommandLineArgs(strings.Fields(args)), " ")
}

// ApplyCommandLineArgs is ApplyCommandLineOptions over a token vector.
func (s *Solution) ApplyCommandLineArgs(args []string) (rest []string) {
	opts := s.ctx.Opts
	dims := s.ctx.Dims

	// Per-dim size options at every tile level: e.g. -gx, -lx, -rx,
	// -bx, -mbx, -sbx, plus group sizes, pads, and rank grid.
	type tupleOpt struct {
		prefix string
		tuple  *idx.Tuple
		// domainOnly tuples are indexed by domain posn; others by
		// stencil posn.
		domainOnly bool
	}
	tupleOpts := []tupleOpt{
		{"g", opts.GlobalSizes, false},
		{"l", opts.RankSizes, false},
		{"r", opts.RegionSizes, false},
		{"bg", opts.BlockGroupSizes, false},
		{"b", opts.BlockSizes, false},
		{"mbg", opts.MiniBlockGroupSizes, false},
		{"mb", opts.MiniBlockSizes, false},
		{"sbg", opts.SubBlockGroupSizes, false},
		{"sb", opts.SubBlockSizes, false},
		{"mp", opts.MinPadSizes, true},
		{"ep", opts.ExtraPadSizes, true},
		{"nr", opts.NumRanks, true},
		{"ri", opts.RankIndices, true},
	}

	intOpts := map[string]*int{
		"-max_threads":    &opts.MaxThreads,
		"-thread_divisor": &opts.ThreadDivisor,
		"-block_threads":  &opts.NumBlockThreads,
		"-min_exterior":   &opts.MinExterior,
		"-numa_pref":      &opts.NumaPref,
		"-numa_pref_max":  &opts.NumaPrefMax,
	}
	boolOpts := map[string]*bool{
		"-bind_block_threads": &opts.BindBlockThreads,
		"-overlap_comms":      &opts.OverlapComms,
		"-use_shm":            &opts.UseShm,
		"-step_wrap":          &opts.StepWrap,
		"-auto_tune":          &opts.DoAutoTune,
		"-tune_mini_blks":     &opts.TuneMiniBlks,
		"-pack_tuners":        &opts.AllowPackTuners,
		"-force_scalar":       &opts.ForceScalar,
		"-trace":              &opts.Trace,
	}

	needVal := func(i int, args []string, opt string) int {
		if i+1 >= len(args) {
			errs.Throwf(errs.ConfigError, "option %q requires a value", opt)
		}
		n, err := strconv.Atoi(args[i+1])
		if err != nil {
			errs.Throwf(errs.ConfigError, "option %q: bad value %q", opt, args[i+1])
		}
		return n
	}

	for i := 0; i < len(args); i++ {
		arg := args[i]
		if p, ok := intOpts[arg]; ok {
			*p = needVal(i, args, arg)
			i++
			continue
		}
		if p, ok := boolOpts[arg]; ok {
			*p = true
			continue
		}
		if negated, found := strings.CutPrefix(arg, "-no"); found {
			if p, ok := boolOpts[negated]; ok {
				*p = false
				continue
			}
		}

		matched := false
		if strings.HasPrefix(arg, "-") {
			body := arg[1:]
			for _, to := range tupleOpts {
				suffix, found := strings.CutPrefix(body, to.prefix)
				if !found {
					continue
				}
				if suffix == "" {
					// Set all domain dims at once.
					n := needVal(i, args, arg)
					for j := range dims.DomainDims {
						if to.domainOnly {
							to.tuple.SetValAt(j, n)
						} else {
							to.tuple.SetValAt(1+j, n)
						}
					}
					i++
					matched = true
					break
				}
				if suffix == dims.StepDim && !to.domainOnly {
					to.tuple.SetValAt(0, needVal(i, args, arg))
					i++
					matched = true
					break
				}
				if j := dims.DomainPosn(suffix); j >= 0 {
					n := needVal(i, args, arg)
					if to.domainOnly {
						to.tuple.SetValAt(j, n)
					} else {
						to.tuple.SetValAt(1+j, n)
					}
					i++
					matched = true
					break
				}
			}
		}
		if !matched {
			rest = append(rest, arg)
		}
	}

	if opts.RankIndices.Product() != 0 || !allZero(opts.RankIndices) {
		opts.FindLoc = false
	}
	return rest
}

func allZero(t *idx.Tuple) bool {
	for i := 0; i < t.NumDims(); i++ {
		if t.ValAt(i) != 0 {
			return false
		}
	}
	return true
}
