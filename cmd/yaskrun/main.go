// Copyright 2026 The YASK Authors. SPDX-License-Identifier: Apache-2.0

// yaskrun runs a built-in stencil for a number of steps and prints basic
// performance numbers. Multiple ranks run as goroutines of one process
// connected by the in-process fabric.
//
// Example:
//
//	yaskrun -stencil laplace3d -ranks 2 -steps 10 -- -g 128 -bx 32 -use_shm
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/gomlx/exceptions"
	"golang.org/x/sync/errgroup"
	"k8s.io/klog/v2"

	"github.com/opesci/yask/comm"
	"github.com/opesci/yask/solution"
	"github.com/opesci/yask/stencils"
	"github.com/opesci/yask/types/errs"
)

func main() {
	klog.InitFlags(nil)
	stencilName := flag.String("stencil", "laplace3d", "registered stencil to run; one of "+strings.Join(stencils.Names(), ", "))
	numRanks := flag.Int("ranks", 1, "number of ranks to run in-process")
	steps := flag.Int("steps", 10, "number of steps to advance")
	tune := flag.Bool("tune", false, "run the auto-tuner before the timed steps")
	flag.Parse()

	envs := comm.NewFabric(*numRanks)
	var eg errgroup.Group
	for _, env := range envs {
		env := env
		eg.Go(func() error {
			return runRank(env, *stencilName, flag.Args(), *steps, *tune)
		})
	}
	if err := eg.Wait(); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func runRank(env *comm.Env, stencilName string, args []string, steps int, tune bool) error {
	return exceptions.TryCatch[error](func() {
		sol := solution.New(env, stencilName)
		if rest := sol.ApplyCommandLineArgs(args); len(rest) > 0 {
			errs.Throwf(errs.ConfigError, "unrecognized option(s): %s", strings.Join(rest, " "))
		}
		// Default domain when none given.
		for _, dim := range sol.DomainDimNames() {
			if sol.OverallDomainSize(dim) == 0 && sol.RankDomainSize(dim) == 0 {
				sol.SetOverallDomainSize(dim, 64)
			}
		}
		sol.PrepareSolution()
		for _, v := range sol.Vars() {
			v.SetAllElementsSame(0.5)
		}
		if tune {
			sol.RunAutoTunerNow(true)
		}
		sol.RunSolution(0, steps-1)

		stats := sol.GetStats()
		if env.RankIndex() == 0 {
			fmt.Printf("ranks:            %d\n", env.NumRanks())
			fmt.Printf("steps done:       %d\n", stats.NumStepsDone)
			fmt.Printf("rank elements:    %s\n", humanize.Comma(int64(stats.NumElements)))
			fmt.Printf("est writes:       %s\n", humanize.Comma(int64(stats.NumWritesDone)))
			fmt.Printf("est FP ops:       %s\n", humanize.Comma(int64(stats.EstFpOpsDone)))
			fmt.Printf("elapsed secs:     %.3f\n", stats.ElapsedSecs)
			if stats.ElapsedSecs > 0 {
				fmt.Printf("est GFLOP/s:      %.3f\n",
					float64(stats.EstFpOpsDone)/stats.ElapsedSecs/1e9)
			}
		}
		sol.EndSolution()
	})
}
