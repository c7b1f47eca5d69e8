package main

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabroot/gc/sim"
	"github.com/joshuapare/slabroot/internal/logger"
	"github.com/joshuapare/slabroot/roots"
	"github.com/joshuapare/slabroot/roots/backing"
	"github.com/joshuapare/slabroot/roots/stats"
)

var benchOpts benchOptions

func init() {
	cmd := newBenchCmd()
	f := cmd.Flags()
	f.IntVar(&benchOpts.Domains, "domains", 4, "Number of parallel domains")
	f.IntVar(&benchOpts.Roots, "roots", 10000, "Live roots kept per domain")
	f.IntVar(&benchOpts.Rounds, "rounds", 50, "Workload rounds")
	f.Float64Var(&benchOpts.Remote, "remote", 0.1, "Fraction of deletes sent to another domain")
	f.BoolVar(&benchOpts.Mmap, "mmap", false, "Back slabs with anonymous mappings")
	f.UintVar(&benchOpts.LogSize, "log-size", roots.DefaultLogSlabSize, "log2 of the slab size in bytes")
	f.IntVar(&benchOpts.MinorEvery, "minor-every", 1, "Run a minor collection every N rounds (0 = never)")
	f.IntVar(&benchOpts.MajorEvery, "major-every", 10, "Run a major collection every N rounds (0 = never)")
	f.Uint64Var(&benchOpts.Seed, "seed", 1, "Workload random seed")
	rootCmd.AddCommand(cmd)
}

func newBenchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "bench",
		Short: "Run a synthetic create/modify/delete workload",
		Long: `The bench command runs domains in parallel on a simulated host. Each
round every domain tops its live set up to --roots, modifies a tenth of its
roots, and deletes half of them, sending a --remote fraction of the deletes
to its neighbor. Collections run between rounds.

Example:
  rootctl bench
  rootctl bench --domains 8 --roots 50000 --remote 0.5
  rootctl bench --mmap --log-size 16 --json`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBenchCmd(benchOpts)
		},
	}
}

type benchOptions struct {
	Domains    int
	Roots      int
	Rounds     int
	Remote     float64
	Mmap       bool
	LogSize    uint
	MinorEvery int
	MajorEvery int
	Seed       uint64
}

func (o benchOptions) validate() error {
	switch {
	case o.Domains < 1:
		return fmt.Errorf("--domains must be at least 1, got %d", o.Domains)
	case o.Roots < 2:
		return fmt.Errorf("--roots must be at least 2, got %d", o.Roots)
	case o.Rounds < 1:
		return fmt.Errorf("--rounds must be at least 1, got %d", o.Rounds)
	case o.Remote < 0 || o.Remote > 1:
		return fmt.Errorf("--remote must be within [0, 1], got %g", o.Remote)
	case o.MinorEvery < 0 || o.MajorEvery < 0:
		return errors.New("collection intervals must not be negative")
	}
	return nil
}

type benchResult struct {
	Elapsed   time.Duration  `json:"elapsed_ns"`
	Ops       int64          `json:"ops"`
	OpsPerSec float64        `json:"ops_per_sec"`
	Stats     stats.Snapshot `json:"stats"`
}

// benchWorker is the per-domain workload state. Only its own goroutine
// touches it during a phase.
type benchWorker struct {
	id     int
	dom    *sim.Domain
	rng    *rand.Rand
	live   []roots.Handle
	outbox []roots.Handle
	ops    int64
	err    error
}

func runBenchCmd(opts benchOptions) error {
	printVerbose("Running %d rounds on %d domains, %d roots each\n", opts.Rounds, opts.Domains, opts.Roots)
	res, err := runBench(opts)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}
	printInfo("elapsed: %v\nops: %d (%.0f ops/s)\n", res.Elapsed, res.Ops, res.OpsPerSec)
	if quiet {
		return nil
	}
	return res.Stats.Print(os.Stdout)
}

func runBench(opts benchOptions) (*benchResult, error) {
	if err := opts.validate(); err != nil {
		return nil, err
	}
	rt := sim.New(opts.Domains)
	cfg := &roots.Config{Name: "bench", LogSlabSize: opts.LogSize, Logger: logger.L}
	if opts.Mmap {
		cfg.Backing = backing.Mmap{}
	}
	a, err := roots.New(rt, cfg)
	if err != nil {
		return nil, err
	}
	if err := a.Setup(); err != nil {
		return nil, err
	}
	defer a.Teardown()

	workers := make([]*benchWorker, opts.Domains)
	for i := range workers {
		d, err := rt.NewDomain()
		if err != nil {
			return nil, err
		}
		workers[i] = &benchWorker{id: i, dom: d, rng: rand.New(rand.NewPCG(opts.Seed, uint64(i)))}
	}

	start := time.Now()
	for round := range opts.Rounds {
		if err := parallel(workers, func(w *benchWorker) error {
			return w.churn(a, rt, opts)
		}); err != nil {
			return nil, err
		}
		if err := parallel(workers, func(w *benchWorker) error {
			w.drain(a, workers[(w.id+len(workers)-1)%len(workers)])
			return nil
		}); err != nil {
			return nil, err
		}
		for _, w := range workers {
			w.outbox = w.outbox[:0]
		}
		if opts.MinorEvery > 0 && (round+1)%opts.MinorEvery == 0 {
			rt.MinorGC()
		}
		if opts.MajorEvery > 0 && (round+1)%opts.MajorEvery == 0 {
			rt.MajorGC()
		}
	}

	for _, w := range workers {
		w.dom.Do(func() {
			for _, h := range w.live {
				a.Delete(w.dom, h)
				w.ops++
			}
		})
		w.live = nil
	}
	rt.MajorGC()
	elapsed := time.Since(start)
	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}

	res := &benchResult{Elapsed: elapsed, Stats: a.Stats()}
	for _, w := range workers {
		res.Ops += w.ops
	}
	if elapsed > 0 {
		res.OpsPerSec = float64(res.Ops) / elapsed.Seconds()
	}
	return res, nil
}

// churn tops up, modifies and thins out the worker's live set.
func (w *benchWorker) churn(a *roots.Allocator, rt *sim.Runtime, opts benchOptions) error {
	w.dom.Lock()
	defer w.dom.Unlock()
	for len(w.live) < opts.Roots {
		v := rt.AllocOld()
		if w.rng.IntN(2) == 0 {
			v = rt.AllocYoung()
		}
		h, err := a.Create(w.dom, v)
		if err != nil {
			return fmt.Errorf("%v: %w", w.dom, err)
		}
		w.live = append(w.live, h)
		w.ops++
	}
	for range opts.Roots / 10 {
		i := w.rng.IntN(len(w.live))
		if err := a.Modify(w.dom, &w.live[i], rt.AllocYoung()); err != nil {
			return fmt.Errorf("%v: %w", w.dom, err)
		}
		w.ops++
	}
	for range opts.Roots / 2 {
		i := w.rng.IntN(len(w.live))
		h := w.live[i]
		w.live[i] = w.live[len(w.live)-1]
		w.live = w.live[:len(w.live)-1]
		if w.rng.Float64() < opts.Remote {
			w.outbox = append(w.outbox, h)
			continue
		}
		a.Delete(w.dom, h)
		w.ops++
	}
	return nil
}

// drain deletes the roots a neighbor handed over.
func (w *benchWorker) drain(a *roots.Allocator, from *benchWorker) {
	w.dom.Lock()
	defer w.dom.Unlock()
	for _, h := range from.outbox {
		a.Delete(w.dom, h)
		w.ops++
	}
}

// parallel runs fn for every worker on its own goroutine and returns the
// first error.
func parallel(workers []*benchWorker, fn func(*benchWorker) error) error {
	var wg sync.WaitGroup
	for _, w := range workers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			w.err = fn(w)
		}()
	}
	wg.Wait()
	for _, w := range workers {
		if w.err != nil {
			return w.err
		}
	}
	return nil
}
