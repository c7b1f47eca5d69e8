package main

import (
	"fmt"
	"math/rand/v2"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/spf13/cobra"

	"github.com/joshuapare/slabroot/gc/sim"
	"github.com/joshuapare/slabroot/internal/logger"
	"github.com/joshuapare/slabroot/roots"
	"github.com/joshuapare/slabroot/roots/stats"
)

var stressOpts stressOptions

func init() {
	cmd := newStressCmd()
	f := cmd.Flags()
	f.DurationVar(&stressOpts.Duration, "duration", 2*time.Second, "How long to run")
	f.IntVar(&stressOpts.Domains, "domains", 4, "Number of parallel domains")
	f.BoolVar(&stressOpts.ForceRemote, "force-remote", false, "Send every delete through the delayed free list")
	f.UintVar(&stressOpts.LogSize, "log-size", 10, "log2 of the slab size in bytes")
	f.Uint64Var(&stressOpts.Seed, "seed", 1, "Workload random seed")
	rootCmd.AddCommand(cmd)
}

func newStressCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "stress",
		Short: "Hammer the allocator with cross-domain deletes",
		Long: `The stress command runs domains that create roots and pass some of them to
a neighbor, which deletes them while holding its own lock. Other roots are
deleted with no domain lock at all. A collector thread runs minor and major
collections for --duration. Debug validation checks every ring around each
scan, and the invariants are checked again once everything is deleted.

Example:
  rootctl stress
  rootctl stress --duration 10s --domains 8 --force-remote`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStressCmd(stressOpts)
		},
	}
}

type stressOptions struct {
	Duration    time.Duration
	Domains     int
	ForceRemote bool
	LogSize     uint
	Seed        uint64
}

type stressResult struct {
	Created     int64          `json:"created"`
	Deleted     int64          `json:"deleted"`
	Collections int            `json:"collections"`
	Stats       stats.Snapshot `json:"stats"`
}

func runStressCmd(opts stressOptions) error {
	printVerbose("Stressing %d domains for %v\n", opts.Domains, opts.Duration)
	res, err := runStress(opts)
	if err != nil {
		return err
	}
	if jsonOut {
		return printJSON(res)
	}
	printInfo("created: %d\ndeleted: %d\ncollections: %d\ninvariants: ok\n",
		res.Created, res.Deleted, res.Collections)
	if quiet {
		return nil
	}
	return res.Stats.Print(os.Stdout)
}

func runStress(opts stressOptions) (*stressResult, error) {
	if opts.Domains < 1 {
		return nil, fmt.Errorf("--domains must be at least 1, got %d", opts.Domains)
	}
	rt := sim.New(opts.Domains)
	a, err := roots.New(rt, &roots.Config{
		Name:        "stress",
		LogSlabSize: opts.LogSize,
		ForceRemote: opts.ForceRemote,
		Debug:       true,
		Logger:      logger.L,
	})
	if err != nil {
		return nil, err
	}
	if err := a.Setup(); err != nil {
		return nil, err
	}
	defer a.Teardown()

	doms := make([]*sim.Domain, opts.Domains)
	inbox := make([]chan roots.Handle, opts.Domains)
	for i := range doms {
		if doms[i], err = rt.NewDomain(); err != nil {
			return nil, err
		}
		inbox[i] = make(chan roots.Handle, 1024)
	}

	var (
		stop             atomic.Bool
		created, deleted atomic.Int64
		wg               sync.WaitGroup
		errMu            sync.Mutex
		firstErr         error
	)
	fail := func(err error) {
		errMu.Lock()
		if firstErr == nil {
			firstErr = err
		}
		errMu.Unlock()
		stop.Store(true)
	}

	for id, d := range doms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(opts.Seed, uint64(id)))
			var mine []roots.Handle
			for !stop.Load() {
				d.Lock()
				for range 64 {
					v := rt.AllocOld()
					if rng.IntN(2) == 0 {
						v = rt.AllocYoung()
					}
					h, err := a.Create(d, v)
					if err != nil {
						d.Unlock()
						fail(fmt.Errorf("%v: %w", d, err))
						return
					}
					created.Add(1)
					mine = append(mine, h)
				}
				for len(mine) > 256 {
					i := rng.IntN(len(mine))
					a.Delete(d, mine[i])
					deleted.Add(1)
					mine[i] = mine[len(mine)-1]
					mine = mine[:len(mine)-1]
				}
			drain:
				for {
					select {
					case h := <-inbox[id]:
						a.Delete(d, h)
						deleted.Add(1)
					default:
						break drain
					}
				}
				d.Unlock()

				for range 16 {
					if len(mine) == 0 {
						break
					}
					h := mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					if rng.IntN(2) == 0 {
						a.Delete(sim.Foreign(), h)
						deleted.Add(1)
						continue
					}
					select {
					case inbox[(id+1)%len(doms)] <- h:
					default:
						a.Delete(d.Unlocked(), h)
						deleted.Add(1)
					}
				}
			}
			d.Do(func() {
				for _, h := range mine {
					a.Delete(d, h)
					deleted.Add(1)
				}
			})
		}()
	}

	collections := 0
	deadline := time.Now().Add(opts.Duration)
	for ; time.Now().Before(deadline) && !stop.Load(); collections++ {
		if collections%4 == 3 {
			rt.MajorGC()
		} else {
			rt.MinorGC()
		}
	}
	stop.Store(true)
	wg.Wait()
	if firstErr != nil {
		return nil, firstErr
	}

	for _, ch := range inbox {
		close(ch)
		for h := range ch {
			a.Delete(sim.Foreign(), h)
			deleted.Add(1)
		}
	}
	rt.MinorGC()
	rt.MajorGC()
	if err := a.CheckInvariants(); err != nil {
		return nil, err
	}
	if c, d := created.Load(), deleted.Load(); c != d {
		return nil, fmt.Errorf("created %d roots but deleted %d", c, d)
	}
	if n := a.Diagnostics().Roots(); n != 0 {
		return nil, fmt.Errorf("%d roots still live after deleting everything", n)
	}
	return &stressResult{
		Created:     created.Load(),
		Deleted:     deleted.Load(),
		Collections: collections + 2,
		Stats:       a.Stats(),
	}, nil
}
