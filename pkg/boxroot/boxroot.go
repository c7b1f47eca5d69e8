package boxroot

import (
	"io"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/roots"
	"github.com/joshuapare/slabroot/roots/stats"
)

var (
	current atomic.Pointer[roots.Allocator]
	setupMu sync.Mutex
)

// Setup creates the process-wide allocator for rt and installs its hooks.
// A nil cfg means roots.DefaultConfig. Calling Setup again is a no-op while
// running and returns the permanent error of any other state; rt and cfg are
// ignored then.
func Setup(rt gc.Runtime, cfg *roots.Config) error {
	setupMu.Lock()
	defer setupMu.Unlock()
	if a := current.Load(); a != nil {
		return a.Setup()
	}
	a, err := roots.New(rt, cfg)
	if err != nil {
		return err
	}
	if err := a.Setup(); err != nil {
		return err
	}
	current.Store(a)
	return nil
}

// Teardown releases every slab. See roots.Allocator.Teardown.
func Teardown() {
	if a := current.Load(); a != nil {
		a.Teardown()
	}
}

// Status reports the lifecycle state.
func Status() roots.Status {
	if a := current.Load(); a != nil {
		return a.Status()
	}
	return roots.StatusNotSetup
}

// Allocator returns the process-wide allocator, or nil before Setup.
func Allocator() *roots.Allocator { return current.Load() }

// Create registers a root holding v.
func Create(m gc.Mutator, v gc.Value) (roots.Handle, error) {
	a := current.Load()
	if a == nil {
		return roots.Handle{}, roots.ErrNotSetup
	}
	return a.Create(m, v)
}

// Get returns the value held by h.
func Get(h roots.Handle) gc.Value { return h.Get() }

// Ref returns the cell holding the value of h. It is invalidated by Delete
// or Modify on h.
func Ref(h roots.Handle) *gc.Value { return h.Ref() }

// Delete releases h.
func Delete(m gc.Mutator, h roots.Handle) {
	if a := current.Load(); a != nil {
		a.Delete(m, h)
	}
}

// Modify stores v in the root *h, possibly replacing *h.
func Modify(m gc.Mutator, h *roots.Handle, v gc.Value) error {
	a := current.Load()
	if a == nil {
		return roots.ErrNotSetup
	}
	return a.Modify(m, h, v)
}

// Stats returns the allocator counters, zero before Setup.
func Stats() stats.Snapshot {
	if a := current.Load(); a != nil {
		return a.Stats()
	}
	return stats.Snapshot{}
}

// PrintStats writes the counter report to w.
func PrintStats(w io.Writer) error {
	return Stats().Print(w)
}
