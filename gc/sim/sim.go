// Package sim is a simulated host collector for exercising root allocators.
//
// It models domains with exclusive locks, a young generation that is
// evacuated into an old generation on every minor collection, marking major
// collections, domain termination, and hook tampering. Values are plain
// addresses in two disjoint windows; nothing is actually stored there.
//
// Collections stop the world by taking every live domain lock, so they must
// not be started by a goroutine that holds one.
package sim

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/slabroot/gc"
)

const (
	// YoungBase is the start of the first young window.
	YoungBase = 0x1000_0000_0000
	// OldBase is the start of the old generation.
	OldBase = 0x4000_0000_0000

	// youngWindow is the size of one young epoch in bytes.
	youngWindow = 1 << 36

	// blockSize is the spacing of simulated blocks.
	blockSize = 16
)

var (
	// ErrTooManyDomains indicates that every domain id is in use.
	ErrTooManyDomains = errors.New("sim: no free domain id")

	// ErrNilHook indicates an InstallHooks call without a scan hook.
	ErrNilHook = errors.New("sim: nil scan hook")
)

// Runtime implements gc.Runtime.
type Runtime struct {
	max int

	mu      sync.Mutex // guards domains and hooks
	domains []*Domain  // by id, nil when free
	hooks   []gc.Hooks
	gcMu    sync.Mutex // serializes collections
	intact  atomic.Bool

	youngStart atomic.Uintptr
	youngNext  atomic.Uintptr
	youngEnd   atomic.Uintptr
	oldNext    atomic.Uintptr

	heapMu  sync.Mutex
	forward map[gc.Value]gc.Value
	marked  map[gc.Value]int

	minors atomic.Int64
	majors atomic.Int64
	moved  atomic.Int64
}

// New returns a runtime with room for maxDomains concurrent domains.
func New(maxDomains int) *Runtime {
	if maxDomains < 1 {
		maxDomains = 1
	}
	rt := &Runtime{
		max:     maxDomains,
		domains: make([]*Domain, maxDomains),
		forward: make(map[gc.Value]gc.Value),
		marked:  make(map[gc.Value]int),
	}
	rt.youngStart.Store(YoungBase)
	rt.youngNext.Store(YoungBase)
	rt.youngEnd.Store(YoungBase + youngWindow)
	rt.oldNext.Store(OldBase)
	return rt
}

// MaxDomains implements gc.Runtime.
func (rt *Runtime) MaxDomains() int { return rt.max }

// InstallHooks implements gc.Runtime. Hooks chain in installation order.
func (rt *Runtime) InstallHooks(h gc.Hooks) error {
	if h.Scan == nil {
		return ErrNilHook
	}
	rt.mu.Lock()
	rt.hooks = append(rt.hooks, h)
	rt.mu.Unlock()
	rt.intact.Store(true)
	return nil
}

// HooksIntact implements gc.Runtime.
func (rt *Runtime) HooksIntact() bool { return rt.intact.Load() }

// Tamper simulates unrelated code overwriting the installed hooks. The hooks
// keep running; only HooksIntact changes.
func (rt *Runtime) Tamper() { rt.intact.Store(false) }

// YoungRange implements gc.Runtime.
func (rt *Runtime) YoungRange() (start, end gc.Value) {
	return gc.Value(rt.youngStart.Load()), gc.Value(rt.youngEnd.Load())
}

// IsYoung implements gc.Runtime.
func (rt *Runtime) IsYoung(v gc.Value) bool {
	w := uintptr(v)
	return w&1 == 0 && w >= rt.youngStart.Load() && w < rt.youngNext.Load()
}

// IsOld reports whether v is a block of the old generation.
func (rt *Runtime) IsOld(v gc.Value) bool {
	w := uintptr(v)
	return w&1 == 0 && w >= OldBase && w < rt.oldNext.Load()
}

// Immediate returns the unboxed integer n. Immediates are odd words and
// never move.
func Immediate(n int64) gc.Value { return gc.Value(uint64(n)<<1 | 1) }

// AllocYoung returns a fresh young block. Call it with a domain lock held
// so that it cannot straddle a minor collection.
func (rt *Runtime) AllocYoung() gc.Value {
	v := rt.youngNext.Add(blockSize) - blockSize
	if v >= rt.youngEnd.Load() {
		panic(fmt.Sprintf("sim: young window exhausted at %#x", v))
	}
	return gc.Value(v)
}

// AllocOld returns a fresh old block.
func (rt *Runtime) AllocOld() gc.Value {
	return gc.Value(rt.oldNext.Add(blockSize) - blockSize)
}

// Resolve follows forwarding pointers left by minor collections.
func (rt *Runtime) Resolve(v gc.Value) gc.Value {
	rt.heapMu.Lock()
	defer rt.heapMu.Unlock()
	for {
		nv, ok := rt.forward[v]
		if !ok {
			return v
		}
		v = nv
	}
}

// NewDomain starts a domain under the lowest free id. The domain starts
// unlocked.
func (rt *Runtime) NewDomain() (*Domain, error) {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	for id, d := range rt.domains {
		if d == nil {
			d = &Domain{rt: rt, id: id}
			rt.domains[id] = d
			return d, nil
		}
	}
	return nil, ErrTooManyDomains
}

// Domains returns the live domains by id.
func (rt *Runtime) Domains() []*Domain {
	rt.mu.Lock()
	defer rt.mu.Unlock()
	var out []*Domain
	for _, d := range rt.domains {
		if d != nil {
			out = append(out, d)
		}
	}
	return out
}

// MinorGC evacuates every young value reachable from the roots into the
// old generation, then starts a new young epoch.
func (rt *Runtime) MinorGC() {
	rt.collect(true, func(v gc.Value, slot *gc.Value) {
		if !rt.IsYoung(v) {
			return
		}
		nv, ok := rt.forward[v]
		if !ok {
			nv = rt.AllocOld()
			rt.forward[v] = nv
			rt.moved.Add(1)
		}
		*slot = nv
	})
	rt.minors.Add(1)
}

// MajorGC marks every value reachable from the roots. Marks are available
// from LastMarked until the next major collection.
func (rt *Runtime) MajorGC() {
	rt.heapMu.Lock()
	clear(rt.marked)
	rt.heapMu.Unlock()
	rt.collect(false, func(v gc.Value, _ *gc.Value) {
		rt.marked[v]++
	})
	rt.majors.Add(1)
}

func (rt *Runtime) collect(minor bool, visit gc.Visitor) {
	rt.gcMu.Lock()
	defer rt.gcMu.Unlock()
	live, hooks := rt.stopTheWorld()
	defer rt.startTheWorld(live)

	rt.heapMu.Lock()
	for _, d := range live {
		p := gc.Pass{Domain: d.id, Minor: minor, OnlyYoung: minor, Visit: visit}
		for _, h := range hooks {
			h.Scan(d, p)
		}
	}
	rt.heapMu.Unlock()

	if minor {
		// Unreached young blocks die with their epoch.
		end := rt.youngEnd.Load()
		rt.youngStart.Store(end)
		rt.youngNext.Store(end)
		rt.youngEnd.Store(end + youngWindow)
	}
}

// TerminateDomain runs the termination hooks for d with the world stopped
// and frees its id. d must not be locked by the caller.
func (rt *Runtime) TerminateDomain(d *Domain) {
	rt.gcMu.Lock()
	defer rt.gcMu.Unlock()
	live, hooks := rt.stopTheWorld()
	for _, h := range hooks {
		if h.DomainTerminated != nil {
			h.DomainTerminated(d)
		}
	}
	rt.mu.Lock()
	if rt.domains[d.id] == d {
		rt.domains[d.id] = nil
	}
	rt.mu.Unlock()
	d.dead.Store(true)
	rt.startTheWorld(live)
}

// stopTheWorld locks every live domain in id order.
func (rt *Runtime) stopTheWorld() ([]*Domain, []gc.Hooks) {
	rt.mu.Lock()
	var live []*Domain
	for _, d := range rt.domains {
		if d != nil {
			live = append(live, d)
		}
	}
	hooks := append([]gc.Hooks(nil), rt.hooks...)
	rt.mu.Unlock()
	for _, d := range live {
		d.Lock()
	}
	return live, hooks
}

func (rt *Runtime) startTheWorld(live []*Domain) {
	for i := len(live) - 1; i >= 0; i-- {
		live[i].Unlock()
	}
}

// LastMarked returns how many times each value was visited by the last
// major collection.
func (rt *Runtime) LastMarked() map[gc.Value]int {
	rt.heapMu.Lock()
	defer rt.heapMu.Unlock()
	out := make(map[gc.Value]int, len(rt.marked))
	for v, n := range rt.marked {
		out[v] = n
	}
	return out
}

// Counts returns the number of minor and major collections run and the
// number of young blocks evacuated.
func (rt *Runtime) Counts() (minors, majors, moved int64) {
	return rt.minors.Load(), rt.majors.Load(), rt.moved.Load()
}

// Domain is an execution domain. It implements gc.Mutator for the
// goroutine that holds its lock.
type Domain struct {
	rt     *Runtime
	id     int
	mu     sync.Mutex
	locked atomic.Bool
	dead   atomic.Bool
}

// DomainID implements gc.Mutator.
func (d *Domain) DomainID() int { return d.id }

// HoldsDomainLock implements gc.Mutator.
func (d *Domain) HoldsDomainLock() bool { return d.locked.Load() }

// Lock acquires the domain lock.
func (d *Domain) Lock() {
	d.mu.Lock()
	d.locked.Store(true)
}

// Unlock releases the domain lock.
func (d *Domain) Unlock() {
	d.locked.Store(false)
	d.mu.Unlock()
}

// Do runs fn with the domain lock held.
func (d *Domain) Do(fn func()) {
	d.Lock()
	defer d.Unlock()
	fn()
}

// Dead reports whether the domain was terminated.
func (d *Domain) Dead() bool { return d.dead.Load() }

// Unlocked returns a Mutator for a goroutine of d that does not hold the
// domain lock.
func (d *Domain) Unlocked() gc.Mutator { return unlocked{id: d.id} }

func (d *Domain) String() string { return fmt.Sprintf("domain %d", d.id) }

type unlocked struct{ id int }

func (u unlocked) DomainID() int       { return u.id }
func (unlocked) HoldsDomainLock() bool { return false }

// Foreign returns a Mutator for a goroutine outside every domain.
func Foreign() gc.Mutator { return gc.NoDomain{} }
