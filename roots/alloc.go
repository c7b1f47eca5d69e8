package roots

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/internal/logger"
	"github.com/joshuapare/slabroot/roots/backing"
	"github.com/joshuapare/slabroot/roots/stats"
)

// Allocator registers roots for a host collector.
//
// One Allocator serves every domain of its Runtime. Per-domain state is
// guarded by that domain's lock; the orphan store by orphanMu; lifecycle
// transitions by initMu.
type Allocator struct {
	rt      gc.Runtime
	cfg     Config
	geo     geometry
	backing backing.Allocator
	log     *slog.Logger

	debug       bool // validate rings around every scan, count young/old creates
	forceRemote bool // route every Delete through the delayed list

	status atomic.Int32 // Status
	initMu sync.Mutex

	// Rings of each live domain, indexed by domain id. Entry i is written
	// with domain i's lock held or with the world stopped.
	domains []*domainRings

	// Rings of terminated domains, awaiting adoption.
	orphanMu    sync.Mutex
	orphanOld   *ring
	orphanYoung *ring

	// Source of slab link bases.
	nextID atomic.Uint64

	stats stats.Counters
}

// New returns an allocator for rt. A nil cfg means DefaultConfig.
// Hooks are installed by Setup, or lazily by the first Create.
func New(rt gc.Runtime, cfg *Config) (*Allocator, error) {
	if rt == nil {
		return nil, fmt.Errorf("%w: nil runtime", ErrInvalidConfig)
	}
	if cfg == nil {
		cfg = &DefaultConfig
	}
	geo, err := newGeometry(*cfg)
	if err != nil {
		return nil, err
	}
	n := rt.MaxDomains()
	if n < 1 {
		return nil, fmt.Errorf("%w: runtime reports %d domains", ErrInvalidConfig, n)
	}

	a := &Allocator{
		rt:          rt,
		cfg:         *cfg,
		geo:         geo,
		backing:     cfg.Backing,
		log:         cfg.Logger,
		debug:       cfg.Debug || debugEnv,
		forceRemote: cfg.ForceRemote,
		domains:     make([]*domainRings, n),
	}
	if a.backing == nil {
		a.backing = backing.Heap{}
	}
	if a.log == nil {
		a.log = logger.L
	}
	a.orphanOld = newRing("orphan old", Old, &a.stats.RingOperations)
	a.orphanYoung = newRing("orphan young", Young, &a.stats.RingOperations)
	return a, nil
}

// Create registers a new root holding v.
//
// The caller must run inside a domain and hold its lock. On failure the
// zero Handle is returned with ErrOutOfMemory, ErrPermission, ErrInvalid,
// ErrTornDown or ErrNotSetup.
func (a *Allocator) Create(m gc.Mutator, v gc.Value) (Handle, error) {
	// Lock first: a.domains[id] is only stable for the holder.
	if m != nil && m.HoldsDomainLock() && Status(a.status.Load()) == StatusRunning {
		if id := m.DomainID(); id >= 0 && id < len(a.domains) {
			if d := a.domains[id]; d != nil {
				if s := d.current.head; s != nil && !s.full() {
					if a.debug {
						a.countCreate(v)
					}
					return s.alloc(v), nil
				}
			}
		}
	}
	return a.createSlow(m, v)
}

// createSlow makes an available slab current and allocates from it.
func (a *Allocator) createSlow(m gc.Mutator, v gc.Value) (Handle, error) {
	a.stats.CreateSlow.Add(1)
	if m == nil || m.DomainID() < 0 {
		return Handle{}, ErrPermission
	}
	if err := a.setup(); err != nil {
		return Handle{}, err
	}
	if !m.HoldsDomainLock() {
		return Handle{}, ErrPermission
	}
	if !a.rt.HooksIntact() {
		a.invalidate()
		return Handle{}, ErrInvalid
	}
	id := m.DomainID()
	if id >= len(a.domains) {
		return Handle{}, fmt.Errorf("%w: domain %d outside [0, %d)", ErrPermission, id, len(a.domains))
	}

	d := a.domains[id]
	if d == nil {
		d = a.newDomainRings(id)
		a.domains[id] = d
	}
	if s := d.current.head; s != nil {
		invariant(s.full(), "domain %d entered the slow path with a non-full current slab", id)
		// Too early to collect a freshly filled slab; few remote frees
		// can have reached it.
		a.reclassify(d, s, Young)
		a.tryCollectOneYoung(d)
	}

	s, err := a.findAvailable(d)
	if err != nil {
		a.log.Warn("slab allocation failed",
			slog.Int("domain", id), slog.Int("capacity", a.geo.capacity), slog.Any("error", err))
		return Handle{}, fmt.Errorf("%w: %w", ErrOutOfMemory, err)
	}
	invariant(!s.full(), "domain %d picked a full slab", id)
	if a.debug {
		a.countCreate(v)
	}
	return s.alloc(v), nil
}

func (a *Allocator) countCreate(v gc.Value) {
	if a.rt.IsYoung(v) {
		a.stats.CreateYoung.Add(1)
	} else {
		a.stats.CreateOld.Add(1)
	}
}

// Delete releases h. It never fails.
//
// m may be nil or a foreign Mutator. Frees by the owning domain with its
// lock held go to the local free list; every other free goes to the slab's
// delayed list and is reclaimed at the owner's next scan. After Teardown
// every slab is gone and Delete does nothing.
func (a *Allocator) Delete(m gc.Mutator, h Handle) {
	invariant(!h.IsZero(), "delete of a zero handle")
	if Status(a.status.Load()) == StatusTornDown {
		return
	}
	s := h.s
	if a.debug {
		a.countDelete(s.slots[h.i])
	}
	if !a.isRemote(m, s) {
		if s.freeLocal(h.i) {
			a.deleteSlow(m, s, h.i, false)
		}
		return
	}
	a.deleteSlow(m, s, h.i, true)
}

func (a *Allocator) countDelete(v gc.Value) {
	if a.rt.IsYoung(v) {
		a.stats.DeleteYoung.Add(1)
	} else {
		a.stats.DeleteOld.Add(1)
	}
}

// isRemote reports whether m cannot free into the local list of s.
// The owner only changes under its own lock or with the world stopped, so
// once m is known to hold its lock the comparison is stable.
func (a *Allocator) isRemote(m gc.Mutator, s *slab) bool {
	if a.forceRemote || m == nil {
		return true
	}
	id := m.DomainID()
	return id < 0 || !m.HoldsDomainLock() || int(s.domain.Load()) != id
}

func (a *Allocator) deleteSlow(m gc.Mutator, s *slab, i int32, remote bool) {
	a.stats.DeleteSlow.Add(1)
	switch {
	case !remote:
		// Already freed locally; a threshold was crossed.
		a.tryDemote(a.domains[s.domain.Load()], s)
	case m != nil && m.DomainID() >= 0 && m.HoldsDomainLock():
		// Another domain's lock excludes stop-the-world drains.
		s.pushDelayed(i)
	default:
		s.mu.Lock()
		s.pushDelayed(i)
		s.mu.Unlock()
	}
}

// Modify replaces the value held by *h with v.
//
// Roots in young slabs are always overwritten in place. Elsewhere a young v
// needs a root in a young slab: a new root is created, stored in *h, and
// the old one is deleted. On error *h is unchanged. After Teardown or
// hook tampering Modify fails with ErrTornDown or ErrInvalid.
func (a *Allocator) Modify(m gc.Mutator, h *Handle, v gc.Value) error {
	invariant(h != nil && !h.IsZero(), "modify of a zero handle")
	if st := Status(a.status.Load()); st != StatusRunning {
		return errorForStatus(st)
	}
	if a.debug {
		a.stats.Modify.Add(1)
	}
	if m == nil || !m.HoldsDomainLock() {
		return ErrPermission
	}
	if Class(h.s.class.Load()) == Young {
		h.s.slots[h.i] = v
		return nil
	}
	return a.modifySlow(m, h, v)
}

func (a *Allocator) modifySlow(m gc.Mutator, h *Handle, v gc.Value) error {
	a.stats.ModifySlow.Add(1)
	if !a.rt.IsYoung(v) {
		h.s.slots[h.i] = v
		return nil
	}
	nh, err := a.Create(m, v)
	if err != nil {
		return err
	}
	old := *h
	*h = nh
	a.Delete(m, old)
	return nil
}
