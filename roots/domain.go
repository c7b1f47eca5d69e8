package roots

import (
	"fmt"
	"log/slog"

	"github.com/joshuapare/slabroot/gc"
)

// Status returns the lifecycle state.
func (a *Allocator) Status() Status { return Status(a.status.Load()) }

// Setup installs the scan and domain-termination hooks. It is idempotent
// while running and fails with the permanent error of any other state.
//
// Setup is optional: the first Create calls it. Hosts that cannot promise
// that the first Create runs with a domain lock held must call it.
func (a *Allocator) Setup() error { return a.setup() }

func (a *Allocator) setup() error {
	if a.Status() == StatusRunning {
		return nil
	}
	a.initMu.Lock()
	defer a.initMu.Unlock()
	if st := a.Status(); st != StatusNotSetup {
		return errorForStatus(st)
	}
	err := a.rt.InstallHooks(gc.Hooks{
		Scan:             a.scan,
		DomainTerminated: a.orphanDomain,
	})
	if err != nil {
		return fmt.Errorf("slabroot: install hooks: %w", err)
	}
	a.status.Store(int32(StatusRunning))
	a.log.Info("slabroot running",
		slog.String("config", a.cfg.Name),
		slog.Int("slab_bytes", int(a.geo.size)),
		slog.Int("slab_capacity", a.geo.capacity),
		slog.Int("domains", len(a.domains)))
	return nil
}

// invalidate records that the host hooks were overwritten. Permanent.
func (a *Allocator) invalidate() {
	if a.status.CompareAndSwap(int32(StatusRunning), int32(StatusInvalid)) {
		a.log.Warn("slabroot hooks overwritten, allocator disabled")
	}
}

// Teardown releases every slab. The host must have stopped running: no
// domain may use the allocator, and no handle may be used, afterwards.
// Teardown of an allocator that never ran is a no-op.
func (a *Allocator) Teardown() {
	a.initMu.Lock()
	defer a.initMu.Unlock()
	switch a.Status() {
	case StatusRunning, StatusInvalid:
	default:
		return
	}
	a.status.Store(int32(StatusTornDown))

	n := 0
	for i, d := range a.domains {
		if d == nil {
			continue
		}
		for _, r := range d.all() {
			n += a.releaseRing(r)
		}
		a.domains[i] = nil
	}
	a.orphanMu.Lock()
	n += a.releaseRing(a.orphanOld)
	n += a.releaseRing(a.orphanYoung)
	a.orphanMu.Unlock()
	a.log.Info("slabroot torn down", slog.Int("slabs", n))
}

// orphanDomain hands the slabs of a terminating domain to the orphan store.
// Installed as the host's domain-termination hook; the world is stopped.
//
// Orphans keep their roots alive. Their owner is cleared so every delete
// on them takes the delayed path until a surviving domain adopts them.
func (a *Allocator) orphanDomain(m gc.Mutator) {
	if m == nil {
		return
	}
	id := m.DomainID()
	if id < 0 || id >= len(a.domains) {
		return
	}
	d := a.domains[id]
	if d == nil {
		return
	}
	a.collectRings(d)

	a.orphanMu.Lock()
	old := a.orphan(d.old, a.orphanOld)
	young := a.orphan(d.young, a.orphanYoung)
	young += a.orphan(d.current, a.orphanYoung)
	a.orphanMu.Unlock()

	freed := a.releaseRing(d.free)
	// A domain respawning under this id starts from empty rings and
	// adopts the orphans at its first scan.
	a.domains[id] = a.newDomainRings(id)
	a.log.Debug("domain orphaned",
		slog.Int("domain", id), slog.Int("old", old), slog.Int("young", young), slog.Int("freed", freed))
}

func (a *Allocator) orphan(src, dst *ring) int {
	n := 0
	for s := src.pop(); s != nil; s = src.pop() {
		s.domain.Store(-1)
		s.class.Store(int32(dst.class))
		dst.pushBack(s)
		n++
	}
	return n
}

// hasOrphans reports whether terminated domains left slabs behind.
func (a *Allocator) hasOrphans() bool {
	a.orphanMu.Lock()
	defer a.orphanMu.Unlock()
	return !a.orphanOld.empty() || !a.orphanYoung.empty()
}

// adoptOrphans moves every orphaned slab into d.
func (a *Allocator) adoptOrphans(d *domainRings) {
	a.orphanMu.Lock()
	defer a.orphanMu.Unlock()
	n := a.orphanOld.count + a.orphanYoung.count
	for !a.orphanOld.empty() {
		a.reclassify(d, a.orphanOld.head, Old)
	}
	for !a.orphanYoung.empty() {
		a.reclassify(d, a.orphanYoung.head, Young)
	}
	if n > 0 {
		a.log.Debug("orphans adopted", slog.Int("domain", d.id), slog.Int("slabs", n))
	}
}
