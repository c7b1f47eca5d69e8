package roots

import (
	"log/slog"
	"time"

	"github.com/joshuapare/slabroot/roots/stats"
)

// domainRings holds the slabs owned by one domain.
type domainRings struct {
	id      int
	old     *ring
	young   *ring
	current *ring // at most one slab, the allocation target
	free    *ring // empty slabs kept for reuse until the next major pass

	scratch []*slab // ring snapshots during collection
}

func (a *Allocator) newDomainRings(id int) *domainRings {
	ops := &a.stats.RingOperations
	a.log.Debug("domain rings created", slog.Int("domain", id))
	return &domainRings{
		id:      id,
		old:     newRing("old", Old, ops),
		young:   newRing("young", Young, ops),
		current: newRing("current", Young, ops),
		free:    newRing("free", Untracked, ops),
	}
}

func (d *domainRings) ringFor(c Class) *ring {
	switch c {
	case Young:
		return d.young
	case Old:
		return d.old
	}
	return d.free
}

// all returns the rings in validation order.
func (d *domainRings) all() []*ring {
	return []*ring{d.old, d.young, d.current, d.free}
}

func (a *Allocator) notTooFull(s *slab) bool {
	return s.allocCount <= a.geo.threshold
}

// reclassify moves s from its ring to the ring of class c in d. Not too
// full slabs become the head of their new ring.
func (a *Allocator) reclassify(d *domainRings, s *slab, c Class) {
	s.ring.remove(s)
	s.domain.Store(int32(d.id))
	if c == Untracked {
		a.stats.EmptiedSlabs.Add(1)
		a.stats.LiveSlabs.Add(-1)
	}
	s.class.Store(int32(c))
	target := d.ringFor(c)
	target.pushBack(s)
	if a.notTooFull(s) {
		target.rotateToFront(s)
	}
}

// tryDemote moves a slab that has emptied enough to the front of its ring,
// or to the free ring once it is empty.
func (a *Allocator) tryDemote(d *domainRings, s *slab) {
	c := Class(s.class.Load())
	invariant(c != Untracked, "demoting an untracked slab")
	if s.ring == d.current || !a.notTooFull(s) {
		return
	}
	if s.allocCount == 0 {
		c = Untracked
	}
	a.reclassify(d, s, c)
}

// promoteYoung moves every young slab to the old ring at the end of a
// minor pass. A domain that stops creating roots then costs nothing to
// scan on later minor passes.
func (a *Allocator) promoteYoung(d *domainRings) {
	for !d.young.empty() {
		a.reclassify(d, d.young.head, Old)
	}
	invariant(d.current.empty(), "domain %d has a current slab after collection", d.id)
}

// findAvailable picks an allocation target for d and makes it current.
func (a *Allocator) findAvailable(d *domainRings) (*slab, error) {
	s := d.young.popAvailable()
	if s == nil && !d.old.empty() && a.notTooFull(d.old.head) {
		s = d.old.popAvailable()
	}
	if s == nil {
		if s = d.free.popAvailable(); s != nil {
			a.trackLive()
		}
	}
	if s == nil {
		var err error
		if s, err = a.newSlab(); err != nil {
			return nil, err
		}
	}
	invariant(d.current.empty(), "domain %d already has a current slab", d.id)
	a.setCurrent(d, s)
	return s, nil
}

func (a *Allocator) setCurrent(d *domainRings, s *slab) {
	s.domain.Store(int32(d.id))
	s.class.Store(int32(Young))
	d.current.pushBack(s)
}

func (a *Allocator) trackLive() {
	stats.StoreMax(&a.stats.PeakSlabs, a.stats.LiveSlabs.Add(1))
}

// newSlab obtains slot memory for a fresh, detached, untracked slab.
func (a *Allocator) newSlab() (*slab, error) {
	block, err := a.backing.Alloc(a.geo.capacity)
	if err != nil {
		return nil, err
	}
	s := &slab{}
	initSlab(s, &a.geo, a.geo.linkBase(a.nextID.Add(1)), block)
	a.stats.AllocatedSlabs.Add(1)
	a.trackLive()
	return s, nil
}

// releaseRing returns every slab of r to the backing allocator.
func (a *Allocator) releaseRing(r *ring) int {
	n := 0
	for s := r.pop(); s != nil; s = r.pop() {
		if Class(s.class.Load()) != Untracked {
			a.stats.LiveSlabs.Add(-1)
		}
		block := s.slots
		s.slots = nil
		a.backing.Free(block)
		a.stats.FreedSlabs.Add(1)
		n++
	}
	return n
}

// tryCollectAndReclassify drains the delayed list of s and moves it if the
// drain left it empty or not too full. The caller has exclusive ownership
// of the delayed list.
func (a *Allocator) tryCollectAndReclassify(d *domainRings, s *slab) {
	if s.flushDelayed() == 0 {
		return
	}
	switch {
	case s.allocCount == 0:
		a.reclassify(d, s, Untracked)
	case a.notTooFull(s):
		a.reclassify(d, s, Class(s.class.Load()))
	}
}

// tryCollectOneYoung reclaims at most one young slab that every owner has
// already freed remotely, without stopping the world.
//
// Remote deletes could otherwise fill slabs faster than scans drain them.
// Old slabs are left alone: a slab that survived one minor pass will likely
// be drained by the next one.
func (a *Allocator) tryCollectOneYoung(d *domainRings) {
	s := d.young.head
	if s == nil {
		return
	}
	for {
		// A zero anticipated count with slots still counted as allocated
		// means only delayed frees remain, and no one else can push: every
		// slot is already free.
		if s.anticipated() == 0 {
			a.tryCollectAndReclassify(d, s)
			return
		}
		s = s.nextSlab
		if s == d.young.head {
			return
		}
	}
}

// collectRing drains every delayed list in r.
func (a *Allocator) collectRing(d *domainRings, r *ring) {
	d.scratch = r.snapshot(d.scratch[:0])
	for _, s := range d.scratch {
		a.tryCollectAndReclassify(d, s)
	}
	clear(d.scratch)
}

// collectRings applies every delayed free of d. The world is stopped.
//
// The current slab goes to the back of the young ring first, so that after
// promotion it is among the first old slabs considered for allocation.
func (a *Allocator) collectRings(d *domainRings) {
	a.stats.RingCollections.Add(1)
	start := time.Now()
	if s := d.current.head; s != nil {
		a.reclassify(d, s, Young)
	}
	a.collectRing(d, d.young)
	a.collectRing(d, d.old)
	stats.AddDuration(&a.stats.RingCollectTime, nil, time.Since(start))
}
