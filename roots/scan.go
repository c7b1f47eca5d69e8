package roots

import (
	"log/slog"
	"time"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/roots/stats"
)

// scan is installed as the host's root-scanning hook. The world is stopped.
func (a *Allocator) scan(m gc.Mutator, p gc.Pass) {
	switch Status(a.status.Load()) {
	case StatusNotSetup, StatusTornDown:
		return
	}
	if p.Minor {
		a.stats.MinorCollections.Add(1)
	} else {
		a.stats.MajorCollections.Add(1)
	}
	if p.Domain < 0 || p.Domain >= len(a.domains) {
		return
	}
	d := a.domains[p.Domain]
	if d == nil {
		if !a.hasOrphans() {
			return
		}
		// A domain that never created a root still has to adopt, or
		// nobody scans the orphans.
		d = a.newDomainRings(p.Domain)
		a.domains[p.Domain] = d
	}
	if !a.rt.HooksIntact() {
		a.invalidate()
	}

	start := time.Now()
	a.scanRoots(d, p)
	elapsed := time.Since(start)
	if p.Minor {
		stats.AddDuration(&a.stats.MinorTime, &a.stats.PeakMinorTime, elapsed)
	} else {
		stats.AddDuration(&a.stats.MajorTime, &a.stats.PeakMajorTime, elapsed)
	}
}

func (a *Allocator) scanRoots(d *domainRings, p gc.Pass) {
	if a.debug {
		a.mustValidate(d)
	}
	a.collectRings(d)
	// The first surviving domain to scan takes over the slabs of
	// terminated domains.
	a.adoptOrphans(d)

	work := a.scanRing(d, d.young, p.OnlyYoung, p.Visit)
	if !p.OnlyYoung {
		work += a.scanRing(d, d.old, false, p.Visit)
	}

	if p.Minor {
		a.promoteYoung(d)
	} else if n := a.releaseRing(d.free); n > 0 {
		a.log.Debug("released empty slabs", slog.Int("domain", d.id), slog.Int("slabs", n))
	}
	if p.OnlyYoung {
		a.stats.ScanWorkMinor.Add(int64(work))
	} else {
		a.stats.ScanWorkMajor.Add(int64(work))
	}
	if a.debug {
		a.mustValidate(d)
	}
}

// scanRing visits r and returns the number of slots examined.
func (a *Allocator) scanRing(d *domainRings, r *ring, onlyYoung bool, visit gc.Visitor) int {
	d.scratch = r.snapshot(d.scratch[:0])
	work := 0
	for _, s := range d.scratch {
		s.mu.Lock()
		if onlyYoung {
			work += a.scanYoung(s, visit)
		} else {
			work += a.scanGeneric(s, visit)
		}
		s.mu.Unlock()
	}
	clear(d.scratch)
	return work
}

// scanGeneric visits every occupied slot of s. It stops as soon as the
// expected number of occupied slots has been seen.
func (a *Allocator) scanGeneric(s *slab, visit gc.Visitor) int {
	toFind := s.anticipated()
	youngHits := 0
	i := 0
	for ; toFind > 0; i++ {
		invariant(i < len(s.slots), "slab holds fewer roots than its count of %d", s.anticipated())
		v := s.slots[i]
		if s.isMember(v) {
			continue
		}
		toFind--
		if a.debug && a.rt.IsYoung(v) {
			youngHits++
		}
		visit(v, &s.slots[i])
	}
	if youngHits > 0 {
		a.stats.YoungHitGeneric.Add(int64(youngHits))
	}
	return i
}

// scanYoung visits the slots of s that point into the young generation.
// Link words lie outside every heap range, so no membership test is needed.
func (a *Allocator) scanYoung(s *slab, visit gc.Visitor) int {
	lo, hi := a.rt.YoungRange()
	start, span := uintptr(lo), uintptr(hi)-uintptr(lo)
	youngHits := 0
	for i, v := range s.slots {
		if uintptr(v)-start < span && a.rt.IsYoung(v) {
			youngHits++
			visit(v, &s.slots[i])
		}
	}
	a.stats.YoungHitFastScan.Add(int64(youngHits))
	return len(s.slots)
}
