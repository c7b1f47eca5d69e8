package roots

import (
	"io"

	"github.com/joshuapare/slabroot/roots/stats"
)

// Stats returns a copy of the counters. Informational only.
func (a *Allocator) Stats() stats.Snapshot {
	snap := a.stats.Snapshot()
	snap.LogSlabSize = a.geo.logSize
	snap.SlabCapacity = a.geo.capacity
	snap.Debug = a.debug
	snap.ForceRemote = a.forceRemote
	return snap
}

// PrintStats writes the human-readable counter report to w.
func (a *Allocator) PrintStats(w io.Writer) error {
	return a.Stats().Print(w)
}

// RingInfo describes one ring.
type RingInfo struct {
	Slabs int `json:"slabs"`
	Roots int `json:"roots"` // anticipated occupied slots
}

// DomainInfo describes the slabs owned by one domain.
type DomainInfo struct {
	ID      int      `json:"id"`
	Old     RingInfo `json:"old"`
	Young   RingInfo `json:"young"`
	Current RingInfo `json:"current"`
	Free    RingInfo `json:"free"`
}

// Roots returns the number of live roots across the domain's rings.
func (d DomainInfo) Roots() int {
	return d.Old.Roots + d.Young.Roots + d.Current.Roots
}

// Diagnostics is a structural view of the allocator.
type Diagnostics struct {
	Status      string       `json:"status"`
	Domains     []DomainInfo `json:"domains"`
	OrphanOld   RingInfo     `json:"orphan_old"`
	OrphanYoung RingInfo     `json:"orphan_young"`
}

// Roots returns the number of live roots, orphans included.
func (g Diagnostics) Roots() int {
	n := g.OrphanOld.Roots + g.OrphanYoung.Roots
	for _, d := range g.Domains {
		n += d.Roots()
	}
	return n
}

// Diagnostics walks the rings. Like CheckInvariants, it needs exclusive
// access to the allocator.
func (a *Allocator) Diagnostics() Diagnostics {
	g := Diagnostics{Status: a.Status().String()}
	for _, d := range a.domains {
		if d == nil {
			continue
		}
		g.Domains = append(g.Domains, DomainInfo{
			ID:      d.id,
			Old:     ringInfo(d.old),
			Young:   ringInfo(d.young),
			Current: ringInfo(d.current),
			Free:    ringInfo(d.free),
		})
	}
	a.orphanMu.Lock()
	g.OrphanOld = ringInfo(a.orphanOld)
	g.OrphanYoung = ringInfo(a.orphanYoung)
	a.orphanMu.Unlock()
	return g
}

func ringInfo(r *ring) RingInfo {
	info := RingInfo{Slabs: r.count}
	s := r.head
	if s == nil {
		return info
	}
	for {
		info.Roots += int(s.anticipated())
		s = s.nextSlab
		if s == r.head {
			return info
		}
	}
}
