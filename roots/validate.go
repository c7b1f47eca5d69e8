package roots

import (
	"fmt"

	"github.com/joshuapare/slabroot/gc"
)

// CheckInvariants walks every ring and slab and returns the first
// inconsistency found as an *InvariantError.
//
// The caller must have exclusive access to the whole allocator: the world
// is stopped, or the host is quiescent.
func (a *Allocator) CheckInvariants() error {
	for _, d := range a.domains {
		if d == nil {
			continue
		}
		if err := a.validateDomain(d); err != nil {
			return err
		}
	}
	a.orphanMu.Lock()
	defer a.orphanMu.Unlock()
	if err := a.validateRing(a.orphanOld, -1); err != nil {
		return err
	}
	return a.validateRing(a.orphanYoung, -1)
}

// mustValidate is the debug-mode assertion around scans.
func (a *Allocator) mustValidate(d *domainRings) {
	if err := a.validateDomain(d); err != nil {
		panic(err)
	}
}

func (a *Allocator) validateDomain(d *domainRings) error {
	if d.current.count > 1 {
		return &InvariantError{Domain: d.id, Ring: d.current.name,
			Detail: fmt.Sprintf("%d slabs in the current ring", d.current.count)}
	}
	for _, r := range d.all() {
		if err := a.validateRing(r, d.id); err != nil {
			return err
		}
	}
	return nil
}

func (a *Allocator) validateRing(r *ring, domain int) error {
	fail := func(format string, args ...any) error {
		return &InvariantError{Domain: domain, Ring: r.name, Detail: fmt.Sprintf(format, args...)}
	}
	if r.head == nil {
		if r.count != 0 {
			return fail("empty ring counts %d slabs", r.count)
		}
		return nil
	}
	n := 0
	s := r.head
	for {
		n++
		if n > r.count {
			return fail("ring longer than its count of %d", r.count)
		}
		switch {
		case s.ring != r:
			return fail("slab belongs to %s ring", ringName(s.ring))
		case int(s.domain.Load()) != domain:
			return fail("slab owned by domain %d", s.domain.Load())
		case Class(s.class.Load()) != r.class:
			return fail("slab is %v", Class(s.class.Load()))
		case s.nextSlab == nil || s.nextSlab.prev != s:
			return fail("broken next link")
		case s.prev == nil || s.prev.nextSlab != s:
			return fail("broken prev link")
		}
		s.mu.Lock()
		detail := a.validateSlab(s)
		s.mu.Unlock()
		if detail != "" {
			return fail("%s", detail)
		}
		s = s.nextSlab
		if s == r.head {
			break
		}
	}
	if n != r.count {
		return fail("ring holds %d slabs, counts %d", n, r.count)
	}
	return nil
}

// validateSlab returns a description of the first problem with s, or "".
func (a *Allocator) validateSlab(s *slab) string {
	capacity := len(s.slots)
	if capacity != a.geo.capacity {
		return fmt.Sprintf("slab has %d slots, want %d", capacity, a.geo.capacity)
	}

	free, detail := listLength(s, s.next)
	if detail != "" {
		return "local " + detail
	}
	if want := capacity - int(s.allocCount); free != want {
		return fmt.Sprintf("local free list holds %d slots, want %d", free, want)
	}
	delayed, detail := listLength(s, gc.Value(s.delayedHead.Load()))
	if detail != "" {
		return "delayed " + detail
	}
	if want := -int(s.delayedCount.Load()); delayed != want {
		return fmt.Sprintf("delayed free list holds %d slots, want %d", delayed, want)
	}

	class := Class(s.class.Load())
	occupied := 0
	for _, v := range s.slots {
		if s.isMember(v) {
			continue
		}
		occupied++
		if class != Young && a.rt.IsYoung(v) {
			return fmt.Sprintf("%v slab holds young value %#x", class, uintptr(v))
		}
	}
	if want := int(s.anticipated()); occupied != want {
		return fmt.Sprintf("%d occupied slots, anticipated %d", occupied, want)
	}
	return ""
}

// listLength follows a free list from link head to the terminator.
func listLength(s *slab, head gc.Value) (int, string) {
	n := 0
	for l := head; l != s.terminator(); n++ {
		if !s.isMember(l) {
			return n, fmt.Sprintf("free list reaches foreign word %#x", uintptr(l))
		}
		i := s.index(l)
		if i < 0 || i >= len(s.slots) {
			return n, fmt.Sprintf("free list link %#x outside the slab", uintptr(l))
		}
		if n >= len(s.slots) {
			return n, "free list cycles"
		}
		l = s.slots[i]
	}
	return n, ""
}
