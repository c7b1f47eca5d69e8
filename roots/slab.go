package roots

import (
	"sync"
	"sync/atomic"

	"github.com/joshuapare/slabroot/gc"
)

// slab is a fixed-capacity block of root slots plus its header.
//
// Unallocated slots hold a link word: the link of the next free slot, or
// the slab's base link, which terminates the list. Allocated slots hold
// managed values. A word is a link iff it masks to the slab's base, so no
// occupancy bitmap is needed.
//
// Access rules:
//   - the local free list is guarded by the owning domain's lock
//   - slot contents belong to whoever owns the root, and to the collector
//     while the world is stopped or while mu is held
//   - the delayed list may be pushed to by anyone holding mu or any domain
//     lock, and is drained only with mu held and exclusive ownership
type slab struct {
	// Local free list. Guarded by the owning domain's lock.
	next       gc.Value // first free link, or base when full
	end        int32    // last free slot, meaningful when the list is non-empty
	allocCount int32

	domain atomic.Int32 // owning domain, -1 while unowned
	class  atomic.Int32 // Class, kept in sync with ring membership

	// Ring membership, owned by the ring.
	prev, nextSlab *slab
	ring           *ring

	// Delayed free list.
	delayedHead  atomic.Uintptr // first delayed link, or base when empty
	delayedEnd   int32          // last delayed slot, set by the push that found the list empty
	delayedCount atomic.Int32   // non-positive delta applied to allocCount at flush

	mu sync.Mutex

	base  uintptr
	geo   *geometry
	slots []gc.Value
}

// initSlab threads every slot onto the local free list.
func initSlab(s *slab, g *geometry, base uintptr, slots []gc.Value) {
	s.geo = g
	s.base = base
	s.slots = slots
	s.prev = s
	s.nextSlab = s
	s.ring = nil
	s.domain.Store(-1)
	s.class.Store(int32(Untracked))

	last := len(slots) - 1
	for i := range last {
		slots[i] = s.link(i + 1)
	}
	slots[last] = s.terminator()
	s.next = s.link(0)
	s.end = int32(last)
	s.allocCount = 0

	s.delayedHead.Store(uintptr(s.terminator()))
	s.delayedEnd = -1
	s.delayedCount.Store(0)
}

// link returns the link word naming slot i.
func (s *slab) link(i int) gc.Value {
	return gc.Value(s.base + headerBytes + uintptr(i)*wordSize)
}

// index returns the slot named by link word l.
func (s *slab) index(l gc.Value) int {
	return int((uintptr(l) - s.base - headerBytes) / wordSize)
}

// terminator is the empty-list marker: the link of the header itself.
func (s *slab) terminator() gc.Value { return gc.Value(s.base) }

// isMember reports whether w is a link word of this slab, i.e. whether
// the slot holding it is free. Bit 0 is kept by the mask, so odd words
// never qualify.
func (s *slab) isMember(w gc.Value) bool {
	return uintptr(w)&s.geo.memberMask == s.base
}

// full reports whether the local free list is empty.
func (s *slab) full() bool { return s.next == s.terminator() }

// anticipated returns the allocation count once delayed frees are applied.
// Racy outside of exclusive ownership; a heuristic there, exact under STW.
func (s *slab) anticipated() int32 {
	return s.allocCount + s.delayedCount.Load()
}

// alloc pops the head of the local free list and stores v there.
// The caller holds the owning domain's lock and has checked !full().
func (s *slab) alloc(v gc.Value) Handle {
	i := s.index(s.next)
	s.next = s.slots[i]
	s.allocCount++
	s.slots[i] = v
	return Handle{s: s, i: int32(i)}
}

// freeLocal pushes slot i back onto the local free list. It reports whether
// the allocation count landed on a multiple of the dealloc threshold.
// The caller holds the owning domain's lock.
func (s *slab) freeLocal(i int32) bool {
	next := s.next
	s.slots[i] = next
	if next == s.terminator() {
		s.end = i
	}
	s.next = s.link(int(i))
	s.allocCount--
	return s.allocCount&s.geo.thresholdMask == 0
}

// pushDelayed records a free of slot i that the caller cannot apply to the
// local list. The caller holds mu or some domain lock.
//
// Pushes use a single exchange and never a CAS loop. Delayed lists are only
// drained with exclusive ownership, never popped, so there is no ABA hazard.
func (s *slab) pushDelayed(i int32) {
	l := s.link(int(i))
	old := gc.Value(s.delayedHead.Swap(uintptr(l)))
	s.slots[i] = old
	if old == s.terminator() {
		s.delayedEnd = i
	}
	// The decrement publishes the slot write and delayedEnd to whoever
	// later observes the count.
	s.delayedCount.Add(-1)
}

// flushDelayed splices the delayed list in front of the local list and
// returns the number of slots it carried. The caller has exclusive
// ownership: the world is stopped, or no other party owns a slot.
func (s *slab) flushDelayed() int {
	pending := s.delayedCount.Load()
	if pending == 0 {
		return 0
	}
	s.mu.Lock()
	pending = s.delayedCount.Load()
	if s.full() {
		s.end = s.delayedEnd
	}
	s.allocCount += pending
	s.delayedCount.Store(0)
	list := s.next
	s.next = gc.Value(s.delayedHead.Load())
	s.delayedHead.Store(uintptr(s.terminator()))
	s.slots[s.delayedEnd] = list
	s.delayedEnd = -1
	s.mu.Unlock()
	return int(-pending)
}
