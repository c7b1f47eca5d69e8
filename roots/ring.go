package roots

import "sync/atomic"

// ring is an intrusive circular doubly-linked list of slabs.
//
// Every member points back at its ring, so a slab can be unlinked from the
// middle without searching for the ring that holds it. The owner of the
// ring (a domain lock, the orphan mutex, or stop-the-world) serializes all
// operations.
type ring struct {
	head  *slab
	name  string
	class Class
	count int
	ops   *atomic.Int64
}

func newRing(name string, class Class, ops *atomic.Int64) *ring {
	return &ring{name: name, class: class, ops: ops}
}

func (r *ring) empty() bool { return r.head == nil }

func (r *ring) link(p, q *slab) {
	p.nextSlab = q
	q.prev = p
	r.ops.Add(1)
}

// pushBack inserts a detached slab just before the head.
func (r *ring) pushBack(s *slab) {
	invariant(s.ring == nil, "slab already in %s ring", ringName(s.ring))
	s.ring = r
	r.count++
	if r.head == nil {
		r.link(s, s)
		r.head = s
		return
	}
	last := r.head.prev
	r.link(last, s)
	r.link(s, r.head)
}

// remove unlinks s from r and leaves it detached.
func (r *ring) remove(s *slab) {
	invariant(s.ring == r, "slab in %s ring, not %s", ringName(s.ring), r.name)
	if s.nextSlab == s {
		r.head = nil
	} else {
		if r.head == s {
			r.head = s.nextSlab
		}
		r.link(s.prev, s.nextSlab)
	}
	r.link(s, s)
	s.ring = nil
	r.count--
}

// pop detaches and returns the head, or nil when r is empty.
func (r *ring) pop() *slab {
	s := r.head
	if s == nil {
		return nil
	}
	r.remove(s)
	return s
}

// rotateToFront makes member s the head without changing cyclic order.
func (r *ring) rotateToFront(s *slab) {
	invariant(s.ring == r, "rotating a slab that is not in %s ring", r.name)
	r.head = s
}

// popAvailable pops the head if it has a free slot.
//
// Slabs that empty out enough are moved to the front and slabs that fill up
// are moved to the back, so a full head means no member is worth trying.
func (r *ring) popAvailable() *slab {
	if r.head == nil || r.head.full() {
		return nil
	}
	return r.pop()
}

// snapshot appends the members of r, head first, to buf.
func (r *ring) snapshot(buf []*slab) []*slab {
	s := r.head
	if s == nil {
		return buf
	}
	for {
		buf = append(buf, s)
		s = s.nextSlab
		if s == r.head {
			return buf
		}
	}
}

func ringName(r *ring) string {
	if r == nil {
		return "no"
	}
	return r.name
}
