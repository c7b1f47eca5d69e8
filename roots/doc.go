// Package roots registers long-lived roots for a generational, moving host
// collector.
//
// # Overview
//
// External code that keeps a managed value alive outside the managed heap
// holds a Handle: one slot in a fixed-size slab. The host collector calls
// back into the allocator at the start of every collection pass and visits
// every live slot, rewriting slots whose values moved.
//
// # Slabs
//
// A slab is a header plus Capacity slots. A free slot holds a link word
// naming the next free slot; an occupied slot holds a value. Link words are
// synthetic addresses in the top nibble of the address space, derived from
// the slab's id, so "is this slot free" is a mask and compare:
//
//	free(w) := w &^ (SlabSize-2) == base
//
// The host guarantees managed values never lie in that window. Debug mode
// (Config.Debug or SLABROOT_DEBUG=1) validates the encoding around every
// scan.
//
// Each slab has two free lists:
//
//   - the local list, used by the owning domain under its lock
//   - the delayed list, a lock-free stack that other domains push onto
//
// Delayed lists are drained with the slab mutex held, only while the world
// is stopped or when every slot has already been freed remotely. Pushes
// therefore need a single atomic exchange and no CAS loop.
//
// # Rings and tiers
//
// Each domain keeps its slabs in four rings: current (the allocation
// target), young, old and free. Young slabs may hold young values and are
// scanned on every pass; old slabs are scanned on major passes only; free
// slabs are empty and released at the next major pass.
//
//	current --full--> young --minor pass--> old
//	   ^                |                    |
//	   +---- reused ----+---- emptied -------+--> free --major--> released
//
// Slabs that fall to at most DeallocThreshold roots move to the front of
// their ring so the slow path finds them first; full slabs accumulate at
// the back.
//
// # Domains
//
// Every call takes a gc.Mutator naming the calling domain. Create and
// Modify require the domain lock and fail with ErrPermission otherwise.
// Delete never fails: without the owner's lock it goes to the delayed list.
// A terminating domain's slabs become orphans until the next surviving
// domain to scan adopts them.
//
// # Usage Example
//
//	a, err := roots.New(rt, nil)
//	if err != nil {
//	    return err
//	}
//	h, err := a.Create(dom, v)
//	if err != nil {
//	    return err
//	}
//	defer a.Delete(dom, h)
//	use(h.Get())
package roots
