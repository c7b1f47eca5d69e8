// Package gc defines the contract between slabroot and the host collector.
//
// # Overview
//
// slabroot never traces the heap itself. It keeps a set of reference-sized
// cells (roots) alive on behalf of foreign code and enumerates them to the
// host collector at the start of every collection pass. The host is the
// only party that knows which values are managed, where the young
// generation lives, and which goroutine currently owns an execution domain.
//
// The host supplies:
//
//   - Runtime: fixed domain count, hook installation, hook integrity checks
//     and the young-generation address range
//   - Mutator: the explicit calling context passed to every allocator call
//   - Pass: one scan request, with a Visitor that may rewrite slots
//
// # Value Encoding
//
// A Value is an opaque machine word. The host must guarantee that no
// managed value ever falls inside the slab link window (the top nibble of
// the address space). slabroot uses words from that window to thread its
// free lists through unused slots.
//
// # Related Packages
//
//   - github.com/joshuapare/slabroot/roots: the allocator driven through these hooks
//   - github.com/joshuapare/slabroot/gc/sim: a simulated host for tests and tools
package gc
