package roots

import "github.com/joshuapare/slabroot/gc"

// Class is the generational tier of a slab.
type Class int32

const (
	// Young slabs may hold roots into both generations. Scanned on
	// every pass.
	Young Class = iota
	// Old slabs hold roots into the old generation only. Scanned on
	// major passes.
	Old
	// Untracked slabs are empty and never scanned.
	Untracked
)

func (c Class) String() string {
	switch c {
	case Young:
		return "young"
	case Old:
		return "old"
	case Untracked:
		return "untracked"
	}
	return "unknown"
}

// Status is the lifecycle state of an Allocator.
type Status int32

const (
	StatusNotSetup Status = iota
	StatusRunning
	StatusTornDown
	StatusInvalid
)

func (s Status) String() string {
	switch s {
	case StatusNotSetup:
		return "NOT_SETUP"
	case StatusRunning:
		return "RUNNING"
	case StatusTornDown:
		return "TORE_DOWN"
	case StatusInvalid:
		return "INVALID"
	}
	return "UNKNOWN"
}

// Handle is a root: one slot in one slab.
//
// Handles follow an ownership discipline. Whoever owns a handle must pass it
// to Delete exactly once; using a handle after Delete, or after Modify
// replaced it, is undefined behavior and is not detected.
type Handle struct {
	s *slab
	i int32
}

// IsZero reports whether h is the zero Handle returned on failure.
func (h Handle) IsZero() bool { return h.s == nil }

// Get returns the value kept alive by h. The caller must hold a domain lock.
func (h Handle) Get() gc.Value { return h.s.slots[h.i] }

// Ref returns the cell holding the value kept alive by h. The collector
// rewrites the cell when it moves the value. The pointer is invalidated by
// Delete or Modify on h.
func (h Handle) Ref() *gc.Value { return &h.s.slots[h.i] }

// Tier returns the class of the slab holding h.
func (h Handle) Tier() Class { return Class(h.s.class.Load()) }
