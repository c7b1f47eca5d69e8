package roots

import (
	"errors"
	"fmt"
)

var (
	// ErrOutOfMemory indicates that the backing allocator could not supply a
	// new slab. Callers may retry later; the allocator never retries itself.
	ErrOutOfMemory = errors.New("slabroot: out of memory")

	// ErrPermission indicates an operation invoked without the required
	// domain lock, or from outside every domain. Always a caller bug.
	ErrPermission = errors.New("slabroot: domain lock not held")

	// ErrInvalid indicates that the host hooks were found tampered with.
	// Permanent: every later allocation fails.
	ErrInvalid = errors.New("slabroot: hooks overwritten, allocator disabled")

	// ErrTornDown indicates an operation after Teardown. Permanent.
	ErrTornDown = errors.New("slabroot: torn down")

	// ErrNotSetup indicates an operation on an allocator that was never set up.
	ErrNotSetup = errors.New("slabroot: not set up")

	// ErrInvalidConfig indicates a Config that cannot describe a slab layout.
	ErrInvalidConfig = errors.New("slabroot: invalid config")
)

// InvariantError reports a corrupted root set. It is raised as a panic by
// internal assertions and returned as an error by CheckInvariants.
type InvariantError struct {
	Domain int    // owning domain of the offending ring, -1 for orphans
	Ring   string // ring name, empty when not ring-specific
	Detail string
}

func (e *InvariantError) Error() string {
	if e.Ring == "" {
		return fmt.Sprintf("slabroot: invariant violated: %s", e.Detail)
	}
	return fmt.Sprintf("slabroot: invariant violated in domain %d %s ring: %s", e.Domain, e.Ring, e.Detail)
}

// invariant panics with an InvariantError when cond is false.
func invariant(cond bool, format string, args ...any) {
	if !cond {
		panic(&InvariantError{Domain: -1, Detail: fmt.Sprintf(format, args...)})
	}
}

// errorForStatus maps a non-running status to its permanent error.
func errorForStatus(s Status) error {
	switch s {
	case StatusTornDown:
		return ErrTornDown
	case StatusInvalid:
		return ErrInvalid
	case StatusNotSetup:
		return ErrNotSetup
	}
	return nil
}
