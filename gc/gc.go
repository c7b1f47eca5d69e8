package gc

// Value is a reference-sized managed word.
type Value uintptr

// Visitor is called by a scan for every live root. slot points at the root's
// storage and may be rewritten when the collector moves the referenced block.
type Visitor func(v Value, slot *Value)

// Pass describes one root-scanning request issued by the host collector.
type Pass struct {
	// Domain is the id of the domain whose roots are being scanned.
	Domain int

	// Minor is true while the host is inside a minor collection.
	// Surviving young slabs are promoted at the end of a minor pass;
	// empty slabs are released at the end of any other pass.
	Minor bool

	// OnlyYoung restricts visiting to roots that point into the young
	// generation.
	OnlyYoung bool

	// Visit receives every root selected by the pass.
	Visit Visitor
}

// Mutator is the calling context of an allocator operation.
//
// It replaces a thread-local "current domain" with an explicit argument.
// Implementations must answer for the goroutine performing the call.
type Mutator interface {
	// DomainID returns the id of the domain the caller runs in, or a
	// negative number when the caller runs outside every domain.
	DomainID() int

	// HoldsDomainLock reports whether the caller currently holds the
	// exclusive lock of its domain.
	HoldsDomainLock() bool
}

// Hooks are installed into the host by the allocator during setup.
type Hooks struct {
	// Scan is called at the start of every minor and major collection, once
	// per domain, while the world is stopped.
	Scan func(m Mutator, p Pass)

	// DomainTerminated is called while the world is stopped, on behalf of a
	// domain that is about to exit.
	DomainTerminated func(m Mutator)
}

// Runtime is the host collector as seen by the allocator.
type Runtime interface {
	// MaxDomains returns the fixed upper bound on concurrent domain ids.
	MaxDomains() int

	// InstallHooks registers hooks with the host. Previously installed
	// hooks must keep running (hooks chain).
	InstallHooks(h Hooks) error

	// HooksIntact reports whether the installed hooks are still in place.
	// A false result puts the allocator in its permanent invalid state.
	HooksIntact() bool

	// YoungRange returns the half-open address range [start, end) of the
	// young generation. It is used as a fast pre-filter only.
	YoungRange() (start, end Value)

	// IsYoung reports whether v is a managed block in the young generation.
	IsYoung(v Value) bool
}

// NoDomain is a Mutator for callers running outside every domain.
type NoDomain struct{}

// DomainID implements Mutator.
func (NoDomain) DomainID() int { return -1 }

// HoldsDomainLock implements Mutator.
func (NoDomain) HoldsDomainLock() bool { return false }
