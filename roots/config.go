package roots

import (
	"fmt"
	"log/slog"
	"math/bits"
	"os"
	"unsafe"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/roots/backing"
)

// Runtime debug flag - controlled by SLABROOT_DEBUG env var.
var debugEnv = os.Getenv("SLABROOT_DEBUG") != ""

const (
	// wordSize is the size of one slot.
	wordSize = unsafe.Sizeof(gc.Value(0))

	// headerBytes is the slab header footprint, rounded up to a whole slot.
	// Slots and header together fit one slab-sized allocation unit.
	headerBytes = (unsafe.Sizeof(slab{}) + wordSize - 1) &^ (wordSize - 1)

	// Bounds on LogSlabSize. The upper bound keeps slot indices in an int32
	// and leaves link ids room below the link window.
	minLogSlabSize = 10
	maxLogSlabSize = 20

	// DefaultLogSlabSize gives 16 KiB slabs.
	DefaultLogSlabSize = 14
)

// linkWindow is the top nibble of the address space. Every slab link word
// lies inside it; the host guarantees that managed values never do.
const linkWindow = ^uintptr(0) &^ (^uintptr(0) >> 4)

// Config defines slab geometry and allocator behavior.
type Config struct {
	// Name for this configuration (for reports)
	Name string

	// LogSlabSize is log2 of the slab allocation unit in bytes.
	LogSlabSize uint

	// DeallocThreshold is a power of two, in slots. Each time a local free
	// leaves the allocation count at a multiple of it, the slab is
	// reconsidered for the front of its ring or for the free ring. A slab
	// whose count is at most DeallocThreshold is "not too full".
	// Zero means half the slab size in slots.
	DeallocThreshold int

	// ForceRemote sends every deletion through the delayed free list.
	// For testing only.
	ForceRemote bool

	// Debug validates every ring before and after each scan and keeps
	// young/old counters. SLABROOT_DEBUG=1 turns it on globally.
	Debug bool

	// Backing supplies slot memory. Nil means backing.Heap.
	Backing backing.Allocator

	// Logger receives slow-path events. Nil means the package logger.
	Logger *slog.Logger
}

// DefaultConfig is used when New receives a nil config.
var DefaultConfig = Config{
	Name:        "Default",
	LogSlabSize: DefaultLogSlabSize,
}

// geometry holds the layout values derived from a Config.
type geometry struct {
	logSize       uint
	size          uintptr // slab size in bytes
	memberMask    uintptr // clears the in-slab offset bits, keeps bit 0
	capacity      int     // slots per slab
	threshold     int32
	thresholdMask int32
	idBits        uint
}

// newGeometry validates cfg and computes the slab layout.
func newGeometry(cfg Config) (geometry, error) {
	logSize := cfg.LogSlabSize
	if logSize == 0 {
		logSize = DefaultLogSlabSize
	}
	if logSize < minLogSlabSize || logSize > maxLogSlabSize {
		return geometry{}, fmt.Errorf("%w: log slab size %d outside [%d, %d]",
			ErrInvalidConfig, logSize, minLogSlabSize, maxLogSlabSize)
	}
	size := uintptr(1) << logSize
	capacity := int((size - headerBytes) / wordSize)
	if capacity < 1 {
		return geometry{}, fmt.Errorf("%w: slab of %d bytes has no room for slots", ErrInvalidConfig, size)
	}

	threshold := cfg.DeallocThreshold
	if threshold == 0 {
		threshold = int(size / (2 * wordSize))
	}
	if threshold < 1 || threshold&(threshold-1) != 0 {
		return geometry{}, fmt.Errorf("%w: dealloc threshold %d is not a power of two", ErrInvalidConfig, threshold)
	}

	return geometry{
		logSize:       logSize,
		size:          size,
		memberMask:    ^(size - 2),
		capacity:      capacity,
		threshold:     int32(threshold),
		thresholdMask: int32(threshold - 1),
		idBits:        uint(bits.UintSize) - 4 - logSize,
	}, nil
}

// linkBase returns the link base of the slab with the given id. Ids wrap;
// two slabs sharing a base is harmless because membership is only ever
// tested against the enclosing slab.
func (g *geometry) linkBase(id uint64) uintptr {
	return linkWindow | uintptr(id&(1<<g.idBits-1))<<g.logSize
}

// Capacity returns the number of slots per slab for cfg.
func (cfg Config) Capacity() (int, error) {
	g, err := newGeometry(cfg)
	if err != nil {
		return 0, err
	}
	return g.capacity, nil
}
