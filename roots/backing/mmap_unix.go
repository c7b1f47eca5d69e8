//go:build unix

package backing

import (
	"fmt"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/joshuapare/slabroot/gc"
)

// Mmap allocates every block as its own anonymous private mapping.
//
// Blocks are page-aligned and invisible to the Go collector, which is safe
// because slots only ever hold plain words.
type Mmap struct{}

// Alloc implements Allocator.
func (Mmap) Alloc(n int) ([]gc.Value, error) {
	if n <= 0 {
		return nil, ErrBadSize
	}
	size := n * int(unsafe.Sizeof(gc.Value(0)))
	raw, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("backing: mmap %d bytes: %w", size, err)
	}
	return unsafe.Slice((*gc.Value)(unsafe.Pointer(unsafe.SliceData(raw))), n), nil
}

// Free implements Allocator.
func (Mmap) Free(block []gc.Value) {
	if len(block) == 0 {
		return
	}
	size := len(block) * int(unsafe.Sizeof(gc.Value(0)))
	raw := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(block))), size)
	// Munmap only fails for ranges that were never mapped.
	_ = unix.Munmap(raw)
}
