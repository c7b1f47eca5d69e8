//go:build !unix

package backing

import "github.com/joshuapare/slabroot/gc"

// Mmap falls back to Go heap blocks where anonymous mappings are unavailable.
type Mmap struct{}

// Alloc implements Allocator.
func (Mmap) Alloc(n int) ([]gc.Value, error) { return Heap{}.Alloc(n) }

// Free implements Allocator.
func (Mmap) Free(block []gc.Value) { Heap{}.Free(block) }
