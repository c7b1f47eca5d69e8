// Package backing provides the memory that slab slots live in.
//
// The allocator asks for one block of slot words per slab. Blocks hold plain
// machine words, never Go pointers, so they may come from the Go heap or
// from memory the Go collector does not know about.
//
// Implementations:
//   - Heap: Go heap slices
//   - Mmap: anonymous private mappings (unix), heap elsewhere
//   - Limited: failure injection wrapper for out-of-memory testing
package backing

import (
	"errors"
	"sync"

	"github.com/joshuapare/slabroot/gc"
)

var (
	// ErrExhausted indicates that a Limited allocator has used up its budget.
	ErrExhausted = errors.New("backing: allocation budget exhausted")

	// ErrBadSize indicates a non-positive block size.
	ErrBadSize = errors.New("backing: block size must be positive")
)

// Allocator hands out fixed-size blocks of slot words.
type Allocator interface {
	// Alloc returns a block of exactly n words. The contents are unspecified.
	Alloc(n int) ([]gc.Value, error)

	// Free releases a block previously returned by Alloc.
	Free(block []gc.Value)
}

// Heap allocates blocks on the Go heap.
type Heap struct{}

// Alloc implements Allocator.
func (Heap) Alloc(n int) ([]gc.Value, error) {
	if n <= 0 {
		return nil, ErrBadSize
	}
	return make([]gc.Value, n), nil
}

// Free implements Allocator. The block is left to the Go collector.
func (Heap) Free([]gc.Value) {}

// Limited wraps an allocator and fails once a fixed number of blocks has
// been handed out. Freed blocks do not restore the budget.
type Limited struct {
	inner Allocator

	mu     sync.Mutex
	budget int
	allocs int
	frees  int
}

// Limit returns a Limited allocator that allows n successful allocations.
// A nil inner allocator means Heap.
func Limit(inner Allocator, n int) *Limited {
	if inner == nil {
		inner = Heap{}
	}
	return &Limited{inner: inner, budget: n}
}

// Alloc implements Allocator.
func (l *Limited) Alloc(n int) ([]gc.Value, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.allocs >= l.budget {
		return nil, ErrExhausted
	}
	block, err := l.inner.Alloc(n)
	if err != nil {
		return nil, err
	}
	l.allocs++
	return block, nil
}

// Free implements Allocator.
func (l *Limited) Free(block []gc.Value) {
	l.mu.Lock()
	l.frees++
	l.mu.Unlock()
	l.inner.Free(block)
}

// SetBudget changes the total number of allocations allowed.
func (l *Limited) SetBudget(n int) {
	l.mu.Lock()
	l.budget = n
	l.mu.Unlock()
}

// Live returns the number of blocks allocated and not yet freed.
func (l *Limited) Live() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocs - l.frees
}

// Allocs returns the number of successful allocations so far.
func (l *Limited) Allocs() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.allocs
}
