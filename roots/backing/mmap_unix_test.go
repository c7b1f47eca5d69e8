//go:build unix

package backing

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabroot/gc"
)

func TestMmapAllocReadWrite(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping mmap test in short mode")
	}
	var m Mmap
	block, err := m.Alloc(2032)
	require.NoError(t, err)
	require.Len(t, block, 2032)

	// Anonymous mappings start zeroed.
	require.Equal(t, gc.Value(0), block[0])
	require.Equal(t, gc.Value(0), block[len(block)-1])

	for i := range block {
		block[i] = gc.Value(i*2 + 1)
	}
	for i := range block {
		require.Equal(t, gc.Value(i*2+1), block[i])
	}
	m.Free(block)
}

func TestMmapRejectsBadSize(t *testing.T) {
	_, err := Mmap{}.Alloc(0)
	require.ErrorIs(t, err, ErrBadSize)

	// Freeing an empty block is a no-op.
	Mmap{}.Free(nil)
}

func TestMmapUnderLimit(t *testing.T) {
	l := Limit(Mmap{}, 1)
	block, err := l.Alloc(64)
	require.NoError(t, err)
	_, err = l.Alloc(64)
	require.ErrorIs(t, err, ErrExhausted)
	l.Free(block)
	require.Zero(t, l.Live())
}
