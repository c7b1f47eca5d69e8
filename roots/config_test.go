package roots

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConfig_Geometry(t *testing.T) {
	tests := []struct {
		name      string
		cfg       Config
		wantErr   bool
		threshold int32
	}{
		{"default", Config{}, false, 1 << DefaultLogSlabSize / 16},
		{"smallest", Config{LogSlabSize: minLogSlabSize}, false, 64},
		{"largest", Config{LogSlabSize: maxLogSlabSize}, false, 1 << maxLogSlabSize / 16},
		{"custom threshold", Config{LogSlabSize: 12, DeallocThreshold: 8}, false, 8},
		{"too small", Config{LogSlabSize: minLogSlabSize - 1}, true, 0},
		{"too large", Config{LogSlabSize: maxLogSlabSize + 1}, true, 0},
		{"threshold not a power of two", Config{DeallocThreshold: 12}, true, 0},
		{"negative threshold", Config{DeallocThreshold: -4}, true, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := newGeometry(tt.cfg)
			if tt.wantErr {
				require.ErrorIs(t, err, ErrInvalidConfig)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.threshold, g.threshold)
			assert.Equal(t, tt.threshold-1, g.thresholdMask)
			assert.Equal(t, int((g.size-headerBytes)/wordSize), g.capacity)
			assert.LessOrEqual(t, headerBytes+uintptr(g.capacity)*wordSize, g.size)

			capacity, err := tt.cfg.Capacity()
			require.NoError(t, err)
			assert.Equal(t, g.capacity, capacity)
		})
	}
}

func TestConfig_LinkBase(t *testing.T) {
	g, err := newGeometry(Config{LogSlabSize: 16})
	require.NoError(t, err)

	seen := map[uintptr]bool{}
	for id := uint64(1); id < 64; id++ {
		b := g.linkBase(id)
		assert.Equal(t, linkWindow, b&linkWindow, "inside the link window")
		assert.Zero(t, b&(g.size-1), "aligned to the slab size")
		assert.False(t, seen[b], "ids map to distinct bases")
		seen[b] = true
	}
	// Ids wrap inside the window.
	assert.Equal(t, g.linkBase(1), g.linkBase(1+1<<g.idBits))
}
