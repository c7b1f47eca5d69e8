package roots

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/gc/sim"
)

func TestLifecycle_LazySetup(t *testing.T) {
	e := newTestEnv(t, 1, 1, nil)
	assert.Equal(t, StatusNotSetup, e.a.Status())
	assert.False(t, e.rt.HooksIntact(), "no hooks before the first create")

	e.create(e.doms[0], 1)
	assert.Equal(t, StatusRunning, e.a.Status())
	assert.True(t, e.rt.HooksIntact())
	require.NoError(t, e.a.Setup(), "setup is idempotent")
}

func TestLifecycle_ExplicitSetup(t *testing.T) {
	e := newTestEnv(t, 1, 1, nil)
	require.NoError(t, e.a.Setup())
	assert.Equal(t, StatusRunning, e.a.Status())

	// A scan of a domain that never created a root is a no-op.
	e.rt.MinorGC()
	e.rt.MajorGC()
	s := e.a.Stats()
	assert.Equal(t, int64(1), s.MinorCollections)
	assert.Equal(t, int64(1), s.MajorCollections)
	assert.Zero(t, s.RingCollections)
}

func TestLifecycle_Tamper(t *testing.T) {
	tests := []struct {
		name   string
		detect func(e *testEnv)
	}{
		{"slow path", func(e *testEnv) {
			d := e.doms[0]
			d.Do(func() {
				// Fill the current slab so the next create goes slow.
				for range e.capacity() - 1 {
					_, err := e.a.Create(d, 1)
					require.NoError(e.t, err)
				}
				_, err := e.a.Create(d, 1)
				require.ErrorIs(e.t, err, ErrInvalid)
			})
		}},
		{"scan", func(e *testEnv) { e.rt.MinorGC() }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := newTestEnv(t, 1, 1, nil)
			d := e.doms[0]
			h := e.create(d, 7)
			e.rt.Tamper()
			tt.detect(e)
			assert.Equal(t, StatusInvalid, e.a.Status())

			// Permanent, even on the fast path.
			d.Do(func() {
				_, err := e.a.Create(d, 1)
				require.ErrorIs(t, err, ErrInvalid)
			})
			require.ErrorIs(t, e.a.Setup(), ErrInvalid)

			// Existing roots stay scannable and deletable, but not
			// modifiable.
			e.rt.MajorGC()
			assert.Equal(t, gc.Value(7), h.Get())
			d.Do(func() {
				require.ErrorIs(t, e.a.Modify(d, &h, 9), ErrInvalid)
			})
			assert.Equal(t, gc.Value(7), h.Get())
			e.del(d, h)
			e.check()
		})
	}
}

func TestLifecycle_Teardown(t *testing.T) {
	e := newTestEnv(t, 2, 2, nil)
	hs, _ := e.createN(e.doms[0], 3*e.capacity())
	e.createN(e.doms[1], 10)
	e.rt.TerminateDomain(e.doms[1])
	before := e.a.Stats()
	require.Equal(t, int64(4), before.LiveSlabs)

	e.a.Teardown()
	assert.Equal(t, StatusTornDown, e.a.Status())
	after := e.a.Stats()
	assert.Zero(t, after.LiveSlabs)
	assert.Equal(t, before.AllocatedSlabs, after.FreedSlabs)
	assert.Empty(t, e.a.Diagnostics().Domains)

	// Scans are ignored, creates fail permanently.
	e.rt.MinorGC()
	assert.Equal(t, before.MinorCollections, e.a.Stats().MinorCollections)
	e.doms[0].Do(func() {
		_, err := e.a.Create(e.doms[0], 1)
		require.ErrorIs(t, err, ErrTornDown)
	})
	require.ErrorIs(t, e.a.Setup(), ErrTornDown)

	// Handles outlive their slabs: modify fails, delete does nothing.
	d := e.doms[0]
	require.NotPanics(t, func() {
		d.Do(func() {
			require.ErrorIs(t, e.a.Modify(d, &hs[0], 43), ErrTornDown)
			e.a.Delete(d, hs[1])
		})
		e.a.Delete(nil, hs[2])
		e.a.Delete(sim.Foreign(), hs[3])
	})
	assert.Zero(t, e.a.Stats().LiveSlabs)

	// Teardown is idempotent.
	e.a.Teardown()
	assert.Equal(t, StatusTornDown, e.a.Status())
}

func TestLifecycle_TeardownBeforeSetup(t *testing.T) {
	e := newTestEnv(t, 1, 1, nil)
	e.a.Teardown()
	assert.Equal(t, StatusNotSetup, e.a.Status())
}

func TestNew_Validation(t *testing.T) {
	_, err := New(nil, nil)
	require.ErrorIs(t, err, ErrInvalidConfig)

	_, err = New(sim.New(1), &Config{LogSlabSize: 4})
	require.ErrorIs(t, err, ErrInvalidConfig)

	a, err := New(sim.New(1), nil)
	require.NoError(t, err)
	assert.Equal(t, uint(DefaultLogSlabSize), a.Stats().LogSlabSize)
}

func TestStats_Report(t *testing.T) {
	e := newTestEnv(t, 1, 1, nil)
	d := e.doms[0]

	var buf bytes.Buffer
	require.NoError(t, e.a.PrintStats(&buf))
	assert.NotContains(t, buf.String(), "log slab size", "no slab section before any slab exists")

	hs, _ := e.createN(d, 2*e.capacity())
	d.Do(func() {
		for range 5 {
			_, err := e.a.Create(d, e.rt.AllocYoung())
			require.NoError(t, err)
		}
	})
	for _, h := range hs[:e.capacity()] {
		e.a.Delete(nil, h)
	}
	young := e.create(d, e.rt.AllocYoung())
	e.del(d, young)
	e.rt.MinorGC()
	e.rt.MajorGC()

	s := e.a.Stats()
	assert.Equal(t, int64(1), s.MinorCollections)
	assert.Equal(t, int64(1), s.MajorCollections)
	assert.Equal(t, int64(6), s.CreateYoung)
	assert.Equal(t, int64(1), s.DeleteYoung)
	assert.Equal(t, int64(e.capacity()), s.DeleteOld)
	assert.Equal(t, int64(2*e.capacity()), s.CreateOld)
	assert.Equal(t, int64(3), s.AllocatedSlabs)
	assert.Equal(t, int64(1), s.EmptiedSlabs)
	assert.Equal(t, int64(1), s.FreedSlabs)
	assert.Equal(t, int64(2), s.LiveSlabs)
	assert.Equal(t, int64(3), s.PeakSlabs)
	assert.Equal(t, int64(5), s.YoungHitFastScan)
	assert.Positive(t, s.RingOperations)
	assert.Positive(t, s.ScanWorkMinor)
	assert.Positive(t, s.ScanWorkMajor)
	assert.True(t, s.Debug)
	assert.Equal(t, e.capacity(), s.SlabCapacity)

	buf.Reset()
	require.NoError(t, e.a.PrintStats(&buf))
	assert.Contains(t, buf.String(), "log slab size: 10 (1 KiB")
	assert.Contains(t, buf.String(), "total deleted: ")
}
