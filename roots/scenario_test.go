package roots

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/gc/sim"
	"github.com/joshuapare/slabroot/roots/backing"
)

// TestScenario_DeleteEveryOther creates 1000 roots, deletes every other
// one, scans, and checks that exactly the survivors are visited unchanged.
func TestScenario_DeleteEveryOther(t *testing.T) {
	for _, forceRemote := range []bool{false, true} {
		name := "local"
		if forceRemote {
			name = "force remote"
		}
		t.Run(name, func(t *testing.T) {
			cfg := smallConfig()
			cfg.ForceRemote = forceRemote
			e := newTestEnv(t, 1, 1, cfg)
			d := e.doms[0]

			hs, vs := e.createN(d, 1000)
			var keptH []Handle
			var keptV []gc.Value
			for i, h := range hs {
				if i%2 == 1 {
					e.del(d, h)
					continue
				}
				keptH = append(keptH, h)
				keptV = append(keptV, vs[i])
			}

			e.rt.MajorGC()
			e.check()
			assert.Equal(t, 500, e.roots())
			e.requireValues(keptH, keptV)

			marked := e.rt.LastMarked()
			assert.Len(t, marked, 500)
			for _, v := range keptV {
				assert.Equal(t, 1, marked[v])
			}
		})
	}
}

// TestScenario_OrphanAdoption terminates a domain with partially filled
// slabs and checks that a surviving domain adopts them intact.
func TestScenario_OrphanAdoption(t *testing.T) {
	e := newTestEnv(t, 3, 2, nil)
	d0, d1 := e.doms[0], e.doms[1]
	e.create(d1, 1)

	// Two old slabs and a partially filled young one.
	oldH, oldV := e.createN(d0, 2*e.capacity()-5)
	e.rt.MinorGC()
	var youngV []gc.Value
	var youngH []Handle
	d0.Do(func() {
		for range e.capacity() / 2 {
			v := e.rt.AllocYoung()
			h, err := e.a.Create(d0, v)
			require.NoError(t, err)
			youngV = append(youngV, v)
			youngH = append(youngH, h)
		}
	})
	for i := 0; i < len(oldH); i += 3 {
		e.del(d0, oldH[i])
	}
	var keptH []Handle
	var keptV []gc.Value
	for i := range oldH {
		if i%3 != 0 {
			keptH = append(keptH, oldH[i])
			keptV = append(keptV, oldV[i])
		}
	}
	keptH = append(keptH, youngH...)
	keptV = append(keptV, youngV...)
	total := len(keptH)

	e.rt.TerminateDomain(d0)
	diag := e.a.Diagnostics()
	require.Len(t, diag.Domains, 2)
	assert.Zero(t, e.domainInfo(0).Roots(), "terminated id keeps empty rings")
	assert.Equal(t, total, diag.OrphanOld.Roots+diag.OrphanYoung.Roots)
	assert.NotZero(t, diag.OrphanYoung.Slabs)
	e.check()

	// Deletes on orphans take the delayed path.
	e.del(d1, keptH[0])
	keptH, keptV = keptH[1:], keptV[1:]
	e.check()

	e.rt.MinorGC()
	diag = e.a.Diagnostics()
	assert.Zero(t, diag.OrphanOld.Slabs+diag.OrphanYoung.Slabs)
	assert.Equal(t, total-1+1, e.domainInfo(d1.DomainID()).Roots())
	e.requireValues(keptH, keptV)
	e.check()

	// Adopted roots are now local to d1.
	for _, h := range keptH {
		assert.Equal(t, int32(d1.DomainID()), h.s.domain.Load())
		e.del(d1, h)
	}
	e.rt.MajorGC()
	assert.Equal(t, 1, e.roots())
	e.check()
}

// TestScenario_RespawnedDomainIsolated checks that a domain reusing a
// terminated id does not touch the orphans left under that id.
func TestScenario_RespawnedDomainIsolated(t *testing.T) {
	e := newTestEnv(t, 2, 1, nil)
	d0 := e.doms[0]
	hs, vs := e.createN(d0, 10)
	e.rt.TerminateDomain(d0)

	re, err := e.rt.NewDomain()
	require.NoError(t, err)
	require.Equal(t, 0, re.DomainID())

	e.del(re, hs[0])
	assert.Equal(t, int64(1), e.a.Stats().DeleteSlow, "orphan delete is remote")
	e.create(re, 5)
	e.check()

	e.rt.MinorGC()
	e.requireValues(hs[1:], vs[1:])
	assert.Equal(t, 10, e.roots())
	e.check()
}

// TestScenario_OrphansSurviveMinor checks that young orphans are forwarded
// by the next minor pass when the only scanning domain has never created a
// root: either a domain respawned under the terminated id, or an idle
// survivor.
func TestScenario_OrphansSurviveMinor(t *testing.T) {
	tests := []struct {
		name    string
		respawn bool
	}{
		{"respawned id", true},
		{"idle survivor", false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			live := 2
			if tt.respawn {
				live = 1
			}
			e := newTestEnv(t, 2, live, nil)
			d0 := e.doms[0]
			v := e.rt.AllocYoung()
			h := e.create(d0, v)
			e.rt.TerminateDomain(d0)

			var scanner *sim.Domain
			if tt.respawn {
				re, err := e.rt.NewDomain()
				require.NoError(t, err)
				require.Equal(t, 0, re.DomainID())
				scanner = re
			} else {
				scanner = e.doms[1]
			}

			e.rt.MinorGC()
			require.True(t, e.rt.IsOld(h.Get()), "young orphan was forwarded")
			assert.Equal(t, e.rt.Resolve(v), h.Get())
			diag := e.a.Diagnostics()
			assert.Zero(t, diag.OrphanOld.Slabs+diag.OrphanYoung.Slabs)
			assert.Equal(t, 1, e.domainInfo(scanner.DomainID()).Roots())
			e.check()

			e.del(scanner, h)
			e.rt.MajorGC()
			assert.Zero(t, e.roots())
			e.check()
		})
	}
}

// TestScenario_OutOfMemory exhausts the backing allocator.
func TestScenario_OutOfMemory(t *testing.T) {
	limit := backing.Limit(nil, 2)
	cfg := smallConfig()
	cfg.Backing = limit
	e := newTestEnv(t, 1, 1, cfg)
	d := e.doms[0]

	var hs []Handle
	var oomErr error
	d.Do(func() {
		for {
			h, err := e.a.Create(d, e.rt.AllocOld())
			if err != nil {
				oomErr = err
				require.True(t, h.IsZero())
				return
			}
			hs = append(hs, h)
		}
	})
	require.ErrorIs(t, oomErr, ErrOutOfMemory)
	require.ErrorIs(t, oomErr, backing.ErrExhausted)
	assert.Len(t, hs, 2*e.capacity())
	e.check()

	// Failure is stable and leaves the allocator consistent.
	d.Do(func() {
		_, err := e.a.Create(d, 1)
		require.ErrorIs(t, err, ErrOutOfMemory)
	})
	e.check()

	for _, h := range hs {
		e.del(d, h)
	}
	info := e.domainInfo(0)
	assert.Equal(t, 2, info.Free.Slabs)
	e.rt.MajorGC()
	assert.Zero(t, limit.Live())
	e.check()

	// More budget means allocation recovers.
	limit.SetBudget(3)
	h := e.create(d, 42)
	assert.Equal(t, gc.Value(42), h.Get())
	e.check()
}

func TestInvariantError_Reported(t *testing.T) {
	e := newTestEnv(t, 1, 1, nil)
	d := e.doms[0]
	hs, _ := e.createN(d, 3)

	s := hs[0].s
	s.allocCount++ // corrupt the count
	err := e.a.CheckInvariants()
	var inv *InvariantError
	require.True(t, errors.As(err, &inv))
	assert.Equal(t, 0, inv.Domain)
	assert.Equal(t, "current", inv.Ring)
	assert.Contains(t, inv.Error(), "local free list")
	s.allocCount--
	e.check()

	assert.PanicsWithError(t, (&InvariantError{Domain: -1, Detail: "delete of a zero handle"}).Error(), func() {
		e.a.Delete(d, Handle{})
	})
}
