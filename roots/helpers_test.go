package roots

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabroot/gc"
	"github.com/joshuapare/slabroot/gc/sim"
)

// ============================================================================
// Test Environment
// ============================================================================

// testEnv is an allocator on a simulated host with a few live domains.
type testEnv struct {
	t    testing.TB
	rt   *sim.Runtime
	a    *Allocator
	doms []*sim.Domain
}

// smallConfig gives 1 KiB slabs so tests cross slab boundaries quickly.
func smallConfig() *Config {
	return &Config{Name: "test", LogSlabSize: minLogSlabSize, Debug: true}
}

// newTestEnv creates a runtime with maxDomains ids and starts live of them.
func newTestEnv(t testing.TB, maxDomains, live int, cfg *Config) *testEnv {
	t.Helper()
	if cfg == nil {
		cfg = smallConfig()
	}
	rt := sim.New(maxDomains)
	a, err := New(rt, cfg)
	require.NoError(t, err)
	e := &testEnv{t: t, rt: rt, a: a}
	for range live {
		d, err := rt.NewDomain()
		require.NoError(t, err)
		e.doms = append(e.doms, d)
	}
	t.Cleanup(a.Teardown)
	return e
}

// capacity is the number of slots per slab.
func (e *testEnv) capacity() int { return e.a.geo.capacity }

// create registers v on d, taking d's lock.
func (e *testEnv) create(d *sim.Domain, v gc.Value) Handle {
	e.t.Helper()
	d.Lock()
	defer d.Unlock()
	h, err := e.a.Create(d, v)
	require.NoError(e.t, err)
	require.False(e.t, h.IsZero())
	return h
}

// createN registers n fresh old values on d.
func (e *testEnv) createN(d *sim.Domain, n int) ([]Handle, []gc.Value) {
	e.t.Helper()
	hs := make([]Handle, n)
	vs := make([]gc.Value, n)
	d.Lock()
	defer d.Unlock()
	for i := range n {
		vs[i] = e.rt.AllocOld()
		h, err := e.a.Create(d, vs[i])
		require.NoError(e.t, err)
		hs[i] = h
	}
	return hs, vs
}

// del deletes h from d with d's lock held.
func (e *testEnv) del(d *sim.Domain, h Handle) {
	d.Lock()
	defer d.Unlock()
	e.a.Delete(d, h)
}

// check fails the test if any ring or slab is inconsistent.
func (e *testEnv) check() {
	e.t.Helper()
	require.NoError(e.t, e.a.CheckInvariants())
}

// roots returns the number of live roots, orphans included.
func (e *testEnv) roots() int { return e.a.Diagnostics().Roots() }

// domainInfo returns the diagnostics of domain id.
func (e *testEnv) domainInfo(id int) DomainInfo {
	e.t.Helper()
	for _, d := range e.a.Diagnostics().Domains {
		if d.ID == id {
			return d
		}
	}
	e.t.Fatalf("domain %d has no rings", id)
	return DomainInfo{}
}

// requireValues checks that every handle still holds its (possibly moved)
// value.
func (e *testEnv) requireValues(hs []Handle, vs []gc.Value) {
	e.t.Helper()
	for i, h := range hs {
		require.Equal(e.t, e.rt.Resolve(vs[i]), h.Get(), "handle %d", i)
	}
}

// lockedMutator claims to hold the lock of an arbitrary domain id.
type lockedMutator int

func (m lockedMutator) DomainID() int       { return int(m) }
func (lockedMutator) HoldsDomainLock() bool { return true }
