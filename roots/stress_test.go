package roots

import (
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/joshuapare/slabroot/gc/sim"
)

// TestStress_CrossDomainDeletes runs domains that create roots and hand
// some of them to each other for deletion, with and without locks, while a
// collector runs minor and major passes. Debug validation checks every ring
// around every scan.
func TestStress_CrossDomainDeletes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping stress test in short mode")
	}
	const domains = 4
	e := newTestEnv(t, domains, domains, nil)
	require.NoError(t, e.a.Setup())

	inbox := make([]chan Handle, domains)
	for i := range inbox {
		inbox[i] = make(chan Handle, 1024)
	}
	var stop atomic.Bool
	var created, deleted atomic.Int64
	var wg sync.WaitGroup

	for id, d := range e.doms {
		wg.Add(1)
		go func() {
			defer wg.Done()
			rng := rand.New(rand.NewPCG(uint64(id), 7))
			var mine []Handle
			for !stop.Load() {
				d.Lock()
				for range 64 {
					v := e.rt.AllocOld()
					if rng.IntN(2) == 0 {
						v = e.rt.AllocYoung()
					}
					h, err := e.a.Create(d, v)
					if err != nil {
						d.Unlock()
						t.Errorf("domain %d: %v", id, err)
						return
					}
					created.Add(1)
					mine = append(mine, h)
				}
				// Local deletes.
				for len(mine) > 256 {
					i := rng.IntN(len(mine))
					e.a.Delete(d, mine[i])
					deleted.Add(1)
					mine[i] = mine[len(mine)-1]
					mine = mine[:len(mine)-1]
				}
				// Remote deletes with our lock held.
			drain:
				for {
					select {
					case h := <-inbox[id]:
						e.a.Delete(d, h)
						deleted.Add(1)
					default:
						break drain
					}
				}
				d.Unlock()

				// Hand some roots to a neighbor, delete some without a lock.
				for range 16 {
					if len(mine) == 0 {
						break
					}
					h := mine[len(mine)-1]
					mine = mine[:len(mine)-1]
					if rng.IntN(2) == 0 {
						e.a.Delete(sim.Foreign(), h)
						deleted.Add(1)
						continue
					}
					select {
					case inbox[(id+1)%domains] <- h:
					default:
						e.a.Delete(nil, h)
						deleted.Add(1)
					}
				}
			}
			d.Lock()
			for _, h := range mine {
				e.a.Delete(d, h)
				deleted.Add(1)
			}
			d.Unlock()
		}()
	}

	deadline := time.Now().Add(500 * time.Millisecond)
	for i := 0; time.Now().Before(deadline); i++ {
		if i%4 == 3 {
			e.rt.MajorGC()
		} else {
			e.rt.MinorGC()
		}
	}
	stop.Store(true)
	wg.Wait()

	// Whatever is still queued is deleted from outside every domain.
	for _, ch := range inbox {
		close(ch)
		for h := range ch {
			e.a.Delete(sim.Foreign(), h)
			deleted.Add(1)
		}
	}
	require.Equal(t, created.Load(), deleted.Load())

	e.rt.MinorGC()
	e.rt.MajorGC()
	e.check()
	assert.Zero(t, e.roots())
	assert.Positive(t, e.a.Stats().MinorCollections)
}
