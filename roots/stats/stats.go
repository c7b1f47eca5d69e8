// Package stats collects allocator counters and renders them for humans.
//
// Counters are updated with atomic operations from any goroutine. They are
// informational only: nothing in the allocator reads them back to make a
// decision.
package stats

import (
	"sync/atomic"
	"time"
)

// Counters holds the live allocator counters.
type Counters struct {
	MinorCollections atomic.Int64
	MajorCollections atomic.Int64

	CreateYoung atomic.Int64 // creates of young values (debug only)
	CreateOld   atomic.Int64 // creates of other values (debug only)
	CreateSlow  atomic.Int64
	DeleteYoung atomic.Int64 // deletes of young values (debug only)
	DeleteOld   atomic.Int64 // deletes of other values (debug only)
	DeleteSlow  atomic.Int64
	Modify      atomic.Int64
	ModifySlow  atomic.Int64

	RingCollections  atomic.Int64 // delayed-list reconciliation passes
	ScanWorkMinor    atomic.Int64 // slots examined during minor scans
	ScanWorkMajor    atomic.Int64 // slots examined during other scans
	MinorTime        atomic.Int64 // ns
	MajorTime        atomic.Int64 // ns
	RingCollectTime  atomic.Int64 // ns
	PeakMinorTime    atomic.Int64 // ns
	PeakMajorTime    atomic.Int64 // ns
	AllocatedSlabs   atomic.Int64
	EmptiedSlabs     atomic.Int64
	FreedSlabs       atomic.Int64
	LiveSlabs        atomic.Int64 // slabs currently in a tracked tier
	PeakSlabs        atomic.Int64
	RingOperations   atomic.Int64 // ring link mutations
	YoungHitGeneric  atomic.Int64 // young roots met by the generic scan (debug only)
	YoungHitFastScan atomic.Int64 // young roots met by the young-only scan
}

// StoreMax raises c to v if v is larger.
func StoreMax(c *atomic.Int64, v int64) {
	for {
		cur := c.Load()
		if v <= cur || c.CompareAndSwap(cur, v) {
			return
		}
	}
}

// AddDuration adds d to the total and records it as a peak if it is one.
func AddDuration(total, peak *atomic.Int64, d time.Duration) {
	total.Add(int64(d))
	if peak != nil {
		StoreMax(peak, int64(d))
	}
}

// Snapshot is a point-in-time copy of Counters plus configuration context.
type Snapshot struct {
	LogSlabSize  uint `json:"log_slab_size"`
	SlabCapacity int  `json:"slab_capacity"`
	Debug        bool `json:"debug"`
	ForceRemote  bool `json:"force_remote"`

	MinorCollections int64 `json:"minor_collections"`
	MajorCollections int64 `json:"major_collections"`

	CreateYoung int64 `json:"create_young"`
	CreateOld   int64 `json:"create_old"`
	CreateSlow  int64 `json:"create_slow"`
	DeleteYoung int64 `json:"delete_young"`
	DeleteOld   int64 `json:"delete_old"`
	DeleteSlow  int64 `json:"delete_slow"`
	Modify      int64 `json:"modify"`
	ModifySlow  int64 `json:"modify_slow"`

	RingCollections  int64 `json:"ring_collections"`
	ScanWorkMinor    int64 `json:"scan_work_minor"`
	ScanWorkMajor    int64 `json:"scan_work_major"`
	MinorTimeNs      int64 `json:"minor_time_ns"`
	MajorTimeNs      int64 `json:"major_time_ns"`
	RingCollectNs    int64 `json:"ring_collect_time_ns"`
	PeakMinorTimeNs  int64 `json:"peak_minor_time_ns"`
	PeakMajorTimeNs  int64 `json:"peak_major_time_ns"`
	AllocatedSlabs   int64 `json:"allocated_slabs"`
	EmptiedSlabs     int64 `json:"emptied_slabs"`
	FreedSlabs       int64 `json:"freed_slabs"`
	LiveSlabs        int64 `json:"live_slabs"`
	PeakSlabs        int64 `json:"peak_slabs"`
	RingOperations   int64 `json:"ring_operations"`
	YoungHitGeneric  int64 `json:"young_hit_generic"`
	YoungHitFastScan int64 `json:"young_hit_fast_scan"`
}

// Snapshot copies the counters. Individual fields are read atomically but
// the snapshot as a whole is not.
func (c *Counters) Snapshot() Snapshot {
	return Snapshot{
		MinorCollections: c.MinorCollections.Load(),
		MajorCollections: c.MajorCollections.Load(),
		CreateYoung:      c.CreateYoung.Load(),
		CreateOld:        c.CreateOld.Load(),
		CreateSlow:       c.CreateSlow.Load(),
		DeleteYoung:      c.DeleteYoung.Load(),
		DeleteOld:        c.DeleteOld.Load(),
		DeleteSlow:       c.DeleteSlow.Load(),
		Modify:           c.Modify.Load(),
		ModifySlow:       c.ModifySlow.Load(),
		RingCollections:  c.RingCollections.Load(),
		ScanWorkMinor:    c.ScanWorkMinor.Load(),
		ScanWorkMajor:    c.ScanWorkMajor.Load(),
		MinorTimeNs:      c.MinorTime.Load(),
		MajorTimeNs:      c.MajorTime.Load(),
		RingCollectNs:    c.RingCollectTime.Load(),
		PeakMinorTimeNs:  c.PeakMinorTime.Load(),
		PeakMajorTimeNs:  c.PeakMajorTime.Load(),
		AllocatedSlabs:   c.AllocatedSlabs.Load(),
		EmptiedSlabs:     c.EmptiedSlabs.Load(),
		FreedSlabs:       c.FreedSlabs.Load(),
		LiveSlabs:        c.LiveSlabs.Load(),
		PeakSlabs:        c.PeakSlabs.Load(),
		RingOperations:   c.RingOperations.Load(),
		YoungHitGeneric:  c.YoungHitGeneric.Load(),
		YoungHitFastScan: c.YoungHitFastScan.Load(),
	}
}

// average returns total/units, or 0 when there are no units.
func average(total, units int64) float64 {
	if units == 0 {
		return 0
	}
	return float64(total) / float64(units)
}

// WorkPerMinor returns the average number of slots examined per minor scan.
func (s Snapshot) WorkPerMinor() float64 { return average(s.ScanWorkMinor, s.MinorCollections) }

// WorkPerMajor returns the average number of slots examined per major scan.
func (s Snapshot) WorkPerMajor() float64 { return average(s.ScanWorkMajor, s.MajorCollections) }

// RingOperationsPerSlab returns ring link mutations per allocated slab.
func (s Snapshot) RingOperationsPerSlab() float64 {
	return average(s.RingOperations, s.AllocatedSlabs)
}
