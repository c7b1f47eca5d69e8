package stats

import (
	"io"

	"golang.org/x/text/language"
	"golang.org/x/text/message"
)

// mib returns the size of count slabs in MiB.
func mib(count int64, logSlabSize uint) int64 {
	shift := int(logSlabSize) - 20
	if shift >= 0 {
		return count << shift
	}
	return count >> -shift
}

// Print writes a human-readable report with grouped digits.
func (s Snapshot) Print(w io.Writer) error {
	p := message.NewPrinter(language.English)
	pr := &errWriter{p: p, w: w}

	pr.printf("minor collections: %d\n", s.MinorCollections)
	pr.printf("major collections (and others): %d\n", s.MajorCollections)

	if s.AllocatedSlabs == 0 {
		return pr.err
	}

	pr.printf("log slab size: %d (%d KiB, %d roots/slab)\n",
		s.LogSlabSize, int64(1)<<s.LogSlabSize>>10, s.SlabCapacity)
	pr.printf("debug: %t\nforce remote: %t\n", s.Debug, s.ForceRemote)

	pr.printf("total allocated slabs: %d (%d MiB)\n", s.AllocatedSlabs, mib(s.AllocatedSlabs, s.LogSlabSize))
	pr.printf("peak allocated slabs: %d (%d MiB)\n", s.PeakSlabs, mib(s.PeakSlabs, s.LogSlabSize))
	pr.printf("total emptied slabs: %d (%d MiB)\n", s.EmptiedSlabs, mib(s.EmptiedSlabs, s.LogSlabSize))
	pr.printf("total freed slabs: %d (%d MiB)\n", s.FreedSlabs, mib(s.FreedSlabs, s.LogSlabSize))

	pr.printf("work per minor: %.0f\n", s.WorkPerMinor())
	pr.printf("work per major: %.0f\n", s.WorkPerMajor())
	pr.printf("total scanning work: %d (%d minor, %d major)\n",
		s.ScanWorkMinor+s.ScanWorkMajor, s.ScanWorkMinor, s.ScanWorkMajor)
	if s.Debug {
		pr.printf("young hits (non-minor collection): %.2f%%\n", average(s.YoungHitGeneric*100, s.ScanWorkMajor))
	}
	pr.printf("young hits (minor collection): %.2f%%\n", average(s.YoungHitFastScan*100, s.ScanWorkMinor))

	pr.printf("average time per minor: %.3fµs\n", average(s.MinorTimeNs, s.MinorCollections)/1000)
	pr.printf("average time per major: %.3fµs\n", average(s.MajorTimeNs, s.MajorCollections)/1000)
	pr.printf("peak time per minor: %.3fµs\n", float64(s.PeakMinorTimeNs)/1000)
	pr.printf("peak time per major: %.3fµs\n", float64(s.PeakMajorTimeNs)/1000)
	pr.printf("average time per ring collection: %.3fµs\n", average(s.RingCollectNs, s.RingCollections)/1000)

	pr.printf("total create slow: %d\n", s.CreateSlow)
	pr.printf("total delete slow: %d\n", s.DeleteSlow)
	pr.printf("total modify slow: %d\n", s.ModifySlow)
	pr.printf("total ring operations: %d\n", s.RingOperations)
	pr.printf("ring operations per slab: %.2f\n", s.RingOperationsPerSlab())
	pr.printf("total ring collections: %d\n", s.RingCollections)

	if s.Debug {
		created := s.CreateYoung + s.CreateOld
		deleted := s.DeleteYoung + s.DeleteOld
		pr.printf("total created: %d (%.2f%% young)\n", created, average(s.CreateYoung*100, created))
		pr.printf("total deleted: %d (%.2f%% young)\n", deleted, average(s.DeleteYoung*100, deleted))
		pr.printf("total modified: %d\n", s.Modify)
	}
	return pr.err
}

// errWriter keeps the first write error so Print can stay linear.
type errWriter struct {
	p   *message.Printer
	w   io.Writer
	err error
}

func (e *errWriter) printf(format string, args ...any) {
	if e.err != nil {
		return
	}
	_, e.err = e.p.Fprintf(e.w, format, args...)
}
