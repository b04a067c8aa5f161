package tmem

import (
	"sync/atomic"
	"time"
)

// MetricsCollector defines an interface for collecting operational metrics.
// Implement this interface to integrate with monitoring systems like Prometheus.
//
// Example Prometheus integration:
//
//	type PrometheusCollector struct {
//	    stores prometheus.Counter
//	    full   prometheus.Counter
//	}
//
//	func (p *PrometheusCollector) RecordStore(d time.Duration, replaced bool, err error) {
//	    p.stores.Inc()
//	    if errors.Is(err, tmem.ErrOutOfSlots) {
//	        p.full.Inc()
//	    }
//	}
type MetricsCollector interface {
	// RecordStore is called after each store. replaced is true when an
	// existing page of the same key was overwritten in place.
	RecordStore(duration time.Duration, replaced bool, err error)

	// RecordLoad is called after each load. A miss reports ErrNotFound.
	RecordLoad(duration time.Duration, err error)

	// RecordInvalidate is called after each invalidate. found is false for
	// keys that were not cached.
	RecordInvalidate(duration time.Duration, found bool)

	// RecordInvalidateAll is called after each full drain.
	RecordInvalidateAll(drained int, duration time.Duration)

	// RecordViolation is called for every quarantined slot.
	RecordViolation(err error)
}

// NoopMetricsCollector is a no-op implementation of MetricsCollector.
type NoopMetricsCollector struct{}

func (NoopMetricsCollector) RecordStore(time.Duration, bool, error)  {}
func (NoopMetricsCollector) RecordLoad(time.Duration, error)         {}
func (NoopMetricsCollector) RecordInvalidate(time.Duration, bool)    {}
func (NoopMetricsCollector) RecordInvalidateAll(int, time.Duration) {}
func (NoopMetricsCollector) RecordViolation(error)                   {}

// BasicMetricsCollector provides simple in-memory metrics collection.
// Useful for debugging and basic monitoring without external dependencies.
type BasicMetricsCollector struct {
	StoreCount         atomic.Int64
	StoreReplaced      atomic.Int64
	StoreErrors        atomic.Int64
	StoreTotalNanos    atomic.Int64
	LoadCount          atomic.Int64
	LoadMisses         atomic.Int64
	LoadTotalNanos     atomic.Int64
	InvalidateCount    atomic.Int64
	InvalidateMisses   atomic.Int64
	InvalidateAllCount atomic.Int64
	DrainedPages       atomic.Int64
	Violations         atomic.Int64
}

// RecordStore implements MetricsCollector.
func (b *BasicMetricsCollector) RecordStore(duration time.Duration, replaced bool, err error) {
	b.StoreCount.Add(1)
	b.StoreTotalNanos.Add(duration.Nanoseconds())
	switch {
	case err != nil:
		b.StoreErrors.Add(1)
	case replaced:
		b.StoreReplaced.Add(1)
	}
}

// RecordLoad implements MetricsCollector.
func (b *BasicMetricsCollector) RecordLoad(duration time.Duration, err error) {
	b.LoadCount.Add(1)
	b.LoadTotalNanos.Add(duration.Nanoseconds())
	if err != nil {
		b.LoadMisses.Add(1)
	}
}

// RecordInvalidate implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidate(_ time.Duration, found bool) {
	b.InvalidateCount.Add(1)
	if !found {
		b.InvalidateMisses.Add(1)
	}
}

// RecordInvalidateAll implements MetricsCollector.
func (b *BasicMetricsCollector) RecordInvalidateAll(drained int, _ time.Duration) {
	b.InvalidateAllCount.Add(1)
	b.DrainedPages.Add(int64(drained))
}

// RecordViolation implements MetricsCollector.
func (b *BasicMetricsCollector) RecordViolation(error) {
	b.Violations.Add(1)
}

// GetStats returns a snapshot of current metrics.
func (b *BasicMetricsCollector) GetStats() BasicMetricsStats {
	return BasicMetricsStats{
		StoreCount:         b.StoreCount.Load(),
		StoreReplaced:      b.StoreReplaced.Load(),
		StoreErrors:        b.StoreErrors.Load(),
		StoreAvgNanos:      avg(b.StoreTotalNanos.Load(), b.StoreCount.Load()),
		LoadCount:          b.LoadCount.Load(),
		LoadMisses:         b.LoadMisses.Load(),
		LoadAvgNanos:       avg(b.LoadTotalNanos.Load(), b.LoadCount.Load()),
		InvalidateCount:    b.InvalidateCount.Load(),
		InvalidateMisses:   b.InvalidateMisses.Load(),
		InvalidateAllCount: b.InvalidateAllCount.Load(),
		DrainedPages:       b.DrainedPages.Load(),
		Violations:         b.Violations.Load(),
	}
}

func avg(total, count int64) int64 {
	if count == 0 {
		return 0
	}
	return total / count
}

// BasicMetricsStats is a snapshot of BasicMetricsCollector state.
type BasicMetricsStats struct {
	StoreCount         int64
	StoreReplaced      int64
	StoreErrors        int64
	StoreAvgNanos      int64
	LoadCount          int64
	LoadMisses         int64
	LoadAvgNanos       int64
	InvalidateCount    int64
	InvalidateMisses   int64
	InvalidateAllCount int64
	DrainedPages       int64
	Violations         int64
}
