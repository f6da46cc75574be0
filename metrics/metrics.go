// Package metrics exports prometheus collectors for the segment log and
// the cleaner.
//
// All methods are safe on a nil *Metrics, which records nothing.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "lfs"

type Metrics struct {
	// Allocations counts slot allocations by block kind.
	Allocations *prometheus.CounterVec

	Seals        prometheus.Counter
	SealDuration prometheus.Histogram

	FreeSegments prometheus.Gauge

	// CacheLookups counts sealed-block reads by "hit" or "miss".
	CacheLookups *prometheus.CounterVec

	// CleanedSegments counts cleaning runs by result.
	CleanedSegments *prometheus.CounterVec
	RelocatedBlocks prometheus.Counter
	DeadBlocks      prometheus.Counter
}

// New creates the collectors and registers them with reg, if non-nil.
// Registration failures panic; they only happen on duplicate setup.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Allocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "allocations_total",
			Help:      "Block slots allocated, by block kind",
		}, []string{"kind"}),
		Seals: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "seals_total",
			Help:      "Segments sealed and written",
		}),
		SealDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "seal_duration_seconds",
			Help:      "Time to write a sealed segment",
			Buckets:   prometheus.DefBuckets,
		}),
		FreeSegments: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "free_segments",
			Help:      "Segment positions available for new segments",
		}),
		CacheLookups: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "log",
			Name:      "cache_lookups_total",
			Help:      "Sealed block reads, by cache result",
		}, []string{"result"}),
		CleanedSegments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "segments_total",
			Help:      "Cleaning runs, by result",
		}, []string{"result"}),
		RelocatedBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "relocated_blocks_total",
			Help:      "Live blocks copied out of cleaned segments",
		}),
		DeadBlocks: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cleaner",
			Name:      "dead_blocks_total",
			Help:      "Superseded blocks reclaimed by cleaning",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Allocations,
			m.Seals,
			m.SealDuration,
			m.FreeSegments,
			m.CacheLookups,
			m.CleanedSegments,
			m.RelocatedBlocks,
			m.DeadBlocks,
		)
	}
	return m
}

func (m *Metrics) ObserveAllocation(kind string) {
	if m == nil {
		return
	}
	m.Allocations.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveSeal(d time.Duration) {
	if m == nil {
		return
	}
	m.Seals.Inc()
	m.SealDuration.Observe(d.Seconds())
}

func (m *Metrics) SetFreeSegments(n uint64) {
	if m == nil {
		return
	}
	m.FreeSegments.Set(float64(n))
}

func (m *Metrics) ObserveCache(hit bool) {
	if m == nil {
		return
	}
	if hit {
		m.CacheLookups.WithLabelValues("hit").Inc()
	} else {
		m.CacheLookups.WithLabelValues("miss").Inc()
	}
}

func (m *Metrics) ObserveClean(relocated uint64, dead uint64, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.CleanedSegments.WithLabelValues("error").Inc()
		return
	}
	m.CleanedSegments.WithLabelValues("ok").Inc()
	m.RelocatedBlocks.Add(float64(relocated))
	m.DeadBlocks.Add(float64(dead))
}
