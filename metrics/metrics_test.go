package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNilMetricsAreNoOps(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveAllocation("data")
		m.ObserveSeal(time.Millisecond)
		m.SetFreeSegments(3)
		m.ObserveCache(true)
		m.ObserveClean(1, 2, nil)
	})
}

func TestCollectors(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveAllocation("data")
	m.ObserveAllocation("data")
	m.ObserveAllocation("inode")
	assert.Equal(t, 2.0, testutil.ToFloat64(m.Allocations.WithLabelValues("data")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Allocations.WithLabelValues("inode")))

	m.ObserveSeal(time.Millisecond)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Seals))

	m.SetFreeSegments(7)
	assert.Equal(t, 7.0, testutil.ToFloat64(m.FreeSegments))

	m.ObserveCache(false)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CacheLookups.WithLabelValues("miss")))

	m.ObserveClean(4, 6, nil)
	m.ObserveClean(0, 0, errors.New("boom"))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.RelocatedBlocks))
	assert.Equal(t, 6.0, testutil.ToFloat64(m.DeadBlocks))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.CleanedSegments.WithLabelValues("error")))

	families, err := reg.Gather()
	require.NoError(t, err)
	assert.NotEmpty(t, families)
}
