package seglog

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/metrics"
)

// Option configures a Log at Format or Open.
type Option func(*cfg)

type cfg struct {
	log         *zap.Logger
	metrics     *metrics.Metrics
	cacheBlocks int
	scanWorkers int
	seqFloor    uint64
}

func defaultCfg() *cfg {
	return &cfg{
		log:         zap.NewNop(),
		cacheBlocks: 1024,
		scanWorkers: 8,
	}
}

// WithLogger sets the logger for segment lifecycle events.
func WithLogger(l *zap.Logger) Option {
	return func(c *cfg) {
		c.log = l
	}
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(c *cfg) {
		c.metrics = m
	}
}

// WithCacheSize bounds the number of sealed blocks kept in memory; zero
// disables the cache.
func WithCacheSize(blocks int) Option {
	return func(c *cfg) {
		c.cacheBlocks = blocks
	}
}

// WithScanWorkers sets how many segment tables are read in parallel at
// mount.
func WithScanWorkers(n int) Option {
	return func(c *cfg) {
		if n > 0 {
			c.scanWorkers = n
		}
	}
}

// WithSeqFloor makes the segments started after Open number above seq,
// even if the segments that carried higher numbers have been released.
func WithSeqFloor(seq uint64) Option {
	return func(c *cfg) {
		c.seqFloor = seq
	}
}
