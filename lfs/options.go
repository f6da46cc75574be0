package lfs

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/metrics"
)

type Option func(*cfg)

type cfg struct {
	log         *zap.Logger
	metrics     *metrics.Metrics
	imapPath    string
	cacheBlocks int
	scanWorkers int
}

func defaultCfg() *cfg {
	return &cfg{
		log:         zap.NewNop(),
		cacheBlocks: 1024,
		scanWorkers: 8,
	}
}

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

// WithInodeMapPath keeps the inode map in a bbolt database at path, so a
// mount only replays segments sealed since its last checkpoint. Without
// it the map lives in memory and every mount replays the whole log.
func WithInodeMapPath(path string) Option {
	return func(c *cfg) {
		c.imapPath = path
	}
}

func WithCacheSize(blocks int) Option {
	return func(c *cfg) {
		c.cacheBlocks = blocks
	}
}

func WithScanWorkers(n int) Option {
	return func(c *cfg) {
		c.scanWorkers = n
	}
}
