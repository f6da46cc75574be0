// Package geom holds the constants a filesystem is formatted with and
// everything derived from them: indirect fan-out, the direct pointer count
// that fills an inode block, the maximum file size, and the on-disk segment
// layout.
package geom

import (
	"fmt"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/util"
)

const (
	// InodeMetaSize is the fixed metadata prefix of an inode block: inum,
	// size, mtime (8 bytes each), permissions and a reserved word (4 each).
	InodeMetaSize uint64 = 32

	// SummarySize is the segment summary preceding the table entries:
	// magic, seq, used, table checksum.
	SummarySize uint64 = 32

	// EntrySize is one packed segment table entry: inum (8), tier (4),
	// depth (4), four path indices (4 each), checksum (8).
	EntrySize uint64 = 40

	// MaxPathLen is the longest ripple: inode, three indirect blocks, data.
	MaxPathLen uint64 = 5
)

var ErrInvalid = errors.New("invalid geometry")

// Config is what a filesystem is formatted with.
type Config struct {
	BlockSize        uint64 `mapstructure:"block_size" validate:"required"`
	PointerWidth     uint64 `mapstructure:"pointer_width" validate:"oneof=4 8"`
	DirectCount      uint64 `mapstructure:"direct_count"`
	SingleCount      uint64 `mapstructure:"single_count"`
	DoubleCount      uint64 `mapstructure:"double_count"`
	TripleCount      uint64 `mapstructure:"triple_count"`
	BlocksPerSegment uint64 `mapstructure:"blocks_per_segment" validate:"gte=5"`
	Segments         uint64 `mapstructure:"segments" validate:"gte=1"`
	MaxInodes        uint64 `mapstructure:"max_inodes" validate:"gte=1"`
}

// DefaultConfig is a 4KiB-block filesystem with the classic 10/10/1
// indirect layout and 4MiB segments.
func DefaultConfig() Config {
	return Config{
		BlockSize:        4096,
		PointerWidth:     8,
		SingleCount:      10,
		DoubleCount:      10,
		TripleCount:      1,
		BlocksPerSegment: 1024,
		Segments:         64,
		MaxInodes:        1 << 24,
	}
}

// Geometry is immutable once built.
type Geometry struct {
	Config

	// P is the number of pointers in one indirect block.
	P uint64

	// MaxDataBlocks is the number of addressable data blocks per file.
	MaxDataBlocks uint64

	TableBlocks   uint64
	SegmentStride uint64
	DiskBlocks    uint64

	// per-tier capacity in data blocks
	singleCap uint64
	doubleCap uint64
	tripleCap uint64
}

func invalid(format string, a ...interface{}) error {
	return errors.Wrap(ErrInvalid, fmt.Sprintf(format, a...))
}

// MaxDirect is the number of direct pointers that fit in an inode block
// after the metadata and the indirect pointer table.
func (cfg Config) MaxDirect() uint64 {
	fixed := InodeMetaSize + (cfg.SingleCount+cfg.DoubleCount+cfg.TripleCount)*cfg.PointerWidth
	if cfg.PointerWidth == 0 || fixed >= cfg.BlockSize {
		return 0
	}
	return (cfg.BlockSize - fixed) / cfg.PointerWidth
}

func isPow2(n uint64) bool {
	return n != 0 && n&(n-1) == 0
}

func New(cfg Config) (*Geometry, error) {
	if !isPow2(cfg.BlockSize) || cfg.BlockSize < 512 || cfg.BlockSize > 65536 {
		return nil, invalid("block size %d must be a power of two in [512, 65536]", cfg.BlockSize)
	}
	if cfg.PointerWidth != 4 && cfg.PointerWidth != 8 {
		return nil, invalid("pointer width %d must be 4 or 8", cfg.PointerWidth)
	}
	maxDirect := cfg.MaxDirect()
	if maxDirect == 0 {
		return nil, invalid("indirect table does not fit in a %d-byte inode block", cfg.BlockSize)
	}
	if cfg.DirectCount == 0 {
		cfg.DirectCount = maxDirect
	}
	if cfg.DirectCount > maxDirect {
		return nil, invalid("%d direct pointers exceed the %d that fit in an inode block",
			cfg.DirectCount, maxDirect)
	}
	if cfg.BlocksPerSegment < MaxPathLen {
		return nil, invalid("segments of %d blocks cannot hold a %d-block ripple",
			cfg.BlocksPerSegment, MaxPathLen)
	}
	if cfg.Segments == 0 {
		return nil, invalid("need at least one segment")
	}
	if cfg.MaxInodes == 0 {
		return nil, invalid("need at least one inode")
	}

	g := &Geometry{Config: cfg, P: cfg.BlockSize / cfg.PointerWidth}
	if g.P > 1<<32 || cfg.DirectCount > 1<<32 {
		return nil, invalid("fan-out does not fit a 32-bit path index")
	}
	p2 := g.P * g.P
	if util.MulOverflows(p2, g.P) {
		return nil, invalid("fan-out %d overflows triple-indirect arithmetic", g.P)
	}
	p3 := p2 * g.P
	for _, m := range [][2]uint64{{cfg.SingleCount, g.P}, {cfg.DoubleCount, p2}, {cfg.TripleCount, p3}} {
		if util.MulOverflows(m[0], m[1]) {
			return nil, invalid("indirect capacity overflows")
		}
	}
	g.singleCap = cfg.SingleCount * g.P
	g.doubleCap = cfg.DoubleCount * p2
	g.tripleCap = cfg.TripleCount * p3

	total := cfg.DirectCount
	for _, c := range []uint64{g.singleCap, g.doubleCap, g.tripleCap} {
		if util.SumOverflows(total, c) {
			return nil, invalid("maximum file size overflows")
		}
		total += c
	}
	g.MaxDataBlocks = total

	g.TableBlocks = util.RoundUp(SummarySize+cfg.BlocksPerSegment*EntrySize, cfg.BlockSize)
	g.SegmentStride = cfg.BlocksPerSegment + g.TableBlocks
	if util.MulOverflows(g.SegmentStride, cfg.Segments) {
		return nil, invalid("disk size overflows")
	}
	g.DiskBlocks = 1 + g.SegmentStride*cfg.Segments

	// every flat id seg*BPS+slot must be below the nil pointer
	if util.MulOverflows(cfg.Segments, cfg.BlocksPerSegment) ||
		cfg.Segments*cfg.BlocksPerSegment > g.NilPtr() {
		return nil, invalid("%d segments of %d blocks overflow %d-byte pointers",
			cfg.Segments, cfg.BlocksPerSegment, cfg.PointerWidth)
	}
	return g, nil
}

// MustNew is New for configurations known to be valid.
func MustNew(cfg Config) *Geometry {
	g, err := New(cfg)
	if err != nil {
		panic(err)
	}
	return g
}

func (g *Geometry) SingleCap() uint64 { return g.singleCap }
func (g *Geometry) DoubleCap() uint64 { return g.doubleCap }
func (g *Geometry) TripleCap() uint64 { return g.tripleCap }

// MaxFileSize is the largest file, in bytes.
func (g *Geometry) MaxFileSize() uint64 {
	if util.MulOverflows(g.MaxDataBlocks, g.BlockSize) {
		return ^uint64(0)
	}
	return g.MaxDataBlocks * g.BlockSize
}

// SegmentStart is the device block of slot 0 of segment pos.
func (g *Geometry) SegmentStart(pos uint64) common.Bnum {
	return common.SUPERBLOCK + 1 + pos*g.SegmentStride
}

// TableStart is the first device block of segment pos's table region.
func (g *Geometry) TableStart(pos uint64) common.Bnum {
	return g.SegmentStart(pos) + g.BlocksPerSegment
}

// NilPtr is the on-disk "unallocated" pointer for this pointer width.
func (g *Geometry) NilPtr() uint64 {
	if g.PointerWidth == 4 {
		return 1<<32 - 1
	}
	return ^uint64(0)
}
