package addr

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-lfs/geom"
)

func testGeom(width uint64) *geom.Geometry {
	cfg := geom.DefaultConfig()
	cfg.BlockSize = 1024
	cfg.PointerWidth = width
	cfg.BlocksPerSegment = 16
	cfg.Segments = 8
	return geom.MustNew(cfg)
}

func TestFlatid(t *testing.T) {
	assert := assert.New(t)
	g := testGeom(8)
	a := MkAddr(3, 5)
	assert.Equal(uint64(3*16+5), a.Flatid(g))
	assert.Equal(a, FromFlatid(g, a.Flatid(g)))
	assert.Equal(g.SegmentStart(3)+5, a.Blkno(g))
	assert.True(a.Valid(g))
	assert.False(MkAddr(8, 0).Valid(g))
	assert.False(MkAddr(0, 16).Valid(g))
}

func TestNil(t *testing.T) {
	for _, w := range []uint64{4, 8} {
		g := testGeom(w)
		assert.Equal(t, g.NilPtr(), Nil.Flatid(g))
		assert.True(t, FromFlatid(g, g.NilPtr()).IsNil())
		assert.False(t, Nil.Valid(g))
		assert.Equal(t, "nil", Nil.String())
	}
}

func TestPointerCodec(t *testing.T) {
	for _, w := range []uint64{4, 8} {
		g := testGeom(w)
		b := make([]byte, 4*w)
		Put(g, b, 0, MkAddr(7, 15))
		Put(g, b, w, Nil)
		Put(g, b, 3*w, MkAddr(0, 0))
		assert.Equal(t, MkAddr(7, 15), Get(g, b, 0))
		assert.True(t, Get(g, b, w).IsNil())
		assert.Equal(t, MkAddr(0, 0), Get(g, b, 2*w), "zero bytes are address 0.0")
		assert.Equal(t, MkAddr(0, 0), Get(g, b, 3*w))
	}
}

func TestNarrowPointerLastAddress(t *testing.T) {
	cfg := geom.DefaultConfig()
	cfg.PointerWidth = 4
	cfg.BlocksPerSegment = 1 << 16
	cfg.Segments = 1 << 16
	_, err := geom.New(cfg)
	assert.Error(t, err, "the last flat id would be the nil pointer")

	cfg.Segments = 1<<16 - 1
	g := geom.MustNew(cfg)
	last := MkAddr(g.Segments-1, g.BlocksPerSegment-1)
	b := make([]byte, 4)
	Put(g, b, 0, last)
	assert.Equal(t, last, Get(g, b, 0))
	assert.False(t, Get(g, b, 0).IsNil())
}
