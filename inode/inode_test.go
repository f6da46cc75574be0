package inode

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/geom"
)

func testGeom(width uint64) *geom.Geometry {
	return geom.MustNew(geom.Config{
		BlockSize:        1024,
		PointerWidth:     width,
		SingleCount:      10,
		DoubleCount:      10,
		TripleCount:      1,
		BlocksPerSegment: 16,
		Segments:         4,
		MaxInodes:        64,
	})
}

func TestEncodeDecode(t *testing.T) {
	for _, w := range []uint64{4, 8} {
		g := testGeom(w)
		ip := MkInode(g, 9, 0644)
		ip.Size = 12345
		ip.Mtime = 1700000000000000000
		ip.Direct[0] = addr.MkAddr(1, 2)
		ip.Direct[g.DirectCount-1] = addr.MkAddr(3, 15)
		ip.Single[9] = addr.MkAddr(2, 0)
		ip.Triple[0] = addr.MkAddr(0, 7)

		b := ip.Encode(g)
		assert.Equal(t, g.BlockSize, uint64(len(b)))
		assert.Equal(t, ip, Decode(g, b))
	}
}

func TestFreshInodeIsAllHoles(t *testing.T) {
	g := testGeom(8)
	ip := Decode(g, MkInode(g, 3, 0).Encode(g))
	for _, tier := range []blockpath.Tier{blockpath.TierDirect, blockpath.TierSingle,
		blockpath.TierDouble, blockpath.TierTriple} {
		assert.Equal(t, tier.Slots(g), uint64(len(ip.Ptrs(tier))))
		for _, a := range ip.Ptrs(tier) {
			assert.True(t, a.IsNil())
		}
	}
}

func TestSlotLayout(t *testing.T) {
	assert := assert.New(t)
	g := testGeom(8)
	assert.Equal(uint64(32), Slot(g, blockpath.TierDirect, 0))
	assert.Equal(32+g.DirectCount*8, Slot(g, blockpath.TierSingle, 0))
	assert.Equal(32+(g.DirectCount+10)*8, Slot(g, blockpath.TierDouble, 0))
	assert.Equal(32+(g.DirectCount+20)*8, Slot(g, blockpath.TierTriple, 0))
	assert.LessOrEqual(Slot(g, blockpath.TierTriple, 1), g.BlockSize)

	ip := MkInode(g, 1, 0)
	ip.Double[4] = addr.MkAddr(2, 3)
	b := ip.Encode(g)
	assert.Equal(addr.MkAddr(2, 3), addr.Get(g, b, Slot(g, blockpath.TierDouble, 4)))
}

func TestBlocks(t *testing.T) {
	g := testGeom(8)
	ip := MkInode(g, 1, 0)
	assert.Equal(t, uint64(0), ip.Blocks(g))
	ip.Size = 1
	assert.Equal(t, uint64(1), ip.Blocks(g))
	ip.Size = 1024
	assert.Equal(t, uint64(1), ip.Blocks(g))
	ip.Size = 1025
	assert.Equal(t, uint64(2), ip.Blocks(g))
}
