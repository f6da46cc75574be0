package blockpath

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
)

// P = 128, 100 direct, 10/10/1 indirect
func smallGeom() *geom.Geometry {
	return geom.MustNew(geom.Config{
		BlockSize:        1024,
		PointerWidth:     8,
		DirectCount:      100,
		SingleCount:      10,
		DoubleCount:      10,
		TripleCount:      1,
		BlocksPerSegment: 16,
		Segments:         4,
		MaxInodes:        64,
	})
}

// a geometry small enough to enumerate every block
func tinyGeom() *geom.Geometry {
	return geom.MustNew(geom.Config{
		BlockSize:        512,
		PointerWidth:     8,
		DirectCount:      3,
		SingleCount:      2,
		DoubleCount:      2,
		TripleCount:      1,
		BlocksPerSegment: 8,
		Segments:         2,
		MaxInodes:        4,
	})
}

func TestLocateBoundaries(t *testing.T) {
	assert := assert.New(t)
	g := smallGeom()

	p, err := Locate(g, 0)
	require.NoError(t, err)
	assert.Equal(Path{TierDirect, 0, NA, NA, NA}, p)

	p, _ = Locate(g, 99)
	assert.Equal(Path{TierDirect, 99, NA, NA, NA}, p)

	p, _ = Locate(g, 100)
	assert.Equal(Path{TierSingle, 0, 0, NA, NA}, p)

	p, _ = Locate(g, 227)
	assert.Equal(Path{TierSingle, 127, 0, NA, NA}, p)

	p, _ = Locate(g, 228)
	assert.Equal(Path{TierSingle, 0, 1, NA, NA}, p)

	p, _ = Locate(g, 100+128*10)
	assert.Equal(Path{TierDouble, 0, 0, 0, NA}, p)

	p, _ = Locate(g, 100+128*10+128*128+130)
	assert.Equal(Path{TierDouble, 2, 1, 1, NA}, p)

	p, _ = Locate(g, 100+128*10+128*128*10)
	assert.Equal(Path{TierTriple, 0, 0, 0, 0}, p)

	p, err = Locate(g, g.MaxDataBlocks-1)
	require.NoError(t, err)
	assert.Equal(Path{TierTriple, 127, 127, 127, 0}, p)

	_, err = Locate(g, g.MaxDataBlocks)
	assert.True(errors.Is(err, ErrOutOfRange))
	_, err = Locate(g, ^uint64(0))
	assert.True(errors.Is(err, ErrOutOfRange))
}

func TestLocateExhaustive(t *testing.T) {
	g := tinyGeom()
	require.Equal(t, uint64(64), g.P)
	for n := uint64(0); n < g.MaxDataBlocks; n++ {
		p, err := Locate(g, n)
		require.NoError(t, err)
		require.True(t, p.Valid(g), "block %d: %v", n, p)
		m, err := Block(g, p)
		require.NoError(t, err)
		require.Equal(t, n, m)
	}
}

func TestLocateSampled(t *testing.T) {
	g := smallGeom()
	var prev Path
	for n := uint64(0); n < g.MaxDataBlocks; n += 997 {
		p, err := Locate(g, n)
		require.NoError(t, err)
		require.True(t, p.Valid(g))
		require.GreaterOrEqual(t, uint8(p.Tier), uint8(prev.Tier), "tiers are consumed in order")
		m, _ := Block(g, p)
		require.Equal(t, n, m)
		prev = p
	}
}

func TestIndices(t *testing.T) {
	assert := assert.New(t)
	assert.Equal([]uint64{7}, Path{TierDirect, 7, NA, NA, NA}.Indices())
	assert.Equal([]uint64{3, 7}, Path{TierSingle, 7, 3, NA, NA}.Indices())
	assert.Equal([]uint64{1, 3, 7}, Path{TierDouble, 7, 3, 1, NA}.Indices())
	assert.Equal([]uint64{0, 1, 3, 7}, Path{TierTriple, 7, 3, 1, 0}.Indices())
}

func TestBlockRejectsMalformed(t *testing.T) {
	g := smallGeom()
	for _, p := range []Path{
		{TierDirect, 100, NA, NA, NA},
		{TierDirect, 1, 0, NA, NA},
		{TierSingle, 128, 0, NA, NA},
		{TierSingle, 0, 10, NA, NA},
		{TierTriple, 0, 0, 0, 1},
		{TierInode, NA, NA, NA, NA},
	} {
		_, err := Block(g, p)
		assert.True(t, errors.Is(err, ErrOutOfRange), "%v", p)
	}
}

func TestBlockIDTree(t *testing.T) {
	assert := assert.New(t)
	g := smallGeom()
	p, _ := Locate(g, 100+128*10+128*128+130)
	id := DataID(5, p)

	assert.Equal(KindData, id.Kind())
	assert.Equal(uint8(3), id.Depth)
	assert.NoError(id.Validate(g))

	single := id.Parent()
	assert.Equal(KindIndirect, single.Kind())
	assert.Equal(uint64(2), id.Index())
	assert.Equal(id, single.Child(2))

	top := single.Parent()
	assert.Equal(TopID(5, TierDouble, 1), top)
	assert.Equal(InodeID(5), top.Parent())
	assert.Equal(KindInode, top.Parent().Kind())

	assert.Equal([]BlockID{InodeID(5), top, single, id}, id.Ancestors())
	assert.Equal([]BlockID{InodeID(5)}, InodeID(5).Ancestors())

	d, _ := Locate(g, 42)
	assert.Equal(KindData, DataID(1, d).Kind())
	assert.Equal(InodeID(1), DataID(1, d).Parent())
}

func TestBlockIDValidate(t *testing.T) {
	g := smallGeom()
	for _, id := range []BlockID{
		InodeID(64),
		{Inum: 1, Tier: TierDirect},
		{Inum: 1, Tier: TierDirect, Depth: 2},
		{Inum: 1, Tier: TierInode, Depth: 1},
		TopID(1, TierDirect, 100),
		TopID(1, TierTriple, 1),
		TopID(1, TierSingle, 0).Child(128),
		{Inum: 1, Tier: TierSingle, Depth: 1, Path: [4]uint32{0, 3}},
		{Inum: 1, Tier: Tier(9), Depth: 1},
	} {
		assert.True(t, errors.Is(id.Validate(g), ErrOutOfRange), "%v", id)
	}
	assert.NoError(t, InodeID(63).Validate(g))
	assert.NoError(t, TopID(1, TierTriple, 0).Child(127).Child(127).Validate(g))
}

func TestBlockIDEncoding(t *testing.T) {
	assert := assert.New(t)
	g := smallGeom()
	p, _ := Locate(g, g.MaxDataBlocks-1)
	for _, id := range []BlockID{InodeID(0), InodeID(63), DataID(7, p), DataID(7, p).Parent()} {
		b := id.Bytes()
		assert.Equal(IDSize, uint64(len(b)))
		dec := marshal.NewDec(b)
		got, ok := DecodeID(&dec)
		assert.True(ok)
		assert.Equal(id, got)
	}

	dec := marshal.NewDec(make([]byte, IDSize))
	_, ok := DecodeID(&dec)
	assert.False(ok, "zeroed entry is unused")
}

func TestStrings(t *testing.T) {
	assert.Equal(t, "ino 3", InodeID(common.Inum(3)).String())
	assert.Equal(t, "ino 3 single[2 9]", TopID(3, TierSingle, 2).Child(9).String())
	assert.Equal(t, "double[1 3 7]", Path{TierDouble, 7, 3, 1, NA}.String())
}
