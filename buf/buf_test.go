package buf

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/inode"
)

func testGeom(width uint64) *geom.Geometry {
	cfg := geom.DefaultConfig()
	cfg.BlockSize = 512
	cfg.PointerWidth = width
	cfg.BlocksPerSegment = 8
	cfg.Segments = 2
	return geom.MustNew(cfg)
}

func TestFreshIndirectIsAllHoles(t *testing.T) {
	for _, w := range []uint64{4, 8} {
		g := testGeom(w)
		b := MkBufFresh(g, blockpath.KindIndirect)
		assert.True(t, b.IsDirty())
		for i := uint64(0); i < g.P; i++ {
			a, err := b.PtrGet(g, i)
			require.NoError(t, err)
			assert.True(t, a.IsNil())
		}
	}
}

func TestPtrPut(t *testing.T) {
	g := testGeom(8)
	b := MkBuf(blockpath.KindIndirect, MkBufFresh(g, blockpath.KindIndirect).Data)
	assert.False(t, b.IsDirty())
	require.NoError(t, b.PtrPut(g, g.P-1, addr.MkAddr(1, 6)))
	assert.True(t, b.IsDirty())
	a, _ := b.PtrGet(g, g.P-1)
	assert.Equal(t, addr.MkAddr(1, 6), a)
	a, _ = b.PtrGet(g, 0)
	assert.True(t, a.IsNil())
}

func TestInodeView(t *testing.T) {
	g := testGeom(8)
	ip := inode.MkInode(g, 4, 0600)
	ip.Single[2] = addr.MkAddr(0, 3)
	b := MkBufFresh(g, blockpath.KindInode)
	require.NoError(t, b.SetInode(g, ip))

	got, err := b.Inode(g)
	require.NoError(t, err)
	assert.Equal(t, ip, got)

	a, err := b.InodeSlot(g, blockpath.TierSingle, 2)
	require.NoError(t, err)
	assert.Equal(t, addr.MkAddr(0, 3), a)
}

func TestKindMismatch(t *testing.T) {
	g := testGeom(8)
	data := MkBufFresh(g, blockpath.KindData)
	ind := MkBufFresh(g, blockpath.KindIndirect)

	_, err := data.PtrGet(g, 0)
	assert.True(t, errors.Is(err, ErrKindMismatch))
	assert.True(t, errors.Is(data.PtrPut(g, 0, addr.Nil), ErrKindMismatch))
	_, err = data.Inode(g)
	assert.True(t, errors.Is(err, ErrKindMismatch))
	_, err = ind.InodeSlot(g, blockpath.TierDirect, 0)
	assert.True(t, errors.Is(err, ErrKindMismatch))
	assert.True(t, errors.Is(ind.SetInode(g, inode.MkInode(g, 0, 0)), ErrKindMismatch))
	_, err = ind.Bytes()
	assert.True(t, errors.Is(err, ErrKindMismatch))

	b, err := data.Bytes()
	require.NoError(t, err)
	assert.Equal(t, make([]byte, g.BlockSize), b)
}
