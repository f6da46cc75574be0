// buf is the typed view of a physical block: the same bytes read as an
// inode, an indirect pointer array, or plain data depending on its kind.
package buf

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/util"
)

var ErrKindMismatch = errors.New("block kind mismatch")

type Buf struct {
	Kind  blockpath.Kind
	Data  []byte
	dirty bool // modified since MkBuf?
}

func MkBuf(kind blockpath.Kind, data []byte) *Buf {
	b := &Buf{
		Kind:  kind,
		Data:  data,
		dirty: false,
	}
	return b
}

// MkBufFresh is the initial content of a block that did not exist before:
// an indirect block of unallocated pointers, or zeroes.
func MkBufFresh(g *geom.Geometry, kind blockpath.Kind) *Buf {
	data := make([]byte, g.BlockSize)
	if kind == blockpath.KindIndirect {
		// the nil pointer is all ones at either width
		for i := range data {
			data[i] = 0xff
		}
	}
	b := MkBuf(kind, data)
	b.dirty = true
	return b
}

func (buf *Buf) mismatch(want blockpath.Kind) error {
	return errors.Wrapf(ErrKindMismatch, "%v block used as %v", buf.Kind, want)
}

func (buf *Buf) Inode(g *geom.Geometry) (*inode.Inode, error) {
	if buf.Kind != blockpath.KindInode {
		return nil, buf.mismatch(blockpath.KindInode)
	}
	return inode.Decode(g, buf.Data), nil
}

func (buf *Buf) SetInode(g *geom.Geometry, ip *inode.Inode) error {
	if buf.Kind != blockpath.KindInode {
		return buf.mismatch(blockpath.KindInode)
	}
	copy(buf.Data, ip.Encode(g))
	buf.SetDirty()
	return nil
}

// InodeSlot reads the inode's pointer i of tier t without decoding the
// whole inode.
func (buf *Buf) InodeSlot(g *geom.Geometry, t blockpath.Tier, i uint64) (addr.Addr, error) {
	if buf.Kind != blockpath.KindInode {
		return addr.Nil, buf.mismatch(blockpath.KindInode)
	}
	return addr.Get(g, buf.Data, inode.Slot(g, t, i)), nil
}

func (buf *Buf) PtrGet(g *geom.Geometry, i uint64) (addr.Addr, error) {
	if buf.Kind != blockpath.KindIndirect {
		return addr.Nil, buf.mismatch(blockpath.KindIndirect)
	}
	return addr.Get(g, buf.Data, i*g.PointerWidth), nil
}

func (buf *Buf) PtrPut(g *geom.Geometry, i uint64, a addr.Addr) error {
	if buf.Kind != blockpath.KindIndirect {
		return buf.mismatch(blockpath.KindIndirect)
	}
	util.DPrintf(20, "ptrput %d -> %v\n", i, a)
	addr.Put(g, buf.Data, i*g.PointerWidth, a)
	buf.SetDirty()
	return nil
}

func (buf *Buf) Bytes() ([]byte, error) {
	if buf.Kind != blockpath.KindData {
		return nil, buf.mismatch(blockpath.KindData)
	}
	return buf.Data, nil
}

func (buf *Buf) IsDirty() bool {
	return buf.dirty
}

func (buf *Buf) SetDirty() {
	buf.dirty = true
}
