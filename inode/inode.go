package inode

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
)

// An Inode occupies exactly one block. Its pointers are addr.Nil until the
// block they lead to is first written.
type Inode struct {
	Inum  common.Inum
	Size  uint64
	Mtime uint64 // unix nanoseconds
	Perm  uint32

	Direct []addr.Addr
	Single []addr.Addr
	Double []addr.Addr
	Triple []addr.Addr
}

func nilPtrs(n uint64) []addr.Addr {
	ptrs := make([]addr.Addr, n)
	for i := range ptrs {
		ptrs[i] = addr.Nil
	}
	return ptrs
}

func MkInode(g *geom.Geometry, inum common.Inum, perm uint32) *Inode {
	return &Inode{
		Inum:   inum,
		Perm:   perm,
		Direct: nilPtrs(g.DirectCount),
		Single: nilPtrs(g.SingleCount),
		Double: nilPtrs(g.DoubleCount),
		Triple: nilPtrs(g.TripleCount),
	}
}

// Ptrs is the inode's top-level pointer array for tier t.
func (ip *Inode) Ptrs(t blockpath.Tier) []addr.Addr {
	switch t {
	case blockpath.TierDirect:
		return ip.Direct
	case blockpath.TierSingle:
		return ip.Single
	case blockpath.TierDouble:
		return ip.Double
	case blockpath.TierTriple:
		return ip.Triple
	}
	panic(fmt.Sprintf("inode has no %v pointers", t))
}

// Blocks is the number of data blocks Size covers.
func (ip *Inode) Blocks(g *geom.Geometry) uint64 {
	return (ip.Size + g.BlockSize - 1) / g.BlockSize
}

// Slot is the byte offset of tier t's pointer i within an encoded inode.
func Slot(g *geom.Geometry, t blockpath.Tier, i uint64) uint64 {
	off := geom.InodeMetaSize
	for _, prev := range []blockpath.Tier{blockpath.TierDirect, blockpath.TierSingle, blockpath.TierDouble} {
		if prev == t {
			break
		}
		off += prev.Slots(g) * g.PointerWidth
	}
	return off + i*g.PointerWidth
}

func (ip *Inode) Encode(g *geom.Geometry) []byte {
	enc := marshal.NewEnc(g.BlockSize)
	enc.PutInt(uint64(ip.Inum))
	enc.PutInt(ip.Size)
	enc.PutInt(ip.Mtime)
	enc.PutInt32(ip.Perm)
	enc.PutInt32(0)
	b := enc.Finish()
	for _, t := range []blockpath.Tier{blockpath.TierDirect, blockpath.TierSingle,
		blockpath.TierDouble, blockpath.TierTriple} {
		for i, a := range ip.Ptrs(t) {
			addr.Put(g, b, Slot(g, t, uint64(i)), a)
		}
	}
	// unused tail past the pointer table stays zero
	return b
}

func Decode(g *geom.Geometry, b []byte) *Inode {
	if uint64(len(b)) != g.BlockSize {
		panic("inode.Decode: not a block")
	}
	dec := marshal.NewDec(b)
	ip := &Inode{}
	ip.Inum = common.Inum(dec.GetInt())
	ip.Size = dec.GetInt()
	ip.Mtime = dec.GetInt()
	ip.Perm = dec.GetInt32()
	dec.GetInt32()
	for _, t := range []blockpath.Tier{blockpath.TierDirect, blockpath.TierSingle,
		blockpath.TierDouble, blockpath.TierTriple} {
		ptrs := make([]addr.Addr, t.Slots(g))
		for i := range ptrs {
			ptrs[i] = addr.Get(g, b, Slot(g, t, uint64(i)))
		}
		switch t {
		case blockpath.TierDirect:
			ip.Direct = ptrs
		case blockpath.TierSingle:
			ip.Single = ptrs
		case blockpath.TierDouble:
			ip.Double = ptrs
		case blockpath.TierTriple:
			ip.Triple = ptrs
		}
	}
	return ip
}
