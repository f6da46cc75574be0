package addr

import (
	"fmt"

	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
)

// Addr identifies a physical block slot in the log.
//
// Seg is the segment position on disk and Slot the block within that
// segment. On disk an Addr is stored as its flat id (Seg*BlocksPerSegment +
// Slot), PointerWidth bytes wide.
type Addr struct {
	Seg  uint64
	Slot uint64
}

// Nil is the "not yet allocated" address; it reads as a hole.
var Nil = Addr{Seg: ^uint64(0), Slot: ^uint64(0)}

func MkAddr(seg uint64, slot uint64) Addr {
	return Addr{Seg: seg, Slot: slot}
}

func (a Addr) IsNil() bool {
	return a == Nil
}

func (a Addr) Flatid(g *geom.Geometry) uint64 {
	if a.IsNil() {
		return g.NilPtr()
	}
	return a.Seg*g.BlocksPerSegment + a.Slot
}

// FromFlatid is the inverse of Flatid; the nil pointer maps to Nil.
func FromFlatid(g *geom.Geometry, flat uint64) Addr {
	if flat == g.NilPtr() {
		return Nil
	}
	return MkAddr(flat/g.BlocksPerSegment, flat%g.BlocksPerSegment)
}

// Blkno is the device block backing a.
func (a Addr) Blkno(g *geom.Geometry) common.Bnum {
	return g.SegmentStart(a.Seg) + a.Slot
}

// Valid reports whether a names a slot that exists in g.
func (a Addr) Valid(g *geom.Geometry) bool {
	return !a.IsNil() && a.Seg < g.Segments && a.Slot < g.BlocksPerSegment
}

func (a Addr) String() string {
	if a.IsNil() {
		return "nil"
	}
	return fmt.Sprintf("%d.%d", a.Seg, a.Slot)
}

// Get decodes the pointer stored at b[off:].
func Get(g *geom.Geometry, b []byte, off uint64) Addr {
	dec := marshal.NewDec(b[off : off+g.PointerWidth])
	if g.PointerWidth == 4 {
		return FromFlatid(g, uint64(dec.GetInt32()))
	}
	return FromFlatid(g, dec.GetInt())
}

// Put encodes a as a pointer at b[off:].
func Put(g *geom.Geometry, b []byte, off uint64, a Addr) {
	enc := marshal.NewEnc(g.PointerWidth)
	if g.PointerWidth == 4 {
		enc.PutInt32(uint32(a.Flatid(g)))
	} else {
		enc.PutInt(a.Flatid(g))
	}
	copy(b[off:off+g.PointerWidth], enc.Finish())
}
