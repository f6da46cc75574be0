package blockpath

import (
	"fmt"

	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
)

// Kind is what a physical block holds.
type Kind uint8

const (
	KindInode Kind = iota
	KindIndirect
	KindData
)

func (k Kind) String() string {
	switch k {
	case KindInode:
		return "inode"
	case KindIndirect:
		return "indirect"
	case KindData:
		return "data"
	}
	return fmt.Sprintf("kind(%d)", uint8(k))
}

// BlockID names the role of a physical block: which inode it belongs to
// and where it hangs in that inode's tree.
//
// Depth counts the valid entries of Path. Depth 0 is the inode block itself
// (Tier is TierInode); Depth == Tier.Levels() is a data block; anything in
// between is an indirect block. Path[0] indexes the tier's pointer array in
// the inode, and Path[i] for i > 0 indexes the indirect block at depth i.
type BlockID struct {
	Inum  common.Inum
	Tier  Tier
	Depth uint8
	Path  [4]uint32
}

// IDSize is the packed size of a BlockID.
const IDSize uint64 = 8 + 4 + 4 + 4*4

func InodeID(inum common.Inum) BlockID {
	return BlockID{Inum: inum, Tier: TierInode}
}

// DataID is the id of the data block p resolves to in inode inum.
func DataID(inum common.Inum, p Path) BlockID {
	id := BlockID{Inum: inum, Tier: p.Tier}
	for _, i := range p.Indices() {
		id.Path[id.Depth] = uint32(i)
		id.Depth++
	}
	return id
}

// TopID is the block hanging directly off the inode's slot i in tier t.
func TopID(inum common.Inum, t Tier, i uint64) BlockID {
	return BlockID{Inum: inum, Tier: t, Depth: 1, Path: [4]uint32{uint32(i)}}
}

func (id BlockID) IsInode() bool {
	return id.Tier == TierInode
}

func (id BlockID) Kind() Kind {
	if id.IsInode() {
		return KindInode
	}
	if id.Depth == id.Tier.Levels() {
		return KindData
	}
	return KindIndirect
}

// Parent is the block holding the pointer to id. The inode has no parent.
func (id BlockID) Parent() BlockID {
	if id.Depth <= 1 {
		return InodeID(id.Inum)
	}
	p := id
	p.Depth--
	p.Path[p.Depth] = 0
	return p
}

// Child is the block at index i of indirect block id.
func (id BlockID) Child(i uint64) BlockID {
	c := id
	c.Path[c.Depth] = uint32(i)
	c.Depth++
	return c
}

// Index is id's position within its parent.
func (id BlockID) Index() uint64 {
	return uint64(id.Path[id.Depth-1])
}

// Ancestors lists the ids from the inode down to id, inclusive.
func (id BlockID) Ancestors() []BlockID {
	ids := []BlockID{InodeID(id.Inum)}
	if id.IsInode() {
		return ids
	}
	cur := TopID(id.Inum, id.Tier, uint64(id.Path[0]))
	ids = append(ids, cur)
	for d := uint8(1); d < id.Depth; d++ {
		cur = cur.Child(uint64(id.Path[d]))
		ids = append(ids, cur)
	}
	return ids
}

// Validate reports ErrOutOfRange for an id that cannot exist in g.
func (id BlockID) Validate(g *geom.Geometry) error {
	if uint64(id.Inum) >= g.MaxInodes {
		return errors.Wrapf(ErrOutOfRange, "inode `%d` beyond `%d`", id.Inum, g.MaxInodes)
	}
	if id.Tier > TierTriple || id.Depth > id.Tier.Levels() {
		return errors.Wrapf(ErrOutOfRange, "malformed block id %v", id)
	}
	if !id.IsInode() && id.Depth == 0 {
		return errors.Wrapf(ErrOutOfRange, "malformed block id %v", id)
	}
	for d := uint8(0); d < 4; d++ {
		i := uint64(id.Path[d])
		switch {
		case d >= id.Depth:
			if i != 0 {
				return errors.Wrapf(ErrOutOfRange, "malformed block id %v", id)
			}
		case d == 0:
			if i >= id.Tier.Slots(g) {
				return errors.Wrapf(ErrOutOfRange, "%v slot `%d` beyond `%d`", id.Tier, i, id.Tier.Slots(g))
			}
		default:
			if i >= g.P {
				return errors.Wrapf(ErrOutOfRange, "indirect index `%d` beyond `%d`", i, g.P)
			}
		}
	}
	return nil
}

func (id BlockID) String() string {
	if id.IsInode() {
		return fmt.Sprintf("ino %d", id.Inum)
	}
	return fmt.Sprintf("ino %d %v%v", id.Inum, id.Tier, id.Path[:id.Depth])
}

// Encode packs id. The tier is stored off by one so that an all-zero
// record decodes as an unused slot.
func (id BlockID) Encode(enc *marshal.Enc) {
	enc.PutInt(uint64(id.Inum))
	enc.PutInt32(uint32(id.Tier) + 1)
	enc.PutInt32(uint32(id.Depth))
	for _, i := range id.Path {
		enc.PutInt32(i)
	}
}

// DecodeID unpacks a BlockID; ok is false for an unused slot.
func DecodeID(dec *marshal.Dec) (id BlockID, ok bool) {
	id.Inum = common.Inum(dec.GetInt())
	tier := dec.GetInt32()
	depth := dec.GetInt32()
	for d := range id.Path {
		id.Path[d] = dec.GetInt32()
	}
	if tier == 0 {
		return BlockID{}, false
	}
	id.Tier = Tier(tier - 1)
	id.Depth = uint8(depth)
	if depth > 0xff || tier-1 > 0xff {
		// cannot be a valid id; keep it distinguishable for Validate
		id.Tier = Tier(0xff)
	}
	return id, true
}

// Bytes is id's packed form.
func (id BlockID) Bytes() []byte {
	enc := marshal.NewEnc(IDSize)
	id.Encode(&enc)
	return enc.Finish()
}
