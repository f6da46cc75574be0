package seglog

import (
	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/geom"
)

// Superblock is block 0: it names the filesystem and records the geometry
// it was formatted with.
type Superblock struct {
	UUID   uuid.UUID
	Config geom.Config
}

// magic, version, 9 config words
const sbUUIDOff uint64 = 8 * 11

func (sb *Superblock) configWords() []uint64 {
	c := sb.Config
	return []uint64{c.BlockSize, c.PointerWidth, c.DirectCount, c.SingleCount,
		c.DoubleCount, c.TripleCount, c.BlocksPerSegment, c.Segments, c.MaxInodes}
}

func (sb *Superblock) Encode(blockSize uint64) []byte {
	enc := marshal.NewEnc(blockSize)
	enc.PutInt(common.SUPERMAGIC)
	enc.PutInt(common.SUPERVERSION)
	enc.PutInts(sb.configWords())
	b := enc.Finish()
	copy(b[sbUUIDOff:], sb.UUID[:])
	return b
}

func DecodeSuperblock(b []byte) (*Superblock, error) {
	dec := marshal.NewDec(b)
	if dec.GetInt() != common.SUPERMAGIC {
		return nil, ErrNotFormatted
	}
	if v := dec.GetInt(); v != common.SUPERVERSION {
		return nil, errors.Wrapf(ErrNotFormatted, "superblock version %d", v)
	}
	w := dec.GetInts(9)
	sb := &Superblock{Config: geom.Config{
		BlockSize:        w[0],
		PointerWidth:     w[1],
		DirectCount:      w[2],
		SingleCount:      w[3],
		DoubleCount:      w[4],
		TripleCount:      w[5],
		BlocksPerSegment: w[6],
		Segments:         w[7],
		MaxInodes:        w[8],
	}}
	id, err := uuid.FromBytes(b[sbUUIDOff : sbUUIDOff+16])
	if err != nil {
		return nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	sb.UUID = id
	return sb, nil
}

// ReadSuperblock loads and checks the superblock of d and the geometry it
// describes.
func ReadSuperblock(d disk.Disk) (*Superblock, *geom.Geometry, error) {
	b, err := d.Read(common.SUPERBLOCK)
	if err != nil {
		return nil, nil, errors.Wrap(err, "read superblock")
	}
	sb, err := DecodeSuperblock(b)
	if err != nil {
		return nil, nil, err
	}
	if sb.Config.BlockSize != d.BlockSize() {
		return nil, nil, errors.Wrapf(ErrNotFormatted,
			"formatted with %d-byte blocks, disk has %d", sb.Config.BlockSize, d.BlockSize())
	}
	g, err := geom.New(sb.Config)
	if err != nil {
		return nil, nil, errors.Wrap(ErrCorrupt, err.Error())
	}
	sz, err := d.Size()
	if err != nil {
		return nil, nil, err
	}
	if sz < g.DiskBlocks {
		return nil, nil, errors.Wrapf(ErrCorrupt, "disk of %d blocks, geometry needs %d", sz, g.DiskBlocks)
	}
	return sb, g, nil
}
