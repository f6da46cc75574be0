// Package segment holds one segment of the log: BlocksPerSegment block
// slots and the table recording, per slot, which block id it holds.
//
// A segment is built in memory, slot by slot, while it is active. Sealing
// fixes its content and computes the per-entry checksums; the sealed
// segment is written as its blocks followed by its table region (summary,
// then one fixed-width entry per slot).
package segment

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"

	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
)

var (
	// ErrNoSegment means the table region holds no segment: the position
	// was never written or has been released.
	ErrNoSegment = errors.New("no segment")
	ErrCorrupt   = errors.New("corruption detected")

	// ErrAborted means the slot was handed out but its operation failed;
	// it holds no block.
	ErrAborted = errors.New("aborted slot")
)

type Entry struct {
	ID  blockpath.BlockID
	Sum uint64

	aborted bool
}

// An aborted slot is stored as an unused id (tier 0) with an all-ones sum.
var abortedEntry = Entry{Sum: ^uint64(0), aborted: true}

func (e Entry) Aborted() bool {
	return e.aborted
}

type Summary struct {
	Seq      uint64
	Used     uint64
	TableSum uint64
}

type Segment struct {
	g      *geom.Geometry
	Pos    uint64
	Seq    uint64
	Blocks [][]byte
	Table  []Entry
	latest map[blockpath.BlockID]uint64
	sealed bool
}

func MkSegment(g *geom.Geometry, pos uint64, seq uint64) *Segment {
	return &Segment{
		g:      g,
		Pos:    pos,
		Seq:    seq,
		Blocks: make([][]byte, 0, g.BlocksPerSegment),
		Table:  make([]Entry, 0, g.BlocksPerSegment),
		latest: make(map[blockpath.BlockID]uint64),
	}
}

func (s *Segment) Used() uint64 {
	return uint64(len(s.Blocks))
}

func (s *Segment) Free() uint64 {
	return s.g.BlocksPerSegment - s.Used()
}

func (s *Segment) Sealed() bool {
	return s.sealed
}

// Append places blk in the next slot and records id for it.
func (s *Segment) Append(id blockpath.BlockID, blk []byte) uint64 {
	if s.sealed {
		panic("segment.Append: sealed")
	}
	if s.Free() == 0 {
		panic("segment.Append: full")
	}
	if uint64(len(blk)) != s.g.BlockSize {
		panic(fmt.Sprintf("segment.Append: block of %d bytes", len(blk)))
	}
	slot := s.Used()
	s.Blocks = append(s.Blocks, blk)
	s.Table = append(s.Table, Entry{ID: id})
	s.latest[id] = slot
	return slot
}

// Abort marks slot as holding nothing. Lookup forgets it and its table
// entry is written as aborted.
func (s *Segment) Abort(slot uint64) {
	if s.sealed {
		panic("segment.Abort: sealed")
	}
	id := s.Table[slot].ID
	if cur, ok := s.latest[id]; ok && cur == slot {
		delete(s.latest, id)
	}
	s.Table[slot] = abortedEntry
	s.Blocks[slot] = make([]byte, s.g.BlockSize)
}

// Lookup returns the most recent slot holding id.
func (s *Segment) Lookup(id blockpath.BlockID) (uint64, bool) {
	slot, ok := s.latest[id]
	return slot, ok
}

func (s *Segment) Seal() {
	if s.sealed {
		return
	}
	for i := range s.Table {
		if s.Table[i].Aborted() {
			continue
		}
		s.Table[i].Sum = EntrySum(s.Table[i].ID, s.Blocks[i])
	}
	s.sealed = true
}

// EntrySum binds a block's content to the id recorded for it.
func EntrySum(id blockpath.BlockID, blk []byte) uint64 {
	d := xxhash.New()
	d.Write(id.Bytes())
	d.Write(blk)
	return d.Sum64()
}

// Verify checks blk against its table entry.
func (e Entry) Verify(blk []byte) error {
	if e.Aborted() {
		return ErrAborted
	}
	if EntrySum(e.ID, blk) != e.Sum {
		return errors.Wrapf(ErrCorrupt, "content of %v does not match its table entry", e.ID)
	}
	return nil
}

func tableSize(g *geom.Geometry) uint64 {
	return g.TableBlocks * g.BlockSize
}

func encodeEntries(g *geom.Geometry, table []Entry) []byte {
	enc := marshal.NewEnc(g.BlocksPerSegment * geom.EntrySize)
	for _, e := range table {
		if e.Aborted() {
			enc.PutInts(make([]uint64, blockpath.IDSize/8))
		} else {
			e.ID.Encode(&enc)
		}
		enc.PutInt(e.Sum)
	}
	return enc.Finish()
}

// EncodeTable is the on-disk table region of a sealed segment.
func (s *Segment) EncodeTable() []byte {
	if !s.sealed {
		panic("segment.EncodeTable: not sealed")
	}
	entries := encodeEntries(s.g, s.Table)
	enc := marshal.NewEnc(geom.SummarySize)
	enc.PutInt(common.SEGMAGIC)
	enc.PutInt(s.Seq)
	enc.PutInt(s.Used())
	enc.PutInt(xxhash.Sum64(entries))

	b := make([]byte, tableSize(s.g))
	copy(b, enc.Finish())
	copy(b[geom.SummarySize:], entries)
	return b
}

// EmptyTable is a table region that decodes as ErrNoSegment.
func EmptyTable(g *geom.Geometry) []byte {
	return make([]byte, tableSize(g))
}

// DecodeSummary reads only the summary; it does not check the table sum.
func DecodeSummary(g *geom.Geometry, b []byte) (Summary, error) {
	dec := marshal.NewDec(b[:geom.SummarySize])
	if dec.GetInt() != common.SEGMAGIC {
		return Summary{}, ErrNoSegment
	}
	sum := Summary{}
	sum.Seq = dec.GetInt()
	sum.Used = dec.GetInt()
	sum.TableSum = dec.GetInt()
	if sum.Used > g.BlocksPerSegment {
		return Summary{}, errors.Wrapf(ErrCorrupt, "summary claims %d used slots", sum.Used)
	}
	return sum, nil
}

// DecodeTable reads a whole table region.
func DecodeTable(g *geom.Geometry, b []byte) (Summary, []Entry, error) {
	if uint64(len(b)) != tableSize(g) {
		panic("segment.DecodeTable: wrong table size")
	}
	sum, err := DecodeSummary(g, b)
	if err != nil {
		return Summary{}, nil, err
	}
	raw := b[geom.SummarySize : geom.SummarySize+g.BlocksPerSegment*geom.EntrySize]
	if xxhash.Sum64(raw) != sum.TableSum {
		return Summary{}, nil, errors.Wrap(ErrCorrupt, "segment table checksum mismatch")
	}
	dec := marshal.NewDec(raw)
	table := make([]Entry, sum.Used)
	for i := range table {
		id, ok := blockpath.DecodeID(&dec)
		e := Entry{ID: id, Sum: dec.GetInt()}
		if !ok {
			if e.Sum != abortedEntry.Sum {
				return Summary{}, nil, errors.Wrapf(ErrCorrupt, "used slot %d has no entry", i)
			}
			e = abortedEntry
		}
		table[i] = e
	}
	return sum, table, nil
}

// Load rebuilds a sealed segment from its table and blocks.
func Load(g *geom.Geometry, pos uint64, sum Summary, table []Entry, blocks [][]byte) *Segment {
	s := MkSegment(g, pos, sum.Seq)
	for i, e := range table {
		s.Blocks = append(s.Blocks, blocks[i])
		s.Table = append(s.Table, e)
		if !e.Aborted() {
			s.latest[e.ID] = uint64(i)
		}
	}
	s.sealed = true
	return s
}
