// Package seglog is the segment log: the allocator every block write goes
// through, and the only code that writes segments to disk.
//
// The log keeps one active segment in memory. Writers reserve slots in it,
// allocate them one block at a time, and fill them in place; when the
// active segment cannot satisfy a reservation it is sealed (its blocks and
// table written and made durable) and a fresh segment is started at a free
// position. A slot, once handed out, is never handed out again until its
// segment is cleaned and released.
package seglog

import (
	"sort"
	"sync"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/alloc"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/segment"
	"github.com/mit-pdos/go-lfs/util"
)

// SegInfo describes one segment position in use.
type SegInfo struct {
	Pos    uint64
	Seq    uint64
	Used   uint64
	Active bool
}

type Log struct {
	*cfg
	d  disk.Disk
	g  *geom.Geometry
	sb *Superblock

	mu   *sync.Mutex
	cond *sync.Cond // signaled when pending drops to zero

	// nil between a seal and the next reservation when no position was free
	active   *segment.Segment
	reserved uint64 // slots promised to reservations but not yet allocated
	pending  uint64 // live reservations
	nextSeq  uint64
	sealed   map[uint64]SegInfo
	free     *alloc.Alloc
	onSeal   func(seq uint64) error

	cache *lru.Cache[addr.Addr, []byte]
}

func mkLog(d disk.Disk, g *geom.Geometry, sb *Superblock, c *cfg) *Log {
	mu := new(sync.Mutex)
	l := &Log{
		cfg:     c,
		d:       d,
		g:       g,
		sb:      sb,
		mu:      mu,
		cond:    sync.NewCond(mu),
		nextSeq: 1,
		sealed:  make(map[uint64]SegInfo),
		free:    alloc.MkAlloc(g.Segments),
	}
	if c.cacheBlocks > 0 {
		cache, err := lru.New[addr.Addr, []byte](c.cacheBlocks)
		if err != nil {
			// only for a non-positive size
			panic(err)
		}
		l.cache = cache
	}
	return l
}

func (l *Log) Geometry() *geom.Geometry {
	return l.g
}

func (l *Log) Superblock() Superblock {
	return *l.sb
}

// OnSeal installs a hook run after each segment is durably written, with
// the sealed segment's sequence number. Everything allocated before the
// seal is on disk when it runs.
func (l *Log) OnSeal(fn func(seq uint64) error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.onSeal = fn
}

// LastSeq is the sequence number of the newest sealed segment, or zero.
func (l *Log) LastSeq() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	var last uint64
	for _, info := range l.sealed {
		if info.Seq > last {
			last = info.Seq
		}
	}
	return last
}

// activateLocked starts a fresh active segment at a free position.
func (l *Log) activateLocked() error {
	pos, ok := l.free.AllocNum()
	if !ok {
		l.log.Warn("no free segment position", zap.Uint64("segments", l.g.Segments))
		return errors.Wrapf(ErrAllocationExhausted, "all %d segments in use", l.g.Segments)
	}
	l.active = segment.MkSegment(l.g, pos, l.nextSeq)
	l.nextSeq++
	l.metrics.SetFreeSegments(l.free.NumFree())
	util.DPrintf(5, "activate segment %d seq %d\n", pos, l.active.Seq)
	return nil
}

// sealLocked writes the active segment and retires it. Requires no live
// reservations. If a write fails the segment stays active, frozen, and the
// next Sync or Reserve writes it again.
func (l *Log) sealLocked() error {
	if l.pending != 0 {
		panic("seal with live reservations")
	}
	s := l.active
	if s.Used() == 0 {
		// nothing to persist; give the position back
		l.active = nil
		l.free.FreeNum(s.Pos)
		return nil
	}

	start := time.Now()
	if !s.Sealed() {
		s.Seal()
	}
	if err := l.writeSegment(s); err != nil {
		l.log.Error("segment write failed", zap.Uint64("pos", s.Pos), zap.Uint64("seq", s.Seq), zap.Error(err))
		return err
	}
	l.active = nil
	l.sealed[s.Pos] = SegInfo{Pos: s.Pos, Seq: s.Seq, Used: s.Used()}
	if l.cache != nil {
		for slot, blk := range s.Blocks {
			l.cache.Add(addr.MkAddr(s.Pos, uint64(slot)), blk)
		}
	}
	l.metrics.ObserveSeal(time.Since(start))
	l.log.Debug("segment sealed",
		zap.Uint64("pos", s.Pos),
		zap.Uint64("seq", s.Seq),
		zap.Uint64("used", s.Used()))

	if l.onSeal != nil {
		if err := l.onSeal(s.Seq); err != nil {
			l.log.Error("seal hook failed", zap.Uint64("seq", s.Seq), zap.Error(err))
			return errors.Wrapf(err, "after sealing segment %d", s.Seq)
		}
	}
	return nil
}

// writeSegment makes a sealed segment durable: blocks, barrier, table,
// barrier. A segment with a valid table has all its blocks.
func (l *Log) writeSegment(s *segment.Segment) error {
	if err := disk.WriteBatch(l.d, l.g.SegmentStart(s.Pos), s.Blocks); err != nil {
		return errors.Wrapf(err, "write segment %d", s.Pos)
	}
	if err := l.d.Barrier(); err != nil {
		return errors.Wrapf(err, "write segment %d", s.Pos)
	}
	if err := disk.WriteBatch(l.d, l.g.TableStart(s.Pos), l.splitBlocks(s.EncodeTable())); err != nil {
		return errors.Wrapf(err, "write segment %d table", s.Pos)
	}
	if err := l.d.Barrier(); err != nil {
		return errors.Wrapf(err, "write segment %d table", s.Pos)
	}
	return nil
}

func (l *Log) splitBlocks(b []byte) []disk.Block {
	var blocks []disk.Block
	for off := uint64(0); off < uint64(len(b)); off += l.g.BlockSize {
		blocks = append(blocks, b[off:off+l.g.BlockSize])
	}
	return blocks
}

// waitIdleLocked waits until no reservation is live.
func (l *Log) waitIdleLocked() {
	for l.pending > 0 {
		l.cond.Wait()
	}
}

// Sync seals the active segment if it holds anything, making every block
// allocated so far durable, and starts a new one if a position is free.
func (l *Log) Sync() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.waitIdleLocked()
	if l.active == nil || l.active.Used() == 0 {
		return nil
	}
	if err := l.sealLocked(); err != nil {
		return err
	}
	if err := l.activateLocked(); err != nil && !errors.Is(err, ErrAllocationExhausted) {
		return err
	}
	return nil
}

// ActiveLookup finds the copy of id already in the active segment, if any.
func (l *Log) ActiveLookup(id blockpath.BlockID) (addr.Addr, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active == nil || l.active.Sealed() {
		return addr.Nil, false
	}
	slot, ok := l.active.Lookup(id)
	if !ok {
		return addr.Nil, false
	}
	return addr.MkAddr(l.active.Pos, slot), true
}

func (l *Log) isActiveLocked(a addr.Addr) bool {
	return l.active != nil && a.Seg == l.active.Pos
}

// Read returns a copy of the block at a.
func (l *Log) Read(a addr.Addr) ([]byte, error) {
	if !a.Valid(l.g) {
		return nil, errors.Wrapf(ErrOutOfRange, "address %v", a)
	}
	l.mu.Lock()
	if l.isActiveLocked(a) {
		defer l.mu.Unlock()
		if a.Slot >= l.active.Used() {
			return nil, errors.Wrapf(ErrOutOfRange, "slot %v not allocated", a)
		}
		return util.CloneByteSlice(l.active.Blocks[a.Slot]), nil
	}
	info, ok := l.sealed[a.Seg]
	l.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrOutOfRange, "segment %d is free", a.Seg)
	}
	if a.Slot >= info.Used {
		return nil, errors.Wrapf(ErrOutOfRange, "slot %v beyond %d used", a, info.Used)
	}

	if l.cache != nil {
		if blk, ok := l.cache.Get(a); ok {
			l.metrics.ObserveCache(true)
			return util.CloneByteSlice(blk), nil
		}
		l.metrics.ObserveCache(false)
	}
	blk, err := l.d.Read(a.Blkno(l.g))
	if err != nil {
		return nil, errors.Wrapf(err, "read %v", a)
	}
	if l.cache != nil {
		l.cache.Add(a, util.CloneByteSlice(blk))
	}
	return blk, nil
}

// Write replaces the content of an allocated slot of the active segment.
func (l *Log) Write(a addr.Addr, data []byte) error {
	if uint64(len(data)) != l.g.BlockSize {
		panic("seglog.Write: not a block")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.isActiveLocked(a) || l.active.Sealed() {
		return errors.Wrapf(ErrSealed, "write to %v", a)
	}
	if a.Slot >= l.active.Used() {
		return errors.Wrapf(ErrOutOfRange, "slot %v not allocated", a)
	}
	copy(l.active.Blocks[a.Slot], data)
	return nil
}

// Allocate places one block outside any larger reservation.
func (l *Log) Allocate(id blockpath.BlockID) (addr.Addr, error) {
	r, err := l.Reserve(1)
	if err != nil {
		return addr.Nil, err
	}
	defer r.Release()
	return r.Allocate(id)
}

// IdentifierOf reports which block the slot at a was allocated for. For a
// sealed segment the answer comes from the on-disk table and is checked
// against the block's content.
func (l *Log) IdentifierOf(a addr.Addr) (blockpath.BlockID, error) {
	if !a.Valid(l.g) {
		return blockpath.BlockID{}, errors.Wrapf(ErrOutOfRange, "address %v", a)
	}
	l.mu.Lock()
	if l.isActiveLocked(a) {
		defer l.mu.Unlock()
		if a.Slot >= l.active.Used() {
			return blockpath.BlockID{}, errors.Wrapf(ErrOutOfRange, "slot %v not allocated", a)
		}
		e := l.active.Table[a.Slot]
		if e.Aborted() {
			return blockpath.BlockID{}, errors.Wrapf(ErrAborted, "at %v", a)
		}
		return e.ID, nil
	}
	info, ok := l.sealed[a.Seg]
	l.mu.Unlock()
	if !ok {
		return blockpath.BlockID{}, errors.Wrapf(ErrOutOfRange, "segment %d is free", a.Seg)
	}

	sum, table, err := l.readTable(a.Seg)
	if err != nil {
		return blockpath.BlockID{}, err
	}
	if sum.Seq != info.Seq {
		return blockpath.BlockID{}, errors.Wrapf(ErrCorrupt,
			"segment %d has seq %d on disk, expected %d", a.Seg, sum.Seq, info.Seq)
	}
	if a.Slot >= sum.Used {
		return blockpath.BlockID{}, errors.Wrapf(ErrOutOfRange, "slot %v beyond %d used", a, sum.Used)
	}
	e := table[a.Slot]
	if e.Aborted() {
		return blockpath.BlockID{}, errors.Wrapf(ErrAborted, "at %v", a)
	}
	if err := e.ID.Validate(l.g); err != nil {
		return blockpath.BlockID{}, errors.Wrapf(err, "table entry of %v", a)
	}
	blk, err := l.d.Read(a.Blkno(l.g))
	if err != nil {
		return blockpath.BlockID{}, errors.Wrapf(err, "read %v", a)
	}
	if err := e.Verify(blk); err != nil {
		return blockpath.BlockID{}, errors.Wrapf(err, "at %v", a)
	}
	return e.ID, nil
}

// readTable reads and decodes the table region of the segment at pos. A
// missing segment is reported as corruption: callers only ask about
// positions they believe sealed.
func (l *Log) readTable(pos uint64) (segment.Summary, []segment.Entry, error) {
	b, err := l.readTableRaw(pos)
	if err != nil {
		return segment.Summary{}, nil, err
	}
	sum, table, err := segment.DecodeTable(l.g, b)
	if errors.Is(err, segment.ErrNoSegment) {
		return segment.Summary{}, nil, errors.Wrapf(ErrCorrupt, "segment %d has no table", pos)
	}
	return sum, table, err
}

func (l *Log) readTableRaw(pos uint64) ([]byte, error) {
	b := make([]byte, 0, l.g.TableBlocks*l.g.BlockSize)
	for i := uint64(0); i < l.g.TableBlocks; i++ {
		blk, err := l.d.Read(l.g.TableStart(pos) + i)
		if err != nil {
			return nil, errors.Wrapf(err, "read segment %d table", pos)
		}
		b = append(b, blk...)
	}
	return b, nil
}

// Segments lists every position holding a sealed or active segment, in
// log order.
func (l *Log) Segments() []SegInfo {
	l.mu.Lock()
	defer l.mu.Unlock()
	infos := make([]SegInfo, 0, len(l.sealed)+1)
	for _, info := range l.sealed {
		infos = append(infos, info)
	}
	if l.active != nil {
		infos = append(infos, SegInfo{Pos: l.active.Pos, Seq: l.active.Seq,
			Used: l.active.Used(), Active: true})
	}
	sort.Slice(infos, func(i, j int) bool { return infos[i].Seq < infos[j].Seq })
	return infos
}

func (l *Log) NumFree() uint64 {
	return l.free.NumFree()
}

// Release returns a cleaned segment's position to the free pool. The
// caller must have made every live block elsewhere durable first.
func (l *Log) Release(pos uint64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.active != nil && pos == l.active.Pos {
		return errors.Wrapf(ErrActive, "release segment %d", pos)
	}
	info, ok := l.sealed[pos]
	if !ok {
		return errors.Wrapf(ErrOutOfRange, "segment %d is not sealed", pos)
	}
	empty := segment.EmptyTable(l.g)
	if err := l.d.Write(l.g.TableStart(pos), empty[:l.g.BlockSize]); err != nil {
		return errors.Wrapf(err, "release segment %d", pos)
	}
	if err := l.d.Barrier(); err != nil {
		return err
	}
	delete(l.sealed, pos)
	l.free.FreeNum(pos)
	l.purgeCache(pos)
	l.metrics.SetFreeSegments(l.free.NumFree())
	l.log.Debug("segment released", zap.Uint64("pos", pos), zap.Uint64("seq", info.Seq))
	return nil
}

func (l *Log) purgeCache(pos uint64) {
	if l.cache == nil {
		return
	}
	for _, a := range l.cache.Keys() {
		if a.Seg == pos {
			l.cache.Remove(a)
		}
	}
}

// Close seals the active segment. The disk stays open; it belongs to the
// caller.
func (l *Log) Close() error {
	return l.Sync()
}
