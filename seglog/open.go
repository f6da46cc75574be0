package seglog

import (
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/panjf2000/ants/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/segment"
)

// Format writes a new superblock for g and marks every segment position
// free. Whatever the disk held before is lost.
func Format(d disk.Disk, g *geom.Geometry, opts ...Option) (*Log, error) {
	c := defaultCfg()
	for _, o := range opts {
		o(c)
	}
	if g.BlockSize != d.BlockSize() {
		return nil, errors.Errorf("geometry has %d-byte blocks, disk has %d", g.BlockSize, d.BlockSize())
	}
	sz, err := d.Size()
	if err != nil {
		return nil, err
	}
	if sz < g.DiskBlocks {
		return nil, errors.Errorf("disk of %d blocks is too small for %d", sz, g.DiskBlocks)
	}

	sb := &Superblock{UUID: uuid.New(), Config: g.Config}
	empty := make([]byte, g.BlockSize)
	for pos := uint64(0); pos < g.Segments; pos++ {
		if err := d.Write(g.TableStart(pos), empty); err != nil {
			return nil, errors.Wrap(err, "format")
		}
	}
	if err := d.Barrier(); err != nil {
		return nil, err
	}
	// superblock last: a half-formatted disk does not mount
	if err := d.Write(common.SUPERBLOCK, sb.Encode(g.BlockSize)); err != nil {
		return nil, errors.Wrap(err, "format")
	}
	if err := d.Barrier(); err != nil {
		return nil, err
	}

	l := mkLog(d, g, sb, c)
	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.activateLocked(); err != nil {
		return nil, err
	}
	c.log.Info("formatted",
		zap.Stringer("uuid", sb.UUID),
		zap.Uint64("segments", g.Segments),
		zap.Uint64("blocks_per_segment", g.BlocksPerSegment))
	return l, nil
}

type scanResult struct {
	sum segment.Summary
	err error

	// summary decoded even though the table did not
	hasSum bool
}

// Open mounts a formatted disk: it reads the superblock and every segment
// table, rebuilding the set of sealed segments and the next sequence number.
func Open(d disk.Disk, opts ...Option) (*Log, error) {
	c := defaultCfg()
	for _, o := range opts {
		o(c)
	}
	sb, g, err := ReadSuperblock(d)
	if err != nil {
		return nil, err
	}
	l := mkLog(d, g, sb, c)

	results, err := l.scan()
	if err != nil {
		return nil, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()
	var maxSeq uint64
	var damaged []uint64
	for pos, r := range results {
		pos := uint64(pos)
		switch {
		case r.err == nil:
			l.sealed[pos] = SegInfo{Pos: pos, Seq: r.sum.Seq, Used: r.sum.Used}
			l.free.MarkUsed(pos)
			if r.sum.Seq > maxSeq {
				maxSeq = r.sum.Seq
			}
		case errors.Is(r.err, segment.ErrNoSegment):
		case errors.Is(r.err, segment.ErrCorrupt):
			damaged = append(damaged, pos)
		default:
			return nil, r.err
		}
	}
	if c.seqFloor > maxSeq {
		maxSeq = c.seqFloor
	}
	for _, pos := range damaged {
		seq, err := l.discardTorn(pos, results[pos], len(damaged), maxSeq)
		if err != nil {
			return nil, err
		}
		if seq > maxSeq {
			maxSeq = seq
		}
	}
	l.nextSeq = maxSeq + 1
	if err := l.checkSeqs(); err != nil {
		return nil, err
	}
	if err := l.activateLocked(); err != nil && !errors.Is(err, ErrAllocationExhausted) {
		return nil, err
	}
	c.log.Info("mounted",
		zap.Stringer("uuid", sb.UUID),
		zap.Int("sealed", len(l.sealed)),
		zap.Uint64("next_seq", l.nextSeq))
	return l, nil
}

// discardTorn accepts a damaged table only if it can be a seal cut short
// by a crash: the single newest segment, newer than anything the inode map
// has checkpointed. Its table is cleared so the position is free for good.
// Any other damage fails the mount.
func (l *Log) discardTorn(pos uint64, r scanResult, damaged int, maxSeq uint64) (uint64, error) {
	if damaged > 1 || !r.hasSum || r.sum.Seq <= maxSeq {
		return 0, errors.Wrapf(r.err, "segment %d", pos)
	}
	empty := segment.EmptyTable(l.g)
	if err := l.d.Write(l.g.TableStart(pos), empty[:l.g.BlockSize]); err != nil {
		return 0, errors.Wrapf(err, "clear torn segment %d", pos)
	}
	if err := l.d.Barrier(); err != nil {
		return 0, err
	}
	l.log.Warn("discarded torn segment",
		zap.Uint64("pos", pos),
		zap.Uint64("seq", r.sum.Seq),
		zap.Error(r.err))
	return r.sum.Seq, nil
}

// scan reads every segment table on a worker pool.
func (l *Log) scan() ([]scanResult, error) {
	pool, err := ants.NewPool(l.scanWorkers)
	if err != nil {
		return nil, err
	}
	defer pool.Release()

	results := make([]scanResult, l.g.Segments)
	var wg sync.WaitGroup
	for pos := uint64(0); pos < l.g.Segments; pos++ {
		pos := pos
		wg.Add(1)
		if err := pool.Submit(func() {
			defer wg.Done()
			b, err := l.readTableRaw(pos)
			if err != nil {
				results[pos].err = err
				return
			}
			r := &results[pos]
			r.sum, _, r.err = segment.DecodeTable(l.g, b)
			if r.err != nil {
				if sum, err := segment.DecodeSummary(l.g, b); err == nil {
					r.sum, r.hasSum = sum, true
				}
			}
		}); err != nil {
			wg.Done()
			results[pos].err = err
		}
	}
	wg.Wait()
	return results, nil
}

// checkSeqs rejects two segments claiming the same sequence number.
func (l *Log) checkSeqs() error {
	seen := make(map[uint64]uint64)
	for pos, info := range l.sealed {
		if other, ok := seen[info.Seq]; ok {
			return errors.Wrapf(ErrCorrupt, "segments %d and %d both have seq %d", other, pos, info.Seq)
		}
		seen[info.Seq] = pos
	}
	return nil
}

// Replay visits every block of every sealed segment newer than after, in
// the order the blocks were allocated. Aborted slots are skipped.
func (l *Log) Replay(after uint64, fn func(a addr.Addr, id blockpath.BlockID) error) error {
	l.mu.Lock()
	var infos []SegInfo
	for _, info := range l.sealed {
		if info.Seq > after {
			infos = append(infos, info)
		}
	}
	l.mu.Unlock()
	sort.Slice(infos, func(i, j int) bool { return infos[i].Seq < infos[j].Seq })

	for _, info := range infos {
		_, table, err := l.readTable(info.Pos)
		if err != nil {
			return err
		}
		for slot, e := range table {
			if e.Aborted() {
				continue
			}
			if err := fn(addr.MkAddr(info.Pos, uint64(slot)), e.ID); err != nil {
				return err
			}
		}
	}
	return nil
}
