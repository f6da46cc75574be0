package lfs

import (
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/seglog"
)

type CleanStats struct {
	Pos       uint64
	Seq       uint64
	Relocated uint64
	Dead      uint64
}

// Clean empties the sealed segment at pos: every block still reachable
// from its inode is copied into the active segment, the copies are made
// durable, and the position is released for reuse. Which segment to clean
// is the caller's choice.
//
// Any inconsistency between a block and its table entry aborts cleaning
// with ErrCorrupt, leaving the segment in place.
func (fs *FS) Clean(pos uint64) (CleanStats, error) {
	fs.cleanMu.Lock()
	defer fs.cleanMu.Unlock()
	stats, err := fs.clean(pos)
	fs.metrics.ObserveClean(stats.Relocated, stats.Dead, err)
	if err != nil {
		fs.log.Error("cleaning failed", zap.Uint64("pos", pos), zap.Error(err))
		return stats, err
	}
	fs.log.Info("segment cleaned",
		zap.Uint64("pos", pos),
		zap.Uint64("seq", stats.Seq),
		zap.Uint64("relocated", stats.Relocated),
		zap.Uint64("dead", stats.Dead))
	return stats, nil
}

func (fs *FS) findSegment(pos uint64) (seglog.SegInfo, error) {
	for _, info := range fs.seg.Segments() {
		if info.Pos != pos {
			continue
		}
		if info.Active {
			return info, errors.Wrapf(seglog.ErrActive, "clean segment %d", pos)
		}
		return info, nil
	}
	return seglog.SegInfo{}, errors.Wrapf(ErrOutOfRange, "segment %d is not in use", pos)
}

func (fs *FS) clean(pos uint64) (CleanStats, error) {
	info, err := fs.findSegment(pos)
	if err != nil {
		return CleanStats{Pos: pos}, err
	}
	stats := CleanStats{Pos: pos, Seq: info.Seq}

	// check every entry and note which blocks are live before moving
	// anything: relocating a block also moves its ancestors
	var live []addr.Addr
	var ids []blockpath.BlockID
	for slot := uint64(0); slot < info.Used; slot++ {
		a := addr.MkAddr(pos, slot)
		id, err := fs.seg.IdentifierOf(a)
		if errors.Is(err, seglog.ErrAborted) {
			stats.Dead++
			continue
		}
		if err != nil {
			return stats, err
		}
		if id.IsInode() {
			if err := fs.checkInodeRole(a, id); err != nil {
				return stats, err
			}
		}
		cur, err := fs.tr.Locate(id)
		if err != nil {
			return stats, err
		}
		if cur != a {
			stats.Dead++
			continue
		}
		live = append(live, a)
		ids = append(ids, id)
	}

	for i, a := range live {
		// false when an earlier relocation already carried it along
		if _, err := fs.tr.Relocate(ids[i], a); err != nil {
			return stats, err
		}
		stats.Relocated++
	}

	if err := fs.seg.Sync(); err != nil {
		return stats, err
	}
	return stats, fs.seg.Release(pos)
}

// checkInodeRole verifies that an inode block holds the inode its table
// entry names.
func (fs *FS) checkInodeRole(a addr.Addr, id blockpath.BlockID) error {
	blk, err := fs.seg.Read(a)
	if err != nil {
		return err
	}
	ip, err := buf.MkBuf(blockpath.KindInode, blk).Inode(fs.g)
	if err != nil {
		return err
	}
	if ip.Inum != id.Inum {
		return errors.Wrapf(ErrCorrupt, "inode block at %v holds inode %d, table says %d", a, ip.Inum, id.Inum)
	}
	return nil
}
