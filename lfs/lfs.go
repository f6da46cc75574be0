// Package lfs ties the segment log, the inode map and the translator into
// a filesystem: files named by inode number, read and written at byte
// offsets, with segments cleaned on request.
package lfs

import (
	"io"
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/imap"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/seglog"
	"github.com/mit-pdos/go-lfs/translate"
	"github.com/mit-pdos/go-lfs/util"
)

var (
	ErrOutOfRange          = blockpath.ErrOutOfRange
	ErrAllocationExhausted = seglog.ErrAllocationExhausted
	ErrCorrupt             = seglog.ErrCorrupt
	ErrNoInode             = translate.ErrNoInode
	ErrExists              = translate.ErrExists
)

type FS struct {
	*cfg
	g    *geom.Geometry
	d    disk.Disk
	seg  *seglog.Log
	imap imap.Map
	tr   *translate.Translator

	cleanMu *sync.Mutex
}

func (c *cfg) logOpts() []seglog.Option {
	return []seglog.Option{
		seglog.WithLogger(c.log.Named("seglog")),
		seglog.WithMetrics(c.metrics),
		seglog.WithCacheSize(c.cacheBlocks),
		seglog.WithScanWorkers(c.scanWorkers),
	}
}

func (c *cfg) openInodeMap(fsid uuid.UUID) (imap.Map, error) {
	if c.imapPath == "" {
		return imap.NewMem(), nil
	}
	return imap.OpenBolt(c.imapPath, fsid, imap.WithLogger(c.log.Named("imap")))
}

// Format creates an empty filesystem on d.
func Format(d disk.Disk, gc geom.Config, opts ...Option) (*FS, error) {
	c := defaultCfg()
	for _, o := range opts {
		o(c)
	}
	g, err := geom.New(gc)
	if err != nil {
		return nil, err
	}
	seg, err := seglog.Format(d, g, c.logOpts()...)
	if err != nil {
		return nil, err
	}
	m, err := c.openInodeMap(seg.Superblock().UUID)
	if err != nil {
		return nil, err
	}
	return mkFS(c, d, seg, m), nil
}

// Mount opens the filesystem on d and brings the inode map up to date with
// the log.
func Mount(d disk.Disk, opts ...Option) (*FS, error) {
	c := defaultCfg()
	for _, o := range opts {
		o(c)
	}
	sb, _, err := seglog.ReadSuperblock(d)
	if err != nil {
		return nil, err
	}
	m, err := c.openInodeMap(sb.UUID)
	if err != nil {
		return nil, err
	}
	seg, err := seglog.Open(d, append(c.logOpts(), seglog.WithSeqFloor(m.CheckpointSeq()))...)
	if err != nil {
		m.Close()
		return nil, err
	}
	fs := mkFS(c, d, seg, m)
	if err := fs.recoverInodeMap(); err != nil {
		m.Close()
		return nil, err
	}
	return fs, nil
}

func mkFS(c *cfg, d disk.Disk, seg *seglog.Log, m imap.Map) *FS {
	seg.OnSeal(m.Checkpoint)
	return &FS{
		cfg:     c,
		g:       seg.Geometry(),
		d:       d,
		seg:     seg,
		imap:    m,
		tr:      translate.MkTranslator(seg, m),
		cleanMu: new(sync.Mutex),
	}
}

// recoverInodeMap replays the inode blocks of every segment sealed after
// the map's checkpoint, in log order, so the newest copy of each inode
// wins.
func (fs *FS) recoverInodeMap() error {
	from := fs.imap.CheckpointSeq()
	var replayed uint64
	err := fs.seg.Replay(from, func(a addr.Addr, id blockpath.BlockID) error {
		if id.IsInode() {
			fs.imap.Update(id.Inum, a)
			replayed++
		}
		return nil
	})
	if err != nil {
		return errors.Wrap(err, "replay inode map")
	}
	last := fs.seg.LastSeq()
	if last > from {
		if err := fs.imap.Checkpoint(last); err != nil {
			return err
		}
	}
	fs.log.Info("inode map recovered",
		zap.Uint64("checkpoint", from),
		zap.Uint64("last_seq", last),
		zap.Uint64("inode_blocks", replayed),
		zap.Int("inodes", fs.imap.Len()))
	return nil
}

func (fs *FS) Geometry() *geom.Geometry {
	return fs.g
}

func (fs *FS) UUID() uuid.UUID {
	return fs.seg.Superblock().UUID
}

func (fs *FS) Create(inum common.Inum, perm uint32) error {
	util.DPrintf(5, "Create %d\n", inum)
	return fs.tr.Create(inum, perm)
}

func (fs *FS) Stat(inum common.Inum) (*inode.Inode, error) {
	return fs.tr.Stat(inum)
}

// WriteAt writes p at byte offset off of inum, one block at a time.
func (fs *FS) WriteAt(inum common.Inum, p []byte, off uint64) (int, error) {
	if util.SumOverflows(off, uint64(len(p))) || off+uint64(len(p)) > fs.g.MaxFileSize() {
		return 0, errors.Wrapf(ErrOutOfRange, "write of %d bytes at %d", len(p), off)
	}
	util.DPrintf(5, "WriteAt %d off %d len %d\n", inum, off, len(p))
	written := 0
	for written < len(p) {
		pos := off + uint64(written)
		boff := pos % fs.g.BlockSize
		n := util.Min(fs.g.BlockSize-boff, uint64(len(p)-written))
		if err := fs.tr.WriteBlock(inum, pos/fs.g.BlockSize, boff, p[written:written+int(n)]); err != nil {
			return written, err
		}
		written += int(n)
	}
	return written, nil
}

// ReadAt reads from byte offset off of inum. Like io.ReaderAt it returns
// io.EOF when fewer than len(p) bytes remain before the end of the file.
func (fs *FS) ReadAt(inum common.Inum, p []byte, off uint64) (int, error) {
	ip, err := fs.tr.Stat(inum)
	if err != nil {
		return 0, err
	}
	if off >= ip.Size {
		return 0, io.EOF
	}
	want := util.Min(uint64(len(p)), ip.Size-off)
	read := uint64(0)
	for read < want {
		pos := off + read
		boff := pos % fs.g.BlockSize
		n := util.Min(fs.g.BlockSize-boff, want-read)
		if _, err := fs.tr.ReadBlock(inum, pos/fs.g.BlockSize, boff, p[read:read+n]); err != nil {
			return int(read), err
		}
		read += n
	}
	if want < uint64(len(p)) {
		return int(read), io.EOF
	}
	return int(read), nil
}

// Resolve is the physical address of block n of inum; ok is false for a
// hole.
func (fs *FS) Resolve(inum common.Inum, n uint64, forWrite bool) (addr.Addr, bool, error) {
	return fs.tr.Resolve(inum, n, forWrite)
}

// IdentifierOf reports which block occupies the slot at a.
func (fs *FS) IdentifierOf(a addr.Addr) (blockpath.BlockID, error) {
	return fs.seg.IdentifierOf(a)
}

func (fs *FS) Segments() []seglog.SegInfo {
	return fs.seg.Segments()
}

func (fs *FS) NumFree() uint64 {
	return fs.seg.NumFree()
}

// Sync makes every completed write durable and checkpoints the inode map.
func (fs *FS) Sync() error {
	return fs.seg.Sync()
}

// Close syncs and closes the inode map. The disk stays open.
func (fs *FS) Close() error {
	if err := fs.seg.Close(); err != nil {
		fs.imap.Close()
		return err
	}
	return fs.imap.Close()
}
