// Package translate maps (inode, logical block) to physical addresses and
// performs the copy-on-write ripple a block write implies.
//
// Nothing is overwritten in place once its segment is sealed. Writing a
// block therefore gives it a new address, which changes its parent's
// content, which gives the parent a new address, and so on up to the inode,
// whose new address goes to the inode map. Blocks already copied into the
// active segment are updated in place instead, so repeated writes to the
// same file do not ripple again until the segment is sealed.
//
// Every operation holds the inode's lock for its whole walk; operations on
// different inodes only meet in the segment log.
package translate

import (
	"time"

	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/buf"
	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/imap"
	"github.com/mit-pdos/go-lfs/inode"
	"github.com/mit-pdos/go-lfs/lockmap"
	"github.com/mit-pdos/go-lfs/seglog"
	"github.com/mit-pdos/go-lfs/util"
)

var (
	ErrOutOfRange = blockpath.ErrOutOfRange
	ErrNoInode    = errors.New("no such inode")
	ErrExists     = errors.New("inode exists")
)

type Translator struct {
	g     *geom.Geometry
	log   *seglog.Log
	imap  imap.Map
	locks *lockmap.LockMap
	now   func() time.Time
}

func MkTranslator(l *seglog.Log, m imap.Map) *Translator {
	return &Translator{
		g:     l.Geometry(),
		log:   l,
		imap:  m,
		locks: lockmap.MkLockMap(),
		now:   time.Now,
	}
}

func (t *Translator) checkInum(inum common.Inum) error {
	if uint64(inum) >= t.g.MaxInodes {
		return errors.Wrapf(ErrOutOfRange, "inode `%d` beyond `%d`", inum, t.g.MaxInodes)
	}
	return nil
}

func (t *Translator) readBuf(a addr.Addr, kind blockpath.Kind) (*buf.Buf, error) {
	blk, err := t.log.Read(a)
	if err != nil {
		return nil, err
	}
	return buf.MkBuf(kind, blk), nil
}

func (t *Translator) readInode(inum common.Inum) (*inode.Inode, addr.Addr, error) {
	a, ok := t.imap.Lookup(inum)
	if !ok {
		return nil, addr.Nil, errors.Wrapf(ErrNoInode, "inode %d", inum)
	}
	b, err := t.readBuf(a, blockpath.KindInode)
	if err != nil {
		return nil, addr.Nil, err
	}
	ip, err := b.Inode(t.g)
	if err != nil {
		return nil, addr.Nil, err
	}
	return ip, a, nil
}

// locate walks from the inode to id's current address, or addr.Nil if id
// or any block above it has never been written. Requires the inode lock.
func (t *Translator) locate(id blockpath.BlockID) (addr.Addr, error) {
	if id.IsInode() {
		a, ok := t.imap.Lookup(id.Inum)
		if !ok {
			return addr.Nil, nil
		}
		return a, nil
	}
	ip, _, err := t.readInode(id.Inum)
	if err != nil {
		return addr.Nil, err
	}
	a := ip.Ptrs(id.Tier)[id.Path[0]]
	for d := uint8(1); d < id.Depth; d++ {
		if a.IsNil() {
			return addr.Nil, nil
		}
		b, err := t.readBuf(a, blockpath.KindIndirect)
		if err != nil {
			return addr.Nil, err
		}
		a, err = b.PtrGet(t.g, uint64(id.Path[d]))
		if err != nil {
			return addr.Nil, err
		}
	}
	return a, nil
}

// touch makes sure id has a copy in the active segment and that every
// block above it points at that copy, returning the copy's address.
// Requires the inode lock and a reservation with a slot for id and each of
// its ancestors.
func (t *Translator) touch(r *seglog.Reservation, id blockpath.BlockID) (addr.Addr, error) {
	if a, ok := t.log.ActiveLookup(id); ok {
		return a, nil
	}

	old, err := t.locate(id)
	if err != nil {
		return addr.Nil, err
	}
	var content []byte
	if old.IsNil() {
		if id.IsInode() {
			return addr.Nil, errors.Wrapf(ErrNoInode, "inode %d", id.Inum)
		}
		content = buf.MkBufFresh(t.g, id.Kind()).Data
	} else {
		content, err = t.log.Read(old)
		if err != nil {
			return addr.Nil, err
		}
	}

	a, err := r.Allocate(id)
	if err != nil {
		return addr.Nil, err
	}
	if err := t.fill(r, id, a, content); err != nil {
		// nothing points at a yet
		r.Abort(a)
		return addr.Nil, err
	}
	util.DPrintf(10, "touch %v: %v -> %v\n", id, old, a)
	return a, nil
}

// fill writes the copy at a and makes id's parent (or the inode map) point
// at it.
func (t *Translator) fill(r *seglog.Reservation, id blockpath.BlockID, a addr.Addr, content []byte) error {
	if err := t.log.Write(a, content); err != nil {
		return err
	}
	if id.IsInode() {
		t.imap.Update(id.Inum, a)
		return nil
	}
	return t.link(r, id, a)
}

// link points id's parent at a, touching the parent first.
func (t *Translator) link(r *seglog.Reservation, id blockpath.BlockID, a addr.Addr) error {
	parent := id.Parent()
	pa, err := t.touch(r, parent)
	if err != nil {
		return err
	}
	pb, err := t.readBuf(pa, parent.Kind())
	if err != nil {
		return err
	}
	if parent.IsInode() {
		ip, err := pb.Inode(t.g)
		if err != nil {
			return err
		}
		ip.Ptrs(id.Tier)[id.Path[0]] = a
		if err := pb.SetInode(t.g, ip); err != nil {
			return err
		}
	} else {
		if err := pb.PtrPut(t.g, id.Index(), a); err != nil {
			return err
		}
	}
	return t.log.Write(pa, pb.Data)
}

// update touches id inside a reservation of its own.
func (t *Translator) update(id blockpath.BlockID) (addr.Addr, error) {
	r, err := t.log.Reserve(uint64(id.Depth) + 1)
	if err != nil {
		return addr.Nil, err
	}
	defer r.Release()
	return t.touch(r, id)
}

// dataID checks inum and n and names the data block they address.
func (t *Translator) dataID(inum common.Inum, n uint64) (blockpath.BlockID, error) {
	if err := t.checkInum(inum); err != nil {
		return blockpath.BlockID{}, err
	}
	p, err := blockpath.Locate(t.g, n)
	if err != nil {
		return blockpath.BlockID{}, err
	}
	return blockpath.DataID(inum, p), nil
}

func (t *Translator) mustExist(inum common.Inum) error {
	if _, ok := t.imap.Lookup(inum); !ok {
		return errors.Wrapf(ErrNoInode, "inode %d", inum)
	}
	return nil
}

// Resolve maps block n of inum to its physical address. For a read, ok is
// false when the block is a hole. For a write, the block and its ancestors
// are first copied into the active segment and the returned address is the
// writable copy.
func (t *Translator) Resolve(inum common.Inum, n uint64, forWrite bool) (a addr.Addr, ok bool, err error) {
	id, err := t.dataID(inum, n)
	if err != nil {
		return addr.Nil, false, err
	}
	t.locks.Acquire(inum)
	defer t.locks.Release(inum)
	if err := t.mustExist(inum); err != nil {
		return addr.Nil, false, err
	}
	if forWrite {
		a, err := t.update(id)
		if err != nil {
			return addr.Nil, false, err
		}
		return a, true, nil
	}
	a, err = t.locate(id)
	if err != nil {
		return addr.Nil, false, err
	}
	return a, !a.IsNil(), nil
}

// Create writes a fresh, empty inode.
func (t *Translator) Create(inum common.Inum, perm uint32) error {
	if err := t.checkInum(inum); err != nil {
		return err
	}
	t.locks.Acquire(inum)
	defer t.locks.Release(inum)
	if _, ok := t.imap.Lookup(inum); ok {
		return errors.Wrapf(ErrExists, "inode %d", inum)
	}
	r, err := t.log.Reserve(1)
	if err != nil {
		return err
	}
	defer r.Release()
	a, err := r.Allocate(blockpath.InodeID(inum))
	if err != nil {
		return err
	}
	ip := inode.MkInode(t.g, inum, perm)
	ip.Mtime = uint64(t.now().UnixNano())
	if err := t.log.Write(a, ip.Encode(t.g)); err != nil {
		r.Abort(a)
		return err
	}
	t.imap.Update(inum, a)
	return nil
}

func (t *Translator) Stat(inum common.Inum) (*inode.Inode, error) {
	if err := t.checkInum(inum); err != nil {
		return nil, err
	}
	t.locks.Acquire(inum)
	defer t.locks.Release(inum)
	ip, _, err := t.readInode(inum)
	return ip, err
}

// WriteBlock writes data at offset off of block n of inum, extending the
// file size if the write ends past it.
func (t *Translator) WriteBlock(inum common.Inum, n uint64, off uint64, data []byte) error {
	if off+uint64(len(data)) > t.g.BlockSize {
		panic("translate.WriteBlock: write crosses a block boundary")
	}
	id, err := t.dataID(inum, n)
	if err != nil {
		return err
	}
	t.locks.Acquire(inum)
	defer t.locks.Release(inum)
	if err := t.mustExist(inum); err != nil {
		return err
	}

	r, err := t.log.Reserve(uint64(id.Depth) + 1)
	if err != nil {
		return err
	}
	defer r.Release()
	a, err := t.touch(r, id)
	if err != nil {
		return err
	}
	blk, err := t.log.Read(a)
	if err != nil {
		return err
	}
	copy(blk[off:], data)
	if err := t.log.Write(a, blk); err != nil {
		return err
	}

	// the ripple left the inode in the active segment
	ia, _ := t.imap.Lookup(inum)
	ib, err := t.readBuf(ia, blockpath.KindInode)
	if err != nil {
		return err
	}
	ip, err := ib.Inode(t.g)
	if err != nil {
		return err
	}
	if end := n*t.g.BlockSize + off + uint64(len(data)); end > ip.Size {
		ip.Size = end
	}
	ip.Mtime = uint64(t.now().UnixNano())
	if err := ib.SetInode(t.g, ip); err != nil {
		return err
	}
	return t.log.Write(ia, ib.Data)
}

// ReadBlock fills dst from offset off of block n of inum. Holes read as
// zeroes and report hole = true.
func (t *Translator) ReadBlock(inum common.Inum, n uint64, off uint64, dst []byte) (hole bool, err error) {
	if off+uint64(len(dst)) > t.g.BlockSize {
		panic("translate.ReadBlock: read crosses a block boundary")
	}
	id, err := t.dataID(inum, n)
	if err != nil {
		return false, err
	}
	t.locks.Acquire(inum)
	defer t.locks.Release(inum)
	if err := t.mustExist(inum); err != nil {
		return false, err
	}
	a, err := t.locate(id)
	if err != nil {
		return false, err
	}
	if a.IsNil() {
		for i := range dst {
			dst[i] = 0
		}
		return true, nil
	}
	blk, err := t.log.Read(a)
	if err != nil {
		return false, err
	}
	copy(dst, blk[off:])
	return false, nil
}

// Locate is the current address of id, or addr.Nil if it was never
// written.
func (t *Translator) Locate(id blockpath.BlockID) (addr.Addr, error) {
	if err := id.Validate(t.g); err != nil {
		return addr.Nil, err
	}
	t.locks.Acquire(id.Inum)
	defer t.locks.Release(id.Inum)
	return t.locate(id)
}

// Relocate moves id out of from into the active segment if from is still
// its current address. It reports whether anything moved.
func (t *Translator) Relocate(id blockpath.BlockID, from addr.Addr) (bool, error) {
	if err := id.Validate(t.g); err != nil {
		return false, err
	}
	t.locks.Acquire(id.Inum)
	defer t.locks.Release(id.Inum)
	cur, err := t.locate(id)
	if err != nil {
		return false, err
	}
	if cur != from {
		return false, nil
	}
	if _, err := t.update(id); err != nil {
		return false, err
	}
	return true, nil
}
