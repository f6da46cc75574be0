// Package imap maps inode numbers to the address of their current inode
// block.
//
// The map is kept in memory; implementations differ in what Checkpoint
// makes durable. After a crash the filesystem rebuilds whatever the
// checkpoint lacks by replaying the inode blocks of segments sealed after
// CheckpointSeq.
package imap

import (
	"sync"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
)

type Map interface {
	Lookup(inum common.Inum) (addr.Addr, bool)
	Update(inum common.Inum, a addr.Addr)

	// Checkpoint makes every update so far durable, recording that the log
	// is durable up to and including segment seq. Callers only checkpoint
	// when no update refers to a block newer than seq.
	Checkpoint(seq uint64) error
	CheckpointSeq() uint64

	// Len is the number of inodes mapped.
	Len() int
	Close() error
}

// MemMap keeps nothing across restarts; every mount replays the whole log.
type MemMap struct {
	mu  *sync.RWMutex
	m   map[common.Inum]addr.Addr
	seq uint64
}

func NewMem() *MemMap {
	return &MemMap{
		mu: new(sync.RWMutex),
		m:  make(map[common.Inum]addr.Addr),
	}
}

func (mm *MemMap) Lookup(inum common.Inum) (addr.Addr, bool) {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	a, ok := mm.m[inum]
	return a, ok
}

func (mm *MemMap) Update(inum common.Inum, a addr.Addr) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.m[inum] = a
}

func (mm *MemMap) Checkpoint(seq uint64) error {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.seq = seq
	return nil
}

// CheckpointSeq is the last checkpoint of this instance; a new MemMap
// starts at zero.
func (mm *MemMap) CheckpointSeq() uint64 {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return mm.seq
}

func (mm *MemMap) Len() int {
	mm.mu.RLock()
	defer mm.mu.RUnlock()
	return len(mm.m)
}

func (mm *MemMap) Close() error {
	return nil
}
