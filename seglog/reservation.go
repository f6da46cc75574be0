package seglog

import (
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/util"
)

// A Reservation holds room for a fixed number of slots in the active
// segment. While any reservation is live the active segment is not sealed,
// so every slot allocated through one reservation lands in the same
// segment and stays writable until Release.
type Reservation struct {
	l    *Log
	left uint64
	done bool
}

// Reserve holds n slots, sealing the active segment and starting a new one
// when fewer than n remain.
func (l *Log) Reserve(n uint64) (*Reservation, error) {
	if n == 0 || n > l.g.BlocksPerSegment {
		panic("seglog.Reserve: bad size")
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	for {
		if l.active != nil && !l.active.Sealed() && l.active.Free()-l.reserved >= n {
			break
		}
		if l.pending > 0 {
			l.cond.Wait()
			continue
		}
		if l.active != nil {
			if err := l.sealLocked(); err != nil {
				return nil, err
			}
		}
		if err := l.activateLocked(); err != nil {
			return nil, err
		}
	}
	l.reserved += n
	l.pending += 1
	util.DPrintf(15, "reserve %d in segment %d\n", n, l.active.Pos)
	return &Reservation{l: l, left: n}, nil
}

// Allocate hands out the next slot of the active segment, zero-filled and
// recorded as holding id.
func (r *Reservation) Allocate(id blockpath.BlockID) (addr.Addr, error) {
	l := r.l
	if err := id.Validate(l.g); err != nil {
		return addr.Nil, err
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done || r.left == 0 {
		panic("seglog: allocation beyond reservation")
	}
	slot := l.active.Append(id, make([]byte, l.g.BlockSize))
	r.left -= 1
	l.reserved -= 1
	l.metrics.ObserveAllocation(id.Kind().String())
	a := addr.MkAddr(l.active.Pos, slot)
	util.DPrintf(10, "allocate %v for %v\n", a, id)
	return a, nil
}

// Abort invalidates a slot allocated through r whose operation failed
// before anything pointed at it. The slot stays used but holds no block,
// so it is never found again by ActiveLookup or Replay.
func (r *Reservation) Abort(a addr.Addr) {
	l := r.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done || !l.isActiveLocked(a) || a.Slot >= l.active.Used() {
		panic("seglog: abort of a slot outside the reservation")
	}
	l.active.Abort(a.Slot)
	l.log.Debug("slot aborted", zap.Stringer("addr", a))
}

// Left is the number of slots still held.
func (r *Reservation) Left() uint64 {
	return r.left
}

// Release gives back unused slots and lets the active segment be sealed.
// It may be called more than once.
func (r *Reservation) Release() {
	l := r.l
	l.mu.Lock()
	defer l.mu.Unlock()
	if r.done {
		return
	}
	r.done = true
	l.reserved -= r.left
	r.left = 0
	l.pending -= 1
	if l.pending == 0 {
		l.cond.Broadcast()
	}
}

