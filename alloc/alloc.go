package alloc

import (
	"sync"

	"github.com/mit-pdos/go-lfs/util"
)

// Alloc hands out segment positions. It is a bit map over [0, max): bit n
// set means position n holds a live segment (or the active one).
type Alloc struct {
	mu     *sync.Mutex
	max    uint64
	next   uint64 // first number to try
	bitmap []byte
}

func MkAlloc(max uint64) *Alloc {
	a := &Alloc{
		mu:     new(sync.Mutex),
		max:    max,
		next:   0,
		bitmap: make([]byte, util.RoundUp(max, 8)),
	}
	return a
}

func (a *Alloc) isSet(n uint64) bool {
	return a.bitmap[n/8]&(1<<(n%8)) != 0
}

func (a *Alloc) set(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] | (1 << (n % 8))
}

func (a *Alloc) clear(n uint64) {
	a.bitmap[n/8] = a.bitmap[n/8] & ^(1 << (n % 8))
}

// assumes a.mu is held
func (a *Alloc) incNext() uint64 {
	num := a.next
	a.next = a.next + 1
	if a.next >= a.max {
		a.next = 0
	}
	return num
}

// AllocNum returns a free position and marks it used. Positions are handed
// out round-robin so recently released ones are reused last.
func (a *Alloc) AllocNum() (uint64, bool) {
	a.mu.Lock()
	defer a.mu.Unlock()
	start := a.next
	for {
		num := a.incNext()
		if !a.isSet(num) {
			a.set(num)
			util.DPrintf(10, "AllocNum: %d\n", num)
			return num, true
		}
		if a.next == start {
			return 0, false
		}
	}
}

func (a *Alloc) FreeNum(num uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if num >= a.max || !a.isSet(num) {
		panic("FreeNum")
	}
	a.clear(num)
}

// MarkUsed records a position found in use at mount.
func (a *Alloc) MarkUsed(num uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if num >= a.max {
		panic("MarkUsed")
	}
	a.set(num)
}

func (a *Alloc) IsUsed(num uint64) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.isSet(num)
}

func popCnt(b byte) uint64 {
	var count uint64
	var x = b
	for i := uint64(0); i < 8; i++ {
		count += uint64(x & 1)
		x = x >> 1
	}
	return count
}

func (a *Alloc) NumFree() uint64 {
	a.mu.Lock()
	defer a.mu.Unlock()
	var used uint64
	for _, b := range a.bitmap {
		used += popCnt(b)
	}
	return a.max - used
}
