package lockmap

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/mit-pdos/go-lfs/common"
)

func TestAcquireRelease(t *testing.T) {
	lm := MkLockMap()
	lm.Acquire(1)
	lm.Acquire(1 + common.Inum(NSHARD))
	assert.Equal(t, 2, lm.Held())
	lm.Release(1)
	lm.Release(1 + common.Inum(NSHARD))
	assert.Equal(t, 0, lm.Held(), "released locks leave no state")
	assert.Panics(t, func() { lm.Release(1) })
}

func TestMutualExclusion(t *testing.T) {
	lm := MkLockMap()
	counters := make([]int, 4)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 1000; i++ {
				inum := common.Inum(i % len(counters))
				lm.Acquire(inum)
				counters[inum]++
				lm.Release(inum)
			}
		}()
	}
	wg.Wait()
	for _, c := range counters {
		assert.Equal(t, 8*1000/len(counters), c)
	}
	assert.Equal(t, 0, lm.Held())
}
