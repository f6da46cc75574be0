package alloc

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestPopCnt(t *testing.T) {
	assert.Equal(t, uint64(0), popCnt(0))
	assert.Equal(t, uint64(1), popCnt(1))
	assert.Equal(t, uint64(1), popCnt(2))
	assert.Equal(t, uint64(2), popCnt(3))
	assert.Equal(t, uint64(8), popCnt(255))
}

func TestAlloc(t *testing.T) {
	assert := assert.New(t)
	max := uint64(13)
	a := MkAlloc(max)

	assert.Equal(max, a.NumFree(), "everything should be initially free")

	n, ok := a.AllocNum()
	assert.True(ok)
	assert.Equal(uint64(0), n)

	a.MarkUsed(n + 1)
	n2, ok := a.AllocNum()
	assert.True(ok)
	assert.NotEqual(n+1, n2, "should not allocate something marked used")
	assert.True(a.IsUsed(n2))

	assert.Equal(max-3, a.NumFree(), "should have used 3 items")

	a.FreeNum(n)
	a.FreeNum(n2)
	assert.Equal(max-1, a.NumFree(), "should have freed")
	assert.False(a.IsUsed(n))
	assert.Panics(func() { a.FreeNum(n) })
}

func TestAllocExhausted(t *testing.T) {
	assert := assert.New(t)
	a := MkAlloc(5)
	seen := make(map[uint64]bool)
	for i := 0; i < 5; i++ {
		n, ok := a.AllocNum()
		assert.True(ok)
		assert.False(seen[n])
		seen[n] = true
	}
	_, ok := a.AllocNum()
	assert.False(ok)
	assert.Equal(uint64(0), a.NumFree())

	a.FreeNum(3)
	n, ok := a.AllocNum()
	assert.True(ok)
	assert.Equal(uint64(3), n)
}

func TestAllocRoundRobin(t *testing.T) {
	a := MkAlloc(4)
	n0, _ := a.AllocNum()
	a.FreeNum(n0)
	n1, _ := a.AllocNum()
	assert.NotEqual(t, n0, n1, "a released position is not reused first")
}
