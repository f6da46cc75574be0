package util

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestMin(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(2), Min(2, 3))
	assert.Equal(uint64(2), Min(3, 2))
	assert.Equal(uint64(2), Min(2, 2))
}

func TestRoundUp(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(uint64(4), RoundUp(10, 3))
	assert.Equal(uint64(3), RoundUp(9, 3), "exact division")
	assert.Equal(uint64(0), RoundUp(0, 3))
	assert.Equal(uint64(5), RoundUp(4096*4+4095, 4096))
	assert.Equal(uint64(5), RoundUp(4096*4+1, 4096), "round up by sz-1")
}

func TestSumOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.Equal(false, SumOverflows(1<<31, 1<<31))
	assert.Equal(false, SumOverflows(1<<64-2, 1))
	assert.Equal(false, SumOverflows(1, 1<<64-2))
	assert.Equal(false, SumOverflows(1<<32, 1<<32))

	assert.Equal(true, SumOverflows(1, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<64-1, 1))
	assert.Equal(true, SumOverflows(2, 1<<64-1))
	assert.Equal(true, SumOverflows(1<<63, 1<<63))
}

func TestMulOverflows(t *testing.T) {
	assert := assert.New(t)
	assert.False(MulOverflows(0, 1<<64-1))
	assert.False(MulOverflows(1<<32-1, 1<<32-1))
	assert.False(MulOverflows(512, 512*512))
	assert.True(MulOverflows(1<<32, 1<<32))
	assert.True(MulOverflows(3, 1<<63))
}

func TestCloneByteSlice(t *testing.T) {
	s := []byte{1, 2, 3}
	c := CloneByteSlice(s)
	c[0] = 9
	assert.Equal(t, []byte{1, 2, 3}, s, "clone must not alias")
}

func TestDPrintfLevels(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	SetLogger(zap.New(core))
	defer SetLogger(nil)

	DPrintf(1, "visible %d", 1)
	DPrintf(Debug+1, "hidden %d", 2)
	assert.Equal(t, 1, logs.Len())
	assert.Equal(t, "visible 1", logs.All()[0].Message)
}
