package util

import (
	"sync/atomic"

	"go.uber.org/zap"
)

// Debug is the highest DPrintf level that is emitted.
var Debug uint64 = 1

var logger atomic.Pointer[zap.SugaredLogger]

func init() {
	logger.Store(zap.NewNop().Sugar())
}

// SetLogger routes DPrintf output to l. A nil logger silences tracing.
func SetLogger(l *zap.Logger) {
	if l == nil {
		l = zap.NewNop()
	}
	logger.Store(l.WithOptions(zap.AddCallerSkip(1)).Sugar())
}

func DPrintf(level uint64, format string, a ...interface{}) {
	if level <= Debug {
		logger.Load().Debugf(format, a...)
	}
}

func RoundUp(n uint64, sz uint64) uint64 {
	return (n + sz - 1) / sz
}

func Min(n uint64, m uint64) uint64 {
	if n < m {
		return n
	} else {
		return m
	}
}

// SumOverflows reports whether x + y overflows a uint64.
func SumOverflows(x uint64, y uint64) bool {
	return x+y < x
}

// MulOverflows reports whether x * y overflows a uint64.
func MulOverflows(x uint64, y uint64) bool {
	if x == 0 || y == 0 {
		return false
	}
	return x*y/y != x
}

func CloneByteSlice(s []byte) []byte {
	s2 := make([]byte, len(s))
	copy(s2, s)
	return s2
}
