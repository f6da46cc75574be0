package seglog

import (
	"github.com/pkg/errors"

	"github.com/mit-pdos/go-lfs/blockpath"
	"github.com/mit-pdos/go-lfs/segment"
)

var (
	ErrOutOfRange          = blockpath.ErrOutOfRange
	ErrCorrupt             = segment.ErrCorrupt
	ErrAborted             = segment.ErrAborted
	ErrAllocationExhausted = errors.New("no free segment")
	ErrSealed              = errors.New("segment is sealed")
	ErrActive              = errors.New("segment is active")
	ErrNotFormatted        = errors.New("disk is not formatted")
)
