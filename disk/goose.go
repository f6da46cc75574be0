package disk

import (
	gdisk "github.com/tchajed/goose/machine/disk"
)

var _ Disk = gooseDisk{}

// gooseDisk exposes a goose machine/disk.Disk (fixed 4096-byte blocks,
// no error returns) through the Disk interface.
type gooseDisk struct {
	d gdisk.Disk
}

// FromGoose wraps a goose disk.
func FromGoose(d gdisk.Disk) Disk {
	return gooseDisk{d: d}
}

// NewGooseMemDisk is a goose in-memory disk of numBlocks 4096-byte blocks.
func NewGooseMemDisk(numBlocks uint64) Disk {
	return FromGoose(gdisk.NewMemDisk(numBlocks))
}

func (g gooseDisk) Read(a uint64) (Block, error) {
	return g.d.Read(a), nil
}

func (g gooseDisk) ReadTo(a uint64, b Block) error {
	copy(b, g.d.Read(a))
	return nil
}

func (g gooseDisk) Write(a uint64, v Block) error {
	g.d.Write(a, v)
	return nil
}

func (g gooseDisk) Size() (uint64, error) {
	return g.d.Size(), nil
}

func (g gooseDisk) BlockSize() uint64 {
	return gdisk.BlockSize
}

func (g gooseDisk) Barrier() error {
	g.d.Barrier()
	return nil
}

func (g gooseDisk) Close() error {
	g.d.Close()
	return nil
}
