package common

// Inum names a file. Inode numbers are dense in [0, MaxInodes).
type Inum uint64

// Bnum is a device block number on the backing store.
type Bnum = uint64

const (
	// SUPERBLOCK is the device block holding the superblock; segments start
	// right after it.
	SUPERBLOCK Bnum = 0

	// on-disk magic numbers
	SUPERMAGIC   uint64 = 0x4c46535355504552 // "LFSSUPER"
	SEGMAGIC     uint64 = 0x4c46535345474d54 // "LFSSEGMT"
	SUPERVERSION uint64 = 1
)
