package disk

import (
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"

	"github.com/mit-pdos/go-lfs/util"
)

var _ Disk = (*fileDisk)(nil)

type fileDisk struct {
	fd        int
	numBlocks uint64
	blockSize uint64
}

// NewFileDisk opens (creating if necessary) a disk image at path holding
// numBlocks blocks of blockSize bytes.
func NewFileDisk(path string, numBlocks uint64, blockSize uint64) (fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR|unix.O_CREAT, 0666)
	if err != nil {
		return fileDisk{}, err
	}
	var stat unix.Stat_t
	err = unix.Fstat(fd, &stat)
	if err != nil {
		unix.Close(fd)
		return fileDisk{}, err
	}
	if (stat.Mode&unix.S_IFREG) != 0 && uint64(stat.Size) != numBlocks*blockSize {
		err = unix.Ftruncate(fd, int64(numBlocks*blockSize))
		if err != nil {
			unix.Close(fd)
			return fileDisk{}, err
		}
	}
	return fileDisk{fd, numBlocks, blockSize}, nil
}

// OpenFileDisk opens an existing disk image, sizing it from the file.
func OpenFileDisk(path string, blockSize uint64) (fileDisk, error) {
	fd, err := unix.Open(path, unix.O_RDWR, 0)
	if err != nil {
		return fileDisk{}, err
	}
	var stat unix.Stat_t
	if err := unix.Fstat(fd, &stat); err != nil {
		unix.Close(fd)
		return fileDisk{}, err
	}
	if uint64(stat.Size)%blockSize != 0 {
		unix.Close(fd)
		return fileDisk{}, errors.Errorf("%s: size %d is not a multiple of %d", path, stat.Size, blockSize)
	}
	return fileDisk{fd, uint64(stat.Size) / blockSize, blockSize}, nil
}

func (d fileDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != d.blockSize {
		panic("buffer is not block-sized")
	}
	if a >= d.numBlocks {
		panic(errors.Errorf("out-of-bounds read at %v", a))
	}
	_, err := unix.Pread(d.fd, buf, int64(a*d.blockSize))
	if err != nil {
		return errors.Wrapf(err, "read at %v", a)
	}
	util.DPrintf(20, "read: %v\n", a)
	return nil
}

func (d fileDisk) Read(a uint64) (Block, error) {
	buf := make([]byte, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d fileDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != d.blockSize {
		panic(errors.Errorf("v is not block sized (%d bytes)", len(v)))
	}
	if a >= d.numBlocks {
		panic(errors.Errorf("out-of-bounds write at %v", a))
	}
	_, err := unix.Pwrite(d.fd, v, int64(a*d.blockSize))
	if err != nil {
		return errors.Wrapf(err, "write at %v", a)
	}
	util.DPrintf(20, "write: %v\n", a)
	return nil
}

func (d fileDisk) Size() (uint64, error) {
	return d.numBlocks, nil
}

func (d fileDisk) BlockSize() uint64 {
	return d.blockSize
}

func (d fileDisk) Barrier() error {
	// NOTE: on macOS, this flushes to the drive but doesn't actually issue a
	// disk barrier; see https://golang.org/src/internal/poll/fd_fsync_darwin.go
	// for more details. The correct replacement is to issue a fcntl syscall with
	// cmd F_FULLFSYNC.
	err := unix.Fsync(d.fd)
	if err != nil {
		return errors.Wrap(err, "file sync failed")
	}
	util.DPrintf(20, "barrier\n")
	return nil
}

func (d fileDisk) Close() error {
	return unix.Close(d.fd)
}

// WriteBatch issues a single pwrite for a run of consecutive blocks.
func (d fileDisk) WriteBatch(startPos uint64, blocks []Block) error {
	if len(blocks) == 0 {
		return nil
	}
	if startPos+uint64(len(blocks)) > d.numBlocks {
		panic(errors.Errorf("out-of-bounds batch write at %v+%v", startPos, len(blocks)))
	}
	run := make([]byte, 0, uint64(len(blocks))*d.blockSize)
	for _, b := range blocks {
		if uint64(len(b)) != d.blockSize {
			panic(errors.Errorf("batch block is not block sized (%d bytes)", len(b)))
		}
		run = append(run, b...)
	}
	if _, err := unix.Pwrite(d.fd, run, int64(startPos*d.blockSize)); err != nil {
		return errors.Wrapf(err, "batch write at %v", startPos)
	}
	util.DPrintf(20, "write batch: %v-%v\n", startPos, startPos+uint64(len(blocks)))
	return nil
}

/////////////////////////
/////////////////////////
/////////////////////////
/////////////////////////

var _ Disk = (*memDisk)(nil)

type memDisk struct {
	l         *sync.RWMutex
	blockSize uint64
	blocks    [][]byte
}

// NewMemDisk allocates an all-zero in-memory disk.
func NewMemDisk(numBlocks uint64, blockSize uint64) memDisk {
	blocks := make([][]byte, numBlocks)
	for i := range blocks {
		blocks[i] = make([]byte, blockSize)
	}
	return memDisk{l: new(sync.RWMutex), blockSize: blockSize, blocks: blocks}
}

func (d memDisk) ReadTo(a uint64, buf Block) error {
	if uint64(len(buf)) != d.blockSize {
		panic("buffer is not block-sized")
	}
	d.l.RLock()
	defer d.l.RUnlock()
	if a >= uint64(len(d.blocks)) {
		panic(errors.Errorf("out-of-bounds read at %v", a))
	}
	copy(buf, d.blocks[a])
	return nil
}

func (d memDisk) Read(a uint64) (Block, error) {
	buf := make(Block, d.blockSize)
	err := d.ReadTo(a, buf)
	return buf, err
}

func (d memDisk) Write(a uint64, v Block) error {
	if uint64(len(v)) != d.blockSize {
		panic(errors.Errorf("v is not block-sized (%d bytes)", len(v)))
	}
	d.l.Lock()
	defer d.l.Unlock()
	if a >= uint64(len(d.blocks)) {
		panic(errors.Errorf("out-of-bounds write at %v", a))
	}
	copy(d.blocks[a], v)
	return nil
}

func (d memDisk) Size() (uint64, error) {
	// this never changes so we assume it's safe to run lock-free
	return uint64(len(d.blocks)), nil
}

func (d memDisk) BlockSize() uint64 { return d.blockSize }

func (d memDisk) Barrier() error { return nil }

func (d memDisk) Close() error { return nil }
