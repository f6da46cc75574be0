package imap

import (
	"encoding/binary"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/tchajed/marshal"
	"go.etcd.io/bbolt"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/addr"
	"github.com/mit-pdos/go-lfs/common"
)

var (
	inodesBucket = []byte("inodes")
	metaBucket   = []byte("meta")

	seqKey  = []byte("seq")
	uuidKey = []byte("uuid")
)

// BoltMap persists the map in a bbolt database. Updates stay in memory
// until the next Checkpoint commits them in one transaction.
type BoltMap struct {
	db  *bbolt.DB
	log *zap.Logger

	mu    *sync.Mutex
	m     map[common.Inum]addr.Addr
	dirty map[common.Inum]struct{}
	seq   uint64
}

type Option func(*boltCfg)

type boltCfg struct {
	log     *zap.Logger
	timeout time.Duration
	noSync  bool
}

func WithLogger(l *zap.Logger) Option {
	return func(c *boltCfg) {
		c.log = l
	}
}

// WithTimeout bounds the wait for the database file lock.
func WithTimeout(d time.Duration) Option {
	return func(c *boltCfg) {
		c.timeout = d
	}
}

// WithNoSync skips fsync on commit; for tests.
func WithNoSync(noSync bool) Option {
	return func(c *boltCfg) {
		c.noSync = noSync
	}
}

func inumKey(inum common.Inum) []byte {
	k := make([]byte, 8)
	binary.BigEndian.PutUint64(k, uint64(inum))
	return k
}

func encodeAddr(a addr.Addr) []byte {
	enc := marshal.NewEnc(16)
	enc.PutInt(a.Seg)
	enc.PutInt(a.Slot)
	return enc.Finish()
}

func decodeAddr(v []byte) (addr.Addr, error) {
	if len(v) != 16 {
		return addr.Nil, errors.Errorf("address of %d bytes", len(v))
	}
	dec := marshal.NewDec(v)
	return addr.MkAddr(dec.GetInt(), dec.GetInt()), nil
}

// OpenBolt opens (creating if needed) the map stored at path for the
// filesystem fsid. A database written for a different filesystem is
// emptied.
func OpenBolt(path string, fsid uuid.UUID, opts ...Option) (*BoltMap, error) {
	c := &boltCfg{log: zap.NewNop(), timeout: time.Second}
	for _, o := range opts {
		o(c)
	}
	db, err := bbolt.Open(path, 0o600, &bbolt.Options{
		Timeout: c.timeout,
		NoSync:  c.noSync,
	})
	if err != nil {
		return nil, errors.Wrapf(err, "can't open bbolt at %s", path)
	}
	bm := &BoltMap{
		db:    db,
		log:   c.log,
		mu:    new(sync.Mutex),
		m:     make(map[common.Inum]addr.Addr),
		dirty: make(map[common.Inum]struct{}),
	}
	if err := bm.load(fsid); err != nil {
		db.Close()
		return nil, err
	}
	return bm, nil
}

func (bm *BoltMap) load(fsid uuid.UUID) error {
	return bm.db.Update(func(tx *bbolt.Tx) error {
		meta, err := tx.CreateBucketIfNotExists(metaBucket)
		if err != nil {
			return errors.Wrap(err, "can't create meta bucket")
		}
		if stored := meta.Get(uuidKey); stored != nil && string(stored) != string(fsid[:]) {
			bm.log.Warn("inode map belongs to another filesystem, resetting",
				zap.Stringer("fsid", fsid))
			if err := tx.DeleteBucket(inodesBucket); err != nil && !errors.Is(err, bbolt.ErrBucketNotFound) {
				return err
			}
			if err := meta.Delete(seqKey); err != nil {
				return err
			}
		}
		if err := meta.Put(uuidKey, fsid[:]); err != nil {
			return err
		}
		if v := meta.Get(seqKey); v != nil {
			if len(v) != 8 {
				return errors.Errorf("unexpected seq length %d", len(v))
			}
			bm.seq = binary.BigEndian.Uint64(v)
		}

		inodes, err := tx.CreateBucketIfNotExists(inodesBucket)
		if err != nil {
			return errors.Wrap(err, "can't create inodes bucket")
		}
		return inodes.ForEach(func(k, v []byte) error {
			a, err := decodeAddr(v)
			if err != nil {
				return errors.Wrapf(err, "inode key %x", k)
			}
			bm.m[common.Inum(binary.BigEndian.Uint64(k))] = a
			return nil
		})
	})
}

func (bm *BoltMap) Lookup(inum common.Inum) (addr.Addr, bool) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	a, ok := bm.m[inum]
	return a, ok
}

func (bm *BoltMap) Update(inum common.Inum, a addr.Addr) {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	bm.m[inum] = a
	bm.dirty[inum] = struct{}{}
}

func (bm *BoltMap) Checkpoint(seq uint64) error {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	err := bm.db.Update(func(tx *bbolt.Tx) error {
		inodes := tx.Bucket(inodesBucket)
		for inum := range bm.dirty {
			if err := inodes.Put(inumKey(inum), encodeAddr(bm.m[inum])); err != nil {
				return err
			}
		}
		v := make([]byte, 8)
		binary.BigEndian.PutUint64(v, seq)
		return tx.Bucket(metaBucket).Put(seqKey, v)
	})
	if err != nil {
		return errors.Wrap(err, "inode map checkpoint")
	}
	bm.log.Debug("inode map checkpoint", zap.Uint64("seq", seq), zap.Int("dirty", len(bm.dirty)))
	bm.dirty = make(map[common.Inum]struct{})
	bm.seq = seq
	return nil
}

func (bm *BoltMap) CheckpointSeq() uint64 {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return bm.seq
}

func (bm *BoltMap) Len() int {
	bm.mu.Lock()
	defer bm.mu.Unlock()
	return len(bm.m)
}

// Close does not checkpoint; updates since the last checkpoint are
// recovered from the log.
func (bm *BoltMap) Close() error {
	return bm.db.Close()
}
