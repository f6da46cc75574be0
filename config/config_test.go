package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mit-pdos/go-lfs/geom"
)

func load(t *testing.T, file string) (*Config, error) {
	v, err := New(file)
	require.NoError(t, err)
	return Load(v)
}

func TestDefaults(t *testing.T) {
	c, err := load(t, "")
	require.NoError(t, err)
	assert.Equal(t, "lfs.img", c.Disk)
	assert.Equal(t, geom.DefaultConfig(), c.Geometry)
	assert.Equal(t, "info", c.Log.Level)
	assert.Equal(t, 8, c.ScanWorkers)
}

func TestFileAndEnv(t *testing.T) {
	file := filepath.Join(t.TempDir(), "lfs.yaml")
	require.NoError(t, os.WriteFile(file, []byte(`
disk: /tmp/test.img
inode_map: /tmp/imap.db
geometry:
  block_size: 1024
  blocks_per_segment: 32
log:
  level: debug
`), 0644))
	t.Setenv("LFS_GEOMETRY_SEGMENTS", "7")

	c, err := load(t, file)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/test.img", c.Disk)
	assert.Equal(t, "/tmp/imap.db", c.InodeMap)
	assert.Equal(t, uint64(1024), c.Geometry.BlockSize)
	assert.Equal(t, uint64(32), c.Geometry.BlocksPerSegment)
	assert.Equal(t, uint64(7), c.Geometry.Segments)
	assert.Equal(t, uint64(10), c.Geometry.SingleCount, "unset keys keep their defaults")
	assert.Equal(t, "debug", c.Log.Level)
}

func TestInvalid(t *testing.T) {
	for name, env := range map[string][2]string{
		"level":         {"LFS_LOG_LEVEL", "loud"},
		"pointer width": {"LFS_GEOMETRY_POINTER_WIDTH", "6"},
		"block size":    {"LFS_GEOMETRY_BLOCK_SIZE", "1000"},
		"workers":       {"LFS_SCAN_WORKERS", "0"},
		"segment":       {"LFS_GEOMETRY_BLOCKS_PER_SEGMENT", "4"},
	} {
		t.Run(name, func(t *testing.T) {
			t.Setenv(env[0], env[1])
			_, err := load(t, "")
			assert.True(t, errors.Is(err, ErrInvalid), "%v", err)
		})
	}
}

func TestMissingFile(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "absent.yaml"))
	assert.Error(t, err)
}
