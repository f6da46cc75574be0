package main

import (
	"strconv"

	"github.com/pkg/errors"
	"github.com/prometheus/common/expfmt"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/mit-pdos/go-lfs/common"
	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/lfs"
)

func fsOptions() []lfs.Option {
	opts := []lfs.Option{
		lfs.WithLogger(log.Named("lfs")),
		lfs.WithMetrics(met),
		lfs.WithCacheSize(conf.CacheBlocks),
		lfs.WithScanWorkers(conf.ScanWorkers),
	}
	if conf.InodeMap != "" {
		opts = append(opts, lfs.WithInodeMapPath(conf.InodeMap))
	}
	return opts
}

// mount opens the configured image. The block size comes from the
// configuration and must match the one the image was formatted with.
func mount() (*lfs.FS, func(), error) {
	d, err := disk.OpenFileDisk(conf.Disk, conf.Geometry.BlockSize)
	if err != nil {
		return nil, nil, errors.Wrapf(err, "open %s", conf.Disk)
	}
	fs, err := lfs.Mount(d, fsOptions()...)
	if err != nil {
		d.Close()
		return nil, nil, err
	}
	done := func() {
		if err := fs.Close(); err != nil {
			log.Error("close filesystem", zap.Error(err))
		}
		d.Close()
	}
	return fs, done, nil
}

func parseUint(what string, s string) (uint64, error) {
	n, err := strconv.ParseUint(s, 0, 64)
	if err != nil {
		return 0, errors.Wrapf(err, "bad %s %q", what, s)
	}
	return n, nil
}

func parseInum(s string) (common.Inum, error) {
	n, err := parseUint("inode number", s)
	return common.Inum(n), err
}

func printMetrics(cmd *cobra.Command) {
	families, err := reg.Gather()
	if err != nil {
		cmd.PrintErrln(err)
		return
	}
	for _, mf := range families {
		if _, err := expfmt.MetricFamilyToText(cmd.OutOrStdout(), mf); err != nil {
			cmd.PrintErrln(err)
			return
		}
	}
}
