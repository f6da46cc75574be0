package main

import (
	"github.com/dustin/go-humanize"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-lfs/disk"
	"github.com/mit-pdos/go-lfs/geom"
	"github.com/mit-pdos/go-lfs/lfs"
)

var formatCMD = &cobra.Command{
	Use:   "format",
	Short: "Create an empty filesystem",
	Long: `Create the image file sized for the configured geometry and write an
empty filesystem to it. Any previous contents are lost.`,
	Args: cobra.NoArgs,
	RunE: formatFunc,
}

func formatFunc(cmd *cobra.Command, _ []string) error {
	g, err := geom.New(conf.Geometry)
	if err != nil {
		return err
	}
	d, err := disk.NewFileDisk(conf.Disk, g.DiskBlocks, g.BlockSize)
	if err != nil {
		return errors.Wrapf(err, "create %s", conf.Disk)
	}
	defer d.Close()
	fs, err := lfs.Format(d, conf.Geometry, fsOptions()...)
	if err != nil {
		return err
	}
	if err := fs.Close(); err != nil {
		return err
	}

	cmd.Printf("Formatted %s (%s)\n", conf.Disk, fs.UUID())
	printGeometry(cmd, g)
	return nil
}

func printGeometry(cmd *cobra.Command, g *geom.Geometry) {
	cmd.Printf("Block size:     %s\n", humanize.IBytes(g.BlockSize))
	cmd.Printf("Image size:     %s (%d blocks)\n", humanize.IBytes(g.DiskBlocks*g.BlockSize), g.DiskBlocks)
	cmd.Printf("Segments:       %d x %d blocks (+%d table)\n", g.Segments, g.BlocksPerSegment, g.TableBlocks)
	cmd.Printf("Pointers:       %d direct, %d/%d/%d indirect, %d per block\n",
		g.DirectCount, g.SingleCount, g.DoubleCount, g.TripleCount, g.P)
	cmd.Printf("Max file size:  %s\n", humanize.IBytes(g.MaxFileSize()))
	cmd.Printf("Max inodes:     %s\n", humanize.Comma(int64(g.MaxInodes)))
}
