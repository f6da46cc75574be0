package main

import (
	"io"
	"os"
	"strconv"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-lfs/blockpath"
)

var (
	vPerm   string
	vOffset uint64
	vLength uint64
	vInput  string
)

var createCMD = &cobra.Command{
	Use:   "create INUM",
	Short: "Create an empty file",
	Args:  cobra.ExactArgs(1),
	RunE:  createFunc,
}

var writeCMD = &cobra.Command{
	Use:   "write INUM",
	Short: "Write stdin (or --input) into a file",
	Args:  cobra.ExactArgs(1),
	RunE:  writeFunc,
}

var readCMD = &cobra.Command{
	Use:   "read INUM",
	Short: "Copy a file's contents to stdout",
	Args:  cobra.ExactArgs(1),
	RunE:  readFunc,
}

var statCMD = &cobra.Command{
	Use:   "stat INUM",
	Short: "Show a file's inode",
	Args:  cobra.ExactArgs(1),
	RunE:  statFunc,
}

func init() {
	createCMD.Flags().StringVar(&vPerm, "perm", "0644", "permission bits, octal")
	writeCMD.Flags().Uint64Var(&vOffset, "offset", 0, "byte offset to write at")
	writeCMD.Flags().StringVarP(&vInput, "input", "i", "", "read data from this file instead of stdin")
	readCMD.Flags().Uint64Var(&vOffset, "offset", 0, "byte offset to read from")
	readCMD.Flags().Uint64Var(&vLength, "length", 0, "bytes to read; 0 reads to the end")
}

func createFunc(cmd *cobra.Command, args []string) error {
	inum, err := parseInum(args[0])
	if err != nil {
		return err
	}
	perm, err := strconv.ParseUint(vPerm, 8, 32)
	if err != nil {
		return err
	}
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()
	return fs.Create(inum, uint32(perm))
}

func writeFunc(cmd *cobra.Command, args []string) error {
	inum, err := parseInum(args[0])
	if err != nil {
		return err
	}
	var in io.Reader = cmd.InOrStdin()
	if vInput != "" {
		f, err := os.Open(vInput)
		if err != nil {
			return err
		}
		defer f.Close()
		in = f
	}
	data, err := io.ReadAll(in)
	if err != nil {
		return err
	}
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()
	n, err := fs.WriteAt(inum, data, vOffset)
	if err != nil {
		return err
	}
	cmd.PrintErrf("wrote %s at offset %d\n", humanize.IBytes(uint64(n)), vOffset)
	return nil
}

func readFunc(cmd *cobra.Command, args []string) error {
	inum, err := parseInum(args[0])
	if err != nil {
		return err
	}
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()
	ip, err := fs.Stat(inum)
	if err != nil {
		return err
	}
	if vOffset >= ip.Size {
		return nil
	}
	n := ip.Size - vOffset
	if vLength != 0 && vLength < n {
		n = vLength
	}
	p := make([]byte, n)
	if _, err := fs.ReadAt(inum, p, vOffset); err != nil && err != io.EOF {
		return err
	}
	_, err = cmd.OutOrStdout().Write(p)
	return err
}

func statFunc(cmd *cobra.Command, args []string) error {
	inum, err := parseInum(args[0])
	if err != nil {
		return err
	}
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()
	ip, err := fs.Stat(inum)
	if err != nil {
		return err
	}
	g := fs.Geometry()
	cmd.Printf("Inode:  %d\n", ip.Inum)
	cmd.Printf("Size:   %s (%d bytes)\n", humanize.IBytes(ip.Size), ip.Size)
	cmd.Printf("Perm:   %#o\n", ip.Perm)
	cmd.Printf("Mtime:  %s\n", time.Unix(0, int64(ip.Mtime)).Format(time.RFC3339))
	cmd.Printf("Blocks: %d\n", ip.Blocks(g))
	for _, t := range []blockpath.Tier{blockpath.TierDirect, blockpath.TierSingle, blockpath.TierDouble, blockpath.TierTriple} {
		ptrs := ip.Ptrs(t)
		used := 0
		for _, a := range ptrs {
			if !a.IsNil() {
				used++
			}
		}
		cmd.Printf("  %-6s %d/%d pointers set\n", t, used, len(ptrs))
	}
	return nil
}
