package main

import (
	"strconv"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"
	"github.com/spf13/cobra"

	"github.com/mit-pdos/go-lfs/blockpath"
)

var segmentsCMD = &cobra.Command{
	Use:   "segments",
	Short: "List segments in log order",
	Args:  cobra.NoArgs,
	RunE:  segmentsFunc,
}

var cleanCMD = &cobra.Command{
	Use:   "clean POS...",
	Short: "Clean sealed segments",
	Long: `Copy the live blocks of each sealed segment into the active segment
and release its position. The oldest segment is cleaned when no position
is given.`,
	RunE: cleanFunc,
}

var locateCMD = &cobra.Command{
	Use:   "locate INUM BLOCK",
	Short: "Show where a file block lives",
	Args:  cobra.ExactArgs(2),
	RunE:  locateFunc,
}

func segmentsFunc(cmd *cobra.Command, _ []string) error {
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()
	g := fs.Geometry()
	cmd.Printf("UUID %s, %d of %d positions free\n", fs.UUID(), fs.NumFree(), g.Segments)

	table := tablewriter.NewWriter(cmd.OutOrStdout())
	table.SetHeader([]string{"pos", "seq", "used", "size", "state"})
	table.SetAutoWrapText(false)
	table.SetHeaderAlignment(tablewriter.ALIGN_LEFT)
	table.SetAlignment(tablewriter.ALIGN_LEFT)
	table.SetCenterSeparator("")
	table.SetColumnSeparator("")
	table.SetRowSeparator("")
	table.SetHeaderLine(false)
	table.SetBorder(false)
	table.SetTablePadding("  ")
	table.SetNoWhiteSpace(true)
	for _, s := range fs.Segments() {
		state := "sealed"
		if s.Active {
			state = "active"
		}
		table.Append([]string{
			strconv.FormatUint(s.Pos, 10),
			humanize.Comma(int64(s.Seq)),
			strconv.FormatUint(s.Used, 10),
			humanize.IBytes(s.Used * g.BlockSize),
			state,
		})
	}
	table.Render()
	return nil
}

func cleanFunc(cmd *cobra.Command, args []string) error {
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()

	var positions []uint64
	for _, a := range args {
		pos, err := parseUint("segment position", a)
		if err != nil {
			return err
		}
		positions = append(positions, pos)
	}
	if len(positions) == 0 {
		segs := fs.Segments()
		if len(segs) == 0 || segs[0].Active {
			cmd.Println("Nothing to clean")
			return nil
		}
		positions = append(positions, segs[0].Pos)
	}

	for _, pos := range positions {
		stats, err := fs.Clean(pos)
		if err != nil {
			return err
		}
		cmd.Printf("Segment %d (seq %d): %d relocated, %d dead\n",
			stats.Pos, stats.Seq, stats.Relocated, stats.Dead)
	}
	return nil
}

func locateFunc(cmd *cobra.Command, args []string) error {
	inum, err := parseInum(args[0])
	if err != nil {
		return err
	}
	n, err := parseUint("block number", args[1])
	if err != nil {
		return err
	}
	fs, done, err := mount()
	if err != nil {
		return err
	}
	defer done()

	p, err := blockpath.Locate(fs.Geometry(), n)
	if err != nil {
		return err
	}
	cmd.Printf("Path:    %s\n", p)
	a, ok, err := fs.Resolve(inum, n, false)
	if err != nil {
		return err
	}
	if !ok {
		cmd.Println("Address: hole")
		return nil
	}
	id, err := fs.IdentifierOf(a)
	if err != nil {
		return err
	}
	cmd.Printf("Address: %s\n", a)
	cmd.Printf("Block:   %s\n", id)
	return nil
}
